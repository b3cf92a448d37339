package config

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arm-smmu/smmuv3/pkg/smmu/types"
)

func TestDefaultProfileValidates(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	require.Equal(t, types.Granule4K, cfg.Granule)
}

func TestAllNamedProfilesExistAndValidate(t *testing.T) {
	names := []string{
		ProfileDefault, ProfileHighPerformance, ProfileLowMemory,
		ProfileMinimal, ProfileServer, ProfileEmbedded, ProfileDevelopment,
	}
	for _, name := range names {
		cfg, err := Profile(name)
		require.NoError(t, err, name)
		require.NoError(t, cfg.Validate(), name)
	}
}

func TestProfileUnknownName(t *testing.T) {
	_, err := Profile("does-not-exist")
	require.Error(t, err)
	require.Equal(t, types.InvalidConfiguration, types.KindOf(err))
}

func TestValidateRejectsOutOfRangeQueueSize(t *testing.T) {
	cfg := Default()
	cfg.EventQueueSize = 1
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsInvalidGranule(t *testing.T) {
	cfg := Default()
	cfg.Granule = types.Granule(99)
	err := cfg.Validate()
	require.Error(t, err)
	require.Equal(t, types.InvalidConfiguration, types.KindOf(err))
}

func TestValidateRejectsZeroStreamCount(t *testing.T) {
	cfg := Default()
	cfg.MaxStreamCount = 0
	require.Error(t, cfg.Validate())
}
