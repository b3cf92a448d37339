package stream

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arm-smmu/smmuv3/pkg/smmu/types"
)

func TestConfigValidate(t *testing.T) {
	require.Error(t, Config{TranslationEnabled: true}.validate(), "translation enabled with no stage is invalid")
	require.NoError(t, Config{TranslationEnabled: true, Stage1Enabled: true}.validate())
	require.Error(t, Config{FaultMode: types.FaultMode(9)}.validate())
}

func TestMergeConfigFullOverwrite(t *testing.T) {
	current := Config{TranslationEnabled: true, Stage1Enabled: true, Stage2Enabled: true, FaultMode: types.Stall}
	incoming := Config{TranslationEnabled: true, Stage1Enabled: true, Stage2Enabled: false, FaultMode: types.Terminate}

	merged, err := mergeConfig(current, incoming)
	require.NoError(t, err)
	require.Equal(t, incoming, merged, "merge must be a full overwrite, not a non-zero-only merge")
}

func TestMergeConfigNoOpWhenIdentical(t *testing.T) {
	cfg := Config{TranslationEnabled: true, Stage1Enabled: true, FaultMode: types.Terminate}
	merged, err := mergeConfig(cfg, cfg)
	require.NoError(t, err)
	require.Equal(t, cfg, merged)
}
