package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arm-smmu/smmuv3/pkg/smmu/types"
)

func TestParseConfigOverridesOnlyGivenKeys(t *testing.T) {
	input := `
# comment line
event_queue_size=2048
enable_caching=no
max_thread_count=8
`
	cfg, err := ParseConfig(strings.NewReader(input))
	require.NoError(t, err)
	require.Equal(t, 2048, cfg.EventQueueSize)
	require.False(t, cfg.EnableCaching)
	require.Equal(t, 8, cfg.MaxThreadCount)

	defaults := Default()
	require.Equal(t, defaults.TLBCacheSize, cfg.TLBCacheSize, "unset keys retain Default()'s values")
}

func TestParseBoolAliases(t *testing.T) {
	scenarios := []struct {
		raw  string
		want bool
	}{
		{"true", true}, {"1", true}, {"yes", true}, {"on", true}, {"YES", true},
		{"false", false}, {"0", false}, {"no", false}, {"off", false},
	}
	for _, s := range scenarios {
		got, ok := parseBool(s.raw)
		require.True(t, ok, s.raw)
		require.Equal(t, s.want, got, s.raw)
	}
	_, ok := parseBool("maybe")
	require.False(t, ok)
}

func TestParseConfigRejectsUnrecognizedKey(t *testing.T) {
	_, err := ParseConfig(strings.NewReader("not_a_real_key=1\n"))
	require.Error(t, err)
	require.Equal(t, types.ParseError, types.KindOf(err))
}

func TestParseConfigRejectsMalformedLine(t *testing.T) {
	_, err := ParseConfig(strings.NewReader("this line has no equals sign\n"))
	require.Error(t, err)
	require.Equal(t, types.ParseError, types.KindOf(err))
}

func TestParseConfigRejectsSemanticValidationFailure(t *testing.T) {
	_, err := ParseConfig(strings.NewReader("event_queue_size=1\n"))
	require.Error(t, err)
	require.Equal(t, types.InvalidConfiguration, types.KindOf(err))
}

func TestParseConfigIgnoresBlankLines(t *testing.T) {
	cfg, err := ParseConfig(strings.NewReader("\n\nmax_thread_count=4\n\n"))
	require.NoError(t, err)
	require.Equal(t, 4, cfg.MaxThreadCount)
}
