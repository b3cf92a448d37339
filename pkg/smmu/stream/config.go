package stream

import (
	"github.com/imdario/mergo"

	"github.com/arm-smmu/smmuv3/pkg/smmu/types"
)

// Config is spec.md §3's StreamConfig: the per-stream configuration
// StreamContext owns by value.
type Config struct {
	TranslationEnabled bool
	Stage1Enabled      bool
	Stage2Enabled      bool
	FaultMode          types.FaultMode
}

// validate checks the rules from spec.md §4.3: if TranslationEnabled, at
// least one stage must be enabled, and FaultMode must be one of the two
// defined modes. Whether existing PASIDs have a Stage-1 AS is checked by
// the caller (StreamContext), which owns the PASID map this function
// doesn't see.
func (c Config) validate() error {
	if c.TranslationEnabled && !c.Stage1Enabled && !c.Stage2Enabled {
		return types.NewError(types.InvalidConfiguration)
	}
	if !types.ValidFaultMode(c.FaultMode) {
		return types.NewError(types.InvalidConfiguration)
	}
	return nil
}

// mergeConfig computes the full-replace merge of current and incoming
// using github.com/imdario/mergo with WithOverwriteWithEmptyValue: since
// every Config field is a concrete bool/enum (no pointer "unset" marker),
// a merge that only overrides non-zero fields could never turn a flag
// off, so the merge is defined as a full overwrite — incoming always
// wins — and "no-op if no fields differ" (spec.md §4.3) is implemented
// as an explicit equality check against current before validating.
func mergeConfig(current, incoming Config) (Config, error) {
	merged := current
	if err := mergo.Merge(&merged, incoming, mergo.WithOverride, mergo.WithOverwriteWithEmptyValue); err != nil {
		return Config{}, types.NewError(types.InternalError)
	}
	return merged, nil
}
