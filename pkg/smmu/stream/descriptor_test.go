package stream

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arm-smmu/smmuv3/pkg/smmu/types"
)

func TestValidateContextDescriptor(t *testing.T) {
	valid := ContextDescriptor{
		TTBR0:      0,
		TTBR0Valid: true,
		Granule:    types.Granule4K,
		InputSize:  48,
		OutputSize: 48,
		Sec:        types.NonSecure,
	}
	require.NoError(t, ValidateContextDescriptor(valid))
}

func TestValidateContextDescriptorRejectsNoValidTTBR(t *testing.T) {
	cd := ContextDescriptor{Granule: types.Granule4K, InputSize: 48, OutputSize: 48, Sec: types.NonSecure}
	err := ValidateContextDescriptor(cd)
	require.Error(t, err)
	require.Equal(t, types.ContextDescriptorFormatFault, types.KindOf(err))
}

func TestValidateContextDescriptorRejectsMisalignedTTBR(t *testing.T) {
	cd := ContextDescriptor{
		TTBR0:      0x1,
		TTBR0Valid: true,
		Granule:    types.Granule4K,
		InputSize:  48,
		OutputSize: 48,
		Sec:        types.NonSecure,
	}
	err := ValidateContextDescriptor(cd)
	require.Error(t, err)
}

func TestValidateContextDescriptorRejectsOutputSmallerThanInput(t *testing.T) {
	cd := ContextDescriptor{
		TTBR0:      0,
		TTBR0Valid: true,
		Granule:    types.Granule4K,
		InputSize:  48,
		OutputSize: 32,
		Sec:        types.NonSecure,
	}
	err := ValidateContextDescriptor(cd)
	require.Error(t, err)
}

func TestValidateStreamTableEntry(t *testing.T) {
	ste := StreamTableEntry{
		Stage1Enabled: true,
		CDTableBase:   64,
		CDTableSize:   1,
		FaultMode:     types.Terminate,
		Sec:           types.NonSecure,
		Stage1Granule: types.Granule4K,
	}
	require.NoError(t, ValidateStreamTableEntry(ste))
}

func TestValidateStreamTableEntryRejectsMisalignedCDTableBase(t *testing.T) {
	ste := StreamTableEntry{
		Stage1Enabled: true,
		CDTableBase:   63,
		CDTableSize:   1,
		FaultMode:     types.Terminate,
		Sec:           types.NonSecure,
		Stage1Granule: types.Granule4K,
	}
	err := ValidateStreamTableEntry(ste)
	require.Error(t, err)
}
