package stream

import "github.com/arm-smmu/smmuv3/pkg/smmu/types"

// ContextDescriptor is spec.md §3's per-PASID conformance descriptor. It
// is validated but not retained by the core translation path; only
// configuration-time callers (ValidateContextDescriptor) look at it.
type ContextDescriptor struct {
	ASID        uint16
	TTBR0       uint64
	TTBR0Valid  bool
	TTBR1       uint64
	TTBR1Valid  bool
	Granule     types.Granule
	InputSize   uint
	OutputSize  uint
	Sec         types.SecurityDomain
}

func granuleAlignmentBits(g types.Granule) uint {
	switch g {
	case types.Granule4K:
		return 12
	case types.Granule16K:
		return 14
	case types.Granule64K:
		return 16
	default:
		return 12
	}
}

// ValidateContextDescriptor runs the checks spec.md §4.3 lists for a
// context descriptor, called from configuration pathways rather than the
// translation hot path.
func ValidateContextDescriptor(cd ContextDescriptor) error {
	if !types.ValidGranule(cd.Granule) {
		return types.NewError(types.ContextDescriptorFormatFault)
	}
	if !cd.TTBR0Valid && !cd.TTBR1Valid {
		return types.NewError(types.ContextDescriptorFormatFault)
	}
	if !types.ValidSecurityDomain(cd.Sec) {
		return types.NewError(types.ContextDescriptorFormatFault)
	}
	if cd.OutputSize < cd.InputSize {
		return types.NewError(types.ContextDescriptorFormatFault)
	}
	if cd.OutputSize == 32 && cd.InputSize != 32 {
		return types.NewError(types.ContextDescriptorFormatFault)
	}

	outputMask := uint64(1)<<cd.OutputSize - 1
	alignBits := granuleAlignmentBits(cd.Granule)
	alignMask := uint64(1)<<alignBits - 1

	if cd.TTBR0Valid {
		if cd.TTBR0&alignMask != 0 {
			return types.NewError(types.ContextDescriptorFormatFault)
		}
		if cd.TTBR0 > outputMask {
			return types.NewError(types.ContextDescriptorFormatFault)
		}
	}
	if cd.TTBR1Valid {
		if cd.TTBR1&alignMask != 0 {
			return types.NewError(types.ContextDescriptorFormatFault)
		}
		if cd.TTBR1 > outputMask {
			return types.NewError(types.ContextDescriptorFormatFault)
		}
	}
	return nil
}

// StreamTableEntry is spec.md §3/§4.3's per-stream descriptor, validated
// for conformance only: it is never retained or used by the translation
// path, which operates purely on Config and the PASID map.
type StreamTableEntry struct {
	Stage1Enabled  bool
	Stage2Enabled  bool
	CDTableBase    uint64
	CDTableSize    uint64
	FaultMode      types.FaultMode
	Sec            types.SecurityDomain
	Stage1Granule  types.Granule
	Stage2Granule  types.Granule
}

// ValidateStreamTableEntry runs the checks spec.md §4.3 lists for a
// stream table entry.
func ValidateStreamTableEntry(ste StreamTableEntry) error {
	if ste.Stage1Enabled {
		if ste.CDTableBase == 0 || ste.CDTableBase%64 != 0 {
			return types.NewError(types.ContextDescriptorFormatFault)
		}
		if ste.CDTableSize == 0 {
			return types.NewError(types.ContextDescriptorFormatFault)
		}
	}
	if !types.ValidFaultMode(ste.FaultMode) {
		return types.NewError(types.ContextDescriptorFormatFault)
	}
	if !types.ValidSecurityDomain(ste.Sec) {
		return types.NewError(types.ContextDescriptorFormatFault)
	}
	if ste.Stage1Enabled && !types.ValidGranule(ste.Stage1Granule) {
		return types.NewError(types.ContextDescriptorFormatFault)
	}
	if ste.Stage2Enabled && !types.ValidGranule(ste.Stage2Granule) {
		return types.NewError(types.ContextDescriptorFormatFault)
	}
	return nil
}
