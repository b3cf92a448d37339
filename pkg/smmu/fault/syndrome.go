// Package fault implements spec.md §4.4: the bounded fault FIFO, its
// filtered queries and lifetime statistics, and the 32-bit syndrome
// packing format.
package fault

import "github.com/arm-smmu/smmuv3/pkg/smmu/types"

// faultTypeCode maps each translation-class Kind to its 8-bit syndrome
// code. The mapping is stable: it is part of the boundary format spec.md
// §6 promises is "stable across versions".
var faultTypeCode = map[types.Kind]uint8{
	types.TranslationFault:             0x01,
	types.PermissionFault:              0x02,
	types.SecurityFault:                0x03,
	types.AddressSizeFault:             0x04,
	types.AccessFault:                  0x05,
	types.Level0TranslationFault:       0x10,
	types.Level1TranslationFault:       0x11,
	types.Level2TranslationFault:       0x12,
	types.Level3TranslationFault:       0x13,
	types.ContextDescriptorFormatFault: 0x20,
}

// Syndrome is the structured decomposition of a fault's 32-bit packed
// syndrome register.
type Syndrome struct {
	Stage                  types.FaultStage
	Level                  int // 0..3
	Privilege              bool
	AccessClass            types.AccessKind
	IsWrite                bool
	ContextDescriptorIndex uint16
}

// Pack lays the syndrome out as spec.md §4.4 specifies:
//
//	bits[7:0]   fault-type code
//	bits[27:8]  20-bit PASID
//	bits[31:28] 4-bit sub-reason / error-code
func Pack(kind types.Kind, pid types.PASID, subReason uint8) uint32 {
	code := faultTypeCode[kind]
	packed := uint32(code)
	packed |= (uint32(pid) & 0xFFFFF) << 8
	packed |= (uint32(subReason) & 0xF) << 28
	return packed
}

// subReasonFor derives the 4-bit sub-reason field from the syndrome's
// structured fields: bit0 = IsWrite, bit1 = Privilege, bits[3:2] = Stage.
func subReasonFor(s Syndrome) uint8 {
	var r uint8
	if s.IsWrite {
		r |= 1
	}
	if s.Privilege {
		r |= 1 << 1
	}
	r |= uint8(s.Stage&0x3) << 2
	return r
}
