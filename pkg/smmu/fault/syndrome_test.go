package fault

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arm-smmu/smmuv3/pkg/smmu/types"
)

func TestPackLayout(t *testing.T) {
	packed := Pack(types.PermissionFault, 0x12345, 0x7)

	require.Equal(t, uint32(0x02), packed&0xFF, "bits[7:0] must carry the fault-type code")
	require.Equal(t, uint32(0x12345), (packed>>8)&0xFFFFF, "bits[27:8] must carry the 20-bit PASID")
	require.Equal(t, uint32(0x7), (packed>>28)&0xF, "bits[31:28] must carry the sub-reason")
}

func TestPackMasksOversizedPASID(t *testing.T) {
	packed := Pack(types.TranslationFault, types.MaxPASID+5, 0)
	require.Equal(t, uint32(0), packed>>28, "PASID bits above bit 19 must not spill into the sub-reason field")
}

func TestSubReasonForEncodesWriteAndStage(t *testing.T) {
	s := Syndrome{IsWrite: true, Stage: types.BothStages}
	r := subReasonFor(s)
	require.Equal(t, uint8(1), r&0x1)
	require.Equal(t, uint8(types.BothStages), (r>>2)&0x3)
}
