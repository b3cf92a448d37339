package addrspace

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arm-smmu/smmuv3/pkg/smmu/types"
)

const page = uint64(types.Granule4K)

func rw() types.PagePermissions { return types.PagePermissions{Read: true, Write: true} }

func TestMapAndTranslatePage(t *testing.T) {
	as := New(DefaultConfig())
	require.NoError(t, as.MapPage(0x1000, 0x9000, rw(), types.NonSecure))

	res := as.TranslatePage(0x1000, types.AccessRead, types.NonSecure)
	require.True(t, res.IsOk())
	require.Equal(t, uint64(0x9000), res.Value().PA)

	res = as.TranslatePage(0x1004, types.AccessRead, types.NonSecure)
	require.True(t, res.IsOk())
	require.Equal(t, uint64(0x9004), res.Value().PA, "in-page offset must carry through")
}

func TestTranslatePageChecksOrder(t *testing.T) {
	as := New(DefaultConfig())

	// Not mapped at all.
	res := as.TranslatePage(0x2000, types.AccessRead, types.NonSecure)
	require.True(t, res.IsErr())
	require.Equal(t, types.TranslationFault, res.Kind())

	require.NoError(t, as.MapPage(0x2000, 0xa000, types.PagePermissions{Read: true}, types.Secure))

	// Wrong security domain.
	res = as.TranslatePage(0x2000, types.AccessRead, types.NonSecure)
	require.True(t, res.IsErr())
	require.Equal(t, types.SecurityFault, res.Kind())

	// Right domain, wrong permission.
	res = as.TranslatePage(0x2000, types.AccessWrite, types.Secure)
	require.True(t, res.IsErr())
	require.Equal(t, types.PermissionFault, res.Kind())

	// Matching everything succeeds.
	res = as.TranslatePage(0x2000, types.AccessRead, types.Secure)
	require.True(t, res.IsOk())
}

func TestMapPageRejectsZeroPermissions(t *testing.T) {
	as := New(DefaultConfig())
	err := as.MapPage(0x1000, 0x2000, types.PagePermissions{}, types.NonSecure)
	require.Error(t, err)
	require.Equal(t, types.InvalidPermissions, types.KindOf(err))
}

func TestMapPageRejectsInvalidSecurityDomain(t *testing.T) {
	as := New(DefaultConfig())
	err := as.MapPage(0x1000, 0x2000, rw(), types.SecurityDomain(42))
	require.Error(t, err)
	require.Equal(t, types.InvalidSecurityDomain, types.KindOf(err))
}

func TestUnmapPage(t *testing.T) {
	as := New(DefaultConfig())
	require.NoError(t, as.MapPage(0x1000, 0x2000, rw(), types.NonSecure))
	require.NoError(t, as.UnmapPage(0x1000))
	require.False(t, as.IsPageMapped(0x1000))

	err := as.UnmapPage(0x1000)
	require.Error(t, err)
	require.Equal(t, types.PageNotMapped, types.KindOf(err))
}

func TestMapRangeAndUnmapRange(t *testing.T) {
	as := New(DefaultConfig())
	start, end := uint64(0x1000), uint64(0x1000+4*page)
	require.NoError(t, as.MapRange(start, end, 0x9000, rw(), types.NonSecure))
	require.Equal(t, 4, as.GetPageCount())

	for off := uint64(0); off < end-start; off += page {
		res := as.TranslatePage(start+off, types.AccessRead, types.NonSecure)
		require.True(t, res.IsOk())
		require.Equal(t, 0x9000+off, res.Value().PA)
	}

	require.NoError(t, as.UnmapRange(start, end))
	require.Equal(t, 0, as.GetPageCount())
}

func TestUnmapRangeRequiresAtLeastOneMappedPage(t *testing.T) {
	as := New(DefaultConfig())
	err := as.UnmapRange(0x1000, 0x1000+page)
	require.Error(t, err)
	require.Equal(t, types.PageNotMapped, types.KindOf(err))
}

func TestMapPagesFailsFastWithoutPartialMutation(t *testing.T) {
	as := New(DefaultConfig())
	specs := []PageSpec{
		{IOVA: 0x1000, PA: 0x2000, Perms: rw(), Sec: types.NonSecure},
		{IOVA: 0x2000, PA: 0x3000, Perms: types.PagePermissions{}, Sec: types.NonSecure}, // invalid
	}
	err := as.MapPages(specs)
	require.Error(t, err)
	require.Equal(t, 0, as.GetPageCount(), "no entries should be installed when validation fails")
}

func TestGetMappedRangesCoalescesContiguousPages(t *testing.T) {
	as := New(DefaultConfig())
	require.NoError(t, as.MapPage(0x0000, 0xa000, rw(), types.NonSecure))
	require.NoError(t, as.MapPage(page, 0xa000+page, rw(), types.NonSecure))
	require.NoError(t, as.MapPage(10*page, 0xb000, rw(), types.NonSecure))

	ranges := as.GetMappedRanges()
	require.Len(t, ranges, 2)
	require.Equal(t, types.IOVA(0), ranges[0].Start)
	require.Equal(t, types.IOVA(2*page), ranges[0].End)
	require.Equal(t, types.IOVA(10*page), ranges[1].Start)
	require.Equal(t, types.IOVA(11*page), ranges[1].End)
}

func TestHasOverlappingMappings(t *testing.T) {
	as := New(DefaultConfig())
	require.NoError(t, as.MapPage(5*page, 0xa000, rw(), types.NonSecure))

	require.True(t, as.HasOverlappingMappings(4*page, 6*page))
	require.False(t, as.HasOverlappingMappings(0, 4*page))
}

func TestRetainRelease(t *testing.T) {
	as := New(DefaultConfig())
	as.Retain()
	require.False(t, as.Release(), "still one reference left")
	require.True(t, as.Release(), "last reference dropped")
}

func TestClear(t *testing.T) {
	as := New(DefaultConfig())
	require.NoError(t, as.MapPage(0x1000, 0x2000, rw(), types.NonSecure))
	as.Clear()
	require.Equal(t, 0, as.GetPageCount())
	require.False(t, as.HasOverlappingMappings(0, 1<<32))
}

func TestGetPagePermissions(t *testing.T) {
	as := New(DefaultConfig())
	_, err := as.GetPagePermissions(0x1000)
	require.Error(t, err)

	require.NoError(t, as.MapPage(0x1000, 0x2000, rw(), types.NonSecure))
	perms, err := as.GetPagePermissions(0x1000)
	require.NoError(t, err)
	require.Equal(t, rw(), perms)
}
