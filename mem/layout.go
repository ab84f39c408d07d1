package mem

import (
	"sort"

	"github.com/pkg/errors"
	"golang.org/x/exp/slices"

	"github.com/emucraft/socorn/models"
)

// PicSize is fixed by the interrupt controller register file; only the
// PIC base can move.
const PicSize = 0x1000

// defaults is the address map firmware is built against. Every entry
// except the PIC size can be moved or resized through models.Overrides.
var defaults = []Region{
	{RegionUart, 0x1000_1000, 0x100},
	{RegionCtrl, 0x1000_2000, 0x4},
	{RegionSpi, 0x2000_0000, 0x1000},
	{RegionI3c, 0x2000_4000, 0x1000},
	{RegionFlashA, 0x2000_8000, 0x1000},
	{RegionFlashB, 0x2000_9000, 0x1000},
	{RegionMci, 0x2100_0000, 0xE0_0000},
	{RegionMbox, 0x3002_0000, 0x28},
	{RegionSoc, 0x3003_0000, 0x5E0},
	{RegionSram, 0x4000_0000, 0x8_0000},
	{RegionDccm, 0x5000_0000, 0x4000},
	{RegionPic, 0x6000_0000, PicSize},
	{RegionOtp, 0x7000_0000, 0x140},
	{RegionLc, 0x7000_0400, 0x8C},
	{RegionRom, 0x8000_0000, 0x8000},
	{RegionExtSram, 0x8800_0000, 0x10_0000},
	{RegionDma, 0x9000_0000, 0x1000},
}

// Layout is a resolved, overlap-checked address map.
type Layout struct {
	regions []Region // sorted by Addr
	byName  map[string]*Region
}

// Resolve applies overrides to the default map and checks the result
// for overlaps. A nil ov keeps every default. Out-of-range override
// values fall back to the default; explicit zero sizes are honored and
// make a region unmatchable.
func Resolve(ov *models.Overrides) (*Layout, error) {
	if ov == nil {
		d := models.DefaultOverrides()
		ov = &d
	}
	adjust := map[string][2]models.Override{
		RegionRom:     {ov.RomOffset, ov.RomSize},
		RegionUart:    {ov.UartOffset, ov.UartSize},
		RegionCtrl:    {ov.CtrlOffset, ov.CtrlSize},
		RegionSpi:     {ov.SpiOffset, ov.SpiSize},
		RegionSram:    {ov.SramOffset, ov.SramSize},
		RegionPic:     {ov.PicOffset, models.UseDefault},
		RegionExtSram: {ov.ExtTestSramOffset, ov.ExtTestSramSize},
		RegionDccm:    {ov.DccmOffset, ov.DccmSize},
		RegionI3c:     {ov.I3cOffset, ov.I3cSize},
		RegionFlashA:  {ov.PrimaryFlashOffset, ov.PrimaryFlashSize},
		RegionFlashB:  {ov.SecondaryFlashOffset, ov.SecondaryFlashSize},
		RegionMci:     {ov.MciOffset, ov.MciSize},
		RegionDma:     {ov.DmaOffset, ov.DmaSize},
		RegionMbox:    {ov.MboxOffset, ov.MboxSize},
		RegionSoc:     {ov.SocOffset, ov.SocSize},
		RegionOtp:     {ov.OtpOffset, ov.OtpSize},
		RegionLc:      {ov.LcOffset, ov.LcSize},
	}
	regions := make([]Region, len(defaults))
	copy(regions, defaults)
	for i := range regions {
		r := &regions[i]
		a := adjust[r.Name]
		r.Addr = a[0].Apply(r.Addr)
		r.Size = a[1].Apply(r.Size)
	}
	slices.SortFunc(regions, func(a, b Region) bool {
		return a.Addr < b.Addr
	})
	var prev *Region
	for i := range regions {
		r := &regions[i]
		if r.Size == 0 {
			continue
		}
		if prev != nil && prev.Overlaps(r) {
			return nil, errors.Wrapf(models.ErrInitializationFailed,
				"memory map overlap: %s and %s", prev, r)
		}
		prev = r
	}
	l := &Layout{
		regions: regions,
		byName:  make(map[string]*Region, len(regions)),
	}
	for i := range l.regions {
		l.byName[l.regions[i].Name] = &l.regions[i]
	}
	return l, nil
}

// RegionFor finds the region containing addr.
func (l *Layout) RegionFor(addr uint32) (*Region, bool) {
	i := sort.Search(len(l.regions), func(i int) bool {
		return l.regions[i].End() > uint64(addr)
	})
	if i < len(l.regions) && l.regions[i].Contains(addr) {
		return &l.regions[i], true
	}
	return nil, false
}

// Region looks a region up by name. Returns nil for unknown names.
func (l *Layout) Region(name string) *Region {
	return l.byName[name]
}

// Regions returns a copy of the map sorted by base address.
func (l *Layout) Regions() []Region {
	out := make([]Region, len(l.regions))
	copy(out, l.regions)
	return out
}
