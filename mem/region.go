package mem

import "fmt"

// Region names, also the keys used by Bus.Attach and Layout.Region.
const (
	RegionRom     = "rom"
	RegionUart    = "uart"
	RegionCtrl    = "ctrl"
	RegionSpi     = "spi"
	RegionSram    = "sram"
	RegionPic     = "pic"
	RegionExtSram = "ext-sram"
	RegionDccm    = "dccm"
	RegionI3c     = "i3c"
	RegionFlashA  = "flash0"
	RegionFlashB  = "flash1"
	RegionMci     = "mci"
	RegionDma     = "dma"
	RegionMbox    = "mbox"
	RegionSoc     = "soc"
	RegionOtp     = "otp"
	RegionLc      = "lc"
)

// Region is one span of the SoC address map.
type Region struct {
	Name string
	Addr uint32
	Size uint32
}

func (r *Region) Contains(addr uint32) bool {
	return addr >= r.Addr && uint64(addr) < r.End()
}

// End is the first address past the region, widened so spans touching
// the top of the address space do not wrap.
func (r *Region) End() uint64 {
	return uint64(r.Addr) + uint64(r.Size)
}

func (r *Region) Overlaps(o *Region) bool {
	if r.Size == 0 || o.Size == 0 {
		return false
	}
	return uint64(r.Addr) < o.End() && uint64(o.Addr) < r.End()
}

func (r *Region) String() string {
	return fmt.Sprintf("%s 0x%08x-0x%08x", r.Name, r.Addr, r.End())
}
