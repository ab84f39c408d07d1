package periph

import (
	"github.com/emucraft/socorn/mem"
	"github.com/emucraft/socorn/models"
)

// Soc register offsets.
const (
	SocHwRevId    = 0x00
	SocFlowStatus = 0x04
	SocFuseDone   = 0x08
	SocManufState = 0x0C
)

// Soc is the SoC wrapper: hardware revision id, boot flow status, fuse
// download handshake, and the manufacturing state strap.
type Soc struct {
	hwRev    uint32
	manuf    bool
	flow     uint32
	fuseDone uint32
}

var _ mem.Device = (*Soc)(nil)

func NewSoc(rev models.HwRevision, manufacturing bool) *Soc {
	return &Soc{
		hwRev: uint32(rev.Major)<<16 | uint32(rev.Minor)<<8 | uint32(rev.Patch),
		manuf: manufacturing,
	}
}

func (s *Soc) Load(off uint32, size int) (uint32, error) {
	switch off {
	case SocHwRevId:
		return s.hwRev, nil
	case SocFlowStatus:
		return s.flow, nil
	case SocFuseDone:
		return s.fuseDone, nil
	case SocManufState:
		if s.manuf {
			return 1, nil
		}
		return 0, nil
	}
	return 0, nil
}

func (s *Soc) Store(off uint32, size int, val uint32) error {
	switch off {
	case SocFlowStatus:
		s.flow = val
	case SocFuseDone:
		s.fuseDone = val
	}
	return nil
}
