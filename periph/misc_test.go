package periph

import (
	"testing"

	"github.com/emucraft/socorn/mem"
)

func TestPicClaim(t *testing.T) {
	p := NewPic()
	p.Raise(3)
	p.Raise(5)
	if err := p.Store(PicEnable, 4, 1<<5); err != nil {
		t.Fatal(err)
	}
	v, err := p.Load(PicClaim, 4)
	if err != nil {
		t.Fatal(err)
	}
	if v != 6 { // irq 5, plus one
		t.Fatalf("claim = %d", v)
	}
	if v, _ = p.Load(PicClaim, 4); v != 0 {
		t.Fatalf("second claim = %d", v)
	}
	// irq 3 still pending but masked
	if v, _ = p.Load(PicPending, 4); v != 1<<3 {
		t.Fatalf("pending = 0x%x", v)
	}
}

func TestMboxLifecycle(t *testing.T) {
	m := NewMbox()
	if v, _ := m.Load(MboxLock, 4); v != 0 {
		t.Fatal("first lock read should acquire")
	}
	if v, _ := m.Load(MboxLock, 4); v != 1 {
		t.Fatal("second lock read should see it held")
	}
	m.Store(MboxCmd, 4, 0x4D424F58)
	m.Store(MboxDataIn, 4, 0x11)
	m.Store(MboxDataIn, 4, 0x22)
	m.Store(MboxExecute, 4, 1)
	if v, _ := m.Load(MboxStatus, 4); v != MboxStatusComplete {
		t.Fatalf("status = %d", v)
	}
	if v, _ := m.Load(MboxDataOut, 4); v != 0x11 {
		t.Fatalf("dataout = 0x%x", v)
	}
	m.Store(MboxExecute, 4, 0)
	if v, _ := m.Load(MboxStatus, 4); v != MboxStatusIdle {
		t.Fatalf("status after release = %d", v)
	}
	if v, _ := m.Load(MboxLock, 4); v != 0 {
		t.Fatal("lock should be free after release")
	}
}

func TestDmaCopy(t *testing.T) {
	l, err := mem.Resolve(nil)
	if err != nil {
		t.Fatal(err)
	}
	b := mem.NewBus(l, nil)
	sram := NewRAM(l.Region(mem.RegionSram).Size)
	if err := b.Attach(mem.RegionSram, sram); err != nil {
		t.Fatal(err)
	}
	d := NewDma(b)
	if err := b.Attach(mem.RegionDma, d); err != nil {
		t.Fatal(err)
	}
	src := uint32(0x4000_0000)
	dst := uint32(0x4000_0100)
	for i := uint32(0); i < 8; i++ {
		if err := b.Write(src+i, 1, uint32(0x30+i)); err != nil {
			t.Fatal(err)
		}
	}
	d.Store(DmaSrc, 4, src)
	d.Store(DmaDst, 4, dst)
	d.Store(DmaLen, 4, 8)
	d.Store(DmaCtrl, 4, 1)
	if st, _ := d.Load(DmaStatus, 4); st != DmaStatusDone {
		t.Fatalf("status = 0x%x", st)
	}
	for i := uint32(0); i < 8; i++ {
		v, err := b.Read(dst+i, 1)
		if err != nil {
			t.Fatal(err)
		}
		if v != 0x30+i {
			t.Fatalf("dst[%d] = 0x%x", i, v)
		}
	}
}

func TestDmaFaultLatchesError(t *testing.T) {
	l, err := mem.Resolve(nil)
	if err != nil {
		t.Fatal(err)
	}
	b := mem.NewBus(l, nil)
	d := NewDma(b)
	if err := b.Attach(mem.RegionDma, d); err != nil {
		t.Fatal(err)
	}
	d.Store(DmaSrc, 4, 0x1234_0000) // hole
	d.Store(DmaDst, 4, 0x4000_0000) // no device either
	d.Store(DmaLen, 4, 4)
	d.Store(DmaCtrl, 4, 1)
	if st, _ := d.Load(DmaStatus, 4); st != DmaStatusError {
		t.Fatalf("status = 0x%x", st)
	}
}

func TestI3cFrames(t *testing.T) {
	d := NewI3c()
	d.Push([]byte{1, 2, 3})
	if v, _ := d.Load(I3cRxStatus, 4); v != 1 {
		t.Fatalf("rx status = %d", v)
	}
	if v, _ := d.Load(I3cRxLen, 4); v != 3 {
		t.Fatalf("rx len = %d", v)
	}
	var got []byte
	for i := 0; i < 3; i++ {
		v, _ := d.Load(I3cRxData, 4)
		got = append(got, byte(v))
	}
	if got[0] != 1 || got[1] != 2 || got[2] != 3 {
		t.Fatalf("frame = %v", got)
	}
	if v, _ := d.Load(I3cRxStatus, 4); v != 0 {
		t.Fatalf("rx status after frame = %d", v)
	}

	var sent [][]byte
	d.SetSink(func(frame []byte) error {
		cp := make([]byte, len(frame))
		copy(cp, frame)
		sent = append(sent, cp)
		return nil
	})
	for _, b := range []byte{9, 8} {
		d.Store(I3cTxData, 4, uint32(b))
	}
	d.Store(I3cTxCtrl, 4, 1)
	if len(sent) != 1 || len(sent[0]) != 2 || sent[0][0] != 9 {
		t.Fatalf("sent = %v", sent)
	}
}
