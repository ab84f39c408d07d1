package periph

import (
	"os"

	"github.com/lunixbochs/struc"
	"github.com/pkg/errors"

	"github.com/emucraft/socorn/mem"
	"github.com/emucraft/socorn/models"
)

const (
	otpMagic   = "SOTP"
	otpVersion = 1

	// fuse layout
	OtpVendorHashOff = 0x00 // 48 bytes
	OtpOwnerHashOff  = 0x30 // 48 bytes
	OtpLifecycleOff  = 0x60 // 1 word
)

type otpImage struct {
	Magic   [4]byte `struc:"[4]byte"`
	Version uint32
	Size    uint32 `struc:"uint32,sizeof=Fuses"`
	Fuses   []byte
}

// Otp is the one-time-programmable fuse array. Writes can only set
// bits. When a backing path is configured the image is read at
// construction and written back by Persist.
type Otp struct {
	path  string
	fuses []byte
	dirty bool
}

var _ mem.Device = (*Otp)(nil)

func NewOtp(size uint32, path string) (*Otp, error) {
	o := &Otp{path: path, fuses: make([]byte, size)}
	if path == "" {
		return o, nil
	}
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return o, nil
	}
	if err != nil {
		return nil, errors.Wrapf(models.ErrInitializationFailed, "otp: %v", err)
	}
	defer f.Close()
	var img otpImage
	if err := struc.Unpack(f, &img); err != nil {
		return nil, errors.Wrapf(models.ErrInitializationFailed, "otp image %s: %v", path, err)
	}
	if string(img.Magic[:]) != otpMagic || img.Version != otpVersion {
		return nil, errors.Wrapf(models.ErrInitializationFailed, "otp image %s: bad magic or version", path)
	}
	copy(o.fuses, img.Fuses)
	return o, nil
}

// Burn sets fuse bits at off. Used during construction for the key
// hashes and lifecycle seed, and by firmware through the bus.
func (o *Otp) Burn(off uint32, p []byte) error {
	if int(off)+len(p) > len(o.fuses) {
		return errors.Wrapf(models.ErrInitializationFailed,
			"otp: burn of %d bytes at 0x%x exceeds %d-byte array", len(p), off, len(o.fuses))
	}
	for i, b := range p {
		o.fuses[off+uint32(i)] |= b
	}
	o.dirty = true
	return nil
}

// Fuses exposes the array for tests and the soc wrapper.
func (o *Otp) Fuses() []byte {
	return o.fuses
}

// Persist writes the image back to the backing path, if any.
func (o *Otp) Persist() error {
	if o.path == "" || !o.dirty {
		return nil
	}
	f, err := os.Create(o.path)
	if err != nil {
		return errors.Wrapf(err, "otp: persist %s", o.path)
	}
	defer f.Close()
	img := otpImage{Version: otpVersion, Fuses: o.fuses}
	copy(img.Magic[:], otpMagic)
	if err := struc.Pack(f, &img); err != nil {
		return errors.Wrapf(err, "otp: persist %s", o.path)
	}
	o.dirty = false
	return nil
}

func (o *Otp) Load(off uint32, size int) (uint32, error) {
	if int(off)+size > len(o.fuses) {
		return 0, errors.Errorf("otp: load past end at 0x%x", off)
	}
	var v uint32
	for i := size - 1; i >= 0; i-- {
		v = v<<8 | uint32(o.fuses[off+uint32(i)])
	}
	return v, nil
}

func (o *Otp) Store(off uint32, size int, val uint32) error {
	if int(off)+size > len(o.fuses) {
		return errors.Errorf("otp: store past end at 0x%x", off)
	}
	b := make([]byte, size)
	for i := 0; i < size; i++ {
		b[i] = byte(val >> (8 * uint(i)))
	}
	return o.Burn(off, b)
}
