package models

import (
	"encoding/hex"
	"fmt"
	"math"

	"github.com/pkg/errors"
	"github.com/retroenv/retrogolib/log"
)

// Override optionally replaces a memory map default. The zero value is an
// explicit zero, not "unset": use UseDefault to keep the default. Any
// other negative value, or one above the 32-bit range, is treated the
// same as UseDefault.
type Override int64

const UseDefault Override = -1

// Value returns the override as a 32-bit quantity. ok is false when the
// value is out of range and the default should stand.
func (o Override) Value() (uint32, bool) {
	if o < 0 || o > math.MaxUint32 {
		return 0, false
	}
	return uint32(o), true
}

// Apply resolves the override against a default.
func (o Override) Apply(def uint32) uint32 {
	if v, ok := o.Value(); ok {
		return v
	}
	return def
}

// Overrides adjusts the base offset and size of each memory map region.
// The PIC span is fixed by the interrupt controller, so only its offset
// can move.
type Overrides struct {
	RomOffset            Override
	RomSize              Override
	UartOffset           Override
	UartSize             Override
	CtrlOffset           Override
	CtrlSize             Override
	SpiOffset            Override
	SpiSize              Override
	SramOffset           Override
	SramSize             Override
	PicOffset            Override
	ExtTestSramOffset    Override
	ExtTestSramSize      Override
	DccmOffset           Override
	DccmSize             Override
	I3cOffset            Override
	I3cSize              Override
	PrimaryFlashOffset   Override
	PrimaryFlashSize     Override
	SecondaryFlashOffset Override
	SecondaryFlashSize   Override
	MciOffset            Override
	MciSize              Override
	DmaOffset            Override
	DmaSize              Override
	MboxOffset           Override
	MboxSize             Override
	SocOffset            Override
	SocSize              Override
	OtpOffset            Override
	OtpSize              Override
	LcOffset             Override
	LcSize               Override
}

// DefaultOverrides sets every field to UseDefault.
func DefaultOverrides() Overrides {
	return Overrides{
		RomOffset:            UseDefault,
		RomSize:              UseDefault,
		UartOffset:           UseDefault,
		UartSize:             UseDefault,
		CtrlOffset:           UseDefault,
		CtrlSize:             UseDefault,
		SpiOffset:            UseDefault,
		SpiSize:              UseDefault,
		SramOffset:           UseDefault,
		SramSize:             UseDefault,
		PicOffset:            UseDefault,
		ExtTestSramOffset:    UseDefault,
		ExtTestSramSize:      UseDefault,
		DccmOffset:           UseDefault,
		DccmSize:             UseDefault,
		I3cOffset:            UseDefault,
		I3cSize:              UseDefault,
		PrimaryFlashOffset:   UseDefault,
		PrimaryFlashSize:     UseDefault,
		SecondaryFlashOffset: UseDefault,
		SecondaryFlashSize:   UseDefault,
		MciOffset:            UseDefault,
		MciSize:              UseDefault,
		DmaOffset:            UseDefault,
		DmaSize:              UseDefault,
		MboxOffset:           UseDefault,
		MboxSize:             UseDefault,
		SocOffset:            UseDefault,
		SocSize:              UseDefault,
		OtpOffset:            UseDefault,
		OtpSize:              UseDefault,
		LcOffset:             UseDefault,
		LcSize:               UseDefault,
	}
}

// HwRevision is the hardware revision the SoC wrapper reports to firmware.
type HwRevision struct {
	Major, Minor, Patch uint16
}

func (h HwRevision) String() string {
	return fmt.Sprintf("%d.%d.%d", h.Major, h.Minor, h.Patch)
}

// Config carries everything needed to construct an emulator. Start from
// NewConfig so the override fields begin at UseDefault; a zero Config
// places every region at offset zero.
type Config struct {
	RomPath               string
	FirmwarePath          string
	SecondaryRomPath      string
	SecondaryFirmwarePath string
	ManifestPath          string
	OtpPath               string
	LogDir                string

	GdbPort     int
	SbusPort    int
	MonitorPort int

	TraceInstr        bool
	StdinUart         bool
	ManufacturingMode bool
	CaptureUart       bool

	VendorPKHash string // hex SHA-384 digest, 96 chars, optional
	OwnerPKHash  string

	StreamingBootPath  string
	PrimaryFlashPath   string
	SecondaryFlashPath string

	HwRevision HwRevision

	Mem Overrides

	// External receives bus accesses that match no mapped region.
	External ExternalMemory

	// Logger is optional; when nil the emulator only logs errors.
	Logger *log.Logger
}

func NewConfig() *Config {
	return &Config{Mem: DefaultOverrides()}
}

// Check validates the parts of a Config that can fail before any
// resource is touched. Path existence is left to construction.
func (c *Config) Check() error {
	if c == nil {
		return errors.Wrap(ErrInvalidArgument, "nil config")
	}
	if c.RomPath == "" {
		return errors.Wrap(ErrInvalidArgument, "rom path is required")
	}
	ports := []struct {
		name string
		port int
	}{
		{"gdb", c.GdbPort},
		{"sbus", c.SbusPort},
		{"monitor", c.MonitorPort},
	}
	for _, p := range ports {
		if p.port < 0 || p.port > 65535 {
			return errors.Wrapf(ErrInvalidArgument, "%s port %d out of range", p.name, p.port)
		}
	}
	if _, err := DecodePKHash(c.VendorPKHash); err != nil {
		return errors.Wrap(err, "vendor pk hash")
	}
	if _, err := DecodePKHash(c.OwnerPKHash); err != nil {
		return errors.Wrap(err, "owner pk hash")
	}
	return nil
}

// DecodePKHash decodes an optional hex SHA-384 digest. Empty input
// yields a nil slice.
func DecodePKHash(s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidArgument, "bad hash hex: %v", err)
	}
	if len(b) != 48 {
		return nil, errors.Wrapf(ErrInvalidArgument, "hash must be 48 bytes, got %d", len(b))
	}
	return b, nil
}
