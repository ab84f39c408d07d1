package models

// ExternalMemory handles bus accesses that fall outside every mapped
// region. Access sizes are 1, 2 or 4; read values are zero-extended.
// A false return means the access faults as unmapped.
type ExternalMemory interface {
	ReadExt(size int, addr uint32) (uint32, bool)
	WriteExt(size int, addr uint32, val uint32) bool
}

// ExternFuncs adapts a callback pair plus an opaque context, for hosts
// that register functions rather than implementing the interface.
type ExternFuncs struct {
	Ctx   interface{}
	Read  func(ctx interface{}, size int, addr uint32) (uint32, bool)
	Write func(ctx interface{}, size int, addr uint32, val uint32) bool
}

func (e *ExternFuncs) ReadExt(size int, addr uint32) (uint32, bool) {
	if e.Read == nil {
		return 0, false
	}
	return e.Read(e.Ctx, size, addr)
}

func (e *ExternFuncs) WriteExt(size int, addr uint32, val uint32) bool {
	if e.Write == nil {
		return false
	}
	return e.Write(e.Ctx, size, addr, val)
}
