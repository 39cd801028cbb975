// Package guestmem models addresses into the guest's 32-bit address space
// and the endian-swapping accessors needed to read/write guest-visible
// structs from a little-endian host.
package guestmem

import "encoding/binary"

// Addr is a 32-bit guest-virtual address. It is never a host pointer —
// every guest struct field that the original library calls a "pointer" is
// one of these, resolved against a Space when it needs to be dereferenced.
type Addr uint32

// Null is the guest-virtual null address.
const Null Addr = 0

// IsNull reports whether a is the guest null address.
func (a Addr) IsNull() bool { return a == Null }

// Space is a flat byte-addressable view of guest memory, big-endian on the
// wire regardless of host byte order. It is intentionally minimal: the PPC
// interpreter/JIT and binary loader own the real backing storage; this
// type exists so the kernel-emulation core can be exercised and tested
// without a full memory subsystem attached.
type Space struct {
	bytes []byte
	base  Addr
}

// NewSpace wraps size bytes of host memory as a guest address space
// beginning at base.
func NewSpace(base Addr, size uint32) *Space {
	return &Space{bytes: make([]byte, size), base: base}
}

// Base returns the lowest guest-virtual address covered by s.
func (s *Space) Base() Addr { return s.base }

// Size returns the number of bytes covered by s.
func (s *Space) Size() uint32 { return uint32(len(s.bytes)) }

// Contains reports whether addr lies within s.
func (s *Space) Contains(addr Addr) bool {
	return addr >= s.base && uint64(addr)-uint64(s.base) < uint64(len(s.bytes))
}

func (s *Space) offset(addr Addr) int { return int(addr - s.base) }

// Slice returns the n raw bytes at addr, panicking if out of range — the
// same contract the guest's own out-of-bounds access would violate at the
// hardware level; callers that need a soft failure should check Contains
// first.
func (s *Space) Slice(addr Addr, n uint32) []byte {
	off := s.offset(addr)
	return s.bytes[off : off+int(n)]
}

// ReadU8 / WriteU8 access a single byte (no endian conversion needed).
func (s *Space) ReadU8(addr Addr) uint8     { return s.Slice(addr, 1)[0] }
func (s *Space) WriteU8(addr Addr, v uint8) { s.Slice(addr, 1)[0] = v }

// ReadU16 / WriteU16 access a big-endian 16-bit value.
func (s *Space) ReadU16(addr Addr) uint16 {
	return binary.BigEndian.Uint16(s.Slice(addr, 2))
}

func (s *Space) WriteU16(addr Addr, v uint16) {
	binary.BigEndian.PutUint16(s.Slice(addr, 2), v)
}

// ReadU32 / WriteU32 access a big-endian 32-bit value, used for both
// integers and guest-virtual pointer fields.
func (s *Space) ReadU32(addr Addr) uint32 {
	return binary.BigEndian.Uint32(s.Slice(addr, 4))
}

func (s *Space) WriteU32(addr Addr, v uint32) {
	binary.BigEndian.PutUint32(s.Slice(addr, 4), v)
}

// ReadAddr / WriteAddr access a guest-virtual pointer field.
func (s *Space) ReadAddr(addr Addr) Addr     { return Addr(s.ReadU32(addr)) }
func (s *Space) WriteAddr(addr Addr, v Addr) { s.WriteU32(addr, uint32(v)) }

// ReadU64 / WriteU64 access a big-endian 64-bit value, used by the
// atomic-64 API.
func (s *Space) ReadU64(addr Addr) uint64 {
	return binary.BigEndian.Uint64(s.Slice(addr, 8))
}

func (s *Space) WriteU64(addr Addr, v uint64) {
	binary.BigEndian.PutUint64(s.Slice(addr, 8), v)
}
