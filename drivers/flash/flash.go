// Package flash describes raw NOR flash and provides host-side models of it.
//
// NOR semantics: an erased byte reads 0xFF, programming can only clear bits
// (new = old & data), and only a whole erase block can set them back.
// Program must stay within one page; Erase works on whole blocks.
package flash

import "errors"

// Erased is the value of every byte after an erase.
const Erased = 0xFF

var (
	ErrAlign       = errors.New("flash: misaligned address")
	ErrRange       = errors.New("flash: address out of range")
	ErrPageCross   = errors.New("flash: program crosses page boundary")
	ErrProgramFail = errors.New("flash: program verify failed")
	ErrEraseFail   = errors.New("flash: erase failed")
)

// Device is the contract the record store programs against.
// Calls are blocking; erase is long-latency on real parts.
type Device interface {
	Size() uint32
	PageSize() uint32
	BlockSize() uint32
	ReadAt(p []byte, addr uint32) error
	Program(addr uint32, p []byte) error
	EraseBlock(addr uint32) error
}

// Geometry of a device.
type Geometry struct {
	Size      uint32
	PageSize  uint32
	BlockSize uint32
}

// Validate checks the power-of-two style relationships NOR parts guarantee.
func (g Geometry) Validate() error {
	if g.PageSize == 0 || g.BlockSize == 0 || g.Size == 0 {
		return errors.New("flash: geometry fields must be non-zero")
	}
	if g.BlockSize%g.PageSize != 0 {
		return errors.New("flash: block size must be a multiple of page size")
	}
	if g.Size%g.BlockSize != 0 {
		return errors.New("flash: size must be a multiple of block size")
	}
	return nil
}

func checkRead(g Geometry, addr uint32, n int) error {
	if uint64(addr)+uint64(n) > uint64(g.Size) {
		return ErrRange
	}
	return nil
}

func checkProgram(g Geometry, addr uint32, n int) error {
	if err := checkRead(g, addr, n); err != nil {
		return err
	}
	if n == 0 {
		return nil
	}
	if addr/g.PageSize != (addr+uint32(n)-1)/g.PageSize {
		return ErrPageCross
	}
	return nil
}

func checkErase(g Geometry, addr uint32) error {
	if addr%g.BlockSize != 0 {
		return ErrAlign
	}
	if addr >= g.Size {
		return ErrRange
	}
	return nil
}

// programInto applies NOR program semantics to dst.
func programInto(dst, src []byte) {
	for i := range src {
		dst[i] &= src[i]
	}
}

func fill(p []byte, v byte) {
	for i := range p {
		p[i] = v
	}
}
