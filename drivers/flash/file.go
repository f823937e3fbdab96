package flash

import (
	"errors"
	"io"
	"os"
)

// File is a NOR part persisted in a host file, used by the host tool so the
// record log survives between runs. The file is created erased.
type File struct {
	f    *os.File
	geom Geometry
	page []byte
}

// OpenFile opens or creates path with geometry g.
func OpenFile(path string, g Geometry) (*File, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if st.Size() != int64(g.Size) {
		if st.Size() != 0 {
			f.Close()
			return nil, errors.New("flash: image size does not match geometry")
		}
		blank := make([]byte, g.BlockSize)
		fill(blank, Erased)
		for off := uint32(0); off < g.Size; off += g.BlockSize {
			if _, err := f.WriteAt(blank, int64(off)); err != nil {
				f.Close()
				return nil, err
			}
		}
	}
	return &File{f: f, geom: g, page: make([]byte, g.PageSize)}, nil
}

func (d *File) Close() error { return d.f.Close() }

func (d *File) Size() uint32      { return d.geom.Size }
func (d *File) PageSize() uint32  { return d.geom.PageSize }
func (d *File) BlockSize() uint32 { return d.geom.BlockSize }

func (d *File) ReadAt(p []byte, addr uint32) error {
	if err := checkRead(d.geom, addr, len(p)); err != nil {
		return err
	}
	_, err := d.f.ReadAt(p, int64(addr))
	if errors.Is(err, io.EOF) {
		err = nil
	}
	return err
}

func (d *File) Program(addr uint32, p []byte) error {
	if err := checkProgram(d.geom, addr, len(p)); err != nil {
		return err
	}
	cur := d.page[:len(p)]
	if _, err := d.f.ReadAt(cur, int64(addr)); err != nil {
		return err
	}
	programInto(cur, p)
	_, err := d.f.WriteAt(cur, int64(addr))
	return err
}

func (d *File) EraseBlock(addr uint32) error {
	if err := checkErase(d.geom, addr); err != nil {
		return err
	}
	blank := make([]byte, d.geom.BlockSize)
	fill(blank, Erased)
	_, err := d.f.WriteAt(blank, int64(addr))
	return err
}
