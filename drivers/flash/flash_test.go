package flash

import (
	"errors"
	"path/filepath"
	"testing"
)

var testGeom = Geometry{Size: 4096, PageSize: 256, BlockSize: 1024}

func TestMemNORSemantics(t *testing.T) {
	m, err := NewMem(testGeom)
	if err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 2)
	if err := m.ReadAt(buf, 0); err != nil || buf[0] != Erased {
		t.Fatalf("fresh part not erased: %v %x", err, buf)
	}
	if err := m.Program(0, []byte{0xF0, 0x0F}); err != nil {
		t.Fatal(err)
	}
	// Programming can only clear bits.
	if err := m.Program(0, []byte{0x3C, 0xFF}); err != nil {
		t.Fatal(err)
	}
	_ = m.ReadAt(buf, 0)
	if buf[0] != 0x30 || buf[1] != 0x0F {
		t.Fatalf("AND semantics violated: %x", buf)
	}
	if err := m.EraseBlock(0); err != nil {
		t.Fatal(err)
	}
	_ = m.ReadAt(buf, 0)
	if buf[0] != Erased || m.EraseCount(0) != 1 {
		t.Fatalf("erase: %x count=%d", buf, m.EraseCount(0))
	}
}

func TestMemBounds(t *testing.T) {
	m, _ := NewMem(testGeom)
	if err := m.Program(250, make([]byte, 10)); !errors.Is(err, ErrPageCross) {
		t.Fatalf("want page-cross, got %v", err)
	}
	if err := m.EraseBlock(100); !errors.Is(err, ErrAlign) {
		t.Fatalf("want align, got %v", err)
	}
	if err := m.ReadAt(make([]byte, 4), 4094); !errors.Is(err, ErrRange) {
		t.Fatalf("want range, got %v", err)
	}
}

func TestMemTornProgram(t *testing.T) {
	m, _ := NewMem(testGeom)
	m.TornProgram = func(uint32) int { return 1 }
	if err := m.Program(0, []byte{0x00, 0x00}); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 2)
	_ = m.ReadAt(buf, 0)
	if buf[0] != 0x00 || buf[1] != Erased {
		t.Fatalf("torn write: %x", buf)
	}
}

func TestGeometryValidate(t *testing.T) {
	if err := (Geometry{Size: 4096, PageSize: 300, BlockSize: 1024}).Validate(); err == nil {
		t.Fatal("page size must divide block size")
	}
	if _, err := NewMem(Geometry{}); err == nil {
		t.Fatal("zero geometry must fail")
	}
}

func TestFilePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nor.img")
	d, err := OpenFile(path, testGeom)
	if err != nil {
		t.Fatal(err)
	}
	if err := d.Program(512, []byte{1, 2, 3}); err != nil {
		t.Fatal(err)
	}
	if err := d.Close(); err != nil {
		t.Fatal(err)
	}

	d, err = OpenFile(path, testGeom)
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()
	buf := make([]byte, 4)
	if err := d.ReadAt(buf, 512); err != nil {
		t.Fatal(err)
	}
	if buf[0] != 1 || buf[2] != 3 || buf[3] != Erased {
		t.Fatalf("reopened contents %x", buf)
	}
	if err := d.EraseBlock(0); err != nil {
		t.Fatal(err)
	}
	_ = d.ReadAt(buf, 512)
	if buf[0] != Erased {
		t.Fatal("erase did not reset block")
	}
	if _, err := OpenFile(path, Geometry{Size: 8192, PageSize: 256, BlockSize: 1024}); err == nil {
		t.Fatal("size mismatch must be rejected")
	}
}
