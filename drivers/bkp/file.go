package bkp

import (
	"errors"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"
)

// File keeps the register file in a small yaml document so the host tool can
// model resets between runs. Every Write rewrites the file.
type File struct {
	mem  Mem
	path string
	err  error
}

type fileDoc struct {
	Registers map[string]uint32 `yaml:"registers"`
}

// OpenFile loads path if it exists; a missing file is an empty register file.
func OpenFile(path string) (*File, error) {
	f := &File{path: path}
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return f, nil
	}
	if err != nil {
		return nil, err
	}
	var doc fileDoc
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	for r := Reg(0); r < numRegs; r++ {
		if v, ok := doc.Registers[r.String()]; ok {
			f.mem.w[r] = v
		}
	}
	return f, nil
}

func (f *File) Read(r Reg) uint32 { return f.mem.Read(r) }

func (f *File) Write(r Reg, v uint32) {
	f.mem.Write(r, v)
	f.err = f.flush()
}

// Err returns the last flush error, if any.
func (f *File) Err() error { return f.err }

func (f *File) flush() error {
	doc := fileDoc{Registers: map[string]uint32{}}
	for r := Reg(0); r < numRegs; r++ {
		doc.Registers[r.String()] = f.mem.Read(r)
	}
	out, err := yaml.Marshal(&doc)
	if err != nil {
		return err
	}
	return os.WriteFile(f.path, out, 0o644)
}
