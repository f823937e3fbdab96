package flash

import "sync"

// Mem is an in-memory NOR part. It counts erases per block and lets tests
// inject program/erase failures or interrupt a program part-way.
type Mem struct {
	mu   sync.Mutex
	geom Geometry
	data []byte

	erases []uint32

	// FailProgram, when set, is consulted before each program.
	FailProgram func(addr uint32) error
	// FailErase, when set, is consulted before each block erase.
	FailErase func(addr uint32) error
	// TornProgram, when set and returning n >= 0, programs only the first n
	// bytes and then reports success, modelling a power cut mid-write.
	TornProgram func(addr uint32) int
}

// NewMem returns an erased part with geometry g.
func NewMem(g Geometry) (*Mem, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	m := &Mem{
		geom:   g,
		data:   make([]byte, g.Size),
		erases: make([]uint32, g.Size/g.BlockSize),
	}
	fill(m.data, Erased)
	return m, nil
}

func (m *Mem) Size() uint32      { return m.geom.Size }
func (m *Mem) PageSize() uint32  { return m.geom.PageSize }
func (m *Mem) BlockSize() uint32 { return m.geom.BlockSize }

func (m *Mem) ReadAt(p []byte, addr uint32) error {
	if err := checkRead(m.geom, addr, len(p)); err != nil {
		return err
	}
	m.mu.Lock()
	copy(p, m.data[addr:])
	m.mu.Unlock()
	return nil
}

func (m *Mem) Program(addr uint32, p []byte) error {
	if err := checkProgram(m.geom, addr, len(p)); err != nil {
		return err
	}
	if m.FailProgram != nil {
		if err := m.FailProgram(addr); err != nil {
			return err
		}
	}
	n := len(p)
	if m.TornProgram != nil {
		if k := m.TornProgram(addr); k >= 0 && k < n {
			n = k
		}
	}
	m.mu.Lock()
	programInto(m.data[addr:addr+uint32(n)], p[:n])
	m.mu.Unlock()
	return nil
}

func (m *Mem) EraseBlock(addr uint32) error {
	if err := checkErase(m.geom, addr); err != nil {
		return err
	}
	if m.FailErase != nil {
		if err := m.FailErase(addr); err != nil {
			return err
		}
	}
	m.mu.Lock()
	fill(m.data[addr:addr+m.geom.BlockSize], Erased)
	m.erases[addr/m.geom.BlockSize]++
	m.mu.Unlock()
	return nil
}

// EraseCount reports how many times the block containing addr was erased.
func (m *Mem) EraseCount(addr uint32) uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.erases[addr/m.geom.BlockSize]
}

// Corrupt XORs one byte in place, bypassing NOR rules (bit rot, test use).
func (m *Mem) Corrupt(addr uint32, mask byte) {
	m.mu.Lock()
	m.data[addr] ^= mask
	m.mu.Unlock()
}
