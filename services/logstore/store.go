// Package logstore is the measurement log: an append-only ring of fixed-size
// records laid directly on raw NOR flash, one record per page.
//
// The slot for id i is (i mod capacity). A slot is valid for id i only if the
// id stored in it equals i, so no separate "written" flag exists. A block is
// always erased right before the first page of it is programmed, which keeps
// the newest data contiguous and lets Recover find the head with a bounded
// number of reads.
//
// A Store is owned by a single scheduler task and is not safe for concurrent
// use.
package logstore

import (
	"bytes"
	"encoding/binary"

	"fieldnode-go/drivers/bkp"
	"fieldnode-go/drivers/flash"
	"fieldnode-go/errcode"
	"fieldnode-go/services/metrics"
	"fieldnode-go/types"

	logger "github.com/sirupsen/logrus"
)

var log = logger.WithField("svc", "logstore")

// Geometry places the log inside a flash device. Base and Size must be
// multiples of the device block size; PageSize is the record slot size.
type Geometry struct {
	Base     uint32
	Size     uint32
	PageSize uint32
}

// LogCursor is the write head and the oldest retained id.
type LogCursor struct {
	NextID   uint32
	OldestID uint32
}

type Store struct {
	dev  flash.Device
	regs bkp.Registers

	base     uint32
	size     uint32
	page     uint32
	block    uint32
	capacity uint32
	perBlock uint32

	cur       LogCursor
	recovered bool
	erasing   bool
	eraseAt   uint32

	// Fixed page buffers to avoid per-call heap allocations.
	buf    []byte
	verify []byte
	idBuf  [4]byte
}

// New validates g against dev and returns a store whose cursor is not yet
// known; call Recover before the first Append.
func New(dev flash.Device, regs bkp.Registers, g Geometry) (*Store, error) {
	const op = "logstore.New"
	if dev == nil || regs == nil {
		return nil, errcode.New(errcode.InvalidParams, op, "flash device and registers are required")
	}
	if g.PageSize == 0 {
		g.PageSize = dev.PageSize()
	}
	if g.Size == 0 {
		g.Size = dev.Size() - g.Base
	}
	block := dev.BlockSize()
	devPage := dev.PageSize()
	switch {
	case g.PageSize < CoreSize:
		return nil, errcode.New(errcode.InvalidParams, op, "page size smaller than a record")
	case block%g.PageSize != 0:
		return nil, errcode.New(errcode.InvalidParams, op, "page size must divide block size")
	case g.PageSize%devPage != 0 && devPage%g.PageSize != 0:
		return nil, errcode.New(errcode.InvalidParams, op, "page size incompatible with device page")
	case g.Base%block != 0 || g.Size%block != 0:
		return nil, errcode.New(errcode.InvalidParams, op, "region must be block aligned")
	case g.Size < 2*block:
		return nil, errcode.New(errcode.InvalidParams, op, "region must span at least two blocks")
	case uint64(g.Base)+uint64(g.Size) > uint64(dev.Size()):
		return nil, errcode.New(errcode.OutOfRange, op, "region exceeds device")
	}
	return &Store{
		dev:      dev,
		regs:     regs,
		base:     g.Base,
		size:     g.Size,
		page:     g.PageSize,
		block:    block,
		capacity: g.Size / g.PageSize,
		perBlock: block / g.PageSize,
		buf:      make([]byte, g.PageSize),
		verify:   make([]byte, g.PageSize),
	}, nil
}

// Introspection.
func (s *Store) Capacity() uint32      { return s.capacity }
func (s *Store) PagesPerBlock() uint32 { return s.perBlock }
func (s *Store) Cursor() LogCursor     { return s.cur }
func (s *Store) Erasing() bool         { return s.erasing }

// CountAvailable returns how many ids are retained: min(next-oldest, capacity).
func (s *Store) CountAvailable() uint32 {
	n := s.cur.NextID - s.cur.OldestID
	if n > s.capacity {
		return s.capacity
	}
	return n
}

// Append stamps rec with the next id and its sensor CRC and writes it.
// On error the cursor is unchanged, so the next call retries the same slot.
func (s *Store) Append(rec *Record) error {
	const op = "logstore.Append"
	switch {
	case s.erasing:
		return errcode.New(errcode.Busy, op, "erase in progress")
	case !s.recovered:
		return errcode.New(errcode.InvalidParams, op, "cursor not recovered")
	case int(rec.Sensor.DataSize) > types.MaxSensorData:
		return errcode.New(errcode.InvalidParams, op, "sensor data too large")
	case s.cur.NextID == emptyID:
		return errcode.New(errcode.OutOfRange, op, "id space exhausted")
	}

	// A failed or torn program leaves its slot dirty; NOR cannot program it
	// again before the block is erased, so that id is skipped.
	id := s.cur.NextID
	for id%s.perBlock != 0 && id != emptyID {
		blank, err := s.slotBlank(id % s.capacity)
		if err != nil {
			metrics.StoreAppendFailures.Inc()
			return errcode.Wrap(errcode.FlashRead, op, err)
		}
		if blank {
			break
		}
		log.WithField("id", id).Warn("slot not blank, skipping id")
		id++
	}
	if id == emptyID {
		return errcode.New(errcode.OutOfRange, op, "id space exhausted")
	}
	slot := id % s.capacity
	addr := s.base + slot*s.page
	oldest := s.cur.OldestID

	if slot%s.perBlock == 0 {
		if err := s.dev.EraseBlock(addr); err != nil {
			metrics.StoreAppendFailures.Inc()
			log.WithField("id", id).WithError(err).Error("block erase failed")
			return errcode.Wrap(errcode.FlashErase, op, err)
		}
		oldest = s.oldestAfterErase(id)
	}

	rec.ID = id
	rec.CRC = rec.SensorCRC()
	if rec.ProtocolVersion == 0 {
		rec.ProtocolVersion = ProtocolVersion
	}
	rec.MarshalPage(s.buf)

	if err := s.programPage(addr, s.buf); err != nil {
		metrics.StoreAppendFailures.Inc()
		log.WithField("id", id).WithError(err).Error("page program failed")
		return errcode.Wrap(errcode.FlashProgram, op, err)
	}

	s.cur = LogCursor{NextID: id + 1, OldestID: oldest}
	s.persistCursor()
	metrics.StoreAppends.Inc()
	log.WithField("id", id).WithField("slot", rec.Sensor.Slot).Debug("record appended")
	return nil
}

// Read returns the record with id. A slot holding any other id (stale,
// overwritten, erased) is NotFound; a failing sensor CRC is CrcMismatch.
func (s *Store) Read(id uint32) (Record, error) {
	const op = "logstore.Read"
	if id == emptyID {
		return Record{}, errcode.NotFound
	}
	if err := s.dev.ReadAt(s.buf, s.slotAddr(id)); err != nil {
		return Record{}, errcode.Wrap(errcode.FlashRead, op, err)
	}
	rec, _ := DecodeRecord(s.buf)
	if rec.ID != id {
		return Record{}, errcode.NotFound
	}
	if int(rec.Sensor.DataSize) > types.MaxSensorData || rec.CRC != rec.SensorCRC() {
		return Record{}, errcode.CrcMismatch
	}
	return rec, nil
}

// Latest returns the most recently appended record.
func (s *Store) Latest() (Record, error) {
	if s.cur.NextID == 0 {
		return Record{}, errcode.NotFound
	}
	return s.Read(s.cur.NextID - 1)
}

// Range calls fn for each readable retained record with id >= from, oldest
// first, until fn returns false. Absent or corrupt records are skipped.
func (s *Store) Range(from uint32, fn func(Record) bool) error {
	start := from
	if start < s.cur.OldestID {
		start = s.cur.OldestID
	}
	for id := start; id < s.cur.NextID; id++ {
		rec, err := s.Read(id)
		switch errcode.Of(err) {
		case errcode.OK:
			if !fn(rec) {
				return nil
			}
		case errcode.NotFound, errcode.CrcMismatch:
			continue
		default:
			return err
		}
	}
	return nil
}

func (s *Store) slotAddr(id uint32) uint32 {
	return s.base + (id%s.capacity)*s.page
}

// oldestAfterErase is the oldest retained id once the block holding the slot
// of id has been erased for it.
func (s *Store) oldestAfterErase(id uint32) uint32 {
	if uint64(id)+uint64(s.perBlock) <= uint64(s.capacity) {
		return s.cur.OldestID
	}
	o := id + s.perBlock - s.capacity
	if o < s.cur.OldestID {
		return s.cur.OldestID
	}
	return o
}

// oldestFor derives the oldest retained id from the write head alone: the
// block of the last written id was erased when its first page was written.
func (s *Store) oldestFor(next uint32) uint32 {
	if next == 0 {
		return 0
	}
	last := next - 1
	e := last - last%s.perBlock
	if uint64(e)+uint64(s.perBlock) <= uint64(s.capacity) {
		return 0
	}
	return e + s.perBlock - s.capacity
}

// programPage writes p at addr in device-page chunks and verifies it.
func (s *Store) programPage(addr uint32, p []byte) error {
	devPage := s.dev.PageSize()
	for off := uint32(0); off < uint32(len(p)); {
		n := devPage - (addr+off)%devPage
		if rem := uint32(len(p)) - off; n > rem {
			n = rem
		}
		if err := s.dev.Program(addr+off, p[off:off+n]); err != nil {
			return err
		}
		off += n
	}
	v := s.verify[:len(p)]
	if err := s.dev.ReadAt(v, addr); err != nil {
		return err
	}
	if !bytes.Equal(v, p) {
		return flash.ErrProgramFail
	}
	return nil
}

// slotBlank reports whether slot reads fully erased.
func (s *Store) slotBlank(slot uint32) (bool, error) {
	if err := s.dev.ReadAt(s.verify, s.base+slot*s.page); err != nil {
		return false, err
	}
	for _, b := range s.verify {
		if b != flash.Erased {
			return false, nil
		}
	}
	return true, nil
}

// idAt reads only the id field of slot.
func (s *Store) idAt(slot uint32) (uint32, error) {
	if err := s.dev.ReadAt(s.idBuf[:], s.base+slot*s.page); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(s.idBuf[:]), nil
}

func (s *Store) persistCursor() {
	s.regs.Write(bkp.RegNextID, s.cur.NextID)
	s.regs.Write(bkp.RegOldestID, s.cur.OldestID)
	metrics.StoreAvailable.Set(float64(s.CountAvailable()))
}
