package logstore

import (
	"errors"
	"testing"

	"fieldnode-go/drivers/bkp"
	"fieldnode-go/drivers/flash"
	"fieldnode-go/errcode"

	"github.com/stretchr/testify/require"
)

var (
	// 16 slots, 4 per block.
	geomBlocks = flash.Geometry{Size: 1024, PageSize: 64, BlockSize: 256}
	// 4 slots, erase block == page.
	geomPages = flash.Geometry{Size: 256, PageSize: 64, BlockSize: 64}
)

type rig struct {
	st   *Store
	dev  *flash.Mem
	regs *bkp.Mem
}

func newRig(t *testing.T, g flash.Geometry) rig {
	t.Helper()
	dev, err := flash.NewMem(g)
	require.NoError(t, err)
	regs := bkp.NewMem()
	st, err := New(dev, regs, Geometry{})
	require.NoError(t, err)
	_, err = st.Recover()
	require.NoError(t, err)
	return rig{st: st, dev: dev, regs: regs}
}

// reboot rebuilds the store over the same flash and registers.
func (r *rig) reboot(t *testing.T) RecoveredCursor {
	t.Helper()
	st, err := New(r.dev, r.regs, Geometry{})
	require.NoError(t, err)
	rc, err := st.Recover()
	require.NoError(t, err)
	r.st = st
	return rc
}

func sample(slot uint8, n uint8) Record {
	r := Record{Timestamp: 1_700_000_000 + uint32(slot)}
	r.Sensor.Slot = slot
	r.Sensor.TypeID = 0x0101
	r.Sensor.ProtocolID = 1
	r.Sensor.DataSize = n
	for i := uint8(0); i < n; i++ {
		r.Sensor.Data[i] = i + slot + 1
	}
	r.Base.MessageType = MsgMeasurement
	r.Base.BatteryEOS = 87
	return r
}

func (r *rig) appendN(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		rec := sample(uint8(i%6), 4)
		require.NoError(t, r.st.Append(&rec))
	}
}

func TestCRC16CheckValue(t *testing.T) {
	require.Equal(t, uint16(0x29B1), CRC16([]byte("123456789")))
	require.Equal(t, uint16(0xFFFF), CRC16(nil))
}

func TestAppendReadRoundTrip(t *testing.T) {
	r := newRig(t, geomBlocks)
	rec := sample(2, 8)
	require.NoError(t, r.st.Append(&rec))
	require.Equal(t, uint32(0), rec.ID)

	got, err := r.st.Read(0)
	require.NoError(t, err)
	require.Equal(t, rec, got)
	require.Equal(t, uint8(ProtocolVersion), got.ProtocolVersion)
	require.Equal(t, CRC16(got.Sensor.Data[:8]), got.CRC)

	latest, err := r.st.Latest()
	require.NoError(t, err)
	require.Equal(t, got, latest)
	require.Equal(t, uint32(1), r.st.CountAvailable())
	require.Equal(t, uint32(1), r.regs.Read(bkp.RegNextID))
}

func TestReadAbsentIsNotFound(t *testing.T) {
	r := newRig(t, geomBlocks)
	_, err := r.st.Read(0)
	require.True(t, errors.Is(err, errcode.NotFound))
	_, err = r.st.Latest()
	require.True(t, errors.Is(err, errcode.NotFound))
}

func TestWrapEvictsOldest(t *testing.T) {
	r := newRig(t, geomPages)
	require.Equal(t, uint32(4), r.st.Capacity())
	r.appendN(t, 5)

	_, err := r.st.Read(0)
	require.True(t, errors.Is(err, errcode.NotFound))
	require.Equal(t, uint32(4), r.st.CountAvailable())

	id, err := r.st.idAt(0)
	require.NoError(t, err)
	require.Equal(t, uint32(4), id)

	for id := uint32(1); id <= 4; id++ {
		got, err := r.st.Read(id)
		require.NoError(t, err)
		require.Equal(t, id, got.ID)
	}
}

func TestCorruptPayloadIsCrcMismatch(t *testing.T) {
	r := newRig(t, geomBlocks)
	r.appendN(t, 2)
	r.dev.Corrupt(64+offData+1, 0x01)

	_, err := r.st.Read(1)
	require.True(t, errors.Is(err, errcode.CrcMismatch))
	_, err = r.st.Read(0)
	require.NoError(t, err)
}

func TestAppendRejectsOversizeData(t *testing.T) {
	r := newRig(t, geomBlocks)
	rec := sample(0, 0)
	rec.Sensor.DataSize = 37
	require.Equal(t, errcode.InvalidParams, errcode.Of(r.st.Append(&rec)))
	require.Equal(t, LogCursor{}, r.st.Cursor())
}

func TestAppendRequiresRecover(t *testing.T) {
	dev, err := flash.NewMem(geomBlocks)
	require.NoError(t, err)
	st, err := New(dev, bkp.NewMem(), Geometry{})
	require.NoError(t, err)
	rec := sample(0, 1)
	require.Equal(t, errcode.InvalidParams, errcode.Of(st.Append(&rec)))
}

func TestNewRejectsBadGeometry(t *testing.T) {
	dev, err := flash.NewMem(geomBlocks)
	require.NoError(t, err)
	regs := bkp.NewMem()

	_, err = New(dev, regs, Geometry{Size: 256})
	require.Equal(t, errcode.InvalidParams, errcode.Of(err), "single block")
	_, err = New(dev, regs, Geometry{PageSize: 32})
	require.Equal(t, errcode.InvalidParams, errcode.Of(err), "page below record size")
	_, err = New(dev, regs, Geometry{Base: 100})
	require.Equal(t, errcode.InvalidParams, errcode.Of(err), "unaligned base")
	_, err = New(dev, regs, Geometry{Base: 512, Size: 1024})
	require.Equal(t, errcode.OutOfRange, errcode.Of(err))
}

func TestRecoverEmptyLog(t *testing.T) {
	dev, err := flash.NewMem(flash.Geometry{Size: 100 * 64, PageSize: 64, BlockSize: 64})
	require.NoError(t, err)
	st, err := New(dev, bkp.NewMem(), Geometry{})
	require.NoError(t, err)
	rc, err := st.Recover()
	require.NoError(t, err)
	require.Equal(t, uint32(100), st.Capacity())
	require.Equal(t, SourceEmpty, rc.Source)
	require.Zero(t, rc.NextID)
	require.Zero(t, st.CountAvailable())
}

func TestRecoverIsIdempotent(t *testing.T) {
	r := newRig(t, geomBlocks)
	r.appendN(t, 7)
	want := r.st.Cursor()

	rc := r.reboot(t)
	require.Equal(t, SourceCache, rc.Source)
	require.Equal(t, want, r.st.Cursor())

	r.regs.PowerLoss()
	rc = r.reboot(t)
	require.Equal(t, SourceScan, rc.Source)
	require.Equal(t, want, r.st.Cursor())
	require.Equal(t, uint32(7), r.st.CountAvailable())

	rc = r.reboot(t)
	require.Equal(t, SourceCache, rc.Source)
	require.Equal(t, want, r.st.Cursor())

	rec := sample(0, 1)
	require.NoError(t, r.st.Append(&rec))
	require.Equal(t, uint32(7), rec.ID)
}

func TestScanMatchesCacheAtEveryHead(t *testing.T) {
	for n := 0; n <= 3*16+5; n++ {
		r := newRig(t, geomBlocks)
		r.appendN(t, n)
		want := r.st.Cursor()

		r.regs.PowerLoss()
		rc := r.reboot(t)
		require.Equal(t, want, r.st.Cursor(), "n=%d", n)
		require.Equal(t, want.NextID, rc.NextID)
		require.LessOrEqual(t, r.st.CountAvailable(), r.st.Capacity())
	}
}

func TestRecoverAfterSeveralWraps(t *testing.T) {
	r := newRig(t, geomBlocks)
	r.appendN(t, 37)
	r.regs.PowerLoss()
	rc := r.reboot(t)

	require.Equal(t, uint32(37), rc.NextID)
	require.Equal(t, uint32(24), rc.OldestID)
	require.Equal(t, uint32(13), r.st.CountAvailable())

	_, err := r.st.Read(23)
	require.True(t, errors.Is(err, errcode.NotFound))
	for _, id := range []uint32{24, 31, 36} {
		_, err := r.st.Read(id)
		require.NoError(t, err, "id %d", id)
	}
}

func TestRecoverSkipsTornPage(t *testing.T) {
	r := newRig(t, geomBlocks)
	r.appendN(t, 3)

	r.dev.TornProgram = func(uint32) int { return 1 }
	rec := sample(0, 4)
	require.Equal(t, errcode.FlashProgram, errcode.Of(r.st.Append(&rec)))
	require.Equal(t, uint32(3), r.st.Cursor().NextID)
	r.dev.TornProgram = nil

	rc := r.reboot(t)
	require.Equal(t, uint32(4), rc.NextID)

	r.regs.PowerLoss()
	rc = r.reboot(t)
	require.Equal(t, uint32(4), rc.NextID)
	_, err := r.st.Read(3)
	require.True(t, errors.Is(err, errcode.NotFound))

	rec = sample(1, 4)
	require.NoError(t, r.st.Append(&rec))
	require.Equal(t, uint32(4), rec.ID)
}

func TestRecoverAfterEraseWithoutProgram(t *testing.T) {
	r := newRig(t, geomBlocks)
	r.appendN(t, 16)
	require.Equal(t, uint32(16), r.st.CountAvailable())

	r.dev.FailProgram = func(uint32) error { return flash.ErrProgramFail }
	rec := sample(0, 4)
	require.Equal(t, errcode.FlashProgram, errcode.Of(r.st.Append(&rec)))
	require.Equal(t, uint32(2), r.dev.EraseCount(0))
	require.Equal(t, LogCursor{NextID: 16}, r.st.Cursor())
	r.dev.FailProgram = nil

	r.regs.PowerLoss()
	rc := r.reboot(t)
	require.Equal(t, uint32(16), rc.NextID)
	require.Equal(t, uint32(4), rc.OldestID)
	require.Equal(t, uint32(12), r.st.CountAvailable())

	require.NoError(t, r.st.Append(&rec))
	require.Equal(t, uint32(16), rec.ID)
}

func TestProgramFailureRetriesSameSlot(t *testing.T) {
	r := newRig(t, geomBlocks)
	r.appendN(t, 2)

	fail := true
	r.dev.FailProgram = func(uint32) error {
		if fail {
			return flash.ErrProgramFail
		}
		return nil
	}
	rec := sample(3, 4)
	err := r.st.Append(&rec)
	require.True(t, errors.Is(err, errcode.FlashProgram))
	require.Equal(t, uint32(2), r.regs.Read(bkp.RegNextID))

	fail = false
	require.NoError(t, r.st.Append(&rec))
	require.Equal(t, uint32(2), rec.ID)
	require.Equal(t, uint32(3), r.st.CountAvailable())
}

func TestTornProgramSkipsDirtySlot(t *testing.T) {
	r := newRig(t, geomBlocks)
	r.appendN(t, 1)

	torn := true
	r.dev.TornProgram = func(uint32) int {
		if torn {
			return 6
		}
		return -1
	}
	rec := sample(1, 4)
	err := r.st.Append(&rec)
	require.True(t, errors.Is(err, errcode.FlashProgram))
	require.Equal(t, uint32(1), r.st.Cursor().NextID)

	torn = false
	for want := uint32(2); want <= 4; want++ {
		rec := sample(2, 4)
		require.NoError(t, r.st.Append(&rec))
		require.Equal(t, want, rec.ID)
	}
	require.Equal(t, uint32(5), r.st.Cursor().NextID)

	_, err = r.st.Read(1)
	require.Error(t, err)
	got, err := r.st.Read(4)
	require.NoError(t, err)
	require.Equal(t, uint32(4), got.ID)

	rc := r.reboot(t)
	require.Equal(t, uint32(5), rc.NextID)
}

func TestEraseFailureLeavesCursor(t *testing.T) {
	r := newRig(t, geomBlocks)
	r.appendN(t, 4)
	r.dev.FailErase = func(uint32) error { return flash.ErrEraseFail }
	rec := sample(0, 1)
	require.Equal(t, errcode.FlashErase, errcode.Of(r.st.Append(&rec)))
	require.Equal(t, uint32(4), r.st.Cursor().NextID)
}

func TestEraseStepwise(t *testing.T) {
	r := newRig(t, geomBlocks)
	r.appendN(t, 5)

	var pct []uint8
	p, err := r.st.EraseStep()
	require.NoError(t, err)
	pct = append(pct, p.Percent())
	require.True(t, r.st.Erasing())

	rec := sample(0, 1)
	require.True(t, errors.Is(r.st.Append(&rec), errcode.Busy))
	_, err = r.st.Recover()
	require.True(t, errors.Is(err, errcode.Busy))

	for !p.Done() {
		p, err = r.st.EraseStep()
		require.NoError(t, err)
		pct = append(pct, p.Percent())
	}
	require.Equal(t, []uint8{25, 50, 75, 100}, pct)
	require.False(t, r.st.Erasing())
	require.Equal(t, LogCursor{}, r.st.Cursor())
	require.Zero(t, r.st.CountAvailable())

	_, err = r.st.Read(0)
	require.True(t, errors.Is(err, errcode.NotFound))
	require.NoError(t, r.st.Append(&rec))
	require.Equal(t, uint32(0), rec.ID)
}

func TestAbortEraseUnblocksAppend(t *testing.T) {
	r := newRig(t, geomBlocks)
	r.appendN(t, 5)
	r.dev.FailErase = func(addr uint32) error {
		if addr == 256 {
			return flash.ErrEraseFail
		}
		return nil
	}

	_, err := r.st.EraseStep()
	require.NoError(t, err)
	_, err = r.st.EraseStep()
	require.Equal(t, errcode.FlashErase, errcode.Of(err))
	require.True(t, r.st.Erasing())

	_, err = r.st.AbortErase()
	require.NoError(t, err)
	require.False(t, r.st.Erasing())

	r.dev.FailErase = nil
	rec := sample(1, 2)
	require.NoError(t, r.st.Append(&rec))
	got, err := r.st.Read(rec.ID)
	require.NoError(t, err)
	require.Equal(t, rec.ID, got.ID)
}

func TestEraseAllFailureIsNotSticky(t *testing.T) {
	r := newRig(t, geomBlocks)
	r.appendN(t, 2)
	r.dev.FailErase = func(uint32) error { return flash.ErrEraseFail }
	require.Equal(t, errcode.FlashErase, errcode.Of(r.st.EraseAll(nil)))
	require.False(t, r.st.Erasing())

	r.dev.FailErase = nil
	rec := sample(0, 1)
	require.NoError(t, r.st.Append(&rec))
	require.Equal(t, uint32(2), rec.ID)
}

func TestEraseAllReportsProgress(t *testing.T) {
	r := newRig(t, geomPages)
	r.appendN(t, 3)
	var calls int
	require.NoError(t, r.st.EraseAll(func(Progress) { calls++ }))
	require.Equal(t, 4, calls)

	rc := r.reboot(t)
	require.Equal(t, SourceEmpty, rc.Source)
}

func TestRangeVisitsRetainedInOrder(t *testing.T) {
	r := newRig(t, geomBlocks)
	r.appendN(t, 6)

	var ids []uint32
	require.NoError(t, r.st.Range(2, func(rec Record) bool {
		ids = append(ids, rec.ID)
		return true
	}))
	require.Equal(t, []uint32{2, 3, 4, 5}, ids)

	ids = ids[:0]
	require.NoError(t, r.st.Range(0, func(rec Record) bool {
		ids = append(ids, rec.ID)
		return len(ids) < 2
	}))
	require.Equal(t, []uint32{0, 1}, ids)
}
