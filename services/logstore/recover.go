package logstore

import (
	"fieldnode-go/drivers/bkp"
	"fieldnode-go/errcode"
	"fieldnode-go/services/metrics"
)

// RecoverySource says how the cursor was established at boot.
type RecoverySource uint8

const (
	SourceCache RecoverySource = iota // backup registers agreed with flash
	SourceScan                        // registers missing or stale; flash was searched
	SourceEmpty                       // no record found
)

func (s RecoverySource) String() string {
	switch s {
	case SourceCache:
		return "cache"
	case SourceScan:
		return "scan"
	case SourceEmpty:
		return "empty"
	default:
		return "unknown"
	}
}

// RecoveredCursor is the result of Recover.
type RecoveredCursor struct {
	NextID   uint32
	OldestID uint32
	Source   RecoverySource
	Probes   int // flash reads spent
}

// Recover establishes the cursor from the backup registers when flash
// confirms them, and otherwise by searching flash in O(log C + B) reads.
// Running it again with or without the registers yields the same cursor.
func (s *Store) Recover() (RecoveredCursor, error) {
	const op = "logstore.Recover"
	if s.erasing {
		return RecoveredCursor{}, errcode.New(errcode.Busy, op, "erase in progress")
	}
	p := prober{s: s}

	var (
		next uint32
		src  RecoverySource
	)
	cached := s.regs.Read(bkp.RegNextID)
	if p.cacheTrusted(cached) {
		next, src = cached, SourceCache
	} else {
		next, src = p.scan(), SourceScan
	}
	next = p.skipTorn(next)
	if next == 0 {
		src = SourceEmpty
	}
	oldest := s.oldestFor(next)
	if o := p.erasedHead(next); o > oldest {
		oldest = o
	}
	if p.err != nil {
		return RecoveredCursor{}, errcode.Wrap(errcode.FlashRead, op, p.err)
	}

	s.cur = LogCursor{NextID: next, OldestID: oldest}
	s.recovered = true
	s.persistCursor()
	metrics.StoreRecoveries.WithLabelValues(src.String()).Inc()

	rc := RecoveredCursor{NextID: next, OldestID: oldest, Source: src, Probes: p.n}
	log.WithField("next", next).
		WithField("oldest", oldest).
		WithField("source", src.String()).
		WithField("probes", p.n).
		Info("cursor recovered")
	return rc, nil
}

// prober wraps slot reads for the recovery search, counting them and
// remembering the first error so the search itself stays branch-light.
type prober struct {
	s   *Store
	n   int
	err error
}

// id returns the id stored in slot and whether it belongs there.
func (p *prober) id(slot uint32) (uint32, bool) {
	if p.err != nil {
		return emptyID, false
	}
	p.n++
	id, err := p.s.idAt(slot)
	if err != nil {
		p.err = err
		return emptyID, false
	}
	return id, id != emptyID && id%p.s.capacity == slot
}

func (p *prober) blank(slot uint32) bool {
	if p.err != nil {
		return false
	}
	p.n++
	ok, err := p.s.slotBlank(slot)
	if err != nil {
		p.err = err
	}
	return ok
}

// cacheTrusted confirms a cached write head: the slot before it must hold
// next-1 and the head slot must not already hold next.
func (p *prober) cacheTrusted(next uint32) bool {
	c := p.s.capacity
	if next == emptyID {
		return false
	}
	if next == 0 {
		// A cleared register reads 0; only trust it for an empty log.
		_, v0 := p.id(0)
		_, vl := p.id(c - 1)
		return !v0 && !vl && p.blank(0)
	}
	if id, ok := p.id((next - 1) % c); !ok || id != next-1 {
		return false
	}
	if id, ok := p.id(next % c); ok && id == next {
		return false
	}
	return true
}

// scan finds the write head from flash alone.
func (p *prober) scan() uint32 {
	c := p.s.capacity
	first, firstOK := p.id(0)
	last, lastOK := p.id(c - 1)

	switch {
	case !firstOK && !lastOK:
		// Either empty or the last block holds a torn tail.
		if h, ok := p.highestInTail(); ok {
			return h + 1
		}
		return 0
	case !firstOK:
		// Block 0 was erased for a wrap that never completed.
		return last + 1
	}

	top := p.searchRotation(first)
	highest, _ := p.id(top)
	return p.scanForward(top, highest) + 1
}

// searchRotation returns the last slot still written in the same pass as
// slot 0. Slots [0, k] hold first..first+k; later slots hold older ids or
// nothing, so the predicate is monotone.
func (p *prober) searchRotation(first uint32) uint32 {
	c := p.s.capacity
	same := func(slot uint32) bool {
		id, ok := p.id(slot)
		return ok && id >= first && id-first < c
	}
	lo, hi := uint32(0), c-1
	for lo < hi {
		mid := lo + (hi-lo+1)/2
		if same(mid) {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return lo
}

// scanForward checks up to one block past top for newer ids the search
// could have stepped over.
func (p *prober) scanForward(top, highest uint32) uint32 {
	c := p.s.capacity
	for i := uint32(1); i <= p.s.perBlock && top+i < c; i++ {
		id, ok := p.id(top + i)
		if ok && id > highest && id-highest <= p.s.perBlock {
			highest = id
		}
	}
	return highest
}

// highestInTail looks at the last block for the newest valid id.
func (p *prober) highestInTail() (uint32, bool) {
	c := p.s.capacity
	var (
		best  uint32
		found bool
	)
	for slot := c - p.s.perBlock; slot < c; slot++ {
		id, ok := p.id(slot)
		if ok && (!found || id > best) {
			best, found = id, true
		}
	}
	return best, found
}

// skipTorn advances past head slots left non-blank by an interrupted
// program. Block-start slots are erased on append and need no skip.
func (p *prober) skipTorn(next uint32) uint32 {
	for i := uint32(0); i < p.s.perBlock; i++ {
		if next%p.s.perBlock == 0 || p.blank(next%p.s.capacity) {
			return next
		}
		log.WithField("id", next).Warn("skipping partially programmed slot")
		next++
	}
	return next
}

// erasedHead detects a block erased for next whose program never happened.
// The ids it held are gone even though the head did not move.
func (p *prober) erasedHead(next uint32) uint32 {
	c := p.s.capacity
	if next < c || next%p.s.perBlock != 0 {
		return 0
	}
	if _, ok := p.id(next % c); ok {
		return 0
	}
	return next + p.s.perBlock - c
}
