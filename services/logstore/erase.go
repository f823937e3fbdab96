package logstore

import (
	"fieldnode-go/errcode"
	"fieldnode-go/x/mathx"
)

// Progress of a stepwise full erase.
type Progress struct {
	Block  uint32 // blocks erased so far
	Blocks uint32 // blocks in the region
}

func (p Progress) Done() bool { return p.Block >= p.Blocks }

// Percent is the completed share, 0..100.
func (p Progress) Percent() uint8 { return mathx.Percent(p.Block, p.Blocks) }

// EraseStep erases the next block of a full erase and reports progress.
// The first call starts the erase; Append and Recover report Busy until
// the last block is done, at which point the cursor is reset to empty.
// A failed block is retried by the next call.
func (s *Store) EraseStep() (Progress, error) {
	const op = "logstore.EraseStep"
	blocks := s.size / s.block
	if !s.erasing {
		s.erasing = true
		s.eraseAt = 0
		log.WithField("blocks", blocks).Info("full erase started")
	}
	addr := s.base + s.eraseAt*s.block
	if err := s.dev.EraseBlock(addr); err != nil {
		return Progress{Block: s.eraseAt, Blocks: blocks}, errcode.Wrap(errcode.FlashErase, op, err)
	}
	s.eraseAt++
	p := Progress{Block: s.eraseAt, Blocks: blocks}
	if p.Done() {
		s.erasing = false
		s.cur = LogCursor{}
		s.recovered = true
		s.persistCursor()
		log.Info("full erase finished")
	}
	return p, nil
}

// AbortErase abandons a full erase that EraseStep could not finish and
// rebuilds the cursor from what the flash now holds, so Append and Recover
// stop reporting Busy.
func (s *Store) AbortErase() (RecoveredCursor, error) {
	if s.erasing {
		log.WithField("block", s.eraseAt).Warn("full erase abandoned")
	}
	s.erasing = false
	s.recovered = false
	return s.Recover()
}

// EraseAll runs EraseStep to completion, calling progress after each block
// when it is non-nil. A failed block abandons the erase.
func (s *Store) EraseAll(progress func(Progress)) error {
	for {
		p, err := s.EraseStep()
		if err != nil {
			if _, rerr := s.AbortErase(); rerr != nil {
				log.WithError(rerr).Error("recovery after failed erase")
			}
			return err
		}
		if progress != nil {
			progress(p)
		}
		if p.Done() {
			return nil
		}
	}
}
