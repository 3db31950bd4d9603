package replay

import (
	"context"
	"errors"
	"time"

	"github.com/banshee-data/cabreplay/internal/timeutil"
)

// pollInterval paces a zero-interval Player while a block is loading.
const pollInterval = time.Millisecond

// Player calls Advance on a timer until the session finishes. It is the
// auto-play policy; manual stepping calls Engine.Advance directly.
type Player struct {
	Engine *Engine
	Clock  timeutil.Clock

	// Interval is the wall time between blocks. Zero plays as fast as the
	// loads complete.
	Interval time.Duration
}

func (p *Player) clock() timeutil.Clock {
	if p.Clock == nil {
		return timeutil.RealClock{}
	}
	return p.Clock
}

// Run plays until the session is done, fails, or ctx is cancelled. A tick that
// finds a block still loading is skipped rather than queued.
func (p *Player) Run(ctx context.Context) error {
	if p.Interval <= 0 {
		return p.runUnpaced(ctx)
	}

	// The first block is applied as soon as it arrives, not a tick later.
	if err := p.awaitLoad(ctx); err != nil {
		return err
	}
	ticker := p.clock().NewTicker(p.Interval)
	defer ticker.Stop()
	for {
		if done, err := p.step(); done {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
		}
	}
}

func (p *Player) runUnpaced(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if done, err := p.step(); done {
			return err
		}
		if p.Engine.State() == StateLoadingBlock {
			p.clock().Sleep(pollInterval)
		}
	}
}

// awaitLoad polls until no block or index is loading.
func (p *Player) awaitLoad(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		switch p.Engine.State() {
		case StateLoadingBlock, StateLoadingIndex:
			p.clock().Sleep(pollInterval)
		default:
			return nil
		}
	}
}

// step advances once if the engine is ready. It reports done when playback
// can make no further progress.
func (p *Player) step() (bool, error) {
	switch p.Engine.State() {
	case StateReady:
		p.Engine.Advance()
		return false, nil
	case StateLoadingBlock, StateLoadingIndex:
		return false, nil
	case StateDone:
		return true, nil
	case StateError:
		return true, p.Engine.Err()
	}
	return true, errors.New("no session loaded")
}
