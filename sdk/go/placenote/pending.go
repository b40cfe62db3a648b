package placenote

import (
	"errors"

	"github.com/placenote/placenote/internal/core/engine"
)

var errAbandoned = errors.New("operation abandoned at shutdown")

// pending is the state kept behind a completion token. Deliveries run on the
// consumer goroutine only.
type pending struct {
	op       string
	saved    SavedFunc
	progress ProgressFunc
	list     ListFunc
	meta     MetadataFunc
	done     DoneFunc

	// last is the highest fraction reported so far. Written by the engine
	// goroutine that owns the transfer.
	last float64
	// finished is set once the terminal progress was delivered.
	finished bool
}

// advance clamps f so reported fractions never decrease.
func (p *pending) advance(f float64) float64 {
	if f < p.last {
		return p.last
	}
	p.last = f
	return f
}

func (p *pending) deliverSaved(mapID string, err error) {
	if p.saved != nil {
		p.saved(mapID, err)
		p.saved = nil
	}
}

func (p *pending) deliverProgress(completed, faulted bool, fraction float64) {
	if p.finished || p.progress == nil {
		return
	}
	if completed || faulted {
		p.finished = true
	}
	p.progress(completed, faulted, fraction)
}

func (p *pending) deliverList(maps []engine.MapInfo, err error) {
	if p.list != nil {
		p.list(maps, err)
		p.list = nil
	}
}

func (p *pending) deliverMetadata(meta engine.MapMetadata, err error) {
	if p.meta != nil {
		p.meta(meta, err)
		p.meta = nil
	}
}

func (p *pending) deliverDone(success bool, msg string) {
	if p.done != nil {
		p.done(success, msg)
		p.done = nil
	}
}

// abandon fails every callback that has not been resolved yet.
func (p *pending) abandon() {
	p.deliverSaved("", errAbandoned)
	p.deliverProgress(false, true, 0)
	p.deliverList(nil, errAbandoned)
	p.deliverMetadata(engine.MapMetadata{}, errAbandoned)
	p.deliverDone(false, errAbandoned.Error())
}
