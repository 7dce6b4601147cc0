// Package recognizer provides the transcriber slot pool. Backends are
// serialized engines; the pool leases them to concurrent callers and
// blocks acquisition when every slot is busy.
package recognizer

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Slot is one serialized transcription engine. A slot is used by at
// most one caller at a time; the pool enforces this.
type Slot interface {
	// Transcribe decodes the samples into text. Implementations may
	// assume exclusive access for the duration of the call.
	Transcribe(samples []float32, sampleRate int) (string, error)

	// Close releases slot-local resources.
	Close() error
}

// Backend constructs pool slots and owns any state shared between them
// (loaded models, clients).
type Backend interface {
	// NewSlot creates one slot budgeted to the given thread count.
	NewSlot(threads int) (Slot, error)

	// Name identifies the backend in logs and health output.
	Name() string

	// Close releases shared backend resources after all slots are
	// closed.
	Close() error
}

type poolSlot struct {
	slot  Slot
	inUse bool
}

// Pool is a fixed set of transcriber slots guarded by a mutex and a
// condition variable. Acquisition blocks when all slots are leased;
// inference runs without the lock so slots decode in parallel.
type Pool struct {
	mu    sync.Mutex
	cond  *sync.Cond
	slots []poolSlot

	backend Backend
	closed  bool
}

// NewPool creates poolSize slots, partitioning totalThreads across
// them. A slot construction failure closes every slot already created
// and fails the pool.
func NewPool(backend Backend, poolSize, totalThreads int) (*Pool, error) {
	if poolSize < 1 {
		poolSize = 1
	}
	threadsPerSlot := totalThreads / poolSize
	if threadsPerSlot < 1 {
		threadsPerSlot = 1
	}

	p := &Pool{
		backend: backend,
		slots:   make([]poolSlot, 0, poolSize),
	}
	p.cond = sync.NewCond(&p.mu)

	for i := 0; i < poolSize; i++ {
		s, err := backend.NewSlot(threadsPerSlot)
		if err != nil {
			for _, created := range p.slots {
				_ = created.slot.Close()
			}
			return nil, fmt.Errorf("recognizer: create slot %d: %w", i, err)
		}
		p.slots = append(p.slots, poolSlot{slot: s})
	}

	log.Info().
		Str("backend", backend.Name()).
		Int("poolSize", poolSize).
		Int("threadsPerSlot", threadsPerSlot).
		Msg("Recognizer pool initialized")
	return p, nil
}

// Size returns the number of slots.
func (p *Pool) Size() int {
	return len(p.slots)
}

// Transcribe leases a slot, decodes the samples and returns the
// whitespace-trimmed text. Empty input returns empty text without
// touching the pool. A transient backend failure is logged and yields
// empty text.
func (p *Pool) Transcribe(samples []float32, sampleRate int) string {
	if len(samples) == 0 {
		return ""
	}

	idx := p.acquire()
	if idx < 0 {
		return ""
	}
	slot := p.slots[idx].slot

	// Decode without the lock so slots run in parallel.
	start := time.Now()
	text, err := slot.Transcribe(samples, sampleRate)

	p.release(idx)

	if err != nil {
		log.Error().
			Err(err).
			Int("samples", len(samples)).
			Dur("elapsed", time.Since(start)).
			Msg("Transcription failed")
		return ""
	}
	return strings.TrimSpace(text)
}

func (p *Pool) anyInUseLocked() bool {
	for i := range p.slots {
		if p.slots[i].inUse {
			return true
		}
	}
	return false
}

// acquire blocks until a slot is free and returns its index, or -1 if
// the pool was closed while waiting.
func (p *Pool) acquire() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	for {
		if p.closed {
			return -1
		}
		for i := range p.slots {
			if !p.slots[i].inUse {
				p.slots[i].inUse = true
				return i
			}
		}
		p.cond.Wait()
	}
}

func (p *Pool) release(idx int) {
	p.mu.Lock()
	p.slots[idx].inUse = false
	p.mu.Unlock()
	p.cond.Broadcast()
}

// Close wakes all waiters, lets in-flight transcriptions finish, then
// closes every slot and the backend. Transcribe calls arriving after
// Close return empty text.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.cond.Broadcast()
	for p.anyInUseLocked() {
		p.cond.Wait()
	}
	p.mu.Unlock()

	var firstErr error
	for i := range p.slots {
		if err := p.slots[i].slot.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := p.backend.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
