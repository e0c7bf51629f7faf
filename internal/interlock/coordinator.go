// Package interlock sequences actuation of paired (airlock) access
// points: the two halves of a pair are never open at the same instant,
// and reopening after a close respects a configured minimum delay.
package interlock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"portaria.org/internal/obs"
	"portaria.org/internal/retry"
)

// Phase is the position of a pair in its actuation cycle.
type Phase string

const (
	PhaseIdle    Phase = "idle"
	PhaseOpening Phase = "opening"
	PhaseOpen    Phase = "open"
	PhaseClosing Phase = "closing"
	PhaseDelay   Phase = "delay"
)

var (
	// ErrBusyTimeout is returned when a caller's deadline elapses while
	// its request is still queued behind the pair.
	ErrBusyTimeout = errors.New("interlock: busy timeout waiting for pair")
	// ErrActuatorTimeout is returned when the actuator does not
	// acknowledge a command in time, after the single internal retry.
	ErrActuatorTimeout = errors.New("interlock: actuator acknowledgement timeout")
	// ErrNotOpen is returned by ConfirmClosed when the point does not
	// currently hold its pair open.
	ErrNotOpen = errors.New("interlock: point is not open")
)

// PairResolver reports the partner of a paired point. It must be cheap:
// it runs on every request.
type PairResolver func(pointID string) (partnerID string, ok bool)

// Ticket acknowledges that an open command was accepted by the actuator.
type Ticket struct {
	PointID    string    `json:"point_id"`
	PairKey    string    `json:"pair_key,omitempty"`
	AcceptedAt time.Time `json:"accepted_at"`
}

// Config bounds the coordinator's waits.
type Config struct {
	AckTimeout     time.Duration // per actuator command attempt
	InterDoorDelay time.Duration // idle gap after a close before the pair reopens
	RetryDelay     time.Duration // pause before the single internal retry
}

func (c Config) normalized() Config {
	if c.AckTimeout <= 0 {
		c.AckTimeout = 3 * time.Second
	}
	if c.InterDoorDelay <= 0 {
		c.InterDoorDelay = 2 * time.Second
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 100 * time.Millisecond
	}
	return c
}

// Coordinator serializes actuation per airlock pair. Non-paired points
// pass straight through to the gateway.
type Coordinator struct {
	gw     Gateway
	pairOf PairResolver
	cfg    Config

	mu    sync.Mutex
	pairs map[string]*pairState
}

type waiter struct {
	point   string
	ready   chan struct{}
	granted bool
}

// pairState is guarded by its own mutex; the queue is strict FIFO
// across both halves.
type pairState struct {
	mu     sync.Mutex
	key    string
	phase  Phase
	holder string
	queue  []*waiter
}

// New creates a coordinator over the given gateway. pairOf resolves the
// partner of a paired point and may be nil when no pairs exist.
func New(gw Gateway, pairOf PairResolver, cfg Config) *Coordinator {
	if pairOf == nil {
		pairOf = func(string) (string, bool) { return "", false }
	}
	return &Coordinator{
		gw:     gw,
		pairOf: pairOf,
		cfg:    cfg.normalized(),
		pairs:  make(map[string]*pairState),
	}
}

func pairKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + "|" + b
}

func (c *Coordinator) pair(pointID, partnerID string) *pairState {
	key := pairKey(pointID, partnerID)
	c.mu.Lock()
	defer c.mu.Unlock()
	ps, ok := c.pairs[key]
	if !ok {
		ps = &pairState{key: key, phase: PhaseIdle}
		c.pairs[key] = ps
	}
	return ps
}

// RequestOpen asks for the point to be released. For a paired point the
// request takes its turn in the pair's FIFO queue; the caller's context
// deadline bounds the wait. The returned Ticket means the actuator
// accepted the command, not that the passage completed.
func (c *Coordinator) RequestOpen(ctx context.Context, pointID string) (Ticket, error) {
	partner, paired := c.pairOf(pointID)
	if !paired {
		if err := c.actuate(ctx, "open", pointID); err != nil {
			return Ticket{}, err
		}
		return Ticket{PointID: pointID, AcceptedAt: time.Now().UTC()}, nil
	}

	ps := c.pair(pointID, partner)

	ps.mu.Lock()
	if ps.phase == PhaseIdle && len(ps.queue) == 0 {
		ps.phase = PhaseOpening
		ps.holder = pointID
		ps.mu.Unlock()
	} else {
		w := &waiter{point: pointID, ready: make(chan struct{})}
		ps.queue = append(ps.queue, w)
		obs.SetInterlockQueueDepth(ps.key, len(ps.queue))
		ps.mu.Unlock()

		select {
		case <-w.ready:
			// Hand-off: the releaser already moved the pair to
			// opening with this point as holder.
		case <-ctx.Done():
			ps.mu.Lock()
			if w.granted {
				// Granted while the caller was giving up; hand the
				// slot straight to the next waiter.
				c.releaseLocked(ps)
			} else {
				for i, q := range ps.queue {
					if q == w {
						ps.queue = append(ps.queue[:i], ps.queue[i+1:]...)
						break
					}
				}
				obs.SetInterlockQueueDepth(ps.key, len(ps.queue))
			}
			ps.mu.Unlock()
			return Ticket{}, ErrBusyTimeout
		}
	}

	if err := c.actuate(ctx, "open", pointID); err != nil {
		ps.mu.Lock()
		c.releaseLocked(ps)
		ps.mu.Unlock()
		return Ticket{}, err
	}

	ps.mu.Lock()
	ps.phase = PhaseOpen
	ps.mu.Unlock()
	return Ticket{PointID: pointID, PairKey: ps.key, AcceptedAt: time.Now().UTC()}, nil
}

// ConfirmClosed records that the point's door is physically closed
// again, commands the actuator to re-lock, and schedules the inter-door
// delay after which the pair returns to idle and the next queued request
// proceeds.
func (c *Coordinator) ConfirmClosed(ctx context.Context, pointID string) error {
	partner, paired := c.pairOf(pointID)
	if !paired {
		return c.actuate(ctx, "close", pointID)
	}

	ps := c.pair(pointID, partner)

	ps.mu.Lock()
	if ps.phase != PhaseOpen || ps.holder != pointID {
		ps.mu.Unlock()
		return ErrNotOpen
	}
	ps.phase = PhaseClosing
	ps.mu.Unlock()

	// A close failure is surfaced but never wedges the pair: the delay
	// still runs and the pair returns to idle.
	closeErr := c.actuate(ctx, "close", pointID)

	ps.mu.Lock()
	ps.phase = PhaseDelay
	ps.mu.Unlock()

	time.AfterFunc(c.cfg.InterDoorDelay, func() {
		ps.mu.Lock()
		if ps.phase == PhaseDelay {
			c.releaseLocked(ps)
		}
		ps.mu.Unlock()
	})

	return closeErr
}

// PhaseOf reports the pair's current phase; non-paired points are
// always idle.
func (c *Coordinator) PhaseOf(pointID string) Phase {
	partner, paired := c.pairOf(pointID)
	if !paired {
		return PhaseIdle
	}
	ps := c.pair(pointID, partner)
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.phase
}

// QueueLen reports how many requests wait behind the point's pair.
func (c *Coordinator) QueueLen(pointID string) int {
	partner, paired := c.pairOf(pointID)
	if !paired {
		return 0
	}
	ps := c.pair(pointID, partner)
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return len(ps.queue)
}

// releaseLocked hands the pair to the next queued waiter or returns it
// to idle. Callers hold ps.mu.
func (c *Coordinator) releaseLocked(ps *pairState) {
	if len(ps.queue) > 0 {
		w := ps.queue[0]
		ps.queue = ps.queue[1:]
		ps.phase = PhaseOpening
		ps.holder = w.point
		w.granted = true
		close(w.ready)
	} else {
		ps.phase = PhaseIdle
		ps.holder = ""
	}
	obs.SetInterlockQueueDepth(ps.key, len(ps.queue))
}

// actuate sends one gateway command with a bounded acknowledgement wait
// and a single internal retry.
func (c *Coordinator) actuate(ctx context.Context, command, pointID string) error {
	start := time.Now()
	defer func() { obs.ObserveActuatorCommand(command, time.Since(start)) }()

	err := retry.Do(ctx, retry.Policy{Attempts: 2, BaseDelay: c.cfg.RetryDelay}, func(ctx context.Context) error {
		attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.AckTimeout)
		defer cancel()
		if command == "close" {
			return c.gw.Close(attemptCtx, pointID)
		}
		return c.gw.Open(attemptCtx, pointID)
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return ErrActuatorTimeout
	case errors.Is(err, ErrGatewayFault):
		return err
	default:
		return fmt.Errorf("%w: %v", ErrGatewayFault, err)
	}
}
