package interlock

import (
	"context"
	"errors"
	"sync"
)

// Gateway is the abstract actuator interface. The core never speaks the
// hardware wire protocol; a driver process adapts this to whatever the
// controllers understand.
type Gateway interface {
	// Open commands the point's actuator to release. A nil return means
	// the command was acknowledged, not that the passage completed.
	Open(ctx context.Context, pointID string) error
	// Close commands the actuator to re-lock.
	Close(ctx context.Context, pointID string) error
	// Ping reports the actuator's operational status.
	Ping(ctx context.Context, pointID string) (string, error)
}

// ErrGatewayFault is returned by gateways for hard actuator failures.
var ErrGatewayFault = errors.New("interlock: actuator fault")

// Loopback is an in-process gateway for development and tests. It
// acknowledges every command immediately and tracks which points are
// currently released.
type Loopback struct {
	mu   sync.Mutex
	open map[string]bool

	// OpenErr and CloseErr, when set, are returned by the next matching
	// command. Tests use them to simulate faults.
	OpenErr  error
	CloseErr error
}

// NewLoopback creates a loopback gateway.
func NewLoopback() *Loopback {
	return &Loopback{open: make(map[string]bool)}
}

func (g *Loopback) Open(ctx context.Context, pointID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.OpenErr != nil {
		return g.OpenErr
	}
	g.open[pointID] = true
	return nil
}

func (g *Loopback) Close(ctx context.Context, pointID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.CloseErr != nil {
		return g.CloseErr
	}
	g.open[pointID] = false
	return nil
}

func (g *Loopback) Ping(ctx context.Context, pointID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return "online", nil
}

// IsOpen reports whether the point is currently released.
func (g *Loopback) IsOpen(pointID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.open[pointID]
}
