package interlock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// pairAB resolves the canonical two-door airlock used in these tests.
func pairAB(pointID string) (string, bool) {
	switch pointID {
	case "door-a":
		return "door-b", true
	case "door-b":
		return "door-a", true
	}
	return "", false
}

// checkedGateway records released points and flags any instant where
// both halves of the A/B pair are open.
type checkedGateway struct {
	mu        sync.Mutex
	open      map[string]bool
	violated  bool
	openCalls int
	openErrs  []error       // consumed one per Open call
	openDelay time.Duration // simulated actuator latency
}

func newCheckedGateway() *checkedGateway {
	return &checkedGateway{open: make(map[string]bool)}
}

func (g *checkedGateway) Open(ctx context.Context, pointID string) error {
	if g.openDelay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(g.openDelay):
		}
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.openCalls++
	if len(g.openErrs) > 0 {
		err := g.openErrs[0]
		g.openErrs = g.openErrs[1:]
		if err != nil {
			return err
		}
	}
	g.open[pointID] = true
	if g.open["door-a"] && g.open["door-b"] {
		g.violated = true
	}
	return nil
}

func (g *checkedGateway) Close(ctx context.Context, pointID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.open[pointID] = false
	return nil
}

func (g *checkedGateway) Ping(ctx context.Context, pointID string) (string, error) {
	return "online", nil
}

func (g *checkedGateway) bothOpenObserved() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.violated
}

func fastConfig() Config {
	return Config{
		AckTimeout:     200 * time.Millisecond,
		InterDoorDelay: 10 * time.Millisecond,
		RetryDelay:     time.Millisecond,
	}
}

func TestNonPairedPassThrough(t *testing.T) {
	gw := newCheckedGateway()
	c := New(gw, nil, fastConfig())

	ticket, err := c.RequestOpen(context.Background(), "turnstile-1")
	if err != nil {
		t.Fatalf("RequestOpen: %v", err)
	}
	if ticket.PointID != "turnstile-1" || ticket.PairKey != "" {
		t.Fatalf("unexpected ticket: %+v", ticket)
	}
	if c.PhaseOf("turnstile-1") != PhaseIdle {
		t.Fatal("non-paired point should not hold pair state")
	}
	if err := c.ConfirmClosed(context.Background(), "turnstile-1"); err != nil {
		t.Fatalf("ConfirmClosed: %v", err)
	}
}

func TestSecondHalfWaitsForCloseAndDelay(t *testing.T) {
	gw := newCheckedGateway()
	c := New(gw, pairAB, fastConfig())
	ctx := context.Background()

	if _, err := c.RequestOpen(ctx, "door-a"); err != nil {
		t.Fatalf("open A: %v", err)
	}
	if got := c.PhaseOf("door-a"); got != PhaseOpen {
		t.Fatalf("expected open phase, got %s", got)
	}

	closedAt := make(chan time.Time, 1)
	bOpened := make(chan time.Time, 1)
	go func() {
		reqCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if _, err := c.RequestOpen(reqCtx, "door-b"); err != nil {
			t.Errorf("open B: %v", err)
			close(bOpened)
			return
		}
		bOpened <- time.Now()
	}()

	// B must queue while A holds the pair.
	deadline := time.After(time.Second)
	for c.QueueLen("door-b") == 0 {
		select {
		case <-deadline:
			t.Fatal("B never queued")
		case <-time.After(time.Millisecond):
		}
	}

	if err := c.ConfirmClosed(ctx, "door-a"); err != nil {
		t.Fatalf("confirm closed A: %v", err)
	}
	closedAt <- time.Now()

	select {
	case opened, ok := <-bOpened:
		if !ok {
			t.Fatal("B request failed")
		}
		if waited := opened.Sub(<-closedAt); waited < c.cfg.InterDoorDelay {
			t.Fatalf("B proceeded after %v, before the %v inter-door delay", waited, c.cfg.InterDoorDelay)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("B never proceeded after A closed")
	}
	if gw.bothOpenObserved() {
		t.Fatal("both airlock doors were open at once")
	}
}

func TestBusyTimeoutLeavesQueueClean(t *testing.T) {
	gw := newCheckedGateway()
	c := New(gw, pairAB, fastConfig())
	ctx := context.Background()

	if _, err := c.RequestOpen(ctx, "door-a"); err != nil {
		t.Fatal(err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if _, err := c.RequestOpen(reqCtx, "door-b"); !errors.Is(err, ErrBusyTimeout) {
		t.Fatalf("expected ErrBusyTimeout, got %v", err)
	}
	if n := c.QueueLen("door-b"); n != 0 {
		t.Fatalf("abandoned request left in queue: %d", n)
	}

	// The pair is not wedged: after A closes, B can come through.
	if err := c.ConfirmClosed(ctx, "door-a"); err != nil {
		t.Fatal(err)
	}
	retryCtx, cancelRetry := context.WithTimeout(ctx, 2*time.Second)
	defer cancelRetry()
	if _, err := c.RequestOpen(retryCtx, "door-b"); err != nil {
		t.Fatalf("B after timeout: %v", err)
	}
}

func TestMutualExclusionUnderLoad(t *testing.T) {
	gw := newCheckedGateway()
	c := New(gw, pairAB, fastConfig())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		point := "door-a"
		if i%2 == 1 {
			point = "door-b"
		}
		wg.Add(1)
		go func(point string) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if _, err := c.RequestOpen(ctx, point); err != nil {
				t.Errorf("open %s: %v", point, err)
				return
			}
			time.Sleep(time.Millisecond)
			if err := c.ConfirmClosed(ctx, point); err != nil {
				t.Errorf("close %s: %v", point, err)
			}
		}(point)
	}
	wg.Wait()

	if gw.bothOpenObserved() {
		t.Fatal("both airlock doors were open at once")
	}
}

func TestTransientActuatorFailureRetriedOnce(t *testing.T) {
	gw := newCheckedGateway()
	gw.openErrs = []error{errors.New("controller reset")}
	c := New(gw, pairAB, fastConfig())

	if _, err := c.RequestOpen(context.Background(), "door-a"); err != nil {
		t.Fatalf("expected success after single retry, got %v", err)
	}
	if gw.openCalls != 2 {
		t.Fatalf("expected 2 open attempts, got %d", gw.openCalls)
	}
}

func TestPersistentActuatorFailureSurfacedAndReleased(t *testing.T) {
	gw := newCheckedGateway()
	gw.openErrs = []error{errors.New("fault"), errors.New("fault")}
	c := New(gw, pairAB, fastConfig())
	ctx := context.Background()

	if _, err := c.RequestOpen(ctx, "door-a"); !errors.Is(err, ErrGatewayFault) {
		t.Fatalf("expected ErrGatewayFault, got %v", err)
	}
	if got := c.PhaseOf("door-a"); got != PhaseIdle {
		t.Fatalf("pair should return to idle after failure, got %s", got)
	}
	// The failure did not poison the pair.
	if _, err := c.RequestOpen(ctx, "door-b"); err != nil {
		t.Fatalf("B after A's failure: %v", err)
	}
}

func TestActuatorAckTimeout(t *testing.T) {
	gw := newCheckedGateway()
	gw.openDelay = time.Second
	cfg := fastConfig()
	cfg.AckTimeout = 20 * time.Millisecond
	c := New(gw, pairAB, cfg)

	if _, err := c.RequestOpen(context.Background(), "door-a"); !errors.Is(err, ErrActuatorTimeout) {
		t.Fatalf("expected ErrActuatorTimeout, got %v", err)
	}
	if got := c.PhaseOf("door-a"); got != PhaseIdle {
		t.Fatalf("pair should return to idle after timeout, got %s", got)
	}
}

func TestConfirmClosedRequiresOpenHolder(t *testing.T) {
	gw := newCheckedGateway()
	c := New(gw, pairAB, fastConfig())
	ctx := context.Background()

	if err := c.ConfirmClosed(ctx, "door-a"); !errors.Is(err, ErrNotOpen) {
		t.Fatalf("expected ErrNotOpen, got %v", err)
	}
	if _, err := c.RequestOpen(ctx, "door-a"); err != nil {
		t.Fatal(err)
	}
	if err := c.ConfirmClosed(ctx, "door-b"); !errors.Is(err, ErrNotOpen) {
		t.Fatalf("only the holder may confirm close, got %v", err)
	}
}
