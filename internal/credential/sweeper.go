package credential

import (
	"context"
	"log"
	"time"
)

// Sweeper periodically expires credentials whose end date has passed.
// Validation already expires lazily on read; the sweeper keeps the
// stored statuses honest for reporting even when a credential is never
// scanned again.
type Sweeper struct {
	svc      Service
	interval time.Duration
	logger   *log.Logger
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewSweeper creates a sweeper but does not start it.
func NewSweeper(svc Service, interval time.Duration, logger *log.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Sweeper{
		svc:      svc,
		interval: interval,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// Start begins the background loop. It runs an immediate sweep on
// startup, then repeats on the configured interval until ctx is
// cancelled or Stop is called.
func (s *Sweeper) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	go s.loop(ctx)
}

// Stop signals the sweeper to exit and waits for it to finish.
func (s *Sweeper) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	<-s.done
}

func (s *Sweeper) loop(ctx context.Context) {
	defer close(s.done)

	s.sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	expired, err := s.svc.ExpireDue(ctx, time.Now().UTC())
	if err != nil {
		if s.logger != nil {
			s.logger.Printf("credential sweep error: %v", err)
		}
		return
	}
	if expired > 0 && s.logger != nil {
		s.logger.Printf("credential sweep: expired %d credentials", expired)
	}
}
