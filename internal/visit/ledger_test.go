package visit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

var now = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

func TestHappyPathEntryToExit(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	v, err := s.Begin(ctx, "visitor-1", "visitor", "", "302-A", now)
	if err != nil {
		t.Fatal(err)
	}
	if v.State != StateAwaiting {
		t.Fatalf("expected awaiting, got %s", v.State)
	}

	v, err = s.Enter(ctx, v.ID, "social-door", now)
	if err != nil {
		t.Fatal(err)
	}
	if v.State != StateInProgress || v.EnteredAt == nil || v.EntryPointID != "social-door" {
		t.Fatalf("bad in_progress visit: %+v", v)
	}

	v, err = s.Finish(ctx, v.ID, "social-door", now.Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if v.State != StateFinished || v.ExitedAt == nil {
		t.Fatalf("bad finished visit: %+v", v)
	}
}

func TestDeniedIsTerminal(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	v, _ := s.Begin(ctx, "visitor-2", "visitor", "", "302-A", now)
	v, err := s.Deny(ctx, v.ID, "no_policy_configured", now)
	if err != nil {
		t.Fatal(err)
	}
	if v.State != StateDenied || v.DenialReason != "no_policy_configured" {
		t.Fatalf("bad denied visit: %+v", v)
	}

	if _, err := s.Enter(ctx, v.ID, "social-door", now); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if _, err := s.Deny(ctx, v.ID, "again", now); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("denied visit must not be re-denied, got %v", err)
	}
}

func TestExitWithoutEntry(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	v, _ := s.Begin(ctx, "visitor-3", "visitor", "", "302-A", now)
	if _, err := s.Finish(ctx, v.ID, "social-door", now); !errors.Is(err, ErrNoActiveVisit) {
		t.Fatalf("expected ErrNoActiveVisit, got %v", err)
	}
	got, _ := s.Get(ctx, v.ID)
	if got.State != StateAwaiting {
		t.Fatalf("failed exit must not mutate state, got %s", got.State)
	}
}

func TestFinishedVisitCannotReenter(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	v, _ := s.Begin(ctx, "visitor-4", "visitor", "", "302-A", now)
	if _, err := s.Enter(ctx, v.ID, "d", now); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Finish(ctx, v.ID, "d", now); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Enter(ctx, v.ID, "d", now); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if _, err := s.Finish(ctx, v.ID, "d", now); !errors.Is(err, ErrNoActiveVisit) {
		t.Fatalf("expected ErrNoActiveVisit, got %v", err)
	}
}

func TestInProgressForActor(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	if _, err := s.InProgressForActor(ctx, "visitor-5"); !errors.Is(err, ErrNoActiveVisit) {
		t.Fatalf("expected ErrNoActiveVisit, got %v", err)
	}
	v, _ := s.Begin(ctx, "visitor-5", "visitor", "", "302-A", now)
	if _, err := s.Enter(ctx, v.ID, "d", now); err != nil {
		t.Fatal(err)
	}
	open, err := s.InProgressForActor(ctx, "visitor-5")
	if err != nil {
		t.Fatal(err)
	}
	if open.ID != v.ID {
		t.Fatalf("resolved wrong visit")
	}
	if _, err := s.Finish(ctx, v.ID, "d", now); err != nil {
		t.Fatal(err)
	}
	if _, err := s.InProgressForActor(ctx, "visitor-5"); !errors.Is(err, ErrNoActiveVisit) {
		t.Fatalf("expected ErrNoActiveVisit after exit, got %v", err)
	}
}

func TestListByUnitAndState(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	a, _ := s.Begin(ctx, "v-1", "visitor", "", "101", now)
	_, _ = s.Enter(ctx, a.ID, "d", now)
	b, _ := s.Begin(ctx, "v-2", "visitor", "", "101", now)
	_, _ = s.Deny(ctx, b.ID, "r", now)
	_, _ = s.Begin(ctx, "v-3", "visitor", "", "202", now)

	inside, err := s.List(ctx, "101", StateInProgress)
	if err != nil {
		t.Fatal(err)
	}
	if len(inside) != 1 || inside[0].ID != a.ID {
		t.Fatalf("unexpected currently-inside result: %+v", inside)
	}
	all101, _ := s.List(ctx, "101", "")
	if len(all101) != 2 {
		t.Fatalf("expected 2 visits for unit 101, got %d", len(all101))
	}
}

// Concurrent entry/exit races on the same visit must serialize through
// valid transitions only.
func TestConcurrentTransitionsSerialize(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	v, _ := s.Begin(ctx, "v-race", "visitor", "", "101", now)

	const N = 16
	var wg sync.WaitGroup
	enterWins := make(chan struct{}, N)
	finishWins := make(chan struct{}, N)
	for i := 0; i < N; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if _, err := s.Enter(ctx, v.ID, "d", now); err == nil {
				enterWins <- struct{}{}
			}
		}()
		go func() {
			defer wg.Done()
			if _, err := s.Finish(ctx, v.ID, "d", now); err == nil {
				finishWins <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(enterWins)
	close(finishWins)

	if len(enterWins) != 1 {
		t.Fatalf("expected exactly one successful Enter, got %d", len(enterWins))
	}
	if len(finishWins) > 1 {
		t.Fatalf("expected at most one successful Finish, got %d", len(finishWins))
	}
	got, _ := s.Get(ctx, v.ID)
	if got.State != StateInProgress && got.State != StateFinished {
		t.Fatalf("state escaped the valid path: %s", got.State)
	}
}

func TestAppendAssignsMonotonicSequence(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := s.Append(ctx, LogEntry{PointID: "d", Direction: "entry", Allowed: true}); err != nil {
			t.Fatal(err)
		}
	}
	entries, last, err := s.Entries(ctx, 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 5 || last != 5 {
		t.Fatalf("unexpected page: n=%d last=%d", len(entries), last)
	}
	for i, e := range entries {
		if e.Sequence != uint64(i+1) {
			t.Fatalf("sequence gap at %d: %d", i, e.Sequence)
		}
		if e.ID == "" || e.At.IsZero() {
			t.Fatalf("entry missing id or timestamp: %+v", e)
		}
	}

	page, lastSeq, err := s.Entries(ctx, 2, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 2 || page[0].Sequence != 3 || lastSeq != 4 {
		t.Fatalf("pagination broken: %+v last=%d", page, lastSeq)
	}
}
