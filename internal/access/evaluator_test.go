package access

import (
	"context"
	"testing"
	"time"

	"portaria.org/internal/credential"
	"portaria.org/internal/interlock"
	"portaria.org/internal/schedule"
	"portaria.org/internal/stream"
	"portaria.org/internal/visit"
)

func window(t *testing.T, start, end string) schedule.Window {
	t.Helper()
	s, err := schedule.ParseClock(start)
	if err != nil {
		t.Fatal(err)
	}
	e, err := schedule.ParseClock(end)
	if err != nil {
		t.Fatal(err)
	}
	return schedule.Window{Start: s, End: e}
}

type fixture struct {
	policy *Store
	creds  *credential.InMemory
	visits *visit.InMemory
	gw     *interlock.Loopback
	events *stream.Stream
	eval   *Evaluator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		policy: NewStore(),
		creds:  credential.NewInMemory(),
		visits: visit.NewInMemory(),
		gw:     interlock.NewLoopback(),
		events: stream.New(),
	}
	locks := interlock.New(f.gw, f.policy.Partner, interlock.Config{
		AckTimeout:     200 * time.Millisecond,
		InterDoorDelay: time.Millisecond,
		RetryDelay:     time.Millisecond,
	})
	f.eval = NewEvaluator(f.policy, f.creds, f.visits, locks, f.events, time.Second)
	mustPoint(t, f.policy, AccessPoint{ID: "front-door", Kind: PointSocialDoor, Zone: "lobby"})
	return f
}

func (f *fixture) entryCount(t *testing.T) int {
	t.Helper()
	entries, _, err := f.visits.Entries(context.Background(), 1000, 0)
	if err != nil {
		t.Fatal(err)
	}
	return len(entries)
}

// Tuesday and Saturday in the same week of 2025.
var (
	tuesday  = time.Date(2025, 3, 4, 10, 0, 0, 0, time.UTC)
	saturday = time.Date(2025, 3, 8, 10, 0, 0, 0, time.UTC)
)

func TestFailClosedWithoutPolicy(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	d, err := f.eval.Authorize(ctx, Request{
		Actor:   Actor{ID: "r-1", Kind: KindResident, UnitID: "101"},
		PointID: "front-door",
		At:      tuesday,
	})
	if err != nil {
		t.Fatal(err)
	}
	if d.Allow || d.Reason != ReasonNoPolicyConfigured {
		t.Fatalf("expected fail-closed denial, got %+v", d)
	}
	v, err := f.visits.Get(ctx, d.VisitID)
	if err != nil {
		t.Fatal(err)
	}
	if v.State != visit.StateDenied || v.DenialReason != string(ReasonNoPolicyConfigured) {
		t.Fatalf("visit not closed as denied: %+v", v)
	}
	if n := f.entryCount(t); n != 1 {
		t.Fatalf("expected exactly one log entry, got %d", n)
	}
}

func TestPointUnavailable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.policy.SetStatus(ctx, "front-door", StatusMaintenance); err != nil {
		t.Fatal(err)
	}

	d, err := f.eval.Authorize(ctx, Request{
		Actor:   Actor{ID: "r-1", Kind: KindResident},
		PointID: "front-door",
		At:      tuesday,
	})
	if err != nil {
		t.Fatal(err)
	}
	if d.Allow || d.Reason != ReasonPointUnavailable {
		t.Fatalf("got %+v", d)
	}

	// An unknown point gets the same answer.
	d, err = f.eval.Authorize(ctx, Request{Actor: Actor{ID: "r-1", Kind: KindResident}, PointID: "nowhere", At: tuesday})
	if err != nil {
		t.Fatal(err)
	}
	if d.Reason != ReasonPointUnavailable {
		t.Fatalf("got %+v", d)
	}
}

func TestProviderWeekdayGroup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	w := window(t, "08:00", "18:00")
	if _, err := f.policy.PutGroup(ctx, AccessGroup{
		ID:            "providers-weekdays",
		AllowProvider: true,
		Window:        &w,
		Weekdays: schedule.WeekdaysOf(time.Monday, time.Tuesday, time.Wednesday,
			time.Thursday, time.Friday),
	}); err != nil {
		t.Fatal(err)
	}
	if err := f.policy.Assign(ctx, "front-door", "providers-weekdays"); err != nil {
		t.Fatal(err)
	}

	provider := Actor{ID: "p-1", Kind: KindProvider, UnitID: "101"}

	d, err := f.eval.Authorize(ctx, Request{Actor: provider, PointID: "front-door", At: saturday})
	if err != nil {
		t.Fatal(err)
	}
	if d.Allow || d.Reason != ReasonOutsideWeekday {
		t.Fatalf("saturday: %+v", d)
	}

	d, err = f.eval.Authorize(ctx, Request{Actor: provider, PointID: "front-door", At: tuesday})
	if err != nil {
		t.Fatal(err)
	}
	if !d.Allow || d.Reason != ReasonGroupPolicy {
		t.Fatalf("tuesday: %+v", d)
	}
	v, err := f.visits.Get(ctx, d.VisitID)
	if err != nil {
		t.Fatal(err)
	}
	if v.State != visit.StateInProgress || v.EntryPointID != "front-door" {
		t.Fatalf("visit: %+v", v)
	}
	if !f.gw.IsOpen("front-door") {
		t.Fatal("gate was not released")
	}
}

func TestGroupsAreUnioned(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// One group rejects couriers, another admits them. Any single
	// match grants.
	if _, err := f.policy.PutGroup(ctx, AccessGroup{ID: "residents-only", AllowResident: true}); err != nil {
		t.Fatal(err)
	}
	if _, err := f.policy.PutGroup(ctx, AccessGroup{ID: "couriers", AllowCourier: true}); err != nil {
		t.Fatal(err)
	}
	for _, g := range []string{"residents-only", "couriers"} {
		if err := f.policy.Assign(ctx, "front-door", g); err != nil {
			t.Fatal(err)
		}
	}

	d, err := f.eval.Authorize(ctx, Request{Actor: Actor{ID: "c-1", Kind: KindCourier}, PointID: "front-door", At: tuesday})
	if err != nil {
		t.Fatal(err)
	}
	if !d.Allow {
		t.Fatalf("union should grant: %+v", d)
	}
}

func TestDenialReasonFromClosestGroup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// The provider group fails only on the weekday; the resident group
	// fails immediately on kind. The reported reason comes from the
	// group that got furthest.
	if _, err := f.policy.PutGroup(ctx, AccessGroup{ID: "residents", AllowResident: true}); err != nil {
		t.Fatal(err)
	}
	if _, err := f.policy.PutGroup(ctx, AccessGroup{
		ID:            "providers",
		AllowProvider: true,
		Weekdays:      schedule.WeekdaysOf(time.Monday),
	}); err != nil {
		t.Fatal(err)
	}
	for _, g := range []string{"residents", "providers"} {
		if err := f.policy.Assign(ctx, "front-door", g); err != nil {
			t.Fatal(err)
		}
	}

	d, err := f.eval.Authorize(ctx, Request{Actor: Actor{ID: "p-1", Kind: KindProvider}, PointID: "front-door", At: saturday})
	if err != nil {
		t.Fatal(err)
	}
	if d.Reason != ReasonOutsideWeekday {
		t.Fatalf("expected the specific weekday denial, got %+v", d)
	}
}

func TestCredentialOverridesGroupPolicy(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// No groups assigned at all: only the credential can open the door.
	c, err := f.creds.Issue(ctx, credential.IssueRequest{
		UnitID:    "104-B",
		IssuerID:  "r-9",
		GuestName: "Ana",
		GuestKind: "visitor",
		StartDate: tuesday.AddDate(0, 0, -1),
		EndDate:   tuesday.AddDate(0, 0, 1),
		MaxUses:   2,
	})
	if err != nil {
		t.Fatal(err)
	}

	d, err := f.eval.Authorize(ctx, Request{PointID: "front-door", Token: c.Token, At: tuesday})
	if err != nil {
		t.Fatal(err)
	}
	if !d.Allow || d.Reason != ReasonCredentialValid || d.CredentialID != c.ID {
		t.Fatalf("got %+v", d)
	}

	// The visit carries the credential's identity, and a use was spent.
	v, err := f.visits.Get(ctx, d.VisitID)
	if err != nil {
		t.Fatal(err)
	}
	if v.ActorID != c.ID || v.UnitID != "104-B" || v.CredentialID != c.ID {
		t.Fatalf("visit identity: %+v", v)
	}
	got, err := f.creds.Get(ctx, c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.UsesConsumed != 1 {
		t.Fatalf("uses consumed = %d", got.UsesConsumed)
	}
}

func TestCredentialDenialIsSpecific(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	c, err := f.creds.Issue(ctx, credential.IssueRequest{
		UnitID:    "104-B",
		IssuerID:  "r-9",
		GuestName: "Ana",
		GuestKind: "visitor",
		StartDate: tuesday,
		EndDate:   tuesday,
		MaxUses:   1,
	})
	if err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		name  string
		token string
		at    time.Time
		want  Reason
	}{
		{"unknown token", "not-a-token", tuesday, ReasonCredentialNotFound},
		{"not yet active", c.Token, tuesday.AddDate(0, 0, -3), ReasonCredentialNotYetActive},
		// Last on purpose: the validation lazily flips the stored
		// status to expired.
		{"expired", c.Token, tuesday.AddDate(0, 0, 3), ReasonCredentialExpired},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d, err := f.eval.Authorize(ctx, Request{PointID: "front-door", Token: tc.token, At: tc.at})
			if err != nil {
				t.Fatal(err)
			}
			if d.Allow || d.Reason != tc.want {
				t.Fatalf("got %+v, want reason %s", d, tc.want)
			}
		})
	}
}

func TestEntryThenExit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.policy.PutGroup(ctx, AccessGroup{ID: "residents", AllowResident: true}); err != nil {
		t.Fatal(err)
	}
	if err := f.policy.Assign(ctx, "front-door", "residents"); err != nil {
		t.Fatal(err)
	}

	resident := Actor{ID: "r-1", Kind: KindResident, UnitID: "101"}

	in, err := f.eval.Authorize(ctx, Request{Actor: resident, PointID: "front-door", At: tuesday})
	if err != nil {
		t.Fatal(err)
	}
	if !in.Allow {
		t.Fatalf("entry: %+v", in)
	}

	out, err := f.eval.Authorize(ctx, Request{
		Actor:     resident,
		PointID:   "front-door",
		Direction: DirectionExit,
		At:        tuesday.Add(2 * time.Hour),
	})
	if err != nil {
		t.Fatal(err)
	}
	if !out.Allow || out.Reason != ReasonExitAllowed || out.VisitID != in.VisitID {
		t.Fatalf("exit: %+v", out)
	}
	v, err := f.visits.Get(ctx, in.VisitID)
	if err != nil {
		t.Fatal(err)
	}
	if v.State != visit.StateFinished || v.ExitPointID != "front-door" {
		t.Fatalf("visit after exit: %+v", v)
	}
}

func TestExitWithoutEntry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	d, err := f.eval.Authorize(ctx, Request{
		Actor:     Actor{ID: "ghost", Kind: KindVisitor},
		PointID:   "front-door",
		Direction: DirectionExit,
		At:        tuesday,
	})
	if err != nil {
		t.Fatal(err)
	}
	if d.Allow || d.Reason != ReasonNoActiveVisit {
		t.Fatalf("got %+v", d)
	}
	if d.VisitID != "" {
		t.Fatal("exit denial must not create a visit")
	}
	if n := f.entryCount(t); n != 1 {
		t.Fatalf("expected one log entry, got %d", n)
	}
}

func TestExhaustedCredentialCanStillExit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	c, err := f.creds.Issue(ctx, credential.IssueRequest{
		UnitID:    "104-B",
		IssuerID:  "r-9",
		GuestName: "Ana",
		GuestKind: "visitor",
		StartDate: tuesday.AddDate(0, 0, -1),
		EndDate:   tuesday.AddDate(0, 0, 1),
		MaxUses:   1,
	})
	if err != nil {
		t.Fatal(err)
	}

	in, err := f.eval.Authorize(ctx, Request{PointID: "front-door", Token: c.Token, At: tuesday})
	if err != nil {
		t.Fatal(err)
	}
	if !in.Allow {
		t.Fatalf("entry: %+v", in)
	}

	// Entry spent the single use; the exit scan must still resolve the
	// token and close the visit.
	out, err := f.eval.Authorize(ctx, Request{
		PointID:   "front-door",
		Token:     c.Token,
		Direction: DirectionExit,
		At:        tuesday.Add(time.Hour),
	})
	if err != nil {
		t.Fatal(err)
	}
	if !out.Allow || out.VisitID != in.VisitID {
		t.Fatalf("exit: %+v", out)
	}
}

func TestActuatorFaultDeniesWithoutEntering(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.policy.PutGroup(ctx, AccessGroup{ID: "residents", AllowResident: true}); err != nil {
		t.Fatal(err)
	}
	if err := f.policy.Assign(ctx, "front-door", "residents"); err != nil {
		t.Fatal(err)
	}
	f.gw.OpenErr = interlock.ErrGatewayFault

	d, err := f.eval.Authorize(ctx, Request{Actor: Actor{ID: "r-1", Kind: KindResident}, PointID: "front-door", At: tuesday})
	if err != nil {
		t.Fatal(err)
	}
	if d.Allow || d.Reason != ReasonActuatorFault {
		t.Fatalf("got %+v", d)
	}
	v, err := f.visits.Get(ctx, d.VisitID)
	if err != nil {
		t.Fatal(err)
	}
	if v.State != visit.StateDenied {
		t.Fatalf("visit advanced on a hardware fault: %+v", v)
	}
}

func TestDecisionEventsPublished(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub := f.events.Subscribe(ctx)

	if _, err := f.eval.Authorize(ctx, Request{Actor: Actor{ID: "r-1", Kind: KindResident}, PointID: "front-door", At: tuesday}); err != nil {
		t.Fatal(err)
	}

	select {
	case evt := <-sub:
		if evt.Allowed || evt.Reason != string(ReasonNoPolicyConfigured) || evt.PointID != "front-door" {
			t.Fatalf("event: %+v", evt)
		}
	case <-time.After(time.Second):
		t.Fatal("no decision event published")
	}
}

func TestReentryReusesOpenVisit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.policy.PutGroup(ctx, AccessGroup{ID: "residents", AllowResident: true}); err != nil {
		t.Fatal(err)
	}
	if err := f.policy.Assign(ctx, "front-door", "residents"); err != nil {
		t.Fatal(err)
	}

	resident := Actor{ID: "r-1", Kind: KindResident, UnitID: "101"}

	first, err := f.eval.Authorize(ctx, Request{Actor: resident, PointID: "front-door", At: tuesday})
	if err != nil {
		t.Fatal(err)
	}
	if !first.Allow {
		t.Fatalf("first entry: %+v", first)
	}

	second, err := f.eval.Authorize(ctx, Request{
		Actor:   resident,
		PointID: "front-door",
		At:      tuesday.Add(time.Hour),
	})
	if err != nil {
		t.Fatal(err)
	}
	if !second.Allow || second.VisitID != first.VisitID {
		t.Fatalf("re-entry must reuse the open visit: first=%+v second=%+v", first, second)
	}

	open, err := f.visits.List(ctx, "101", visit.StateInProgress)
	if err != nil {
		t.Fatal(err)
	}
	if len(open) != 1 {
		t.Fatalf("expected exactly one in-progress visit, got %d", len(open))
	}
	if n := f.entryCount(t); n != 2 {
		t.Fatalf("expected two log entries, got %d", n)
	}

	out, err := f.eval.Authorize(ctx, Request{
		Actor:     resident,
		PointID:   "front-door",
		Direction: DirectionExit,
		At:        tuesday.Add(2 * time.Hour),
	})
	if err != nil {
		t.Fatal(err)
	}
	if !out.Allow || out.VisitID != first.VisitID {
		t.Fatalf("exit: %+v", out)
	}
	v, err := f.visits.Get(ctx, first.VisitID)
	if err != nil {
		t.Fatal(err)
	}
	if v.State != visit.StateFinished {
		t.Fatalf("visit after exit: %+v", v)
	}
}

func TestReentryActuatorFaultKeepsVisitOpen(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.policy.PutGroup(ctx, AccessGroup{ID: "residents", AllowResident: true}); err != nil {
		t.Fatal(err)
	}
	if err := f.policy.Assign(ctx, "front-door", "residents"); err != nil {
		t.Fatal(err)
	}

	resident := Actor{ID: "r-1", Kind: KindResident, UnitID: "101"}
	first, err := f.eval.Authorize(ctx, Request{Actor: resident, PointID: "front-door", At: tuesday})
	if err != nil {
		t.Fatal(err)
	}
	if !first.Allow {
		t.Fatalf("first entry: %+v", first)
	}

	f.gw.OpenErr = interlock.ErrGatewayFault
	d, err := f.eval.Authorize(ctx, Request{Actor: resident, PointID: "front-door", At: tuesday.Add(time.Hour)})
	if err != nil {
		t.Fatal(err)
	}
	if d.Allow {
		t.Fatalf("got %+v", d)
	}
	v, err := f.visits.Get(ctx, first.VisitID)
	if err != nil {
		t.Fatal(err)
	}
	if v.State != visit.StateInProgress {
		t.Fatalf("open visit must survive a denied re-entry: %+v", v)
	}
}
