package access

import (
	"context"
	"strings"
	"time"

	"portaria.org/internal/credential"
	"portaria.org/internal/interlock"
	"portaria.org/internal/obs"
	"portaria.org/internal/stream"
	"portaria.org/internal/visit"
)

const defaultOpenWait = 5 * time.Second

// Evaluator is the policy decision point. Every passage attempt, entry
// or exit, flows through Authorize; nothing below it surfaces a raw
// error to the caller, and every call leaves exactly one access log
// entry behind. The log entry is always appended before the visit
// transition it describes is applied.
type Evaluator struct {
	policy   *Store
	creds    credential.Service
	visits   visit.Ledger
	locks    *interlock.Coordinator
	events   *stream.Stream
	openWait time.Duration
	now      func() time.Time
}

// NewEvaluator wires the decision point. events may be nil when no
// dashboard is attached; openWait <= 0 selects the default bound on
// waiting for the interlock and the actuator acknowledgement.
func NewEvaluator(policy *Store, creds credential.Service, visits visit.Ledger, locks *interlock.Coordinator, events *stream.Stream, openWait time.Duration) *Evaluator {
	if openWait <= 0 {
		openWait = defaultOpenWait
	}
	return &Evaluator{
		policy:   policy,
		creds:    creds,
		visits:   visits,
		locks:    locks,
		events:   events,
		openWait: openWait,
		now:      time.Now,
	}
}

// SetClock overrides the evaluator's clock. Tests only.
func (e *Evaluator) SetClock(fn func() time.Time) { e.now = fn }

// Request is one scan or arrival event at an access point.
type Request struct {
	Actor     Actor     `json:"actor"`
	PointID   string    `json:"point_id"`
	Token     string    `json:"token,omitempty"`
	Direction string    `json:"direction,omitempty"` // entry when empty
	At        time.Time `json:"at,omitempty"`
}

// Decision is the authorization outcome. Reason is set on every
// decision, grants included. Ticket is populated only on an allowed
// decision whose point belongs to an airlock pair.
type Decision struct {
	Allow        bool             `json:"allow"`
	Reason       Reason           `json:"reason"`
	VisitID      string           `json:"visit_id,omitempty"`
	CredentialID string           `json:"credential_id,omitempty"`
	Ticket       interlock.Ticket `json:"-"`
}

// Authorize evaluates a passage attempt end to end: policy, visit
// lifecycle and actuation. An allowed decision is only returned after
// the interlock coordinator confirmed the open command was accepted.
func (e *Evaluator) Authorize(ctx context.Context, r Request) (Decision, error) {
	at := r.At
	if at.IsZero() {
		at = e.now().UTC()
	}
	if r.Direction == DirectionExit {
		return e.authorizeExit(ctx, r, at)
	}
	return e.authorizeEntry(ctx, r, at)
}

func (e *Evaluator) authorizeEntry(ctx context.Context, r Request, at time.Time) (Decision, error) {
	pt, err := e.policy.Point(ctx, r.PointID)
	if err != nil || pt.Status != StatusOnline {
		return e.denyBefore(ctx, r, r.Actor, "", ReasonPointUnavailable, at)
	}

	actor := r.Actor
	credID := ""
	if strings.TrimSpace(r.Token) != "" {
		c, verr := e.creds.Validate(ctx, r.Token, r.PointID, at)
		if c.ID != "" {
			actor = actorFromCredential(c)
			credID = c.ID
		}
		if verr != nil {
			return e.denyBefore(ctx, r, actor, credID, reasonForError(verr), at)
		}
	} else {
		groups, gerr := e.policy.GroupsFor(ctx, r.PointID)
		if gerr != nil {
			return e.denyBefore(ctx, r, actor, "", ReasonPointUnavailable, at)
		}
		if len(groups) == 0 {
			return e.denyBefore(ctx, r, actor, "", ReasonNoPolicyConfigured, at)
		}
		if reason, ok := matchGroups(groups, actor.Kind, pt.Zone, at); !ok {
			return e.denyBefore(ctx, r, actor, "", reason, at)
		}
	}

	// An actor already inside (interior points, or an unobserved exit)
	// reuses the open visit; a second Begin would strand the first one
	// in progress forever.
	if open, oerr := e.visits.InProgressForActor(ctx, actor.ID); oerr == nil {
		return e.reenter(ctx, r, open, actor, credID, at)
	}

	v, err := e.visits.Begin(ctx, actor.ID, string(actor.Kind), credID, actor.UnitID, at)
	if err != nil {
		return Decision{Reason: ReasonInternalError}, err
	}

	// Consume before actuating: a use is spent once the gate is
	// committed to open, and the cap must hold even if the hardware
	// later misbehaves.
	if credID != "" {
		if _, cerr := e.creds.Consume(ctx, credID); cerr != nil {
			return e.denyVisit(ctx, r, v, actor, credID, reasonForError(cerr), at)
		}
	}

	ticket, err := e.open(ctx, r.PointID)
	if err != nil {
		return e.denyVisit(ctx, r, v, actor, credID, reasonForError(err), at)
	}

	reason := ReasonGroupPolicy
	if credID != "" {
		reason = ReasonCredentialValid
	}
	e.append(ctx, r.PointID, actor, credID, v.ID, DirectionEntry, true, reason, at)
	if _, err := e.visits.Enter(ctx, v.ID, r.PointID, at); err != nil {
		return Decision{Reason: ReasonInternalError}, err
	}
	e.report(r.PointID, actor, credID, v.ID, DirectionEntry, true, reason, at)
	return Decision{Allow: true, Reason: reason, VisitID: v.ID, CredentialID: credID, Ticket: ticket}, nil
}

func (e *Evaluator) authorizeExit(ctx context.Context, r Request, at time.Time) (Decision, error) {
	pt, err := e.policy.Point(ctx, r.PointID)
	if err != nil || pt.Status != StatusOnline {
		return e.denyNoVisit(ctx, r, r.Actor, "", ReasonPointUnavailable, at)
	}

	actor := r.Actor
	credID := ""
	if strings.TrimSpace(r.Token) != "" {
		c, ferr := e.creds.FindByToken(ctx, r.Token)
		if ferr != nil {
			return e.denyNoVisit(ctx, r, actor, "", ReasonCredentialNotFound, at)
		}
		actor = actorFromCredential(c)
		credID = c.ID
	}

	v, err := e.visits.InProgressForActor(ctx, actor.ID)
	if err != nil {
		return e.denyNoVisit(ctx, r, actor, credID, ReasonNoActiveVisit, at)
	}

	ticket, err := e.open(ctx, r.PointID)
	if err != nil {
		// The visit stays in progress; the actor is still inside.
		return e.denyNoVisit(ctx, r, actor, credID, reasonForError(err), at)
	}

	e.append(ctx, r.PointID, actor, credID, v.ID, DirectionExit, true, ReasonExitAllowed, at)
	if _, err := e.visits.Finish(ctx, v.ID, r.PointID, at); err != nil {
		return Decision{Reason: ReasonInternalError}, err
	}
	e.report(r.PointID, actor, credID, v.ID, DirectionExit, true, ReasonExitAllowed, at)
	return Decision{Allow: true, Reason: ReasonExitAllowed, VisitID: v.ID, CredentialID: credID, Ticket: ticket}, nil
}

// reenter grants an entry to an actor whose visit is already in
// progress. The passage is consumed, actuated and logged against the
// open visit; no second visit is begun and the visit state is left
// alone, so the later exit still finishes it.
func (e *Evaluator) reenter(ctx context.Context, r Request, v visit.Visit, actor Actor, credID string, at time.Time) (Decision, error) {
	if credID != "" {
		if _, cerr := e.creds.Consume(ctx, credID); cerr != nil {
			return e.denyOpenVisit(ctx, r, v, actor, credID, reasonForError(cerr), at)
		}
	}
	ticket, err := e.open(ctx, r.PointID)
	if err != nil {
		return e.denyOpenVisit(ctx, r, v, actor, credID, reasonForError(err), at)
	}
	reason := ReasonGroupPolicy
	if credID != "" {
		reason = ReasonCredentialValid
	}
	e.append(ctx, r.PointID, actor, credID, v.ID, DirectionEntry, true, reason, at)
	e.report(r.PointID, actor, credID, v.ID, DirectionEntry, true, reason, at)
	return Decision{Allow: true, Reason: reason, VisitID: v.ID, CredentialID: credID, Ticket: ticket}, nil
}

// denyOpenVisit records an entry denial against a visit that is
// already in progress. The visit is not mutated: the actor is inside
// and stays inside.
func (e *Evaluator) denyOpenVisit(ctx context.Context, r Request, v visit.Visit, actor Actor, credID string, reason Reason, at time.Time) (Decision, error) {
	e.append(ctx, r.PointID, actor, credID, v.ID, DirectionEntry, false, reason, at)
	e.report(r.PointID, actor, credID, v.ID, DirectionEntry, false, reason, at)
	return Decision{Reason: reason, VisitID: v.ID, CredentialID: credID}, nil
}

// denyBefore records a denial for an entry attempt that never got a
// visit: it creates the awaiting visit, logs, then closes it as denied.
func (e *Evaluator) denyBefore(ctx context.Context, r Request, actor Actor, credID string, reason Reason, at time.Time) (Decision, error) {
	v, err := e.visits.Begin(ctx, actor.ID, string(actor.Kind), credID, actor.UnitID, at)
	if err != nil {
		return Decision{Reason: ReasonInternalError}, err
	}
	return e.denyVisit(ctx, r, v, actor, credID, reason, at)
}

// denyVisit closes an already-created awaiting visit as denied. The
// log entry goes in first.
func (e *Evaluator) denyVisit(ctx context.Context, r Request, v visit.Visit, actor Actor, credID string, reason Reason, at time.Time) (Decision, error) {
	e.append(ctx, r.PointID, actor, credID, v.ID, DirectionEntry, false, reason, at)
	if _, err := e.visits.Deny(ctx, v.ID, string(reason), at); err != nil {
		return Decision{Reason: ReasonInternalError}, err
	}
	e.report(r.PointID, actor, credID, v.ID, DirectionEntry, false, reason, at)
	return Decision{Reason: reason, VisitID: v.ID, CredentialID: credID}, nil
}

// denyNoVisit records an exit denial. Exit denials never mutate visit
// state: an in-progress visit stays in progress.
func (e *Evaluator) denyNoVisit(ctx context.Context, r Request, actor Actor, credID string, reason Reason, at time.Time) (Decision, error) {
	e.append(ctx, r.PointID, actor, credID, "", DirectionExit, false, reason, at)
	e.report(r.PointID, actor, credID, "", DirectionExit, false, reason, at)
	return Decision{Reason: reason, CredentialID: credID}, nil
}

func (e *Evaluator) open(ctx context.Context, pointID string) (interlock.Ticket, error) {
	openCtx, cancel := context.WithTimeout(ctx, e.openWait)
	defer cancel()
	return e.locks.RequestOpen(openCtx, pointID)
}

func (e *Evaluator) append(ctx context.Context, pointID string, actor Actor, credID, visitID, direction string, allowed bool, reason Reason, at time.Time) {
	entry := visit.LogEntry{
		At:           at,
		PointID:      pointID,
		ActorID:      actor.ID,
		ActorKind:    string(actor.Kind),
		UnitID:       actor.UnitID,
		VisitID:      visitID,
		CredentialID: credID,
		Direction:    direction,
		Allowed:      allowed,
		Reason:       string(reason),
	}
	// Append failures must not block the passage decision itself.
	_, _ = e.visits.Append(ctx, entry)
}

func (e *Evaluator) report(pointID string, actor Actor, credID, visitID, direction string, allowed bool, reason Reason, at time.Time) {
	obs.RecordDecision(pointID, allowed, string(reason))
	if e.events == nil {
		return
	}
	e.events.Publish(stream.DecisionEvent{
		PointID:      pointID,
		ActorID:      actor.ID,
		ActorKind:    string(actor.Kind),
		UnitID:       actor.UnitID,
		Direction:    direction,
		Allowed:      allowed,
		Reason:       string(reason),
		VisitID:      visitID,
		CredentialID: credID,
		At:           at,
	})
}

func actorFromCredential(c credential.Credential) Actor {
	return Actor{ID: c.ID, Kind: ActorKind(c.GuestKind), UnitID: c.UnitID, Name: c.GuestName}
}

// matchGroups applies the union rule: any single group that admits the
// actor grants access. On denial it reports the reason from whichever
// group got furthest through its checks, so a weekday mismatch is not
// masked as a kind mismatch by an unrelated group.
func matchGroups(groups []AccessGroup, kind ActorKind, zone string, at time.Time) (Reason, bool) {
	best := -1
	reason := ReasonActorKindNotAllowed
	for _, g := range groups {
		stage, r := groupDenial(g, kind, zone, at)
		if r == "" {
			return "", true
		}
		if stage > best {
			best, reason = stage, r
		}
	}
	return reason, false
}

func groupDenial(g AccessGroup, kind ActorKind, zone string, at time.Time) (int, Reason) {
	if !g.PermitsKind(kind) {
		return 0, ReasonActorKindNotAllowed
	}
	if !g.AllowsZone(zone) {
		return 1, ReasonZoneNotAllowed
	}
	if g.Window != nil && !g.Window.Contains(at) {
		return 2, ReasonOutsideTimeWindow
	}
	if !g.Weekdays.Allows(at.Weekday()) {
		return 3, ReasonOutsideWeekday
	}
	return 4, ""
}
