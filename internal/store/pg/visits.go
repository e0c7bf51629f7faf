package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"portaria.org/internal/ids"
	"portaria.org/internal/visit"
)

const visitColumns = `
	id, actor_id, actor_kind, coalesce(credential_id,''), unit_id, state,
	created_at, entered_at, exited_at,
	coalesce(entry_point_id,''), coalesce(exit_point_id,''), coalesce(denial_reason,'')`

func scanVisit(row credScanner) (visit.Visit, error) {
	var (
		v                   visit.Visit
		enteredAt, exitedAt sql.NullTime
	)
	err := row.Scan(
		&v.ID, &v.ActorID, &v.ActorKind, &v.CredentialID, &v.UnitID, &v.State,
		&v.CreatedAt, &enteredAt, &exitedAt,
		&v.EntryPointID, &v.ExitPointID, &v.DenialReason,
	)
	if err != nil {
		return visit.Visit{}, err
	}
	if enteredAt.Valid {
		t := enteredAt.Time
		v.EnteredAt = &t
	}
	if exitedAt.Valid {
		t := exitedAt.Time
		v.ExitedAt = &t
	}
	return v, nil
}

func (s *VisitStore) Begin(ctx context.Context, actorID, actorKind, credentialID, unitID string, at time.Time) (visit.Visit, error) {
	row := s.db.QueryRowContext(ctx, `
		insert into visits (id, actor_id, actor_kind, credential_id, unit_id, state, created_at)
		values ($1, $2, $3, $4, $5, 'awaiting', $6)
		returning `+visitColumns,
		ids.New(), actorID, actorKind, nullIfEmpty(credentialID), unitID, at.UTC())
	return scanVisit(row)
}

// Enter moves an awaiting visit to in_progress. The state predicate is
// part of the statement, so a racing second entry loses cleanly.
func (s *VisitStore) Enter(ctx context.Context, visitID, pointID string, at time.Time) (visit.Visit, error) {
	row := s.db.QueryRowContext(ctx, `
		update visits
		set state = 'in_progress', entered_at = $2, entry_point_id = $3
		where id = $1 and state = 'awaiting'
		returning `+visitColumns, visitID, at.UTC(), pointID)
	v, err := scanVisit(row)
	if errors.Is(err, sql.ErrNoRows) {
		return s.transitionConflict(ctx, visitID, visit.ErrInvalidTransition)
	}
	return v, err
}

func (s *VisitStore) Deny(ctx context.Context, visitID, reason string, at time.Time) (visit.Visit, error) {
	row := s.db.QueryRowContext(ctx, `
		update visits
		set state = 'denied', denial_reason = $2
		where id = $1 and state = 'awaiting'
		returning `+visitColumns, visitID, reason)
	v, err := scanVisit(row)
	if errors.Is(err, sql.ErrNoRows) {
		return s.transitionConflict(ctx, visitID, visit.ErrInvalidTransition)
	}
	return v, err
}

func (s *VisitStore) Finish(ctx context.Context, visitID, pointID string, at time.Time) (visit.Visit, error) {
	row := s.db.QueryRowContext(ctx, `
		update visits
		set state = 'finished', exited_at = $2, exit_point_id = $3
		where id = $1 and state = 'in_progress'
		returning `+visitColumns, visitID, at.UTC(), pointID)
	v, err := scanVisit(row)
	if errors.Is(err, sql.ErrNoRows) {
		return s.transitionConflict(ctx, visitID, visit.ErrNoActiveVisit)
	}
	return v, err
}

// transitionConflict distinguishes a missing visit from one in the
// wrong state, without mutating either.
func (s *VisitStore) transitionConflict(ctx context.Context, visitID string, stateErr error) (visit.Visit, error) {
	v, err := s.Get(ctx, visitID)
	if err != nil {
		return visit.Visit{}, err
	}
	return v, stateErr
}

func (s *VisitStore) Get(ctx context.Context, visitID string) (visit.Visit, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+visitColumns+` from visits where id = $1`, visitID)
	v, err := scanVisit(row)
	if errors.Is(err, sql.ErrNoRows) {
		return visit.Visit{}, visit.ErrNotFound
	}
	return v, err
}

func (s *VisitStore) InProgressForActor(ctx context.Context, actorID string) (visit.Visit, error) {
	row := s.db.QueryRowContext(ctx, `
		select `+visitColumns+` from visits
		where actor_id = $1 and state = 'in_progress'
		order by entered_at desc
		limit 1`, actorID)
	v, err := scanVisit(row)
	if errors.Is(err, sql.ErrNoRows) {
		return visit.Visit{}, visit.ErrNoActiveVisit
	}
	return v, err
}

func (s *VisitStore) List(ctx context.Context, unitID string, state visit.State) ([]visit.Visit, error) {
	rows, err := s.db.QueryContext(ctx, `
		select `+visitColumns+` from visits
		where ($1 = '' or unit_id = $1)
		  and ($2 = '' or state = $2)
		order by created_at desc
		limit 500`, unitID, string(state))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []visit.Visit
	for rows.Next() {
		v, err := scanVisit(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *VisitStore) Append(ctx context.Context, e visit.LogEntry) (visit.LogEntry, error) {
	e.ID = ids.New()
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	err := s.db.QueryRowContext(ctx, `
		insert into access_log (id, at, point_id, actor_id, actor_kind, unit_id,
			visit_id, credential_id, direction, allowed, reason)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		returning sequence`,
		e.ID, e.At, e.PointID, nullIfEmpty(e.ActorID), nullIfEmpty(e.ActorKind),
		nullIfEmpty(e.UnitID), nullIfEmpty(e.VisitID), nullIfEmpty(e.CredentialID),
		e.Direction, e.Allowed, nullIfEmpty(e.Reason),
	).Scan(&e.Sequence)
	if err != nil {
		return visit.LogEntry{}, err
	}
	return e, nil
}

func (s *VisitStore) Entries(ctx context.Context, limit int, afterSeq uint64) ([]visit.LogEntry, uint64, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		select id, sequence, at, point_id, coalesce(actor_id,''), coalesce(actor_kind,''),
			coalesce(unit_id,''), coalesce(visit_id,''), coalesce(credential_id,''),
			direction, allowed, coalesce(reason,'')
		from access_log
		where sequence > $1
		order by sequence asc
		limit $2`, afterSeq, limit)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var res []visit.LogEntry
	var last uint64
	for rows.Next() {
		var e visit.LogEntry
		if err := rows.Scan(&e.ID, &e.Sequence, &e.At, &e.PointID, &e.ActorID, &e.ActorKind,
			&e.UnitID, &e.VisitID, &e.CredentialID, &e.Direction, &e.Allowed, &e.Reason); err != nil {
			return nil, 0, err
		}
		res = append(res, e)
		last = e.Sequence
	}
	return res, last, rows.Err()
}
