package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"portaria.org/internal/credential"
	"portaria.org/internal/ids"
	"portaria.org/internal/schedule"
)

const credentialColumns = `
	id, unit_id, issuer_id, guest_name, guest_kind,
	coalesce(document,''), coalesce(vehicle_plate,''),
	start_date, end_date, window_start, window_end, weekdays,
	max_uses, uses_consumed, coalesce(point_id,''),
	token, status, created_at, updated_at`

type credScanner interface {
	Scan(dest ...any) error
}

func scanCredential(row credScanner) (credential.Credential, error) {
	var (
		c                credential.Credential
		winStart, winEnd sql.NullInt64
		weekdays         int16
	)
	err := row.Scan(
		&c.ID, &c.UnitID, &c.IssuerID, &c.GuestName, &c.GuestKind,
		&c.Document, &c.VehiclePlate,
		&c.StartDate, &c.EndDate, &winStart, &winEnd, &weekdays,
		&c.MaxUses, &c.UsesConsumed, &c.PointID,
		&c.Token, &c.Status, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return credential.Credential{}, err
	}
	if winStart.Valid && winEnd.Valid {
		c.Window = &schedule.Window{
			Start: schedule.Clock(winStart.Int64),
			End:   schedule.Clock(winEnd.Int64),
		}
	}
	c.Weekdays = schedule.Weekdays(weekdays)
	return c, nil
}

func (s *CredentialStore) Issue(ctx context.Context, req credential.IssueRequest) (credential.Credential, error) {
	if err := req.Validate(); err != nil {
		return credential.Credential{}, err
	}
	token, err := credential.NewToken()
	if err != nil {
		return credential.Credential{}, err
	}
	now := time.Now().UTC()
	status := credential.StatusPending
	if schedule.SameOrAfterDay(now, req.StartDate) {
		status = credential.StatusActive
	}

	var winStart, winEnd sql.NullInt64
	if req.Window != nil {
		winStart = sql.NullInt64{Int64: int64(req.Window.Start), Valid: true}
		winEnd = sql.NullInt64{Int64: int64(req.Window.End), Valid: true}
	}
	plate := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(req.VehiclePlate), "-", ""))

	row := s.db.QueryRowContext(ctx, `
		insert into credentials (
			id, unit_id, issuer_id, guest_name, guest_kind,
			document, vehicle_plate, start_date, end_date,
			window_start, window_end, weekdays, max_uses,
			uses_consumed, point_id, token, status
		) values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,0,$14,$15,$16)
		returning `+credentialColumns,
		ids.New(), strings.TrimSpace(req.UnitID), strings.TrimSpace(req.IssuerID),
		strings.TrimSpace(req.GuestName), strings.TrimSpace(strings.ToLower(req.GuestKind)),
		nullIfEmpty(req.Document), nullIfEmpty(plate),
		req.StartDate.UTC(), req.EndDate.UTC(),
		winStart, winEnd, int16(req.Weekdays), req.MaxUses,
		nullIfEmpty(req.PointID), token, string(status),
	)
	c, err := scanCredential(row)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return credential.Credential{}, fmt.Errorf("%w: token collision", credential.ErrInvalidInput)
		}
		return credential.Credential{}, err
	}
	return c, nil
}

func (s *CredentialStore) Get(ctx context.Context, id string) (credential.Credential, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+credentialColumns+` from credentials where id = $1`, id)
	c, err := scanCredential(row)
	if errors.Is(err, sql.ErrNoRows) {
		return credential.Credential{}, credential.ErrNotFound
	}
	return c, err
}

func (s *CredentialStore) ListByUnit(ctx context.Context, unitID string) ([]credential.Credential, error) {
	rows, err := s.db.QueryContext(ctx,
		`select `+credentialColumns+` from credentials where unit_id = $1 order by created_at desc`, unitID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []credential.Credential
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *CredentialStore) FindByToken(ctx context.Context, token string) (credential.Credential, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return credential.Credential{}, credential.ErrNotFound
	}
	row := s.db.QueryRowContext(ctx,
		`select `+credentialColumns+` from credentials where token = $1`, token)
	c, err := scanCredential(row)
	if errors.Is(err, sql.ErrNoRows) {
		return credential.Credential{}, credential.ErrNotFound
	}
	return c, err
}

// Validate runs the shared redemption check and persists any lazy
// status change (pending promotion, expiry) it produced.
func (s *CredentialStore) Validate(ctx context.Context, token, atPointID string, at time.Time) (credential.Credential, error) {
	c, err := s.FindByToken(ctx, token)
	if err != nil {
		return credential.Credential{}, err
	}
	newStatus, checkErr := credential.Check(c, atPointID, at)
	if newStatus != c.Status {
		if _, uerr := s.db.ExecContext(ctx,
			`update credentials set status = $2, updated_at = now() where id = $1`,
			c.ID, string(newStatus)); uerr != nil {
			return credential.Credential{}, uerr
		}
		c.Status = newStatus
	}
	if checkErr != nil {
		return c, checkErr
	}
	return c, nil
}

// Consume spends one use with a guarded update: the predicate re-checks
// the cap inside the statement, so two racing consumers can never both
// push uses_consumed past max_uses.
func (s *CredentialStore) Consume(ctx context.Context, id string) (credential.Credential, error) {
	row := s.db.QueryRowContext(ctx, `
		update credentials
		set uses_consumed = uses_consumed + 1,
		    status = case when uses_consumed + 1 >= max_uses then 'exhausted' else status end,
		    updated_at = now()
		where id = $1 and status = 'active' and uses_consumed < max_uses
		returning `+credentialColumns, id)
	c, err := scanCredential(row)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return credential.Credential{}, err
	}

	// The guard rejected; read the row to report why.
	cur, gerr := s.Get(ctx, id)
	if gerr != nil {
		return credential.Credential{}, gerr
	}
	switch cur.Status {
	case credential.StatusCancelled:
		return cur, credential.ErrRevoked
	case credential.StatusExpired:
		return cur, credential.ErrExpired
	case credential.StatusPending:
		return cur, credential.ErrNotYetActive
	default:
		return cur, credential.ErrExhausted
	}
}

func (s *CredentialStore) Revoke(ctx context.Context, id string) (credential.Credential, error) {
	row := s.db.QueryRowContext(ctx, `
		update credentials
		set status = 'cancelled', updated_at = now()
		where id = $1
		returning `+credentialColumns, id)
	c, err := scanCredential(row)
	if errors.Is(err, sql.ErrNoRows) {
		return credential.Credential{}, credential.ErrNotFound
	}
	return c, err
}

func (s *CredentialStore) ExpireDue(ctx context.Context, now time.Time) (int, error) {
	// end_date is inclusive: a credential only expires once the day
	// after its end date has begun.
	res, err := s.db.ExecContext(ctx, `
		update credentials
		set status = 'expired', updated_at = now()
		where status in ('pending','active') and end_date < $1::date`,
		now.UTC())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}
