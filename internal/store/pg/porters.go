package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"portaria.org/internal/auth"
)

func (s *PorterStore) Create(ctx context.Context, p auth.Porter) (auth.Porter, error) {
	roles, err := json.Marshal(p.Roles)
	if err != nil {
		return auth.Porter{}, fmt.Errorf("marshal roles: %w", err)
	}
	row := s.db.QueryRowContext(ctx, `
		insert into porters (id, email, name, password_hash, roles, created_at)
		values ($1, $2, $3, $4, $5, $6)
		returning id, email, name, password_hash, roles, created_at`,
		p.ID, p.Email, p.Name, p.PasswordHash, roles, p.CreatedAt)
	out, err := scanPorter(row)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return auth.Porter{}, auth.ErrAlreadyExists
		}
		return auth.Porter{}, err
	}
	return out, nil
}

func (s *PorterStore) FindByEmail(ctx context.Context, email string) (auth.Porter, error) {
	row := s.db.QueryRowContext(ctx, `
		select id, email, name, password_hash, roles, created_at
		from porters where email = $1`, email)
	p, err := scanPorter(row)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Porter{}, auth.ErrNotFound
	}
	return p, err
}

func scanPorter(row credScanner) (auth.Porter, error) {
	var (
		p        auth.Porter
		rawRoles []byte
	)
	if err := row.Scan(&p.ID, &p.Email, &p.Name, &p.PasswordHash, &rawRoles, &p.CreatedAt); err != nil {
		return auth.Porter{}, err
	}
	if len(rawRoles) > 0 {
		if err := json.Unmarshal(rawRoles, &p.Roles); err != nil {
			return auth.Porter{}, fmt.Errorf("decode roles: %w", err)
		}
	}
	return p, nil
}
