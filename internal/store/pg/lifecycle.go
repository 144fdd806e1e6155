package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"lynxtms.io/internal/authz"
	"lynxtms.io/internal/ids"
)

// Write paths for grants, access requests, API keys, and the sweeper's
// idempotent expiry transitions.

func (s *Store) CreateTemporaryPermission(ctx context.Context, grant *authz.TemporaryPermission) error {
	if grant.ID == "" {
		grant.ID = ids.New()
	}
	attrs, err := marshalJSON(grant.Attributes)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		insert into temporary_permissions (id, organization_id, user_id, permission, attributes, granted_at, expires_at, revoked)
		values ($1, $2, $3, $4, $5, $6, $7, false)
	`, grant.ID, grant.OrganizationID, grant.UserID, grant.Permission, attrs, grant.GrantedAt, grant.ExpiresAt)
	if pgErr, ok := maybePgError(err); ok {
		switch pgErr.Code {
		case pgErrUniqueViolation:
			return authz.ErrConflict
		case pgErrForeignKeyViolation:
			return authz.ErrNotFound
		}
	}
	return err
}

func (s *Store) RevokeTemporaryPermission(ctx context.Context, orgID, id string) error {
	res, err := s.db.ExecContext(ctx, `
		update temporary_permissions
		set revoked = true
		where organization_id = $1 and id = $2 and not revoked
	`, orgID, id)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return authz.ErrNotFound
	}
	return nil
}

func (s *Store) CreateAccessRequest(ctx context.Context, req *authz.AccessRequest) error {
	if req.ID == "" {
		req.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx, `
		insert into access_requests (id, organization_id, requester_id, permission, justification, duration_seconds, status, expires_at, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, req.ID, req.OrganizationID, req.RequesterID, req.Permission, nullIfEmpty(req.Justification),
		int64(req.Duration/time.Second), string(req.Status), req.ExpiresAt, req.CreatedAt, req.UpdatedAt)
	if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
		return authz.ErrConflict
	}
	return err
}

func (s *Store) AccessRequest(ctx context.Context, id string) (authz.AccessRequest, error) {
	var (
		req           authz.AccessRequest
		justification sql.NullString
		decidedBy     sql.NullString
		durationSecs  int64
		status        string
	)
	err := s.db.QueryRowContext(ctx, `
		select id, organization_id, requester_id, permission, justification, duration_seconds, status, expires_at, decided_by, created_at, updated_at
		from access_requests
		where id = $1
	`, id).Scan(&req.ID, &req.OrganizationID, &req.RequesterID, &req.Permission, &justification,
		&durationSecs, &status, &req.ExpiresAt, &decidedBy, &req.CreatedAt, &req.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return authz.AccessRequest{}, authz.ErrNotFound
	}
	if err != nil {
		return authz.AccessRequest{}, err
	}
	if justification.Valid {
		req.Justification = justification.String
	}
	if decidedBy.Valid {
		req.DecidedBy = decidedBy.String
	}
	req.Duration = time.Duration(durationSecs) * time.Second
	req.Status = authz.RequestStatus(status)
	return req, nil
}

// TransitionAccessRequest is a compare-and-swap on the request status.
// A zero-row update means the request either does not exist or has
// already left the expected state.
func (s *Store) TransitionAccessRequest(ctx context.Context, id string, from, to authz.RequestStatus, decidedBy string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		update access_requests
		set status = $3, decided_by = $4, updated_at = $5
		where id = $1 and status = $2
	`, id, string(from), string(to), nullIfEmpty(decidedBy), at)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return authz.ErrConflict
	}
	return nil
}

func (s *Store) CreateAPIKey(ctx context.Context, key *authz.APIKey) error {
	if key.ID == "" {
		key.ID = ids.New()
	}
	perms, err := marshalJSON(key.Permissions)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		insert into api_keys (id, organization_id, name, key_hash, permissions, expires_at, revoked, created_at)
		values ($1, $2, $3, $4, $5, $6, false, $7)
	`, key.ID, key.OrganizationID, key.Name, key.KeyHash, perms, key.ExpiresAt, key.CreatedAt)
	if pgErr, ok := maybePgError(err); ok {
		switch pgErr.Code {
		case pgErrUniqueViolation:
			return authz.ErrConflict
		case pgErrForeignKeyViolation:
			return authz.ErrNotFound
		}
	}
	return err
}

func (s *Store) RevokeAPIKey(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		update api_keys
		set revoked = true
		where id = $1 and not revoked
	`, id)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return authz.ErrNotFound
	}
	return nil
}

func (s *Store) TouchAPIKey(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		update api_keys set last_used_at = $2 where id = $1
	`, id, at)
	return err
}

// --- sweeper transitions ---

func (s *Store) ExpireTemporaryPermissions(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		update temporary_permissions
		set revoked = true
		where expires_at <= $1 and not revoked
	`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) ExpireAPIKeys(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		update api_keys
		set revoked = true
		where expires_at <= $1 and not revoked
	`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) ExpireAccessRequests(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		update access_requests
		set status = 'expired', updated_at = $1
		where status = 'pending' and expires_at <= $1
	`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
