package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"lynxtms.io/internal/authz"
)

// Hot-path reads for the policy evaluator. Every query here is covered
// by an index on its filter columns; see migrations/0001_init.up.sql.

func (s *Store) Memberships(ctx context.Context, orgID, userID string) ([]authz.Membership, error) {
	rows, err := s.db.QueryContext(ctx, `
		select organization_id, user_id, role_id, status, created_at, updated_at
		from org_memberships
		where organization_id = $1 and user_id = $2
	`, orgID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []authz.Membership
	for rows.Next() {
		var m authz.Membership
		var status string
		if err := rows.Scan(&m.OrganizationID, &m.UserID, &m.RoleID, &status, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, err
		}
		m.Status = authz.MembershipStatus(status)
		result = append(result, m)
	}
	return result, rows.Err()
}

func (s *Store) RolesByIDs(ctx context.Context, roleIDs []string) ([]authz.Role, error) {
	var roles []authz.Role
	for _, id := range roleIDs {
		var (
			role authz.Role
			raw  []byte
		)
		err := s.db.QueryRowContext(ctx, `
			select id, name, permissions, is_system, created_at
			from roles
			where id = $1
		`, id).Scan(&role.ID, &role.Name, &raw, &role.IsSystem, &role.CreatedAt)
		if errors.Is(err, sql.ErrNoRows) {
			// A dangling membership is tolerated; it grants nothing.
			continue
		}
		if err != nil {
			return nil, err
		}
		if role.Permissions, err = unmarshalStringSlice(raw); err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, nil
}

func (s *Store) CustomRolesForUser(ctx context.Context, orgID, userID string) ([]authz.CustomRole, error) {
	rows, err := s.db.QueryContext(ctx, `
		select cr.id, cr.organization_id, cr.name, cr.created_at, cr.updated_at
		from custom_roles cr
		join user_custom_roles ucr on ucr.custom_role_id = cr.id
		where ucr.organization_id = $1 and ucr.user_id = $2
	`, orgID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []authz.CustomRole
	for rows.Next() {
		var r authz.CustomRole
		if err := rows.Scan(&r.ID, &r.OrganizationID, &r.Name, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range result {
		perms, err := s.customRolePermissions(ctx, result[i].ID)
		if err != nil {
			return nil, err
		}
		result[i].Permissions = perms
	}
	return result, nil
}

func (s *Store) customRolePermissions(ctx context.Context, customRoleID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		select permission
		from custom_role_permissions
		where custom_role_id = $1
		order by permission
	`, customRoleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var perms []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

func (s *Store) ScopesFor(ctx context.Context, orgID string, roleNames []string, subjectKey string) ([]authz.PermissionScope, error) {
	var scopes []authz.PermissionScope

	appendRows := func(rows *sql.Rows) error {
		defer rows.Close()
		for rows.Next() {
			var (
				scope       authz.PermissionScope
				subjectType string
				raw         []byte
			)
			if err := rows.Scan(&scope.ID, &scope.OrganizationID, &subjectType, &scope.SubjectKey, &raw, &scope.CreatedAt); err != nil {
				return err
			}
			scope.SubjectType = authz.ScopeSubjectType(subjectType)
			attrs, err := unmarshalAttrSets(raw)
			if err != nil {
				return err
			}
			scope.Attributes = attrs
			scopes = append(scopes, scope)
		}
		return rows.Err()
	}

	for _, name := range roleNames {
		rows, err := s.db.QueryContext(ctx, `
			select id, organization_id, subject_type, subject_key, attributes, created_at
			from permission_scopes
			where organization_id = $1 and subject_type = 'role' and subject_key = $2
		`, orgID, name)
		if err != nil {
			return nil, err
		}
		if err := appendRows(rows); err != nil {
			return nil, err
		}
	}

	if subjectKey != "" {
		rows, err := s.db.QueryContext(ctx, `
			select id, organization_id, subject_type, subject_key, attributes, created_at
			from permission_scopes
			where organization_id = $1 and subject_type = 'user' and subject_key = $2
		`, orgID, subjectKey)
		if err != nil {
			return nil, err
		}
		if err := appendRows(rows); err != nil {
			return nil, err
		}
	}
	return scopes, nil
}

func (s *Store) PoliciesFor(ctx context.Context, orgID, resource, action string) ([]authz.AccessPolicy, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, organization_id, resource, action, effect, conditions, active, created_at
		from access_policies
		where organization_id = $1 and resource = $2 and action = $3 and active
	`, orgID, resource, action)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var policies []authz.AccessPolicy
	for rows.Next() {
		var (
			pol    authz.AccessPolicy
			effect string
			raw    []byte
		)
		if err := rows.Scan(&pol.ID, &pol.OrganizationID, &pol.Resource, &pol.Action, &effect, &raw, &pol.Active, &pol.CreatedAt); err != nil {
			return nil, err
		}
		pol.Effect = authz.Effect(effect)
		if len(raw) > 0 {
			if err := unmarshalConditions(raw, &pol.Conditions); err != nil {
				return nil, err
			}
		}
		policies = append(policies, pol)
	}
	return policies, rows.Err()
}

func (s *Store) OrgPlan(ctx context.Context, orgID string) (authz.OrgPlan, error) {
	var (
		plan       authz.OrgPlan
		tier       string
		rawAddOns  []byte
		ttlSeconds int64
	)
	err := s.db.QueryRowContext(ctx, `
		select organization_id, tier, add_ons, max_grant_ttl_seconds
		from org_plans
		where organization_id = $1
	`, orgID).Scan(&plan.OrganizationID, &tier, &rawAddOns, &ttlSeconds)
	if errors.Is(err, sql.ErrNoRows) {
		// An org without a plan row is on the free tier with no add-ons.
		return authz.OrgPlan{OrganizationID: orgID, Tier: authz.TierFree}, nil
	}
	if err != nil {
		return authz.OrgPlan{}, err
	}
	plan.Tier = authz.PlanTier(tier)
	if plan.AddOns, err = unmarshalStringSlice(rawAddOns); err != nil {
		return authz.OrgPlan{}, err
	}
	plan.MaxGrantTTL = time.Duration(ttlSeconds) * time.Second
	return plan, nil
}

func (s *Store) EntitlementsFor(ctx context.Context, orgID, featureKey string) ([]authz.Entitlement, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, organization_id, feature_key, required_tier, required_add_on, active, created_at
		from entitlements
		where organization_id = $1 and feature_key = $2
	`, orgID, featureKey)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []authz.Entitlement
	for rows.Next() {
		var (
			e     authz.Entitlement
			tier  string
			addOn sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.OrganizationID, &e.FeatureKey, &tier, &addOn, &e.Active, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.RequiredTier = authz.PlanTier(tier)
		if addOn.Valid {
			e.RequiredAddOn = addOn.String
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

func (s *Store) TemporaryPermissionsFor(ctx context.Context, orgID, userID, permission string) ([]authz.TemporaryPermission, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, organization_id, user_id, permission, attributes, granted_at, expires_at, revoked
		from temporary_permissions
		where organization_id = $1 and user_id = $2 and permission = $3 and not revoked
	`, orgID, userID, permission)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var grants []authz.TemporaryPermission
	for rows.Next() {
		var (
			g   authz.TemporaryPermission
			raw []byte
		)
		if err := rows.Scan(&g.ID, &g.OrganizationID, &g.UserID, &g.Permission, &raw, &g.GrantedAt, &g.ExpiresAt, &g.Revoked); err != nil {
			return nil, err
		}
		attrs, err := unmarshalAttrSets(raw)
		if err != nil {
			return nil, err
		}
		g.Attributes = attrs
		grants = append(grants, g)
	}
	return grants, rows.Err()
}

func (s *Store) APIKeyByID(ctx context.Context, id string) (authz.APIKey, error) {
	return s.apiKeyBy(ctx, `where id = $1`, id)
}

func (s *Store) APIKeyByHash(ctx context.Context, hash string) (authz.APIKey, error) {
	return s.apiKeyBy(ctx, `where key_hash = $1`, hash)
}

func (s *Store) apiKeyBy(ctx context.Context, where, arg string) (authz.APIKey, error) {
	var (
		key      authz.APIKey
		raw      []byte
		lastUsed sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		select id, organization_id, name, key_hash, permissions, expires_at, revoked, last_used_at, created_at
		from api_keys `+where,
		arg,
	).Scan(&key.ID, &key.OrganizationID, &key.Name, &key.KeyHash, &raw, &key.ExpiresAt, &key.Revoked, &lastUsed, &key.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return authz.APIKey{}, authz.ErrNotFound
	}
	if err != nil {
		return authz.APIKey{}, err
	}
	if key.Permissions, err = unmarshalStringSlice(raw); err != nil {
		return authz.APIKey{}, err
	}
	if lastUsed.Valid {
		t := lastUsed.Time
		key.LastUsedAt = &t
	}
	return key, nil
}
