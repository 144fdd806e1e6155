package pg

import (
	"context"
	"database/sql"
	"time"

	"lynxtms.io/internal/authz"
	"lynxtms.io/internal/ids"
)

const maxAuditPage = 1000

func (s *Store) AppendDecision(ctx context.Context, rec *authz.DecisionRecord) error {
	if rec.ID == "" {
		rec.ID = ids.At(rec.OccurredAt)
	}
	attrs, err := marshalJSON(rec.Attributes)
	if err != nil {
		return err
	}
	meta, err := marshalJSON(rec.Metadata)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		insert into access_audit_log (id, organization_id, actor_kind, actor_id, action, resource, resource_id, decision, reason, matched_rule, attributes, metadata, trace_id, occurred_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, rec.ID, rec.OrganizationID, string(rec.ActorKind), rec.ActorID, rec.Action,
		nullIfEmpty(rec.Resource), nullIfEmpty(rec.ResourceID), string(rec.Decision), string(rec.Reason),
		nullIfEmpty(rec.MatchedRule), attrs, meta, nullIfEmpty(rec.TraceID), rec.OccurredAt)
	return err
}

func (s *Store) DecisionsByOrg(ctx context.Context, orgID string, from, to time.Time, limit int) ([]authz.DecisionRecord, error) {
	if limit <= 0 || limit > maxAuditPage {
		limit = maxAuditPage
	}
	rows, err := s.db.QueryContext(ctx, `
		select id, organization_id, actor_kind, actor_id, action, resource, resource_id, decision, reason, matched_rule, attributes, metadata, trace_id, occurred_at
		from access_audit_log
		where organization_id = $1 and occurred_at >= $2 and occurred_at < $3
		order by occurred_at desc
		limit $4
	`, orgID, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []authz.DecisionRecord
	for rows.Next() {
		var (
			rec         authz.DecisionRecord
			actorKind   string
			resource    sql.NullString
			resourceID  sql.NullString
			decision    string
			reason      string
			matchedRule sql.NullString
			attrsRaw    []byte
			metaRaw     []byte
			traceID     sql.NullString
		)
		if err := rows.Scan(&rec.ID, &rec.OrganizationID, &actorKind, &rec.ActorID, &rec.Action,
			&resource, &resourceID, &decision, &reason, &matchedRule,
			&attrsRaw, &metaRaw, &traceID, &rec.OccurredAt); err != nil {
			return nil, err
		}
		rec.ActorKind = authz.SubjectKind(actorKind)
		rec.Resource = resource.String
		rec.ResourceID = resourceID.String
		rec.Decision = authz.Effect(decision)
		rec.Reason = authz.Reason(reason)
		rec.MatchedRule = matchedRule.String
		rec.TraceID = traceID.String
		if rec.Attributes, err = unmarshalStringMap(attrsRaw); err != nil {
			return nil, err
		}
		if rec.Metadata, err = unmarshalStringMap(metaRaw); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
