package postgres

import (
	"context"

	"github.com/gamassss/edgelink/internal/domain"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AnalyticsRepository is the fallback analytics sink used when the Redis
// stream rejects a write.
type AnalyticsRepository struct {
	db *pgxpool.Pool
}

func NewAnalyticsRepository(db *pgxpool.Pool) *AnalyticsRepository {
	return &AnalyticsRepository{db: db}
}

// RecordClick inserts event at most once per (slug, timestamp, ip_hash).
// inserted is false when the row already existed.
func (r *AnalyticsRepository) RecordClick(ctx context.Context, event *domain.RedirectEvent) (inserted bool, err error) {
	query := `
		INSERT INTO click_events (
			link_id, slug, clicked_at, ip_hash, destination, device, country, city,
			referrer_domain, browser, os, routing_rule_matched
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT ON CONSTRAINT click_events_dedup_key DO NOTHING
	`
	tag, err := r.db.Exec(ctx, query,
		event.LinkID,
		event.Slug,
		event.Timestamp,
		event.IPHash,
		event.ResolvedDestination,
		event.Device,
		event.Country,
		event.City,
		event.ReferrerDomain,
		event.Browser,
		event.OS,
		event.RoutingRuleMatched,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// RuleMatches counts fallback rows per matched routing rule.
func (r *AnalyticsRepository) RuleMatches(ctx context.Context, linkID int64) (map[string]int64, error) {
	query := `
		SELECT routing_rule_matched, COUNT(*)
		FROM click_events
		WHERE link_id = $1
		GROUP BY routing_rule_matched
	`

	rows, err := r.db.Query(ctx, query, linkID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var (
			rule  string
			count int64
		)
		if err := rows.Scan(&rule, &count); err != nil {
			return nil, err
		}
		out[rule] = count
	}
	return out, rows.Err()
}
