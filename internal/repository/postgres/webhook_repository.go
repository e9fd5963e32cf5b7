package postgres

import (
	"context"
	"errors"

	"github.com/gamassss/edgelink/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type WebhookRepository struct {
	db *pgxpool.Pool
}

func NewWebhookRepository(db *pgxpool.Pool) *WebhookRepository {
	return &WebhookRepository{db: db}
}

const webhookColumns = `id::text, owner_id, name, url, events, slug, secret, created_at`

func scanSubscription(row pgx.Row) (*domain.Subscription, error) {
	var s domain.Subscription
	err := row.Scan(&s.ID, &s.OwnerID, &s.Name, &s.URL, &s.Events, &s.Slug, &s.Secret, &s.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Create inserts sub unless the owner already has maxPerOwner
// subscriptions. An advisory lock on the owner serialises concurrent
// creates so the limit cannot be overshot.
func (r *WebhookRepository) Create(ctx context.Context, sub *domain.Subscription, maxPerOwner int) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, sub.OwnerID); err != nil {
		return err
	}

	var count int
	if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM webhooks WHERE owner_id = $1`, sub.OwnerID).Scan(&count); err != nil {
		return err
	}
	if count >= maxPerOwner {
		return domain.ErrWebhookLimit
	}

	query := `
		INSERT INTO webhooks (id, owner_id, name, url, events, slug, secret)
		VALUES ($1::uuid, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`
	err = tx.QueryRow(ctx, query, sub.ID, sub.OwnerID, sub.Name, sub.URL, sub.Events, sub.Slug, sub.Secret).
		Scan(&sub.CreatedAt)
	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (r *WebhookRepository) Get(ctx context.Context, id string) (*domain.Subscription, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, domain.ErrNotFound
	}
	query := `SELECT ` + webhookColumns + ` FROM webhooks WHERE id = $1::uuid`
	return scanSubscription(r.db.QueryRow(ctx, query, id))
}

func (r *WebhookRepository) ListByOwner(ctx context.Context, ownerID string) ([]*domain.Subscription, error) {
	query := `SELECT ` + webhookColumns + ` FROM webhooks WHERE owner_id = $1 ORDER BY created_at`
	return r.list(ctx, query, ownerID)
}

// ListSubscribed returns the owner's subscriptions that want eventType
// for slug.
func (r *WebhookRepository) ListSubscribed(ctx context.Context, ownerID string, eventType domain.EventType, slug string) ([]*domain.Subscription, error) {
	query := `SELECT ` + webhookColumns + `
		FROM webhooks
		WHERE owner_id = $1
			AND $2 = ANY(events)
			AND (slug = '' OR slug = $3)
		ORDER BY created_at
	`
	return r.list(ctx, query, ownerID, string(eventType), slug)
}

func (r *WebhookRepository) list(ctx context.Context, query string, args ...any) ([]*domain.Subscription, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []*domain.Subscription
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, s)
	}
	return subs, rows.Err()
}

// Delete removes the owner's subscription. Pending deliveries are dropped
// lazily by the dispatcher.
func (r *WebhookRepository) Delete(ctx context.Context, ownerID, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return domain.ErrNotFound
	}
	tag, err := r.db.Exec(ctx, `DELETE FROM webhooks WHERE id = $1::uuid AND owner_id = $2`, id, ownerID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
