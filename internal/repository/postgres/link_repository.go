package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gamassss/edgelink/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

type LinkRepository struct {
	db *pgxpool.Pool
}

func NewLinkRepository(db *pgxpool.Pool) *LinkRepository {
	return &LinkRepository{db: db}
}

const linkColumns = `
	id, slug, custom_domain, COALESCE(owner_id, ''), destination, created_at, updated_at,
	expires_at, max_clicks, click_count, COALESCE(password_hash, ''), COALESCE(utm_template, ''), routing
`

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func encodeRouting(r *domain.Routing) ([]byte, error) {
	if r == nil || r.IsEmpty() {
		return nil, nil
	}
	return json.Marshal(r)
}

func scanLink(row pgx.Row) (*domain.Link, error) {
	var (
		link    domain.Link
		routing []byte
	)
	err := row.Scan(
		&link.ID,
		&link.Slug,
		&link.CustomDomain,
		&link.OwnerID,
		&link.Destination,
		&link.CreatedAt,
		&link.UpdatedAt,
		&link.ExpiresAt,
		&link.MaxClicks,
		&link.ClickCount,
		&link.PasswordHash,
		&link.UTMTemplate,
		&routing,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}

	if len(routing) > 0 {
		link.Routing = &domain.Routing{}
		if err := json.Unmarshal(routing, link.Routing); err != nil {
			return nil, fmt.Errorf("decode routing for link %d: %w", link.ID, err)
		}
	}
	return &link, nil
}

func (r *LinkRepository) Create(ctx context.Context, link *domain.Link) error {
	routing, err := encodeRouting(link.Routing)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO links (slug, custom_domain, owner_id, destination, expires_at, max_clicks, password_hash, utm_template, routing)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, NULLIF($7, ''), NULLIF($8, ''), $9)
		RETURNING id, created_at, updated_at
	`

	err = r.db.QueryRow(ctx, query,
		link.Slug,
		link.CustomDomain,
		link.OwnerID,
		link.Destination,
		link.ExpiresAt,
		link.MaxClicks,
		link.PasswordHash,
		link.UTMTemplate,
		routing,
	).Scan(&link.ID, &link.CreatedAt, &link.UpdatedAt)
	if isUniqueViolation(err) {
		return domain.ErrSlugTaken
	}
	return err
}

// GetBySlug returns domain.ErrNotFound when no link exists in the scope.
// Expired links are returned; expiry is decided by the caller.
func (r *LinkRepository) GetBySlug(ctx context.Context, domainScope, slug string) (*domain.Link, error) {
	query := `SELECT ` + linkColumns + ` FROM links WHERE custom_domain = $1 AND slug = $2`
	return scanLink(r.db.QueryRow(ctx, query, domainScope, slug))
}

// Update persists the mutable fields of link and refreshes its
// updated_at and click_count from the row.
func (r *LinkRepository) Update(ctx context.Context, link *domain.Link) error {
	routing, err := encodeRouting(link.Routing)
	if err != nil {
		return err
	}

	query := `
		UPDATE links
		SET destination = $2,
			expires_at = $3,
			max_clicks = $4,
			password_hash = NULLIF($5, ''),
			utm_template = NULLIF($6, ''),
			routing = $7,
			updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at, click_count
	`

	err = r.db.QueryRow(ctx, query,
		link.ID,
		link.Destination,
		link.ExpiresAt,
		link.MaxClicks,
		link.PasswordHash,
		link.UTMTemplate,
		routing,
	).Scan(&link.UpdatedAt, &link.ClickCount)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrNotFound
	}
	return err
}

// Rename changes the slug in place so the link id, click count and
// analytics association survive.
func (r *LinkRepository) Rename(ctx context.Context, link *domain.Link, newSlug string) error {
	query := `UPDATE links SET slug = $2, updated_at = NOW() WHERE id = $1 RETURNING updated_at`

	var updatedAt time.Time
	err := r.db.QueryRow(ctx, query, link.ID, newSlug).Scan(&updatedAt)
	switch {
	case isUniqueViolation(err):
		return domain.ErrSlugTaken
	case errors.Is(err, pgx.ErrNoRows):
		return domain.ErrNotFound
	case err != nil:
		return err
	}

	link.Slug = newSlug
	link.UpdatedAt = updatedAt
	return nil
}

func (r *LinkRepository) Delete(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM links WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// IncrementClicks adds one click unless max_clicks is already reached.
// applied is false when the guard rejected the increment or the link is gone.
func (r *LinkRepository) IncrementClicks(ctx context.Context, id int64) (count int64, applied bool, err error) {
	query := `
		UPDATE links
		SET click_count = click_count + 1
		WHERE id = $1 AND (max_clicks IS NULL OR click_count < max_clicks)
		RETURNING click_count
	`

	err = r.db.QueryRow(ctx, query, id).Scan(&count)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return count, true, nil
}

func (r *LinkRepository) ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]*domain.Link, error) {
	query := `SELECT ` + linkColumns + `
		FROM links
		WHERE owner_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.Query(ctx, query, ownerID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var links []*domain.Link
	for rows.Next() {
		link, err := scanLink(rows)
		if err != nil {
			return nil, err
		}
		links = append(links, link)
	}
	return links, rows.Err()
}

func (r *LinkRepository) CountByOwner(ctx context.Context, ownerID string) (int64, error) {
	var total int64
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM links WHERE owner_id = $1`, ownerID).Scan(&total)
	return total, err
}
