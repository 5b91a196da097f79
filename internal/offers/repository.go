// Package offers stores the product catalog, regional prices and ownership.
package offers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/aura-webinar/funnel/internal/models"
)

// ErrNotFound is returned when an offer slug does not exist or is inactive.
var ErrNotFound = errors.New("offer not found")

// Repository handles offer persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an offer repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// LoadCatalog returns the active offers with the given slugs, each with all its regional prices.
// Unknown slugs are skipped.
func (r *Repository) LoadCatalog(ctx context.Context, slugs []string) ([]*models.Offer, error) {
	const q = `SELECT o.id, o.slug, o.name, o.description, o.metadata, o.file_key,
			p.region, p.currency, p.regular::text, p.discounted::text, p.eur_regular::text, p.eur_discounted::text
		FROM offers o
		LEFT JOIN offer_prices p ON p.offer_id = o.id
		WHERE o.slug = ANY($1) AND o.active
		ORDER BY o.slug, p.region`
	rows, err := r.pool.Query(ctx, q, slugs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	bySlug := make(map[string]*models.Offer)
	var list []*models.Offer
	for rows.Next() {
		var (
			o        models.Offer
			meta     []byte
			region   *string
			currency *string
			amounts  [4]*string
		)
		if err := rows.Scan(&o.ID, &o.Slug, &o.Name, &o.Description, &meta, &o.FileKey,
			&region, &currency, &amounts[0], &amounts[1], &amounts[2], &amounts[3]); err != nil {
			return nil, err
		}
		cur, ok := bySlug[o.Slug]
		if !ok {
			if len(meta) > 0 {
				if err := json.Unmarshal(meta, &o.Metadata); err != nil {
					return nil, fmt.Errorf("offer %s metadata: %w", o.Slug, err)
				}
			}
			o.Prices = make(map[string]models.Price)
			cur = &o
			bySlug[o.Slug] = cur
			list = append(list, cur)
		}
		if region == nil {
			continue
		}
		price, err := parsePrice(*region, *currency, amounts)
		if err != nil {
			return nil, fmt.Errorf("offer %s price %s: %w", o.Slug, *region, err)
		}
		cur.Prices[price.Region] = price
	}
	return list, rows.Err()
}

func parsePrice(region, currency string, amounts [4]*string) (models.Price, error) {
	var d [4]decimal.Decimal
	for i, a := range amounts {
		if a == nil {
			continue
		}
		v, err := decimal.NewFromString(*a)
		if err != nil {
			return models.Price{}, err
		}
		d[i] = v
	}
	return models.Price{
		Region:        region,
		Currency:      currency,
		Regular:       d[0],
		Discounted:    d[1],
		EURRegular:    d[2],
		EURDiscounted: d[3],
	}, nil
}

// GetBySlug returns one active offer with its prices.
func (r *Repository) GetBySlug(ctx context.Context, slug string) (*models.Offer, error) {
	list, err := r.LoadCatalog(ctx, []string{slug})
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, ErrNotFound
	}
	return list[0], nil
}

// OwnedSlugs returns the slugs granted to the user. Grants recorded by email before the
// account was linked count once any grant for that email carries the user id.
func (r *Repository) OwnedSlugs(ctx context.Context, userID uuid.UUID) ([]string, error) {
	const q = `SELECT DISTINCT o.slug
		FROM user_offers uo
		JOIN offers o ON o.id = uo.offer_id
		WHERE uo.user_id = $1
		   OR uo.email IN (SELECT email FROM user_offers WHERE user_id = $1)
		ORDER BY o.slug`
	rows, err := r.pool.Query(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var slugs []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		slugs = append(slugs, s)
	}
	return slugs, rows.Err()
}

// Owns reports whether the user has been granted the offer with slug.
func (r *Repository) Owns(ctx context.Context, userID uuid.UUID, slug string) (bool, error) {
	slugs, err := r.OwnedSlugs(ctx, userID)
	if err != nil {
		return false, err
	}
	for _, s := range slugs {
		if s == slug {
			return true, nil
		}
	}
	return false, nil
}

// Grant records ownership of the offers with slugs for email. Existing grants are kept.
// It returns the number of new grants.
func (r *Repository) Grant(ctx context.Context, email string, userID *uuid.UUID, slugs []string, source string) (int, error) {
	const q = `INSERT INTO user_offers (user_id, email, offer_id, source)
		SELECT $1, $2, o.id, $4 FROM offers o WHERE o.slug = ANY($3)
		ON CONFLICT (email, offer_id) DO UPDATE SET user_id = COALESCE(user_offers.user_id, EXCLUDED.user_id)
		RETURNING (xmax = 0)`
	var inserted int
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, q, userID, email, slugs, source)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var isNew bool
			if err := rows.Scan(&isNew); err != nil {
				return err
			}
			if isNew {
				inserted++
			}
		}
		return rows.Err()
	})
	if err != nil {
		return 0, fmt.Errorf("grant offers: %w", err)
	}
	return inserted, nil
}

// SetFileKey stores the S3 key of the offer's downloadable file.
func (r *Repository) SetFileKey(ctx context.Context, slug, key string) error {
	const q = `UPDATE offers SET file_key = $1 WHERE slug = $2`
	tag, err := r.pool.Exec(ctx, q, key, slug)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
