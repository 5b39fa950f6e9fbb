package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/unnati-rahatwal/Techvanza/internal/protocol"
	"github.com/unnati-rahatwal/Techvanza/internal/storage"
)

//go:embed migrations/001_marketplace.sql
var migration001 string

//go:embed migrations/002_provenance_events.sql
var migration002 string

//go:embed migrations/003_notification_outbox.sql
var migration003 string

type Store struct {
	pool *pgxpool.Pool
}

func Open(ctx context.Context, dsn string, maxConns, minConns int32) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	if minConns >= 0 {
		cfg.MinConns = minConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	store := &Store{pool: pool}
	if err := store.applyMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) applyMigrations(ctx context.Context) error {
	for i, m := range []string{migration001, migration002, migration003} {
		if _, err := s.pool.Exec(ctx, m); err != nil {
			return fmt.Errorf("apply migration %03d: %w", i+1, err)
		}
	}
	return nil
}

func (s *Store) CreateUser(ctx context.Context, u protocol.User) (protocol.User, error) {
	u.CreatedAt = u.CreatedAt.UTC()
	_, err := s.pool.Exec(ctx, `
INSERT INTO users (id, name, email, mobile, role, location, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
`, u.ID, u.Name, u.Email, u.Mobile, string(u.Role), u.Location, u.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return u, storage.ErrUserExists
		}
		return u, err
	}
	return u, nil
}

func (s *Store) GetUser(ctx context.Context, id string) (protocol.User, bool, error) {
	var u protocol.User
	var role string
	err := s.pool.QueryRow(ctx, `
SELECT id, name, email, mobile, role, location, created_at
FROM users
WHERE id = $1
`, id).Scan(&u.ID, &u.Name, &u.Email, &u.Mobile, &role, &u.Location, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return u, false, nil
	}
	if err != nil {
		return u, false, err
	}
	u.Role = protocol.Role(role)
	u.CreatedAt = u.CreatedAt.UTC()
	return u, true, nil
}

func (s *Store) ListBuyersWithMobile(ctx context.Context) ([]protocol.User, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, name, email, mobile, role, location, created_at
FROM users
WHERE role = 'buyer' AND mobile <> ''
ORDER BY created_at ASC
`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]protocol.User, 0)
	for rows.Next() {
		var u protocol.User
		var role string
		if err := rows.Scan(&u.ID, &u.Name, &u.Email, &u.Mobile, &role, &u.Location, &u.CreatedAt); err != nil {
			return nil, err
		}
		u.Role = protocol.Role(role)
		u.CreatedAt = u.CreatedAt.UTC()
		out = append(out, u)
	}
	return out, rows.Err()
}

const listingColumns = `id, supplier_id, title, description, waste_type, quantity, price_per_kg, location, image_url,
  status, COALESCE(buyer_id, ''), COALESCE(provenance_tx_reference, ''), created_at, sold_at`

func scanListing(row pgx.Row) (protocol.Listing, error) {
	var l protocol.Listing
	var status string
	var soldAt *time.Time
	err := row.Scan(&l.ID, &l.SupplierID, &l.Title, &l.Description, &l.WasteType, &l.Quantity, &l.PricePerKg,
		&l.Location, &l.ImageURL, &status, &l.BuyerID, &l.ProvenanceTxReference, &l.CreatedAt, &soldAt)
	if err != nil {
		return l, err
	}
	l.Status = protocol.ListingStatus(status)
	l.CreatedAt = l.CreatedAt.UTC()
	if soldAt != nil {
		t := soldAt.UTC()
		l.SoldAt = &t
	}
	return l, nil
}

func (s *Store) CreateListing(ctx context.Context, l protocol.Listing) (protocol.Listing, error) {
	l.CreatedAt = l.CreatedAt.UTC()
	_, err := s.pool.Exec(ctx, `
INSERT INTO listings (id, supplier_id, title, description, waste_type, quantity, price_per_kg, location, image_url, status, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
`, l.ID, l.SupplierID, l.Title, l.Description, l.WasteType, l.Quantity, l.PricePerKg, l.Location, l.ImageURL, string(l.Status), l.CreatedAt)
	if err != nil {
		return l, err
	}
	return l, nil
}

func (s *Store) GetListing(ctx context.Context, id string) (protocol.Listing, bool, error) {
	l, err := scanListing(s.pool.QueryRow(ctx, `SELECT `+listingColumns+` FROM listings WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return l, false, nil
	}
	if err != nil {
		return l, false, err
	}
	return l, true, nil
}

func (s *Store) ListListings(ctx context.Context, f storage.ListingFilter) ([]protocol.Listing, error) {
	limit := f.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	clauses := make([]string, 0, 2)
	args := make([]any, 0, 3)
	if f.SupplierID != "" {
		args = append(args, f.SupplierID)
		clauses = append(clauses, fmt.Sprintf("supplier_id = $%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, string(f.Status))
		clauses = append(clauses, fmt.Sprintf("status = $%d", len(args)))
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	args = append(args, limit)
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`SELECT %s FROM listings %s ORDER BY created_at DESC LIMIT $%d`, listingColumns, where, len(args)), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]protocol.Listing, 0)
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *Store) SetListingProvenance(ctx context.Context, listingID, txReference string) error {
	_, err := s.pool.Exec(ctx, `
UPDATE listings SET provenance_tx_reference = $2 WHERE id = $1
`, listingID, txReference)
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "23505"
}
