package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/unnati-rahatwal/Techvanza/internal/protocol"
	"github.com/unnati-rahatwal/Techvanza/internal/storage"
)

// CompletePurchase marks the listing sold to o.BuyerID and inserts the order
// in one transaction. A listing already sold to the same buyer without an
// order is completed rather than rejected.
func (s *Store) CompletePurchase(ctx context.Context, o protocol.Order, soldAt time.Time) (protocol.Listing, protocol.Order, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return protocol.Listing{}, o, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	l, err := scanListing(tx.QueryRow(ctx, `SELECT `+listingColumns+` FROM listings WHERE id = $1 FOR UPDATE`, o.ListingID))
	if errors.Is(err, pgx.ErrNoRows) {
		return l, o, storage.ErrListingState
	}
	if err != nil {
		return l, o, err
	}

	switch {
	case l.Status == protocol.ListingAvailable:
		l, err = scanListing(tx.QueryRow(ctx, `
UPDATE listings
SET status = 'sold', buyer_id = $2, sold_at = $3
WHERE id = $1
RETURNING `+listingColumns, o.ListingID, o.BuyerID, soldAt.UTC()))
		if err != nil {
			return l, o, err
		}
	case l.BuyerID != o.BuyerID:
		return l, o, storage.ErrListingSold
	default:
		var paymentID string
		err := tx.QueryRow(ctx, `SELECT payment_id FROM orders WHERE listing_id = $1 LIMIT 1`, o.ListingID).Scan(&paymentID)
		switch {
		case err == nil && paymentID == o.PaymentID:
			return l, o, storage.ErrOrderExists
		case err == nil:
			return l, o, storage.ErrListingSold
		case !errors.Is(err, pgx.ErrNoRows):
			return l, o, err
		}
	}

	o.CreatedAt = o.CreatedAt.UTC()
	_, err = tx.Exec(ctx, `
INSERT INTO orders (id, buyer_id, supplier_id, listing_id, quantity, total_price, gateway_order_id, payment_id, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
`, o.ID, o.BuyerID, o.SupplierID, o.ListingID, o.Quantity, o.TotalPrice, o.GatewayOrderID, o.PaymentID, o.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return l, o, storage.ErrOrderExists
		}
		return l, o, err
	}
	if err := tx.Commit(ctx); err != nil {
		return l, o, err
	}
	return l, o, nil
}

const orderColumns = `id, buyer_id, supplier_id, listing_id, quantity, total_price, gateway_order_id, payment_id,
  COALESCE(tx_reference, ''), tx_simulated, created_at`

func (s *Store) GetOrderByPaymentID(ctx context.Context, paymentID string) (protocol.Order, bool, error) {
	var o protocol.Order
	err := s.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE payment_id = $1`, paymentID).Scan(
		&o.ID, &o.BuyerID, &o.SupplierID, &o.ListingID, &o.Quantity, &o.TotalPrice, &o.GatewayOrderID,
		&o.PaymentID, &o.TxReference, &o.TxSimulated, &o.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return o, false, nil
	}
	if err != nil {
		return o, false, err
	}
	o.CreatedAt = o.CreatedAt.UTC()
	return o, true, nil
}

// ListOrdersByBuyer returns the buyer's orders, newest first, with the listing
// title and supplier name joined in.
func (s *Store) ListOrdersByBuyer(ctx context.Context, buyerID string, limit int) ([]protocol.BuyerOrder, error) {
	rows, err := s.pool.Query(ctx, `
SELECT o.id, o.buyer_id, o.supplier_id, o.listing_id, o.quantity, o.total_price, o.gateway_order_id, o.payment_id,
  COALESCE(o.tx_reference, ''), o.tx_simulated, o.created_at,
  COALESCE(l.title, ''), COALESCE(l.waste_type, ''), COALESCE(u.name, '')
FROM orders o
LEFT JOIN listings l ON l.id = o.listing_id
LEFT JOIN users u ON u.id = o.supplier_id
WHERE o.buyer_id = $1
ORDER BY o.created_at DESC, o.id DESC
LIMIT $2
`, buyerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]protocol.BuyerOrder, 0)
	for rows.Next() {
		var b protocol.BuyerOrder
		if err := rows.Scan(&b.ID, &b.BuyerID, &b.SupplierID, &b.ListingID, &b.Quantity, &b.TotalPrice, &b.GatewayOrderID,
			&b.PaymentID, &b.TxReference, &b.TxSimulated, &b.CreatedAt, &b.ListingTitle, &b.WasteType, &b.SupplierName); err != nil {
			return nil, err
		}
		b.CreatedAt = b.CreatedAt.UTC()
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *Store) SetOrderProvenance(ctx context.Context, orderID, txReference string, simulated bool) error {
	_, err := s.pool.Exec(ctx, `
UPDATE orders SET tx_reference = $2, tx_simulated = $3 WHERE id = $1
`, orderID, txReference, simulated)
	return err
}
