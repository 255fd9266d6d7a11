package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/agrilink/marketplace/internal/apperr"
	"github.com/agrilink/marketplace/internal/domain/catalog"
	"github.com/agrilink/marketplace/internal/domain/order"
	"github.com/lib/pq"
)

var errDuplicateReference = apperr.New(apperr.Conflict, "duplicate_reference", "payment reference already in use")

const orderColumns = `id, order_number, buyer_id, farmer_id, subtotal, shipping_method, shipping_cost,
	total, delivery_address, notes, status, payment_method, payment_status, payment_reference,
	payer_email, authorization_url, access_code, payment_amount, currency, paid_at, transaction_id,
	failure_reason, gateway_response, created_at, updated_at`

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

// PostgresOrderStore implements order.Store. Every write runs in one
// transaction together with its outbox event.
type PostgresOrderStore struct {
	db *sql.DB
}

func NewPostgresOrderStore(db *sql.DB) *PostgresOrderStore {
	return &PostgresOrderStore{db: db}
}

func (s *PostgresOrderStore) Create(ctx context.Context, o *order.Order, ev order.Event) error {
	address, err := json.Marshal(o.DeliveryAddress)
	if err != nil {
		return err
	}

	return withTx(ctx, s.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO orders (id, order_number, buyer_id, farmer_id, subtotal, shipping_method,
				shipping_cost, total, delivery_address, notes, status, payment_status,
				payment_amount, currency, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
			o.ID, o.OrderNumber, o.BuyerID, o.FarmerID, o.Subtotal, o.Shipping.Method,
			o.Shipping.Cost, o.Total, address, o.Notes, o.Status, o.Payment.Status,
			o.Payment.Amount, o.Payment.Currency, o.CreatedAt, o.UpdatedAt,
		)
		if err != nil {
			if uniqueViolation(err, "orders_order_number_key") {
				return order.ErrDuplicateOrderNumber
			}
			return persistenceError(err)
		}

		for i, item := range o.Items {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO order_items (order_id, position, product_id, product_name, quantity, unit_price, unit, segment)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
				o.ID, i, item.ProductID, item.ProductName, item.Quantity, item.UnitPrice, item.Unit, item.Segment,
			)
			if err != nil {
				return persistenceError(err)
			}
		}

		return appendEvent(ctx, tx, ev, o.CreatedAt)
	})
}

func (s *PostgresOrderStore) Get(ctx context.Context, id string) (*order.Order, error) {
	return getOrder(ctx, s.db, "id = $1", id)
}

func (s *PostgresOrderStore) GetByReference(ctx context.Context, reference string) (*order.Order, error) {
	return getOrder(ctx, s.db, "payment_reference = $1", reference)
}

func (s *PostgresOrderStore) List(ctx context.Context, f order.ListFilter) ([]*order.Order, int, error) {
	var (
		where []string
		args  []any
	)
	if f.BuyerID != "" {
		args = append(args, f.BuyerID)
		where = append(where, fmt.Sprintf("buyer_id = $%d", len(args)))
	}
	if f.FarmerID != "" {
		args = append(args, f.FarmerID)
		where = append(where, fmt.Sprintf("farmer_id = $%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, f.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM orders"+clause, args...).Scan(&total); err != nil {
		return nil, 0, persistenceError(err)
	}

	args = append(args, f.Limit, f.Offset)
	query := fmt.Sprintf("SELECT %s FROM orders%s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d",
		orderColumns, clause, len(args)-1, len(args))

	orders, err := queryOrders(ctx, s.db, query, args...)
	if err != nil {
		return nil, 0, err
	}
	return orders, total, nil
}

func (s *PostgresOrderStore) TransitionStatus(ctx context.Context, id string, from, to order.Status, at time.Time, ev order.Event) (*order.Order, bool, error) {
	var (
		result  *order.Order
		applied bool
	)
	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE orders SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4`,
			to, at, id, from,
		)
		if err != nil {
			return persistenceError(err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return persistenceError(err)
		}
		if n == 1 {
			if err := appendEvent(ctx, tx, ev, at); err != nil {
				return err
			}
			applied = true
		}
		result, err = getOrder(ctx, tx, "id = $1", id)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return result, applied, nil
}

func (s *PostgresOrderStore) AttachPayment(ctx context.Context, id string, p order.Payment, at time.Time, ev order.Event) (*order.Order, bool, error) {
	var (
		result  *order.Order
		applied bool
	)
	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE orders
			SET payment_method = $1, payment_reference = $2, payer_email = $3, updated_at = $4
			WHERE id = $5 AND status = $6 AND payment_status = $7 AND payment_reference IS NULL`,
			p.Method, p.Reference, p.PayerEmail, at, id, order.StatusPaymentPending, order.PaymentPending,
		)
		if err != nil {
			if uniqueViolation(err, "orders_payment_reference_key") {
				return errDuplicateReference
			}
			return persistenceError(err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return persistenceError(err)
		}
		if n == 1 {
			if err := appendEvent(ctx, tx, ev, at); err != nil {
				return err
			}
			applied = true
		}
		result, err = getOrder(ctx, tx, "id = $1", id)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return result, applied, nil
}

func (s *PostgresOrderStore) RecordAuthorization(ctx context.Context, id, reference, authorizationURL, accessCode string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE orders
		SET authorization_url = $1, access_code = $2, updated_at = $3
		WHERE id = $4 AND payment_reference = $5 AND payment_status = $6`,
		authorizationURL, accessCode, at, id, reference, order.PaymentPending,
	)
	if err != nil {
		return persistenceError(err)
	}
	return nil
}

// Settle locks the order row, applies every deduction and writes the
// payment and status, or rolls all of it back.
func (s *PostgresOrderStore) Settle(ctx context.Context, st order.Settlement, ev order.Event) (*order.Order, bool, error) {
	var (
		result  *order.Order
		applied bool
	)
	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		var paymentStatus order.PaymentStatus
		err := tx.QueryRowContext(ctx,
			`SELECT payment_status FROM orders WHERE id = $1 FOR UPDATE`, st.OrderID,
		).Scan(&paymentStatus)
		if errors.Is(err, sql.ErrNoRows) {
			return order.ErrOrderNotFound
		}
		if err != nil {
			return persistenceError(err)
		}

		if paymentStatus == order.PaymentPending {
			if err := deductInventory(ctx, tx, st.Deductions, st.RequireStock); err != nil {
				return err
			}

			var paidAt sql.NullTime
			if st.Payment.PaidAt != nil {
				paidAt = sql.NullTime{Time: *st.Payment.PaidAt, Valid: true}
			}
			_, err = tx.ExecContext(ctx, `
				UPDATE orders
				SET status = $1, payment_status = $2, payment_amount = $3, currency = $4, paid_at = $5,
					transaction_id = $6, failure_reason = $7, gateway_response = $8, updated_at = $9
				WHERE id = $10`,
				st.Status, st.Payment.Status, st.Payment.Amount, st.Payment.Currency, paidAt,
				st.Payment.TransactionID, st.Payment.FailureReason, st.Payment.GatewayResponse, st.At,
				st.OrderID,
			)
			if err != nil {
				return persistenceError(err)
			}
			if err := appendEvent(ctx, tx, ev, st.At); err != nil {
				return err
			}
			applied = true
		}

		result, err = getOrder(ctx, tx, "id = $1", st.OrderID)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return result, applied, nil
}

// deductInventory moves stock from available to reserved. Products are
// updated in id order so concurrent settlements lock rows consistently.
func deductInventory(ctx context.Context, tx *sql.Tx, deductions []order.Deduction, requireStock bool) error {
	totals := make(map[string]int, len(deductions))
	for _, d := range deductions {
		totals[d.ProductID] += d.Quantity
	}
	ids := make([]string, 0, len(totals))
	for id := range totals {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		qty := totals[id]
		query := `UPDATE products
			SET available_quantity = available_quantity - $1,
				reserved_quantity = reserved_quantity + $1,
				updated_at = NOW()
			WHERE id = $2`
		if requireStock {
			query += ` AND available_quantity >= $1`
		}
		res, err := tx.ExecContext(ctx, query, qty, id)
		if err != nil {
			return persistenceError(err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return persistenceError(err)
		}
		if n == 1 {
			continue
		}

		var available int
		err = tx.QueryRowContext(ctx, `SELECT available_quantity FROM products WHERE id = $1`, id).Scan(&available)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", catalog.ErrProductNotFound, id)
		}
		if err != nil {
			return persistenceError(err)
		}
		return fmt.Errorf("%w: %s has %d available, needs %d", order.ErrInventoryExhausted, id, available, qty)
	}
	return nil
}

func (s *PostgresOrderStore) ListStalePending(ctx context.Context, before time.Time, limit int) ([]*order.Order, error) {
	query := fmt.Sprintf(`SELECT %s FROM orders
		WHERE status = $1 AND payment_status = $2 AND created_at < $3
		ORDER BY created_at ASC LIMIT $4`, orderColumns)
	return queryOrders(ctx, s.db, query, order.StatusPaymentPending, order.PaymentPending, before, limit)
}

func getOrder(ctx context.Context, q querier, where string, arg any) (*order.Order, error) {
	row := q.QueryRowContext(ctx, fmt.Sprintf("SELECT %s FROM orders WHERE %s", orderColumns, where), arg)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, order.ErrOrderNotFound
	}
	if err != nil {
		return nil, persistenceError(err)
	}
	if err := loadItems(ctx, q, []*order.Order{o}); err != nil {
		return nil, err
	}
	return o, nil
}

func queryOrders(ctx context.Context, q querier, query string, args ...any) ([]*order.Order, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, persistenceError(err)
	}
	defer rows.Close()

	orders := make([]*order.Order, 0)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, persistenceError(err)
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, persistenceError(err)
	}

	if err := loadItems(ctx, q, orders); err != nil {
		return nil, err
	}
	return orders, nil
}

func scanOrder(row rowScanner) (*order.Order, error) {
	var (
		o         order.Order
		address   []byte
		reference sql.NullString
		paidAt    sql.NullTime
	)
	err := row.Scan(
		&o.ID, &o.OrderNumber, &o.BuyerID, &o.FarmerID, &o.Subtotal, &o.Shipping.Method, &o.Shipping.Cost,
		&o.Total, &address, &o.Notes, &o.Status, &o.Payment.Method, &o.Payment.Status, &reference,
		&o.Payment.PayerEmail, &o.Payment.AuthorizationURL, &o.Payment.AccessCode, &o.Payment.Amount,
		&o.Payment.Currency, &paidAt, &o.Payment.TransactionID,
		&o.Payment.FailureReason, &o.Payment.GatewayResponse, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(address, &o.DeliveryAddress); err != nil {
		return nil, err
	}
	o.Payment.Reference = reference.String
	if paidAt.Valid {
		t := paidAt.Time
		o.Payment.PaidAt = &t
	}
	return &o, nil
}

func loadItems(ctx context.Context, q querier, orders []*order.Order) error {
	if len(orders) == 0 {
		return nil
	}
	byID := make(map[string]*order.Order, len(orders))
	ids := make([]string, len(orders))
	for i, o := range orders {
		byID[o.ID] = o
		ids[i] = o.ID
	}

	rows, err := q.QueryContext(ctx, `
		SELECT order_id, product_id, product_name, quantity, unit_price, unit, segment
		FROM order_items WHERE order_id = ANY($1) ORDER BY order_id, position`,
		pq.Array(ids),
	)
	if err != nil {
		return persistenceError(err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			orderID string
			item    order.Item
		)
		if err := rows.Scan(&orderID, &item.ProductID, &item.ProductName, &item.Quantity, &item.UnitPrice, &item.Unit, &item.Segment); err != nil {
			return persistenceError(err)
		}
		if o, ok := byID[orderID]; ok {
			o.Items = append(o.Items, item)
		}
	}
	if err := rows.Err(); err != nil {
		return persistenceError(err)
	}
	return nil
}
