package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgUnitOfWork runs each unit in one Postgres transaction. Every read in Run
// takes FOR UPDATE row locks, always order row first, and every update is
// conditional on the row version. View runs in a read-only transaction
// without row locks.
type PgUnitOfWork struct{ DB *pgxpool.Pool }

func (u *PgUnitOfWork) Run(ctx context.Context, fn func(ctx context.Context, st Store) error) error {
	return u.inTx(ctx, pgx.TxOptions{}, true, fn)
}

func (u *PgUnitOfWork) View(ctx context.Context, fn func(ctx context.Context, st Store) error) error {
	return u.inTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly}, false, fn)
}

func (u *PgUnitOfWork) inTx(ctx context.Context, opts pgx.TxOptions, lock bool, fn func(ctx context.Context, st Store) error) error {
	tx, err := u.DB.BeginTx(ctx, opts)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(ctx, pgStore{tx: tx, lock: lock}); err != nil {
		return txError(err)
	}
	return txError(tx.Commit(ctx))
}

// txError reports deadlocks and serialization failures as version
// conflicts so callers can retry them like any lost race.
func txError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && (pgErr.Code == "40P01" || pgErr.Code == "40001") {
		return fmt.Errorf("%w: %s", ErrVersionConflict, pgErr.Message)
	}
	return err
}

type pgStore struct {
	tx   pgx.Tx
	lock bool
}

func (s pgStore) Orders() Repository[Order] { return pgOrders(s.tx, s.lock) }
func (s pgStore) Lines() LineRepository     { return pgLines{pgOrderLines(s.tx, s.lock)} }
func (s pgStore) Fulfillments() FulfillmentRepository {
	return pgFulfillments{pgFulfillmentTable(s.tx, s.lock)}
}
func (s pgStore) FulfillmentLines() FulfillmentLineRepository {
	return pgFulfillmentLines{pgFulfillmentLineTable(s.tx, s.lock)}
}
func (s pgStore) Checkouts() CheckoutRepository { return pgCheckouts{tx: s.tx, lock: s.lock} }

// pgTable maps one entity type onto a table whose first column is id and
// which carries an integer version column.
type pgTable[T record[T]] struct {
	tx     pgx.Tx
	lock   bool
	name   string
	table  string
	cols   []string
	scan   func(row pgx.Row) (T, error)
	values func(T) []any
}

func (t pgTable[T]) selectSQL(where string) string {
	q := `SELECT ` + strings.Join(t.cols, ", ") + `, version FROM ` + t.table + ` WHERE ` + where
	if t.lock {
		q += ` FOR UPDATE`
	}
	return q
}

func (t pgTable[T]) query(ctx context.Context, where string, args ...any) ([]T, error) {
	rows, err := t.tx.Query(ctx, t.selectSQL(where), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []T
	for rows.Next() {
		v, err := t.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (t pgTable[T]) FindByID(ctx context.Context, id string) (T, error) {
	v, err := t.scan(t.tx.QueryRow(ctx, t.selectSQL(`id = $1`), id))
	if errors.Is(err, pgx.ErrNoRows) {
		var zero T
		return zero, fmt.Errorf("%w: %s %s", ErrNotFound, t.name, id)
	}
	return v, err
}

func (t pgTable[T]) FindAllByIDIgnoringMissing(ctx context.Context, ids []string) ([]T, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return t.query(ctx, `id = ANY($1) ORDER BY id`, ids)
}

func (t pgTable[T]) FindAllByID(ctx context.Context, ids []string) ([]T, error) {
	out, err := t.FindAllByIDIgnoringMissing(ctx, ids)
	if err != nil {
		return nil, err
	}
	found := make(map[string]bool, len(out))
	for _, v := range out {
		found[v.key()] = true
	}
	var missing []string
	for _, id := range ids {
		if !found[id] {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s %s", ErrNotFound, t.name, strings.Join(missing, ","))
	}
	return out, nil
}

func (t pgTable[T]) SaveAll(ctx context.Context, items []T) ([]T, error) {
	out := make([]T, 0, len(items))
	for _, it := range items {
		args := t.values(it)
		if it.version() == 0 {
			ph := make([]string, len(t.cols))
			for i := range ph {
				ph[i] = fmt.Sprintf("$%d", i+1)
			}
			sql := `INSERT INTO ` + t.table + ` (` + strings.Join(t.cols, ", ") + `, version) VALUES (` + strings.Join(ph, ",") + `, 1)`
			if _, err := t.tx.Exec(ctx, sql, args...); err != nil {
				return nil, err
			}
		} else {
			sets := make([]string, 0, len(t.cols)-1)
			for i, c := range t.cols[1:] {
				sets = append(sets, fmt.Sprintf("%s = $%d", c, i+2))
			}
			sql := fmt.Sprintf(`UPDATE %s SET %s, version = version + 1 WHERE id = $1 AND version = $%d`,
				t.table, strings.Join(sets, ", "), len(t.cols)+1)
			ct, err := t.tx.Exec(ctx, sql, append(args, it.version())...)
			if err != nil {
				return nil, err
			}
			if ct.RowsAffected() != 1 {
				return nil, fmt.Errorf("%w: %s %s at version %d", ErrVersionConflict, t.name, it.key(), it.version())
			}
		}
		out = append(out, it.bumped())
	}
	return out, nil
}

func (t pgTable[T]) DeleteAll(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := t.tx.Exec(ctx, `DELETE FROM `+t.table+` WHERE id = ANY($1)`, ids)
	return err
}

func pgOrders(tx pgx.Tx, lock bool) pgTable[Order] {
	return pgTable[Order]{
		tx: tx, lock: lock, name: "order", table: "orders",
		cols: []string{"id", "customer_id", "email", "status", "previous_status", "currency", "total_cents",
			"captured_cents", "payment_id", "shipping_address", "billing_address", "shipping_method", "created_at", "updated_at"},
		scan: func(row pgx.Row) (Order, error) {
			var o Order
			var status, prev string
			err := row.Scan(&o.ID, &o.CustomerID, &o.Email, &status, &prev, &o.Currency, &o.TotalCents,
				&o.CapturedCents, &o.PaymentID, &o.ShippingAddress, &o.BillingAddress, &o.ShippingMethod,
				&o.CreatedAt, &o.UpdatedAt, &o.Version)
			o.Status, o.PreviousStatus = Status(status), Status(prev)
			return o, err
		},
		values: func(o Order) []any {
			return []any{o.ID, o.CustomerID, o.Email, string(o.Status), string(o.PreviousStatus), o.Currency, o.TotalCents,
				o.CapturedCents, o.PaymentID, o.ShippingAddress, o.BillingAddress, o.ShippingMethod, o.CreatedAt, o.UpdatedAt}
		},
	}
}

func pgOrderLines(tx pgx.Tx, lock bool) pgTable[OrderLine] {
	return pgTable[OrderLine]{
		tx: tx, lock: lock, name: "order line", table: "order_lines",
		cols: []string{"id", "order_id", "product_id", "product_name", "product_sku", "unit_price_cents",
			"quantity", "fulfilled_quantity", "reserved_quantity", "shipping_required"},
		scan: func(row pgx.Row) (OrderLine, error) {
			var l OrderLine
			err := row.Scan(&l.ID, &l.OrderID, &l.ProductID, &l.ProductName, &l.ProductSKU, &l.UnitPriceCents,
				&l.Quantity, &l.FulfilledQuantity, &l.ReservedQuantity, &l.ShippingRequired, &l.Version)
			return l, err
		},
		values: func(l OrderLine) []any {
			return []any{l.ID, l.OrderID, l.ProductID, l.ProductName, l.ProductSKU, l.UnitPriceCents,
				l.Quantity, l.FulfilledQuantity, l.ReservedQuantity, l.ShippingRequired}
		},
	}
}

func pgFulfillmentTable(tx pgx.Tx, lock bool) pgTable[Fulfillment] {
	return pgTable[Fulfillment]{
		tx: tx, lock: lock, name: "fulfillment", table: "fulfillments",
		cols: []string{"id", "order_id", "sequence", "completed", "tracking_number", "created_at", "updated_at", "completed_at"},
		scan: func(row pgx.Row) (Fulfillment, error) {
			var f Fulfillment
			err := row.Scan(&f.ID, &f.OrderID, &f.Sequence, &f.Completed, &f.TrackingNumber,
				&f.CreatedAt, &f.UpdatedAt, &f.CompletedAt, &f.Version)
			return f, err
		},
		values: func(f Fulfillment) []any {
			return []any{f.ID, f.OrderID, f.Sequence, f.Completed, f.TrackingNumber, f.CreatedAt, f.UpdatedAt, f.CompletedAt}
		},
	}
}

func pgFulfillmentLineTable(tx pgx.Tx, lock bool) pgTable[FulfillmentLine] {
	return pgTable[FulfillmentLine]{
		tx: tx, lock: lock, name: "fulfillment line", table: "fulfillment_lines",
		cols: []string{"id", "fulfillment_id", "order_line_id", "quantity"},
		scan: func(row pgx.Row) (FulfillmentLine, error) {
			var fl FulfillmentLine
			err := row.Scan(&fl.ID, &fl.FulfillmentID, &fl.OrderLineID, &fl.Quantity, &fl.Version)
			return fl, err
		},
		values: func(fl FulfillmentLine) []any {
			return []any{fl.ID, fl.FulfillmentID, fl.OrderLineID, fl.Quantity}
		},
	}
}

type pgLines struct{ pgTable[OrderLine] }

func (r pgLines) ByOrder(ctx context.Context, orderID string) ([]OrderLine, error) {
	return r.query(ctx, `order_id = $1 ORDER BY id`, orderID)
}

func (r pgLines) ByProduct(ctx context.Context, productID string) ([]OrderLine, error) {
	return r.query(ctx, `product_id = $1 ORDER BY id`, productID)
}

type pgFulfillments struct{ pgTable[Fulfillment] }

func (r pgFulfillments) ByOrder(ctx context.Context, orderID string) ([]Fulfillment, error) {
	return r.query(ctx, `order_id = $1 ORDER BY sequence`, orderID)
}

// OrderIDOf never locks, so callers can find the owning order before
// taking the order row lock.
func (r pgFulfillments) OrderIDOf(ctx context.Context, fulfillmentID string) (string, error) {
	var orderID string
	err := r.tx.QueryRow(ctx, `SELECT order_id FROM fulfillments WHERE id = $1`, fulfillmentID).Scan(&orderID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("%w: fulfillment %s", ErrNotFound, fulfillmentID)
	}
	return orderID, err
}

type pgFulfillmentLines struct{ pgTable[FulfillmentLine] }

func (r pgFulfillmentLines) ByFulfillments(ctx context.Context, fulfillmentIDs []string) ([]FulfillmentLine, error) {
	return r.query(ctx, `fulfillment_id = ANY($1) ORDER BY id`, fulfillmentIDs)
}

type pgCheckouts struct {
	tx   pgx.Tx
	lock bool
}

func (r pgCheckouts) FindByID(ctx context.Context, id string) (Checkout, error) {
	var c Checkout
	q := `
		SELECT id, customer_id, email, currency, shipping_address, billing_address, shipping_method, payment_intent_id, created_at
		FROM checkouts WHERE id = $1`
	if r.lock {
		q += ` FOR UPDATE`
	}
	err := r.tx.QueryRow(ctx, q, id).
		Scan(&c.ID, &c.CustomerID, &c.Email, &c.Currency, &c.ShippingAddress, &c.BillingAddress, &c.ShippingMethod, &c.PaymentIntentID, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Checkout{}, fmt.Errorf("%w: checkout %s", ErrNotFound, id)
	}
	if err != nil {
		return Checkout{}, err
	}

	rows, err := r.tx.Query(ctx, `
		SELECT product_id, sku, name, unit_price_cents, quantity, shipping_required
		FROM checkout_lines WHERE checkout_id = $1 ORDER BY position`, id)
	if err != nil {
		return Checkout{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var l CheckoutLine
		if err := rows.Scan(&l.ProductID, &l.SKU, &l.Name, &l.UnitPriceCents, &l.Quantity, &l.ShippingRequired); err != nil {
			return Checkout{}, err
		}
		c.Lines = append(c.Lines, l)
	}
	return c, rows.Err()
}

func (r pgCheckouts) Insert(ctx context.Context, c Checkout) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	_, err := r.tx.Exec(ctx, `
		INSERT INTO checkouts (id, customer_id, email, currency, shipping_address, billing_address, shipping_method, payment_intent_id, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		c.ID, c.CustomerID, c.Email, c.Currency, c.ShippingAddress, c.BillingAddress, c.ShippingMethod, c.PaymentIntentID, c.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == "checkouts_customer_id_key" {
			return fmt.Errorf("%w: customer %s", ErrCheckoutExists, c.CustomerID)
		}
		return err
	}

	batch := &pgx.Batch{}
	for i, l := range c.Lines {
		batch.Queue(`INSERT INTO checkout_lines (checkout_id, position, product_id, sku, name, unit_price_cents, quantity, shipping_required)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
			c.ID, i, l.ProductID, l.SKU, l.Name, l.UnitPriceCents, l.Quantity, l.ShippingRequired)
	}
	return r.tx.SendBatch(ctx, batch).Close()
}

func (r pgCheckouts) Delete(ctx context.Context, id string) error {
	ct, err := r.tx.Exec(ctx, `DELETE FROM checkouts WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("%w: checkout %s", ErrNotFound, id)
	}
	return nil
}
