package procurement

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/obralink/obralink/internal/inventory"
	"github.com/obralink/obralink/internal/platform/db"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool      *pgxpool.Pool
	materials *inventory.Repository
}

// NewRepository constructs a repository. The inventory repository backs the
// material operations that stock reconciliation runs inside procurement
// transactions.
func NewRepository(pool *pgxpool.Pool, materials *inventory.Repository) *Repository {
	return &Repository{pool: pool, materials: materials}
}

type txRepo struct {
	tx        pgx.Tx
	materials *inventory.Repository
}

// WithTx wraps callback in repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx, materials: r.materials})
	})
}

const requestColumns = `id, material_name, COALESCE(material_id, 0), quantity, original_quantity, unit, category,
	justification, area, supervisor_id, status, fulfillment, COALESCE(lot_id, 0), COALESCE(order_id, 0),
	notes, version, received_at, created_at, updated_at`

func scanRequest(row pgx.Row) (PurchaseRequest, error) {
	var req PurchaseRequest
	var receivedAt pgtype.Timestamptz
	err := row.Scan(
		&req.ID, &req.MaterialName, &req.MaterialID, &req.Quantity, &req.OriginalQuantity, &req.Unit, &req.Category,
		&req.Justification, &req.Area, &req.SupervisorID, &req.Status, &req.Fulfillment, &req.LotID, &req.OrderID,
		&req.Notes, &req.Version, &receivedAt, &req.CreatedAt, &req.UpdatedAt,
	)
	if err != nil {
		return PurchaseRequest{}, err
	}
	if receivedAt.Valid {
		req.ReceivedAt = receivedAt.Time
	}
	return req, nil
}

// GetRequest returns one purchase request.
func (r *Repository) GetRequest(ctx context.Context, id int64) (PurchaseRequest, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+requestColumns+` FROM purchase_requests WHERE id = $1`, id)
	req, err := scanRequest(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return PurchaseRequest{}, ErrNotFound
	}
	return req, err
}

// ListRequests returns requests matching the filter, newest first.
func (r *Repository) ListRequests(ctx context.Context, filter RequestFilter) ([]PurchaseRequest, error) {
	conditions := []string{"1=1"}
	args := []any{}
	if filter.Status != "" {
		args = append(args, filter.Status)
		conditions = append(conditions, "status = $"+strconv.Itoa(len(args)))
	}
	if filter.Category != "" {
		args = append(args, filter.Category)
		conditions = append(conditions, "category = $"+strconv.Itoa(len(args)))
	}
	if filter.LotID != 0 {
		args = append(args, filter.LotID)
		conditions = append(conditions, "lot_id = $"+strconv.Itoa(len(args)))
	}
	if filter.SupervisorID != 0 {
		args = append(args, filter.SupervisorID)
		conditions = append(conditions, "supervisor_id = $"+strconv.Itoa(len(args)))
	}
	if filter.OrderID != 0 {
		args = append(args, filter.OrderID)
		conditions = append(conditions, "order_id = $"+strconv.Itoa(len(args)))
	}
	if filter.Area != "" {
		args = append(args, filter.Area)
		conditions = append(conditions, "area = $"+strconv.Itoa(len(args)))
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit, filter.Offset)
	query := fmt.Sprintf(`SELECT %s FROM purchase_requests WHERE %s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		requestColumns, strings.Join(conditions, " AND "), len(args)-1, len(args))
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []PurchaseRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

// ListLotRequests returns every member of a lot, unpaginated.
func (r *Repository) ListLotRequests(ctx context.Context, lotID int64) ([]PurchaseRequest, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+requestColumns+` FROM purchase_requests WHERE lot_id = $1 ORDER BY id`, lotID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []PurchaseRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

// GetLot returns one lot.
func (r *Repository) GetLot(ctx context.Context, id int64) (Lot, error) {
	var lot Lot
	err := r.pool.QueryRow(ctx,
		`SELECT id, category, status, created_by, created_at, updated_at FROM lots WHERE id = $1`, id,
	).Scan(&lot.ID, &lot.Category, &lot.Status, &lot.CreatedBy, &lot.CreatedAt, &lot.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Lot{}, ErrNotFound
	}
	return lot, err
}

// ListLots returns lots in the given status.
func (r *Repository) ListLots(ctx context.Context, status LotStatus) ([]Lot, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, category, status, created_by, created_at, updated_at FROM lots WHERE status = $1 ORDER BY id`, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Lot
	for rows.Next() {
		var lot Lot
		if err := rows.Scan(&lot.ID, &lot.Category, &lot.Status, &lot.CreatedBy, &lot.CreatedAt, &lot.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, lot)
	}
	return out, rows.Err()
}

// GetOrder returns one purchase order with items and member request ids.
func (r *Repository) GetOrder(ctx context.Context, id int64) (PurchaseOrder, error) {
	var order PurchaseOrder
	err := r.pool.QueryRow(ctx,
		`SELECT id, reference, supplier_id, status, created_by, created_at FROM purchase_orders WHERE id = $1`, id,
	).Scan(&order.ID, &order.Reference, &order.SupplierID, &order.Status, &order.CreatedBy, &order.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return PurchaseOrder{}, ErrNotFound
	}
	if err != nil {
		return PurchaseOrder{}, err
	}

	itemRows, err := r.pool.Query(ctx,
		`SELECT material_name, unit, category, quantity FROM purchase_order_items WHERE order_id = $1 ORDER BY material_name, unit`, id)
	if err != nil {
		return PurchaseOrder{}, err
	}
	defer itemRows.Close()
	for itemRows.Next() {
		var item OrderItem
		if err := itemRows.Scan(&item.MaterialName, &item.Unit, &item.Category, &item.TotalQuantity); err != nil {
			return PurchaseOrder{}, err
		}
		order.Items = append(order.Items, item)
	}
	if err := itemRows.Err(); err != nil {
		return PurchaseOrder{}, err
	}

	reqRows, err := r.pool.Query(ctx, `SELECT id FROM purchase_requests WHERE order_id = $1 ORDER BY id`, id)
	if err != nil {
		return PurchaseOrder{}, err
	}
	defer reqRows.Close()
	for reqRows.Next() {
		var requestID int64
		if err := reqRows.Scan(&requestID); err != nil {
			return PurchaseOrder{}, err
		}
		order.RequestIDs = append(order.RequestIDs, requestID)
	}
	return order, reqRows.Err()
}

// ListOrders returns orders newest first, with total count.
func (r *Repository) ListOrders(ctx context.Context, limit, offset int) ([]PurchaseOrder, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM purchase_orders`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx,
		`SELECT id, reference, supplier_id, status, created_by, created_at FROM purchase_orders ORDER BY id DESC LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []PurchaseOrder
	for rows.Next() {
		var order PurchaseOrder
		if err := rows.Scan(&order.ID, &order.Reference, &order.SupplierID, &order.Status, &order.CreatedBy, &order.CreatedAt); err != nil {
			return nil, 0, err
		}
		out = append(out, order)
	}
	return out, total, rows.Err()
}

// Transactional operations

func (t *txRepo) InsertRequest(ctx context.Context, req PurchaseRequest) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO purchase_requests (
			material_name, material_id, quantity, original_quantity, unit, category,
			justification, area, supervisor_id, status, fulfillment, notes, version, created_at, updated_at
		) VALUES ($1, NULLIF($2, 0), $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NOW(), NOW())
		RETURNING id`,
		req.MaterialName, req.MaterialID, req.Quantity, req.OriginalQuantity, req.Unit, req.Category,
		req.Justification, req.Area, req.SupervisorID, req.Status, req.Fulfillment, req.Notes, req.Version,
	).Scan(&id)
	return id, err
}

// UpdateRequestGuarded writes the full mutable state of a request, but only
// if the stored version still matches the one the caller read. Zero rows
// means someone else got there first.
func (t *txRepo) UpdateRequestGuarded(ctx context.Context, req PurchaseRequest) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE purchase_requests SET
			quantity = $1, original_quantity = $2, status = $3, notes = $4,
			material_id = NULLIF($5, 0), lot_id = NULLIF($6, 0), order_id = NULLIF($7, 0),
			received_at = $8, version = version + 1, updated_at = NOW()
		WHERE id = $9 AND version = $10`,
		req.Quantity, req.OriginalQuantity, req.Status, req.Notes,
		req.MaterialID, req.LotID, req.OrderID,
		nullableTime(req.ReceivedAt), req.ID, req.Version,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := t.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM purchase_requests WHERE id = $1)`, req.ID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrNotFound
		}
		return ErrConcurrentModification
	}
	return nil
}

func (t *txRepo) ListLotRequests(ctx context.Context, lotID int64) ([]PurchaseRequest, error) {
	rows, err := t.tx.Query(ctx, `SELECT `+requestColumns+` FROM purchase_requests WHERE lot_id = $1 ORDER BY id`, lotID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []PurchaseRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

func (t *txRepo) InsertLot(ctx context.Context, lot Lot) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO lots (category, status, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, NOW(), NOW()) RETURNING id`,
		lot.Category, lot.Status, lot.CreatedBy,
	).Scan(&id)
	return id, err
}

func (t *txRepo) UpdateLotStatus(ctx context.Context, lotID int64, status LotStatus) error {
	tag, err := t.tx.Exec(ctx, `UPDATE lots SET status = $1, updated_at = NOW() WHERE id = $2`, status, lotID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *txRepo) InsertOrder(ctx context.Context, order PurchaseOrder) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO purchase_orders (reference, supplier_id, status, created_by, created_at)
		VALUES ($1, $2, $3, $4, NOW()) RETURNING id`,
		order.Reference, order.SupplierID, order.Status, order.CreatedBy,
	).Scan(&id)
	if err != nil {
		return 0, err
	}
	for _, item := range order.Items {
		if _, err := t.tx.Exec(ctx, `
			INSERT INTO purchase_order_items (order_id, material_name, unit, category, quantity)
			VALUES ($1, $2, $3, $4, $5)`,
			id, item.MaterialName, item.Unit, item.Category, item.TotalQuantity,
		); err != nil {
			return 0, err
		}
	}
	return id, nil
}

func (t *txRepo) DeleteOrder(ctx context.Context, orderID int64) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM purchase_order_items WHERE order_id = $1`, orderID); err != nil {
		return err
	}
	tag, err := t.tx.Exec(ctx, `DELETE FROM purchase_orders WHERE id = $1`, orderID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Material operations delegate to the inventory repository on the same
// transaction so stock effects commit with the status flips.

func (t *txRepo) GetMaterial(ctx context.Context, id int64) (inventory.Material, error) {
	return t.materials.GetMaterialTx(ctx, t.tx, id)
}

func (t *txRepo) GetMaterialByExactName(ctx context.Context, name string) (inventory.Material, error) {
	return t.materials.GetMaterialByExactNameTx(ctx, t.tx, name)
}

func (t *txRepo) FindMaterialByNormalizedName(ctx context.Context, normalized string) (inventory.Material, error) {
	return t.materials.FindByNormalizedNameTx(ctx, t.tx, normalized)
}

func (t *txRepo) IncrementMaterialStock(ctx context.Context, id int64, delta int64) (int64, error) {
	return t.materials.IncrementStockTx(ctx, t.tx, id, delta)
}

func (t *txRepo) InsertMaterial(ctx context.Context, m inventory.Material) (int64, error) {
	return t.materials.InsertMaterialTx(ctx, t.tx, m)
}

func (t *txRepo) InsertStockMovement(ctx context.Context, mv inventory.StockMovement) error {
	return t.materials.InsertMovementTx(ctx, t.tx, mv)
}

func nullableTime(t time.Time) pgtype.Timestamptz {
	return pgtype.Timestamptz{Time: t, Valid: !t.IsZero()}
}
