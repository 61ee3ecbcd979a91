package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/obralink/obralink/internal/platform/db"
)

// Repository persists inventory data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepo struct {
	tx pgx.Tx
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx, so the same SQL can
// run standalone or inside a caller-owned transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

const materialColumns = `id, name, normalized_name, unit, category, stock, COALESCE(supplier_id, 0), archived, created_at, updated_at`

func scanMaterial(row pgx.Row) (Material, error) {
	var m Material
	err := row.Scan(&m.ID, &m.Name, &m.NormalizedName, &m.Unit, &m.Category, &m.Stock, &m.SupplierID, &m.Archived, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Material{}, ErrNotFound
		}
		return Material{}, err
	}
	return m, nil
}

// GetMaterial returns a material by id.
func (r *Repository) GetMaterial(ctx context.Context, id int64) (Material, error) {
	return getMaterial(ctx, r.pool, id)
}

// GetMaterialTx is GetMaterial on a caller-owned transaction.
func (r *Repository) GetMaterialTx(ctx context.Context, tx pgx.Tx, id int64) (Material, error) {
	return getMaterial(ctx, tx, id)
}

func getMaterial(ctx context.Context, q querier, id int64) (Material, error) {
	row := q.QueryRow(ctx, `SELECT `+materialColumns+` FROM materials WHERE id = $1`, id)
	return scanMaterial(row)
}

// GetMaterialByExactName matches by case-sensitive name equality. Receipt
// reconciliation depends on this being exact.
func (r *Repository) GetMaterialByExactName(ctx context.Context, name string) (Material, error) {
	return getMaterialByExactName(ctx, r.pool, name)
}

// GetMaterialByExactNameTx is GetMaterialByExactName on a caller-owned transaction.
func (r *Repository) GetMaterialByExactNameTx(ctx context.Context, tx pgx.Tx, name string) (Material, error) {
	return getMaterialByExactName(ctx, tx, name)
}

func getMaterialByExactName(ctx context.Context, q querier, name string) (Material, error) {
	row := q.QueryRow(ctx, `SELECT `+materialColumns+` FROM materials WHERE name = $1 AND NOT archived ORDER BY id LIMIT 1`, name)
	return scanMaterial(row)
}

// FindByNormalizedName resolves the canonical material for a registry key,
// following merge aliases.
func (r *Repository) FindByNormalizedName(ctx context.Context, normalized string) (Material, error) {
	return findByNormalizedName(ctx, r.pool, normalized)
}

// FindByNormalizedNameTx is FindByNormalizedName on a caller-owned transaction.
func (r *Repository) FindByNormalizedNameTx(ctx context.Context, tx pgx.Tx, normalized string) (Material, error) {
	return findByNormalizedName(ctx, tx, normalized)
}

func findByNormalizedName(ctx context.Context, q querier, normalized string) (Material, error) {
	row := q.QueryRow(ctx, `SELECT `+materialColumns+` FROM materials WHERE normalized_name = $1 AND NOT archived LIMIT 1`, normalized)
	m, err := scanMaterial(row)
	if err == nil {
		return m, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Material{}, err
	}
	row = q.QueryRow(ctx, `SELECT m.id, m.name, m.normalized_name, m.unit, m.category, m.stock, COALESCE(m.supplier_id, 0), m.archived, m.created_at, m.updated_at
FROM material_aliases a JOIN materials m ON m.id = a.material_id WHERE a.normalized_name = $1 LIMIT 1`, normalized)
	return scanMaterial(row)
}

// ListMaterials lists materials with filters and a total count.
func (r *Repository) ListMaterials(ctx context.Context, filter MaterialFilter) ([]Material, int, error) {
	countSQL := `SELECT COUNT(*) FROM materials WHERE 1=1`
	dataSQL := `SELECT ` + materialColumns + ` FROM materials WHERE 1=1`
	args := []any{}
	argNum := 1

	appendClause := func(clause string, value any) {
		countSQL += clause + itoa(argNum)
		dataSQL += clause + itoa(argNum)
		args = append(args, value)
		argNum++
	}
	if filter.Category != "" {
		appendClause(` AND category = $`, filter.Category)
	}
	if filter.Search != "" {
		appendClause(` AND name ILIKE $`, "%"+filter.Search+"%")
	}
	if !filter.IncludeArchived {
		countSQL += ` AND NOT archived`
		dataSQL += ` AND NOT archived`
	}

	var total int
	if err := r.pool.QueryRow(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	dataSQL += ` ORDER BY name ASC LIMIT $` + itoa(argNum) + ` OFFSET $` + itoa(argNum+1)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.pool.Query(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []Material
	for rows.Next() {
		m, err := scanMaterial(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, m)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// ListMovements returns the most recent ledger entries for a material.
func (r *Repository) ListMovements(ctx context.Context, materialID int64, limit int) ([]StockMovement, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, material_id, delta, balance, ref_module, COALESCE(ref_id, ''), note, actor_id, posted_at
FROM stock_movements WHERE material_id = $1 ORDER BY posted_at DESC, id DESC LIMIT $2`, materialID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var movements []StockMovement
	for rows.Next() {
		var mv StockMovement
		if err := rows.Scan(&mv.ID, &mv.MaterialID, &mv.Delta, &mv.Balance, &mv.RefModule, &mv.RefID, &mv.Note, &mv.ActorID, &mv.PostedAt); err != nil {
			return nil, err
		}
		movements = append(movements, mv)
	}
	return movements, rows.Err()
}

func (t *txRepo) InsertMaterial(ctx context.Context, m Material) (int64, error) {
	return insertMaterial(ctx, t.tx, m)
}

// InsertMaterialTx inserts a material on a caller-owned transaction.
func (r *Repository) InsertMaterialTx(ctx context.Context, tx pgx.Tx, m Material) (int64, error) {
	return insertMaterial(ctx, tx, m)
}

func insertMaterial(ctx context.Context, q querier, m Material) (int64, error) {
	var id int64
	err := q.QueryRow(ctx, `INSERT INTO materials (name, normalized_name, unit, category, stock, supplier_id, archived, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, NULLIF($6, 0), false, NOW(), NOW()) RETURNING id`,
		m.Name, m.NormalizedName, m.Unit, m.Category, m.Stock, m.SupplierID).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return 0, ErrDuplicateName
		}
		return 0, err
	}
	return id, nil
}

func (t *txRepo) IncrementStock(ctx context.Context, id int64, delta int64) (int64, error) {
	return incrementStock(ctx, t.tx, id, delta)
}

// IncrementStockTx applies a stock delta on a caller-owned transaction.
func (r *Repository) IncrementStockTx(ctx context.Context, tx pgx.Tx, id int64, delta int64) (int64, error) {
	return incrementStock(ctx, tx, id, delta)
}

// incrementStock applies the delta with a guard that keeps stock non-negative.
// The arithmetic happens inside the UPDATE so concurrent writers cannot lose
// each other's increments.
func incrementStock(ctx context.Context, q querier, id int64, delta int64) (int64, error) {
	var balance int64
	err := q.QueryRow(ctx, `UPDATE materials SET stock = stock + $1, updated_at = NOW()
WHERE id = $2 AND stock + $1 >= 0 RETURNING stock`, delta, id).Scan(&balance)
	if err == nil {
		return balance, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, err
	}
	var exists bool
	if scanErr := q.QueryRow(ctx, `SELECT true FROM materials WHERE id = $1`, id).Scan(&exists); scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, scanErr
	}
	return 0, ErrInsufficientStock
}

func (t *txRepo) SetArchived(ctx context.Context, id int64, archived bool) error {
	tag, err := t.tx.Exec(ctx, `UPDATE materials SET archived = $1, updated_at = NOW() WHERE id = $2`, archived, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *txRepo) InsertMovement(ctx context.Context, mv StockMovement) error {
	return insertMovement(ctx, t.tx, mv)
}

// InsertMovementTx posts a ledger entry on a caller-owned transaction.
func (r *Repository) InsertMovementTx(ctx context.Context, tx pgx.Tx, mv StockMovement) error {
	return insertMovement(ctx, tx, mv)
}

func insertMovement(ctx context.Context, q querier, mv StockMovement) error {
	_, err := q.Exec(ctx, `INSERT INTO stock_movements (material_id, delta, balance, ref_module, ref_id, note, actor_id, posted_at)
VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8)`,
		mv.MaterialID, mv.Delta, mv.Balance, mv.RefModule, mv.RefID, mv.Note, mv.ActorID, mv.PostedAt)
	return err
}

func (t *txRepo) InsertAlias(ctx context.Context, alias MaterialAlias) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO material_aliases (normalized_name, material_id, created_at) VALUES ($1, $2, NOW())
ON CONFLICT (normalized_name) DO UPDATE SET material_id = EXCLUDED.material_id`, alias.NormalizedName, alias.MaterialID)
	return err
}

func (t *txRepo) ReassignRequests(ctx context.Context, fromMaterialID, toMaterialID int64) (int64, error) {
	tag, err := t.tx.Exec(ctx, `UPDATE purchase_requests SET material_id = $1 WHERE material_id = $2`, toMaterialID, fromMaterialID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (t *txRepo) DeleteMaterial(ctx context.Context, id int64) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM materials WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func itoa(i int) string {
	return fmt.Sprintf("%d", i)
}
