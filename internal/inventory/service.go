package inventory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/obralink/obralink/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetMaterial(ctx context.Context, id int64) (Material, error)
	GetMaterialByExactName(ctx context.Context, name string) (Material, error)
	FindByNormalizedName(ctx context.Context, normalized string) (Material, error)
	ListMaterials(ctx context.Context, filter MaterialFilter) ([]Material, int, error)
	ListMovements(ctx context.Context, materialID int64, limit int) ([]StockMovement, error)
}

// TxRepository exposes transactional operations used by the service.
type TxRepository interface {
	InsertMaterial(ctx context.Context, m Material) (int64, error)
	IncrementStock(ctx context.Context, id int64, delta int64) (int64, error)
	SetArchived(ctx context.Context, id int64, archived bool) error
	InsertMovement(ctx context.Context, mv StockMovement) error
	InsertAlias(ctx context.Context, alias MaterialAlias) error
	ReassignRequests(ctx context.Context, fromMaterialID, toMaterialID int64) (int64, error)
	DeleteMaterial(ctx context.Context, id int64) error
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service coordinates material registry and stock operations.
type Service struct {
	repo  RepositoryPort
	audit AuditPort
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort) *Service {
	return &Service{repo: repo, audit: audit}
}

// CreateMaterialInput describes an explicit material registration.
type CreateMaterialInput struct {
	Name       string
	Unit       string
	Category   string
	Stock      int64
	SupplierID int64
	ActorID    int64
}

// CreateMaterial registers a material through the canonical registry.
func (s *Service) CreateMaterial(ctx context.Context, input CreateMaterialInput) (Material, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" || strings.TrimSpace(input.Unit) == "" {
		return Material{}, fmt.Errorf("%w: name and unit required", ErrValidation)
	}
	if input.Stock < 0 {
		return Material{}, fmt.Errorf("%w: stock must not be negative", ErrValidation)
	}
	normalized := NormalizeName(name)
	if existing, err := s.repo.FindByNormalizedName(ctx, normalized); err == nil {
		return Material{}, fmt.Errorf("%w: %q collides with %q", ErrDuplicateName, name, existing.Name)
	} else if !errors.Is(err, ErrNotFound) {
		return Material{}, err
	}
	m := Material{
		Name:           name,
		NormalizedName: normalized,
		Unit:           strings.TrimSpace(input.Unit),
		Category:       strings.TrimSpace(input.Category),
		Stock:          input.Stock,
		SupplierID:     input.SupplierID,
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.InsertMaterial(ctx, m)
		if err != nil {
			return err
		}
		m.ID = id
		if m.Stock > 0 {
			return tx.InsertMovement(ctx, StockMovement{
				MaterialID: id,
				Delta:      m.Stock,
				Balance:    m.Stock,
				RefModule:  "INVENTORY",
				Note:       "initial stock",
				ActorID:    input.ActorID,
				PostedAt:   time.Now().UTC(),
			})
		}
		return nil
	})
	if err != nil {
		return Material{}, err
	}
	s.recordAudit(ctx, input.ActorID, "MATERIAL_CREATE", m.ID, map[string]any{"name": m.Name})
	return m, nil
}

// GetMaterial fetches one material.
func (s *Service) GetMaterial(ctx context.Context, id int64) (Material, error) {
	if id <= 0 {
		return Material{}, fmt.Errorf("%w: invalid material id", ErrValidation)
	}
	return s.repo.GetMaterial(ctx, id)
}

// ListMaterials lists materials with filters.
func (s *Service) ListMaterials(ctx context.Context, filter MaterialFilter) ([]Material, int, error) {
	if filter.Limit <= 0 {
		filter.Limit = 50
	}
	return s.repo.ListMaterials(ctx, filter)
}

// Movements returns the stock ledger for a material.
func (s *Service) Movements(ctx context.Context, materialID int64, limit int) ([]StockMovement, error) {
	if materialID <= 0 {
		return nil, fmt.Errorf("%w: invalid material id", ErrValidation)
	}
	if limit <= 0 {
		limit = 100
	}
	return s.repo.ListMovements(ctx, materialID, limit)
}

// AdjustStock applies a signed delta using the store's atomic increment, so
// two concurrent receipts never lose an update.
func (s *Service) AdjustStock(ctx context.Context, materialID int64, delta int64, actorID int64, note string) (int64, error) {
	if delta == 0 {
		return 0, fmt.Errorf("%w: delta must be non-zero", ErrValidation)
	}
	m, err := s.repo.GetMaterial(ctx, materialID)
	if err != nil {
		return 0, err
	}
	if m.Archived {
		return 0, ErrArchived
	}
	var balance int64
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		balance, err = tx.IncrementStock(ctx, materialID, delta)
		if err != nil {
			return err
		}
		return tx.InsertMovement(ctx, StockMovement{
			MaterialID: materialID,
			Delta:      delta,
			Balance:    balance,
			RefModule:  "INVENTORY",
			Note:       note,
			ActorID:    actorID,
			PostedAt:   time.Now().UTC(),
		})
	})
	if err != nil {
		return 0, err
	}
	s.recordAudit(ctx, actorID, "STOCK_ADJUST", materialID, map[string]any{"delta": delta, "balance": balance})
	return balance, nil
}

// ArchiveMaterial retires a material. Stock must be fully drawn down first.
func (s *Service) ArchiveMaterial(ctx context.Context, materialID int64, actorID int64) error {
	m, err := s.repo.GetMaterial(ctx, materialID)
	if err != nil {
		return err
	}
	if m.Archived {
		return ErrArchived
	}
	if m.Stock != 0 {
		return ErrStockNotEmpty
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.SetArchived(ctx, materialID, true)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, actorID, "MATERIAL_ARCHIVE", materialID, map[string]any{"name": m.Name})
	return nil
}

// MergeMaterials folds a duplicate record into a canonical one: stock moves
// over, open purchase requests are repointed, and the duplicate's name
// becomes an alias of the canonical material.
func (s *Service) MergeMaterials(ctx context.Context, duplicateID, canonicalID int64, actorID int64) error {
	if duplicateID == canonicalID {
		return fmt.Errorf("%w: cannot merge a material into itself", ErrValidation)
	}
	dup, err := s.repo.GetMaterial(ctx, duplicateID)
	if err != nil {
		return err
	}
	canonical, err := s.repo.GetMaterial(ctx, canonicalID)
	if err != nil {
		return err
	}
	if canonical.Archived {
		return ErrArchived
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if dup.Stock > 0 {
			balance, err := tx.IncrementStock(ctx, canonicalID, dup.Stock)
			if err != nil {
				return err
			}
			if err := tx.InsertMovement(ctx, StockMovement{
				MaterialID: canonicalID,
				Delta:      dup.Stock,
				Balance:    balance,
				RefModule:  "INVENTORY",
				Note:       fmt.Sprintf("merged from %s", dup.Name),
				ActorID:    actorID,
				PostedAt:   time.Now().UTC(),
			}); err != nil {
				return err
			}
		}
		if _, err := tx.ReassignRequests(ctx, duplicateID, canonicalID); err != nil {
			return err
		}
		if err := tx.InsertAlias(ctx, MaterialAlias{NormalizedName: dup.NormalizedName, MaterialID: canonicalID}); err != nil {
			return err
		}
		return tx.DeleteMaterial(ctx, duplicateID)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, actorID, "MATERIAL_MERGE", canonicalID, map[string]any{"duplicate": dup.Name, "canonical": canonical.Name})
	return nil
}

// Suggest finds the canonical material for a free-text name. It folds case
// and accents, which makes it suitable for proposing a link at receipt time,
// never for the final stock write.
func (s *Service) Suggest(ctx context.Context, name string) (Material, error) {
	normalized := NormalizeName(name)
	if normalized == "" {
		return Material{}, fmt.Errorf("%w: name required", ErrValidation)
	}
	return s.repo.FindByNormalizedName(ctx, normalized)
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{ActorID: actorID, Action: action, Entity: "inventory", EntityID: fmt.Sprintf("%d", entityID), Meta: meta})
}
