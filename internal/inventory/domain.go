package inventory

import (
	"errors"
	"time"
)

// Material models a stocked construction material.
type Material struct {
	ID             int64
	Name           string
	NormalizedName string
	Unit           string
	Category       string
	Stock          int64
	SupplierID     int64
	Archived       bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// MaterialAlias records a merged material name pointing at its canonical record.
type MaterialAlias struct {
	ID             int64
	NormalizedName string
	MaterialID     int64
	CreatedAt      time.Time
}

// StockMovement is the ledger entry written for every stock mutation.
type StockMovement struct {
	ID         int64
	MaterialID int64
	Delta      int64
	Balance    int64
	RefModule  string
	RefID      string
	Note       string
	ActorID    int64
	PostedAt   time.Time
}

// MaterialFilter narrows material listings.
type MaterialFilter struct {
	Category        string
	IncludeArchived bool
	Search          string
	Limit           int
	Offset          int
}

var (
	// ErrNotFound indicates the material does not exist.
	ErrNotFound = errors.New("inventory: material not found")
	// ErrValidation indicates invalid input.
	ErrValidation = errors.New("inventory: invalid input")
	// ErrDuplicateName indicates a normalized-name collision in the registry.
	ErrDuplicateName = errors.New("inventory: material name already registered")
	// ErrInsufficientStock occurs when a decrement exceeds the stock on hand.
	ErrInsufficientStock = errors.New("inventory: insufficient stock")
	// ErrStockNotEmpty blocks archiving a material that still has stock.
	ErrStockNotEmpty = errors.New("inventory: stock must be zero before archiving")
	// ErrArchived blocks mutations against archived materials.
	ErrArchived = errors.New("inventory: material is archived")
)
