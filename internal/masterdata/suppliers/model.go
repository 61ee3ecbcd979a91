package suppliers

import (
	"errors"
	"time"
)

// Supplier represents a supplier entity
type Supplier struct {
	ID         int64     `json:"id"`
	Code       string    `json:"code"`
	Name       string    `json:"name"`
	Address    string    `json:"address"`
	Email      string    `json:"email"`
	Phone      string    `json:"phone"`
	Categories []string  `json:"categories"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// ListFilters narrows supplier listings.
type ListFilters struct {
	Search   string
	Category string
	SortBy   string
	SortDir  string
	Limit    int
	Page     int
}

// ErrNotFound indicates the supplier does not exist.
var ErrNotFound = errors.New("suppliers: not found")
