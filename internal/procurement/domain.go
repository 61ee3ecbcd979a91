package procurement

import (
	"errors"
	"time"
)

// Purchase request lifecycle statuses.
type RequestStatus string

const (
	StatusPending  RequestStatus = "pending"
	StatusApproved RequestStatus = "approved"
	StatusRejected RequestStatus = "rejected"
	StatusBatched  RequestStatus = "batched"
	StatusOrdered  RequestStatus = "ordered"
	StatusReceived RequestStatus = "received"
)

// requestTransitions is the full status graph. Rejected and received are
// terminal; ordered can move back to approved or batched only through order
// cancellation.
var requestTransitions = map[RequestStatus][]RequestStatus{
	StatusPending:  {StatusApproved, StatusRejected},
	StatusApproved: {StatusBatched, StatusOrdered},
	StatusBatched:  {StatusApproved, StatusOrdered},
	StatusOrdered:  {StatusReceived, StatusApproved, StatusBatched},
}

// CanTransition reports whether the status graph allows moving between the
// two statuses.
func CanTransition(from, to RequestStatus) bool {
	for _, next := range requestTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether a status admits no further transitions.
func (s RequestStatus) Terminal() bool {
	return len(requestTransitions[s]) == 0
}

// FulfillmentMode distinguishes requests dispensed from existing stock at
// approval time from requests bought in and stocked at receipt time.
type FulfillmentMode string

const (
	// FulfillmentDeferred leaves stock untouched until the order is received.
	FulfillmentDeferred FulfillmentMode = "deferred"
	// FulfillmentImmediate deducts stock when the request is approved.
	FulfillmentImmediate FulfillmentMode = "immediate"
)

// Lot lifecycle statuses.
type LotStatus string

const (
	LotStatusOpen     LotStatus = "open"
	LotStatusConsumed LotStatus = "consumed"
	LotStatusReleased LotStatus = "released"
)

// Purchase order lifecycle statuses. Cancellation removes the document
// outright, so generated is the only persisted status.
type OrderStatus string

const (
	OrderStatusGenerated OrderStatus = "generated"
)

// PurchaseRequest records a need for a material to be bought for a site area.
type PurchaseRequest struct {
	ID               int64
	MaterialName     string
	MaterialID       int64
	Quantity         int64
	Unit             string
	Category         string
	Justification    string
	Area             string
	SupervisorID     int64
	Status           RequestStatus
	Fulfillment      FulfillmentMode
	LotID            int64
	OrderID          int64
	OriginalQuantity int64
	Notes            string
	Version          int64
	CreatedAt        time.Time
	UpdatedAt        time.Time
	ReceivedAt       time.Time
}

// Received reports whether the request reached its terminal received state.
func (r PurchaseRequest) Received() bool {
	return r.Status == StatusReceived
}

// Lot groups approved purchase requests of one category for joint ordering.
type Lot struct {
	ID        int64
	Category  string
	Status    LotStatus
	CreatedBy int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// OrderItem aggregates quantities of one material+unit pair.
type OrderItem struct {
	MaterialName  string
	TotalQuantity int64
	Unit          string
	Category      string
}

// PurchaseOrder is the document emitted when a lot is ordered from a supplier.
type PurchaseOrder struct {
	ID         int64
	Reference  string
	SupplierID int64
	Status     OrderStatus
	RequestIDs []int64
	Items      []OrderItem
	CreatedBy  int64
	CreatedAt  time.Time
}

// RequestFilter narrows request listings.
type RequestFilter struct {
	Status       RequestStatus
	Category     string
	LotID        int64
	OrderID      int64
	Area         string
	SupervisorID int64
	Limit        int
	Offset       int
}

var (
	// ErrValidation indicates invalid input.
	ErrValidation = errors.New("procurement: invalid input")
	// ErrNotFound indicates record missing.
	ErrNotFound = errors.New("procurement: not found")
	// ErrInvalidState occurs when an action violates the status workflow.
	ErrInvalidState = errors.New("procurement: invalid state transition")
	// ErrEmptyLot occurs when order generation receives no requests.
	ErrEmptyLot = errors.New("procurement: lot has no requests")
	// ErrConcurrentModification occurs when a request changed between read
	// and the conditional write, e.g. two operators ordering the same lot.
	ErrConcurrentModification = errors.New("procurement: request modified concurrently")
)
