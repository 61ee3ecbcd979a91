package procurement

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/obralink/obralink/internal/inventory"
	"github.com/obralink/obralink/internal/masterdata/suppliers"
	"github.com/obralink/obralink/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetRequest(ctx context.Context, id int64) (PurchaseRequest, error)
	ListRequests(ctx context.Context, filter RequestFilter) ([]PurchaseRequest, error)
	ListLotRequests(ctx context.Context, lotID int64) ([]PurchaseRequest, error)
	GetLot(ctx context.Context, id int64) (Lot, error)
	ListLots(ctx context.Context, status LotStatus) ([]Lot, error)
	GetOrder(ctx context.Context, id int64) (PurchaseOrder, error)
	ListOrders(ctx context.Context, limit, offset int) ([]PurchaseOrder, int, error)
}

// TxRepository exposes the operations that make up one atomic batch. Stock
// and status writes always travel together through it, so a crash can never
// leave one visible without the other.
type TxRepository interface {
	InsertRequest(ctx context.Context, req PurchaseRequest) (int64, error)
	UpdateRequestGuarded(ctx context.Context, req PurchaseRequest) error
	ListLotRequests(ctx context.Context, lotID int64) ([]PurchaseRequest, error)
	InsertLot(ctx context.Context, lot Lot) (int64, error)
	UpdateLotStatus(ctx context.Context, lotID int64, status LotStatus) error
	InsertOrder(ctx context.Context, order PurchaseOrder) (int64, error)
	DeleteOrder(ctx context.Context, orderID int64) error
	GetMaterial(ctx context.Context, id int64) (inventory.Material, error)
	GetMaterialByExactName(ctx context.Context, name string) (inventory.Material, error)
	FindMaterialByNormalizedName(ctx context.Context, normalized string) (inventory.Material, error)
	IncrementMaterialStock(ctx context.Context, id int64, delta int64) (int64, error)
	InsertMaterial(ctx context.Context, m inventory.Material) (int64, error)
	InsertStockMovement(ctx context.Context, mv inventory.StockMovement) error
}

// SupplierPort exposes required supplier lookups.
type SupplierPort interface {
	Get(ctx context.Context, id int64) (suppliers.Supplier, error)
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// ServiceConfig groups workflow policies.
type ServiceConfig struct {
	// CancelReturnStatus is the status cancelled orders return their
	// requests to. Approved puts them back in the open pool; batched keeps
	// them earmarked for re-ordering.
	CancelReturnStatus RequestStatus
}

// Service orchestrates the purchase request lifecycle.
type Service struct {
	repo         RepositoryPort
	suppliers    SupplierPort
	audit        AuditPort
	integration  IntegrationHandler
	cache        *Cache
	idempotency  *shared.IdempotencyStore
	cancelReturn RequestStatus
}

// NewService constructs the procurement service.
func NewService(repo RepositoryPort, supplierPort SupplierPort, audit AuditPort, integration IntegrationHandler, cache *Cache, idempotency *shared.IdempotencyStore, cfg ServiceConfig) *Service {
	cancelReturn := cfg.CancelReturnStatus
	if cancelReturn != StatusBatched {
		cancelReturn = StatusApproved
	}
	return &Service{repo: repo, suppliers: supplierPort, audit: audit, integration: integration, cache: cache, idempotency: idempotency, cancelReturn: cancelReturn}
}

// CreateRequestInput describes the creation payload.
type CreateRequestInput struct {
	MaterialName  string
	MaterialID    int64
	Quantity      int64
	Unit          string
	Category      string
	Justification string
	Area          string
	SupervisorID  int64
	Fulfillment   FulfillmentMode
}

// CreateRequest registers a new purchase request in pending state.
func (s *Service) CreateRequest(ctx context.Context, input CreateRequestInput) (PurchaseRequest, error) {
	if input.Quantity <= 0 {
		return PurchaseRequest{}, fmt.Errorf("%w: quantity must be positive", ErrValidation)
	}
	for field, value := range map[string]string{
		"material_name": input.MaterialName,
		"unit":          input.Unit,
		"category":      input.Category,
	} {
		if strings.TrimSpace(value) == "" {
			return PurchaseRequest{}, fmt.Errorf("%w: %s required", ErrValidation, field)
		}
	}
	mode := input.Fulfillment
	if mode == "" {
		mode = FulfillmentDeferred
	}
	if mode != FulfillmentDeferred && mode != FulfillmentImmediate {
		return PurchaseRequest{}, fmt.Errorf("%w: unknown fulfillment mode %q", ErrValidation, input.Fulfillment)
	}
	req := PurchaseRequest{
		MaterialName:  strings.TrimSpace(input.MaterialName),
		MaterialID:    input.MaterialID,
		Quantity:      input.Quantity,
		Unit:          strings.TrimSpace(input.Unit),
		Category:      strings.TrimSpace(input.Category),
		Justification: strings.TrimSpace(input.Justification),
		Area:          strings.TrimSpace(input.Area),
		SupervisorID:  input.SupervisorID,
		Status:        StatusPending,
		Fulfillment:   mode,
		Version:       1,
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.InsertRequest(ctx, req)
		if err != nil {
			return err
		}
		req.ID = id
		return nil
	})
	if err != nil {
		return PurchaseRequest{}, err
	}
	s.recordAudit(ctx, input.SupervisorID, "REQUEST_CREATE", req.ID, map[string]any{"material": req.MaterialName, "qty": req.Quantity})
	return req, nil
}

// ApproveInput carries the optional edits an approver may apply.
type ApproveInput struct {
	Quantity int64
	Notes    string
	ActorID  int64
}

// ApproveRequest transitions a pending request to approved. Immediate
// fulfillment dispenses the quantity from stock within the same batch;
// deferred fulfillment leaves stock untouched until receipt.
func (s *Service) ApproveRequest(ctx context.Context, requestID int64, input ApproveInput) error {
	req, err := s.repo.GetRequest(ctx, requestID)
	if err != nil {
		return err
	}
	if req.Status != StatusPending {
		return fmt.Errorf("%w: approve requires pending, got %s", ErrInvalidState, req.Status)
	}
	if input.Quantity < 0 {
		return fmt.Errorf("%w: quantity must be positive", ErrValidation)
	}
	if input.Quantity > 0 && input.Quantity != req.Quantity {
		req.OriginalQuantity = req.Quantity
		req.Quantity = input.Quantity
	}
	if input.Notes != "" {
		req.Notes = input.Notes
	}
	req.Status = StatusApproved
	now := time.Now().UTC()
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if req.Fulfillment == FulfillmentImmediate {
			material, err := s.resolveMaterial(ctx, tx, &req)
			if err != nil {
				return err
			}
			if material.ID == 0 {
				return fmt.Errorf("%w: immediate fulfillment requires a registered material", ErrValidation)
			}
			balance, err := tx.IncrementMaterialStock(ctx, material.ID, -req.Quantity)
			if err != nil {
				return err
			}
			if err := tx.InsertStockMovement(ctx, inventory.StockMovement{
				MaterialID: material.ID,
				Delta:      -req.Quantity,
				Balance:    balance,
				RefModule:  "PROCUREMENT",
				RefID:      fmt.Sprintf("request:%d", req.ID),
				Note:       fmt.Sprintf("dispensed to %s", req.Area),
				ActorID:    input.ActorID,
				PostedAt:   now,
			}); err != nil {
				return err
			}
		}
		return tx.UpdateRequestGuarded(ctx, req)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, input.ActorID, "REQUEST_APPROVE", req.ID, map[string]any{"qty": req.Quantity, "mode": string(req.Fulfillment)})
	if s.integration != nil {
		_ = s.integration.HandleRequestApproved(ctx, RequestApprovedEvent{
			RequestID:    req.ID,
			MaterialName: req.MaterialName,
			Quantity:     req.Quantity,
			Fulfillment:  req.Fulfillment,
			ApprovedAt:   now,
		})
	}
	s.bumpCache(ctx)
	return nil
}

// RejectRequest transitions a pending request to the terminal rejected state.
func (s *Service) RejectRequest(ctx context.Context, requestID int64, notes string, actorID int64) error {
	req, err := s.repo.GetRequest(ctx, requestID)
	if err != nil {
		return err
	}
	if req.Status != StatusPending {
		return fmt.Errorf("%w: reject requires pending, got %s", ErrInvalidState, req.Status)
	}
	req.Status = StatusRejected
	if notes != "" {
		req.Notes = notes
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.UpdateRequestGuarded(ctx, req)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, actorID, "REQUEST_REJECT", req.ID, map[string]any{"notes": notes})
	s.bumpCache(ctx)
	return nil
}

// CreateLot opens a lot for a category and optionally assigns requests.
func (s *Service) CreateLot(ctx context.Context, category string, requestIDs []int64, actorID int64) (Lot, error) {
	category = strings.TrimSpace(category)
	if category == "" {
		return Lot{}, fmt.Errorf("%w: category required", ErrValidation)
	}
	members := make([]PurchaseRequest, 0, len(requestIDs))
	for _, id := range requestIDs {
		req, err := s.repo.GetRequest(ctx, id)
		if err != nil {
			return Lot{}, err
		}
		if err := canJoinLot(req, category); err != nil {
			return Lot{}, err
		}
		members = append(members, req)
	}
	lot := Lot{Category: category, Status: LotStatusOpen, CreatedBy: actorID}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.InsertLot(ctx, lot)
		if err != nil {
			return err
		}
		lot.ID = id
		for _, req := range members {
			req.LotID = id
			req.Status = StatusBatched
			if err := tx.UpdateRequestGuarded(ctx, req); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Lot{}, err
	}
	s.recordAudit(ctx, actorID, "LOT_CREATE", lot.ID, map[string]any{"category": category, "members": len(members)})
	s.bumpCache(ctx)
	return lot, nil
}

// AssignToLot adds an approved, unassigned request to an open lot.
func (s *Service) AssignToLot(ctx context.Context, requestID, lotID int64, actorID int64) error {
	lot, err := s.repo.GetLot(ctx, lotID)
	if err != nil {
		return err
	}
	if lot.Status != LotStatusOpen {
		return fmt.Errorf("%w: lot %d is %s", ErrInvalidState, lotID, lot.Status)
	}
	req, err := s.repo.GetRequest(ctx, requestID)
	if err != nil {
		return err
	}
	if err := canJoinLot(req, lot.Category); err != nil {
		return err
	}
	req.LotID = lotID
	req.Status = StatusBatched
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.UpdateRequestGuarded(ctx, req)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, actorID, "LOT_ASSIGN", lotID, map[string]any{"request_id": requestID})
	s.bumpCache(ctx)
	return nil
}

// RemoveFromLot returns a batched request to the approved pool.
func (s *Service) RemoveFromLot(ctx context.Context, requestID int64, actorID int64) error {
	req, err := s.repo.GetRequest(ctx, requestID)
	if err != nil {
		return err
	}
	if req.LotID == 0 {
		return fmt.Errorf("%w: request %d is not in a lot", ErrInvalidState, requestID)
	}
	if req.Status != StatusBatched && req.Status != StatusApproved {
		return fmt.Errorf("%w: cannot remove a %s request from its lot", ErrInvalidState, req.Status)
	}
	lotID := req.LotID
	req.LotID = 0
	req.Status = StatusApproved
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.UpdateRequestGuarded(ctx, req)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, actorID, "LOT_REMOVE", lotID, map[string]any{"request_id": requestID})
	s.bumpCache(ctx)
	return nil
}

// GenerateOrderInput identifies the lot (or explicit requests), the subset
// confirmed by the financial reviewer, and the supplier.
type GenerateOrderInput struct {
	LotID        int64
	RequestIDs   []int64
	ConfirmedIDs []int64
	SupplierID   int64
	ActorID      int64
}

// GenerateOrder converts a lot into one purchase order. Confirmed requests
// advance to ordered; the unconfirmed remainder returns to the approved pool
// rather than being silently dropped. The whole effect is one atomic batch
// guarded by per-request versions: if any member changed since it was read,
// nothing is written and the caller gets ErrConcurrentModification.
func (s *Service) GenerateOrder(ctx context.Context, input GenerateOrderInput) (PurchaseOrder, error) {
	var candidates []PurchaseRequest
	if input.LotID != 0 {
		lot, err := s.repo.GetLot(ctx, input.LotID)
		if err != nil {
			return PurchaseOrder{}, err
		}
		if lot.Status != LotStatusOpen {
			return PurchaseOrder{}, fmt.Errorf("%w: lot %d is %s", ErrInvalidState, lot.ID, lot.Status)
		}
		// Full membership, not the paginated list view. A capped read here
		// would order part of the lot and strand the rest in a consumed lot.
		candidates, err = s.repo.ListLotRequests(ctx, input.LotID)
		if err != nil {
			return PurchaseOrder{}, err
		}
	} else {
		for _, id := range input.RequestIDs {
			req, err := s.repo.GetRequest(ctx, id)
			if err != nil {
				return PurchaseOrder{}, err
			}
			candidates = append(candidates, req)
		}
	}
	if len(candidates) == 0 {
		return PurchaseOrder{}, ErrEmptyLot
	}
	if _, err := s.suppliers.Get(ctx, input.SupplierID); err != nil {
		if errors.Is(err, suppliers.ErrNotFound) {
			return PurchaseOrder{}, fmt.Errorf("%w: supplier %d", ErrNotFound, input.SupplierID)
		}
		return PurchaseOrder{}, err
	}
	category := candidates[0].Category
	for _, req := range candidates {
		if req.Status != StatusApproved && req.Status != StatusBatched {
			return PurchaseOrder{}, fmt.Errorf("%w: request %d is %s", ErrInvalidState, req.ID, req.Status)
		}
		if req.Category != category {
			return PurchaseOrder{}, fmt.Errorf("%w: requests span categories %q and %q", ErrValidation, category, req.Category)
		}
	}

	confirmed, returned := partitionConfirmed(candidates, input.ConfirmedIDs)
	if len(confirmed) == 0 {
		return PurchaseOrder{}, ErrEmptyLot
	}

	order := PurchaseOrder{
		Reference:  uuid.NewString(),
		SupplierID: input.SupplierID,
		Status:     OrderStatusGenerated,
		Items:      AggregateItems(confirmed),
		CreatedBy:  input.ActorID,
	}
	for _, req := range confirmed {
		order.RequestIDs = append(order.RequestIDs, req.ID)
	}
	returnedIDs := make([]int64, 0, len(returned))
	for _, req := range returned {
		returnedIDs = append(returnedIDs, req.ID)
	}

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		orderID, err := tx.InsertOrder(ctx, order)
		if err != nil {
			return err
		}
		order.ID = orderID
		for _, req := range confirmed {
			req.Status = StatusOrdered
			req.LotID = 0
			req.OrderID = orderID
			if err := tx.UpdateRequestGuarded(ctx, req); err != nil {
				return err
			}
		}
		for _, req := range returned {
			req.Status = StatusApproved
			req.LotID = 0
			if err := tx.UpdateRequestGuarded(ctx, req); err != nil {
				return err
			}
		}
		if input.LotID != 0 {
			return tx.UpdateLotStatus(ctx, input.LotID, LotStatusConsumed)
		}
		return nil
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	s.recordAudit(ctx, input.ActorID, "ORDER_GENERATE", order.ID, map[string]any{"supplier_id": input.SupplierID, "requests": len(order.RequestIDs), "returned": len(returnedIDs)})
	if s.integration != nil {
		_ = s.integration.HandleOrderGenerated(ctx, OrderGeneratedEvent{
			OrderID:     order.ID,
			SupplierID:  order.SupplierID,
			RequestIDs:  order.RequestIDs,
			ReturnedIDs: returnedIDs,
			Items:       order.Items,
			GeneratedAt: time.Now().UTC(),
		})
	}
	s.bumpCache(ctx)
	return order, nil
}

// CancelOrder reverses GenerateOrder: the order document is removed and its
// requests return to the configured pool status with order linkage cleared.
func (s *Service) CancelOrder(ctx context.Context, orderID int64, actorID int64) error {
	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.DeleteOrder(ctx, orderID); err != nil {
			return err
		}
		for _, requestID := range order.RequestIDs {
			req, err := s.repo.GetRequest(ctx, requestID)
			if err != nil {
				return err
			}
			if req.Status != StatusOrdered {
				return fmt.Errorf("%w: request %d is %s", ErrInvalidState, requestID, req.Status)
			}
			req.Status = s.cancelReturn
			req.LotID = 0
			req.OrderID = 0
			if err := tx.UpdateRequestGuarded(ctx, req); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, actorID, "ORDER_CANCEL", orderID, map[string]any{"requests": len(order.RequestIDs)})
	if s.integration != nil {
		_ = s.integration.HandleOrderCancelled(ctx, OrderCancelledEvent{OrderID: orderID, RequestIDs: order.RequestIDs, CancelledAt: time.Now().UTC()})
	}
	s.bumpCache(ctx)
	return nil
}

// ReceiveInput describes a receipt confirmation.
type ReceiveInput struct {
	RequestID          int64
	ReceivedQuantity   int64
	ExistingMaterialID int64
	ActorID            int64
}

// Receive confirms delivery of an ordered request and reconciles stock: the
// received quantity lands on the linked or name-matched material, or a new
// material is registered when none matches. Stock write and status flip are
// one atomic batch.
func (s *Service) Receive(ctx context.Context, input ReceiveInput) error {
	if input.ReceivedQuantity <= 0 {
		return fmt.Errorf("%w: received quantity must be positive", ErrValidation)
	}
	req, err := s.repo.GetRequest(ctx, input.RequestID)
	if err != nil {
		return err
	}
	if req.Status != StatusOrdered {
		return fmt.Errorf("%w: receive requires ordered, got %s", ErrInvalidState, req.Status)
	}
	key := fmt.Sprintf("RECEIVE:%d", req.ID)
	inserted := false
	if s.idempotency != nil {
		if err := s.idempotency.CheckAndInsert(ctx, key, "procurement.receive"); err != nil {
			return err
		}
		inserted = true
	}
	now := time.Now().UTC()
	var materialID int64
	created := false
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		material, err := s.findReceiptMaterial(ctx, tx, req, input.ExistingMaterialID)
		if err != nil {
			return err
		}
		if material.ID != 0 {
			materialID = material.ID
			balance, err := tx.IncrementMaterialStock(ctx, material.ID, input.ReceivedQuantity)
			if err != nil {
				return err
			}
			if err := tx.InsertStockMovement(ctx, inventory.StockMovement{
				MaterialID: material.ID,
				Delta:      input.ReceivedQuantity,
				Balance:    balance,
				RefModule:  "PROCUREMENT",
				RefID:      fmt.Sprintf("request:%d", req.ID),
				Note:       fmt.Sprintf("received order %d", req.OrderID),
				ActorID:    input.ActorID,
				PostedAt:   now,
			}); err != nil {
				return err
			}
		} else {
			id, err := tx.InsertMaterial(ctx, inventory.Material{
				Name:           req.MaterialName,
				NormalizedName: inventory.NormalizeName(req.MaterialName),
				Unit:           req.Unit,
				Category:       req.Category,
				Stock:          input.ReceivedQuantity,
			})
			if err != nil {
				return err
			}
			materialID = id
			created = true
			if err := tx.InsertStockMovement(ctx, inventory.StockMovement{
				MaterialID: id,
				Delta:      input.ReceivedQuantity,
				Balance:    input.ReceivedQuantity,
				RefModule:  "PROCUREMENT",
				RefID:      fmt.Sprintf("request:%d", req.ID),
				Note:       fmt.Sprintf("received order %d", req.OrderID),
				ActorID:    input.ActorID,
				PostedAt:   now,
			}); err != nil {
				return err
			}
		}
		req.Status = StatusReceived
		req.MaterialID = materialID
		req.ReceivedAt = now
		return tx.UpdateRequestGuarded(ctx, req)
	})
	if err != nil {
		if inserted {
			_ = s.idempotency.Delete(ctx, key)
		}
		return err
	}
	s.recordAudit(ctx, input.ActorID, "REQUEST_RECEIVE", req.ID, map[string]any{"material_id": materialID, "qty": input.ReceivedQuantity, "created": created})
	if s.integration != nil {
		_ = s.integration.HandleRequestReceived(ctx, RequestReceivedEvent{
			RequestID:        req.ID,
			MaterialID:       materialID,
			MaterialName:     req.MaterialName,
			ReceivedQuantity: input.ReceivedQuantity,
			MaterialCreated:  created,
			ReceivedAt:       now,
		})
	}
	s.bumpCache(ctx)
	return nil
}

// GetRequest fetches one request.
func (s *Service) GetRequest(ctx context.Context, id int64) (PurchaseRequest, error) {
	return s.repo.GetRequest(ctx, id)
}

// ListRequests lists requests with filters.
func (s *Service) ListRequests(ctx context.Context, filter RequestFilter) ([]PurchaseRequest, error) {
	if filter.Limit <= 0 {
		filter.Limit = 50
	}
	return s.repo.ListRequests(ctx, filter)
}

// GetOrder fetches one order.
func (s *Service) GetOrder(ctx context.Context, id int64) (PurchaseOrder, error) {
	return s.repo.GetOrder(ctx, id)
}

// ListOrders lists orders.
func (s *Service) ListOrders(ctx context.Context, limit, offset int) ([]PurchaseOrder, int, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.repo.ListOrders(ctx, limit, offset)
}

// ReleaseStaleLots releases open lots untouched for longer than maxAge and
// returns their members to the approved pool. Used by the background sweep.
func (s *Service) ReleaseStaleLots(ctx context.Context, maxAge time.Duration) (int, error) {
	lots, err := s.repo.ListLots(ctx, LotStatusOpen)
	if err != nil {
		return 0, err
	}
	cutoff := time.Now().UTC().Add(-maxAge)
	released := 0
	for _, lot := range lots {
		if lot.UpdatedAt.After(cutoff) {
			continue
		}
		err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			members, err := tx.ListLotRequests(ctx, lot.ID)
			if err != nil {
				return err
			}
			for _, req := range members {
				req.Status = StatusApproved
				req.LotID = 0
				if err := tx.UpdateRequestGuarded(ctx, req); err != nil {
					return err
				}
			}
			return tx.UpdateLotStatus(ctx, lot.ID, LotStatusReleased)
		})
		if err != nil {
			// A concurrent mutation means the lot is not stale after all.
			if errors.Is(err, ErrConcurrentModification) {
				continue
			}
			return released, err
		}
		released++
	}
	if released > 0 {
		s.bumpCache(ctx)
	}
	return released, nil
}

// LotBoard computes the lot planning projection, cached until the next
// mutation bumps the version.
func (s *Service) LotBoard(ctx context.Context) (Board, error) {
	load := func(ctx context.Context) (Board, error) {
		lots, err := s.repo.ListLots(ctx, LotStatusOpen)
		if err != nil {
			return Board{}, err
		}
		requests, err := s.repo.ListRequests(ctx, RequestFilter{Limit: 1000})
		if err != nil {
			return Board{}, err
		}
		return BuildBoard(lots, requests), nil
	}
	if s.cache == nil {
		return load(ctx)
	}
	key, err := s.cache.BuildKey(ctx, "procurement", "board")
	if err != nil {
		return load(ctx)
	}
	var board Board
	err = s.cache.FetchJSON(ctx, key, &board, func(ctx context.Context) (any, error) {
		return load(ctx)
	})
	return board, err
}

// resolveMaterial finds the registered material behind a request, preferring
// the explicit link over exact name match.
func (s *Service) resolveMaterial(ctx context.Context, tx TxRepository, req *PurchaseRequest) (inventory.Material, error) {
	if req.MaterialID != 0 {
		m, err := tx.GetMaterial(ctx, req.MaterialID)
		if err != nil {
			if errors.Is(err, inventory.ErrNotFound) {
				return inventory.Material{}, fmt.Errorf("%w: material %d", ErrNotFound, req.MaterialID)
			}
			return inventory.Material{}, err
		}
		return m, nil
	}
	m, err := tx.GetMaterialByExactName(ctx, req.MaterialName)
	if err != nil {
		if errors.Is(err, inventory.ErrNotFound) {
			return inventory.Material{}, nil
		}
		return inventory.Material{}, err
	}
	req.MaterialID = m.ID
	return m, nil
}

// findReceiptMaterial resolves the material a receipt should land on: the
// explicitly linked record, an exact name match, or the canonical registry
// entry when only a case/accent variant exists. A zero material means a new
// record must be created.
func (s *Service) findReceiptMaterial(ctx context.Context, tx TxRepository, req PurchaseRequest, existingID int64) (inventory.Material, error) {
	if existingID != 0 {
		m, err := tx.GetMaterial(ctx, existingID)
		if err != nil {
			if errors.Is(err, inventory.ErrNotFound) {
				return inventory.Material{}, fmt.Errorf("%w: material %d", ErrNotFound, existingID)
			}
			return inventory.Material{}, err
		}
		return m, nil
	}
	m, err := tx.GetMaterialByExactName(ctx, req.MaterialName)
	if err == nil {
		return m, nil
	}
	if !errors.Is(err, inventory.ErrNotFound) {
		return inventory.Material{}, err
	}
	m, err = tx.FindMaterialByNormalizedName(ctx, inventory.NormalizeName(req.MaterialName))
	if err == nil {
		return m, nil
	}
	if !errors.Is(err, inventory.ErrNotFound) {
		return inventory.Material{}, err
	}
	return inventory.Material{}, nil
}

func canJoinLot(req PurchaseRequest, category string) error {
	if req.Status != StatusApproved {
		return fmt.Errorf("%w: request %d is %s, lot members must be approved", ErrInvalidState, req.ID, req.Status)
	}
	if req.LotID != 0 {
		return fmt.Errorf("%w: request %d already belongs to lot %d", ErrInvalidState, req.ID, req.LotID)
	}
	if req.Category != category {
		return fmt.Errorf("%w: request category %q does not match lot category %q", ErrValidation, req.Category, category)
	}
	if req.Fulfillment == FulfillmentImmediate {
		return fmt.Errorf("%w: immediate fulfillment requests are not ordered", ErrInvalidState)
	}
	return nil
}

func partitionConfirmed(candidates []PurchaseRequest, confirmedIDs []int64) (confirmed, returned []PurchaseRequest) {
	if len(confirmedIDs) == 0 {
		return candidates, nil
	}
	confirmedSet := make(map[int64]bool, len(confirmedIDs))
	for _, id := range confirmedIDs {
		confirmedSet[id] = true
	}
	for _, req := range candidates {
		if confirmedSet[req.ID] {
			confirmed = append(confirmed, req)
		} else {
			returned = append(returned, req)
		}
	}
	return confirmed, returned
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{ActorID: actorID, Action: action, Entity: "procurement", EntityID: fmt.Sprintf("%d", entityID), Meta: meta})
}

func (s *Service) bumpCache(ctx context.Context) {
	if s.cache == nil {
		return
	}
	_ = s.cache.Bump(ctx)
}
