package procurement

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/obralink/obralink/internal/inventory"
	"github.com/obralink/obralink/internal/masterdata/suppliers"
)

type memoryRepo struct {
	requests  map[int64]PurchaseRequest
	lots      map[int64]Lot
	orders    map[int64]PurchaseOrder
	materials map[int64]inventory.Material
	movements []inventory.StockMovement
	nextID    int64
	beforeTx  func(r *memoryRepo)
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		requests:  make(map[int64]PurchaseRequest),
		lots:      make(map[int64]Lot),
		orders:    make(map[int64]PurchaseOrder),
		materials: make(map[int64]inventory.Material),
	}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r.beforeTx != nil {
		hook := r.beforeTx
		r.beforeTx = nil
		hook(r)
	}
	snap := r.snapshot()
	if err := fn(ctx, &memoryTx{repo: r}); err != nil {
		r.restore(snap)
		return err
	}
	return nil
}

type repoSnapshot struct {
	requests  map[int64]PurchaseRequest
	lots      map[int64]Lot
	orders    map[int64]PurchaseOrder
	materials map[int64]inventory.Material
	movements []inventory.StockMovement
	nextID    int64
}

func (r *memoryRepo) snapshot() repoSnapshot {
	snap := repoSnapshot{
		requests:  make(map[int64]PurchaseRequest, len(r.requests)),
		lots:      make(map[int64]Lot, len(r.lots)),
		orders:    make(map[int64]PurchaseOrder, len(r.orders)),
		materials: make(map[int64]inventory.Material, len(r.materials)),
		movements: append([]inventory.StockMovement(nil), r.movements...),
		nextID:    r.nextID,
	}
	for id, v := range r.requests {
		snap.requests[id] = v
	}
	for id, v := range r.lots {
		snap.lots[id] = v
	}
	for id, v := range r.orders {
		snap.orders[id] = v
	}
	for id, v := range r.materials {
		snap.materials[id] = v
	}
	return snap
}

func (r *memoryRepo) restore(snap repoSnapshot) {
	r.requests = snap.requests
	r.lots = snap.lots
	r.orders = snap.orders
	r.materials = snap.materials
	r.movements = snap.movements
	r.nextID = snap.nextID
}

func (r *memoryRepo) GetRequest(ctx context.Context, id int64) (PurchaseRequest, error) {
	req, ok := r.requests[id]
	if !ok {
		return PurchaseRequest{}, ErrNotFound
	}
	return req, nil
}

func (r *memoryRepo) ListRequests(ctx context.Context, filter RequestFilter) ([]PurchaseRequest, error) {
	var out []PurchaseRequest
	for _, req := range r.requests {
		if filter.Status != "" && req.Status != filter.Status {
			continue
		}
		if filter.Category != "" && req.Category != filter.Category {
			continue
		}
		if filter.LotID != 0 && req.LotID != filter.LotID {
			continue
		}
		out = append(out, req)
	}
	// Paginated like the SQL repository so tests see the same cap.
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memoryRepo) ListLotRequests(ctx context.Context, lotID int64) ([]PurchaseRequest, error) {
	var out []PurchaseRequest
	for _, req := range r.requests {
		if req.LotID == lotID {
			out = append(out, req)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memoryRepo) GetLot(ctx context.Context, id int64) (Lot, error) {
	lot, ok := r.lots[id]
	if !ok {
		return Lot{}, ErrNotFound
	}
	return lot, nil
}

func (r *memoryRepo) ListLots(ctx context.Context, status LotStatus) ([]Lot, error) {
	var out []Lot
	for _, lot := range r.lots {
		if lot.Status == status {
			out = append(out, lot)
		}
	}
	return out, nil
}

func (r *memoryRepo) GetOrder(ctx context.Context, id int64) (PurchaseOrder, error) {
	order, ok := r.orders[id]
	if !ok {
		return PurchaseOrder{}, ErrNotFound
	}
	return order, nil
}

func (r *memoryRepo) ListOrders(ctx context.Context, limit, offset int) ([]PurchaseOrder, int, error) {
	var out []PurchaseOrder
	for _, order := range r.orders {
		out = append(out, order)
	}
	return out, len(out), nil
}

func (tx *memoryTx) nextID() int64 {
	tx.repo.nextID++
	return tx.repo.nextID
}

func (tx *memoryTx) InsertRequest(ctx context.Context, req PurchaseRequest) (int64, error) {
	id := tx.nextID()
	req.ID = id
	tx.repo.requests[id] = req
	return id, nil
}

func (tx *memoryTx) UpdateRequestGuarded(ctx context.Context, req PurchaseRequest) error {
	stored, ok := tx.repo.requests[req.ID]
	if !ok {
		return ErrNotFound
	}
	if stored.Version != req.Version {
		return ErrConcurrentModification
	}
	req.Version++
	tx.repo.requests[req.ID] = req
	return nil
}

func (tx *memoryTx) ListLotRequests(ctx context.Context, lotID int64) ([]PurchaseRequest, error) {
	var out []PurchaseRequest
	for _, req := range tx.repo.requests {
		if req.LotID == lotID {
			out = append(out, req)
		}
	}
	return out, nil
}

func (tx *memoryTx) InsertLot(ctx context.Context, lot Lot) (int64, error) {
	id := tx.nextID()
	lot.ID = id
	lot.UpdatedAt = time.Now()
	tx.repo.lots[id] = lot
	return id, nil
}

func (tx *memoryTx) UpdateLotStatus(ctx context.Context, lotID int64, status LotStatus) error {
	lot, ok := tx.repo.lots[lotID]
	if !ok {
		return ErrNotFound
	}
	lot.Status = status
	lot.UpdatedAt = time.Now()
	tx.repo.lots[lotID] = lot
	return nil
}

func (tx *memoryTx) InsertOrder(ctx context.Context, order PurchaseOrder) (int64, error) {
	id := tx.nextID()
	order.ID = id
	tx.repo.orders[id] = order
	return id, nil
}

func (tx *memoryTx) DeleteOrder(ctx context.Context, orderID int64) error {
	if _, ok := tx.repo.orders[orderID]; !ok {
		return ErrNotFound
	}
	delete(tx.repo.orders, orderID)
	return nil
}

func (tx *memoryTx) GetMaterial(ctx context.Context, id int64) (inventory.Material, error) {
	m, ok := tx.repo.materials[id]
	if !ok {
		return inventory.Material{}, inventory.ErrNotFound
	}
	return m, nil
}

func (tx *memoryTx) GetMaterialByExactName(ctx context.Context, name string) (inventory.Material, error) {
	for _, m := range tx.repo.materials {
		if m.Name == name && !m.Archived {
			return m, nil
		}
	}
	return inventory.Material{}, inventory.ErrNotFound
}

func (tx *memoryTx) FindMaterialByNormalizedName(ctx context.Context, normalized string) (inventory.Material, error) {
	for _, m := range tx.repo.materials {
		if m.NormalizedName == normalized && !m.Archived {
			return m, nil
		}
	}
	return inventory.Material{}, inventory.ErrNotFound
}

func (tx *memoryTx) IncrementMaterialStock(ctx context.Context, id int64, delta int64) (int64, error) {
	m, ok := tx.repo.materials[id]
	if !ok {
		return 0, inventory.ErrNotFound
	}
	if m.Stock+delta < 0 {
		return 0, inventory.ErrInsufficientStock
	}
	m.Stock += delta
	tx.repo.materials[id] = m
	return m.Stock, nil
}

func (tx *memoryTx) InsertMaterial(ctx context.Context, m inventory.Material) (int64, error) {
	for _, existing := range tx.repo.materials {
		if existing.NormalizedName == m.NormalizedName {
			return 0, inventory.ErrDuplicateName
		}
	}
	id := tx.nextID()
	m.ID = id
	tx.repo.materials[id] = m
	return id, nil
}

func (tx *memoryTx) InsertStockMovement(ctx context.Context, mv inventory.StockMovement) error {
	tx.repo.movements = append(tx.repo.movements, mv)
	return nil
}

type memorySuppliers struct {
	suppliers map[int64]suppliers.Supplier
}

func (s memorySuppliers) Get(ctx context.Context, id int64) (suppliers.Supplier, error) {
	sup, ok := s.suppliers[id]
	if !ok {
		return suppliers.Supplier{}, suppliers.ErrNotFound
	}
	return sup, nil
}

func newTestService(repo *memoryRepo, cfg ServiceConfig) *Service {
	supplierPort := memorySuppliers{suppliers: map[int64]suppliers.Supplier{
		7: {ID: 7, Code: "FER-01", Name: "Ferreteria Central", Categories: []string{"cemento", "acero"}},
	}}
	return NewService(repo, supplierPort, nil, nil, nil, nil, cfg)
}

func seedRequest(repo *memoryRepo, req PurchaseRequest) PurchaseRequest {
	repo.nextID++
	req.ID = repo.nextID
	if req.Version == 0 {
		req.Version = 1
	}
	repo.requests[req.ID] = req
	return req
}

func seedMaterial(repo *memoryRepo, m inventory.Material) inventory.Material {
	repo.nextID++
	m.ID = repo.nextID
	if m.NormalizedName == "" {
		m.NormalizedName = inventory.NormalizeName(m.Name)
	}
	repo.materials[m.ID] = m
	return m
}

func TestCreateRequestValidation(t *testing.T) {
	svc := newTestService(newMemoryRepo(), ServiceConfig{})
	ctx := context.Background()

	_, err := svc.CreateRequest(ctx, CreateRequestInput{MaterialName: "Cemento Gris", Quantity: 0, Unit: "bulto", Category: "cemento"})
	require.ErrorIs(t, err, ErrValidation)

	_, err = svc.CreateRequest(ctx, CreateRequestInput{MaterialName: "  ", Quantity: 5, Unit: "bulto", Category: "cemento"})
	require.ErrorIs(t, err, ErrValidation)

	_, err = svc.CreateRequest(ctx, CreateRequestInput{MaterialName: "Cemento Gris", Quantity: 5, Unit: "bulto", Category: "cemento", Fulfillment: "someday"})
	require.ErrorIs(t, err, ErrValidation)
}

func TestCreateRequestStartsPending(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo, ServiceConfig{})

	req, err := svc.CreateRequest(context.Background(), CreateRequestInput{
		MaterialName: "Cemento Gris", Quantity: 10, Unit: "bulto", Category: "cemento", Area: "torre A", SupervisorID: 3,
	})
	require.NoError(t, err)
	require.Equal(t, StatusPending, req.Status)
	require.Equal(t, FulfillmentDeferred, req.Fulfillment)
	require.NotZero(t, req.ID)

	stored := repo.requests[req.ID]
	require.Equal(t, StatusPending, stored.Status)
}

func TestApproveRequestSnapshotsEditedQuantity(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo, ServiceConfig{})
	ctx := context.Background()

	req := seedRequest(repo, PurchaseRequest{MaterialName: "Cemento Gris", Quantity: 10, Unit: "bulto", Category: "cemento", Status: StatusPending, Fulfillment: FulfillmentDeferred})

	require.NoError(t, svc.ApproveRequest(ctx, req.ID, ApproveInput{Quantity: 8, Notes: "budget cut"}))

	got := repo.requests[req.ID]
	require.Equal(t, StatusApproved, got.Status)
	require.Equal(t, int64(8), got.Quantity)
	require.Equal(t, int64(10), got.OriginalQuantity)
	require.Equal(t, "budget cut", got.Notes)

	err := svc.ApproveRequest(ctx, req.ID, ApproveInput{})
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestRejectRequestIsTerminal(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo, ServiceConfig{})
	ctx := context.Background()

	req := seedRequest(repo, PurchaseRequest{MaterialName: "Arena", Quantity: 3, Unit: "m3", Category: "agregados", Status: StatusPending, Fulfillment: FulfillmentDeferred})
	require.NoError(t, svc.RejectRequest(ctx, req.ID, "not needed", 1))

	got := repo.requests[req.ID]
	require.Equal(t, StatusRejected, got.Status)
	require.True(t, got.Status.Terminal())

	require.ErrorIs(t, svc.ApproveRequest(ctx, req.ID, ApproveInput{}), ErrInvalidState)
	require.ErrorIs(t, svc.RejectRequest(ctx, req.ID, "", 1), ErrInvalidState)
}

func TestApproveImmediateDeductsStock(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo, ServiceConfig{})
	ctx := context.Background()

	material := seedMaterial(repo, inventory.Material{Name: "Cemento Gris", Unit: "bulto", Category: "cemento", Stock: 20})
	req := seedRequest(repo, PurchaseRequest{MaterialName: "Cemento Gris", MaterialID: material.ID, Quantity: 5, Unit: "bulto", Category: "cemento", Status: StatusPending, Fulfillment: FulfillmentImmediate})

	require.NoError(t, svc.ApproveRequest(ctx, req.ID, ApproveInput{ActorID: 2}))

	require.Equal(t, int64(15), repo.materials[material.ID].Stock)
	require.Equal(t, StatusApproved, repo.requests[req.ID].Status)
	require.Len(t, repo.movements, 1)
	require.Equal(t, int64(-5), repo.movements[0].Delta)
}

func TestApproveImmediateInsufficientStock(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo, ServiceConfig{})
	ctx := context.Background()

	material := seedMaterial(repo, inventory.Material{Name: "Cemento Gris", Unit: "bulto", Category: "cemento", Stock: 3})
	req := seedRequest(repo, PurchaseRequest{MaterialName: "Cemento Gris", MaterialID: material.ID, Quantity: 5, Unit: "bulto", Category: "cemento", Status: StatusPending, Fulfillment: FulfillmentImmediate})

	err := svc.ApproveRequest(ctx, req.ID, ApproveInput{})
	require.ErrorIs(t, err, inventory.ErrInsufficientStock)

	require.Equal(t, int64(3), repo.materials[material.ID].Stock)
	require.Equal(t, StatusPending, repo.requests[req.ID].Status)
}

func TestCreateLotBatchesMembers(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo, ServiceConfig{})
	ctx := context.Background()

	a := seedRequest(repo, PurchaseRequest{MaterialName: "Cemento Gris", Quantity: 10, Unit: "bulto", Category: "cemento", Status: StatusApproved, Fulfillment: FulfillmentDeferred})
	b := seedRequest(repo, PurchaseRequest{MaterialName: "Cemento Blanco", Quantity: 4, Unit: "bulto", Category: "cemento", Status: StatusApproved, Fulfillment: FulfillmentDeferred})

	lot, err := svc.CreateLot(ctx, "cemento", []int64{a.ID, b.ID}, 1)
	require.NoError(t, err)
	require.Equal(t, LotStatusOpen, lot.Status)

	for _, id := range []int64{a.ID, b.ID} {
		got := repo.requests[id]
		require.Equal(t, StatusBatched, got.Status)
		require.Equal(t, lot.ID, got.LotID)
	}
}

func TestCreateLotRejectsWrongMembers(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo, ServiceConfig{})
	ctx := context.Background()

	pending := seedRequest(repo, PurchaseRequest{MaterialName: "Arena", Quantity: 2, Unit: "m3", Category: "agregados", Status: StatusPending, Fulfillment: FulfillmentDeferred})
	_, err := svc.CreateLot(ctx, "agregados", []int64{pending.ID}, 1)
	require.ErrorIs(t, err, ErrInvalidState)

	other := seedRequest(repo, PurchaseRequest{MaterialName: "Varilla", Quantity: 9, Unit: "pieza", Category: "acero", Status: StatusApproved, Fulfillment: FulfillmentDeferred})
	_, err = svc.CreateLot(ctx, "agregados", []int64{other.ID}, 1)
	require.ErrorIs(t, err, ErrValidation)

	immediate := seedRequest(repo, PurchaseRequest{MaterialName: "Arena", Quantity: 2, Unit: "m3", Category: "agregados", Status: StatusApproved, Fulfillment: FulfillmentImmediate})
	_, err = svc.CreateLot(ctx, "agregados", []int64{immediate.ID}, 1)
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestAssignAndRemoveFromLot(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo, ServiceConfig{})
	ctx := context.Background()

	lot, err := svc.CreateLot(ctx, "cemento", nil, 1)
	require.NoError(t, err)

	req := seedRequest(repo, PurchaseRequest{MaterialName: "Cemento Gris", Quantity: 10, Unit: "bulto", Category: "cemento", Status: StatusApproved, Fulfillment: FulfillmentDeferred})
	require.NoError(t, svc.AssignToLot(ctx, req.ID, lot.ID, 1))
	require.Equal(t, StatusBatched, repo.requests[req.ID].Status)

	// already in a lot
	require.ErrorIs(t, svc.AssignToLot(ctx, req.ID, lot.ID, 1), ErrInvalidState)

	require.NoError(t, svc.RemoveFromLot(ctx, req.ID, 1))
	got := repo.requests[req.ID]
	require.Equal(t, StatusApproved, got.Status)
	require.Zero(t, got.LotID)

	require.ErrorIs(t, svc.RemoveFromLot(ctx, req.ID, 1), ErrInvalidState)
}

func TestGenerateOrderAggregatesByNameAndUnit(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo, ServiceConfig{})
	ctx := context.Background()

	lot, err := svc.CreateLot(ctx, "cemento", nil, 1)
	require.NoError(t, err)

	for _, seed := range []PurchaseRequest{
		{MaterialName: "Cemento Gris", Quantity: 10, Unit: "bulto"},
		{MaterialName: "Cemento Gris", Quantity: 15, Unit: "bulto"},
		{MaterialName: "Cemento Gris", Quantity: 2, Unit: "tonelada"},
		{MaterialName: "Cemento Blanco", Quantity: 4, Unit: "bulto"},
	} {
		seed.Category = "cemento"
		seed.Status = StatusBatched
		seed.Fulfillment = FulfillmentDeferred
		seed.LotID = lot.ID
		seedRequest(repo, seed)
	}

	order, err := svc.GenerateOrder(ctx, GenerateOrderInput{LotID: lot.ID, SupplierID: 7, ActorID: 1})
	require.NoError(t, err)

	require.Equal(t, []OrderItem{
		{MaterialName: "Cemento Blanco", TotalQuantity: 4, Unit: "bulto", Category: "cemento"},
		{MaterialName: "Cemento Gris", TotalQuantity: 25, Unit: "bulto", Category: "cemento"},
		{MaterialName: "Cemento Gris", TotalQuantity: 2, Unit: "tonelada", Category: "cemento"},
	}, order.Items)
	require.Len(t, order.RequestIDs, 4)
	require.NotEmpty(t, order.Reference)

	require.Equal(t, LotStatusConsumed, repo.lots[lot.ID].Status)
	for _, id := range order.RequestIDs {
		got := repo.requests[id]
		require.Equal(t, StatusOrdered, got.Status)
		require.Equal(t, order.ID, got.OrderID)
		require.Zero(t, got.LotID)
	}
}

func TestGenerateOrderConfirmedSubsetReturnsRemainder(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo, ServiceConfig{})
	ctx := context.Background()

	lot, err := svc.CreateLot(ctx, "cemento", nil, 1)
	require.NoError(t, err)

	confirmed := seedRequest(repo, PurchaseRequest{MaterialName: "Cemento Gris", Quantity: 10, Unit: "bulto", Category: "cemento", Status: StatusBatched, Fulfillment: FulfillmentDeferred, LotID: lot.ID})
	dropped := seedRequest(repo, PurchaseRequest{MaterialName: "Cemento Blanco", Quantity: 4, Unit: "bulto", Category: "cemento", Status: StatusBatched, Fulfillment: FulfillmentDeferred, LotID: lot.ID})

	order, err := svc.GenerateOrder(ctx, GenerateOrderInput{LotID: lot.ID, ConfirmedIDs: []int64{confirmed.ID}, SupplierID: 7})
	require.NoError(t, err)
	require.Equal(t, []int64{confirmed.ID}, order.RequestIDs)

	returned := repo.requests[dropped.ID]
	require.Equal(t, StatusApproved, returned.Status)
	require.Zero(t, returned.LotID)
	require.Zero(t, returned.OrderID)
}

func TestGenerateOrderConsumesFullLotMembership(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo, ServiceConfig{})
	ctx := context.Background()

	lot, err := svc.CreateLot(ctx, "cemento", nil, 1)
	require.NoError(t, err)

	// More members than one page of the paginated request listing.
	const members = 60
	for i := 0; i < members; i++ {
		seedRequest(repo, PurchaseRequest{
			MaterialName: "Cemento Gris",
			Quantity:     1,
			Unit:         "bulto",
			Category:     "cemento",
			Status:       StatusBatched,
			Fulfillment:  FulfillmentDeferred,
			LotID:        lot.ID,
		})
	}

	order, err := svc.GenerateOrder(ctx, GenerateOrderInput{LotID: lot.ID, SupplierID: 7, ActorID: 1})
	require.NoError(t, err)

	require.Len(t, order.RequestIDs, members)
	require.Equal(t, []OrderItem{
		{MaterialName: "Cemento Gris", TotalQuantity: members, Unit: "bulto", Category: "cemento"},
	}, order.Items)

	require.Equal(t, LotStatusConsumed, repo.lots[lot.ID].Status)
	for _, req := range repo.requests {
		require.Equal(t, StatusOrdered, req.Status)
		require.Zero(t, req.LotID)
	}
}

func TestGenerateOrderGuards(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo, ServiceConfig{})
	ctx := context.Background()

	lot, err := svc.CreateLot(ctx, "cemento", nil, 1)
	require.NoError(t, err)

	// Emptiness is checked before the supplier lookup.
	_, err = svc.GenerateOrder(ctx, GenerateOrderInput{LotID: lot.ID, SupplierID: 99})
	require.ErrorIs(t, err, ErrEmptyLot)

	seedRequest(repo, PurchaseRequest{MaterialName: "Cemento Gris", Quantity: 10, Unit: "bulto", Category: "cemento", Status: StatusBatched, Fulfillment: FulfillmentDeferred, LotID: lot.ID})
	_, err = svc.GenerateOrder(ctx, GenerateOrderInput{LotID: lot.ID, SupplierID: 99})
	require.ErrorIs(t, err, ErrNotFound)

	a := seedRequest(repo, PurchaseRequest{MaterialName: "Arena", Quantity: 2, Unit: "m3", Category: "agregados", Status: StatusApproved, Fulfillment: FulfillmentDeferred})
	b := seedRequest(repo, PurchaseRequest{MaterialName: "Varilla", Quantity: 9, Unit: "pieza", Category: "acero", Status: StatusApproved, Fulfillment: FulfillmentDeferred})
	_, err = svc.GenerateOrder(ctx, GenerateOrderInput{RequestIDs: []int64{a.ID, b.ID}, SupplierID: 7})
	require.ErrorIs(t, err, ErrValidation)
}

func TestGenerateOrderConcurrentModification(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo, ServiceConfig{})
	ctx := context.Background()

	lot, err := svc.CreateLot(ctx, "cemento", nil, 1)
	require.NoError(t, err)
	req := seedRequest(repo, PurchaseRequest{MaterialName: "Cemento Gris", Quantity: 10, Unit: "bulto", Category: "cemento", Status: StatusBatched, Fulfillment: FulfillmentDeferred, LotID: lot.ID})

	// Another writer bumps the request between the read and the write batch.
	repo.beforeTx = func(r *memoryRepo) {
		stored := r.requests[req.ID]
		stored.Version++
		r.requests[req.ID] = stored
	}

	_, err = svc.GenerateOrder(ctx, GenerateOrderInput{LotID: lot.ID, SupplierID: 7})
	require.ErrorIs(t, err, ErrConcurrentModification)
	require.Len(t, repo.orders, 0)
}

func TestCancelOrderReturnsRequestsToPool(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo, ServiceConfig{})
	ctx := context.Background()

	lot, err := svc.CreateLot(ctx, "cemento", nil, 1)
	require.NoError(t, err)
	req := seedRequest(repo, PurchaseRequest{MaterialName: "Cemento Gris", Quantity: 10, Unit: "bulto", Category: "cemento", Status: StatusBatched, Fulfillment: FulfillmentDeferred, LotID: lot.ID})

	order, err := svc.GenerateOrder(ctx, GenerateOrderInput{LotID: lot.ID, SupplierID: 7})
	require.NoError(t, err)

	require.NoError(t, svc.CancelOrder(ctx, order.ID, 1))

	got := repo.requests[req.ID]
	require.Equal(t, StatusApproved, got.Status)
	require.Zero(t, got.OrderID)
	require.Zero(t, got.LotID)

	require.ErrorIs(t, svc.CancelOrder(ctx, order.ID, 1), ErrNotFound)
}

func TestCancelOrderBatchedPolicy(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo, ServiceConfig{CancelReturnStatus: StatusBatched})
	ctx := context.Background()

	lot, err := svc.CreateLot(ctx, "cemento", nil, 1)
	require.NoError(t, err)
	req := seedRequest(repo, PurchaseRequest{MaterialName: "Cemento Gris", Quantity: 10, Unit: "bulto", Category: "cemento", Status: StatusBatched, Fulfillment: FulfillmentDeferred, LotID: lot.ID})

	order, err := svc.GenerateOrder(ctx, GenerateOrderInput{LotID: lot.ID, SupplierID: 7})
	require.NoError(t, err)
	require.NoError(t, svc.CancelOrder(ctx, order.ID, 1))

	require.Equal(t, StatusBatched, repo.requests[req.ID].Status)
}

func orderedRequest(t *testing.T, repo *memoryRepo, svc *Service, name, unit string, qty int64) PurchaseRequest {
	t.Helper()
	ctx := context.Background()
	req := seedRequest(repo, PurchaseRequest{MaterialName: name, Quantity: qty, Unit: unit, Category: "cemento", Status: StatusApproved, Fulfillment: FulfillmentDeferred})
	order, err := svc.GenerateOrder(ctx, GenerateOrderInput{RequestIDs: []int64{req.ID}, SupplierID: 7})
	require.NoError(t, err)
	require.Len(t, order.RequestIDs, 1)
	return repo.requests[req.ID]
}

func TestReceiveIncrementsExistingStock(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo, ServiceConfig{})
	ctx := context.Background()

	material := seedMaterial(repo, inventory.Material{Name: "Cemento Gris", Unit: "bulto", Category: "cemento", Stock: 5})
	req := orderedRequest(t, repo, svc, "Cemento Gris", "bulto", 10)

	require.NoError(t, svc.Receive(ctx, ReceiveInput{RequestID: req.ID, ReceivedQuantity: 10, ActorID: 2}))

	require.Equal(t, int64(15), repo.materials[material.ID].Stock)
	got := repo.requests[req.ID]
	require.Equal(t, StatusReceived, got.Status)
	require.Equal(t, material.ID, got.MaterialID)
	require.False(t, got.ReceivedAt.IsZero())
}

func TestReceiveCreatesUnknownMaterial(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo, ServiceConfig{})
	ctx := context.Background()

	req := orderedRequest(t, repo, svc, "Impermeabilizante", "cubeta", 3)

	require.NoError(t, svc.Receive(ctx, ReceiveInput{RequestID: req.ID, ReceivedQuantity: 3}))

	got := repo.requests[req.ID]
	require.Equal(t, StatusReceived, got.Status)
	require.NotZero(t, got.MaterialID)

	created := repo.materials[got.MaterialID]
	require.Equal(t, "Impermeabilizante", created.Name)
	require.Equal(t, int64(3), created.Stock)
	require.Equal(t, "cubeta", created.Unit)
}

func TestReceiveFoldsCaseVariantIntoCanonical(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo, ServiceConfig{})
	ctx := context.Background()

	material := seedMaterial(repo, inventory.Material{Name: "Cemento Gris", Unit: "bulto", Category: "cemento", Stock: 5})
	req := orderedRequest(t, repo, svc, "cemento gris", "bulto", 10)

	require.NoError(t, svc.Receive(ctx, ReceiveInput{RequestID: req.ID, ReceivedQuantity: 10}))

	require.Equal(t, int64(15), repo.materials[material.ID].Stock)
	require.Len(t, repo.materials, 1)
	require.Equal(t, material.ID, repo.requests[req.ID].MaterialID)
}

func TestReceiveRequiresOrderedState(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo, ServiceConfig{})
	ctx := context.Background()

	pending := seedRequest(repo, PurchaseRequest{MaterialName: "Arena", Quantity: 2, Unit: "m3", Category: "agregados", Status: StatusPending, Fulfillment: FulfillmentDeferred})
	require.ErrorIs(t, svc.Receive(ctx, ReceiveInput{RequestID: pending.ID, ReceivedQuantity: 2}), ErrInvalidState)

	req := orderedRequest(t, repo, svc, "Cemento Gris", "bulto", 10)
	require.NoError(t, svc.Receive(ctx, ReceiveInput{RequestID: req.ID, ReceivedQuantity: 10}))

	// receiving twice must not double-post stock
	require.ErrorIs(t, svc.Receive(ctx, ReceiveInput{RequestID: req.ID, ReceivedQuantity: 10}), ErrInvalidState)
}

func TestReleaseStaleLots(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo, ServiceConfig{})
	ctx := context.Background()

	lot, err := svc.CreateLot(ctx, "cemento", nil, 1)
	require.NoError(t, err)
	req := seedRequest(repo, PurchaseRequest{MaterialName: "Cemento Gris", Quantity: 10, Unit: "bulto", Category: "cemento", Status: StatusBatched, Fulfillment: FulfillmentDeferred, LotID: lot.ID})

	stale := repo.lots[lot.ID]
	stale.UpdatedAt = time.Now().Add(-48 * time.Hour)
	repo.lots[lot.ID] = stale

	fresh, err := svc.CreateLot(ctx, "acero", nil, 1)
	require.NoError(t, err)

	released, err := svc.ReleaseStaleLots(ctx, 24*time.Hour)
	require.NoError(t, err)
	require.Equal(t, 1, released)

	require.Equal(t, LotStatusReleased, repo.lots[lot.ID].Status)
	require.Equal(t, LotStatusOpen, repo.lots[fresh.ID].Status)

	got := repo.requests[req.ID]
	require.Equal(t, StatusApproved, got.Status)
	require.Zero(t, got.LotID)
}

func TestLotBoardProjection(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo, ServiceConfig{})
	ctx := context.Background()

	first, err := svc.CreateLot(ctx, "cemento", nil, 1)
	require.NoError(t, err)
	second, err := svc.CreateLot(ctx, "cemento", nil, 1)
	require.NoError(t, err)

	seedRequest(repo, PurchaseRequest{MaterialName: "Cemento Gris", Quantity: 10, Unit: "bulto", Category: "cemento", Status: StatusBatched, Fulfillment: FulfillmentDeferred, LotID: first.ID})
	seedRequest(repo, PurchaseRequest{MaterialName: "Cemento Blanco", Quantity: 4, Unit: "bulto", Category: "cemento", Status: StatusBatched, Fulfillment: FulfillmentDeferred, LotID: second.ID})
	seedRequest(repo, PurchaseRequest{MaterialName: "Arena", Quantity: 6, Unit: "m3", Category: "agregados", Status: StatusApproved, Fulfillment: FulfillmentDeferred})

	board, err := svc.LotBoard(ctx)
	require.NoError(t, err)

	// two lots of the same category stay separate
	require.Len(t, board.Lots, 2)
	require.Equal(t, int64(10), board.Lots[0].TotalQuantity)
	require.Equal(t, int64(4), board.Lots[1].TotalQuantity)

	require.Len(t, board.Pool, 1)
	require.Equal(t, "agregados", board.Pool[0].Category)
	require.Equal(t, int64(6), board.Pool[0].TotalQuantity)
}
