package procurement

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/obralink/obralink/internal/inventory"
	"github.com/obralink/obralink/internal/platform/httpx"
	"github.com/obralink/obralink/internal/shared"
)

// Handler wires HTTP endpoints for the purchase request lifecycle.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers procurement routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/requests", h.createRequest)
	r.Get("/requests", h.listRequests)
	r.Get("/requests/{id}", h.getRequest)
	r.Post("/requests/{id}/approve", h.approveRequest)
	r.Post("/requests/{id}/reject", h.rejectRequest)
	r.Post("/requests/{id}/receive", h.receiveRequest)
	r.Delete("/requests/{id}/lot", h.removeFromLot)

	r.Post("/lots", h.createLot)
	r.Post("/lots/{id}/requests", h.assignToLot)
	r.Get("/lots/board", h.lotBoard)

	r.Post("/orders", h.generateOrder)
	r.Get("/orders", h.listOrders)
	r.Get("/orders/{id}", h.getOrder)
	r.Delete("/orders/{id}", h.cancelOrder)
}

type createRequestBody struct {
	MaterialName  string `json:"material_name" validate:"required"`
	MaterialID    int64  `json:"material_id"`
	Quantity      int64  `json:"quantity" validate:"required,gt=0"`
	Unit          string `json:"unit" validate:"required"`
	Category      string `json:"category" validate:"required"`
	Justification string `json:"justification"`
	Area          string `json:"area"`
	Fulfillment   string `json:"fulfillment" validate:"omitempty,oneof=deferred immediate"`
}

func (h *Handler) createRequest(w http.ResponseWriter, r *http.Request) {
	var body createRequestBody
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "request body must be valid JSON")
		return
	}
	if err := h.validator.Struct(body); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	req, err := h.service.CreateRequest(r.Context(), CreateRequestInput{
		MaterialName:  body.MaterialName,
		MaterialID:    body.MaterialID,
		Quantity:      body.Quantity,
		Unit:          body.Unit,
		Category:      body.Category,
		Justification: body.Justification,
		Area:          body.Area,
		SupervisorID:  actorID(r),
		Fulfillment:   FulfillmentMode(body.Fulfillment),
	})
	if err != nil {
		h.respondError(w, "create request", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, req)
}

func (h *Handler) listRequests(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	lotID, _ := strconv.ParseInt(r.URL.Query().Get("lot_id"), 10, 64)
	supervisorID, _ := strconv.ParseInt(r.URL.Query().Get("supervisor_id"), 10, 64)
	items, err := h.service.ListRequests(r.Context(), RequestFilter{
		Status:       RequestStatus(r.URL.Query().Get("status")),
		Category:     r.URL.Query().Get("category"),
		LotID:        lotID,
		SupervisorID: supervisorID,
		Limit:        limit,
		Offset:       offset,
	})
	if err != nil {
		h.respondError(w, "list requests", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *Handler) getRequest(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", err.Error())
		return
	}
	req, err := h.service.GetRequest(r.Context(), id)
	if err != nil {
		h.respondError(w, "get request", err)
		return
	}
	httpx.JSON(w, http.StatusOK, req)
}

type approveBody struct {
	Quantity int64  `json:"quantity" validate:"omitempty,gt=0"`
	Notes    string `json:"notes"`
}

func (h *Handler) approveRequest(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", err.Error())
		return
	}
	var body approveBody
	if err := httpx.DecodeJSON(r, &body); err != nil && r.ContentLength > 0 {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "request body must be valid JSON")
		return
	}
	if err := h.validator.Struct(body); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if err := h.service.ApproveRequest(r.Context(), id, ApproveInput{Quantity: body.Quantity, Notes: body.Notes, ActorID: actorID(r)}); err != nil {
		h.respondError(w, "approve request", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": string(StatusApproved)})
}

type rejectBody struct {
	Notes string `json:"notes"`
}

func (h *Handler) rejectRequest(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", err.Error())
		return
	}
	var body rejectBody
	if err := httpx.DecodeJSON(r, &body); err != nil && r.ContentLength > 0 {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "request body must be valid JSON")
		return
	}
	if err := h.service.RejectRequest(r.Context(), id, body.Notes, actorID(r)); err != nil {
		h.respondError(w, "reject request", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": string(StatusRejected)})
}

type receiveBody struct {
	ReceivedQuantity   int64 `json:"received_quantity" validate:"required,gt=0"`
	ExistingMaterialID int64 `json:"existing_material_id"`
}

func (h *Handler) receiveRequest(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", err.Error())
		return
	}
	var body receiveBody
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "request body must be valid JSON")
		return
	}
	if err := h.validator.Struct(body); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	err = h.service.Receive(r.Context(), ReceiveInput{
		RequestID:          id,
		ReceivedQuantity:   body.ReceivedQuantity,
		ExistingMaterialID: body.ExistingMaterialID,
		ActorID:            actorID(r),
	})
	if err != nil {
		h.respondError(w, "receive request", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": string(StatusReceived)})
}

func (h *Handler) removeFromLot(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", err.Error())
		return
	}
	if err := h.service.RemoveFromLot(r.Context(), id, actorID(r)); err != nil {
		h.respondError(w, "remove from lot", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": string(StatusApproved)})
}

type createLotBody struct {
	Category   string  `json:"category" validate:"required"`
	RequestIDs []int64 `json:"request_ids"`
}

func (h *Handler) createLot(w http.ResponseWriter, r *http.Request) {
	var body createLotBody
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "request body must be valid JSON")
		return
	}
	if err := h.validator.Struct(body); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	lot, err := h.service.CreateLot(r.Context(), body.Category, body.RequestIDs, actorID(r))
	if err != nil {
		h.respondError(w, "create lot", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, lot)
}

type assignBody struct {
	RequestID int64 `json:"request_id" validate:"required,gt=0"`
}

func (h *Handler) assignToLot(w http.ResponseWriter, r *http.Request) {
	lotID, err := pathID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", err.Error())
		return
	}
	var body assignBody
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "request body must be valid JSON")
		return
	}
	if err := h.validator.Struct(body); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if err := h.service.AssignToLot(r.Context(), body.RequestID, lotID, actorID(r)); err != nil {
		h.respondError(w, "assign to lot", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": string(StatusBatched)})
}

func (h *Handler) lotBoard(w http.ResponseWriter, r *http.Request) {
	board, err := singleflightBoard(r.Context(), "lots/board", h.service.LotBoard)
	if err != nil {
		h.respondError(w, "lot board", err)
		return
	}
	httpx.JSON(w, http.StatusOK, board)
}

type generateOrderBody struct {
	LotID        int64   `json:"lot_id"`
	RequestIDs   []int64 `json:"request_ids"`
	ConfirmedIDs []int64 `json:"confirmed_ids"`
	SupplierID   int64   `json:"supplier_id" validate:"required,gt=0"`
}

func (h *Handler) generateOrder(w http.ResponseWriter, r *http.Request) {
	var body generateOrderBody
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "request body must be valid JSON")
		return
	}
	if err := h.validator.Struct(body); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if body.LotID == 0 && len(body.RequestIDs) == 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "lot_id or request_ids required")
		return
	}
	order, err := h.service.GenerateOrder(r.Context(), GenerateOrderInput{
		LotID:        body.LotID,
		RequestIDs:   body.RequestIDs,
		ConfirmedIDs: body.ConfirmedIDs,
		SupplierID:   body.SupplierID,
		ActorID:      actorID(r),
	})
	if err != nil {
		h.respondError(w, "generate order", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, order)
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	items, total, err := h.service.ListOrders(r.Context(), limit, offset)
	if err != nil {
		h.respondError(w, "list orders", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": items, "total": total})
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", err.Error())
		return
	}
	order, err := h.service.GetOrder(r.Context(), id)
	if err != nil {
		h.respondError(w, "get order", err)
		return
	}
	httpx.JSON(w, http.StatusOK, order)
}

func (h *Handler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", err.Error())
		return
	}
	if err := h.service.CancelOrder(r.Context(), id, actorID(r)); err != nil {
		h.respondError(w, "cancel order", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (h *Handler) respondError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ErrValidation), errors.Is(err, ErrEmptyLot):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrInvalidState):
		httpx.Problem(w, http.StatusConflict, "Invalid State", err.Error())
	case errors.Is(err, ErrConcurrentModification):
		httpx.Problem(w, http.StatusConflict, "Concurrent Modification", err.Error())
	case errors.Is(err, shared.ErrIdempotencyConflict):
		httpx.Problem(w, http.StatusConflict, "Duplicate Delivery", err.Error())
	case errors.Is(err, inventory.ErrInsufficientStock):
		httpx.Problem(w, http.StatusConflict, "Insufficient Stock", err.Error())
	case errors.Is(err, inventory.ErrDuplicateName):
		httpx.Problem(w, http.StatusConflict, "Duplicate Material", err.Error())
	case errors.Is(err, inventory.ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	default:
		h.logger.Error(op, slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", shared.UserSafeMessage(err))
	}
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("id must be a positive integer")
	}
	return id, nil
}

func actorID(r *http.Request) int64 {
	id, _ := strconv.ParseInt(r.Header.Get("X-Actor-ID"), 10, 64)
	return id
}
