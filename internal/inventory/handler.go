package inventory

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/obralink/obralink/internal/platform/httpx"
	"github.com/obralink/obralink/internal/shared"
)

// Handler wires HTTP endpoints for the material catalogue.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers inventory routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/materials", h.createMaterial)
	r.Get("/materials", h.listMaterials)
	r.Get("/materials/suggest", h.suggest)
	r.Get("/materials/{id}", h.getMaterial)
	r.Get("/materials/{id}/movements", h.listMovements)
	r.Post("/materials/{id}/adjust", h.adjustStock)
	r.Post("/materials/{id}/archive", h.archiveMaterial)
	r.Post("/materials/merge", h.mergeMaterials)
}

type createMaterialBody struct {
	Name       string `json:"name" validate:"required"`
	Unit       string `json:"unit" validate:"required"`
	Category   string `json:"category"`
	Stock      int64  `json:"stock" validate:"gte=0"`
	SupplierID int64  `json:"supplier_id"`
}

func (h *Handler) createMaterial(w http.ResponseWriter, r *http.Request) {
	var body createMaterialBody
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "request body must be valid JSON")
		return
	}
	if err := h.validator.Struct(body); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	m, err := h.service.CreateMaterial(r.Context(), CreateMaterialInput{
		Name:       body.Name,
		Unit:       body.Unit,
		Category:   body.Category,
		Stock:      body.Stock,
		SupplierID: body.SupplierID,
		ActorID:    actorID(r),
	})
	if err != nil {
		h.respondError(w, "create material", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, m)
}

func (h *Handler) listMaterials(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	filter := MaterialFilter{
		Category:        r.URL.Query().Get("category"),
		Search:          r.URL.Query().Get("search"),
		IncludeArchived: r.URL.Query().Get("archived") == "true",
		Limit:           limit,
		Offset:          offset,
	}
	items, total, err := h.service.ListMaterials(r.Context(), filter)
	if err != nil {
		h.respondError(w, "list materials", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": items, "total": total})
}

func (h *Handler) suggest(w http.ResponseWriter, r *http.Request) {
	m, err := h.service.Suggest(r.Context(), r.URL.Query().Get("name"))
	if err != nil {
		h.respondError(w, "suggest material", err)
		return
	}
	httpx.JSON(w, http.StatusOK, m)
}

func (h *Handler) getMaterial(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", err.Error())
		return
	}
	m, err := h.service.GetMaterial(r.Context(), id)
	if err != nil {
		h.respondError(w, "get material", err)
		return
	}
	httpx.JSON(w, http.StatusOK, m)
}

func (h *Handler) listMovements(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", err.Error())
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	movements, err := h.service.Movements(r.Context(), id, limit)
	if err != nil {
		h.respondError(w, "list movements", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": movements})
}

type adjustBody struct {
	Delta int64  `json:"delta" validate:"required"`
	Note  string `json:"note"`
}

func (h *Handler) adjustStock(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", err.Error())
		return
	}
	var body adjustBody
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "request body must be valid JSON")
		return
	}
	if err := h.validator.Struct(body); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	balance, err := h.service.AdjustStock(r.Context(), id, body.Delta, actorID(r), body.Note)
	if err != nil {
		h.respondError(w, "adjust stock", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]int64{"balance": balance})
}

func (h *Handler) archiveMaterial(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", err.Error())
		return
	}
	if err := h.service.ArchiveMaterial(r.Context(), id, actorID(r)); err != nil {
		h.respondError(w, "archive material", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]bool{"archived": true})
}

type mergeBody struct {
	DuplicateID int64 `json:"duplicate_id" validate:"required,gt=0"`
	CanonicalID int64 `json:"canonical_id" validate:"required,gt=0"`
}

func (h *Handler) mergeMaterials(w http.ResponseWriter, r *http.Request) {
	var body mergeBody
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "request body must be valid JSON")
		return
	}
	if err := h.validator.Struct(body); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if err := h.service.MergeMaterials(r.Context(), body.DuplicateID, body.CanonicalID, actorID(r)); err != nil {
		h.respondError(w, "merge materials", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]bool{"merged": true})
}

func (h *Handler) respondError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ErrValidation):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrDuplicateName):
		httpx.Problem(w, http.StatusConflict, "Duplicate", err.Error())
	case errors.Is(err, ErrInsufficientStock):
		httpx.Problem(w, http.StatusConflict, "Insufficient Stock", err.Error())
	case errors.Is(err, ErrStockNotEmpty), errors.Is(err, ErrArchived):
		httpx.Problem(w, http.StatusConflict, "Invalid State", err.Error())
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
