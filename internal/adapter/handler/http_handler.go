package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/rl1809/stockledger/internal/core/domain"
	"github.com/rl1809/stockledger/internal/core/service"
)

const (
	ActorHeader          = "X-Actor"
	IdempotencyKeyHeader = "Idempotency-Key"
)

type HTTPHandler struct {
	ledger *service.LedgerService
	logger *slog.Logger
}

type ErrorResponse struct {
	Error string `json:"error"`
}

// UpdateItemRequest is the body of PUT /items/{id}. Stock fields and detail
// fields may be mixed; they are applied together.
type UpdateItemRequest struct {
	CurrentStock  *int             `json:"currentStock,omitempty"`
	ExpectedStock *int             `json:"expectedStock,omitempty"`
	Name          *string          `json:"name,omitempty"`
	SKU           *string          `json:"sku,omitempty"`
	Category      *domain.Category `json:"category,omitempty"`
}

func (r UpdateItemRequest) patch() (domain.ItemPatch, error) {
	p := domain.ItemPatch{
		Details: domain.Details{Name: r.Name, SKU: r.SKU, Category: r.Category},
	}
	if r.CurrentStock != nil {
		p.Stock = &domain.StockUpdate{NewStock: *r.CurrentStock, ExpectedStock: r.ExpectedStock}
	} else if r.ExpectedStock != nil {
		return p, fmt.Errorf("%w: expectedStock requires currentStock", domain.ErrValidation)
	}
	return p, p.Validate()
}

func NewHTTPHandler(ledger *service.LedgerService, logger *slog.Logger) *HTTPHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPHandler{ledger: ledger, logger: logger}
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *HTTPHandler) ListItems(w http.ResponseWriter, r *http.Request) {
	q, err := parseItemQuery(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	page, err := h.ledger.ListItems(r.Context(), q)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *HTTPHandler) CreateItem(w http.ResponseWriter, r *http.Request) {
	var req domain.NewItem
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	item, err := h.ledger.CreateItemOnce(r.Context(), r.Header.Get(IdempotencyKeyHeader), req, actor(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

func (h *HTTPHandler) GetItem(w http.ResponseWriter, r *http.Request) {
	item, err := h.ledger.GetItem(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (h *HTTPHandler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	var req UpdateItemRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	patch, err := req.patch()
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	item, err := h.ledger.UpdateItem(r.Context(), chi.URLParam(r, "id"), patch, actor(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (h *HTTPHandler) DeleteItem(w http.ResponseWriter, r *http.Request) {
	if err := h.ledger.DeleteItem(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *HTTPHandler) ListMovements(w http.ResponseWriter, r *http.Request) {
	movements, err := h.ledger.ListMovements(r.Context(), r.URL.Query().Get("itemId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, movements)
}

func (h *HTTPHandler) Summary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.ledger.Summary(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// decodeBody keeps validation errors raised by field decoders and reports
// any other decode failure as a malformed body.
func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if errors.Is(err, domain.ErrValidation) {
			return err
		}
		return fmt.Errorf("%w: invalid request body", domain.ErrValidation)
	}
	return nil
}

func parseItemQuery(r *http.Request) (domain.ItemQuery, error) {
	values := r.URL.Query()
	q := domain.ItemQuery{PageSize: domain.DefaultPageSize}

	var err error
	if q.Page, err = intParam(values.Get("page"), 0); err != nil {
		return q, fmt.Errorf("%w: page: %v", domain.ErrValidation, err)
	}
	if q.PageSize, err = intParam(values.Get("pageSize"), domain.DefaultPageSize); err != nil {
		return q, fmt.Errorf("%w: pageSize: %v", domain.ErrValidation, err)
	}
	if c := values.Get("category"); c != "" {
		if q.Category, err = domain.ParseCategory(c); err != nil {
			return q, err
		}
	}
	return q, q.Validate()
}

func intParam(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

// actor returns the X-Actor header, or nil when the request is anonymous.
func actor(r *http.Request) *string {
	a := strings.TrimSpace(r.Header.Get(ActorHeader))
	if a == "" {
		return nil
	}
	return &a
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrConcurrencyConflict), errors.Is(err, domain.ErrDuplicateRequest):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		message = "internal error"
	}
	writeJSON(w, status, ErrorResponse{Error: message})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
