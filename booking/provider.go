package booking

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// BookRequest is the body of POST /bookings.
type BookRequest struct {
	CustomerID string  `json:"customer_id"`
	Request    Request `json:"request"`
}

// ErrorResponse is the body of every non-2xx provider response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

const (
	codeInvalidJSON    = "invalid_json"
	codeInvalidRequest = "invalid_request"
	codeFullyBooked    = "fully_booked"
	codeUnavailable    = "unavailable"
	codeNotFound       = "not_found"
	codeInternal       = "internal"
)

type providerHandler struct {
	inv    *Inventory
	logger *slog.Logger
}

// NewProviderHandler exposes inv over HTTP:
//
//	POST   /bookings               book, Idempotency-Key header honoured
//	GET    /bookings/{customerID}  current booking
//	DELETE /bookings/{customerID}  cancel
func NewProviderHandler(inv *Inventory, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &providerHandler{inv: inv, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Post("/bookings", h.book)
	r.Get("/bookings/{customerID}", h.get)
	r.Delete("/bookings/{customerID}", h.cancel)
	return r
}

func (h *providerHandler) book(w http.ResponseWriter, r *http.Request) {
	var req BookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidJSON, err.Error())
		return
	}
	if req.CustomerID == "" {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "customer_id is required")
		return
	}
	if key := r.Header.Get("Idempotency-Key"); key != "" {
		req.Request.IdempotencyKey = key
	}

	res, err := h.inv.Book(r.Context(), req.CustomerID, req.Request)
	switch {
	case err == nil:
		h.logger.InfoContext(r.Context(), "booked",
			"kind", h.inv.Kind(), "customer_id", req.CustomerID, "confirmation", res.Confirmation)
		writeJSON(w, http.StatusCreated, res)
	case errors.Is(err, ErrFullyBooked):
		writeError(w, http.StatusConflict, codeFullyBooked, err.Error())
	case errors.Is(err, ErrUnavailable):
		writeError(w, http.StatusServiceUnavailable, codeUnavailable, err.Error())
	default:
		h.logger.ErrorContext(r.Context(), "booking failed", "customer_id", req.CustomerID, "error", err)
		writeError(w, http.StatusInternalServerError, codeInternal, err.Error())
	}
}

func (h *providerHandler) get(w http.ResponseWriter, r *http.Request) {
	customerID := chi.URLParam(r, "customerID")
	res, ok := h.inv.Get(customerID)
	if !ok {
		writeError(w, http.StatusNotFound, codeNotFound, customerID)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *providerHandler) cancel(w http.ResponseWriter, r *http.Request) {
	customerID := chi.URLParam(r, "customerID")
	if err := h.inv.Cancel(r.Context(), customerID); err != nil {
		writeError(w, http.StatusServiceUnavailable, codeUnavailable, err.Error())
		return
	}
	h.logger.InfoContext(r.Context(), "cancelled", "kind", h.inv.Kind(), "customer_id", customerID)
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, ErrorResponse{
		Error:   code,
		Message: msg,
	})
}
