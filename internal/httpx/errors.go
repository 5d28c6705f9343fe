package httpx

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/ariefcatur/go-retail-orders/internal/orders"
	"github.com/ariefcatur/go-retail-orders/internal/redisx"
)

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

var errorCodes = []struct {
	err    error
	code   string
	status int
}{
	{orders.ErrInvalidRequest, "invalid_request", http.StatusBadRequest},
	{orders.ErrProductNotFound, "product_not_found", http.StatusNotFound},
	{orders.ErrOrderNotFound, "order_not_found", http.StatusNotFound},
	{orders.ErrProductInactive, "product_inactive", http.StatusUnprocessableEntity},
	{orders.ErrInsufficientStock, "insufficient_stock", http.StatusConflict},
	{orders.ErrInvalidStatusTransition, "invalid_status_transition", http.StatusConflict},
	{orders.ErrInvalidReservation, "invalid_reservation", http.StatusConflict},
	{orders.ErrAlreadyExists, "order_exists", http.StatusConflict},
	{redisx.ErrInProgress, "idempotency_in_progress", http.StatusConflict},
	{orders.ErrConcurrencyConflict, "concurrency_conflict", http.StatusServiceUnavailable},
}

func writeError(w http.ResponseWriter, log *zap.Logger, err error) {
	for _, e := range errorCodes {
		if errors.Is(err, e.err) {
			if e.status == http.StatusServiceUnavailable {
				w.Header().Set("Retry-After", "1")
			}
			writeJSON(w, e.status, errorBody{Error: e.code, Message: err.Error()})
			return
		}
	}
	log.Error("request failed", zap.Error(err))
	writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal", Message: "internal error"})
}
