package httpx

import (
	"encoding/json"
	"errors"
	"github.com/ariefcatur/go-flower-orders/internal/inventory"
	"github.com/ariefcatur/go-flower-orders/internal/logging"
	"github.com/ariefcatur/go-flower-orders/internal/orders"
	"go.uber.org/zap"
	"io"
	"net/http"
)

type errorBody struct {
	Error     string               `json:"error"`
	Message   string               `json:"message"`
	Shortages []inventory.Shortage `json:"shortages,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func statusFor(k orders.Kind) int {
	switch k {
	case orders.KindNotFound:
		return http.StatusNotFound
	case orders.KindInsufficientStock:
		return http.StatusConflict
	case orders.KindValidation:
		return http.StatusBadRequest
	case orders.KindTransient:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var e *orders.Error
	if !errors.As(err, &e) {
		logging.FromContext(r.Context()).Error("unclassified_error", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal", Message: "internal error"})
		return
	}
	code := statusFor(e.Kind)
	if code >= 500 {
		logging.FromContext(r.Context()).Warn("request_failed", zap.String("kind", e.Kind.String()), zap.Error(err))
	}
	writeJSON(w, code, errorBody{Error: e.Kind.String(), Message: e.Error(), Shortages: e.Shortages})
}

// decode reads a JSON body into v. Malformed input is a validation error.
func decode(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil {
		return nil
	}
	var e *orders.Error
	if errors.As(err, &e) {
		return e
	}
	msg := "invalid json"
	if errors.Is(err, io.EOF) {
		msg = "empty body"
	}
	return &orders.Error{Kind: orders.KindValidation, Op: "decode", Msg: msg, Err: err}
}
