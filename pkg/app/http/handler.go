// Package http provides the error-returning handler adapter and graceful
// server lifecycle used by the hopper API.
package http

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	apperrors "github.com/chainsafe/usdc-hopper/pkg/app/errors"
)

const maxBodyBytes = 1 << 20

// HandlerFunc defines a function that returns an error for clean error handling
type HandlerFunc func(http.ResponseWriter, *http.Request) error

type errorResponse struct {
	ErrMsg     string `json:"error"`
	ErrMsgCode int    `json:"code"`
}

// HandleError wraps an error-returning HandlerFunc into a standard
// http.HandlerFunc.
//
//	r.Post("/transfers", http.HandleError(logger, h.execute))
func HandleError(logger *zap.Logger, h HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := h(w, r); err != nil {
			WriteError(logger, w, r, err)
		}
	}
}

// WriteError renders err as a JSON error body. Service errors keep their
// message; anything else is reported as an unexpected error.
func WriteError(logger *zap.Logger, w http.ResponseWriter, r *http.Request, err error) {
	code := apperrors.StatusCode(err)
	msg := "Unexpected Service Error"
	if apperrors.CategoryOf(err) != apperrors.CategoryGeneralError {
		msg = err.Error()
	}

	if logger != nil {
		fields := []zap.Field{
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("code", code),
			zap.Error(err),
		}
		if code >= http.StatusInternalServerError {
			logger.Error("Request failed", fields...)
		} else {
			logger.Debug("Request rejected", fields...)
		}
	}

	WriteJSON(w, code, &errorResponse{ErrMsg: msg, ErrMsgCode: code})
}

// WriteJSON writes v with the given status code.
func WriteJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// DecodeJSON reads a JSON request body into v. Malformed bodies are a
// DataError.
func DecodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return apperrors.BadRequestError(err, fmt.Sprintf("Invalid request body: %v", err))
	}
	return nil
}
