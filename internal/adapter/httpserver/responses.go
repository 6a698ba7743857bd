// Package httpserver contains HTTP handlers and middleware for the
// supply-chain decision pipeline's REST API: triggering and inspecting
// scraper, forecast, inventory, optimisation and decision runs.
package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/supplychainopt/decision-pipeline/internal/domain"
)

type errorEnvelope struct {
	Error apiError `json:"error"`
}

type apiError struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, _ *http.Request, err error, details interface{}) {
	code := http.StatusInternalServerError
	codeStr := "INTERNAL"
	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		code = http.StatusBadRequest
		codeStr = "INVALID_ARGUMENT"
	case errors.Is(err, domain.ErrNotFound):
		code = http.StatusNotFound
		codeStr = "NOT_FOUND"
	case errors.Is(err, domain.ErrConflict):
		code = http.StatusConflict
		codeStr = "CONFLICT"
	case errors.Is(err, domain.ErrRateLimited):
		code = http.StatusTooManyRequests
		codeStr = "RATE_LIMITED"
	case errors.Is(err, domain.ErrInfeasible):
		code = http.StatusUnprocessableEntity
		codeStr = "INFEASIBLE"
	case errors.Is(err, domain.ErrStageFailure):
		code = http.StatusInternalServerError
		codeStr = "STAGE_FAILURE"
	case errors.Is(err, domain.ErrSourceFailure):
		code = http.StatusInternalServerError
		codeStr = "SOURCE_FAILURE"
	case errors.Is(err, domain.ErrModelFitFailure):
		code = http.StatusInternalServerError
		codeStr = "MODEL_FIT_FAILURE"
	case errors.Is(err, domain.ErrInternal):
		code = http.StatusInternalServerError
		codeStr = "INTERNAL"
	}
	writeJSON(w, code, errorEnvelope{Error: apiError{Code: codeStr, Message: err.Error(), Details: details}})
}
