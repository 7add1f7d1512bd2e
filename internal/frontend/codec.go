package frontend

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/olympus-org/olympus/internal/core"
)

// Error codes returned in response bodies. Stable strings clients can
// switch on; the HTTP status carries the transport semantics.
const (
	codeNotFound        = "not_found"
	codeInvalidArgument = "invalid_argument"
	codeConsentRequired = "consent_required"
	codeBudgetExceeded  = "budget_exceeded"
	codePayloadTooLarge = "payload_too_large"
	codeRateLimited     = "rate_limited"
	codeInternal        = "internal"
)

// apiError is the uniform error body. Never carries stack traces; the
// request id travels in the response header.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	// Headers are already out; an encode failure here means the client hung
	// up and there is nothing left to answer.
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, apiError{Code: code, Message: message})
}

// writeDomainError maps runtime sentinels onto HTTP statuses: missing
// entities to 404, consent gaps to 403, budget exhaustion to 402, anything
// a caller could have avoided to 400, the rest to 500.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, core.ErrPlanNotFound), errors.Is(err, core.ErrStepNotFound):
		writeError(w, http.StatusNotFound, codeNotFound, err.Error())
	case errors.Is(err, core.ErrConsentRequired), errors.Is(err, core.ErrConsentDenied):
		writeError(w, http.StatusForbidden, codeConsentRequired, err.Error())
	case errors.Is(err, core.ErrBudgetExceeded):
		writeError(w, http.StatusPaymentRequired, codeBudgetExceeded, err.Error())
	case errors.Is(err, core.ErrModelNotAllowed),
		errors.Is(err, core.ErrUnknownCapability),
		errors.Is(err, core.ErrCycleDetected),
		isValidation(err):
		writeError(w, http.StatusBadRequest, codeInvalidArgument, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, codeInternal, err.Error())
	}
}

func isValidation(err error) bool {
	var verr *core.ValidationError
	return errors.As(err, &verr)
}

// decodeJSON reads the request body into v. Oversized bodies cut off by
// MaxBytesReader answer 413, malformed JSON answers 400; either way the
// response has been written and the caller just returns.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, codePayloadTooLarge, "payload too large")
			return false
		}
		writeError(w, http.StatusBadRequest, codeInvalidArgument, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}
