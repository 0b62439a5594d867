package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"k8s.io/klog/v2"

	dasherrors "github.com/skyhook-io/kubedash/internal/errors"
)

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error   string         `json:"error"`
	Code    string         `json:"code"`
	Details map[string]any `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		klog.Errorf("Failed to encode response: %v", err)
	}
}

// writeError maps a coded error to its HTTP status and JSON body.
func writeError(w http.ResponseWriter, err error) {
	code := dasherrors.GetCode(err)
	if code == 0 {
		code = dasherrors.ErrInternalServer
		if dasherrors.IsNotFound(err) {
			code = dasherrors.ErrNotFound
		}
	}

	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		klog.Errorf("Request failed: %v", err)
	}

	resp := ErrorResponse{Error: dasherrors.Message(err), Code: code.String()}
	var dashErr *dasherrors.DashError
	if errors.As(err, &dashErr) {
		resp.Details = dashErr.Details
	}
	writeJSON(w, status, resp)
}

func statusFor(err error) int {
	switch {
	case dasherrors.IsNotFound(err), dasherrors.IsCode(err, dasherrors.ErrK8sUnknownCluster):
		return http.StatusNotFound
	case dasherrors.IsValidation(err):
		return http.StatusBadRequest
	case dasherrors.IsCode(err, dasherrors.ErrForbidden):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return dasherrors.New(dasherrors.ErrBadRequest, "invalid request body: "+err.Error())
	}
	return nil
}
