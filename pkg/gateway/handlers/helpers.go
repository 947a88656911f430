package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/warmline/warmline/pkg/core"
	"github.com/warmline/warmline/pkg/gateway/apierror"
)

// errorResponse is the failure shape for turn-style endpoints: the
// success flag keeps simple clients from needing status-code logic.
type errorResponse struct {
	Success bool        `json:"success"`
	Error   *core.Error `json:"error"`
}

func writeError(w http.ResponseWriter, reqID string, err error) {
	coreErr, status := apierror.FromError(err, reqID)
	if coreErr.RetryAfter != nil && *coreErr.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(*coreErr.RetryAfter))
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorResponse{Success: false, Error: coreErr})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
