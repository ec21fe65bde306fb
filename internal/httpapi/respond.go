package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/hlog"

	"github.com/mesh-intelligence/easel/pkg/types"
)

// maxBody bounds request bodies; canvases with long conversations are large.
const maxBody = 32 << 20

// errorBody is the JSON shape of every failed request.
type errorBody struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Code    string `json:"code"`
}

var codeStatus = map[string]int{
	types.CodeAuthenticationRequired:    http.StatusUnauthorized,
	types.CodeVersionConflictUnresolved: http.StatusConflict,
	types.CodeBackupNotFound:            http.StatusNotFound,
	types.CodeThreadNotFound:            http.StatusNotFound,
	types.CodeNotFound:                  http.StatusNotFound,
	types.CodeDatabaseUnavailable:       http.StatusServiceUnavailable,
	types.CodeInvalidRequest:            http.StatusBadRequest,
}

func statusFor(code string) int {
	if st, ok := codeStatus[code]; ok {
		return st
	}
	return http.StatusInternalServerError
}

func owner(r *http.Request) string {
	return r.Header.Get(UserHeader)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := types.ErrorCode(err)
	status := statusFor(code)
	if status >= http.StatusInternalServerError {
		hlog.FromRequest(r).Error().Err(err).Str("code", code).Msg("http: request failed")
	}
	writeJSON(w, status, errorBody{Error: err.Error(), Code: code})
}

// writeResult writes a result that already carries success and error. A
// failed result keeps its body and takes the status of its error.
func writeResult(w http.ResponseWriter, r *http.Request, v any, err error) {
	if err == nil {
		writeJSON(w, http.StatusOK, v)
		return
	}
	code := types.ErrorCode(err)
	status := statusFor(code)
	if status >= http.StatusInternalServerError {
		hlog.FromRequest(r).Error().Err(err).Str("code", code).Msg("http: request failed")
	}
	writeJSON(w, status, v)
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.Wrapf(types.ErrInvalidData, "request body: %v", err)
	}
	return nil
}
