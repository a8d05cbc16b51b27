package api

import (
	"encoding/json"
	"net/http"

	"github.com/litmuschaos/chaos-orchestrator/pkg/cerrors"
	"github.com/litmuschaos/chaos-orchestrator/pkg/log"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Errorf("[API]: Unable to encode the response, err: %v", err)
	}
}

// writeError maps the engine's error taxonomy onto HTTP status codes,
// non user-friendly errors surface as a bare internal error
func writeError(w http.ResponseWriter, err error) {
	message, code := cerrors.GetRootCauseAndErrorCode(err)

	status := http.StatusInternalServerError
	switch code {
	case cerrors.ErrorTypeValidation, cerrors.ErrorTypeInvalidCron:
		status = http.StatusBadRequest
	case cerrors.ErrorTypeNotFound:
		status = http.StatusNotFound
	case cerrors.ErrorTypeConflict:
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError && !cerrors.IsUserFriendly(err) {
		message = "internal error"
		log.Errorf("[API]: Request failed, err: %v", err)
	}

	writeJSON(w, status, errorBody{Error: errorDetail{Code: string(code), Message: message}})
}

func decodeJSON(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return cerrors.Error{ErrorCode: cerrors.ErrorTypeValidation, Reason: "malformed request body, " + err.Error()}
	}
	return nil
}
