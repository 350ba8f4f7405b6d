package api

import (
	"encoding/json"
	"net/http"

	"github.com/amelia-run/amelia/ameliaerr"
)

// writeJSON encodes v as the response body with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error      string `json:"error"`
	ExistingID string `json:"existing_id,omitempty"`
}

// writeError classifies err through ameliaerr's taxonomy and writes the
// matching HTTP status, per spec.md §7's error taxonomy.
func writeError(w http.ResponseWriter, err error) {
	ae, ok := ameliaerr.As(err)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
		return
	}
	body := errorBody{Error: ae.Error(), ExistingID: ae.ExistingID}
	switch ae.Kind {
	case ameliaerr.KindUser, ameliaerr.KindContent:
		writeJSON(w, http.StatusBadRequest, body)
	case ameliaerr.KindConflict:
		writeJSON(w, http.StatusConflict, body)
	case ameliaerr.KindCapacity:
		w.Header().Set("Retry-After", "5")
		writeJSON(w, http.StatusServiceUnavailable, body)
	case ameliaerr.KindCancelled:
		writeJSON(w, http.StatusGone, body)
	default:
		writeJSON(w, http.StatusInternalServerError, body)
	}
}

// decodeJSON decodes the request body into v, wrapped as a KindUser error
// on malformed JSON.
func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return ameliaerr.User("malformed request body: " + err.Error())
	}
	return nil
}
