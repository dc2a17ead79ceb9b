package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/piataro/credits/internal/validate"
)

const maxBody = 64 << 10

// decodeBody reads the request body, checks it against schema and unmarshals
// it into dst. It writes the 400 itself when ok is false.
func decodeBody(w http.ResponseWriter, r *http.Request, v *validate.Validator, schema string, dst any) bool {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBody))
	if err != nil {
		http.Error(w, `{"error":"request body too large"}`, http.StatusBadRequest)
		return false
	}
	if err := v.Validate(schema, body); err != nil {
		if errors.Is(err, validate.ErrValidation) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		} else {
			http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		}
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return false
	}
	return true
}
