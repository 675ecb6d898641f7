// Package httpxtest answers requests from the stub Keywords, Paytato and
// DevTools servers used in tests.
package httpxtest

import (
	"encoding/json"
	"net/http"
)

// JSON writes value with status. Encoding failures surface in the client
// under test as decode errors.
func JSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

// Error writes the {code, message} body both upstream APIs use for failures.
func Error(w http.ResponseWriter, status int, code, message string) {
	JSON(w, status, map[string]string{"code": code, "message": message})
}
