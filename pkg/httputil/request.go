package httputil

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
)

// DecodeJSONStrict decodes the request body as JSON, rejecting unknown
// fields. Handlers use it so typos in request bodies fail loudly instead
// of silently sending a packet with default options.
func DecodeJSONStrict(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// DecodeBase64 decodes a standard base64 string to bytes. Packet payloads
// cross the API in this form.
func DecodeBase64(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(s)
}

// EncodeBase64 encodes bytes to a standard base64 string.
func EncodeBase64(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// QueryParam returns the value of a query parameter, or defaultValue if
// not present.
func QueryParam(r *http.Request, key, defaultValue string) string {
	if v := r.URL.Query().Get(key); v != "" {
		return v
	}
	return defaultValue
}

// QueryParamInt returns the integer value of a query parameter, or
// defaultValue if not present or invalid.
func QueryParamInt(r *http.Request, key string, defaultValue int) int {
	if v := r.URL.Query().Get(key); v != "" {
		var i int
		if _, err := fmt.Sscanf(v, "%d", &i); err == nil {
			return i
		}
	}
	return defaultValue
}
