package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// errBodyTooLarge marks a request body that tripped the size cap. Callers
// enforcing a payload limit map it to 413 instead of 400.
var errBodyTooLarge = errors.New("request body too large")

// decodeJSONBody decodes a JSON request body into dst with a size cap and
// strict field checking. It returns a client-facing error message suitable
// for a 400 response; a body past the cap wraps errBodyTooLarge.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any, maxBytes int64) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		var maxBytesErr *http.MaxBytesError
		var syntaxErr *json.SyntaxError
		var typeErr *json.UnmarshalTypeError
		switch {
		case errors.As(err, &maxBytesErr):
			return fmt.Errorf("%w: limit %d bytes", errBodyTooLarge, maxBytesErr.Limit)
		case errors.As(err, &syntaxErr):
			return fmt.Errorf("malformed JSON at offset %d", syntaxErr.Offset)
		case errors.As(err, &typeErr):
			return fmt.Errorf("invalid value for field %q", typeErr.Field)
		case errors.Is(err, io.EOF):
			return errors.New("request body must not be empty")
		case strings.HasPrefix(err.Error(), "json: unknown field"):
			return errors.New("request body contains an unknown field")
		default:
			return errors.New("invalid request body")
		}
	}

	if dec.More() {
		return errors.New("request body must contain a single JSON object")
	}
	return nil
}
