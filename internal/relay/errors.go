package relay

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/kenneth/secsend/internal/relayerr"
)

// errSchemaf wraps a formatted message with relayerr.ErrSchemaError,
// for request-shape failures (e.g. an unreadable body) that precede
// metadata.ParseNew's own schema checks.
func errSchemaf(format string, args ...interface{}) error {
	return fmt.Errorf(format+": %w", append(args, relayerr.ErrSchemaError)...)
}

// statusForKind maps each relayerr.Kind to its HTTP status. IDExists
// never reaches here: it is retried internally by upload/new and only
// ever surfaces as the exhausted-retries case (IDUnavailable).
var statusForKind = map[relayerr.Kind]int{
	relayerr.KindIDInvalid:       http.StatusBadRequest,
	relayerr.KindIDWrongType:     http.StatusBadRequest,
	relayerr.KindIDUnknown:       http.StatusNotFound,
	relayerr.KindIDUnavailable:   http.StatusInternalServerError,
	relayerr.KindInvalidMetadata: http.StatusInternalServerError,
	relayerr.KindFileLocked:      http.StatusBadRequest,
	relayerr.KindSchemaError:     http.StatusBadRequest,
	relayerr.KindSizeLimit:       http.StatusBadRequest,
	relayerr.KindAlreadyComplete: http.StatusBadRequest,
	relayerr.KindInvalidTimeout:  http.StatusBadRequest,
}

// statusForError resolves the HTTP status for err, defaulting to 500
// for anything that isn't one of the typed relayerr kinds.
func statusForError(err error) int {
	kind, ok := relayerr.Of(err)
	if !ok {
		return http.StatusInternalServerError
	}
	status, ok := statusForKind[kind]
	if !ok {
		return http.StatusInternalServerError
	}
	return status
}

type errorBody struct {
	Error string `json:"error"`
}

// writeError maps err to a status code and writes it as a plain
// {"error": message} body.
func writeError(w http.ResponseWriter, err error) int {
	status := statusForError(err)
	writeJSON(w, status, errorBody{Error: err.Error()})
	return status
}

// writeJSON writes v as a JSON body with status, using one
// json.NewEncoder(w).Encode call per response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
