package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/lexiqai/avatar-gateway/internal/apperr"
	"github.com/lexiqai/avatar-gateway/internal/observability"
)

type envelope struct {
	OK    bool       `json:"ok"`
	Data  any        `json:"data,omitempty"`
	Error *errorBody `json:"error,omitempty"`
}

type errorBody struct {
	Message string          `json:"message"`
	Detail  json.RawMessage `json:"detail,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondOK(w http.ResponseWriter, data any) {
	respondJSON(w, http.StatusOK, envelope{OK: true, Data: data})
}

// respondError maps err onto the failure envelope. Upstream diagnostics are
// passed through as detail; unclassified errors get fallback as message.
func respondError(w http.ResponseWriter, r *http.Request, fallback string, err error) {
	status := apperr.HTTPStatus(err)
	body := &errorBody{Message: apperr.Message(err)}

	switch {
	case status == http.StatusBadRequest:
	case apperr.Detail(err) != "":
		body.Detail = json.RawMessage(apperr.Detail(err))
	default:
		body.Detail = jsonString(err.Error())
	}
	if status == http.StatusInternalServerError {
		body.Message = fallback
	}

	logger := loggerFrom(r)
	event := logger.Warn()
	if status >= http.StatusInternalServerError {
		event = logger.Error()
		observability.RecordError(strconv.Itoa(status), "httpapi")
	}
	event.Err(err).Int("status", status).Str("path", r.URL.Path).Msg(fallback)

	respondJSON(w, status, envelope{Error: body})
}

func jsonString(s string) json.RawMessage {
	out, _ := json.Marshal(s)
	return out
}

// decodeJSON reads a bounded JSON body into out. An empty body leaves out
// untouched so required-field checks report what is missing.
func decodeJSON(w http.ResponseWriter, r *http.Request, out any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return apperr.Validation("request body exceeds %d bytes", maxBodyBytes)
		}
		return apperr.Validation("invalid JSON body: %s", strings.TrimPrefix(err.Error(), "json: "))
	}
	return nil
}
