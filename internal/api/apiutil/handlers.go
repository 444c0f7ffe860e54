package apiutil

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/codr1/LeagueConsole/internal/leagueapi"
)

type FieldError struct {
	Field  string
	Reason string
}

func (e FieldError) Error() string {
	return e.Field + " " + e.Reason
}

type HandlerError struct {
	Status  int
	Message string
	Err     error
}

func (e HandlerError) Error() string {
	return e.Message
}

func (e HandlerError) Unwrap() error {
	return e.Err
}

func WriteJSON(w http.ResponseWriter, status int, payload any) error {
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	if err := encoder.Encode(payload); err != nil {
		return err
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, err := w.Write(buf.Bytes())
	return err
}

// WriteError reports err to the caller. Backend errors keep their status and
// raw body; field errors are 400; anything else is a 502 since it failed on
// the way to the backend.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	logger := log.Ctx(r.Context())

	var apiErr *leagueapi.APIError
	var fieldErr FieldError
	var handlerErr HandlerError
	switch {
	case errors.As(err, &apiErr):
		logger.Warn().Int("status", apiErr.StatusCode).Msg("League API returned an error")
		contentType := "application/json"
		if !json.Valid(apiErr.Body) {
			contentType = "text/plain; charset=utf-8"
		}
		w.Header().Set("Content-Type", contentType)
		w.WriteHeader(apiErr.StatusCode)
		_, _ = w.Write(apiErr.Body)
	case errors.As(err, &fieldErr):
		_ = WriteJSON(w, http.StatusBadRequest, map[string]string{"error": fieldErr.Error()})
	case errors.As(err, &handlerErr):
		if handlerErr.Err != nil {
			logger.Error().Err(handlerErr.Err).Msg(handlerErr.Message)
		}
		_ = WriteJSON(w, handlerErr.Status, map[string]string{"error": handlerErr.Message})
	default:
		logger.Error().Err(err).Msg("League API request failed")
		_ = WriteJSON(w, http.StatusBadGateway, map[string]string{"error": "league api unavailable"})
	}
}
