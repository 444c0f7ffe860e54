// internal/api/events/handlers.go
package events

import (
	"context"
	"fmt"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/codr1/LeagueConsole/internal/api/apiutil"
	"github.com/codr1/LeagueConsole/internal/browser"
)

const (
	eventIDPathKey      = "eventId"
	defaultExportFormat = "csv"
)

var (
	backendTimeout = 15 * time.Second
	exportFormats  = map[string]bool{"csv": true, "xlsx": true}
)

// InitHandlers sets the per-request deadline for backend calls.
func InitHandlers(timeout time.Duration) {
	if timeout > 0 {
		backendTimeout = timeout
	}
}

func apiContext(w http.ResponseWriter, r *http.Request) (*browser.Context, context.Context, context.CancelFunc, bool) {
	bc, ok := browser.FromContext(r.Context())
	if !ok || bc.API == nil {
		apiutil.WriteError(w, r, apiutil.HandlerError{Status: http.StatusInternalServerError, Message: "browser context unavailable"})
		return nil, nil, nil, false
	}
	ctx, cancel := context.WithTimeout(r.Context(), backendTimeout)
	return bc, ctx, cancel, true
}

func eventID(r *http.Request) (string, error) {
	id := strings.TrimSpace(r.PathValue(eventIDPathKey))
	if id == "" {
		return "", apiutil.FieldError{Field: eventIDPathKey, Reason: "is required"}
	}
	return id, nil
}

// HandleListEvents serves GET /api/v1/events.
func HandleListEvents(w http.ResponseWriter, r *http.Request) {
	opts, err := apiutil.ListOptionsFromQuery(r)
	if err != nil {
		apiutil.WriteError(w, r, err)
		return
	}
	bc, ctx, cancel, ok := apiContext(w, r)
	if !ok {
		return
	}
	defer cancel()

	page, err := bc.API.ListEvents(ctx, opts)
	if err != nil {
		apiutil.WriteError(w, r, err)
		return
	}
	if err := apiutil.WriteJSON(w, http.StatusOK, page); err != nil {
		log.Ctx(r.Context()).Error().Err(err).Msg("Failed to write events response")
	}
}

// HandleLeaderboard serves GET /api/v1/events/{eventId}/leaderboard.
func HandleLeaderboard(w http.ResponseWriter, r *http.Request) {
	id, err := eventID(r)
	if err != nil {
		apiutil.WriteError(w, r, err)
		return
	}
	bc, ctx, cancel, ok := apiContext(w, r)
	if !ok {
		return
	}
	defer cancel()

	entries, err := bc.API.Leaderboard(ctx, id)
	if err != nil {
		apiutil.WriteError(w, r, err)
		return
	}
	if err := apiutil.WriteJSON(w, http.StatusOK, map[string]any{"data": entries}); err != nil {
		log.Ctx(r.Context()).Error().Err(err).Str("event_id", id).Msg("Failed to write leaderboard response")
	}
}

// HandleExportLeaderboard serves GET /api/v1/events/{eventId}/leaderboard/export?format=.
func HandleExportLeaderboard(w http.ResponseWriter, r *http.Request) {
	id, err := eventID(r)
	if err != nil {
		apiutil.WriteError(w, r, err)
		return
	}
	format := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("format")))
	if format == "" {
		format = defaultExportFormat
	}
	if !exportFormats[format] {
		apiutil.WriteError(w, r, apiutil.FieldError{Field: "format", Reason: "must be csv or xlsx"})
		return
	}
	bc, ctx, cancel, ok := apiContext(w, r)
	if !ok {
		return
	}
	defer cancel()

	download, err := bc.API.ExportLeaderboard(ctx, id, format)
	if err != nil {
		apiutil.WriteError(w, r, err)
		return
	}

	filename := download.Filename
	if filename == "" || filename == "export" {
		filename = fmt.Sprintf("leaderboard-%s.%s", id, format)
	}
	w.Header().Set("Content-Type", download.ContentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": filename}))
	w.Header().Set("Content-Length", strconv.Itoa(len(download.Data)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(download.Data); err != nil {
		log.Ctx(r.Context()).Warn().Err(err).Str("event_id", id).Msg("Failed to stream leaderboard export")
	}
}
