package apiutil

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/codr1/LeagueConsole/internal/leagueapi"
)

func ParsePositiveIntField(raw string, field string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, FieldError{Field: field, Reason: "is required"}
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return 0, FieldError{Field: field, Reason: "must be greater than 0"}
	}
	return value, nil
}

// ListOptionsFromQuery reads page, pageSize and search. Absent values are
// left to the backend defaults.
func ListOptionsFromQuery(r *http.Request) (leagueapi.ListOptions, error) {
	query := r.URL.Query()
	opts := leagueapi.ListOptions{Search: strings.TrimSpace(query.Get("search"))}

	if raw := query.Get("page"); raw != "" {
		page, err := ParsePositiveIntField(raw, "page")
		if err != nil {
			return opts, err
		}
		opts.Page = page
	}
	if raw := query.Get("pageSize"); raw != "" {
		size, err := ParsePositiveIntField(raw, "pageSize")
		if err != nil {
			return opts, err
		}
		opts.PageSize = size
	}
	return opts, nil
}
