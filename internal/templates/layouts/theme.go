package layouts

import (
	"fmt"
	"regexp"
	"strings"
)

var hexColorRegex = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

// Theme colours for the console shells. Empty or malformed values fall back
// to the defaults.
type Theme struct {
	PrimaryColor   string
	SecondaryColor string
	AccentColor    string
}

func DefaultTheme() Theme {
	return Theme{
		PrimaryColor:   "#1d4ed8",
		SecondaryColor: "#0f172a",
		AccentColor:    "#f59e0b",
	}
}

func getThemeCssVars(theme *Theme) string {
	defaultTheme := DefaultTheme()
	primary := defaultTheme.PrimaryColor
	secondary := defaultTheme.SecondaryColor
	accent := defaultTheme.AccentColor

	if theme != nil {
		primary = themeColorOrDefault(theme.PrimaryColor, primary)
		secondary = themeColorOrDefault(theme.SecondaryColor, secondary)
		accent = themeColorOrDefault(theme.AccentColor, accent)
	}

	return fmt.Sprintf(
		":root{--theme-primary:%s;--theme-secondary:%s;--theme-accent:%s;}",
		primary,
		secondary,
		accent,
	)
}

func themeColorOrDefault(value string, fallback string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}
	if !isHexColor(trimmed) {
		return fallback
	}
	return trimmed
}

func isHexColor(value string) bool {
	return hexColorRegex.MatchString(value)
}

func themeStyle(theme *Theme) string {
	return "<style>" + getThemeCssVars(theme) + "</style>"
}

func refreshDirective(target string, seconds int) string {
	if seconds < 1 {
		seconds = 1
	}
	return fmt.Sprintf("%d;url=%s", seconds, target)
}
