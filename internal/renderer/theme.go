package renderer

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Theme selects the page colour scheme and the code highlighting style.
type Theme string

const (
	ThemeDark  Theme = "dark"
	ThemeLight Theme = "light"
)

var titleCaser = cases.Title(language.English)

// ParseTheme validates a theme name.
func ParseTheme(s string) (Theme, error) {
	switch Theme(strings.ToLower(strings.TrimSpace(s))) {
	case ThemeDark, "":
		return ThemeDark, nil
	case ThemeLight:
		return ThemeLight, nil
	default:
		return "", fmt.Errorf("unknown theme %q (supported: dark, light)", s)
	}
}

// String implements pflag.Value.
func (t *Theme) String() string {
	if t == nil || *t == "" {
		return string(ThemeDark)
	}
	return string(*t)
}

// Set implements pflag.Value.
func (t *Theme) Set(s string) error {
	parsed, err := ParseTheme(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Type implements pflag.Value.
func (t *Theme) Type() string {
	return "theme"
}

// Label is the human readable theme name used in logs.
func (t Theme) Label() string {
	return titleCaser.String(string(t)) + " mode"
}

// HighlightStyle is the chroma style used for fenced code blocks.
func (t Theme) HighlightStyle() string {
	if t == ThemeLight {
		return "github"
	}
	return "github-dark"
}
