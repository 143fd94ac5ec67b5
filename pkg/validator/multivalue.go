package validator

import (
	"net/url"
	"regexp"
	"strings"
)

// TokenKind is the element type of a comma-separated multi-value field.
type TokenKind string

const (
	TokenEmail TokenKind = "email"
	TokenPhone TokenKind = "phone"
	TokenURL   TokenKind = "url"
	TokenTag   TokenKind = "tag"
)

var (
	emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	phonePattern = regexp.MustCompile(`^\+?[0-9()\[\] .\-]{5,20}$`)
)

// SplitTokens breaks a multi-value input into trimmed, non-empty tokens.
func SplitTokens(value string) []string {
	var tokens []string
	for _, token := range strings.Split(value, ",") {
		token = strings.TrimSpace(token)
		if token != "" {
			tokens = append(tokens, token)
		}
	}
	return tokens
}

// validateMultiValue applies the same per-token independent-error pattern as
// multi-choice to arbitrary value lists.
func validateMultiValue(kind TokenKind, value string) *Issue {
	items := map[string]string{}
	for _, token := range SplitTokens(value) {
		if message := validateToken(kind, token); message != "" {
			items[token] = message
		}
	}

	if len(items) == 0 {
		return nil
	}
	return &Issue{Message: "contains invalid values", Items: items}
}

func validateToken(kind TokenKind, token string) string {
	switch kind {
	case TokenEmail:
		if !emailPattern.MatchString(token) {
			return "Not a valid email address"
		}
	case TokenPhone:
		if !phonePattern.MatchString(token) {
			return "Not a valid phone number"
		}
	case TokenURL:
		parsed, err := url.Parse(token)
		if err != nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
			return "Not a valid URL"
		}
	case TokenTag, "":
		// Tags accept anything non-empty.
	}
	return ""
}
