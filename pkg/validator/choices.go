package validator

import (
	"fmt"
	"strings"
)

const maxOptionsInError = 5

func optionPreview(options []string) string {
	shown := options
	truncated := false
	if len(shown) > maxOptionsInError {
		shown = shown[:maxOptionsInError]
		truncated = true
	}
	preview := strings.Join(shown, ", ")
	if truncated {
		preview += ", …"
	}
	return preview
}

func validateChoice(options []string, value string) *Issue {
	for _, option := range options {
		if option == value {
			return nil
		}
	}
	return &Issue{
		Message: fmt.Sprintf("%q is not a valid option (valid: %s)", value, optionPreview(options)),
	}
}

// validateMultiChoice splits on comma, trims, and validates each token
// independently, returning one error keyed by the offending token rather than
// a single blended message.
func validateMultiChoice(options []string, value string) *Issue {
	valid := make(map[string]struct{}, len(options))
	for _, option := range options {
		valid[option] = struct{}{}
	}

	items := map[string]string{}
	for _, token := range strings.Split(value, ",") {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}
		if _, ok := valid[token]; !ok {
			items[token] = "Not a valid option"
		}
	}

	if len(items) == 0 {
		return nil
	}
	return &Issue{
		Message: fmt.Sprintf("contains invalid options (valid: %s)", optionPreview(options)),
		Items:   items,
	}
}
