// Package prompt hydrates stage user-prompt templates. Each stage owns a
// closed set of ${placeholder} variables; templates referencing anything
// outside that set are rejected before any LLM call is made.
package prompt

import (
	"fmt"
	"regexp"
	"strings"
)

// placeholderPattern matches ${name} tokens in a template.
var placeholderPattern = regexp.MustCompile(`\$\{([A-Za-z][A-Za-z0-9_]*)\}`)

// UnknownPlaceholderError reports a template variable outside the
// stage's allowed set.
type UnknownPlaceholderError struct {
	Placeholder string
}

// Error returns the formatted error message.
func (e *UnknownPlaceholderError) Error() string {
	return fmt.Sprintf("unknown template placeholder ${%s}", e.Placeholder)
}

// Hydrate substitutes the given variables into a template. Every
// ${placeholder} in the template must have an entry in vars; the first
// unknown placeholder fails the hydration.
func Hydrate(template string, vars map[string]string) (string, error) {
	var unknown *UnknownPlaceholderError
	hydrated := placeholderPattern.ReplaceAllStringFunc(template, func(token string) string {
		name := placeholderPattern.FindStringSubmatch(token)[1]
		value, ok := vars[name]
		if !ok {
			if unknown == nil {
				unknown = &UnknownPlaceholderError{Placeholder: name}
			}
			return token
		}
		return value
	})
	if unknown != nil {
		return "", unknown
	}
	return hydrated, nil
}

// Placeholders returns the distinct placeholder names used by a template,
// in first-appearance order.
func Placeholders(template string) []string {
	seen := make(map[string]struct{})
	var names []string
	for _, match := range placeholderPattern.FindAllStringSubmatch(template, -1) {
		name := match[1]
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	return names
}

// Validate checks that a template only uses placeholders from the
// allowed set. Returns the first offending placeholder as an
// UnknownPlaceholderError.
func Validate(template string, allowed ...string) error {
	for _, name := range Placeholders(template) {
		found := false
		for _, a := range allowed {
			if name == a {
				found = true
				break
			}
		}
		if !found {
			return &UnknownPlaceholderError{Placeholder: name}
		}
	}
	return nil
}

// Describe formats the allowed set for error messages.
func Describe(allowed []string) string {
	quoted := make([]string, len(allowed))
	for i, a := range allowed {
		quoted[i] = "${" + a + "}"
	}
	return strings.Join(quoted, ", ")
}
