// Package template renders stored prompt templates by substituting
// caller-supplied variables into {{name}} placeholders.
//
// Substitution is literal string replacement only — no expression
// evaluation, no recursion into substituted values — so untrusted variable
// content cannot inject further placeholders or formatting directives into
// the provider call.
package template

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/promptdeck/promptdeck/internal/model"
)

// ErrMissingVariable is the sentinel matched by errors.Is for any render
// failure caused by an unbound placeholder.
var ErrMissingVariable = errors.New("template: missing variable")

// MissingVariableError reports the first placeholder with no binding.
type MissingVariableError struct {
	Name string
}

func (e *MissingVariableError) Error() string {
	return fmt.Sprintf("template: missing variable %q", e.Name)
}

func (e *MissingVariableError) Unwrap() error { return ErrMissingVariable }

// placeholderRe matches {{name}} tokens. Names are limited to identifier
// characters so stray braces in prose never parse as placeholders.
var placeholderRe = regexp.MustCompile(`\{\{([A-Za-z_][A-Za-z0-9_]*)\}\}`)

// Render substitutes variables into every template message and returns the
// rendered message sequence. Message order and roles are preserved exactly;
// only content changes. Rendering fails closed: any placeholder without a
// binding aborts the whole render, so no partially substituted output ever
// reaches a provider.
func Render(tmpl []model.TemplateMessage, variables map[string]string) ([]model.Message, error) {
	rendered := make([]model.Message, 0, len(tmpl))
	for _, msg := range tmpl {
		content, err := substitute(msg.Content, variables)
		if err != nil {
			return nil, err
		}
		rendered = append(rendered, model.Message{Role: msg.Role, Content: content})
	}
	return rendered, nil
}

// Variables returns the distinct placeholder names referenced by a
// template, in first-appearance order.
func Variables(tmpl []model.TemplateMessage) []string {
	seen := make(map[string]bool)
	var names []string
	for _, msg := range tmpl {
		for _, m := range placeholderRe.FindAllStringSubmatch(msg.Content, -1) {
			if !seen[m[1]] {
				seen[m[1]] = true
				names = append(names, m[1])
			}
		}
	}
	return names
}

func substitute(content string, variables map[string]string) (string, error) {
	var missing string
	result := placeholderRe.ReplaceAllStringFunc(content, func(token string) string {
		name := token[2 : len(token)-2]
		value, ok := variables[name]
		if !ok {
			if missing == "" {
				missing = name
			}
			return token
		}
		return value
	})
	if missing != "" {
		return "", &MissingVariableError{Name: missing}
	}
	return result, nil
}
