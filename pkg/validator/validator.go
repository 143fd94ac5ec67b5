// Package validator classifies raw or corrected spreadsheet values against a
// target field's declared type. Every validator is a pure function of (field
// configuration, input string); no hidden state, no I/O, so the same checks
// run identically during interactive analysis and during final commit.
package validator

import (
	"fmt"
	"regexp"
	"strings"
)

// FieldKind is the declared type tag of a target field.
type FieldKind string

const (
	KindText         FieldKind = "text"
	KindDate         FieldKind = "date"
	KindDateTime     FieldKind = "datetime"
	KindNumber       FieldKind = "number"
	KindChoice       FieldKind = "choice"
	KindMultiChoice  FieldKind = "multi_choice"
	KindMultiValue   FieldKind = "multi_value"
	KindRelationship FieldKind = "relationship"
)

// FieldConfig carries everything a validator needs to know about a field.
type FieldConfig struct {
	Kind         FieldKind    `json:"kind"`
	Options      []string     `json:"options,omitempty"`
	DateFamily   DateFamily   `json:"dateFamily,omitempty"`
	NumberFormat NumberFormat `json:"numberFormat,omitempty"`
	TokenKind    TokenKind    `json:"tokenKind,omitempty"`
	MaxLength    int          `json:"maxLength,omitempty"`
	Pattern      string       `json:"pattern,omitempty"`
}

// Issue is a per-value semantic error. Items carries per-token errors for
// multi-value inputs, keyed by the offending token, so the caller can
// highlight exactly which sub-value is wrong.
type Issue struct {
	Message string            `json:"message"`
	Items   map[string]string `json:"items,omitempty"`
}

// Validate checks one input string against the field configuration. A nil
// result means the value is valid. Blank input is always valid here; required
// fields are enforced by column analysis, not per value.
func Validate(cfg FieldConfig, input string) *Issue {
	value := strings.TrimSpace(input)
	if value == "" {
		return nil
	}

	switch cfg.Kind {
	case KindDate:
		if _, err := ParseDate(cfg.DateFamily, value); err != nil {
			return &Issue{Message: err.Error()}
		}
		return nil
	case KindDateTime:
		if _, err := ParseDateTime(cfg.DateFamily, value); err != nil {
			return &Issue{Message: err.Error()}
		}
		return nil
	case KindNumber:
		if _, err := cfg.NumberFormat.Parse(value); err != nil {
			return &Issue{Message: err.Error()}
		}
		return nil
	case KindChoice:
		return validateChoice(cfg.Options, value)
	case KindMultiChoice:
		return validateMultiChoice(cfg.Options, value)
	case KindMultiValue:
		return validateMultiValue(cfg.TokenKind, value)
	case KindText, KindRelationship, "":
		return validateText(cfg, value)
	default:
		return validateText(cfg, value)
	}
}

func validateText(cfg FieldConfig, value string) *Issue {
	if cfg.MaxLength > 0 && len(value) > cfg.MaxLength {
		return &Issue{Message: fmt.Sprintf("value exceeds maximum length of %d characters", cfg.MaxLength)}
	}
	if cfg.Pattern != "" {
		re, err := regexp.Compile(cfg.Pattern)
		if err != nil {
			return nil
		}
		if !re.MatchString(value) {
			return &Issue{Message: "value does not match the required pattern"}
		}
	}
	return nil
}
