package validator

import (
	"strings"
	"testing"
)

func TestValidateBlankIsAlwaysValid(t *testing.T) {
	cfg := FieldConfig{Kind: KindNumber}
	if issue := Validate(cfg, "   "); issue != nil {
		t.Fatalf("blank input should be valid, got %+v", issue)
	}
}

func TestValidateNumberFormats(t *testing.T) {
	cases := []struct {
		format NumberFormat
		input  string
		want   float64
		valid  bool
	}{
		{PointFormat, "1,234.56", 1234.56, true},
		{CommaFormat, "1.234,56", 1234.56, true},
		{PointFormat, "12.5", 12.5, true},
		{CommaFormat, "12,5", 12.5, true},
		{PointFormat, "abc", 0, false},
		{CommaFormat, "1,2,3", 0, false},
	}

	for _, tc := range cases {
		got, err := tc.format.Parse(tc.input)
		if tc.valid && err != nil {
			t.Fatalf("Parse(%q) returned error: %v", tc.input, err)
		}
		if !tc.valid && err == nil {
			t.Fatalf("Parse(%q) expected error, got %v", tc.input, got)
		}
		if tc.valid && got != tc.want {
			t.Fatalf("Parse(%q) = %v, want %v", tc.input, got, tc.want)
		}
	}
}

func TestNumberFormatRoundTrip(t *testing.T) {
	if got := CommaFormat.Format(1234.5); got != "1234,5" {
		t.Fatalf("unexpected comma rendering: %q", got)
	}
}

func TestValidateSingleChoice(t *testing.T) {
	cfg := FieldConfig{Kind: KindChoice, Options: []string{"red", "blue", "green"}}

	if issue := Validate(cfg, "blue"); issue != nil {
		t.Fatalf("expected valid option, got %+v", issue)
	}

	issue := Validate(cfg, "purple")
	if issue == nil {
		t.Fatalf("expected invalid option error")
	}
	if !strings.Contains(issue.Message, "red, blue, green") {
		t.Fatalf("error should list valid options: %q", issue.Message)
	}
}

func TestValidateSingleChoiceTruncatesOptionList(t *testing.T) {
	cfg := FieldConfig{
		Kind:    KindChoice,
		Options: []string{"a", "b", "c", "d", "e", "f", "g"},
	}
	issue := Validate(cfg, "nope")
	if issue == nil {
		t.Fatalf("expected invalid option error")
	}
	if !strings.Contains(issue.Message, "…") {
		t.Fatalf("expected truncation marker in %q", issue.Message)
	}
	if strings.Contains(issue.Message, "f, g") {
		t.Fatalf("expected at most 5 options listed: %q", issue.Message)
	}
}

func TestValidateMultiChoicePerTokenErrors(t *testing.T) {
	cfg := FieldConfig{Kind: KindMultiChoice, Options: []string{"red", "blue", "green"}}

	issue := Validate(cfg, "red, bluuu, green")
	if issue == nil {
		t.Fatalf("expected per-token error")
	}
	if len(issue.Items) != 1 {
		t.Fatalf("expected one offending token, got %v", issue.Items)
	}
	if issue.Items["bluuu"] != "Not a valid option" {
		t.Fatalf("unexpected item error map: %v", issue.Items)
	}
}

func TestValidateMultiValueEmails(t *testing.T) {
	cfg := FieldConfig{Kind: KindMultiValue, TokenKind: TokenEmail}

	if issue := Validate(cfg, "a@example.com, b@example.org"); issue != nil {
		t.Fatalf("expected valid emails, got %+v", issue)
	}

	issue := Validate(cfg, "a@example.com, not-an-email")
	if issue == nil {
		t.Fatalf("expected invalid email error")
	}
	if issue.Items["not-an-email"] != "Not a valid email address" {
		t.Fatalf("unexpected items: %v", issue.Items)
	}
}

func TestValidateMultiValueURLs(t *testing.T) {
	cfg := FieldConfig{Kind: KindMultiValue, TokenKind: TokenURL}
	issue := Validate(cfg, "https://example.com, ftp://example.com")
	if issue == nil {
		t.Fatalf("expected invalid url error")
	}
	if _, ok := issue.Items["ftp://example.com"]; !ok {
		t.Fatalf("unexpected items: %v", issue.Items)
	}
}

func TestValidateTextRules(t *testing.T) {
	cfg := FieldConfig{Kind: KindText, MaxLength: 3}
	if issue := Validate(cfg, "abcd"); issue == nil {
		t.Fatalf("expected max length violation")
	}

	cfg = FieldConfig{Kind: KindText, Pattern: `^[A-Z]{2}-\d+$`}
	if issue := Validate(cfg, "AB-42"); issue != nil {
		t.Fatalf("expected pattern match, got %+v", issue)
	}
	if issue := Validate(cfg, "nope"); issue == nil {
		t.Fatalf("expected pattern violation")
	}
}
