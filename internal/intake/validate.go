package intake

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// Validation rejections. They are recovered locally by re-prompting.
var (
	ErrEmptyInput         = errors.New("empty input")
	ErrDocumentNotDigits  = errors.New("document must contain only digits")
	ErrDocumentLength     = errors.New("document length out of range")
	ErrUnrecognizedAnswer = errors.New("answer is neither yes nor no")
)

// DigitPolicy decides what happens to non-digit characters in a document.
type DigitPolicy string

const (
	// DigitPolicyReject rejects any input containing a non-digit character.
	DigitPolicyReject DigitPolicy = "reject"
	// DigitPolicyStrip drops non-digit characters before validating.
	DigitPolicyStrip DigitPolicy = "strip"
)

// ParseDigitPolicy parses a configuration value.
func ParseDigitPolicy(s string) (DigitPolicy, error) {
	switch DigitPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case DigitPolicyReject:
		return DigitPolicyReject, nil
	case DigitPolicyStrip:
		return DigitPolicyStrip, nil
	default:
		return "", fmt.Errorf("unknown document digit policy %q", s)
	}
}

// DocumentPolicy validates identity-document numbers.
// A zero MinDigits or MaxDigits leaves that bound unconstrained.
type DocumentPolicy struct {
	Digits    DigitPolicy
	MinDigits int
	MaxDigits int
}

// Parse returns the digits-only document or a rejection.
func (p DocumentPolicy) Parse(raw string) (string, error) {
	doc := strings.TrimSpace(raw)
	if p.Digits == DigitPolicyStrip {
		doc = strings.Map(func(r rune) rune {
			if r >= '0' && r <= '9' {
				return r
			}
			return -1
		}, doc)
	}
	if doc == "" {
		return "", ErrEmptyInput
	}
	for _, r := range doc {
		if r < '0' || r > '9' {
			return "", ErrDocumentNotDigits
		}
	}
	n := len(doc)
	if (p.MinDigits > 0 && n < p.MinDigits) || (p.MaxDigits > 0 && n > p.MaxDigits) {
		return "", ErrDocumentLength
	}
	return doc, nil
}

// ParseName trims the input and collapses inner whitespace.
func ParseName(raw string) (string, error) {
	name := strings.Join(strings.Fields(raw), " ")
	if name == "" {
		return "", ErrEmptyInput
	}
	return name, nil
}

// ParseReason trims free text, keeping it otherwise verbatim.
func ParseReason(raw string) (string, error) {
	reason := strings.TrimSpace(raw)
	if reason == "" {
		return "", ErrEmptyInput
	}
	return reason, nil
}

// Answer is the interpretation of a yes/no reply.
type Answer int

const (
	AnswerUnknown Answer = iota
	AnswerYes
	AnswerNo
)

var (
	yesWords = map[string]struct{}{
		"si": {}, "s": {}, "yes": {}, "y": {}, "ok": {}, "dale": {},
		"correcto": {}, "correctos": {}, "son correctos": {}, "claro": {},
	}
	noWords = map[string]struct{}{
		"no": {}, "n": {}, "incorrecto": {}, "incorrectos": {}, "nope": {},
	}
)

// ParseYesNo interprets a reply case- and diacritic-insensitively.
func ParseYesNo(raw string) Answer {
	s := strings.TrimRightFunc(fold(raw), func(r rune) bool {
		return unicode.IsPunct(r) || unicode.IsSpace(r)
	})
	s = strings.TrimLeftFunc(s, unicode.IsPunct)
	if _, ok := yesWords[s]; ok {
		return AnswerYes
	}
	if _, ok := noWords[s]; ok {
		return AnswerNo
	}
	// "si, son correctos" / "no, cambiaron"
	if first := firstWord(s); first != s {
		return ParseYesNo(first)
	}
	return AnswerUnknown
}

func firstWord(s string) string {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return unicode.IsSpace(r) || r == ',' || r == '.'
	})
	if len(fields) == 0 {
		return s
	}
	return fields[0]
}
