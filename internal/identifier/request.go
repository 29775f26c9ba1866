package identifier

import (
	"regexp"
	"strconv"
	"strings"

	"campus-inventory-api/internal/inverrors"
)

var (
	categoryPattern = regexp.MustCompile(`^[A-Z0-9]{1,8}$`)
	yearPattern     = regexp.MustCompile(`^\d{2}$`)
)

// Request is a caller's identifier choice as submitted. An empty Sequence asks
// for the next free number; an empty Year means no year token.
type Request struct {
	Category string `json:"category,omitempty" yaml:"category,omitempty"`
	Year     string `json:"year,omitempty" yaml:"year,omitempty"`
	Sequence string `json:"sequence,omitempty" yaml:"sequence,omitempty"`
}

// Spec is a validated Request. Sequence 0 means auto-number.
type Spec struct {
	Category string
	Year     string
	Sequence int
}

// Explicit reports whether the caller chose the sequence.
func (s Spec) Explicit() bool { return s.Sequence > 0 }

// Parse validates r. field names the request in validation errors ("tag" or
// "management_tag").
func Parse(field string, r Request) (Spec, error) {
	spec := Spec{
		Category: strings.ToUpper(strings.TrimSpace(r.Category)),
		Year:     strings.TrimSpace(r.Year),
	}
	if spec.Category == "" {
		return Spec{}, inverrors.Invalid(field+".category", "category is required")
	}
	if !categoryPattern.MatchString(spec.Category) {
		return Spec{}, inverrors.Invalid(field+".category", "must be 1-8 letters or digits")
	}
	if spec.Year != "" && !yearPattern.MatchString(spec.Year) {
		return Spec{}, inverrors.Invalid(field+".year", "must be two digits")
	}
	if seq := strings.TrimSpace(r.Sequence); seq != "" {
		n, err := strconv.Atoi(seq)
		if err != nil {
			return Spec{}, inverrors.Invalid(field+".sequence", "must be numeric")
		}
		if n <= 0 {
			return Spec{}, inverrors.Invalid(field+".sequence", "must be positive")
		}
		spec.Sequence = n
	}
	return spec, nil
}
