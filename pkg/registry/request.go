package registry

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// MaxRequestLength bounds a normalized request including brackets.
const MaxRequestLength = 15

// MaxIndex is the highest addressable field of a record.
const MaxIndex = 12

var (
	ErrInvalidRequest  = errors.New("registry: invalid request format, expected REQUEST, REQUEST() or REQUEST(ARGS)")
	ErrRequestTooLong  = fmt.Errorf("registry: request longer than %d characters including ()", MaxRequestLength)
	ErrInvalidSelector = errors.New("registry: invalid field selector")
)

var requestPattern = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_]*)\s*(\([^)]*\))$`)

// Request is a validated, normalized meter command such as "VOLTA()".
type Request string

// ParseRequest validates raw, appends "()" when the brackets are missing
// and drops blanks between the name and the bracket.
func ParseRequest(raw string) (Request, error) {
	s := strings.TrimSpace(raw)
	if !strings.HasSuffix(s, ")") {
		s += "()"
	}
	m := requestPattern.FindStringSubmatch(s)
	if m == nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidRequest, raw)
	}
	s = m[1] + m[2]
	if len(s) > MaxRequestLength {
		return "", fmt.Errorf("%w: %q", ErrRequestTooLong, raw)
	}
	return Request(s), nil
}

// Function is the command name without arguments; the meter echoes it
// in front of the values.
func (r Request) Function() string {
	s := string(r)
	if i := strings.IndexByte(s, '('); i >= 0 {
		return s[:i]
	}
	return s
}

func (r Request) String() string { return string(r) }

// FieldSelector locates a value in a record. SubIndex 0 selects the whole
// field.
type FieldSelector struct {
	Index    int
	SubIndex int
}

func (f FieldSelector) Validate() error {
	if f.Index < 1 || f.Index > MaxIndex {
		return fmt.Errorf("%w: index %d not in 1..%d", ErrInvalidSelector, f.Index, MaxIndex)
	}
	if f.SubIndex < 0 || f.SubIndex > MaxIndex {
		return fmt.Errorf("%w: sub_index %d not in 0..%d", ErrInvalidSelector, f.SubIndex, MaxIndex)
	}
	return nil
}

func (f FieldSelector) String() string {
	if f.SubIndex == 0 {
		return fmt.Sprintf("%d", f.Index)
	}
	return fmt.Sprintf("%d.%d", f.Index, f.SubIndex)
}
