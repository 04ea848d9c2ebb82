package iec

import (
	"bytes"
	"fmt"
	"strings"
)

// Record is a decoded data block such as "VOLT(230.1)" or
// "ET0PE(12.3)(4.5)".
type Record struct {
	// Command is the SOH command ("R1", "P0", "B0"); empty for STX blocks.
	Command string
	// Name is the text before the first bracket.
	Name string
	// Raw is the data part with line breaks removed.
	Raw string
	// Groups holds the content of each bracket group in order.
	Groups []string
	// Fields are the addressable values. Several groups map one field
	// per group; a single group is split on ',' and ';'.
	Fields []string
}

func (r *Record) parseData(data []byte) error {
	data = bytes.ReplaceAll(data, crlf, nil)
	data = bytes.ReplaceAll(data, []byte{LF}, nil)
	r.Raw = string(data)

	s := r.Raw
	open := strings.IndexByte(s, '(')
	if open < 0 {
		r.Name = s
		return nil
	}
	r.Name = s[:open]
	for open >= 0 && len(r.Groups) < MaxFields {
		end := strings.IndexByte(s[open:], ')')
		if end < 0 {
			return fmt.Errorf("%w: unbalanced bracket", ErrTruncated)
		}
		r.Groups = append(r.Groups, s[open+1:open+end])
		s = s[open+end+1:]
		open = strings.IndexByte(s, '(')
	}

	if len(r.Groups) == 1 {
		r.Fields = splitAny(r.Groups[0], ",;")
	} else {
		r.Fields = r.Groups
	}
	if len(r.Fields) > MaxFields {
		r.Fields = r.Fields[:MaxFields]
	}
	return nil
}

// Field extracts the value at the 1-based index. A sub index above zero
// selects the n-th comma separated part of that field. For a single group
// reply the sub index addresses the unsplit group, so "DATE_(d,t)" gives
// t for (1, 2) as well as for (2, 0).
func (r Record) Field(index, sub int) (string, error) {
	if sub > 0 && len(r.Groups) == 1 {
		if index != 1 {
			return "", fmt.Errorf("%w: index %d with sub index on a single group", ErrFieldOutOfRange, index)
		}
		return subPart(r.Groups[0], index, sub)
	}
	if index < 1 || index > len(r.Fields) {
		return "", fmt.Errorf("%w: index %d, record has %d fields", ErrFieldOutOfRange, index, len(r.Fields))
	}
	v := r.Fields[index-1]
	if sub == 0 {
		return v, nil
	}
	return subPart(v, index, sub)
}

func subPart(v string, index, sub int) (string, error) {
	parts := strings.Split(v, ",")
	if sub < 0 || sub > len(parts) {
		return "", fmt.Errorf("%w: sub index %d, field %d has %d parts", ErrFieldOutOfRange, sub, index, len(parts))
	}
	return parts[sub-1], nil
}

// IsError reports a meter error reply such as "(ERR12)".
func (r Record) IsError() bool {
	return r.Name == "" && len(r.Fields) > 0 && strings.HasPrefix(r.Fields[0], "ERR")
}

// splitAny splits on any rune in seps and keeps empty parts.
func splitAny(s, seps string) []string {
	var out []string
	last := 0
	for i, r := range s {
		if strings.ContainsRune(seps, r) {
			out = append(out, s[last:i])
			last = i + 1
		}
	}
	return append(out, s[last:])
}
