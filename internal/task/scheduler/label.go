package scheduler

import (
	"strconv"
	"strings"
)

type labelKind uint8

const (
	labelInvalid labelKind = iota
	labelString
	labelNumber
	labelKey
)

// Label names one live task. It is either a string id, a numeric id or a structural key.
//
// Labels are comparable and compare by exact match: kinds never coerce into each other,
// so StringLabel("1") and NumberLabel(1) are different labels.
type Label struct {
	kind labelKind
	str  string
	num  int64
}

func StringLabel(s string) Label { return Label{kind: labelString, str: s} }

func NumberLabel(n int64) Label { return Label{kind: labelNumber, num: n} }

// KeyLabel builds a structural key. Two keys are equal iff they have the same parts in the same order.
func KeyLabel(parts ...string) Label {
	quoted := make([]string, len(parts))
	for i, p := range parts {
		quoted[i] = strconv.Quote(p)
	}
	return Label{kind: labelKey, str: strings.Join(quoted, ",")}
}

// Valid reports whether l can be registered. The zero Label and the empty string label are invalid.
func (l Label) Valid() bool {
	switch l.kind {
	case labelString:
		return strings.TrimSpace(l.str) != ""
	case labelNumber, labelKey:
		return true
	default:
		return false
	}
}

func (l Label) String() string {
	switch l.kind {
	case labelString:
		return l.str
	case labelNumber:
		return "#" + strconv.FormatInt(l.num, 10)
	case labelKey:
		return "key(" + l.str + ")"
	default:
		return "<invalid>"
	}
}
