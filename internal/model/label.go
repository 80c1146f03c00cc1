package model

import "strings"

// Alphabet is the ordered set of letters a classifier output index maps to.
const Alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// Label is a recognized sign letter.
type Label string

// Unknown marks a prediction that did not resolve to a letter.
const Unknown Label = "?"

// Letters returns every letter label in alphabet order.
func Letters() []Label {
	out := make([]Label, 0, len(Alphabet))
	for _, r := range Alphabet {
		out = append(out, Label(string(r)))
	}
	return out
}

// ParseLabel maps a string to a letter label, case-insensitively.
func ParseLabel(s string) (Label, bool) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if len(s) != 1 || !strings.Contains(Alphabet, s) {
		return Unknown, false
	}
	return Label(s), true
}

// LabelAt maps a class index onto labels, returning Unknown when out of range.
func LabelAt(labels string, idx int) Label {
	if idx < 0 || idx >= len(labels) {
		return Unknown
	}
	return Label(labels[idx : idx+1])
}

// IsLetter reports whether l is one of the alphabet letters.
func (l Label) IsLetter() bool {
	return len(l) == 1 && strings.Contains(Alphabet, string(l))
}

func (l Label) String() string {
	return string(l)
}
