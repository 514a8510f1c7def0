package compiler

import "strings"

// Options is an ordered sequence of compiler option tokens.
type Options []string

// ParseOptions splits space separated options into tokens. A string
// without any dash is treated as no options at all. Empty tokens produced
// by repeated spaces are skipped.
func ParseOptions(s string) Options {
	if !strings.Contains(s, "-") {
		return Options{}
	}
	fields := strings.Split(s, " ")
	o := make(Options, 0, len(fields))
	for _, f := range fields {
		if f != "" {
			o = append(o, f)
		}
	}
	return o
}

// NumberOfParameters returns the number of tokens in options string.
func NumberOfParameters(s string) int {
	return len(ParseOptions(s))
}

// Equal reports whether both sequences have the same tokens in the same order.
func (o Options) Equal(other Options) bool {
	if len(o) != len(other) {
		return false
	}
	for i := range o {
		if o[i] != other[i] {
			return false
		}
	}
	return true
}

func (o Options) String() string {
	return strings.Join(o, " ")
}
