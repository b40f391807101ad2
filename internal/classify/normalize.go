// Package classify assigns categories, recurrence flags and gambling verdicts
// to raw aggregator transactions.
//
// All detectors share one immutable *Rules value; none of them hold mutable
// state, so a single instance is safe for concurrent use.
package classify

import "strings"

// Normalize collapses runs of whitespace to single spaces and trims the
// result. Empty input yields "".
func Normalize(s string) string {
	if s == "" {
		return ""
	}
	return strings.Join(strings.Fields(s), " ")
}

// texts returns the non-empty normalized name and merchant strings.
func texts(name, merchant string) []string {
	out := make([]string, 0, 2)
	if n := Normalize(name); n != "" {
		out = append(out, n)
	}
	if m := Normalize(merchant); m != "" {
		out = append(out, m)
	}
	return out
}

// appendUnique appends v unless it is already present.
func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}
