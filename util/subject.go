package util

import "strings"

// Subjects are dot separated tokens. In a pattern "*" stands for exactly one
// token and a final ">" for one or more.

// SubjectMatches reports whether subject is covered by pattern.
func SubjectMatches(pattern, subject string) bool {
	return matchTokens(strings.Split(pattern, "."), strings.Split(subject, "."), false)
}

// SubjectsOverlap reports whether some concrete subject is matched by both
// patterns, e.g. "event.console.*" and "event.>".
func SubjectsOverlap(a, b string) bool {
	return matchTokens(strings.Split(a, "."), strings.Split(b, "."), true)
}

// matchTokens walks both token lists. With both set, wildcards on the right
// side count as well.
func matchTokens(p, s []string, both bool) bool {
	for len(p) > 0 && len(s) > 0 {
		pt, st := p[0], s[0]
		switch {
		case pt == ">", both && st == ">":
			return true
		case pt == "*", both && st == "*", pt == st:
		default:
			return false
		}
		p, s = p[1:], s[1:]
	}
	return len(p) == 0 && len(s) == 0
}
