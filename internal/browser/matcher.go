package browser

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"
)

// Predicate decides whether a request URL should be intercepted.
type Predicate func(url string) bool

type matcherKind int

const (
	matcherGlob matcherKind = iota + 1
	matcherRegexp
	matcherPredicate
)

// Matcher selects request URLs for routing. It is a tagged union over three
// forms: a glob pattern, a compiled regular expression, or a predicate
// function. A matcher is immutable once built.
//
// Equivalence between matchers follows the variant: glob patterns compare by
// value, regular expressions by source, and predicates by function identity
// (there is no meaningful value comparison for functions).
type Matcher struct {
	kind matcherKind
	glob string
	re   *regexp.Regexp
	pred Predicate
}

// MatchGlob builds a matcher from a URL glob pattern. `*` matches any run of
// characters within a path segment, `**` matches across segments and `?`
// matches a single character. The whole URL has to match.
func MatchGlob(pattern string) Matcher {
	return Matcher{kind: matcherGlob, glob: pattern, re: globToRegexp(pattern)}
}

// MatchRegexp builds a matcher that intercepts URLs the expression finds a
// match anywhere in.
func MatchRegexp(re *regexp.Regexp) Matcher {
	return Matcher{kind: matcherRegexp, re: re}
}

// MatchPredicate builds a matcher from an arbitrary URL predicate.
func MatchPredicate(pred Predicate) Matcher {
	return Matcher{kind: matcherPredicate, pred: pred}
}

func (m Matcher) valid() bool { return m.kind != 0 }

// matches reports whether the matcher selects u. A panicking predicate is
// reported as an error so the caller can fail just the affected request.
func (m Matcher) matches(u string) (matched bool, err error) {
	switch m.kind {
	case matcherGlob:
		return m.re.MatchString(u), nil
	case matcherRegexp:
		return m.re.MatchString(u), nil
	case matcherPredicate:
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("route predicate panic: %v", r)
			}
		}()
		return m.pred(u), nil
	}
	return false, nil
}

// equals implements the per-variant equivalence rule used by Unroute.
func (m Matcher) equals(o Matcher) bool {
	if m.kind != o.kind {
		return false
	}
	switch m.kind {
	case matcherGlob:
		return m.glob == o.glob
	case matcherRegexp:
		return m.re.String() == o.re.String()
	case matcherPredicate:
		return reflect.ValueOf(m.pred).Pointer() == reflect.ValueOf(o.pred).Pointer()
	}
	return false
}

func (m Matcher) String() string {
	switch m.kind {
	case matcherGlob:
		return "glob:" + m.glob
	case matcherRegexp:
		return "regexp:" + m.re.String()
	case matcherPredicate:
		return "predicate"
	}
	return "invalid"
}

// globToRegexp translates a URL glob into an anchored regular expression.
// `**` is rewritten before `*` so the two do not shadow each other.
func globToRegexp(pattern string) *regexp.Regexp {
	var b strings.Builder
	b.WriteString("^")
	for i := 0; i < len(pattern); i++ {
		switch c := pattern[i]; c {
		case '*':
			if i+1 < len(pattern) && pattern[i+1] == '*' {
				b.WriteString(".*")
				i++
			} else {
				b.WriteString("[^/]*")
			}
		case '?':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(c)))
		}
	}
	b.WriteString("$")
	// The translation only emits valid syntax, so compilation cannot fail.
	return regexp.MustCompile(b.String())
}
