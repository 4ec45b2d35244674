// Package query expands the placeholders of relational extract queries.
//
// Two kinds of placeholder exist. Tags of the form {{ name }} are bound when
// the operator runs, from parameter artifacts or built-ins such as
// {{ today }}. Positional placeholders $1..$N are bound when the query is
// declared, from the extra arguments given with it.
package query

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/BaSui01/pipeflow/types"
)

var (
	tagPattern        = regexp.MustCompile(`{{\s*([^{}\s]+)\s*}}`)
	positionalPattern = regexp.MustCompile(`\$(\d+)`)
	chainPattern      = regexp.MustCompile(`\$(\D|$)`)
)

// BuiltinFunc renders a built-in tag at time now.
type BuiltinFunc func(now time.Time) string

// Builtins is the built-in tag table.
var Builtins = map[string]BuiltinFunc{
	"today": func(now time.Time) string {
		return "'" + now.Format("2006-01-02") + "'"
	},
}

// Tags returns the distinct tag names referenced by q, in order of first
// appearance.
func Tags(q string) []string {
	var names []string
	seen := make(map[string]bool)
	for _, m := range tagPattern.FindAllStringSubmatch(q, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			names = append(names, m[1])
		}
	}
	return names
}

// Expand replaces every {{ name }} tag in q. User parameters win over
// built-ins; an unknown tag is an error.
func Expand(q string, params map[string]string, now time.Time) (string, error) {
	var missing []string
	out := tagPattern.ReplaceAllStringFunc(q, func(match string) string {
		name := tagPattern.FindStringSubmatch(match)[1]
		if v, ok := params[name]; ok {
			return v
		}
		if fn, ok := Builtins[name]; ok {
			return fn(now)
		}
		missing = append(missing, name)
		return match
	})
	if len(missing) > 0 {
		return "", types.Errorf(types.ErrUserFatal, "unable to expand tag {{ %s }}: no parameter or built-in of that name", missing[0]).
			WithTip("Define a parameter with this name or remove the tag from the query.")
	}
	return out, nil
}

// SubstitutePositional binds $1..$N to args. The number of distinct
// placeholders must match len(args) and be numbered from 1.
func SubstitutePositional(q string, args []string) (string, error) {
	used := make(map[int]bool)
	var badIndex error
	out := positionalPattern.ReplaceAllStringFunc(q, func(match string) string {
		idx, err := strconv.Atoi(match[1:])
		if err != nil || idx < 1 || idx > len(args) {
			if badIndex == nil {
				badIndex = types.InvalidUserArgument("query references %s but only %d arguments were given", match, len(args))
			}
			return match
		}
		used[idx] = true
		return args[idx-1]
	})
	if badIndex != nil {
		return "", badIndex
	}
	if len(used) != len(args) {
		return "", types.InvalidUserArgument("query has %d positional placeholders but %d arguments were given", len(used), len(args))
	}
	return out, nil
}

// Chain folds a list of queries into one: every "$" in a query that is not
// followed by a digit is replaced by the previous query as a subquery.
// Placeholders inside an earlier query are not substituted again.
func Chain(queries []string) (string, error) {
	if len(queries) == 0 {
		return "", types.InvalidUserArgument("query chain is empty")
	}
	result := queries[0]
	for i, q := range queries[1:] {
		if !chainPattern.MatchString(q) {
			return "", types.InvalidUserArgument("query %d of the chain does not reference the previous query with $", i+2)
		}
		prev := "(" + strings.TrimRight(strings.TrimSpace(result), ";") + ")"
		result = chainPattern.ReplaceAllStringFunc(q, func(match string) string {
			return prev + match[1:]
		})
	}
	return result, nil
}

// Usable reports whether q has no tag or positional placeholder left.
func Usable(q string) bool {
	return !tagPattern.MatchString(q) && !positionalPattern.MatchString(q)
}

// Bound reports whether q has no positional placeholder or chain reference
// left. Tags may remain; they are bound when the extract runs.
func Bound(q string) bool {
	return !positionalPattern.MatchString(q) && !chainPattern.MatchString(q)
}

// Prepare binds positional arguments and folds a chain into a single query.
// The returned query may still contain tags.
func Prepare(queries []string, args []string) (string, error) {
	if len(queries) == 0 {
		return "", types.InvalidUserArgument("no query given")
	}
	q := queries[0]
	if len(queries) > 1 {
		chained, err := Chain(queries)
		if err != nil {
			return "", err
		}
		q = chained
	}
	if len(args) == 0 {
		if positionalPattern.MatchString(q) {
			return "", types.InvalidUserArgument("query has positional placeholders but no arguments were given")
		}
		return q, nil
	}
	bound, err := SubstitutePositional(q, args)
	if err != nil {
		return "", fmt.Errorf("failed to bind query arguments: %w", err)
	}
	return bound, nil
}
