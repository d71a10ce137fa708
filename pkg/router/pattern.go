// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package router

import (
	"fmt"
	"regexp"
	"strings"
)

// typePatterns maps a parameter type constraint to its capture class.
// Unknown types fall back to the generic segment match.
var typePatterns = map[string]string{
	"int":   "([0-9]+)",
	"uuid":  "([0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12})",
	"alpha": "([a-zA-Z]+)",
}

const segmentPattern = "([^/]+)"

// NormalizePattern strips one trailing slash so /users/ and /users name
// the same route. The root pattern is kept as is.
func NormalizePattern(pattern string) string {
	if len(pattern) > 1 && pattern[len(pattern)-1] == '/' {
		return pattern[:len(pattern)-1]
	}
	return pattern
}

// compilePattern translates a route pattern into an anchored regular
// expression and the parameter names captured by it.
//
// Pattern syntax:
//
//	{name}        one path segment, captured as name
//	{name:int}    digits only
//	{name:uuid}   canonical UUID form
//	{name:alpha}  letters only
//	{name?}       optional segment, may be empty
//	*             matches anything including slashes
//
// All other characters match literally. A trailing slash on the matched
// path is always tolerated.
func compilePattern(pattern string) (*regexp.Regexp, []string, error) {
	if pattern == "" || pattern[0] != '/' {
		return nil, nil, fmt.Errorf("%w: %q must start with /", ErrInvalidPattern, pattern)
	}
	if err := checkBraces(pattern); err != nil {
		return nil, nil, err
	}

	var sb strings.Builder
	sb.WriteString("^")
	var params []string

	for i := 0; i < len(pattern); {
		c := pattern[i]
		switch {
		case c == '{':
			end := strings.IndexByte(pattern[i:], '}')
			token := pattern[i+1 : i+end]
			name, capture, err := compileParam(token)
			if err != nil {
				return nil, nil, err
			}
			params = append(params, name)
			sb.WriteString(capture)
			i += end + 1
		case c == '*':
			sb.WriteString(".*")
			i++
		default:
			if strings.IndexByte(`\.+()[]^$|?`, c) >= 0 {
				sb.WriteByte('\\')
			}
			sb.WriteByte(c)
			i++
		}
	}
	sb.WriteString("/?$")

	re, err := regexp.Compile(sb.String())
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %q: %v", ErrPatternCompile, pattern, err)
	}
	return re, params, nil
}

// compileParam turns the inside of a {...} token into a parameter name
// and its capture expression.
func compileParam(token string) (string, string, error) {
	optional := strings.HasSuffix(token, "?")
	if optional {
		token = token[:len(token)-1]
	}

	name := token
	capture := segmentPattern
	if ci := strings.IndexByte(token, ':'); ci >= 0 {
		name = token[:ci]
		if typed, ok := typePatterns[token[ci+1:]]; ok {
			capture = typed
		}
	}
	if name == "" {
		return "", "", fmt.Errorf("%w: empty parameter name", ErrInvalidPattern)
	}

	if optional {
		if capture == segmentPattern {
			capture = "([^/]*)"
		}
		capture += "?"
	}
	return name, capture, nil
}

// checkBraces verifies parameter braces are balanced and not nested.
func checkBraces(pattern string) error {
	depth := 0
	for _, c := range pattern {
		switch c {
		case '{':
			depth++
			if depth > 1 {
				return fmt.Errorf("%w: nested braces in %q", ErrInvalidPattern, pattern)
			}
		case '}':
			depth--
			if depth < 0 {
				return fmt.Errorf("%w: unbalanced braces in %q", ErrInvalidPattern, pattern)
			}
		}
	}
	if depth != 0 {
		return fmt.Errorf("%w: unbalanced braces in %q", ErrInvalidPattern, pattern)
	}
	return nil
}
