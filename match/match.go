/* Copyright 2019 Comcast Cable Communications Management, LLC
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 * http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package match implements a structural pattern matcher.
//
// A pattern is a generic JSON value.  Strings that start with '?' are
// variables, which bind to whatever they meet.  A map pattern matches
// any map that has at least the pattern's keys with matching values.
// An array pattern is a set: each element must match a distinct
// element of the fact array, in any order.
//
// Matching can succeed in several ways, so results are a list of
// Bindings.  No bindings means no match.
package match

import (
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
)

// Matcher holds matching options.
type Matcher struct {
	// AllowPropertyVariables enables a variable as the only key in
	// a map pattern.  That variable binds to each key of the fact
	// in turn.
	AllowPropertyVariables bool
}

var DefaultMatcher = &Matcher{
	AllowPropertyVariables: true,
}

// Bindings is a map from variables (strings starting with a '?') to
// their values.
type Bindings map[string]interface{}

func NewBindings() Bindings {
	return make(Bindings, 8)
}

// Extend adds the property; modifies and returns the Bindings.
func (bs Bindings) Extend(p string, v interface{}) Bindings {
	bs[p] = v
	return bs
}

// Copy makes a shallow copy of the Bindings.
func (bs Bindings) Copy() Bindings {
	acc := make(Bindings, len(bs))
	for k, v := range bs {
		acc[k] = v
	}
	return acc
}

// String returns the binding for the given variable if it is a
// string.
func (bs Bindings) String(v string) (string, bool) {
	x, have := bs[v]
	if !have {
		return "", false
	}
	s, is := x.(string)
	return s, is
}

// IsVariable reports if the string represents a pattern variable.
func IsVariable(s string) bool {
	return strings.HasPrefix(s, "?")
}

// IsOptionalVariable detects a variable of the form '??x', which
// matches even when its key (or array element) is missing.
func IsOptionalVariable(x interface{}) bool {
	s, is := x.(string)
	return is && strings.HasPrefix(s, "??")
}

// IsAnonymousVariable detects a variable of the form '?'.  A binding
// for an anonymous variable never makes it into bindings.
func IsAnonymousVariable(s string) bool {
	return s == "?"
}

// UnknownPatternType is an error that includes the thing that's
// causing the trouble.
type UnknownPatternType struct {
	Pattern interface{}
}

func (e *UnknownPatternType) Error() string {
	return "unknown pattern type"
}

// Match attempts to match the given fact with the given pattern,
// extending the given bindings, which are not modified.
func (m *Matcher) Match(pattern, fact interface{}, bs Bindings) ([]Bindings, error) {
	if bs == nil {
		bs = NewBindings()
	}
	return m.match(pattern, fact, bs.Copy())
}

// Matches is Match with empty initial bindings.
func (m *Matcher) Matches(pattern, fact interface{}) ([]Bindings, error) {
	return m.Match(pattern, fact, nil)
}

// Match uses DefaultMatcher.
func Match(pattern, fact interface{}, bs Bindings) ([]Bindings, error) {
	return DefaultMatcher.Match(pattern, fact, bs)
}

// match may modify the given bindings.
func (m *Matcher) match(pattern, fact interface{}, bs Bindings) ([]Bindings, error) {
	pattern = fudge(pattern)
	fact = fudge(fact)

	switch p := pattern.(type) {
	case nil:
		if fact == nil {
			return []Bindings{bs}, nil
		}
		return nil, nil

	case bool, float64:
		if pattern == fact {
			return []Bindings{bs}, nil
		}
		return nil, nil

	case string:
		if !IsVariable(p) {
			if s, is := fact.(string); is && s == p {
				return []Bindings{bs}, nil
			}
			return nil, nil
		}
		if IsAnonymousVariable(p) {
			return []Bindings{bs}, nil
		}
		if bound, have := bs[p]; have {
			return m.match(bound, fact, bs)
		}
		bs[p] = fact
		return []Bindings{bs}, nil

	case map[string]interface{}:
		f, is := fact.(map[string]interface{})
		if !is {
			return nil, nil
		}
		return m.mapcat(p, f, bs)

	case []interface{}:
		f, is := fact.([]interface{})
		if !is {
			return nil, nil
		}
		return m.arraycat(p, f, make([]bool, len(f)), bs)

	default:
		return nil, &UnknownPatternType{pattern}
	}
}

// mapcat matches the pattern's properties one at a time in key
// order, carrying every set of bindings that survives.
func (m *Matcher) mapcat(pattern, fact map[string]interface{}, bs Bindings) ([]Bindings, error) {
	keys := sortedKeys(pattern)

	for _, k := range keys {
		if !IsVariable(k) {
			continue
		}
		if !m.AllowPropertyVariables {
			return nil, errors.Newf(`can't have a variable as a key ("%s")`, k)
		}
		if len(pattern) != 1 {
			return nil, errors.Newf(`can't have a variable as a key ("%s") with other keys`, k)
		}
		var acc []Bindings
		for _, fk := range sortedKeys(fact) {
			bss, err := m.match(k, fk, bs.Copy())
			if err != nil {
				return nil, err
			}
			for _, b := range bss {
				more, err := m.match(pattern[k], fact[fk], b)
				if err != nil {
					return nil, err
				}
				acc = append(acc, more...)
			}
		}
		return acc, nil
	}

	bss := []Bindings{bs}
	for _, k := range keys {
		v := pattern[k]
		fv, have := fact[k]
		if !have {
			if IsOptionalVariable(v) {
				continue
			}
			return nil, nil
		}
		var acc []Bindings
		for _, b := range bss {
			more, err := m.match(v, fv, b.Copy())
			if err != nil {
				return nil, err
			}
			acc = append(acc, more...)
		}
		if len(acc) == 0 {
			return nil, nil
		}
		bss = acc
	}
	return bss, nil
}

// arraycat matches each pattern element against a distinct, unused
// fact element.  This backtracks, which can be scary.
func (m *Matcher) arraycat(pattern, fact []interface{}, used []bool, bs Bindings) ([]Bindings, error) {
	if len(pattern) == 0 {
		return []Bindings{bs}, nil
	}
	p := pattern[0]

	var acc []Bindings
	for i, f := range fact {
		if used[i] {
			continue
		}
		bss, err := m.match(p, f, bs.Copy())
		if err != nil {
			return nil, err
		}
		for _, b := range bss {
			used[i] = true
			more, err := m.arraycat(pattern[1:], fact, used, b)
			used[i] = false
			if err != nil {
				return nil, err
			}
			acc = append(acc, more...)
		}
	}

	if len(acc) == 0 && IsOptionalVariable(p) {
		return m.arraycat(pattern[1:], fact, used, bs)
	}
	return acc, nil
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// fudge is a hack to cast numbers to float64s.
func fudge(x interface{}) interface{} {
	switch vv := x.(type) {
	case float32:
		return float64(vv)
	case int64:
		return float64(vv)
	case int32:
		return float64(vv)
	case int:
		return float64(vv)
	case map[string]string:
		acc := make(map[string]interface{}, len(vv))
		for k, v := range vv {
			acc[k] = v
		}
		return acc
	case []string:
		acc := make([]interface{}, len(vv))
		for i, v := range vv {
			acc[i] = v
		}
		return acc
	default:
		return x
	}
}
