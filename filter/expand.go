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

package filter

import (
	"strings"
)

// Path is a split filter query.  A segment that was not given is
// absent from the slice, so "message" has length 1 while "message:"
// has length 2 with an empty second segment.
type Path []string

// ParsePath splits a query on ':'.
func ParsePath(query string) Path {
	return Path(strings.Split(query, ":"))
}

func (p Path) String() string {
	return strings.Join(p, ":")
}

// at returns the i-th segment and whether it was given.
func (p Path) at(i int) (string, bool) {
	if i < len(p) {
		return p[i], true
	}
	return "", false
}

// with returns a copy of p with segment i replaced.
func (p Path) with(i int, s string) Path {
	acc := make(Path, len(p))
	copy(acc, p)
	acc[i] = s
	return acc
}

// blank reports whether none of the first three segments carries
// text.
func (p Path) blank(from int) bool {
	for i := from; i < 3 && i < len(p); i++ {
		if p[i] != "" {
			return false
		}
	}
	return true
}

// Expand rewrites the shortcuts in a single query into the canonical
// paths they stand for.
//
// The first pass replaces an L1 shortcut with each of its targets.
// Targets whose second segment is not valid for them are dropped,
// unless that second segment is itself a shortcut that the second
// pass still has to expand.  The second pass does the same for L2
// shortcuts, checking against the schema when a third segment is
// given.
func Expand(p Path) ([]Path, error) {
	return expand(UpdateSchema, p)
}

func expand(valid *Schema, p Path) ([]Path, error) {
	first := expandL1(valid, p)

	var second []Path
	for _, q := range first {
		second = append(second, expandL2(valid, q)...)
	}

	if len(second) == 0 {
		return nil, &QueryError{
			Query: p.String(),
			Msg:   "Shortcuts in '" + p.String() + "' do not expand to any valid filter query",
		}
	}

	return second, nil
}

func expandL1(valid *Schema, q Path) []Path {
	l1, _ := q.at(0)
	targets, shortcut := L1Shortcuts[l1]
	if !shortcut {
		return []Path{q}
	}
	if q.blank(0) {
		return []Path{q}
	}

	expanded := make([]Path, 0, len(targets))
	for _, t := range targets {
		expanded = append(expanded, q.with(0, t))
	}

	l2, haveL2 := q.at(1)
	if !haveL2 {
		return expanded
	}
	if _, l2Shortcut := L2Shortcuts[l2]; l2Shortcut && !q.blank(1) {
		// Leave the schema check to the second pass.
		return expanded
	}

	acc := expanded[:0]
	for _, e := range expanded {
		if _, ok := valid.Lookup(e[0], l2); ok {
			acc = append(acc, e)
		}
	}
	return acc
}

func expandL2(valid *Schema, q Path) []Path {
	l2, haveL2 := q.at(1)
	if !haveL2 {
		return []Path{q}
	}
	targets, shortcut := L2Shortcuts[l2]
	if !shortcut {
		return []Path{q}
	}
	if q.blank(1) {
		return []Path{q}
	}

	expanded := make([]Path, 0, len(targets))
	for _, t := range targets {
		expanded = append(expanded, q.with(1, t))
	}

	l3, haveL3 := q.at(2)
	if !haveL3 {
		return expanded
	}

	acc := expanded[:0]
	for _, e := range expanded {
		if _, ok := valid.Lookup(e[0], e[1], l3); ok {
			acc = append(acc, e)
		}
	}
	return acc
}
