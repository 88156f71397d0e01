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

// Package filter compiles filter queries into predicates over
// updates.
//
// A filter query is a colon-delimited path of at most three
// segments, such as "message:entities:url".  Each segment narrows
// the previous one.  Several queries given together are alternatives.
//
// Compilation goes through four stages: shortcut expansion (Expand),
// validation against UpdateSchema (Check), merging into an OR tree
// (Treeify), and lowering into a Node (Build).  Errors are reported
// while compiling, never while matching.
package filter

import (
	"strings"
)

// Filter is a compiled set of alternative queries.
type Filter struct {
	// Queries are the queries as given.
	Queries []string

	// Paths are the validated, fully expanded paths.
	Paths []Path

	// Root is the compiled predicate.
	Root Node
}

// Compile compiles the given queries, which are OR'd together.
func Compile(queries ...string) (*Filter, error) {
	var all []Path
	for _, q := range queries {
		ps, err := Paths(q)
		if err != nil {
			return nil, err
		}
		all = append(all, ps...)
	}

	root, err := Build(Treeify(all))
	if err != nil {
		return nil, err
	}

	return &Filter{
		Queries: queries,
		Paths:   all,
		Root:    root,
	}, nil
}

// MustCompile is like Compile but panics on error.
func MustCompile(queries ...string) *Filter {
	f, err := Compile(queries...)
	if err != nil {
		panic(err)
	}
	return f
}

// Paths expands and validates a single query.
func Paths(query string) ([]Path, error) {
	p := ParsePath(query)
	expanded, err := Expand(p)
	if err != nil {
		return nil, err
	}
	return Check(p, expanded)
}

// Match evaluates the filter against the generic JSON form of an
// update.
func (f *Filter) Match(update map[string]interface{}, self Self) bool {
	if update == nil {
		return false
	}
	return f.Root.Eval(update, self)
}

func (f *Filter) String() string {
	return strings.Join(f.Queries, ",")
}
