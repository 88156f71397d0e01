/* Copyright 2018 Comcast Cable Communications Management, LLC
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

package tools

import (
	"sort"
	"strconv"
	"strings"

	"github.com/Comcast/switchyard/core"
	"github.com/Comcast/switchyard/filter"
	"github.com/Comcast/switchyard/routes"
)

// SpecAnalysis summarizes a route spec and notes likely mistakes.
type SpecAnalysis struct {
	spec *routes.Spec

	Errors []string

	RouteCount int
	Scripts    int
	Replies    int

	// Commands lists every registered command.
	Commands []string

	// DuplicateCommands are registered by more than one route.
	// Only the first such route can see them unless its handler
	// passes updates on.
	DuplicateCommands []string

	// Unconditional routes match every update.
	Unconditional []string

	// Shadowed routes come after an unconditional route without
	// code, so they never run.
	Shadowed []string

	// Paths holds each filter query's expansion.
	Paths map[string][]string

	// UpdateTypes are the top-level update fields the routes'
	// queries can select.
	UpdateTypes []string
}

// Analyze examines the spec without compiling scripts.
func Analyze(s *routes.Spec) (*SpecAnalysis, error) {
	a := SpecAnalysis{
		spec:       s,
		RouteCount: len(s.Routes),
		Errors:     make([]string, 0, 8),
		Paths:      make(map[string][]string),
	}

	commands, dups, types := make(map[string]bool), make(map[string]bool), make(map[string]bool)
	var blocker string

	for i, r := range s.Routes {
		if r == nil {
			a.Errors = append(a.Errors, "route #"+strconv.Itoa(i)+" is empty")
			continue
		}
		name := routeName(i, r)
		if blocker != "" {
			a.Shadowed = append(a.Shadowed, name)
		}

		if r.Code != nil {
			a.Scripts++
		}
		if r.When != nil {
			a.Scripts++
		}
		if r.Reply != "" {
			a.Replies++
		}

		for _, q := range r.On {
			paths, err := filter.Paths(q)
			if err != nil {
				a.Errors = append(a.Errors, name+": "+err.Error())
				continue
			}
			ss := make([]string, len(paths))
			for j, p := range paths {
				ss[j] = p.String()
				types[p[0]] = true
			}
			a.Paths[q] = ss
		}

		for _, c := range r.Command {
			if err := core.ValidateCommand(c); err != nil {
				a.Errors = append(a.Errors, name+": "+err.Error())
				continue
			}
			if commands[c] {
				dups[c] = true
			}
			commands[c] = true
		}

		if len(Conditions(r)) == 0 {
			a.Unconditional = append(a.Unconditional, name)
			if r.Code == nil && blocker == "" {
				blocker = name
			}
		}
	}

	a.Commands = keysToStringSlice(commands)
	a.DuplicateCommands = keysToStringSlice(dups)
	a.UpdateTypes = keysToStringSlice(types)

	return &a, nil
}

// Summary is a line per finding.
func (a *SpecAnalysis) Summary() string {
	var acc []string
	for _, e := range a.Errors {
		acc = append(acc, "error: "+e)
	}
	for _, c := range a.DuplicateCommands {
		acc = append(acc, "warning: command '"+c+"' is registered more than once")
	}
	for _, r := range a.Shadowed {
		acc = append(acc, "warning: route '"+r+"' is never reached")
	}
	return strings.Join(acc, "\n")
}

// keysToStringSlice returns the sorted keys of the map.
// Optionally, it can add a default value if the map is empty.
func keysToStringSlice(m map[string]bool, defaultValue ...string) []string {
	var list []string
	for key := range m {
		list = append(list, key)
	}
	sort.Strings(list)

	if len(list) == 0 && len(defaultValue) > 0 {
		return []string{defaultValue[0]}
	}

	return list
}
