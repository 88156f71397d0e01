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
	"fmt"
	"strings"
)

// QueryError reports a filter query that cannot be compiled.  These
// are user errors: the message names the offending segment and the
// permitted alternatives.
type QueryError struct {
	// Query is the original query as given.
	Query string

	// Msg is the complete, user-facing message.
	Msg string

	// Causes holds the individual messages when several
	// expansions of one query failed.
	Causes []string
}

func (e *QueryError) Error() string {
	return e.Msg
}

// EmptyQueryMessage is reported when no path segments remain to be
// validated.
const EmptyQueryMessage = "Empty filter query given"

// Check validates the expansions of one original query against the
// UpdateSchema.
//
// A single failing expansion is reported verbatim.  Several failing
// expansions are reported together with their count.  If nothing
// fails, the expansions are returned unchanged.
func Check(original Path, expanded []Path) ([]Path, error) {
	return check(UpdateSchema, original, expanded)
}

func check(valid *Schema, original Path, expanded []Path) ([]Path, error) {
	if len(expanded) == 0 {
		return nil, &QueryError{Query: original.String(), Msg: EmptyQueryMessage}
	}

	var problems []string
	for _, p := range expanded {
		if msg := checkOne(valid, p); msg != "" {
			problems = append(problems, msg)
		}
	}

	switch len(problems) {
	case 0:
		return expanded, nil
	case 1:
		return nil, &QueryError{Query: original.String(), Msg: problems[0], Causes: problems}
	default:
		return nil, &QueryError{
			Query: original.String(),
			Msg: fmt.Sprintf("Invalid filter query '%s'. There are %d errors after expanding the contained shortcuts: %s",
				original, len(problems), strings.Join(problems, "; ")),
			Causes: problems,
		}
	}
}

// checkOne returns the empty string if the path is valid.
func checkOne(valid *Schema, p Path) string {
	l1, have := p.at(0)
	if !have {
		return EmptyQueryMessage
	}
	l1Schema, ok := valid.Child(l1)
	if !ok {
		return fmt.Sprintf("Invalid L1 filter '%s' given in '%s'. Permitted values are: %s.",
			l1, p, permitted(valid))
	}

	l2, have := p.at(1)
	if !have {
		return ""
	}
	l2Schema, ok := l1Schema.Child(l2)
	if !ok {
		return fmt.Sprintf("Invalid L2 filter '%s' given in '%s'. Permitted values are: %s.",
			l2, p, permitted(l1Schema))
	}

	l3, have := p.at(2)
	if !have {
		return ""
	}
	if !l2Schema.Has(l3) {
		if l2Schema.IsLeaf() {
			return fmt.Sprintf("Invalid L3 filter '%s' given in '%s'. No further filtering is possible after '%s:%s'.",
				l3, p, l1, l2)
		}
		return fmt.Sprintf("Invalid L3 filter '%s' given in '%s'. Permitted values are: %s.",
			l3, p, permitted(l2Schema))
	}

	if len(p) <= 3 {
		return ""
	}
	return fmt.Sprintf("Cannot filter further than three levels, ':%s' is invalid!", strings.Join(p[3:], ":"))
}

func permitted(s *Schema) string {
	keys := s.Keys()
	quoted := make([]string, len(keys))
	for i, k := range keys {
		quoted[i] = "'" + k + "'"
	}
	return strings.Join(quoted, ", ")
}
