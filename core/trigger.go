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

package core

import (
	"encoding/json"
	"regexp"

	"github.com/Comcast/switchyard/match"
)

// Trigger tests some text, such as a message's text or a callback
// query's data.
type Trigger interface {
	Test(text string) (Match, bool)
}

// Text is a trigger that matches exactly its own value.
type Text string

func (t Text) Test(text string) (Match, bool) {
	if string(t) != text {
		return Match{}, false
	}
	return Match{Text: text}, true
}

// Regexp is a trigger that matches a regular expression anywhere in
// the text.
type Regexp struct {
	*regexp.Regexp
}

// Re compiles a Regexp trigger.  A bad expression panics with a
// ConfigurationError.
func Re(expr string) Regexp {
	re, err := regexp.Compile(expr)
	if err != nil {
		misconfigured(err)
	}
	return Regexp{re}
}

func (t Regexp) Test(text string) (Match, bool) {
	groups := t.FindStringSubmatch(text)
	if groups == nil {
		return Match{}, false
	}
	return Match{Text: groups[0], Groups: groups}, true
}

// Pattern is a trigger that parses the text as JSON and matches it
// against a structural pattern.  See package match.
type Pattern struct {
	Pattern interface{}
	Matcher *match.Matcher
}

func (t Pattern) Test(text string) (Match, bool) {
	var x interface{}
	if err := json.Unmarshal([]byte(text), &x); err != nil {
		return Match{}, false
	}
	m := t.Matcher
	if m == nil {
		m = match.DefaultMatcher
	}
	bss, err := m.Matches(t.Pattern, x)
	if err != nil || len(bss) == 0 {
		return Match{}, false
	}
	return Match{Text: text, Bindings: bss[0]}, true
}

// Triggers tries each trigger in order.  The first one that matches
// wins.
type Triggers []Trigger

func (ts Triggers) Test(text string) (Match, bool) {
	for _, t := range ts {
		if m, ok := t.Test(text); ok {
			return m, true
		}
	}
	return Match{}, false
}

// AsTrigger converts a string, a *regexp.Regexp, a Trigger, or a
// slice of these into a Trigger.  Anything else panics with a
// ConfigurationError.
func AsTrigger(x interface{}) Trigger {
	switch vv := x.(type) {
	case Trigger:
		return vv
	case string:
		return Text(vv)
	case *regexp.Regexp:
		return Regexp{vv}
	case []string:
		acc := make(Triggers, len(vv))
		for i, s := range vv {
			acc[i] = Text(s)
		}
		return acc
	case []interface{}:
		acc := make(Triggers, len(vv))
		for i, t := range vv {
			acc[i] = AsTrigger(t)
		}
		return acc
	case nil:
		misconfiguredf("missing trigger")
	default:
		misconfiguredf("unknown trigger type %T", x)
	}
	return nil
}

// trigger sets the Context's match if t matches the text.
func trigger(c *Context, text string, t Trigger) bool {
	m, ok := t.Test(text)
	if !ok {
		return false
	}
	c.SetMatch(m)
	return true
}
