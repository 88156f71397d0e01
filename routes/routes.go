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

// Package routes compiles declarative route specs into middleware.
//
// A spec is YAML (or JSON):
//
//	name: greeter
//	doc: Says hello.
//	session: true
//	routes:
//	  - name: start
//	    command: start
//	    reply: Welcome!
//	  - name: echo
//	    on: ["message:text"]
//	    hears: /^echo (.*)$/
//	    code: reply(match.groups[1]);
//
// Routes run in order.  Conditions within a route are conjunctive.
// A route's handler stops the update unless its code returns a truthy
// value.
package routes

import (
	"context"
	"os"
	"strconv"
	"strings"

	"github.com/Comcast/switchyard/core"
	"github.com/Comcast/switchyard/session"
	"github.com/Comcast/switchyard/storage"
	"github.com/cockroachdb/errors"
	"github.com/jsccast/yaml"
	yamlv2 "gopkg.in/yaml.v2"
)

// Spec is a named list of routes.
type Spec struct {
	Name string `json:"name" yaml:"name"`
	Doc  string `json:"doc,omitempty" yaml:"doc,omitempty"`

	// Session enables per-chat sessions for all routes.
	Session bool `json:"session,omitempty" yaml:"session,omitempty"`

	Routes []*Route `json:"routes" yaml:"routes"`
}

// Route is a set of conditions and what to do when they all hold.
type Route struct {
	Name string `json:"name" yaml:"name"`
	Doc  string `json:"doc,omitempty" yaml:"doc,omitempty"`

	// On holds filter queries, any of which must match.
	On Strings `json:"on,omitempty" yaml:"on,omitempty"`

	// Command holds commands without their leading '/'.
	Command Strings `json:"command,omitempty" yaml:"command,omitempty"`

	// Hears holds triggers for message text.  A string of the form
	// /EXPR/ is a regular expression.  A map is a pattern that the
	// text, as JSON, must match.
	Hears Triggers `json:"hears,omitempty" yaml:"hears,omitempty"`

	// CallbackQuery holds triggers for callback query data.
	CallbackQuery Triggers `json:"callback_query,omitempty" yaml:"callback_query,omitempty"`

	ChatType Strings `json:"chat_type,omitempty" yaml:"chat_type,omitempty"`

	// When is a script predicate.
	When interface{} `json:"when,omitempty" yaml:"when,omitempty"`

	// Drop inverts When: the route applies when the script's
	// value is falsy.
	Drop bool `json:"drop,omitempty" yaml:"drop,omitempty"`

	// Reply is text to send back to the chat.
	Reply string `json:"reply,omitempty" yaml:"reply,omitempty"`

	// Code is a script handler.  It runs after any Reply.
	Code interface{} `json:"code,omitempty" yaml:"code,omitempty"`
}

// Strings is one string or a list of them.
type Strings []string

func (s *Strings) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var one string
	if err := unmarshal(&one); err == nil {
		*s = Strings{one}
		return nil
	}
	var many []string
	if err := unmarshal(&many); err != nil {
		return err
	}
	*s = many
	return nil
}

// Triggers is one trigger or a list of them.
type Triggers []interface{}

func (ts *Triggers) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var x interface{}
	if err := unmarshal(&x); err != nil {
		return err
	}
	if xs, is := x.([]interface{}); is {
		*ts = xs
	} else {
		*ts = Triggers{x}
	}
	return nil
}

// Parse reads a spec.
func Parse(src []byte) (*Spec, error) {
	var spec Spec
	if err := yaml.Unmarshal(src, &spec); err != nil {
		return nil, errors.Wrap(err, "parsing route spec")
	}
	return &spec, nil
}

// ParseFile reads a spec from a file.
func ParseFile(filename string) (*Spec, error) {
	bs, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	spec, err := Parse(bs)
	if err != nil {
		return nil, errors.Wrapf(err, "in %s", filename)
	}
	return spec, nil
}

// YAML renders the spec.
func (s *Spec) YAML() (string, error) {
	bs, err := yamlv2.Marshal(s)
	if err != nil {
		return "", err
	}
	return string(bs), nil
}

// Interpreter compiles scripts.
type Interpreter interface {
	Predicate(ctx context.Context, src interface{}) (core.Predicate, error)
	Handler(ctx context.Context, src interface{}) (core.HandlerFunc, error)
}

// Options for Compile.
type Options struct {
	// Interpreter is required for routes with scripts.
	Interpreter Interpreter

	// Store holds sessions.  Nil means memory.
	Store storage.Storage

	Session *session.Options
}

// Compile builds middleware for the spec.  Every problem, such as a
// bad filter query or a script that doesn't compile, is reported
// here.
func Compile(ctx context.Context, spec *Spec, opts Options) (*core.Composer, error) {
	top := core.NewComposer()
	if spec.Session {
		store := opts.Store
		if store == nil {
			store = storage.NewMemory()
		}
		top.Use(session.Middleware(store, opts.Session))
	}

	seen := make(map[string]bool, len(spec.Routes))
	for i, r := range spec.Routes {
		if r == nil {
			return nil, errors.Newf("route %d is empty", i)
		}
		name := r.Name
		if name == "" {
			name = "#" + strconv.Itoa(i)
		}
		if seen[name] {
			return nil, errors.Newf("duplicate route name '%s'", name)
		}
		seen[name] = true

		if err := compileRoute(ctx, top, r, opts); err != nil {
			return nil, errors.Wrapf(err, "route '%s'", name)
		}
	}
	return top, nil
}

func compileRoute(ctx context.Context, top *core.Composer, r *Route, opts Options) error {
	if r.Reply == "" && r.Code == nil {
		return errors.New("nothing to do (give reply or code)")
	}
	if r.Drop && r.When == nil {
		return errors.New("drop needs when")
	}
	if (r.When != nil || r.Code != nil) && opts.Interpreter == nil {
		return errors.New("scripts need an interpreter")
	}

	var (
		when core.Predicate
		code core.HandlerFunc
		err  error
	)
	if r.When != nil {
		if when, err = opts.Interpreter.Predicate(ctx, r.When); err != nil {
			return errors.Wrap(err, "when")
		}
	}
	if r.Code != nil {
		if code, err = opts.Interpreter.Handler(ctx, r.Code); err != nil {
			return errors.Wrap(err, "code")
		}
	}

	hears, err := triggers(r.Hears)
	if err != nil {
		return errors.Wrap(err, "hears")
	}
	callbacks, err := triggers(r.CallbackQuery)
	if err != nil {
		return errors.Wrap(err, "callback_query")
	}

	return core.CatchConfiguration(func() {
		sub := top
		if len(r.On) > 0 {
			sub = sub.OnAny(r.On)
		}
		if len(r.ChatType) > 0 {
			sub = sub.ChatTypes(r.ChatType)
		}
		if len(r.Command) > 0 {
			sub = sub.Commands(r.Command)
		}
		if hears != nil {
			sub = sub.Hears(hears)
		}
		if callbacks != nil {
			sub = sub.CallbackQuery(callbacks)
		}
		if when != nil {
			if r.Drop {
				sub = sub.Drop(when)
			} else {
				sub = sub.Filter(when)
			}
		}
		sub.Use(handler(r.Reply, code))
	})
}

func handler(reply string, code core.HandlerFunc) core.HandlerFunc {
	return func(ctx context.Context, c *core.Context, next core.NextFunc) error {
		if reply != "" {
			if _, err := c.Reply(ctx, reply, nil); err != nil {
				return err
			}
		}
		if code != nil {
			return code(ctx, c, next)
		}
		return nil
	}
}

// triggers converts spec triggers into a core.Trigger, or nil if
// there are none.
func triggers(ts Triggers) (core.Trigger, error) {
	if len(ts) == 0 {
		return nil, nil
	}
	acc := make(core.Triggers, 0, len(ts))
	for _, x := range ts {
		t, err := asTrigger(x)
		if err != nil {
			return nil, err
		}
		acc = append(acc, t)
	}
	return acc, nil
}

func asTrigger(x interface{}) (t core.Trigger, err error) {
	switch vv := x.(type) {
	case string:
		if 2 < len(vv) && strings.HasPrefix(vv, "/") && strings.HasSuffix(vv, "/") {
			err = core.CatchConfiguration(func() {
				t = core.Re(vv[1 : len(vv)-1])
			})
			return t, err
		}
		return core.Text(vv), nil
	case map[string]interface{}:
		return core.Pattern{Pattern: vv}, nil
	default:
		return nil, errors.Newf("bad trigger %#v (%T)", x, x)
	}
}
