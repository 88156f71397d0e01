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

// Package goja runs ECMAScript predicates and handlers for
// declarative routes.
//
// A script is the body of a function.  Its return value decides: a
// predicate holds if the value is truthy, and a handler passes the
// update on to the next middleware if the value is truthy.
//
// Scripts see these globals:
//
//	update: the update as generic JSON
//	me: the bot's own user
//	match: {text, groups, bindings} as set by triggers
//	session: the session, if session middleware is in use
//
// and these functions:
//
//	reply(text, [other]): reply in the current chat
//	call(method, [params]): make any API call
//	matchPattern(pat, x, [bindings]): run the pattern matcher
//	cronNext(expr): the next time for a cron expression
//	gensym(): a random id
//	log(x): log x at info level
package goja

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Comcast/switchyard/core"
	"github.com/Comcast/switchyard/match"
	"github.com/Comcast/switchyard/util"
	"github.com/cockroachdb/errors"
	"github.com/dop251/goja"
	"github.com/google/uuid"
	"github.com/gorhill/cronexpr"
	"go.uber.org/zap"
)

var (
	// InterruptedMessage is the string value of Interrupted.
	InterruptedMessage = "RuntimeError: timeout"

	// Interrupted is returned if the execution is interrupted.
	Interrupted = errors.New(InterruptedMessage)
)

// DefaultTimeout limits each execution unless the Interpreter says
// otherwise.
var DefaultTimeout = 5 * time.Second

// Interpreter compiles scripts with Goja, which is a Go
// implementation of ECMAScript 5.1+.
//
// See https://github.com/dop251/goja.
type Interpreter struct {
	// Timeout limits each execution.  Zero means DefaultTimeout.
	Timeout time.Duration

	// LibraryProvider resolves the names in a script's
	// "requires".  Nil means no libraries.
	LibraryProvider func(ctx context.Context, name string) (string, error)

	Logger *zap.SugaredLogger
}

// NewInterpreter makes a new Interpreter.
func NewInterpreter() *Interpreter {
	return &Interpreter{}
}

// ScriptError is an exception thrown by a script.
type ScriptError struct {
	Err error
}

func (e *ScriptError) Error() string {
	return e.Err.Error()
}

func (e *ScriptError) Unwrap() error {
	return e.Err
}

func (e *ScriptError) Kind() string {
	return "ScriptError"
}

// MakeFileLibraryProvider resolves "file://NAME" relative to dir.
func MakeFileLibraryProvider(dir string) func(context.Context, string) (string, error) {
	return func(ctx context.Context, name string) (string, error) {
		filename, ok := strings.CutPrefix(name, "file://")
		if !ok {
			return "", errors.Newf("bad link '%s'", name)
		}
		bs, err := os.ReadFile(filepath.Join(dir, filepath.Clean("/"+filename)))
		if err != nil {
			return "", err
		}
		return string(bs), nil
	}
}

func MakeMapLibraryProvider(srcs map[string]string) func(context.Context, string) (string, error) {
	return func(ctx context.Context, name string) (string, error) {
		src, have := srcs[name]
		if !have {
			return "", errors.Newf("undefined library '%s'", name)
		}
		return src, nil
	}
}

// Source is a script with the libraries it needs.
type Source struct {
	Code     string
	Requires []string
}

// AsSource accepts a string, or a map with "code" and optional
// "requires" properties as found in YAML.
func AsSource(src interface{}) (*Source, error) {
	switch vv := src.(type) {
	case string:
		return &Source{Code: vv}, nil
	case *Source:
		return vv, nil
	case map[interface{}]interface{}:
		m := make(map[string]interface{}, len(vv))
		for k, v := range vv {
			str, ok := k.(string)
			if !ok {
				return nil, errors.Newf("bad src key (%T)", k)
			}
			m[str] = v
		}
		return parseSource(m)
	case map[string]interface{}:
		return parseSource(vv)
	default:
		return nil, errors.Newf("bad script source (%T)", src)
	}
}

func parseSource(m map[string]interface{}) (*Source, error) {
	code, is := m["code"].(string)
	if !is {
		return nil, errors.New("bad script code")
	}
	s := &Source{Code: code}

	switch vv := m["requires"].(type) {
	case nil:
	case string:
		s.Requires = []string{vv}
	case []string:
		s.Requires = vv
	case []interface{}:
		for _, x := range vv {
			lib, is := x.(string)
			if !is {
				return nil, errors.Newf("bad library %#v", x)
			}
			s.Requires = append(s.Requires, lib)
		}
	default:
		return nil, errors.Newf("bad requires (%T)", vv)
	}
	return s, nil
}

// Compile resolves libraries and compiles the script.
func (i *Interpreter) Compile(ctx context.Context, src interface{}) (*goja.Program, error) {
	s, err := AsSource(src)
	if err != nil {
		return nil, err
	}

	var libs strings.Builder
	for _, lib := range s.Requires {
		if i.LibraryProvider == nil {
			return nil, errors.Newf("no provider for library '%s'", lib)
		}
		libSrc, err := i.LibraryProvider(ctx, lib)
		if err != nil {
			return nil, errors.Wrapf(err, "library '%s'", lib)
		}
		libs.WriteString(libSrc)
		libs.WriteString("\n")
	}

	code := libs.String() + fmt.Sprintf("(function() {\n%s\n}());\n", s.Code)

	p, err := goja.Compile("", code, true)
	if err != nil {
		return nil, errors.Wrapf(err, "compiling %q", s.Code)
	}
	return p, nil
}

// Predicate compiles a script into a predicate.
func (i *Interpreter) Predicate(ctx context.Context, src interface{}) (core.Predicate, error) {
	p, err := i.Compile(ctx, src)
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context, c *core.Context) (bool, error) {
		v, err := i.Exec(ctx, p, c)
		if err != nil {
			return false, err
		}
		return v.ToBoolean(), nil
	}, nil
}

// Handler compiles a script into middleware.  The update goes on to
// the next middleware if the script returns a truthy value.
func (i *Interpreter) Handler(ctx context.Context, src interface{}) (core.HandlerFunc, error) {
	p, err := i.Compile(ctx, src)
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context, c *core.Context, next core.NextFunc) error {
		v, err := i.Exec(ctx, p, c)
		if err != nil {
			return err
		}
		if v.ToBoolean() {
			return next(ctx)
		}
		return nil
	}, nil
}

func (i *Interpreter) timeout() time.Duration {
	if i.Timeout <= 0 {
		return DefaultTimeout
	}
	return i.Timeout
}

func protest(o *goja.Runtime, err error) {
	panic(o.NewGoError(err))
}

func export(x interface{}) interface{} {
	if v, is := x.(goja.Value); is {
		if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
			return nil
		}
		return v.Export()
	}
	return x
}

// Exec runs a compiled script against the given Context.
func (i *Interpreter) Exec(ctx context.Context, p *goja.Program, c *core.Context) (goja.Value, error) {
	log := util.Or(i.Logger)
	o := goja.New()

	update, err := c.Generic()
	if err != nil {
		return nil, err
	}
	me, err := canonicalize(c.Me)
	if err != nil {
		return nil, err
	}
	matched := c.Match()
	groups := matched.Groups
	if groups == nil {
		groups = []string{}
	}
	bindings := map[string]interface{}(matched.Bindings)
	if bindings == nil {
		bindings = map[string]interface{}{}
	}
	m := map[string]interface{}{
		"text":     matched.Text,
		"groups":   groups,
		"bindings": bindings,
	}

	o.Set("update", update)
	o.Set("me", me)
	o.Set("match", m)
	if session := c.Session(); session != nil {
		o.Set("session", session)
	} else {
		o.Set("session", goja.Null())
	}

	o.Set("reply", func(text string, other goja.Value) interface{} {
		ps, _ := export(other).(map[string]interface{})
		msg, err := c.Reply(ctx, text, ps)
		if err != nil {
			protest(o, err)
		}
		x, err := canonicalize(msg)
		if err != nil {
			protest(o, err)
		}
		return x
	})

	o.Set("call", func(method string, params goja.Value) interface{} {
		if c.API == nil {
			protest(o, errors.Newf("no API for call to %s", method))
		}
		var result interface{}
		if err := c.API.Call(ctx, method, export(params), &result); err != nil {
			protest(o, err)
		}
		return result
	})

	o.Set("matchPattern", func(pat, x, bs goja.Value) interface{} {
		var bindings match.Bindings
		if b, is := export(bs).(map[string]interface{}); is {
			bindings = match.Bindings(b)
		}
		p, err := canonicalize(export(pat))
		if err != nil {
			protest(o, err)
		}
		y, err := canonicalize(export(x))
		if err != nil {
			protest(o, err)
		}
		bss, err := match.Match(p, y, bindings)
		if err != nil {
			protest(o, err)
		}
		acc := make([]interface{}, len(bss))
		for j, b := range bss {
			acc[j] = map[string]interface{}(b)
		}
		return acc
	})

	o.Set("cronNext", func(expr string) string {
		ce, err := cronexpr.Parse(expr)
		if err != nil {
			protest(o, err)
		}
		return ce.Next(time.Now()).UTC().Format(time.RFC3339Nano)
	})

	o.Set("gensym", func() string {
		return uuid.New().String()
	})

	o.Set("log", func(x goja.Value) goja.Value {
		js, err := json.Marshal(export(x))
		if err != nil {
			log.Infow("script log (can't marshal)", "error", err)
		} else {
			log.Infow("script log", "update_id", c.UpdateID(), "value", string(js))
		}
		return x
	})

	// The goroutine ends as soon as the program does.
	ictx, cancel := context.WithTimeout(ctx, i.timeout())
	go func() {
		<-ictx.Done()
		// After RunProgram returns, the interrupt is harmless.
		o.Interrupt(InterruptedMessage)
	}()

	v, err := o.RunProgram(p)
	cancel()

	if err != nil {
		var ie *goja.InterruptedError
		if errors.As(err, &ie) {
			return nil, Interrupted
		}
		// Errors from reply() and call() keep their identity.
		var ex *goja.Exception
		if errors.As(err, &ex) {
			if obj, is := ex.Value().(*goja.Object); is {
				if ge, is := export(obj.Get("value")).(error); is {
					return nil, ge
				}
			}
		}
		return nil, &ScriptError{Err: err}
	}

	switch s := export(o.Get("session")).(type) {
	case nil:
		c.SetSession(nil)
	case map[string]interface{}:
		c.SetSession(s)
	}

	return v, nil
}

// canonicalize gives structs their JSON form.
func canonicalize(x interface{}) (interface{}, error) {
	js, err := json.Marshal(&x)
	if err != nil {
		return nil, err
	}
	var y interface{}
	if err = json.Unmarshal(js, &y); err != nil {
		return nil, err
	}
	return y, nil
}
