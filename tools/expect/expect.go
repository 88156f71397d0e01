/* Copyright 2018-2019 Comcast Cable Communications Management, LLC
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

// Package expect is a tool for testing middleware, usually compiled
// from a route spec.
//
// You construct a Session, which has input updates and expected
// outputs.  Then run the session to see if the expected outputs
// actually appeared.
//
// Outputs are the API calls the middleware made, as
//
//	{"method": METHOD, "params": PARAMS}
//
// and failures, as
//
//	{"error": MESSAGE}
//
// An expected output is a pattern (see package match) that at least
// one actual output must match.  An inverted output must match none.
package expect

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Comcast/switchyard/core"
	"github.com/Comcast/switchyard/match"
	"github.com/Comcast/switchyard/sio"
	"github.com/Comcast/switchyard/util"
	. "github.com/Comcast/switchyard/util/testutil"
	"github.com/cockroachdb/errors"
	"github.com/jsccast/yaml"
)

// Output is a specification for an output that's expected.
type Output struct {
	// Doc is an opaque documentation string.
	Doc string `json:"doc,omitempty" yaml:"doc,omitempty"`

	// Pattern must be matched by an output.
	Pattern interface{} `json:"pattern,omitempty" yaml:"pattern,omitempty"`

	// Bindingss, which is the result of a match, is written
	// during processing.  Just for diagnostics.
	Bindingss []match.Bindings `json:"bs,omitempty" yaml:"bs,omitempty"`

	// Inverted means that matching output isn't desired!
	Inverted bool `json:"inverted,omitempty" yaml:"inverted,omitempty"`
}

// IO is a package of input updates and required output
// specifications.
type IO struct {
	// Doc is an opaque documentation string.
	Doc string `json:"doc,omitempty" yaml:"doc,omitempty"`

	// Inputs are the updates to process, in order.  Each is an
	// update as JSON or as a map.
	Inputs []interface{} `json:"inputs,omitempty" yaml:"inputs,omitempty"`

	// OutputSet is the set (not a list) of outputs to verify.
	OutputSet []Output `json:"outputSet,omitempty" yaml:"outputSet,omitempty"`

	// Timeout is the optional timeout for each input.
	// Session.DefaultTimeout is the default value.
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// Session is mostly a sequence of IOs.
type Session struct {
	// Doc is an opaque documentation string.
	Doc string `json:"doc,omitempty" yaml:"doc,omitempty"`

	// IOs is sequence of IOs that this session will run.
	IOs []IO `json:"ios" yaml:"ios"`

	// Me is the bot's identity.  Defaults to DefaultMe.
	Me *core.User `json:"me,omitempty" yaml:"me,omitempty"`

	// Canned maps API methods to JSON results.
	Canned map[string]string `json:"canned,omitempty" yaml:"canned,omitempty"`

	// DefaultTimeout is the default timeout for each input.
	DefaultTimeout time.Duration `json:"defaultTimeout,omitempty" yaml:"defaultTimeout,omitempty"`

	Verbose bool `json:"verbose,omitempty" yaml:"verbose,omitempty"`
}

// DefaultMe is the bot a Session pretends to be.
var DefaultMe = &core.User{
	ID:        1,
	IsBot:     true,
	FirstName: "Test",
	Username:  "TestBot",
}

// Parse reads a Session from YAML or JSON.
func Parse(src []byte) (*Session, error) {
	var s Session
	if err := yaml.Unmarshal(src, &s); err != nil {
		return nil, errors.Wrap(err, "parsing expect session")
	}
	return &s, nil
}

// Failure reports an unmet expectation.
type Failure struct {
	IO      int
	Output  Output
	Outputs []interface{}
}

func (f *Failure) Error() string {
	if f.Output.Inverted {
		return "IO " + JS(f.IO) + ": undesired output " + JS(f.Output.Pattern) + " in " + JS(f.Outputs)
	}
	return "IO " + JS(f.IO) + ": no output matched " + JS(f.Output.Pattern) + " in " + JS(f.Outputs)
}

// Run processes all the IOs in the Session with the given
// middleware.  The first unmet expectation is returned as a
// *Failure.
func (s *Session) Run(ctx context.Context, mw core.Middleware) error {
	me := s.Me
	if me == nil {
		me = DefaultMe
	}
	h := mw.Middleware()

	for i := range s.IOs {
		iop := &s.IOs[i]
		timeout := iop.Timeout
		if timeout == 0 {
			timeout = s.DefaultTimeout
		}

		outputs := make([]interface{}, 0, 8)
		for j, input := range iop.Inputs {
			u, err := update(input)
			if err != nil {
				return errors.Wrapf(err, "IO %d input %d", i, j)
			}
			if s.Verbose {
				util.Logger.Infow("expect input", "io", i, "update", JS(input))
			}

			rec := sio.NewRecorder(nil)
			for m, js := range s.Canned {
				rec.Canned[m] = js
			}

			if err := s.process(ctx, timeout, h, core.NewContext(u, rec, me)); err != nil {
				if core.IsProtocolViolation(err) {
					return err
				}
				outputs = append(outputs, map[string]interface{}{
					"error": err.Error(),
				})
			}
			for _, call := range rec.Take() {
				x, err := generic(call)
				if err != nil {
					return err
				}
				outputs = append(outputs, x)
			}
		}

		if s.Verbose {
			util.Logger.Infow("expect outputs", "io", i, "outputs", JS(outputs))
		}

		if err := s.check(i, iop, outputs); err != nil {
			return err
		}
	}

	return nil
}

func (s *Session) process(ctx context.Context, timeout time.Duration, h core.HandlerFunc, c *core.Context) error {
	if 0 < timeout {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return core.Run(ctx, h, c)
}

func (s *Session) check(i int, iop *IO, outputs []interface{}) error {
	for k := range iop.OutputSet {
		output := &iop.OutputSet[k]
		output.Bindingss = nil
		pattern := Dwimjs(output.Pattern)
		for _, x := range outputs {
			bss, err := match.Match(pattern, x, match.NewBindings())
			if err != nil {
				return errors.Wrapf(err, "IO %d output %d", i, k)
			}
			if len(bss) > 0 {
				output.Bindingss = append(output.Bindingss, bss...)
			}
		}
		matched := output.Bindingss != nil
		if matched == output.Inverted {
			return &Failure{
				IO:      i,
				Output:  *output,
				Outputs: outputs,
			}
		}
	}
	return nil
}

func update(input interface{}) (*core.Update, error) {
	var js []byte
	switch vv := input.(type) {
	case string:
		js = []byte(vv)
	default:
		bs, err := json.Marshal(vv)
		if err != nil {
			return nil, err
		}
		js = bs
	}
	return core.ParseUpdate(js)
}

// generic renders a call as plain JSON data so patterns can match it.
func generic(call sio.Call) (interface{}, error) {
	bs, err := json.Marshal(call)
	if err != nil {
		return nil, err
	}
	var x interface{}
	if err := json.Unmarshal(bs, &x); err != nil {
		return nil, err
	}
	return x, nil
}
