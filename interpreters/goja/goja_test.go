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

package goja

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/Comcast/switchyard/core"
	"github.com/Comcast/switchyard/match"
)

type call struct {
	method string
	params interface{}
}

type fakeAPI struct {
	calls []call
	err   error
}

func (a *fakeAPI) Call(ctx context.Context, method string, params, result interface{}) error {
	a.calls = append(a.calls, call{method, params})
	if a.err != nil {
		return a.err
	}
	if result != nil {
		return json.Unmarshal([]byte(`{"message_id":99}`), result)
	}
	return nil
}

func newContext(t *testing.T, api core.API, text string) *core.Context {
	js, _ := json.Marshal(text)
	u, err := core.ParseUpdate([]byte(`{"update_id":5,"message":{"message_id":1,"date":0,"chat":{"id":3,"type":"private"},"text":` + string(js) + `}}`))
	if err != nil {
		t.Fatal(err)
	}
	return core.NewContext(u, api, &core.User{ID: 42, IsBot: true, Username: "MyBot"})
}

func TestPredicate(t *testing.T) {
	ctx := context.Background()
	i := NewInterpreter()

	p, err := i.Predicate(ctx, `return update.message.text === "hi" && me.username === "MyBot";`)
	if err != nil {
		t.Fatal(err)
	}

	for text, want := range map[string]bool{"hi": true, "bye": false} {
		got, err := p(ctx, newContext(t, nil, text))
		if err != nil {
			t.Fatal(err)
		}
		if got != want {
			t.Fatalf("%q: wanted %v", text, want)
		}
	}
}

func TestCompileError(t *testing.T) {
	if _, err := NewInterpreter().Predicate(context.Background(), `return (;`); err == nil {
		t.Fatal("should have protested")
	}
}

func TestHandlerReply(t *testing.T) {
	ctx := context.Background()
	api := &fakeAPI{}
	h, err := NewInterpreter().Handler(ctx, `var m = reply("you said " + update.message.text); return m.message_id === 99;`)
	if err != nil {
		t.Fatal(err)
	}

	nexts := 0
	next := func(context.Context) error {
		nexts++
		return nil
	}
	if err := h(ctx, newContext(t, api, "hi"), next); err != nil {
		t.Fatal(err)
	}
	if nexts != 1 {
		t.Fatalf("next called %d times", nexts)
	}
	if len(api.calls) != 1 || api.calls[0].method != "sendMessage" {
		t.Fatalf("calls: %#v", api.calls)
	}
	ps := api.calls[0].params.(core.Params)
	if ps["text"] != "you said hi" || ps["chat_id"] != int64(3) {
		t.Fatalf("params: %#v", ps)
	}
}

func TestHandlerStops(t *testing.T) {
	ctx := context.Background()
	h, err := NewInterpreter().Handler(ctx, `call("sendChatAction", {chat_id: 3, action: "typing"});`)
	if err != nil {
		t.Fatal(err)
	}
	api := &fakeAPI{}
	next := func(context.Context) error {
		t.Fatal("next shouldn't be called")
		return nil
	}
	if err := h(ctx, newContext(t, api, "hi"), next); err != nil {
		t.Fatal(err)
	}
	if len(api.calls) != 1 || api.calls[0].method != "sendChatAction" {
		t.Fatalf("calls: %#v", api.calls)
	}
}

func TestHandlerErrors(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("boom")
	i := NewInterpreter()

	h, err := i.Handler(ctx, `likes + tacos;`)
	if err != nil {
		t.Fatal(err)
	}
	err = h(ctx, newContext(t, nil, "hi"), nil)
	var se *ScriptError
	if !errors.As(err, &se) {
		t.Fatalf("wanted a ScriptError, not %#v", err)
	}

	// API errors come through as they are.
	h, err = i.Handler(ctx, `reply("x");`)
	if err != nil {
		t.Fatal(err)
	}
	err = h(ctx, newContext(t, &fakeAPI{err: boom}, "hi"), nil)
	if !errors.Is(err, boom) {
		t.Fatalf("wanted boom, not %#v", err)
	}
}

func TestTimeout(t *testing.T) {
	ctx := context.Background()
	i := NewInterpreter()
	i.Timeout = 20 * time.Millisecond

	p, err := i.Predicate(ctx, `for (;;) {}`)
	if err != nil {
		t.Fatal(err)
	}
	if _, err = p(ctx, newContext(t, nil, "hi")); err != Interrupted {
		t.Fatalf("surprised by %v", err)
	}
	if err.Error() != InterruptedMessage {
		t.Fatalf("surprised by \"%s\"", err)
	}
}

func TestMatchGlobals(t *testing.T) {
	ctx := context.Background()
	p, err := NewInterpreter().Predicate(ctx, `return match.text === "hi" && match.groups[0] === "h" && match.bindings["?x"] === 1;`)
	if err != nil {
		t.Fatal(err)
	}
	c := newContext(t, nil, "hi")
	c.SetMatch(core.Match{Text: "hi", Groups: []string{"h"}, Bindings: match.Bindings{"?x": 1}})
	ok, err := p(ctx, c)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("globals not seen")
	}
}

func TestSession(t *testing.T) {
	ctx := context.Background()
	i := NewInterpreter()

	h, err := i.Handler(ctx, `if (session === null) { session = {count: 0}; } session.count++;`)
	if err != nil {
		t.Fatal(err)
	}
	c := newContext(t, nil, "hi")
	for n := 0; n < 2; n++ {
		if err := h(ctx, c, nil); err != nil {
			t.Fatal(err)
		}
	}
	if got := c.Session()["count"]; got != int64(2) {
		t.Fatalf("count %#v (%T)", got, got)
	}

	h, err = i.Handler(ctx, `session = null;`)
	if err != nil {
		t.Fatal(err)
	}
	if err := h(ctx, c, nil); err != nil {
		t.Fatal(err)
	}
	if c.Session() != nil {
		t.Fatalf("session %#v", c.Session())
	}
}

func TestBuiltins(t *testing.T) {
	ctx := context.Background()
	i := NewInterpreter()

	p, err := i.Predicate(ctx, `
var bss = matchPattern({text: "?t"}, update.message);
var next = cronNext("* 0 * * *");
return bss.length === 1 && bss[0]["?t"] === "hi" && next.length > 0 && gensym() !== gensym() && log(1) === 1;
`)
	if err != nil {
		t.Fatal(err)
	}
	ok, err := p(ctx, newContext(t, nil, "hi"))
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("builtins")
	}

	p, err = i.Predicate(ctx, `return cronNext("bad");`)
	if err != nil {
		t.Fatal(err)
	}
	if _, err = p(ctx, newContext(t, nil, "hi")); err == nil {
		t.Fatal("bad cron expression should fail")
	}
}

func TestRequires(t *testing.T) {
	ctx := context.Background()
	src := map[string]interface{}{
		"code":     `return double(2) === 4;`,
		"requires": []interface{}{"double.js"},
	}

	if _, err := NewInterpreter().Predicate(ctx, src); err == nil {
		t.Fatal("should need a provider")
	}

	i := NewInterpreter()
	i.LibraryProvider = MakeMapLibraryProvider(map[string]string{
		"double.js": `function double(x) { return 2*x; }`,
	})
	p, err := i.Predicate(ctx, src)
	if err != nil {
		t.Fatal(err)
	}
	ok, err := p(ctx, newContext(t, nil, "hi"))
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("library not loaded")
	}
}

func TestAsSource(t *testing.T) {
	s, err := AsSource(map[interface{}]interface{}{"code": "return 1;", "requires": "a.js"})
	if err != nil {
		t.Fatal(err)
	}
	if s.Code != "return 1;" || len(s.Requires) != 1 || s.Requires[0] != "a.js" {
		t.Fatalf("source %#v", s)
	}
	if _, err = AsSource(42); err == nil {
		t.Fatal("should have protested")
	}
	if _, err = AsSource(map[string]interface{}{"requires": "a.js"}); err == nil {
		t.Fatal("should need code")
	}
}
