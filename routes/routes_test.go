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

package routes

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/Comcast/switchyard/core"
	"github.com/Comcast/switchyard/interpreters/goja"
	"github.com/Comcast/switchyard/sio"
	"github.com/Comcast/switchyard/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const greeter = `
name: greeter
doc: Says hello.
session: true
routes:
  - name: start
    doc: Greets.
    command: start
    reply: Welcome!
  - name: echo
    on: ["message:text"]
    hears: /^echo (.*)$/
    code: reply(match.groups[1]);
  - name: vote
    callback_query:
      vote: ?v
    code: |
      call("answerCallbackQuery", {callback_query_id: update.callback_query.id, text: "got " + match.bindings["?v"]});
  - name: quiet
    chat_type: [group, supergroup]
    when: return update.message.text === "shh";
    drop: true
    reply: I'm talking.
  - name: count
    on: message:text
    code: |
      if (session === null) { session = {n: 0}; }
      session.n++;
      reply("n=" + session.n);
`

func message(t *testing.T, id int, chatType, text string, command bool) *core.Update {
	t.Helper()
	m := map[string]interface{}{
		"message_id": id,
		"date":       0,
		"chat":       map[string]interface{}{"id": 3, "type": chatType},
		"text":       text,
	}
	if command {
		m["entities"] = []interface{}{
			map[string]interface{}{"type": "bot_command", "offset": 0, "length": len(text)},
		}
	}
	js, err := json.Marshal(map[string]interface{}{"update_id": id, "message": m})
	require.NoError(t, err)
	u, err := core.ParseUpdate(js)
	require.NoError(t, err)
	return u
}

func callback(t *testing.T, id int, data string) *core.Update {
	t.Helper()
	js := fmt.Sprintf(`{"update_id":%d,"callback_query":{"id":"cq","from":{"id":7,"is_bot":false,"first_name":"A"},"chat_instance":"x","data":%q}}`, id, data)
	u, err := core.ParseUpdate([]byte(js))
	require.NoError(t, err)
	return u
}

func compile(t *testing.T, src string) *core.Composer {
	t.Helper()
	spec, err := Parse([]byte(src))
	require.NoError(t, err)
	cm, err := Compile(context.Background(), spec, Options{
		Interpreter: goja.NewInterpreter(),
		Store:       storage.NewMemory(),
	})
	require.NoError(t, err)
	return cm
}

// run processes the update and returns the API calls it made.
func run(t *testing.T, cm *core.Composer, u *core.Update) []sio.Call {
	t.Helper()
	rec := sio.NewRecorder(nil)
	c := core.NewContext(u, rec, &core.User{ID: 42, IsBot: true, Username: "MyBot"})
	require.NoError(t, core.Run(context.Background(), cm.Middleware(), c))
	return rec.Take()
}

func texts(calls []sio.Call) []string {
	var acc []string
	for _, c := range calls {
		if ps, is := c.Params.(core.Params); is {
			if s, is := ps["text"].(string); is {
				acc = append(acc, c.Method+":"+s)
			}
		}
	}
	return acc
}

func TestParse(t *testing.T) {
	spec, err := Parse([]byte(greeter))
	require.NoError(t, err)

	assert.Equal(t, "greeter", spec.Name)
	assert.True(t, spec.Session)
	require.Len(t, spec.Routes, 5)

	r := spec.Routes[0]
	assert.Equal(t, Strings{"start"}, r.Command)
	assert.Equal(t, "Welcome!", r.Reply)

	assert.Equal(t, Strings{"message:text"}, spec.Routes[1].On)
	assert.Equal(t, Triggers{"/^echo (.*)$/"}, spec.Routes[1].Hears)
	assert.Equal(t, Triggers{map[string]interface{}{"vote": "?v"}}, spec.Routes[2].CallbackQuery)
	assert.Equal(t, Strings{"group", "supergroup"}, spec.Routes[3].ChatType)
	assert.True(t, spec.Routes[3].Drop)

	y, err := spec.YAML()
	require.NoError(t, err)
	assert.Contains(t, y, "name: greeter")
	again, err := Parse([]byte(y))
	require.NoError(t, err)
	assert.Equal(t, spec.Routes[3].ChatType, again.Routes[3].ChatType)
}

func TestRoutes(t *testing.T) {
	cm := compile(t, greeter)

	assert.Equal(t, []string{"sendMessage:Welcome!"}, texts(run(t, cm, message(t, 1, "private", "/start", true))))
	assert.Equal(t, []string{"sendMessage:hello there"}, texts(run(t, cm, message(t, 2, "private", "echo hello there", false))))

	calls := run(t, cm, callback(t, 3, `{"vote":"yes"}`))
	require.Len(t, calls, 1)
	assert.Equal(t, "answerCallbackQuery", calls[0].Method)
	assert.Equal(t, "got yes", calls[0].Params.(map[string]interface{})["text"])

	// Not a vote.
	assert.Empty(t, run(t, cm, callback(t, 4, `{"other":1}`)))
}

func TestDropAndSession(t *testing.T) {
	cm := compile(t, greeter)

	// "shh" in a group passes the quiet route, and the counter
	// counts.
	assert.Equal(t, []string{"sendMessage:n=1"}, texts(run(t, cm, message(t, 1, "group", "shh", false))))
	assert.Equal(t, []string{"sendMessage:I'm talking."}, texts(run(t, cm, message(t, 2, "group", "hi", false))))
	assert.Equal(t, []string{"sendMessage:n=2"}, texts(run(t, cm, message(t, 3, "private", "hi", false))))
}

func TestCompileErrors(t *testing.T) {
	for name, src := range map[string]string{
		"bad query":     "routes: [{name: a, on: 'messag:text', reply: x}]",
		"slash":         "routes: [{name: a, command: /start, reply: x}]",
		"bad regexp":    "routes: [{name: a, hears: '/(/', reply: x}]",
		"nothing to do": "routes: [{name: a, on: message}]",
		"bad script":    "routes: [{name: a, code: 'return (;'}]",
		"duplicate":     "routes: [{name: a, reply: x}, {name: a, reply: y}]",
		"drop":          "routes: [{name: a, drop: true, reply: x}]",
		"bad trigger":   "routes: [{name: a, hears: [1], reply: x}]",
	} {
		spec, err := Parse([]byte(src))
		require.NoError(t, err, name)
		_, err = Compile(context.Background(), spec, Options{Interpreter: goja.NewInterpreter()})
		assert.Error(t, err, name)
	}

	spec, err := Parse([]byte("routes: [{name: a, code: 'return true;'}]"))
	require.NoError(t, err)
	_, err = Compile(context.Background(), spec, Options{})
	assert.ErrorContains(t, err, "interpreter")
}

func TestCompileErrorMessages(t *testing.T) {
	spec, err := Parse([]byte("routes: [{name: a, command: /start, reply: x}]"))
	require.NoError(t, err)
	_, err = Compile(context.Background(), spec, Options{})
	var ce *core.ConfigurationError
	require.ErrorAs(t, err, &ce)
	assert.Contains(t, err.Error(), "route 'a'")
	assert.Contains(t, err.Error(), "Do not include '/' when registering command handlers (use 'start' not '/start')")
}
