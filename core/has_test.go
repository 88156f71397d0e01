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
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var me = &User{ID: 42, IsBot: true, FirstName: "Bot", Username: "MyBot"}

func commandUpdate(t *testing.T, text string, length int) *Context {
	js := fmt.Sprintf(`{"update_id":1,"message":{"message_id":1,"chat":{"id":7,"type":"group"},"text":%q,"entities":[{"type":"bot_command","offset":0,"length":%d}]}}`, text, length)
	return NewContext(parse(t, js), nil, me)
}

func TestCommand(t *testing.T) {
	start := HasCommand("start")

	c := commandUpdate(t, "/start hello", 6)
	require.True(t, start(c))
	assert.Equal(t, "hello", c.Match().Text)

	c = commandUpdate(t, "/start", 6)
	require.True(t, start(c))
	assert.Equal(t, "", c.Match().Text)

	c = commandUpdate(t, "/start@OtherBot hello", 15)
	assert.False(t, start(c))

	c = commandUpdate(t, "/start@MyBot   hello there", 12)
	require.True(t, start(c))
	assert.Equal(t, "hello there", c.Match().Text)

	c = commandUpdate(t, "/stop hello", 5)
	assert.False(t, start(c))

	c = NewContext(parse(t, `{"update_id":1,"message":{"message_id":1,"chat":{"id":7,"type":"group"},"text":"x /start","entities":[{"type":"bot_command","offset":2,"length":6}]}}`), nil, me)
	assert.False(t, start(c))

	c = NewContext(parse(t, `{"update_id":1,"message":{"message_id":1,"chat":{"id":7,"type":"group"},"text":"/start"}}`), nil, me)
	assert.False(t, start(c))
}

func TestCommandWithSuffix(t *testing.T) {
	// Registered with a suffix, only the exact text matches.
	check := HasCommand("start@SomeBot")
	c := commandUpdate(t, "/start@SomeBot go", 14)
	require.True(t, check(c))
	assert.Equal(t, "go", c.Match().Text)

	assert.False(t, check(commandUpdate(t, "/start go", 6)))
	assert.False(t, check(commandUpdate(t, "/start@MyBot go", 12)))
}

func TestCommandWithoutIdentity(t *testing.T) {
	c := commandUpdate(t, "/start@MyBot go", 12)
	c.Me = nil
	assert.False(t, HasCommand("start")(c))
}

func TestCommandUTF16(t *testing.T) {
	c := commandUpdate(t, "/start 😀 ok", 6)
	require.True(t, HasCommand("start")(c))
	assert.Equal(t, "😀 ok", c.Match().Text)

	c = commandUpdate(t, "/café x", 5)
	require.True(t, HasCommand("café")(c))
	assert.Equal(t, "x", c.Match().Text)
}

func TestCommandInChannelPost(t *testing.T) {
	c := NewContext(parse(t, `{"update_id":1,"channel_post":{"message_id":1,"chat":{"id":7,"type":"channel"},"text":"/start now","entities":[{"type":"bot_command","offset":0,"length":6}]}}`), nil, me)
	require.True(t, HasCommand("help", "start")(c))
	assert.Equal(t, "now", c.Match().Text)
}

func TestHears(t *testing.T) {
	c := NewContext(parse(t, `{"update_id":1,"message":{"message_id":1,"chat":{"id":7,"type":"private"},"text":"order 12 apples"}}`), nil, me)

	assert.False(t, HasText(Text("order"))(c))
	require.True(t, HasText(Text("order 12 apples"))(c))
	assert.Equal(t, "order 12 apples", c.Match().Text)

	require.True(t, HasText(Re(`order (\d+) (\w+)`))(c))
	assert.Equal(t, []string{"order 12 apples", "12", "apples"}, c.Match().Groups)
}

func TestHearsCaption(t *testing.T) {
	c := NewContext(parse(t, `{"update_id":1,"message":{"message_id":1,"chat":{"id":7,"type":"private"},"caption":"look","photo":[{"file_id":"a","file_unique_id":"a"}]}}`), nil, me)
	require.True(t, HasText(Text("look"))(c))
}

func TestHearsIgnoresEdits(t *testing.T) {
	c := NewContext(parse(t, `{"update_id":1,"edited_message":{"message_id":1,"chat":{"id":7,"type":"private"},"text":"hi"}}`), nil, me)
	assert.False(t, HasText(Text("hi"))(c))
}

func TestTriggersFirstWins(t *testing.T) {
	c := NewContext(parse(t, `{"update_id":1,"message":{"message_id":1,"chat":{"id":7,"type":"private"},"text":"abc"}}`), nil, me)

	var tried []string
	spy := func(name string, ok bool) Trigger {
		return triggerFunc(func(text string) (Match, bool) {
			tried = append(tried, name)
			return Match{Text: name}, ok
		})
	}
	require.True(t, HasText(Triggers{spy("one", false), spy("two", true), spy("three", true)})(c))
	assert.Equal(t, "two", c.Match().Text)
	assert.Equal(t, []string{"one", "two"}, tried)
}

type triggerFunc func(string) (Match, bool)

func (f triggerFunc) Test(text string) (Match, bool) {
	return f(text)
}

func TestCallbackQuery(t *testing.T) {
	c := NewContext(parse(t, `{"update_id":1,"callback_query":{"id":"q","from":{"id":5,"first_name":"A"},"chat_instance":"i","data":"{\"action\":\"buy\",\"item\":7}"}}`), nil, me)

	require.True(t, HasCallbackQuery(Pattern{Pattern: map[string]interface{}{"action": "buy", "item": "?item"}})(c))
	assert.Equal(t, 7.0, c.Match().Bindings["?item"])

	assert.False(t, HasCallbackQuery(Pattern{Pattern: map[string]interface{}{"action": "sell"}})(c))
	assert.False(t, HasGameQuery(Re(`.*`))(c))
	assert.False(t, HasInlineQuery(Re(`.*`))(c))
}

func TestGameQuery(t *testing.T) {
	c := NewContext(parse(t, `{"update_id":1,"callback_query":{"id":"q","from":{"id":5,"first_name":"A"},"chat_instance":"i","game_short_name":"chess"}}`), nil, me)
	require.True(t, HasGameQuery(Text("chess"))(c))
	assert.False(t, HasCallbackQuery(Re(`.*`))(c))
}

func TestInlineQuery(t *testing.T) {
	c := NewContext(parse(t, `{"update_id":1,"inline_query":{"id":"q","from":{"id":5,"first_name":"A"},"query":"cats","offset":""}}`), nil, me)
	require.True(t, HasInlineQuery(Re(`^c`))(c))
	assert.Equal(t, "c", c.Match().Text)
}

func TestChatType(t *testing.T) {
	c := textUpdate(t)
	assert.True(t, HasChatType("private")(c))
	assert.True(t, HasChatType("group", "private")(c))
	assert.False(t, HasChatType("channel")(c))

	c = NewContext(parse(t, `{"update_id":1,"inline_query":{"id":"q","from":{"id":5,"first_name":"A"},"query":"","offset":""}}`), nil, me)
	assert.False(t, HasChatType("private")(c))
}

func TestFilterQueries(t *testing.T) {
	c := NewContext(parse(t, `{"update_id":1,"message":{"message_id":1,"chat":{"id":7,"type":"group"},"text":"@x","entities":[{"type":"mention","offset":0,"length":2}]}}`), nil, me)
	assert.True(t, c.Has("message:entities:mention"))
	assert.True(t, c.Has(":entities:mention"))
	assert.False(t, c.Has("message:entities:url"))
	assert.True(t, c.Has("message:entities:url", "message:text"))
	assert.False(t, c.Has("message:caption"))
	assert.False(t, c.Has("edit"))

	joined := NewContext(parse(t, `{"update_id":1,"message":{"message_id":1,"chat":{"id":7,"type":"group"},"new_chat_members":[{"id":9,"first_name":"A"},{"id":42,"first_name":"Bot"}]}}`), nil, me)
	assert.True(t, joined.Has("message:new_chat_members:me"))
	joined.Me = &User{ID: 43}
	assert.False(t, joined.Has("message:new_chat_members:me"))
}

func TestFilterSeesUnmodelledFields(t *testing.T) {
	c := NewContext(parse(t, `{"update_id":1,"message":{"message_id":1,"chat":{"id":7,"type":"group"},"video_chat_started":{}}}`), nil, me)
	assert.True(t, c.Has("message:video_chat_started"))
}

func TestFilterOnConstructedUpdate(t *testing.T) {
	u := &Update{UpdateID: 3, Message: &Message{MessageID: 1, Chat: &Chat{ID: 1, Type: "private"}, Text: "hi"}}
	c := NewContext(u, nil, me)
	assert.True(t, c.Has("msg:text"))
	assert.False(t, c.Has("msg:photo"))
}

func TestNamedFiltersInComposer(t *testing.T) {
	var got string
	cm := NewComposer()
	cm.Command("start", HandlerFunc(func(ctx context.Context, c *Context, next NextFunc) error {
		got = c.Match().Text
		return nil
	}))
	cm.Hears(Text("hi"), HandlerFunc(func(ctx context.Context, c *Context, next NextFunc) error {
		got = "heard"
		return nil
	}))

	require.NoError(t, Run(context.Background(), cm.Middleware(), commandUpdate(t, "/start 1 2", 6)))
	assert.Equal(t, "1 2", got)

	require.NoError(t, Run(context.Background(), cm.Middleware(), textUpdate(t)))
	assert.Equal(t, "heard", got)
}

func TestAsTrigger(t *testing.T) {
	m, ok := AsTrigger("x").Test("x")
	assert.True(t, ok)
	assert.Equal(t, "x", m.Text)

	_, ok = AsTrigger(regexp.MustCompile(`^a`)).Test("abc")
	assert.True(t, ok)

	_, ok = AsTrigger([]interface{}{"y", "z"}).Test("z")
	assert.True(t, ok)

	_, ok = AsTrigger([]string{"y", "z"}).Test("q")
	assert.False(t, ok)

	err := CatchConfiguration(func() { AsTrigger(3) })
	assert.Error(t, err)

	err = CatchConfiguration(func() { Re(`(`) })
	assert.Error(t, err)
}

func TestPatternIgnoresNonJSON(t *testing.T) {
	_, ok := Pattern{Pattern: "?x"}.Test("not json")
	assert.False(t, ok)

	m, ok := Pattern{Pattern: "?x"}.Test(`"json"`)
	require.True(t, ok)
	js, _ := json.Marshal(m.Bindings)
	assert.JSONEq(t, `{"?x":"json"}`, string(js))
}
