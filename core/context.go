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
	"sync"

	"github.com/Comcast/switchyard/match"
	"github.com/cockroachdb/errors"
)

// API issues platform API calls.
//
// Params are encoded as the call's JSON parameters.  The call's
// result is decoded into result, which can be nil.
type API interface {
	Call(ctx context.Context, method string, params, result interface{}) error
}

// Params are API call parameters.
type Params map[string]interface{}

// Copy returns a shallow copy that is never nil.
func (ps Params) Copy() Params {
	acc := make(Params, len(ps)+4)
	for k, v := range ps {
		acc[k] = v
	}
	return acc
}

// Match is what a trigger matched.
type Match struct {
	// Text is the matched text, or for commands the text after the
	// command.
	Text string

	// Groups holds regular expression submatches, starting with
	// the whole match.
	Groups []string

	// Bindings holds pattern variable bindings.
	Bindings match.Bindings
}

// Context is everything about one update that middleware sees.
//
// A Context belongs to the processing of a single update.  Middleware
// running in forked branches share it, so the match and the session
// are only reached through methods.  The session map itself is not
// guarded.
type Context struct {
	Update *Update
	API    API
	Me     *User

	mu      sync.Mutex
	matched Match
	session map[string]interface{}

	generic struct {
		sync.Once
		m   map[string]interface{}
		err error
	}
}

// NewContext makes a Context for the given update.
func NewContext(u *Update, api API, me *User) *Context {
	return &Context{
		Update: u,
		API:    api,
		Me:     me,
	}
}

// Match returns what the last trigger matched.
func (c *Context) Match() Match {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.matched
}

// SetMatch is called by triggers.
func (c *Context) SetMatch(m Match) {
	c.mu.Lock()
	c.matched = m
	c.mu.Unlock()
}

// Session returns the session loaded by session middleware, if any.
func (c *Context) Session() map[string]interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// SetSession replaces the session.  Nil deletes it.
func (c *Context) SetSession(s map[string]interface{}) {
	c.mu.Lock()
	c.session = s
	c.mu.Unlock()
}

// Generic returns the update as a generic JSON value, which is what
// filter queries see.  The value is computed once.
func (c *Context) Generic() (map[string]interface{}, error) {
	c.generic.Do(func() {
		if c.Update == nil {
			c.generic.err = errors.New("no update")
			return
		}
		c.generic.m, c.generic.err = c.Update.Generic()
	})
	return c.generic.m, c.generic.err
}

func (c *Context) UpdateID() int64 {
	if c.Update == nil {
		return 0
	}
	return c.Update.UpdateID
}

// Msg is the message the update is about, if any.
func (c *Context) Msg() *Message {
	u := c.Update
	switch {
	case u == nil:
		return nil
	case u.Message != nil:
		return u.Message
	case u.EditedMessage != nil:
		return u.EditedMessage
	case u.CallbackQuery != nil && u.CallbackQuery.Message != nil:
		return u.CallbackQuery.Message
	case u.ChannelPost != nil:
		return u.ChannelPost
	default:
		return u.EditedChannelPost
	}
}

// Chat is the chat the update happened in, if any.
func (c *Context) Chat() *Chat {
	if m := c.Msg(); m != nil {
		return m.Chat
	}
	u := c.Update
	switch {
	case u == nil:
		return nil
	case u.MyChatMember != nil:
		return u.MyChatMember.Chat
	case u.ChatMember != nil:
		return u.ChatMember.Chat
	case u.ChatJoinRequest != nil:
		return u.ChatJoinRequest.Chat
	}
	return nil
}

func (c *Context) SenderChat() *Chat {
	if m := c.Msg(); m != nil {
		return m.SenderChat
	}
	return nil
}

// From is the author of the update, if any.
func (c *Context) From() *User {
	u := c.Update
	if u == nil {
		return nil
	}
	switch {
	case u.CallbackQuery != nil:
		return u.CallbackQuery.From
	case u.InlineQuery != nil:
		return u.InlineQuery.From
	case u.ShippingQuery != nil:
		return u.ShippingQuery.From
	case u.PreCheckoutQuery != nil:
		return u.PreCheckoutQuery.From
	case u.ChosenInlineResult != nil:
		return u.ChosenInlineResult.From
	}
	if m := c.Msg(); m != nil {
		return m.From
	}
	switch {
	case u.MyChatMember != nil:
		return u.MyChatMember.From
	case u.ChatMember != nil:
		return u.ChatMember.From
	case u.ChatJoinRequest != nil:
		return u.ChatJoinRequest.From
	}
	return nil
}

// InlineMessageID is the id of the inline message the update is
// about, or the empty string.
func (c *Context) InlineMessageID() string {
	u := c.Update
	switch {
	case u == nil:
		return ""
	case u.CallbackQuery != nil && u.CallbackQuery.InlineMessageID != "":
		return u.CallbackQuery.InlineMessageID
	case u.ChosenInlineResult != nil:
		return u.ChosenInlineResult.InlineMessageID
	}
	return ""
}

// Has reports whether the update matches the filter queries.  A bad
// query panics with a ConfigurationError.
func (c *Context) Has(queries ...string) bool {
	return HasFilterQuery(queries...).test(c)
}

func (c *Context) HasText(t Trigger) bool {
	return HasText(t).test(c)
}

func (c *Context) HasCommand(commands ...string) bool {
	return HasCommand(commands...).test(c)
}

func (c *Context) HasChatType(types ...string) bool {
	return HasChatType(types...).test(c)
}

func (c *Context) HasCallbackQuery(t Trigger) bool {
	return HasCallbackQuery(t).test(c)
}

func (c *Context) HasGameQuery(t Trigger) bool {
	return HasGameQuery(t).test(c)
}

func (c *Context) HasInlineQuery(t Trigger) bool {
	return HasInlineQuery(t).test(c)
}

// missing reports that the update lacks what an API call needs.
func missing(method string) error {
	return errors.Newf("Missing information for API call to %s", method)
}

func (c *Context) call(ctx context.Context, method string, params Params, result interface{}) error {
	if c.API == nil {
		return errors.Newf("no API for call to %s", method)
	}
	return c.API.Call(ctx, method, params, result)
}

func (c *Context) chatID(method string) (int64, error) {
	chat := c.Chat()
	if chat == nil {
		return 0, missing(method)
	}
	return chat.ID, nil
}

// Reply sends a text message to the update's chat.
func (c *Context) Reply(ctx context.Context, text string, other Params) (*Message, error) {
	id, err := c.chatID("sendMessage")
	if err != nil {
		return nil, err
	}
	ps := other.Copy()
	ps["chat_id"] = id
	ps["text"] = text
	var m Message
	if err := c.call(ctx, "sendMessage", ps, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// ReplyWithChatAction tells the chat that something is happening,
// such as "typing".
func (c *Context) ReplyWithChatAction(ctx context.Context, action string) error {
	id, err := c.chatID("sendChatAction")
	if err != nil {
		return err
	}
	return c.call(ctx, "sendChatAction", Params{"chat_id": id, "action": action}, nil)
}

// MessageID is what forwardMessage and copyMessage return.
type MessageID struct {
	MessageID int64 `json:"message_id"`
}

func (c *Context) ForwardMessage(ctx context.Context, toChat int64, other Params) (*Message, error) {
	from, err := c.chatID("forwardMessage")
	if err != nil {
		return nil, err
	}
	m := c.Msg()
	if m == nil {
		return nil, missing("forwardMessage")
	}
	ps := other.Copy()
	ps["chat_id"] = toChat
	ps["from_chat_id"] = from
	ps["message_id"] = m.MessageID
	var result Message
	if err := c.call(ctx, "forwardMessage", ps, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Context) CopyMessage(ctx context.Context, toChat int64, other Params) (*MessageID, error) {
	from, err := c.chatID("copyMessage")
	if err != nil {
		return nil, err
	}
	m := c.Msg()
	if m == nil {
		return nil, missing("copyMessage")
	}
	ps := other.Copy()
	ps["chat_id"] = toChat
	ps["from_chat_id"] = from
	ps["message_id"] = m.MessageID
	var result MessageID
	if err := c.call(ctx, "copyMessage", ps, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// EditMessageText edits the text of the update's message.  For
// inline messages, the platform returns no message, and neither does
// this method.
func (c *Context) EditMessageText(ctx context.Context, text string, other Params) (*Message, error) {
	ps := other.Copy()
	ps["text"] = text
	if id := c.InlineMessageID(); id != "" {
		ps["inline_message_id"] = id
		return nil, c.call(ctx, "editMessageText", ps, nil)
	}
	chat, err := c.chatID("editMessageText")
	if err != nil {
		return nil, err
	}
	m := c.Msg()
	if m == nil {
		return nil, missing("editMessageText")
	}
	ps["chat_id"] = chat
	ps["message_id"] = m.MessageID
	var raw json.RawMessage
	if err := c.call(ctx, "editMessageText", ps, &raw); err != nil {
		return nil, err
	}
	var result Message
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, nil
	}
	return &result, nil
}

func (c *Context) DeleteMessage(ctx context.Context) error {
	chat, err := c.chatID("deleteMessage")
	if err != nil {
		return err
	}
	m := c.Msg()
	if m == nil {
		return missing("deleteMessage")
	}
	return c.call(ctx, "deleteMessage", Params{"chat_id": chat, "message_id": m.MessageID}, nil)
}

func (c *Context) AnswerCallbackQuery(ctx context.Context, other Params) error {
	u := c.Update
	if u == nil || u.CallbackQuery == nil {
		return missing("answerCallbackQuery")
	}
	ps := other.Copy()
	ps["callback_query_id"] = u.CallbackQuery.ID
	return c.call(ctx, "answerCallbackQuery", ps, nil)
}

func (c *Context) AnswerInlineQuery(ctx context.Context, results []interface{}, other Params) error {
	u := c.Update
	if u == nil || u.InlineQuery == nil {
		return missing("answerInlineQuery")
	}
	ps := other.Copy()
	ps["inline_query_id"] = u.InlineQuery.ID
	ps["results"] = results
	return c.call(ctx, "answerInlineQuery", ps, nil)
}

// BanAuthor bans the update's author from its chat.
func (c *Context) BanAuthor(ctx context.Context, other Params) error {
	chat, err := c.chatID("banAuthor")
	if err != nil {
		return err
	}
	from := c.From()
	if from == nil {
		return missing("banAuthor")
	}
	ps := other.Copy()
	ps["chat_id"] = chat
	ps["user_id"] = from.ID
	return c.call(ctx, "banChatMember", ps, nil)
}

// GetFile asks about the file attached to the update's message.
func (c *Context) GetFile(ctx context.Context) (*File, error) {
	m := c.Msg()
	if m == nil {
		return nil, missing("getFile")
	}
	f := m.File()
	if f == nil {
		return nil, missing("getFile")
	}
	var result File
	if err := c.call(ctx, "getFile", Params{"file_id": f.FileID}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Context) LeaveChat(ctx context.Context) error {
	chat, err := c.chatID("leaveChat")
	if err != nil {
		return err
	}
	return c.call(ctx, "leaveChat", Params{"chat_id": chat}, nil)
}
