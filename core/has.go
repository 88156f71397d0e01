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
	"strings"
	"unicode"
	"unicode/utf16"

	"github.com/Comcast/switchyard/filter"
	"github.com/cockroachdb/errors"
)

// Check is a synchronous predicate on a Context.  Checks are built
// once, at registration, and then applied to every update.
type Check func(c *Context) bool

func (f Check) test(c *Context) bool {
	return f(c)
}

// Predicate turns the check into a Predicate.
func (f Check) Predicate() Predicate {
	return func(_ context.Context, c *Context) (bool, error) {
		return f(c), nil
	}
}

// HasFilter checks the update against a compiled filter.
func HasFilter(f *filter.Filter) Check {
	return func(c *Context) bool {
		m, err := c.Generic()
		if err != nil {
			return false
		}
		var self filter.Self
		if c.Me != nil {
			self.ID = c.Me.ID
		}
		return f.Match(m, self)
	}
}

// HasFilterQuery compiles the queries, which are alternatives.  A bad
// query panics with a ConfigurationError.
func HasFilterQuery(queries ...string) Check {
	f, err := filter.Compile(queries...)
	if err != nil {
		misconfigured(err)
	}
	return HasFilter(f)
}

// textOf is the text or caption of a message or channel post.
func textOf(c *Context) string {
	u := c.Update
	m := u.Message
	if m == nil {
		m = u.ChannelPost
	}
	if m == nil {
		return ""
	}
	if m.Text != "" {
		return m.Text
	}
	return m.Caption
}

// HasText checks the text or caption of a message or channel post.
func HasText(t Trigger) Check {
	hasText := HasFilterQuery(":text", ":caption")
	return func(c *Context) bool {
		return hasText(c) && trigger(c, textOf(c), t)
	}
}

// ValidateCommand reports a command that can never be registered.
func ValidateCommand(cmd string) error {
	if strings.HasPrefix(cmd, "/") {
		return &ConfigurationError{Err: errors.Newf(
			"Do not include '/' when registering command handlers (use '%s' not '%s')", cmd[1:], cmd)}
	}
	return nil
}

// HasCommand checks for a bot command at the start of a message.
//
// A command registered with an '@' suffix only matches that exact
// text.  A plain command also matches when it is addressed to this
// bot's username.  The Context's match is the text after the
// command.
func HasCommand(commands ...string) Check {
	hasEntities := HasFilterQuery(":entities:bot_command")
	plain := make(map[string]bool, len(commands))
	at := make(map[string]bool)
	for _, cmd := range commands {
		if err := ValidateCommand(cmd); err != nil {
			panic(err)
		}
		if strings.Contains(cmd, "@") {
			at[cmd] = true
		} else {
			plain[cmd] = true
		}
	}

	return func(c *Context) bool {
		if !hasEntities(c) {
			return false
		}
		m := c.Update.Message
		if m == nil {
			m = c.Update.ChannelPost
		}
		txt := utf16.Encode([]rune(textOf(c)))
		for _, e := range m.Entities {
			if e.Type != "bot_command" || e.Offset != 0 {
				continue
			}
			cmd := utf16Slice(txt, 1, e.Length)
			rest := func() string {
				return strings.TrimLeftFunc(utf16Slice(txt, len(utf16.Encode([]rune(cmd)))+1, len(txt)), unicode.IsSpace)
			}
			if plain[cmd] || at[cmd] {
				c.SetMatch(Match{Text: rest()})
				return true
			}
			i := strings.Index(cmd, "@")
			if i < 0 {
				continue
			}
			if c.Me == nil || cmd[i+1:] != c.Me.Username {
				continue
			}
			if plain[cmd[:i]] {
				c.SetMatch(Match{Text: rest()})
				return true
			}
		}
		return false
	}
}

// utf16Slice returns the text between the given UTF-16 offsets,
// clamped to the text.
func utf16Slice(u []uint16, from, to int) string {
	if to > len(u) {
		to = len(u)
	}
	if from > to {
		return ""
	}
	return string(utf16.Decode(u[from:to]))
}

// HasChatType checks the type of the update's chat.
func HasChatType(types ...string) Check {
	set := make(map[string]bool, len(types))
	for _, t := range types {
		set[t] = true
	}
	return func(c *Context) bool {
		chat := c.Chat()
		return chat != nil && chat.Type != "" && set[chat.Type]
	}
}

// HasCallbackQuery checks a callback query's data.
func HasCallbackQuery(t Trigger) Check {
	has := HasFilterQuery("callback_query:data")
	return func(c *Context) bool {
		return has(c) && trigger(c, *c.Update.CallbackQuery.Data, t)
	}
}

// HasGameQuery checks a callback query's game short name.
func HasGameQuery(t Trigger) Check {
	has := HasFilterQuery("callback_query:game_short_name")
	return func(c *Context) bool {
		return has(c) && trigger(c, *c.Update.CallbackQuery.GameShortName, t)
	}
}

// HasInlineQuery checks an inline query's text.
func HasInlineQuery(t Trigger) Check {
	has := HasFilterQuery("inline_query")
	return func(c *Context) bool {
		return has(c) && trigger(c, c.Update.InlineQuery.Query, t)
	}
}
