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

// Schema is an immutable tree of the path segments a filter query
// may use.  Children keep their declaration order so that error
// messages can enumerate them predictably.
type Schema struct {
	keys     []string
	children map[string]*Schema
}

// field is one key/child pair used while declaring a Schema.
type field struct {
	key   string
	child *Schema
}

func leaf(key string) field {
	return field{key, nil}
}

func sub(key string, child *Schema) field {
	return field{key, child}
}

func schema(fs ...field) *Schema {
	s := &Schema{
		keys:     make([]string, 0, len(fs)),
		children: make(map[string]*Schema, len(fs)),
	}
	for _, f := range fs {
		child := f.child
		if child == nil {
			child = empty
		}
		if _, dup := s.children[f.key]; !dup {
			s.keys = append(s.keys, f.key)
		}
		s.children[f.key] = child
	}
	return s
}

// extend returns a new Schema with all of the given Schema's fields
// followed by the additional ones.
func extend(base *Schema, fs ...field) *Schema {
	all := make([]field, 0, len(base.keys)+len(fs))
	for _, k := range base.keys {
		all = append(all, field{k, base.children[k]})
	}
	return schema(append(all, fs...)...)
}

var empty = &Schema{children: map[string]*Schema{}}

// Keys returns the permitted child segments in declaration order.
func (s *Schema) Keys() []string {
	if s == nil {
		return nil
	}
	acc := make([]string, len(s.keys))
	copy(acc, s.keys)
	return acc
}

// Child returns the sub-schema for the given segment.
func (s *Schema) Child(key string) (*Schema, bool) {
	if s == nil {
		return nil, false
	}
	c, have := s.children[key]
	return c, have
}

// Has reports whether the given segment is permitted here.
func (s *Schema) Has(key string) bool {
	_, have := s.Child(key)
	return have
}

// IsLeaf reports whether no further filtering is possible below s.
func (s *Schema) IsLeaf() bool {
	return s == nil || len(s.keys) == 0
}

// Lookup follows the given path from s.
func (s *Schema) Lookup(path ...string) (*Schema, bool) {
	at := s
	for _, p := range path {
		next, have := at.Child(p)
		if !have {
			return nil, false
		}
		at = next
	}
	return at, true
}

var (
	entityKeys = schema(
		leaf("mention"),
		leaf("hashtag"),
		leaf("cashtag"),
		leaf("bot_command"),
		leaf("url"),
		leaf("email"),
		leaf("phone_number"),
		leaf("bold"),
		leaf("italic"),
		leaf("underline"),
		leaf("strikethrough"),
		leaf("spoiler"),
		leaf("code"),
		leaf("pre"),
		leaf("text_link"),
		leaf("text_mention"),
		leaf("custom_emoji"),
	)

	userKeys = schema(
		leaf(Me),
		leaf("is_bot"),
		leaf("is_premium"),
		leaf("added_to_attachment_menu"),
	)

	editableMessageKeys = schema(
		leaf("text"),
		leaf("animation"),
		leaf("audio"),
		leaf("document"),
		leaf("photo"),
		leaf("video"),
		leaf("game"),
		leaf("location"),
		sub("entities", entityKeys),
		sub("caption_entities", entityKeys),
		leaf("caption"),
	)

	commonMessageKeys = extend(editableMessageKeys,
		leaf("sticker"),
		leaf("video_note"),
		leaf("voice"),
		leaf("contact"),
		leaf("dice"),
		leaf("poll"),
		leaf("venue"),
		leaf("new_chat_title"),
		leaf("new_chat_photo"),
		leaf("delete_chat_photo"),
		leaf("message_auto_delete_timer_changed"),
		leaf("pinned_message"),
		leaf("invoice"),
		leaf("proximity_alert_triggered"),
		leaf("video_chat_scheduled"),
		leaf("video_chat_started"),
		leaf("video_chat_ended"),
		leaf("video_chat_participants_invited"),
		leaf("web_app_data"),
		leaf("forward_date"),
		leaf("is_automatic_forward"),
	)

	messageKeys = extend(commonMessageKeys,
		sub("new_chat_members", userKeys),
		sub("left_chat_member", userKeys),
		leaf("group_chat_created"),
		leaf("supergroup_chat_created"),
		leaf("migrate_to_chat_id"),
		leaf("migrate_from_chat_id"),
		leaf("successful_payment"),
		leaf("connected_website"),
		leaf("passport_data"),
	)

	channelPostKeys = extend(commonMessageKeys,
		leaf("channel_chat_created"),
	)

	callbackQueryKeys = schema(
		leaf("data"),
		leaf("game_short_name"),
	)

	chatMemberUpdatedKeys = schema(
		sub("from", userKeys),
	)

	// UpdateSchema is the schema of all valid filter queries.
	UpdateSchema = schema(
		sub("message", messageKeys),
		sub("edited_message", messageKeys),
		sub("channel_post", channelPostKeys),
		sub("edited_channel_post", channelPostKeys),
		leaf("inline_query"),
		leaf("chosen_inline_result"),
		sub("callback_query", callbackQueryKeys),
		leaf("shipping_query"),
		leaf("pre_checkout_query"),
		leaf("poll"),
		leaf("poll_answer"),
		sub("my_chat_member", chatMemberUpdatedKeys),
		sub("chat_member", chatMemberUpdatedKeys),
		leaf("chat_join_request"),
	)
)

// Me is the L3 segment that refers to the bot itself.
const Me = "me"

// L1Shortcuts maps abbreviated first segments to the update kinds
// they stand for.
var L1Shortcuts = map[string][]string{
	"":     {"message", "channel_post"},
	"msg":  {"message", "channel_post"},
	"edit": {"edited_message", "edited_channel_post"},
}

// L2Shortcuts maps abbreviated second segments to the message fields
// they stand for.
var L2Shortcuts = map[string][]string{
	"":      {"entities", "caption_entities"},
	"media": {"photo", "video"},
	"file":  {"photo", "animation", "audio", "document", "video", "video_note", "voice", "sticker"},
}
