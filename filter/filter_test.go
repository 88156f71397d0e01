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

import (
	"strings"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	. "github.com/Comcast/switchyard/util/testutil"
)

var self = Self{ID: 42}

func upd(js string) map[string]interface{} {
	return Dwimjs(js).(map[string]interface{})
}

var fixtures = map[string]string{
	"text":          `{"update_id":1,"message":{"message_id":1,"text":"hi"}}`,
	"emptyText":     `{"update_id":1,"message":{"message_id":1,"text":""}}`,
	"channelText":   `{"update_id":2,"channel_post":{"message_id":1,"text":"hi"}}`,
	"photo":         `{"update_id":3,"message":{"message_id":1,"photo":[{"file_id":"a"}]}}`,
	"caption":       `{"update_id":4,"message":{"message_id":1,"caption":"c","caption_entities":[{"type":"url","offset":0,"length":1}]}}`,
	"mention":       `{"update_id":5,"message":{"message_id":1,"text":"@x","entities":[{"type":"mention","offset":0,"length":2}]}}`,
	"noEntities":    `{"update_id":6,"message":{"message_id":1,"text":"plain"}}`,
	"editedText":    `{"update_id":7,"edited_message":{"message_id":1,"text":"hi"}}`,
	"joinedMe":      `{"update_id":8,"message":{"message_id":1,"new_chat_members":[{"id":7},{"id":42}]}}`,
	"joinedOther":   `{"update_id":9,"message":{"message_id":1,"new_chat_members":[{"id":7}]}}`,
	"leftMe":        `{"update_id":10,"message":{"message_id":1,"left_chat_member":{"id":42,"is_bot":true}}}`,
	"callback":      `{"update_id":11,"callback_query":{"id":"q","data":"yes"}}`,
	"inline":        `{"update_id":12,"inline_query":{"id":"i","query":"q"}}`,
	"memberFromBot": `{"update_id":13,"my_chat_member":{"from":{"id":1,"is_bot":true}}}`,
	"empty":         `{"update_id":14}`,
}

func TestMessageText(t *testing.T) {
	f, err := Compile("message:text")
	require.NoError(t, err)

	for name, js := range fixtures {
		u := upd(js)
		msg, _ := u["message"].(map[string]interface{})
		want := msg != nil && msg["text"] != nil
		assert.Equal(t, want, f.Match(u, self), name)
	}
}

func TestShortcutEquivalence(t *testing.T) {
	pairs := [][2][]string{
		{{":text"}, {"message:text", "channel_post:text"}},
		{{"msg:text"}, {"message:text", "channel_post:text"}},
		{{"edit"}, {"edited_message", "edited_channel_post"}},
		{{":media"}, {"message:photo", "message:video", "channel_post:photo", "channel_post:video"}},
		{{"message::url"}, {"message:entities:url", "message:caption_entities:url"}},
	}
	for _, pair := range pairs {
		short, err := Compile(pair[0]...)
		require.NoError(t, err, pair[0])
		long, err := Compile(pair[1]...)
		require.NoError(t, err, pair[1])
		for name, js := range fixtures {
			u := upd(js)
			assert.Equal(t, long.Match(u, self), short.Match(u, self), "%v vs %v on %s", pair[0], pair[1], name)
		}
	}
}

func TestEntities(t *testing.T) {
	f := MustCompile("message:entities:mention")
	assert.True(t, f.Match(upd(fixtures["mention"]), self))
	assert.False(t, f.Match(upd(fixtures["noEntities"]), self))
	assert.False(t, f.Match(upd(fixtures["caption"]), self))

	// A truthy field with the segment's name counts too.
	assert.True(t, f.Match(upd(`{"message":{"entities":[{"type":"bold"},{"mention":true}]}}`), self))
	// And so does a single object instead of an array.
	assert.True(t, f.Match(upd(`{"message":{"entities":{"type":"mention"}}}`), self))
}

func TestCaptionShortcut(t *testing.T) {
	f := MustCompile("::url")
	assert.True(t, f.Match(upd(fixtures["caption"]), self))
	assert.False(t, f.Match(upd(fixtures["mention"]), self))
}

func TestPresenceOfEmptyValues(t *testing.T) {
	// Presence, not truthiness, decides at the last given level.
	assert.True(t, MustCompile("message:text").Match(upd(fixtures["emptyText"]), self))
	assert.False(t, MustCompile("message:text").Match(upd(`{"message":{"text":null}}`), self))
}

func TestMe(t *testing.T) {
	f := MustCompile("message:new_chat_members:me")
	assert.True(t, f.Match(upd(fixtures["joinedMe"]), self))
	assert.False(t, f.Match(upd(fixtures["joinedOther"]), self))
	assert.False(t, f.Match(upd(fixtures["joinedMe"]), Self{ID: 1000}))

	f = MustCompile("message:left_chat_member:me")
	assert.True(t, f.Match(upd(fixtures["leftMe"]), self))

	f = MustCompile("my_chat_member:from:is_bot")
	assert.True(t, f.Match(upd(fixtures["memberFromBot"]), self))
}

func TestOr(t *testing.T) {
	f := MustCompile("callback_query:data", "inline_query")
	assert.True(t, f.Match(upd(fixtures["callback"]), self))
	assert.True(t, f.Match(upd(fixtures["inline"]), self))
	assert.False(t, f.Match(upd(fixtures["text"]), self))
	assert.False(t, f.Match(upd(fixtures["empty"]), self))
}

func TestShorterPathSubsumes(t *testing.T) {
	f := MustCompile("message:entities:url", "message")
	assert.True(t, f.Match(upd(fixtures["photo"]), self))

	f = MustCompile("message:entities", "message:entities:url")
	assert.True(t, f.Match(upd(fixtures["mention"]), self))
}

func TestDeterministic(t *testing.T) {
	for _, q := range []string{":text", "message:entities:mention", "edit", "::url", ":file"} {
		a := MustCompile(q)
		b := MustCompile(q)
		assert.Equal(t, a.Root.String(), b.Root.String())
		for name, js := range fixtures {
			u := upd(js)
			assert.Equal(t, a.Match(u, self), b.Match(u, self), "%s on %s", q, name)
		}
	}
}

func TestExpand(t *testing.T) {
	tests := []struct {
		query string
		want  []string
	}{
		{"message", []string{"message"}},
		{":text", []string{"message:text", "channel_post:text"}},
		{"edit:text", []string{"edited_message:text", "edited_channel_post:text"}},
		{":media", []string{"message:photo", "message:video", "channel_post:photo", "channel_post:video"}},
		{"::url", []string{"message:entities:url", "message:caption_entities:url", "channel_post:entities:url", "channel_post:caption_entities:url"}},
		{":new_chat_members", []string{"message:new_chat_members"}},
		{":channel_chat_created", []string{"channel_post:channel_chat_created"}},
		{"", []string{""}},
		{":", []string{":"}},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			got, err := Expand(ParsePath(tt.query))
			require.NoError(t, err)
			var strs []string
			for _, p := range got {
				strs = append(strs, p.String())
			}
			assert.Equal(t, tt.want, strs)
		})
	}
}

func TestExpandKeepsExtraSegments(t *testing.T) {
	got, err := Expand(ParsePath(":entities:url:x"))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "message:entities:url:x", got[0].String())
}

func TestErrors(t *testing.T) {
	tests := []struct {
		query  string
		prefix string
		exact  bool
	}{
		{"foo", "Invalid L1 filter 'foo' given in 'foo'. Permitted values are: 'message', 'edited_message',", false},
		{"", "Invalid L1 filter '' given in ''.", false},
		{":", "Invalid L1 filter '' given in ':'.", false},
		{"message:foo", "Invalid L2 filter 'foo' given in 'message:foo'. Permitted values are: 'text', 'animation',", false},
		{"message:text:foo", "Invalid L3 filter 'foo' given in 'message:text:foo'. No further filtering is possible after 'message:text'.", true},
		{"message:entities:foo", "Invalid L3 filter 'foo' given in 'message:entities:foo'. Permitted values are: 'mention', 'hashtag',", false},
		{"message:entities:url:x", "Cannot filter further than three levels, ':x' is invalid!", true},
		{":foo", "Shortcuts in ':foo' do not expand to any valid filter query", true},
		{":media:url", "Shortcuts in ':media:url' do not expand to any valid filter query", true},
		{"foo:media", "Invalid filter query 'foo:media'. There are 2 errors after expanding the contained shortcuts: Invalid L1 filter 'foo' given in 'foo:photo'.", false},
		{"msg:entities:foo", "Invalid filter query 'msg:entities:foo'. There are 2 errors after expanding the contained shortcuts: Invalid L3 filter 'foo' given in 'message:entities:foo'.", false},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			_, err := Compile(tt.query)
			require.Error(t, err)
			var qe *QueryError
			require.True(t, errors.As(err, &qe))
			assert.Equal(t, tt.query, qe.Query)
			if tt.exact {
				assert.Equal(t, tt.prefix, err.Error())
			} else {
				assert.True(t, strings.HasPrefix(err.Error(), tt.prefix), err.Error())
			}
		})
	}
}

func TestAggregateCauses(t *testing.T) {
	_, err := Compile("msg:entities:foo")
	var qe *QueryError
	require.True(t, errors.As(err, &qe))
	require.Len(t, qe.Causes, 2)
	assert.Contains(t, qe.Causes[1], "'channel_post:entities:foo'")
	assert.Contains(t, err.Error(), "; Invalid L3 filter 'foo' given in 'channel_post:entities:foo'")
}

func TestEmptyQueryPaths(t *testing.T) {
	// No expansions to validate.
	_, err := Check(Path{}, nil)
	require.Error(t, err)
	assert.Equal(t, EmptyQueryMessage, err.Error())

	// An expansion without any segment.
	_, err = Check(Path{}, []Path{{}})
	require.Error(t, err)
	assert.Equal(t, EmptyQueryMessage, err.Error())

	// No queries at all reach the tree builder, which refuses.
	_, err = Compile()
	require.Error(t, err)
	assert.True(t, errors.HasAssertionFailure(err))
	assert.Contains(t, err.Error(), "Cannot create filter function for empty query")

	_, err = Build(&Tree{})
	assert.True(t, errors.HasAssertionFailure(err))
}

func TestBuildShape(t *testing.T) {
	tree := Treeify([]Path{
		ParsePath("message:text"),
		ParsePath("message:entities:url"),
		ParsePath("message:entities:me"),
		ParsePath("inline_query"),
	})
	n, err := Build(tree)
	require.NoError(t, err)

	root, is := n.(AnyOf)
	require.True(t, is)
	require.Len(t, root.Nodes, 2)
	assert.Equal(t, Exists{"inline_query"}, root.Nodes[1])

	msg, is := root.Nodes[0].(KeyThen)
	require.True(t, is)
	assert.Equal(t, "message", msg.Key)
	l2s := msg.Then.(AnyOf)
	assert.Equal(t, Exists{"text"}, l2s.Nodes[0])
	assert.Equal(t, KeyThen{"entities", AnyOf{[]Node{Literal{"url"}, SelfReference{}}}}, l2s.Nodes[1])
}

func TestSchemaKeys(t *testing.T) {
	keys := UpdateSchema.Keys()
	assert.Equal(t, "message", keys[0])
	assert.Len(t, keys, 14)

	s, ok := UpdateSchema.Lookup("channel_post", "entities")
	require.True(t, ok)
	assert.Contains(t, s.Keys(), "custom_emoji")

	_, ok = UpdateSchema.Lookup("channel_post", "new_chat_members")
	assert.False(t, ok)
	assert.True(t, UpdateSchema.Has("chat_join_request"))
}
