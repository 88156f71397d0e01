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

package sio

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Comcast/switchyard/botapi"
	"github.com/Comcast/switchyard/core"
	"github.com/Comcast/switchyard/storage"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const hello = `{"update_id":7,"message":{"message_id":1,"date":0,"chat":{"id":3,"type":"private"},"text":"hi"}}`

func receive(t *testing.T, in chan *core.Update) *core.Update {
	t.Helper()
	select {
	case u := <-in:
		return u
	case <-time.After(5 * time.Second):
		t.Fatal("no update")
	}
	return nil
}

func TestStdio(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var out bytes.Buffer
	s := &Stdio{
		In:   strings.NewReader("# comment\n\n" + hello + "\nnot json\nquit\n" + hello + "\n"),
		Out:  &out,
		Tags: true,
	}
	require.NoError(t, s.Start(ctx))
	in, results, done, err := s.IO(ctx)
	require.NoError(t, err)

	u := receive(t, in)
	assert.Equal(t, int64(7), u.UpdateID)
	assert.Equal(t, "hi", u.Message.Text)

	results <- &Result{
		UpdateID: 7,
		Calls:    []Call{{Method: "sendMessage", Params: map[string]interface{}{"text": "yo"}}},
		Err:      "oops",
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("input didn't end at quit")
	}

	results <- nil
	require.NoError(t, s.Stop(ctx))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, `call {"method":"sendMessage","params":{"text":"yo"}}`, lines[0])
	assert.Equal(t, `error {"error":"oops","update_id":7}`, lines[1])
}

func TestStdioEOF(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := &Stdio{In: strings.NewReader(hello), Out: &bytes.Buffer{}}
	in, _, done, err := s.IO(ctx)
	require.NoError(t, err)

	// The last line doesn't need a newline.
	receive(t, in)
	<-done
	cancel()
	require.NoError(t, s.Stop(ctx))
}

type echoAPI struct{}

func (echoAPI) Call(ctx context.Context, method string, params, result interface{}) error {
	if result == nil {
		return nil
	}
	return json.Unmarshal([]byte(`{"echo":"`+method+`"}`), result)
}

func TestRecorder(t *testing.T) {
	ctx := context.Background()

	r := NewRecorder(nil)
	r.Canned["getMe"] = `{"id":42}`

	var me core.User
	require.NoError(t, r.Call(ctx, "getMe", nil, &me))
	assert.Equal(t, int64(42), me.ID)
	require.NoError(t, r.Call(ctx, "sendMessage", core.Params{"text": "x"}, nil))

	calls := r.Take()
	require.Len(t, calls, 2)
	assert.Equal(t, "getMe", calls[0].Method)
	assert.Equal(t, core.Params{"text": "x"}, calls[1].Params)
	assert.Empty(t, r.Take())

	// With an API, calls go through.
	r = NewRecorder(echoAPI{})
	var x map[string]string
	require.NoError(t, r.Call(ctx, "leaveChat", nil, &x))
	assert.Equal(t, "leaveChat", x["echo"])
	assert.Len(t, r.Take(), 1)
}

func TestParseTopic(t *testing.T) {
	for _, c := range []struct {
		in    string
		topic string
		qos   byte
	}{
		{"updates", "updates", 0},
		{"updates:1", "updates", 1},
		{"a/b:2", "a/b", 2},
		{"a:b", "a:b", 0},
		{"a:7", "a:7", 0},
	} {
		topic, qos := parseTopic(c.in)
		assert.Equal(t, c.topic, topic, c.in)
		assert.Equal(t, c.qos, qos, c.in)
	}
}

type publication struct {
	topic   string
	qos     byte
	payload []byte
}

// fakeClient only publishes.
type fakeClient struct {
	mqtt.Client

	pubs chan publication
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.pubs <- publication{topic, qos, payload.([]byte)}
	return doneToken{}
}

func (c *fakeClient) Disconnect(uint) {}

type doneToken struct {
	mqtt.Token
}

func (doneToken) Wait() bool   { return true }
func (doneToken) Error() error { return nil }

func TestMQTT(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c, err := NewMQTT(MQTTOptions{
		Broker:    "tcp://localhost:1883",
		ClientID:  "test",
		OutTopic:  "results:1",
		InTimeout: 50 * time.Millisecond,
	})
	require.NoError(t, err)
	fc := &fakeClient{pubs: make(chan publication, 1)}
	c.Client = fc

	in, out, done, err := c.IO(ctx)
	require.NoError(t, err)

	go c.consume(ctx, "updates", []byte(hello))
	u := receive(t, in)
	assert.Equal(t, int64(7), u.UpdateID)

	// Garbage and stalls are dropped.
	c.consume(ctx, "updates", []byte("nope"))
	c.consume(ctx, "updates", []byte(hello))

	out <- &Result{UpdateID: 7, Calls: []Call{{Method: "sendMessage"}}}
	p := <-fc.pubs
	assert.Equal(t, "results", p.topic)
	assert.Equal(t, byte(1), p.qos)
	assert.JSONEq(t, `{"update_id":7,"calls":[{"method":"sendMessage"}]}`, string(p.payload))

	require.NoError(t, c.Stop(ctx))
	_, open := <-done
	assert.False(t, open)
}

func TestWebSocket(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := NewWebSocket("127.0.0.1:0", 4)
	require.NoError(t, s.Start(ctx))
	in, out, _, err := s.IO(ctx)
	require.NoError(t, err)

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+s.ListenAddr()+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("garbage")))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(msg), "can't parse")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(hello)))
	u := receive(t, in)
	assert.Equal(t, int64(7), u.UpdateID)

	out <- &Result{UpdateID: 7, Err: "boom"}
	_, msg, err = conn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"update_id":7,"error":"boom"}`, string(msg))

	require.NoError(t, s.Stop(ctx))
}

// fakeUpdater serves batches of updates and then errors.
type fakeUpdater struct {
	sync.Mutex
	offsets []int64
	batches [][]*core.Update
	errs    []error
}

func (f *fakeUpdater) GetUpdates(ctx context.Context, r *botapi.UpdatesRequest) ([]*core.Update, error) {
	f.Lock()
	defer f.Unlock()
	f.offsets = append(f.offsets, r.Offset)
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	if len(f.batches) == 0 {
		return nil, &botapi.Error{Method: "getUpdates", Code: 409, Description: "Conflict"}
	}
	b := f.batches[0]
	f.batches = f.batches[1:]
	return b, nil
}

func TestPoller(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := storage.NewMemory()
	require.NoError(t, store.Put(ctx, OffsetBucket, "bot", []byte("5")))

	api := &fakeUpdater{
		batches: [][]*core.Update{
			{{UpdateID: 5}, {UpdateID: 6}},
			{{UpdateID: 9}},
		},
		errs: []error{
			nil,
			&botapi.Error{Method: "getUpdates", Code: 502, Description: "Bad Gateway"},
		},
	}
	p := NewPoller(api, PollOptions{Store: store, Key: "bot", Backoff: time.Millisecond})
	require.NoError(t, p.Start(ctx))
	assert.Equal(t, int64(5), p.Offset())

	in, _, done, err := p.IO(ctx)
	require.NoError(t, err)

	var got []int64
	for u := range in {
		got = append(got, u.UpdateID)
		if len(got) == 3 {
			break
		}
	}
	assert.Equal(t, []int64{5, 6, 9}, got)

	// The conflict is fatal.
	<-done
	err = p.Stop(ctx)
	var ae *botapi.Error
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, 409, ae.Code)

	assert.Equal(t, int64(10), p.Offset())
	bs, err := store.Get(ctx, OffsetBucket, "bot")
	require.NoError(t, err)
	assert.Equal(t, "10", string(bs))

	api.Lock()
	assert.Equal(t, []int64{5, 7, 7, 10}, api.offsets)
	api.Unlock()
}

func TestPollerCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	api := &fakeUpdater{errs: []error{&botapi.HTTPError{Method: "getUpdates"}}}
	p := NewPoller(api, PollOptions{Backoff: time.Hour})
	_, _, done, err := p.IO(ctx)
	require.NoError(t, err)

	cancel()
	<-done
	assert.NoError(t, p.Stop(ctx))
}

func TestJShort(t *testing.T) {
	assert.Equal(t, `"hi"`, JShort("hi"))
	s := JShort(strings.Repeat("x", 100))
	assert.Len(t, s, 73)
	assert.True(t, strings.HasSuffix(s, "..."))
	assert.Equal(t, "null", JS(nil))
}

func TestShellExpand(t *testing.T) {
	got, err := ShellExpand(`{"update_id":<<echo 42>>}`)
	require.NoError(t, err)
	assert.Equal(t, `{"update_id":42}`, got)

	same, err := ShellExpand(hello)
	require.NoError(t, err)
	assert.Equal(t, hello, same)
}
