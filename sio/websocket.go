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
	"context"
	"encoding/json"
	"net"
	"net/http"
	"sync"

	"github.com/Comcast/switchyard/core"
	"github.com/Comcast/switchyard/util"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/net/netutil"
)

// WebSocket is a Couplings that accepts updates from websocket
// clients.  Every client receives every result.
type WebSocket struct {
	// Addr is the listening address, such as ":8080".
	Addr string

	// MaxConns limits concurrent connections.  Zero means no
	// limit.
	MaxConns int

	// Path is where websockets are served.  Defaults to "/ws".
	Path string

	listener net.Listener
	server   *http.Server
	upgrader websocket.Upgrader

	// conns maps a connection id to its out-bound channel.
	conns sync.Map

	incoming chan *core.Update
	outbound chan *Result
	done     chan bool
	wg       sync.WaitGroup
}

func NewWebSocket(addr string, maxConns int) *WebSocket {
	return &WebSocket{
		Addr:     addr,
		MaxConns: maxConns,
		Path:     "/ws",
		incoming: make(chan *core.Update),
		outbound: make(chan *Result),
		done:     make(chan bool),
	}
}

// Start listens.
func (s *WebSocket) Start(ctx context.Context) error {
	l, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return err
	}
	if s.MaxConns > 0 {
		l = netutil.LimitListener(l, s.MaxConns)
	}
	s.listener = l

	mux := http.NewServeMux()
	mux.HandleFunc(s.Path, func(w http.ResponseWriter, r *http.Request) {
		s.serve(ctx, w, r)
	})
	s.server = &http.Server{Handler: mux}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.server.Serve(l); err != nil && err != http.ErrServerClosed {
			util.Logger.Errorw("websocket server", "error", err)
		}
	}()

	util.Logger.Infow("websockets listening", "addr", l.Addr().String())
	return nil
}

// ListenAddr is the address actually listened on.
func (s *WebSocket) ListenAddr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *WebSocket) serve(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	c, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		util.Logger.Warnw("upgrade error", "error", err)
		return
	}
	defer c.Close()

	id := uuid.New().String()
	log := util.Logger.With("conn", id)

	results := make(chan []byte, 32)
	s.conns.Store(id, results)
	defer s.conns.Delete(id)

	ctl := make(chan bool)
	defer close(ctl)

	go func() {
		for {
			select {
			case <-ctl:
				return
			case <-ctx.Done():
				return
			case js := <-results:
				if err := c.WriteMessage(websocket.TextMessage, js); err != nil {
					log.Warnw("write", "error", err)
				}
			}
		}
	}()

	for {
		_, message, err := c.ReadMessage()
		if err != nil {
			log.Debugw("read", "error", err)
			return
		}
		u, err := core.ParseUpdate(message)
		if err != nil {
			js, _ := json.Marshal(map[string]interface{}{"error": "can't parse: " + err.Error()})
			results <- js
			continue
		}
		select {
		case <-ctx.Done():
			return
		case s.incoming <- u:
		}
	}
}

// IO starts the loop that fans results out to clients.
func (s *WebSocket) IO(ctx context.Context) (chan *core.Update, chan *Result, chan bool, error) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case r := <-s.outbound:
				if r == nil {
					return
				}
				js, err := json.Marshal(r)
				if err != nil {
					util.Logger.Errorw("marshal result", "error", err)
					continue
				}
				s.conns.Range(func(k, v interface{}) bool {
					select {
					case v.(chan []byte) <- js:
					default:
						util.Logger.Warnw("result dropped for slow connection", "conn", k)
					}
					return true
				})
			}
		}
	}()
	return s.incoming, s.outbound, s.done, nil
}

// Stop shuts the server down.
func (s *WebSocket) Stop(ctx context.Context) error {
	var err error
	if s.server != nil {
		err = s.server.Shutdown(ctx)
	}
	close(s.done)
	return err
}
