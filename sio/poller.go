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
	"strconv"
	"sync"
	"time"

	"github.com/Comcast/switchyard/botapi"
	"github.com/Comcast/switchyard/core"
	"github.com/Comcast/switchyard/storage"
	"github.com/Comcast/switchyard/util"
	"github.com/cockroachdb/errors"
)

// Updater is the part of the API client that a Poller needs.
type Updater interface {
	GetUpdates(ctx context.Context, r *botapi.UpdatesRequest) ([]*core.Update, error)
}

// PollOptions configure long polling.
type PollOptions struct {
	// Limit is the number of updates per request, 1 to 100.
	Limit int

	// Timeout is the long polling timeout in seconds.
	Timeout int

	// AllowedUpdates lists update types to receive.  Empty means
	// the server's default.
	AllowedUpdates []string

	// Backoff is the delay after a failed request.  Defaults to
	// three seconds.
	Backoff time.Duration

	// Store, if not nil, persists the offset across restarts.
	Store storage.Storage

	// Key names the offset in the store.
	Key string
}

// OffsetBucket is where a Poller keeps offsets.
const OffsetBucket = "offsets"

// Poller is a Couplings that fetches updates with getUpdates.
//
// A Poller confirms an update when it asks for the ones after it.
// Results are only logged, because the bot's API calls have already
// been made by the time a Result arrives.
type Poller struct {
	API  Updater
	Opts PollOptions

	mu     sync.Mutex
	offset int64
	err    error

	incoming chan *core.Update
	outbound chan *Result
	done     chan bool
	wg       sync.WaitGroup
}

func NewPoller(api Updater, opts PollOptions) *Poller {
	if opts.Limit <= 0 || 100 < opts.Limit {
		opts.Limit = 100
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 3 * time.Second
	}
	if opts.Key == "" {
		opts.Key = "default"
	}
	return &Poller{
		API:      api,
		Opts:     opts,
		incoming: make(chan *core.Update),
		outbound: make(chan *Result),
		done:     make(chan bool),
	}
}

// Start loads a stored offset.
func (p *Poller) Start(ctx context.Context) error {
	if p.Opts.Store == nil {
		return nil
	}
	bs, err := p.Opts.Store.Get(ctx, OffsetBucket, p.Opts.Key)
	if err != nil {
		return err
	}
	if bs == nil {
		return nil
	}
	n, err := strconv.ParseInt(string(bs), 10, 64)
	if err != nil {
		return errors.Wrapf(err, "bad stored offset %q", bs)
	}
	p.setOffset(n)
	return nil
}

// Offset is the id of the next update to ask for.
func (p *Poller) Offset() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.offset
}

func (p *Poller) setOffset(n int64) {
	p.mu.Lock()
	p.offset = n
	p.mu.Unlock()
}

// Err is the error that ended polling, if any.
func (p *Poller) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// IO starts polling.  The done channel is closed when polling stops
// because ctx is done or because of a fatal error.
func (p *Poller) IO(ctx context.Context) (chan *core.Update, chan *Result, chan bool, error) {
	p.wg.Add(2)
	go func() {
		defer p.wg.Done()
		defer close(p.done)
		if err := p.loop(ctx); err != nil {
			p.mu.Lock()
			p.err = err
			p.mu.Unlock()
			util.Logger.Errorw("polling stopped", "error", err)
		}
	}()
	go func() {
		defer p.wg.Done()
		p.results(ctx)
	}()
	return p.incoming, p.outbound, p.done, nil
}

func (p *Poller) results(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.done:
			return
		case r := <-p.outbound:
			if r == nil {
				return
			}
			if r.Err != "" {
				util.Logger.Warnw("update failed", "update_id", r.UpdateID, "error", r.Err)
			} else {
				util.Logger.Debugw("update handled", "update_id", r.UpdateID, "calls", len(r.Calls))
			}
		}
	}
}

func (p *Poller) loop(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		us, err := p.fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if fatal(err) {
				return err
			}
			wait := p.Opts.Backoff
			var ae *botapi.Error
			if errors.As(err, &ae) && ae.Code == 429 && ae.RetryAfter > 0 {
				wait = time.Duration(ae.RetryAfter) * time.Second
			}
			util.Logger.Warnw("getUpdates failed", "error", err, "wait", wait)
			if err := botapi.Sleep(ctx, wait); err != nil {
				return nil
			}
			continue
		}
		for _, u := range us {
			select {
			case <-ctx.Done():
				return nil
			case p.incoming <- u:
			}
			if err := p.confirm(ctx, u.UpdateID+1); err != nil {
				util.Logger.Warnw("couldn't store offset", "error", err)
			}
		}
	}
}

func (p *Poller) fetch(ctx context.Context) ([]*core.Update, error) {
	return p.API.GetUpdates(ctx, &botapi.UpdatesRequest{
		Offset:         p.Offset(),
		Limit:          p.Opts.Limit,
		Timeout:        p.Opts.Timeout,
		AllowedUpdates: p.Opts.AllowedUpdates,
	})
}

func (p *Poller) confirm(ctx context.Context, offset int64) error {
	p.setOffset(offset)
	if p.Opts.Store == nil {
		return nil
	}
	return p.Opts.Store.Put(ctx, OffsetBucket, p.Opts.Key, []byte(strconv.FormatInt(offset, 10)))
}

// fatal reports errors that retrying cannot fix: a bad token or
// another consumer of the same bot.
func fatal(err error) bool {
	var ae *botapi.Error
	if !errors.As(err, &ae) {
		return false
	}
	return ae.Code == 401 || ae.Code == 409
}

// Stop waits for polling to end.  Cancel the context given to IO
// first.
func (p *Poller) Stop(context.Context) error {
	p.wg.Wait()
	return p.Err()
}
