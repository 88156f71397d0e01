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

// Package bot runs a middleware tree over a stream of updates.
//
// A Bot is a core.Composer plus the bot's identity, an error handler,
// and a loop that takes updates from sio.Couplings one at a time.
package bot

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/Comcast/switchyard/botapi"
	"github.com/Comcast/switchyard/core"
	"github.com/Comcast/switchyard/sio"
	"github.com/Comcast/switchyard/util"
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

// ErrorHandler handles a middleware failure.  Returning an error
// stops a running bot.
type ErrorHandler func(ctx context.Context, err *core.BotError) error

// ErrNotInitialized is returned for updates that arrive before the
// bot knows who it is.
var ErrNotInitialized = errors.New("Bot information unavailable! Make sure to call Init before handling updates!")

// ErrNoUpdate is returned when asked to handle a nil update.
var ErrNoUpdate = errors.New("no update")

type Bot struct {
	*core.Composer

	// API is how middleware reaches the platform.
	API core.API

	mu      sync.Mutex
	me      *core.User
	handler ErrorHandler
	logger  *zap.SugaredLogger

	lastTried atomic.Int64

	cancel  context.CancelFunc
	stopped chan struct{}
}

type Option func(*Bot)

// WithBotInfo gives the bot its identity, so Init doesn't need to
// ask for it.
func WithBotInfo(me *core.User) Option {
	return func(b *Bot) {
		b.me = me
	}
}

func WithLogger(l *zap.SugaredLogger) Option {
	return func(b *Bot) {
		b.logger = l
	}
}

func WithErrorHandler(h ErrorHandler) Option {
	return func(b *Bot) {
		b.handler = h
	}
}

func New(api core.API, opts ...Option) *Bot {
	b := &Bot{
		Composer: core.NewComposer(),
		API:      api,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.handler == nil {
		b.handler = b.defaultErrorHandler
	}
	return b
}

func (b *Bot) log() *zap.SugaredLogger {
	return util.Or(b.logger)
}

func (b *Bot) defaultErrorHandler(ctx context.Context, err *core.BotError) error {
	b.log().Errorw("error in middleware while handling update",
		"update_id", err.Ctx.UpdateID(),
		"error", err)
	return err
}

// Catch replaces the error handler.
func (b *Bot) Catch(h ErrorHandler) {
	b.mu.Lock()
	b.handler = h
	b.mu.Unlock()
}

func (b *Bot) errorHandler() ErrorHandler {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.handler
}

// Me is the bot's identity, or nil before Init.
func (b *Bot) Me() *core.User {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.me
}

// Init fetches the bot's identity with getMe unless it's already
// known.
func (b *Bot) Init(ctx context.Context) error {
	if b.Me() != nil {
		return nil
	}
	if b.API == nil {
		return errors.New("no API to ask for bot information")
	}

	b.log().Debugw("initializing bot")
	me, err := botapi.WithRetries(ctx, func(ctx context.Context) (*core.User, error) {
		var u core.User
		if err := b.API.Call(ctx, "getMe", nil, &u); err != nil {
			return nil, err
		}
		return &u, nil
	})
	if err != nil {
		return err
	}

	b.mu.Lock()
	if b.me == nil {
		b.me = me
	}
	b.mu.Unlock()

	b.log().Infow("bot initialized", "username", me.Username)
	return nil
}

// LastTriedUpdateID is the id of the most recent update that
// HandleUpdates began to process.
func (b *Bot) LastTriedUpdateID() int64 {
	return b.lastTried.Load()
}

// HandleUpdate runs the middleware for one update.  A failure is
// returned as a *core.BotError, except for protocol violations, which
// are returned as they are.
func (b *Bot) HandleUpdate(ctx context.Context, u *core.Update) error {
	return b.handle(ctx, u, b.API)
}

func (b *Bot) handle(ctx context.Context, u *core.Update, api core.API) error {
	if u == nil {
		return ErrNoUpdate
	}
	me := b.Me()
	if me == nil {
		return ErrNotInitialized
	}

	b.log().Debugw("processing update", "update_id", u.UpdateID)

	c := core.NewContext(u, api, me)
	err := core.Run(ctx, b.Middleware(), c)
	if err == nil || core.IsProtocolViolation(err) {
		return err
	}
	return core.NewBotError(err, c)
}

// HandleUpdates processes updates in order, one at a time.  A
// BotError goes to the error handler.  Any other failure, or one the
// error handler returns, stops processing and is returned.
func (b *Bot) HandleUpdates(ctx context.Context, us []*core.Update) error {
	for _, u := range us {
		if u == nil {
			return ErrNoUpdate
		}
		b.lastTried.Store(u.UpdateID)
		if err := b.dispatch(ctx, b.HandleUpdate(ctx, u)); err != nil {
			return err
		}
	}
	return nil
}

func (b *Bot) dispatch(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	var be *core.BotError
	if !errors.As(err, &be) {
		return err
	}
	return b.errorHandler()(ctx, be)
}

// Run processes updates from the couplings until input ends, ctx is
// done, Stop is called, or the error handler returns an error.
//
// Each update is processed completely, and its Result sent, before
// the next one is taken.  Registering middleware after Run has begun
// panics.
func (b *Bot) Run(ctx context.Context, couplings sio.Couplings) error {
	b.Seal()

	ctx, cancel := context.WithCancel(ctx)
	stopped := make(chan struct{})
	defer close(stopped)
	defer cancel()

	b.mu.Lock()
	if b.cancel != nil {
		b.mu.Unlock()
		return errors.New("bot is already running")
	}
	b.cancel, b.stopped = cancel, stopped
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		b.cancel, b.stopped = nil, nil
		b.mu.Unlock()
	}()

	if err := b.Init(ctx); err != nil {
		return err
	}

	if err := couplings.Start(ctx); err != nil {
		return err
	}

	in, out, done, err := couplings.IO(ctx)
	if err != nil {
		return err
	}

	err = b.loop(ctx, in, out, done)
	cancel()
	if serr := couplings.Stop(context.Background()); serr != nil && err == nil {
		err = serr
	}
	return err
}

func (b *Bot) loop(ctx context.Context, in chan *core.Update, out chan *sio.Result, done chan bool) error {
	b.log().Infow("bot loop starting")
	defer b.log().Infow("bot loop done")

	for {
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return nil
		case u := <-in:
			if u == nil {
				return nil
			}
			b.lastTried.Store(u.UpdateID)

			rec := sio.NewRecorder(b.API)
			herr := b.handle(ctx, u, rec)
			r := &sio.Result{
				UpdateID: u.UpdateID,
				Calls:    rec.Take(),
			}
			if herr != nil {
				r.Err = herr.Error()
			}

			select {
			case <-ctx.Done():
			case out <- r:
			}

			if err := b.dispatch(ctx, herr); err != nil {
				return err
			}
		}
	}
}

// PollOptions configure Start.
type PollOptions struct {
	sio.PollOptions

	// DropPendingUpdates discards updates that arrived while the
	// bot wasn't running.
	DropPendingUpdates bool
}

// Start runs the bot with long polling.  It returns when Stop is
// called, ctx is done, or polling fails for good.
func (b *Bot) Start(ctx context.Context, opts PollOptions) error {
	if err := b.Init(ctx); err != nil {
		return err
	}

	_, err := botapi.WithRetries(ctx, func(ctx context.Context) (bool, error) {
		var ok bool
		return ok, b.API.Call(ctx, "deleteWebhook", core.Params{
			"drop_pending_updates": opts.DropPendingUpdates,
		}, &ok)
	})
	if err != nil {
		return err
	}

	p := sio.NewPoller(&updater{b.API}, opts.PollOptions)
	return b.Run(ctx, p)
}

// Stop stops a running bot and waits for it to finish the update it
// is working on.
func (b *Bot) Stop() {
	b.mu.Lock()
	cancel, stopped := b.cancel, b.stopped
	b.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-stopped
}

// updater gets updates through a plain API.
type updater struct {
	api core.API
}

func (u *updater) GetUpdates(ctx context.Context, r *botapi.UpdatesRequest) ([]*core.Update, error) {
	var us []*core.Update
	if err := u.api.Call(ctx, "getUpdates", r, &us); err != nil {
		return nil, err
	}
	return us, nil
}
