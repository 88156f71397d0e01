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
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// NextFunc continues with the rest of the chain.
type NextFunc func(ctx context.Context) error

// HandlerFunc is a middleware function.  It can do its own work, call
// next at most once to run the rest of the chain, and do more work
// after next returns.
type HandlerFunc func(ctx context.Context, c *Context, next NextFunc) error

// Middleware is a HandlerFunc or something that can be turned into
// one, such as a Composer.
type Middleware interface {
	Middleware() HandlerFunc
}

func (h HandlerFunc) Middleware() HandlerFunc {
	return h
}

// Predicate decides whether a branch applies to an update.
type Predicate func(ctx context.Context, c *Context) (bool, error)

// Router picks a route for an update.  The empty string means no
// route.
type Router func(ctx context.Context, c *Context) (string, error)

// Factory picks middleware for one update.
type Factory func(ctx context.Context, c *Context) ([]Middleware, error)

// ErrorHandler gets failures inside an error boundary.  Calling
// resume continues with the chain after the boundary.
type ErrorHandler func(ctx context.Context, err *BotError, resume NextFunc) error

// Pass calls next.
var Pass HandlerFunc = func(ctx context.Context, c *Context, next NextFunc) error {
	return next(ctx)
}

// Run runs the middleware with a terminal continuation.  The last
// middleware's next is guarded like every other.  A panic becomes an
// error.
func Run(ctx context.Context, h HandlerFunc, c *Context) error {
	return protect(func() error {
		var g guard
		err := h(ctx, c, func(context.Context) error {
			return g.enter()
		})
		return g.settle(err)
	})
}

// Invocation is the state of one call of a middleware, as seen by
// the next function given to it.
type Invocation int32

const (
	Idle Invocation = iota
	NextCalled
	Settled
)

func (i Invocation) String() string {
	switch i {
	case Idle:
		return "idle"
	case NextCalled:
		return "next called"
	case Settled:
		return "settled"
	}
	return "unknown"
}

// guard enforces that a next function runs at most once and only
// while its middleware is running.
type guard struct {
	state     atomic.Int32
	violation atomic.Pointer[ProtocolViolation]
}

func (g *guard) enter() error {
	if g.state.CompareAndSwap(int32(Idle), int32(NextCalled)) {
		return nil
	}
	pv := NextCalledTwice
	if Invocation(g.state.Load()) == Settled {
		pv = NextCalledLate
	}
	g.violation.CompareAndSwap(nil, pv)
	return pv
}

// settle marks the middleware as returned.  The violation, if any,
// is returned so that middleware cannot swallow it.
func (g *guard) settle(err error) error {
	g.state.Store(int32(Settled))
	if pv := g.violation.Load(); pv != nil && err == nil {
		return pv
	}
	return err
}

// concat runs first with a next that runs andThen.
func concat(first, andThen HandlerFunc) HandlerFunc {
	return func(ctx context.Context, c *Context, next NextFunc) error {
		var g guard
		err := first(ctx, c, func(ctx context.Context) error {
			if err := g.enter(); err != nil {
				return err
			}
			return andThen(ctx, c, next)
		})
		return g.settle(err)
	}
}

func flatten(m Middleware) HandlerFunc {
	if m == nil {
		misconfiguredf("nil middleware")
	}
	return m.Middleware()
}

// Composer builds a middleware chain.
//
// Registration methods return the Composer for the sub-chain they
// registered, so that more middleware can be added to it.
// Registration is not safe for concurrent use, and must happen before
// updates are processed.
type Composer struct {
	handler HandlerFunc
	sealed  atomic.Bool
}

// NewComposer makes a Composer that runs the given middleware in
// order.
func NewComposer(mws ...Middleware) *Composer {
	c := &Composer{handler: Pass}
	if len(mws) == 0 {
		return c
	}
	h := flatten(mws[0])
	for _, m := range mws[1:] {
		h = concat(h, flatten(m))
	}
	c.handler = h
	return c
}

// Middleware returns the chain.  Middleware registered later still
// takes part.
func (cm *Composer) Middleware() HandlerFunc {
	return func(ctx context.Context, c *Context, next NextFunc) error {
		return cm.handler(ctx, c, next)
	}
}

// Seal makes further registration panic.
func (cm *Composer) Seal() {
	cm.sealed.Store(true)
}

// Use appends middleware to the chain.
func (cm *Composer) Use(mws ...Middleware) *Composer {
	if cm.sealed.Load() {
		misconfiguredf("cannot register middleware after processing has started")
	}
	sub := NewComposer(mws...)
	cm.handler = concat(cm.handler, sub.Middleware())
	return sub
}

// On runs the middleware for updates that match the filter query.
func (cm *Composer) On(query string, mws ...Middleware) *Composer {
	return cm.OnAny([]string{query}, mws...)
}

// OnAny runs the middleware for updates that match any of the filter
// queries.
func (cm *Composer) OnAny(queries []string, mws ...Middleware) *Composer {
	return cm.Filter(HasFilterQuery(queries...).Predicate(), mws...)
}

// Hears runs the middleware when a message's text or caption matches
// the trigger.
func (cm *Composer) Hears(t Trigger, mws ...Middleware) *Composer {
	return cm.Filter(HasText(t).Predicate(), mws...)
}

// Command runs the middleware for the given command, such as "start"
// for "/start".
func (cm *Composer) Command(command string, mws ...Middleware) *Composer {
	return cm.Commands([]string{command}, mws...)
}

func (cm *Composer) Commands(commands []string, mws ...Middleware) *Composer {
	return cm.Filter(HasCommand(commands...).Predicate(), mws...)
}

func (cm *Composer) ChatType(chatType string, mws ...Middleware) *Composer {
	return cm.ChatTypes([]string{chatType}, mws...)
}

func (cm *Composer) ChatTypes(chatTypes []string, mws ...Middleware) *Composer {
	return cm.Filter(HasChatType(chatTypes...).Predicate(), mws...)
}

func (cm *Composer) CallbackQuery(t Trigger, mws ...Middleware) *Composer {
	return cm.Filter(HasCallbackQuery(t).Predicate(), mws...)
}

func (cm *Composer) GameQuery(t Trigger, mws ...Middleware) *Composer {
	return cm.Filter(HasGameQuery(t).Predicate(), mws...)
}

func (cm *Composer) InlineQuery(t Trigger, mws ...Middleware) *Composer {
	return cm.Filter(HasInlineQuery(t).Predicate(), mws...)
}

// Filter runs the middleware only if the predicate holds.  Otherwise
// the chain continues.
func (cm *Composer) Filter(p Predicate, mws ...Middleware) *Composer {
	if p == nil {
		misconfiguredf("nil predicate")
	}
	sub := NewComposer(mws...)
	cm.Branch(p, sub, Pass)
	return sub
}

// Drop runs the middleware only if the predicate does not hold.
func (cm *Composer) Drop(p Predicate, mws ...Middleware) *Composer {
	if p == nil {
		misconfiguredf("nil predicate")
	}
	return cm.Filter(func(ctx context.Context, c *Context) (bool, error) {
		holds, err := p(ctx, c)
		return !holds, err
	}, mws...)
}

// Fork runs the middleware concurrently with the rest of the chain.
// Both must finish before this middleware is done.  The first error
// from either cancels the other's context.
func (cm *Composer) Fork(mws ...Middleware) *Composer {
	sub := NewComposer(mws...)
	fork := sub.Middleware()
	cm.Use(HandlerFunc(func(ctx context.Context, c *Context, next NextFunc) error {
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return protect(func() error { return next(gctx) })
		})
		g.Go(func() error {
			return protect(func() error { return Run(gctx, fork, c) })
		})
		return g.Wait()
	}))
	return sub
}

// Lazy asks the factory for middleware for each update.
func (cm *Composer) Lazy(f Factory) *Composer {
	if f == nil {
		misconfiguredf("nil factory")
	}
	return cm.Use(HandlerFunc(func(ctx context.Context, c *Context, next NextFunc) error {
		mws, err := f(ctx, c)
		if err != nil {
			return err
		}
		for _, m := range mws {
			if m == nil {
				return &ProtocolViolation{"factory returned nil middleware"}
			}
		}
		return NewComposer(mws...).handler(ctx, c, next)
	}))
}

// Route runs the middleware the router picks.  If the router picks
// nothing, or something not in the table, the fallback runs.  A nil
// fallback passes.
func (cm *Composer) Route(r Router, table map[string]Middleware, fallback Middleware) *Composer {
	if r == nil {
		misconfiguredf("nil router")
	}
	if fallback == nil {
		fallback = Pass
	}
	return cm.Lazy(func(ctx context.Context, c *Context) ([]Middleware, error) {
		key, err := r(ctx, c)
		if err != nil {
			return nil, err
		}
		if m, have := table[key]; have && key != "" && m != nil {
			return []Middleware{m}, nil
		}
		return []Middleware{fallback}, nil
	})
}

// Branch runs onTrue if the predicate holds and onFalse otherwise.
// A nil branch passes.
func (cm *Composer) Branch(p Predicate, onTrue, onFalse Middleware) *Composer {
	if p == nil {
		misconfiguredf("nil predicate")
	}
	if onTrue == nil {
		onTrue = Pass
	}
	if onFalse == nil {
		onFalse = Pass
	}
	return cm.Lazy(func(ctx context.Context, c *Context) ([]Middleware, error) {
		holds, err := p(ctx, c)
		if err != nil {
			return nil, err
		}
		if holds {
			return []Middleware{onTrue}, nil
		}
		return []Middleware{onFalse}, nil
	})
}

// ErrorBoundary runs the middleware and hands any failure to the
// handler.  The chain after the boundary continues only if the
// middleware called its next without failing, or if the handler
// called resume.  Protocol violations pass through the boundary.
func (cm *Composer) ErrorBoundary(h ErrorHandler, mws ...Middleware) *Composer {
	if h == nil {
		misconfiguredf("nil error handler")
	}
	sub := NewComposer(mws...)
	bound := sub.Middleware()
	cm.Use(HandlerFunc(func(ctx context.Context, c *Context, next NextFunc) error {
		var nextCalled atomic.Bool
		cont := func(g *guard) NextFunc {
			return func(context.Context) error {
				if err := g.enter(); err != nil {
					return err
				}
				nextCalled.Store(true)
				return nil
			}
		}
		var chain, resume guard
		err := protect(func() error { return bound(ctx, c, cont(&chain)) })
		err = chain.settle(err)
		if err != nil {
			if IsProtocolViolation(err) {
				return err
			}
			nextCalled.Store(false)
			err := h(ctx, NewBotError(err, c), cont(&resume))
			if err = resume.settle(err); err != nil {
				return err
			}
		}
		if nextCalled.Load() {
			return next(ctx)
		}
		return nil
	}))
	return sub
}
