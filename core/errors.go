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

// ConfigurationErrors are user errors found while registering
// middleware.  They are raised by panicking at the call site.
//
// BotErrors are failures while processing an update.
//
// ProtocolViolations are defects in middleware: they are never
// handed to an error boundary.

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// ConfigurationError reports misuse found at registration time, such
// as a bad filter query or a command with a leading '/'.
type ConfigurationError struct {
	Err error
}

func (e *ConfigurationError) Error() string {
	return e.Err.Error()
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// misconfigured panics with a ConfigurationError.
func misconfigured(err error) {
	panic(&ConfigurationError{Err: err})
}

func misconfiguredf(format string, args ...interface{}) {
	misconfigured(errors.Newf(format, args...))
}

// CatchConfiguration runs f and returns the ConfigurationError it
// panicked with, if any.  Other panics are not recovered.
func CatchConfiguration(f func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			ce, is := r.(*ConfigurationError)
			if !is {
				panic(r)
			}
			err = ce
		}
	}()
	f()
	return nil
}

// ProtocolViolation reports a defect in middleware, such as calling
// next twice.
type ProtocolViolation struct {
	Msg string
}

func (e *ProtocolViolation) Error() string {
	return e.Msg
}

// IsProtocolViolation reports whether err is or wraps a
// ProtocolViolation or an assertion failure.
func IsProtocolViolation(err error) bool {
	var pv *ProtocolViolation
	return errors.As(err, &pv) || errors.HasAssertionFailure(err)
}

var (
	// NextCalledTwice occurs when a middleware calls its next a
	// second time.
	NextCalledTwice = &ProtocolViolation{"`next` already called before!"}

	// NextCalledLate occurs when a middleware calls its next after
	// it has returned.
	NextCalledLate = &ProtocolViolation{"`next` called after the middleware returned"}
)

// PanicValue holds a recovered panic value that was not an error.
type PanicValue struct {
	Value interface{}
}

func (e *PanicValue) Error() string {
	msg := fmt.Sprintf("Non-error value of type %T thrown in middleware", e.Value)
	switch vv := e.Value.(type) {
	case bool, int, int64, float64, uint, uint64:
		return fmt.Sprintf("%s: %v", msg, vv)
	case string:
		if len(vv) > 50 {
			vv = vv[:50]
		}
		return msg + ": " + vv
	default:
		return msg + "!"
	}
}

// asError turns a recovered value into an error.
func asError(r interface{}) error {
	if err, is := r.(error); is {
		return err
	}
	return &PanicValue{Value: r}
}

// protect calls f and converts a panic into an error.
func protect(f func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = asError(r)
		}
	}()
	return f()
}

// BotError is a middleware failure together with the Context of the
// update that was being processed.
type BotError struct {
	Err error
	Ctx *Context
}

// NewBotError wraps err unless it is already a BotError.
func NewBotError(err error, c *Context) *BotError {
	var be *BotError
	if errors.As(err, &be) {
		return be
	}
	return &BotError{Err: err, Ctx: c}
}

func (e *BotError) Error() string {
	var pv *PanicValue
	if errors.As(e.Err, &pv) {
		return pv.Error()
	}
	return kind(e.Err) + " in middleware: " + e.Err.Error()
}

func (e *BotError) Unwrap() error {
	return e.Err
}

// Kinded errors name their kind in BotError messages.
type Kinded interface {
	Kind() string
}

func kind(err error) string {
	var k Kinded
	if errors.As(err, &k) {
		return k.Kind()
	}
	return "Error"
}
