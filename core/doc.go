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


// Package core provides the runtime that routes updates through
// middleware.
//
// A middleware is a function of a Context and a next function.  It
// can do some work, call next to run the rest of the chain, and do
// more work after next returns.  Calling next more than once is a
// ProtocolViolation.
//
// A Composer builds a chain.  Besides plain sequencing (Use), a
// Composer can filter (Filter, Drop, and the named filters On, Hears,
// Command, ChatType, CallbackQuery, GameQuery, InlineQuery), branch
// (Branch, Route, Lazy), run a sub-chain concurrently with the rest
// of the chain (Fork), and contain failures (ErrorBoundary).
//
// Registration mistakes such as a bad filter query are found when
// middleware is registered.  They panic with a ConfigurationError.
// Use CatchConfiguration to get them as errors.
//
// Failures while processing an update are plain errors.  A bot wraps
// them in a BotError, which carries the Context.
package core
