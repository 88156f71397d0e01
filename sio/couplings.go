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

// Package sio couples a bot to the outside world: where updates come
// from and where the results of processing them go.
package sio

import (
	"context"

	"github.com/Comcast/switchyard/core"
)

// Couplings provide channels for update input and results output.
//
// For example, an implementation could couple a bot to an MQTT
// broker or to the platform's long polling API.
type Couplings interface {
	// Start initializes the Couplings.
	Start(context.Context) error

	// IO returns the input and result channels, and a channel that
	// is closed when there is no more input.
	IO(context.Context) (chan *core.Update, chan *Result, chan bool, error)

	// Stop shuts down the Couplings.
	Stop(context.Context) error
}
