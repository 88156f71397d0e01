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
	"sync"

	"github.com/Comcast/switchyard/core"
)

// Call is an API call made while processing an update.
type Call struct {
	Method string      `json:"method"`
	Params interface{} `json:"params,omitempty"`
}

// Result represents all visible output from processing an update.
type Result struct {
	UpdateID int64  `json:"update_id"`
	Calls    []Call `json:"calls,omitempty"`
	Err      string `json:"error,omitempty"`
}

// Recorder is a core.API that records calls before passing them on
// to its API.
//
// Without an API, calls succeed and their results come from Canned,
// which maps a method to a JSON result.  That's useful for offline
// runs and tests.
type Recorder struct {
	sync.Mutex

	API    core.API
	Canned map[string]string

	calls []Call
}

var _ core.API = (*Recorder)(nil)

func NewRecorder(api core.API) *Recorder {
	return &Recorder{
		API:    api,
		Canned: make(map[string]string),
		calls:  make([]Call, 0, 8),
	}
}

func (r *Recorder) Call(ctx context.Context, method string, params, result interface{}) error {
	r.Lock()
	r.calls = append(r.calls, Call{Method: method, Params: params})
	canned, have := r.Canned[method]
	r.Unlock()

	if r.API != nil {
		return r.API.Call(ctx, method, params, result)
	}
	if have && result != nil {
		return json.Unmarshal([]byte(canned), result)
	}
	return nil
}

// Take returns the calls recorded so far and forgets them.
func (r *Recorder) Take() []Call {
	r.Lock()
	defer r.Unlock()
	acc := r.calls
	r.calls = make([]Call, 0, 8)
	return acc
}
