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

// Package botapi is a client for the platform's HTTP bot API.
//
// Every method is a JSON POST to <root>/bot<token>/<method>.  The
// response is an envelope that either holds the result or describes
// an error.
package botapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Comcast/switchyard/core"
	"github.com/Comcast/switchyard/util"
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// DefaultRoot is the public API server.
const DefaultRoot = "https://api.telegram.org"

// Error is an error response from the API.
type Error struct {
	Method      string
	Code        int    `json:"error_code"`
	Description string `json:"description"`
	RetryAfter  int    `json:"retry_after,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("Call to '%s' failed! (%d: %s)", e.Method, e.Code, e.Description)
}

func (e *Error) Kind() string {
	return "ApiError"
}

// HTTPError is a failure to talk to the API at all.
type HTTPError struct {
	Method string
	Err    error
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("Network request for '%s' failed! %s", e.Method, e.Err)
}

func (e *HTTPError) Unwrap() error {
	return e.Err
}

func (e *HTTPError) Kind() string {
	return "HttpError"
}

type envelope struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	ErrorCode   int             `json:"error_code"`
	Description string          `json:"description"`
	Parameters  *struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
}

// Client calls the API.  It implements core.API.
type Client struct {
	Token string
	Root  string

	// HTTP is the underlying HTTP client.
	HTTP *http.Client

	// Limiter, if not nil, paces outgoing calls.
	Limiter *rate.Limiter

	Logger *zap.SugaredLogger
}

var _ core.API = (*Client)(nil)

// NewClient makes a client with a 500 second request timeout, which
// accommodates long polling.
//
// The root can be empty for DefaultRoot.  It must not end with '/'.
func NewClient(token, root string) (*Client, error) {
	if token == "" {
		return nil, errors.New("Empty token!")
	}
	if root == "" {
		root = DefaultRoot
	}
	if strings.HasSuffix(root, "/") {
		return nil, errors.Newf("Remove the trailing '/' from the API root (use '%s' instead of '%s')",
			strings.TrimSuffix(root, "/"), root)
	}
	return &Client{
		Token: token,
		Root:  root,
		HTTP: &http.Client{
			Timeout: 500 * time.Second,
		},
	}, nil
}

func (c *Client) logger() *zap.SugaredLogger {
	return util.Or(c.Logger)
}

// URL is where the method is posted.
func (c *Client) URL(method string) string {
	return c.Root + "/bot" + c.Token + "/" + method
}

// Call posts the params as JSON and decodes the result into result,
// which can be nil.
func (c *Client) Call(ctx context.Context, method string, params, result interface{}) error {
	if c.Limiter != nil {
		if err := c.Limiter.Wait(ctx); err != nil {
			return err
		}
	}

	if params == nil {
		params = map[string]interface{}{}
	}
	body, err := json.Marshal(params)
	if err != nil {
		return errors.Wrapf(err, "encoding params for %s", method)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL(method), bytes.NewReader(body))
	if err != nil {
		return errors.Wrapf(err, "request for %s", method)
	}
	req.Header.Set("Content-Type", "application/json")

	c.logger().Debugw("api call", "method", method)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return &HTTPError{Method: method, Err: err}
	}
	defer resp.Body.Close()

	js, err := io.ReadAll(resp.Body)
	if err != nil {
		return &HTTPError{Method: method, Err: err}
	}

	var env envelope
	if err := json.Unmarshal(js, &env); err != nil {
		return &HTTPError{Method: method, Err: errors.Newf("%d: %s", resp.StatusCode, resp.Status)}
	}

	if !env.OK {
		e := &Error{
			Method:      method,
			Code:        env.ErrorCode,
			Description: env.Description,
		}
		if env.Parameters != nil {
			e.RetryAfter = env.Parameters.RetryAfter
		}
		return e
	}

	if result == nil {
		return nil
	}
	return errors.Wrapf(json.Unmarshal(env.Result, result), "decoding result of %s", method)
}

// GetMe asks for the bot's identity.
func (c *Client) GetMe(ctx context.Context) (*core.User, error) {
	var me core.User
	if err := c.Call(ctx, "getMe", nil, &me); err != nil {
		return nil, err
	}
	return &me, nil
}

// UpdatesRequest are the parameters of getUpdates.
type UpdatesRequest struct {
	Offset         int64    `json:"offset,omitempty"`
	Limit          int      `json:"limit,omitempty"`
	Timeout        int      `json:"timeout,omitempty"`
	AllowedUpdates []string `json:"allowed_updates,omitempty"`
}

// GetUpdates long-polls for updates.
func (c *Client) GetUpdates(ctx context.Context, r *UpdatesRequest) ([]*core.Update, error) {
	var us []*core.Update
	if err := c.Call(ctx, "getUpdates", r, &us); err != nil {
		return nil, err
	}
	return us, nil
}

// DeleteWebhook turns off webhook delivery, which is required for
// long polling.
func (c *Client) DeleteWebhook(ctx context.Context, dropPending bool) error {
	return c.Call(ctx, "deleteWebhook", map[string]interface{}{"drop_pending_updates": dropPending}, nil)
}
