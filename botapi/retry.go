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

package botapi

import (
	"context"
	"time"

	"github.com/Comcast/switchyard/util"
	"github.com/cockroachdb/errors"
)

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// WithRetries runs the task until it succeeds.  Network failures and
// server errors are retried immediately.  Rate limiting is retried
// after the time the server asks for.  Other errors are returned.
func WithRetries[T any](ctx context.Context, task func(context.Context) (T, error)) (T, error) {
	for {
		x, err := task(ctx)
		if err == nil {
			return x, nil
		}
		util.Logger.Warnw("retrying", "error", err)

		if ctx.Err() != nil {
			return x, err
		}

		var he *HTTPError
		if errors.As(err, &he) {
			continue
		}

		var ae *Error
		if errors.As(err, &ae) {
			if ae.Code >= 500 {
				continue
			}
			if ae.Code == 429 {
				if ae.RetryAfter > 0 {
					if err := Sleep(ctx, time.Duration(ae.RetryAfter)*time.Second); err != nil {
						return x, err
					}
				}
				continue
			}
		}
		return x, err
	}
}
