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

// Package session keeps per-chat data across updates.
//
// The middleware loads the session into the Context before the
// rest of the chain runs, and writes it back afterwards if it
// changed.  Setting it to nil with Context.SetSession deletes the session.
package session

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/Comcast/switchyard/core"
	"github.com/Comcast/switchyard/storage"
	"github.com/Comcast/switchyard/util"
	"github.com/cockroachdb/errors"
)

// DefaultBucket is the storage bucket used when Options.Bucket is
// empty.
var DefaultBucket = "sessions"

type Options struct {
	// Bucket is the storage bucket for sessions.
	Bucket string

	// Key computes the session key for an update.  The default is
	// the chat id.  No key means no session.
	Key func(c *core.Context) (string, bool)

	// Initial gives the session for a key that has none.
	Initial func() map[string]interface{}

	// TTL, if positive, makes sessions expire after that long
	// without being written.
	TTL time.Duration

	// Now is for testing.
	Now func() time.Time
}

// ChatKey is the default session key.
func ChatKey(c *core.Context) (string, bool) {
	chat := c.Chat()
	if chat == nil {
		return "", false
	}
	return strconv.FormatInt(chat.ID, 10), true
}

// record is what is stored.
type record struct {
	Session map[string]interface{} `json:"session"`
	Expires int64                  `json:"expires,omitempty"`
}

// Middleware returns session middleware using the given storage.
// Opts can be nil.
func Middleware(s storage.Storage, opts *Options) core.HandlerFunc {
	if s == nil {
		util.Logger.Warnf("storing session data in memory; all data will be lost when the process stops")
		s = storage.NewMemory()
	}
	o := Options{}
	if opts != nil {
		o = *opts
	}
	if o.Bucket == "" {
		o.Bucket = DefaultBucket
	}
	if o.Key == nil {
		o.Key = ChatKey
	}
	if o.Now == nil {
		o.Now = time.Now
	}

	return func(ctx context.Context, c *core.Context, next core.NextFunc) error {
		key, ok := o.Key(c)
		if !ok {
			return next(ctx)
		}

		var r record
		found, err := storage.GetJSON(ctx, s, o.Bucket, key, &r)
		if err != nil {
			return errors.Wrapf(err, "loading session %s", key)
		}
		expired := found && r.Expires != 0 && r.Expires < o.Now().UnixMilli()
		if expired {
			found = false
			r = record{}
		}

		dirty := false
		if !found || r.Session == nil {
			r.Session = nil
			if o.Initial != nil {
				r.Session = o.Initial()
				dirty = r.Session != nil
			}
		}

		before, err := json.Marshal(r.Session)
		if err != nil {
			return err
		}
		c.SetSession(r.Session)

		if err := next(ctx); err != nil {
			return err
		}

		session := c.Session()
		if session == nil {
			if found || expired {
				return s.Delete(ctx, o.Bucket, key)
			}
			return nil
		}

		after, err := json.Marshal(session)
		if err != nil {
			return errors.Wrapf(err, "encoding session %s", key)
		}
		if !dirty && string(before) == string(after) {
			if expired {
				return s.Delete(ctx, o.Bucket, key)
			}
			return nil
		}

		r = record{Session: session}
		if o.TTL > 0 {
			r.Expires = o.Now().Add(o.TTL).UnixMilli()
		}
		return storage.PutJSON(ctx, s, o.Bucket, key, &r)
	}
}
