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

// Package bolt is a storage.Storage backed by a bbolt database.  Each
// storage bucket is a bbolt bucket.
package bolt

import (
	"context"
	"time"

	"github.com/Comcast/switchyard/util"
	"github.com/cockroachdb/errors"
	bolt "go.etcd.io/bbolt"
)

type Storage struct {
	Debug    bool
	filename string
	db       *bolt.DB
}

func NewStorage(filename string) (*Storage, error) {
	if filename == "" {
		return nil, errors.New("no filename for bolt storage")
	}
	return &Storage{
		filename: filename,
	}, nil
}

// Open opens the database, waiting at most a second for its file
// lock.
func (s *Storage) Open(ctx context.Context) error {
	opts := &bolt.Options{
		Timeout: time.Second,
	}

	db, err := bolt.Open(s.filename, 0644, opts)
	if err != nil {
		return errors.Wrapf(err, "opening %s", s.filename)
	}
	s.db = db
	return nil
}

func (s *Storage) Close(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Storage) logf(format string, args ...interface{}) {
	if s.Debug {
		util.Logger.Debugf("bolt storage "+format, args...)
	}
}

func (s *Storage) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	s.logf("Get %s %s", bucket, key)
	var val []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return nil
		}
		if bs := b.Get([]byte(key)); bs != nil {
			// Only valid during the transaction.
			val = append([]byte(nil), bs...)
		}
		return nil
	})
	return val, err
}

func (s *Storage) Put(ctx context.Context, bucket, key string, val []byte) error {
	s.logf("Put %s %s %s", bucket, key, val)
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(bucket))
		if err != nil {
			return err
		}
		return b.Put([]byte(key), val)
	})
}

func (s *Storage) Delete(ctx context.Context, bucket, key string) error {
	s.logf("Delete %s %s", bucket, key)
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return nil
		}
		return b.Delete([]byte(key))
	})
}

// Keys lists the keys in a bucket.
func (s *Storage) Keys(ctx context.Context, bucket string) ([]string, error) {
	acc := make([]string, 0, 32)
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			acc = append(acc, string(k))
		}
		return nil
	})
	return acc, err
}

// RemBucket removes a whole bucket.
func (s *Storage) RemBucket(ctx context.Context, bucket string) error {
	s.logf("RemBucket %s", bucket)
	return s.db.Update(func(tx *bolt.Tx) error {
		err := tx.DeleteBucket([]byte(bucket))
		if errors.Is(err, bolt.ErrBucketNotFound) {
			return nil
		}
		return err
	})
}
