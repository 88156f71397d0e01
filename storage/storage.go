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

// Package storage provides simple key/value persistence for
// sessions and polling offsets.
package storage

import (
	"context"
	"encoding/json"
	"sync"
)

// Storage is a persistence interface grouped by bucket.
type Storage interface {
	// Get returns nil (and no error) if the key is absent.
	Get(ctx context.Context, bucket, key string) ([]byte, error)

	Put(ctx context.Context, bucket, key string, val []byte) error

	// Delete does not complain if the key is absent.
	Delete(ctx context.Context, bucket, key string) error
}

// GetJSON gets a value and decodes it into x.  Returns false if there
// is no value.
func GetJSON(ctx context.Context, s Storage, bucket, key string, x interface{}) (bool, error) {
	js, err := s.Get(ctx, bucket, key)
	if err != nil || js == nil {
		return false, err
	}
	return true, json.Unmarshal(js, x)
}

// PutJSON encodes x and puts it.
func PutJSON(ctx context.Context, s Storage, bucket, key string, x interface{}) error {
	js, err := json.Marshal(&x)
	if err != nil {
		return err
	}
	return s.Put(ctx, bucket, key, js)
}

// Memory is an in-memory Storage.
type Memory struct {
	sync.Mutex

	Buckets map[string]map[string][]byte `json:"buckets"`
}

func NewMemory() *Memory {
	return &Memory{
		Buckets: make(map[string]map[string][]byte),
	}
}

func (s *Memory) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	s.Lock()
	defer s.Unlock()
	val, have := s.Buckets[bucket][key]
	if !have {
		return nil, nil
	}
	return append([]byte(nil), val...), nil
}

func (s *Memory) Put(ctx context.Context, bucket, key string, val []byte) error {
	s.Lock()
	defer s.Unlock()
	if s.Buckets == nil {
		s.Buckets = make(map[string]map[string][]byte)
	}
	b, have := s.Buckets[bucket]
	if !have {
		b = make(map[string][]byte)
		s.Buckets[bucket] = b
	}
	b[key] = append([]byte(nil), val...)
	return nil
}

func (s *Memory) Delete(ctx context.Context, bucket, key string) error {
	s.Lock()
	defer s.Unlock()
	delete(s.Buckets[bucket], key)
	return nil
}
