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

package storage

import (
	"context"
	"encoding/json"
	"os"

	"github.com/cockroachdb/errors"
)

// JSONFile is a Memory that is crudely written to a file as JSON.
//
// Not glamorous or efficient.
type JSONFile struct {
	*Memory

	// Filename is where state is read from and written to.
	Filename string

	// WritePerChange writes the whole file after every Put and
	// Delete.  Otherwise only Write does.
	WritePerChange bool
}

func NewJSONFile(filename string) *JSONFile {
	return &JSONFile{
		Memory:   NewMemory(),
		Filename: filename,
	}
}

// Read loads the file if it exists.
func (s *JSONFile) Read(ctx context.Context) error {
	js, err := os.ReadFile(s.Filename)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	s.Lock()
	defer s.Unlock()
	return errors.Wrapf(json.Unmarshal(js, s.Memory), "reading %s", s.Filename)
}

// Write writes all state.
func (s *JSONFile) Write(ctx context.Context) error {
	s.Lock()
	js, err := json.MarshalIndent(s.Memory, "", "  ")
	s.Unlock()
	if err != nil {
		return err
	}
	return os.WriteFile(s.Filename, js, 0644)
}

func (s *JSONFile) Put(ctx context.Context, bucket, key string, val []byte) error {
	if err := s.Memory.Put(ctx, bucket, key, val); err != nil {
		return err
	}
	if s.WritePerChange {
		return s.Write(ctx)
	}
	return nil
}

func (s *JSONFile) Delete(ctx context.Context, bucket, key string) error {
	if err := s.Memory.Delete(ctx, bucket, key); err != nil {
		return err
	}
	if s.WritePerChange {
		return s.Write(ctx)
	}
	return nil
}
