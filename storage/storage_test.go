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
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	got, err := s.Get(ctx, "b", "k")
	require.NoError(t, err)
	assert.Nil(t, got)

	val := []byte("v")
	require.NoError(t, s.Put(ctx, "b", "k", val))
	val[0] = 'x'
	got, err = s.Get(ctx, "b", "k")
	require.NoError(t, err)
	assert.Equal(t, "v", string(got))

	require.NoError(t, s.Delete(ctx, "b", "k"))
	require.NoError(t, s.Delete(ctx, "nope", "k"))
	got, err = s.Get(ctx, "b", "k")
	require.NoError(t, err)
	assert.Nil(t, got)

	var zero Memory
	require.NoError(t, zero.Put(ctx, "b", "k", val))
}

func TestGetJSONAbsent(t *testing.T) {
	var x interface{}
	found, err := GetJSON(context.Background(), NewMemory(), "b", "k", &x)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestJSONFile(t *testing.T) {
	ctx := context.Background()
	filename := filepath.Join(t.TempDir(), "state.json")

	s := NewJSONFile(filename)
	require.NoError(t, s.Read(ctx))
	s.WritePerChange = true
	require.NoError(t, PutJSON(ctx, s, "offsets", "poll", 17))

	s = NewJSONFile(filename)
	require.NoError(t, s.Read(ctx))
	var offset int
	found, err := GetJSON(ctx, s, "offsets", "poll", &offset)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 17, offset)

	require.NoError(t, s.Delete(ctx, "offsets", "poll"))
	require.NoError(t, s.Write(ctx))

	s = NewJSONFile(filename)
	require.NoError(t, s.Read(ctx))
	found, err = GetJSON(ctx, s, "offsets", "poll", &offset)
	require.NoError(t, err)
	assert.False(t, found)
}
