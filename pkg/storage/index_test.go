/**
 * Copyright 2021 The GlacierSQL Authors. All rights reserved.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *      https://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package storage

import (
	"errors"
	"testing"

	"github.com/dr0pdb/glaciersql/internal/common"
	"github.com/dr0pdb/glaciersql/pkg/frontend"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndexAddRemoveLookup(t *testing.T) {
	idx := NewIndex("idx_t_c", "c", false)

	require.NoError(t, idx.Add(frontend.NewTextValue("x"), 3))
	require.NoError(t, idx.Add(frontend.NewTextValue("x"), 1))
	require.NoError(t, idx.Add(frontend.NewTextValue("y"), 2))

	assert.Equal(t, []uint64{1, 3}, idx.LookupEq(frontend.NewTextValue("x")), "rids come back sorted")
	assert.Equal(t, []uint64{2}, idx.LookupEq(frontend.NewTextValue("y")))
	assert.Empty(t, idx.LookupEq(frontend.NewTextValue("unknown")), "unknown key yields the empty set")

	idx.Remove(frontend.NewTextValue("x"), 1)
	assert.Equal(t, []uint64{3}, idx.LookupEq(frontend.NewTextValue("x")))

	idx.Remove(frontend.NewTextValue("x"), 3)
	assert.False(t, idx.Contains(frontend.NewTextValue("x")), "empty sets are dropped")
	assert.Equal(t, 1, idx.Len())

	idx.Remove(frontend.NewTextValue("gone"), 9) // unknown entry is a no-op
}

func TestIndexSkipsNulls(t *testing.T) {
	idx := NewIndex("idx_t_c", "c", false)

	require.NoError(t, idx.Add(frontend.NewNullValue(), 1))
	assert.Equal(t, 0, idx.Len(), "null values are never indexed")
	assert.Empty(t, idx.LookupEq(frontend.NewNullValue()))
	assert.False(t, idx.Contains(frontend.NewNullValue()))
}

func TestUniqueIndexRejectsSecondRid(t *testing.T) {
	idx := NewIndex("pk_id", "id", true)

	require.NoError(t, idx.Add(frontend.NewIntegerValue(1), 1))
	require.NoError(t, idx.Add(frontend.NewIntegerValue(1), 1), "re-adding the same rid is fine")

	err := idx.Add(frontend.NewIntegerValue(1), 2)
	var cve common.ConstraintViolationError
	require.True(t, errors.As(err, &cve), "expected a ConstraintViolation, got %v", err)

	assert.Equal(t, []uint64{1}, idx.LookupEq(frontend.NewIntegerValue(1)), "failed add leaves the index unchanged")
}

func TestIndexEntriesSnapshot(t *testing.T) {
	idx := NewIndex("idx", "c", false)
	require.NoError(t, idx.Add(frontend.NewIntegerValue(1), 10))
	require.NoError(t, idx.Add(frontend.NewIntegerValue(1), 11))
	require.NoError(t, idx.Add(frontend.NewIntegerValue(2), 12))

	entries := idx.Entries()
	assert.Equal(t, map[frontend.Value][]uint64{
		frontend.NewIntegerValue(1): {10, 11},
		frontend.NewIntegerValue(2): {12},
	}, entries)
}
