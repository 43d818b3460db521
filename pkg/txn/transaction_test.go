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

package txn

import (
	"errors"
	"fmt"
	"testing"

	"github.com/dr0pdb/glaciersql/internal/common"
	"github.com/dr0pdb/glaciersql/pkg/frontend"
	"github.com/dr0pdb/glaciersql/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNestedBeginFails(t *testing.T) {
	m := NewManager()
	require.NoError(t, m.Begin())

	err := m.Begin()
	var te common.TransactionError
	require.True(t, errors.As(err, &te), "expected a TransactionError, got %v", err)
	assert.True(t, m.Active(), "the original transaction stays open")
}

func TestLogIsNoOpWhileIdle(t *testing.T) {
	m := NewManager()

	m.LogInsert("users", 1)
	m.LogUpdate("users", 1, storage.Row{frontend.NewIntegerValue(1)})
	m.LogDelete("users", 1, storage.Row{frontend.NewIntegerValue(1)})

	assert.Equal(t, 0, m.Size(), "auto-committed mutations retain no undo entries")
}

func TestCommitDiscardsLog(t *testing.T) {
	m := NewManager()
	require.NoError(t, m.Begin())
	m.LogInsert("users", 1)
	m.LogInsert("users", 2)

	assert.True(t, m.Commit())
	assert.False(t, m.Active())
	assert.Equal(t, 0, m.Size())

	assert.False(t, m.Commit(), "COMMIT while idle is a no-op, not an error")
}

func TestRollbackAppliesInReverseOrder(t *testing.T) {
	m := NewManager()
	require.NoError(t, m.Begin())
	m.LogInsert("users", 1)
	m.LogInsert("users", 2)
	m.LogDelete("users", 3, storage.Row{frontend.NewIntegerValue(3)})

	var applied []uint64
	count, wasActive, err := m.Rollback(func(e UndoEntry) error {
		applied = append(applied, e.Rid)
		return nil
	})

	require.NoError(t, err)
	assert.True(t, wasActive)
	assert.Equal(t, 3, count)
	assert.Equal(t, []uint64{3, 2, 1}, applied, "entries are drained in reverse order")
	assert.False(t, m.Active())
}

func TestRollbackWhileIdleIsNoOp(t *testing.T) {
	m := NewManager()

	count, wasActive, err := m.Rollback(func(e UndoEntry) error {
		t.Fatal("apply must not be called")
		return nil
	})
	require.NoError(t, err)
	assert.False(t, wasActive)
	assert.Equal(t, 0, count)
}

func TestRollbackSurfacesReplayFailure(t *testing.T) {
	m := NewManager()
	require.NoError(t, m.Begin())
	m.LogInsert("users", 1)
	m.LogInsert("users", 2)

	count, wasActive, err := m.Rollback(func(e UndoEntry) error {
		if e.Rid == 2 {
			return fmt.Errorf("boom")
		}
		return nil
	})

	var te common.TransactionError
	require.True(t, errors.As(err, &te), "expected a TransactionError, got %v", err)
	assert.True(t, wasActive)
	assert.Equal(t, 0, count, "the failing entry is the first one replayed")
	assert.False(t, m.Active(), "the session returns to idle even after a poisoned rollback")
}

func TestUpdateEntryCapturesPreImageCopy(t *testing.T) {
	m := NewManager()
	require.NoError(t, m.Begin())

	row := storage.Row{frontend.NewIntegerValue(1), frontend.NewTextValue("Alice")}
	m.LogUpdate("users", 7, row)

	// mutating the caller's slice must not leak into the logged pre-image
	row[1] = frontend.NewTextValue("Mallory")

	_, _, err := m.Rollback(func(e UndoEntry) error {
		assert.Equal(t, EntryUpdate, e.Kind)
		assert.Equal(t, frontend.NewTextValue("Alice"), e.Tuple[1])
		return nil
	})
	require.NoError(t, err)
}
