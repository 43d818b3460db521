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
	"fmt"

	"github.com/dr0pdb/glaciersql/internal/common"
	"github.com/dr0pdb/glaciersql/pkg/storage"
	log "github.com/sirupsen/logrus"
)

// EntryKind tags an undo entry with the mutation it reverses.
type EntryKind uint8

const (
	// EntryInsert reverses an insert by deleting the rid.
	EntryInsert EntryKind = iota

	// EntryUpdate reverses an update by restoring the pre-image tuple.
	EntryUpdate

	// EntryDelete reverses a delete by reinserting the tuple under its
	// original rid.
	EntryDelete
)

// UndoEntry is a record sufficient to reverse one mutation.
type UndoEntry struct {
	Kind  EntryKind
	Table string
	Rid   uint64

	// Tuple is the pre-image for EntryUpdate and the removed row for
	// EntryDelete. It is nil for EntryInsert.
	Tuple storage.Row
}

// Manager is the single-session transaction manager: an undo log with
// explicit begin/commit/rollback. A session is either Idle or InTransaction.
// When no transaction is active mutations are auto-committed and no undo
// entry is retained.
type Manager struct {
	active bool
	undo   []UndoEntry
}

// NewManager creates a manager in the Idle state.
func NewManager() *Manager {
	return &Manager{}
}

// Active reports whether a transaction is open.
func (m *Manager) Active() bool {
	return m.active
}

// Size returns the number of undo entries logged so far.
func (m *Manager) Size() int {
	return len(m.undo)
}

// Begin opens a transaction with an empty undo log.
// A nested BEGIN fails with a TransactionError.
func (m *Manager) Begin() error {
	if m.active {
		return common.NewTransactionError("transaction already in progress")
	}

	m.active = true
	m.undo = nil
	log.Info("txn::transaction::Begin; transaction started")
	return nil
}

// LogInsert appends an undo entry reversing an insert.
// It is a no-op when no transaction is active.
func (m *Manager) LogInsert(table string, rid uint64) {
	if !m.active {
		return
	}
	m.undo = append(m.undo, UndoEntry{Kind: EntryInsert, Table: table, Rid: rid})
}

// LogUpdate appends an undo entry capturing the full pre-image tuple.
// It is a no-op when no transaction is active.
func (m *Manager) LogUpdate(table string, rid uint64, pre storage.Row) {
	if !m.active {
		return
	}
	m.undo = append(m.undo, UndoEntry{Kind: EntryUpdate, Table: table, Rid: rid, Tuple: pre.Clone()})
}

// LogDelete appends an undo entry capturing the removed tuple and its rid.
// It is a no-op when no transaction is active.
func (m *Manager) LogDelete(table string, rid uint64, tuple storage.Row) {
	if !m.active {
		return
	}
	m.undo = append(m.undo, UndoEntry{Kind: EntryDelete, Table: table, Rid: rid, Tuple: tuple.Clone()})
}

// Commit discards the undo log and returns the session to Idle.
// It reports whether a transaction was actually open; COMMIT while Idle is
// a no-op, not an error.
func (m *Manager) Commit() bool {
	if !m.active {
		log.Warn("txn::transaction::Commit; no active transaction")
		return false
	}

	log.WithFields(log.Fields{"entries": len(m.undo)}).Info("txn::transaction::Commit; transaction committed")
	m.active = false
	m.undo = nil
	return true
}

// Rollback applies the undo entries in reverse order through the given
// callback, then discards the log and returns the session to Idle. It
// reports the number of reversed entries; ROLLBACK while Idle is a no-op.
//
// If any reverse step fails the database is left in a poisoned partial
// state: the remaining log is discarded, the session returns to Idle and a
// TransactionError is surfaced. This cannot arise for well-formed logs.
func (m *Manager) Rollback(apply func(UndoEntry) error) (int, bool, error) {
	if !m.active {
		log.Warn("txn::transaction::Rollback; no active transaction")
		return 0, false, nil
	}

	count := 0
	var failure error
	for i := len(m.undo) - 1; i >= 0; i-- {
		if err := apply(m.undo[i]); err != nil {
			failure = common.NewTransactionError(
				fmt.Sprintf("undo replay failed on entry %d (table %s, rid %d): %s",
					i, m.undo[i].Table, m.undo[i].Rid, err.Error()))
			break
		}
		count++
	}

	m.active = false
	m.undo = nil

	if failure != nil {
		log.WithFields(log.Fields{"reversed": count}).Error("txn::transaction::Rollback; undo replay failed")
		return count, true, failure
	}

	log.WithFields(log.Fields{"reversed": count}).Info("txn::transaction::Rollback; transaction rolled back")
	return count, true, nil
}
