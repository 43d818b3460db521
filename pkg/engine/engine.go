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

package engine

import (
	"fmt"
	"sort"

	"github.com/dr0pdb/glaciersql/internal/common"
	"github.com/dr0pdb/glaciersql/pkg/frontend"
	"github.com/dr0pdb/glaciersql/pkg/storage"
	"github.com/dr0pdb/glaciersql/pkg/txn"
	log "github.com/sirupsen/logrus"
)

// Database is a single-session in-memory relational database: a mapping
// from table name to table plus the transaction manager. It is the owner of
// the programmatic surface; the engine is single-writer and callers must
// serialize access externally.
type Database struct {
	name   string
	tables map[string]*storage.Table
	txn    *txn.Manager
}

// New creates an empty database.
func New(name string) *Database {
	return &Database{
		name:   name,
		tables: make(map[string]*storage.Table),
		txn:    txn.NewManager(),
	}
}

// Execute parses and runs a single textual SQL statement.
// It is the single entry point for the SQL surface.
func (db *Database) Execute(input string) (*Result, error) {
	p := frontend.NewParser(db.name, input)
	stmt, err := p.Parse()
	if err != nil {
		log.WithFields(log.Fields{"db": db.name, "input": input}).Error("engine::engine::Execute; parse error")
		return nil, err
	}

	switch st := stmt.(type) {
	case *frontend.CreateTableStatement:
		return db.executeCreateTable(st)
	case *frontend.CreateIndexStatement:
		return db.executeCreateIndex(st)
	case *frontend.InsertStatement:
		return db.executeInsert(st)
	case *frontend.SelectStatement:
		return db.executeSelect(st)
	case *frontend.UpdateStatement:
		return db.executeUpdate(st)
	case *frontend.DeleteStatement:
		return db.executeDelete(st)
	case *frontend.BeginTxnStatement:
		if err := db.Begin(); err != nil {
			return nil, err
		}
		return &Result{Message: "transaction started"}, nil
	case *frontend.FinishTxnStatement:
		if st.IsCommit {
			return db.commitResult()
		}
		return db.rollbackResult()
	}

	return nil, common.NewSyntaxError(0, fmt.Sprintf("unsupported statement %T", stmt))
}

// Begin opens a transaction. A nested BEGIN fails with a TransactionError.
func (db *Database) Begin() error {
	return db.txn.Begin()
}

// Commit closes the open transaction, discarding its undo log.
// Committing while idle is a no-op.
func (db *Database) Commit() error {
	db.txn.Commit()
	return nil
}

// Rollback reverses every in-transaction mutation in reverse order.
// Rolling back while idle is a no-op.
func (db *Database) Rollback() error {
	_, _, err := db.txn.Rollback(db.applyUndo)
	return err
}

func (db *Database) commitResult() (*Result, error) {
	if !db.txn.Commit() {
		return &Result{Message: "no active transaction"}, nil
	}
	return &Result{Message: "transaction committed"}, nil
}

func (db *Database) rollbackResult() (*Result, error) {
	count, wasActive, err := db.txn.Rollback(db.applyUndo)
	if err != nil {
		return nil, err
	}
	if !wasActive {
		return &Result{Message: "no active transaction"}, nil
	}
	return &Result{Message: fmt.Sprintf("rolled back %d operations", count)}, nil
}

// applyUndo reverses a single undo entry during rollback.
func (db *Database) applyUndo(e txn.UndoEntry) error {
	t, ok := db.tables[e.Table]
	if !ok {
		return common.NewSchemaError(fmt.Sprintf("unknown table %s", e.Table))
	}

	switch e.Kind {
	case txn.EntryInsert:
		t.ApplyDelete(e.Rid)
		return nil
	case txn.EntryUpdate:
		return t.ApplyUpdate(e.Rid, e.Tuple)
	case txn.EntryDelete:
		return t.RestoreRow(e.Rid, e.Tuple)
	}

	return common.NewTransactionError(fmt.Sprintf("unknown undo entry kind %d", e.Kind))
}

// Table returns the named table.
func (db *Database) Table(name string) (*storage.Table, bool) {
	t, ok := db.tables[name]
	return t, ok
}

// TableNames returns every table name in sorted order.
func (db *Database) TableNames() []string {
	names := make([]string, 0, len(db.tables))
	for name := range db.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (db *Database) table(name string) (*storage.Table, error) {
	t, ok := db.tables[name]
	if !ok {
		return nil, common.NewSchemaError(fmt.Sprintf("unknown table %s", name))
	}
	return t, nil
}

func (db *Database) executeCreateTable(st *frontend.CreateTableStatement) (*Result, error) {
	spec := st.Spec
	if _, ok := db.tables[spec.TableName]; ok {
		return nil, common.NewSchemaError(fmt.Sprintf("table %s already exists", spec.TableName))
	}

	cols := make([]storage.Column, 0, len(spec.Columns))
	for _, cs := range spec.Columns {
		cols = append(cols, storage.Column{
			Name:       cs.Name,
			Type:       cs.Type,
			NotNull:    cs.NotNull,
			PrimaryKey: cs.PrimaryKey,
			Unique:     cs.Unique,
			RefTable:   cs.RefTable,
			RefColumn:  cs.RefColumn,
		})
	}

	// every foreign key must target the PRIMARY KEY column of its table;
	// self references resolve against the table being created
	for _, c := range cols {
		if c.RefTable == "" {
			continue
		}

		if c.RefTable == spec.TableName {
			if err := validatePkTarget(spec.TableName, c.RefColumn, cols); err != nil {
				return nil, err
			}
			continue
		}

		parent, ok := db.tables[c.RefTable]
		if !ok {
			return nil, common.NewSchemaError(
				fmt.Sprintf("foreign key on %s references unknown table %s", c.Name, c.RefTable))
		}
		if err := validatePkTarget(c.RefTable, c.RefColumn, parent.Columns); err != nil {
			return nil, err
		}
	}

	t, err := storage.NewTable(spec.TableName, cols)
	if err != nil {
		return nil, err
	}

	db.tables[spec.TableName] = t
	return &Result{Message: fmt.Sprintf("table %s created", spec.TableName)}, nil
}

func validatePkTarget(table, column string, cols []storage.Column) error {
	for _, c := range cols {
		if c.Name == column {
			if !c.PrimaryKey {
				return common.NewSchemaError(
					fmt.Sprintf("foreign key target %s.%s is not a PRIMARY KEY column", table, column))
			}
			return nil
		}
	}
	return common.NewSchemaError(fmt.Sprintf("unknown column %s in table %s", column, table))
}

func (db *Database) executeCreateIndex(st *frontend.CreateIndexStatement) (*Result, error) {
	t, err := db.table(st.TableName)
	if err != nil {
		return nil, err
	}

	if _, err := t.CreateIndex(st.Name, st.Column); err != nil {
		return nil, err
	}

	return &Result{Message: fmt.Sprintf("index %s created", st.Name)}, nil
}
