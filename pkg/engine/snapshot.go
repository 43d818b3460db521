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
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/dr0pdb/glaciersql/internal/common"
	"github.com/dr0pdb/glaciersql/pkg/frontend"
	"github.com/dr0pdb/glaciersql/pkg/storage"
	"github.com/dr0pdb/glaciersql/pkg/txn"
	log "github.com/sirupsen/logrus"
)

// The snapshot is a self-contained binary stream encoding the full database
// state: table schemas, row stores with their rids, rid counters and every
// index. The stream opens with a magic prefix and a format version so future
// format changes can be detected.
//
// Layout (all integers little endian, strings length-prefixed with u32):
//
//	"GSQL" | version u16 | tableCount u32
//	per table:
//	  name | colCount u32
//	  per column: name | type u8 | flags u8 | refTable | refColumn
//	  nextRid u64 | rowCount u32
//	  per row: rid u64 | values (tag u8 + payload)
//	  indexCount u32
//	  per index: name | column | unique u8 | keyCount u32
//	    per key: value | ridCount u32 | rids u64...
var snapshotMagic = [4]byte{'G', 'S', 'Q', 'L'}

const snapshotVersion uint16 = 1

const (
	colFlagNotNull    = 1 << 0
	colFlagPrimaryKey = 1 << 1
	colFlagUnique     = 1 << 2
)

// Save serializes the entire database state to the writer.
func (db *Database) Save(w io.Writer) error {
	bw := bufio.NewWriter(w)

	if _, err := bw.Write(snapshotMagic[:]); err != nil {
		return err
	}
	if err := writeU16(bw, snapshotVersion); err != nil {
		return err
	}
	if err := writeU32(bw, uint32(len(db.tables))); err != nil {
		return err
	}

	for _, name := range db.TableNames() {
		if err := encodeTable(bw, db.tables[name]); err != nil {
			return err
		}
	}

	if err := bw.Flush(); err != nil {
		return err
	}

	log.WithFields(log.Fields{"db": db.name, "tables": len(db.tables)}).Info("engine::snapshot::Save; snapshot written")
	return nil
}

// Load restores the database from a snapshot stream, replacing the current
// state. The session returns to Idle; an open transaction is discarded.
// A stream that fails decoding or the post-load invariant verification
// fails with CorruptSnapshot and leaves the database untouched.
func (db *Database) Load(r io.Reader) error {
	br := bufio.NewReader(r)

	tables, err := decodeDatabase(br)
	if err != nil {
		log.WithFields(log.Fields{"db": db.name}).Error("engine::snapshot::Load; snapshot rejected")
		return err
	}

	if err := verifyTables(tables); err != nil {
		log.WithFields(log.Fields{"db": db.name}).Error("engine::snapshot::Load; invariant verification failed")
		return common.NewCorruptSnapshotError(err.Error())
	}

	db.tables = tables
	db.txn = txn.NewManager()

	log.WithFields(log.Fields{"db": db.name, "tables": len(tables)}).Info("engine::snapshot::Load; snapshot restored")
	return nil
}

// SaveFile snapshots the database to the given path.
func (db *Database) SaveFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	return db.Save(f)
}

// LoadFile restores the database from a snapshot file.
func (db *Database) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	return db.Load(f)
}

// CheckInvariants verifies the full set of structural invariants of the
// live database: schema conformance, NOT NULL, uniqueness, referential
// integrity and index consistency against a fresh scan.
func (db *Database) CheckInvariants() error {
	return verifyTables(db.tables)
}

//
// Encoding
//

func encodeTable(w *bufio.Writer, t *storage.Table) error {
	if err := writeString(w, t.Name); err != nil {
		return err
	}
	if err := writeU32(w, uint32(len(t.Columns))); err != nil {
		return err
	}

	for _, c := range t.Columns {
		if err := writeString(w, c.Name); err != nil {
			return err
		}
		if err := w.WriteByte(byte(c.Type)); err != nil {
			return err
		}

		var flags byte
		if c.NotNull {
			flags |= colFlagNotNull
		}
		if c.PrimaryKey {
			flags |= colFlagPrimaryKey
		}
		if c.Unique {
			flags |= colFlagUnique
		}
		if err := w.WriteByte(flags); err != nil {
			return err
		}

		if err := writeString(w, c.RefTable); err != nil {
			return err
		}
		if err := writeString(w, c.RefColumn); err != nil {
			return err
		}
	}

	if err := writeU64(w, t.NextRid()); err != nil {
		return err
	}

	entries := t.Scan()
	if err := writeU32(w, uint32(len(entries))); err != nil {
		return err
	}
	for _, e := range entries {
		if err := writeU64(w, e.Rid); err != nil {
			return err
		}
		for _, v := range e.Row {
			if err := encodeValue(w, v); err != nil {
				return err
			}
		}
	}

	indexes := t.Indexes()
	if err := writeU32(w, uint32(len(indexes))); err != nil {
		return err
	}
	for _, idx := range indexes {
		if err := writeString(w, idx.Name); err != nil {
			return err
		}
		if err := writeString(w, idx.Column); err != nil {
			return err
		}
		unique := byte(0)
		if idx.Unique {
			unique = 1
		}
		if err := w.WriteByte(unique); err != nil {
			return err
		}

		entries := idx.Entries()
		if err := writeU32(w, uint32(len(entries))); err != nil {
			return err
		}
		for v, rids := range entries {
			if err := encodeValue(w, v); err != nil {
				return err
			}
			if err := writeU32(w, uint32(len(rids))); err != nil {
				return err
			}
			for _, rid := range rids {
				if err := writeU64(w, rid); err != nil {
					return err
				}
			}
		}
	}

	return nil
}

func encodeValue(w *bufio.Writer, v frontend.Value) error {
	if err := w.WriteByte(byte(v.Typ)); err != nil {
		return err
	}

	switch v.Typ {
	case frontend.FieldTypeNull:
		return nil
	case frontend.FieldTypeInteger:
		return writeU64(w, uint64(v.GetAsInt()))
	case frontend.FieldTypeReal:
		return writeU64(w, math.Float64bits(v.GetAsReal()))
	case frontend.FieldTypeText, frontend.FieldTypeDate:
		return writeString(w, v.GetAsText())
	case frontend.FieldTypeBoolean:
		b := byte(0)
		if v.GetAsBoolean() {
			b = 1
		}
		return w.WriteByte(b)
	}

	return fmt.Errorf("cannot encode value of type %s", v.Typ)
}

//
// Decoding
//

func corrupt(format string, args ...interface{}) error {
	return common.NewCorruptSnapshotError(fmt.Sprintf(format, args...))
}

func decodeDatabase(r *bufio.Reader) (map[string]*storage.Table, error) {
	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return nil, corrupt("truncated snapshot header: %s", err)
	}
	if magic != snapshotMagic {
		return nil, corrupt("bad magic prefix %q", magic[:])
	}

	version, err := readU16(r)
	if err != nil {
		return nil, corrupt("truncated snapshot header: %s", err)
	}
	if version != snapshotVersion {
		return nil, corrupt("unsupported snapshot version %d", version)
	}

	tableCount, err := readU32(r)
	if err != nil {
		return nil, corrupt("truncated table count: %s", err)
	}

	tables := make(map[string]*storage.Table, tableCount)
	for i := uint32(0); i < tableCount; i++ {
		t, err := decodeTable(r)
		if err != nil {
			return nil, err
		}
		if _, ok := tables[t.Name]; ok {
			return nil, corrupt("duplicate table %s", t.Name)
		}
		tables[t.Name] = t
	}

	return tables, nil
}

func decodeTable(r *bufio.Reader) (*storage.Table, error) {
	name, err := readString(r)
	if err != nil {
		return nil, corrupt("truncated table name: %s", err)
	}

	colCount, err := readU32(r)
	if err != nil {
		return nil, corrupt("table %s: truncated column count: %s", name, err)
	}

	cols := make([]storage.Column, 0, colCount)
	for i := uint32(0); i < colCount; i++ {
		colName, err := readString(r)
		if err != nil {
			return nil, corrupt("table %s: truncated column name: %s", name, err)
		}
		typ, err := r.ReadByte()
		if err != nil {
			return nil, corrupt("table %s: truncated column type: %s", name, err)
		}
		flags, err := r.ReadByte()
		if err != nil {
			return nil, corrupt("table %s: truncated column flags: %s", name, err)
		}
		refTable, err := readString(r)
		if err != nil {
			return nil, corrupt("table %s: truncated fk table: %s", name, err)
		}
		refColumn, err := readString(r)
		if err != nil {
			return nil, corrupt("table %s: truncated fk column: %s", name, err)
		}

		cols = append(cols, storage.Column{
			Name:       colName,
			Type:       frontend.FieldType(typ),
			NotNull:    flags&colFlagNotNull != 0,
			PrimaryKey: flags&colFlagPrimaryKey != 0,
			Unique:     flags&colFlagUnique != 0,
			RefTable:   refTable,
			RefColumn:  refColumn,
		})
	}

	t, err := storage.NewTable(name, cols)
	if err != nil {
		return nil, corrupt("table %s: invalid schema: %s", name, err)
	}

	nextRid, err := readU64(r)
	if err != nil {
		return nil, corrupt("table %s: truncated rid counter: %s", name, err)
	}

	rowCount, err := readU32(r)
	if err != nil {
		return nil, corrupt("table %s: truncated row count: %s", name, err)
	}

	var maxRid uint64
	for i := uint32(0); i < rowCount; i++ {
		rid, err := readU64(r)
		if err != nil {
			return nil, corrupt("table %s: truncated rid: %s", name, err)
		}

		row := make(storage.Row, len(cols))
		for j := range cols {
			v, err := decodeValue(r)
			if err != nil {
				return nil, corrupt("table %s: row %d: %s", name, rid, err)
			}
			row[j] = v
		}

		if err := t.RestoreRow(rid, row); err != nil {
			return nil, corrupt("table %s: row %d: %s", name, rid, err)
		}
		if rid > maxRid {
			maxRid = rid
		}
	}

	if nextRid <= maxRid {
		return nil, corrupt("table %s: rid counter %d does not cover rid %d", name, nextRid, maxRid)
	}
	t.SetNextRid(nextRid)

	indexCount, err := readU32(r)
	if err != nil {
		return nil, corrupt("table %s: truncated index count: %s", name, err)
	}

	for i := uint32(0); i < indexCount; i++ {
		if err := decodeIndex(r, t); err != nil {
			return nil, err
		}
	}

	return t, nil
}

// decodeIndex reads one serialized index. Automatic indexes were already
// rebuilt while restoring the rows, so for those the decoded entries are
// checked against the rebuilt state; explicit indexes are attached fresh.
func decodeIndex(r *bufio.Reader, t *storage.Table) error {
	name, err := readString(r)
	if err != nil {
		return corrupt("table %s: truncated index name: %s", t.Name, err)
	}
	column, err := readString(r)
	if err != nil {
		return corrupt("index %s: truncated column: %s", name, err)
	}
	uniqueByte, err := r.ReadByte()
	if err != nil {
		return corrupt("index %s: truncated unique flag: %s", name, err)
	}

	keyCount, err := readU32(r)
	if err != nil {
		return corrupt("index %s: truncated key count: %s", name, err)
	}

	decoded := make(map[frontend.Value][]uint64, keyCount)
	for i := uint32(0); i < keyCount; i++ {
		v, err := decodeValue(r)
		if err != nil {
			return corrupt("index %s: %s", name, err)
		}
		ridCount, err := readU32(r)
		if err != nil {
			return corrupt("index %s: truncated rid count: %s", name, err)
		}
		rids := make([]uint64, ridCount)
		for j := uint32(0); j < ridCount; j++ {
			rid, err := readU64(r)
			if err != nil {
				return corrupt("index %s: truncated rid: %s", name, err)
			}
			rids[j] = rid
		}
		decoded[v] = rids
	}

	if existing, ok := t.Index(name); ok {
		if existing.Column != column || existing.Unique != (uniqueByte == 1) {
			return corrupt("index %s: definition mismatch", name)
		}
		if !indexEntriesEqual(existing.Entries(), decoded) {
			return corrupt("index %s: entries don't match the row store", name)
		}
		return nil
	}

	idx := storage.NewIndex(name, column, uniqueByte == 1)
	for v, rids := range decoded {
		for _, rid := range rids {
			if err := idx.Add(v, rid); err != nil {
				return corrupt("index %s: %s", name, err)
			}
		}
	}
	if err := t.AttachIndex(idx); err != nil {
		return corrupt("index %s: %s", name, err)
	}

	return nil
}

func decodeValue(r *bufio.Reader) (frontend.Value, error) {
	tag, err := r.ReadByte()
	if err != nil {
		return frontend.Value{}, fmt.Errorf("truncated value tag: %s", err)
	}

	switch frontend.FieldType(tag) {
	case frontend.FieldTypeNull:
		return frontend.NewNullValue(), nil

	case frontend.FieldTypeInteger:
		u, err := readU64(r)
		if err != nil {
			return frontend.Value{}, fmt.Errorf("truncated integer: %s", err)
		}
		return frontend.NewIntegerValue(int64(u)), nil

	case frontend.FieldTypeReal:
		u, err := readU64(r)
		if err != nil {
			return frontend.Value{}, fmt.Errorf("truncated real: %s", err)
		}
		return frontend.NewRealValue(math.Float64frombits(u)), nil

	case frontend.FieldTypeText:
		s, err := readString(r)
		if err != nil {
			return frontend.Value{}, fmt.Errorf("truncated text: %s", err)
		}
		return frontend.NewTextValue(s), nil

	case frontend.FieldTypeDate:
		s, err := readString(r)
		if err != nil {
			return frontend.Value{}, fmt.Errorf("truncated date: %s", err)
		}
		return frontend.NewDateValue(s), nil

	case frontend.FieldTypeBoolean:
		b, err := r.ReadByte()
		if err != nil {
			return frontend.Value{}, fmt.Errorf("truncated boolean: %s", err)
		}
		return frontend.NewBooleanValue(b == 1), nil
	}

	return frontend.Value{}, fmt.Errorf("unknown value tag %d", tag)
}

//
// Invariant verification
//

// verifyTables checks every structural invariant over the given tables.
func verifyTables(tables map[string]*storage.Table) error {
	for name, t := range tables {
		uniquePos := make([]int, 0)
		for i, c := range t.Columns {
			if c.Unique {
				uniquePos = append(uniquePos, i)
			}
		}
		seen := make([]map[frontend.Value]struct{}, len(t.Columns))
		for _, pos := range uniquePos {
			seen[pos] = make(map[frontend.Value]struct{})
		}

		for _, e := range t.Scan() {
			if len(e.Row) != len(t.Columns) {
				return fmt.Errorf("table %s: row %d has arity %d, want %d", name, e.Rid, len(e.Row), len(t.Columns))
			}

			for i, c := range t.Columns {
				v := e.Row[i]
				if v.IsNull() {
					if c.NotNull {
						return fmt.Errorf("table %s: row %d holds null in NOT NULL column %s", name, e.Rid, c.Name)
					}
					continue
				}
				if v.Typ != c.Type {
					return fmt.Errorf("table %s: row %d holds %s in %s column %s", name, e.Rid, v.Typ, c.Type, c.Name)
				}
			}

			for _, pos := range uniquePos {
				v := e.Row[pos]
				if v.IsNull() {
					continue
				}
				if _, dup := seen[pos][v]; dup {
					return fmt.Errorf("table %s: duplicate value %s in unique column %s", name, v, t.Columns[pos].Name)
				}
				seen[pos][v] = struct{}{}
			}

			for i, c := range t.Columns {
				if c.RefTable == "" || e.Row[i].IsNull() {
					continue
				}
				parent, ok := tables[c.RefTable]
				if !ok {
					return fmt.Errorf("table %s: foreign key targets unknown table %s", name, c.RefTable)
				}
				pkIdx, ok := parent.PrimaryKeyIndex()
				if !ok {
					return fmt.Errorf("table %s: foreign key target %s has no PRIMARY KEY", name, c.RefTable)
				}
				if !pkIdx.Contains(e.Row[i]) {
					return fmt.Errorf("table %s: foreign key value %s has no parent in %s", name, e.Row[i], c.RefTable)
				}
			}
		}

		for _, idx := range t.Indexes() {
			pos, ok := t.ColumnPos(idx.Column)
			if !ok {
				return fmt.Errorf("table %s: index %s covers unknown column %s", name, idx.Name, idx.Column)
			}

			expected := make(map[frontend.Value][]uint64)
			for _, e := range t.Scan() {
				v := e.Row[pos]
				if v.IsNull() {
					continue
				}
				expected[v] = append(expected[v], e.Rid)
			}

			if !indexEntriesEqual(idx.Entries(), expected) {
				return fmt.Errorf("table %s: index %s disagrees with a fresh scan", name, idx.Name)
			}
		}
	}

	return nil
}

func indexEntriesEqual(a, b map[frontend.Value][]uint64) bool {
	if len(a) != len(b) {
		return false
	}
	for v, aRids := range a {
		bRids, ok := b[v]
		if !ok || len(aRids) != len(bRids) {
			return false
		}
		for i := range aRids {
			if aRids[i] != bRids[i] {
				return false
			}
		}
	}
	return true
}

//
// Little endian primitives
//

func writeU16(w *bufio.Writer, v uint16) error {
	var buf [2]byte
	binary.LittleEndian.PutUint16(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

func writeU32(w *bufio.Writer, v uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

func writeU64(w *bufio.Writer, v uint64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

func writeString(w *bufio.Writer, s string) error {
	if err := writeU32(w, uint32(len(s))); err != nil {
		return err
	}
	_, err := w.WriteString(s)
	return err
}

func readU16(r *bufio.Reader) (uint16, error) {
	var buf [2]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(buf[:]), nil
}

func readU32(r *bufio.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

func readU64(r *bufio.Reader) (uint64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

func readString(r *bufio.Reader) (string, error) {
	n, err := readU32(r)
	if err != nil {
		return "", err
	}
	if n > 1<<24 {
		return "", fmt.Errorf("string length %d exceeds limit", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}
