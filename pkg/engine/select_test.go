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
	"errors"
	"testing"

	"github.com/dr0pdb/glaciersql/internal/common"
	"github.com/dr0pdb/glaciersql/pkg/frontend"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPeopleDB(t *testing.T) *Database {
	t.Helper()

	db := New("test")
	exec(t, db, "CREATE TABLE people (id INTEGER PRIMARY KEY, name TEXT, age INTEGER, city TEXT)")
	exec(t, db, "INSERT INTO people VALUES (1, 'Alice', 30, 'Oslo')")
	exec(t, db, "INSERT INTO people VALUES (2, 'Bob', 25, 'Berlin')")
	exec(t, db, "INSERT INTO people VALUES (3, 'Carol', 35, NULL)")
	exec(t, db, "INSERT INTO people VALUES (4, 'Dan', NULL, 'Oslo')")
	return db
}

func TestWhereOperators(t *testing.T) {
	db := newPeopleDB(t)

	res := exec(t, db, "SELECT name FROM people WHERE age > 25")
	assert.Equal(t, [][]frontend.Value{{tv("Alice")}, {tv("Carol")}}, res.Rows)

	res = exec(t, db, "SELECT name FROM people WHERE age < 30")
	assert.Equal(t, [][]frontend.Value{{tv("Bob")}}, res.Rows)

	res = exec(t, db, "SELECT name FROM people WHERE city = 'Oslo' AND age > 25")
	assert.Equal(t, [][]frontend.Value{{tv("Alice")}}, res.Rows)

	res = exec(t, db, "SELECT name FROM people WHERE name LIKE '%a%'")
	assert.Equal(t, [][]frontend.Value{{tv("Carol")}, {tv("Dan")}}, res.Rows, "LIKE is case-sensitive")

	res = exec(t, db, "SELECT name FROM people WHERE name LIKE '_ob'")
	assert.Equal(t, [][]frontend.Value{{tv("Bob")}}, res.Rows)
}

func TestNullComparisonsYieldFalse(t *testing.T) {
	db := newPeopleDB(t)

	// Dan's null age never matches, in either direction
	res := exec(t, db, "SELECT name FROM people WHERE age > 0")
	assert.Equal(t, 3, len(res.Rows))

	res = exec(t, db, "SELECT name FROM people WHERE age < 1000")
	assert.Equal(t, 3, len(res.Rows))

	// a NULL operand matches nothing at all
	res = exec(t, db, "SELECT name FROM people WHERE age = NULL")
	assert.Empty(t, res.Rows)
}

func TestWherePredicateTypeMismatch(t *testing.T) {
	db := newPeopleDB(t)

	var te common.TypeError
	err := execErr(t, db, "SELECT * FROM people WHERE name = 5")
	assert.True(t, errors.As(err, &te), "numeric operand on a TEXT column")

	err = execErr(t, db, "SELECT * FROM people WHERE age LIKE 'x%'")
	assert.True(t, errors.As(err, &te), "LIKE on an integer column")
}

// S6 - an explicit index turns an equality filter into an index scan,
// observable through the plan kind on the result.
func TestIndexScanSubstitution(t *testing.T) {
	db := newUsersDB(t)
	exec(t, db, "INSERT INTO users VALUES (1, 'Alicia')")
	exec(t, db, "INSERT INTO users VALUES (2, 'Bob')")

	// name carries a unique auto index; bio-less table: drop to a fresh
	// non-indexed column via a second table
	exec(t, db, "CREATE TABLE notes (id INTEGER PRIMARY KEY, body TEXT)")
	exec(t, db, "INSERT INTO notes VALUES (1, 'x')")

	res := exec(t, db, "SELECT * FROM users WHERE name = 'Alicia'")
	assert.Equal(t, PlanIndexScan, res.Plan, "the unique index on name answers the filter")
	require.Equal(t, 1, len(res.Rows))

	res = exec(t, db, "SELECT * FROM notes WHERE body = 'x'")
	assert.Equal(t, PlanFullScan, res.Plan, "no index on body")

	exec(t, db, "CREATE INDEX idx_notes_body ON notes (body)")
	res = exec(t, db, "SELECT * FROM notes WHERE body = 'x'")
	assert.Equal(t, PlanIndexScan, res.Plan, "the explicit index is picked up")

	// non-equality operators never use the index
	res = exec(t, db, "SELECT * FROM notes WHERE body > 'a'")
	assert.Equal(t, PlanFullScan, res.Plan)
}

func TestIndexScanAppliesRemainingConjuncts(t *testing.T) {
	db := newPeopleDB(t)
	exec(t, db, "CREATE INDEX idx_people_city ON people (city)")

	res := exec(t, db, "SELECT name FROM people WHERE city = 'Oslo' AND age > 25")
	assert.Equal(t, PlanIndexScan, res.Plan)
	assert.Equal(t, [][]frontend.Value{{tv("Alice")}}, res.Rows)
}

func TestProjectionForms(t *testing.T) {
	db := newPeopleDB(t)

	res := exec(t, db, "SELECT people.name, age FROM people WHERE id = 1")
	assert.Equal(t, []string{"people.name", "age"}, res.Columns, "headers keep the written form")
	assert.Equal(t, [][]frontend.Value{{tv("Alice"), iv(30)}}, res.Rows)

	var se common.SchemaError
	err := execErr(t, db, "SELECT nope.name FROM people")
	assert.True(t, errors.As(err, &se), "wrong qualifier")
}

func TestIndexConsistencyAfterMutations(t *testing.T) {
	db := newPeopleDB(t)
	exec(t, db, "CREATE INDEX idx_people_city ON people (city)")

	exec(t, db, "UPDATE people SET city = 'Paris' WHERE id = 1")
	exec(t, db, "DELETE FROM people WHERE id = 2")
	exec(t, db, "INSERT INTO people VALUES (5, 'Eve', 28, 'Paris')")
	exec(t, db, "UPDATE people SET city = NULL WHERE id = 5")

	assert.NoError(t, db.CheckInvariants(), "every index must agree with a fresh scan")
}
