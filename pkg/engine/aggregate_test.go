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

func newLedgerDB(t *testing.T) *Database {
	t.Helper()

	db := New("test")
	exec(t, db, "CREATE TABLE tx (amt REAL, type TEXT)")
	exec(t, db, "INSERT INTO tx VALUES (100, 'CR')")
	exec(t, db, "INSERT INTO tx VALUES (50, 'DR')")
	exec(t, db, "INSERT INTO tx VALUES (200, 'CR')")
	return db
}

// S5 - grouped aggregation in ascending key order.
func TestGroupByWithAggregates(t *testing.T) {
	db := newLedgerDB(t)

	res := exec(t, db, "SELECT type, COUNT(*), SUM(amt) FROM tx GROUP BY type")
	assert.Equal(t, []string{"type", "COUNT(*)", "SUM(amt)"}, res.Columns)
	assert.Equal(t, [][]frontend.Value{
		{tv("CR"), iv(2), rv(300.0)},
		{tv("DR"), iv(1), rv(50.0)},
	}, res.Rows)
}

func TestAggregatesOverWholeTable(t *testing.T) {
	db := newLedgerDB(t)

	res := exec(t, db, "SELECT COUNT(*), SUM(amt), AVG(amt), MIN(amt), MAX(amt) FROM tx")
	require.Equal(t, 1, len(res.Rows), "a pure aggregate produces one implicit group")
	assert.Equal(t, []frontend.Value{
		iv(3), rv(350.0), rv(350.0 / 3.0), rv(50.0), rv(200.0),
	}, res.Rows[0])
}

// Property 11 - aggregates over an empty input.
func TestAggregatesOnEmptyInput(t *testing.T) {
	db := newLedgerDB(t)

	res := exec(t, db, "SELECT COUNT(*), SUM(amt), AVG(amt), MIN(amt) FROM tx WHERE amt > 100000")
	require.Equal(t, 1, len(res.Rows))
	assert.Equal(t, []frontend.Value{iv(0), nv(), nv(), nv()}, res.Rows[0])

	res = exec(t, db, "SELECT type, COUNT(*) FROM tx WHERE amt > 100000 GROUP BY type")
	assert.Empty(t, res.Rows, "grouping over no rows yields no groups")
}

func TestCountColumnSkipsNulls(t *testing.T) {
	db := New("test")
	exec(t, db, "CREATE TABLE readings (sensor TEXT, value INTEGER)")
	exec(t, db, "INSERT INTO readings VALUES ('a', 1)")
	exec(t, db, "INSERT INTO readings VALUES ('a', NULL)")
	exec(t, db, "INSERT INTO readings VALUES ('a', 3)")

	res := exec(t, db, "SELECT COUNT(*), COUNT(value), SUM(value), AVG(value) FROM readings")
	assert.Equal(t, []frontend.Value{iv(3), iv(2), iv(4), rv(2.0)}, res.Rows[0])
}

func TestAvgOfAllNullGroupIsNull(t *testing.T) {
	db := New("test")
	exec(t, db, "CREATE TABLE readings (sensor TEXT, value INTEGER)")
	exec(t, db, "INSERT INTO readings VALUES ('a', NULL)")

	res := exec(t, db, "SELECT AVG(value), SUM(value) FROM readings")
	assert.Equal(t, []frontend.Value{nv(), nv()}, res.Rows[0])
}

func TestIntegerSumStaysIntegral(t *testing.T) {
	db := New("test")
	exec(t, db, "CREATE TABLE counts (n INTEGER)")
	exec(t, db, "INSERT INTO counts VALUES (2)")
	exec(t, db, "INSERT INTO counts VALUES (3)")

	res := exec(t, db, "SELECT SUM(n) FROM counts")
	assert.Equal(t, iv(5), res.Rows[0][0], "SUM over an INTEGER column yields an integer")
}

func TestGroupByNullFormsItsOwnGroupFirst(t *testing.T) {
	db := New("test")
	exec(t, db, "CREATE TABLE people (id INTEGER PRIMARY KEY, city TEXT)")
	exec(t, db, "INSERT INTO people VALUES (1, 'Oslo')")
	exec(t, db, "INSERT INTO people VALUES (2, NULL)")
	exec(t, db, "INSERT INTO people VALUES (3, 'Berlin')")
	exec(t, db, "INSERT INTO people VALUES (4, NULL)")

	res := exec(t, db, "SELECT city, COUNT(*) FROM people GROUP BY city")
	assert.Equal(t, [][]frontend.Value{
		{nv(), iv(2)},
		{tv("Berlin"), iv(1)},
		{tv("Oslo"), iv(1)},
	}, res.Rows, "the null group sorts first, then ascending keys")
}

func TestGroupByMultipleColumns(t *testing.T) {
	db := New("test")
	exec(t, db, "CREATE TABLE sales (region TEXT, product TEXT, qty INTEGER)")
	exec(t, db, "INSERT INTO sales VALUES ('EU', 'b', 1)")
	exec(t, db, "INSERT INTO sales VALUES ('EU', 'a', 2)")
	exec(t, db, "INSERT INTO sales VALUES ('US', 'a', 3)")
	exec(t, db, "INSERT INTO sales VALUES ('EU', 'a', 4)")

	res := exec(t, db, "SELECT region, product, SUM(qty) FROM sales GROUP BY region, product")
	assert.Equal(t, [][]frontend.Value{
		{tv("EU"), tv("a"), iv(6)},
		{tv("EU"), tv("b"), iv(1)},
		{tv("US"), tv("a"), iv(3)},
	}, res.Rows, "groups order lexicographically over the key tuple")
}

func TestNonAggregateProjectionMustBeGrouped(t *testing.T) {
	db := newLedgerDB(t)

	var se common.SchemaError
	err := execErr(t, db, "SELECT amt, COUNT(*) FROM tx GROUP BY type")
	require.True(t, errors.As(err, &se), "ungrouped column in an aggregate projection, got %v", err)

	err = execErr(t, db, "SELECT amt, COUNT(*) FROM tx")
	require.True(t, errors.As(err, &se))
}

func TestSumOverTextColumnFails(t *testing.T) {
	db := newLedgerDB(t)

	var te common.TypeError
	err := execErr(t, db, "SELECT SUM(type) FROM tx")
	assert.True(t, errors.As(err, &te))
}

func TestAggregateAfterJoin(t *testing.T) {
	db := newShopDB(t)

	res := exec(t, db, "SELECT users.name, SUM(orders.total) FROM users JOIN orders ON users.id = orders.uid GROUP BY users.name")
	assert.Equal(t, [][]frontend.Value{
		{tv("Alice"), rv(13.0)},
		{tv("Bob"), rv(20.0)},
	}, res.Rows)
}
