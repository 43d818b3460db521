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

package frontend

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

var testName = "testLexer"

func collectItems(t *testing.T, input string) []item {
	t.Helper()

	_, items := newLexer(testName, input)
	var out []item
	for it := range items {
		if it.typ == itemWhitespace {
			continue
		}
		out = append(out, it)
	}
	return out
}

func assertItems(t *testing.T, input string, expected []item) {
	t.Helper()

	got := collectItems(t, input)
	assert.Equal(t, len(expected), len(got), "unexpected number of tokens for %q", input)
	for i := range expected {
		assert.Equal(t, expected[i].typ, got[i].typ, "unexpected typ at %d for %q", i, input)
		assert.Equal(t, expected[i].val, got[i].val, "unexpected val at %d for %q", i, input)
	}
}

func TestLexerCreateTable(t *testing.T) {
	cmd := "CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT UNIQUE);"

	expected := []item{
		{typ: itemKeyword, val: "CREATE"},
		{typ: itemKeyword, val: "TABLE"},
		{typ: itemIdentifier, val: "users"},
		{typ: itemLeftParen, val: "("},
		{typ: itemIdentifier, val: "id"},
		{typ: itemKeyword, val: "INTEGER"},
		{typ: itemKeyword, val: "PRIMARY"},
		{typ: itemKeyword, val: "KEY"},
		{typ: itemComma, val: ","},
		{typ: itemIdentifier, val: "name"},
		{typ: itemKeyword, val: "TEXT"},
		{typ: itemKeyword, val: "UNIQUE"},
		{typ: itemRightParen, val: ")"},
		{typ: itemSemicolon, val: ";"},
		{typ: itemEOF, val: ""},
	}

	assertItems(t, cmd, expected)
}

func TestLexerInsertLiterals(t *testing.T) {
	cmd := "INSERT INTO tx VALUES (100, -2.5, 'CR', TRUE, NULL, '2024-01-15')"

	expected := []item{
		{typ: itemKeyword, val: "INSERT"},
		{typ: itemKeyword, val: "INTO"},
		{typ: itemIdentifier, val: "tx"},
		{typ: itemKeyword, val: "VALUES"},
		{typ: itemLeftParen, val: "("},
		{typ: itemInteger, val: "100"},
		{typ: itemComma, val: ","},
		{typ: itemFloat, val: "-2.5"},
		{typ: itemComma, val: ","},
		{typ: itemString, val: "'CR'"},
		{typ: itemComma, val: ","},
		{typ: itemKeyword, val: "TRUE"},
		{typ: itemComma, val: ","},
		{typ: itemKeyword, val: "NULL"},
		{typ: itemComma, val: ","},
		{typ: itemString, val: "'2024-01-15'"},
		{typ: itemRightParen, val: ")"},
		{typ: itemEOF, val: ""},
	}

	assertItems(t, cmd, expected)
}

func TestLexerSelectWithJoin(t *testing.T) {
	cmd := "select * from users join orders on users.id = orders.uid where total > 10"

	expected := []item{
		{typ: itemKeyword, val: "select"},
		{typ: itemAsterisk, val: "*"},
		{typ: itemKeyword, val: "from"},
		{typ: itemIdentifier, val: "users"},
		{typ: itemKeyword, val: "join"},
		{typ: itemIdentifier, val: "orders"},
		{typ: itemKeyword, val: "on"},
		{typ: itemIdentifier, val: "users"},
		{typ: itemPeriod, val: "."},
		{typ: itemIdentifier, val: "id"},
		{typ: itemEqual, val: "="},
		{typ: itemIdentifier, val: "orders"},
		{typ: itemPeriod, val: "."},
		{typ: itemIdentifier, val: "uid"},
		{typ: itemKeyword, val: "where"},
		{typ: itemIdentifier, val: "total"},
		{typ: itemGreaterThan, val: ">"},
		{typ: itemInteger, val: "10"},
		{typ: itemEOF, val: ""},
	}

	assertItems(t, cmd, expected)
}

func TestLexerUnclosedString(t *testing.T) {
	got := collectItems(t, "SELECT 'oops")

	last := got[len(got)-1]
	assert.Equal(t, itemError, last.typ, "expected an error token for an unclosed string")
}

func TestLexerTracksPositions(t *testing.T) {
	got := collectItems(t, "DELETE FROM users")

	assert.Equal(t, 0, got[0].pos, "DELETE should start at offset 0")
	assert.Equal(t, 7, got[1].pos, "FROM should start at offset 7")
	assert.Equal(t, 12, got[2].pos, "users should start at offset 12")
}

func TestLexerMalformedNumber(t *testing.T) {
	got := collectItems(t, "SELECT 12ab")

	last := got[len(got)-1]
	assert.Equal(t, itemError, last.typ, "expected an error token for a malformed number")
}
