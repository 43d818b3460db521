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
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

//
// This lexer is based on the design of the lexer in the Go template engine.
// For more check this presentation by Rob Pike: https://www.youtube.com/watch?v=HxaD_trXwRE
//

// item represents a single token
type item struct {
	typ itemType
	val string
	pos int // byte offset of the token in the input
}

// itemType is a SQL token type
type itemType int

const (
	itemError itemType = iota
	itemEOF
	itemWhitespace

	// literals
	itemIdentifier // column name, table name
	itemInteger
	itemFloat
	itemString  // 'hello'
	itemKeyword // SELECT, INSERT, ..

	// symbols
	itemPeriod     // '.'
	itemComma      // ','
	itemLeftParen  // '('
	itemRightParen // ')'
	itemSemicolon  // ';'

	// operators
	itemEqual       // '='
	itemGreaterThan // '>'
	itemLessThan    // '<'
	itemAsterisk    // '*'
)

const eof = -1

// keywordType identifies a recognized SQL keyword
type keywordType int

const (
	keywordCreate keywordType = iota
	keywordTable
	keywordIndex
	keywordOn
	keywordInsert
	keywordInto
	keywordValues
	keywordSelect
	keywordFrom
	keywordJoin
	keywordWhere
	keywordGroup
	keywordBy
	keywordUpdate
	keywordSet
	keywordDelete
	keywordBegin
	keywordCommit
	keywordRollback
	keywordAnd
	keywordLike
	keywordPrimary
	keywordKey
	keywordNot
	keywordNull
	keywordUnique
	keywordForeign
	keywordReferences
	keywordTrue
	keywordFalse

	// data types
	keywordInteger
	keywordReal
	keywordText
	keywordBoolean
	keywordDate
)

// set of keywords. keywords are case-insensitive, the map is keyed by the
// upper case form.
var keywords = map[string]keywordType{
	"CREATE":     keywordCreate,
	"TABLE":      keywordTable,
	"INDEX":      keywordIndex,
	"ON":         keywordOn,
	"INSERT":     keywordInsert,
	"INTO":       keywordInto,
	"VALUES":     keywordValues,
	"SELECT":     keywordSelect,
	"FROM":       keywordFrom,
	"JOIN":       keywordJoin,
	"WHERE":      keywordWhere,
	"GROUP":      keywordGroup,
	"BY":         keywordBy,
	"UPDATE":     keywordUpdate,
	"SET":        keywordSet,
	"DELETE":     keywordDelete,
	"BEGIN":      keywordBegin,
	"COMMIT":     keywordCommit,
	"ROLLBACK":   keywordRollback,
	"AND":        keywordAnd,
	"LIKE":       keywordLike,
	"PRIMARY":    keywordPrimary,
	"KEY":        keywordKey,
	"NOT":        keywordNot,
	"NULL":       keywordNull,
	"UNIQUE":     keywordUnique,
	"FOREIGN":    keywordForeign,
	"REFERENCES": keywordReferences,
	"TRUE":       keywordTrue,
	"FALSE":      keywordFalse,

	"INTEGER": keywordInteger,
	"REAL":    keywordReal,
	"TEXT":    keywordText,
	"BOOLEAN": keywordBoolean,
	"DATE":    keywordDate,
}

// lexer is the sql lexer state machine responsible for tokenizing the input.
type lexer struct {
	name  string    // for error reporting
	input string    // the string being scanned right now
	start int       // start position of the current item
	pos   int       // current position in the input
	width int       // width of last token read from the input
	items chan item // channel of scanned items. tokens are emitted via this
}

// stateFn is a function that takes a lexer and returns the new stateFn
type stateFn func(*lexer) stateFn

// predFn is a function to do predicate based filtering/traversal
type predFn func(rune) bool

//
// Helper functions
//

// next returns the next rune in the input.
func (l *lexer) next() (r rune) {
	if l.pos >= len(l.input) {
		l.width = 0
		return eof
	}
	r, l.width = utf8.DecodeRuneInString(l.input[l.pos:])
	l.pos += l.width
	return r
}

// backup steps back one rune.
// Can be called only once per call of next.
func (l *lexer) backup() {
	l.pos -= l.width
}

// peek returns but does not consume
// the next rune in the input.
func (l *lexer) peek() rune {
	r := l.next()
	l.backup()
	return r
}

// peekSecond returns but does not consume the rune after the next rune.
func (l *lexer) peekSecond() rune {
	if l.pos >= len(l.input) {
		return eof
	}
	_, w := utf8.DecodeRuneInString(l.input[l.pos:])
	if l.pos+w >= len(l.input) {
		return eof
	}
	r, _ := utf8.DecodeRuneInString(l.input[l.pos+w:])
	return r
}

// accept consumes the next rune
// if it's from the valid set.
func (l *lexer) accept(valid string) bool {
	if strings.ContainsRune(valid, l.next()) {
		return true
	}
	l.backup()
	return false
}

// acceptWhile consumes runes while the predFn returns true
// it returns the number of runes accepted
func (l *lexer) acceptWhile(p predFn) (count int) {
	for p(l.next()) {
		count++
	}
	l.backup()
	return count
}

// errorf returns an error token and terminates the scan by passing
// back a nil pointer that will be the next state, terminating l.nextItem.
func (l *lexer) errorf(format string, args ...interface{}) stateFn {
	l.items <- item{typ: itemError, val: fmt.Sprintf(format, args...), pos: l.start}
	return nil
}

// emit passes an item back to the client.
func (l *lexer) emit(t itemType) {
	l.items <- item{typ: t, val: l.input[l.start:l.pos], pos: l.start}
	l.start = l.pos
}

// run starts executing the state machine.
func (l *lexer) run() {
	for state := lexWhitespace; state != nil; {
		state = state(l)
	}

	close(l.items) // no more tokens
}

// isWhitespace checks if a rune is a whitespace
func isWhitespace(ch rune) bool { return ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r' }

// isAlphaNumeric checks if the rune is a letter, digit or underscore.
func isAlphaNumeric(ch rune) bool { return unicode.IsLetter(ch) || unicode.IsDigit(ch) || ch == '_' }

// isDigit checks if the rune is a digit.
func isDigit(ch rune) bool { return ch >= '0' && ch <= '9' }

//
// Public functions used by the consumer of the lexer, in our case the parser.
//

// nextItem returns the next item from the input.
// Called by the parser, not in the lexing goroutine.
func (l *lexer) nextItem() item {
	return <-l.items
}

// newLexer creates a new lexer and starts the state machine
func newLexer(name, input string) (*lexer, chan item) {
	l := &lexer{
		name:  name,
		input: input,
		items: make(chan item),
	}
	go l.run() // Concurrently run state machine.
	return l, l.items
}

//
// State functions - Internal
//

func lexWhitespace(l *lexer) stateFn {
	wcount := l.acceptWhile(isWhitespace)
	if wcount > 0 {
		l.emit(itemWhitespace)
	}

	next := l.peek()

	switch {
	case next == eof:
		l.emit(itemEOF)
		return nil

	case next == '(':
		l.next()
		l.emit(itemLeftParen)
		return lexWhitespace

	case next == ')':
		l.next()
		l.emit(itemRightParen)
		return lexWhitespace

	case next == ',':
		l.next()
		l.emit(itemComma)
		return lexWhitespace

	case next == ';':
		l.next()
		l.emit(itemSemicolon)
		return lexWhitespace

	case next == '.':
		l.next()
		l.emit(itemPeriod)
		return lexWhitespace

	case next == '=':
		l.next()
		l.emit(itemEqual)
		return lexWhitespace

	case next == '>':
		l.next()
		l.emit(itemGreaterThan)
		return lexWhitespace

	case next == '<':
		l.next()
		l.emit(itemLessThan)
		return lexWhitespace

	case next == '*':
		l.next()
		l.emit(itemAsterisk)
		return lexWhitespace

	case next == '\'':
		return lexString

	case next == '-' && isDigit(l.peekSecond()):
		return lexNumber

	case isDigit(next):
		return lexNumber

	case isAlphaNumeric(next):
		return lexIdentifierOrKeyword
	}

	return l.errorf("unknown rune: %c", next)
}

func lexString(l *lexer) stateFn {
	l.next() // opening quote

	for {
		r := l.next()

		if r == eof {
			return l.errorf("unclosed string literal. expected an end quote")
		} else if r == '\'' {
			// found matching quote
			l.emit(itemString)
			return lexWhitespace
		}
	}
}

// lexNumber scans for an integer or a decimal number with an optional
// leading minus sign.
func lexNumber(l *lexer) stateFn {
	l.accept("-")
	l.acceptWhile(unicode.IsDigit)

	isFloat := false
	if l.accept(".") {
		isFloat = true
		l.acceptWhile(unicode.IsDigit)
	}

	if isAlphaNumeric(l.peek()) {
		return l.errorf("malformed number: %s", l.input[l.start:l.pos])
	}

	if isFloat {
		l.emit(itemFloat)
	} else {
		l.emit(itemInteger)
	}
	return lexWhitespace
}

func lexIdentifierOrKeyword(l *lexer) stateFn {
	l.acceptWhile(isAlphaNumeric)

	val := strings.ToUpper(l.input[l.start:l.pos])
	if _, ok := keywords[val]; ok {
		l.emit(itemKeyword)
	} else {
		l.emit(itemIdentifier)
	}

	return lexWhitespace
}
