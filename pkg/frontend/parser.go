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
	"strconv"
	"strings"

	"github.com/dr0pdb/glaciersql/internal/common"
)

// Parser is responsible for parsing the sql string to a statement.
// The grammar is strict: no nested expressions and no boolean operators
// between predicates other than AND.
type Parser struct {
	name  string // only for error reporting and debugging
	lexer *lexer // the lexical scanner

	items []*item // buffered tokens from the lexer for peeking
	pos   int     // next item position in the items buffer

	err error // any error encountered during the parsing process
}

// aggregate function names. these are ordinary identifiers in the lexer.
var aggFuncs = map[string]AggFunc{
	"COUNT": AggCount,
	"SUM":   AggSum,
	"AVG":   AggAvg,
	"MIN":   AggMin,
	"MAX":   AggMax,
}

//
// Public functions
//

// Parse the input to a statement
func (p *Parser) Parse() (Statement, error) {
	st, err := p.parseStatement()
	if err != nil {
		return nil, err
	}

	// optional trailing semicolon
	p.nextTokenIf(func(it *item) bool {
		return it.typ == itemSemicolon
	})

	it := p.nextToken()
	if it.typ != itemEOF {
		return nil, p.syntaxErrorf(it, "unexpected trailing token %s", it)
	}
	if p.err != nil {
		return nil, p.err
	}

	return st, nil
}

// NewParser creates a parser for the given input
func NewParser(name, input string) *Parser {
	lex, _ := newLexer(name, input)

	return &Parser{
		name:  name,
		lexer: lex,
		items: make([]*item, 0),
	}
}

//
// Internal functions
//

// parseStatement parses a sql statement.
// starting point of the core parsing process.
func (p *Parser) parseStatement() (Statement, error) {
	it := p.peek()
	if it.typ == itemError {
		return nil, p.syntaxErrorf(it, "%s", it.val)
	}

	if it.typ != itemKeyword {
		return nil, p.syntaxErrorf(it, "expected a keyword token, found %s", it)
	}

	switch keywords[strings.ToUpper(it.val)] {
	case keywordCreate:
		return p.parseCreate()

	case keywordInsert:
		return p.parseInsert()
	case keywordSelect:
		return p.parseSelect()
	case keywordUpdate:
		return p.parseUpdate()
	case keywordDelete:
		return p.parseDelete()

	case keywordBegin, keywordCommit, keywordRollback:
		return p.parseTransaction()

	default:
		return nil, p.syntaxErrorf(it, "unexpected keyword %s at the start of a statement", it.val)
	}
}

// parseCreate parses CREATE TABLE and CREATE INDEX statements.
// It assumes that the first token is the CREATE keyword.
func (p *Parser) parseCreate() (Statement, error) {
	_ = p.nextToken() // has to be CREATE

	kind := p.nextToken()
	switch {
	case isKeyword(kind, keywordTable):
		return p.parseCreateTable()
	case isKeyword(kind, keywordIndex):
		return p.parseCreateIndex()
	}

	return nil, p.syntaxErrorf(kind, "expected keyword TABLE or INDEX after CREATE")
}

func (p *Parser) parseCreateTable() (Statement, error) {
	tableName, err := p.nextTokenIdentifier()
	if err != nil {
		return nil, err
	}

	if _, err = p.nextTokenExpect(itemLeftParen); err != nil {
		return nil, err
	}

	// a table-level FOREIGN KEY definition names the constrained column
	// explicitly; it's resolved against the column list once all the
	// definitions are in.
	type fkDef struct {
		it        *item // for error reporting
		column    string
		refTable  string
		refColumn string
	}

	var cols []*ColumnSpec
	var fks []fkDef

	for {
		if fkItem := p.peek(); isKeyword(fkItem, keywordForeign) {
			col, refTable, refColumn, err := p.parseForeignKeyClause()
			if err != nil {
				return nil, err
			}
			fks = append(fks, fkDef{it: fkItem, column: col, refTable: refTable, refColumn: refColumn})
		} else {
			col, err := p.parseSingleColumnSpec()
			if err != nil {
				return nil, err
			}
			cols = append(cols, col)
		}

		comma := p.nextTokenIf(func(it *item) bool {
			return it.typ == itemComma
		})
		if comma == nil { // last definition
			break
		}
	}

	if _, err = p.nextTokenExpect(itemRightParen); err != nil {
		return nil, err
	}

	for _, fk := range fks {
		var target *ColumnSpec
		for _, c := range cols {
			if c.Name == fk.column {
				target = c
				break
			}
		}
		if target == nil {
			return nil, p.syntaxErrorf(fk.it, "FOREIGN KEY names unknown column %s", fk.column)
		}
		target.RefTable = fk.refTable
		target.RefColumn = fk.refColumn
	}

	spec := &TableSpec{TableName: tableName.val, Columns: cols}
	return &CreateTableStatement{Spec: spec}, nil
}

// parseForeignKeyClause parses FOREIGN KEY (<col>) REFERENCES <table>(<col>)
// with the leading FOREIGN keyword still unconsumed.
func (p *Parser) parseForeignKeyClause() (column, refTable, refColumn string, err error) {
	_ = p.nextToken() // FOREIGN

	key := p.nextToken()
	if !isKeyword(key, keywordKey) {
		return "", "", "", p.syntaxErrorf(key, "expected keyword KEY after FOREIGN")
	}

	if _, err = p.nextTokenExpect(itemLeftParen); err != nil {
		return "", "", "", err
	}
	col, err := p.nextTokenIdentifier()
	if err != nil {
		return "", "", "", err
	}
	if _, err = p.nextTokenExpect(itemRightParen); err != nil {
		return "", "", "", err
	}

	refs := p.nextToken()
	if !isKeyword(refs, keywordReferences) {
		return "", "", "", p.syntaxErrorf(refs, "expected keyword REFERENCES in FOREIGN KEY definition")
	}

	refTbl, err := p.nextTokenIdentifier()
	if err != nil {
		return "", "", "", err
	}
	if _, err = p.nextTokenExpect(itemLeftParen); err != nil {
		return "", "", "", err
	}
	refCol, err := p.nextTokenIdentifier()
	if err != nil {
		return "", "", "", err
	}
	if _, err = p.nextTokenExpect(itemRightParen); err != nil {
		return "", "", "", err
	}

	return col.val, refTbl.val, refCol.val, nil
}

func (p *Parser) parseSingleColumnSpec() (*ColumnSpec, error) {
	colName, err := p.nextTokenIdentifier()
	if err != nil {
		return nil, err
	}

	colType, err := p.nextTokenKeyword()
	if err != nil {
		return nil, err
	}

	var typ FieldType
	switch keywords[strings.ToUpper(colType.val)] {
	case keywordInteger:
		typ = FieldTypeInteger
	case keywordReal:
		typ = FieldTypeReal
	case keywordText:
		typ = FieldTypeText
	case keywordBoolean:
		typ = FieldTypeBoolean
	case keywordDate:
		typ = FieldTypeDate
	default:
		return nil, p.syntaxErrorf(colType, "expected a data type for column %s", colName.val)
	}

	cs := &ColumnSpec{
		Name: colName.val,
		Type: typ,
	}

	// column constraints such as NOT NULL, UNIQUE..
	for {
		kwd := p.nextTokenIf(func(i *item) bool {
			return i.typ == itemKeyword && keywords[strings.ToUpper(i.val)] != keywordForeign
		})
		if kwd == nil {
			// an inline FOREIGN KEY (<col>) REFERENCES ... constraint
			if fkItem := p.peek(); isKeyword(fkItem, keywordForeign) {
				col, refTable, refColumn, err := p.parseForeignKeyClause()
				if err != nil {
					return nil, err
				}
				if col != cs.Name {
					return nil, p.syntaxErrorf(fkItem, "inline FOREIGN KEY must name its own column %s", cs.Name)
				}
				cs.RefTable = refTable
				cs.RefColumn = refColumn
				continue
			}
			break
		}

		switch keywords[strings.ToUpper(kwd.val)] {
		case keywordPrimary:
			key, err := p.nextTokenKeyword()
			if err != nil || keywords[strings.ToUpper(key.val)] != keywordKey {
				return nil, p.syntaxErrorf(kwd, "expected keyword KEY after PRIMARY")
			}
			cs.PrimaryKey = true

		case keywordNot:
			null, err := p.nextTokenKeyword()
			if err != nil || keywords[strings.ToUpper(null.val)] != keywordNull {
				return nil, p.syntaxErrorf(kwd, "expected keyword NULL after NOT")
			}
			cs.NotNull = true

		case keywordUnique:
			cs.Unique = true

		default:
			return nil, p.syntaxErrorf(kwd, "unknown keyword %s in the column specification", kwd.val)
		}
	}

	return cs, nil
}

func (p *Parser) parseCreateIndex() (Statement, error) {
	name, err := p.nextTokenIdentifier()
	if err != nil {
		return nil, err
	}

	on := p.nextToken()
	if !isKeyword(on, keywordOn) {
		return nil, p.syntaxErrorf(on, "expected keyword ON after the index name")
	}

	tableName, err := p.nextTokenIdentifier()
	if err != nil {
		return nil, err
	}

	if _, err = p.nextTokenExpect(itemLeftParen); err != nil {
		return nil, err
	}
	col, err := p.nextTokenIdentifier()
	if err != nil {
		return nil, err
	}
	if _, err = p.nextTokenExpect(itemRightParen); err != nil {
		return nil, err
	}

	return &CreateIndexStatement{Name: name.val, TableName: tableName.val, Column: col.val}, nil
}

func (p *Parser) parseInsert() (Statement, error) {
	_ = p.nextToken() // has to be INSERT

	into := p.nextToken()
	if !isKeyword(into, keywordInto) {
		return nil, p.syntaxErrorf(into, "expected keyword INTO after INSERT")
	}

	tableName, err := p.nextTokenIdentifier()
	if err != nil {
		return nil, err
	}

	values := p.nextToken()
	if !isKeyword(values, keywordValues) {
		return nil, p.syntaxErrorf(values, "expected keyword VALUES after the table name")
	}

	if _, err = p.nextTokenExpect(itemLeftParen); err != nil {
		return nil, err
	}

	var vals []Value
	for {
		v, err := p.parseLiteral()
		if err != nil {
			return nil, err
		}
		vals = append(vals, v)

		comma := p.nextTokenIf(func(it *item) bool {
			return it.typ == itemComma
		})
		if comma == nil { // last value
			break
		}
	}

	if _, err = p.nextTokenExpect(itemRightParen); err != nil {
		return nil, err
	}

	return &InsertStatement{TableName: tableName.val, Values: vals}, nil
}

func (p *Parser) parseSelect() (Statement, error) {
	_ = p.nextToken() // has to be SELECT

	stmt := &SelectStatement{}

	for {
		proj, err := p.parseProjectionItem()
		if err != nil {
			return nil, err
		}
		stmt.Projections = append(stmt.Projections, proj)

		comma := p.nextTokenIf(func(it *item) bool {
			return it.typ == itemComma
		})
		if comma == nil { // last projection
			break
		}
	}

	from := p.nextToken()
	if !isKeyword(from, keywordFrom) {
		return nil, p.syntaxErrorf(from, "expected keyword FROM after the projection list")
	}

	tableName, err := p.nextTokenIdentifier()
	if err != nil {
		return nil, err
	}
	stmt.From = tableName.val

	// optional JOIN <table> ON <table>.<col> = <table>.<col>
	if joinToken := p.nextTokenIf(func(it *item) bool {
		return isKeyword(it, keywordJoin)
	}); joinToken != nil {
		join := &JoinClause{}

		right, err := p.nextTokenIdentifier()
		if err != nil {
			return nil, err
		}
		join.TableName = right.val

		on := p.nextToken()
		if !isKeyword(on, keywordOn) {
			return nil, p.syntaxErrorf(on, "expected keyword ON after the joined table name")
		}

		left, err := p.parseQualifiedColumnRef()
		if err != nil {
			return nil, err
		}
		if _, err = p.nextTokenExpect(itemEqual); err != nil {
			return nil, err
		}
		rightRef, err := p.parseQualifiedColumnRef()
		if err != nil {
			return nil, err
		}

		join.Left = left
		join.Right = rightRef
		stmt.Join = join
	}

	stmt.Where, err = p.parseOptionalWhere()
	if err != nil {
		return nil, err
	}

	// optional GROUP BY <col> {, <col>}*
	if groupToken := p.nextTokenIf(func(it *item) bool {
		return isKeyword(it, keywordGroup)
	}); groupToken != nil {
		by := p.nextToken()
		if !isKeyword(by, keywordBy) {
			return nil, p.syntaxErrorf(by, "expected keyword BY after GROUP")
		}

		for {
			ref, err := p.parseColumnRef()
			if err != nil {
				return nil, err
			}
			stmt.GroupBy = append(stmt.GroupBy, ref)

			comma := p.nextTokenIf(func(it *item) bool {
				return it.typ == itemComma
			})
			if comma == nil { // last grouping column
				break
			}
		}
	}

	return stmt, nil
}

func (p *Parser) parseProjectionItem() (*ProjectionItem, error) {
	if star := p.nextTokenIf(func(it *item) bool {
		return it.typ == itemAsterisk
	}); star != nil {
		return &ProjectionItem{Star: true}, nil
	}

	ident, err := p.nextTokenIdentifier()
	if err != nil {
		return nil, err
	}

	// an identifier followed by '(' is an aggregate call
	if agg, ok := aggFuncs[strings.ToUpper(ident.val)]; ok {
		if lp := p.nextTokenIf(func(it *item) bool {
			return it.typ == itemLeftParen
		}); lp != nil {
			proj := &ProjectionItem{Agg: agg}

			if star := p.nextTokenIf(func(it *item) bool {
				return it.typ == itemAsterisk
			}); star != nil {
				if agg != AggCount {
					return nil, p.syntaxErrorf(star, "%s(*) is not valid; only COUNT accepts *", agg)
				}
				proj.AggStar = true
			} else {
				ref, err := p.parseColumnRef()
				if err != nil {
					return nil, err
				}
				proj.Col = ref
			}

			if _, err = p.nextTokenExpect(itemRightParen); err != nil {
				return nil, err
			}
			return proj, nil
		}
	}

	ref, err := p.finishColumnRef(ident)
	if err != nil {
		return nil, err
	}
	return &ProjectionItem{Col: ref}, nil
}

// parseColumnRef parses <col> or <table>.<col>
func (p *Parser) parseColumnRef() (ColumnRef, error) {
	ident, err := p.nextTokenIdentifier()
	if err != nil {
		return ColumnRef{}, err
	}
	return p.finishColumnRef(ident)
}

// finishColumnRef completes a column reference whose first identifier has
// already been consumed.
func (p *Parser) finishColumnRef(first *item) (ColumnRef, error) {
	if period := p.nextTokenIf(func(it *item) bool {
		return it.typ == itemPeriod
	}); period != nil {
		col, err := p.nextTokenIdentifier()
		if err != nil {
			return ColumnRef{}, err
		}
		return ColumnRef{Table: first.val, Column: col.val}, nil
	}

	return ColumnRef{Column: first.val}, nil
}

// parseQualifiedColumnRef parses <table>.<col>; the qualifier is mandatory.
func (p *Parser) parseQualifiedColumnRef() (ColumnRef, error) {
	table, err := p.nextTokenIdentifier()
	if err != nil {
		return ColumnRef{}, err
	}
	if _, err = p.nextTokenExpect(itemPeriod); err != nil {
		return ColumnRef{}, err
	}
	col, err := p.nextTokenIdentifier()
	if err != nil {
		return ColumnRef{}, err
	}

	return ColumnRef{Table: table.val, Column: col.val}, nil
}

// parseOptionalWhere parses [ WHERE <pred> {AND <pred>}* ]
func (p *Parser) parseOptionalWhere() ([]*Predicate, error) {
	whereToken := p.nextTokenIf(func(it *item) bool {
		return isKeyword(it, keywordWhere)
	})
	if whereToken == nil {
		return nil, nil
	}

	var preds []*Predicate
	for {
		pred, err := p.parsePredicate()
		if err != nil {
			return nil, err
		}
		preds = append(preds, pred)

		and := p.nextTokenIf(func(it *item) bool {
			return isKeyword(it, keywordAnd)
		})
		if and == nil { // last predicate
			break
		}
	}

	return preds, nil
}

// parsePredicate parses a single <col> OP <literal> conjunct
func (p *Parser) parsePredicate() (*Predicate, error) {
	ref, err := p.parseColumnRef()
	if err != nil {
		return nil, err
	}

	opToken := p.nextToken()
	var op Operator
	switch {
	case opToken.typ == itemEqual:
		op = OperatorEqual
	case opToken.typ == itemLessThan:
		op = OperatorLessThan
	case opToken.typ == itemGreaterThan:
		op = OperatorGreaterThan
	case isKeyword(opToken, keywordLike):
		op = OperatorLike
	default:
		return nil, p.syntaxErrorf(opToken, "expected an operator (=, <, >, LIKE), found %s", opToken)
	}

	operand, err := p.parseLiteral()
	if err != nil {
		return nil, err
	}

	return &Predicate{Col: ref, Op: op, Operand: operand}, nil
}

func (p *Parser) parseUpdate() (Statement, error) {
	_ = p.nextToken() // has to be UPDATE

	tableName, err := p.nextTokenIdentifier()
	if err != nil {
		return nil, err
	}

	set := p.nextToken()
	if !isKeyword(set, keywordSet) {
		return nil, p.syntaxErrorf(set, "expected keyword SET after the table name")
	}

	stmt := &UpdateStatement{TableName: tableName.val}

	for {
		col, err := p.nextTokenIdentifier()
		if err != nil {
			return nil, err
		}
		if _, err = p.nextTokenExpect(itemEqual); err != nil {
			return nil, err
		}
		val, err := p.parseLiteral()
		if err != nil {
			return nil, err
		}
		stmt.Assignments = append(stmt.Assignments, &Assignment{Column: col.val, Value: val})

		comma := p.nextTokenIf(func(it *item) bool {
			return it.typ == itemComma
		})
		if comma == nil { // last assignment
			break
		}
	}

	stmt.Where, err = p.parseOptionalWhere()
	if err != nil {
		return nil, err
	}

	return stmt, nil
}

func (p *Parser) parseDelete() (Statement, error) {
	_ = p.nextToken() // has to be DELETE

	from := p.nextToken()
	if !isKeyword(from, keywordFrom) {
		return nil, p.syntaxErrorf(from, "expected keyword FROM after DELETE")
	}

	tableName, err := p.nextTokenIdentifier()
	if err != nil {
		return nil, err
	}

	stmt := &DeleteStatement{TableName: tableName.val}

	stmt.Where, err = p.parseOptionalWhere()
	if err != nil {
		return nil, err
	}

	return stmt, nil
}

// parseTransaction parses a transaction statement
func (p *Parser) parseTransaction() (Statement, error) {
	kwd, err := p.nextTokenKeyword()
	if err != nil {
		return nil, err
	}

	switch keywords[strings.ToUpper(kwd.val)] {
	case keywordBegin:
		return &BeginTxnStatement{}, nil
	case keywordCommit:
		return &FinishTxnStatement{IsCommit: true}, nil
	case keywordRollback:
		return &FinishTxnStatement{IsCommit: false}, nil
	}

	return nil, p.syntaxErrorf(kwd, "expected BEGIN, COMMIT or ROLLBACK")
}

// parseLiteral parses a single literal value: a decimal integer, a decimal
// with '.', a single quoted string, TRUE/FALSE or NULL.
func (p *Parser) parseLiteral() (Value, error) {
	it := p.nextToken()

	switch it.typ {
	case itemInteger:
		v, err := strconv.ParseInt(it.val, 10, 64)
		if err != nil {
			return Value{}, p.syntaxErrorf(it, "malformed integer literal %s", it.val)
		}
		return NewIntegerValue(v), nil

	case itemFloat:
		v, err := strconv.ParseFloat(it.val, 64)
		if err != nil {
			return Value{}, p.syntaxErrorf(it, "malformed decimal literal %s", it.val)
		}
		return NewRealValue(v), nil

	case itemString:
		// strip the surrounding quotes; no escapes inside
		return NewTextValue(it.val[1 : len(it.val)-1]), nil

	case itemKeyword:
		switch keywords[strings.ToUpper(it.val)] {
		case keywordTrue:
			return NewBooleanValue(true), nil
		case keywordFalse:
			return NewBooleanValue(false), nil
		case keywordNull:
			return NewNullValue(), nil
		}
	}

	return Value{}, p.syntaxErrorf(it, "expected a literal, found %s", it)
}

// isKeyword checks if the given item is the given keyword or not
func isKeyword(it *item, key keywordType) bool {
	if it != nil && it.typ == itemKeyword && keywords[strings.ToUpper(it.val)] == key {
		return true
	}

	return false
}

// syntaxErrorf records and returns a SyntaxError anchored at the given token.
func (p *Parser) syntaxErrorf(it *item, format string, args ...interface{}) error {
	pos := 0
	if it != nil {
		pos = it.pos
	}
	p.err = common.NewSyntaxError(pos, fmt.Sprintf(format, args...))
	return p.err
}

// nextToken returns the next item from the lexer
// it consumes the item by incrementing pos
// NOTE: It ignores the whitespace token
func (p *Parser) nextToken() *item {
	if p.pos < len(p.items) {
		p.pos++
		return p.items[p.pos-1]
	}

	if p.pos > len(p.items) {
		panic("glaciersql::parser::nextToken: invalid value of pos. exceeded length of buffered entries")
	}

	var it item
	for {
		it = p.lexer.nextItem()
		if it.typ != itemWhitespace {
			p.items = append(p.items, &it)
			p.pos++
			break
		}
	}

	return &it
}

// peek peeks the next item from the lexer but doesn't consume it.
func (p *Parser) peek() *item {
	it := p.nextToken()
	p.pos-- // revert change to pos
	return it
}

// nextTokenIf returns the next token if it satisfies the given predicate
// if the given predicate is satisfied, the parser is advanced otherwise not
func (p *Parser) nextTokenIf(pred func(*item) bool) *item {
	it := p.peek()

	if pred(it) {
		p.nextToken() // advance pos
		return it
	}

	return nil
}

// nextTokenExpect returns the next token if it's of the expected type.
// it records an error otherwise
func (p *Parser) nextTokenExpect(expected itemType) (*item, error) {
	it := p.nextToken()
	if it.typ == expected {
		return it, nil
	}

	return nil, p.syntaxErrorf(it, "expected token %s, found %s", expected, it)
}

// nextTokenKeyword returns the next token if it's a keyword.
// it records an error otherwise
func (p *Parser) nextTokenKeyword() (*item, error) {
	it := p.peek()
	if it.typ == itemKeyword {
		p.nextToken()
		return it, nil
	}

	return nil, p.syntaxErrorf(it, "expected a keyword token, found %s", it)
}

func (p *Parser) nextTokenIdentifier() (*item, error) {
	it := p.peek()
	if it.typ == itemIdentifier {
		p.nextToken()
		return it, nil
	}

	return nil, p.syntaxErrorf(it, "expected an identifier token, found %s", it)
}
