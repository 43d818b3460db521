package frontend

import "fmt"

func (i item) String() string {
	switch i.typ {
	case itemError:
		return i.val
	case itemEOF:
		return "EOF"
	case itemWhitespace:
		return "WHITESPACE"
	}

	// limit to 10 characters if it's too long
	if len(i.val) > 10 {
		return fmt.Sprintf("%.10q...", i.val)
	}

	return fmt.Sprintf("%q", i.val)
}

func (it itemType) String() string {
	switch it {
	case itemError:
		return "Error"
	case itemEOF:
		return "EOF"
	case itemWhitespace:
		return "Whitespace"
	case itemIdentifier:
		return "Identifier"
	case itemInteger:
		return "Integer"
	case itemFloat:
		return "Float"
	case itemString:
		return "String"
	case itemKeyword:
		return "Keyword"
	case itemPeriod:
		return "Period"
	case itemComma:
		return "Comma"
	case itemLeftParen:
		return "LeftParen"
	case itemRightParen:
		return "RightParen"
	case itemSemicolon:
		return "Semicolon"
	case itemEqual:
		return "Equal"
	case itemGreaterThan:
		return "GreaterThan"
	case itemLessThan:
		return "LessThan"
	case itemAsterisk:
		return "Asterisk"
	}

	return "Unknown"
}
