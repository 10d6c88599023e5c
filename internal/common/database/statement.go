package database

import (
	"errors"
	"strings"
)

var ErrMultiStatement = errors.New("MULTI_STATEMENT_SQL")

// SingleStatement returns sql with one trailing semicolon removed, or
// ErrMultiStatement when a top-level semicolon is followed by anything other
// than whitespace or comments. Quoted strings, quoted identifiers, dollar
// quoted bodies and comments are skipped.
func SingleStatement(sql string) (string, error) {
	end := -1
	i := 0
	for i < len(sql) {
		c := sql[i]
		isComment := c == '-' && i+1 < len(sql) && sql[i+1] == '-' ||
			c == '/' && i+1 < len(sql) && sql[i+1] == '*'
		if end >= 0 && !isSpace(c) && !isComment {
			return "", ErrMultiStatement
		}
		switch {
		case c == '\'' || c == '"':
			i = skipQuoted(sql, i, c)
		case c == '-' && i+1 < len(sql) && sql[i+1] == '-':
			i = skipLineComment(sql, i)
		case c == '/' && i+1 < len(sql) && sql[i+1] == '*':
			i = skipBlockComment(sql, i)
		case c == '$':
			if tag, ok := dollarTag(sql, i); ok {
				i = skipDollarQuoted(sql, i, tag)
			} else {
				i++
			}
		case c == ';':
			end = i
			i++
		default:
			i++
		}
	}

	if end >= 0 {
		sql = sql[:end]
	}
	sql = strings.TrimSpace(sql)
	if sql == "" {
		return "", errors.New("empty SQL statement")
	}
	return sql, nil
}

// skipQuoted returns the index after the closing quote; doubled quotes escape.
func skipQuoted(sql string, start int, quote byte) int {
	i := start + 1
	for i < len(sql) {
		if sql[i] == quote {
			if i+1 < len(sql) && sql[i+1] == quote {
				i += 2
				continue
			}
			return i + 1
		}
		i++
	}
	return len(sql)
}

func skipLineComment(sql string, start int) int {
	if nl := strings.IndexByte(sql[start:], '\n'); nl >= 0 {
		return start + nl + 1
	}
	return len(sql)
}

func skipBlockComment(sql string, start int) int {
	depth := 0
	i := start
	for i < len(sql)-1 {
		switch {
		case sql[i] == '/' && sql[i+1] == '*':
			depth++
			i += 2
		case sql[i] == '*' && sql[i+1] == '/':
			depth--
			i += 2
			if depth == 0 {
				return i
			}
		default:
			i++
		}
	}
	return len(sql)
}

// dollarTag reads a $tag$ opener at start. Positional parameters like $1 are
// not tags, and a $ inside an identifier such as a$x$ never opens a quote.
func dollarTag(sql string, start int) (string, bool) {
	if start > 0 && isIdentByte(sql[start-1]) {
		return "", false
	}
	for i := start + 1; i < len(sql); i++ {
		c := sql[i]
		if c == '$' {
			return sql[start : i+1], true
		}
		if !(c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || i > start+1 && c >= '0' && c <= '9') {
			return "", false
		}
	}
	return "", false
}

func skipDollarQuoted(sql string, start int, tag string) int {
	body := start + len(tag)
	if idx := strings.Index(sql[body:], tag); idx >= 0 {
		return body + idx + len(tag)
	}
	return len(sql)
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f'
}

func isIdentByte(c byte) bool {
	return c == '_' || c == '$' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c >= 0x80
}
