// Package sql provides SQL normalization, fingerprinting and table extraction
// used to derive a stable identity for registered datasets.
package sql

import (
	"crypto/md5"
	"encoding/hex"
	"strings"
	"unicode"

	"github.com/xwb1989/sqlparser"

	"github.com/ekaya-inc/catalog-sync/pkg/models"
)

// Normalize returns a canonical form of sqlQuery.
//
// The query is trimmed, trailing semicolons are stripped, and the result is
// round-tripped through the SQL parser (which lowercases keywords and
// canonicalizes spacing). If the query cannot be parsed, the trimmed text is
// used as-is. Whitespace runs are collapsed to a single space in both cases.
//
// Normalize is idempotent: Normalize(Normalize(s)) == Normalize(s).
func Normalize(sqlQuery string) string {
	trimmed := stripTrailingSemicolons(sqlQuery)
	if trimmed == "" {
		return ""
	}

	stmt, err := sqlparser.Parse(trimmed)
	if err != nil {
		return collapseWhitespace(trimmed)
	}

	return collapseWhitespace(stripTrailingSemicolons(sqlparser.String(stmt)))
}

// NormalizeForEngine returns the canonical form of sqlQuery for the given
// local engine type.
//
// Only MySQL queries are round-tripped through the parser, whose grammar would
// otherwise turn quoted identifiers into string literals and reorder
// LIMIT/OFFSET. Other engines get a lexical pass that keeps quoted text
// byte-for-byte, drops comments and collapses whitespace. PostgreSQL and
// SQL Server fold unquoted text to lower case since both treat unquoted
// identifiers and keywords case-insensitively; other engines keep case.
func NormalizeForEngine(sqlQuery, engineType string) string {
	switch engineType {
	case models.EngineTypeMySQL:
		return Normalize(sqlQuery)
	case models.EngineTypePostgreSQL:
		return normalizeLexical(sqlQuery, lexicalRules{foldCase: true})
	case models.EngineTypeSQLServer:
		return normalizeLexical(sqlQuery, lexicalRules{foldCase: true, brackets: true})
	default:
		return normalizeLexical(sqlQuery, lexicalRules{})
	}
}

// NormalizeText collapses whitespace and drops comments outside quoted text
// without changing case or parsing. It suits comparing SQL whose engine is
// unknown.
func NormalizeText(sqlQuery string) string {
	return normalizeLexical(sqlQuery, lexicalRules{})
}

// Fingerprint returns the hex MD5 of an already-normalized query.
func Fingerprint(normalizedSQL string) string {
	sum := md5.Sum([]byte(normalizedSQL))
	return hex.EncodeToString(sum[:])
}

// NormalizeAndFingerprint normalizes sqlQuery and returns both the canonical
// text and its fingerprint.
func NormalizeAndFingerprint(sqlQuery string) (string, string) {
	normalized := Normalize(sqlQuery)
	return normalized, Fingerprint(normalized)
}

// NormalizeAndFingerprintForEngine is NormalizeAndFingerprint using the rules
// of NormalizeForEngine.
func NormalizeAndFingerprintForEngine(sqlQuery, engineType string) (string, string) {
	normalized := NormalizeForEngine(sqlQuery, engineType)
	return normalized, Fingerprint(normalized)
}

// NormalizeExpression canonicalizes a column or metric expression for comparison.
// Unlike Normalize it does not invoke the parser, since expressions are fragments.
func NormalizeExpression(expr string) string {
	return strings.ToLower(collapseWhitespace(stripTrailingSemicolons(expr)))
}

// stripTrailingSemicolons removes surrounding whitespace and every trailing
// semicolon, including semicolons separated by whitespace.
func stripTrailingSemicolons(sqlQuery string) string {
	sqlQuery = strings.TrimSpace(sqlQuery)
	for strings.HasSuffix(sqlQuery, ";") {
		sqlQuery = strings.TrimSpace(strings.TrimSuffix(sqlQuery, ";"))
	}
	return sqlQuery
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

type lexicalRules struct {
	foldCase bool
	brackets bool // [identifier] quoting
}

// normalizeLexical rewrites only text outside quotes and comments. Unterminated
// quotes and comments run to the end of the query.
func normalizeLexical(sqlQuery string, rules lexicalRules) string {
	src := []rune(stripTrailingSemicolons(sqlQuery))
	var b strings.Builder
	pendingSpace := false

	emit := func(chunk []rune) {
		if pendingSpace && b.Len() > 0 {
			b.WriteByte(' ')
		}
		pendingSpace = false
		b.WriteString(string(chunk))
	}

	for i := 0; i < len(src); {
		c := src[i]
		switch {
		case unicode.IsSpace(c):
			pendingSpace = true
			i++
		case c == '-' && i+1 < len(src) && src[i+1] == '-':
			end := indexRune(src, i+2, '\n')
			pendingSpace = true
			i = end
		case c == '/' && i+1 < len(src) && src[i+1] == '*':
			end := indexSeq(src, i+2, []rune("*/"))
			pendingSpace = true
			i = end
		case c == '\'' || c == '"' || c == '`':
			end := closingQuote(src, i+1, c)
			emit(src[i:end])
			i = end
		case c == '[' && rules.brackets:
			end := closingQuote(src, i+1, ']')
			emit(src[i:end])
			i = end
		case c == '$':
			if tag := dollarTag(src, i); tag != nil {
				end := indexSeq(src, i+len(tag), tag)
				emit(src[i:end])
				i = end
				continue
			}
			emit(src[i : i+1])
			i++
		default:
			if rules.foldCase {
				c = unicode.ToLower(c)
			}
			emit([]rune{c})
			i++
		}
	}

	return stripTrailingSemicolons(b.String())
}

// closingQuote returns the index just past the quote closing at or after
// start. Doubled quotes are escapes and stay inside the quoted run.
func closingQuote(src []rune, start int, quote rune) int {
	for i := start; i < len(src); i++ {
		if src[i] != quote {
			continue
		}
		if i+1 < len(src) && src[i+1] == quote {
			i++
			continue
		}
		return i + 1
	}
	return len(src)
}

// dollarTag returns the PostgreSQL dollar-quote opener ($$ or $tag$) at i, or nil.
func dollarTag(src []rune, i int) []rune {
	for j := i + 1; j < len(src); j++ {
		c := src[j]
		if c == '$' {
			return src[i : j+1]
		}
		if c != '_' && !unicode.IsLetter(c) && (j == i+1 || !unicode.IsDigit(c)) {
			return nil
		}
	}
	return nil
}

// indexRune returns the index of r at or after start, or len(src).
func indexRune(src []rune, start int, r rune) int {
	for i := start; i < len(src); i++ {
		if src[i] == r {
			return i
		}
	}
	return len(src)
}

// indexSeq returns the index just past seq at or after start, or len(src).
func indexSeq(src []rune, start int, seq []rune) int {
	for i := start; i+len(seq) <= len(src); i++ {
		match := true
		for k := range seq {
			if src[i+k] != seq[k] {
				match = false
				break
			}
		}
		if match {
			return i + len(seq)
		}
	}
	return len(src)
}
