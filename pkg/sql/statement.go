package sql

import (
	"regexp"
	"strings"

	"github.com/xwb1989/sqlparser"
)

// StatementType classifies a statement by what it does to the database.
type StatementType string

const (
	StatementSelect  StatementType = "SELECT"
	StatementModify  StatementType = "MODIFY" // INSERT, REPLACE, UPDATE, DELETE
	StatementDDL     StatementType = "DDL"    // CREATE, ALTER, DROP, TRUNCATE, RENAME
	StatementUnknown StatementType = "UNKNOWN"
)

// modifyingCTEPattern matches CTEs that contain data-modifying operations,
// e.g. WITH deleted AS (DELETE FROM ...) SELECT * FROM deleted.
var modifyingCTEPattern = regexp.MustCompile(`(?i)\bAS\s*\(\s*(INSERT|UPDATE|DELETE)\b`)

// DetectStatementType classifies sqlQuery by its leading keyword, ignoring
// leading comments and parentheses. A WITH query is a SELECT unless one of
// its CTEs modifies data.
func DetectStatementType(sqlQuery string) StatementType {
	trimmed := strings.TrimSpace(sqlparser.StripLeadingComments(sqlQuery))
	if trimmed == "" {
		return StatementUnknown
	}

	head := strings.ToUpper(strings.TrimLeft(trimmed, "( \t\r\n"))
	if strings.HasPrefix(head, "WITH") {
		if modifyingCTEPattern.MatchString(trimmed) {
			return StatementModify
		}
		return StatementSelect
	}

	switch sqlparser.Preview(trimmed) {
	case sqlparser.StmtSelect:
		return StatementSelect
	case sqlparser.StmtInsert, sqlparser.StmtReplace, sqlparser.StmtUpdate, sqlparser.StmtDelete:
		return StatementModify
	case sqlparser.StmtDDL:
		return StatementDDL
	default:
		return StatementUnknown
	}
}

// IsReadOnly reports whether sqlQuery is a query a virtual dataset can wrap.
func IsReadOnly(sqlQuery string) bool {
	return DetectStatementType(sqlQuery) == StatementSelect
}
