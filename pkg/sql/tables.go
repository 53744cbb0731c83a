package sql

import (
	"strings"

	"github.com/xwb1989/sqlparser"
)

// ExtractTables returns every table referenced by sqlQuery in first-seen order,
// including tables in joins and subqueries. Qualified names keep their schema
// prefix ("schema.table") and identifier quoting is removed.
// Returns nil if the query cannot be parsed.
func ExtractTables(sqlQuery string) []string {
	trimmed := stripTrailingSemicolons(sqlQuery)
	if trimmed == "" {
		return nil
	}

	stmt, err := sqlparser.Parse(trimmed)
	if err != nil {
		return nil
	}

	var tables []string
	seen := make(map[string]bool)

	// Column qualifiers are also TableName nodes, so only table expressions
	// in FROM/JOIN positions are collected.
	_ = sqlparser.Walk(func(node sqlparser.SQLNode) (bool, error) {
		aliased, ok := node.(*sqlparser.AliasedTableExpr)
		if !ok {
			return true, nil
		}
		name, ok := aliased.Expr.(sqlparser.TableName)
		if !ok || name.IsEmpty() {
			return true, nil
		}
		table := strings.ReplaceAll(sqlparser.String(name), "`", "")
		if !seen[table] {
			seen[table] = true
			tables = append(tables, table)
		}
		return true, nil
	}, stmt)

	return tables
}

// IsSingleTable reports whether sqlQuery references exactly one table.
func IsSingleTable(sqlQuery string) bool {
	return len(ExtractTables(sqlQuery)) == 1
}

// SplitQualifiedName splits "schema.table" into its parts.
// An unqualified name returns an empty schema.
func SplitQualifiedName(name string) (schema, table string) {
	name = strings.TrimSpace(name)
	if idx := strings.LastIndex(name, "."); idx > 0 && idx < len(name)-1 {
		return name[:idx], name[idx+1:]
	}
	return "", name
}
