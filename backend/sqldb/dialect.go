package sqldb

import (
	"math"
	"strconv"
	"strings"
)

// Dialect captures the SQL differences between engines.
type Dialect interface {
	// Name identifies the dialect in logs.
	Name() string

	// QuoteIdent quotes a single identifier.
	QuoteIdent(ident string) string
}

var (
	// ANSI quotes identifiers with double quotes. It suits Postgres, DuckDB
	// and most engines.
	ANSI Dialect = ansi{}

	// MySQL quotes identifiers with backticks.
	MySQL Dialect = mysql{}
)

type ansi struct{}

func (ansi) Name() string { return "ansi" }

func (ansi) QuoteIdent(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

type mysql struct{}

func (mysql) Name() string { return "mysql" }

func (mysql) QuoteIdent(ident string) string {
	return "`" + strings.ReplaceAll(ident, "`", "``") + "`"
}

// quoteName quotes a possibly qualified name such as schema.table.
func quoteName(d Dialect, name string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = d.QuoteIdent(p)
	}
	return strings.Join(parts, ".")
}

// quoteString renders s as a SQL string literal.
func quoteString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// number renders v as a non-integer numeric literal so that divisions never
// truncate. Negative literals are parenthesized. v must be finite.
func number(v float64) string {
	s := strconv.FormatFloat(v, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	if v < 0 {
		s = "(" + s + ")"
	}
	return s
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }
