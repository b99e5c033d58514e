package sqldb

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/specialistvlad/privacyflow/internal/record"
)

// dialect holds what differs between the supported engines.
type dialect struct {
	driver string
	quote  func(ident string) string
}

var (
	sqliteDialect = dialect{
		driver: "sqlite3",
		quote:  func(s string) string { return `"` + strings.ReplaceAll(s, `"`, `""`) + `"` },
	}
	mysqlDialect = dialect{
		driver: "mysql",
		quote:  func(s string) string { return "`" + strings.ReplaceAll(s, "`", "``") + "`" },
	}
)

// selectQuery builds a SELECT matching any of the tuples. Each tuple is an
// AND of equalities and tuples are OR-ed together.
func (d dialect) selectQuery(table string, columns []string, input record.Input) (string, []any) {
	cols := make([]string, len(columns))
	for i, c := range columns {
		cols[i] = d.quote(c)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "SELECT %s FROM %s WHERE ", strings.Join(cols, ", "), d.quote(table))

	args := make([]any, 0, len(input.Tuples)*len(input.Fields))
	for i, tuple := range input.Tuples {
		if i > 0 {
			sb.WriteString(" OR ")
		}
		sb.WriteByte('(')
		for j, f := range input.Fields {
			if j > 0 {
				sb.WriteString(" AND ")
			}
			sb.WriteString(d.quote(f))
			sb.WriteString(" = ?")
			args = append(args, tuple[j])
		}
		sb.WriteByte(')')
	}
	return sb.String(), args
}

// updateQuery builds an UPDATE of the given values by primary key. Column
// order is sorted so statements are stable.
func (d dialect) updateQuery(table string, values map[string]any, key map[string]any) (string, []any) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "UPDATE %s SET ", d.quote(table))
	args := make([]any, 0, len(values)+len(key))
	for i, col := range slices.Sorted(maps.Keys(values)) {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(d.quote(col))
		sb.WriteString(" = ?")
		args = append(args, values[col])
	}
	where, keyArgs := d.keyClause(key)
	sb.WriteString(where)
	return sb.String(), append(args, keyArgs...)
}

// deleteQuery builds a DELETE by primary key.
func (d dialect) deleteQuery(table string, key map[string]any) (string, []any) {
	where, args := d.keyClause(key)
	return "DELETE FROM " + d.quote(table) + where, args
}

func (d dialect) keyClause(key map[string]any) (string, []any) {
	var sb strings.Builder
	sb.WriteString(" WHERE ")
	args := make([]any, 0, len(key))
	for i, col := range slices.Sorted(maps.Keys(key)) {
		if i > 0 {
			sb.WriteString(" AND ")
		}
		sb.WriteString(d.quote(col))
		sb.WriteString(" = ?")
		args = append(args, key[col])
	}
	return sb.String(), args
}
