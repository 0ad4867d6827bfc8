package sql

import (
	"strconv"
	"strings"
)

// PlaceholderStyle is an engine's native positional parameter syntax.
type PlaceholderStyle int

const (
	// PlaceholderDollar is $1, $2 (PostgreSQL). Statements are written in this style.
	PlaceholderDollar PlaceholderStyle = iota
	// PlaceholderQuestion is ?1, ?2 (SQLite numbered parameters).
	PlaceholderQuestion
	// PlaceholderAtP is @p1, @p2 (SQL Server).
	PlaceholderAtP
)

// Rebind rewrites $N placeholders outside quoted text into style.
func Rebind(sqlQuery string, style PlaceholderStyle) string {
	if style == PlaceholderDollar || !strings.Contains(sqlQuery, "$") {
		return sqlQuery
	}

	prefix := "?"
	if style == PlaceholderAtP {
		prefix = "@p"
	}

	var b strings.Builder
	b.Grow(len(sqlQuery) + 8)
	last := 0
	walkCode(sqlQuery, func(i int) bool {
		if i < last || sqlQuery[i] != '$' {
			return true
		}
		j := i + 1
		for j < len(sqlQuery) && sqlQuery[j] >= '0' && sqlQuery[j] <= '9' {
			j++
		}
		if j == i+1 {
			return true
		}
		b.WriteString(sqlQuery[last:i])
		b.WriteString(prefix)
		b.WriteString(sqlQuery[i+1 : j])
		last = j
		return true
	})
	b.WriteString(sqlQuery[last:])
	return b.String()
}

// MaxPlaceholder returns the highest $N index used outside quoted text.
func MaxPlaceholder(sqlQuery string) int {
	highest := 0
	walkCode(sqlQuery, func(i int) bool {
		if sqlQuery[i] != '$' {
			return true
		}
		j := i + 1
		for j < len(sqlQuery) && sqlQuery[j] >= '0' && sqlQuery[j] <= '9' {
			j++
		}
		if n, err := strconv.Atoi(sqlQuery[i+1 : j]); err == nil && n > highest {
			highest = n
		}
		return true
	})
	return highest
}
