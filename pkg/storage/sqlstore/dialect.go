package sqlstore

import (
	"strconv"
	"strings"
)

// Dialect captures the differences between the supported SQL engines.
type Dialect struct {
	// Name is the database/sql driver name.
	Name string
	// numbered placeholders ($1, $2, ...) instead of ?.
	numbered bool
	// lockRow is appended to the SELECT that opens a lockout update.
	lockRow string
}

var (
	Postgres = Dialect{Name: "postgres", numbered: true, lockRow: " FOR UPDATE"}
	// SQLite has no row locks; the store runs it on a single connection so
	// transactions are serialized.
	SQLite = Dialect{Name: "sqlite3"}
)

// rebind rewrites ? placeholders for the dialect.
func (d Dialect) rebind(query string) string {
	if !d.numbered {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}
