package cache

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"sync"

	_ "github.com/lib/pq"
	"github.com/mattn/go-sqlite3"

	"github.com/starford/xwiki/internal/trigram"
)

// Supported database drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

// sqliteDriverName is go-sqlite3 with a pg_trgm compatible similarity() function.
const sqliteDriverName = "sqlite3_xwiki"

var registerSQLite sync.Once

func registerSQLiteDriver() {
	registerSQLite.Do(func() {
		sql.Register(sqliteDriverName, &sqlite3.SQLiteDriver{
			ConnectHook: func(conn *sqlite3.SQLiteConn) error {
				return conn.RegisterFunc("similarity", trigram.Similarity, true)
			},
		})
	})
}

type dialect struct {
	name   string
	driver string
	schema string
	// ilike is the case-insensitive LIKE operator.
	ilike string
	// trgmMatch has two placeholders (title, content) and selects rows either
	// field of which passes the trigram similarity threshold.
	trgmMatch  string
	positional bool
}

var dialects = map[string]dialect{
	DriverPostgres: {
		name:       DriverPostgres,
		driver:     "postgres",
		schema:     postgresSchema,
		ilike:      "ILIKE",
		trgmMatch:  "(title % ? OR content % ?)",
		positional: true,
	},
	DriverSQLite: {
		name:      DriverSQLite,
		driver:    sqliteDriverName,
		schema:    sqliteSchema,
		ilike:     "LIKE",
		trgmMatch: "(similarity(title, ?) >= " + strconv.FormatFloat(trigram.DefaultThreshold, 'f', -1, 64) + " OR similarity(content, ?) >= " + strconv.FormatFloat(trigram.DefaultThreshold, 'f', -1, 64) + ")",
	},
}

func lookupDialect(driver string) (dialect, error) {
	d, ok := dialects[driver]
	if !ok {
		return dialect{}, fmt.Errorf("cache: unsupported driver %q", driver)
	}
	if d.name == DriverSQLite {
		registerSQLiteDriver()
	}
	return d, nil
}

// rebind rewrites ? placeholders as $1..$n for drivers that need them. Quoted
// literals are copied untouched.
func (d dialect) rebind(query string) string {
	if !d.positional {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	inQuote := false
	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case c == '\'':
			inQuote = !inQuote
			b.WriteByte(c)
		case c == '?' && !inQuote:
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}
