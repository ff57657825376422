package builtins

import (
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/denisenkom/go-mssqldb"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"phlang/internal/funcreg"
	"phlang/internal/hostapi"
	"phlang/internal/value"
)

// driverNames maps the short name a script passes to db_connect onto the
// database/sql driver registered by each blank import above.
var driverNames = map[string]string{
	"sqlite":   "sqlite",
	"postgres": "postgres",
	"mysql":    "mysql",
	"mssql":    "sqlserver",
}

// connManager tracks open *sql.DB handles by the id a script chose at
// db_connect time, mirroring the teacher's DBConnection map but without
// the security-scanner bookkeeping this embed has no use for.
type connManager struct {
	mu    sync.RWMutex
	conns map[string]*sql.DB
}

var conns = &connManager{conns: make(map[string]*sql.DB)}

func (m *connManager) get(id string) (*sql.DB, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	db, ok := m.conns[id]
	return db, ok
}

func (m *connManager) put(id string, db *sql.DB) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conns[id] = db
}

func (m *connManager) remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.conns, id)
}

// registerStorage wires db_connect/db_query/db_execute/db_close over
// database/sql, grounded on the teacher's internal/database module but
// scoped to the query surface a scripting embed actually exposes —
// the teacher's vulnerability-scanning wrappers stay out of scope.
func registerStorage(fr *funcreg.FunctionRegistry, e *env) {
	register(fr, e, "db_connect", func(ctx *hostapi.CallContext) hostapi.Status {
		id, kind, dsn := argString(ctx, 0), argString(ctx, 1), argString(ctx, 2)
		driver, ok := driverNames[kind]
		if !ok {
			ctx.Error("db_connect: unknown driver " + kind)
			ctx.Result = value.InitFromBool(false)
			return hostapi.StatusOK
		}
		db, err := sql.Open(driver, dsn)
		if err != nil {
			ctx.Error("db_connect: " + err.Error())
			ctx.Result = value.InitFromBool(false)
			return hostapi.StatusOK
		}
		if err := db.Ping(); err != nil {
			db.Close()
			ctx.Error("db_connect: " + err.Error())
			ctx.Result = value.InitFromBool(false)
			return hostapi.StatusOK
		}
		conns.put(id, db)
		ctx.Result = value.InitFromBool(true)
		return hostapi.StatusOK
	})

	register(fr, e, "db_close", func(ctx *hostapi.CallContext) hostapi.Status {
		id := argString(ctx, 0)
		if db, ok := conns.get(id); ok {
			db.Close()
			conns.remove(id)
			ctx.Result = value.InitFromBool(true)
			return hostapi.StatusOK
		}
		ctx.Result = value.InitFromBool(false)
		return hostapi.StatusOK
	})

	register(fr, e, "db_execute", func(ctx *hostapi.CallContext) hostapi.Status {
		db, ok := conns.get(argString(ctx, 0))
		if !ok {
			ctx.Error("db_execute: no such connection")
			ctx.Result = value.InitFromBool(false)
			return hostapi.StatusOK
		}
		args := make([]any, 0, len(ctx.Args)-2)
		for _, a := range ctx.Args[2:] {
			args = append(args, queryArg(a))
		}
		res, err := db.Exec(argString(ctx, 1), args...)
		if err != nil {
			ctx.Error("db_execute: " + err.Error())
			ctx.Result = value.InitFromBool(false)
			return hostapi.StatusOK
		}
		n, _ := res.RowsAffected()
		ctx.Result = value.InitFromInt(n)
		return hostapi.StatusOK
	})

	register(fr, e, "db_query", func(ctx *hostapi.CallContext) hostapi.Status {
		db, ok := conns.get(argString(ctx, 0))
		if !ok {
			ctx.Error("db_query: no such connection")
			ctx.Result = value.Null()
			return hostapi.StatusOK
		}
		args := make([]any, 0, len(ctx.Args)-2)
		for _, a := range ctx.Args[2:] {
			args = append(args, queryArg(a))
		}
		rows, err := db.Query(argString(ctx, 1), args...)
		if err != nil {
			ctx.Error("db_query: " + err.Error())
			ctx.Result = value.Null()
			return hostapi.StatusOK
		}
		defer rows.Close()
		cols, err := rows.Columns()
		if err != nil {
			ctx.Error("db_query: " + err.Error())
			ctx.Result = value.Null()
			return hostapi.StatusOK
		}
		rt := ctxRT(ctx)
		var out []value.Value
		for rows.Next() {
			scan := make([]any, len(cols))
			ptrs := make([]any, len(cols))
			for i := range scan {
				ptrs[i] = &scan[i]
			}
			if err := rows.Scan(ptrs...); err != nil {
				ctx.Error("db_query: " + err.Error())
				break
			}
			vals := make([]value.Value, len(cols))
			for i, c := range scan {
				vals[i] = columnValue(c)
			}
			out = append(out, newAssoc(rt, cols, vals))
		}
		ctx.Result = newArray(rt, out...)
		return hostapi.StatusOK
	})
}

func queryArg(v value.Value) any {
	switch v.Kind() {
	case value.KindInt:
		return v.RawInt()
	case value.KindReal:
		return v.RawReal()
	case value.KindBool:
		return v.ToBool()
	case value.KindNull:
		return nil
	default:
		return v.ToString()
	}
}

func columnValue(c any) value.Value {
	switch t := c.(type) {
	case nil:
		return value.Null()
	case int64:
		return value.InitFromInt(t)
	case float64:
		return value.InitFromReal(t)
	case bool:
		return value.InitFromBool(t)
	case []byte:
		return value.InitFromString(string(t))
	case string:
		return value.InitFromString(t)
	default:
		return value.InitFromString(fmt.Sprintf("%v", t))
	}
}
