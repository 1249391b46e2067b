package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/denisenkom/go-mssqldb"
	"github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

type DBConfig struct {
	ServerAddr string `json:"server_addr"`
	Port       int    `json:"port"`
	Username   string `json:"username"`
	Password   string `json:"password"`
	Database   string `json:"database"`
	// Path is the database file for sqlite3.
	Path string `json:"path"`
}

// OpenSQL opens a connection pool for driver, one of sqlserver, mysql or
// sqlite3.
func OpenSQL(driver string, cfg DBConfig) (*sql.DB, error) {
	var dsn string
	switch driver {
	case SourceSQL:
		dsn = fmt.Sprintf("server=%s;user id=%s;password=%s;port=%d;database=%s;",
			cfg.ServerAddr, cfg.Username, cfg.Password, cfg.Port, cfg.Database)
	case SourceMySQL:
		mc := mysql.NewConfig()
		mc.User = cfg.Username
		mc.Passwd = cfg.Password
		mc.Net = "tcp"
		mc.Addr = fmt.Sprintf("%s:%d", cfg.ServerAddr, cfg.Port)
		mc.DBName = cfg.Database
		dsn = mc.FormatDSN()
	case SourceSQLite:
		dsn = cfg.Path
	default:
		return nil, errors.Errorf("unsupported sql driver %q", driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", driver)
	}
	return db, nil
}

// CreateSQLTable creates the adjacency table: srcVertex key and the
// neighbors as a "."-separated string.
func CreateSQLTable(ctx context.Context, db *sql.DB, tableName string) error {
	_, err := db.ExecContext(ctx, fmt.Sprintf(
		"CREATE TABLE %s (srcVertex BIGINT NOT NULL PRIMARY KEY, neighbors TEXT NOT NULL)", tableName))
	return errors.Wrapf(err, "create table %s", tableName)
}

func LoadSQLVertices(ctx context.Context, db *sql.DB, tableName string) ([]Vertex, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf("SELECT srcVertex, neighbors FROM %s", tableName))
	if err != nil {
		return nil, errors.Wrapf(err, "query %s", tableName)
	}
	defer rows.Close()

	var vertices []Vertex
	for rows.Next() {
		var (
			v         Vertex
			neighbors string
		)
		if err := rows.Scan(&v.ID, &neighbors); err != nil {
			return nil, errors.Wrap(err, "scan vertex")
		}
		if v.Edges, err = parseNeighbors(neighbors); err != nil {
			return nil, errors.Wrapf(err, "vertex %d", v.ID)
		}
		vertices = append(vertices, v)
	}
	return vertices, errors.Wrap(rows.Err(), "iterate vertices")
}

// InsertSQLVertices writes vertices in batches, one multi-row INSERT per
// batch inside a single transaction.
func InsertSQLVertices(ctx context.Context, db *sql.DB, driver, tableName string, vertices []Vertex) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin insert")
	}
	defer tx.Rollback()

	for b, batch := range batches(vertices) {
		values := make([]string, len(batch))
		args := make([]interface{}, 0, 2*len(batch))
		for i, v := range batch {
			values[i] = fmt.Sprintf("(%s, %s)", placeholder(driver, len(args)+1), placeholder(driver, len(args)+2))
			args = append(args, int64(v.ID), formatNeighbors(v.Edges))
		}
		query := fmt.Sprintf("INSERT INTO %s (srcVertex, neighbors) VALUES %s", tableName, strings.Join(values, ", "))
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return errors.Wrapf(err, "insert batch %d", b)
		}
	}
	return errors.Wrap(tx.Commit(), "commit insert")
}

func placeholder(driver string, i int) string {
	if driver == SourceSQL {
		return fmt.Sprintf("@p%d", i)
	}
	return "?"
}
