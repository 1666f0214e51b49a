package sink

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	_ "github.com/mattn/go-sqlite3"
	"github.com/maxpert/binlogstream/cfg"
	"github.com/maxpert/binlogstream/publisher"
)

const (
	sqliteTable         = "binlog_records"
	sqliteBusyTimeoutMS = 5000
)

const createRecordsTable = `CREATE TABLE IF NOT EXISTS ` + sqliteTable + ` (
	topic        TEXT    NOT NULL,
	key          TEXT    NOT NULL,
	value        BLOB,
	published_at INTEGER NOT NULL,
	PRIMARY KEY (topic, key)
)`

func init() {
	publisher.RegisterSink("sqlite", func(config cfg.SinkConfiguration) (publisher.Sink, error) {
		if config.SQLitePath == "" {
			return nil, fmt.Errorf("sqlite sink requires sqlite_path")
		}
		return NewSQLiteSink(config.SQLitePath)
	})
}

// SQLiteSink keeps an audit table of published records. A record published
// twice under the same topic and key is stored once.
type SQLiteSink struct {
	db  *sql.DB
	gdb *goqu.Database
}

// SQLiteRow is one stored record
type SQLiteRow struct {
	Topic       string `db:"topic"`
	Key         string `db:"key"`
	Value       []byte `db:"value"`
	PublishedAt int64  `db:"published_at"`
}

// NewSQLiteSink opens path in WAL mode and creates the records table if needed
func NewSQLiteSink(path string) (*SQLiteSink, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=%d", path, sqliteBusyTimeoutMS)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite sink %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(createRecordsTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("create %s: %w", sqliteTable, err)
	}
	return &SQLiteSink{db: db, gdb: goqu.New("sqlite3", db)}, nil
}

// Publish inserts one record, ignoring a topic and key already stored
func (s *SQLiteSink) Publish(topic, key string, value []byte) error {
	_, err := s.gdb.Insert(sqliteTable).
		Rows(goqu.Record{
			"topic":        topic,
			"key":          key,
			"value":        value,
			"published_at": time.Now().UnixMilli(),
		}).
		OnConflict(goqu.DoNothing()).
		Prepared(true).
		Executor().Exec()
	if err != nil {
		return fmt.Errorf("insert into %s: %w", sqliteTable, err)
	}
	return nil
}

// Rows returns the records stored under topic in key order
func (s *SQLiteSink) Rows(topic string) ([]SQLiteRow, error) {
	var rows []SQLiteRow
	err := s.gdb.From(sqliteTable).
		Where(goqu.Ex{"topic": topic}).
		Order(goqu.I("key").Asc()).
		ScanStructs(&rows)
	return rows, err
}

// Count is the number of stored records
func (s *SQLiteSink) Count() (int64, error) {
	return s.gdb.From(sqliteTable).Count()
}

func (s *SQLiteSink) Close() error {
	return s.db.Close()
}
