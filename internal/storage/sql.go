package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

//go:embed migrations/*/*.sql
var migrations embed.FS

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

type DatabaseConfig struct {
	Driver   string
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	// Path is the SQLite file, or ":memory:".
	Path string
}

// DSN builds the connection string for the configured driver.
func (c DatabaseConfig) DSN() string {
	if c.Driver == DriverSQLite {
		return c.Path
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

// Open returns the Database selected by cfg.Driver.
func Open(cfg DatabaseConfig, logger *zap.Logger) (Database, error) {
	switch cfg.Driver {
	case DriverMemory:
		return NewMemoryDatabase(), nil
	case DriverPostgres, DriverSQLite:
		return OpenSQL(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}

// SQLDatabase opens one transaction-scoped SQLGateway per WithGateway call.
type SQLDatabase struct {
	db     *sql.DB
	driver string
	logger *zap.Logger
}

func OpenSQL(cfg DatabaseConfig, logger *zap.Logger) (*SQLDatabase, error) {
	db, err := sql.Open(cfg.Driver, cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	if cfg.Driver == DriverSQLite {
		// A single connection keeps ":memory:" databases shared and avoids
		// "database is locked" errors.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(50)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(25 * time.Minute)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("error connecting to the database: %w", err)
	}

	if cfg.Driver == DriverSQLite {
		if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enabling foreign keys: %w", err)
		}
	}

	s := &SQLDatabase{db: db, driver: cfg.Driver, logger: logger}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("error initializing database schema: %w", err)
	}

	return s, nil
}

func (s *SQLDatabase) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	dir := "migrations/" + s.driver
	entries, err := migrations.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		var version int
		if _, err := fmt.Sscanf(entry.Name(), "%d_", &version); err != nil {
			return fmt.Errorf("parsing migration version from %q: %w", entry.Name(), err)
		}

		var exists int
		if err := s.db.QueryRow(rebind(s.driver, "SELECT COUNT(*) FROM schema_version WHERE version = ?"), version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrations.ReadFile(dir + "/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}
		if _, err := tx.Exec(rebind(s.driver, "INSERT INTO schema_version (version) VALUES (?)"), version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}

		s.logger.Info("Applied migration", zap.Int("version", version), zap.String("driver", s.driver))
	}

	return nil
}

// WithGateway runs fn inside its own transaction.
func (s *SQLDatabase) WithGateway(ctx context.Context, fn func(Gateway) error) error {
	gw := &SQLGateway{db: s.db, driver: s.driver}
	defer func() {
		if p := recover(); p != nil {
			gw.Rollback()
			panic(p)
		}
	}()

	if err := fn(gw); err != nil {
		if rbErr := gw.Rollback(); rbErr != nil {
			s.logger.Error("Failed to roll back transaction", zap.Error(rbErr))
		}
		return err
	}
	return gw.Commit(ctx)
}

// Gateway returns a gateway the caller must Commit or Rollback.
func (s *SQLDatabase) Gateway() *SQLGateway {
	return &SQLGateway{db: s.db, driver: s.driver}
}

func (s *SQLDatabase) Close() error {
	return s.db.Close()
}

// SQLGateway runs every call inside one transaction, begun on first use.
// After Commit the next call begins a new transaction.
type SQLGateway struct {
	db     *sql.DB
	driver string
	tx     *sql.Tx
}

func (g *SQLGateway) conn(ctx context.Context) (*sql.Tx, error) {
	if g.tx != nil {
		return g.tx, nil
	}
	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	g.tx = tx
	return tx, nil
}

func (g *SQLGateway) queryRow(ctx context.Context, query string, args ...any) (*sql.Row, error) {
	tx, err := g.conn(ctx)
	if err != nil {
		return nil, err
	}
	return tx.QueryRowContext(ctx, rebind(g.driver, query), args...), nil
}

func (g *SQLGateway) userBy(ctx context.Context, column string, value int64) (UserRecord, error) {
	row, err := g.queryRow(ctx, "SELECT id, tg_id FROM users WHERE "+column+" = ?", value)
	if err != nil {
		return UserRecord{}, err
	}
	var u UserRecord
	err = row.Scan(&u.ID, &u.TgID)
	if errors.Is(err, sql.ErrNoRows) {
		return UserRecord{}, fmt.Errorf("user %s=%d: %w", column, value, ErrNotFound)
	}
	if err != nil {
		return UserRecord{}, fmt.Errorf("error querying user: %w", err)
	}
	return u, nil
}

func (g *SQLGateway) UserByTgID(ctx context.Context, tgID int64) (UserRecord, error) {
	return g.userBy(ctx, "tg_id", tgID)
}

func (g *SQLGateway) UserByID(ctx context.Context, id int64) (UserRecord, error) {
	return g.userBy(ctx, "id", id)
}

func (g *SQLGateway) UserByTgIDUnsafe(ctx context.Context, tgID int64) (*UserRecord, error) {
	u, err := g.userBy(ctx, "tg_id", tgID)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (g *SQLGateway) Assistants(ctx context.Context, userID int64) ([]AssistantRecord, error) {
	tx, err := g.conn(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT id, user_id, openai_id, name
		FROM assistants
		WHERE user_id = ?
		ORDER BY id ASC`

	rows, err := tx.QueryContext(ctx, rebind(g.driver, query), userID)
	if err != nil {
		return nil, fmt.Errorf("error querying assistants: %w", err)
	}
	defer rows.Close()

	assistants := []AssistantRecord{}
	for rows.Next() {
		var a AssistantRecord
		if err := rows.Scan(&a.ID, &a.UserID, &a.OpenAIID, &a.Name); err != nil {
			return nil, fmt.Errorf("error scanning assistant: %w", err)
		}
		assistants = append(assistants, a)
	}
	return assistants, rows.Err()
}

func (g *SQLGateway) AddAssistant(ctx context.Context, userID int64, openaiID, name string) error {
	tx, err := g.conn(ctx)
	if err != nil {
		return err
	}

	query := `INSERT INTO assistants (user_id, openai_id, name) VALUES (?, ?, ?)`
	if _, err := tx.ExecContext(ctx, rebind(g.driver, query), userID, openaiID, name); err != nil {
		return fmt.Errorf("error creating assistant: %w", classify(err))
	}
	return nil
}

func (g *SQLGateway) Mental(ctx context.Context, userID int64) (MentalRecord, error) {
	row, err := g.queryRow(ctx, `
		SELECT id, user_id, temperament, profession
		FROM mental_data
		WHERE user_id = ?`, userID)
	if err != nil {
		return MentalRecord{}, err
	}
	var m MentalRecord
	err = row.Scan(&m.ID, &m.UserID, &m.Temperament, &m.Profession)
	if errors.Is(err, sql.ErrNoRows) {
		return MentalRecord{}, fmt.Errorf("mental user_id=%d: %w", userID, ErrNotFound)
	}
	if err != nil {
		return MentalRecord{}, fmt.Errorf("error querying mental data: %w", err)
	}
	return m, nil
}

func (g *SQLGateway) UpsertMental(ctx context.Context, userID int64, temperament, profession string) (MentalRecord, error) {
	row, err := g.queryRow(ctx, `
		INSERT INTO mental_data (user_id, temperament, profession)
		VALUES (?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE
		SET temperament = excluded.temperament, profession = excluded.profession
		RETURNING id, user_id, temperament, profession`,
		userID, temperament, profession)
	if err != nil {
		return MentalRecord{}, err
	}
	var m MentalRecord
	if err := row.Scan(&m.ID, &m.UserID, &m.Temperament, &m.Profession); err != nil {
		return MentalRecord{}, fmt.Errorf("error upserting mental data: %w", classify(err))
	}
	return m, nil
}

func (g *SQLGateway) UpsertUser(ctx context.Context, tgID int64) (UserRecord, error) {
	// DO UPDATE rather than DO NOTHING so RETURNING yields the existing row.
	row, err := g.queryRow(ctx, `
		INSERT INTO users (tg_id)
		VALUES (?)
		ON CONFLICT (tg_id) DO UPDATE SET tg_id = excluded.tg_id
		RETURNING id, tg_id`, tgID)
	if err != nil {
		return UserRecord{}, err
	}
	var u UserRecord
	if err := row.Scan(&u.ID, &u.TgID); err != nil {
		return UserRecord{}, fmt.Errorf("error upserting user: %w", classify(err))
	}
	return u, nil
}

func (g *SQLGateway) Commit(ctx context.Context) error {
	if g.tx == nil {
		return nil
	}
	tx := g.tx
	g.tx = nil
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("error committing transaction: %w", classify(err))
	}
	return nil
}

// Rollback discards the open transaction, if any.
func (g *SQLGateway) Rollback() error {
	if g.tx == nil {
		return nil
	}
	tx := g.tx
	g.tx = nil
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}

// rebind turns "?" placeholders into "$n" for Postgres.
func rebind(driver, query string) string {
	if driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// classify wraps unique and foreign key violations with ErrConstraint.
func classify(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "23":
			return fmt.Errorf("%w: %s", ErrConstraint, pqErr.Message)
		}
		return err
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) && liteErr.Code()&0xff == sqlite3.SQLITE_CONSTRAINT {
		return fmt.Errorf("%w: %s", ErrConstraint, liteErr.Error())
	}
	return err
}
