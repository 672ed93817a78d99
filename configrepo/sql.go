package configrepo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidTableName is returned by NewSQL for table names that are not
// plain identifiers.
var ErrInvalidTableName = errors.New("invalid table name")

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// SQLOption configures a SQL repository.
type SQLOption func(*SQL)

// WithTable overrides the table name. Default "module_properties".
func WithTable(name string) SQLOption {
	return func(s *SQL) { s.table = name }
}

// WithDollarPlaceholders switches to $1-style placeholders for drivers
// that need them.
func WithDollarPlaceholders() SQLOption {
	return func(s *SQL) { s.dollar = true }
}

// SQL stores properties as one JSON document per module in a table. Any
// database/sql driver that supports INSERT ... ON CONFLICT works.
type SQL struct {
	db     *sql.DB
	table  string
	dollar bool
	now    func() time.Time
}

// NewSQL creates the repository and its table if it does not exist.
func NewSQL(ctx context.Context, db *sql.DB, opts ...SQLOption) (*SQL, error) {
	s := &SQL{db: db, table: "module_properties", now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	if !identifier.MatchString(s.table) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTableName, s.table)
	}
	schema := `CREATE TABLE IF NOT EXISTS ` + s.table + ` (
	module_id TEXT PRIMARY KEY,
	properties TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL
)`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("creating table %s: %w", s.table, err)
	}
	return s, nil
}

// bind rewrites ? placeholders for dollar drivers.
func (s *SQL) bind(query string) string {
	if !s.dollar {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQL) Get(ctx context.Context, moduleID string) (map[string]any, error) {
	k, err := key(moduleID)
	if err != nil {
		return nil, err
	}
	var raw string
	err = s.db.QueryRowContext(ctx,
		s.bind(`SELECT properties FROM `+s.table+` WHERE module_id = ?`), k).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying properties for %s: %w", k, err)
	}
	props := map[string]any{}
	if err := json.Unmarshal([]byte(raw), &props); err != nil {
		return nil, fmt.Errorf("decoding properties for %s: %w", k, err)
	}
	return props, nil
}

func (s *SQL) Save(ctx context.Context, moduleID string, props map[string]any) error {
	k, err := key(moduleID)
	if err != nil {
		return err
	}
	if props == nil {
		props = map[string]any{}
	}
	raw, err := json.Marshal(props)
	if err != nil {
		return fmt.Errorf("encoding properties for %s: %w", k, err)
	}
	_, err = s.db.ExecContext(ctx, s.bind(`INSERT INTO `+s.table+` (module_id, properties, updated_at) VALUES (?, ?, ?)
ON CONFLICT (module_id) DO UPDATE SET properties = excluded.properties, updated_at = excluded.updated_at`),
		k, string(raw), s.now().UTC())
	if err != nil {
		return fmt.Errorf("saving properties for %s: %w", k, err)
	}
	return nil
}

func (s *SQL) Delete(ctx context.Context, moduleID string) (bool, error) {
	k, err := key(moduleID)
	if err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx, s.bind(`DELETE FROM `+s.table+` WHERE module_id = ?`), k)
	if err != nil {
		return false, fmt.Errorf("deleting properties for %s: %w", k, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("deleting properties for %s: %w", k, err)
	}
	return n > 0, nil
}
