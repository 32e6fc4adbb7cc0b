package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"rate-reconciliation-service/internal/models"
	rerrors "rate-reconciliation-service/pkg/errors"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore persists documents as JSON payloads with a revision column
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the document database in dataDir and runs
// pending migrations. Pass ":memory:" for an in-memory database.
func OpenSQLite(dataDir string) (*SQLiteStore, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "documents.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// A single connection keeps ":memory:" databases shared and avoids lock errors.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if dsn != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enabling WAL mode: %w", err)
		}
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
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
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
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
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}
	return nil
}

// AppliedMigrations returns the applied migration versions in ascending order.
func (s *SQLiteStore) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func loadDocument(ctx context.Context, q queryRower, docType models.DocumentType, id string) (*models.Document, error) {
	var payload string
	var revision int
	err := q.QueryRowContext(ctx,
		"SELECT payload, revision FROM documents WHERE type = ? AND id = ?", string(docType), id,
	).Scan(&payload, &revision)
	if err == sql.ErrNoRows {
		return nil, rerrors.DocumentNotFoundError(string(docType), id)
	}
	if err != nil {
		return nil, rerrors.InternalError(rerrors.CodeUnexpectedError, "load document", err)
	}
	return decodeDocument(payload, revision)
}

func decodeDocument(payload string, revision int) (*models.Document, error) {
	var doc models.Document
	if err := json.Unmarshal([]byte(payload), &doc); err != nil {
		return nil, rerrors.InternalError(rerrors.CodeUnexpectedError, "decode document payload", err)
	}
	doc.Revision = revision
	return &doc, nil
}

func (s *SQLiteStore) Load(ctx context.Context, docType models.DocumentType, id string) (*models.Document, error) {
	return loadDocument(ctx, s.db, docType, id)
}

func (s *SQLiteStore) Save(ctx context.Context, doc *models.Document, opts SaveOptions) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", rerrors.InternalError(rerrors.CodeUnexpectedError, "begin save", err)
	}
	defer tx.Rollback()

	stored, err := loadDocument(ctx, tx, doc.Type, doc.ID)
	if err != nil {
		return "", err
	}
	next, err := prepareSave(stored, doc, opts)
	if err != nil {
		return "", err
	}

	payload, err := json.Marshal(next)
	if err != nil {
		return "", rerrors.InternalError(rerrors.CodeUnexpectedError, "encode document payload", err)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE documents SET number = ?, period_closed = ?, revision = ?, payload = ?, updated_at = ?
		WHERE type = ? AND id = ? AND revision = ?`,
		next.Number, boolToInt(next.Period.Closed), next.Revision, string(payload), time.Now().UTC().Format(time.RFC3339),
		string(doc.Type), doc.ID, stored.Revision,
	)
	if err != nil {
		return "", rerrors.InternalError(rerrors.CodeUnexpectedError, "save document", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return "", rerrors.RevisionConflictError(string(doc.Type), doc.ID, doc.Revision, stored.Revision)
	}
	if err := tx.Commit(); err != nil {
		return "", rerrors.InternalError(rerrors.CodeUnexpectedError, "commit save", err)
	}

	doc.Revision = next.Revision
	return doc.ID, nil
}

func (s *SQLiteStore) Create(ctx context.Context, doc *models.Document) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", rerrors.InternalError(rerrors.CodeUnexpectedError, "begin create", err)
	}
	defer tx.Rollback()

	if doc.ID == "" {
		doc.ID = uuid.New().String()
	}
	if err := prepareCreate(doc); err != nil {
		return "", err
	}

	if doc.Number == "" {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO document_sequences (type, value) VALUES (?, 1)
			ON CONFLICT(type) DO UPDATE SET value = value + 1`, string(doc.Type)); err != nil {
			return "", rerrors.InternalError(rerrors.CodeUnexpectedError, "advance document sequence", err)
		}
		var n int
		if err := tx.QueryRowContext(ctx, "SELECT value FROM document_sequences WHERE type = ?", string(doc.Type)).Scan(&n); err != nil {
			return "", rerrors.InternalError(rerrors.CodeUnexpectedError, "read document sequence", err)
		}
		doc.Number = FormatNumber(doc.Type, n)
	}

	if err := insertDocument(ctx, tx, doc); err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return "", rerrors.ValidationError(rerrors.CodeInvalidData, "id", doc.ID, err).
				WithContext("reason", "duplicate document id")
		}
		return "", rerrors.InternalError(rerrors.CodeUnexpectedError, "create document", err)
	}
	if err := tx.Commit(); err != nil {
		return "", rerrors.InternalError(rerrors.CodeUnexpectedError, "commit create", err)
	}
	return doc.ID, nil
}

func (s *SQLiteStore) List(ctx context.Context, docType models.DocumentType) ([]*models.Document, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT payload, revision FROM documents WHERE type = ? ORDER BY id ASC", string(docType))
	if err != nil {
		return nil, rerrors.InternalError(rerrors.CodeUnexpectedError, "list documents", err)
	}
	defer rows.Close()

	var docs []*models.Document
	for rows.Next() {
		var payload string
		var revision int
		if err := rows.Scan(&payload, &revision); err != nil {
			return nil, rerrors.InternalError(rerrors.CodeUnexpectedError, "scan document", err)
		}
		doc, err := decodeDocument(payload, revision)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// Put inserts or replaces a document as-is
func (s *SQLiteStore) Put(ctx context.Context, doc *models.Document) error {
	if err := doc.Validate(); err != nil {
		return rerrors.ValidationError(rerrors.CodeInvalidData, "document", doc.ID, err)
	}
	c := doc.Clone()
	if c.Revision == 0 {
		c.Revision = 1
	}
	payload, err := json.Marshal(c)
	if err != nil {
		return rerrors.InternalError(rerrors.CodeUnexpectedError, "encode document payload", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO documents (type, id, number, period_closed, revision, payload) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(type, id) DO UPDATE SET number = excluded.number, period_closed = excluded.period_closed,
			revision = excluded.revision, payload = excluded.payload, updated_at = CURRENT_TIMESTAMP`,
		string(c.Type), c.ID, c.Number, boolToInt(c.Period.Closed), c.Revision, string(payload),
	)
	if err != nil {
		return rerrors.InternalError(rerrors.CodeUnexpectedError, "put document", err)
	}
	return nil
}

func insertDocument(ctx context.Context, tx *sql.Tx, doc *models.Document) error {
	payload, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO documents (type, id, number, period_closed, revision, payload) VALUES (?, ?, ?, ?, ?, ?)`,
		string(doc.Type), doc.ID, doc.Number, boolToInt(doc.Period.Closed), doc.Revision, string(payload),
	)
	return err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
