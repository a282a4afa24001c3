package builds

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// PostgresStore persists build records to Postgres.
type PostgresStore struct {
	db *sql.DB
}

var _ Store = (*PostgresStore)(nil)

func NewPostgresStore(conn string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", conn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}
	db.SetMaxIdleConns(5)
	db.SetMaxOpenConns(10)
	db.SetConnMaxLifetime(time.Hour)

	s := &PostgresStore{db: db}
	if err := s.ensureSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) ensureSchema() error {
	schema := `
CREATE TABLE IF NOT EXISTS buildmaster_builds (
    id TEXT PRIMARY KEY,
    scheduler TEXT NOT NULL,
    builder TEXT NOT NULL,
    worker TEXT NOT NULL,
    project TEXT NOT NULL,
    repository TEXT,
    branch TEXT,
    revision TEXT NOT NULL,
    properties JSONB NOT NULL DEFAULT '{}'::jsonb,
    status TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL,
    finished_at TIMESTAMPTZ,
    error TEXT
);
CREATE INDEX IF NOT EXISTS buildmaster_builds_builder_idx ON buildmaster_builds (builder, created_at DESC);
`
	_, err := s.db.Exec(schema)
	return err
}

func (s *PostgresStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *PostgresStore) Create(build Build) error {
	props, err := json.Marshal(nonNilProps(build.Properties))
	if err != nil {
		return fmt.Errorf("encode properties: %w", err)
	}
	query := `INSERT INTO buildmaster_builds (id, scheduler, builder, worker, project, repository, branch, revision, properties, status, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
ON CONFLICT (id) DO UPDATE SET
    status = EXCLUDED.status,
    updated_at = EXCLUDED.updated_at`
	_, err = s.db.Exec(query,
		build.ID,
		build.Scheduler,
		build.Builder,
		build.Worker,
		build.Project,
		build.Repository,
		build.Branch,
		build.Revision,
		string(props),
		build.Status,
		build.CreatedAt,
		build.UpdatedAt,
	)
	return err
}

func (s *PostgresStore) SetStatus(id string, status Status, finishedAt *time.Time, errMsg string) error {
	query := `UPDATE buildmaster_builds SET status=$1, updated_at=$2, finished_at=COALESCE($3, finished_at), error=$4 WHERE id=$5`
	res, err := s.db.Exec(query, status, time.Now().UTC(), finishedAt, errMsg, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

const selectBuild = `SELECT id, scheduler, builder, worker, project, repository, branch, revision, properties, status, created_at, updated_at, finished_at, error FROM buildmaster_builds`

func (s *PostgresStore) List(limit int) ([]Build, error) {
	query := selectBuild + ` ORDER BY created_at DESC, id ASC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Build
	for rows.Next() {
		b, err := scanBuild(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Get(id string) (Build, error) {
	b, err := scanBuild(s.db.QueryRow(selectBuild+` WHERE id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Build{}, ErrNotFound
	}
	return b, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanBuild(row scanner) (Build, error) {
	var (
		b          Build
		repository sql.NullString
		branch     sql.NullString
		props      []byte
		finishedAt sql.NullTime
		errMsg     sql.NullString
	)
	if err := row.Scan(&b.ID, &b.Scheduler, &b.Builder, &b.Worker, &b.Project, &repository, &branch, &b.Revision, &props, &b.Status, &b.CreatedAt, &b.UpdatedAt, &finishedAt, &errMsg); err != nil {
		return Build{}, err
	}
	b.Repository = repository.String
	b.Branch = branch.String
	if len(props) > 0 {
		if err := json.Unmarshal(props, &b.Properties); err != nil {
			return Build{}, fmt.Errorf("decode properties for %s: %w", b.ID, err)
		}
	}
	if finishedAt.Valid {
		b.FinishedAt = finishedAt.Time
	}
	if errMsg.Valid {
		b.Error = errMsg.String
	}
	return b, nil
}

func nonNilProps(in map[string]string) map[string]string {
	if in == nil {
		return map[string]string{}
	}
	return in
}
