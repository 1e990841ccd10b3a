package persistence

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/MimeLyc/doctrans/internal/jobs"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// SQLiteStore is the durable jobs.Store. All conditional transitions are
// expressed as guarded UPDATEs so concurrent writers race on the database
// row, not on in-process state.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("db path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db}
	if err := store.init(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA journal_mode = WAL;"); err != nil {
		return fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		return fmt.Errorf("set busy timeout: %w", err)
	}
	// Bootstrap schema_migrations table so we can track applied versions.
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		version := migrationVersion(entry.Name())
		if version <= 0 {
			continue
		}
		var exists int
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations WHERE version = ?`, version).Scan(&exists); err != nil {
			return fmt.Errorf("check migration %s: %w", entry.Name(), err)
		}
		if exists > 0 {
			continue
		}
		content, err := migrationFiles.ReadFile(filepath.Join("migrations", entry.Name()))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		if _, err := s.db.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("apply migration %s: %w", entry.Name(), err)
		}
		if _, err := s.db.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES (?)`, version); err != nil {
			return fmt.Errorf("record migration %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// migrationVersion extracts the leading integer from a migration filename (e.g. "001_init.sql" → 1).
func migrationVersion(name string) int {
	for i, c := range name {
		if c < '0' || c > '9' {
			if i == 0 {
				return 0
			}
			n, _ := strconv.Atoi(name[:i])
			return n
		}
	}
	n, _ := strconv.Atoi(name)
	return n
}

const jobColumns = `id, owner_id, filename, source_language, document_status, translation_status,
	total_chunks, translated_chunks, target_language, tone, context_window_size,
	translation_started_at, translation_completed_at, tokens_used, estimated_cost,
	last_error, created_at, updated_at`

func (s *SQLiteStore) CreateJob(ctx context.Context, job *jobs.Job) error {
	if job == nil {
		return fmt.Errorf("job is nil")
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO jobs (`+jobColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID,
		job.OwnerID,
		job.Filename,
		job.SourceLanguage,
		string(job.DocumentStatus),
		string(job.TranslationStatus),
		job.TotalChunks,
		job.TranslatedChunks,
		job.TargetLanguage,
		string(job.Tone),
		job.ContextWindowSize,
		nullableTime(job.TranslationStartedAt),
		nullableTime(job.TranslationCompletedAt),
		job.TokensUsed,
		job.EstimatedCost,
		job.LastError,
		job.CreatedAt.UTC(),
		job.UpdatedAt.UTC(),
	)
	return err
}

func (s *SQLiteStore) GetJob(ctx context.Context, jobID string) (*jobs.Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, jobID)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, jobs.ErrJobNotFound
		}
		return nil, err
	}
	return job, nil
}

func (s *SQLiteStore) ListJobs(ctx context.Context) ([]*jobs.Job, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+jobColumns+` FROM jobs ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make([]*jobs.Job, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		ret = append(ret, job)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ret, nil
}

func (s *SQLiteStore) SetDocumentState(ctx context.Context, jobID string, expect, next jobs.DocumentStatus, update jobs.DocumentUpdate) (bool, error) {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs SET
			document_status = ?,
			source_language = CASE WHEN ? = '' THEN source_language ELSE ? END,
			total_chunks = CASE WHEN ? = 0 THEN total_chunks ELSE ? END,
			last_error = CASE WHEN ? = '' THEN last_error ELSE ? END,
			updated_at = ?
		 WHERE id = ? AND document_status = ?`,
		string(next),
		update.SourceLanguage, update.SourceLanguage,
		update.TotalChunks, update.TotalChunks,
		update.LastError, update.LastError,
		time.Now().UTC(),
		jobID,
		string(expect),
	)
	if err != nil {
		return false, err
	}
	return s.guardedWriteOutcome(ctx, res, jobID)
}

func (s *SQLiteStore) ClaimTranslation(ctx context.Context, jobID string, params jobs.TranslationParams, startedAt time.Time) (bool, error) {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs SET
			translation_status = ?,
			translated_chunks = 0,
			tokens_used = 0,
			estimated_cost = 0,
			target_language = ?,
			tone = ?,
			context_window_size = ?,
			translation_started_at = ?,
			translation_completed_at = NULL,
			last_error = '',
			updated_at = ?
		 WHERE id = ? AND translation_status NOT IN (?, ?)`,
		string(jobs.TranslationInProgress),
		params.TargetLanguage,
		string(params.Tone),
		params.ContextWindowSize,
		startedAt.UTC(),
		startedAt.UTC(),
		jobID,
		string(jobs.TranslationInProgress),
		string(jobs.TranslationCompleted),
	)
	if err != nil {
		return false, err
	}
	return s.guardedWriteOutcome(ctx, res, jobID)
}

func (s *SQLiteStore) ApplyChunkResult(ctx context.Context, jobID string, chunkIndex int, usage jobs.ChunkUsage, now time.Time) (jobs.ChunkOutcome, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return jobs.ChunkOutcome{}, err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var status string
	var translated, total int
	err = tx.QueryRowContext(ctx,
		`SELECT translation_status, translated_chunks, total_chunks FROM jobs WHERE id = ?`, jobID).
		Scan(&status, &translated, &total)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return jobs.ChunkOutcome{}, jobs.ErrJobNotFound
		}
		return jobs.ChunkOutcome{}, err
	}

	// Stale or duplicate chunk signals are reported back unapplied.
	if status != string(jobs.TranslationInProgress) || translated != chunkIndex {
		return jobs.ChunkOutcome{
			TranslatedChunks: translated,
			TotalChunks:      total,
		}, nil
	}

	translated++
	done := translated == total
	if done {
		_, err = tx.ExecContext(ctx,
			`UPDATE jobs SET
				translated_chunks = ?, tokens_used = tokens_used + ?, estimated_cost = estimated_cost + ?,
				translation_status = ?, translation_completed_at = ?, updated_at = ?
			 WHERE id = ?`,
			translated, usage.Tokens, usage.Cost,
			string(jobs.TranslationCompleted), now.UTC(), now.UTC(),
			jobID,
		)
	} else {
		_, err = tx.ExecContext(ctx,
			`UPDATE jobs SET
				translated_chunks = ?, tokens_used = tokens_used + ?, estimated_cost = estimated_cost + ?,
				updated_at = ?
			 WHERE id = ?`,
			translated, usage.Tokens, usage.Cost,
			now.UTC(),
			jobID,
		)
	}
	if err != nil {
		return jobs.ChunkOutcome{}, err
	}
	if err := tx.Commit(); err != nil {
		return jobs.ChunkOutcome{}, err
	}
	return jobs.ChunkOutcome{
		Applied:          true,
		TranslatedChunks: translated,
		TotalChunks:      total,
		Done:             done,
	}, nil
}

func (s *SQLiteStore) FailTranslation(ctx context.Context, jobID string, reason string, expectTranslated int) (bool, error) {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs SET translation_status = ?, last_error = ?, updated_at = ?
		 WHERE id = ? AND translation_status = ? AND translated_chunks = ?`,
		string(jobs.TranslationFailed),
		reason,
		time.Now().UTC(),
		jobID,
		string(jobs.TranslationInProgress),
		expectTranslated,
	)
	if err != nil {
		return false, err
	}
	return s.guardedWriteOutcome(ctx, res, jobID)
}

func (s *SQLiteStore) SaveChunks(ctx context.Context, jobID string, chunks []string) error {
	if _, err := s.GetJob(ctx, jobID); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM job_chunks WHERE job_id = ?`, jobID); err != nil {
		return err
	}
	for i, chunk := range chunks {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO job_chunks (job_id, idx, content) VALUES (?, ?, ?)`,
			jobID, i, chunk,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) LoadChunk(ctx context.Context, jobID string, index int) (string, error) {
	var content string
	err := s.db.QueryRowContext(ctx,
		`SELECT content FROM job_chunks WHERE job_id = ? AND idx = ?`, jobID, index).
		Scan(&content)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", jobs.ErrChunkNotFound
		}
		return "", err
	}
	return content, nil
}

func (s *SQLiteStore) SaveTranslatedChunk(ctx context.Context, jobID string, index int, text string) error {
	var exists int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM job_chunks WHERE job_id = ? AND idx = ?`, jobID, index).
		Scan(&exists); err != nil {
		return err
	}
	if exists == 0 {
		return jobs.ErrChunkNotFound
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO job_translated_chunks (job_id, idx, content, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(job_id, idx) DO UPDATE SET
			content=excluded.content,
			updated_at=excluded.updated_at`,
		jobID, index, text, time.Now().UTC(),
	)
	return err
}

func (s *SQLiteStore) LoadTranslatedChunks(ctx context.Context, jobID string) ([]string, error) {
	var total int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM job_chunks WHERE job_id = ?`, jobID).
		Scan(&total)
	if err != nil {
		return nil, err
	}
	if total == 0 {
		return nil, jobs.ErrChunkNotFound
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT idx, content FROM job_translated_chunks WHERE job_id = ? ORDER BY idx ASC`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make([]string, total)
	for rows.Next() {
		var idx int
		var content string
		if err := rows.Scan(&idx, &content); err != nil {
			return nil, err
		}
		if idx >= 0 && idx < total {
			ret[idx] = content
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ret, nil
}

// guardedWriteOutcome distinguishes a lost conditional write from a missing
// job so callers see the same semantics as the in-memory store.
func (s *SQLiteStore) guardedWriteOutcome(ctx context.Context, res sql.Result, jobID string) (bool, error) {
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if affected > 0 {
		return true, nil
	}
	var exists int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM jobs WHERE id = ?`, jobID).Scan(&exists); err != nil {
		return false, err
	}
	if exists == 0 {
		return false, jobs.ErrJobNotFound
	}
	return false, nil
}

func scanJob(row interface {
	Scan(dest ...any) error
}) (*jobs.Job, error) {
	var job jobs.Job
	var docStatus, transStatus, tone string
	var startedAt, completedAt sql.NullTime
	if err := row.Scan(
		&job.ID,
		&job.OwnerID,
		&job.Filename,
		&job.SourceLanguage,
		&docStatus,
		&transStatus,
		&job.TotalChunks,
		&job.TranslatedChunks,
		&job.TargetLanguage,
		&tone,
		&job.ContextWindowSize,
		&startedAt,
		&completedAt,
		&job.TokensUsed,
		&job.EstimatedCost,
		&job.LastError,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		return nil, err
	}
	job.DocumentStatus = jobs.DocumentStatus(docStatus)
	job.TranslationStatus = jobs.TranslationStatus(transStatus)
	job.Tone = jobs.Tone(tone)
	if startedAt.Valid {
		t := startedAt.Time
		job.TranslationStartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		job.TranslationCompletedAt = &t
	}
	return &job, nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}
