package store

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"trustchain.mini/tcm/internal/types"
)

// Dialect selects placeholder syntax for the shared SQL statements.
type Dialect int

const (
	DialectSQLite Dialect = iota
	DialectPostgres
)

// singletonRow is the primary key of the one-row tables.
const singletonRow = 1

var schema = []string{
	`CREATE TABLE IF NOT EXISTS ledger_state (
		id BIGINT PRIMARY KEY,
		total_reports BIGINT NOT NULL,
		version TEXT NOT NULL,
		admin TEXT NOT NULL,
		status TEXT NOT NULL,
		anonymous_reports BIGINT NOT NULL DEFAULT 0,
		evidence_reports BIGINT NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS submitters (
		address TEXT PRIMARY KEY,
		last_submission_time BIGINT NOT NULL,
		submission_count BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS reports (
		id BIGINT PRIMARY KEY,
		submitter TEXT NOT NULL,
		timestamp BIGINT NOT NULL,
		message TEXT NOT NULL,
		reference_code TEXT,
		evidence_pointer TEXT,
		anonymous BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS checkpoint (
		id BIGINT PRIMARY KEY,
		height BIGINT NOT NULL,
		tx_index BIGINT NOT NULL,
		app_hash TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS applied_txs (
		id TEXT PRIMARY KEY
	)`,
	`CREATE TABLE IF NOT EXISTS commits (
		id BIGINT PRIMARY KEY,
		height BIGINT NOT NULL,
		app_hash TEXT NOT NULL
	)`,
}

const (
	upsertGlobalSQL = `INSERT INTO ledger_state (id, total_reports, version, admin, status, anonymous_reports, evidence_reports)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			total_reports = excluded.total_reports,
			version = excluded.version,
			admin = excluded.admin,
			status = excluded.status,
			anonymous_reports = excluded.anonymous_reports,
			evidence_reports = excluded.evidence_reports`
	upsertSubmitterSQL = `INSERT INTO submitters (address, last_submission_time, submission_count)
		VALUES (?, ?, ?)
		ON CONFLICT (address) DO UPDATE SET
			last_submission_time = excluded.last_submission_time,
			submission_count = excluded.submission_count`
	insertReportSQL = `INSERT INTO reports (id, submitter, timestamp, message, reference_code, evidence_pointer, anonymous)
		VALUES (?, ?, ?, ?, ?, ?, ?)`
	upsertCheckpointSQL = `INSERT INTO checkpoint (id, height, tx_index, app_hash)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			height = excluded.height,
			tx_index = excluded.tx_index,
			app_hash = excluded.app_hash`
	insertAppliedSQL = `INSERT INTO applied_txs (id) VALUES (?)`
	upsertCommitSQL  = `INSERT INTO commits (id, height, app_hash)
		VALUES (?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			height = excluded.height,
			app_hash = excluded.app_hash`

	selectGlobalSQL     = `SELECT total_reports, version, admin, status, anonymous_reports, evidence_reports FROM ledger_state WHERE id = ?`
	selectSubmitterSQL  = `SELECT address, last_submission_time, submission_count FROM submitters WHERE address = ?`
	selectReportSQL     = `SELECT id, submitter, timestamp, message, reference_code, evidence_pointer, anonymous FROM reports WHERE id = ?`
	selectReportsSQL    = `SELECT id, submitter, timestamp, message, reference_code, evidence_pointer, anonymous FROM reports WHERE id > ? ORDER BY id LIMIT ?`
	selectAppliedSQL    = `SELECT 1 FROM applied_txs WHERE id = ?`
	selectCheckpointSQL = `SELECT height, tx_index, app_hash FROM checkpoint WHERE id = ?`
	selectCommitSQL     = `SELECT height, app_hash FROM commits WHERE id = ?`
)

// SQL is a Store over database/sql shared by the SQLite and Postgres
// backends.
type SQL struct {
	db      *sql.DB
	dialect Dialect
}

// NewSQL wraps an open database handle. Call Init before first use.
func NewSQL(db *sql.DB, dialect Dialect) *SQL {
	return &SQL{db: db, dialect: dialect}
}

// DB exposes the underlying handle.
func (s *SQL) DB() *sql.DB { return s.db }

// Init creates the schema if it does not exist.
func (s *SQL) Init(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	return nil
}

// rebind rewrites ? placeholders to $n for Postgres.
func (s *SQL) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
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

func (s *SQL) Global(ctx context.Context) (types.GlobalState, error) {
	var (
		g                         types.GlobalState
		total, anonymous, withEvd int64
		status                    string
	)
	err := s.db.QueryRowContext(ctx, s.rebind(selectGlobalSQL), singletonRow).
		Scan(&total, &g.Version, &g.Admin, &status, &anonymous, &withEvd)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.GlobalState{}, ErrNotFound
		}
		return types.GlobalState{}, fmt.Errorf("select ledger state: %w", err)
	}
	g.TotalReports = uint64(total)
	g.AnonymousReports = uint64(anonymous)
	g.EvidenceReports = uint64(withEvd)
	g.Status = types.Status(status)
	return g, nil
}

func (s *SQL) Submitter(ctx context.Context, address string) (types.SubmitterState, error) {
	var (
		st          types.SubmitterState
		last, count int64
	)
	err := s.db.QueryRowContext(ctx, s.rebind(selectSubmitterSQL), address).
		Scan(&st.Address, &last, &count)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.SubmitterState{}, ErrNotFound
		}
		return types.SubmitterState{}, fmt.Errorf("select submitter: %w", err)
	}
	st.LastSubmissionTime = uint64(last)
	st.SubmissionCount = uint64(count)
	return st, nil
}

func (s *SQL) Report(ctx context.Context, id uint64) (types.ReportRecord, error) {
	r, err := scanReport(s.db.QueryRowContext(ctx, s.rebind(selectReportSQL), int64(id)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.ReportRecord{}, ErrNotFound
		}
		return types.ReportRecord{}, fmt.Errorf("select report: %w", err)
	}
	return r, nil
}

// Reports pages through records in identifier order, starting after the
// given identifier.
func (s *SQL) Reports(ctx context.Context, after uint64, limit int) ([]types.ReportRecord, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(selectReportsSQL), int64(after), limit)
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	defer rows.Close()

	var out []types.ReportRecord
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, fmt.Errorf("scan report: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQL) TxApplied(ctx context.Context, id string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, s.rebind(selectAppliedSQL), id).Scan(&one)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("select applied tx: %w", err)
	}
	return true, nil
}

func (s *SQL) Checkpoint(ctx context.Context) (types.Checkpoint, error) {
	var (
		cp      types.Checkpoint
		index   int64
		hashHex string
	)
	err := s.db.QueryRowContext(ctx, s.rebind(selectCheckpointSQL), singletonRow).
		Scan(&cp.Height, &index, &hashHex)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Checkpoint{}, ErrNotFound
		}
		return types.Checkpoint{}, fmt.Errorf("select checkpoint: %w", err)
	}
	cp.Index = uint32(index)
	if cp.AppHash, err = hex.DecodeString(hashHex); err != nil {
		return types.Checkpoint{}, fmt.Errorf("decode checkpoint hash: %w", err)
	}
	return cp, nil
}

// Apply writes the batch in one transaction.
func (s *SQL) Apply(ctx context.Context, b Batch) error {
	if b.Empty() {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin apply: %w", err)
	}

	if err := s.applyTx(ctx, tx, b); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit apply: %w", err)
	}
	return nil
}

func (s *SQL) applyTx(ctx context.Context, tx *sql.Tx, b Batch) error {
	if g := b.Global; g != nil {
		if _, err := tx.ExecContext(ctx, s.rebind(upsertGlobalSQL),
			singletonRow, int64(g.TotalReports), g.Version, g.Admin, string(g.Status),
			int64(g.AnonymousReports), int64(g.EvidenceReports)); err != nil {
			return fmt.Errorf("upsert ledger state: %w", err)
		}
	}
	if st := b.Submitter; st != nil {
		if _, err := tx.ExecContext(ctx, s.rebind(upsertSubmitterSQL),
			st.Address, int64(st.LastSubmissionTime), int64(st.SubmissionCount)); err != nil {
			return fmt.Errorf("upsert submitter: %w", err)
		}
	}
	if r := b.Report; r != nil {
		if _, err := tx.ExecContext(ctx, s.rebind(insertReportSQL), reportToArgs(*r)...); err != nil {
			return fmt.Errorf("insert report %d: %w", r.ID, err)
		}
	}
	if cp := b.Checkpoint; cp != nil {
		if _, err := tx.ExecContext(ctx, s.rebind(upsertCheckpointSQL),
			singletonRow, cp.Height, int64(cp.Index), hex.EncodeToString(cp.AppHash)); err != nil {
			return fmt.Errorf("upsert checkpoint: %w", err)
		}
	}
	if b.TxID != "" {
		if _, err := tx.ExecContext(ctx, s.rebind(insertAppliedSQL), b.TxID); err != nil {
			return fmt.Errorf("record tx %s: %w", b.TxID, err)
		}
	}
	return nil
}

func (s *SQL) LastCommit(ctx context.Context) (Commit, error) {
	var (
		c       Commit
		hashHex string
	)
	err := s.db.QueryRowContext(ctx, s.rebind(selectCommitSQL), singletonRow).Scan(&c.Height, &hashHex)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Commit{}, ErrNotFound
		}
		return Commit{}, fmt.Errorf("select commit: %w", err)
	}
	if c.AppHash, err = hex.DecodeString(hashHex); err != nil {
		return Commit{}, fmt.Errorf("decode commit hash: %w", err)
	}
	return c, nil
}

func (s *SQL) SaveCommit(ctx context.Context, c Commit) error {
	if _, err := s.db.ExecContext(ctx, s.rebind(upsertCommitSQL),
		singletonRow, c.Height, hex.EncodeToString(c.AppHash)); err != nil {
		return fmt.Errorf("save commit: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (s *SQL) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func reportToArgs(r types.ReportRecord) []any {
	anonymous := int64(0)
	if r.Anonymous {
		anonymous = 1
	}
	return []any{
		int64(r.ID),
		r.Submitter,
		int64(r.Timestamp),
		r.Message,
		r.ReferenceCode,
		r.EvidencePointer,
		anonymous,
	}
}

func scanReport(scanner interface{ Scan(dest ...any) error }) (types.ReportRecord, error) {
	var (
		id, ts, anonymous   int64
		submitter, message  string
		reference, evidence sql.NullString
	)
	if err := scanner.Scan(&id, &submitter, &ts, &message, &reference, &evidence, &anonymous); err != nil {
		return types.ReportRecord{}, err
	}
	return types.ReportRecord{
		ID:              uint64(id),
		Submitter:       submitter,
		Timestamp:       uint64(ts),
		Message:         message,
		ReferenceCode:   reference.String,
		EvidencePointer: evidence.String,
		Anonymous:       anonymous != 0,
	}, nil
}
