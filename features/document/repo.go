package document

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/DAJ8112/Yanck/internal/vector"
)

const documentColumns = `id, tenant_id, file_name, mime_type, size_bytes, checksum, storage_key, status, COALESCE(error, ''), attempts, created_at, updated_at`

// readyEmbeddings joins embeddings to the documents they belong to, limited
// to ready documents of one tenant ($1).
const readyEmbeddings = `
	FROM embeddings e
	JOIN chunks c ON c.id = e.chunk_id
	JOIN documents d ON d.id = c.document_id
	WHERE e.tenant_id = $1 AND d.status = 'ready'`

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

var _ vector.Source = (*PostgresRepo)(nil)

type scanner interface {
	Scan(dest ...any) error
}

func scanDocument(row scanner, d *Document, extra ...any) error {
	var status string
	dest := []any{&d.ID, &d.TenantID, &d.FileName, &d.MimeType, &d.SizeBytes, &d.Checksum, &d.StorageKey, &status, &d.Error, &d.Attempts, &d.CreatedAt, &d.UpdatedAt}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return err
	}
	d.Status = Status(status)
	return nil
}

func (r *PostgresRepo) Create(ctx context.Context, d *Document) error {
	query := `INSERT INTO documents (tenant_id, file_name, mime_type, size_bytes, checksum, storage_key) VALUES ($1, $2, $3, $4, $5, $6) RETURNING id, status, attempts, created_at, updated_at`
	var status string
	err := r.db.QueryRowContext(ctx, query, d.TenantID, d.FileName, d.MimeType, d.SizeBytes, d.Checksum, d.StorageKey).
		Scan(&d.ID, &status, &d.Attempts, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return err
	}
	d.Status = Status(status)
	return nil
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (*Document, error) {
	query := `SELECT ` + documentColumns + `, (SELECT COUNT(*) FROM chunks c WHERE c.document_id = d.id) FROM documents d WHERE d.id = $1`
	d := &Document{}
	err := scanDocument(r.db.QueryRowContext(ctx, query, id), d, &d.ChunkCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (r *PostgresRepo) ListByTenant(ctx context.Context, tenantID string) ([]Document, error) {
	query := `SELECT ` + documentColumns + `, (SELECT COUNT(*) FROM chunks c WHERE c.document_id = d.id) FROM documents d WHERE d.tenant_id = $1 ORDER BY d.created_at DESC`
	rows, err := r.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	docs := []Document{}
	for rows.Next() {
		var d Document
		if err := scanDocument(rows, &d, &d.ChunkCount); err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// Claim moves a pending document, or one whose lease expired, to processing
// and takes a new lease on it.
func (r *PostgresRepo) Claim(ctx context.Context, id string, lease time.Duration) (*Document, error) {
	query := `
		UPDATE documents
		SET status = 'processing', attempts = attempts + 1, lease_expires_at = NOW() + make_interval(secs => $2), updated_at = NOW()
		WHERE id = $1 AND (status = 'pending' OR (status = 'processing' AND lease_expires_at < NOW()))
		RETURNING ` + documentColumns
	d := &Document{}
	err := scanDocument(r.db.QueryRowContext(ctx, query, id, lease.Seconds()), d)
	if err == nil {
		return d, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	var status string
	err = r.db.QueryRowContext(ctx, `SELECT status FROM documents WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrDocumentDeleted
	}
	if err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("%w: status is %s", ErrNotClaimable, status)
}

// CheckLease reports ErrDocumentDeleted or ErrLeaseLost when the lease is no
// longer valid.
func (r *PostgresRepo) CheckLease(ctx context.Context, lease Lease) error {
	return checkLease(r.db.QueryRowContext(ctx, `SELECT status, attempts FROM documents WHERE id = $1`, lease.DocumentID), lease)
}

func lockLease(ctx context.Context, tx *sql.Tx, lease Lease) error {
	return checkLease(tx.QueryRowContext(ctx, `SELECT status, attempts FROM documents WHERE id = $1 FOR UPDATE`, lease.DocumentID), lease)
}

func checkLease(row scanner, lease Lease) error {
	var (
		status   string
		attempts int
	)
	err := row.Scan(&status, &attempts)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrDocumentDeleted
	}
	if err != nil {
		return err
	}
	if Status(status) != StatusProcessing || attempts != lease.Attempts {
		return fmt.Errorf("%w: status %s, attempt %d, lease attempt %d", ErrLeaseLost, status, attempts, lease.Attempts)
	}
	return nil
}

// CommitReady replaces the chunks and embeddings of the leased document and
// marks it ready, in one transaction.
func (r *PostgresRepo) CommitReady(ctx context.Context, lease Lease, chunks []Chunk, model string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := lockLease(ctx, tx, lease); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE document_id = $1`, lease.DocumentID); err != nil {
		return fmt.Errorf("delete previous chunks: %w", err)
	}

	for _, c := range chunks {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO chunks (id, tenant_id, document_id, chunk_index, content, token_count) VALUES ($1, $2, $3, $4, $5, $6)`,
			c.ID, lease.TenantID, lease.DocumentID, c.Index, c.Content, c.TokenCount)
		if err != nil {
			return fmt.Errorf("insert chunk %d: %w", c.Index, err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO embeddings (chunk_id, tenant_id, dimension, embedding_model, vector) VALUES ($1, $2, $3, $4, $5)`,
			c.ID, lease.TenantID, len(c.Vector), model, pgvector.NewVector(c.Vector))
		if err != nil {
			return fmt.Errorf("insert embedding %d: %w", c.Index, err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE documents SET status = 'ready', error = NULL, lease_expires_at = NULL, updated_at = NOW() WHERE id = $1`,
		lease.DocumentID); err != nil {
		return fmt.Errorf("mark ready: %w", err)
	}
	return tx.Commit()
}

// MarkFailed records a terminal failure and removes any partial output.
func (r *PostgresRepo) MarkFailed(ctx context.Context, lease Lease, reason string) error {
	if reason == "" {
		reason = "unknown error"
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := lockLease(ctx, tx, lease); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE document_id = $1`, lease.DocumentID); err != nil {
		return fmt.Errorf("delete partial chunks: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE documents SET status = 'failed', error = $2, lease_expires_at = NULL, updated_at = NOW() WHERE id = $1`,
		lease.DocumentID, reason); err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return tx.Commit()
}

// Release hands a leased document back to the queue without counting it as
// a failure.
func (r *PostgresRepo) Release(ctx context.Context, lease Lease) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE documents SET status = 'pending', lease_expires_at = NULL, updated_at = NOW() WHERE id = $1 AND status = 'processing' AND attempts = $2`,
		lease.DocumentID, lease.Attempts)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrLeaseLost
	}
	return nil
}

// Resubmit resets a ready or failed document to pending and drops its chunks.
func (r *PostgresRepo) Resubmit(ctx context.Context, id string) (*Document, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var status string
	err = tx.QueryRowContext(ctx, `SELECT status FROM documents WHERE id = $1 FOR UPDATE`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if !Status(status).Terminal() {
		return nil, fmt.Errorf("%w: cannot resubmit a %s document", ErrInvalidTransition, status)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE document_id = $1`, id); err != nil {
		return nil, fmt.Errorf("delete chunks: %w", err)
	}

	d := &Document{}
	query := `UPDATE documents SET status = 'pending', error = NULL, attempts = 0, lease_expires_at = NULL, updated_at = NOW() WHERE id = $1 RETURNING ` + documentColumns
	if err := scanDocument(tx.QueryRowContext(ctx, query, id), d); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return d, nil
}

// Delete removes the document; chunks, embeddings and failure records go with it.
func (r *PostgresRepo) Delete(ctx context.Context, id string) (*Document, error) {
	d := &Document{}
	err := scanDocument(r.db.QueryRowContext(ctx, `DELETE FROM documents WHERE id = $1 RETURNING `+documentColumns, id), d)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return d, nil
}

// ListStale returns documents whose lease expired and pending documents not
// touched for pendingAfter, oldest first.
func (r *PostgresRepo) ListStale(ctx context.Context, pendingAfter time.Duration, limit int) ([]Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents
		WHERE (status = 'processing' AND lease_expires_at < NOW())
		   OR (status = 'pending' AND updated_at < NOW() - make_interval(secs => $1))
		ORDER BY updated_at
		LIMIT $2`
	rows, err := r.db.QueryContext(ctx, query, pendingAfter.Seconds(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var d Document
		if err := scanDocument(rows, &d); err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// TouchPending bumps updated_at of pending documents so they are not
// republished on every sweep.
func (r *PostgresRepo) TouchPending(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.db.ExecContext(ctx, `UPDATE documents SET updated_at = NOW() WHERE id = ANY($1) AND status = 'pending'`, pq.Array(ids))
	return err
}

// CountByStatus reports how many documents of the tenant are in each state.
// States with no documents are absent from the map.
func (r *PostgresRepo) CountByStatus(ctx context.Context, tenantID string) (map[Status]int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM documents WHERE tenant_id = $1 GROUP BY status`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[Status]int)
	for rows.Next() {
		var status Status
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func (r *PostgresRepo) CountChunks(ctx context.Context, tenantID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks WHERE tenant_id = $1`, tenantID).Scan(&n)
	return n, err
}

func (r *PostgresRepo) CountEmbeddings(ctx context.Context, tenantID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*)`+readyEmbeddings, tenantID).Scan(&n)
	return n, err
}

func (r *PostgresRepo) Fingerprint(ctx context.Context, tenantID string) (vector.Fingerprint, error) {
	var fp vector.Fingerprint
	query := `SELECT COUNT(*), COALESCE(md5(string_agg(e.chunk_id::text, ',' ORDER BY e.chunk_id)), '')` + readyEmbeddings
	err := r.db.QueryRowContext(ctx, query, tenantID).Scan(&fp.Count, &fp.Digest)
	return fp, err
}

func (r *PostgresRepo) LoadEmbeddings(ctx context.Context, tenantID string) ([]vector.Entry, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT e.chunk_id, c.document_id, e.vector`+readyEmbeddings, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []vector.Entry
	for rows.Next() {
		var (
			e vector.Entry
			v pgvector.Vector
		)
		if err := rows.Scan(&e.ChunkID, &e.DocumentID, &v); err != nil {
			return nil, err
		}
		e.Vector = v.Slice()
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ResolvePassages looks up chunk text for ids, skipping chunks of other
// tenants and of documents that are not ready. Order is unspecified.
func (r *PostgresRepo) ResolvePassages(ctx context.Context, tenantID string, chunkIDs []string) ([]ContextPassage, error) {
	if len(chunkIDs) == 0 {
		return []ContextPassage{}, nil
	}

	query := `
		SELECT c.id, c.document_id, d.file_name, c.chunk_index, c.content
		FROM chunks c
		JOIN documents d ON d.id = c.document_id
		WHERE c.tenant_id = $1 AND d.status = 'ready' AND c.id = ANY($2)`
	rows, err := r.db.QueryContext(ctx, query, tenantID, pq.Array(chunkIDs))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]ContextPassage, 0, len(chunkIDs))
	for rows.Next() {
		var p ContextPassage
		if err := rows.Scan(&p.ChunkID, &p.DocumentID, &p.DocumentName, &p.ChunkIndex, &p.Content); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
