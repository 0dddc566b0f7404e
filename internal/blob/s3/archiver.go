package s3blob

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/optionsd/internal/domain"
)

// Archiver keeps an immutable copy of every creation request and exercise
// outcome in object storage and records each upload in the audit log.
//
// Key layout:
//
//	creations/2026-10/{request id}.json
//	exercises/{market}/{account}/{attempt id}.json
type Archiver struct {
	writer domain.BlobWriter
	reader domain.BlobReader
	audit  domain.AuditStore
}

// NewArchiver creates an Archiver. reader and audit may be nil.
func NewArchiver(writer domain.BlobWriter, reader domain.BlobReader, audit domain.AuditStore) *Archiver {
	return &Archiver{writer: writer, reader: reader, audit: audit}
}

// ExerciseRecord is the archived form of one exercise attempt.
type ExerciseRecord struct {
	Attempt domain.ExerciseAttempt `json:"attempt"`
	Receipt *domain.Receipt        `json:"receipt,omitempty"`
}

// ArchiveCreation uploads req and returns its object key.
func (a *Archiver) ArchiveCreation(ctx context.Context, req domain.CreationRequest) (string, error) {
	path := CreationPath(req.ID, req.CreatedAt)
	if err := PutJSON(ctx, a.writer, path, req); err != nil {
		return "", fmt.Errorf("s3blob: archive creation %s: %w", req.ID, err)
	}
	a.logAudit(ctx, "archive.creation", map[string]any{
		"path":   path,
		"id":     req.ID,
		"status": string(req.Status),
	})
	return path, nil
}

// ArchiveExercise uploads an attempt with its receipt, which is nil when
// the transaction was never mined.
func (a *Archiver) ArchiveExercise(ctx context.Context, attempt domain.ExerciseAttempt, receipt *domain.Receipt) (string, error) {
	path := ExercisePath(attempt.Market, attempt.Account, attempt.ID)
	if err := PutJSON(ctx, a.writer, path, ExerciseRecord{Attempt: attempt, Receipt: receipt}); err != nil {
		return "", fmt.Errorf("s3blob: archive exercise %s: %w", attempt.ID, err)
	}
	a.logAudit(ctx, "archive.exercise", map[string]any{
		"path":    path,
		"id":      attempt.ID,
		"status":  string(attempt.Status),
		"tx_hash": attempt.TxHash,
	})
	return path, nil
}

// HasCreation reports whether req has already been archived.
func (a *Archiver) HasCreation(ctx context.Context, id string, createdAt time.Time) (bool, error) {
	if a.reader == nil {
		return false, fmt.Errorf("s3blob: archiver has no reader")
	}
	return a.reader.Exists(ctx, CreationPath(id, createdAt))
}

// Audit failures do not fail the archive; the object is already stored.
func (a *Archiver) logAudit(ctx context.Context, event string, detail map[string]any) {
	if a.audit == nil {
		return
	}
	_ = a.audit.Log(ctx, event, detail)
}

// CreationPath is the object key for a creation request.
func CreationPath(id string, createdAt time.Time) string {
	return fmt.Sprintf("creations/%s/%s.json", createdAt.UTC().Format("2006-01"), id)
}

// ExercisePath is the object key for an exercise attempt.
func ExercisePath(market, account, attemptID string) string {
	return fmt.Sprintf("exercises/%s/%s/%s.json", strings.ToLower(market), strings.ToLower(account), attemptID)
}
