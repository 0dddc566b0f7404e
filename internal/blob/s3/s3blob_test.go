package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/optionsd/internal/domain"
)

type memBlob struct {
	objects map[string][]byte
	types   map[string]string
	err     error
}

func newMemBlob() *memBlob {
	return &memBlob{objects: map[string][]byte{}, types: map[string]string{}}
}

func (m *memBlob) Put(ctx context.Context, path string, data io.Reader, contentType string) error {
	if m.err != nil {
		return m.err
	}
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	m.objects[path] = b
	m.types[path] = contentType
	return nil
}

func (m *memBlob) Get(ctx context.Context, path string) (io.ReadCloser, error) {
	b, ok := m.objects[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (m *memBlob) Exists(ctx context.Context, path string) (bool, error) {
	_, ok := m.objects[path]
	return ok, nil
}

type memAudit struct {
	events []string
}

func (m *memAudit) Log(ctx context.Context, event string, detail map[string]any) error {
	m.events = append(m.events, event)
	return nil
}

func (m *memAudit) List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

func TestArchiveCreation(t *testing.T) {
	blob := newMemBlob()
	audit := &memAudit{}
	a := NewArchiver(blob, blob, audit)

	created := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	req := domain.CreationRequest{
		ID:          "req-1",
		Asset:       "sETH",
		StrikePrice: decimal.NewFromInt(2000),
		Status:      domain.CreationStatusPending,
		CreatedAt:   created,
	}
	path, err := a.ArchiveCreation(context.Background(), req)
	if err != nil {
		t.Fatalf("ArchiveCreation: %v", err)
	}
	if path != "creations/2026-10/req-1.json" {
		t.Errorf("path = %q", path)
	}
	if blob.types[path] != "application/json" {
		t.Errorf("content type = %q", blob.types[path])
	}

	var got domain.CreationRequest
	if err := json.Unmarshal(blob.objects[path], &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.ID != "req-1" || !got.StrikePrice.Equal(req.StrikePrice) {
		t.Errorf("archived = %+v", got)
	}
	if len(audit.events) != 1 || audit.events[0] != "archive.creation" {
		t.Errorf("audit events = %v", audit.events)
	}

	ok, err := a.HasCreation(context.Background(), "req-1", created)
	if err != nil || !ok {
		t.Errorf("HasCreation = %v, %v", ok, err)
	}
}

func TestArchiveExercise(t *testing.T) {
	blob := newMemBlob()
	a := NewArchiver(blob, nil, nil)

	attempt := domain.ExerciseAttempt{ID: "att-1", Market: "0xABC", Account: "0xDEF", Status: domain.ExerciseStatusSucceeded}
	path, err := a.ArchiveExercise(context.Background(), attempt, &domain.Receipt{TxHash: "0x1", Success: true})
	if err != nil {
		t.Fatalf("ArchiveExercise: %v", err)
	}
	if path != "exercises/0xabc/0xdef/att-1.json" {
		t.Errorf("path = %q", path)
	}
	var rec ExerciseRecord
	if err := json.Unmarshal(blob.objects[path], &rec); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if rec.Receipt == nil || rec.Receipt.TxHash != "0x1" {
		t.Errorf("receipt = %+v", rec.Receipt)
	}

	if _, err := a.HasCreation(context.Background(), "x", time.Now()); err == nil {
		t.Error("HasCreation without reader should fail")
	}
}

func TestArchiveUploadError(t *testing.T) {
	blob := newMemBlob()
	blob.err = errors.New("bucket gone")
	audit := &memAudit{}
	a := NewArchiver(blob, blob, audit)
	if _, err := a.ArchiveCreation(context.Background(), domain.CreationRequest{ID: "x"}); err == nil {
		t.Fatal("expected error")
	}
	if len(audit.events) != 0 {
		t.Error("failed uploads must not be audited")
	}
}

func TestNormaliseEndpoint(t *testing.T) {
	tests := []struct {
		in   string
		ssl  bool
		want string
	}{
		{"http://minio:9000", true, "http://minio:9000"},
		{"minio.internal", false, "http://minio.internal"},
		{"s3.example.com", true, "https://s3.example.com"},
	}
	for _, tt := range tests {
		if got := normaliseEndpoint(tt.in, tt.ssl); got != tt.want {
			t.Errorf("normaliseEndpoint(%q, %v) = %q, want %q", tt.in, tt.ssl, got, tt.want)
		}
	}
}

func TestIsNotFound(t *testing.T) {
	if !isNotFound(&types.NoSuchKey{}) {
		t.Error("NoSuchKey should be not found")
	}
	if !isNotFound(&types.NotFound{}) {
		t.Error("NotFound should be not found")
	}
	if isNotFound(errors.New("timeout")) {
		t.Error("plain errors are not not-found")
	}
}
