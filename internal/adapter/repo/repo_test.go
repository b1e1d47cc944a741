package repo

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"mediaforge/internal/domain"
	"mediaforge/internal/sqlinline"
)

type execCall struct {
	query string
	args  []any
}

type fakeExecutor struct {
	execCalls []execCall
	execErr   error
	row       fakeRow
	rows      *fakeRows
	lastQuery string
}

func (f *fakeExecutor) Exec(_ context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	f.execCalls = append(f.execCalls, execCall{query: query, args: args})
	return pgconn.CommandTag{}, f.execErr
}

func (f *fakeExecutor) QueryRow(_ context.Context, query string, args ...any) pgx.Row {
	f.lastQuery = query
	return f.row
}

func (f *fakeExecutor) Query(_ context.Context, query string, args ...any) (pgx.Rows, error) {
	f.lastQuery = query
	if f.rows == nil {
		return nil, errors.New("no rows configured")
	}
	return f.rows, nil
}

type fakeRow struct {
	values []any
	err    error
}

func (f fakeRow) Scan(dest ...any) error {
	if f.err != nil {
		return f.err
	}
	return assignValues(f.values, dest)
}

type fakeRows struct {
	rows [][]any
	idx  int
}

func (r *fakeRows) Close() {}

func (r *fakeRows) Err() error { return nil }

func (r *fakeRows) CommandTag() pgconn.CommandTag { return pgconn.CommandTag{} }

func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }

func (r *fakeRows) Next() bool {
	if r.idx >= len(r.rows) {
		return false
	}
	r.idx++
	return true
}

func (r *fakeRows) Scan(dest ...any) error {
	if r.idx == 0 || r.idx > len(r.rows) {
		return pgx.ErrNoRows
	}
	return assignValues(r.rows[r.idx-1], dest)
}

func (r *fakeRows) Values() ([]any, error) { return nil, nil }

func (r *fakeRows) RawValues() [][]byte { return nil }

func (r *fakeRows) Conn() *pgx.Conn { return nil }

func assignValues(values []any, dest []any) error {
	if len(values) != len(dest) {
		return fmt.Errorf("scan arity mismatch: %d values, %d dest", len(values), len(dest))
	}
	for i, d := range dest {
		v := values[i]
		switch t := d.(type) {
		case *string:
			t2, ok := v.(string)
			if !ok {
				return fmt.Errorf("dest %d: want string, have %T", i, v)
			}
			*t = t2
		case **string:
			if v == nil {
				*t = nil
				break
			}
			s, ok := v.(string)
			if !ok {
				return fmt.Errorf("dest %d: want string, have %T", i, v)
			}
			*t = &s
		case *[]byte:
			if v == nil {
				*t = nil
				break
			}
			*t = append([]byte(nil), v.([]byte)...)
		case *int64:
			*t = v.(int64)
		case *time.Time:
			*t = v.(time.Time)
		default:
			return fmt.Errorf("dest %d: unsupported type %T", i, d)
		}
	}
	return nil
}

func TestCreateDefaultsStatusToPending(t *testing.T) {
	exec := &fakeExecutor{}
	r := NewJobRepository(exec)

	job := &domain.Job{
		ID:          "job-1",
		Feature:     domain.FeatureTextToImage,
		RequestJSON: []byte(`{"prompt":"x"}`),
	}
	if err := r.Create(context.Background(), job); err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(exec.execCalls) != 1 {
		t.Fatalf("exec calls = %d, want 1", len(exec.execCalls))
	}
	call := exec.execCalls[0]
	if call.query != sqlinline.QInsertJob {
		t.Fatalf("unexpected query: %s", call.query)
	}
	if call.args[3] != "pending" {
		t.Fatalf("status arg = %v, want pending", call.args[3])
	}
}

func TestClaimMapsEmptyQueue(t *testing.T) {
	exec := &fakeExecutor{row: fakeRow{err: pgx.ErrNoRows}}
	r := NewJobRepository(exec)

	_, err := r.Claim(context.Background())
	if !errors.Is(err, domain.ErrNoJobAvailable) {
		t.Fatalf("Claim() error = %v, want ErrNoJobAvailable", err)
	}
	if exec.lastQuery != sqlinline.QClaimJob {
		t.Fatalf("unexpected query: %s", exec.lastQuery)
	}
}

func TestClaimScansJob(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	exec := &fakeExecutor{row: fakeRow{values: []any{
		"job-1", nil, "text_to_video", "processing", []byte(`{"prompt":"x"}`), now, now,
	}}}
	r := NewJobRepository(exec)

	job, err := r.Claim(context.Background())
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if job.ID != "job-1" {
		t.Fatalf("id = %q", job.ID)
	}
	if job.OwnerID != "" {
		t.Fatalf("owner = %q, want empty for null owner", job.OwnerID)
	}
	if job.Feature != domain.FeatureTextToVideo {
		t.Fatalf("feature = %q", job.Feature)
	}
	if job.Status != domain.JobStatusProcessing {
		t.Fatalf("status = %q", job.Status)
	}
}

func TestGetByIDMapsNotFound(t *testing.T) {
	exec := &fakeExecutor{row: fakeRow{err: pgx.ErrNoRows}}
	r := NewJobRepository(exec)

	_, err := r.GetByID(context.Background(), "missing")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("GetByID() error = %v, want ErrNotFound", err)
	}
}

func TestGetByIDScansNullableColumns(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	exec := &fakeExecutor{row: fakeRow{values: []any{
		"job-1", "owner-1", "upscale", "failed", []byte(`{}`), nil, nil, "resource", "engine stuck", now, now,
	}}}
	r := NewJobRepository(exec)

	job, err := r.GetByID(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if job.OwnerID != "owner-1" {
		t.Fatalf("owner = %q", job.OwnerID)
	}
	if job.Backend != "" {
		t.Fatalf("backend = %q, want empty for null", job.Backend)
	}
	if job.ErrorKind != domain.ErrorKindResource {
		t.Fatalf("error kind = %q", job.ErrorKind)
	}
	if job.ErrorMessage != "engine stuck" {
		t.Fatalf("error message = %q", job.ErrorMessage)
	}
}

func TestMarkFailedPassesClassification(t *testing.T) {
	exec := &fakeExecutor{}
	r := NewJobRepository(exec)

	if err := r.MarkFailed(context.Background(), "job-1", domain.ErrorKindExhausted, "all backends failed", nil); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	call := exec.execCalls[0]
	if call.query != sqlinline.QMarkJobFailed {
		t.Fatalf("unexpected query: %s", call.query)
	}
	if call.args[1] != "exhausted" {
		t.Fatalf("kind arg = %v", call.args[1])
	}
	if call.args[3] != nil {
		t.Fatalf("attempts arg = %v, want nil for empty", call.args[3])
	}
}

func TestMarkCompletedPassesBackend(t *testing.T) {
	exec := &fakeExecutor{}
	r := NewJobRepository(exec)

	if err := r.MarkCompleted(context.Background(), "job-1", "comfy", []byte(`[]`)); err != nil {
		t.Fatalf("mark completed: %v", err)
	}
	call := exec.execCalls[0]
	if call.query != sqlinline.QMarkJobCompleted {
		t.Fatalf("unexpected query: %s", call.query)
	}
	if call.args[1] != "comfy" {
		t.Fatalf("backend arg = %v", call.args[1])
	}
}

func TestSaveAllAssignsMissingIDs(t *testing.T) {
	exec := &fakeExecutor{}
	r := NewAssetRepository(exec)

	assets := []domain.Asset{
		{Kind: domain.AssetKindImage, URL: "http://files.local/a.png", Backend: "comfy", Seed: 7},
		{ID: "asset-2", Kind: domain.AssetKindImage, URL: "http://files.local/b.png", Backend: "comfy"},
	}
	if err := r.SaveAll(context.Background(), "job-1", assets); err != nil {
		t.Fatalf("save all: %v", err)
	}
	if len(exec.execCalls) != 2 {
		t.Fatalf("exec calls = %d, want 2", len(exec.execCalls))
	}
	if id, ok := exec.execCalls[0].args[0].(string); !ok || id == "" {
		t.Fatalf("first asset id = %v, want generated uuid", exec.execCalls[0].args[0])
	}
	if exec.execCalls[1].args[0] != "asset-2" {
		t.Fatalf("second asset id = %v", exec.execCalls[1].args[0])
	}
	if exec.execCalls[0].args[1] != "job-1" {
		t.Fatalf("job id arg = %v", exec.execCalls[0].args[1])
	}
}

func TestListByJobIDScansAssets(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	exec := &fakeExecutor{rows: &fakeRows{rows: [][]any{
		{"a1", "job-1", "image", "http://files.local/a.png", "comfy", int64(7), now},
		{"a2", "job-1", "video", "http://files.local/b.webp", "comfy", int64(0), now},
	}}}
	r := NewAssetRepository(exec)

	assets, err := r.ListByJobID(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(assets) != 2 {
		t.Fatalf("assets = %d, want 2", len(assets))
	}
	if assets[0].Kind != domain.AssetKindImage || assets[1].Kind != domain.AssetKindVideo {
		t.Fatalf("kinds = %q, %q", assets[0].Kind, assets[1].Kind)
	}
	if assets[0].Seed != 7 {
		t.Fatalf("seed = %d", assets[0].Seed)
	}
	if exec.lastQuery != sqlinline.QSelectAssetsByJob {
		t.Fatalf("unexpected query: %s", exec.lastQuery)
	}
}
