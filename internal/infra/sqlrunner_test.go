package infra

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
)

func TestSplitMarker(t *testing.T) {
	const query = "--sql f899f0a5-5919-4c02-a698-e49c78e8d295\nselect token\nfrom integration_tokens;"
	marker, body, err := splitMarker(query)
	if err != nil {
		t.Fatalf("splitMarker: %v", err)
	}
	if marker != "f899f0a5-5919-4c02-a698-e49c78e8d295" {
		t.Fatalf("marker = %q", marker)
	}
	if body != "select token\nfrom integration_tokens;" {
		t.Fatalf("body = %q", body)
	}
}

func TestSplitMarkerRejectsBadQueries(t *testing.T) {
	bad := []string{
		"select 1;",
		"-- sql f899f0a5-5919-4c02-a698-e49c78e8d295\nselect 1;",
		"--sql not-a-uuid\nselect 1;",
		"",
	}
	for _, query := range bad {
		if _, _, err := splitMarker(query); err == nil {
			t.Fatalf("expected marker error for %q", query)
		}
	}
}

func TestRunnerRejectsUnmarkedStatements(t *testing.T) {
	r := NewSQLRunner(nil, zerolog.Nop())
	ctx := context.Background()

	if err := r.QueryRow(ctx, "select 1").Scan(new(int)); err == nil {
		t.Fatal("QueryRow should surface the marker error via Scan")
	}
	if _, err := r.Exec(ctx, "delete from jobs"); err == nil {
		t.Fatal("Exec should reject an unmarked statement")
	}
	if _, err := r.Query(ctx, "select id from jobs"); err == nil {
		t.Fatal("Query should reject an unmarked statement")
	}
}
