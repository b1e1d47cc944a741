package zip

import (
	"archive/zip"
	"bytes"
	"io"
	"testing"
)

func TestArchiveAssetsRoundTrip(t *testing.T) {
	data, err := ArchiveAssets([]Asset{
		{Filename: "a.png", Data: []byte("first")},
		{Filename: "b.mp4", Data: []byte("second")},
	})
	if err != nil {
		t.Fatalf("ArchiveAssets: %v", err)
	}
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	if len(zr.File) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(zr.File))
	}
	want := map[string]string{"a.png": "first", "b.mp4": "second"}
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			t.Fatalf("open %s: %v", f.Name, err)
		}
		body, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			t.Fatalf("read %s: %v", f.Name, err)
		}
		if string(body) != want[f.Name] {
			t.Fatalf("entry %s = %q, want %q", f.Name, body, want[f.Name])
		}
	}
}

func TestArchiveAssetsDeduplicatesNames(t *testing.T) {
	data, err := ArchiveAssets([]Asset{
		{Filename: "out.png", Data: []byte("one")},
		{Filename: "out.png", Data: []byte("two")},
		{Filename: "", Data: []byte("three")},
	})
	if err != nil {
		t.Fatalf("ArchiveAssets: %v", err)
	}
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	names := make([]string, 0, len(zr.File))
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	want := []string{"out.png", "out-1.png", "asset"}
	if len(names) != len(want) {
		t.Fatalf("expected %d entries, got %v", len(want), names)
	}
	for i, name := range want {
		if names[i] != name {
			t.Fatalf("entry %d = %q, want %q", i, names[i], name)
		}
	}
}
