package fileutil

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestWriteJSONAtomicRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")

	if err := WriteJSONAtomic(path, map[string]any{"stage": "UPLOADING", "received": 2}); err != nil {
		t.Fatalf("WriteJSONAtomic: %v", err)
	}
	var got struct {
		Stage    string `json:"stage"`
		Received int    `json:"received"`
	}
	if err := ReadJSON(path, &got); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if got.Stage != "UPLOADING" || got.Received != 2 {
		t.Fatalf("unexpected decode: %+v", got)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected temp file to be renamed away, found %d entries", len(entries))
	}
}

func TestReadJSONReportsDecodeErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(path, []byte("{"), 0o644); err != nil {
		t.Fatal(err)
	}
	var v map[string]any
	if err := ReadJSON(path, &v); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestAppendFileConcatenates(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "a")
	second := filepath.Join(dir, "b")
	if err := os.WriteFile(first, []byte("hello "), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(second, []byte("world"), 0o644); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	buf := make([]byte, 4)
	for _, src := range []string{first, second} {
		if _, err := AppendFile(&out, src, buf); err != nil {
			t.Fatalf("AppendFile(%s): %v", src, err)
		}
	}
	if out.String() != "hello world" {
		t.Fatalf("unexpected concatenation: %q", out.String())
	}
}

func TestCopyFileMode(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.bin")
	dst := filepath.Join(dir, "dst.bin")
	if err := os.WriteFile(src, []byte("data"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := CopyFile(src, dst, 0o600); err != nil {
		t.Fatalf("CopyFile: %v", err)
	}
	info, err := os.Stat(dst)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("unexpected mode: %v", info.Mode().Perm())
	}
	if !Exists(dst) || Exists(dir) {
		t.Fatal("Exists should report regular files only")
	}
}
