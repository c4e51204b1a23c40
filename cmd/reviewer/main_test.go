package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/pavelanni/reviewer/internal/ingest"
	"github.com/pavelanni/reviewer/internal/model"
)

func TestExtractCommand(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "science.md")
	out := filepath.Join(dir, "questions.json")
	content := "Notes\n1. Which gas do plants release?\nA. Oxygen\nB. Helium\n2. No options here\n"
	if err := os.WriteFile(in, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	root := rootCmd()
	root.SetArgs([]string{"extract", in, "-o", out})
	if err := root.Execute(); err != nil {
		t.Fatalf("extract: %v", err)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	var qs []model.Question
	if err := json.Unmarshal(data, &qs); err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if len(qs) != 1 || qs[0].Prompt != "Which gas do plants release?" {
		t.Errorf("questions = %+v", qs)
	}
}

func TestExtractCommandRejectsBinary(t *testing.T) {
	in := filepath.Join(t.TempDir(), "scan.txt")
	if err := os.WriteFile(in, []byte("%PDF-1.7 ..."), 0o644); err != nil {
		t.Fatal(err)
	}
	root := rootCmd()
	root.SetArgs([]string{"extract", in})
	root.SilenceErrors = true
	root.SilenceUsage = true
	if err := root.Execute(); err == nil {
		t.Error("expected an error for binary content")
	}
}

func TestExtractCommandStdin(t *testing.T) {
	tests := []struct {
		name    string
		input   []byte
		wantErr error
	}{
		{"plain text", []byte("1. Q?\nA. a\nB. b\n"), nil},
		{"oversized", append(bytes.Repeat([]byte("x"), ingest.MaxFileSize), "\n1. Q?\nA. a\n"...), ingest.ErrTooLarge},
		{"zip magic", []byte("PK\x03\x04\n1. Q?\nA. a\n"), ingest.ErrBinary},
		{"null byte", []byte("1. Q?\x00\nA. a\n"), ingest.ErrBinary},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := filepath.Join(t.TempDir(), "questions.json")
			root := rootCmd()
			root.SetArgs([]string{"extract", "-", "-o", out})
			root.SetIn(bytes.NewReader(tt.input))
			root.SilenceErrors = true
			root.SilenceUsage = true

			err := root.Execute()
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("extract: %v", err)
				}
				data, _ := os.ReadFile(out)
				var qs []model.Question
				if err := json.Unmarshal(data, &qs); err != nil || len(qs) != 1 {
					t.Errorf("questions = %s (%v)", data, err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
			if _, statErr := os.Stat(out); statErr == nil {
				t.Error("rejected input still produced output")
			}
		})
	}
}

func TestIngestThenAskAndImport(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "reviewer.db")
	notes := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(notes, []byte("Mitochondria is the powerhouse of the cell.\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	run := func(args ...string) {
		t.Helper()
		root := rootCmd()
		root.SetArgs(args)
		root.SetOut(new(discard))
		if err := root.Execute(); err != nil {
			t.Fatalf("%v: %v", args, err)
		}
	}
	run("ingest", notes, "--db", db, "--profile-name", "Ana", "--grade", "7", "--subject", "science")
	run("ask", "tell me about mitochondria", "--db", db, "--profile-name", "Ana", "--grade", "7", "--seed", "3")

	dump := filepath.Join(dir, "storage.json")
	legacy := `{"knowledge_Ben_8": "1. Q?\nA. yes\nB. no", "theme": "dark"}`
	if err := os.WriteFile(dump, []byte(legacy), 0o644); err != nil {
		t.Fatal(err)
	}
	run("import-legacy", dump, "--db", db)
	// A second run sees the same hash and skips the file.
	run("import-legacy", dump, "--db", db)

	out := filepath.Join(dir, "all.json")
	run("export", "--all", "--db", db, "-o", out)
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	var exports []model.ProfileExport
	if err := json.Unmarshal(data, &exports); err != nil {
		t.Fatalf("decode export: %v", err)
	}
	if len(exports) != 2 {
		t.Fatalf("exported %d profiles, want 2", len(exports))
	}
	if exports[0].Profile.Name != "Ana" || len(exports[0].Logs) != 2 {
		t.Errorf("Ana export = %+v", exports[0])
	}
	if exports[1].Knowledge == nil {
		t.Errorf("Ben's legacy knowledge missing: %+v", exports[1])
	}
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }
