package snapshot

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/bm25-chunk-search/internal/index"
	"github.com/Adithya-Monish-Kumar-K/bm25-chunk-search/internal/tokenizer"
	apperrors "github.com/Adithya-Monish-Kumar-K/bm25-chunk-search/pkg/errors"
)

func sampleCorpus() ([]index.Document, *index.TermIndex) {
	texts := []string{"the cat sat", "the dog ran", "cats and dogs"}
	docs := make([]index.Document, len(texts))
	tokenized := make([][]string, len(texts))
	for i, text := range texts {
		docs[i] = index.Document{ID: i, Text: text, Metadata: index.Metadata{"source": "pets.pdf", "page": float64(i + 1)}}
		tokenized[i] = tokenizer.Tokenize(text)
	}
	return docs, index.Build(tokenized)
}

func TestWriteThenRead(t *testing.T) {
	docs, idx := sampleCorpus()
	path := filepath.Join(t.TempDir(), "nested", "bm25.snap")

	header, err := Write(path, docs, idx)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if header.DocCount != 3 || header.TermCount != uint32(idx.VocabularySize()) {
		t.Errorf("unexpected header: %+v", header)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Errorf("temp file left behind: %v", err)
	}

	f, err := Read(path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(f.Documents) != 3 || f.Documents[2].Text != "cats and dogs" {
		t.Errorf("documents = %+v", f.Documents)
	}
	if f.Documents[1].Metadata["page"] != float64(2) {
		t.Errorf("metadata = %v", f.Documents[1].Metadata)
	}
	if f.Index.AvgDocLen != idx.AvgDocLen || f.Index.DocFreq("the") != 2 || f.Index.TermFreq("dog", 1) != 1 {
		t.Errorf("index statistics changed across the round trip: %+v", f.Index)
	}
}

func TestReadMissing(t *testing.T) {
	_, err := Read(filepath.Join(t.TempDir(), "absent.snap"))
	if !errors.Is(err, apperrors.ErrSnapshotNotFound) {
		t.Errorf("expected ErrSnapshotNotFound, got %v", err)
	}
}

func TestReadRejectsCorruption(t *testing.T) {
	docs, idx := sampleCorpus()
	dir := t.TempDir()

	tests := []struct {
		name   string
		mutate func([]byte) []byte
	}{
		{"bad magic", func(b []byte) []byte { b[0] ^= 0xFF; return b }},
		{"flipped payload byte", func(b []byte) []byte { b[HeaderSize+5] ^= 0x01; return b }},
		{"truncated payload", func(b []byte) []byte { return b[:len(b)-10] }},
		{"truncated header", func(b []byte) []byte { return b[:HeaderSize/2] }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.name+".snap")
			if _, err := Write(path, docs, idx); err != nil {
				t.Fatalf("Write: %v", err)
			}
			raw, err := os.ReadFile(path)
			if err != nil {
				t.Fatal(err)
			}
			if err := os.WriteFile(path, tt.mutate(raw), 0o644); err != nil {
				t.Fatal(err)
			}
			_, err = Read(path)
			if err == nil {
				t.Fatal("expected error")
			}
			if errors.Is(err, apperrors.ErrSnapshotNotFound) {
				t.Errorf("corruption must not look like a missing file: %v", err)
			}
		})
	}
}

func TestWriteRejectsMisalignedIndex(t *testing.T) {
	docs, idx := sampleCorpus()
	if _, err := Write(filepath.Join(t.TempDir(), "x.snap"), docs[:2], idx); err == nil {
		t.Error("expected error for index/corpus mismatch")
	}
}

func TestWriteFailureRemovesTempFile(t *testing.T) {
	docs, idx := sampleCorpus()
	// A non-empty directory at the target makes the final rename fail.
	path := filepath.Join(t.TempDir(), "bm25.snap")
	if err := os.MkdirAll(filepath.Join(path, "occupied"), 0o755); err != nil {
		t.Fatal(err)
	}

	if _, err := Write(path, docs, idx); err == nil {
		t.Fatal("expected rename failure")
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Errorf("temp file left behind: %v", err)
	}
}

func TestWriteEmptyCorpus(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.snap")
	if _, err := Write(path, []index.Document{}, index.Build(nil)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	f, err := Read(path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(f.Documents) != 0 || f.Index.TotalDocs != 0 {
		t.Errorf("expected empty snapshot, got %+v", f)
	}
}
