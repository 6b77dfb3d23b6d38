package snapshot

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"time"

	"github.com/Adithya-Monish-Kumar-K/bm25-chunk-search/internal/index"
)

// Write atomically replaces path with a snapshot of docs and idx. It writes
// to path+".tmp" first and renames on success; on failure the temp file is
// removed.
func Write(path string, docs []index.Document, idx *index.TermIndex) (*Header, error) {
	if idx == nil {
		return nil, fmt.Errorf("cannot write snapshot without an index")
	}
	if err := idx.Validate(len(docs)); err != nil {
		return nil, fmt.Errorf("refusing to write inconsistent snapshot: %w", err)
	}
	data, err := json.Marshal(payload{Documents: docs, Index: idx})
	if err != nil {
		return nil, fmt.Errorf("marshaling snapshot payload: %w", err)
	}

	header := Header{
		Magic:         MagicBytes,
		Version:       FormatVersion,
		DocCount:      uint32(len(docs)),
		TermCount:     uint32(idx.VocabularySize()),
		CreatedAt:     time.Now().Unix(),
		PayloadOffset: int64(HeaderSize),
		PayloadSize:   int64(len(data)),
		Checksum:      crc32.ChecksumIEEE(data),
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating snapshot directory: %w", err)
		}
	}
	tmpPath := path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("creating temp snapshot file: %w", err)
	}
	renamed := false
	defer func() {
		if !renamed {
			f.Close()
			os.Remove(tmpPath)
		}
	}()

	if _, err := f.Write(encodeHeader(header)); err != nil {
		return nil, fmt.Errorf("writing header: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		return nil, fmt.Errorf("writing payload: %w", err)
	}
	if err := f.Sync(); err != nil {
		return nil, fmt.Errorf("syncing snapshot file: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("closing snapshot file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return nil, fmt.Errorf("renaming snapshot file: %w", err)
	}
	renamed = true
	return &header, nil
}

func encodeHeader(h Header) []byte {
	buf := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(buf[0:4], h.Magic)
	binary.LittleEndian.PutUint32(buf[4:8], h.Version)
	binary.LittleEndian.PutUint32(buf[8:12], h.DocCount)
	binary.LittleEndian.PutUint32(buf[12:16], h.TermCount)
	binary.LittleEndian.PutUint64(buf[16:24], uint64(h.CreatedAt))
	binary.LittleEndian.PutUint64(buf[24:32], uint64(h.PayloadOffset))
	binary.LittleEndian.PutUint64(buf[32:40], uint64(h.PayloadSize))
	binary.LittleEndian.PutUint32(buf[40:44], h.Checksum)
	return buf
}
