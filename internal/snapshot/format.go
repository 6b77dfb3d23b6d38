// Package snapshot persists a built corpus and its term index to a single
// file so the engine can start without the primary corpus store.
//
// Layout:
//
//	[0:64)   header, little endian
//	[64:..)  JSON payload {"documents": [...], "index": {...}}
//
// The header records the payload offset, size and CRC-32 so truncated or
// corrupted files are rejected instead of producing a misaligned index.
package snapshot

import (
	"github.com/Adithya-Monish-Kumar-K/bm25-chunk-search/internal/index"
)

const (
	// MagicBytes spells "BM25" and identifies a snapshot file.
	MagicBytes    uint32 = 0x424D3235
	FormatVersion uint32 = 1
	HeaderSize    int    = 64
)

// Header is the fixed-size prefix of every snapshot file.
type Header struct {
	Magic         uint32
	Version       uint32
	DocCount      uint32
	TermCount     uint32
	CreatedAt     int64
	PayloadOffset int64
	PayloadSize   int64
	Checksum      uint32
}

type payload struct {
	Documents []index.Document `json:"documents"`
	Index     *index.TermIndex `json:"index"`
}

// File is a decoded snapshot.
type File struct {
	Header    Header
	Documents []index.Document
	Index     *index.TermIndex
}
