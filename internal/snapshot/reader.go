package snapshot

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"io/fs"
	"os"

	apperrors "github.com/Adithya-Monish-Kumar-K/bm25-chunk-search/pkg/errors"
)

// Read loads and verifies the snapshot at path. A missing file yields an
// error wrapping ErrSnapshotNotFound.
func Read(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", apperrors.ErrSnapshotNotFound, path)
		}
		return nil, fmt.Errorf("opening snapshot file: %w", err)
	}
	defer f.Close()

	headerBytes := make([]byte, HeaderSize)
	if _, err := f.ReadAt(headerBytes, 0); err != nil {
		return nil, fmt.Errorf("reading snapshot header: %w", err)
	}
	header := decodeHeader(headerBytes)
	if header.Magic != MagicBytes {
		return nil, fmt.Errorf("invalid snapshot file: bad magic bytes %x", header.Magic)
	}
	if header.Version != FormatVersion {
		return nil, fmt.Errorf("unsupported snapshot version %d", header.Version)
	}
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat snapshot file: %w", err)
	}
	if header.PayloadSize < 0 || header.PayloadOffset < int64(HeaderSize) ||
		header.PayloadOffset+header.PayloadSize > info.Size() {
		return nil, fmt.Errorf("invalid snapshot payload bounds offset=%d size=%d", header.PayloadOffset, header.PayloadSize)
	}

	data := make([]byte, header.PayloadSize)
	if _, err := f.ReadAt(data, header.PayloadOffset); err != nil {
		return nil, fmt.Errorf("reading snapshot payload: %w", err)
	}
	if sum := crc32.ChecksumIEEE(data); sum != header.Checksum {
		return nil, fmt.Errorf("snapshot checksum mismatch: header %08x, payload %08x", header.Checksum, sum)
	}

	var p payload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parsing snapshot payload: %w", err)
	}
	if int(header.DocCount) != len(p.Documents) {
		return nil, fmt.Errorf("snapshot header lists %d documents, payload has %d", header.DocCount, len(p.Documents))
	}
	for i, doc := range p.Documents {
		if doc.ID != i {
			return nil, fmt.Errorf("snapshot document at position %d has id %d", i, doc.ID)
		}
	}
	if p.Index == nil {
		return nil, fmt.Errorf("snapshot has no index")
	}
	if err := p.Index.Validate(len(p.Documents)); err != nil {
		return nil, fmt.Errorf("snapshot index: %w", err)
	}
	return &File{
		Header:    header,
		Documents: p.Documents,
		Index:     p.Index,
	}, nil
}

func decodeHeader(buf []byte) Header {
	return Header{
		Magic:         binary.LittleEndian.Uint32(buf[0:4]),
		Version:       binary.LittleEndian.Uint32(buf[4:8]),
		DocCount:      binary.LittleEndian.Uint32(buf[8:12]),
		TermCount:     binary.LittleEndian.Uint32(buf[12:16]),
		CreatedAt:     int64(binary.LittleEndian.Uint64(buf[16:24])),
		PayloadOffset: int64(binary.LittleEndian.Uint64(buf[24:32])),
		PayloadSize:   int64(binary.LittleEndian.Uint64(buf[32:40])),
		Checksum:      binary.LittleEndian.Uint32(buf[40:44]),
	}
}
