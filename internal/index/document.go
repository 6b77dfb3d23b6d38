package index

// Metadata is the source information stored alongside a chunk, e.g.
// {"source": "handbook.pdf", "page": 3}.
type Metadata map[string]any

// UnknownSource is the metadata assigned to chunks whose stored metadata is
// missing or cannot be parsed.
func UnknownSource() Metadata {
	return Metadata{"source": "unknown"}
}

// Document is one chunk of the corpus. ID is its ordinal position in the
// corpus and doubles as the tie-break key when scores are equal.
type Document struct {
	ID       int      `json:"id"`
	Text     string   `json:"text"`
	Metadata Metadata `json:"metadata"`
}
