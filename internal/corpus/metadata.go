package corpus

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/bm25-chunk-search/internal/index"
	"gopkg.in/yaml.v3"
)

// ParseMetadata decodes a stored metadata string into a map. Only values
// that look like a mapping (start with '{') are considered. JSON is tried
// first; YAML flow syntax second, which also accepts the single-quoted
// dictionaries some corpus builders write ({'source': 'a.pdf', 'page': 3}).
// Anything else yields {"source": "unknown"}. The input is only ever
// decoded as data.
//
// YAML mappings may have non-string keys; those are converted with
// fmt.Sprint at every depth. A result that still cannot be encoded as JSON
// (NaN, infinities) is rejected, since snapshots and responses must be.
func ParseMetadata(raw string) index.Metadata {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "{") {
		return index.UnknownSource()
	}
	var m index.Metadata
	if err := json.Unmarshal([]byte(raw), &m); err == nil && m != nil {
		return m
	}
	var y any
	if err := yaml.Unmarshal([]byte(raw), &y); err != nil {
		return index.UnknownSource()
	}
	mapping, ok := stringKeys(y).(map[string]any)
	if !ok || mapping == nil {
		return index.UnknownSource()
	}
	if _, err := json.Marshal(mapping); err != nil {
		return index.UnknownSource()
	}
	return index.Metadata(mapping)
}

func stringKeys(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, val := range t {
			t[k] = stringKeys(val)
		}
		return t
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = stringKeys(val)
		}
		return out
	case []any:
		for i, val := range t {
			t[i] = stringKeys(val)
		}
		return t
	default:
		return v
	}
}
