package tokenizer

import (
	"reflect"
	"strings"
	"testing"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"lowercase", "Who IS", "who is"},
		{"punctuation stripped", "Who IS...?", "who is"},
		{"whitespace collapsed", "  the\t\tcat \n sat  ", "the cat sat"},
		{"inner punctuation joins", "don't re-index", "dont reindex"},
		{"spaced punctuation", "a , b", "a b"},
		{"underscore kept", "snake_case_name", "snake_case_name"},
		{"digits kept", "CS 101: Intro", "cs 101 intro"},
		{"punctuation only", "?!... ---", ""},
		{"unicode letters kept", "Café Über naïve", "café über naïve"},
		{"cjk kept", "東京 タワー!", "東京 タワー"},
		{"emoji dropped", "🔍 search 📊", "search"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Normalize(tt.in); got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	inputs := []string{
		"", "Who IS...", "a , b", "İstanbul", "  x  ,  y  ", "Ǆ digraph", "tab\tsep\x00null",
	}
	for _, in := range inputs {
		once := Normalize(in)
		if twice := Normalize(once); twice != once {
			t.Errorf("Normalize not idempotent for %q: %q then %q", in, once, twice)
		}
	}
}

func TestTokenize(t *testing.T) {
	got := Tokenize("The cat, the DOG; and cats!")
	want := []string{"the", "cat", "the", "dog", "and", "cats"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Tokenize = %v, want %v", got, want)
	}
}

func TestTokenizeEmpty(t *testing.T) {
	for _, in := range []string{"", "   ", "...!?"} {
		got := Tokenize(in)
		if got == nil || len(got) != 0 {
			t.Errorf("Tokenize(%q) = %#v, want empty non-nil slice", in, got)
		}
	}
}

func BenchmarkTokenize(b *testing.B) {
	text := "Professor Smith works on speech privacy, federated learning and on-device ASR (2019-2024)."
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_ = Tokenize(text)
	}
}

func BenchmarkTokenizeLong(b *testing.B) {
	text := strings.Repeat("Caching layers reduce latency for repeated queries; BM25 weighs term frequency against document length. ", 40)
	b.ReportAllocs()
	b.SetBytes(int64(len(text)))
	for i := 0; i < b.N; i++ {
		_ = Tokenize(text)
	}
}
