// Package classifier tags transcripts with every category whose keywords
// occur in the text.
package classifier

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
	"voice-ledger-go/internal/types"
)

const (
	Uncategorized      = "Uncategorized"
	TranscriptionError = "TranscriptionError"

	// UnavailableSnippet is the evidence reported for unusable transcripts.
	UnavailableSnippet = "transcript not available"

	snippetRadius  = 50
	fallbackLength = 100
)

// Classify returns the categories of text in rule table order, each with a
// snippet around its first matching keyword. Within a category only the
// first keyword that hits is used. Text with no hit is Uncategorized; empty
// or failed transcripts are TranscriptionError.
func Classify(text string, rules types.RuleTable) (categories []string, snippets map[string]string) {
	if !usable(text) {
		return []string{TranscriptionError}, map[string]string{TranscriptionError: UnavailableSnippet}
	}

	original := []rune(text)
	folded, starts, ends := foldNFC(text)

	snippets = map[string]string{}
	for _, rule := range rules {
		if _, done := snippets[rule.Name]; done {
			continue
		}
		for _, kw := range rule.Keywords {
			needle := fold([]rune(norm.NFC.String(kw)))
			if len(needle) == 0 {
				continue
			}
			at := index(folded, needle)
			if at < 0 {
				continue
			}
			categories = append(categories, rule.Name)
			snippets[rule.Name] = window(original, starts, ends, at, len(needle))
			break
		}
	}

	if len(categories) == 0 {
		head := original
		if len(head) > fallbackLength {
			head = head[:fallbackLength]
		}
		return []string{Uncategorized}, map[string]string{Uncategorized: string(head) + "..."}
	}
	return categories, snippets
}

// ClassifyRecords classifies every record. Nothing is carried over from
// earlier runs.
func ClassifyRecords(records []types.TranscriptRecord, rules types.RuleTable) []types.ClassifiedRecord {
	out := make([]types.ClassifiedRecord, 0, len(records))
	for _, r := range records {
		cats, snips := Classify(r.Text, rules)
		out = append(out, types.ClassifiedRecord{
			TranscriptRecord: r,
			Classification: types.ClassificationResult{
				Identifier: r.Identifier,
				Categories: cats,
				Snippets:   snips,
			},
		})
	}
	return out
}

func usable(text string) bool {
	if strings.TrimSpace(text) == "" {
		return false
	}
	return !strings.HasPrefix(text, types.ErrorMarker)
}

// fold lower-cases rune by rune so positions line up with the input.
func fold(rs []rune) []rune {
	out := make([]rune, len(rs))
	for i, r := range rs {
		out[i] = unicode.ToLower(r)
	}
	return out
}

// foldNFC returns the NFC form of text lower-cased rune by rune. For each of
// its runes, starts and ends give the rune span in text of the normalisation
// segment it came from, so matches can be cut from the original.
func foldNFC(text string) (folded []rune, starts, ends []int) {
	var it norm.Iter
	it.InitString(norm.NFC, text)
	pos := 0
	for !it.Done() {
		from := it.Pos()
		seg := string(it.Next())
		to := pos + utf8.RuneCountInString(text[from:it.Pos()])
		for _, r := range seg {
			folded = append(folded, unicode.ToLower(r))
			starts = append(starts, pos)
			ends = append(ends, to)
		}
		pos = to
	}
	return folded, starts, ends
}

func index(haystack, needle []rune) int {
	n := len(needle)
outer:
	for i := 0; i+n <= len(haystack); i++ {
		for j := 0; j < n; j++ {
			if haystack[i+j] != needle[j] {
				continue outer
			}
		}
		return i
	}
	return -1
}

// window returns the match at folded[at:at+n] widened by snippetRadius
// characters on each side, cut from the original text.
func window(text []rune, starts, ends []int, at, n int) string {
	first := at - snippetRadius
	if first < 0 {
		first = 0
	}
	last := at + n - 1 + snippetRadius
	if last >= len(ends) {
		last = len(ends) - 1
	}
	return strings.TrimSpace(string(text[starts[first]:ends[last]]))
}
