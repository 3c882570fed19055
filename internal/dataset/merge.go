package dataset

import "voice-ledger-go/internal/types"

// Merge folds newRecords into existing keyed by identifier. A new record
// replaces an existing one in place; identifiers not seen before are
// appended in the order given. Merging the same records again is a no-op.
func Merge(existing, newRecords []types.TranscriptRecord) []types.TranscriptRecord {
	out := make([]types.TranscriptRecord, 0, len(existing)+len(newRecords))
	pos := make(map[string]int, len(existing)+len(newRecords))
	for _, r := range existing {
		if i, ok := pos[r.Identifier]; ok {
			out[i] = r
			continue
		}
		pos[r.Identifier] = len(out)
		out = append(out, r)
	}
	for _, r := range newRecords {
		if i, ok := pos[r.Identifier]; ok {
			out[i] = r
			continue
		}
		pos[r.Identifier] = len(out)
		out = append(out, r)
	}
	return out
}
