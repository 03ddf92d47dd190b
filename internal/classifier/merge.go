// File: internal/classifier/merge.go
package classifier

import (
	"sort"

	"github.com/nkoudela/scout-cli/api/schemas"
)

// mergeCandidates deduplicates by normalized URL and ranks descending by
// confidence. The first occurrence of a URL wins its slot; a later duplicate
// only contributes a higher confidence value.
func mergeCandidates(lists ...[]schemas.DetectionCandidate) []schemas.DetectionCandidate {
	index := make(map[string]int)
	var merged []schemas.DetectionCandidate

	for _, list := range lists {
		for _, cand := range list {
			key := normalizeURL(cand.URL)
			if i, ok := index[key]; ok {
				if cand.Confidence > merged[i].Confidence {
					merged[i].Confidence = cand.Confidence
				}
				merged[i].HasForm = merged[i].HasForm || cand.HasForm
				merged[i].HasContactInfo = merged[i].HasContactInfo || cand.HasContactInfo
				continue
			}
			index[key] = len(merged)
			merged = append(merged, cand)
		}
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Confidence > merged[j].Confidence
	})
	return merged
}
