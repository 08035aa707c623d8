package scoring

import (
	"fmt"
	"strings"

	"adwatch/pkg/media"
	"adwatch/pkg/models"
)

// DefaultSimilarityThreshold is the text similarity above which two ads are
// considered variants of the same concept.
const DefaultSimilarityThreshold = 0.7

// TextSimilarity returns a ratio in [0, 1] between two ad texts, 1 meaning
// identical after lowercasing and trimming. The ratio is edit-distance
// based, so small copy tweaks between variants still score high.
func TextSimilarity(a, b string) float64 {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}
	longest := len(a)
	if len(b) > longest {
		longest = len(b)
	}
	return 1 - float64(levenshtein(a, b))/float64(longest)
}

// levenshtein computes edit distance with a rolling single-row table.
func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	row := make([]int, len(rb)+1)
	for j := range row {
		row[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		prev := row[0]
		row[0] = i
		for j := 1; j <= len(rb); j++ {
			cur := row[j]
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			row[j] = min3(row[j]+1, row[j-1]+1, prev+cost)
			prev = cur
		}
	}
	return row[len(rb)]
}

func min3(a, b, c int) int {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	return m
}

// FindScalingClusters groups one competitor's ads that are variants of the
// same concept: near-identical copy, or the exact same creative behind
// different ad ids. A competitor duplicating an ad like that is scaling it,
// which is a stronger success signal than anything visible on a single ad.
// The result maps a cluster id to the member source ad ids; singletons are
// not reported.
func FindScalingClusters(ads []*models.Ad, threshold float64) map[string][]string {
	clusters := make(map[string][]string)
	assigned := make(map[string]bool)
	counter := 0

	byCompetitor := make(map[int64][]*models.Ad)
	for _, ad := range ads {
		byCompetitor[ad.CompetitorID] = append(byCompetitor[ad.CompetitorID], ad)
	}

	for competitorID, competitorAds := range byCompetitor {
		if len(competitorAds) < 2 {
			continue
		}
		for i, seed := range competitorAds {
			if assigned[seed.SourceAdID] {
				continue
			}
			members := []string{seed.SourceAdID}
			for _, other := range competitorAds[i+1:] {
				if assigned[other.SourceAdID] {
					continue
				}
				if TextSimilarity(seed.Text, other.Text) >= threshold {
					members = append(members, other.SourceAdID)
					continue
				}
				if sameCreative(seed.MediaURL, other.MediaURL) {
					members = append(members, other.SourceAdID)
				}
			}
			if len(members) < 2 {
				continue
			}
			clusterID := fmt.Sprintf("cluster_%d_%d", competitorID, counter)
			counter++
			clusters[clusterID] = members
			for _, id := range members {
				assigned[id] = true
			}
		}
	}
	return clusters
}

// sameCreative reports whether two media URLs point at the same file once
// volatile query parameters are stripped.
func sameCreative(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return media.Fingerprint(a) == media.Fingerprint(b)
}
