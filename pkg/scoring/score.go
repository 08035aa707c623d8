package scoring

import (
	"adwatch/pkg/models"
)

// Breakdown itemizes where an ad's winner score came from.
type Breakdown struct {
	DaysRunning int `json:"days_running"`
	Active      int `json:"active"`
	Impressions int `json:"impressions"`
	MediaType   int `json:"media_type"`
	LandingPage int `json:"landing_page"`
	Consistency int `json:"consistency"`
	Total       int `json:"total"`
}

// Score rates an ad 0-100 on longevity and delivery signals. A competitor
// keeps paying for what works; an ad still running after months with healthy
// delivery is a winner regardless of what it looks like.
//
// Longevity tiers stack: 30 days is worth 25 points, 60 days 15 more, 90
// days another 10. Active delivery adds 10. Healthy impressions add 15 while
// throttled delivery costs 20. Video creatives and a landing page each add
// 5, and an ad observed across more than one run adds 15 for consistency.
func Score(ad *models.Ad) (int, Breakdown) {
	var b Breakdown

	if ad.DaysRunning >= 30 {
		b.DaysRunning += 25
	}
	if ad.DaysRunning >= 60 {
		b.DaysRunning += 15
	}
	if ad.DaysRunning >= 90 {
		b.DaysRunning += 10
	}
	if ad.IsActive {
		b.Active = 10
	}
	if ad.HasLowImpressions {
		b.Impressions = -20
	} else {
		b.Impressions = 15
	}
	if ad.MediaType == models.MediaVideo {
		b.MediaType = 5
	}
	if ad.LandingPageURL != "" {
		b.LandingPage = 5
	}
	if ad.SnapshotCount > 1 {
		b.Consistency = 15
	}

	total := b.DaysRunning + b.Active + b.Impressions + b.MediaType + b.LandingPage + b.Consistency
	if total < 0 {
		total = 0
	}
	if total > 100 {
		total = 100
	}
	b.Total = total
	return total, b
}

// Stats summarizes a scoring pass.
type Stats struct {
	TotalAds      int `json:"total_ads"`
	Scored        int `json:"scored"`
	Winners       int `json:"winners"`        // score >= 50
	TopPerformers int `json:"top_performers"` // score >= 75
	ClustersFound int `json:"clusters_found"`
}

// ScoreAll scores every ad in place, assigns scaling cluster ids, and
// returns summary counts. SnapshotCount must already be populated on the
// ads.
func ScoreAll(ads []*models.Ad) Stats {
	stats := Stats{TotalAds: len(ads)}

	for _, ad := range ads {
		score, _ := Score(ad)
		ad.WinnerScore = score
		stats.Scored++
		if score >= 50 {
			stats.Winners++
		}
		if score >= 75 {
			stats.TopPerformers++
		}
	}

	clusters := FindScalingClusters(ads, DefaultSimilarityThreshold)
	stats.ClustersFound = len(clusters)
	byID := make(map[string]*models.Ad, len(ads))
	for _, ad := range ads {
		byID[ad.SourceAdID] = ad
	}
	for clusterID, members := range clusters {
		for _, id := range members {
			if ad, ok := byID[id]; ok {
				ad.ScalingClusterID = clusterID
			}
		}
	}
	return stats
}
