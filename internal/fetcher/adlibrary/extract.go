package adlibrary

import (
	"regexp"
	"strings"
	"time"

	"adwatch/pkg/models"
)

// extractedAd mirrors the object shape produced by extractAdsJS.
type extractedAd struct {
	AdID              string   `json:"ad_id"`
	PageName          string   `json:"page_name"`
	AdText            string   `json:"ad_text"`
	StartedRunningOn  string   `json:"started_running_on"`
	IsActive          bool     `json:"is_active"`
	HasLowImpressions bool     `json:"has_low_impressions"`
	MediaType         string   `json:"media_type"`
	MediaURL          string   `json:"media_url"`
	ThumbnailURL      string   `json:"thumbnail_url"`
	CTAType           string   `json:"cta_type"`
	LandingPageURL    string   `json:"landing_page_url"`
	Platforms         []string `json:"platforms"`
	Regions           []string `json:"regions"`
}

const noResultsJS = `(() => {
	const main = document.querySelector('[role="main"]');
	return !!main && /no ads/i.test(main.innerText || '');
})()`

const clickSeeMoreJS = `(() => {
	let clicked = 0;
	const buttons = document.querySelectorAll('div[role="button"]');
	for (const btn of buttons) {
		if (clicked >= 5) break;
		if (/^see more$/i.test((btn.innerText || '').trim())) {
			btn.click();
			clicked++;
		}
	}
	return clicked;
})()`

// extractAdsJS walks the DOM for ad cards and serializes each into a plain
// object. A card is any div containing exactly one "Library ID:" marker
// together with a "Started running on" line; the layout class names churn
// too often to rely on.
const extractAdsJS = `(() => {
	const cards = [];
	const seen = new Set();
	for (const div of document.querySelectorAll('div')) {
		const text = div.innerText || '';
		const markers = text.match(/Library ID:/g);
		if (!markers || markers.length !== 1 || !text.includes('Started running on')) continue;
		// Keep only the innermost card for each Library ID.
		const idMatch = text.match(/Library ID:\s*(\d+)/);
		if (!idMatch) continue;
		cards.push({ id: idMatch[1], el: div, depth: (function d(e){let n=0;while(e.parentElement){n++;e=e.parentElement;}return n;})(div) });
	}
	cards.sort((a, b) => b.depth - a.depth);

	const ads = [];
	for (const card of cards) {
		if (seen.has(card.id)) continue;
		seen.add(card.id);
		const el = card.el;
		const text = el.innerText || '';

		const ad = {
			ad_id: card.id,
			page_name: '',
			ad_text: '',
			started_running_on: '',
			is_active: !/\bInactive\b/.test(text),
			has_low_impressions: /low impressions/i.test(text),
			media_type: '',
			media_url: '',
			thumbnail_url: '',
			cta_type: '',
			landing_page_url: '',
			platforms: [],
			regions: []
		};

		const nameEl = el.querySelector('a[href*="/ads/library/"] span') || el.querySelector('span[dir="auto"]');
		if (nameEl && nameEl.innerText && nameEl.innerText.length < 100) {
			ad.page_name = nameEl.innerText.trim();
		}

		const dateMatch = text.match(/Started running on\s+([^\n]+)/);
		if (dateMatch) ad.started_running_on = dateMatch[1].trim();

		// Creative text: the longest span that is not card metadata.
		for (const span of el.querySelectorAll('span[dir="auto"]')) {
			const t = span.innerText || '';
			if (t.length > 50 && !t.includes('Library ID') && !t.includes('Started running')) {
				if (t.length > ad.ad_text.length) ad.ad_text = t.slice(0, 1000);
			}
		}

		const video = el.querySelector('video');
		const carouselImgs = el.querySelectorAll('div[class*="carousel"] img, div[class*="scroll"] img');
		const img = el.querySelector("img[src*='scontent']");
		if (video) {
			ad.media_type = 'VIDEO';
			ad.media_url = video.src || '';
			ad.thumbnail_url = video.poster || '';
		} else if (carouselImgs.length > 1) {
			ad.media_type = 'CAROUSEL';
			ad.media_url = carouselImgs[0].src || '';
		} else if (img) {
			ad.media_type = 'IMAGE';
			ad.media_url = img.src || '';
			ad.thumbnail_url = img.src || '';
		}

		for (const link of el.querySelectorAll('a[role="link"]')) {
			const href = link.href || '';
			if (href && !href.includes('facebook.com/ads/library')) {
				ad.landing_page_url = href;
				const label = (link.innerText || '').trim();
				if (label) ad.cta_type = label;
				break;
			}
		}

		for (const name of ['Facebook', 'Instagram', 'Messenger', 'Audience Network']) {
			if (text.includes('Platforms') && text.includes(name)) ad.platforms.push(name);
		}

		ads.push(ad);
	}
	return ads;
})()`

var dateInText = regexp.MustCompile(`(\w+ \d{1,2},? \d{4}|\d{1,2}/\d{1,2}/\d{2,4})`)

var dateLayouts = []string{
	"Jan 2, 2006",
	"Jan 2 2006",
	"January 2, 2006",
	"January 2 2006",
	"1/2/2006",
	"1/2/06",
}

// parseStartedDate parses the "Started running on ..." date fragment. An
// unparseable date is dropped rather than failing the whole ad.
func parseStartedDate(text string) time.Time {
	match := dateInText.FindString(text)
	if match == "" {
		return time.Time{}
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, match); err == nil {
			return t
		}
	}
	return time.Time{}
}

// toRawAds converts extracted card objects into raw observations. Cards
// without a library id never make it out of the JS, so every record here has
// a key; validation proper happens downstream.
func toRawAds(pageID string, extracted []extractedAd) []models.RawAd {
	rawAds := make([]models.RawAd, 0, len(extracted))
	for _, e := range extracted {
		raw := models.RawAd{
			SourceAdID:        e.AdID,
			PageID:            pageID,
			PageName:          e.PageName,
			Text:              strings.TrimSpace(e.AdText),
			MediaType:         models.MediaType(e.MediaType),
			MediaURL:          e.MediaURL,
			ThumbnailURL:      e.ThumbnailURL,
			CTAType:           e.CTAType,
			LandingPageURL:    e.LandingPageURL,
			Platforms:         e.Platforms,
			Regions:           e.Regions,
			StartedRunningOn:  parseStartedDate(e.StartedRunningOn),
			IsActive:          e.IsActive,
			HasLowImpressions: e.HasLowImpressions,
		}
		rawAds = append(rawAds, raw)
	}
	return rawAds
}
