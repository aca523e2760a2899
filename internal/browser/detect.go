// Package browser decides whether a browser shows a security warning for a
// domain. The chromedp checker renders the page in headless Chrome; the HTTP
// checker inspects the raw HTML for environments without a browser.
package browser

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// MarkerSelector matches elements of the Chrome interstitial page.
const MarkerSelector = ".interstitial-wrapper, .icon-generic"

var (
	titleKeywords = []string{"Security", "Warning", "Deceptive"}
	bodyKeywords  = []string{"deceptive site", "unsafe", "phishing", "malware"}
)

// Signals are the page facts the warning decision is based on.
type Signals struct {
	HasMarkers bool   `json:"markers"`
	Title      string `json:"title"`
	Body       string `json:"body"`
}

// Detect reports a warning when the interstitial markers are present, the
// title carries a warning keyword, or the body text mentions one. Matching is
// case-sensitive.
func Detect(s Signals) bool {
	if s.HasMarkers {
		return true
	}
	for _, kw := range titleKeywords {
		if strings.Contains(s.Title, kw) {
			return true
		}
	}
	for _, kw := range bodyKeywords {
		if strings.Contains(s.Body, kw) {
			return true
		}
	}
	return false
}

// SignalsFromHTML extracts Signals from a static document.
func SignalsFromHTML(doc *goquery.Document) Signals {
	return Signals{
		HasMarkers: doc.Find(MarkerSelector).Length() > 0,
		Title:      strings.TrimSpace(doc.Find("title").First().Text()),
		Body:       doc.Find("body").Text(),
	}
}
