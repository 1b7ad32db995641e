// Package inspection holds the values shared by the cache, the remote inspector
// and the workers: requests, results and the two linked row types.
package inspection

import (
	"strings"
	"time"

	"github.com/Harvey-AU/index-inspector/internal/util"
)

// Unknown is stored for any status field the remote response did not include.
const Unknown = ""

// LastAccessLayout is the timestamp format used for the ledger LAST ACCESS DATE column
const LastAccessLayout = "2006-01-02 15:04:05"

// Request is a single URL inspection, built from one status row
type Request struct {
	InspectionURL string
	SiteURL       string
	Property      string
	User          string
}

// Result holds the index status fields extracted from a successful inspection
type Result struct {
	Verdict        string `json:"verdict,omitempty"`
	IndexingState  string `json:"indexingState,omitempty"`
	CoverageState  string `json:"coverageState,omitempty"`
	RobotsTxtState string `json:"robotsTxtState,omitempty"`
	PageFetchState string `json:"pageFetchState,omitempty"`
	LastCrawlTime  string `json:"lastCrawlTime,omitempty"`
	CrawledAs      string `json:"crawledAs,omitempty"`

	// Kept in the cache for later runs; not written to the status sheet.
	GoogleCanonical string   `json:"googleCanonical,omitempty"`
	UserCanonical   string   `json:"userCanonical,omitempty"`
	Sitemaps        []string `json:"sitemap,omitempty"`
	ReferringURLs   []string `json:"referringUrls,omitempty"`
}

// IsZero reports whether no field of r was set
func (r Result) IsZero() bool {
	return r.Verdict == "" && r.IndexingState == "" && r.CoverageState == "" &&
		r.RobotsTxtState == "" && r.PageFetchState == "" && r.LastCrawlTime == "" &&
		r.CrawledAs == "" && r.GoogleCanonical == "" && r.UserCanonical == "" &&
		len(r.Sitemaps) == 0 && len(r.ReferringURLs) == 0
}

// StatusRow is one row of the per-URL status sheet.
// Position is the row's index in the full sheet and identifies it during the merge.
type StatusRow struct {
	Position int
	User     string
	Property string
	URL      string
	Result   Result

	// Inspected is set when a cache or remote lookup produced Result during this run.
	Inspected bool
}

// NewRequest builds the inspection request for a status row
func NewRequest(row StatusRow) Request {
	return Request{
		InspectionURL: util.NormaliseInspectionURL(row.URL),
		SiteURL:       util.NormaliseSiteURL(row.Property),
		Property:      row.Property,
		User:          strings.TrimSpace(row.User),
	}
}

// Usage is the change a worker made to one user's ledger row
type Usage struct {
	Count      int
	LastAccess time.Time
}

// Add records one more lookup at the given time
func (u Usage) Add(at time.Time) Usage {
	u.Count++
	if at.After(u.LastAccess) {
		u.LastAccess = at
	}
	return u
}

// Merge combines two usage deltas for the same user
func (u Usage) Merge(other Usage) Usage {
	u.Count += other.Count
	if other.LastAccess.After(u.LastAccess) {
		u.LastAccess = other.LastAccess
	}
	return u
}
