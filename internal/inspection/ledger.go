package inspection

import (
	"strings"
	"time"
)

// LedgerRow is one row of the per-user usage ledger
type LedgerRow struct {
	User       string
	LastAccess string
	TotalCount int
}

// Ledger is the usage ledger keyed by user identity.
// Rows keep their sheet order; users that were not in the sheet are appended.
// A Ledger is not safe for concurrent use and is only touched by the orchestrator.
type Ledger struct {
	Rows  []LedgerRow
	index map[string]int
}

// NewLedger indexes the given rows. When a user appears more than once the first row wins.
func NewLedger(rows []LedgerRow) *Ledger {
	l := &Ledger{
		Rows:  rows,
		index: make(map[string]int, len(rows)),
	}
	for i, row := range rows {
		key := UserKey(row.User)
		if key == "" {
			continue
		}
		if _, exists := l.index[key]; !exists {
			l.index[key] = i
		}
	}
	return l
}

// UserKey is the identity the ledger matches users on: trimmed and case-insensitive
func UserKey(user string) string {
	return strings.ToLower(strings.TrimSpace(user))
}

// Find returns the ledger row for a user
func (l *Ledger) Find(user string) (LedgerRow, bool) {
	i, ok := l.index[UserKey(user)]
	if !ok {
		return LedgerRow{}, false
	}
	return l.Rows[i], true
}

// Apply adds a usage delta to the user's row and refreshes its last access date.
// It returns true when the user had no row and one was appended.
func (l *Ledger) Apply(user string, usage Usage) bool {
	key := UserKey(user)
	if key == "" || usage.Count == 0 {
		return false
	}

	i, ok := l.index[key]
	appended := !ok
	if !ok {
		l.Rows = append(l.Rows, LedgerRow{User: strings.TrimSpace(user)})
		i = len(l.Rows) - 1
		l.index[key] = i
	}

	l.Rows[i].TotalCount += usage.Count
	if !usage.LastAccess.IsZero() {
		l.Rows[i].LastAccess = FormatLastAccess(usage.LastAccess)
	}
	return appended
}

// FormatLastAccess renders a timestamp the way the ledger stores it
func FormatLastAccess(t time.Time) string {
	return t.Format(LastAccessLayout)
}
