// Package workitem models the external, snapshot view of an Azure DevOps
// work item (spec §3.1) and derives the staleness fields (lastSubstantiveChangeDate,
// daysInactive) the Query Executor and Item Selector rely on.
package workitem

import (
	"regexp"
	"strings"
	"time"
)

// Item is the work item shape the core reads. Extension fields requested by
// a caller but not named here are carried in Extra.
type Item struct {
	ID                    int            `json:"id"`
	Title                 string         `json:"title"`
	Type                  string         `json:"type"`
	State                 string         `json:"state"`
	AssignedTo            string         `json:"assignedTo,omitempty"`
	Tags                  []string       `json:"tags,omitempty"`
	AreaPath              string         `json:"areaPath,omitempty"`
	IterationPath         string         `json:"iterationPath,omitempty"`
	CreatedDate           time.Time      `json:"createdDate,omitzero"`
	ChangedDate           time.Time      `json:"changedDate,omitzero"`
	Description           string         `json:"description,omitempty"`
	AcceptanceCriteria    string         `json:"acceptanceCriteria,omitempty"`
	LastSubstantiveChange *time.Time     `json:"lastSubstantiveChangeDate,omitempty"`
	DaysInactive          *int           `json:"daysInactive,omitempty"`
	Extra                 map[string]any `json:"-"`
}

// ParseTags splits ADO's semicolon-delimited tag field into a normalized
// slice, trimming whitespace and dropping empties.
func ParseTags(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ";")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Revision is one entry of a work item's change history, as returned by the
// ADO revisions endpoint (§6.3).
type Revision struct {
	Rev             int
	ChangedDate     time.Time
	ChangedBy       string
	ChangedFields   []string // field reference names touched by this revision
}

// automationIdentityPatterns matches changed-by identities considered
// automation rather than human activity. Tuned conservatively: a false
// negative (treating a bot as substantive) just under-counts staleness; a
// false positive (treating a human as a bot) would hide real activity, which
// is worse, so the list stays an allow-deny of well-known bot markers rather
// than a broad heuristic.
var automationIdentityPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bbot\b`),
	regexp.MustCompile(`(?i)build service`),
	regexp.MustCompile(`(?i)azure devops service`),
	regexp.MustCompile(`(?i)\[bot\]`),
}

// heartbeatOnlyFields lists field reference names whose presence alone
// (with no other field changed) marks a revision as a non-substantive
// heartbeat: tag churn and the "last-reviewed" convention some teams stamp
// on a cadence without otherwise touching the item.
var heartbeatOnlyFields = map[string]bool{
	"System.Tags":             true,
	"Custom.LastReviewed":     true,
	"Microsoft.VSTS.Common.ActivatedDate": true,
}

// IsAutomationIdentity reports whether changedBy looks like a service
// identity rather than a human.
func IsAutomationIdentity(changedBy string) bool {
	for _, re := range automationIdentityPatterns {
		if re.MatchString(changedBy) {
			return true
		}
	}
	return false
}

// isHeartbeatRevision reports whether a revision's changed fields are all
// drawn from heartbeatOnlyFields (i.e. nothing substantive moved).
func isHeartbeatRevision(changedFields []string) bool {
	if len(changedFields) == 0 {
		return true
	}
	for _, f := range changedFields {
		if !heartbeatOnlyFields[f] {
			return false
		}
	}
	return true
}

// LastSubstantiveChange scans revision history (assumed ordered oldest to
// newest, as ADO returns it) and returns the timestamp of the most recent
// revision that is neither an automation-identity edit nor a heartbeat-only
// field change. Returns the zero time and false if no substantive revision
// exists (e.g. the item was only ever touched by bots).
func LastSubstantiveChange(revisions []Revision) (time.Time, bool) {
	var best time.Time
	found := false
	for _, r := range revisions {
		if IsAutomationIdentity(r.ChangedBy) {
			continue
		}
		if isHeartbeatRevision(r.ChangedFields) {
			continue
		}
		if r.ChangedDate.After(best) {
			best = r.ChangedDate
			found = true
		}
	}
	return best, found
}

// DaysInactive computes the whole-day difference between now and since.
func DaysInactive(since time.Time, now time.Time) int {
	d := now.Sub(since)
	return int(d.Hours() / 24)
}

// ApplyStaleness populates LastSubstantiveChange and DaysInactive on item
// from revision history, using now as the reference instant. If no
// substantive revision is found the fields are left nil and nothing is
// reported; the Query Executor records per-item errors only when fetching
// the revision history itself fails.
func ApplyStaleness(item *Item, revisions []Revision, now time.Time) {
	since, ok := LastSubstantiveChange(revisions)
	if !ok {
		return
	}
	item.LastSubstantiveChange = &since
	days := DaysInactive(since, now)
	item.DaysInactive = &days
}
