// Package report defines the user-submitted abuse report entity (spec.md
// §4.8's "report processing" admin queue, sourced from
// common_admin().report() in the original implementation).
package report

import "time"

// Report is one account's complaint against another, waiting for an
// admin to close it out.
type Report struct {
	ID                string
	ReporterAccountID string
	TargetAccountID   string
	ContentID         string // optional; empty for a profile-level report
	Reason            string
	CreatedAt         time.Time
	ProcessedAt       time.Time
}

// Waiting reports whether the report has not yet been closed out by an
// admin.
func (r Report) Waiting() bool {
	return r.ProcessedAt.IsZero()
}
