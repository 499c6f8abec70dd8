package sealbox

import (
	"regexp"
)

const (
	MaxElectionIDSize = 64
	MaxVoterIDSize    = 128
)

var (
	ValidElectionID = regexp.MustCompile(`^[0-9a-zA-Z_\-]+$`)
)

// Status is the lifecycle status of an election. Lifecycle transitions are managed elsewhere.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusPending   Status = "pending"
	StatusUpcoming  Status = "upcoming"
	StatusOngoing   Status = "ongoing"
	StatusCompleted Status = "completed"
)

// ElectionWindow is the read-only view of an election this package needs to decide whether
// ballots may be cast.
type ElectionWindow struct {
	ElectionID      string
	Status          Status
	PendingApproval bool
	Tags            map[string]string // Optional key-value tag-set, eg. title=Student Council 2026
}

// Open reports whether ballots may be submitted right now
func (w *ElectionWindow) Open() bool {
	return w.Status == StatusOngoing && !w.PendingApproval
}

// Title returns the "title" tag, or the election ID when there is none
func (w *ElectionWindow) Title() string {
	if title, ok := w.Tags["title"]; ok && title != "" {
		return title
	}
	return w.ElectionID
}
