package sealbox

import (
	"github.com/phayes/errors"
)

var (
	ErrIntegrity       = errors.New("Integrity check failed: sealed record does not authenticate")
	ErrFormat          = errors.New("Sealed record does not decode to the expected shape")
	ErrStorageConflict = errors.New("Storage conflict: a concurrent write already claimed this voter")
	ErrTokenCollision  = errors.New("Vote token collision")
	ErrNotFound        = errors.New("Not found")
)

// Reason enumerates why a ballot submission was refused.
type Reason int

const (
	ElectionNotOpen Reason = iota + 1
	NotEligible
	AlreadyVoted
	MalformedRequest
	UnknownPosition
	NoSelection
	TooManyChoices
	UnknownCandidate
)

var reasonNames = map[Reason]string{
	ElectionNotOpen:  "ElectionNotOpen",
	NotEligible:      "NotEligible",
	AlreadyVoted:     "AlreadyVoted",
	MalformedRequest: "MalformedRequest",
	UnknownPosition:  "UnknownPosition",
	NoSelection:      "NoSelection",
	TooManyChoices:   "TooManyChoices",
	UnknownCandidate: "UnknownCandidate",
}

// Implements Stringer
func (r Reason) String() string {
	if name, ok := reasonNames[r]; ok {
		return name
	}
	return "Unknown"
}

// ParseReason is the inverse of Reason.String. It returns 0 for unknown names.
func ParseReason(name string) Reason {
	for r, n := range reasonNames {
		if n == name {
			return r
		}
	}
	return 0
}

// ClientError reports whether the rejection was caused by the content of the submitted ballot
func (r Reason) ClientError() bool {
	switch r {
	case MalformedRequest, UnknownPosition, NoSelection, TooManyChoices, UnknownCandidate:
		return true
	}
	return false
}

// A Rejection is the discriminated outcome of a refused submission.
// PositionID and CandidateID carry the offending identifiers for input errors.
// VoteToken is only set for AlreadyVoted, and only when the earlier ballot could be found.
type Rejection struct {
	Reason      Reason
	PositionID  string
	CandidateID string
	VoteToken   string
	Message     string
}

func (r *Rejection) Error() string {
	s := r.Reason.String()
	if r.Message != "" {
		s += ": " + r.Message
	}
	if r.PositionID != "" {
		s += " (position " + r.PositionID
		if r.CandidateID != "" {
			s += ", candidate " + r.CandidateID
		}
		s += ")"
	}
	return s
}

// AsRejection extracts a *Rejection from err, if that is what it is
func AsRejection(err error) (*Rejection, bool) {
	rej, ok := err.(*Rejection)
	return rej, ok && rej != nil
}

func reject(reason Reason, message string) *Rejection {
	return &Rejection{Reason: reason, Message: message}
}

// IntegrityWarning describes a single vote record that was left out of a receipt
// because it could not be reconciled with the canonical ballot.
type IntegrityWarning struct {
	VoteToken   string `json:"voteToken"`
	PositionID  string `json:"positionId,omitempty"`
	CandidateID string `json:"candidateId,omitempty"`
	Problem     string `json:"problem"`
}
