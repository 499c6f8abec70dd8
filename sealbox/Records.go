package sealbox

import (
	"time"

	"github.com/phayes/errors"
)

// EncryptedBallotRecord is the canonical, sealed copy of one cast ballot.
// It carries the blinded voter id only.
type EncryptedBallotRecord struct {
	VoteToken      string
	ElectionID     string
	BlindedVoterID string
	Sealed
	CreatedAt time.Time
}

// EncryptedVoteRecord is one sealed (ballot, candidate) pair.
// VoterID is stored in the clear next to BlindedVoterID for compatibility with
// turnout-by-identity queries run elsewhere on the platform.
type EncryptedVoteRecord struct {
	ElectionID     string
	VoterID        string
	PositionID     string
	CandidateID    string
	VoteToken      string
	BlindedVoterID string
	Sealed
	CreatedAt time.Time
}

// BallotPayload is the plaintext sealed into an EncryptedBallotRecord
type BallotPayload struct {
	Timestamp  time.Time   `json:"timestamp"`
	ElectionID string      `json:"electionId"`
	VoterID    string      `json:"voterId"`
	Selections []Selection `json:"selections"`
}

func (p *BallotPayload) validate() error {
	if p.ElectionID == "" || p.VoterID == "" {
		return errors.New("ballot payload is missing election or voter")
	}
	if p.Selections == nil {
		return errors.New("ballot payload has no selections")
	}
	return nil
}

// VotePayload is the plaintext sealed into an EncryptedVoteRecord
type VotePayload struct {
	Timestamp   time.Time `json:"timestamp"`
	ElectionID  string    `json:"electionId"`
	PositionID  string    `json:"positionId"`
	CandidateID string    `json:"candidateId"`
}

func (p *VotePayload) validate() error {
	if p.ElectionID == "" || p.PositionID == "" || p.CandidateID == "" {
		return errors.New("vote payload is missing election, position or candidate")
	}
	return nil
}
