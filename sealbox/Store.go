package sealbox

import (
	"context"
)

// Store opens transactions against election, eligibility and ballot storage
type Store interface {
	Begin(ctx context.Context) (Tx, error)
}

// Tx is a single storage transaction. Writes are invisible to other transactions until Commit,
// and are discarded by Rollback. Calling Rollback after Commit is a no-op.
//
// Uniqueness violations, whether raised by a write or at Commit, are reported as
// ErrStorageConflict, except for a duplicate vote token which is ErrTokenCollision.
type Tx interface {
	// ElectionWindow returns ErrNotFound for an unknown election
	ElectionWindow(ctx context.Context, electionID string) (*ElectionWindow, error)
	BallotSchema(ctx context.Context, electionID string) (*BallotSchema, error)

	IsEligible(ctx context.Context, electionID, voterID string) (bool, error)
	HasVoted(ctx context.Context, electionID, voterID string) (bool, error)

	// MarkVoted flips hasVoted from false to true. If it was already true the result is
	// ErrStorageConflict.
	MarkVoted(ctx context.Context, electionID, voterID string) error

	VoteTokenExists(ctx context.Context, voteToken string) (bool, error)

	// LatestBallot returns the most recently created ballot cast by the blinded voter.
	// An empty voteToken matches any token. Returns ErrNotFound if there is none.
	LatestBallot(ctx context.Context, electionID, blindedVoterID, voteToken string) (*EncryptedBallotRecord, error)

	// VoteRecords returns every vote record carrying the token, ordered by creation
	VoteRecords(ctx context.Context, electionID, voteToken string) ([]EncryptedVoteRecord, error)

	InsertBallot(ctx context.Context, ballot *EncryptedBallotRecord) error
	InsertVotes(ctx context.Context, votes []EncryptedVoteRecord) error

	Commit() error
	Rollback() error
}
