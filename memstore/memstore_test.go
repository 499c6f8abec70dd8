package memstore

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/cryptoballot/sealbox/sealbox"
	"github.com/phayes/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seeded() *Store {
	s := New()
	s.PutElection(
		sealbox.ElectionWindow{ElectionID: "e1", Status: sealbox.StatusOngoing, Tags: map[string]string{"title": "Council"}},
		sealbox.BallotSchema{Positions: []sealbox.Position{{ID: "chair", MaxChoices: 1, Candidates: []sealbox.Candidate{{ID: "alice"}}}}},
	)
	s.AddEligible("e1", "v1", "v2")
	return s
}

func ballot(token, blinded string) *sealbox.EncryptedBallotRecord {
	return &sealbox.EncryptedBallotRecord{VoteToken: token, ElectionID: "e1", BlindedVoterID: blinded, CreatedAt: time.Now()}
}

func TestCommitMakesWritesVisible(t *testing.T) {
	ctx := context.Background()
	s := seeded()

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.InsertBallot(ctx, ballot("t1", "b1")))
	require.NoError(t, tx.InsertVotes(ctx, []sealbox.EncryptedVoteRecord{{ElectionID: "e1", VoterID: "v1", PositionID: "chair", CandidateID: "alice", VoteToken: "t1"}}))
	require.NoError(t, tx.MarkVoted(ctx, "e1", "v1"))

	// own writes are visible inside the transaction, not outside
	voted, err := tx.HasVoted(ctx, "e1", "v1")
	require.NoError(t, err)
	assert.True(t, voted)
	assert.False(t, s.Voted("e1", "v1"))
	assert.Empty(t, s.Ballots())

	require.NoError(t, tx.Commit())
	assert.True(t, s.Voted("e1", "v1"))
	assert.Len(t, s.Ballots(), 1)
	assert.Len(t, s.Votes(), 1)
	assert.NoError(t, tx.Rollback())
}

func TestRollbackDiscardsWrites(t *testing.T) {
	ctx := context.Background()
	s := seeded()

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.InsertBallot(ctx, ballot("t1", "b1")))
	require.NoError(t, tx.MarkVoted(ctx, "e1", "v1"))
	require.NoError(t, tx.Rollback())

	assert.Empty(t, s.Ballots())
	assert.False(t, s.Voted("e1", "v1"))
	assert.Equal(t, ErrTxDone, tx.Commit())
}

func TestConflictsAtCommit(t *testing.T) {
	ctx := context.Background()
	s := seeded()

	first, err := s.Begin(ctx)
	require.NoError(t, err)
	second, err := s.Begin(ctx)
	require.NoError(t, err)

	for i, tx := range []sealbox.Tx{first, second} {
		require.NoError(t, tx.InsertBallot(ctx, ballot(fmt.Sprintf("t%d", i), "b1")))
		require.NoError(t, tx.MarkVoted(ctx, "e1", "v1"))
	}

	require.NoError(t, first.Commit())
	err = second.Commit()
	assert.True(t, errors.IsA(err, sealbox.ErrStorageConflict), "got %v", err)
	assert.Len(t, s.Ballots(), 1)
}

func TestConflictsAtWrite(t *testing.T) {
	ctx := context.Background()
	s := seeded()

	tx, _ := s.Begin(ctx)
	require.NoError(t, tx.InsertBallot(ctx, ballot("t1", "b1")))
	require.NoError(t, tx.MarkVoted(ctx, "e1", "v1"))
	require.NoError(t, tx.Commit())

	tx, _ = s.Begin(ctx)
	defer tx.Rollback()
	assert.Equal(t, sealbox.ErrTokenCollision, tx.InsertBallot(ctx, ballot("t1", "b2")))
	assert.Equal(t, sealbox.ErrStorageConflict, tx.InsertBallot(ctx, ballot("t2", "b1")))
	assert.Equal(t, sealbox.ErrStorageConflict, tx.MarkVoted(ctx, "e1", "v1"))
	assert.Equal(t, sealbox.ErrNotFound, tx.MarkVoted(ctx, "e1", "nobody"))

	exists, err := tx.VoteTokenExists(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, exists)

	vote := sealbox.EncryptedVoteRecord{ElectionID: "e1", VoterID: "v2", PositionID: "chair", CandidateID: "alice", VoteToken: "t3"}
	assert.Equal(t, sealbox.ErrStorageConflict, tx.InsertVotes(ctx, []sealbox.EncryptedVoteRecord{vote, vote}))
}

func TestCommitHookAborts(t *testing.T) {
	ctx := context.Background()
	s := seeded()
	boom := errors.New("boom")
	s.CommitHook = func(context.Context) error { return boom }

	tx, _ := s.Begin(ctx)
	require.NoError(t, tx.InsertBallot(ctx, ballot("t1", "b1")))
	require.NoError(t, tx.MarkVoted(ctx, "e1", "v1"))
	assert.Equal(t, boom, tx.Commit())
	assert.Empty(t, s.Ballots())
	assert.False(t, s.Voted("e1", "v1"))
}

func TestCancelledContext(t *testing.T) {
	s := seeded()
	ctx, cancel := context.WithCancel(context.Background())

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.InsertBallot(ctx, ballot("t1", "b1")))
	cancel()

	assert.Equal(t, context.Canceled, tx.MarkVoted(ctx, "e1", "v1"))
	assert.Equal(t, context.Canceled, tx.Commit())
	assert.Empty(t, s.Ballots())

	_, err = s.Begin(ctx)
	assert.Equal(t, context.Canceled, err)
}

func TestLatestBallot(t *testing.T) {
	ctx := context.Background()
	s := seeded()
	older := ballot("t1", "b1")
	older.CreatedAt = time.Now().Add(-time.Hour)
	newer := ballot("t2", "b1")
	newer.ElectionID = "e2"

	tx, _ := s.Begin(ctx)
	require.NoError(t, tx.InsertBallot(ctx, older))
	require.NoError(t, tx.InsertBallot(ctx, newer))
	require.NoError(t, tx.Commit())

	tx, _ = s.Begin(ctx)
	defer tx.Rollback()
	got, err := tx.LatestBallot(ctx, "e1", "b1", "")
	require.NoError(t, err)
	assert.Equal(t, "t1", got.VoteToken)

	_, err = tx.LatestBallot(ctx, "e1", "b1", "t2")
	assert.Equal(t, sealbox.ErrNotFound, err)
	_, err = tx.LatestBallot(ctx, "e1", "b9", "")
	assert.Equal(t, sealbox.ErrNotFound, err)
}

func TestElectionLookup(t *testing.T) {
	ctx := context.Background()
	s := seeded()
	tx, _ := s.Begin(ctx)
	defer tx.Rollback()

	window, err := tx.ElectionWindow(ctx, "e1")
	require.NoError(t, err)
	assert.True(t, window.Open())
	assert.Equal(t, "Council", window.Title())

	// returned values are copies
	window.Tags["title"] = "changed"
	again, _ := tx.ElectionWindow(ctx, "e1")
	assert.Equal(t, "Council", again.Title())

	schema, err := tx.BallotSchema(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, "e1", schema.ElectionID)
	assert.NotNil(t, schema.Position("chair"))

	_, err = tx.ElectionWindow(ctx, "nope")
	assert.Equal(t, sealbox.ErrNotFound, err)
	_, err = tx.BallotSchema(ctx, "nope")
	assert.Equal(t, sealbox.ErrNotFound, err)

	eligible, err := tx.IsEligible(ctx, "e1", "v2")
	require.NoError(t, err)
	assert.True(t, eligible)
	eligible, err = tx.IsEligible(ctx, "e1", "v3")
	require.NoError(t, err)
	assert.False(t, eligible)
}

func TestLoadFixtures(t *testing.T) {
	s := New()
	err := s.LoadFixtures(strings.NewReader(`{"elections": [{"id": "council-2026", "status": "ongoing",
		"tags": {"title": "Council"},
		"positions": [{"id": "chair", "title": "Chair", "maxChoices": 1, "candidates": [{"id": "alice", "name": "Alice"}]}],
		"voters": ["v-001"]}]}`))
	require.NoError(t, err)

	ctx := context.Background()
	tx, _ := s.Begin(ctx)
	defer tx.Rollback()
	schema, err := tx.BallotSchema(ctx, "council-2026")
	require.NoError(t, err)
	require.Len(t, schema.Positions, 1)
	assert.Equal(t, "Alice", schema.Positions[0].Candidate("alice").Name)
	eligible, _ := tx.IsEligible(ctx, "council-2026", "v-001")
	assert.True(t, eligible)

	err = s.LoadFixtures(strings.NewReader(`{"elections": [{"id": "bad id!"}]}`))
	assert.True(t, errors.IsA(err, ErrFixtures))
	err = s.LoadFixtures(strings.NewReader(`{"elecshuns": []}`))
	assert.True(t, errors.IsA(err, ErrFixtures))
}
