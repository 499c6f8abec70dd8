package pgstore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/cryptoballot/sealbox/sealbox"
	"github.com/lib/pq"
	"github.com/phayes/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	assert.Nil(t, classify(nil))

	other := errors.New("connection reset")
	assert.Equal(t, other, classify(other))

	fk := &pq.Error{Code: "23503", Constraint: "encrypted_votes_vote_token_fkey"}
	assert.Equal(t, error(fk), classify(fk))

	err := classify(&pq.Error{Code: "23505", Constraint: ballotTokenConstraint})
	assert.True(t, errors.IsA(err, sealbox.ErrTokenCollision), "got %v", err)
	assert.False(t, errors.IsA(err, sealbox.ErrStorageConflict))

	for _, constraint := range []string{ballotVoterConstraint, voteChoiceConstraint} {
		err := classify(&pq.Error{Code: "23505", Constraint: constraint})
		assert.True(t, errors.IsA(err, sealbox.ErrStorageConflict), "%s: got %v", constraint, err)
	}
}

// liveDB connects to the database named by SEALBOX_TEST_DATABASE, eg.
// "host=localhost user=postgres dbname=sealbox_test sslmode=disable". The test is skipped when unset.
func liveDB(t *testing.T) *sql.DB {
	conn := os.Getenv("SEALBOX_TEST_DATABASE")
	if conn == "" {
		t.Skip("SEALBOX_TEST_DATABASE not set")
	}
	db, err := sql.Open("postgres", conn)
	require.NoError(t, err)
	require.NoError(t, db.Ping())
	require.NoError(t, SetUp(context.Background(), db))
	t.Cleanup(func() { db.Close() })
	return db
}

func TestLiveSubmitAndReceipt(t *testing.T) {
	db := liveDB(t)
	ctx := context.Background()
	store := New(db)

	electionID := fmt.Sprintf("live-%d", time.Now().UnixNano())
	require.NoError(t, store.PutElection(ctx,
		sealbox.ElectionWindow{ElectionID: electionID, Status: sealbox.StatusOngoing, Tags: map[string]string{"title": "Live Test"}},
		sealbox.BallotSchema{Positions: []sealbox.Position{
			{ID: "chair", Title: "Chair", MaxChoices: 1, Candidates: []sealbox.Candidate{{ID: "alice", Name: "Alice"}, {ID: "bob", Name: "Bob"}}},
		}},
	))
	require.NoError(t, store.AddEligible(ctx, electionID, "v-001", "v-002"))

	secret, err := sealbox.GenerateSecret(32)
	require.NoError(t, err)
	pseudo, err := sealbox.NewPseudonymizer(secret)
	require.NoError(t, err)
	env := sealbox.NewEnvelope(nil)
	submitter := sealbox.NewSubmitter(store, pseudo, env)
	receipts := sealbox.NewReceiptService(store, pseudo, env)

	selections := []sealbox.Selection{{PositionID: "chair", CandidateIDs: []string{"bob"}}}
	result, err := submitter.SubmitBallot(ctx, electionID, "v-001", selections)
	require.NoError(t, err)

	_, err = submitter.SubmitBallot(ctx, electionID, "v-001", selections)
	rej, ok := sealbox.AsRejection(err)
	require.True(t, ok, "got %v", err)
	assert.Equal(t, sealbox.AlreadyVoted, rej.Reason)
	assert.Equal(t, result.VoteToken, rej.VoteToken)

	receipt, err := receipts.BuildReceipt(ctx, electionID, "v-001", "")
	require.NoError(t, err)
	assert.True(t, receipt.Verified())
	assert.Equal(t, "Live Test", receipt.ElectionTitle)
	assert.WithinDuration(t, result.CastAt, receipt.CastAt, time.Millisecond)
	require.Len(t, receipt.Selections, 1)
	assert.Equal(t, "Bob", receipt.Selections[0].CandidateName)

	// a duplicate vote token is a collision, not a conflict
	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback()
	err = tx.InsertBallot(ctx, &sealbox.EncryptedBallotRecord{
		VoteToken: result.VoteToken, ElectionID: electionID, BlindedVoterID: pseudo.Blind("v-002", electionID),
		Sealed:    sealbox.Sealed{IV: "000000000000000000000000", AuthTag: "00000000000000000000000000000000"},
		CreatedAt: time.Now(),
	})
	assert.True(t, errors.IsA(err, sealbox.ErrTokenCollision), "got %v", err)
}

func TestLiveConcurrentSubmit(t *testing.T) {
	db := liveDB(t)
	ctx := context.Background()
	store := New(db)

	electionID := fmt.Sprintf("race-%d", time.Now().UnixNano())
	require.NoError(t, store.PutElection(ctx,
		sealbox.ElectionWindow{ElectionID: electionID, Status: sealbox.StatusOngoing},
		sealbox.BallotSchema{Positions: []sealbox.Position{{ID: "chair", MaxChoices: 1, Candidates: []sealbox.Candidate{{ID: "alice"}}}}},
	))
	require.NoError(t, store.AddEligible(ctx, electionID, "v-001"))

	secret, _ := sealbox.GenerateSecret(32)
	pseudo, _ := sealbox.NewPseudonymizer(secret)
	submitter := sealbox.NewSubmitter(store, pseudo, sealbox.NewEnvelope(nil))

	const n = 8
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			_, err := submitter.SubmitBallot(ctx, electionID, "v-001", []sealbox.Selection{{PositionID: "chair", CandidateIDs: []string{"alice"}}})
			errs <- err
		}()
	}

	wins := 0
	for i := 0; i < n; i++ {
		err := <-errs
		if err == nil {
			wins++
			continue
		}
		rej, ok := sealbox.AsRejection(err)
		if assert.True(t, ok, "got %v", err) {
			assert.Equal(t, sealbox.AlreadyVoted, rej.Reason)
		}
	}
	assert.Equal(t, 1, wins)
}
