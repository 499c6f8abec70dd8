package sealbox_test

import (
	"context"
	"testing"

	"github.com/cryptoballot/sealbox/sealbox"
	"github.com/phayes/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func castBallot(t *testing.T, f *fixture, voterID string) *sealbox.SubmitResult {
	t.Helper()
	result, err := f.submitter.SubmitBallot(context.Background(), testElection, voterID, goodSelections())
	require.NoError(t, err)
	return result
}

func TestBuildReceipt(t *testing.T) {
	f := newFixture(t)
	result := castBallot(t, f, "v-001")

	for _, token := range []string{"", result.VoteToken} {
		receipt, err := f.receipts.BuildReceipt(context.Background(), testElection, "v-001", token)
		require.NoError(t, err)

		assert.True(t, receipt.Verified())
		assert.Equal(t, "Student Council 2026", receipt.ElectionTitle)
		assert.Equal(t, result.VoteToken, receipt.VoteToken)
		assert.Equal(t, result.VerificationCode, receipt.VerificationCode)
		assert.Equal(t, sealbox.VerificationHash(result.VoteToken, testElection, "v-001"), receipt.VerificationHash)
		assert.True(t, result.CastAt.Equal(receipt.CastAt))
		assert.Equal(t, []sealbox.ReceiptSelection{
			{PositionID: "chair", PositionTitle: "Chair", CandidateID: "alice", CandidateName: "Alice"},
			{PositionID: "members", PositionTitle: "Members", CandidateID: "carol", CandidateName: "Carol"},
			{PositionID: "members", PositionTitle: "Members", CandidateID: "dave", CandidateName: "Dave"},
		}, receipt.Selections)
	}
}

func TestBuildReceiptNotFound(t *testing.T) {
	f := newFixture(t)
	result := castBallot(t, f, "v-001")
	ctx := context.Background()

	_, err := f.receipts.BuildReceipt(ctx, testElection, "v-002", "")
	assert.Equal(t, sealbox.ErrNotFound, err)

	// a token only opens the receipt of the voter it was issued to
	_, err = f.receipts.BuildReceipt(ctx, testElection, "v-002", result.VoteToken)
	assert.Equal(t, sealbox.ErrNotFound, err)

	_, err = f.receipts.BuildReceipt(ctx, testElection, "v-001", "vt-nope")
	assert.Equal(t, sealbox.ErrNotFound, err)

	_, err = f.receipts.BuildReceipt(ctx, "other-election", "v-001", "")
	assert.Equal(t, sealbox.ErrNotFound, err)
}

func TestBuildReceiptTamperedVote(t *testing.T) {
	f := newFixture(t)
	castBallot(t, f, "v-001")

	f.store.EditVotes(func(rec *sealbox.EncryptedVoteRecord) {
		if rec.CandidateID == "carol" {
			rec.AuthTag = flip(rec.AuthTag)
		}
	})

	receipt, err := f.receipts.BuildReceipt(context.Background(), testElection, "v-001", "")
	require.NoError(t, err)
	assert.False(t, receipt.Verified())
	require.Len(t, receipt.Selections, 2)
	for _, sel := range receipt.Selections {
		assert.NotEqual(t, "carol", sel.CandidateID)
	}

	// reported once, against the record; the ballot line it no longer backs adds nothing
	require.Len(t, receipt.Warnings, 1)
	w := receipt.Warnings[0]
	assert.Equal(t, "members", w.PositionID)
	assert.Equal(t, "carol", w.CandidateID)
	assert.Equal(t, receipt.VoteToken, w.VoteToken)
	assert.NotEqual(t, "selection on ballot has no verified vote record", w.Problem)
}

func TestBuildReceiptMovedVote(t *testing.T) {
	f := newFixture(t)
	castBallot(t, f, "v-001")

	// someone rewrites the plaintext columns to move a vote to another candidate
	f.store.EditVotes(func(rec *sealbox.EncryptedVoteRecord) {
		if rec.CandidateID == "alice" {
			rec.CandidateID = "bob"
		}
	})

	receipt, err := f.receipts.BuildReceipt(context.Background(), testElection, "v-001", "")
	require.NoError(t, err)
	require.Len(t, receipt.Warnings, 2)
	assert.Equal(t, "bob", receipt.Warnings[0].CandidateID)
	assert.Equal(t, "alice", receipt.Warnings[1].CandidateID)
	for _, sel := range receipt.Selections {
		assert.NotEqual(t, "chair", sel.PositionID)
	}
}

func TestBuildReceiptTamperedBallot(t *testing.T) {
	f := newFixture(t)
	castBallot(t, f, "v-001")

	f.store.EditBallots(func(rec *sealbox.EncryptedBallotRecord) {
		rec.Ciphertext = flip(rec.Ciphertext)
	})

	_, err := f.receipts.BuildReceipt(context.Background(), testElection, "v-001", "")
	assert.True(t, errors.IsA(err, sealbox.ErrIntegrity), "got %v", err)
}

func TestBuildReceiptSwappedBallot(t *testing.T) {
	f := newFixture(t)
	castBallot(t, f, "v-001")
	castBallot(t, f, "v-002")

	// v-002's sealed ballot copied over v-001's record
	var other sealbox.Sealed
	blinded := f.pseudo.Blind("v-002", testElection)
	for _, b := range f.store.Ballots() {
		if b.BlindedVoterID == blinded {
			other = b.Sealed
		}
	}
	f.store.EditBallots(func(rec *sealbox.EncryptedBallotRecord) {
		if rec.BlindedVoterID != blinded {
			rec.Sealed = other
		}
	})

	_, err := f.receipts.BuildReceipt(context.Background(), testElection, "v-001", "")
	assert.True(t, errors.IsA(err, sealbox.ErrIntegrity), "got %v", err)
}

func TestVerificationHash(t *testing.T) {
	a := sealbox.VerificationHash("vt-1", "e1", "v1")
	assert.Len(t, a, 64)
	assert.Equal(t, a, sealbox.VerificationHash("vt-1", "e1", "v1"))
	assert.NotEqual(t, a, sealbox.VerificationHash("vt-1", "e1", "v2"))
	// boundaries between inputs matter
	assert.NotEqual(t, sealbox.VerificationHash("ab", "c", "d"), sealbox.VerificationHash("a", "bc", "d"))
}
