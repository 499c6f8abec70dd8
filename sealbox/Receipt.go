package sealbox

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"time"

	"github.com/phayes/errors"
	"github.com/rs/zerolog"
)

// ReceiptSelection is one candidate the voter chose, as shown on their receipt
type ReceiptSelection struct {
	PositionID    string `json:"positionId"`
	PositionTitle string `json:"positionTitle"`
	CandidateID   string `json:"candidateId"`
	CandidateName string `json:"candidateName"`
}

// Receipt is the voter-facing account of a cast ballot.
// Selections only lists choices that are backed by both the canonical ballot and a matching vote
// record. Anything that could not be reconciled is listed in Warnings instead.
type Receipt struct {
	ElectionID       string             `json:"electionId"`
	ElectionTitle    string             `json:"electionTitle"`
	VoteToken        string             `json:"voteToken"`
	VerificationCode string             `json:"verificationCode"`
	VerificationHash string             `json:"verificationHash"`
	CastAt           time.Time          `json:"castAt"`
	Selections       []ReceiptSelection `json:"selections"`
	Warnings         []IntegrityWarning `json:"warnings,omitempty"`
}

// Verified reports whether every stored record agreed with the canonical ballot
func (r *Receipt) Verified() bool {
	return len(r.Warnings) == 0
}

// ReceiptService rebuilds receipts from stored, sealed records
type ReceiptService struct {
	Store         Store
	Pseudonymizer *Pseudonymizer
	Envelope      *Envelope
	Logger        zerolog.Logger
}

func NewReceiptService(store Store, pseudonymizer *Pseudonymizer, envelope *Envelope) *ReceiptService {
	return &ReceiptService{
		Store:         store,
		Pseudonymizer: pseudonymizer,
		Envelope:      envelope,
		Logger:        zerolog.Nop(),
	}
}

// BuildReceipt returns the receipt for the voter's most recent ballot in the election, or for the
// ballot carrying voteToken when it is not empty.
// Returns ErrNotFound when there is no such ballot, and ErrIntegrity or ErrFormat when the
// canonical ballot cannot be opened or does not belong to the voter.
func (rs *ReceiptService) BuildReceipt(ctx context.Context, electionID, voterID, voteToken string) (*Receipt, error) {
	if electionID == "" || voterID == "" {
		return nil, reject(MalformedRequest, "election and voter are required")
	}

	blinded := rs.Pseudonymizer.Blind(voterID, electionID)
	log := rs.Logger.With().Str("election", electionID).Str("voter", blinded).Logger()

	tx, err := rs.Store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	ballot, err := tx.LatestBallot(ctx, electionID, blinded, voteToken)
	if err != nil {
		return nil, err
	}

	var payload BallotPayload
	if err := rs.Envelope.Open(ballot.Sealed, &payload); err != nil {
		log.Error().Err(err).Str("token", ballot.VoteToken).Msg("Could not open canonical ballot")
		return nil, err
	}
	if payload.ElectionID != electionID || payload.VoterID != voterID ||
		ballot.ElectionID != electionID || ballot.BlindedVoterID != blinded {
		log.Error().Str("token", ballot.VoteToken).Msg("Canonical ballot does not belong to voter")
		return nil, errors.Wraps(ErrIntegrity, "ballot does not belong to this voter and election")
	}

	title := electionID
	window, err := tx.ElectionWindow(ctx, electionID)
	switch {
	case err == nil:
		title = window.Title()
	case !errors.IsA(err, ErrNotFound):
		return nil, err
	}

	schema, err := tx.BallotSchema(ctx, electionID)
	if err != nil && !errors.IsA(err, ErrNotFound) {
		return nil, err
	}

	records, err := tx.VoteRecords(ctx, electionID, ballot.VoteToken)
	if err != nil {
		return nil, err
	}

	receipt := &Receipt{
		ElectionID:       electionID,
		ElectionTitle:    title,
		VoteToken:        ballot.VoteToken,
		VerificationCode: VerificationCode(ballot.VoteToken),
		VerificationHash: VerificationHash(ballot.VoteToken, electionID, voterID),
		CastAt:           ballot.CreatedAt,
		Selections:       []ReceiptSelection{},
	}

	// Verify each vote record on its own; a bad one is reported, not fatal
	var verified []votePair
	isVerified := make(map[votePair]bool)
	warned := make(map[votePair]bool)
	for _, rec := range records {
		warn := IntegrityWarning{VoteToken: rec.VoteToken, PositionID: rec.PositionID, CandidateID: rec.CandidateID}

		var vote VotePayload
		if err := rs.Envelope.Open(rec.Sealed, &vote); err != nil {
			warn.Problem = err.Error()
			receipt.Warnings = append(receipt.Warnings, warn)
			warned[votePair{rec.PositionID, rec.CandidateID}] = true
			continue
		}
		if vote.ElectionID != electionID || rec.ElectionID != electionID ||
			vote.PositionID != rec.PositionID || vote.CandidateID != rec.CandidateID ||
			rec.VoterID != voterID || rec.BlindedVoterID != blinded || rec.VoteToken != ballot.VoteToken {
			warn.Problem = "vote record does not match its sealed contents"
			receipt.Warnings = append(receipt.Warnings, warn)
			warned[votePair{rec.PositionID, rec.CandidateID}] = true
			continue
		}

		p := votePair{rec.PositionID, rec.CandidateID}
		if !isVerified[p] {
			isVerified[p] = true
			verified = append(verified, p)
		}
	}

	onBallot := make(map[votePair]bool)
	for _, p := range pairs(payload.Selections) {
		onBallot[p] = true
		if warned[p] && !isVerified[p] {
			// already reported against the record itself
			continue
		}
		if !isVerified[p] {
			receipt.Warnings = append(receipt.Warnings, IntegrityWarning{
				VoteToken:   ballot.VoteToken,
				PositionID:  p.positionID,
				CandidateID: p.candidateID,
				Problem:     "selection on ballot has no verified vote record",
			})
			continue
		}
		receipt.Selections = append(receipt.Selections, displaySelection(schema, p))
	}
	for _, p := range verified {
		if !onBallot[p] {
			receipt.Warnings = append(receipt.Warnings, IntegrityWarning{
				VoteToken:   ballot.VoteToken,
				PositionID:  p.positionID,
				CandidateID: p.candidateID,
				Problem:     "vote record is not on the ballot",
			})
		}
	}

	if len(receipt.Warnings) != 0 {
		log.Warn().Str("token", ballot.VoteToken).Int("warnings", len(receipt.Warnings)).Msg("Receipt has integrity warnings")
	}
	return receipt, nil
}

func displaySelection(schema *BallotSchema, p votePair) ReceiptSelection {
	sel := ReceiptSelection{
		PositionID:    p.positionID,
		PositionTitle: p.positionID,
		CandidateID:   p.candidateID,
		CandidateName: p.candidateID,
	}
	if schema == nil {
		return sel
	}
	if pos := schema.Position(p.positionID); pos != nil {
		if pos.Title != "" {
			sel.PositionTitle = pos.Title
		}
		if c := pos.Candidate(p.candidateID); c != nil && c.Name != "" {
			sel.CandidateName = c.Name
		}
	}
	return sel
}

// VerificationHash binds a vote token to the election and voter it was issued for.
// Each input is prefixed with its length, so no two distinct triples hash alike.
func VerificationHash(voteToken, electionID, voterID string) string {
	h := sha256.New()
	var n [8]byte
	for _, s := range []string{voteToken, electionID, voterID} {
		binary.BigEndian.PutUint64(n[:], uint64(len(s)))
		h.Write(n[:])
		h.Write([]byte(s))
	}
	return hex.EncodeToString(h.Sum(nil))
}
