package sealbox

import (
	"context"
	"time"

	"github.com/phayes/errors"
	"github.com/rs/zerolog"
)

const maxTokenDraws = 4

// SubmitResult is returned to a voter whose ballot was committed
type SubmitResult struct {
	VoteToken        string    `json:"voteToken"`
	VerificationCode string    `json:"verificationCode"`
	CastAt           time.Time `json:"castAt"`
}

// Submitter records ballots. At most one ballot is ever committed per voter and election.
type Submitter struct {
	Store         Store
	Pseudonymizer *Pseudonymizer
	Envelope      *Envelope
	Tokens        *TokenIssuer

	// Notifier is optional. It is called after commit and its failure is only logged.
	Notifier Notifier

	Logger zerolog.Logger
	Now    func() time.Time
}

func NewSubmitter(store Store, pseudonymizer *Pseudonymizer, envelope *Envelope) *Submitter {
	return &Submitter{
		Store:         store,
		Pseudonymizer: pseudonymizer,
		Envelope:      envelope,
		Tokens:        &TokenIssuer{},
		Logger:        zerolog.Nop(),
		Now:           time.Now,
	}
}

// SubmitBallot validates, seals and stores a ballot in a single transaction.
// A refused ballot is returned as a *Rejection; any other error means the ballot was not
// recorded and may be retried.
func (s *Submitter) SubmitBallot(ctx context.Context, electionID, voterID string, selections []Selection) (*SubmitResult, error) {
	if electionID == "" || voterID == "" {
		return nil, reject(MalformedRequest, "election and voter are required")
	}

	blinded := s.Pseudonymizer.Blind(voterID, electionID)
	log := s.Logger.With().Str("election", electionID).Str("voter", blinded).Logger()

	result, err := s.submit(ctx, log, electionID, voterID, blinded, selections)
	if err != nil && errors.IsA(err, ErrTokenCollision) {
		// A concurrent ballot took our token after it was drawn; nothing was stored, so start over once
		log.Debug().Err(err).Msg("Vote token taken at commit, retrying")
		result, err = s.submit(ctx, log, electionID, voterID, blinded, selections)
	}
	if err != nil {
		if errors.IsA(err, ErrStorageConflict) {
			// Another submission for this voter committed between our check and our commit
			log.Debug().Err(err).Msg("Lost commit race, looking up winning ballot")
			return nil, s.lookupAlreadyVoted(ctx, electionID, blinded)
		}
		if rej, ok := AsRejection(err); ok {
			log.Debug().Str("state", "Aborted").Stringer("reason", rej.Reason).Msg("Ballot rejected")
		} else {
			log.Error().Str("state", "Aborted").Err(err).Msg("Ballot not recorded")
		}
		return nil, err
	}

	log.Info().Str("state", "Committed").Str("token", result.VoteToken).Msg("Ballot recorded")
	s.notify(ctx, log, ReceiptNotice{
		ElectionID:       electionID,
		VoterID:          voterID,
		VoteToken:        result.VoteToken,
		VerificationCode: result.VerificationCode,
		CastAt:           result.CastAt,
	})
	return result, nil
}

func (s *Submitter) submit(ctx context.Context, log zerolog.Logger, electionID, voterID, blinded string, selections []Selection) (*SubmitResult, error) {
	tx, err := s.Store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	log.Debug().Str("state", "Start").Msg("")

	window, err := tx.ElectionWindow(ctx, electionID)
	if errors.IsA(err, ErrNotFound) {
		return nil, reject(ElectionNotOpen, "election does not exist")
	}
	if err != nil {
		return nil, err
	}
	if !window.Open() {
		msg := "election is " + string(window.Status)
		if window.PendingApproval {
			msg = "election is pending approval"
		}
		return nil, reject(ElectionNotOpen, msg)
	}
	log.Debug().Str("state", "WindowChecked").Msg("")

	eligible, err := tx.IsEligible(ctx, electionID, voterID)
	if err != nil {
		return nil, err
	}
	if !eligible {
		return nil, reject(NotEligible, "voter is not on the eligibility list")
	}
	voted, err := tx.HasVoted(ctx, electionID, voterID)
	if err != nil {
		return nil, err
	}
	if voted {
		return nil, alreadyVoted(ctx, tx, electionID, blinded)
	}
	log.Debug().Str("state", "NotAlreadyVoted").Msg("")

	schema, err := tx.BallotSchema(ctx, electionID)
	if err != nil {
		return nil, err
	}
	if rej := schema.Validate(selections); rej != nil {
		return nil, rej
	}
	log.Debug().Str("state", "Validated").Msg("")

	token, err := s.issueToken(ctx, tx)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()

	ballot := &EncryptedBallotRecord{
		VoteToken:      token,
		ElectionID:     electionID,
		BlindedVoterID: blinded,
		CreatedAt:      now,
	}
	ballot.Sealed, err = s.Envelope.Seal(&BallotPayload{
		Timestamp:  now,
		ElectionID: electionID,
		VoterID:    voterID,
		Selections: selections,
	})
	if err != nil {
		return nil, err
	}

	var votes []EncryptedVoteRecord
	for _, pair := range pairs(selections) {
		sealed, err := s.Envelope.Seal(&VotePayload{
			Timestamp:   now,
			ElectionID:  electionID,
			PositionID:  pair.positionID,
			CandidateID: pair.candidateID,
		})
		if err != nil {
			return nil, err
		}
		votes = append(votes, EncryptedVoteRecord{
			ElectionID:     electionID,
			VoterID:        voterID,
			PositionID:     pair.positionID,
			CandidateID:    pair.candidateID,
			VoteToken:      token,
			BlindedVoterID: blinded,
			Sealed:         sealed,
			CreatedAt:      now,
		})
	}
	log.Debug().Str("state", "Sealed").Int("votes", len(votes)).Msg("")

	if err := tx.InsertBallot(ctx, ballot); err != nil {
		return nil, err
	}
	if err := tx.InsertVotes(ctx, votes); err != nil {
		return nil, err
	}
	if err := tx.MarkVoted(ctx, electionID, voterID); err != nil {
		return nil, err
	}
	log.Debug().Str("state", "Persisted").Msg("")

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return &SubmitResult{
		VoteToken:        token,
		VerificationCode: VerificationCode(token),
		CastAt:           now,
	}, nil
}

func (s *Submitter) issueToken(ctx context.Context, tx Tx) (string, error) {
	for i := 0; i < maxTokenDraws; i++ {
		token, err := s.Tokens.Issue()
		if err != nil {
			return "", err
		}
		exists, err := tx.VoteTokenExists(ctx, token)
		if err != nil {
			return "", err
		}
		if !exists {
			return token, nil
		}
	}
	return "", errors.Wrapf(ErrTokenCollision, "gave up after %d draws", maxTokenDraws)
}

// lookupAlreadyVoted builds the AlreadyVoted rejection from a fresh transaction, so that the
// winner of a commit race is visible.
func (s *Submitter) lookupAlreadyVoted(ctx context.Context, electionID, blinded string) error {
	tx, err := s.Store.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	return alreadyVoted(ctx, tx, electionID, blinded)
}

// alreadyVoted returns the AlreadyVoted rejection, carrying the earlier token when it can be found
func alreadyVoted(ctx context.Context, tx Tx, electionID, blinded string) error {
	rej := reject(AlreadyVoted, "a ballot has already been cast")
	prior, err := tx.LatestBallot(ctx, electionID, blinded, "")
	if err == nil {
		rej.VoteToken = prior.VoteToken
	} else if !errors.IsA(err, ErrNotFound) {
		return err
	}
	return rej
}

func (s *Submitter) notify(ctx context.Context, log zerolog.Logger, notice ReceiptNotice) {
	if s.Notifier == nil {
		return
	}
	if err := s.Notifier.Enqueue(context.WithoutCancel(ctx), notice); err != nil {
		log.Warn().Err(err).Str("token", notice.VoteToken).Msg("Could not queue receipt notice")
	}
}

func (s *Submitter) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}
