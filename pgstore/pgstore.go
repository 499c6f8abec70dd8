// Package pgstore keeps elections, eligibility lists and sealed ballots in PostgreSQL
package pgstore

import (
	"context"
	"database/sql"

	"github.com/cryptoballot/sealbox/sealbox"
	"github.com/lib/pq"
	"github.com/lib/pq/hstore"
	"github.com/phayes/errors"
)

// Store implements sealbox.Store on a database/sql handle opened with the "postgres" driver
type Store struct {
	DB *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{DB: db}
}

// Begin opens a READ COMMITTED transaction. The uniqueness constraints, not the isolation
// level, are what keep a voter to a single ballot.
func (s *Store) Begin(ctx context.Context) (sealbox.Tx, error) {
	sqlTx, err := s.DB.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	return &tx{tx: sqlTx}, nil
}

// classify maps unique violations onto the sealbox storage errors
func classify(err error) error {
	pqErr, ok := err.(*pq.Error)
	if !ok || pqErr.Code.Name() != "unique_violation" {
		return err
	}
	if pqErr.Constraint == ballotTokenConstraint {
		return errors.Wrap(sealbox.ErrTokenCollision, pqErr)
	}
	return errors.Wrap(sealbox.ErrStorageConflict, pqErr)
}

type tx struct {
	tx *sql.Tx
}

func (t *tx) ElectionWindow(ctx context.Context, electionID string) (*sealbox.ElectionWindow, error) {
	window := sealbox.ElectionWindow{ElectionID: electionID}
	var (
		status string
		tags   hstore.Hstore
	)
	err := t.tx.QueryRowContext(ctx,
		"SELECT status, pending_approval, tags FROM elections WHERE election_id = $1",
		electionID).Scan(&status, &window.PendingApproval, &tags)
	if err == sql.ErrNoRows {
		return nil, sealbox.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	window.Status = sealbox.Status(status)
	window.Tags = make(map[string]string, len(tags.Map))
	for key, value := range tags.Map {
		if value.Valid {
			window.Tags[key] = value.String
		}
	}
	return &window, nil
}

func (t *tx) BallotSchema(ctx context.Context, electionID string) (*sealbox.BallotSchema, error) {
	var exists bool
	err := t.tx.QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM elections WHERE election_id = $1)", electionID).Scan(&exists)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, sealbox.ErrNotFound
	}

	schema := &sealbox.BallotSchema{ElectionID: electionID}
	index := make(map[string]int)

	rows, err := t.tx.QueryContext(ctx,
		"SELECT position_id, title, max_choices FROM positions WHERE election_id = $1 ORDER BY sort_order, position_id",
		electionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var pos sealbox.Position
		if err := rows.Scan(&pos.ID, &pos.Title, &pos.MaxChoices); err != nil {
			return nil, err
		}
		index[pos.ID] = len(schema.Positions)
		schema.Positions = append(schema.Positions, pos)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	rows, err = t.tx.QueryContext(ctx,
		"SELECT position_id, candidate_id, name FROM candidates WHERE election_id = $1 ORDER BY sort_order, candidate_id",
		electionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			positionID string
			c          sealbox.Candidate
		)
		if err := rows.Scan(&positionID, &c.ID, &c.Name); err != nil {
			return nil, err
		}
		if i, ok := index[positionID]; ok {
			schema.Positions[i].Candidates = append(schema.Positions[i].Candidates, c)
		}
	}
	return schema, rows.Err()
}

func (t *tx) IsEligible(ctx context.Context, electionID, voterID string) (bool, error) {
	var hasVoted bool
	err := t.tx.QueryRowContext(ctx,
		"SELECT has_voted FROM eligible_voters WHERE election_id = $1 AND voter_id = $2",
		electionID, voterID).Scan(&hasVoted)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

func (t *tx) HasVoted(ctx context.Context, electionID, voterID string) (bool, error) {
	var hasVoted bool
	err := t.tx.QueryRowContext(ctx,
		"SELECT has_voted FROM eligible_voters WHERE election_id = $1 AND voter_id = $2",
		electionID, voterID).Scan(&hasVoted)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return hasVoted, err
}

func (t *tx) MarkVoted(ctx context.Context, electionID, voterID string) error {
	// blocks behind a concurrent writer of the same row, then re-checks has_voted
	res, err := t.tx.ExecContext(ctx,
		"UPDATE eligible_voters SET has_voted = true WHERE election_id = $1 AND voter_id = $2 AND has_voted = false",
		electionID, voterID)
	if err != nil {
		return classify(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return errors.Wraps(sealbox.ErrStorageConflict, "voter is not eligible or has already voted")
	}
	return nil
}

func (t *tx) VoteTokenExists(ctx context.Context, voteToken string) (bool, error) {
	var exists bool
	err := t.tx.QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM encrypted_ballots WHERE vote_token = $1)", voteToken).Scan(&exists)
	return exists, err
}

func (t *tx) LatestBallot(ctx context.Context, electionID, blindedVoterID, voteToken string) (*sealbox.EncryptedBallotRecord, error) {
	var b sealbox.EncryptedBallotRecord
	err := t.tx.QueryRowContext(ctx,
		`SELECT vote_token, election_id, blinded_voter_id, ciphertext, iv, auth_tag, key, created_at
		   FROM encrypted_ballots
		  WHERE election_id = $1 AND blinded_voter_id = $2 AND ($3::text = '' OR vote_token = $3::text)
		  ORDER BY created_at DESC
		  LIMIT 1`,
		electionID, blindedVoterID, voteToken).Scan(
		&b.VoteToken, &b.ElectionID, &b.BlindedVoterID,
		&b.Ciphertext, &b.IV, &b.AuthTag, &b.Key, &b.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, sealbox.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (t *tx) VoteRecords(ctx context.Context, electionID, voteToken string) ([]sealbox.EncryptedVoteRecord, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT election_id, voter_id, position_id, candidate_id, vote_token, blinded_voter_id,
		        ciphertext, iv, auth_tag, key, created_at
		   FROM encrypted_votes
		  WHERE election_id = $1 AND vote_token = $2
		  ORDER BY created_at, id`,
		electionID, voteToken)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []sealbox.EncryptedVoteRecord
	for rows.Next() {
		var v sealbox.EncryptedVoteRecord
		err := rows.Scan(&v.ElectionID, &v.VoterID, &v.PositionID, &v.CandidateID, &v.VoteToken, &v.BlindedVoterID,
			&v.Ciphertext, &v.IV, &v.AuthTag, &v.Key, &v.CreatedAt)
		if err != nil {
			return nil, err
		}
		records = append(records, v)
	}
	return records, rows.Err()
}

func (t *tx) InsertBallot(ctx context.Context, b *sealbox.EncryptedBallotRecord) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO encrypted_ballots (vote_token, election_id, blinded_voter_id, ciphertext, iv, auth_tag, key, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		b.VoteToken, b.ElectionID, b.BlindedVoterID, b.Ciphertext, b.IV, b.AuthTag, b.Key, b.CreatedAt)
	return classify(err)
}

func (t *tx) InsertVotes(ctx context.Context, votes []sealbox.EncryptedVoteRecord) error {
	if len(votes) == 0 {
		return nil
	}
	stmt, err := t.tx.PrepareContext(ctx,
		`INSERT INTO encrypted_votes (election_id, voter_id, position_id, candidate_id, vote_token, blinded_voter_id,
		                              ciphertext, iv, auth_tag, key, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, v := range votes {
		_, err := stmt.ExecContext(ctx, v.ElectionID, v.VoterID, v.PositionID, v.CandidateID, v.VoteToken, v.BlindedVoterID,
			v.Ciphertext, v.IV, v.AuthTag, v.Key, v.CreatedAt)
		if err != nil {
			return classify(err)
		}
	}
	return nil
}

func (t *tx) Commit() error {
	return classify(t.tx.Commit())
}

func (t *tx) Rollback() error {
	err := t.tx.Rollback()
	if err == sql.ErrTxDone {
		return nil
	}
	return err
}

// PutElection creates or replaces an election, its tags and its ballot schema
func (s *Store) PutElection(ctx context.Context, window sealbox.ElectionWindow, schema sealbox.BallotSchema) error {
	sqlTx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer sqlTx.Rollback()

	var tags hstore.Hstore
	tags.Map = make(map[string]sql.NullString, len(window.Tags))
	for key, value := range window.Tags {
		tags.Map[key] = sql.NullString{String: value, Valid: true}
	}

	_, err = sqlTx.ExecContext(ctx,
		`INSERT INTO elections (election_id, status, pending_approval, tags) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (election_id) DO UPDATE SET status = $2, pending_approval = $3, tags = $4`,
		window.ElectionID, string(window.Status), window.PendingApproval, tags)
	if err != nil {
		return err
	}
	if _, err = sqlTx.ExecContext(ctx, "DELETE FROM candidates WHERE election_id = $1", window.ElectionID); err != nil {
		return err
	}
	if _, err = sqlTx.ExecContext(ctx, "DELETE FROM positions WHERE election_id = $1", window.ElectionID); err != nil {
		return err
	}

	for i, pos := range schema.Positions {
		_, err = sqlTx.ExecContext(ctx,
			"INSERT INTO positions (election_id, position_id, title, max_choices, sort_order) VALUES ($1, $2, $3, $4, $5)",
			window.ElectionID, pos.ID, pos.Title, pos.MaxChoices, i)
		if err != nil {
			return err
		}
		for j, c := range pos.Candidates {
			_, err = sqlTx.ExecContext(ctx,
				"INSERT INTO candidates (election_id, position_id, candidate_id, name, sort_order) VALUES ($1, $2, $3, $4, $5)",
				window.ElectionID, pos.ID, c.ID, c.Name, j)
			if err != nil {
				return err
			}
		}
	}
	return sqlTx.Commit()
}

// AddEligible puts voters on the eligibility list of an election
func (s *Store) AddEligible(ctx context.Context, electionID string, voterIDs ...string) error {
	for _, voterID := range voterIDs {
		_, err := s.DB.ExecContext(ctx,
			"INSERT INTO eligible_voters (election_id, voter_id) VALUES ($1, $2) ON CONFLICT DO NOTHING",
			electionID, voterID)
		if err != nil {
			return err
		}
	}
	return nil
}
