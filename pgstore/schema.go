package pgstore

import (
	"context"
	"database/sql"

	"github.com/lib/pq"
	"github.com/phayes/errors"
)

const (
	// Constraint names are matched when classifying unique violations
	ballotTokenConstraint = "encrypted_ballots_pkey"
	ballotVoterConstraint = "encrypted_ballots_voter_key"
	voteChoiceConstraint  = "encrypted_votes_choice_key"

	schemaQuery = `CREATE EXTENSION IF NOT EXISTS hstore;

					CREATE TABLE IF NOT EXISTS elections (
					  election_id varchar(64) PRIMARY KEY,
					  status varchar(16) NOT NULL DEFAULT 'draft',
					  pending_approval boolean NOT NULL DEFAULT false,
					  tags hstore
					);

					CREATE TABLE IF NOT EXISTS positions (
					  election_id varchar(64) NOT NULL REFERENCES elections (election_id),
					  position_id varchar(128) NOT NULL,
					  title text NOT NULL DEFAULT '',
					  max_choices integer NOT NULL DEFAULT 1,
					  sort_order integer NOT NULL DEFAULT 0,
					  PRIMARY KEY (election_id, position_id)
					);

					CREATE TABLE IF NOT EXISTS candidates (
					  election_id varchar(64) NOT NULL,
					  position_id varchar(128) NOT NULL,
					  candidate_id varchar(128) NOT NULL,
					  name text NOT NULL DEFAULT '',
					  sort_order integer NOT NULL DEFAULT 0,
					  PRIMARY KEY (election_id, position_id, candidate_id),
					  FOREIGN KEY (election_id, position_id) REFERENCES positions (election_id, position_id)
					);

					CREATE TABLE IF NOT EXISTS eligible_voters (
					  election_id varchar(64) NOT NULL REFERENCES elections (election_id),
					  voter_id varchar(128) NOT NULL,
					  has_voted boolean NOT NULL DEFAULT false,
					  PRIMARY KEY (election_id, voter_id)
					);

					CREATE TABLE IF NOT EXISTS encrypted_ballots (
					  vote_token varchar(128) NOT NULL,
					  election_id varchar(64) NOT NULL,
					  blinded_voter_id char(64) NOT NULL,
					  ciphertext text NOT NULL,
					  iv char(24) NOT NULL,
					  auth_tag char(32) NOT NULL,
					  key text NOT NULL,
					  created_at timestamptz NOT NULL,
					  CONSTRAINT encrypted_ballots_pkey PRIMARY KEY (vote_token),
					  CONSTRAINT encrypted_ballots_voter_key UNIQUE (election_id, blinded_voter_id)
					);

					CREATE TABLE IF NOT EXISTS encrypted_votes (
					  id bigserial PRIMARY KEY,
					  election_id varchar(64) NOT NULL,
					  voter_id varchar(128) NOT NULL,
					  position_id varchar(128) NOT NULL,
					  candidate_id varchar(128) NOT NULL,
					  vote_token varchar(128) NOT NULL REFERENCES encrypted_ballots (vote_token),
					  blinded_voter_id char(64) NOT NULL,
					  ciphertext text NOT NULL,
					  iv char(24) NOT NULL,
					  auth_tag char(32) NOT NULL,
					  key text NOT NULL,
					  created_at timestamptz NOT NULL,
					  CONSTRAINT encrypted_votes_choice_key UNIQUE (election_id, voter_id, position_id, candidate_id)
					);

					CREATE INDEX IF NOT EXISTS encrypted_votes_token_idx ON encrypted_votes (election_id, vote_token);`
)

var ErrSetUp = errors.New("Could not set up database schema")

// SetUp installs the schema. It is safe to run against an existing database.
func SetUp(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, schemaQuery)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok {
			return errors.Wraps(ErrSetUp, pqErr.Message)
		}
		return errors.Wrap(ErrSetUp, err)
	}
	return nil
}
