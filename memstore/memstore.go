// Package memstore is an in-memory sealbox.Store.
//
// Writes are buffered per transaction and applied at commit, where every uniqueness constraint
// is checked again under a single lock. Two transactions can therefore both pass their reads and
// race to commit, just as they can against a real database.
package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/cryptoballot/sealbox/sealbox"
	"github.com/phayes/errors"
)

var ErrTxDone = errors.New("Transaction has already been committed or rolled back")

type voterKey struct {
	electionID string
	voterID    string
}

type ballotKey struct {
	electionID     string
	blindedVoterID string
}

type voteKey struct {
	electionID  string
	voterID     string
	positionID  string
	candidateID string
}

// Store holds committed state. The zero value is not usable; call New.
type Store struct {
	mu        sync.Mutex
	elections map[string]sealbox.ElectionWindow
	schemas   map[string]sealbox.BallotSchema
	hasVoted  map[voterKey]bool // presence means eligible
	ballots   []sealbox.EncryptedBallotRecord
	votes     []sealbox.EncryptedVoteRecord

	// CommitHook, if set, runs at the start of every Commit, before the lock is taken.
	// Returning an error aborts the commit.
	CommitHook func(ctx context.Context) error
}

func New() *Store {
	return &Store{
		elections: make(map[string]sealbox.ElectionWindow),
		schemas:   make(map[string]sealbox.BallotSchema),
		hasVoted:  make(map[voterKey]bool),
	}
}

// PutElection creates or replaces an election and its ballot schema
func (s *Store) PutElection(window sealbox.ElectionWindow, schema sealbox.BallotSchema) {
	s.mu.Lock()
	defer s.mu.Unlock()
	schema.ElectionID = window.ElectionID
	s.elections[window.ElectionID] = window
	s.schemas[window.ElectionID] = schema
}

// AddEligible puts voters on the eligibility list of an election
func (s *Store) AddEligible(electionID string, voterIDs ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, voterID := range voterIDs {
		key := voterKey{electionID, voterID}
		if _, ok := s.hasVoted[key]; !ok {
			s.hasVoted[key] = false
		}
	}
}

// Ballots returns a copy of every committed ballot record
func (s *Store) Ballots() []sealbox.EncryptedBallotRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sealbox.EncryptedBallotRecord(nil), s.ballots...)
}

// Votes returns a copy of every committed vote record
func (s *Store) Votes() []sealbox.EncryptedVoteRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sealbox.EncryptedVoteRecord(nil), s.votes...)
}

// Voted reports the committed hasVoted flag of a voter
func (s *Store) Voted(electionID, voterID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasVoted[voterKey{electionID, voterID}]
}

// EditBallots and EditVotes modify committed records in place, bypassing every constraint.
// They exist to simulate tampering with storage.
func (s *Store) EditBallots(fn func(rec *sealbox.EncryptedBallotRecord)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.ballots {
		fn(&s.ballots[i])
	}
}

func (s *Store) EditVotes(fn func(rec *sealbox.EncryptedVoteRecord)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.votes {
		fn(&s.votes[i])
	}
}

// Begin implements sealbox.Store
func (s *Store) Begin(ctx context.Context) (sealbox.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &tx{store: s, ctx: ctx}, nil
}

type tx struct {
	store   *Store
	ctx     context.Context
	done    bool
	ballots []sealbox.EncryptedBallotRecord
	votes   []sealbox.EncryptedVoteRecord
	marked  []voterKey
}

func (t *tx) check(ctx context.Context) error {
	if t.done {
		return ErrTxDone
	}
	return ctx.Err()
}

func (t *tx) ElectionWindow(ctx context.Context, electionID string) (*sealbox.ElectionWindow, error) {
	if err := t.check(ctx); err != nil {
		return nil, err
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	window, ok := t.store.elections[electionID]
	if !ok {
		return nil, sealbox.ErrNotFound
	}
	tags := make(map[string]string, len(window.Tags))
	for k, v := range window.Tags {
		tags[k] = v
	}
	window.Tags = tags
	return &window, nil
}

func (t *tx) BallotSchema(ctx context.Context, electionID string) (*sealbox.BallotSchema, error) {
	if err := t.check(ctx); err != nil {
		return nil, err
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	schema, ok := t.store.schemas[electionID]
	if !ok {
		return nil, sealbox.ErrNotFound
	}
	positions := make([]sealbox.Position, len(schema.Positions))
	for i, pos := range schema.Positions {
		pos.Candidates = append([]sealbox.Candidate(nil), pos.Candidates...)
		positions[i] = pos
	}
	schema.Positions = positions
	return &schema, nil
}

func (t *tx) IsEligible(ctx context.Context, electionID, voterID string) (bool, error) {
	if err := t.check(ctx); err != nil {
		return false, err
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	_, ok := t.store.hasVoted[voterKey{electionID, voterID}]
	return ok, nil
}

func (t *tx) HasVoted(ctx context.Context, electionID, voterID string) (bool, error) {
	if err := t.check(ctx); err != nil {
		return false, err
	}
	key := voterKey{electionID, voterID}
	for _, k := range t.marked {
		if k == key {
			return true, nil
		}
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	return t.store.hasVoted[key], nil
}

func (t *tx) MarkVoted(ctx context.Context, electionID, voterID string) error {
	if err := t.check(ctx); err != nil {
		return err
	}
	key := voterKey{electionID, voterID}
	for _, k := range t.marked {
		if k == key {
			return sealbox.ErrStorageConflict
		}
	}

	t.store.mu.Lock()
	voted, eligible := t.store.hasVoted[key]
	t.store.mu.Unlock()
	if !eligible {
		return sealbox.ErrNotFound
	}
	if voted {
		return sealbox.ErrStorageConflict
	}
	t.marked = append(t.marked, key)
	return nil
}

func (t *tx) VoteTokenExists(ctx context.Context, voteToken string) (bool, error) {
	if err := t.check(ctx); err != nil {
		return false, err
	}
	for _, b := range t.ballots {
		if b.VoteToken == voteToken {
			return true, nil
		}
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	for _, b := range t.store.ballots {
		if b.VoteToken == voteToken {
			return true, nil
		}
	}
	return false, nil
}

func (t *tx) LatestBallot(ctx context.Context, electionID, blindedVoterID, voteToken string) (*sealbox.EncryptedBallotRecord, error) {
	if err := t.check(ctx); err != nil {
		return nil, err
	}
	t.store.mu.Lock()
	candidates := append(append([]sealbox.EncryptedBallotRecord(nil), t.store.ballots...), t.ballots...)
	t.store.mu.Unlock()

	var latest *sealbox.EncryptedBallotRecord
	for i := range candidates {
		b := &candidates[i]
		if b.ElectionID != electionID || b.BlindedVoterID != blindedVoterID {
			continue
		}
		if voteToken != "" && b.VoteToken != voteToken {
			continue
		}
		if latest == nil || !b.CreatedAt.Before(latest.CreatedAt) {
			latest = b
		}
	}
	if latest == nil {
		return nil, sealbox.ErrNotFound
	}
	return latest, nil
}

func (t *tx) VoteRecords(ctx context.Context, electionID, voteToken string) ([]sealbox.EncryptedVoteRecord, error) {
	if err := t.check(ctx); err != nil {
		return nil, err
	}
	t.store.mu.Lock()
	all := append(append([]sealbox.EncryptedVoteRecord(nil), t.store.votes...), t.votes...)
	t.store.mu.Unlock()

	var out []sealbox.EncryptedVoteRecord
	for _, v := range all {
		if v.ElectionID == electionID && v.VoteToken == voteToken {
			out = append(out, v)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (t *tx) InsertBallot(ctx context.Context, ballot *sealbox.EncryptedBallotRecord) error {
	if err := t.check(ctx); err != nil {
		return err
	}
	pending := append(append([]sealbox.EncryptedBallotRecord(nil), t.ballots...), *ballot)

	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	if err := checkBallots(t.store.ballots, pending); err != nil {
		return err
	}
	t.ballots = pending
	return nil
}

func (t *tx) InsertVotes(ctx context.Context, votes []sealbox.EncryptedVoteRecord) error {
	if err := t.check(ctx); err != nil {
		return err
	}
	pending := append(append([]sealbox.EncryptedVoteRecord(nil), t.votes...), votes...)

	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	if err := checkVotes(t.store.votes, pending); err != nil {
		return err
	}
	t.votes = pending
	return nil
}

func (t *tx) Commit() error {
	if t.done {
		return ErrTxDone
	}
	if err := t.ctx.Err(); err != nil {
		t.done = true
		return err
	}
	if hook := t.store.CommitHook; hook != nil {
		if err := hook(t.ctx); err != nil {
			t.done = true
			return err
		}
	}

	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()
	t.done = true

	if err := checkBallots(s.ballots, t.ballots); err != nil {
		return err
	}
	if err := checkVotes(s.votes, t.votes); err != nil {
		return err
	}
	for _, key := range t.marked {
		voted, eligible := s.hasVoted[key]
		if !eligible || voted {
			return sealbox.ErrStorageConflict
		}
	}

	s.ballots = append(s.ballots, t.ballots...)
	s.votes = append(s.votes, t.votes...)
	for _, key := range t.marked {
		s.hasVoted[key] = true
	}
	return nil
}

func (t *tx) Rollback() error {
	t.done = true
	t.ballots, t.votes, t.marked = nil, nil, nil
	return nil
}

func checkBallots(committed, pending []sealbox.EncryptedBallotRecord) error {
	tokens := make(map[string]bool, len(committed)+len(pending))
	voters := make(map[ballotKey]bool, len(committed)+len(pending))
	for _, b := range committed {
		tokens[b.VoteToken] = true
		voters[ballotKey{b.ElectionID, b.BlindedVoterID}] = true
	}
	for _, b := range pending {
		if tokens[b.VoteToken] {
			return sealbox.ErrTokenCollision
		}
		key := ballotKey{b.ElectionID, b.BlindedVoterID}
		if voters[key] {
			return sealbox.ErrStorageConflict
		}
		tokens[b.VoteToken] = true
		voters[key] = true
	}
	return nil
}

func checkVotes(committed, pending []sealbox.EncryptedVoteRecord) error {
	seen := make(map[voteKey]bool, len(committed)+len(pending))
	for _, v := range committed {
		seen[voteKey{v.ElectionID, v.VoterID, v.PositionID, v.CandidateID}] = true
	}
	for _, v := range pending {
		key := voteKey{v.ElectionID, v.VoterID, v.PositionID, v.CandidateID}
		if seen[key] {
			return sealbox.ErrStorageConflict
		}
		seen[key] = true
	}
	return nil
}
