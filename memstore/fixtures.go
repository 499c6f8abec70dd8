package memstore

import (
	"encoding/json"
	"io"

	"github.com/cryptoballot/sealbox/sealbox"
	"github.com/phayes/errors"
)

var ErrFixtures = errors.New("Could not load fixtures")

type fixtureFile struct {
	Elections []fixtureElection `json:"elections"`
}

type fixtureElection struct {
	ID              string            `json:"id"`
	Status          sealbox.Status    `json:"status"`
	PendingApproval bool              `json:"pendingApproval"`
	Tags            map[string]string `json:"tags"`
	Positions       []struct {
		ID         string `json:"id"`
		Title      string `json:"title"`
		MaxChoices int    `json:"maxChoices"`
		Candidates []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"candidates"`
	} `json:"positions"`
	Voters []string `json:"voters"`
}

// LoadFixtures seeds the store with elections, ballot schemas and eligibility lists read as JSON:
//
//	{"elections": [{"id": "council-2026", "status": "ongoing", "tags": {"title": "Council"},
//	  "positions": [{"id": "chair", "title": "Chair", "maxChoices": 1,
//	    "candidates": [{"id": "alice", "name": "Alice"}]}],
//	  "voters": ["v-001", "v-002"]}]}
func (s *Store) LoadFixtures(r io.Reader) error {
	var file fixtureFile
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&file); err != nil {
		return errors.Wrap(ErrFixtures, err)
	}

	for _, e := range file.Elections {
		if !sealbox.ValidElectionID.MatchString(e.ID) || len(e.ID) > sealbox.MaxElectionIDSize {
			return errors.Wraps(ErrFixtures, "invalid election id "+e.ID)
		}
		schema := sealbox.BallotSchema{ElectionID: e.ID}
		for _, p := range e.Positions {
			pos := sealbox.Position{ID: p.ID, Title: p.Title, MaxChoices: p.MaxChoices}
			for _, c := range p.Candidates {
				pos.Candidates = append(pos.Candidates, sealbox.Candidate{ID: c.ID, Name: c.Name})
			}
			schema.Positions = append(schema.Positions, pos)
		}
		s.PutElection(sealbox.ElectionWindow{
			ElectionID:      e.ID,
			Status:          e.Status,
			PendingApproval: e.PendingApproval,
			Tags:            e.Tags,
		}, schema)
		s.AddEligible(e.ID, e.Voters...)
	}
	return nil
}
