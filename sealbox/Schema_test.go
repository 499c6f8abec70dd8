package sealbox

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func councilSchema() *BallotSchema {
	return &BallotSchema{
		ElectionID: "council-2026",
		Positions: []Position{
			{ID: "chair", Title: "Chair", MaxChoices: 1, Candidates: []Candidate{{ID: "alice", Name: "Alice"}, {ID: "bob", Name: "Bob"}}},
			{ID: "members", Title: "Members", MaxChoices: 2, Candidates: []Candidate{{ID: "carol"}, {ID: "dave"}, {ID: "erin"}}},
		},
	}
}

func TestDecodeSelections(t *testing.T) {
	sel, err := DecodeSelections(json.RawMessage(`[{"positionId":"chair","candidateIds":["alice"]},{"positionId":"members"}]`))
	require.NoError(t, err)
	assert.Equal(t, []Selection{
		{PositionID: "chair", CandidateIDs: []string{"alice"}},
		{PositionID: "members", CandidateIDs: []string{}},
	}, sel)

	sel, err = DecodeSelections(json.RawMessage(` [] `))
	require.NoError(t, err)
	assert.Empty(t, sel)

	malformed := []string{
		``,
		`null`,
		`{"positionId":"chair"}`,
		`"chair"`,
		`[1, 2]`,
		`[{"candidateIds":["alice"]}]`,
		`[{"positionId":"chair","candidateIds":"alice"}]`,
		`[{"positionId":"chair","candidateIds":[1]}]`,
		`[{"positionId":7,"candidateIds":["alice"]}]`,
		`[{"positionId":"chair"`,
	}
	for _, raw := range malformed {
		_, err := DecodeSelections(json.RawMessage(raw))
		rej, ok := AsRejection(err)
		if assert.True(t, ok, "%s: expected rejection, got %v", raw, err) {
			assert.Equal(t, MalformedRequest, rej.Reason, raw)
		}
	}
}

func TestValidate(t *testing.T) {
	schema := councilSchema()

	cases := []struct {
		name       string
		selections []Selection
		reason     Reason
		position   string
		candidate  string
	}{
		{"valid", []Selection{{"chair", []string{"alice"}}, {"members", []string{"carol", "dave"}}}, 0, "", ""},
		{"subset of positions", []Selection{{"members", []string{"erin"}}}, 0, "", ""},
		{"nil", nil, MalformedRequest, "", ""},
		{"empty", []Selection{}, MalformedRequest, "", ""},
		{"unknown position", []Selection{{"treasurer", []string{"alice"}}}, UnknownPosition, "treasurer", ""},
		{"no selection", []Selection{{"chair", []string{}}}, NoSelection, "chair", ""},
		{"too many", []Selection{{"chair", []string{"alice", "bob"}}}, TooManyChoices, "chair", ""},
		{"unknown candidate", []Selection{{"chair", []string{"zed"}}}, UnknownCandidate, "chair", "zed"},
		{"candidate from other position", []Selection{{"chair", []string{"carol"}}}, UnknownCandidate, "chair", "carol"},
		{"position twice", []Selection{{"chair", []string{"alice"}}, {"chair", []string{"bob"}}}, MalformedRequest, "chair", ""},
		{"duplicate candidate counts toward limit", []Selection{{"chair", []string{"alice", "alice"}}}, TooManyChoices, "chair", ""},

		// checks run in order, selection by selection
		{"too many before unknown candidate", []Selection{{"chair", []string{"zed", "alice"}}}, TooManyChoices, "chair", ""},
		{"first failing selection wins", []Selection{{"chair", []string{"zed"}}, {"treasurer", nil}}, UnknownCandidate, "chair", "zed"},
		{"earlier unknown position wins", []Selection{{"treasurer", nil}, {"chair", []string{"zed"}}}, UnknownPosition, "treasurer", ""},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			rej := schema.Validate(c.selections)
			if c.reason == 0 {
				assert.Nil(t, rej)
				return
			}
			require.NotNil(t, rej)
			assert.Equal(t, c.reason, rej.Reason)
			assert.Equal(t, c.position, rej.PositionID)
			assert.Equal(t, c.candidate, rej.CandidateID)
		})
	}
}

func TestPairsDeduplicates(t *testing.T) {
	got := pairs([]Selection{{"members", []string{"carol", "carol", "dave"}}, {"chair", []string{"alice"}}})
	assert.Equal(t, []votePair{{"members", "carol"}, {"members", "dave"}, {"chair", "alice"}}, got)
}

func TestReasonNames(t *testing.T) {
	for r := ElectionNotOpen; r <= UnknownCandidate; r++ {
		assert.Equal(t, r, ParseReason(r.String()))
	}
	assert.Equal(t, Reason(0), ParseReason("Bogus"))
	assert.True(t, TooManyChoices.ClientError())
	assert.False(t, AlreadyVoted.ClientError())

	rej := &Rejection{Reason: UnknownCandidate, PositionID: "chair", CandidateID: "zed", Message: "nope"}
	assert.Equal(t, "UnknownCandidate: nope (position chair, candidate zed)", rej.Error())
}
