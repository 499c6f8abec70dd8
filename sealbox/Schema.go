package sealbox

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// Candidate is a choice that may be selected for a single position
type Candidate struct {
	ID   string
	Name string
}

// Position is one contest on the ballot
type Position struct {
	ID         string
	Title      string
	MaxChoices int
	Candidates []Candidate
}

// Candidate returns the candidate with the given ID if it belongs to this position
func (p *Position) Candidate(candidateID string) *Candidate {
	for i := range p.Candidates {
		if p.Candidates[i].ID == candidateID {
			return &p.Candidates[i]
		}
	}
	return nil
}

// BallotSchema is the ballot layout of an election: its positions and their candidates, in
// display order.
type BallotSchema struct {
	ElectionID string
	Positions  []Position
}

// Position returns the position with the given ID, or nil
func (schema *BallotSchema) Position(positionID string) *Position {
	for i := range schema.Positions {
		if schema.Positions[i].ID == positionID {
			return &schema.Positions[i]
		}
	}
	return nil
}

// Selection is the voter's choice of candidates for one position
type Selection struct {
	PositionID   string   `json:"positionId"`
	CandidateIDs []string `json:"candidateIds"`
}

// DecodeSelections parses the "selections" member of a submission.
// Anything other than an array of {positionId, candidateIds} objects is a MalformedRequest.
func DecodeSelections(raw json.RawMessage) ([]Selection, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '[' {
		return nil, reject(MalformedRequest, "selections must be an array")
	}

	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, reject(MalformedRequest, "selections must be an array")
	}

	selections := make([]Selection, 0, len(items))
	for i, item := range items {
		var fields struct {
			PositionID   *string         `json:"positionId"`
			CandidateIDs json.RawMessage `json:"candidateIds"`
		}
		item = bytes.TrimSpace(item)
		if len(item) == 0 || item[0] != '{' {
			return nil, reject(MalformedRequest, "selection "+strconv.Itoa(i)+" is not an object")
		}
		if err := json.Unmarshal(item, &fields); err != nil {
			return nil, reject(MalformedRequest, "selection "+strconv.Itoa(i)+": "+err.Error())
		}
		if fields.PositionID == nil {
			return nil, reject(MalformedRequest, "selection "+strconv.Itoa(i)+" has no positionId")
		}

		sel := Selection{PositionID: *fields.PositionID, CandidateIDs: []string{}}
		candidates := bytes.TrimSpace(fields.CandidateIDs)
		if len(candidates) != 0 && !bytes.Equal(candidates, []byte("null")) {
			if candidates[0] != '[' {
				return nil, &Rejection{Reason: MalformedRequest, PositionID: sel.PositionID, Message: "candidateIds must be an array"}
			}
			if err := json.Unmarshal(candidates, &sel.CandidateIDs); err != nil {
				return nil, &Rejection{Reason: MalformedRequest, PositionID: sel.PositionID, Message: "candidateIds must be an array of strings"}
			}
		}
		selections = append(selections, sel)
	}
	return selections, nil
}

// Validate checks selections against the ballot schema. Checks run selection by selection in
// submission order; the first failure is returned.
// Returns nil if the ballot is acceptable.
func (schema *BallotSchema) Validate(selections []Selection) *Rejection {
	if selections == nil {
		return reject(MalformedRequest, "selections must be an array")
	}
	if len(selections) == 0 {
		return reject(MalformedRequest, "ballot has no selections")
	}

	seen := make(map[string]bool, len(selections))
	for _, sel := range selections {
		pos := schema.Position(sel.PositionID)
		if pos == nil {
			return &Rejection{Reason: UnknownPosition, PositionID: sel.PositionID, Message: "position is not on this ballot"}
		}
		if seen[sel.PositionID] {
			return &Rejection{Reason: MalformedRequest, PositionID: sel.PositionID, Message: "position selected more than once"}
		}
		seen[sel.PositionID] = true

		if len(sel.CandidateIDs) == 0 {
			return &Rejection{Reason: NoSelection, PositionID: sel.PositionID, Message: "no candidate selected"}
		}
		if len(sel.CandidateIDs) > pos.MaxChoices {
			return &Rejection{
				Reason:     TooManyChoices,
				PositionID: sel.PositionID,
				Message:    "at most " + strconv.Itoa(pos.MaxChoices) + " choices allowed, got " + strconv.Itoa(len(sel.CandidateIDs)),
			}
		}
		for _, candidateID := range sel.CandidateIDs {
			if pos.Candidate(candidateID) == nil {
				return &Rejection{Reason: UnknownCandidate, PositionID: sel.PositionID, CandidateID: candidateID, Message: "candidate does not belong to position"}
			}
		}
	}
	return nil
}

type votePair struct {
	positionID  string
	candidateID string
}

// pairs flattens selections into (position, candidate) pairs, dropping repeats
func pairs(selections []Selection) []votePair {
	var out []votePair
	seen := make(map[votePair]bool)
	for _, sel := range selections {
		for _, candidateID := range sel.CandidateIDs {
			p := votePair{sel.PositionID, candidateID}
			if seen[p] {
				continue
			}
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}
