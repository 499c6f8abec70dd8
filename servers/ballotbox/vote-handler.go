package main

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/cryptoballot/sealbox/sealbox"
	"github.com/rs/zerolog/log"
)

const maxBallotBodySize = 1 << 20

// errorResponse is the JSON body sent with every refused request
type errorResponse struct {
	Error       string `json:"error"`
	Message     string `json:"message,omitempty"`
	PositionID  string `json:"positionId,omitempty"`
	CandidateID string `json:"candidateId,omitempty"`
	VoteToken   string `json:"voteToken,omitempty"`
}

type voteRequest struct {
	Selections json.RawMessage `json:"selections"`
}

// Main vote handler. A voter may POST or PUT (cast) their ballot for an election.
func voteHandler(w http.ResponseWriter, r *http.Request) {
	electionID, rest, err := parseElectionRequest(r, "vote")
	if err != nil {
		http.Error(w, err.Error(), err.(parseError).Code)
		return
	}
	if rest != "" {
		http.Error(w, "Invalid number of url parts. 404 Not Found.", http.StatusNotFound)
		return
	}

	switch r.Method {
	case "POST", "PUT":
		handlePOSTVote(w, r, electionID)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// parseElectionRequest parses /<prefix>/<election-id>[/<rest>] and returns the election ID and the optional trailing part
func parseElectionRequest(r *http.Request, prefix string) (electionID string, rest string, err error) {
	urlparts := strings.Split(r.URL.Path, "/")

	// Check for the correct number of request parts
	if len(urlparts) < 3 || len(urlparts) > 4 || urlparts[1] != prefix {
		err = parseError{"Invalid number of url parts. 404 Not Found.", http.StatusNotFound}
		return
	}

	// Get the electionID
	electionID = urlparts[2]
	if len(electionID) > sealbox.MaxElectionIDSize || !sealbox.ValidElectionID.MatchString(electionID) {
		err = parseError{"Invalid Election ID. 404 Not Found.", http.StatusNotFound}
		return
	}

	if len(urlparts) == 4 {
		rest = urlparts[3]
	}
	return
}

// parseVoterID reads the authenticated voter from the X-Voter-ID header, which is set by the fronting auth proxy
func parseVoterID(r *http.Request) (string, error) {
	voterID := r.Header.Get("X-Voter-ID")
	if voterID == "" {
		return "", parseError{"Missing X-Voter-ID header", http.StatusUnauthorized}
	}
	if len(voterID) > sealbox.MaxVoterIDSize {
		return "", parseError{"Invalid X-Voter-ID header", http.StatusBadRequest}
	}
	return voterID, nil
}

func handlePOSTVote(w http.ResponseWriter, r *http.Request, electionID string) {
	voterID, err := parseVoterID(r)
	if err != nil {
		http.Error(w, err.Error(), err.(parseError).Code)
		return
	}

	var req voteRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBallotBodySize))
	if err := dec.Decode(&req); err != nil {
		writeRejection(w, &sealbox.Rejection{Reason: sealbox.MalformedRequest, Message: "Error reading ballot. " + err.Error()})
		return
	}
	selections, err := sealbox.DecodeSelections(req.Selections)
	if err != nil {
		writeError(w, err)
		return
	}

	result, err := submitter.SubmitBallot(r.Context(), electionID, voterID, selections)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// writeError sends a Rejection with its mapped status, and anything else as a 500
func writeError(w http.ResponseWriter, err error) {
	if rej, ok := sealbox.AsRejection(err); ok {
		writeRejection(w, rej)
		return
	}
	log.Error().Err(err).Msg("Request failed")
	http.Error(w, "Internal server error", http.StatusInternalServerError)
}

func writeRejection(w http.ResponseWriter, rej *sealbox.Rejection) {
	writeJSON(w, rejectionStatus(rej.Reason), errorResponse{
		Error:       rej.Reason.String(),
		Message:     rej.Message,
		PositionID:  rej.PositionID,
		CandidateID: rej.CandidateID,
		VoteToken:   rej.VoteToken,
	})
}

func rejectionStatus(reason sealbox.Reason) int {
	switch {
	case reason.ClientError():
		return http.StatusBadRequest
	case reason == sealbox.ElectionNotOpen, reason == sealbox.NotEligible:
		return http.StatusForbidden
	case reason == sealbox.AlreadyVoted:
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}
