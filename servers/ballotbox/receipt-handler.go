package main

import (
	"net/http"
	"strings"

	"github.com/cryptoballot/sealbox/sealbox"
	"github.com/phayes/errors"
	"github.com/rs/zerolog/log"
)

// codeResponse is the body of GET /code/<vote-token>
type codeResponse struct {
	VoteToken        string `json:"voteToken"`
	VerificationCode string `json:"verificationCode"`
}

// Receipt handler. A voter may GET the receipt for their latest ballot, or for a specific vote token.
func receiptHandler(w http.ResponseWriter, r *http.Request) {
	electionID, voteToken, err := parseElectionRequest(r, "receipt")
	if err != nil {
		http.Error(w, err.Error(), err.(parseError).Code)
		return
	}
	if voteToken != "" && !sealbox.ValidVoteToken.MatchString(voteToken) {
		http.Error(w, "Invalid Vote Token. 404 Not Found.", http.StatusNotFound)
		return
	}
	if r.Method != "GET" {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	voterID, err := parseVoterID(r)
	if err != nil {
		http.Error(w, err.Error(), err.(parseError).Code)
		return
	}

	receipt, err := receipts.BuildReceipt(r.Context(), electionID, voterID, voteToken)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, receipt)
	case errors.IsA(err, sealbox.ErrNotFound):
		http.Error(w, "Ballot not found", http.StatusNotFound)
	case errors.IsA(err, sealbox.ErrIntegrity):
		log.Error().Err(err).Str("election", electionID).Msg("Receipt integrity failure")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "IntegrityError", Message: "The stored ballot failed its integrity check"})
	case errors.IsA(err, sealbox.ErrFormat):
		log.Error().Err(err).Str("election", electionID).Msg("Receipt format failure")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "FormatError", Message: "The stored ballot could not be decoded"})
	default:
		writeError(w, err)
	}
}

// Code handler. Anyone holding a vote token may derive its short verification code.
func codeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != "GET" {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	voteToken := strings.TrimPrefix(r.URL.Path, "/code/")
	if !sealbox.ValidVoteToken.MatchString(voteToken) {
		http.Error(w, "Invalid Vote Token. 404 Not Found.", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, codeResponse{VoteToken: voteToken, VerificationCode: sealbox.VerificationCode(voteToken)})
}
