package ballotbox

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cryptoballot/sealbox/sealbox"
	"github.com/phayes/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testToken = "vt-loyw3v28-00000000000040008000000000000000"

func stubServer(t *testing.T) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/vote/council-2026", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		var body struct {
			Selections []sealbox.Selection `json:"selections"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		w.Header().Set("Content-Type", "application/json")
		switch r.Header.Get("X-Voter-ID") {
		case "v-001":
			assert.Equal(t, []string{"alice"}, body.Selections[0].CandidateIDs)
			w.Write([]byte(`{"voteToken":"` + testToken + `","verificationCode":"ABCDE-FGHIJ","castAt":"2026-03-01T12:00:00Z"}`))
		case "v-002":
			w.WriteHeader(http.StatusConflict)
			w.Write([]byte(`{"error":"AlreadyVoted","message":"voter has already cast a ballot","voteToken":"` + testToken + `"}`))
		default:
			http.Error(w, "Internal server error", http.StatusInternalServerError)
		}
	})
	mux.HandleFunc("/receipt/council-2026/", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Voter-ID") != "v-001" || r.URL.Path != "/receipt/council-2026/"+testToken {
			http.Error(w, "Ballot not found", http.StatusNotFound)
			return
		}
		w.Write([]byte(`{"electionId":"council-2026","voteToken":"` + testToken + `","selections":[{"positionId":"chair","candidateId":"alice"}]}`))
	})
	mux.HandleFunc("/code/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"voteToken":"` + testToken + `","verificationCode":"ABCDE-FGHIJ"}`))
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestVote(t *testing.T) {
	client := NewClient(stubServer(t).URL)
	selections := []sealbox.Selection{{PositionID: "chair", CandidateIDs: []string{"alice"}}}

	result, err := client.Vote("council-2026", "v-001", selections)
	require.NoError(t, err)
	assert.Equal(t, testToken, result.VoteToken)
	assert.Equal(t, "ABCDE-FGHIJ", result.VerificationCode)
	assert.Equal(t, 2026, result.CastAt.Year())

	_, err = client.Vote("council-2026", "v-002", selections)
	rej, ok := sealbox.AsRejection(err)
	require.True(t, ok, "got %v", err)
	assert.Equal(t, sealbox.AlreadyVoted, rej.Reason)
	assert.Equal(t, testToken, rej.VoteToken)

	_, err = client.Vote("council-2026", "v-003", selections)
	require.Error(t, err)
	_, ok = sealbox.AsRejection(err)
	assert.False(t, ok)
	assert.True(t, errors.IsA(err, ErrVote))
	assert.Contains(t, err.Error(), "500")
}

func TestReceipt(t *testing.T) {
	client := NewClient(stubServer(t).URL)

	receipt, err := client.Receipt("council-2026", "v-001", testToken)
	require.NoError(t, err)
	assert.Equal(t, testToken, receipt.VoteToken)
	require.Len(t, receipt.Selections, 1)
	assert.Equal(t, "alice", receipt.Selections[0].CandidateID)

	_, err = client.Receipt("council-2026", "v-002", testToken)
	assert.True(t, errors.IsA(err, sealbox.ErrNotFound), "got %v", err)
}

func TestCode(t *testing.T) {
	client := NewClient(stubServer(t).URL)
	code, err := client.Code(testToken)
	require.NoError(t, err)
	assert.Equal(t, "ABCDE-FGHIJ", code)
}

func TestUnreachable(t *testing.T) {
	server := stubServer(t)
	client := NewClient(server.URL)
	server.Close()

	_, err := client.Code(testToken)
	assert.True(t, errors.IsA(err, ErrGetCode), "got %v", err)
}
