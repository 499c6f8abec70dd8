package ballotbox

import (
	"bytes"
	"encoding/json"
	"io"
	"io/ioutil"
	"net/http"
	"net/url"

	"github.com/cryptoballot/sealbox/sealbox"
	"github.com/phayes/errors"
)

var (
	ErrVote       = errors.New("ballotbox: Unable to cast ballot")
	ErrGetReceipt = errors.New("ballotbox: Unable to GET receipt")
	ErrGetCode    = errors.New("ballotbox: Unable to GET verification code")
)

// Client provides access to the ballotbox REST service
type Client struct {
	BaseURL    string
	HTTPClient http.Client
}

// NewClient creates a new ballotbox.Client for the service at baseurl
func NewClient(baseurl string) *Client {
	return &Client{BaseURL: baseurl, HTTPClient: http.Client{}}
}

// Vote casts a ballot for voterID. A refused ballot is returned as a *sealbox.Rejection.
func (c *Client) Vote(electionID string, voterID string, selections []sealbox.Selection) (*sealbox.SubmitResult, error) {
	body, err := json.Marshal(struct {
		Selections []sealbox.Selection `json:"selections"`
	}{selections})
	if err != nil {
		return nil, errors.Wrap(err, ErrVote)
	}

	req, err := http.NewRequest("POST", c.BaseURL+"/vote/"+url.PathEscape(electionID), bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, ErrVote)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Voter-ID", voterID)

	// Do the request
	resp, err := c.HTTPClient.Do(req)
	defer ResponseDrainAndClose(resp)
	if err != nil {
		return nil, errors.Wrap(err, ErrVote)
	}

	// Handle errors
	if resp.StatusCode != 200 {
		return nil, responseError(resp, ErrVote)
	}

	var result sealbox.SubmitResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, errors.Wrap(err, ErrVote)
	}
	return &result, nil
}

// Receipt gets the receipt for the voter's latest ballot, or for voteToken if it is not empty
func (c *Client) Receipt(electionID string, voterID string, voteToken string) (*sealbox.Receipt, error) {
	u := c.BaseURL + "/receipt/" + url.PathEscape(electionID)
	if voteToken != "" {
		u += "/" + url.PathEscape(voteToken)
	}
	req, err := http.NewRequest("GET", u, nil)
	if err != nil {
		return nil, errors.Wrap(err, ErrGetReceipt)
	}
	req.Header.Set("X-Voter-ID", voterID)

	resp, err := c.HTTPClient.Do(req)
	defer ResponseDrainAndClose(resp)
	if err != nil {
		return nil, errors.Wrap(err, ErrGetReceipt)
	}

	if resp.StatusCode == http.StatusNotFound {
		return nil, errors.Wrap(sealbox.ErrNotFound, ErrGetReceipt)
	}
	if resp.StatusCode != 200 {
		return nil, responseError(resp, ErrGetReceipt)
	}

	var receipt sealbox.Receipt
	if err := json.NewDecoder(resp.Body).Decode(&receipt); err != nil {
		return nil, errors.Wrap(err, ErrGetReceipt)
	}
	return &receipt, nil
}

// Code gets the short verification code for a vote token
func (c *Client) Code(voteToken string) (string, error) {
	resp, err := c.HTTPClient.Get(c.BaseURL + "/code/" + url.PathEscape(voteToken))
	defer ResponseDrainAndClose(resp)
	if err != nil {
		return "", errors.Wrap(err, ErrGetCode)
	}

	if resp.StatusCode != 200 {
		details, _ := ioutil.ReadAll(resp.Body)
		return "", errors.Appendf(ErrGetCode, "ballotbox: %s - %s", resp.Status, details)
	}

	var code struct {
		VerificationCode string `json:"verificationCode"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&code); err != nil {
		return "", errors.Wrap(err, ErrGetCode)
	}
	return code.VerificationCode, nil
}

// responseError turns a failed response into a *sealbox.Rejection when the body carries a known reason
func responseError(resp *http.Response, sentinel error) error {
	details, _ := ioutil.ReadAll(resp.Body)

	var body struct {
		Error       string `json:"error"`
		Message     string `json:"message"`
		PositionID  string `json:"positionId"`
		CandidateID string `json:"candidateId"`
		VoteToken   string `json:"voteToken"`
	}
	if json.Unmarshal(details, &body) == nil {
		if reason := sealbox.ParseReason(body.Error); reason != 0 {
			return &sealbox.Rejection{
				Reason:      reason,
				Message:     body.Message,
				PositionID:  body.PositionID,
				CandidateID: body.CandidateID,
				VoteToken:   body.VoteToken,
			}
		}
	}
	return errors.Appendf(sentinel, "ballotbox: %s - %s", resp.Status, bytes.TrimSpace(details))
}

// ResponseDrainAndClose drains a response of it's body and closes it
// It should be used in a defer statement when doing an HTTP request
func ResponseDrainAndClose(resp *http.Response) {
	if resp != nil {
		_, _ = io.Copy(ioutil.Discard, resp.Body)
		_ = resp.Body.Close()
	}
}
