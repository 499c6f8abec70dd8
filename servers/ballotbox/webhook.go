package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io/ioutil"
	"net/http"

	"github.com/cryptoballot/sealbox/clients/ballotbox"
	"github.com/cryptoballot/sealbox/sealbox"
	"github.com/phayes/errors"
)

var ErrWebhook = errors.New("webhook: Unable to deliver receipt notice")

// webhookSender delivers receipt notices by POSTing them as JSON to a mail or messaging gateway
type webhookSender struct {
	URL        string
	HTTPClient *http.Client
}

func (s *webhookSender) Send(ctx context.Context, notice sealbox.ReceiptNotice) error {
	body, err := json.Marshal(notice)
	if err != nil {
		return errors.Wrap(err, ErrWebhook)
	}
	req, err := http.NewRequestWithContext(ctx, "POST", s.URL, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, ErrWebhook)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.HTTPClient.Do(req)
	defer ballotbox.ResponseDrainAndClose(resp)
	if err != nil {
		return errors.Wrap(err, ErrWebhook)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		details, _ := ioutil.ReadAll(resp.Body)
		return errors.Appendf(ErrWebhook, "webhook: %s - %s", resp.Status, details)
	}
	return nil
}
