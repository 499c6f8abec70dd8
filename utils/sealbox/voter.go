package main

import (
	"encoding/json"
	"fmt"
	"io/ioutil"

	"github.com/cryptoballot/sealbox/sealbox"
	"github.com/phayes/errors"
	"github.com/urfave/cli"
)

// readBallotFile reads selections from a file holding either {"selections": [...]} or the bare list
func readBallotFile(filename string) ([]sealbox.Selection, error) {
	content, err := ioutil.ReadFile(filename)
	if err != nil {
		return nil, err
	}

	var wrapped struct {
		Selections json.RawMessage `json:"selections"`
	}
	raw := json.RawMessage(content)
	if json.Unmarshal(content, &wrapped) == nil && wrapped.Selections != nil {
		raw = wrapped.Selections
	}
	return sealbox.DecodeSelections(raw)
}

func actionVoterVote(c *cli.Context) error {
	electionID, filename := c.Args().Get(0), c.Args().Get(1)
	if electionID == "" || filename == "" {
		return errors.New("Please specify an election id and a ballot file to cast")
	}
	voterID := c.GlobalString("voter")
	if voterID == "" {
		return errors.New("Please specify the voter with --voter (eg: `--voter=v-001`)")
	}

	selections, err := readBallotFile(filename)
	if err != nil {
		return err
	}

	result, err := BallotBoxClient.Vote(electionID, voterID, selections)
	if rej, ok := sealbox.AsRejection(err); ok && rej.Reason == sealbox.AlreadyVoted {
		fmt.Fprintln(c.App.Writer, "already voted, vote token:", rej.VoteToken)
		return err
	}
	if err != nil {
		return err
	}

	fmt.Fprintln(c.App.Writer, "vote token:       ", result.VoteToken)
	fmt.Fprintln(c.App.Writer, "verification code:", result.VerificationCode)
	fmt.Fprintln(c.App.Writer, "cast at:          ", result.CastAt.Format("2006-01-02 15:04:05 MST"))
	return nil
}

func actionVoterReceipt(c *cli.Context) error {
	electionID, voteToken := c.Args().Get(0), c.Args().Get(1)
	if electionID == "" {
		return errors.New("Please specify an election id")
	}
	voterID := c.GlobalString("voter")
	if voterID == "" {
		return errors.New("Please specify the voter with --voter (eg: `--voter=v-001`)")
	}

	receipt, err := BallotBoxClient.Receipt(electionID, voterID, voteToken)
	if err != nil {
		return err
	}

	// The code is recomputed locally so a receipt cannot vouch for itself
	if code := sealbox.VerificationCode(receipt.VoteToken); code != receipt.VerificationCode {
		return errors.Newf("Verification code mismatch: receipt says %s, token gives %s", receipt.VerificationCode, code)
	}

	w := c.App.Writer
	fmt.Fprintln(w, receipt.ElectionTitle)
	fmt.Fprintln(w, "vote token:       ", receipt.VoteToken)
	fmt.Fprintln(w, "verification code:", receipt.VerificationCode)
	fmt.Fprintln(w, "verification hash:", receipt.VerificationHash)
	for _, sel := range receipt.Selections {
		fmt.Fprintf(w, "  %s: %s\n", sel.PositionTitle, sel.CandidateName)
	}
	if !receipt.Verified() {
		for _, warn := range receipt.Warnings {
			fmt.Fprintf(w, "  WARNING %s/%s: %s\n", warn.PositionID, warn.CandidateID, warn.Problem)
		}
		return errors.Newf("Receipt has %d integrity warnings", len(receipt.Warnings))
	}
	return nil
}
