package webtest

import (
	"github.com/cryptoballot/sealbox/clients/ballotbox"
	"github.com/cryptoballot/sealbox/sealbox"
	"github.com/phayes/errors"
)

func testEndToEnd(baseURL string) {
	client := ballotbox.NewClient(baseURL)

	selections := []sealbox.Selection{
		{PositionID: "chair", CandidateIDs: []string{"santa"}},
		{PositionID: "board", CandidateIDs: []string{"krampus", "sandman"}},
	}

	// Cast a ballot
	result, err := client.Vote(testElection, "voter-1", selections)
	if err != nil {
		Fail(err)
	}
	if !sealbox.ValidVoteToken.MatchString(result.VoteToken) {
		Fail("Invalid vote token ", result.VoteToken)
	}

	// A second ballot must be refused and point at the first
	_, err = client.Vote(testElection, "voter-1", selections)
	rej, ok := sealbox.AsRejection(err)
	if !ok || rej.Reason != sealbox.AlreadyVoted {
		Fail("Expected AlreadyVoted, got ", err)
	}
	if rej.VoteToken != result.VoteToken {
		Fail("AlreadyVoted token ", rej.VoteToken, " != ", result.VoteToken)
	}

	// Invalid ballots are refused without being stored
	_, err = client.Vote(testElection, "voter-2", []sealbox.Selection{{PositionID: "chair", CandidateIDs: []string{"santa", "fairy"}}})
	if rej, ok := sealbox.AsRejection(err); !ok || rej.Reason != sealbox.TooManyChoices {
		Fail("Expected TooManyChoices, got ", err)
	}
	_, err = client.Receipt(testElection, "voter-2", "")
	if !errors.IsA(err, sealbox.ErrNotFound) {
		Fail("Expected no ballot for voter-2, got ", err)
	}

	// Fetch and check the receipt
	receipt, err := client.Receipt(testElection, "voter-1", "")
	if err != nil {
		Fail(err)
	}
	if !receipt.Verified() {
		Fail("Receipt has warnings: ", receipt.Warnings)
	}
	if receipt.VoteToken != result.VoteToken || len(receipt.Selections) != 3 {
		Fail("Receipt does not match ballot")
	}
	if receipt.VerificationHash != sealbox.VerificationHash(result.VoteToken, testElection, "voter-1") {
		Fail("Receipt verification hash mismatch")
	}

	// Audit the verification code
	code, err := client.Code(result.VoteToken)
	if err != nil {
		Fail(err)
	}
	if code != sealbox.VerificationCode(result.VoteToken) || code != result.VerificationCode {
		Fail("Verification code mismatch")
	}
}
