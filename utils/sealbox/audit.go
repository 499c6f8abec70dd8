package main

import (
	"fmt"

	"github.com/cryptoballot/sealbox/sealbox"
	"github.com/phayes/errors"
	"github.com/urfave/cli"
)

func actionAuditCode(c *cli.Context) error {
	voteToken := c.Args().First()
	if !sealbox.ValidVoteToken.MatchString(voteToken) {
		return errors.New("Please specify a valid vote token")
	}

	code := sealbox.VerificationCode(voteToken)
	if c.Bool("remote") {
		remote, err := BallotBoxClient.Code(voteToken)
		if err != nil {
			return err
		}
		if remote != code {
			return errors.Newf("Server gave verification code %s, expected %s", remote, code)
		}
	}

	fmt.Fprintln(c.App.Writer, code)
	return nil
}
