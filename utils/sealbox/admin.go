package main

import (
	"fmt"
	"io/ioutil"

	"github.com/cryptoballot/sealbox/sealbox"
	"github.com/phayes/errors"
	"github.com/urfave/cli"
)

func actionAdminGenerateSecret(c *cli.Context) error {
	filename := c.Args().First()

	secret, err := sealbox.GenerateSecret(c.Int("size"))
	if err != nil {
		return err
	}

	if filename == "" {
		fmt.Fprint(c.App.Writer, secret.PEM())
		return nil
	}
	return ioutil.WriteFile(filename, []byte(secret.PEM()), 0600)
}

func actionAdminBlind(c *cli.Context) error {
	electionID, voterID := c.Args().Get(0), c.Args().Get(1)
	if electionID == "" || voterID == "" {
		return errors.New("Please specify an election id and a voter id")
	}

	if PseudonymKey == nil {
		return errors.New("Please specify the pseudonym-key pem file with --key (eg: `--key=path/to/pseudonym.pem`)")
	}

	pseudonymizer, err := sealbox.NewPseudonymizer(PseudonymKey)
	if err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, pseudonymizer.Blind(voterID, electionID))
	return nil
}
