package main

import (
	"fmt"
	"os"

	"github.com/cryptoballot/sealbox/clients/ballotbox"
	"github.com/cryptoballot/sealbox/sealbox"
	"github.com/phayes/decryptpem"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli"
)

// Version specifies the version of this binary
var Version = "0.2"

// BallotBoxClient is used to connect to ballotbox server
var BallotBoxClient *ballotbox.Client

// PseudonymKey for operations that need the server's pseudonymization secret
var PseudonymKey sealbox.Secret

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	err := newApp().Run(os.Args)
	if err != nil {
		log.Fatal().Err(err).Msg("sealbox")
	}
}

func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = "sealbox"
	app.Usage = "cast, verify and audit sealed ballots"

	// Global options
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:   "ballotbox",
			Value:  "http://localhost:8003",
			Usage:  "base URL of the ballotbox server",
			EnvVar: "SEALBOX_BALLOTBOX",
		},
		cli.StringFlag{
			Name:   "voter",
			Value:  "",
			Usage:  "voter id sent as X-Voter-ID (normally set by the authentication gateway)",
			EnvVar: "SEALBOX_VOTER",
		},
		cli.StringFlag{
			Name:  "key",
			Value: "",
			Usage: "pseudonym-key pem file, for admin operations",
		},
	}

	// Commands
	app.Commands = []cli.Command{
		{
			Name:  "voter",
			Usage: "vote in an election and check the receipt",
			Subcommands: []cli.Command{
				{
					Name:      "vote",
					Usage:     "cast a ballot",
					Action:    actionVoterVote,
					ArgsUsage: "[election-id] [ballotfile]",
				},
				{
					Name:      "receipt",
					Usage:     "fetch and check the receipt for a cast ballot",
					Action:    actionVoterReceipt,
					ArgsUsage: "[election-id] [vote-token]",
				},
			},
		},
		{
			Name:  "audit",
			Usage: "check published vote tokens",
			Subcommands: []cli.Command{
				{
					Name:      "code",
					Usage:     "derive the verification code for a vote token",
					Action:    actionAuditCode,
					ArgsUsage: "[vote-token]",
					Flags: []cli.Flag{
						cli.BoolFlag{
							Name:  "remote",
							Usage: "also ask the ballotbox server and compare",
						},
					},
				},
			},
		},
		{
			Name:  "admin",
			Usage: "perform operator tasks",
			Subcommands: []cli.Command{
				{
					Name:      "generate-secret",
					Usage:     "write a new pseudonym-key or master-key pem file",
					Action:    actionAdminGenerateSecret,
					ArgsUsage: "[pemfile]",
					Flags: []cli.Flag{
						cli.IntFlag{
							Name:  "size",
							Value: sealbox.MinSecretSize,
							Usage: "secret size in bytes",
						},
					},
				},
				{
					Name:      "blind",
					Usage:     "print the blinded voter id stored for a voter (requires --key)",
					Action:    actionAdminBlind,
					ArgsUsage: "[election-id] [voter-id]",
				},
			},
		},
		{
			Name:  "version",
			Usage: "print version",
			Action: func(c *cli.Context) error {
				fmt.Fprintln(c.App.Writer, Version)
				return nil
			},
		},
	}

	// Set up connections to services
	app.Before = func(c *cli.Context) error {
		BallotBoxClient = ballotbox.NewClient(c.String("ballotbox"))

		// Pseudonym Key
		PseudonymKey = nil
		if c.String("key") != "" {

			// Decrypt it as needed
			pem, err := decryptpem.DecryptFileWithPrompt(c.String("key"))
			if err != nil {
				return err
			}

			PseudonymKey, err = sealbox.NewSecretFromBlock(pem)
			if err != nil {
				return err
			}
		}

		return nil
	}

	app.Version = Version
	return app
}
