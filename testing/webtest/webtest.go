// Package webtest boots a compiled ballotbox server and drives it over HTTP.
// It is opt-in: set SEALBOX_WEBTEST=1 to run it.
package webtest

import (
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

var (
	ballotboxCmd *exec.Cmd
	workDir      string
	dropDB       string
	once         sync.Once
)

// Fail cleans up then exits
func Fail(v ...interface{}) {
	once.Do(func() {
		Cleanup()
		log.Fatal().Msg(fmt.Sprint(v...))
	})
}

// Success is called when we've successfully completed the test
func Success() {
	time.Sleep(2 * time.Second) // Give running processes a little time to fail before we declare victory
	fmt.Println("Success!")
	once.Do(func() {
		Cleanup()
	})
}

// Cleanup kills the ballotbox process, drops the database, and removes the compiled binary and config directory.
func Cleanup() {
	// Kill long-running processes
	if ballotboxCmd != nil && ballotboxCmd.Process != nil {
		ballotboxCmd.Process.Kill()
	}

	if dropDB != "" {
		cmd := exec.Command("dropdb", "--host=localhost", "--username=postgres", "--port="+postgresPort(), "--if-exists", dropDB)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		if err := cmd.Run(); err != nil {
			log.Error().Err(err).Msg("dropdb")
		}
	}

	os.Remove("ballotbox")
	if workDir != "" {
		os.RemoveAll(workDir)
	}
}

// Run a command, piping the results to stderr and stdout.
// Fatally fail if the command fails in any way
// This function will return before the command finishes running
func runCommand(name string, args ...string) *exec.Cmd {
	cmd := exec.Command(name, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	err := cmd.Start()
	if err != nil {
		Fail(err)
	}
	go func() {
		err := cmd.Wait()
		if err != nil {
			Fail(name, ": ", err)
		}
	}()
	return cmd
}

// runCommandSync runs a command syncronously, waiting until it is done.
func runCommandSync(name string, args ...string) {
	cmd := exec.Command(name, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	err := cmd.Run()
	if err != nil {
		Fail(name, ": ", err)
	}
}

func postgresPort() string {
	if port := os.Getenv("SEALBOX_WEBTEST_PGPORT"); port != "" {
		return port
	}
	return "5432"
}
