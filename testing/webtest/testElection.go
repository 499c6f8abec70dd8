package webtest

import (
	"context"
	"database/sql"
	"io/ioutil"
	"path/filepath"

	"github.com/cryptoballot/sealbox/pgstore"
	"github.com/cryptoballot/sealbox/sealbox"
)

const (
	testPort     = "8093"
	testElection = "webtest-2026"
)

const testFixtures = `{"elections": [
  {"id": "webtest-2026", "status": "ongoing", "tags": {"title": "Web Test Election"},
   "positions": [
     {"id": "chair", "title": "Chair", "maxChoices": 1,
      "candidates": [{"id": "santa", "name": "Santa Clause"}, {"id": "fairy", "name": "Tooth Fairy"}]},
     {"id": "board", "title": "Board", "maxChoices": 2,
      "candidates": [{"id": "krampus", "name": "Krampus"}, {"id": "bunny", "name": "Easter Bunny"}, {"id": "sandman", "name": "Sandman"}]}
   ],
   "voters": ["voter-1", "voter-2", "voter-3"]}
]}`

// writeTestElection writes the readme, secrets, fixtures and a ballotbox.conf into dir.
// database is either "memory" or the name of a postgres database.
func writeTestElection(dir string, database string) (confPath string) {
	pseudonymKey, err := sealbox.GenerateSecret(32)
	if err != nil {
		Fail(err)
	}
	masterKey, err := sealbox.GenerateSecret(32)
	if err != nil {
		Fail(err)
	}

	dbSection := "driver = memory\nfixtures = fixtures.json\n"
	if database != "memory" {
		dbSection = "driver = postgres\nhost = localhost\nport = " + postgresPort() + "\nuser = postgres\npassword = postgres\ndbname = " + database + "\nsslmode = disable\n"
	}

	files := map[string]string{
		"readme.md":      "# Web Test Ballot Box\n",
		"fixtures.json":  testFixtures,
		"pseudonym.pem":  pseudonymKey.PEM(),
		"master.pem":     masterKey.PEM(),
		"ballotbox.conf": "port = " + testPort + "\nreadme = readme.md\nlog-level = debug\n\n[database]\n" + dbSection + "\n[secrets]\npseudonym-key = pseudonym.pem\nmaster-key = master.pem\n",
	}
	for name, content := range files {
		if err := ioutil.WriteFile(filepath.Join(dir, name), []byte(content), 0600); err != nil {
			Fail(err)
		}
	}
	return filepath.Join(dir, "ballotbox.conf")
}

// seedPostgres loads the same election as testFixtures into a postgres database
func seedPostgres(database string) {
	db, err := sql.Open("postgres", "host=localhost port="+postgresPort()+" user=postgres password=postgres dbname="+database+" sslmode=disable")
	if err != nil {
		Fail(err)
	}
	defer db.Close()

	ctx := context.Background()
	store := pgstore.New(db)
	err = store.PutElection(ctx,
		sealbox.ElectionWindow{ElectionID: testElection, Status: sealbox.StatusOngoing, Tags: map[string]string{"title": "Web Test Election"}},
		sealbox.BallotSchema{Positions: []sealbox.Position{
			{ID: "chair", Title: "Chair", MaxChoices: 1, Candidates: []sealbox.Candidate{{ID: "santa", Name: "Santa Clause"}, {ID: "fairy", Name: "Tooth Fairy"}}},
			{ID: "board", Title: "Board", MaxChoices: 2, Candidates: []sealbox.Candidate{{ID: "krampus", Name: "Krampus"}, {ID: "bunny", Name: "Easter Bunny"}, {ID: "sandman", Name: "Sandman"}}},
		}},
	)
	if err != nil {
		Fail(err)
	}
	if err := store.AddEligible(ctx, testElection, "voter-1", "voter-2", "voter-3"); err != nil {
		Fail(err)
	}
}
