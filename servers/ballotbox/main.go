package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/cryptoballot/sealbox/sealbox"
	"github.com/cryptoballot/sealbox/spool"
	"github.com/knieriem/markdown"
	"github.com/rs/zerolog/log"
)

var (
	conf       config
	store      sealbox.Store
	submitter  *sealbox.Submitter
	receipts   *sealbox.ReceiptService
	dispatcher *spool.Dispatcher
)

type parseError struct {
	Err  string
	Code int
}

func (err parseError) Error() string {
	return err.Err
}

func main() {
	// Bootstrap parses flags and config files, and set's up the store and sealing services
	bootstrap()

	if dispatcher != nil {
		go dispatcher.Run(context.Background())
	}

	//@@TODO SSL only
	log.Info().Int("port", conf.port).Msg("Listening")

	err := http.ListenAndServe(":"+strconv.Itoa(conf.port), routes())
	if err != nil {
		log.Fatal().Err(err).Msg("Error starting http server")
	}
}

func routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/vote/", voteHandler)
	mux.HandleFunc("/receipt/", receiptHandler)
	mux.HandleFunc("/code/", codeHandler)
	mux.HandleFunc("/", rootHandler)
	return mux
}

// Print the readme
func rootHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	p := markdown.NewParser(&markdown.Extensions{Smart: true})
	out := bufio.NewWriter(w)
	p.Markdown(bytes.NewReader(conf.readme), markdown.ToHTML(out))
	out.Flush()
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(body)
}
