package sealbox

//go:generate mockgen -source=Notifier.go -destination=mock_notifier_test.go -package=sealbox_test

import (
	"context"
	"time"
)

// ReceiptNotice asks for a receipt to be sent to a voter after their ballot is committed
type ReceiptNotice struct {
	ElectionID       string    `json:"electionId"`
	VoterID          string    `json:"voterId"`
	VoteToken        string    `json:"voteToken"`
	VerificationCode string    `json:"verificationCode"`
	CastAt           time.Time `json:"castAt"`
}

// A Notifier accepts receipt notices for later delivery. Enqueue must not block on delivery.
type Notifier interface {
	Enqueue(ctx context.Context, notice ReceiptNotice) error
}
