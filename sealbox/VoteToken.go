package sealbox

import (
	"crypto/rand"
	"encoding/hex"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/phayes/errors"
)

const voteTokenPrefix = "vt-"

var (
	ValidVoteToken = regexp.MustCompile(`^vt-[0-9a-z]+-[0-9a-f]{32}$`)

	ErrVoteTokenIssue = errors.New("Could not issue vote token")
)

// TokenIssuer mints vote tokens. A token is a millisecond timestamp in base 36 followed by 122
// random bits, so tokens are neither sequential nor guessable.
type TokenIssuer struct {
	Now  func() time.Time
	Rand io.Reader
}

// Issue returns a fresh vote token
func (ti *TokenIssuer) Issue() (string, error) {
	now := time.Now
	if ti != nil && ti.Now != nil {
		now = ti.Now
	}
	r := rand.Reader
	if ti != nil && ti.Rand != nil {
		r = ti.Rand
	}

	id, err := uuid.NewRandomFromReader(r)
	if err != nil {
		return "", errors.Wrap(ErrVoteTokenIssue, err)
	}

	var b strings.Builder
	b.WriteString(voteTokenPrefix)
	b.WriteString(strconv.FormatInt(now().UnixMilli(), 36))
	b.WriteByte('-')
	b.WriteString(hex.EncodeToString(id[:]))
	return b.String(), nil
}
