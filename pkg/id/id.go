// Package id generates order ids and account tokens.
package id

import (
	cryptoRand "crypto/rand"
	"encoding/binary"
	"io"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// DefaultTokenLength is the account token length when none is configured.
const DefaultTokenLength = 20

var (
	mu   sync.Mutex
	mono io.Reader
)

func init() {
	var seed int64
	_ = binary.Read(cryptoRand.Reader, binary.LittleEndian, &seed)
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	mono = ulid.Monotonic(rand.New(rand.NewSource(seed)), 0)
}

// New returns an order id stamped with the current time.
func New() string {
	return At(time.Now())
}

// At returns an order id stamped with t. Ids drawn within the same
// millisecond still sort in the order they were drawn, so a backtest clock
// yields ids that sort by simulated time.
func At(t time.Time) string {
	mu.Lock()
	defer mu.Unlock()

	id, err := ulid.New(ulid.Timestamp(t.UTC()), mono)
	if err != nil {
		// only on entropy overflow within one millisecond
		panic(err)
	}
	return id.String()
}

// Time recovers the timestamp of an order id.
func Time(s string) (time.Time, error) {
	id, err := ulid.ParseStrict(s)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(id.Time()), nil
}

// Token returns a random account token of n lowercase hex characters.
// n <= 0 means DefaultTokenLength; n is capped at 64.
func Token(n int) string {
	if n <= 0 {
		n = DefaultTokenLength
	}
	var b strings.Builder
	for b.Len() < n {
		b.WriteString(strings.ReplaceAll(uuid.NewString(), "-", ""))
		if b.Len() >= 64 {
			break
		}
	}
	s := b.String()
	if n > len(s) {
		n = len(s)
	}
	return s[:n]
}
