package models

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"sync"
	"time"
)

// ErrInvalidID документ имеет id, который не является ни каноническим, ни временным
var ErrInvalidID = errors.New("invalid document id")

const (
	saltSpace   = 1000
	suffixSpace = 1000
)

// ParseID parses a document id. Canonical ids are positive, temporary ids negative.
func ParseID(id string) (int64, error) {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil || n == 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return n, nil
}

// IsTemporaryID reports whether id was generated on a client and not yet
// replaced by a server-assigned one.
func IsTemporaryID(id string) bool {
	n, err := ParseID(id)
	return err != nil || n < 0
}

// NewSalt returns a random per-client salt for the temporary id generator.
func NewSalt() (int64, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(saltSpace))
	if err != nil {
		return 0, fmt.Errorf("failed to generate salt: %w", err)
	}
	return n.Int64(), nil
}

// IDGenerator выдает временные (отрицательные) id документов.
// id = -(мс * 10^6 + salt * 10^3 + случайный суффикс)
type IDGenerator struct {
	now  func() time.Time
	salt int64
	last int64
	mu   sync.Mutex
}

// NewIDGenerator creates a generator bound to the persisted client salt.
func NewIDGenerator(salt int64) *IDGenerator {
	return &IDGenerator{
		now:  time.Now,
		salt: salt % saltSpace,
	}
}

// Next returns a new temporary id. Ids from one generator strictly decrease.
func (g *IDGenerator) Next() (string, error) {
	suffix, err := rand.Int(rand.Reader, big.NewInt(suffixSpace))
	if err != nil {
		return "", fmt.Errorf("failed to generate id suffix: %w", err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	v := g.now().UnixMilli()*saltSpace*suffixSpace + g.salt*suffixSpace + suffix.Int64()
	if v <= g.last {
		v = g.last + 1
	}
	g.last = v

	return strconv.FormatInt(-v, 10), nil
}
