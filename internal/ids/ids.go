// Package ids generates the identifiers used outside of plain uuid primary keys:
// time-sortable ledger ids and compact signing key ids.
package ids

import (
	"errors"
	"fmt"
	mathrand "math/rand"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)

	nodeMu sync.Mutex
	node   *snowflake.Node
)

// ErrEventTimeOutOfRange is returned for instants a ULID cannot encode.
var ErrEventTimeOutOfRange = errors.New("ids: event time outside the ulid range")

// ValidEventTime reports whether t can stamp a ledger id: not before the Unix epoch and
// not past the ULID 48-bit millisecond limit.
func ValidEventTime(t time.Time) bool {
	ms := t.UnixMilli()
	return ms >= 0 && uint64(ms) <= ulid.MaxTime()
}

// NewEventIDAt returns a ULID stamped with t, so ledger rows sort by when they happened.
func NewEventIDAt(t time.Time) (string, error) {
	if !ValidEventTime(t) {
		return "", fmt.Errorf("%w: %s", ErrEventTimeOutOfRange, t.UTC().Format(time.RFC3339Nano))
	}
	entropyMu.Lock()
	defer entropyMu.Unlock()
	id, err := ulid.New(ulid.Timestamp(t), entropy)
	if err != nil {
		return "", fmt.Errorf("ids: new event id: %w", err)
	}
	return id.String(), nil
}

// ConfigureNode sets the snowflake node used for key ids. Each replica should use its own node.
func ConfigureNode(nodeID int64) error {
	n, err := snowflake.NewNode(nodeID)
	if err != nil {
		return fmt.Errorf("ids: snowflake node %d: %w", nodeID, err)
	}
	nodeMu.Lock()
	node = n
	nodeMu.Unlock()
	return nil
}

// NewKeyID returns a short, unique signing key identifier ("kid").
func NewKeyID() string {
	nodeMu.Lock()
	if node == nil {
		// node 1 is valid, so this cannot fail
		node, _ = snowflake.NewNode(1)
	}
	n := node
	nodeMu.Unlock()
	return "k" + n.Generate().Base58()
}
