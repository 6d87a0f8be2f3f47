package keymanager

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// DefaultKeyIDPrefix is the prefix of generated key ids.
const DefaultKeyIDPrefix = "weticket_key"

// KeyIDGenerator hands out <prefix>_<unix-nanos> ids that strictly increase
// within the process, even when the clock stalls or steps back.
type KeyIDGenerator struct {
	prefix string
	now    func() time.Time

	mu   sync.Mutex
	last int64
}

// NewKeyIDGenerator returns a generator for prefix.
func NewKeyIDGenerator(prefix string) *KeyIDGenerator {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = DefaultKeyIDPrefix
	}

	return &KeyIDGenerator{prefix: prefix, now: time.Now}
}

// Next returns a fresh key id.
func (g *KeyIDGenerator) Next() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	n := g.now().UnixNano()
	if n <= g.last {
		n = g.last + 1
	}
	g.last = n

	return fmt.Sprintf("%s_%d", g.prefix, n)
}
