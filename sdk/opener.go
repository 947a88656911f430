package warmline

import (
	"context"
	"sync"

	"github.com/warmline/warmline/pkg/core/persona"
)

// OpenerCache holds at most one pre-generated opening line, keyed by
// persona. The opener is fetched speculatively while the phone is still
// "ringing" so it can play the instant the call connects. Take consumes
// the slot: a cached opener plays at most once.
type OpenerCache struct {
	mu      sync.Mutex
	persona persona.ID
	result  *TurnResult
}

// Put stores an opener for the persona, replacing any previous slot.
func (c *OpenerCache) Put(id persona.ID, result *TurnResult) {
	if result == nil || result.Empty() {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.persona = id
	c.result = result
}

// Take returns the cached opener for the persona and empties the slot.
// A miss (wrong persona or already consumed) returns nil.
func (c *OpenerCache) Take(id persona.ID) *TurnResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.result == nil || c.persona != id {
		return nil
	}
	r := c.result
	c.result = nil
	return r
}

// Invalidate empties the slot.
func (c *OpenerCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.result = nil
}

// Prefetch generates and caches the persona's opener. Errors are
// swallowed: the opener is a latency optimization, and the call path
// fetches one on demand when the cache misses.
func (c *OpenerCache) Prefetch(ctx context.Context, turner Turner, id persona.ID, openerText string) {
	result, err := turner.ProcessTurn(ctx, TurnRequest{
		Persona:        id,
		GenerateOpener: true,
		OpenerText:     openerText,
	})
	if err != nil {
		return
	}
	c.Put(id, result)
}
