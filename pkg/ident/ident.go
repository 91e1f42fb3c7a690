// Package ident generates the client-side identifiers that must never
// collide with server-assigned message ids: temporary message ids for
// optimistic sends and storage keys for attachment uploads.
package ident

import (
	"fmt"
	"sync"
	"time"

	"github.com/ndanh/guildchat/pkg/model"
)

const (
	stepBits = 8
	stepMask = -1 ^ (-1 << stepBits)
)

// Generator produces time-derived ids: the current unix-millisecond
// timestamp shifted left by 8 bits, with the low bits as a per-millisecond
// sequence so two ids minted in the same millisecond stay distinct.
type Generator struct {
	mu   sync.Mutex
	time int64
	step int64
}

func New() *Generator {
	return &Generator{}
}

func (g *Generator) next() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now().UnixMilli()

	if now < g.time {
		// Clock moved backwards, keep the old timestamp
		now = g.time
	}

	if g.time == now {
		g.step = (g.step + 1) & stepMask
		if g.step == 0 {
			for now <= g.time {
				now = time.Now().UnixMilli()
			}
		}
	} else {
		g.step = 0
	}

	g.time = now

	return (now << stepBits) | g.step
}

// AttachmentKey returns a storage key for one uploaded attachment,
// distinct from any message id.
func (g *Generator) AttachmentKey() string {
	return fmt.Sprintf("att-%d", g.next())
}

// TempMessageID returns a temporary id for an optimistic message.
func (g *Generator) TempMessageID() model.MessageID {
	return model.MessageID(fmt.Sprintf("%s%d", model.TempIDPrefix, g.next()))
}
