package relay

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"watchparty/model"
)

const defaultFwdTimeout = time.Second

// Relay owns the wire of every live connection and forwards envelopes
// to specific connections or fans them out to a set of destinations.
// It knows nothing about rooms; callers resolve destination lists.
type Relay struct {
	logger zerolog.Logger
	mx     *sync.RWMutex
	wires  map[string]model.Wire
}

func NewRelay(logger *zerolog.Logger) *Relay {
	return &Relay{
		logger: logger.With().Str("component", "relay").Logger(),
		mx:     &sync.RWMutex{},
		wires:  make(map[string]model.Wire),
	}
}

func (r *Relay) Connect(connID string, wire model.Wire) {
	r.mx.Lock()
	r.wires[connID] = wire
	r.mx.Unlock()
	r.logger.Debug().Str("connID", connID).Msg("wire connected")
}

func (r *Relay) Disconnect(connID string) {
	r.mx.Lock()
	delete(r.wires, connID)
	r.mx.Unlock()
	r.logger.Debug().Str("connID", connID).Msg("wire disconnected")
}

// Send forwards the envelope to a single connection. Unknown or dead
// destinations are dropped, fire-and-forget.
func (r *Relay) Send(ctx context.Context, connID string, env model.Envelope) bool {
	r.mx.RLock()
	wire, ok := r.wires[connID]
	r.mx.RUnlock()

	if !ok {
		r.logger.Debug().
			Str("dst", connID).
			Str("event", env.Event).
			Msg("cannot forward, dst not found")
		return false
	}
	sent, _ := r.push(ctx, wire.TX, connID, env)
	return sent
}

// Broadcast forwards the envelope to every listed destination.
func (r *Relay) Broadcast(ctx context.Context, env model.Envelope, dsts ...string) {
	for _, dst := range dsts {
		r.mx.RLock()
		wire, ok := r.wires[dst]
		r.mx.RUnlock()
		if !ok {
			continue
		}
		if _, canceled := r.push(ctx, wire.TX, dst, env); canceled {
			return
		}
	}
}

func (r *Relay) push(ctx context.Context, tx chan<- model.Envelope, dst string, env model.Envelope) (bool, bool) {
	var sent, canceled bool
	tCh := time.NewTimer(defaultFwdTimeout)
	select {
	case <-ctx.Done():
		canceled = true
	case <-tCh.C:
		r.logger.Error().
			Str("dst", dst).
			Str("event", env.Event).
			Msg("dead endpoint")
	case tx <- env:
		sent = true
	}
	tCh.Stop()
	return sent, canceled
}
