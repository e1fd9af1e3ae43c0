package redisholder

import (
	"sync/atomic"

	"github.com/redis/go-redis/v9"
)

// clientBox keeps every Store monomorphic: atomic.Value panics when
// consecutive stores carry different concrete types, and a reconnect can
// swap a *redis.ClusterClient for a *redis.Client.
type clientBox struct {
	c redis.UniversalClient
}

// Holder hands out the current redis client and lets the health loop swap
// in a fresh one after a reconnect without the rest of the process noticing.
type Holder struct {
	v atomic.Value // stores clientBox
}

func NewHolder(initial redis.UniversalClient) *Holder {
	h := &Holder{}
	h.v.Store(clientBox{c: initial})
	return h
}

func (h *Holder) Get() redis.UniversalClient {
	box, _ := h.v.Load().(clientBox)
	return box.c
}

func (h *Holder) swap(newc redis.UniversalClient) (old redis.UniversalClient) {
	old = h.Get()
	h.v.Store(clientBox{c: newc})
	return old
}

func (h *Holder) Close() error {
	if c := h.Get(); c != nil {
		return c.Close()
	}
	return nil
}
