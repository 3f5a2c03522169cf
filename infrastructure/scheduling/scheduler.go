// Package scheduling runs the process-wide keep-alive loop. One
// goroutine maintains a balanced tree of per-client deadline records
// sorted by next event, so emitting pings and enforcing idle timeouts
// across thousands of connections costs O(log N) per state change.
package scheduling

import (
	"bytes"
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gitlab.com/yawning/avl.git"

	"portlink/settings"
)

// Peer is a scheduled connection. The scheduler holds the record, never
// the other way around: registration is a one-way call and the record is
// dropped on unregister.
type Peer interface {
	ID() uuid.UUID
	SendKeepAlive() error
	DisconnectIdle()
}

// idlePoll is how long the loop sleeps when no clients are registered.
const idlePoll = 50 * time.Millisecond

// keepAliveJitterMax desynchronizes ping schedules across many clients
// that went idle at the same moment.
const keepAliveJitterMax = 250 * time.Millisecond

type record struct {
	peer         Peer
	lastSent     time.Time
	lastReceived time.Time
	node         *avl.Node
}

type KeepAliveScheduler struct {
	mu    sync.Mutex
	tree  *avl.Tree
	index map[uuid.UUID]*record

	interval time.Duration
	timeout  time.Duration

	wake chan struct{}
}

func NewKeepAliveScheduler(cfg settings.KeepAliveSettings) (*KeepAliveScheduler, error) {
	if !cfg.Valid() {
		return nil, errors.New("keep-alive interval must be positive and below the timeout")
	}

	s := &KeepAliveScheduler{
		index:    make(map[uuid.UUID]*record),
		interval: cfg.Interval,
		timeout:  cfg.Timeout,
		wake:     make(chan struct{}, 1),
	}
	s.tree = avl.New(func(a, b interface{}) int {
		ra, rb := a.(*record), b.(*record)
		ea, eb := s.nextEvent(ra), s.nextEvent(rb)
		switch {
		case ea.Before(eb):
			return -1
		case ea.After(eb):
			return 1
		}
		idA, idB := ra.peer.ID(), rb.peer.ID()
		return bytes.Compare(idA[:], idB[:])
	})
	return s, nil
}

// nextEvent is the earlier of "ping due" and "idle timeout due".
func (s *KeepAliveScheduler) nextEvent(r *record) time.Time {
	ping := r.lastSent.Add(s.interval)
	timeout := r.lastReceived.Add(s.timeout)
	if ping.Before(timeout) {
		return ping
	}
	return timeout
}

func (s *KeepAliveScheduler) Register(peer Peer) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.index[peer.ID()]; exists {
		return
	}
	now := time.Now()
	r := &record{peer: peer, lastSent: now, lastReceived: now}
	r.node = s.tree.Insert(r)
	s.index[peer.ID()] = r
	s.notify()
}

func (s *KeepAliveScheduler) Unregister(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, exists := s.index[id]
	if !exists {
		return
	}
	delete(s.index, id)
	s.tree.Remove(r.node)
}

func (s *KeepAliveScheduler) UpdateLastSent(id uuid.UUID) {
	s.updateRecord(id, func(r *record) { r.lastSent = time.Now() })
}

func (s *KeepAliveScheduler) UpdateLastReceived(id uuid.UUID) {
	s.updateRecord(id, func(r *record) { r.lastReceived = time.Now() })
}

// updateRecord re-sorts in O(log N): the tree orders by a derived key,
// so the record must leave the tree while its fields change.
func (s *KeepAliveScheduler) updateRecord(id uuid.UUID, mutate func(*record)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, exists := s.index[id]
	if !exists {
		return
	}
	s.tree.Remove(r.node)
	mutate(r)
	r.node = s.tree.Insert(r)
}

func (s *KeepAliveScheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tree.Len()
}

// notify nudges Run out of its sleep when a new record may front-run the
// deadline it is sleeping toward. Callers hold s.mu.
func (s *KeepAliveScheduler) notify() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Run drives the loop until the context is cancelled. Sends and
// disconnects are dispatched on their own goroutines so the loop never
// blocks on I/O.
func (s *KeepAliveScheduler) Run(ctx context.Context) {
	for {
		delay := s.nextDelay()
		if delay > 0 {
			select {
			case <-ctx.Done():
				return
			case <-s.wake:
			case <-time.After(delay):
			}
			continue
		}

		select {
		case <-ctx.Done():
			return
		default:
		}
		s.drainDue()
	}
}

func (s *KeepAliveScheduler) nextDelay() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	node := s.tree.Iterator(avl.Forward).First()
	if node == nil {
		return idlePoll
	}
	return time.Until(s.nextEvent(node.Value.(*record)))
}

// drainDue pops records until the earliest deadline is in the future.
func (s *KeepAliveScheduler) drainDue() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		node := s.tree.Iterator(avl.Forward).First()
		if node == nil {
			return
		}
		r := node.Value.(*record)
		now := time.Now()
		if s.nextEvent(r).After(now) {
			return
		}

		s.tree.Remove(r.node)

		if now.Sub(r.lastReceived) >= s.timeout {
			delete(s.index, r.peer.ID())
			log.Debug().Str("client", r.peer.ID().String()).Msg("keep-alive timeout")
			go r.peer.DisconnectIdle()
			continue
		}

		go func(peer Peer) {
			if err := peer.SendKeepAlive(); err != nil {
				log.Debug().Err(err).Str("client", peer.ID().String()).Msg("keep-alive send failed")
			}
		}(r.peer)
		r.lastSent = now.Add(time.Duration(rand.Int63n(int64(keepAliveJitterMax))))
		r.node = s.tree.Insert(r)
	}
}
