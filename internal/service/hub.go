package service

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	outboxSize  = 16
	sendTimeout = 100 * time.Millisecond
)

// Subscription is one live-feed listener registered with a LiveHub.
type Subscription struct {
	hub   *LiveHub
	inbox chan []byte
	id    string
}

func (s *Subscription) ID() string {
	return s.id
}

// Inbox is closed when the subscriber leaves or is dropped for being slow.
func (s *Subscription) Inbox() <-chan []byte {
	return s.inbox
}

func (s *Subscription) Leave() {
	s.hub.logger.WithField("subscriber", s.id).Debug("leaving live feed")
	s.hub.remove(s.id)
}

// LiveHub fans election messages out to every subscriber.
type LiveHub struct {
	outboxes    map[string]chan []byte
	outboxMutex *sync.RWMutex
	logger      *logrus.Logger
}

func NewLiveHub(logger *logrus.Logger) *LiveHub {
	return &LiveHub{
		outboxes:    make(map[string]chan []byte),
		outboxMutex: &sync.RWMutex{},
		logger:      logger,
	}
}

func (h *LiveHub) Subscribe() *Subscription {
	id := uuid.NewString()
	outbox := make(chan []byte, outboxSize)

	h.outboxMutex.Lock()
	h.outboxes[id] = outbox
	h.outboxMutex.Unlock()

	h.logger.WithField("subscriber", id).Debug("joined live feed")
	return &Subscription{
		hub:   h,
		inbox: outbox,
		id:    id,
	}
}

func (h *LiveHub) Count() int {
	h.outboxMutex.RLock()
	defer h.outboxMutex.RUnlock()
	return len(h.outboxes)
}

// Publish delivers msg to every subscriber. Subscribers that cannot take
// the message within sendTimeout are dropped.
func (h *LiveHub) Publish(msg []byte) {
	var stale []string

	h.outboxMutex.RLock()
	h.logger.Debugf("publishing to %d subscribers", len(h.outboxes))
	for id, outbox := range h.outboxes {
		timer := time.NewTimer(sendTimeout)
		select {
		case outbox <- msg:
		case <-timer.C:
			h.logger.WithField("subscriber", id).Info("timed out publishing, dropping subscriber")
			stale = append(stale, id)
		}
		timer.Stop()
	}
	h.outboxMutex.RUnlock()

	for _, id := range stale {
		h.remove(id)
	}
}

func (h *LiveHub) remove(id string) {
	h.outboxMutex.Lock()
	defer h.outboxMutex.Unlock()
	outbox, ok := h.outboxes[id]
	if !ok {
		return
	}
	delete(h.outboxes, id)
	close(outbox)
}
