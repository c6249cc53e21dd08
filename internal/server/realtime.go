package server

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

const (
	RealtimeEventRecordsChanged = "records-change"
	// RealtimeEventResync tells a lagging stream that changes were lost and a full sync is due.
	RealtimeEventResync       = "records-resync"
	realtimeEventHeartbeat    = "heartbeat"
	realtimeSourceBackend     = "buzznotes-api"
	realtimeHeartbeatInterval = 25 * time.Second
	realtimeStreamBuffer      = 16
)

// RealtimeMessage announces that rows of one table changed for a user.
type RealtimeMessage struct {
	UserID    string
	EventType string
	Table     string
	Operation string
	RecordIDs []string
	Timestamp time.Time
}

// RealtimeDispatcher fans record changes out to the open event streams of each user.
type RealtimeDispatcher struct {
	mu       sync.RWMutex
	streams  map[string]map[uint64]*changeStream
	sequence atomic.Uint64
}

type changeStream struct {
	userID string
	events chan RealtimeMessage
	mu     sync.Mutex
}

func NewRealtimeDispatcher() *RealtimeDispatcher {
	return &RealtimeDispatcher{streams: make(map[string]map[uint64]*changeStream)}
}

// Subscribe opens a stream for userID. The stream is detached when ctx ends or the
// returned cancel func runs, whichever comes first. A blank userID yields a closed stream.
func (d *RealtimeDispatcher) Subscribe(ctx context.Context, userID string) (<-chan RealtimeMessage, func()) {
	if userID == "" {
		closed := make(chan RealtimeMessage)
		close(closed)
		return closed, func() {}
	}

	stream := &changeStream{userID: userID, events: make(chan RealtimeMessage, realtimeStreamBuffer)}
	streamID := d.sequence.Add(1)

	d.mu.Lock()
	userStreams, ok := d.streams[userID]
	if !ok {
		userStreams = make(map[uint64]*changeStream)
		d.streams[userID] = userStreams
	}
	userStreams[streamID] = stream
	d.mu.Unlock()

	var detachOnce sync.Once
	detach := func() {
		detachOnce.Do(func() { d.detach(userID, streamID) })
	}
	stopWatch := context.AfterFunc(ctx, detach)
	return stream.events, func() {
		stopWatch()
		detach()
	}
}

// Publish hands message to every stream of its user without blocking.
func (d *RealtimeDispatcher) Publish(message RealtimeMessage) {
	if message.UserID == "" || message.EventType == "" {
		return
	}
	for _, stream := range d.snapshot(message.UserID) {
		stream.offer(message)
	}
}

// SubscriberCount reports the open streams of userID.
func (d *RealtimeDispatcher) SubscriberCount(userID string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.streams[userID])
}

func (d *RealtimeDispatcher) snapshot(userID string) []*changeStream {
	d.mu.RLock()
	defer d.mu.RUnlock()
	userStreams := d.streams[userID]
	streams := make([]*changeStream, 0, len(userStreams))
	for _, stream := range userStreams {
		streams = append(streams, stream)
	}
	return streams
}

func (d *RealtimeDispatcher) detach(userID string, streamID uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	userStreams := d.streams[userID]
	delete(userStreams, streamID)
	if len(userStreams) == 0 {
		delete(d.streams, userID)
	}
}

// offer enqueues message. A full buffer is replaced by a single resync marker so
// the reader learns it missed changes instead of silently diverging.
func (s *changeStream) offer(message RealtimeMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case s.events <- message:
		return
	default:
	}
	for drained := false; !drained; {
		select {
		case <-s.events:
		default:
			drained = true
		}
	}
	s.events <- RealtimeMessage{
		UserID:    s.userID,
		EventType: RealtimeEventResync,
		Timestamp: message.Timestamp,
	}
}
