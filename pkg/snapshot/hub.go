package snapshot

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vibetunnel/vtd/pkg/fanout"
	"github.com/vibetunnel/vtd/pkg/session"
	"github.com/vibetunnel/vtd/pkg/terminal"
)

// coalesceInterval caps snapshot emission to ~30 Hz per session.
const coalesceInterval = time.Second / 30

// Hub multiplexes every session's buffer-snapshot stream onto whichever
// clients have subscribed, over a single shared WebSocket per client
// connection.
type Hub struct {
	mgr    *session.Manager
	logger *zap.Logger

	mu    sync.Mutex
	feeds map[string]*feed
}

// NewHub constructs a Hub backed by a session Manager.
func NewHub(mgr *session.Manager, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{mgr: mgr, logger: logger, feeds: make(map[string]*feed)}
}

// feed is the per-session terminal buffer plus its set of subscribed
// clients and the journal tail feeding it.
type feed struct {
	sessionID string
	buf       *terminal.TerminalBuffer
	decoder   *streamDecoder

	mu      sync.Mutex
	clients map[*Client]bool

	coalesceMu sync.Mutex
	timer      *time.Timer
	pending    bool

	stop func()
}

// Subscribe attaches client to sessionID's feed, starting the feed if
// this is the first subscriber, and immediately pushes a catch-up
// snapshot so a client that joins after many updates still sees current
// state before the live stream continues.
func (h *Hub) Subscribe(client *Client, sessionID string) {
	f, ok := h.getOrCreateFeed(sessionID)
	if !ok {
		return // unknown session id: silently ignored
	}
	f.mu.Lock()
	f.clients[client] = true
	f.mu.Unlock()

	snap := f.buf.GetSnapshot()
	client.send(buildFrame(sessionID, snap.SerializeToBinary()))
}

// Unsubscribe detaches client from sessionID's feed.
func (h *Hub) Unsubscribe(client *Client, sessionID string) {
	h.mu.Lock()
	f, ok := h.feeds[sessionID]
	h.mu.Unlock()
	if !ok {
		return
	}
	f.mu.Lock()
	delete(f.clients, client)
	empty := len(f.clients) == 0
	f.mu.Unlock()
	if empty {
		h.mu.Lock()
		delete(h.feeds, sessionID)
		h.mu.Unlock()
		f.stop()
	}
}

// RemoveClient detaches client from every feed it had subscribed to;
// called when its WebSocket connection closes.
func (h *Hub) RemoveClient(client *Client) {
	h.mu.Lock()
	ids := make([]string, 0, len(h.feeds))
	for id := range h.feeds {
		ids = append(ids, id)
	}
	h.mu.Unlock()
	for _, id := range ids {
		h.Unsubscribe(client, id)
	}
}

func (h *Hub) getOrCreateFeed(sessionID string) (*feed, bool) {
	h.mu.Lock()
	if f, ok := h.feeds[sessionID]; ok {
		h.mu.Unlock()
		return f, true
	}
	h.mu.Unlock()

	s, err := h.mgr.Get(sessionID)
	if err != nil {
		return nil, false
	}

	sub, err := h.mgr.SubscribeText(sessionID, 0)
	if err != nil {
		h.logger.Warn("snapshot: subscribe to journal failed", zap.String("session_id", sessionID), zap.Error(err))
		return nil, false
	}

	buf := terminal.NewTerminalBuffer(s.Info().Cols, s.Info().Rows)
	f := &feed{
		sessionID: sessionID,
		buf:       buf,
		decoder:   newStreamDecoder(buf),
		clients:   make(map[*Client]bool),
	}

	done := make(chan struct{})
	var once sync.Once
	f.stop = func() {
		once.Do(func() {
			close(done)
			sub.Close()
		})
	}

	go h.tail(f, sub, done)

	h.mu.Lock()
	h.feeds[sessionID] = f
	h.mu.Unlock()
	return f, true
}

// tail drains the journal subscription's raw stream.log bytes into the
// feed's decoder, scheduling a coalesced snapshot emission on every
// chunk that changes visible state.
func (h *Hub) tail(f *feed, sub *fanout.Subscription, done chan struct{}) {
	defer sub.Close()
	for {
		select {
		case <-done:
			return
		case chunk, ok := <-sub.Chunks:
			if !ok {
				return
			}
			f.decoder.feed(chunk)
			h.scheduleNotify(f)
		case err, ok := <-sub.Err:
			if ok {
				h.logger.Debug("snapshot: journal tail ended", zap.String("session_id", f.sessionID), zap.Error(err))
			}
			return
		}
	}
}

func (h *Hub) scheduleNotify(f *feed) {
	f.coalesceMu.Lock()
	defer f.coalesceMu.Unlock()
	if f.pending {
		return
	}
	f.pending = true
	f.timer = time.AfterFunc(coalesceInterval, func() {
		f.coalesceMu.Lock()
		f.pending = false
		f.coalesceMu.Unlock()
		h.emit(f)
	})
}

func (h *Hub) emit(f *feed) {
	snap := f.buf.GetSnapshot()
	frame := buildFrame(f.sessionID, snap.SerializeToBinary())

	f.mu.Lock()
	clients := make([]*Client, 0, len(f.clients))
	for c := range f.clients {
		clients = append(clients, c)
	}
	f.mu.Unlock()

	for _, c := range clients {
		c.send(frame)
	}
}
