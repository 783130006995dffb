package feedclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/tradebro/marketfeed/pkg/models"
)

// State is the connection state of the subscription manager.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateStreaming
	StateReconnecting
	StatePolling
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateReconnecting:
		return "reconnecting"
	case StatePolling:
		return "polling"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Defaults for Options fields left zero.
const (
	DefaultReconnectDelay        = 5 * time.Second
	DefaultMaxReconnects         = 5
	DefaultPollInterval          = 5 * time.Second
	DefaultStreamingPollInterval = 60 * time.Second
	DefaultPollTimeout           = 4 * time.Second

	readDeadline = 90 * time.Second
)

// Options configures a Manager. StreamURL and QuotesURL are required; the rest
// fall back to the package defaults.
type Options struct {
	StreamURL string // ws:// or wss:// endpoint of the gateway
	QuotesURL string // http(s):// REST quotes endpoint
	UserID    string // forwarded on the polling path for personalized synthesis

	ReconnectDelay        time.Duration
	MaxReconnects         int
	PollInterval          time.Duration
	StreamingPollInterval time.Duration
	PollTimeout           time.Duration
	DebounceWindow        time.Duration

	// OnBatch is invoked after every coalescer flush with the published batch.
	OnBatch func([]LivePriceEntry)

	Logger     *zap.Logger
	HTTPClient *http.Client
	Dialer     *websocket.Dialer
}

// Manager keeps a set of symbol subscriptions live against the feed gateway.
// It streams over websocket while it can and degrades to REST polling when the
// stream is down; the polling loop also runs at a slow cadence while streaming
// so the table self-heals if trade frames are missed.
type Manager struct {
	opts   Options
	logger *zap.Logger

	table     *Table
	coalescer *Coalescer

	mu       sync.Mutex
	subs     map[string]int // symbol -> refcount
	conn     *websocket.Conn
	attempts int
	// streamEnabled goes false after MaxReconnects consecutive failures and
	// stays false until EnableStreaming.
	streamEnabled bool

	state       atomic.Int32
	lastSuccess atomic.Int64 // unix micro of the last successful poll or frame

	reenable chan struct{}
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	started  bool
	stopOnce sync.Once

	writeMu sync.Mutex
}

// NewManager builds a manager; call Start to begin streaming and polling.
func NewManager(opts Options) (*Manager, error) {
	if opts.StreamURL == "" {
		return nil, fmt.Errorf("feedclient: StreamURL is required")
	}
	if opts.QuotesURL == "" {
		return nil, fmt.Errorf("feedclient: QuotesURL is required")
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = DefaultReconnectDelay
	}
	if opts.MaxReconnects <= 0 {
		opts.MaxReconnects = DefaultMaxReconnects
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.StreamingPollInterval <= 0 {
		opts.StreamingPollInterval = DefaultStreamingPollInterval
	}
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = DefaultPollTimeout
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: opts.PollTimeout}
	}
	if opts.Dialer == nil {
		opts.Dialer = &websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	}

	table := NewTable()
	m := &Manager{
		opts:          opts,
		logger:        opts.Logger,
		table:         table,
		subs:          make(map[string]int),
		streamEnabled: true,
		reenable:      make(chan struct{}, 1),
	}
	m.coalescer = NewCoalescer(table, opts.DebounceWindow, opts.OnBatch)
	m.state.Store(int32(StateDisconnected))
	return m, nil
}

// Start launches the streaming and polling loops. Calling Start twice is a
// no-op.
func (m *Manager) Start() {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.ctx, m.cancel = context.WithCancel(context.Background())
	m.mu.Unlock()

	m.wg.Add(2)
	go m.runLoop()
	go m.pollLoop()
}

// Close tears everything down. Safe to call more than once.
func (m *Manager) Close() error {
	m.stopOnce.Do(func() {
		m.mu.Lock()
		if m.cancel != nil {
			m.cancel()
		}
		if m.conn != nil {
			m.conn.Close()
		}
		m.mu.Unlock()
		m.wg.Wait()
		// Loops are quiesced; nothing can overwrite the state from here.
		m.state.Store(int32(StateStopped))
		m.coalescer.Close()
	})
	return nil
}

// State returns the current connection state.
func (m *Manager) State() State {
	return State(m.state.Load())
}

// LastSuccess is the unix-micro timestamp of the last update that reached the
// table, from either path. Zero means none yet.
func (m *Manager) LastSuccess() int64 {
	return m.lastSuccess.Load()
}

// Table exposes the live price table for snapshot reads.
func (m *Manager) Table() *Table {
	return m.table
}

// Subscriptions returns the currently subscribed symbols.
func (m *Manager) Subscriptions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.subs))
	for sym := range m.subs {
		out = append(out, sym)
	}
	return out
}

// Subscribe adds one reference to a symbol. The first reference sends a
// subscribe frame when streaming; later references are counted only.
func (m *Manager) Subscribe(symbol string) {
	sym := models.NormalizeSymbol(symbol)
	if sym == "" {
		return
	}

	m.mu.Lock()
	m.subs[sym]++
	first := m.subs[sym] == 1
	conn := m.conn
	m.mu.Unlock()

	if first && conn != nil && m.State() == StateStreaming {
		if err := m.writeControl(conn, models.ClientMessage{Type: models.MsgSubscribe, Symbol: sym}); err != nil {
			m.logger.Warn("Subscribe frame failed", zap.String("symbol", sym), zap.Error(err))
		}
	}
}

// Unsubscribe drops one reference; the last reference sends an unsubscribe
// frame when streaming.
func (m *Manager) Unsubscribe(symbol string) {
	sym := models.NormalizeSymbol(symbol)
	if sym == "" {
		return
	}

	m.mu.Lock()
	n, ok := m.subs[sym]
	if !ok {
		m.mu.Unlock()
		return
	}
	last := n == 1
	if last {
		delete(m.subs, sym)
	} else {
		m.subs[sym] = n - 1
	}
	conn := m.conn
	m.mu.Unlock()

	if last && conn != nil && m.State() == StateStreaming {
		if err := m.writeControl(conn, models.ClientMessage{Type: models.MsgUnsubscribe, Symbol: sym}); err != nil {
			m.logger.Warn("Unsubscribe frame failed", zap.String("symbol", sym), zap.Error(err))
		}
	}
}

// EnableStreaming re-arms the streaming loop after it gave up. No-op while
// streaming is already enabled.
func (m *Manager) EnableStreaming() {
	m.mu.Lock()
	if m.streamEnabled {
		m.mu.Unlock()
		return
	}
	m.streamEnabled = true
	m.attempts = 0
	m.mu.Unlock()

	select {
	case m.reenable <- struct{}{}:
	default:
	}
}

func (m *Manager) writeControl(conn *websocket.Conn, msg models.ClientMessage) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return conn.WriteJSON(msg)
}

// runLoop owns the websocket lifecycle: dial, replay subscriptions, read until
// the connection dies, back off, repeat. When the reconnect budget is spent it
// parks in Polling until EnableStreaming fires.
func (m *Manager) runLoop() {
	defer m.wg.Done()

	for {
		if m.ctx.Err() != nil {
			return
		}

		m.mu.Lock()
		enabled := m.streamEnabled
		m.mu.Unlock()

		if !enabled {
			m.state.Store(int32(StatePolling))
			select {
			case <-m.reenable:
			case <-m.ctx.Done():
				return
			}
			continue
		}

		m.state.Store(int32(StateConnecting))
		conn, _, err := m.opts.Dialer.DialContext(m.ctx, m.opts.StreamURL, nil)
		if err != nil {
			m.noteStreamFailure(err)
			continue
		}

		m.mu.Lock()
		m.conn = conn
		m.attempts = 0
		m.mu.Unlock()
		m.state.Store(int32(StateStreaming))
		m.logger.Info("Streaming connected", zap.String("url", m.opts.StreamURL))

		if err := m.replaySubscriptions(conn); err != nil {
			m.logger.Warn("Subscription replay failed", zap.Error(err))
			conn.Close()
			m.clearConn()
			m.noteStreamFailure(err)
			continue
		}

		err = m.readLoop(conn)
		conn.Close()
		m.clearConn()
		if m.ctx.Err() != nil {
			return
		}
		m.noteStreamFailure(err)
	}
}

func (m *Manager) clearConn() {
	m.mu.Lock()
	m.conn = nil
	m.mu.Unlock()
}

// noteStreamFailure counts one failed attempt and either waits out the
// reconnect delay or disables streaming after the budget is spent.
func (m *Manager) noteStreamFailure(err error) {
	if m.ctx.Err() != nil {
		// Shutting down; a dial or read error here is not a reconnect event.
		return
	}

	m.mu.Lock()
	m.attempts++
	attempts := m.attempts
	if attempts >= m.opts.MaxReconnects {
		m.streamEnabled = false
	}
	disabled := !m.streamEnabled
	m.mu.Unlock()

	if disabled {
		m.logger.Warn("Streaming disabled after repeated failures, falling back to polling",
			zap.Int("attempts", attempts), zap.Error(err))
		m.state.Store(int32(StatePolling))
		return
	}

	m.logger.Warn("Stream lost, reconnecting",
		zap.Int("attempt", attempts), zap.Duration("delay", m.opts.ReconnectDelay), zap.Error(err))
	m.state.Store(int32(StateReconnecting))
	select {
	case <-time.After(m.opts.ReconnectDelay):
	case <-m.ctx.Done():
	}
}

func (m *Manager) replaySubscriptions(conn *websocket.Conn) error {
	for _, sym := range m.Subscriptions() {
		if err := m.writeControl(conn, models.ClientMessage{Type: models.MsgSubscribe, Symbol: sym}); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) readLoop(conn *websocket.Conn) error {
	for {
		conn.SetReadDeadline(time.Now().Add(readDeadline))
		var msg models.ServerMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return err
		}

		switch msg.Type {
		case models.MsgTrade:
			for _, tick := range msg.Data {
				m.coalescer.Enqueue(tick)
			}
			if len(msg.Data) > 0 {
				m.lastSuccess.Store(models.Now())
			}
		case models.MsgError:
			m.logger.Warn("Gateway error frame",
				zap.String("symbol", msg.Symbol), zap.String("message", msg.Message))
		case models.MsgPing:
			// keepalive, nothing to apply
		case models.MsgAck:
			m.logger.Debug("Subscription acknowledged", zap.String("symbol", msg.Symbol))
		}
	}
}

// pollLoop is the safety net. It fires on every PollInterval tick, but while
// streaming is healthy it only actually polls once per StreamingPollInterval.
func (m *Manager) pollLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.opts.PollInterval)
	defer ticker.Stop()

	var lastPoll time.Time
	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
		}

		if m.State() == StateStreaming && time.Since(lastPoll) < m.opts.StreamingPollInterval {
			continue
		}

		if err := m.pollOnce(); err != nil {
			m.logger.Warn("Poll cycle failed", zap.Error(err))
		}
		lastPoll = time.Now()
	}
}

func (m *Manager) pollOnce() error {
	symbols := m.Subscriptions()
	if len(symbols) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(m.ctx, m.opts.PollTimeout)
	defer cancel()

	q := url.Values{}
	q.Set("symbols", strings.Join(symbols, ","))
	if m.opts.UserID != "" {
		q.Set("userId", m.opts.UserID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.opts.QuotesURL+"?"+q.Encode(), nil)
	if err != nil {
		return err
	}
	resp, err := m.opts.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("quotes endpoint returned %d", resp.StatusCode)
	}

	var quotes []models.Quote
	if err := json.NewDecoder(resp.Body).Decode(&quotes); err != nil {
		return fmt.Errorf("decoding quotes response: %w", err)
	}

	for _, quote := range quotes {
		m.coalescer.EnqueueQuote(quote)
	}
	if len(quotes) > 0 {
		m.lastSuccess.Store(models.Now())
	}
	return nil
}
