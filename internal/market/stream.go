package market

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/kiwi-quant/adaptive-engine/pkg/clock"
	"github.com/kiwi-quant/adaptive-engine/pkg/types"
)

// StreamConfig configures the websocket stream client.
type StreamConfig struct {
	URL        string
	Reconnect  types.ReconnectConfig
	BufferSize int
}

// DefaultStreamConfig returns the standard stream configuration.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		URL:        "wss://stream.binance.com:9443/ws",
		Reconnect:  types.DefaultReconnectConfig(),
		BufferSize: 256,
	}
}

// StreamClient is a Feed backed by an exchange kline websocket. On
// disconnect it reconnects with exponential backoff; once the attempt
// budget is exhausted it emits a final disconnect event and closes the
// event channel.
type StreamClient struct {
	logger *zap.Logger
	clock  clock.Clock
	config StreamConfig

	connMu     sync.Mutex
	conn       *websocket.Conn
	connecting bool

	symbols   []string
	timeframe types.Timeframe

	events    chan Event
	cancel    context.CancelFunc
	closeOnce sync.Once

	errMu   sync.Mutex
	lastErr error
}

// NewStreamClient creates a stream client.
func NewStreamClient(logger *zap.Logger, clk clock.Clock, config StreamConfig) *StreamClient {
	if config.BufferSize <= 0 {
		config.BufferSize = 256
	}
	return &StreamClient{
		logger: logger.Named("stream"),
		clock:  clk,
		config: config,
	}
}

// Subscribe dials the upstream, subscribes to kline and trade streams for
// the given symbols, and starts the read loop.
func (s *StreamClient) Subscribe(ctx context.Context, symbols []string, timeframe types.Timeframe) (<-chan Event, error) {
	if len(symbols) == 0 {
		return nil, fmt.Errorf("no symbols to subscribe")
	}
	s.symbols = symbols
	s.timeframe = timeframe
	s.events = make(chan Event, s.config.BufferSize)

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	if err := s.connect(); err != nil {
		cancel()
		return nil, fmt.Errorf("initial connect: %w", err)
	}
	go s.readLoop(runCtx)

	s.logger.Info("Subscribed to market stream",
		zap.Strings("symbols", symbols),
		zap.String("timeframe", string(timeframe)))
	return s.events, nil
}

// Close tears the stream down and releases the connection.
func (s *StreamClient) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	s.connMu.Lock()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	s.connMu.Unlock()
	return nil
}

// Err returns the terminal error, if any.
func (s *StreamClient) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.lastErr
}

func (s *StreamClient) setErr(err error) {
	s.errMu.Lock()
	s.lastErr = err
	s.errMu.Unlock()
}

// connect dials and subscribes. The connecting latch forbids concurrent
// attempts.
func (s *StreamClient) connect() error {
	s.connMu.Lock()
	if s.connecting {
		s.connMu.Unlock()
		return fmt.Errorf("connect already in progress")
	}
	s.connecting = true
	s.connMu.Unlock()

	defer func() {
		s.connMu.Lock()
		s.connecting = false
		s.connMu.Unlock()
	}()

	conn, _, err := websocket.DefaultDialer.Dial(s.config.URL, nil)
	if err != nil {
		return err
	}

	streams := make([]string, 0, len(s.symbols)*2)
	for _, symbol := range s.symbols {
		lower := strings.ToLower(symbol)
		streams = append(streams,
			fmt.Sprintf("%s@kline_%s", lower, s.timeframe),
			fmt.Sprintf("%s@trade", lower),
		)
	}
	msg := map[string]interface{}{
		"method": "SUBSCRIBE",
		"params": streams,
		"id":     s.clock.Now().UnixNano(),
	}
	if err := conn.WriteJSON(msg); err != nil {
		conn.Close()
		return err
	}

	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()

	s.logger.Debug("Stream connected", zap.Int("streams", len(streams)))
	return nil
}

// closeConn fully closes the current connection before any reconnect.
func (s *StreamClient) closeConn() {
	s.connMu.Lock()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	s.connMu.Unlock()
}

func (s *StreamClient) readLoop(ctx context.Context) {
	defer close(s.events)

	for {
		s.connMu.Lock()
		conn := s.conn
		s.connMu.Unlock()
		if conn == nil {
			return
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Warn("Stream read failed", zap.Error(err))
			s.emit(ctx, Event{Type: EventDisconnect, Reason: err.Error()})
			if !s.reconnect(ctx) {
				return
			}
			continue
		}
		s.handleMessage(ctx, message)
	}
}

// reconnect retries the connection with exponential backoff. It returns
// false when the context ended or the attempt budget is exhausted.
func (s *StreamClient) reconnect(ctx context.Context) bool {
	rc := s.config.Reconnect

	// The old connection must be fully closed and quiescent before a
	// new one is attempted.
	s.closeConn()
	if err := s.clock.Sleep(ctx, rc.QuiescentDelay); err != nil {
		return false
	}

	for attempt := 1; attempt <= rc.MaxAttempts; attempt++ {
		if err := s.clock.Sleep(ctx, reconnectBackoff(rc, attempt)); err != nil {
			return false
		}
		s.logger.Warn("Reconnecting to market stream",
			zap.Int("attempt", attempt),
			zap.Int("maxAttempts", rc.MaxAttempts))
		if err := s.connect(); err != nil {
			s.logger.Error("Reconnect attempt failed", zap.Error(err))
			continue
		}
		s.logger.Info("Stream reconnected", zap.Int("attempt", attempt))
		return true
	}

	s.setErr(ErrConnectionLimit)
	s.emit(ctx, Event{Type: EventDisconnect, Reason: ErrConnectionLimit.Error()})
	s.logger.Error("Reconnect attempts exhausted, giving up",
		zap.Int("maxAttempts", rc.MaxAttempts))
	return false
}

// reconnectBackoff returns the delay before the given 1-based attempt:
// exponential from the initial backoff, capped at the maximum.
func reconnectBackoff(rc types.ReconnectConfig, attempt int) time.Duration {
	d := rc.InitialBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= rc.MaxBackoff {
			return rc.MaxBackoff
		}
	}
	if d > rc.MaxBackoff {
		return rc.MaxBackoff
	}
	return d
}

func (s *StreamClient) emit(ctx context.Context, ev Event) {
	select {
	case s.events <- ev:
	case <-ctx.Done():
	}
}

func (s *StreamClient) handleMessage(ctx context.Context, data []byte) {
	var msg map[string]interface{}
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	eventType, ok := msg["e"].(string)
	if !ok {
		return
	}
	switch eventType {
	case "kline":
		s.handleKline(ctx, msg)
	case "trade":
		s.handleTrade(ctx, msg)
	}
}

func (s *StreamClient) handleKline(ctx context.Context, msg map[string]interface{}) {
	kline, ok := msg["k"].(map[string]interface{})
	if !ok {
		return
	}
	symbol, _ := kline["s"].(string)
	openStr, _ := kline["o"].(string)
	highStr, _ := kline["h"].(string)
	lowStr, _ := kline["l"].(string)
	closeStr, _ := kline["c"].(string)
	volumeStr, _ := kline["v"].(string)
	openTime, _ := kline["t"].(float64)
	closed, _ := kline["x"].(bool)

	open, _ := decimal.NewFromString(openStr)
	high, _ := decimal.NewFromString(highStr)
	low, _ := decimal.NewFromString(lowStr)
	closePrice, _ := decimal.NewFromString(closeStr)
	volume, _ := decimal.NewFromString(volumeStr)

	bar := types.Bar{
		Symbol:   symbol,
		OpenTime: time.UnixMilli(int64(openTime)).UTC(),
		Open:     open,
		High:     high,
		Low:      low,
		Close:    closePrice,
		Volume:   volume,
	}
	kind := EventBarUpdate
	if closed {
		kind = EventBarClose
	}
	s.emit(ctx, Event{Type: kind, Bar: bar})
}

func (s *StreamClient) handleTrade(ctx context.Context, msg map[string]interface{}) {
	symbol, _ := msg["s"].(string)
	priceStr, _ := msg["p"].(string)
	qtyStr, _ := msg["q"].(string)
	timestamp, _ := msg["E"].(float64)

	price, _ := decimal.NewFromString(priceStr)
	size, _ := decimal.NewFromString(qtyStr)

	s.emit(ctx, Event{Type: EventTradeTick, Tick: types.TradeTick{
		Symbol: symbol,
		Time:   time.UnixMilli(int64(timestamp)).UTC(),
		Price:  price,
		Size:   size,
	}})
}
