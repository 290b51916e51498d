package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math/big"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gorilla/websocket"

	"evonft-service/internal/observability"
)

// WatcherConfig configures WebSocket subscription behavior.
type WatcherConfig struct {
	// ReconnectDelay is initial delay before reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectDelay is maximum delay between reconnect attempts.
	MaxReconnectDelay time.Duration
	// PingInterval is interval for sending ping frames.
	PingInterval time.Duration
	// ReadTimeout is timeout for reading messages.
	ReadTimeout time.Duration
	// WriteTimeout is timeout for writing messages.
	WriteTimeout time.Duration
}

// DefaultWatcherConfig returns default WebSocket configuration.
func DefaultWatcherConfig() WatcherConfig {
	return WatcherConfig{
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		PingInterval:      30 * time.Second,
		ReadTimeout:       90 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
}

// EvolvedEvent is a decoded Evolved(tokenId, newVersion, newURI) log.
type EvolvedEvent struct {
	TokenID     uint64
	NewVersion  uint64
	NewURI      string
	BlockNumber uint64
	TxHash      common.Hash
	Removed     bool
}

// Watcher follows Evolved logs of the contract over eth_subscribe.
type Watcher struct {
	endpoint string
	contract common.Address
	abi      abi.ABI
	config   WatcherConfig
	logger   *log.Logger
	metrics  *observability.Metrics

	requestID atomic.Uint64
}

// NewWatcher creates a new Watcher. Nothing is dialed until Run.
func NewWatcher(endpoint string, contract common.Address, config *WatcherConfig, logger *log.Logger) (*Watcher, error) {
	parsed, err := ParseEvolutionABI()
	if err != nil {
		return nil, fmt.Errorf("parse abi: %w", err)
	}
	cfg := DefaultWatcherConfig()
	if config != nil {
		cfg = *config
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Watcher{
		endpoint: endpoint,
		contract: contract,
		abi:      parsed,
		config:   cfg,
		logger:   logger,
		metrics:  observability.DefaultMetrics,
	}, nil
}

// Run subscribes and calls handle for every Evolved event until ctx is
// cancelled. Connection errors trigger reconnects with exponential backoff.
func (w *Watcher) Run(ctx context.Context, handle func(EvolvedEvent)) error {
	delay := w.config.ReconnectDelay

	for {
		received, err := w.session(ctx, handle)
		if ctx.Err() != nil {
			return nil
		}
		if received {
			delay = w.config.ReconnectDelay
		}
		w.logger.Printf("watcher: subscription ended: %v (reconnecting in %s)", err, delay)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}

		delay *= 2
		if delay > w.config.MaxReconnectDelay {
			delay = w.config.MaxReconnectDelay
		}
	}
}

// wsRequest represents a JSON-RPC request over WebSocket.
type wsRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

// wsMessage covers both subscription confirmations and notifications.
type wsMessage struct {
	ID     *uint64         `json:"id,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *rpcError       `json:"error,omitempty"`
	Method string          `json:"method,omitempty"`
	Params *struct {
		Subscription string   `json:"subscription"`
		Result       logEntry `json:"result"`
	} `json:"params,omitempty"`
}

// logEntry is the raw log object of an eth_subscription notification.
type logEntry struct {
	Address     common.Address `json:"address"`
	Topics      []common.Hash  `json:"topics"`
	Data        hexutil.Bytes  `json:"data"`
	BlockNumber hexutil.Uint64 `json:"blockNumber"`
	TxHash      common.Hash    `json:"transactionHash"`
	Removed     bool           `json:"removed"`
}

// session runs one connection. It reports whether any event was received.
func (w *Watcher) session(ctx context.Context, handle func(EvolvedEvent)) (bool, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, w.endpoint, nil)
	if err != nil {
		return false, fmt.Errorf("websocket dial: %w", err)
	}
	defer conn.Close()

	// Unblock reads on cancellation.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	reqID := w.requestID.Add(1)
	req := wsRequest{
		JSONRPC: "2.0",
		ID:      reqID,
		Method:  "eth_subscribe",
		Params: []interface{}{
			"logs",
			map[string]interface{}{
				"address": w.contract.Hex(),
				"topics":  []string{w.abi.Events["Evolved"].ID.Hex()},
			},
		},
	}
	conn.SetWriteDeadline(time.Now().Add(w.config.WriteTimeout))
	if err := conn.WriteJSON(req); err != nil {
		return false, fmt.Errorf("write subscribe: %w", err)
	}

	go w.pingLoop(conn, done)

	received := false
	for {
		conn.SetReadDeadline(time.Now().Add(w.config.ReadTimeout))
		_, data, err := conn.ReadMessage()
		if err != nil {
			return received, fmt.Errorf("read: %w", err)
		}

		var msg wsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			w.logger.Printf("watcher: malformed message: %v", err)
			continue
		}
		if msg.ID != nil && *msg.ID == reqID {
			if msg.Error != nil {
				return received, fmt.Errorf("subscribe: %w", msg.Error)
			}
			continue
		}
		if msg.Method != "eth_subscription" || msg.Params == nil {
			continue
		}

		ev, err := w.decode(msg.Params.Result)
		if err != nil {
			w.logger.Printf("watcher: skip log: %v", err)
			continue
		}
		received = true
		w.metrics.EvolvedEventsWatched.Inc()
		handle(ev)
	}
}

func (w *Watcher) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(w.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(w.config.WriteTimeout)); err != nil {
				return
			}
		}
	}
}

var errNotEvolved = errors.New("not an Evolved log")

func (w *Watcher) decode(l logEntry) (EvolvedEvent, error) {
	event := w.abi.Events["Evolved"]
	if len(l.Topics) < 2 || l.Topics[0] != event.ID {
		return EvolvedEvent{}, errNotEvolved
	}
	out, err := w.abi.Unpack("Evolved", l.Data)
	if err != nil {
		return EvolvedEvent{}, fmt.Errorf("unpack Evolved: %w", err)
	}
	if len(out) != 2 {
		return EvolvedEvent{}, fmt.Errorf("unpack Evolved: %d values", len(out))
	}
	version, ok := out[0].(*big.Int)
	if !ok {
		return EvolvedEvent{}, fmt.Errorf("unpack Evolved: version is %T", out[0])
	}
	uri, ok := out[1].(string)
	if !ok {
		return EvolvedEvent{}, fmt.Errorf("unpack Evolved: uri is %T", out[1])
	}
	return EvolvedEvent{
		TokenID:     l.Topics[1].Big().Uint64(),
		NewVersion:  version.Uint64(),
		NewURI:      uri,
		BlockNumber: uint64(l.BlockNumber),
		TxHash:      l.TxHash,
		Removed:     l.Removed,
	}, nil
}
