// Package zmqtip turns a node's ZMQ block announcements into a chain.TipSignal,
// so confirmation waits wake on new blocks instead of polling.
package zmqtip

import (
	"context"
	"fmt"
	"sync"
	"syscall"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	zmq "github.com/pebbe/zmq4"

	"github.com/bardlex/gomint/internal/chain"
	"github.com/bardlex/gomint/pkg/log"
)

// TopicBlock carries the 32-byte hash of every new block.
const TopicBlock = "hashblock"

// the receive timeout bounds how long Listen takes to notice cancellation
const recvTimeout = 500 * time.Millisecond

// Notifier subscribes to block announcements and broadcasts them to waiters.
type Notifier struct {
	socket   *zmq.Socket
	endpoint string
	logger   *log.Logger

	mu   sync.Mutex
	next chan struct{}
	last chainhash.Hash
}

// New creates a notifier for endpoint. Call Connect, then run Listen.
func New(endpoint string, logger *log.Logger) (*Notifier, error) {
	socket, err := zmq.NewSocket(zmq.SUB)
	if err != nil {
		return nil, fmt.Errorf("failed to create ZMQ socket: %w", err)
	}
	if err := socket.SetRcvtimeo(recvTimeout); err != nil {
		_ = socket.Close()
		return nil, fmt.Errorf("failed to set ZMQ receive timeout: %w", err)
	}
	n := newNotifier(endpoint, logger)
	n.socket = socket
	return n, nil
}

func newNotifier(endpoint string, logger *log.Logger) *Notifier {
	return &Notifier{
		endpoint: endpoint,
		logger:   logger.WithComponent("zmqtip"),
		next:     make(chan struct{}),
	}
}

// Connect subscribes to block announcements and connects to the endpoint.
func (n *Notifier) Connect() error {
	if err := n.socket.SetSubscribe(TopicBlock); err != nil {
		return fmt.Errorf("failed to subscribe to topic %s: %w", TopicBlock, err)
	}
	if err := n.socket.Connect(n.endpoint); err != nil {
		return fmt.Errorf("failed to connect to ZMQ endpoint %s: %w", n.endpoint, err)
	}
	n.logger.Info("connected to ZMQ endpoint", "endpoint", n.endpoint)
	return nil
}

// Listen receives announcements until ctx is done.
func (n *Notifier) Listen(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			n.logger.Info("ZMQ listener stopping")
			return ctx.Err()
		default:
		}

		msg, err := n.socket.RecvMessageBytes(0)
		if err != nil {
			if zmq.AsErrno(err) == zmq.Errno(syscall.EAGAIN) {
				continue
			}
			n.logger.Error("failed to receive ZMQ message", "error", err)
			continue
		}
		if len(msg) < 2 {
			n.logger.Warn("received malformed ZMQ message", "parts", len(msg))
			continue
		}
		if err := n.HandleMessage(string(msg[0]), msg[1]); err != nil {
			n.logger.Error("failed to handle ZMQ message", "topic", string(msg[0]), "error", err)
		}
	}
}

// HandleMessage processes one announcement.
func (n *Notifier) HandleMessage(topic string, data []byte) error {
	if topic != TopicBlock {
		n.logger.Warn("unknown ZMQ topic", "topic", topic)
		return nil
	}
	hash, err := chainhash.NewHash(data)
	if err != nil {
		return fmt.Errorf("invalid block hash length: %d", len(data))
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if *hash == n.last {
		return nil
	}
	n.last = *hash
	close(n.next)
	n.next = make(chan struct{})
	n.logger.Debug("new block", "hash", chain.HashHex(*hash))
	return nil
}

// Next implements chain.TipSignal.
func (n *Notifier) Next(ctx context.Context) error {
	n.mu.Lock()
	ch := n.next
	n.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close closes the socket.
func (n *Notifier) Close() error {
	if n.socket != nil {
		return n.socket.Close()
	}
	return nil
}

var _ chain.TipSignal = (*Notifier)(nil)
