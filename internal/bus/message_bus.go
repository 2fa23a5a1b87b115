package bus

import (
	"log/slog"
	"sync"
)

const defaultBufferSize = 256

// MessageBus decouples channel adapters from the command router.
type MessageBus struct {
	inbound  chan *InboundMessage
	outbound chan *OutboundMessage

	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
}

// NewMessageBus creates a bus with buffered queues of size.
func NewMessageBus(size int) *MessageBus {
	if size <= 0 {
		size = defaultBufferSize
	}
	return &MessageBus{
		inbound:  make(chan *InboundMessage, size),
		outbound: make(chan *OutboundMessage, size),
	}
}

// PublishInbound enqueues a message for the router. It drops the message
// when the queue is full rather than stalling the channel reader.
func (b *MessageBus) PublishInbound(msg *InboundMessage) bool {
	if msg == nil {
		return false
	}
	if msg.RequestID == "" {
		msg.RequestID = NewRequestID()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return false
	}
	select {
	case b.inbound <- msg:
		return true
	default:
		slog.Warn("inbound queue full, dropping message", "request_id", msg.RequestID, "channel", msg.Channel)
		return false
	}
}

// PublishOutbound enqueues a reply. Like PublishInbound it never blocks.
func (b *MessageBus) PublishOutbound(msg *OutboundMessage) bool {
	if msg == nil {
		return false
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return false
	}
	select {
	case b.outbound <- msg:
		return true
	default:
		slog.Warn("outbound queue full, dropping message", "request_id", msg.RequestID, "channel", msg.Channel, "chat_id", msg.ChatID)
		return false
	}
}

// Inbound returns the receive side of the inbound queue.
func (b *MessageBus) Inbound() <-chan *InboundMessage { return b.inbound }

// Outbound returns the receive side of the outbound queue.
func (b *MessageBus) Outbound() <-chan *OutboundMessage { return b.outbound }

// Close closes both queues. Later publishes are dropped.
func (b *MessageBus) Close() {
	b.closeOnce.Do(func() {
		b.mu.Lock()
		b.closed = true
		close(b.inbound)
		close(b.outbound)
		b.mu.Unlock()
	})
}
