package kafka

import (
	"context"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer buffers messages in memory and writes them from one goroutine.
// Publish never waits for the broker; when the buffer is full the message
// is dropped and logged.
type Producer struct {
	log   *zap.Logger
	w     messageWriter
	inbox chan kafka.Message
	done  chan struct{}

	mu      sync.RWMutex
	started bool
	closed  bool
	once    sync.Once
}

// NewProducer writes to whatever topic each message names.
func NewProducer(log *zap.Logger, brokers []string, buf int) *Producer {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Async:        true,
		Completion: func(msgs []kafka.Message, err error) {
			if err != nil {
				log.Error("kafka write failed", zap.Int("messages", len(msgs)), zap.Error(err))
			}
		},
	}
	return newProducer(log, w, buf)
}

func newProducer(log *zap.Logger, w messageWriter, buf int) *Producer {
	if buf <= 0 {
		buf = 1
	}
	return &Producer{
		log:   log,
		w:     w,
		inbox: make(chan kafka.Message, buf),
		done:  make(chan struct{}),
	}
}

// Start runs the writer loop until Close is called or ctx ends; either way
// everything already buffered is flushed before the writer closes. Starting
// twice, or after Close, does nothing.
func (p *Producer) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started || p.closed {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			p.Close()
		case <-p.done:
		}
	}()
	go func() {
		defer close(p.done)
		for m := range p.inbox {
			wctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := p.w.WriteMessages(wctx, m); err != nil {
				p.log.Error("kafka publish failed", zap.String("topic", m.Topic), zap.ByteString("key", m.Key), zap.Error(err))
			}
			cancel()
		}
		if err := p.w.Close(); err != nil {
			p.log.Error("kafka writer close", zap.Error(err))
		}
	}()
}

// Publish enqueues m and reports whether it was accepted.
func (p *Producer) Publish(m kafka.Message) bool {
	if m.Time.IsZero() {
		m.Time = time.Now()
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		p.log.Warn("publish after close", zap.String("topic", m.Topic))
		return false
	}
	select {
	case p.inbox <- m:
		return true
	default:
		p.log.Error("kafka buffer full, dropping message", zap.String("topic", m.Topic), zap.ByteString("key", m.Key))
		return false
	}
}

// Close stops accepting messages. Safe to call more than once. A producer
// that was never started closes its writer here.
func (p *Producer) Close() {
	p.once.Do(func() {
		p.mu.Lock()
		p.closed = true
		close(p.inbox)
		started := p.started
		p.mu.Unlock()
		if started {
			return
		}
		if n := len(p.inbox); n > 0 {
			p.log.Warn("producer closed before start, dropping messages", zap.Int("messages", n))
		}
		if err := p.w.Close(); err != nil {
			p.log.Error("kafka writer close", zap.Error(err))
		}
		close(p.done)
	})
}

// WaitClosed blocks until buffered messages are flushed and the writer closed.
func (p *Producer) WaitClosed() { <-p.done }
