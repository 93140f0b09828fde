package transport

import (
	"log/slog"
	"sync"
)

// Log is a transport that only logs messages. It stands in for the broker
// when none is configured.
type Log struct {
	mu        sync.Mutex
	published map[string]uint64
}

// NewLog creates a log-only transport.
func NewLog() *Log {
	return &Log{published: make(map[string]uint64)}
}

// Publish implements peoplecounter.Transport
func (l *Log) Publish(topic string, payload []byte) error {
	l.mu.Lock()
	l.published[topic]++
	l.mu.Unlock()

	slog.Debug("transport: message", "topic", topic, "payload", string(payload))
	return nil
}

// Connected always reports true.
func (l *Log) Connected() bool {
	return true
}

// Stats returns transport statistics
func (l *Log) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	published := make(map[string]uint64, len(l.published))
	for k, v := range l.published {
		published[k] = v
	}
	return Stats{Connected: true, Published: published}
}
