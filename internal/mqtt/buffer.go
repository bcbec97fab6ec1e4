package mqtt

import "log/slog"

// queued is a formatted message waiting for the broker.
type queued struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// backlog holds messages produced while the broker is unreachable. When full
// it drops the oldest message. Callers hold the publisher lock.
type backlog struct {
	msgs    []queued
	start   int
	size    int
	dropped int
	logger  *slog.Logger
}

func newBacklog(capacity int, logger *slog.Logger) *backlog {
	if capacity < 1 {
		capacity = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &backlog{msgs: make([]queued, capacity), logger: logger}
}

func (b *backlog) add(m queued) {
	n := len(b.msgs)
	if b.size < n {
		b.msgs[(b.start+b.size)%n] = m
		b.size++
		return
	}
	if b.dropped == 0 {
		b.logger.Warn("mqtt backlog full, dropping oldest", "capacity", n)
	}
	b.dropped++
	b.msgs[b.start] = m
	b.start = (b.start + 1) % n
}

// take empties the backlog and returns its messages oldest first.
func (b *backlog) take() []queued {
	if b.size == 0 {
		return nil
	}
	n := len(b.msgs)
	out := make([]queued, 0, b.size)
	for i := 0; i < b.size; i++ {
		out = append(out, b.msgs[(b.start+i)%n])
	}
	if b.dropped > 0 {
		b.logger.Warn("mqtt backlog dropped messages while offline", "dropped", b.dropped)
	}
	b.start, b.size, b.dropped = 0, 0, 0
	return out
}

func (b *backlog) len() int {
	return b.size
}
