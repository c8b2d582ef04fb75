package memory

import (
	"context"
	"strconv"
	"sync"

	"github.com/alanyoungcy/updown/internal/domain"
)

const busStreamCap = 10_000

// Bus implements domain.SignalBus in process. Subscribers that fall behind
// lose messages; streams keep the most recent entries with ids "1", "2", ...
type Bus struct {
	mu      sync.Mutex
	subs    map[string]map[chan []byte]struct{}
	streams map[string][]domain.StreamMessage
	seq     map[string]int64
}

var _ domain.SignalBus = (*Bus)(nil)

func NewBus() *Bus {
	return &Bus{
		subs:    map[string]map[chan []byte]struct{}{},
		streams: map[string][]domain.StreamMessage{},
		seq:     map[string]int64{},
	}
}

func (b *Bus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs[channel] {
		select {
		case ch <- payload:
		default:
		}
	}
	return nil
}

// Subscribe matches channel names exactly.
func (b *Bus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	ch := make(chan []byte, 128)
	b.mu.Lock()
	if b.subs[channel] == nil {
		b.subs[channel] = map[chan []byte]struct{}{}
	}
	b.subs[channel][ch] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs[channel], ch)
		close(ch)
		b.mu.Unlock()
	}()
	return ch, nil
}

func (b *Bus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq[stream]++
	msgs := append(b.streams[stream], domain.StreamMessage{
		ID:      strconv.FormatInt(b.seq[stream], 10),
		Payload: payload,
	})
	if len(msgs) > busStreamCap {
		msgs = msgs[len(msgs)-busStreamCap:]
	}
	b.streams[stream] = msgs
	return nil
}

// StreamRead returns up to count entries with an id greater than lastID.
func (b *Bus) StreamRead(_ context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error) {
	after, err := strconv.ParseInt(lastID, 10, 64)
	if err != nil {
		after = 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []domain.StreamMessage
	for _, m := range b.streams[stream] {
		id, _ := strconv.ParseInt(m.ID, 10, 64)
		if id <= after {
			continue
		}
		out = append(out, m)
		if count > 0 && len(out) == count {
			break
		}
	}
	return out, nil
}
