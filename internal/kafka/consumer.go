package kafka

import (
	"context"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/segmentio/kafka-go"

	"github.com/ariefcatur/go-order-fulfillment/internal/logger"
)

// Handler returns nil only when the message was fully processed and its
// offset may be committed.
type Handler func(ctx context.Context, m kafka.Message) error

// Consumer fans messages out to a fixed worker pool. Messages with the same
// key always land on the same worker so per-order ordering is preserved.
// A failing message is retried in place until it succeeds or the context
// ends, and an offset is committed only once every earlier offset of its
// partition is done.
type Consumer struct {
	r          *kafka.Reader
	log        *logger.Logger
	workers    int
	backoff    time.Duration
	maxBackoff time.Duration
}

func NewConsumer(brokers []string, group, topic string, workers int, log *logger.Logger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        group,
		Topic:          topic,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // manual commit
	})
	if workers <= 0 {
		workers = 1
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Consumer{r: r, log: log, workers: workers, backoff: 200 * time.Millisecond, maxBackoff: 5 * time.Second}
}

func (c *Consumer) Start(ctx context.Context, h Handler) error {
	defer c.r.Close()

	offsets := newOffsetTracker()
	jobs := make([]chan kafka.Message, c.workers)
	var wg sync.WaitGroup
	for i := range jobs {
		jobs[i] = make(chan kafka.Message, 128)
		wg.Add(1)
		go func(id int, in <-chan kafka.Message) {
			defer wg.Done()
			for m := range in {
				if !c.handle(ctx, id, h, m) {
					return
				}
				upto, ok := offsets.done(m)
				if !ok {
					continue
				}
				if err := c.r.CommitMessages(ctx, upto); err != nil {
					c.log.Warn("commit offset", "worker", id, "partition", upto.Partition, "offset", upto.Offset, "err", err)
				}
			}
		}(i, jobs[i])
	}
	stop := func() {
		for _, ch := range jobs {
			close(ch)
		}
		wg.Wait()
	}

	for {
		m, err := c.r.FetchMessage(ctx)
		if err != nil {
			stop()
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		offsets.fetched(m)
		select {
		case jobs[worker(m.Key, c.workers)] <- m:
		case <-ctx.Done():
			stop()
			return nil
		}
	}
}

// handle runs h until it succeeds, backing off between attempts. It reports
// false only when ctx ended first, in which case m must not be committed.
func (c *Consumer) handle(ctx context.Context, id int, h Handler, m kafka.Message) bool {
	wait := c.backoff
	for attempt := 1; ; attempt++ {
		if ctx.Err() != nil {
			return false
		}
		err := h(ctx, m)
		if err == nil {
			return true
		}
		c.log.Error("handle message", "worker", id, "partition", m.Partition, "offset", m.Offset, "attempt", attempt, "err", err)

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return false
		case <-t.C:
		}
		if wait *= 2; wait > c.maxBackoff {
			wait = c.maxBackoff
		}
	}
}

// offsetTracker remembers fetched offsets per partition so a commit never
// covers a message another worker is still processing.
type offsetTracker struct {
	mu      sync.Mutex
	pending map[int][]int64
	settled map[int]map[int64]kafka.Message
}

func newOffsetTracker() *offsetTracker {
	return &offsetTracker{pending: map[int][]int64{}, settled: map[int]map[int64]kafka.Message{}}
}

func (t *offsetTracker) fetched(m kafka.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending[m.Partition] = append(t.pending[m.Partition], m.Offset)
}

// done marks m processed and returns the highest message of its partition
// that is safe to commit, if that moved.
func (t *offsetTracker) done(m kafka.Message) (kafka.Message, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.settled[m.Partition]
	if s == nil {
		s = map[int64]kafka.Message{}
		t.settled[m.Partition] = s
	}
	s[m.Offset] = m

	var upto kafka.Message
	moved := false
	q := t.pending[m.Partition]
	for len(q) > 0 {
		head, ok := s[q[0]]
		if !ok {
			break
		}
		delete(s, q[0])
		q = q[1:]
		upto, moved = head, true
	}
	t.pending[m.Partition] = q
	return upto, moved
}

func worker(key []byte, n int) int {
	return int(xxhash.Sum64(key) % uint64(n))
}
