package dialogue

import (
	"log/slog"
	"strings"
	"sync"
	"time"
)

const (
	defaultBatchWait    = 3 * time.Second
	defaultBatchMaxWait = 15 * time.Second
)

// Batch is one debounced group of inbound messages for a single peer.
type Batch struct {
	Texts      []string
	MessageIDs []int64
	FirstAt    time.Time
	LastAt     time.Time
}

// Combined joins the batch into the one logical turn the reply covers.
func (b Batch) Combined() string {
	return strings.Join(b.Texts, "\n")
}

// MaxMessageID is the newest platform message id in the batch, 0 if none.
func (b Batch) MaxMessageID() int64 {
	var max int64
	for _, id := range b.MessageIDs {
		if id > max {
			max = id
		}
	}
	return max
}

type BatcherOptions struct {
	// Wait is the quiet period that closes a batch. Defaults to 3s.
	Wait time.Duration
	// MaxWait caps how long a batch may keep absorbing messages before it
	// is flushed regardless. Defaults to 15s.
	MaxWait time.Duration
	Logger  *slog.Logger
	Now     func() time.Time
}

// Batcher debounces rapid-fire inbound messages per peer so that one
// generated reply covers everything the peer sent in a burst. Each
// arrival rearms the quiet-period timer; a batch older than MaxWait is
// flushed even while messages keep coming.
type Batcher struct {
	wait    time.Duration
	maxWait time.Duration
	logger  *slog.Logger
	now     func() time.Time

	mu      sync.Mutex
	pending map[int64]*pendingBatch
}

type pendingBatch struct {
	batch   Batch
	timer   *time.Timer
	deliver func(Batch)
	gen     uint64
}

func NewBatcher(opts BatcherOptions) *Batcher {
	wait := opts.Wait
	if wait <= 0 {
		wait = defaultBatchWait
	}
	maxWait := opts.MaxWait
	if maxWait <= 0 {
		maxWait = defaultBatchMaxWait
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Batcher{
		wait:    wait,
		maxWait: maxWait,
		logger:  logger,
		now:     now,
		pending: make(map[int64]*pendingBatch),
	}
}

// Add appends one inbound message to the peer's pending batch and rearms
// the debounce window. deliver runs on its own goroutine once the window
// elapses with no further arrival, or once the batch hits MaxWait. The
// deliver func of the most recent Add wins.
func (b *Batcher) Add(peerID int64, text string, messageID int64, deliver func(Batch)) {
	b.mu.Lock()
	defer b.mu.Unlock()

	p := b.pending[peerID]
	if p == nil {
		p = &pendingBatch{batch: Batch{FirstAt: b.now()}}
		b.pending[peerID] = p
	}
	p.batch.Texts = append(p.batch.Texts, text)
	p.batch.MessageIDs = append(p.batch.MessageIDs, messageID)
	p.batch.LastAt = b.now()
	p.deliver = deliver
	p.gen++

	if p.timer != nil {
		p.timer.Stop()
	}
	delay := b.wait
	if left := b.maxWait - b.now().Sub(p.batch.FirstAt); left < delay {
		delay = left
	}
	if delay < 0 {
		delay = 0
	}
	gen := p.gen
	p.timer = time.AfterFunc(delay, func() { b.flush(peerID, gen) })
}

// flush delivers the batch unless a newer Add rearmed the window first.
func (b *Batcher) flush(peerID int64, gen uint64) {
	b.mu.Lock()
	p := b.pending[peerID]
	if p == nil || p.gen != gen {
		b.mu.Unlock()
		return
	}
	delete(b.pending, peerID)
	b.mu.Unlock()

	b.logger.Debug("batch_flushed", "peer_id", peerID, "messages", len(p.batch.Texts))
	if p.deliver != nil {
		p.deliver(p.batch)
	}
}

// Cancel drops the peer's pending batch without delivering it.
func (b *Batcher) Cancel(peerID int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if p := b.pending[peerID]; p != nil {
		if p.timer != nil {
			p.timer.Stop()
		}
		delete(b.pending, peerID)
	}
}

// CancelAll drops every pending batch. Used on worker teardown so no
// flush fires after the dialogue is gone.
func (b *Batcher) CancelAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for peerID, p := range b.pending {
		if p.timer != nil {
			p.timer.Stop()
		}
		delete(b.pending, peerID)
	}
}

// PendingCount reports how many peers have an open batch.
func (b *Batcher) PendingCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}
