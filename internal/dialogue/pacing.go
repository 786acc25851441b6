package dialogue

import (
	"math/rand/v2"
	"time"
)

const (
	readingCharsPerSecond = 15.0
	typingCharsPerMinute  = 250.0
)

const (
	defaultMinReading = 1 * time.Second
	defaultMaxReading = 8 * time.Second
	defaultMinTyping  = 1 * time.Second
	defaultMaxTyping  = 12 * time.Second
	defaultMinPause   = 800 * time.Millisecond
	defaultMaxPause   = 2 * time.Second
)

type PacingOptions struct {
	// Clamp bounds for the reading delay before a reply.
	MinReading, MaxReading time.Duration
	// Clamp bounds for the per-message typing delay.
	MinTyping, MaxTyping time.Duration
	// Bounds for the pause between consecutive messages of one turn.
	MinPause, MaxPause time.Duration
	// Rand is the jitter source, [0,1). Injectable for tests.
	Rand func() float64
}

// Pacing converts text lengths into human-looking delays.
type Pacing struct {
	minReading, maxReading time.Duration
	minTyping, maxTyping   time.Duration
	minPause, maxPause     time.Duration
	rng                    func() float64
}

func NewPacing(opts PacingOptions) *Pacing {
	p := &Pacing{
		minReading: opts.MinReading,
		maxReading: opts.MaxReading,
		minTyping:  opts.MinTyping,
		maxTyping:  opts.MaxTyping,
		minPause:   opts.MinPause,
		maxPause:   opts.MaxPause,
		rng:        opts.Rand,
	}
	if p.minReading <= 0 {
		p.minReading = defaultMinReading
	}
	if p.maxReading <= 0 {
		p.maxReading = defaultMaxReading
	}
	if p.minTyping <= 0 {
		p.minTyping = defaultMinTyping
	}
	if p.maxTyping <= 0 {
		p.maxTyping = defaultMaxTyping
	}
	if p.minPause <= 0 {
		p.minPause = defaultMinPause
	}
	if p.maxPause <= 0 {
		p.maxPause = defaultMaxPause
	}
	if p.rng == nil {
		p.rng = rand.Float64
	}
	return p
}

// ReadingDelay approximates how long a person needs before answering a
// message of textLen characters: read time plus a little think time,
// clamped to the reading bounds.
func (p *Pacing) ReadingDelay(textLen int) time.Duration {
	base := float64(textLen) / readingCharsPerSecond
	think := 0.5 + p.rng()*1.5
	secs := base*(0.8+p.rng()*0.4) + think
	return clampSeconds(secs, p.minReading, p.maxReading)
}

// TypingDelay approximates how long typing textLen characters takes,
// clamped to the typing bounds.
func (p *Pacing) TypingDelay(textLen int) time.Duration {
	base := float64(textLen) / typingCharsPerMinute * 60
	secs := base * (0.8 + p.rng()*0.5)
	return clampSeconds(secs, p.minTyping, p.maxTyping)
}

// MessagePause is the gap between consecutive messages of one turn.
func (p *Pacing) MessagePause() time.Duration {
	if p.maxPause <= p.minPause {
		return p.minPause
	}
	return p.minPause + time.Duration(p.rng()*float64(p.maxPause-p.minPause))
}

func clampSeconds(secs float64, lo, hi time.Duration) time.Duration {
	d := time.Duration(secs * float64(time.Second))
	if d < lo {
		return lo
	}
	if d > hi {
		return hi
	}
	return d
}
