package session

import "time"

// tokenBucket refills continuously at rate tokens per second up to
// rate*burstSeconds.
type tokenBucket struct {
	rate   int64
	tokens int64
	max    int64
}

func newTokenBucket(rate int64, burstSeconds int) *tokenBucket {
	if rate <= 0 {
		return nil
	}
	capacity := rate * int64(burstSeconds)
	return &tokenBucket{rate: rate, tokens: capacity, max: capacity}
}

func (b *tokenBucket) refill(elapsed time.Duration) {
	if b == nil || elapsed <= 0 {
		return
	}
	add := elapsed.Nanoseconds() * b.rate / int64(time.Second)
	b.tokens = min(b.tokens+add, b.max)
}

func (b *tokenBucket) has(n int64) bool { return b == nil || b.tokens >= n }

func (b *tokenBucket) take(n int64) {
	if b != nil {
		b.tokens -= n
	}
}

// audioLimiter caps inbound audio by frames per second and bytes per second.
// A nil limiter allows everything.
type audioLimiter struct {
	now    func() time.Time
	last   time.Time
	frames *tokenBucket
	bytes  *tokenBucket
}

func newAudioLimiter(now func() time.Time, fps int, bps int64, burstSeconds int) *audioLimiter {
	if fps <= 0 && bps <= 0 {
		return nil
	}
	if now == nil {
		now = time.Now
	}
	if burstSeconds <= 0 {
		burstSeconds = 1
	}
	return &audioLimiter{
		now:    now,
		last:   now(),
		frames: newTokenBucket(int64(fps), burstSeconds),
		bytes:  newTokenBucket(bps, burstSeconds),
	}
}

// Allow reports whether a frame of size n may be forwarded, and consumes
// tokens if so.
func (l *audioLimiter) Allow(n int) bool {
	if l == nil {
		return true
	}
	now := l.now()
	if elapsed := now.Sub(l.last); elapsed > 0 {
		l.frames.refill(elapsed)
		l.bytes.refill(elapsed)
		l.last = now
	}

	size := int64(max(n, 0))
	if !l.frames.has(1) || !l.bytes.has(size) {
		return false
	}
	l.frames.take(1)
	l.bytes.take(size)
	return true
}
