package subscriber

import "time"

// backoff produces the reconnect delay sequence: start at min, double per
// consecutive failure, cap at max, reset to min on success.
type backoff struct {
	min  time.Duration
	max  time.Duration
	next time.Duration
}

// newBackoff creates a backoff positioned at its initial delay.
func newBackoff(min, max time.Duration) *backoff {
	return &backoff{min: min, max: max, next: min}
}

// Next returns the current delay and advances the sequence.
func (b *backoff) Next() time.Duration {
	d := b.next

	b.next *= 2
	if b.next > b.max {
		b.next = b.max
	}

	return d
}

// Reset rewinds the sequence to the initial delay.
func (b *backoff) Reset() {
	b.next = b.min
}
