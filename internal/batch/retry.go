package batch

import "time"

// RetryPolicy controls how often a failing render or conversion is attempted
// before the record is marked failed. The zero value attempts once.
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
}

func (p RetryPolicy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// do calls fn until it succeeds or the attempts run out, sleeping Delay in
// between. It returns the number of attempts made and the last error.
func (p RetryPolicy) do(sleep func(time.Duration), fn func() error) (int, error) {
	max := p.attempts()
	var err error
	for attempt := 1; attempt <= max; attempt++ {
		if err = fn(); err == nil {
			return attempt, nil
		}
		if attempt < max && p.Delay > 0 {
			sleep(p.Delay)
		}
	}
	return max, err
}
