package fetcher

import (
	"context"
	"sync"
	"time"
)

// RateLimiter держит для каждого хоста семафор конкурентности и минимальный
// интервал между запросами. Интервал отсчитывается от завершения предыдущего
// запроса (и от старта, если параллельно идут несколько).
type RateLimiter struct {
	maxConcurrent  int
	minInterval    time.Duration
	hostSemaphores map[string]*hostLimiter
	mu             sync.Mutex
	now            func() time.Time
}

type hostLimiter struct {
	sem       chan struct{} // Semaphore for concurrency
	lastStart time.Time
	lastDone  time.Time
	mu        sync.Mutex
}

func NewRateLimiter(maxConcurrent int, minInterval time.Duration) *RateLimiter {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &RateLimiter{
		maxConcurrent:  maxConcurrent,
		minInterval:    minInterval,
		hostSemaphores: make(map[string]*hostLimiter),
		now:            time.Now,
	}
}

func (rl *RateLimiter) limiter(host string) *hostLimiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	limiter, exists := rl.hostSemaphores[host]
	if !exists {
		limiter = &hostLimiter{
			sem: make(chan struct{}, rl.maxConcurrent),
		}
		rl.hostSemaphores[host] = limiter
	}
	return limiter
}

// Wait блокирует до момента, когда к хосту можно слать следующий запрос.
// Возвращённый release обязательно вызывается после завершения попытки:
// он фиксирует время окончания и освобождает слот.
func (rl *RateLimiter) Wait(ctx context.Context, host string) (release func(), err error) {
	limiter := rl.limiter(host)

	// Acquire semaphore (concurrency control)
	select {
	case limiter.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	for {
		limiter.mu.Lock()
		next := limiter.lastDone
		if limiter.lastStart.After(next) {
			next = limiter.lastStart
		}
		wait := time.Duration(0)
		if !next.IsZero() {
			wait = next.Add(rl.minInterval).Sub(rl.now())
		}
		if wait <= 0 {
			limiter.lastStart = rl.now()
			limiter.mu.Unlock()
			break
		}
		limiter.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			<-limiter.sem
			return nil, ctx.Err()
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			limiter.mu.Lock()
			limiter.lastDone = rl.now()
			limiter.mu.Unlock()
			<-limiter.sem
		})
	}, nil
}

// LastRequest: время завершения последнего запроса к хосту (нулевое, если не было)
func (rl *RateLimiter) LastRequest(host string) time.Time {
	limiter := rl.limiter(host)
	limiter.mu.Lock()
	defer limiter.mu.Unlock()
	return limiter.lastDone
}
