package main

import (
	"sync"

	"github.com/gopherhost/apphost"
)

const defaultPoolSize = 4

// workerPool is a fixed set of worker goroutines with per-worker queues.
// Pinned apps always run on the same worker so their callbacks never
// overlap; unpinned work is spread round-robin.
type workerPool struct {
	mu      sync.Mutex
	queues  []chan func()
	pins    map[string]int
	next    int
	pinAll  bool
	stopped bool
	wg      sync.WaitGroup
	logger  apphost.Logger
}

func newWorkerPool(size int, pinAll bool, logger apphost.Logger) *workerPool {
	if size <= 0 {
		size = defaultPoolSize
	}
	p := &workerPool{
		pins:   make(map[string]int),
		pinAll: pinAll,
		logger: logger,
	}
	p.grow(size)
	return p
}

// grow adds workers until the pool has n queues. Caller must hold mu or be
// the constructor.
func (p *workerPool) grow(n int) {
	for len(p.queues) < n {
		q := make(chan func(), 16)
		p.queues = append(p.queues, q)
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for fn := range q {
				fn()
			}
		}()
	}
}

func (p *workerPool) ThreadCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queues)
}

func (p *workerPool) ShouldPin(app string) bool {
	return p.pinAll
}

// RecomputePinning drops assignments for apps that are no longer dispatched
// so freed workers can be reused. Assignments are rebuilt lazily on the next
// Dispatch.
func (p *workerPool) RecomputePinning() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pins = make(map[string]int)
	p.next = 0
}

func (p *workerPool) EnsureCapacity(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n > len(p.queues) {
		p.logger.Info("Growing worker pool", "from", len(p.queues), "to", n)
		p.grow(n)
	}
}

// Dispatch runs fn on the worker assigned to app, assigning one round-robin
// on first sight. The lock is held across the send so Stop cannot close the
// queue mid-dispatch; workers drain without taking the lock, so a full queue
// only delays the caller, it cannot deadlock.
func (p *workerPool) Dispatch(app string, fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return
	}
	idx, ok := p.pins[app]
	if !ok {
		idx = p.next % len(p.queues)
		p.pins[app] = idx
		p.next++
	}
	p.queues[idx] <- fn
}

// Stop closes the queues and waits for in-flight callbacks to finish.
func (p *workerPool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	for _, q := range p.queues {
		close(q)
	}
	p.mu.Unlock()
	p.wg.Wait()
}
