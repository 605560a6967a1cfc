// Package workerpool is an elastic FIFO task executor: it grows a goroutine
// per queued task up to a ceiling, and an idle-reaping cleaner shrinks it
// back toward a floor once traffic subsides.
package workerpool

import (
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
)

const defaultCleanInterval = 10 * time.Second

// Task is one unit of work submitted to the pool.
type Task func()

// Pool is a FIFO task queue serviced by a floor-to-ceiling number of
// worker goroutines. The idle-worker accounting uses two condition
// variables over one mutex, preserving the invariant that a worker
// becoming idle while more than MinWorkers are running wakes the cleaner.
type Pool struct {
	cfg Config

	mu            sync.Mutex
	queueNonEmpty *sync.Cond
	cleanable     *sync.Cond
	queue         []Task // a nil Task is the cleaner's retirement sentinel
	numWorkers    int
	numIdle       int
	nextWorkerID  int

	submitted uint64
	completed uint64
}

// New builds a pool from cfg (zero-valued fields fall back to the package
// defaults) and starts its cleaner goroutine. The cleaner runs for the
// lifetime of the process; there is no Close.
func New(cfg Config) *Pool {
	cfg = cfg.normalize()
	p := &Pool{cfg: cfg}
	p.queueNonEmpty = sync.NewCond(&p.mu)
	p.cleanable = sync.NewCond(&p.mu)
	go p.cleaner()
	return p
}

// Submit enqueues task. If an idle worker is waiting, it is woken;
// otherwise a new worker is spawned as long as the pool is below
// MaxWorkers, and task waits in the queue until one frees up.
func (p *Pool) Submit(task Task) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.queue = append(p.queue, task)
	atomic.AddUint64(&p.submitted, 1)

	if p.numIdle > 0 {
		p.queueNonEmpty.Signal()
	} else if p.numWorkers < p.cfg.MaxWorkers {
		p.spawnWorkerLocked()
	}
}

func (p *Pool) spawnWorkerLocked() {
	id := p.nextWorkerID
	p.nextWorkerID++
	p.numWorkers++
	log.Printf("workerpool: spawned worker %d (total %s)", id, humanize.Comma(int64(p.numWorkers)))
	go p.worker(id)
}

func (p *Pool) worker(id int) {
	defer func() {
		p.mu.Lock()
		p.numWorkers--
		log.Printf("workerpool: retired worker %d (total %s)", id, humanize.Comma(int64(p.numWorkers)))
		p.mu.Unlock()
	}()

	for {
		p.mu.Lock()
		p.numIdle++
		if p.numWorkers > p.cfg.MinWorkers {
			p.cleanable.Signal()
		}
		for len(p.queue) == 0 {
			p.queueNonEmpty.Wait()
		}
		task := p.queue[0]
		p.queue = p.queue[1:]
		p.numIdle--
		p.mu.Unlock()

		if task == nil {
			return
		}
		p.runTask(task)
		atomic.AddUint64(&p.completed, 1)
	}
}

// runTask shields the worker from a panicking task. The connection handler
// is already the error boundary for request processing, so anything that
// escapes it is logged and discarded rather than taking the worker down.
func (p *Pool) runTask(task Task) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("workerpool: task panicked: %v", r)
		}
	}()
	task()
}

// cleaner wakes every CleanInterval and retires one idle worker if the
// pool is above its floor. Otherwise it parks on cleanable until a worker
// signals that shrinking is possible again, then re-checks after the next
// full interval — it never retires more than one worker per interval.
func (p *Pool) cleaner() {
	for {
		time.Sleep(p.cfg.CleanInterval)

		p.mu.Lock()
		if p.numWorkers > p.cfg.MinWorkers && p.numIdle > 0 {
			p.queue = append(p.queue, nil)
			p.queueNonEmpty.Signal()
			p.mu.Unlock()
		} else {
			p.cleanable.Wait()
			p.mu.Unlock()
		}
	}
}

// Stats is a point-in-time snapshot of pool activity.
type Stats struct {
	Workers   int
	Idle      int
	Submitted uint64
	Completed uint64
}

func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Workers:   p.numWorkers,
		Idle:      p.numIdle,
		Submitted: atomic.LoadUint64(&p.submitted),
		Completed: atomic.LoadUint64(&p.completed),
	}
}
