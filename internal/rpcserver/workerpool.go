package rpcserver

import "sync"

// workerPool is the bounded job queue backing Mode = ModeWorker (spec
// §4.10 "duplicates the message buffer, pushes (buffer, handler, priv)
// onto a bounded queue... a fixed pool of worker goroutines pops entries
// and runs the handler"). Grounded on rpc_backend.c's MULTI_WORKERS
// circular buffer plus mutex/condvar pair, reshaped into Go's idiomatic
// channel-backed worker pool.
type workerPool struct {
	jobs chan func()
	wg   sync.WaitGroup
}

func newWorkerPool(workers, depth int) *workerPool {
	p := &workerPool{jobs: make(chan func(), depth)}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.loop()
	}
	return p
}

func (p *workerPool) loop() {
	defer p.wg.Done()
	for job := range p.jobs {
		job()
	}
}

// enqueue pushes job onto the queue, returning false if the queue is full
// (spec §4.10 "a full queue yields a no-memory reply instead of blocking
// the receive thread").
func (p *workerPool) enqueue(job func()) bool {
	select {
	case p.jobs <- job:
		return true
	default:
		return false
	}
}

// stop closes the queue and joins every worker goroutine, draining
// whatever is already queued before returning (spec §5 "worker threads
// are joined; the queue is drained" on stop).
func (p *workerPool) stop() {
	close(p.jobs)
	p.wg.Wait()
}
