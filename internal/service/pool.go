package service

import (
	"context"
	"log"
	"sync"

	"netfuse/internal/domain"
)

// IngestJob is one queued batch of raw records.
type IngestJob struct {
	SourceHost string
	Records    []domain.RawRecord
	Options    domain.IngestOptions
}

// Pool runs ingest batches on a fixed set of workers. Serve mode uses it so
// dump uploads and watcher pickups never block the request path; batches
// touching disjoint identifiers fuse concurrently.
type Pool struct {
	svc     *Service
	workers int
	jobs    chan IngestJob
	wg      sync.WaitGroup
	stopped sync.Once
}

// NewPool creates a pool with the given worker count and queue depth.
func NewPool(svc *Service, workers, queue int) *Pool {
	if workers <= 0 {
		workers = 2
	}
	if queue <= 0 {
		queue = 32
	}
	return &Pool{
		svc:     svc,
		workers: workers,
		jobs:    make(chan IngestJob, queue),
	}
}

// Start launches the workers. They drain the queue until Stop is called or
// the context ends.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
}

func (p *Pool) worker(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-p.jobs:
			if !ok {
				return
			}
			report, err := p.svc.Ingest(ctx, job.SourceHost, job.Records, job.Options)
			if err != nil {
				log.Printf("ingest from %s failed: %v", job.SourceHost, err)
				continue
			}
			log.Printf("ingested batch %s from %s: %d accepted, %d rejected, %d conflicts, %d merges",
				report.BatchID, report.SourceHost, report.Accepted, report.Rejected,
				len(report.Conflicts), len(report.Merges))
		}
	}
}

// Submit queues a job. Returns false when the queue is full.
func (p *Pool) Submit(job IngestJob) bool {
	select {
	case p.jobs <- job:
		return true
	default:
		return false
	}
}

// Stop closes the queue and waits for in-flight batches to finish.
func (p *Pool) Stop() {
	p.stopped.Do(func() { close(p.jobs) })
	p.wg.Wait()
}
