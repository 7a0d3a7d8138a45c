package rag

import (
	"context"
	"sync"
)

// SerialExecutor runs submitted jobs one at a time in submission order.
//
// Ingestion is serialized through it so two documents never interleave their
// collection-ensure and insert steps, which keeps writes against a freshly
// created collection deterministic. Retrieval does not go through the
// executor and stays concurrent.
type SerialExecutor struct {
	jobs chan serialJob
	done chan struct{}

	mu         sync.Mutex
	closed     bool
	submitters sync.WaitGroup
}

type serialJob struct {
	ctx    context.Context
	run    func(context.Context) error
	result chan error
}

// NewSerialExecutor starts the worker goroutine. queueSize bounds how many
// jobs may wait; further submissions block.
func NewSerialExecutor(queueSize int) *SerialExecutor {
	if queueSize < 1 {
		queueSize = 1
	}
	e := &SerialExecutor{
		jobs: make(chan serialJob, queueSize),
		done: make(chan struct{}),
	}
	go e.loop()
	return e
}

func (e *SerialExecutor) loop() {
	defer close(e.done)
	for job := range e.jobs {
		if err := job.ctx.Err(); err != nil {
			job.result <- err
			continue
		}
		job.result <- job.run(job.ctx)
	}
}

// Submit enqueues a job and blocks until it has run, returning the job's
// error. Jobs run strictly in submission order. Returns ErrServiceClosed
// after Close; a canceled ctx abandons the wait but the job may still run.
func (e *SerialExecutor) Submit(ctx context.Context, run func(context.Context) error) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrServiceClosed
	}
	e.submitters.Add(1)
	e.mu.Unlock()
	defer e.submitters.Done()

	job := serialJob{ctx: ctx, run: run, result: make(chan error, 1)}
	select {
	case e.jobs <- job:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-job.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting jobs, lets queued jobs finish, and waits for the
// worker to drain. Safe to call multiple times.
func (e *SerialExecutor) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.mu.Unlock()

	// In-flight Submit calls hold a slot until their job is enqueued;
	// closing the channel before they finish would panic their send.
	e.submitters.Wait()
	close(e.jobs)
	<-e.done
}
