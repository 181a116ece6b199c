package jobs

import (
	"context"
	"log"
	"time"
)

// JobProcessor drains whatever slice of the dispatch queue is currently due.
// Implementations must tolerate being invoked again before new jobs exist;
// an empty queue is not an error.
type JobProcessor interface {
	ProcessJobs(ctx context.Context) error
}

// Worker drives a JobProcessor on a fixed poll interval. Delays are encoded
// in each job's run_at, so the worker itself never sleeps per job; it only
// wakes up, drains what is due, and goes back to waiting.
type Worker struct {
	processor JobProcessor
	interval  time.Duration
	stop      chan struct{}
	done      chan struct{}
}

func NewWorker(processor JobProcessor, pollInterval time.Duration) *Worker {
	return &Worker{
		processor: processor,
		interval:  pollInterval,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start polls until the context is cancelled or Stop is called. The queue is
// drained once immediately so jobs left over from a previous run are not
// stuck waiting for the first tick.
func (w *Worker) Start(ctx context.Context) {
	defer close(w.done)

	log.Printf("dispatch worker: polling every %v", w.interval)
	w.drain(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("dispatch worker: context cancelled")
			return
		case <-w.stop:
			log.Println("dispatch worker: stop requested")
			return
		case <-ticker.C:
			w.drain(ctx)
		}
	}
}

func (w *Worker) drain(ctx context.Context) {
	if err := w.processor.ProcessJobs(ctx); err != nil {
		log.Printf("dispatch worker: drain failed: %v", err)
	}
}

// Stop signals the poll loop and blocks until the in-flight drain, if any,
// has finished.
func (w *Worker) Stop() {
	close(w.stop)
	<-w.done
	log.Println("dispatch worker: stopped")
}
