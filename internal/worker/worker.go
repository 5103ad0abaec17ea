package worker

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
)

// JobType tells a worker what to do with a job.
type JobType int

const (
	Run JobType = iota
	Stop
)

// Job is one unit of work bound to a chat lane.
type Job struct {
	Type   JobType
	ChatID string
	Ctx    context.Context
	Fn     func(ctx context.Context) error

	done chan error
}

func (job Job) finish(err error) {
	if job.done != nil {
		job.done <- err
	}
}

type Worker struct {
	pool       *jobChannelPool
	dispatcher *Dispatcher
	jobChannel chan Job
}

func NewWorker(pool *jobChannelPool, dispatcher *Dispatcher) *Worker {
	return &Worker{
		pool:       pool,
		dispatcher: dispatcher,
		jobChannel: make(chan Job),
	}
}

func (w *Worker) Start() {
	go func() {
		for job := range w.jobChannel {
			if job.Type == Stop {
				w.pool.retire(w.jobChannel)
				return
			}
			job.finish(w.execute(job))
			w.dispatcher.finish(job.ChatID)
			if !w.pool.Release(w.jobChannel) {
				w.pool.retire(w.jobChannel)
				return
			}
		}
	}()
}

// execute runs the job unless its caller already gave up.
func (w *Worker) execute(job Job) (err error) {
	ctx := job.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			log.Error("worker job panicked", "chat", job.ChatID, "panic", r)
			err = fmt.Errorf("job for chat %s panicked: %v", job.ChatID, r)
		}
	}()
	return job.Fn(ctx)
}
