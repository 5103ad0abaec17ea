package worker

import (
	"container/list"
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrDispatcherBusy is returned when the job queue is full.
	ErrDispatcherBusy = errors.New("dispatcher busy")
	// ErrDispatcherClosed is returned for jobs submitted after Close.
	ErrDispatcherClosed = errors.New("dispatcher closed")
	// ErrJobCancelled is returned for queued jobs dropped by CancelChat.
	ErrJobCancelled = errors.New("job cancelled")
)

type chatQueue struct {
	jobs     []Job
	enqueued bool // waiting in the ready list
	running  bool // one of its jobs is on a worker
}

// Dispatcher serializes jobs per chat and hands them to a bounded worker
// pool. Chats with pending work are served round robin, so one busy chat
// cannot starve the others.
type Dispatcher struct {
	pool     *jobChannelPool
	JobQueue chan Job // interface for outer jobs get in the dispatcher

	mu        sync.Mutex
	queues    map[string]*chatQueue
	ready     *list.List // chat ids with a dispatchable job
	positions map[string]*list.Element

	wake      chan struct{}
	stop      chan struct{}
	closeOnce sync.Once
}

func NewDispatcher(minWorkers, maxWorkers, queueSize int, idleTimeout time.Duration) *Dispatcher {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	d := &Dispatcher{
		queues:    make(map[string]*chatQueue),
		ready:     list.New(),
		positions: make(map[string]*list.Element),
		JobQueue:  make(chan Job, queueSize),
		wake:      make(chan struct{}, 1),
		stop:      make(chan struct{}),
	}
	d.pool = newJobChannelPool(minWorkers, maxWorkers, idleTimeout, d)

	for i := 0; i < d.pool.min; i++ {
		d.pool.spawnWorker()
	}

	go d.run()
	return d
}

// Submit queues fn on the lane of chatID and waits for it to finish. Jobs of
// one chat run one at a time in submission order.
func (d *Dispatcher) Submit(ctx context.Context, chatID string, fn func(ctx context.Context) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	job := Job{Type: Run, ChatID: chatID, Ctx: ctx, Fn: fn, done: make(chan error, 1)}

	select {
	case <-d.stop:
		return ErrDispatcherClosed
	default:
	}
	select {
	case d.JobQueue <- job:
	default:
		return ErrDispatcherBusy
	}

	select {
	case err := <-job.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) run() {
	for {
		// dispatch one job of the chat in the front of the ready list
		if d.dispatchOne() {
			select {
			case job := <-d.JobQueue: // non-congestion
				d.enqueueJob(job)
			case <-d.stop:
				d.drain()
				return
			default:
			}
			continue
		}
		select {
		case job := <-d.JobQueue:
			d.enqueueJob(job)
		case <-d.wake:
		case <-d.stop:
			d.drain()
			return
		}
	}
}

// CancelChat drops the queued jobs of chatID. A job already running is not
// interrupted.
func (d *Dispatcher) CancelChat(chatID string) {
	d.mu.Lock()
	q := d.queues[chatID]
	if q == nil {
		d.mu.Unlock()
		return
	}
	dropped := q.jobs
	q.jobs = nil
	if elem, ok := d.positions[chatID]; ok {
		d.ready.Remove(elem)
		delete(d.positions, chatID)
		q.enqueued = false
	}
	if !q.running {
		delete(d.queues, chatID)
	}
	d.mu.Unlock()

	for _, job := range dropped {
		job.finish(ErrJobCancelled)
	}
}

func (d *Dispatcher) enqueueJob(job Job) {
	d.mu.Lock()
	defer d.mu.Unlock()

	q := d.queues[job.ChatID]
	if q == nil {
		q = &chatQueue{}
		d.queues[job.ChatID] = q
	}
	q.jobs = append(q.jobs, job)
	if q.enqueued || q.running {
		// chat already waiting or busy, finish() will requeue it
		return
	}
	d.markReadyLocked(job.ChatID, q)
}

func (d *Dispatcher) markReadyLocked(chatID string, q *chatQueue) {
	q.enqueued = true
	d.positions[chatID] = d.ready.PushBack(chatID)
}

// dispatchOne takes the first chat of the ready list and runs its oldest job.
func (d *Dispatcher) dispatchOne() bool {
	d.mu.Lock()
	elem := d.ready.Front()
	if elem == nil {
		d.mu.Unlock()
		return false
	}
	chatID := elem.Value.(string)
	q := d.queues[chatID]
	d.ready.Remove(elem)
	delete(d.positions, chatID)
	q.enqueued = false
	job := q.jobs[0]
	q.jobs = q.jobs[1:]
	q.running = true
	d.mu.Unlock()

	workerChan := d.pool.acquire()
	if workerChan == nil {
		job.finish(ErrDispatcherClosed)
		d.finish(chatID)
		return true
	}
	debugLog("[dispatcher] assign job for chat %s to worker-%p", chatID, workerChan)
	workerChan <- job
	return true
}

// finish is called by a worker after a job of chatID returned.
func (d *Dispatcher) finish(chatID string) {
	d.mu.Lock()
	q := d.queues[chatID]
	if q == nil {
		d.mu.Unlock()
		return
	}
	q.running = false
	if len(q.jobs) == 0 {
		delete(d.queues, chatID)
		d.mu.Unlock()
		return
	}
	d.markReadyLocked(chatID, q)
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Close stops accepting jobs, fails the queued ones and retires workers once
// their current job is done.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() {
		close(d.stop)
	})
}

func (d *Dispatcher) drain() {
	d.mu.Lock()
	var pending []Job
	for _, q := range d.queues {
		pending = append(pending, q.jobs...)
		q.jobs = nil
	}
	d.ready.Init()
	d.positions = make(map[string]*list.Element)
	d.mu.Unlock()

	for {
		select {
		case job := <-d.JobQueue:
			pending = append(pending, job)
			continue
		default:
		}
		break
	}
	for _, job := range pending {
		job.finish(ErrDispatcherClosed)
	}
	d.pool.close()
}

// Stats reports pending jobs, running workers and idle workers.
func (d *Dispatcher) Stats() (pending, running, idle int) {
	d.mu.Lock()
	for _, q := range d.queues {
		pending += len(q.jobs)
	}
	d.mu.Unlock()
	pending += len(d.JobQueue)
	running, idle = d.pool.size()
	return pending, running, idle
}
