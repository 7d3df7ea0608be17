package predict

import (
	"context"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"
)

// Job holds the attributes needed to perform one forward pass. The worker
// owns Input from the moment the job is queued and releases it.
type Job struct {
	ctx    context.Context
	model  *Model
	Input  *Tensor
	result chan jobResult
}

type jobResult struct {
	output *Tensor
	err    error
}

// NewWorker creates takes a numeric id and a channel w/ worker pool.
func NewWorker(id int, workerPool chan chan Job, wg *sync.WaitGroup) Worker {
	return Worker{
		id:         id,
		jobQueue:   make(chan Job),
		workerPool: workerPool,
		quitChan:   make(chan bool),
		wg:         wg,
	}
}

type Worker struct {
	id         int
	jobQueue   chan Job
	workerPool chan chan Job
	quitChan   chan bool
	wg         *sync.WaitGroup
}

func (w Worker) start() {
	log.Debug("[Worker] Worker ", w.id, " starting")

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		for {
			// Add my jobQueue to the worker pool.
			select {
			case w.workerPool <- w.jobQueue:
			case <-w.quitChan:
				log.Debug("[Worker] Worker ", w.id, " stopping")
				return
			}

			select {
			case job := <-w.jobQueue:
				// Dispatcher has added a job to my jobQueue.
				job.result <- w.run(job)
			case <-w.quitChan:
				// We have been asked to stop.
				log.Debug("[Worker] Worker ", w.id, " stopping")
				return
			}
		}
	}()
}

func (w Worker) run(job Job) (res jobResult) {
	defer job.Input.Release()
	defer func() {
		if r := recover(); r != nil {
			log.Error("[Worker] Inference panicked: ", r)
			res = jobResult{err: fmt.Errorf("inference panicked: %v", r)}
		}
	}()

	// the requester already gave up, don't burn a forward pass on it
	if err := job.ctx.Err(); err != nil {
		return jobResult{err: err}
	}

	output, err := job.model.backend.Infer(job.Input)
	if err != nil {
		log.Debug("[Worker] Couldn't predict: ", err.Error())
		return jobResult{err: err}
	}
	return jobResult{output: output}
}

func (w Worker) stop() {
	close(w.quitChan)
}

// NewDispatcher creates, and returns a new Dispatcher object.
func NewDispatcher(maxQueueSize int, maxWorkers int) *Dispatcher {
	workerPool := make(chan chan Job, maxWorkers)

	return &Dispatcher{
		jobQueue:   make(chan Job, maxQueueSize),
		maxWorkers: maxWorkers,
		workerPool: workerPool,
		quit:       make(chan struct{}),
	}
}

type Dispatcher struct {
	workerPool chan chan Job
	maxWorkers int
	jobQueue   chan Job
	workers    []Worker
	wg         sync.WaitGroup
	quit       chan struct{}
	stopOnce   sync.Once
}

func (d *Dispatcher) Run() {
	for i := 0; i < d.maxWorkers; i++ {
		worker := NewWorker(i+1, d.workerPool, &d.wg)
		worker.start()
		d.workers = append(d.workers, worker)
	}

	go d.dispatch()
}

// dispatch hands queued jobs to idle workers. Jobs wait in the bounded
// jobQueue until a worker is free.
func (d *Dispatcher) dispatch() {
	for {
		select {
		case job := <-d.jobQueue:
			select {
			case workerJobQueue := <-d.workerPool:
				select {
				case workerJobQueue <- job:
					continue
				case <-d.quit:
				}
			case <-d.quit:
			}
			job.Input.Release()
			job.result <- jobResult{err: ErrServiceUnavailable}
			return
		case <-d.quit:
			return
		}
	}
}

// Submit queues a forward pass and waits for its result. Ownership of input
// passes to the dispatcher, the returned output belongs to the caller. A full
// queue is reported as ErrQueueFull right away.
func (d *Dispatcher) Submit(ctx context.Context, model *Model, input *Tensor) (*Tensor, error) {
	if err := ctx.Err(); err != nil {
		input.Release()
		return nil, err
	}
	job := Job{ctx: ctx, model: model, Input: input, result: make(chan jobResult, 1)}

	select {
	case <-d.quit:
		input.Release()
		return nil, ErrServiceUnavailable
	default:
	}
	select {
	case d.jobQueue <- job:
	default:
		input.Release()
		log.Debug("[Worker] Rejecting job, queue is full")
		return nil, ErrQueueFull
	}

	select {
	case res := <-job.result:
		return res.output, res.err
	case <-ctx.Done():
		// the worker still delivers into the buffered channel; drain it so the
		// output buffer makes it back to the pool.
		go func() {
			res := <-job.result
			res.output.Release()
		}()
		return nil, ctx.Err()
	case <-d.quit:
		return nil, ErrServiceUnavailable
	}
}

func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		close(d.quit)
		for _, w := range d.workers {
			w.stop()
		}
		d.wg.Wait()
	})
}
