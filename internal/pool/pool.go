package pool

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/silvermint/dexquote/pkg/metrics"
)

// Kind names a job type the pool knows how to execute.
type Kind string

const (
	KindMarkets            Kind = "markets"
	KindEstimatedBuyAmount Kind = "estimatedBuyAmount"
)

var (
	// ErrQueueFull is the designed backpressure signal: the pending queue is
	// at capacity and the submission was rejected without blocking.
	ErrQueueFull = errors.New("compute queue is full")

	// ErrPoolClosed is returned for submissions after shutdown and delivered
	// to futures of jobs abandoned by a hard stop.
	ErrPoolClosed = errors.New("compute pool is closed")

	// ErrUnknownKind is returned when no handler is registered for the kind.
	ErrUnknownKind = errors.New("unknown job kind")
)

// JobExecutionError wraps an error raised inside a job. It is delivered to
// the submitter through the job's future and never terminates the worker.
type JobExecutionError struct {
	Kind Kind
	Err  error
}

func (e *JobExecutionError) Error() string {
	return fmt.Sprintf("job %q failed: %v", e.Kind, e.Err)
}

func (e *JobExecutionError) Unwrap() error { return e.Err }

// JobFunc executes one job over its serialized arguments and returns a
// serializable result. Handlers share no state with the submitter or with
// each other.
type JobFunc func(args json.RawMessage) (interface{}, error)

// Job is one unit of queued computation.
type Job struct {
	ID          uuid.UUID
	Kind        Kind
	Args        json.RawMessage
	SubmittedAt time.Time

	future *Future
}

// Config sizes the pool. The pool is static: MinWorkers must equal
// MaxWorkers. MaxQueueSize bounds jobs awaiting a free worker, not jobs
// already executing.
type Config struct {
	MinWorkers   int
	MaxWorkers   int
	MaxQueueSize int
}

// Validate checks the sizing invariants.
func (c Config) Validate() error {
	if c.MaxWorkers <= 0 {
		return errors.New("max workers must be positive")
	}
	if c.MinWorkers != c.MaxWorkers {
		return errors.New("pool is static: min workers must equal max workers")
	}
	if c.MaxQueueSize < 0 {
		return errors.New("max queue size must not be negative")
	}
	return nil
}

// Pool executes CPU-bound jobs on a fixed set of workers pulling from a
// single bounded FIFO queue.
type Pool struct {
	logger   *zap.Logger
	cfg      Config
	handlers map[Kind]JobFunc

	queue  chan *Job
	killed chan struct{}
	wg     sync.WaitGroup

	mu      sync.Mutex
	started bool
	closed  bool
}

// New creates a pool. Handlers must be registered before Start.
func New(logger *zap.Logger, cfg Config) (*Pool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pool config: %w", err)
	}
	return &Pool{
		logger:   logger.Named("compute-pool"),
		cfg:      cfg,
		handlers: make(map[Kind]JobFunc),
		queue:    make(chan *Job, cfg.MaxQueueSize),
		killed:   make(chan struct{}),
	}, nil
}

// Register binds a handler to a job kind.
func (p *Pool) Register(kind Kind, fn JobFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		panic("pool: Register after Start")
	}
	p.handlers[kind] = fn
}

// Start launches the worker goroutines.
func (p *Pool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true

	for i := 0; i < p.cfg.MaxWorkers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}

	p.logger.Info("compute pool started",
		zap.Int("workers", p.cfg.MaxWorkers),
		zap.Int("max_queue_size", p.cfg.MaxQueueSize))
}

// Submit serializes args and enqueues a job of the given kind. It fails
// immediately with ErrQueueFull when the pending queue is at capacity and
// never blocks the caller.
func (p *Pool) Submit(kind Kind, args interface{}) (*Future, error) {
	if _, ok := p.handlers[kind]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}

	raw, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize job args: %w", err)
	}

	job := &Job{
		ID:          uuid.New(),
		Kind:        kind,
		Args:        raw,
		SubmittedAt: time.Now(),
		future:      newFuture(),
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrPoolClosed
	}

	select {
	case p.queue <- job:
		metrics.JobsSubmitted.WithLabelValues(string(kind)).Inc()
		metrics.QueueDepth.Set(float64(len(p.queue)))
		return job.future, nil
	default:
		metrics.JobsRejected.Inc()
		return nil, ErrQueueFull
	}
}

// Stop drains the pool: new submissions are rejected, queued and in-flight
// jobs run to completion.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	p.wg.Wait()
	p.logger.Info("compute pool drained")
}

// Kill hard-stops the pool: in-flight jobs finish, queued jobs are abandoned
// and their futures fail with ErrPoolClosed.
func (p *Pool) Kill() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.killed)
	p.mu.Unlock()

	p.wg.Wait()

	for {
		select {
		case job := <-p.queue:
			job.future.complete(nil, ErrPoolClosed)
		default:
			metrics.QueueDepth.Set(0)
			p.logger.Info("compute pool killed")
			return
		}
	}
}

// QueueLen reports the number of jobs currently awaiting a worker.
func (p *Pool) QueueLen() int {
	return len(p.queue)
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	for {
		// A hard stop wins over queued work.
		select {
		case <-p.killed:
			return
		default:
		}

		select {
		case <-p.killed:
			return
		case job, ok := <-p.queue:
			if !ok {
				return
			}
			p.run(job)
		}
	}
}

func (p *Pool) run(job *Job) {
	metrics.QueueDepth.Set(float64(len(p.queue)))

	timer := prometheus.NewTimer(metrics.JobDuration.WithLabelValues(string(job.Kind)))
	result, err := p.invoke(job)
	timer.ObserveDuration()

	if err != nil {
		metrics.JobsFailed.WithLabelValues(string(job.Kind)).Inc()
		p.logger.Warn("job failed",
			zap.String("job_id", job.ID.String()),
			zap.String("kind", string(job.Kind)),
			zap.Error(err))
		job.future.complete(nil, &JobExecutionError{Kind: job.Kind, Err: err})
		return
	}
	job.future.complete(result, nil)
}

// invoke runs the handler under panic capture so a misbehaving job can never
// take down its worker.
func (p *Pool) invoke(job *Job) (result interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return p.handlers[job.Kind](job.Args)
}
