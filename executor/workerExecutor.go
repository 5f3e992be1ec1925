package executor

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

type Job struct {
	Id        string
	Ctx       context.Context
	JobFunc   func() error
	OnError   func(error)
	OnSuccess func()
}

func (j Job) fail(err error) {
	if j.OnError != nil {
		j.OnError(err)
	}
}

func (j Job) succeed() {
	if j.OnSuccess != nil {
		j.OnSuccess()
	}
}

type WorkerExecutorOptions struct {
	Logger       *zap.Logger
	MaxRetries   int
	WorkerCount  int
	RetryBackoff time.Duration
}

// WorkerExecutor runs jobs on a fixed pool of workers, retrying failures with exponential backoff.
type WorkerExecutor struct {
	ctx      context.Context
	logger   *zap.Logger
	jobs     chan Job
	wg       *sync.WaitGroup
	opts     *WorkerExecutorOptions
	stopOnce sync.Once
}

func NewWorkerExecutor(ctx context.Context, opts *WorkerExecutorOptions) *WorkerExecutor {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	if opts.WorkerCount <= 0 {
		opts.WorkerCount = 1
	}

	return &WorkerExecutor{
		ctx:    ctx,
		logger: logger.Named("executor"),
		jobs:   make(chan Job),
		wg:     &sync.WaitGroup{},
		opts:   opts,
	}
}

// Enqueue hands a job to the next free worker. It fails the job if the executor context ends first.
func (w *WorkerExecutor) Enqueue(job Job) {
	if job.Ctx == nil {
		job.Ctx = w.ctx
	}

	select {
	case w.jobs <- job:
	case <-w.ctx.Done():
		job.fail(w.ctx.Err())
	}
}

func (w *WorkerExecutor) Start() {
	for i := 0; i < w.opts.WorkerCount; i++ {
		w.wg.Add(1)

		go func() {
			defer w.wg.Done()
			w.spinWorker()
		}()
	}
}

// Wait for all workers to finish.
func (w *WorkerExecutor) Wait() {
	w.wg.Wait()
}

// Stop closes the queue, workers exit once the queued jobs are done.
func (w *WorkerExecutor) Stop() {
	w.stopOnce.Do(func() {
		close(w.jobs)
	})
}

func (w *WorkerExecutor) spinWorker() {
	for {
		select {
		case job, ok := <-w.jobs:
			if !ok {
				return
			}

			if err := job.Ctx.Err(); err != nil {
				w.logger.Debug("job context is done", zap.String("job", job.Id), zap.Error(err))
				job.fail(err)
				continue
			}

			w.processJob(job)

		case <-w.ctx.Done():
			w.logger.Debug("worker context is done")
			return
		}
	}
}

// processJob runs the job, retrying if necessary, and calls the matching callback once.
func (w *WorkerExecutor) processJob(job Job) {
	backoff := w.opts.RetryBackoff

	for attempt := 0; ; attempt++ {
		err := job.JobFunc()

		if err == nil {
			w.logger.Debug("job completed", zap.String("job", job.Id), zap.Int("attempt", attempt+1))
			job.succeed()
			return
		}

		if attempt >= w.opts.MaxRetries {
			w.logger.Warn("job failed", zap.String("job", job.Id), zap.Int("attempts", attempt+1), zap.Error(err))
			job.fail(err)
			return
		}

		w.logger.Debug("retrying job", zap.String("job", job.Id), zap.Duration("backoff", backoff), zap.Error(err))

		if backoff > 0 {
			t := time.NewTimer(backoff)

			select {
			case <-t.C:
				backoff *= 2
			case <-job.Ctx.Done():
				t.Stop()
				job.fail(job.Ctx.Err())
				return
			}
		}
	}
}
