// Package scheduler runs the worker pool that drains the action queue:
// claim a batch, dispatch each item through the executor, advance the
// enrollment, and hand failures back to the queue's retry policy. Multiple
// pools across processes coordinate solely through the queue's claim and
// a distributed lock around the maintenance pass.
package scheduler

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/leadflowhq/outreach/internal/calendar"
	"github.com/leadflowhq/outreach/internal/domain"
	"github.com/leadflowhq/outreach/internal/executor"
	"github.com/leadflowhq/outreach/internal/metrics"
	"github.com/leadflowhq/outreach/internal/pkg/distlock"
	"github.com/leadflowhq/outreach/internal/pkg/logger"
)

// Jobs is the queue surface the pool drives.
type Jobs interface {
	Claim(ctx context.Context, workerID string, limit int) ([]domain.QueueItem, error)
	Complete(ctx context.Context, itemID, workerID string) error
	Fail(ctx context.Context, itemID, workerID, errMsg string) (bool, error)
	Reschedule(ctx context.Context, itemID, workerID string, at time.Time) error
	ReclaimStale(ctx context.Context) (int64, error)
}

// Enrollments is the state machine surface the pool drives.
type Enrollments interface {
	GetByID(ctx context.Context, id string) (*domain.Enrollment, error)
	Advance(ctx context.Context, enrollmentID string, executed *domain.Step, condResult bool) error
}

// Sequences reads sequence state and steps.
type Sequences interface {
	Get(ctx context.Context, principalID, id string) (*domain.Sequence, error)
	Steps(ctx context.Context, sequenceID string) ([]domain.Step, error)
}

// Dispatcher executes one step. Satisfied by executor.Executor.
type Dispatcher interface {
	Execute(ctx context.Context, e *domain.Enrollment, step *domain.Step, settings domain.SequenceSettings) (*executor.Result, error)
}

// StatsRoller folds the day's action outcomes into the daily rollup table.
type StatsRoller interface {
	RollupDaily(ctx context.Context, day time.Time) error
}

// pausedRetry is how long an item waits when its sequence is paused.
const pausedRetry = 15 * time.Minute

// Pool is a set of claim-and-dispatch loops sharing one worker identity.
type Pool struct {
	db      *sql.DB
	queue   Jobs
	enrolls Enrollments
	seqs    Sequences
	exec    Dispatcher
	stats   StatsRoller
	lock    distlock.DistLock
	now     func() time.Time

	workerID     string
	numWorkers   int
	batchSize    int
	pollInterval time.Duration

	totalSent     int64
	totalFailed   int64
	totalSkipped  int64
	totalDeferred int64

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	mu      sync.Mutex
}

// NewPool wires a pool. stats and lock may be nil; the maintenance pass then
// runs unguarded, which is fine for single-process deployments.
func NewPool(db *sql.DB, queue Jobs, enrolls Enrollments, seqs Sequences, exec Dispatcher, stats StatsRoller, lock distlock.DistLock, numWorkers, batchSize int, pollInterval time.Duration) *Pool {
	if numWorkers <= 0 {
		numWorkers = 2
	}
	if batchSize <= 0 {
		batchSize = 50
	}
	if pollInterval <= 0 {
		pollInterval = time.Minute
	}
	return &Pool{
		db:           db,
		queue:        queue,
		enrolls:      enrolls,
		seqs:         seqs,
		exec:         exec,
		stats:        stats,
		lock:         lock,
		now:          time.Now,
		workerID:     fmt.Sprintf("%s-%s", hostname(), uuid.New().String()[:8]),
		numWorkers:   numWorkers,
		batchSize:    batchSize,
		pollInterval: pollInterval,
	}
}

// WorkerID returns the pool's queue claim identity.
func (p *Pool) WorkerID() string { return p.workerID }

func (p *Pool) Start() {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.mu.Unlock()

	logger.Info("scheduler starting",
		"worker_id", p.workerID, "workers", p.numWorkers,
		"batch_size", p.batchSize, "poll_interval", p.pollInterval.String())

	p.registerWorker()
	go p.heartbeatLoop()
	go p.maintenanceLoop()

	for i := 0; i < p.numWorkers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// Stop drains the loops and deregisters the worker. In-flight items finish;
// anything still claimed at process death is recovered by reclaim later.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.cancel()
	p.mu.Unlock()

	p.wg.Wait()
	p.deregisterWorker()

	logger.Info("scheduler stopped",
		"worker_id", p.workerID,
		"sent", atomic.LoadInt64(&p.totalSent),
		"failed", atomic.LoadInt64(&p.totalFailed),
		"skipped", atomic.LoadInt64(&p.totalSkipped))
}

// Stats reports cumulative counters for the health endpoint.
func (p *Pool) Stats() map[string]int64 {
	return map[string]int64{
		"sent":     atomic.LoadInt64(&p.totalSent),
		"failed":   atomic.LoadInt64(&p.totalFailed),
		"skipped":  atomic.LoadInt64(&p.totalSkipped),
		"deferred": atomic.LoadInt64(&p.totalDeferred),
	}
}

func (p *Pool) worker(n int) {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		default:
		}

		items, err := p.queue.Claim(p.ctx, p.workerID, p.batchSize)
		if err != nil {
			if p.ctx.Err() != nil {
				return
			}
			logger.Error("claim batch failed", "worker", n, "error", err.Error())
			p.sleep(time.Second)
			continue
		}
		if len(items) == 0 {
			p.sleep(p.pollInterval)
			continue
		}
		metrics.QueueClaimed.Add(float64(len(items)))

		for i := range items {
			if p.ctx.Err() != nil {
				return
			}
			if err := p.processItem(p.ctx, &items[i]); err != nil {
				logger.Error("process item failed",
					"worker", n, "item_id", items[i].ID, "error", err.Error())
			}
		}
	}
}

// processItem validates the claim is still actionable, dispatches it, and
// settles the queue item. The enrollment or step going stale between enqueue
// and claim is normal; such items complete as no-ops.
func (p *Pool) processItem(ctx context.Context, item *domain.QueueItem) error {
	e, err := p.enrolls.GetByID(ctx, item.EnrollmentID)
	if err != nil {
		return p.failItem(ctx, item, fmt.Errorf("load enrollment: %w", err))
	}
	if e.Status != domain.EnrollmentActive {
		atomic.AddInt64(&p.totalSkipped, 1)
		return p.queue.Complete(ctx, item.ID, p.workerID)
	}

	seq, err := p.seqs.Get(ctx, e.PrincipalID, e.SequenceID)
	if err != nil {
		return p.failItem(ctx, item, fmt.Errorf("load sequence: %w", err))
	}
	switch seq.Status {
	case domain.SequenceActive:
	case domain.SequencePaused:
		return p.queue.Reschedule(ctx, item.ID, p.workerID, time.Now().Add(pausedRetry))
	default:
		atomic.AddInt64(&p.totalSkipped, 1)
		return p.queue.Complete(ctx, item.ID, p.workerID)
	}

	step, err := p.findStep(ctx, e.SequenceID, item.StepID)
	if err != nil {
		return p.failItem(ctx, item, err)
	}
	if step == nil || !step.Active {
		atomic.AddInt64(&p.totalSkipped, 1)
		return p.queue.Complete(ctx, item.ID, p.workerID)
	}

	// Retried, deferred, and reclaimed items land here at arbitrary times, so
	// the send window is re-checked on every claim, not just at enqueue.
	win, err := calendar.Resolve(seq.Settings)
	if err != nil {
		return p.failItem(ctx, item, fmt.Errorf("resolve send window: %w", err))
	}
	now := p.now()
	if next := win.Snap(now); next.After(now) {
		atomic.AddInt64(&p.totalDeferred, 1)
		logger.Debug("item outside send window",
			"item_id", item.ID, "next", next.Format(time.RFC3339))
		return p.queue.Reschedule(ctx, item.ID, p.workerID, next)
	}

	res, err := p.exec.Execute(ctx, e, step, seq.Settings)
	if err != nil {
		atomic.AddInt64(&p.totalFailed, 1)
		return p.failItem(ctx, item, err)
	}
	if res.Outcome == executor.OutcomeDeferred {
		atomic.AddInt64(&p.totalDeferred, 1)
		logger.Debug("item deferred by rate limit",
			"item_id", item.ID, "retry_at", res.RetryAt.Format(time.RFC3339))
		return p.queue.Reschedule(ctx, item.ID, p.workerID, win.Snap(res.RetryAt))
	}

	if err := p.enrolls.Advance(ctx, e.ID, step, res.ConditionResult); err != nil {
		// The dispatch stuck; retrying the item replays through the
		// executor's idempotence guard and lands back here.
		return p.failItem(ctx, item, fmt.Errorf("advance enrollment: %w", err))
	}
	atomic.AddInt64(&p.totalSent, 1)
	return p.queue.Complete(ctx, item.ID, p.workerID)
}

func (p *Pool) failItem(ctx context.Context, item *domain.QueueItem, cause error) error {
	requeued, err := p.queue.Fail(ctx, item.ID, p.workerID, cause.Error())
	if err != nil {
		return errors.Join(cause, err)
	}
	if requeued {
		metrics.QueueRetried.Inc()
	}
	return cause
}

func (p *Pool) findStep(ctx context.Context, sequenceID, stepID string) (*domain.Step, error) {
	steps, err := p.seqs.Steps(ctx, sequenceID)
	if err != nil {
		return nil, fmt.Errorf("load steps: %w", err)
	}
	for i := range steps {
		if steps[i].ID == stepID {
			return &steps[i], nil
		}
	}
	return nil, nil
}

// maintenanceLoop runs the shared passes once per poll cycle: reclaiming
// items whose lease expired and rolling up daily stats. The distributed lock
// keeps one pool at a time doing this across a multi-worker deployment.
func (p *Pool) maintenanceLoop() {
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	p.maintain()
	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.maintain()
		}
	}
}

func (p *Pool) maintain() {
	ctx, cancel := context.WithTimeout(p.ctx, 30*time.Second)
	defer cancel()

	if p.lock != nil {
		ok, err := p.lock.Acquire(ctx)
		if err != nil {
			logger.Warn("maintenance lock error", "error", err.Error())
			return
		}
		if !ok {
			return
		}
		defer func() {
			if err := p.lock.Release(ctx); err != nil {
				logger.Warn("maintenance lock release failed", "error", err.Error())
			}
		}()
	}

	n, err := p.queue.ReclaimStale(ctx)
	if err != nil {
		logger.Error("reclaim stale items failed", "error", err.Error())
	} else if n > 0 {
		metrics.QueueReclaimed.Add(float64(n))
		logger.Warn("stale queue items reclaimed", "count", n)
	}

	if p.stats != nil {
		if err := p.stats.RollupDaily(ctx, time.Now().UTC()); err != nil {
			logger.Error("daily stats rollup failed", "error", err.Error())
		}
	}
}

func (p *Pool) registerWorker() {
	if p.db == nil {
		return
	}
	_, err := p.db.ExecContext(p.ctx, `
		INSERT INTO sequence_workers (id, hostname, num_workers, batch_size, started_at, last_heartbeat_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE SET started_at = NOW(), last_heartbeat_at = NOW()`,
		p.workerID, hostname(), p.numWorkers, p.batchSize)
	if err != nil {
		logger.Warn("worker registration failed", "error", err.Error())
	}
}

func (p *Pool) deregisterWorker() {
	if p.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := p.db.ExecContext(ctx, `DELETE FROM sequence_workers WHERE id = $1`, p.workerID); err != nil {
		logger.Warn("worker deregistration failed", "error", err.Error())
	}
}

func (p *Pool) heartbeatLoop() {
	if p.db == nil {
		return
	}
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			_, err := p.db.ExecContext(p.ctx,
				`UPDATE sequence_workers SET last_heartbeat_at = NOW() WHERE id = $1`, p.workerID)
			if err != nil && p.ctx.Err() == nil {
				logger.Warn("heartbeat failed", "error", err.Error())
			}
		}
	}
}

func (p *Pool) sleep(d time.Duration) {
	select {
	case <-p.ctx.Done():
	case <-time.After(d):
	}
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return h
}
