package engine

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/NikhilSetiya/fallback-engine/internal/stage"
	"github.com/NikhilSetiya/fallback-engine/pkg/errors"
	"github.com/NikhilSetiya/fallback-engine/pkg/logging"
	"github.com/NikhilSetiya/fallback-engine/pkg/metrics"
)

// writebackRedisTimeout bounds each Redis write so a slow cache cannot back
// up the pool
const writebackRedisTimeout = 2 * time.Second

// writebackJob carries a fresh payload from a successful upstream stage to
// the cache layers
type writebackJob struct {
	request *stage.Request
	data    interface{}
	source  string
}

// WritebackConfig contains writeback pool configuration
type WritebackConfig struct {
	QueueLen        int           `json:"queue_len"`
	Workers         int           `json:"workers"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`
}

// DefaultWritebackConfig returns default writeback pool configuration
func DefaultWritebackConfig() WritebackConfig {
	return WritebackConfig{
		QueueLen:        256,
		Workers:         2,
		ShutdownTimeout: 10 * time.Second,
	}
}

// WritebackStats contains writeback pool statistics
type WritebackStats struct {
	Enqueued  int64     `json:"enqueued"`
	Dropped   int64     `json:"dropped"`
	Written   int64     `json:"written"`
	Failed    int64     `json:"failed"`
	LastJobAt time.Time `json:"last_job_at"`
	StartedAt time.Time `json:"started_at"`
}

// WritebackPool copies successful upstream payloads into the memory and
// Redis cache stages off the request path. Enqueue never blocks; when the
// queue is full the payload is dropped and the next cascade repopulates it.
type WritebackPool struct {
	memory  *stage.MemoryCacheStage
	redis   *stage.RedisCacheStage
	config  WritebackConfig
	metrics *metrics.Metrics
	logger  *logging.Logger

	jobs   chan writebackJob
	stopCh chan struct{}
	doneCh chan struct{}

	mu      sync.RWMutex
	running bool
	stats   WritebackStats
}

// NewWritebackPool creates a writeback pool for the given cache stages.
// Either stage may be nil; writes to it are skipped.
func NewWritebackPool(memory *stage.MemoryCacheStage, redis *stage.RedisCacheStage, config WritebackConfig, m *metrics.Metrics) *WritebackPool {
	if config.QueueLen <= 0 {
		config.QueueLen = DefaultWritebackConfig().QueueLen
	}
	if config.Workers <= 0 {
		config.Workers = DefaultWritebackConfig().Workers
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = DefaultWritebackConfig().ShutdownTimeout
	}

	if m == nil {
		m = metrics.NewMetrics(&metrics.Config{Enabled: false})
	}

	return &WritebackPool{
		memory:  memory,
		redis:   redis,
		config:  config,
		metrics: m,
		logger:  logging.GetLogger(),
		jobs:    make(chan writebackJob, config.QueueLen),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// Start starts the writeback workers
func (p *WritebackPool) Start() error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return errors.NewValidationError("writeback pool is already running")
	}
	p.running = true
	p.stats.StartedAt = time.Now()
	p.mu.Unlock()

	var wg sync.WaitGroup
	for i := 0; i < p.config.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.workerLoop()
		}()
	}

	go func() {
		wg.Wait()
		close(p.doneCh)
	}()

	return nil
}

// Stop stops the pool gracefully, draining queued jobs until the shutdown
// timeout expires
func (p *WritebackPool) Stop() error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return errors.NewValidationError("writeback pool is not running")
	}
	p.mu.Unlock()

	close(p.stopCh)

	select {
	case <-p.doneCh:
	case <-time.After(p.config.ShutdownTimeout):
		return errors.NewTimeoutError("writeback pool shutdown")
	}

	p.mu.Lock()
	p.running = false
	p.mu.Unlock()

	return nil
}

// IsRunning returns whether the pool is running
func (p *WritebackPool) IsRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.running
}

// Stats returns writeback statistics
func (p *WritebackPool) Stats() WritebackStats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.stats
}

// Depth returns the number of jobs currently waiting in the queue
func (p *WritebackPool) Depth() int {
	return len(p.jobs)
}

// Enqueue hands a payload to the pool without blocking. A full queue drops
// the payload.
func (p *WritebackPool) Enqueue(req *stage.Request, data interface{}, source string) bool {
	if req == nil {
		return false
	}

	job := writebackJob{request: req, data: data, source: source}

	select {
	case p.jobs <- job:
		p.mu.Lock()
		p.stats.Enqueued++
		p.mu.Unlock()
		return true
	default:
		p.mu.Lock()
		p.stats.Dropped++
		p.mu.Unlock()
		p.metrics.RecordWritebackDrop("all")
		p.logger.Debug("Writeback queue full, payload dropped",
			"request", req.Key(),
			"source", source,
		)
		return false
	}
}

func (p *WritebackPool) workerLoop() {
	for {
		select {
		case <-p.stopCh:
			// Drain whatever is already queued before exiting
			for {
				select {
				case job := <-p.jobs:
					p.process(job)
				default:
					return
				}
			}
		case job := <-p.jobs:
			p.process(job)
		}
	}
}

func (p *WritebackPool) process(job writebackJob) {
	p.mu.Lock()
	p.stats.LastJobAt = time.Now()
	p.mu.Unlock()

	if p.memory != nil {
		p.memory.Store(job.request, job.data, job.source)
		p.metrics.RecordCacheOperation("memory", "writeback", "success")
		p.recordWritten()
	}

	if p.redis != nil {
		ctx, cancel := context.WithTimeout(context.Background(), writebackRedisTimeout)
		err := p.redis.Store(ctx, job.request, job.data, job.source)
		cancel()

		if err != nil {
			p.metrics.RecordCacheOperation("redis", "writeback", "error")
			p.recordFailed()
			p.logger.WithError(err).WithFields(logrus.Fields{
				"request": job.request.Key(),
				"source":  job.source,
			}).Debug("Redis writeback failed")
			return
		}

		p.metrics.RecordCacheOperation("redis", "writeback", "success")
		p.recordWritten()
	}
}

func (p *WritebackPool) recordWritten() {
	p.mu.Lock()
	p.stats.Written++
	p.mu.Unlock()
}

func (p *WritebackPool) recordFailed() {
	p.mu.Lock()
	p.stats.Failed++
	p.mu.Unlock()
}
