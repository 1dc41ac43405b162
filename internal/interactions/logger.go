package interactions

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/completion-gateway/internal/types"
)

// ErrPersistence wraps every store failure. It is logged and counted, never
// returned to a caller of Record.
var ErrPersistence = errors.New("interaction persistence failed")

const (
	DefaultBufferSize    = 1000
	DefaultBatchSize     = 100
	DefaultFlushInterval = 2 * time.Second
	DefaultWriteTimeout  = 5 * time.Second
)

// Store persists interaction records. Insert must not retain the slice.
type Store interface {
	Insert(ctx context.Context, records []*types.InteractionRecord) error
	Close() error
}

// Reader is implemented by stores that can list what they wrote
type Reader interface {
	Recent(ctx context.Context, limit int) ([]*types.InteractionRecord, error)
}

// TokenCounter counts tokens in message and response text
type TokenCounter interface {
	Count(text string) int
}

// Config holds interaction logging configuration
type Config struct {
	Enabled       bool          `yaml:"enabled"`
	BufferSize    int           `yaml:"buffer_size"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	WriteTimeout  time.Duration `yaml:"write_timeout"`
	LogAnonymous  bool          `yaml:"log_anonymous"`
}

// Stats are running counters since the logger started
type Stats struct {
	Recorded int64 `json:"recorded"`
	Dropped  int64 `json:"dropped"`
	Skipped  int64 `json:"skipped"`
	Written  int64 `json:"written"`
	Failed   int64 `json:"failed"`
}

// Logger writes interaction records in the background. Record never blocks
// and never fails the request that produced the record.
type Logger struct {
	config   Config
	store    Store
	counter  TokenCounter
	logger   *logrus.Logger
	buffer   chan *types.InteractionRecord
	stopChan chan struct{}
	wg       sync.WaitGroup
	mu       sync.RWMutex
	stopped  bool

	recorded atomic.Int64
	dropped  atomic.Int64
	skipped  atomic.Int64
	written  atomic.Int64
	failed   atomic.Int64
}

// NewLogger creates a logger and starts its worker. A nil store disables it.
func NewLogger(config Config, store Store, counter TokenCounter, logger *logrus.Logger) *Logger {
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultBufferSize
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultBatchSize
	}
	if config.FlushInterval <= 0 {
		config.FlushInterval = DefaultFlushInterval
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = DefaultWriteTimeout
	}
	if store == nil {
		config.Enabled = false
	}

	l := &Logger{
		config:   config,
		store:    store,
		counter:  counter,
		logger:   logger,
		buffer:   make(chan *types.InteractionRecord, config.BufferSize),
		stopChan: make(chan struct{}),
	}

	if config.Enabled {
		l.wg.Add(1)
		go l.worker()
	}

	return l
}

// Record queues rec for persistence. A full queue drops the record.
func (l *Logger) Record(rec *types.InteractionRecord) {
	if rec == nil {
		return
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	if !l.config.Enabled || l.stopped {
		return
	}
	if !l.config.LogAnonymous && rec.UserID == "" {
		l.skipped.Add(1)
		return
	}

	select {
	case l.buffer <- rec:
		l.recorded.Add(1)
	default:
		l.dropped.Add(1)
		l.logger.WithFields(logrus.Fields{
			"record_id":  rec.ID,
			"request_id": rec.RequestID,
		}).Warn("Interaction buffer full, dropping record")
	}
}

// Stats returns a snapshot of the counters
func (l *Logger) Stats() Stats {
	return Stats{
		Recorded: l.recorded.Load(),
		Dropped:  l.dropped.Load(),
		Skipped:  l.skipped.Load(),
		Written:  l.written.Load(),
		Failed:   l.failed.Load(),
	}
}

// Stop flushes everything queued and stops the worker. The store is not
// closed.
func (l *Logger) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.config.Enabled || l.stopped {
		return
	}

	l.stopped = true
	close(l.stopChan)
	l.wg.Wait()
	close(l.buffer)

	batch := make([]*types.InteractionRecord, 0, l.config.BatchSize)
	for rec := range l.buffer {
		batch = append(batch, rec)
		if len(batch) >= l.config.BatchSize {
			l.persist(batch)
			batch = batch[:0]
		}
	}
	if len(batch) > 0 {
		l.persist(batch)
	}

	stats := l.Stats()
	l.logger.WithFields(logrus.Fields{
		"written": stats.Written,
		"failed":  stats.Failed,
		"dropped": stats.Dropped,
	}).Info("Interaction logger stopped")
}

func (l *Logger) worker() {
	defer l.wg.Done()

	ticker := time.NewTicker(l.config.FlushInterval)
	defer ticker.Stop()

	batch := make([]*types.InteractionRecord, 0, l.config.BatchSize)

	for {
		select {
		case rec := <-l.buffer:
			batch = append(batch, rec)
			if len(batch) >= l.config.BatchSize {
				l.persist(batch)
				batch = batch[:0]
			}

		case <-ticker.C:
			if len(batch) > 0 {
				l.persist(batch)
				batch = batch[:0]
			}

		case <-l.stopChan:
			if len(batch) > 0 {
				l.persist(batch)
			}
			return
		}
	}
}

// persist writes one batch with a context detached from any request
func (l *Logger) persist(batch []*types.InteractionRecord) {
	for _, rec := range batch {
		l.countTokens(rec)
	}

	ctx, cancel := context.WithTimeout(context.Background(), l.config.WriteTimeout)
	defer cancel()

	start := time.Now()
	err := l.insert(ctx, batch)
	if err != nil {
		l.failed.Add(int64(len(batch)))
		l.logger.WithFields(logrus.Fields{
			"records":     len(batch),
			"duration_ms": time.Since(start).Milliseconds(),
		}).WithError(err).Error("Failed to persist interaction records")
		return
	}

	l.written.Add(int64(len(batch)))
	l.logger.WithFields(logrus.Fields{
		"records":     len(batch),
		"duration_ms": time.Since(start).Milliseconds(),
	}).Debug("Interaction records persisted")
}

func (l *Logger) insert(ctx context.Context, batch []*types.InteractionRecord) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: store panicked: %v", ErrPersistence, r)
		}
	}()

	if err := l.store.Insert(ctx, batch); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return nil
}

func (l *Logger) countTokens(rec *types.InteractionRecord) {
	if l.counter == nil {
		return
	}
	if rec.PromptTokens == 0 {
		rec.PromptTokens = l.counter.Count(rec.Message)
	}
	if rec.ResponseTokens == 0 {
		rec.ResponseTokens = l.counter.Count(rec.Response)
	}
}
