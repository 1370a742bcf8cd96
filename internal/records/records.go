// Package records runs weight record access on a small pool of background
// workers so callers never touch the store from their own goroutine.
package records

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/saltyorg/lighter/internal/database"
)

// ErrStopped is returned when an operation is submitted to a service that is
// not running.
var ErrStopped = errors.New("record service is not running")

// Op names a mutation published to subscribers
type Op string

const (
	OpInserted Op = "inserted"
	OpDeleted  Op = "deleted"
)

// Change describes records that were inserted or deleted
type Change struct {
	Op      Op                      `json:"op"`
	Records []database.WeightRecord `json:"records"`
}

// Publisher receives a Change after every successful mutation
type Publisher interface {
	PublishRecordChange(Change)
}

// Config holds the executor configuration
type Config struct {
	// Workers is the number of goroutines running store operations.
	// With a single worker operations run in submission order.
	Workers int `json:"workers"`

	// QueueSize is how many operations may wait for a worker before
	// submitters block.
	QueueSize int `json:"queue_size"`

	// OperationTimeout bounds each store call. Zero disables the bound.
	OperationTimeout time.Duration `json:"operation_timeout"`
}

// DefaultConfig returns the default executor configuration
func DefaultConfig() Config {
	return Config{
		Workers:          2,
		QueueSize:        64,
		OperationTimeout: 10 * time.Second,
	}
}

// Job states. A worker claims a pending job before running it; a caller
// whose context ends can only abandon a job that is still pending.
const (
	jobPending int32 = iota
	jobClaimed
	jobAbandoned
)

type job struct {
	ctx   context.Context
	name  string
	run   func(ctx context.Context) error
	err   error
	state atomic.Int32
	done  chan struct{}
}

// Service is the asynchronous front of a database.WeightRecordStore
type Service struct {
	store     database.WeightRecordStore
	config    Config
	publisher Publisher

	jobs chan *job

	mu      sync.RWMutex
	running bool
	wg      sync.WaitGroup
}

// New creates a record service. Call Start before submitting operations.
func New(store database.WeightRecordStore, config Config) *Service {
	if config.Workers <= 0 {
		config.Workers = 1
	}
	if config.QueueSize < 0 {
		config.QueueSize = 0
	}
	return &Service{
		store:  store,
		config: config,
	}
}

// SetPublisher sets the subscriber notified after inserts and deletes
func (s *Service) SetPublisher(p Publisher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.publisher = p
}

// Start starts the workers
func (s *Service) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}
	s.jobs = make(chan *job, s.config.QueueSize)
	s.running = true

	for i := 0; i < s.config.Workers; i++ {
		s.wg.Go(func() {
			s.worker(s.jobs)
		})
	}

	log.Info().Int("workers", s.config.Workers).Int("queue_size", s.config.QueueSize).Msg("Record service started")
}

// Stop rejects new operations and waits for queued ones to finish
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.jobs)
	s.mu.Unlock()

	s.wg.Wait()
	log.Info().Msg("Record service stopped")
}

// IsRunning returns whether the service accepts operations
func (s *Service) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

func (s *Service) worker(jobs <-chan *job) {
	for j := range jobs {
		s.execute(j)
	}
}

func (s *Service) execute(j *job) {
	defer close(j.done)
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("op", j.name).Msg("Record operation panicked")
			j.err = fmt.Errorf("%w: %s panicked: %v", database.ErrOperation, j.name, r)
		}
	}()

	if !j.state.CompareAndSwap(jobPending, jobClaimed) {
		// Caller gave up while the job was queued
		return
	}

	ctx := j.ctx
	if s.config.OperationTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.OperationTimeout)
		defer cancel()
	}

	start := time.Now()
	j.err = j.run(ctx)
	log.Trace().Str("op", j.name).Dur("duration", time.Since(start)).Err(j.err).Msg("Record operation finished")
}

// submit queues fn and waits for it to finish or for ctx to end
func (s *Service) submit(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	j := &job{ctx: ctx, name: name, run: fn, done: make(chan struct{})}

	s.mu.RLock()
	if !s.running {
		s.mu.RUnlock()
		return ErrStopped
	}
	select {
	case s.jobs <- j:
		s.mu.RUnlock()
	case <-ctx.Done():
		s.mu.RUnlock()
		return ctx.Err()
	}

	select {
	case <-j.done:
		return j.err
	case <-ctx.Done():
		if j.state.CompareAndSwap(jobPending, jobAbandoned) {
			return ctx.Err()
		}
		// Already running: its store context ends with ours, and a commit
		// that wins the race must still be reported
		<-j.done
		return j.err
	}
}

func (s *Service) publish(op Op, records []database.WeightRecord) {
	s.mu.RLock()
	p := s.publisher
	s.mu.RUnlock()
	if p == nil || len(records) == 0 {
		return
	}
	p.PublishRecordChange(Change{Op: op, Records: records})
}

// GetAll returns every stored record
func (s *Service) GetAll(ctx context.Context) ([]database.WeightRecord, error) {
	var out []database.WeightRecord
	err := s.submit(ctx, "get_all", func(ctx context.Context) error {
		var err error
		out, err = s.store.GetAllWeightRecords(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// LoadAllByIDs returns the records whose uid is in ids; unknown ids are omitted
func (s *Service) LoadAllByIDs(ctx context.Context, ids []int64) ([]database.WeightRecord, error) {
	if len(ids) == 0 {
		return []database.WeightRecord{}, nil
	}
	var out []database.WeightRecord
	err := s.submit(ctx, "load_by_ids", func(ctx context.Context) error {
		var err error
		out, err = s.store.LoadWeightRecordsByIDs(ctx, ids)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// InsertAll inserts the batch atomically and returns the stored records
func (s *Service) InsertAll(ctx context.Context, batch []database.WeightRecord) ([]database.WeightRecord, error) {
	if len(batch) == 0 {
		return []database.WeightRecord{}, nil
	}
	var out []database.WeightRecord
	err := s.submit(ctx, "insert_all", func(ctx context.Context) error {
		var err error
		out, err = s.store.InsertWeightRecords(ctx, batch)
		return err
	})
	if err != nil {
		return nil, err
	}

	log.Debug().Int("count", len(out)).Msg("Weight records inserted")
	s.publish(OpInserted, out)
	return out, nil
}

// Delete removes the record with the same uid; a missing uid is not an error
func (s *Service) Delete(ctx context.Context, record database.WeightRecord) error {
	err := s.submit(ctx, "delete", func(ctx context.Context) error {
		return s.store.DeleteWeightRecord(ctx, record)
	})
	if err != nil {
		return err
	}

	log.Debug().Int64("uid", record.UID).Msg("Weight record deleted")
	s.publish(OpDeleted, []database.WeightRecord{record})
	return nil
}

// Count returns the number of stored records
func (s *Service) Count(ctx context.Context) (int, error) {
	var count int
	err := s.submit(ctx, "count", func(ctx context.Context) error {
		var err error
		count, err = s.store.CountWeightRecords(ctx)
		return err
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}
