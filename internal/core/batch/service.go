// Package batch runs groups of documents through the engine for the CLI.
package batch

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/solatis/docsync/internal/core/config"
	"github.com/solatis/docsync/internal/engine"
	"github.com/solatis/docsync/internal/store"
)

// ErrBatchTooLarge is returned when a batch exceeds engine.max_batch_size.
var ErrBatchTooLarge = errors.New("batch too large")

// Service runs batches over a processor.
// Thin orchestration layer: grouping, parallelism and the run report. All
// document semantics live in the engine.
type Service struct {
	proc  *engine.Processor
	store store.Store
	cfg   *config.EngineConfig
	log   zerolog.Logger
	now   func() time.Time

	reportMutexes map[string]*sync.Mutex
	mutexLock     sync.Mutex
}

// NewService creates a batch service. Creates <data_dir>/reports if needed.
func NewService(proc *engine.Processor, st store.Store, cfg *config.EngineConfig, logger zerolog.Logger) (*Service, error) {
	if proc == nil {
		return nil, fmt.Errorf("proc cannot be nil")
	}
	if st == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if cfg == nil {
		return nil, fmt.Errorf("cfg cannot be nil")
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Join(cfg.DataDir, "reports"), 0755); err != nil {
		return nil, err
	}

	return &Service{
		proc:          proc,
		store:         st,
		cfg:           cfg,
		log:           logger.With().Str("component", "batch").Logger(),
		now:           time.Now,
		reportMutexes: make(map[string]*sync.Mutex),
	}, nil
}

// reportMutex returns the mutex guarding one daily report file.
func (s *Service) reportMutex(filename string) *sync.Mutex {
	s.mutexLock.Lock()
	defer s.mutexLock.Unlock()

	if _, ok := s.reportMutexes[filename]; !ok {
		s.reportMutexes[filename] = &sync.Mutex{}
	}
	return s.reportMutexes[filename]
}
