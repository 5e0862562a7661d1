package engine

import (
	"sync/atomic"

	"github.com/solatis/docsync/internal/types"
)

// Job is the batch context a document runs under. It is shared by every
// document of the batch, including child documents generated by a cascade.
type Job struct {
	ID string

	// Index overrides the store for classifier and resolver lookups.
	// Nil reads the store directly.
	Index DocumentIndex

	stopped atomic.Bool
}

// NewJob creates an active job with a fresh id.
func NewJob(index DocumentIndex) *Job {
	return &Job{ID: types.NewJobID(), Index: index}
}

// Active reports whether the job may keep processing. Polled at the start
// of every pipeline stage. A nil job has no operator to stop it and is
// always active.
func (j *Job) Active() bool {
	return j == nil || !j.stopped.Load()
}

// Stop halts the job. Stages already running finish; the next stage of
// every document aborts.
func (j *Job) Stop() {
	if j != nil {
		j.stopped.Store(true)
	}
}
