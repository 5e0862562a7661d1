package batch

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/solatis/docsync/internal/engine"
	"github.com/solatis/docsync/internal/rules"
	"github.com/solatis/docsync/internal/types"
)

// Options tunes one batch.
type Options struct {
	// JobID names the job; empty generates one.
	JobID string
	// Preload loads the documents of the involved rules into a MemoryIndex
	// before the batch starts.
	Preload bool
}

// Summary is the outcome of a batch. Results follow input order.
type Summary struct {
	JobID     string
	Results   []engine.Result
	Succeeded int
	Failed    int
}

// group is a run of documents sharing a (rule, source id) pair. Documents of
// a group run in input order; groups run in parallel.
type group struct {
	indexes []int
}

// Ingest creates and runs one document per source record of ruleID.
func (s *Service) Ingest(ctx context.Context, ruleID string, records []types.Record, opts Options) (*Summary, error) {
	if len(records) > s.cfg.MaxBatchSize {
		return nil, fmt.Errorf("%w: %d records, maximum is %d", ErrBatchTooLarge, len(records), s.cfg.MaxBatchSize)
	}
	rule, err := s.proc.Rules().Get(ruleID)
	if err != nil {
		return nil, err
	}

	job, err := s.newJob(ctx, opts, rule.ID)
	if err != nil {
		return nil, err
	}

	keys := make([]string, len(records))
	for i, rec := range records {
		keys[i] = rule.ID + "\x00" + types.NormalizeRecordID(rules.CoerceText(rec[types.FieldID]))
	}

	results := s.runGroups(ctx, keys, func(ctx context.Context, i int) engine.Result {
		return s.proc.Process(ctx, job, rule.ID, records[i])
	})
	return s.finish(job, results), nil
}

// RunDocuments reruns existing documents.
func (s *Service) RunDocuments(ctx context.Context, docIDs []string, opts Options) (*Summary, error) {
	if len(docIDs) > s.cfg.MaxBatchSize {
		return nil, fmt.Errorf("%w: %d documents, maximum is %d", ErrBatchTooLarge, len(docIDs), s.cfg.MaxBatchSize)
	}

	// Unknown documents get a group of their own; the engine reports them.
	keys := make([]string, len(docIDs))
	var ruleIDs []string
	seen := make(map[string]bool)
	for i, id := range docIDs {
		keys[i] = "doc\x00" + id
		doc, err := s.store.GetDocument(ctx, id)
		if errors.Is(err, types.ErrDocumentNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load document %s: %w", id, err)
		}
		keys[i] = doc.RuleID + "\x00" + doc.SourceID
		if !seen[doc.RuleID] {
			seen[doc.RuleID] = true
			ruleIDs = append(ruleIDs, doc.RuleID)
		}
	}

	job, err := s.newJob(ctx, opts, ruleIDs...)
	if err != nil {
		return nil, err
	}

	results := s.runGroups(ctx, keys, func(ctx context.Context, i int) engine.Result {
		return s.proc.Run(ctx, job, docIDs[i])
	})
	return s.finish(job, results), nil
}

// Rerun reruns the documents of ruleID that sit in one of statuses, oldest
// first, at most engine.max_batch_size of them. No statuses selects every
// status a rerun resumes from.
func (s *Service) Rerun(ctx context.Context, ruleID string, statuses []types.Status, opts Options) (*Summary, error) {
	if _, err := s.proc.Rules().Get(ruleID); err != nil {
		return nil, err
	}
	if len(statuses) == 0 {
		statuses = engine.RerunStatuses()
	}

	docs, err := s.store.ListByStatus(ctx, ruleID, statuses...)
	if err != nil {
		return nil, fmt.Errorf("list documents of rule %s: %w", ruleID, err)
	}
	if len(docs) > s.cfg.MaxBatchSize {
		s.log.Info().
			Str("rule_id", ruleID).
			Int("selected", len(docs)).
			Int("deferred", len(docs)-s.cfg.MaxBatchSize).
			Msg("rerun capped at max batch size")
		docs = docs[:s.cfg.MaxBatchSize]
	}

	ids := make([]string, len(docs))
	for i, d := range docs {
		ids[i] = d.ID
	}
	return s.RunDocuments(ctx, ids, opts)
}

// ParseStatuses parses status names such as "Relate_KO".
func ParseStatuses(names []string) ([]types.Status, error) {
	out := make([]types.Status, 0, len(names))
	for _, n := range names {
		st := types.Status(strings.TrimSpace(n))
		if !st.Valid() {
			return nil, fmt.Errorf("unknown status %q", n)
		}
		out = append(out, st)
	}
	return out, nil
}

// newJob builds the job context, preloading an index over the rules the
// classifier and resolver will query.
func (s *Service) newJob(ctx context.Context, opts Options, ruleIDs ...string) (*engine.Job, error) {
	var index engine.DocumentIndex
	if opts.Preload {
		m, err := engine.PreloadIndex(ctx, s.store, s.indexRules(ruleIDs)...)
		if err != nil {
			return nil, fmt.Errorf("failed to preload index: %w", err)
		}
		s.log.Info().Int("documents", m.Len()).Msg("document index preloaded")
		index = m
	}

	job := engine.NewJob(index)
	if opts.JobID != "" {
		job.ID = opts.JobID
	}
	return job, nil
}

// indexRules expands ruleIDs with their bidirectional counterparts and the
// rules their relationships point to.
func (s *Service) indexRules(ruleIDs []string) []string {
	var out []string
	seen := make(map[string]bool)
	add := func(id string) {
		if id != "" && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	for _, id := range ruleIDs {
		add(id)
		rule, err := s.proc.Rules().Get(id)
		if err != nil {
			continue
		}
		add(rule.Bidirectional())
		for _, rel := range rule.Relationships {
			if !rel.Parent {
				add(rel.RelatedRuleID)
			}
		}
	}
	return out
}

// runGroups runs fn for every index, serialising indexes that share a key
// and running distinct keys on at most cfg.Workers goroutines.
func (s *Service) runGroups(ctx context.Context, keys []string, fn func(context.Context, int) engine.Result) []engine.Result {
	var groups []*group
	byKey := make(map[string]*group)
	for i, k := range keys {
		g, ok := byKey[k]
		if !ok {
			g = &group{}
			byKey[k] = g
			groups = append(groups, g)
		}
		g.indexes = append(g.indexes, i)
	}

	results := make([]engine.Result, len(keys))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(s.cfg.Workers)
	for _, g := range groups {
		g := g
		eg.Go(func() error {
			for _, i := range g.indexes {
				if err := egCtx.Err(); err != nil {
					results[i] = engine.Result{Err: err}
					continue
				}
				results[i] = fn(egCtx, i)
			}
			return nil
		})
	}
	// Document failures live in the results; the group funcs never fail.
	_ = eg.Wait()
	return results
}

func (s *Service) finish(job *engine.Job, results []engine.Result) *Summary {
	sum := &Summary{JobID: job.ID, Results: results}
	for _, r := range results {
		if r.OK {
			sum.Succeeded++
		} else {
			sum.Failed++
		}
	}
	s.writeReport(job.ID, results)
	s.log.Info().
		Str("job_id", job.ID).
		Int("documents", len(results)).
		Int("succeeded", sum.Succeeded).
		Int("failed", sum.Failed).
		Msg("batch finished")
	return sum
}
