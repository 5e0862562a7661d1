package batch

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/solatis/docsync/internal/engine"
)

// reportLine is one document of a batch in the JSONL report.
type reportLine struct {
	Time         time.Time `json:"time"`
	JobID        string    `json:"job_id"`
	RuleSetETag  string    `json:"ruleset_etag"`
	DocumentID   string    `json:"document_id,omitempty"`
	RuleID       string    `json:"rule_id,omitempty"`
	SourceID     string    `json:"source_id,omitempty"`
	TargetID     string    `json:"target_id,omitempty"`
	Type         string    `json:"type,omitempty"`
	Status       string    `json:"status,omitempty"`
	GlobalStatus string    `json:"global_status,omitempty"`
	Attempt      int       `json:"attempt"`
	OK           bool      `json:"ok"`
	Error        string    `json:"error,omitempty"`
}

// writeReport appends the batch to the daily report file.
// Best effort: the document store is the source of truth.
func (s *Service) writeReport(jobID string, results []engine.Result) {
	// One file per batch even if the batch spans midnight.
	now := s.now().UTC()
	filename := filepath.Join(s.cfg.DataDir, "reports", now.Format("2006-01-02.jsonl"))
	mu := s.reportMutex(filename)
	mu.Lock()
	defer mu.Unlock()

	f, err := os.OpenFile(filename, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		s.log.Warn().Err(err).Str("file", filename).Msg("failed to open batch report")
		return
	}
	defer f.Close()

	etag := s.proc.Rules().ETag()
	encoder := json.NewEncoder(f)
	for _, r := range results {
		line := reportLine{
			Time:         now,
			JobID:        jobID,
			RuleSetETag:  etag,
			DocumentID:   r.DocumentID,
			RuleID:       r.RuleID,
			SourceID:     r.SourceID,
			TargetID:     r.TargetID,
			Status:       string(r.Status),
			GlobalStatus: string(r.GlobalStatus),
			Attempt:      r.Attempt,
			OK:           r.OK,
		}
		if r.DocumentID != "" {
			line.Type = r.Type.String()
		}
		if r.Err != nil {
			line.Error = r.Err.Error()
		}
		if err := encoder.Encode(line); err != nil {
			s.log.Warn().Err(err).Str("file", filename).Msg("failed to write batch report")
			return
		}
	}
}
