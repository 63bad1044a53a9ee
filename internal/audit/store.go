package audit

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/restflow/restflow/internal/kvstore"
	"github.com/restflow/restflow/internal/models"
)

const (
	entriesTable = "audit_entries_v1"
	indexTable   = "audit_task_execution_index_v1"
)

// Store is the append-only, queryable audit trail backed by the kvstore's
// audit_entries_v1/audit_task_execution_index_v1 tables. It is distinct
// from the process Logger in this package: the logger emits structured
// log lines for operators, the Store persists data the runtime queries
// back (per-execution listings, cost/duration summaries).
// Grounded on original_source/crates/restflow-core/src/storage/audit.rs.
type Store struct {
	kv *kvstore.Store
}

// NewStore wraps an already-open kvstore.Store.
func NewStore(kv *kvstore.Store) *Store {
	return &Store{kv: kv}
}

// Append persists one audit entry and updates the task/execution index.
func (s *Store) Append(entry models.AuditEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("audit: marshal entry: %w", err)
	}
	return s.kv.Update(func(tx *kvstore.Tx) error {
		if err := tx.Bucket(entriesTable).Put([]byte(entry.Key()), data); err != nil {
			return err
		}
		idxKey := taskExecutionKey(entry.TaskID, entry.ExecutionID)
		return tx.Bucket(indexTable).Put([]byte(idxKey), []byte{1})
	})
}

// ListByExecution returns every entry for execution_id, sorted ascending
// by timestamp.
func (s *Store) ListByExecution(executionID string) ([]models.AuditEntry, error) {
	var entries []models.AuditEntry
	err := s.kv.View(func(tx *kvstore.Tx) error {
		return tx.Bucket(entriesTable).ForEach(func(k, v []byte) error {
			var e models.AuditEntry
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			if e.ExecutionID == executionID {
				entries = append(entries, e)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].TimestampMs < entries[j].TimestampMs })
	return entries, nil
}

// ListByTask returns the most recent entries across every execution of
// task_id, most recent first, capped at limit (0 means unlimited).
func (s *Store) ListByTask(taskID string, limit int) ([]models.AuditEntry, error) {
	executionIDs := make(map[string]struct{})
	err := s.kv.View(func(tx *kvstore.Tx) error {
		return tx.Bucket(indexTable).ForEach(func(k, v []byte) error {
			task, execution, ok := parseTaskExecutionKey(string(k))
			if ok && task == taskID {
				executionIDs[execution] = struct{}{}
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	var all []models.AuditEntry
	for execID := range executionIDs {
		entries, err := s.ListByExecution(execID)
		if err != nil {
			return nil, err
		}
		all = append(all, entries...)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].TimestampMs > all[j].TimestampMs })
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// SummarizeExecution aggregates every entry for execution_id into an
// AuditSummary, returning nil if no entries exist.
func (s *Store) SummarizeExecution(executionID string) (*models.AuditSummary, error) {
	entries, err := s.ListByExecution(executionID)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}

	summary := &models.AuditSummary{
		ExecutionID: executionID,
		PerTool:     make(map[string]*models.ToolSummary),
		PerModel:    make(map[string]*models.ModelSummary),
	}

	for _, e := range entries {
		switch e.Type {
		case models.AuditLlmCall:
			summary.TotalLlmCalls++
			summary.TotalTokens += e.InputTokens + e.OutputTokens
			summary.TotalCostUSD += e.CostUSD
			summary.TotalDuration += e.DurationMs
			ms := summary.PerModel[e.Model]
			if ms == nil {
				ms = &models.ModelSummary{}
				summary.PerModel[e.Model] = ms
			}
			ms.CallCount++
			ms.TotalTokens += e.InputTokens + e.OutputTokens
			ms.TotalCost += e.CostUSD

		case models.AuditToolCall:
			summary.TotalToolCalls++
			summary.TotalDuration += e.DurationMs
			ts := summary.PerTool[e.ToolName]
			if ts == nil {
				ts = &models.ToolSummary{}
				summary.PerTool[e.ToolName] = ts
			}
			ts.CallCount++
			if e.Success {
				ts.Success++
			} else {
				ts.Failure++
			}
			ts.TotalDuration += e.DurationMs

		case models.AuditExecutionComplete:
			summary.Success = true
			summary.TotalDuration = maxInt64(summary.TotalDuration, e.DurationMs)

		case models.AuditExecutionFailed:
			summary.Success = false
		}
	}

	for _, ts := range summary.PerTool {
		if ts.CallCount > 0 {
			ts.AvgDuration = ts.TotalDuration / int64(ts.CallCount)
		}
	}

	return summary, nil
}

// CleanupBefore deletes every entry with a timestamp older than beforeMs,
// returning the count removed.
func (s *Store) CleanupBefore(beforeMs int64) (int, error) {
	removed := 0
	err := s.kv.Update(func(tx *kvstore.Tx) error {
		bucket := tx.Bucket(entriesTable)
		var toDelete [][]byte
		if err := bucket.ForEach(func(k, v []byte) error {
			var e models.AuditEntry
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			if e.TimestampMs < beforeMs {
				key := append([]byte(nil), k...)
				toDelete = append(toDelete, key)
			}
			return nil
		}); err != nil {
			return err
		}
		for _, k := range toDelete {
			if err := bucket.Delete(k); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	return removed, err
}

func taskExecutionKey(taskID, executionID string) string {
	return taskID + ":" + executionID
}

func parseTaskExecutionKey(key string) (task, execution string, ok bool) {
	idx := strings.IndexByte(key, ':')
	if idx < 0 {
		return "", "", false
	}
	return key[:idx], key[idx+1:], true
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
