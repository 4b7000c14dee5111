package state

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const timeFormat = time.RFC3339Nano

// Load reads the complete sync state. Called once at the start of each
// cycle and by the CLI's read-only commands.
func (s *Store) Load(ctx context.Context) (*SyncState, error) {
	st := NewSyncState()

	if err := s.loadSyncedTasks(ctx, st); err != nil {
		return nil, err
	}
	if err := s.loadPendingOperations(ctx, st); err != nil {
		return nil, err
	}
	if err := s.loadPendingDeletions(ctx, st); err != nil {
		return nil, err
	}
	if err := s.loadRecentlyDeleted(ctx, st); err != nil {
		return nil, err
	}
	if err := s.loadPendingSeverances(ctx, st); err != nil {
		return nil, err
	}
	if err := s.loadSeveredContent(ctx, st); err != nil {
		return nil, err
	}
	if err := s.loadSuccessorChecks(ctx, st); err != nil {
		return nil, err
	}

	var last string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = 'last_sync_at'`).Scan(&last)
	switch {
	case err == sql.ErrNoRows:
		// First run.
	case err != nil:
		return nil, fmt.Errorf("read last_sync_at: %w", err)
	default:
		if ts, perr := time.Parse(timeFormat, last); perr == nil {
			st.LastSyncAt = ts
		}
	}
	return st, nil
}

func (s *Store) loadSyncedTasks(ctx context.Context, st *SyncState) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT task_id, event_id, calendar_id, content_hash,
		       file_path, line_number, title, date, time,
		       recurrence_rule, severed
		FROM synced_tasks`)
	if err != nil {
		return fmt.Errorf("query synced_tasks: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var rec SyncRecord
		var severed int
		if err := rows.Scan(&rec.TaskID, &rec.EventID, &rec.CalendarID, &rec.ContentHash,
			&rec.FilePath, &rec.LineNumber, &rec.Title, &rec.Date, &rec.Time,
			&rec.RecurrenceRule, &severed); err != nil {
			return fmt.Errorf("scan synced_tasks: %w", err)
		}
		rec.Severed = severed != 0
		st.SyncedTasks[rec.TaskID] = rec
	}
	return rows.Err()
}

func (s *Store) loadPendingOperations(ctx context.Context, st *SyncState) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, task_id, kind, calendar_id, event_id, task_json,
		       retry_count, last_error, created_at
		FROM pending_operations ORDER BY id`)
	if err != nil {
		return fmt.Errorf("query pending_operations: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var op PendingOperation
		var kind, createdAt string
		var taskJSON *string
		if err := rows.Scan(&op.ID, &op.TaskID, &kind, &op.CalendarID, &op.EventID,
			&taskJSON, &op.RetryCount, &op.LastError, &createdAt); err != nil {
			return fmt.Errorf("scan pending_operations: %w", err)
		}
		op.Kind = OpKind(kind)
		if op.Task, err = unmarshalTask(taskJSON); err != nil {
			return err
		}
		op.CreatedAt, _ = time.Parse(timeFormat, createdAt)
		st.PendingOperations = append(st.PendingOperations, op)
	}
	return rows.Err()
}

func (s *Store) loadPendingDeletions(ctx context.Context, st *SyncState) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, task_id, calendar_id, event_id, reason,
		       event_json, task_json, target_calendar_id, created_at
		FROM pending_deletions ORDER BY id`)
	if err != nil {
		return fmt.Errorf("query pending_deletions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var pd PendingDeletion
		var reason, createdAt string
		var eventJSON, taskJSON *string
		if err := rows.Scan(&pd.ID, &pd.TaskID, &pd.CalendarID, &pd.EventID, &reason,
			&eventJSON, &taskJSON, &pd.TargetCalendarID, &createdAt); err != nil {
			return fmt.Errorf("scan pending_deletions: %w", err)
		}
		pd.Reason = DeletionReason(reason)
		if pd.Event, err = unmarshalEvent(eventJSON); err != nil {
			return err
		}
		if pd.Task, err = unmarshalTask(taskJSON); err != nil {
			return err
		}
		pd.CreatedAt, _ = time.Parse(timeFormat, createdAt)
		st.PendingDeletions = append(st.PendingDeletions, pd)
	}
	return rows.Err()
}

func (s *Store) loadRecentlyDeleted(ctx context.Context, st *SyncState) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, task_id, calendar_id, event_id, title, event_json, deleted_at
		FROM recently_deleted ORDER BY id`)
	if err != nil {
		return fmt.Errorf("query recently_deleted: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var ds DeletedSnapshot
		var deletedAt string
		var eventJSON *string
		if err := rows.Scan(&ds.ID, &ds.TaskID, &ds.CalendarID, &ds.EventID,
			&ds.Title, &eventJSON, &deletedAt); err != nil {
			return fmt.Errorf("scan recently_deleted: %w", err)
		}
		if ds.Event, err = unmarshalEvent(eventJSON); err != nil {
			return err
		}
		ds.DeletedAt, _ = time.Parse(timeFormat, deletedAt)
		st.RecentlyDeleted = append(st.RecentlyDeleted, ds)
	}
	return rows.Err()
}

func (s *Store) loadPendingSeverances(ctx context.Context, st *SyncState) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, task_id, calendar_id, event_id, reason, detail, task_json, created_at
		FROM pending_severances ORDER BY id`)
	if err != nil {
		return fmt.Errorf("query pending_severances: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var ps PendingSeverance
		var reason, createdAt string
		var taskJSON *string
		if err := rows.Scan(&ps.ID, &ps.TaskID, &ps.CalendarID, &ps.EventID,
			&reason, &ps.Detail, &taskJSON, &createdAt); err != nil {
			return fmt.Errorf("scan pending_severances: %w", err)
		}
		ps.Reason = SeveranceReason(reason)
		if ps.Task, err = unmarshalTask(taskJSON); err != nil {
			return err
		}
		ps.CreatedAt, _ = time.Parse(timeFormat, createdAt)
		st.PendingSeverances = append(st.PendingSeverances, ps)
	}
	return rows.Err()
}

func (s *Store) loadSeveredContent(ctx context.Context, st *SyncState) error {
	rows, err := s.db.QueryContext(ctx, `SELECT content_hash FROM severed_content`)
	if err != nil {
		return fmt.Errorf("query severed_content: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var hash string
		if err := rows.Scan(&hash); err != nil {
			return fmt.Errorf("scan severed_content: %w", err)
		}
		st.SeveredContent[hash] = true
	}
	return rows.Err()
}

func (s *Store) loadSuccessorChecks(ctx context.Context, st *SyncState) error {
	rows, err := s.db.QueryContext(ctx, `SELECT task_id, attempts FROM successor_checks`)
	if err != nil {
		return fmt.Errorf("query successor_checks: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var sc SuccessorCheck
		if err := rows.Scan(&sc.TaskID, &sc.Attempts); err != nil {
			return fmt.Errorf("scan successor_checks: %w", err)
		}
		st.SuccessorChecks = append(st.SuccessorChecks, sc)
	}
	return rows.Err()
}

// RecentLog returns the newest audit entries, newest first.
func (s *Store) RecentLog(ctx context.Context, limit int) ([]SyncLogEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, batch_id, task_id, kind, calendar_id, event_id, success, status, error, at
		FROM sync_log ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query sync_log: %w", err)
	}
	defer rows.Close()

	var entries []SyncLogEntry
	for rows.Next() {
		var e SyncLogEntry
		var success int
		var at string
		if err := rows.Scan(&e.ID, &e.BatchID, &e.TaskID, &e.Kind, &e.CalendarID,
			&e.EventID, &success, &e.Status, &e.Error, &at); err != nil {
			return nil, fmt.Errorf("scan sync_log: %w", err)
		}
		e.Success = success != 0
		e.At, _ = time.Parse(timeFormat, at)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
