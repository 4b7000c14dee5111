package state

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const (
	// recentlyDeletedRetention bounds the recovery log.
	recentlyDeletedRetention = 30 * 24 * time.Hour

	// syncLogCap bounds the audit log to the newest entries.
	syncLogCap = 2000
)

// Save persists the complete state and appends the cycle's audit
// entries in one transaction. This is the only write path: either the
// whole cycle commits or none of it does.
func (s *Store) Save(ctx context.Context, st *SyncState, entries []SyncLogEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin state commit: %w", err)
	}
	defer tx.Rollback()

	if err := saveSyncedTasks(tx, st); err != nil {
		return err
	}
	if err := savePendingOperations(tx, st); err != nil {
		return err
	}
	if err := savePendingDeletions(tx, st); err != nil {
		return err
	}
	if err := saveRecentlyDeleted(tx, st); err != nil {
		return err
	}
	if err := savePendingSeverances(tx, st); err != nil {
		return err
	}
	if err := saveKeySet(tx, "severed_content", "content_hash", st.SeveredContent); err != nil {
		return err
	}
	if err := saveSuccessorChecks(tx, st); err != nil {
		return err
	}
	if err := appendLog(tx, entries); err != nil {
		return err
	}
	if err := prune(tx, st.LastSyncAt); err != nil {
		return err
	}

	if _, err := tx.Exec(
		`INSERT INTO meta (key, value) VALUES ('last_sync_at', ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		st.LastSyncAt.Format(timeFormat)); err != nil {
		return fmt.Errorf("write last_sync_at: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit state: %w", err)
	}
	return nil
}

func saveSyncedTasks(tx *sql.Tx, st *SyncState) error {
	if _, err := tx.Exec(`DELETE FROM synced_tasks`); err != nil {
		return fmt.Errorf("clear synced_tasks: %w", err)
	}
	stmt, err := tx.Prepare(`
		INSERT INTO synced_tasks
		(task_id, event_id, calendar_id, content_hash, file_path, line_number,
		 title, date, time, recurrence_rule, severed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare synced_tasks insert: %w", err)
	}
	defer stmt.Close()

	for _, rec := range st.SyncedTasks {
		severed := 0
		if rec.Severed {
			severed = 1
		}
		if _, err := stmt.Exec(rec.TaskID, rec.EventID, rec.CalendarID, rec.ContentHash,
			rec.FilePath, rec.LineNumber, rec.Title, rec.Date, rec.Time,
			rec.RecurrenceRule, severed); err != nil {
			return fmt.Errorf("insert synced_tasks %s: %w", rec.TaskID, err)
		}
	}
	return nil
}

func savePendingOperations(tx *sql.Tx, st *SyncState) error {
	if _, err := tx.Exec(`DELETE FROM pending_operations`); err != nil {
		return fmt.Errorf("clear pending_operations: %w", err)
	}
	for i := range st.PendingOperations {
		op := &st.PendingOperations[i]
		taskJSON, err := marshalTask(op.Task)
		if err != nil {
			return err
		}
		res, err := tx.Exec(`
			INSERT INTO pending_operations
			(id, task_id, kind, calendar_id, event_id, task_json, retry_count, last_error, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			nullableID(op.ID), op.TaskID, string(op.Kind), op.CalendarID, op.EventID,
			taskJSON, op.RetryCount, op.LastError, op.CreatedAt.Format(timeFormat))
		if err != nil {
			return fmt.Errorf("insert pending_operations: %w", err)
		}
		if op.ID == 0 {
			op.ID, _ = res.LastInsertId()
		}
	}
	return nil
}

func savePendingDeletions(tx *sql.Tx, st *SyncState) error {
	if _, err := tx.Exec(`DELETE FROM pending_deletions`); err != nil {
		return fmt.Errorf("clear pending_deletions: %w", err)
	}
	for i := range st.PendingDeletions {
		pd := &st.PendingDeletions[i]
		eventJSON, err := marshalEvent(pd.Event)
		if err != nil {
			return err
		}
		taskJSON, err := marshalTask(pd.Task)
		if err != nil {
			return err
		}
		res, err := tx.Exec(`
			INSERT INTO pending_deletions
			(id, task_id, calendar_id, event_id, reason, event_json, task_json, target_calendar_id, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			nullableID(pd.ID), pd.TaskID, pd.CalendarID, pd.EventID, string(pd.Reason),
			eventJSON, taskJSON, pd.TargetCalendarID, pd.CreatedAt.Format(timeFormat))
		if err != nil {
			return fmt.Errorf("insert pending_deletions: %w", err)
		}
		if pd.ID == 0 {
			pd.ID, _ = res.LastInsertId()
		}
	}
	return nil
}

func saveRecentlyDeleted(tx *sql.Tx, st *SyncState) error {
	if _, err := tx.Exec(`DELETE FROM recently_deleted`); err != nil {
		return fmt.Errorf("clear recently_deleted: %w", err)
	}
	for i := range st.RecentlyDeleted {
		ds := &st.RecentlyDeleted[i]
		eventJSON, err := marshalEvent(ds.Event)
		if err != nil {
			return err
		}
		res, err := tx.Exec(`
			INSERT INTO recently_deleted
			(id, task_id, calendar_id, event_id, title, event_json, deleted_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			nullableID(ds.ID), ds.TaskID, ds.CalendarID, ds.EventID, ds.Title,
			eventJSON, ds.DeletedAt.Format(timeFormat))
		if err != nil {
			return fmt.Errorf("insert recently_deleted: %w", err)
		}
		if ds.ID == 0 {
			ds.ID, _ = res.LastInsertId()
		}
	}
	return nil
}

func savePendingSeverances(tx *sql.Tx, st *SyncState) error {
	if _, err := tx.Exec(`DELETE FROM pending_severances`); err != nil {
		return fmt.Errorf("clear pending_severances: %w", err)
	}
	for i := range st.PendingSeverances {
		ps := &st.PendingSeverances[i]
		taskJSON, err := marshalTask(ps.Task)
		if err != nil {
			return err
		}
		res, err := tx.Exec(`
			INSERT INTO pending_severances
			(id, task_id, calendar_id, event_id, reason, detail, task_json, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			nullableID(ps.ID), ps.TaskID, ps.CalendarID, ps.EventID, string(ps.Reason),
			ps.Detail, taskJSON, ps.CreatedAt.Format(timeFormat))
		if err != nil {
			return fmt.Errorf("insert pending_severances: %w", err)
		}
		if ps.ID == 0 {
			ps.ID, _ = res.LastInsertId()
		}
	}
	return nil
}

func saveKeySet(tx *sql.Tx, table, column string, keys map[string]bool) error {
	if _, err := tx.Exec(`DELETE FROM ` + table); err != nil {
		return fmt.Errorf("clear %s: %w", table, err)
	}
	for key, ok := range keys {
		if !ok {
			continue
		}
		if _, err := tx.Exec(`INSERT INTO `+table+` (`+column+`) VALUES (?)`, key); err != nil {
			return fmt.Errorf("insert %s: %w", table, err)
		}
	}
	return nil
}

func saveSuccessorChecks(tx *sql.Tx, st *SyncState) error {
	if _, err := tx.Exec(`DELETE FROM successor_checks`); err != nil {
		return fmt.Errorf("clear successor_checks: %w", err)
	}
	for _, sc := range st.SuccessorChecks {
		if _, err := tx.Exec(`INSERT INTO successor_checks (task_id, attempts) VALUES (?, ?)`,
			sc.TaskID, sc.Attempts); err != nil {
			return fmt.Errorf("insert successor_checks: %w", err)
		}
	}
	return nil
}

func appendLog(tx *sql.Tx, entries []SyncLogEntry) error {
	for _, e := range entries {
		success := 0
		if e.Success {
			success = 1
		}
		if _, err := tx.Exec(`
			INSERT INTO sync_log
			(batch_id, task_id, kind, calendar_id, event_id, success, status, error, at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			e.BatchID, e.TaskID, e.Kind, e.CalendarID, e.EventID,
			success, e.Status, e.Error, e.At.Format(timeFormat)); err != nil {
			return fmt.Errorf("append sync_log: %w", err)
		}
	}
	return nil
}

// prune enforces the retention bounds: recovery snapshots expire after
// a fixed window and the audit log keeps only the newest entries.
func prune(tx *sql.Tx, now time.Time) error {
	if now.IsZero() {
		now = time.Now()
	}
	cutoff := now.Add(-recentlyDeletedRetention).Format(timeFormat)
	if _, err := tx.Exec(`DELETE FROM recently_deleted WHERE deleted_at < ?`, cutoff); err != nil {
		return fmt.Errorf("prune recently_deleted: %w", err)
	}
	if _, err := tx.Exec(`
		DELETE FROM sync_log WHERE id NOT IN
		(SELECT id FROM sync_log ORDER BY id DESC LIMIT ?)`, syncLogCap); err != nil {
		return fmt.Errorf("prune sync_log: %w", err)
	}
	return nil
}

// nullableID maps an unset ID to NULL so AUTOINCREMENT assigns one,
// while preserving existing IDs across the replace-style save.
func nullableID(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}
