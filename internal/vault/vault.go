// Package vault reads plain-text markdown vaults and extracts the
// schedulable task lines the sync engine works on. Only checkbox lines
// carrying a date marker are tasks; everything else is prose.
package vault

import (
	"bufio"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/wrenware/taskmirror/internal/task"
)

// Source scans a vault directory on every Snapshot call. It implements
// task.Source.
type Source struct {
	// Dir is the vault root.
	Dir string

	// Exclude holds path globs (relative to Dir) whose files are
	// skipped. A glob matching a directory prunes the whole subtree.
	Exclude []string

	Logger *slog.Logger
}

// NewSource creates a Source over dir.
func NewSource(dir string, exclude []string, logger *slog.Logger) *Source {
	if logger == nil {
		logger = slog.Default()
	}
	return &Source{Dir: dir, Exclude: exclude, Logger: logger}
}

// Snapshot walks the vault and parses every markdown file. Unreadable
// files and unparseable lines are logged and skipped; a snapshot is
// always produced from whatever could be read.
func (s *Source) Snapshot() (*task.Snapshot, error) {
	snap := &task.Snapshot{ObservedAt: time.Now()}

	err := filepath.WalkDir(s.Dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, relErr := filepath.Rel(s.Dir, path)
		if relErr != nil {
			return relErr
		}
		if d.IsDir() {
			if rel != "." && (strings.HasPrefix(d.Name(), ".") || s.excluded(rel)) {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.EqualFold(filepath.Ext(path), ".md") || s.excluded(rel) {
			return nil
		}
		tasks, parseErr := s.parseFile(path, filepath.ToSlash(rel))
		if parseErr != nil {
			s.Logger.Warn("skipping unreadable vault file", "file", rel, "error", parseErr)
			return nil
		}
		snap.Tasks = append(snap.Tasks, tasks...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning vault %s: %w", s.Dir, err)
	}
	return snap, nil
}

func (s *Source) excluded(rel string) bool {
	rel = filepath.ToSlash(rel)
	for _, glob := range s.Exclude {
		if ok, _ := filepath.Match(glob, rel); ok {
			return true
		}
		// A glob may name a parent directory of rel.
		for dir := rel; dir != "."; dir = filepath.ToSlash(filepath.Dir(dir)) {
			if ok, _ := filepath.Match(glob, dir); ok {
				return true
			}
		}
	}
	return false
}

// parseFile extracts the task lines of one markdown file. relPath is
// the slash-separated path stored on each task.
func (s *Source) parseFile(path, relPath string) ([]task.Task, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var tasks []task.Task
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		p, ok, err := parseLine(sc.Text())
		if err != nil {
			s.Logger.Warn("skipping malformed task line",
				"file", relPath, "line", lineNo, "error", err)
			continue
		}
		if !ok {
			continue
		}
		t := task.Task{
			Title:           p.title,
			Date:            p.date,
			Time:            p.timeOfDay,
			IsAllDay:        p.timeOfDay == "",
			FilePath:        relPath,
			LineNumber:      lineNo,
			Tags:            p.tags,
			Completed:       p.completed,
			RecurrenceRule:  p.recurrence,
			ReminderMinutes: p.reminders,
			DurationMinutes: p.duration,
			RawText:         p.raw,
		}
		t.NormalizeTags()
		tasks = append(tasks, t)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return tasks, nil
}
