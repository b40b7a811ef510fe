// Package activitylog writes the human-readable tracking log, one file per calendar day.
package activitylog

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/coder/quartz"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	header          = "=== Points Tracking Log ===\n"
	timestampLayout = "1/2/2006, 3:04:05 PM"
	fileDateLayout  = "2006-01-02"
	maxSizeMB       = 10
)

// DailyLog appends timestamped lines to <dir>/log_YYYY-MM-DD.txt, switching files when the
// display-timezone date changes.
type DailyLog struct {
	dir   string
	clock quartz.Clock
	loc   *time.Location

	mu      sync.Mutex
	day     string
	current *lumberjack.Logger
}

// New constructs a DailyLog. The directory is created on first use.
func New(dir string, clock quartz.Clock, loc *time.Location) *DailyLog {
	if clock == nil {
		clock = quartz.NewReal()
	}
	if loc == nil {
		loc = time.Local
	}
	return &DailyLog{dir: dir, clock: clock, loc: loc}
}

// PathFor returns the log file used for the day containing t.
func (l *DailyLog) PathFor(t time.Time) string {
	return filepath.Join(l.dir, "log_"+t.In(l.loc).Format(fileDateLayout)+".txt")
}

// Append writes one line prefixed with the local timestamp.
func (l *DailyLog) Append(message string) error {
	now := l.clock.Now("DailyLog", "Append").In(l.loc)
	line := fmt.Sprintf("[%s] %s\n", now.Format(timestampLayout), strings.TrimRight(message, "\n"))

	l.mu.Lock()
	defer l.mu.Unlock()

	writer, err := l.writerFor(now)
	if err != nil {
		return err
	}
	_, err = writer.Write([]byte(line))
	return err
}

// Close releases the open file.
func (l *DailyLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.current == nil {
		return nil
	}
	err := l.current.Close()
	l.current = nil
	l.day = ""
	return err
}

func (l *DailyLog) writerFor(now time.Time) (*lumberjack.Logger, error) {
	day := now.Format(fileDateLayout)
	if l.current != nil && l.day == day {
		return l.current, nil
	}
	if l.current != nil {
		_ = l.current.Close()
		l.current = nil
	}

	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	path := l.PathFor(now)
	_, statErr := os.Stat(path)
	isNew := errors.Is(statErr, fs.ErrNotExist)

	writer := &lumberjack.Logger{
		Filename:  path,
		MaxSize:   maxSizeMB,
		LocalTime: true,
	}
	if isNew {
		if _, err := writer.Write([]byte(header)); err != nil {
			_ = writer.Close()
			return nil, fmt.Errorf("write log header: %w", err)
		}
	}
	l.current = writer
	l.day = day
	return writer, nil
}
