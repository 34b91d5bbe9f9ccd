// Package tailer follows the backend's rolling log files and turns every
// well-formed line into a typed event on the bus. The backend writes
// <root>/YYYY-MM/YYYY-MM-DD.N.log and rolls both the file and the month
// directory underneath us; the tailer rides across both without replaying a
// line twice.
package tailer

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/corralhq/corral/internal/core/constants"
	"github.com/corralhq/corral/internal/core/domain"
	"github.com/corralhq/corral/internal/events"
	"github.com/corralhq/corral/internal/logger"
)

const (
	pollInterval      = time.Second
	monthScanInterval = 10 * time.Minute
)

var monthDirRe = regexp.MustCompile(`^\d{4}-\d{2}$`)

type Tailer struct {
	root string
	pub  *events.Publisher
	log  *logger.StyledLogger

	activeDir  string
	activeFile string
	cursor     int64
	partial    []byte
}

func New(root string, pub *events.Publisher, log *logger.StyledLogger) *Tailer {
	return &Tailer{root: root, pub: pub, log: log}
}

// Run follows the log tree until ctx is cancelled. Failures inside the loop
// are logged and retried on the next tick; Run only returns on cancellation
// or when the watcher itself cannot be created.
func (t *Tailer) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("tailer: creating watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(t.root); err != nil {
		t.log.Warn("Log root not watchable yet, relying on polling", "root", t.root, "error", err)
	}

	if err := t.bootstrap(); err != nil {
		t.log.Warn("Log tailer idle until backend logs appear", "root", t.root, "error", err)
	} else {
		t.watchActiveDir(watcher)
	}

	pollTicker := time.NewTicker(pollInterval)
	defer pollTicker.Stop()
	monthTicker := time.NewTicker(monthScanInterval)
	defer monthTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			t.handleFsEvent(watcher, ev)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			t.log.Warn("Filesystem watch error", "error", err)

		case <-pollTicker.C:
			t.tick(watcher)

		case <-monthTicker.C:
			t.checkMonthTransition(watcher)
		}
	}
}

// tick is the correctness path: watch events only lower latency.
func (t *Tailer) tick(watcher *fsnotify.Watcher) {
	if t.activeFile == "" {
		if err := t.bootstrap(); err != nil {
			return
		}
		t.watchActiveDir(watcher)
	}
	t.drain()
	t.checkRotation()
}

func (t *Tailer) handleFsEvent(watcher *fsnotify.Watcher, ev fsnotify.Event) {
	// A new month directory appearing under the root is the only root-level
	// event we care about.
	if filepath.Dir(ev.Name) == t.root && monthDirRe.MatchString(filepath.Base(ev.Name)) {
		t.checkMonthTransition(watcher)
		return
	}
	if t.activeDir != "" && strings.HasPrefix(ev.Name, t.activeDir) {
		t.drain()
		t.checkRotation()
	}
}

// bootstrap finds the latest month directory and its newest log file, and
// parks the cursor at end-of-file so history is not replayed.
func (t *Tailer) bootstrap() error {
	dir, err := latestMonthDir(t.root)
	if err != nil {
		return err
	}
	file, err := newestLogFile(dir)
	if err != nil {
		return err
	}
	info, err := os.Stat(file)
	if err != nil {
		return err
	}

	t.activeDir = dir
	t.activeFile = file
	t.cursor = info.Size()
	t.partial = nil
	t.log.InfoWithEndpoint("Following backend log", file)
	return nil
}

func (t *Tailer) watchActiveDir(watcher *fsnotify.Watcher) {
	if t.activeDir == "" {
		return
	}
	if err := watcher.Add(t.activeDir); err != nil {
		t.log.Warn("Cannot watch active log directory, relying on polling",
			"dir", t.activeDir, "error", err)
	}
}

// drain reads everything between the cursor and end-of-file, emitting events
// for each complete line. A trailing partial line waits in memory for its
// newline.
func (t *Tailer) drain() {
	if t.activeFile == "" {
		return
	}

	info, err := os.Stat(t.activeFile)
	if err != nil {
		if !os.IsNotExist(err) {
			t.log.Warn("Stat of active log failed", "file", t.activeFile, "error", err)
		}
		return
	}

	size := info.Size()
	if size < t.cursor {
		// Truncated in place; start over from the top.
		t.cursor = 0
		t.partial = nil
	}
	if size == t.cursor {
		return
	}

	f, err := os.Open(t.activeFile)
	if err != nil {
		t.log.Warn("Opening active log failed", "file", t.activeFile, "error", err)
		return
	}
	defer f.Close()

	if _, err := f.Seek(t.cursor, io.SeekStart); err != nil {
		t.log.Warn("Seeking active log failed", "file", t.activeFile, "error", err)
		return
	}

	buf := make([]byte, size-t.cursor)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.ErrUnexpectedEOF {
		t.log.Warn("Reading active log failed", "file", t.activeFile, "error", err)
		return
	}
	t.cursor += int64(n)

	data := append(t.partial, buf[:n]...)
	lines := strings.Split(string(data), "\n")
	t.partial = []byte(lines[len(lines)-1])
	for _, line := range lines[:len(lines)-1] {
		t.emitLine(strings.TrimSuffix(line, "\r"))
	}
}

func (t *Tailer) emitLine(raw string) {
	parsed, ok := ParseLine(raw)
	if !ok {
		return
	}

	t.pub.Publish(constants.EventDebugLog, domain.DebugLogPayload{
		Timestamp: parsed.Timestamp,
		Level:     parsed.Level,
		Message:   parsed.Message,
		Raw:       parsed.Raw,
	})

	if eventType, payload, ok := Extract(parsed.Message); ok {
		t.pub.Publish(eventType, payload)
	}
}

// checkRotation switches to a strictly newer log file in the active
// directory, restarting the cursor at the top of the new file.
func (t *Tailer) checkRotation() {
	if t.activeDir == "" {
		return
	}

	newest, err := newestLogFile(t.activeDir)
	if err != nil {
		t.log.Warn("Scanning active log directory failed", "dir", t.activeDir, "error", err)
		return
	}
	if newest == t.activeFile {
		return
	}

	newInfo, err := os.Stat(newest)
	if err != nil {
		return
	}
	if oldInfo, err := os.Stat(t.activeFile); err == nil {
		if !newInfo.ModTime().After(oldInfo.ModTime()) {
			return
		}
	}

	t.log.InfoWithEndpoint("Backend log rotated to", newest)
	t.activeFile = newest
	t.cursor = 0
	t.partial = nil
	t.drain()
}

// checkMonthTransition switches to a lexicographically newer month directory
// and announces the roll-over on the bus.
func (t *Tailer) checkMonthTransition(watcher *fsnotify.Watcher) {
	latest, err := latestMonthDir(t.root)
	if err != nil {
		return
	}
	if t.activeDir == "" {
		t.tick(watcher)
		return
	}
	if filepath.Base(latest) <= filepath.Base(t.activeDir) {
		return
	}

	file, err := newestLogFile(latest)
	if err != nil {
		// Directory exists but has no logs yet; retry on the next scan.
		return
	}

	oldDir := t.activeDir
	if err := watcher.Remove(oldDir); err == nil {
		t.log.Debug("Stopped watching old month directory", "dir", oldDir)
	}

	t.activeDir = latest
	t.activeFile = file
	t.cursor = 0
	t.partial = nil
	t.watchActiveDir(watcher)

	t.log.InfoWithEndpoint("Backend logs rolled to new month", latest)
	t.pub.Publish(constants.EventMonthTransition, domain.MonthTransitionPayload{
		OldDirectory: oldDir,
		NewDirectory: latest,
		NewLogFile:   file,
	})
	t.drain()
}

func latestMonthDir(root string) (string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return "", err
	}

	var months []string
	for _, e := range entries {
		if e.IsDir() && monthDirRe.MatchString(e.Name()) {
			months = append(months, e.Name())
		}
	}
	if len(months) == 0 {
		return "", fmt.Errorf("no month directories under %s", root)
	}
	sort.Strings(months)
	return filepath.Join(root, months[len(months)-1]), nil
}

func newestLogFile(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}

	var newest string
	var newestMod time.Time
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".log") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if newest == "" || info.ModTime().After(newestMod) {
			newest = e.Name()
			newestMod = info.ModTime()
		}
	}
	if newest == "" {
		return "", fmt.Errorf("no log files under %s", dir)
	}
	return filepath.Join(dir, newest), nil
}
