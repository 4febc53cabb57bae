package log

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// LogAppender receives finished log entries. Implementations must tolerate
// concurrent Write calls.
type LogAppender interface {
	Write(entry []byte)

	// Refresh forces buffered output to be flushed.
	Refresh()

	Close() error
}

// ConsoleAppender writes entries to stdout.
type ConsoleAppender struct {
	mu sync.Mutex
}

// NewConsoleAppender ...
func NewConsoleAppender() *ConsoleAppender {
	return &ConsoleAppender{}
}

// Write ...
func (a *ConsoleAppender) Write(entry []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, _ = os.Stdout.Write(entry)
}

// Refresh ...
func (a *ConsoleAppender) Refresh() {}

// Close ...
func (a *ConsoleAppender) Close() error { return nil }

// FileAppender writes entries to a log file with size-based rotation and an
// optional asynchronous write path driven by a flush ticker.
type FileAppender struct {
	mu        sync.Mutex
	path      string
	splitMB   int
	file      *os.File
	written   int64
	async     bool
	cache     chan []byte
	closeOnce sync.Once
	done      chan struct{}
}

// NewFileAppender creates a file appender from the logger configuration.
// Directories along the path are created on demand.
func NewFileAppender(cfg *LogCfg) *FileAppender {
	a := &FileAppender{
		path:    cfg.LogPath,
		splitMB: cfg.FileSplitMB,
		async:   cfg.IsAsync,
		done:    make(chan struct{}),
	}

	if a.async {
		size := cfg.AsyncCacheSize
		if size <= 0 {
			size = 1024
		}
		interval := cfg.AsyncWriteMillSec
		if interval <= 0 {
			interval = 200
		}
		a.cache = make(chan []byte, size)
		go a.serveWrite(time.Duration(interval) * time.Millisecond)
	}

	return a
}

// Write ...
func (a *FileAppender) Write(entry []byte) {
	if a.async {
		// drop on overflow, never block the logging goroutine
		cp := make([]byte, len(entry))
		copy(cp, entry)
		select {
		case a.cache <- cp:
		default:
		}
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.write(entry)
}

func (a *FileAppender) write(entry []byte) {
	if a.file == nil {
		if err := a.open(); err != nil {
			return
		}
	}

	n, err := a.file.Write(entry)
	if err != nil {
		return
	}
	a.written += int64(n)

	if a.splitMB > 0 && a.written >= int64(a.splitMB)<<20 {
		a.rotate()
	}
}

func (a *FileAppender) open() error {
	if dir := filepath.Dir(a.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(a.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return err
	}
	a.file = f
	a.written = st.Size()
	return nil
}

func (a *FileAppender) rotate() {
	_ = a.file.Close()
	a.file = nil

	rotated := fmt.Sprintf("%s.%s", a.path, time.Now().Format("20060102-150405"))
	_ = os.Rename(a.path, rotated)
	a.written = 0
}

func (a *FileAppender) serveWrite(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	flush := func() {
		for {
			select {
			case entry := <-a.cache:
				a.mu.Lock()
				a.write(entry)
				a.mu.Unlock()
			default:
				return
			}
		}
	}

	for {
		select {
		case <-a.done:
			flush()
			return
		case <-ticker.C:
			flush()
		}
	}
}

// Refresh drains pending async entries to disk.
func (a *FileAppender) Refresh() {
	if !a.async {
		return
	}
	for {
		select {
		case entry := <-a.cache:
			a.mu.Lock()
			a.write(entry)
			a.mu.Unlock()
		default:
			return
		}
	}
}

// Close flushes and closes the underlying file.
func (a *FileAppender) Close() error {
	var err error
	a.closeOnce.Do(func() {
		if a.async {
			close(a.done)
		}
		a.Refresh()
		a.mu.Lock()
		defer a.mu.Unlock()
		if a.file != nil {
			err = a.file.Close()
			a.file = nil
		}
	})
	return err
}
