// Package journal appends per-bar and per-trade records as JSON lines,
// rotating files by size so long paper runs stay bounded on disk.
package journal

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"hl-pairs-bot/internal/strategy"
)

const (
	defaultMaxBytes = 10 * 1024 * 1024
	maxRotations    = 5
)

// fileLogger appends lines to a single file and shifts older files to
// numbered suffixes when the size limit is reached.
type fileLogger struct {
	path     string
	maxBytes int64
	file     *os.File
}

func newFileLogger(path string, maxBytes int64) (*fileLogger, error) {
	if maxBytes <= 0 {
		maxBytes = defaultMaxBytes
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &fileLogger{path: path, maxBytes: maxBytes, file: file}, nil
}

func (l *fileLogger) writeLine(line string) error {
	info, err := l.file.Stat()
	if err == nil && info.Size()+int64(len(line))+1 > l.maxBytes {
		if err := l.rotate(); err != nil {
			return err
		}
	}
	_, err = fmt.Fprintln(l.file, line)
	return err
}

func (l *fileLogger) rotate() error {
	if err := l.file.Close(); err != nil {
		return err
	}
	for index := maxRotations; index >= 1; index-- {
		target := rotatedPath(l.path, index)
		var source string
		if index == 1 {
			source = l.path
		} else {
			source = rotatedPath(l.path, index-1)
		}
		if _, err := os.Stat(source); err != nil {
			continue
		}
		if err := os.Rename(source, target); err != nil {
			return err
		}
	}
	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	l.file = file
	return nil
}

func (l *fileLogger) close() error {
	return l.file.Close()
}

func rotatedPath(path string, index int) string {
	return fmt.Sprintf("%s.%d", path, index)
}

// Writer persists bar and trade logs for one run.
type Writer struct {
	mu     sync.Mutex
	bars   *fileLogger
	trades *fileLogger
}

func NewWriter(dir string) (*Writer, error) {
	bars, err := newFileLogger(filepath.Join(dir, "bars.jsonl"), defaultMaxBytes)
	if err != nil {
		return nil, err
	}
	trades, err := newFileLogger(filepath.Join(dir, "trades.jsonl"), defaultMaxBytes)
	if err != nil {
		_ = bars.close()
		return nil, err
	}
	return &Writer{bars: bars, trades: trades}, nil
}

func (w *Writer) WriteBar(bar strategy.BarLog) error {
	line, err := json.Marshal(bar)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.bars.writeLine(string(line))
}

func (w *Writer) WriteTrade(trade strategy.TradeLog) error {
	line, err := json.Marshal(trade)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.trades.writeLine(string(line))
}

func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	barsErr := w.bars.close()
	tradesErr := w.trades.close()
	if barsErr != nil {
		return barsErr
	}
	return tradesErr
}
