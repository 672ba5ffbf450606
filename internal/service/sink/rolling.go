package sink

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"sync"
)

// RollingFile appends one JSON document per line and keeps at most max lines.
// A max of 0 never truncates and only ever appends.
type RollingFile struct {
	mu   sync.Mutex
	path string
	max  int
}

// NewRollingFile returns a RollingFile writing to path.
func NewRollingFile(path string, max int) *RollingFile {
	return &RollingFile{path: path, max: max}
}

// Path returns the file location.
func (f *RollingFile) Path() string {
	return f.path
}

// Append writes item as a single JSON line.
func (f *RollingFile) Append(item any) error {
	line, err := encodeLine(item)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.max <= 0 {
		return f.appendLine(line)
	}

	lines, err := f.readLines()
	if err != nil {
		return err
	}
	lines = append(lines, line)
	if len(lines) > f.max {
		lines = lines[len(lines)-f.max:]
	}
	if err := os.WriteFile(f.path, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", f.path, err)
	}
	return nil
}

// Lines returns the non-blank lines currently in the file.
func (f *RollingFile) Lines() ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.readLines()
}

// Tail returns at most n of the last non-blank lines without loading the
// whole file into a slice.
func (f *RollingFile) Tail(n int) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if n <= 0 {
		return nil, nil
	}

	file, err := os.Open(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", f.path, err)
	}
	defer file.Close()

	tail := make([]string, 0, n)
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		if len(tail) == n {
			tail = append(tail[:0], tail[1:]...)
		}
		tail = append(tail, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan %s: %w", f.path, err)
	}
	return tail, nil
}

func (f *RollingFile) appendLine(line string) error {
	file, err := os.OpenFile(f.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", f.path, err)
	}
	if _, err := file.WriteString(line + "\n"); err != nil {
		file.Close()
		return fmt.Errorf("append %s: %w", f.path, err)
	}
	return file.Close()
}

func (f *RollingFile) readLines() ([]string, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", f.path, err)
	}

	var lines []string
	for _, line := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	return lines, nil
}

// encodeLine marshals item without HTML escaping so message text stays readable.
func encodeLine(item any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(item); err != nil {
		return "", fmt.Errorf("encode line: %w", err)
	}
	return strings.TrimRight(buf.String(), "\n"), nil
}
