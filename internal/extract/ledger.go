package extract

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ledgerName is the per-capture-directory file listing already-processed
// capture artifacts, one base name per line.
const ledgerName = "_processed.txt"

// Ledger tracks which capture files incremental extraction has consumed.
// Entries are append-only; the ledger never shrinks while its capture
// directory exists.
type Ledger struct {
	path string
	seen map[string]struct{}
}

// LoadLedger reads the ledger for a capture directory, returning an empty
// ledger when none exists yet.
func LoadLedger(dir string) (*Ledger, error) {
	l := &Ledger{
		path: filepath.Join(dir, ledgerName),
		seen: make(map[string]struct{}),
	}

	f, err := os.Open(l.path)
	if os.IsNotExist(err) {
		return l, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		name := strings.TrimSpace(scanner.Text())
		if name != "" {
			l.seen[name] = struct{}{}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read ledger: %w", err)
	}
	return l, nil
}

// Processed reports whether a capture file was already consumed.
func (l *Ledger) Processed(sourcePath string) bool {
	_, ok := l.seen[filepath.Base(sourcePath)]
	return ok
}

// Mark appends a capture file to the ledger.
func (l *Ledger) Mark(sourcePath string) error {
	name := filepath.Base(sourcePath)
	if _, ok := l.seen[name]; ok {
		return nil
	}

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open ledger: %w", err)
	}
	defer f.Close()

	if _, err := fmt.Fprintln(f, name); err != nil {
		return fmt.Errorf("failed to append to ledger: %w", err)
	}
	l.seen[name] = struct{}{}
	return nil
}
