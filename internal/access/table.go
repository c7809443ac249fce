package access

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrNoTable is returned when the table file does not exist yet (no sync
// has completed on this device).
var ErrNoTable = errors.New("access: authorization table not present")

// Table is the file-backed set of authorized digests, one lowercase hex
// digest per line.
type Table struct {
	path string
}

// NewTable returns a table backed by path. The file need not exist yet.
func NewTable(path string) *Table {
	return &Table{path: path}
}

// Path is the live table file. The syncer renames new tables onto it.
func (t *Table) Path() string {
	return t.path
}

// IsAuthorized reports whether digest is in the table. The file is read
// on every call.
func (t *Table) IsAuthorized(digest string) (bool, error) {
	f, err := os.Open(t.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, ErrNoTable
		}
		return false, fmt.Errorf("opening authorization table: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if strings.TrimSpace(scanner.Text()) == digest {
			return true, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return false, fmt.Errorf("reading authorization table: %w", err)
	}
	return false, nil
}

// Count returns the number of non-empty lines in the table.
func (t *Table) Count() (int, error) {
	f, err := os.Open(t.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, ErrNoTable
		}
		return 0, fmt.Errorf("opening authorization table: %w", err)
	}
	defer f.Close()

	n := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if strings.TrimSpace(scanner.Text()) != "" {
			n++
		}
	}
	if err := scanner.Err(); err != nil {
		return n, fmt.Errorf("reading authorization table: %w", err)
	}
	return n, nil
}
