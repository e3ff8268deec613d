package classifier

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// ErrNoLabels is returned when a label list contains no usable entries.
var ErrNoLabels = errors.New("label list is empty")

// LabelSet is the ordered, read-only list of class names. Line order in the
// label file fixes class indices for the lifetime of the process.
type LabelSet struct {
	names []string
}

// NewLabelSet builds a LabelSet from names, which is copied.
func NewLabelSet(names []string) (LabelSet, error) {
	if len(names) == 0 {
		return LabelSet{}, ErrNoLabels
	}
	return LabelSet{names: append([]string(nil), names...)}, nil
}

// ReadLabels parses one label per line, trimming whitespace and skipping blank lines.
func ReadLabels(r io.Reader) (LabelSet, error) {
	var names []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			names = append(names, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return LabelSet{}, fmt.Errorf("read labels: %w", err)
	}
	return NewLabelSet(names)
}

// LoadLabels reads the label file at path.
func LoadLabels(path string) (LabelSet, error) {
	f, err := os.Open(path) //nolint:gosec // path comes from process configuration
	if err != nil {
		return LabelSet{}, err
	}
	defer f.Close()
	return ReadLabels(f)
}

// Len returns the number of classes.
func (l LabelSet) Len() int {
	return len(l.names)
}

// Label returns the name of class i, or an empty string when i is out of range.
func (l LabelSet) Label(i int) string {
	if i < 0 || i >= len(l.names) {
		return ""
	}
	return l.names[i]
}

// Names returns a copy of the ordered class names.
func (l LabelSet) Names() []string {
	return append([]string(nil), l.names...)
}
