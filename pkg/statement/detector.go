package statement

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Detector picks the descriptor matching a statement file. Descriptors are
// probed in registration order and the first match wins.
type Detector struct {
	descriptors []*Descriptor
	depth       int
	logger      *slog.Logger
}

// NewDetector creates a detector over the given descriptors. A nil slice
// registers the built-in formats.
func NewDetector(descriptors []*Descriptor, logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	if descriptors == nil {
		descriptors = Builtin()
	}

	depth := 1
	for _, d := range descriptors {
		depth = max(depth, d.probeDepth())
	}

	return &Detector{
		descriptors: descriptors,
		depth:       depth,
		logger:      logger,
	}
}

// Descriptors returns the registered descriptors in probe order.
func (d *Detector) Descriptors() []*Descriptor {
	return append([]*Descriptor(nil), d.descriptors...)
}

// Detect inspects only the leading bytes of a file. name is used for the
// extension check.
func (d *Detector) Detect(name string, head []byte) (*Descriptor, error) {
	if !strings.EqualFold(filepath.Ext(name), ".csv") {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFileType, filepath.Base(name))
	}

	if len(head) > SampleSize {
		head = head[:SampleSize]
	}
	lines := headerLines(decodeSample(head), d.depth)

	for _, desc := range d.descriptors {
		if desc.Matches(lines) {
			d.logger.Debug("detected statement format", "file", filepath.Base(name), "bank", desc.Name)
			return desc, nil
		}
	}

	return nil, fmt.Errorf("%w: %s", ErrUnrecognizedFormat, filepath.Base(name))
}

// DetectFile reads the header region of path and detects its format.
func (d *Detector) DetectFile(path string) (*Descriptor, error) {
	if !strings.EqualFold(filepath.Ext(path), ".csv") {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFileType, filepath.Base(path))
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening statement: %w", err)
	}
	defer f.Close()

	head := make([]byte, SampleSize)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("reading statement header: %w", err)
	}

	return d.Detect(path, head[:n])
}

func headerLines(text string, n int) []string {
	text = strings.TrimPrefix(text, "\ufeff")
	lines := strings.SplitN(text, "\n", n+1)
	if len(lines) > n {
		lines = lines[:n]
	}
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, "\r")
	}
	return lines
}
