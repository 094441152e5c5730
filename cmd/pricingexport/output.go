package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"

	jsoniter "github.com/json-iterator/go"

	"github.com/AntonStoeckl/composite-export-go/exportsource"
)

var (
	errWritingOutputFailed    = errors.New("writing export output failed")
	errOutputBehindCheckpoint = errors.New("export output is shorter than the checkpoint expects")
)

// exportLine is one line of the JSON lines output.
type exportLine struct {
	ObjectType string              `json:"object_type"`
	ObjectID   string              `json:"object_id"`
	Payload    jsoniter.RawMessage `json:"payload"`
}

// jsonLinesWriter writes exportables as JSON lines, one object per line.
type jsonLinesWriter struct {
	w       *bufio.Writer
	encoder *jsoniter.Encoder
	counter *countingWriter
	closer  io.Closer
}

func newJSONLinesWriter(w io.Writer, offset int64) *jsonLinesWriter {
	counter := &countingWriter{w: w, n: offset}
	buffered := bufio.NewWriter(counter)

	return &jsonLinesWriter{
		w:       buffered,
		encoder: jsoniter.ConfigFastest.NewEncoder(buffered),
		counter: counter,
	}
}

// openOutput opens the output target: "-" is stdout, anything else a file.
//
// A fresh export truncates the file. A resumed one cuts it back to the offset of the checkpoint,
// which drops whatever part of a page was written after the last checkpoint, and appends from there.
func openOutput(path string, stdout io.Writer, point resumePoint) (*jsonLinesWriter, error) {
	if path == "" || path == defaultOut {
		return newJSONLinesWriter(stdout, point.outputOffset), nil
	}

	if !point.resumed {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
		if err != nil {
			return nil, errors.Join(errWritingOutputFailed, err)
		}

		writer := newJSONLinesWriter(f, 0)
		writer.closer = f

		return writer, nil
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, errors.Join(errWritingOutputFailed, err)
	}

	if err := rewindOutput(f, point.outputOffset); err != nil {
		_ = f.Close()
		return nil, err
	}

	writer := newJSONLinesWriter(f, point.outputOffset)
	writer.closer = f

	return writer, nil
}

func rewindOutput(f *os.File, offset int64) error {
	info, err := f.Stat()
	if err != nil {
		return errors.Join(errWritingOutputFailed, err)
	}

	if info.Size() < offset {
		return errors.Join(errOutputBehindCheckpoint,
			fmt.Errorf("%s has %d bytes, the checkpoint expects at least %d", f.Name(), info.Size(), offset))
	}

	if err := f.Truncate(offset); err != nil {
		return errors.Join(errWritingOutputFailed, err)
	}

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return errors.Join(errWritingOutputFailed, err)
	}

	return nil
}

// WritePage writes all items and flushes, so that a page is on disk before its checkpoint is.
func (w *jsonLinesWriter) WritePage(items exportsource.Exportables) error {
	for _, item := range items {
		line := exportLine{
			ObjectType: item.ObjectType,
			ObjectID:   item.ObjectID,
			Payload:    item.PayloadJSON,
		}

		if err := w.encoder.Encode(line); err != nil {
			return errors.Join(errWritingOutputFailed, err)
		}
	}

	if err := w.w.Flush(); err != nil {
		return errors.Join(errWritingOutputFailed, err)
	}

	return nil
}

// Offset returns the number of bytes that reached the output, including those before a resume.
// Right after WritePage it is the size of the output up to and including that page.
func (w *jsonLinesWriter) Offset() int64 {
	return w.counter.n
}

func (w *jsonLinesWriter) Close() error {
	flushErr := w.w.Flush()

	if w.closer == nil {
		return flushErr
	}

	return errors.Join(flushErr, w.closer.Close())
}

// countingWriter counts the bytes its writer accepted.
type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)

	return n, err
}
