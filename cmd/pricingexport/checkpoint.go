package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	jsoniter "github.com/json-iterator/go"

	"github.com/AntonStoeckl/composite-export-go/exportsource"
	"github.com/AntonStoeckl/composite-export-go/exportsource/composite"
)

var (
	errReadingCheckpointFailed = errors.New("reading checkpoint failed")
	errWritingCheckpointFailed = errors.New("writing checkpoint failed")
	errCheckpointQueryMismatch = errors.New("checkpoint belongs to an export with a different query")
)

// checkpointState is what a checkpoint file holds: the cursor after the last written page
// and the size the output had when that page was flushed.
type checkpointState struct {
	OutputOffset int64               `json:"output_offset"`
	Cursor       jsoniter.RawMessage `json:"cursor"`
}

// resumePoint is where an export run starts: at a fresh cursor, or where a checkpoint left off.
type resumePoint struct {
	cursor       composite.Cursor
	outputOffset int64
	resumed      bool
}

// checkpoint persists the export cursor after every written page, so that an interrupted export can resume.
// A checkpoint with an empty path does nothing.
type checkpoint struct {
	path string
}

// load restores the resume point of a previous run. found is false when there is no checkpoint.
func (c checkpoint) load(exporter *composite.Composite) (point resumePoint, found bool, err error) {
	if c.path == "" {
		return resumePoint{}, false, nil
	}

	data, err := os.ReadFile(c.path)
	if errors.Is(err, os.ErrNotExist) {
		return resumePoint{}, false, nil
	}

	if err != nil {
		return resumePoint{}, false, errors.Join(errReadingCheckpointFailed, err)
	}

	var state checkpointState
	if err := jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(data, &state); err != nil {
		return resumePoint{}, false, errors.Join(errReadingCheckpointFailed, err)
	}

	if state.OutputOffset < 0 {
		return resumePoint{}, false, errors.Join(errReadingCheckpointFailed, fmt.Errorf("negative output offset: %d", state.OutputOffset))
	}

	cursor, err := exporter.RestoreCursor(state.Cursor)
	if err != nil {
		return resumePoint{}, false, errors.Join(errReadingCheckpointFailed, err)
	}

	return resumePoint{cursor: cursor, outputOffset: state.OutputOffset, resumed: true}, true, nil
}

// save writes the cursor to a temporary file and renames it, a crash never leaves a torn checkpoint behind.
func (c checkpoint) save(cursor composite.Cursor, outputOffset int64) error {
	if c.path == "" {
		return nil
	}

	cursorJSON, err := cursor.MarshalJSON()
	if err != nil {
		return errors.Join(errWritingCheckpointFailed, err)
	}

	data, err := jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(checkpointState{
		OutputOffset: outputOffset,
		Cursor:       cursorJSON,
	})
	if err != nil {
		return errors.Join(errWritingCheckpointFailed, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(c.path), filepath.Base(c.path)+".*.tmp")
	if err != nil {
		return errors.Join(errWritingCheckpointFailed, err)
	}

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return errors.Join(errWritingCheckpointFailed, err)
	}

	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return errors.Join(errWritingCheckpointFailed, err)
	}

	if err := os.Rename(tmp.Name(), c.path); err != nil {
		_ = os.Remove(tmp.Name())
		return errors.Join(errWritingCheckpointFailed, err)
	}

	return nil
}

// clear removes the checkpoint after a completed export.
func (c checkpoint) clear() error {
	if c.path == "" {
		return nil
	}

	if err := os.Remove(c.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return errors.Join(errWritingCheckpointFailed, err)
	}

	return nil
}

// checkSameSelection fails unless the current query selects what the checkpointed one did.
// The order of the object ids does not matter, the sort expression has to be identical.
func checkSameSelection(checkpointed, current exportsource.ExportQuery) error {
	if !slices.Equal(sortedIDs(checkpointed.ObjectIDs), sortedIDs(current.ObjectIDs)) {
		return errors.Join(errCheckpointQueryMismatch,
			fmt.Errorf("object ids were %v, now %v", checkpointed.ObjectIDs, current.ObjectIDs))
	}

	if checkpointed.Sort != current.Sort {
		return errors.Join(errCheckpointQueryMismatch,
			fmt.Errorf("sort was %q, now %q", checkpointed.Sort, current.Sort))
	}

	return nil
}

func sortedIDs(ids []exportsource.ObjectIDString) []exportsource.ObjectIDString {
	sorted := slices.Clone(ids)
	slices.Sort(sorted)

	return sorted
}
