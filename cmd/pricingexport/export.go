package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/AntonStoeckl/composite-export-go/exportsource"
	"github.com/AntonStoeckl/composite-export-go/exportsource/composite"
)

const (
	logMsgExportStarted     = "pricing export started"
	logMsgExportResumed     = "pricing export resumed from checkpoint"
	logMsgExportPageWritten = "pricing export page written"
	logMsgExportCompleted   = "pricing export completed"
	logMsgExportStalled     = "pricing export stopped early, sources delivered an empty page"
	logAttrTotalCount       = "total_count"
	logAttrReceivedCount    = "received_count"
	logAttrPageNumber       = "page_number"
	logAttrItemCount        = "item_count"
	logAttrExported         = "exported"
	logAttrDurationMS       = "duration_ms"
	logAttrCheckpoint       = "checkpoint"
	logAttrOutputOffset     = "output_offset"
)

// exportResult summarizes one export run.
type exportResult struct {
	TotalCount int
	Exported   int
	Pages      int
	Resumed    bool
	Complete   bool
}

// exportRun walks a composite into a jsonLinesWriter and keeps the checkpoint current.
type exportRun struct {
	composite  *composite.Composite
	checkpoint checkpoint
	logger     *slog.Logger
	retry      func(operation string) []retryOption
}

// openCursor resumes from the checkpoint if there is one, otherwise it opens query.
// A checkpoint written for another selection is rejected, resuming it would mix two exports in one output.
func (r exportRun) openCursor(ctx context.Context, query exportsource.ExportQuery) (resumePoint, error) {
	point, found, err := r.checkpoint.load(r.composite)
	if err != nil {
		return resumePoint{}, err
	}

	if found {
		if err := checkSameSelection(point.cursor.Query(), query); err != nil {
			return resumePoint{}, errors.Join(err, fmt.Errorf("remove %s to start over", r.checkpoint.path))
		}

		r.logger.InfoContext(ctx, logMsgExportResumed,
			logAttrCheckpoint, r.checkpoint.path,
			logAttrPageNumber, point.cursor.PageNumber(),
			logAttrReceivedCount, point.cursor.ReceivedCount(),
			logAttrTotalCount, point.cursor.TotalCount(),
			logAttrOutputOffset, point.outputOffset)

		return point, nil
	}

	var cursor composite.Cursor
	err = retryWithExponentialBackoff(ctx, func(ctx context.Context) error {
		var openErr error
		cursor, openErr = r.composite.Open(ctx, query)
		return openErr
	}, r.retryOptions(operationOpen)...)
	if err != nil {
		return resumePoint{}, err
	}

	r.logger.InfoContext(ctx, logMsgExportStarted, logAttrTotalCount, cursor.TotalCount())

	return resumePoint{cursor: cursor}, nil
}

func (r exportRun) retryOptions(operation string) []retryOption {
	if r.retry == nil {
		return []retryOption{withMaxAttempts(1)}
	}

	return r.retry(operation)
}

// run exports every remaining page from point. Each page is written and flushed before the checkpoint
// moves past it, together with the output size at that moment. A resumed export cuts the output back
// to that size, so it neither skips nor repeats a page even if the last run died halfway through one.
func (r exportRun) run(ctx context.Context, point resumePoint, out *jsonLinesWriter) (exportResult, error) {
	start := time.Now()
	result := exportResult{TotalCount: point.cursor.TotalCount(), Resumed: point.resumed}
	last := point.cursor

	writePage := func(ctx context.Context, pageNumber int, items exportsource.Exportables) error {
		if err := out.WritePage(items); err != nil {
			return err
		}

		r.logger.DebugContext(ctx, logMsgExportPageWritten,
			logAttrPageNumber, pageNumber,
			logAttrItemCount, len(items))

		return nil
	}

	saveCheckpoint := func(_ context.Context, next composite.Cursor) error {
		if err := r.checkpoint.save(next, out.Offset()); err != nil {
			return err
		}

		result.Pages++
		last = next

		return nil
	}

	retryFetch := func(ctx context.Context, fetch func(context.Context) error) error {
		return retryWithExponentialBackoff(ctx, fetch, r.retryOptions(operationFetch)...)
	}

	exported, err := r.composite.WalkFrom(ctx, point.cursor, writePage,
		composite.WithFetchWrapper(retryFetch),
		composite.WithAfterPage(saveCheckpoint),
	)
	result.Exported = exported
	if err != nil {
		return result, err
	}

	if !last.Exhausted() {
		r.logger.WarnContext(ctx, logMsgExportStalled,
			logAttrPageNumber, last.PageNumber(),
			logAttrReceivedCount, last.ReceivedCount(),
			logAttrTotalCount, last.TotalCount())

		return result, nil
	}

	result.Complete = true

	if err := r.checkpoint.clear(); err != nil {
		return result, err
	}

	r.logger.InfoContext(ctx, logMsgExportCompleted,
		logAttrExported, result.Exported,
		logAttrTotalCount, result.TotalCount,
		logAttrDurationMS, time.Since(start).Milliseconds())

	return result, nil
}
