package operations

import (
	"context"
	"fmt"
)

// Track runs fn and reports its outcome on reporter:
//   - an error fails the operation via ReportError and is returned
//   - a panic fails the operation and is re-raised
//   - success completes the operation unless fn already finished or canceled it
func Track(ctx context.Context, reporter *Reporter, fn func(ctx context.Context, reporter *Reporter) error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			reporter.ReportFailed(ctx, fmt.Sprintf("panic: %v", p), nil)
			panic(p)
		}
	}()

	if err = fn(ctx, reporter); err != nil {
		reporter.ReportError(ctx, err)
		return err
	}

	if !reporter.IsFinished() && !reporter.ShouldCancel() {
		reporter.ReportCompleted(ctx, nil)
	}
	return nil
}
