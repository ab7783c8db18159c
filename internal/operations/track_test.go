package operations

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"progresshub/pkg/contracts/domain"
)

func TestTrackCompletes(t *testing.T) {
	r := newTestReporter()
	err := Track(context.Background(), r, func(ctx context.Context, r *Reporter) error {
		r.ReportProgress(ctx, 50)
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, domain.OperationStatusCompleted, r.Status())
	assert.Equal(t, float64(100), r.Snapshot().Progress)
}

func TestTrackFailsOnError(t *testing.T) {
	r := newTestReporter()
	want := NewValidationError("load", "empty input")

	err := Track(context.Background(), r, func(ctx context.Context, r *Reporter) error {
		return want
	})

	assert.ErrorIs(t, err, want)
	assert.Equal(t, domain.OperationStatusFailed, r.Status())
	assert.Equal(t, "validation", r.Snapshot().Details[domain.DetailErrorCode])
}

func TestTrackLeavesCanceledAlone(t *testing.T) {
	r := newTestReporter()
	err := Track(context.Background(), r, func(ctx context.Context, r *Reporter) error {
		r.ReportProgress(ctx, 10)
		r.ReportCanceled(ctx, nil)
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, domain.OperationStatusCanceled, r.Status())
}

func TestTrackRepanics(t *testing.T) {
	r := newTestReporter()

	assert.PanicsWithValue(t, "kaboom", func() {
		_ = Track(context.Background(), r, func(ctx context.Context, r *Reporter) error {
			panic("kaboom")
		})
	})
	assert.Equal(t, domain.OperationStatusFailed, r.Status())
	assert.Equal(t, "panic: kaboom", r.Snapshot().Details[domain.DetailErrorMessage])
}

func TestErrorHelpers(t *testing.T) {
	wrapped := errors.Join(errors.New("ctx"), NewTimeoutError("fetch", "30s"))
	assert.True(t, IsRetryable(wrapped))
	assert.Equal(t, ErrorTypeTimeout, GetErrorType(wrapped))
	assert.Equal(t, ErrorTypeExecution, GetErrorType(errors.New("plain")))
	assert.Equal(t, ErrorType(""), GetErrorType(nil))
	assert.Equal(t, "[cancellation] fetch: operation was canceled", NewCancellationError("fetch").Error())
}
