package errs

import (
	"context"
	"io"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"

	"github.com/scoreleaf/api/internal/model"
)

func TestMarkersSurviveWrapping(t *testing.T) {
	err := Transient(io.ErrUnexpectedEOF, "stream cut short")
	wrapped := errors.Wrap(err, "fetching stem")

	assert.True(t, IsTransient(wrapped))
	assert.False(t, IsPermanent(wrapped))
	assert.True(t, errors.Is(wrapped, io.ErrUnexpectedEOF), "the cause stays reachable")
}

func TestContextErrorsAreRecognized(t *testing.T) {
	assert.True(t, IsTimeout(context.DeadlineExceeded))
	assert.True(t, IsCanceled(context.Canceled))
	assert.False(t, IsTimeout(context.Canceled))
	assert.False(t, IsCanceled(context.DeadlineExceeded))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		kind      model.ErrorKind
		retryable bool
	}{
		{"nil", nil, "", false},
		{"transient", Transientf("separator unreachable"), model.ErrorKindTransient, true},
		{"permanent", Permanentf("unsupported codec"), model.ErrorKindInvalidInput, false},
		{"timeout mark", Timeoutf("exceeded budget"), model.ErrorKindTimeout, false},
		{"deadline exceeded", context.DeadlineExceeded, model.ErrorKindTimeout, false},
		{"canceled mark", Canceledf("user cancel"), model.ErrorKindCanceled, false},
		{"context canceled", context.Canceled, model.ErrorKindCanceled, false},
		{"unknown", errors.New("surprise"), model.ErrorKindInternal, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kind, retryable := Classify(tt.err)
			assert.Equal(t, tt.kind, kind)
			assert.Equal(t, tt.retryable, retryable)
		})
	}
}

func TestCanceledWinsOverTimeoutClassification(t *testing.T) {
	// A cancellation noticed inside a deadline-bounded context must report as
	// canceled, not timeout.
	err := Canceledf("aborted: %v", context.Canceled)
	kind, retryable := Classify(err)
	assert.Equal(t, model.ErrorKindCanceled, kind)
	assert.False(t, retryable)
}
