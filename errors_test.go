package channel_archiver

import (
	"context"
	"errors"
	"fmt"
	"testing"

	assert_ "github.com/stretchr/testify/assert"
)

func TestErrorTaxonomy(t *testing.T) {
	assert := assert_.New(t)

	assert.True(errors.Is(&ValidationError{Entity: "download", Field: "uuid", Reason: "empty"}, ErrValidation))
	assert.True(errors.Is(&NotFoundError{Entity: "download", Key: "x"}, ErrNotFound))
	assert.True(errors.Is(&ConflictError{UUID: "x", Reason: "busy"}, ErrConflict))

	inner := errors.New("disk full")
	perr := fmt.Errorf("saving: %w", &PersistenceError{Op: "write", Path: "/tmp/x", Err: inner})
	assert.True(errors.Is(perr, ErrPersistence))
	assert.True(errors.Is(perr, inner))

	prov := &ProviderError{Kind: ProviderErrorRestricted, Op: "video stream", Err: inner}
	assert.True(errors.Is(prov, ErrProvider))
	var target *ProviderError
	assert.True(errors.As(fmt.Errorf("wrapped: %w", prov), &target))
	assert.Equal(ProviderErrorRestricted, target.Kind)
}

func TestTranscodeErrorTimeout(t *testing.T) {
	assert := assert_.New(t)

	timeout := &TranscodeError{Err: context.DeadlineExceeded}
	assert.True(errors.Is(timeout, ErrTranscode))
	assert.True(errors.Is(timeout, ErrTranscodeTimeout))

	explicit := &TranscodeError{Err: ErrTranscodeTimeout}
	assert.True(errors.Is(explicit, ErrTranscodeTimeout))

	failed := &TranscodeError{Err: errors.New("exit status 1"), Output: "Invalid data found"}
	assert.True(errors.Is(failed, ErrTranscode))
	assert.False(errors.Is(failed, ErrTranscodeTimeout))
	assert.Contains(failed.Error(), "Invalid data found")
}
