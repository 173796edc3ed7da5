package fetch

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "kind only",
			err:  &Error{Kind: ErrMissingLength, Op: "head", URL: "http://host/a.zip"},
			want: "head http://host/a.zip: response has no content length",
		},
		{
			name: "with status code",
			err:  &Error{Kind: ErrUnexpectedStatus, Op: "get_range", URL: "http://host/a.zip", StatusCode: 416},
			want: "get_range http://host/a.zip: unexpected server response (HTTP 416)",
		},
		{
			name: "with cause",
			err:  &Error{Kind: ErrStreamFailed, Op: "get", URL: "http://host/a.zip", Err: io.ErrUnexpectedEOF},
			want: "get http://host/a.zip: stream interrupted: unexpected EOF",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestError_IsAndAs(t *testing.T) {
	cause := errors.New("connection reset")
	wrapped := fmt.Errorf("item abc: %w", &Error{Kind: ErrRequestFailed, Op: "get", URL: "u", Err: cause})

	assert.ErrorIs(t, wrapped, ErrRequestFailed)
	assert.ErrorIs(t, wrapped, cause)
	assert.NotErrorIs(t, wrapped, ErrWriteFailed)

	var target *Error
	if assert.ErrorAs(t, wrapped, &target) {
		assert.Equal(t, "get", target.Op)
	}
}

func TestError_NilCause(t *testing.T) {
	err := &Error{Kind: ErrMissingLength, Op: "get", URL: "u"}

	assert.Equal(t, []error{ErrMissingLength}, err.Unwrap())
	assert.ErrorIs(t, err, ErrMissingLength)
}
