package fault

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	err := New(DecodeError, io.ErrUnexpectedEOF)
	assert.Equal(t, DecodeError, KindOf(err))

	wrapped := fmt.Errorf("frame 12: %w", err)
	assert.Equal(t, DecodeError, KindOf(wrapped))
	assert.ErrorIs(t, wrapped, io.ErrUnexpectedEOF)

	assert.Equal(t, Unknown, KindOf(errors.New("plain")))
	assert.Equal(t, Unknown, KindOf(nil))
}

func TestNewNil(t *testing.T) {
	assert.NoError(t, New(PortError, nil))
}

func TestIsMatchesKind(t *testing.T) {
	err := Errorf(SinkWriteError, "write %s", "out.csv")
	assert.True(t, errors.Is(err, &Error{Kind: SinkWriteError}))
	assert.False(t, errors.Is(err, &Error{Kind: DecodeError}))
}

func TestOnlyPortErrorIsFatal(t *testing.T) {
	for _, k := range []Kind{Unknown, SyncLoss, FrameSizeInvalid, DecodeError, SinkWriteError} {
		assert.False(t, k.Fatal(), "kind %s should be recoverable", k)
	}
	assert.True(t, PortError.Fatal())
	assert.True(t, IsFatal(New(PortError, io.EOF)))
}

func TestErrorString(t *testing.T) {
	err := New(FrameSizeInvalid, errors.New("length 7"))
	require.Error(t, err)
	assert.Equal(t, "frame_size_invalid: length 7", err.Error())
	assert.Equal(t, "kind(42)", Kind(42).String())
}
