package rpc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	f := Frame{
		RequestID: 7,
		SenderID:  3,
		Type:      FrameRequest,
		Status:    StatusOK,
		FuncID:    2,
		Payload:   []byte("hello"),
	}

	got, err := Decode(Encode(f))
	require.NoError(t, err)
	require.Equal(t, f, got)
}

func TestEncodeLengthIncludesHeader(t *testing.T) {
	buf := Encode(Frame{RequestID: 1, FuncID: 1})
	require.Len(t, buf, HeaderSize)
}

func TestDecodeRejectsShortFrame(t *testing.T) {
	_, err := Decode([]byte{1, 2, 3})
	require.ErrorIs(t, err, ErrFrameTooShort)
}

func TestRegistryDispatchUnknownFunc(t *testing.T) {
	r := NewRegistry()
	_, status, err := r.Dispatch(9, 1, nil)
	require.ErrorIs(t, err, ErrUnknownFunc)
	require.Equal(t, StatusUnknownFunc, status)
}

func TestRegistryRegisterReplaces(t *testing.T) {
	r := NewRegistry()
	r.Register(1, func(uint16, []byte) ([]byte, Status) { return []byte("a"), StatusOK })
	r.Register(1, func(uint16, []byte) ([]byte, Status) { return []byte("b"), StatusOK })

	resp, status, err := r.Dispatch(1, 1, nil)
	require.NoError(t, err)
	require.Equal(t, StatusOK, status)
	require.Equal(t, []byte("b"), resp)
}
