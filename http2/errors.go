package http2

import (
	"errors"
	"fmt"
)

// ErrCode is an HTTP/2 error code carried by RST_STREAM and GOAWAY frames.
// http://http2.github.io/http2-spec/#ErrorCodes
type ErrCode uint32

const (
	ErrCodeNo                 ErrCode = 0x0
	ErrCodeProtocol           ErrCode = 0x1
	ErrCodeInternal           ErrCode = 0x2
	ErrCodeFlowControl        ErrCode = 0x3
	ErrCodeSettingsTimeout    ErrCode = 0x4
	ErrCodeStreamClosed       ErrCode = 0x5
	ErrCodeFrameSize          ErrCode = 0x6
	ErrCodeRefusedStream      ErrCode = 0x7
	ErrCodeCancel             ErrCode = 0x8
	ErrCodeCompression        ErrCode = 0x9
	ErrCodeConnect            ErrCode = 0xa
	ErrCodeEnhanceYourCalm    ErrCode = 0xb
	ErrCodeInadequateSecurity ErrCode = 0xc
	ErrCodeHTTP11Required     ErrCode = 0xd
)

var errCodeName = map[ErrCode]string{
	ErrCodeNo:                 "NO_ERROR",
	ErrCodeProtocol:           "PROTOCOL_ERROR",
	ErrCodeInternal:           "INTERNAL_ERROR",
	ErrCodeFlowControl:        "FLOW_CONTROL_ERROR",
	ErrCodeSettingsTimeout:    "SETTINGS_TIMEOUT",
	ErrCodeStreamClosed:       "STREAM_CLOSED",
	ErrCodeFrameSize:          "FRAME_SIZE_ERROR",
	ErrCodeRefusedStream:      "REFUSED_STREAM",
	ErrCodeCancel:             "CANCEL",
	ErrCodeCompression:        "COMPRESSION_ERROR",
	ErrCodeConnect:            "CONNECT_ERROR",
	ErrCodeEnhanceYourCalm:    "ENHANCE_YOUR_CALM",
	ErrCodeInadequateSecurity: "INADEQUATE_SECURITY",
	ErrCodeHTTP11Required:     "HTTP_1_1_REQUIRED",
}

func (c ErrCode) String() string {
	if v, ok := errCodeName[c]; ok {
		return v
	}
	return fmt.Sprintf("UNKNOWN_ERROR_CODE_%d", uint32(c))
}

// FramingError covers a malformed frame header, a frame-size violation or a
// broken HEADERS/CONTINUATION sequence. Always fatal to the connection.
type FramingError struct {
	Code   ErrCode
	Reason string
}

func (e *FramingError) Error() string {
	return fmt.Sprintf("framing error (%v): %v", e.Code, e.Reason)
}

// DecodeError wraps a malformed compressed representation reported by the
// HPACK decoder. Always fatal to the connection: the dynamic table can no
// longer be trusted to match the peer's encoder.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("hpack decoding error: %v", e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

type LimitKind uint8

const (
	LimitHeaderCount LimitKind = iota
	LimitHeaderSize
)

func (k LimitKind) String() string {
	if k == LimitHeaderCount {
		return "HeaderCountExceeded"
	}
	return "HeaderSizeExceeded"
}

// LimitError reports that a header block blew one of the configured limits.
// Recoverable at stream granularity unless the limit policy decides that
// draining the rest of the block is no longer worth it.
type LimitError struct {
	Kind     LimitKind
	StreamID uint32
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("%v on stream %d", e.Kind, e.StreamID)
}

// errGoAwayReceived ends the read loop without emitting a GOAWAY of our own.
var errGoAwayReceived = errors.New("received GOAWAY from peer")
