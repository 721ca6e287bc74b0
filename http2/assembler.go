package http2

import (
	"fmt"

	slog "github.com/vearne/simplelog"
	"golang.org/x/net/http2/hpack"
)

// BlockResult is produced when a header block closes (END_HEADERS observed).
// Limit is non-nil when the block blew a header limit while decoding; in
// that case Fields is empty and nothing may be dispatched.
type BlockResult struct {
	StreamID  uint32
	EndStream bool
	Fields    []hpack.HeaderField
	Limit     *LimitError
}

// Assembler tracks the single header block that may be in progress on a
// connection. Fragments are forwarded to the decoder as they arrive, frame
// by frame, so a limit violation surfaces as soon as the offending bytes do.
// Peak buffering stays around one frame's payload plus decoder working
// state, not the attacker-chosen total block size.
type Assembler struct {
	decoder *BoundedDecoder

	open      bool
	streamID  uint32
	endStream bool
	volume    int
}

func NewAssembler(decoder *BoundedDecoder) *Assembler {
	var a Assembler
	a.decoder = decoder
	return &a
}

// Open reports whether a header block is currently in progress.
func (a *Assembler) Open() bool {
	return a.open
}

func (a *Assembler) StreamID() uint32 {
	return a.streamID
}

// Volume is the compressed size of the block observed so far.
func (a *Assembler) Volume() int {
	return a.volume
}

// Begin opens a header block for streamID with the HEADERS frame fragment.
func (a *Assembler) Begin(streamID uint32, fragment []byte, endHeaders, endStream bool) (*BlockResult, error) {
	if a.open {
		return nil, &FramingError{Code: ErrCodeProtocol,
			Reason: fmt.Sprintf("HEADERS on stream %d while header block of stream %d is open",
				streamID, a.streamID)}
	}
	if streamID == 0 {
		return nil, &FramingError{Code: ErrCodeProtocol,
			Reason: "HEADERS on stream 0"}
	}

	a.open = true
	a.streamID = streamID
	a.endStream = endStream
	a.volume = 0
	a.decoder.BeginBlock(streamID)

	slog.Debug("open header block, stream:%v, endHeaders:%v, endStream:%v",
		streamID, endHeaders, endStream)
	return a.append(fragment, endHeaders)
}

// Continue appends a CONTINUATION frame fragment to the open block.
func (a *Assembler) Continue(streamID uint32, fragment []byte, endHeaders bool) (*BlockResult, error) {
	if !a.open {
		return nil, &FramingError{Code: ErrCodeProtocol,
			Reason: fmt.Sprintf("CONTINUATION on stream %d without preceding HEADERS", streamID)}
	}
	if streamID != a.streamID {
		return nil, &FramingError{Code: ErrCodeProtocol,
			Reason: fmt.Sprintf("CONTINUATION on stream %d inside header block of stream %d",
				streamID, a.streamID)}
	}
	return a.append(fragment, endHeaders)
}

// Abort drops the in-progress block on connection teardown.
func (a *Assembler) Abort() {
	a.open = false
}

func (a *Assembler) append(fragment []byte, endHeaders bool) (*BlockResult, error) {
	a.volume += len(fragment)
	if err := a.decoder.Feed(fragment); err != nil {
		a.open = false
		return nil, err
	}
	if !endHeaders {
		return nil, nil
	}

	// END_HEADERS: no more bytes will arrive for this block
	a.open = false
	fields, err := a.decoder.Finish()
	if err != nil {
		return nil, err
	}
	return &BlockResult{
		StreamID:  a.streamID,
		EndStream: a.endStream,
		Fields:    fields,
		Limit:     a.decoder.Failure(),
	}, nil
}
