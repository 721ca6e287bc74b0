package http2

import (
	slog "github.com/vearne/simplelog"
	"golang.org/x/net/http2/hpack"

	"github.com/vearne/h2guard/config"
)

// BoundedDecoder decodes one header block at a time through a stateful
// hpack.Decoder and enforces the count/size limits after every fully decoded
// field. The dynamic table inside the hpack.Decoder is connection-global and
// survives across blocks; only the per-block accounting resets.
//
// On the first limit violation the decoder stops materializing fields but
// keeps consuming the compressed bytes it is fed. Every header block must be
// processed in full to keep the dynamic table synchronized with the peer's
// encoder, otherwise the next block on the connection decodes garbage.
type BoundedDecoder struct {
	hdec   *hpack.Decoder
	limits config.Limits

	// per-block accounting
	streamID uint32
	count    int
	size     int
	fields   []hpack.HeaderField
	failure  *LimitError
}

func NewBoundedDecoder(headerTableSize uint32, limits config.Limits) *BoundedDecoder {
	var d BoundedDecoder
	d.limits = limits
	d.hdec = hpack.NewDecoder(headerTableSize, d.onField)
	return &d
}

// BeginBlock resets the per-block accounting ahead of a new header block.
func (d *BoundedDecoder) BeginBlock(streamID uint32) {
	d.streamID = streamID
	d.count = 0
	d.size = 0
	d.fields = nil
	d.failure = nil
	d.hdec.SetEmitEnabled(true)
}

func (d *BoundedDecoder) onField(f hpack.HeaderField) {
	d.count++
	d.size += len(f.Name) + len(f.Value) + HeaderFieldOverhead

	// count checked first; when both limits trip on the same field the
	// reported kind is arbitrary as far as callers are concerned
	if d.count > d.limits.MaxHeaderCount {
		d.fail(LimitHeaderCount)
		return
	}
	if d.size > d.limits.MaxHeaderSize {
		d.fail(LimitHeaderSize)
		return
	}
	d.fields = append(d.fields, f)
}

func (d *BoundedDecoder) fail(kind LimitKind) {
	d.failure = &LimitError{Kind: kind, StreamID: d.streamID}
	d.fields = nil
	// stop extracting fields; keep parsing so the dynamic table stays
	// consistent for the next block on this connection
	d.hdec.SetEmitEnabled(false)
	slog.Warn("header block failed limit check: %v (count:%v, size:%v)",
		d.failure, d.count, d.size)
}

// Feed pushes the next compressed fragment into the decoder. Fields are
// delivered through the emit callback as soon as they complete; a partial
// field at the end of the fragment is buffered until the next Feed.
func (d *BoundedDecoder) Feed(p []byte) error {
	_, err := d.hdec.Write(p)
	if err != nil {
		return &DecodeError{Err: err}
	}
	return nil
}

// Failure reports the limit violation for the current block, if any.
func (d *BoundedDecoder) Failure() *LimitError {
	return d.failure
}

// Finish closes the current block and returns its decoded fields. A block
// that ends mid-representation is a connection-fatal decode error.
func (d *BoundedDecoder) Finish() ([]hpack.HeaderField, error) {
	if err := d.hdec.Close(); err != nil {
		return nil, &DecodeError{Err: err}
	}
	if d.failure != nil {
		return nil, nil
	}
	return d.fields, nil
}
