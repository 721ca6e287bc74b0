package http2

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/google/uuid"
	slog "github.com/vearne/simplelog"
	"golang.org/x/net/http2/hpack"

	"github.com/vearne/h2guard/config"
)

const (
	PseudoHeaderMethod = ":method"
	PseudoHeaderPath   = ":path"
	PseudoHeaderStatus = ":status"
)

// Request is the decoded header set of one stream, handed to the dispatcher
// exactly once, only after END_HEADERS, and only if no limit tripped.
type Request struct {
	StreamID  uint32
	Headers   []hpack.HeaderField
	Method    string
	Path      string
	EndStream bool
}

type Response struct {
	Status  int
	Headers []hpack.HeaderField
	Body    []byte
}

// Dispatcher receives decoded requests. Streams that were reset over a
// header limit never reach it.
type Dispatcher func(*Request) *Response

// Conn drives one HTTP/2 connection: frame reading, header block assembly,
// bounded HPACK decode, the limit policy verdicts and frame swallowing for
// reset streams. Strictly sequential; the HPACK dynamic table is
// connection-global and order-dependent, so there is nothing to parallelize.
type Conn struct {
	id string
	nc net.Conn

	framer   *Framer
	decoder  *BoundedDecoder
	asm      *Assembler
	policy   *LimitPolicy // lifecycle of the current header block, nil between blocks
	streams  *StreamSet
	limits   config.Limits
	settings *config.ServerSettings
	dispatch Dispatcher

	// response header encoder; its dynamic table is also connection-global
	henc *hpack.Encoder
	hbuf bytes.Buffer

	// request blocks dispatched only after END_STREAM arrives
	pending map[uint32]*Request

	// when true the current header block belongs to a reset/closed stream
	// and is drained without dispatch
	swallowBlock bool

	lastStreamID uint32
}

func NewConn(nc net.Conn, settings *config.ServerSettings, dispatch Dispatcher) *Conn {
	var c Conn
	c.id = uuid.Must(uuid.NewUUID()).String()
	c.nc = nc
	c.settings = settings
	// immutable snapshot for the lifetime of this connection
	c.limits = settings.Limits
	c.dispatch = dispatch

	c.framer = NewFramer(nc, nc, settings.MaxFrameSize)
	c.decoder = NewBoundedDecoder(settings.HeaderTableSize, c.limits)
	c.asm = NewAssembler(c.decoder)
	c.streams = NewStreamSet(MaxTrackedStreams)
	c.henc = hpack.NewEncoder(&c.hbuf)
	c.pending = make(map[uint32]*Request)

	slog.Info("create Conn:%v, peer:%v, limits:%+v", c.id, nc.RemoteAddr(), c.limits)
	return &c
}

func (c *Conn) ID() string {
	return c.id
}

func (c *Conn) Close() error {
	return c.nc.Close()
}

// Serve runs the read loop until the connection ends.
func (c *Conn) Serve() {
	defer func() {
		_ = c.nc.Close()
		slog.Info("Conn:%v closed", c.id)
	}()

	if err := c.handshake(); err != nil {
		slog.Warn("Conn:%v, handshake:%v", c.id, err)
		return
	}

	for {
		if c.settings.ReadTimeout > 0 {
			_ = c.nc.SetReadDeadline(time.Now().Add(c.settings.ReadTimeout))
		}
		fb, err := c.framer.ReadFrame()
		if err != nil {
			c.teardown(err)
			return
		}
		slog.Debug("Conn:%v, FrameType:%v, streamID:%v, len(payload):%v",
			c.id, GetFrameType(fb.Type), fb.StreamID, fb.Length)

		if fb.StreamID > c.lastStreamID {
			c.lastStreamID = fb.StreamID
		}
		if err = c.processFrame(fb); err != nil {
			c.teardown(err)
			return
		}
	}
}

// handshake consumes the client connection preface and advertises our
// settings. The client's own SETTINGS frame arrives through the normal
// frame loop and is acked there.
func (c *Conn) handshake() error {
	buf := make([]byte, ConnectionPrefaceSize)
	if _, err := io.ReadFull(c.nc, buf); err != nil {
		return err
	}
	if string(buf) != PrefaceSTD {
		return &FramingError{Code: ErrCodeProtocol, Reason: "bad connection preface"}
	}
	return c.framer.WriteSettings([]Setting{
		{ID: SettingHeaderTableSize, Val: c.settings.HeaderTableSize},
		{ID: SettingMaxFrameSize, Val: c.settings.MaxFrameSize},
		// advisory; the hard enforcement is the bounded decoder
		{ID: SettingMaxHeaderListSize, Val: uint32(c.limits.MaxHeaderSize)},
	})
}

func (c *Conn) processFrame(f *FrameBase) error {
	// a header block must be contiguous on the wire
	if c.asm.Open() && f.Type != FrameTypeContinuation {
		return &FramingError{Code: ErrCodeProtocol,
			Reason: fmt.Sprintf("%v interleaved into header block of stream %v",
				GetFrameType(f.Type), c.asm.StreamID())}
	}

	switch f.Type {
	case FrameTypeHeader:
		return c.processFrameHeaders(f)
	case FrameTypeContinuation:
		return c.processFrameContinuation(f)
	case FrameTypeData:
		return c.processFrameData(f)
	case FrameTypeSetting:
		return c.processFrameSettings(f)
	case FrameTypePing:
		return c.processFramePing(f)
	case FrameTypeRSTStream:
		return c.processFrameRSTStream(f)
	case FrameTypeGoAway:
		return c.processFrameGoAway(f)
	case FrameTypeWindowUpdate, FrameTypePriority:
		// flow control and priority are not this subsystem's concern
		slog.Debug("Conn:%v, ignore %v", c.id, GetFrameType(f.Type))
		return nil
	default:
		slog.Debug("Conn:%v, ignore Frame:%v", c.id, GetFrameType(f.Type))
		return nil
	}
}

func (c *Conn) processFrameHeaders(f *FrameBase) error {
	if f.StreamID == 0 {
		return &FramingError{Code: ErrCodeProtocol, Reason: "HEADERS on stream 0"}
	}
	fh, err := ParseFrameHeaders(f)
	if err != nil {
		return err
	}

	// blocks for already reset/closed streams are drained for dynamic
	// table synchrony but never dispatched
	c.swallowBlock = c.streams.Get(f.StreamID) != StreamActive
	c.policy = NewLimitPolicy(f.StreamID, c.limits)

	res, err := c.asm.Begin(f.StreamID, fh.HeaderBlockFragment, fh.EndHeader, fh.EndStream)
	if err != nil {
		return err
	}
	return c.afterFeed(res, len(fh.HeaderBlockFragment))
}

func (c *Conn) processFrameContinuation(f *FrameBase) error {
	fc, err := ParseFrameContinuation(f)
	if err != nil {
		return err
	}
	res, err := c.asm.Continue(f.StreamID, fc.HeaderBlockFragment, fc.EndHeader)
	if err != nil {
		return err
	}
	return c.afterFeed(res, len(fc.HeaderBlockFragment))
}

// afterFeed runs the limit policy over the fragment that was just fed and
// finishes the block when END_HEADERS closed it.
func (c *Conn) afterFeed(res *BlockResult, fed int) error {
	switch c.policy.State {
	case PolicyAccumulating:
		if failure := c.decoder.Failure(); failure != nil {
			if err := c.applyOutcome(c.policy.Fail(c.asm.Volume())); err != nil {
				return err
			}
		} else if c.policy.VolumeExceeded(c.asm.Volume()) {
			// not a single field may have completed yet, but the raw
			// compressed volume alone rules out a drainable recovery
			slog.Warn("Conn:%v, stream:%v, header block volume %v beyond drainable margin",
				c.id, c.asm.StreamID(), c.asm.Volume())
			if err := c.applyOutcome(c.policy.Fail(c.asm.Volume())); err != nil {
				return err
			}
		}
	case PolicyStreamReset:
		if err := c.applyOutcome(c.policy.Swallow(fed)); err != nil {
			return err
		}
	}

	if res == nil {
		// block still open, more CONTINUATION frames expected
		return nil
	}

	// block closed
	swallowed := c.swallowBlock
	failed := res.Limit != nil || c.policy.State != PolicyAccumulating
	c.policy = nil
	c.swallowBlock = false

	if failed || swallowed {
		slog.Debug("Conn:%v, stream:%v, header block discarded (failed:%v, swallowed:%v)",
			c.id, res.StreamID, failed, swallowed)
		return nil
	}

	req := buildRequest(res)
	if res.EndStream {
		if orig, ok := c.pending[res.StreamID]; ok {
			// trailer block closing a stream opened by an earlier HEADERS
			orig.Headers = append(orig.Headers, res.Fields...)
			orig.EndStream = true
			req = orig
		}
		return c.respond(req)
	}
	if len(c.pending) >= MaxPendingRequests {
		slog.Warn("Conn:%v, %v header sets waiting for END_STREAM, refuse stream:%v",
			c.id, len(c.pending), res.StreamID)
		c.streams.Mark(res.StreamID, StreamReset)
		return c.framer.WriteRSTStream(res.StreamID, ErrCodeRefusedStream)
	}
	c.pending[res.StreamID] = req
	return nil
}

// applyOutcome executes a policy verdict. A stream reset keeps the
// connection alive; an abort error unwinds into teardown.
func (c *Conn) applyOutcome(out ResetOutcome) error {
	switch out.Kind {
	case OutcomeStreamReset:
		if c.streams.Get(out.StreamID) == StreamReset {
			// already reset, the rest of the block is just being drained
			return nil
		}
		c.streams.Mark(out.StreamID, StreamReset)
		delete(c.pending, out.StreamID)
		if err := c.framer.WriteRSTStream(out.StreamID, out.Code); err != nil {
			return err
		}
		slog.Info("Conn:%v, stream:%v reset with %v", c.id, out.StreamID, out.Code)
		return nil
	case OutcomeConnAbort:
		c.asm.Abort()
		return &FramingError{Code: out.Code,
			Reason: fmt.Sprintf("header block of stream %d exceeds drainable margin", out.StreamID)}
	default:
		return nil
	}
}

func (c *Conn) processFrameData(f *FrameBase) error {
	if f.StreamID == 0 {
		return &FramingError{Code: ErrCodeProtocol, Reason: "DATA on stream 0"}
	}
	fd, err := ParseFrameData(f)
	if err != nil {
		return err
	}

	if c.streams.Get(f.StreamID) != StreamActive {
		// swallow frames of reset streams in silence
		slog.Debug("Conn:%v, swallow DATA of stream:%v", c.id, f.StreamID)
		return nil
	}

	req, ok := c.pending[f.StreamID]
	if !ok {
		slog.Debug("Conn:%v, DATA for unknown stream:%v", c.id, f.StreamID)
		return nil
	}
	// body bytes belong to the request-dispatch collaborator; this
	// subsystem only tracks stream completion
	if fd.EndStream {
		req.EndStream = true
		return c.respond(req)
	}
	return nil
}

func (c *Conn) processFrameSettings(f *FrameBase) error {
	if f.StreamID != 0 {
		return &FramingError{Code: ErrCodeProtocol, Reason: "SETTINGS on non-zero stream"}
	}
	fs, err := ParseFrameSettings(f)
	if err != nil {
		return err
	}
	if fs.Ack {
		return nil
	}

	for _, item := range fs.Settings {
		switch item.ID {
		case SettingHeaderTableSize:
			// governs our response encoder, not our decoder
			slog.Info("Conn:%v, adjust encoder HEADER_TABLE_SIZE:%v", c.id, item.Val)
			c.henc.SetMaxDynamicTableSize(item.Val)
		case SettingMaxFrameSize:
			c.framer.SetMaxSendFrameSize(item.Val)
		default:
			slog.Debug("Conn:%v, ignore %v", c.id, item)
		}
	}
	return c.framer.WriteSettingsAck()
}

func (c *Conn) processFramePing(f *FrameBase) error {
	fp, err := ParseFramePing(f)
	if err != nil {
		return err
	}
	if fp.Ack {
		return nil
	}
	return c.framer.WritePingAck(fp.Data)
}

func (c *Conn) processFrameRSTStream(f *FrameBase) error {
	if _, err := ParseFrameRSTStream(f); err != nil {
		return err
	}
	c.streams.Mark(f.StreamID, StreamClosed)
	delete(c.pending, f.StreamID)
	return nil
}

func (c *Conn) processFrameGoAway(f *FrameBase) error {
	fg, err := ParseFrameGoAway(f)
	if err != nil {
		return err
	}
	slog.Info("Conn:%v, peer GOAWAY, lastStreamID:%v, code:%v", c.id, fg.LastStreamID, fg.Code)
	return errGoAwayReceived
}

func (c *Conn) respond(req *Request) error {
	delete(c.pending, req.StreamID)
	resp := c.dispatch(req)
	if resp == nil {
		resp = &Response{Status: 200}
	}

	c.hbuf.Reset()
	_ = c.henc.WriteField(hpack.HeaderField{Name: PseudoHeaderStatus, Value: strconv.Itoa(resp.Status)})
	for _, field := range resp.Headers {
		_ = c.henc.WriteField(field)
	}

	err := c.framer.WriteHeaders(req.StreamID, c.hbuf.Bytes(), len(resp.Body) == 0)
	if err != nil {
		return err
	}
	if len(resp.Body) > 0 {
		if err = c.framer.WriteData(req.StreamID, resp.Body, true); err != nil {
			return err
		}
	}
	c.streams.Mark(req.StreamID, StreamClosed)
	slog.Debug("Conn:%v, stream:%v answered %v", c.id, req.StreamID, resp.Status)
	return nil
}

// teardown maps the fatal error to a GOAWAY code and emits it best-effort;
// the peer may already be gone.
func (c *Conn) teardown(err error) {
	c.asm.Abort()

	if errors.Is(err, errGoAwayReceived) || errors.Is(err, io.EOF) {
		return
	}

	code := ErrCodeProtocol
	var fe *FramingError
	var de *DecodeError
	switch {
	case errors.As(err, &fe):
		code = fe.Code
	case errors.As(err, &de):
		code = ErrCodeCompression
	default:
		// transport-level failure, nothing sensible left to write
		slog.Warn("Conn:%v, read loop:%v", c.id, err)
		return
	}

	slog.Warn("Conn:%v, connection-fatal:%v", c.id, err)
	if werr := c.framer.WriteGoAway(c.lastStreamID, code); werr != nil {
		slog.Debug("Conn:%v, GOAWAY write failed:%v", c.id, werr)
	}
}

func buildRequest(res *BlockResult) *Request {
	var req Request
	req.StreamID = res.StreamID
	req.Headers = res.Fields
	req.EndStream = res.EndStream
	for _, field := range res.Fields {
		switch field.Name {
		case PseudoHeaderMethod:
			req.Method = field.Value
		case PseudoHeaderPath:
			req.Path = field.Value
		}
	}
	return &req
}
