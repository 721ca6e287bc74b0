package http2

import (
	"bytes"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"golang.org/x/net/http2/hpack"

	"github.com/vearne/h2guard/config"
)

func startTestServer(t *testing.T, settings *config.ServerSettings) (string, func()) {
	server := NewServer(settings, func(req *Request) *Response {
		return &Response{Status: 200}
	})
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	assert.Nil(t, err)
	go func() {
		_ = server.Serve(ln)
	}()
	return ln.Addr().String(), server.Shutdown
}

type clientEvent struct {
	frameType uint8
	streamID  uint32
	status    string
	code      ErrCode
}

// testClient speaks just enough h2c to exercise the server: it owns one
// encoder for request blocks and one decoder for response blocks, both
// connection-global like the real thing.
type testClient struct {
	t    *testing.T
	nc   net.Conn
	fr   *Framer
	henc *hpack.Encoder
	hbuf bytes.Buffer

	hdec   *hpack.Decoder
	fields []hpack.HeaderField
}

func dialTestServer(t *testing.T, addr string) *testClient {
	nc, err := net.Dial("tcp", addr)
	assert.Nil(t, err)
	_ = nc.SetDeadline(time.Now().Add(10 * time.Second))

	tc := &testClient{t: t, nc: nc}
	tc.fr = NewFramer(nc, nc, DefaultMaxFrameSize)
	tc.henc = hpack.NewEncoder(&tc.hbuf)
	tc.hdec = hpack.NewDecoder(config.DefaultHeaderTableSize, func(f hpack.HeaderField) {
		tc.fields = append(tc.fields, f)
	})

	_, err = nc.Write([]byte(PrefaceSTD))
	assert.Nil(t, err)
	assert.Nil(t, tc.fr.WriteSettings(nil))
	return tc
}

func (tc *testClient) close() {
	_ = tc.nc.Close()
}

func requestFields(extra []hpack.HeaderField) []hpack.HeaderField {
	fields := []hpack.HeaderField{
		{Name: ":method", Value: "GET"},
		{Name: ":path", Value: "/x"},
		{Name: ":authority", Value: "localhost:8080"},
	}
	return append(fields, extra...)
}

func (tc *testClient) encode(fields []hpack.HeaderField) []byte {
	tc.hbuf.Reset()
	for _, f := range fields {
		err := tc.henc.WriteField(f)
		assert.Nil(tc.t, err)
	}
	return append([]byte(nil), tc.hbuf.Bytes()...)
}

// writeBlock sends one request header block as HEADERS plus CONTINUATION
// frames of at most chunkSize payload bytes. END_STREAM rides on the HEADERS
// frame, END_HEADERS on the last fragment. Returns the first write error so
// callers probing connection aborts can keep going.
func (tc *testClient) writeBlock(streamID uint32, block []byte, chunkSize int) error {
	if chunkSize <= 0 || chunkSize > len(block) {
		chunkSize = len(block)
	}
	for off := 0; ; {
		end := off + chunkSize
		if end > len(block) {
			end = len(block)
		}

		var frameType uint8 = FrameTypeContinuation
		var flags uint8
		if off == 0 {
			frameType = FrameTypeHeader
			flags = FlagEndStream
		}
		if end == len(block) {
			flags |= FlagEndHeaders
		}
		if err := tc.fr.writeFrame(frameType, flags, streamID, block[off:end]); err != nil {
			return err
		}
		if end == len(block) {
			return nil
		}
		off = end
	}
}

func (tc *testClient) sendRequest(streamID uint32, extra []hpack.HeaderField, chunkSize int) error {
	return tc.writeBlock(streamID, tc.encode(requestFields(extra)), chunkSize)
}

// nextEvent reads frames until one worth asserting on arrives. SETTINGS
// traffic is connection plumbing and is skipped.
func (tc *testClient) nextEvent() (*clientEvent, error) {
	for {
		fb, err := tc.fr.ReadFrame()
		if err != nil {
			return nil, err
		}
		switch fb.Type {
		case FrameTypeSetting:
			continue
		case FrameTypeHeader:
			fh, err := ParseFrameHeaders(fb)
			if err != nil {
				return nil, err
			}
			tc.fields = nil
			if _, err = tc.hdec.Write(fh.HeaderBlockFragment); err != nil {
				return nil, err
			}
			ev := &clientEvent{frameType: fb.Type, streamID: fb.StreamID}
			for _, f := range tc.fields {
				if f.Name == PseudoHeaderStatus {
					ev.status = f.Value
				}
			}
			return ev, nil
		case FrameTypeRSTStream:
			rst, err := ParseFrameRSTStream(fb)
			if err != nil {
				return nil, err
			}
			return &clientEvent{frameType: fb.Type, streamID: fb.StreamID, code: rst.Code}, nil
		case FrameTypeGoAway:
			fg, err := ParseFrameGoAway(fb)
			if err != nil {
				return nil, err
			}
			return &clientEvent{frameType: fb.Type, code: fg.Code}, nil
		case FrameTypePing:
			return &clientEvent{frameType: fb.Type}, nil
		default:
			continue
		}
	}
}

func (tc *testClient) expectStatus(streamID uint32, status string) {
	ev, err := tc.nextEvent()
	assert.Nil(tc.t, err)
	assert.Equal(tc.t, uint8(FrameTypeHeader), ev.frameType)
	assert.Equal(tc.t, streamID, ev.streamID)
	assert.Equal(tc.t, status, ev.status)
}

func (tc *testClient) expectReset(streamID uint32) {
	ev, err := tc.nextEvent()
	assert.Nil(tc.t, err)
	assert.Equal(tc.t, uint8(FrameTypeRSTStream), ev.frameType)
	assert.Equal(tc.t, streamID, ev.streamID)
	assert.Equal(tc.t, ErrCodeEnhanceYourCalm, ev.code)
}

func customHeaders(n, valueLen int) []hpack.HeaderField {
	fields := make([]hpack.HeaderField, 0, n)
	for i := 0; i < n; i++ {
		fields = append(fields, hpack.HeaderField{
			Name:  fmt.Sprintf("x-guardtest%d", i),
			Value: strings.Repeat("a", valueLen),
		})
	}
	return fields
}

func TestServeSimpleRequest(t *testing.T) {
	addr, shutdown := startTestServer(t, &config.ServerSettings{})
	defer shutdown()

	tc := dialTestServer(t, addr)
	defer tc.close()

	assert.Nil(t, tc.sendRequest(3, customHeaders(1, 128), 0))
	tc.expectStatus(3, "200")
}

func TestHeaderCountAtLimit(t *testing.T) {
	addr, shutdown := startTestServer(t, &config.ServerSettings{})
	defer shutdown()

	tc := dialTestServer(t, addr)
	defer tc.close()

	// 3 pseudo-headers + 97 = exactly 100
	assert.Nil(t, tc.sendRequest(3, customHeaders(97, 32), 0))
	tc.expectStatus(3, "200")
}

func TestHeaderCountExceededResetsStream(t *testing.T) {
	addr, shutdown := startTestServer(t, &config.ServerSettings{})
	defer shutdown()

	tc := dialTestServer(t, addr)
	defer tc.close()

	// 3 pseudo-headers + 98 = 101, one over
	assert.Nil(t, tc.sendRequest(3, customHeaders(98, 32), 0))
	tc.expectReset(3)

	// the connection must survive the reset
	assert.Nil(t, tc.sendRequest(5, customHeaders(1, 32), 0))
	tc.expectStatus(5, "200")
}

func TestHeaderCountConfiguredLimit(t *testing.T) {
	settings := &config.ServerSettings{
		Limits: config.Limits{MaxHeaderCount: 10},
	}
	addr, shutdown := startTestServer(t, settings)
	defer shutdown()

	tc := dialTestServer(t, addr)
	defer tc.close()

	assert.Nil(t, tc.sendRequest(3, customHeaders(20, 32), 0))
	tc.expectReset(3)
}

func TestHeaderSizeWithinLimit(t *testing.T) {
	addr, shutdown := startTestServer(t, &config.ServerSettings{})
	defer shutdown()

	tc := dialTestServer(t, addr)
	defer tc.close()

	// 8 x (12+900+3) = 7320 plus the pseudo-headers, under 8192
	assert.Nil(t, tc.sendRequest(3, customHeaders(8, 900), 0))
	tc.expectStatus(3, "200")
}

func TestHeaderSizeExceededResetsStream(t *testing.T) {
	addr, shutdown := startTestServer(t, &config.ServerSettings{})
	defer shutdown()

	tc := dialTestServer(t, addr)
	defer tc.close()

	// 8 x (12+1020+3) = 8280, over 8192
	assert.Nil(t, tc.sendRequest(3, customHeaders(8, 1020), 0))
	tc.expectReset(3)

	assert.Nil(t, tc.sendRequest(5, customHeaders(1, 32), 0))
	tc.expectStatus(5, "200")
}

func TestHeaderSizeConfiguredLimit(t *testing.T) {
	settings := &config.ServerSettings{
		Limits: config.Limits{MaxHeaderSize: 2048},
	}
	addr, shutdown := startTestServer(t, settings)
	defer shutdown()

	tc := dialTestServer(t, addr)
	defer tc.close()

	assert.Nil(t, tc.sendRequest(3, customHeaders(3, 1024), 0))
	tc.expectReset(3)
}

func TestOversizedBlockResetIsChunkIndependent(t *testing.T) {
	for _, chunkSize := range []int{0, 1024} {
		addr, shutdown := startTestServer(t, &config.ServerSettings{})

		tc := dialTestServer(t, addr)

		// a single 12KB value blows the size limit but stays drainable
		assert.Nil(t, tc.sendRequest(3, customHeaders(1, 12*1024), chunkSize))
		tc.expectReset(3)

		assert.Nil(t, tc.sendRequest(5, customHeaders(1, 32), 0))
		tc.expectStatus(5, "200")

		tc.close()
		shutdown()
	}
}

func TestHugeBlockAbortsConnection(t *testing.T) {
	addr, shutdown := startTestServer(t, &config.ServerSettings{})
	defer shutdown()

	tc := dialTestServer(t, addr)
	defer tc.close()

	// a 512KB value is far beyond the drainable margin; the server must give
	// up on the connection rather than swallow it all
	block := tc.encode(requestFields(customHeaders(1, 512*1024)))
	_ = tc.writeBlock(3, block, DefaultMaxFrameSize)

	sawAbort := false
	for {
		ev, err := tc.nextEvent()
		if err != nil {
			// connection torn down under the client, also an abort
			sawAbort = true
			break
		}
		if ev.frameType == FrameTypeGoAway {
			assert.Equal(t, ErrCodeEnhanceYourCalm, ev.code)
			sawAbort = true
			break
		}
		assert.NotEqual(t, uint8(FrameTypeHeader), ev.frameType,
			"an oversized block must never be answered")
	}
	assert.True(t, sawAbort)
}

func TestContinuationWithoutHeadersAborts(t *testing.T) {
	addr, shutdown := startTestServer(t, &config.ServerSettings{})
	defer shutdown()

	tc := dialTestServer(t, addr)
	defer tc.close()

	err := tc.fr.writeFrame(FrameTypeContinuation, FlagEndHeaders, 3, []byte{0x82})
	assert.Nil(t, err)

	ev, err := tc.nextEvent()
	assert.Nil(t, err)
	assert.Equal(t, uint8(FrameTypeGoAway), ev.frameType)
	assert.Equal(t, ErrCodeProtocol, ev.code)
}

func TestInterleavedHeaderBlocksAbort(t *testing.T) {
	addr, shutdown := startTestServer(t, &config.ServerSettings{})
	defer shutdown()

	tc := dialTestServer(t, addr)
	defer tc.close()

	block := tc.encode(requestFields(nil))

	// open a block on stream 3 and leave it dangling
	err := tc.fr.writeFrame(FrameTypeHeader, FlagEndStream, 3, block[:4])
	assert.Nil(t, err)
	// a frame for another stream inside the block is connection-fatal
	err = tc.fr.writeFrame(FrameTypeHeader, FlagEndStream|FlagEndHeaders, 5, block)
	assert.Nil(t, err)

	ev, err := tc.nextEvent()
	assert.Nil(t, err)
	assert.Equal(t, uint8(FrameTypeGoAway), ev.frameType)
	assert.Equal(t, ErrCodeProtocol, ev.code)
}

func TestPingIsAcked(t *testing.T) {
	addr, shutdown := startTestServer(t, &config.ServerSettings{})
	defer shutdown()

	tc := dialTestServer(t, addr)
	defer tc.close()

	err := tc.fr.writeFrame(FrameTypePing, 0, 0, []byte("12345678"))
	assert.Nil(t, err)

	ev, err := tc.nextEvent()
	assert.Nil(t, err)
	assert.Equal(t, uint8(FrameTypePing), ev.frameType)
}
