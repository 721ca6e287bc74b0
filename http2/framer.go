package http2

import (
	"encoding/binary"
	"fmt"
	"io"

	slog "github.com/vearne/simplelog"
)

// Framer reads whole frames from a byte stream and writes our side's frames
// back. The reader makes no assumption about transport read granularity:
// io.ReadFull suspends until the 9 header octets, and then the declared
// payload, have fully arrived, even one octet at a time.
type Framer struct {
	r io.Reader
	w io.Writer

	// largest payload we advertised and therefore accept
	maxRecvFrameSize uint32
	// largest payload the peer advertised; our writes fragment at this size
	maxSendFrameSize uint32
}

func NewFramer(r io.Reader, w io.Writer, maxRecvFrameSize uint32) *Framer {
	var fr Framer
	fr.r = r
	fr.w = w
	fr.maxRecvFrameSize = maxRecvFrameSize
	fr.maxSendFrameSize = DefaultMaxFrameSize
	return &fr
}

// SetMaxSendFrameSize applies the peer's SETTINGS_MAX_FRAME_SIZE.
func (fr *Framer) SetMaxSendFrameSize(v uint32) {
	if v < 16384 || v > 1<<24-1 {
		slog.Warn("ignore illegal MAX_FRAME_SIZE:%v", v)
		return
	}
	fr.maxSendFrameSize = v
}

// ReadFrame blocks until one complete frame is available and returns it.
func (fr *Framer) ReadFrame() (*FrameBase, error) {
	buf := make([]byte, HeaderSize)
	_, err := io.ReadFull(fr.r, buf)
	if err != nil {
		return nil, err
	}

	fb, err := ParseFrameBase(buf)
	if err != nil {
		return nil, err
	}
	if fb.Length > fr.maxRecvFrameSize {
		return nil, &FramingError{Code: ErrCodeFrameSize,
			Reason: fmt.Sprintf("frame of %d bytes exceeds max frame size %d",
				fb.Length, fr.maxRecvFrameSize)}
	}

	payload := make([]byte, fb.Length)
	if fb.Length > 0 {
		_, err = io.ReadFull(fr.r, payload)
		if err != nil {
			return nil, err
		}
	}
	fb.Payload = payload
	return fb, nil
}

func writeFrameHeader(buf []byte, length int, frameType uint8, flags uint8, streamID uint32) {
	buf[0] = byte(length >> 16)
	buf[1] = byte(length >> 8)
	buf[2] = byte(length)
	buf[3] = frameType
	buf[4] = flags
	binary.BigEndian.PutUint32(buf[5:], streamID&0x7fffffff)
}

func (fr *Framer) writeFrame(frameType uint8, flags uint8, streamID uint32, payload []byte) error {
	buf := make([]byte, HeaderSize, HeaderSize+len(payload))
	writeFrameHeader(buf, len(payload), frameType, flags, streamID)
	buf = append(buf, payload...)
	_, err := fr.w.Write(buf)
	return err
}

func (fr *Framer) WriteSettings(settings []Setting) error {
	payload := make([]byte, 0, len(settings)*6)
	for _, s := range settings {
		payload = binary.BigEndian.AppendUint16(payload, uint16(s.ID))
		payload = binary.BigEndian.AppendUint32(payload, s.Val)
	}
	return fr.writeFrame(FrameTypeSetting, 0, 0, payload)
}

func (fr *Framer) WriteSettingsAck() error {
	return fr.writeFrame(FrameTypeSetting, FlagAck, 0, nil)
}

func (fr *Framer) WritePingAck(data []byte) error {
	return fr.writeFrame(FrameTypePing, FlagAck, 0, data)
}

func (fr *Framer) WriteRSTStream(streamID uint32, code ErrCode) error {
	payload := binary.BigEndian.AppendUint32(nil, uint32(code))
	slog.Debug("write RST_STREAM, stream:%v, code:%v", streamID, code)
	return fr.writeFrame(FrameTypeRSTStream, 0, streamID, payload)
}

func (fr *Framer) WriteGoAway(lastStreamID uint32, code ErrCode) error {
	payload := binary.BigEndian.AppendUint32(nil, lastStreamID&0x7fffffff)
	payload = binary.BigEndian.AppendUint32(payload, uint32(code))
	slog.Debug("write GOAWAY, lastStreamID:%v, code:%v", lastStreamID, code)
	return fr.writeFrame(FrameTypeGoAway, 0, 0, payload)
}

// WriteHeaders emits one header block, fragmented into a HEADERS frame plus
// CONTINUATION frames whenever the block is larger than the peer's
// MAX_FRAME_SIZE. END_HEADERS goes on the final fragment only.
func (fr *Framer) WriteHeaders(streamID uint32, block []byte, endStream bool) error {
	max := int(fr.maxSendFrameSize)
	written := 0
	for {
		left := len(block) - written
		thisTime := left
		if thisTime > max {
			thisTime = max
		}

		var frameType uint8
		var flags uint8
		if written == 0 {
			frameType = FrameTypeHeader
			if endStream {
				flags = FlagEndStream
			}
		} else {
			frameType = FrameTypeContinuation
		}
		if left == thisTime {
			flags |= FlagEndHeaders
		}

		err := fr.writeFrame(frameType, flags, streamID, block[written:written+thisTime])
		if err != nil {
			return err
		}
		written += thisTime
		if written >= len(block) {
			return nil
		}
	}
}

func (fr *Framer) WriteData(streamID uint32, data []byte, endStream bool) error {
	max := int(fr.maxSendFrameSize)
	for {
		thisTime := len(data)
		if thisTime > max {
			thisTime = max
		}
		var flags uint8
		if endStream && thisTime == len(data) {
			flags = FlagEndStream
		}
		err := fr.writeFrame(FrameTypeData, flags, streamID, data[:thisTime])
		if err != nil {
			return err
		}
		data = data[thisTime:]
		if len(data) == 0 {
			return nil
		}
	}
}
