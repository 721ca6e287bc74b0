package http2

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Frame Header
type FrameBase struct {
	StreamID uint32
	Type     uint8
	Flags    uint8
	Length   uint32
	Payload  []byte
}

// ParseFrameBase decodes the fixed 9-octet frame header. The payload is
// attached separately by the Framer once `Length` octets are available.
func ParseFrameBase(b []byte) (*FrameBase, error) {
	if len(b) < HeaderSize {
		return nil, &FramingError{Code: ErrCodeFrameSize,
			Reason: fmt.Sprintf("short frame header: %d bytes", len(b))}
	}

	reader := bytes.NewReader(b)
	var fb FrameBase
	var tmp uint8
	var err error
	// Length(24)
	for i := 0; i < LengthSize; i++ {
		err = binary.Read(reader, binary.BigEndian, &tmp)
		if err != nil {
			return nil, err
		}
		fb.Length = fb.Length*256 + uint32(tmp)
	}
	// Type(8)
	err = binary.Read(reader, binary.BigEndian, &fb.Type)
	if err != nil {
		return nil, err
	}
	// Flags(8)
	err = binary.Read(reader, binary.BigEndian, &fb.Flags)
	if err != nil {
		return nil, err
	}
	// R(1) + Stream Identifier(31); the reserved bit is ignored on receipt
	err = binary.Read(reader, binary.BigEndian, &fb.StreamID)
	if err != nil {
		return nil, err
	}
	fb.StreamID &= 0x7fffffff

	return &fb, nil
}

type FrameHeaders struct {
	fb        *FrameBase
	EndStream bool
	EndHeader bool
	Padded    bool
	Priority  bool
	// Frame Payload
	PadLength           uint8
	HeaderBlockFragment []byte
}

func ParseFrameHeaders(f *FrameBase) (*FrameHeaders, error) {
	var fh FrameHeaders
	fh.fb = f

	fh.EndStream = f.Flags&FlagEndStream != 0
	fh.EndHeader = f.Flags&FlagEndHeaders != 0
	fh.Padded = f.Flags&FlagPadded != 0
	fh.Priority = f.Flags&FlagPriority != 0

	// ----Frame Payload----
	start := 0
	// Pad Length(optional)
	if fh.Padded {
		if len(f.Payload) < 1 {
			return nil, &FramingError{Code: ErrCodeProtocol,
				Reason: "PADDED flag set on empty HEADERS payload"}
		}
		fh.PadLength = f.Payload[0]
		start += 1
	}
	// E/Stream Dependency/Weight (optional)
	if fh.Priority {
		start += 5
	}

	if start+int(fh.PadLength) > len(f.Payload) {
		return nil, &FramingError{Code: ErrCodeProtocol,
			Reason: fmt.Sprintf("HEADERS pad length %d exceeds payload %d",
				fh.PadLength, len(f.Payload))}
	}

	fh.HeaderBlockFragment = f.Payload[start : len(f.Payload)-int(fh.PadLength)]
	return &fh, nil
}

type FrameContinuation struct {
	fb                  *FrameBase
	EndHeader           bool
	HeaderBlockFragment []byte
}

func ParseFrameContinuation(f *FrameBase) (*FrameContinuation, error) {
	var fc FrameContinuation
	fc.fb = f

	fc.EndHeader = f.Flags&FlagEndHeaders != 0

	fc.HeaderBlockFragment = f.Payload
	return &fc, nil
}

type FrameData struct {
	fb        *FrameBase
	EndStream bool
	Padded    bool
	// Frame Payload
	PadLength uint8
	Data      []byte
}

func ParseFrameData(f *FrameBase) (*FrameData, error) {
	var fd FrameData
	fd.fb = f

	fd.EndStream = f.Flags&FlagEndStream != 0
	fd.Padded = f.Flags&FlagPadded != 0

	start := 0
	// Pad Length(optional)
	if fd.Padded {
		if len(f.Payload) < 1 {
			return nil, &FramingError{Code: ErrCodeProtocol,
				Reason: "PADDED flag set on empty DATA payload"}
		}
		fd.PadLength = f.Payload[0]
		start += 1
	}
	if start+int(fd.PadLength) > len(f.Payload) {
		return nil, &FramingError{Code: ErrCodeProtocol,
			Reason: fmt.Sprintf("DATA pad length %d exceeds payload %d",
				fd.PadLength, len(f.Payload))}
	}
	fd.Data = f.Payload[start : len(f.Payload)-int(fd.PadLength)]
	return &fd, nil
}

type FrameSettings struct {
	fb  *FrameBase
	Ack bool
	// Frame Payload
	Settings []Setting
}

func ParseFrameSettings(f *FrameBase) (*FrameSettings, error) {
	var fs FrameSettings
	fs.fb = f
	fs.Settings = make([]Setting, 0)

	fs.Ack = f.Flags&FlagAck != 0
	if fs.Ack && len(f.Payload) > 0 {
		return nil, &FramingError{Code: ErrCodeFrameSize,
			Reason: "SETTINGS ack with non-empty payload"}
	}
	if len(f.Payload)%6 != 0 {
		return nil, &FramingError{Code: ErrCodeFrameSize,
			Reason: fmt.Sprintf("SETTINGS payload of %d bytes", len(f.Payload))}
	}

	var err error
	var identifier uint16
	var value uint32
	reader := bytes.NewReader(f.Payload)
	// All parameters are optional
	for reader.Len() > 0 {
		err = binary.Read(reader, binary.BigEndian, &identifier)
		if err != nil {
			return nil, err
		}
		err = binary.Read(reader, binary.BigEndian, &value)
		if err != nil {
			return nil, err
		}
		fs.Settings = append(fs.Settings, Setting{ID: SettingID(identifier), Val: value})
	}
	return &fs, nil
}

type FramePing struct {
	fb   *FrameBase
	Ack  bool
	Data []byte
}

func ParseFramePing(f *FrameBase) (*FramePing, error) {
	if len(f.Payload) != 8 {
		return nil, &FramingError{Code: ErrCodeFrameSize,
			Reason: fmt.Sprintf("PING payload of %d bytes", len(f.Payload))}
	}
	var fp FramePing
	fp.fb = f
	fp.Ack = f.Flags&FlagAck != 0
	fp.Data = f.Payload
	return &fp, nil
}

type FrameRSTStream struct {
	fb   *FrameBase
	Code ErrCode
}

func ParseFrameRSTStream(f *FrameBase) (*FrameRSTStream, error) {
	if len(f.Payload) != 4 {
		return nil, &FramingError{Code: ErrCodeFrameSize,
			Reason: fmt.Sprintf("RST_STREAM payload of %d bytes", len(f.Payload))}
	}
	var fr FrameRSTStream
	fr.fb = f
	fr.Code = ErrCode(binary.BigEndian.Uint32(f.Payload))
	return &fr, nil
}

type FrameGoAway struct {
	fb           *FrameBase
	LastStreamID uint32
	Code         ErrCode
}

func ParseFrameGoAway(f *FrameBase) (*FrameGoAway, error) {
	if len(f.Payload) < 8 {
		return nil, &FramingError{Code: ErrCodeFrameSize,
			Reason: fmt.Sprintf("GOAWAY payload of %d bytes", len(f.Payload))}
	}
	var fg FrameGoAway
	fg.fb = f
	fg.LastStreamID = binary.BigEndian.Uint32(f.Payload[0:4]) & 0x7fffffff
	fg.Code = ErrCode(binary.BigEndian.Uint32(f.Payload[4:8]))
	return &fg, nil
}
