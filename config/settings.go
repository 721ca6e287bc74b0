// Package config holds the process-wide configuration of h2guard.
// Limits are captured as an immutable snapshot when a connection starts;
// they are never consulted through a mutable global.
package config

import (
	"fmt"
	"time"
)

const (
	// Per-connector header limits. The count includes pseudo-headers; the
	// size limit is accounted as len(name)+len(value)+3 per field.
	DefaultMaxHeaderCount = 100
	DefaultMaxHeaderSize  = 8 * 1024

	// After a header limit trips, at most this many additional compressed
	// bytes of the offending block are drained before the connection is
	// torn down instead of the stream being reset.
	DefaultMaxSwallowedBytes = 64 * 1024

	DefaultMaxFrameSize    = 16 * 1024
	DefaultHeaderTableSize = 4096
	DefaultReadTimeout     = 30 * time.Second
)

// MultiStringOption implements a string command-line flag that may be given
// multiple times; every value is collected into the target slice.
// Example: --listen="127.0.0.1:8080" --listen="127.0.0.1:8081"
type MultiStringOption struct {
	Params *[]string
}

func (h *MultiStringOption) String() string {
	if h.Params == nil {
		return ""
	}
	return fmt.Sprint(*h.Params)
}

// Set gets called multiple times for each flag with same name
func (h *MultiStringOption) Set(value string) error {
	if h.Params == nil {
		return nil
	}

	*h.Params = append(*h.Params, value)
	return nil
}

// Limits bounds the decode of a single request's header block. Read-only for
// the lifetime of a connection; copy by value into the connection context.
type Limits struct {
	MaxHeaderCount    int `json:"max-header-count"`
	MaxHeaderSize     int `json:"max-header-size"`
	MaxSwallowedBytes int `json:"max-swallowed-bytes"`
}

// ServerSettings is the main configuration structure for h2guard.
// Fields correspond to command-line flags registered in main.
type ServerSettings struct {
	ListenAddrs []string `json:"listen"`

	Limits

	MaxFrameSize    uint32        `json:"max-frame-size"`
	HeaderTableSize uint32        `json:"header-table-size"`
	ReadTimeout     time.Duration `json:"read-timeout"`

	ExitAfter time.Duration `json:"exit-after"`
}

// WithDefaults fills every unset field and returns the receiver.
func (s *ServerSettings) WithDefaults() *ServerSettings {
	if len(s.ListenAddrs) == 0 {
		s.ListenAddrs = []string{"0.0.0.0:8080"}
	}
	if s.MaxHeaderCount <= 0 {
		s.MaxHeaderCount = DefaultMaxHeaderCount
	}
	if s.MaxHeaderSize <= 0 {
		s.MaxHeaderSize = DefaultMaxHeaderSize
	}
	if s.MaxSwallowedBytes <= 0 {
		s.MaxSwallowedBytes = DefaultMaxSwallowedBytes
	}
	if s.MaxFrameSize == 0 {
		s.MaxFrameSize = DefaultMaxFrameSize
	}
	if s.HeaderTableSize == 0 {
		s.HeaderTableSize = DefaultHeaderTableSize
	}
	if s.ReadTimeout == 0 {
		s.ReadTimeout = DefaultReadTimeout
	}
	return s
}
