package http2

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vearne/h2guard/config"
)

func TestConnSetAddRemove(t *testing.T) {
	set := NewConnSet()
	assert.Equal(t, 0, set.Size())

	server, client := net.Pipe()
	defer func() {
		_ = server.Close()
		_ = client.Close()
	}()
	settings := (&config.ServerSettings{}).WithDefaults()
	conn := NewConn(server, settings, nil)

	set.Add(conn)
	assert.Equal(t, 1, set.Size())
	assert.Equal(t, []*Conn{conn}, set.ToArray())

	set.Remove(conn)
	assert.Equal(t, 0, set.Size())
	assert.Empty(t, set.ToArray())
}

func TestConnSetCloseAll(t *testing.T) {
	set := NewConnSet()

	server, client := net.Pipe()
	defer func() { _ = client.Close() }()
	settings := (&config.ServerSettings{}).WithDefaults()
	set.Add(NewConn(server, settings, nil))

	set.CloseAll()

	buf := make([]byte, 1)
	_, err := client.Read(buf)
	assert.NotNil(t, err)
}
