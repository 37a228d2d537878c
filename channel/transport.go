// File: channel/transport.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Transport is the seam between the generic channel lifecycle and a
// concrete I/O mechanism. All hooks run on the channel's event loop.

package channel

import (
	"errors"
	"net"

	"github.com/momentics/hioload-pipeline/buffer"
)

// Transport performs the raw operations behind a Channel.
type Transport interface {
	// DoBind binds to local. false with a nil error means refused.
	DoBind(local net.Addr) (bool, error)
	// DoConnect starts connecting to remote. Returning ErrConnectPending
	// defers completion to Channel.FinishConnect.
	DoConnect(remote, local net.Addr) (bool, error)
	DoDisconnect() (bool, error)
	DoClose() (bool, error)
	// DoWrite hands buffers to the transport. The transport owns them after
	// the call and releases them once written.
	DoWrite(bufs []buffer.Buffer) error
	LocalAddr() net.Addr
	RemoteAddr() net.Addr
}

// Attacher is implemented by transports that need their channel.
type Attacher interface {
	Attach(ch *Channel)
}

// PreOpener is invoked before the first channelOpen event.
type PreOpener interface {
	DoPreOpen() error
}

// PreCloser is invoked before the transport is closed.
type PreCloser interface {
	DoPreClose()
}

// ErrConnectPending is returned by DoConnect when the connection completes
// asynchronously.
var ErrConnectPending = errors.New("connect in progress")

// Acceptor receives the transport of every connection accepted by a server
// transport. It runs on the server channel's executor and is expected to
// wrap child in a channel whose parent is parent.
type Acceptor func(parent *Channel, child Transport)

// Starter is implemented by transports of accepted connections. Start is
// called on the child channel's executor once the channel is active and
// begins the delivery of inbound data.
type Starter interface {
	Start() error
}
