// File: transport/local/local.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package local joins client and server channels inside one process.
// A server binds a name in a Registry; a client connecting to that name
// gets a pair of linked transports, one for itself and one handed to the
// server's acceptor. Bytes written on one side are fired as inbound
// buffers on the other side's executor.
package local

import (
	"net"
	"strconv"
	"sync"

	"github.com/momentics/hioload-pipeline/api"
	"github.com/momentics/hioload-pipeline/buffer"
	"github.com/momentics/hioload-pipeline/channel"
)

// Addr names a local endpoint.
type Addr string

func (a Addr) Network() string { return "local" }
func (a Addr) String() string  { return string(a) }

var errClosed = api.NewError(api.ErrCodeClosed, "local: connection closed")

func refused(remote string) error {
	return api.Errorf(api.ErrCodeChannelOperation, "local: connection refused by %s", remote)
}

// Registry maps bound names to server transports.
type Registry struct {
	mu      sync.Mutex
	servers map[Addr]*Server
	nextID  uint64
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{servers: make(map[Addr]*Server)}
}

// DefaultRegistry is used by transports created without an explicit one.
var DefaultRegistry = NewRegistry()

func (r *Registry) bind(a Addr, s *Server) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, taken := r.servers[a]; taken {
		return false
	}
	r.servers[a] = s
	return true
}

func (r *Registry) unbind(a Addr, s *Server) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.servers[a] == s {
		delete(r.servers, a)
	}
}

func (r *Registry) lookup(a Addr) *Server {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.servers[a]
}

func (r *Registry) ephemeral() Addr {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	return Addr("local:ephemeral-" + strconv.FormatUint(r.nextID, 10))
}

// Bound lists the names currently bound.
func (r *Registry) Bound() []Addr {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Addr, 0, len(r.servers))
	for a := range r.servers {
		out = append(out, a)
	}
	return out
}

func toAddr(a net.Addr) Addr {
	if la, ok := a.(Addr); ok {
		return la
	}
	return Addr(a.String())
}

// Server is the transport of a listening channel.
type Server struct {
	reg    *Registry
	accept channel.Acceptor

	mu    sync.Mutex
	ch    *channel.Channel
	local Addr
}

// NewServer creates a server transport registering in reg (nil means
// DefaultRegistry) and handing accepted connections to accept.
func NewServer(reg *Registry, accept channel.Acceptor) *Server {
	if reg == nil {
		reg = DefaultRegistry
	}
	return &Server{reg: reg, accept: accept}
}

func (s *Server) Attach(ch *channel.Channel) { s.ch = ch }

func (s *Server) DoBind(local net.Addr) (bool, error) {
	if local == nil {
		return false, api.NewError(api.ErrCodeInvalidArgument, "local: bind needs an address")
	}
	a := toAddr(local)
	if !s.reg.bind(a, s) {
		return false, nil
	}
	s.mu.Lock()
	s.local = a
	s.mu.Unlock()
	return true, nil
}

func (s *Server) DoConnect(net.Addr, net.Addr) (bool, error) {
	return false, api.NewError(api.ErrCodeNotSupported, "local: server channels do not connect")
}

func (s *Server) DoDisconnect() (bool, error) { return s.DoClose() }

func (s *Server) DoClose() (bool, error) {
	s.mu.Lock()
	a := s.local
	s.mu.Unlock()
	if a != "" {
		s.reg.unbind(a, s)
	}
	return true, nil
}

func (s *Server) DoWrite(bufs []buffer.Buffer) error {
	for _, b := range bufs {
		b.Release()
	}
	return api.NewError(api.ErrCodeNotSupported, "local: server channels do not write")
}

func (s *Server) LocalAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.local == "" {
		return nil
	}
	return s.local
}

func (s *Server) RemoteAddr() net.Addr { return nil }

// connect links client to a new server side transport and passes that
// transport to the acceptor on the server channel's executor.
func (s *Server) connect(client *Conn) error {
	s.mu.Lock()
	local := s.local
	s.mu.Unlock()
	parent := s.ch
	if parent == nil {
		return refused(local.String())
	}
	client.mu.Lock()
	child := &Conn{reg: s.reg, local: local, remote: client.local, peer: client}
	client.peer = child
	client.remote = local
	client.mu.Unlock()
	return parent.Executor().Execute(func() {
		if !parent.IsActive() {
			child.DoClose()
			return
		}
		s.accept(parent, child)
	})
}

// Conn is one end of a local connection.
type Conn struct {
	reg *Registry

	mu      sync.Mutex
	ch      *channel.Channel
	peer    *Conn
	local   Addr
	remote  Addr
	started bool
	closed  bool
	inbox   []buffer.Buffer
}

// NewClient creates the transport of a client channel.
func NewClient(reg *Registry) *Conn {
	if reg == nil {
		reg = DefaultRegistry
	}
	return &Conn{reg: reg}
}

func (c *Conn) Attach(ch *channel.Channel) {
	c.mu.Lock()
	c.ch = ch
	c.mu.Unlock()
}

func (c *Conn) DoBind(local net.Addr) (bool, error) {
	return false, api.NewError(api.ErrCodeNotSupported, "local: client channels do not bind")
}

func (c *Conn) DoConnect(remote, local net.Addr) (bool, error) {
	if remote == nil {
		return false, api.NewError(api.ErrCodeInvalidArgument, "local: connect needs an address")
	}
	s := c.reg.lookup(toAddr(remote))
	if s == nil {
		return false, refused(remote.String())
	}
	c.mu.Lock()
	if local != nil {
		c.local = toAddr(local)
	} else {
		c.local = c.reg.ephemeral()
	}
	c.started = true
	c.mu.Unlock()
	if err := s.connect(c); err != nil {
		return false, err
	}
	return true, nil
}

// Start begins delivering buffers that arrived before the channel was active.
func (c *Conn) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.started = true
	for _, b := range c.inbox {
		c.post(c.ch, b)
	}
	c.inbox = nil
	return nil
}

// post hands b to ch's executor. Callers hold c.mu so that buffers keep
// their write order.
func (c *Conn) post(ch *channel.Channel, b buffer.Buffer) {
	if err := ch.Executor().Execute(func() {
		if ch.IsActive() {
			ch.Pipeline().FireBufferReceived(b)
		} else {
			b.Release()
		}
	}); err != nil {
		b.Release()
	}
}

func (c *Conn) deliver(b buffer.Buffer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.closed:
		b.Release()
	case !c.started || c.ch == nil:
		c.inbox = append(c.inbox, b)
	default:
		c.post(c.ch, b)
	}
}

func (c *Conn) DoWrite(bufs []buffer.Buffer) error {
	c.mu.Lock()
	peer, closed := c.peer, c.closed
	c.mu.Unlock()
	if closed || peer == nil {
		for _, b := range bufs {
			b.Release()
		}
		return errClosed
	}
	for _, b := range bufs {
		peer.deliver(b)
	}
	return nil
}

func (c *Conn) DoDisconnect() (bool, error) { return c.DoClose() }

func (c *Conn) DoClose() (bool, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return true, nil
	}
	c.closed = true
	peer := c.peer
	inbox := c.inbox
	c.inbox = nil
	c.mu.Unlock()
	for _, b := range inbox {
		b.Release()
	}
	if peer != nil {
		peer.peerClosed()
	}
	return true, nil
}

// peerClosed closes this side's channel as if the stream reached EOF.
func (c *Conn) peerClosed() {
	c.mu.Lock()
	ch := c.ch
	c.mu.Unlock()
	if ch == nil {
		c.DoClose()
		return
	}
	ch.Executor().Execute(func() { ch.Close() })
}

func (c *Conn) LocalAddr() net.Addr {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.local == "" {
		return nil
	}
	return c.local
}

func (c *Conn) RemoteAddr() net.Addr {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.remote == "" {
		return nil
	}
	return c.remote
}
