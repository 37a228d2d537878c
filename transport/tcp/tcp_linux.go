//go:build linux

// File: transport/tcp/tcp_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package tcp

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-pipeline/api"
	"github.com/momentics/hioload-pipeline/buffer"
	"github.com/momentics/hioload-pipeline/channel"
	"github.com/momentics/hioload-pipeline/reactor"
)

var errClosed = api.NewError(api.ErrCodeClosed, "tcp: connection closed")

// Engine owns the reactor shared by every socket it creates.
type Engine struct {
	cfg     config
	logger  *slog.Logger
	reactor *reactor.Reactor
}

// NewEngine creates an engine and starts its reactor.
func NewEngine(opts ...Option) (*Engine, error) {
	cfg := newConfig(opts)
	r, err := reactor.New(cfg.reactor...)
	if err != nil {
		return nil, err
	}
	r.Start()
	return &Engine{cfg: cfg, logger: cfg.logger, reactor: r}, nil
}

// Close stops the reactor. Sockets are closed by their channels.
func (e *Engine) Close() error { return e.reactor.Close() }

// Registered reports how many sockets are registered with the reactor.
func (e *Engine) Registered() int { return e.reactor.Registered() }

// NewServer creates the transport of a listening channel.
func (e *Engine) NewServer(accept channel.Acceptor) channel.Transport {
	return &Server{eng: e, accept: accept, fd: -1}
}

// NewClient creates the transport of a connecting channel.
func (e *Engine) NewClient() channel.Transport {
	return &Conn{eng: e, fd: -1}
}

func resolve(a net.Addr) (*net.TCPAddr, error) {
	if a == nil {
		return nil, api.NewError(api.ErrCodeInvalidArgument, "tcp: missing address")
	}
	if ta, ok := a.(*net.TCPAddr); ok {
		return ta, nil
	}
	return net.ResolveTCPAddr("tcp", a.String())
}

func toSockaddr(a *net.TCPAddr) (unix.Sockaddr, int) {
	if ip4 := a.IP.To4(); ip4 != nil || a.IP == nil {
		sa := &unix.SockaddrInet4{Port: a.Port}
		copy(sa.Addr[:], ip4)
		return sa, unix.AF_INET
	}
	sa := &unix.SockaddrInet6{Port: a.Port}
	copy(sa.Addr[:], a.IP.To16())
	return sa, unix.AF_INET6
}

func fromSockaddr(sa unix.Sockaddr) net.Addr {
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.TCPAddr{IP: net.IPv4(sa.Addr[0], sa.Addr[1], sa.Addr[2], sa.Addr[3]), Port: sa.Port}
	case *unix.SockaddrInet6:
		ip := make(net.IP, net.IPv6len)
		copy(ip, sa.Addr[:])
		return &net.TCPAddr{IP: ip, Port: sa.Port}
	}
	return nil
}

func socket(domain int) (int, error) {
	fd, err := unix.Socket(domain, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return -1, os.NewSyscallError("socket", err)
	}
	return fd, nil
}

func localOf(fd int) net.Addr {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return nil
	}
	return fromSockaddr(sa)
}

type addrs struct {
	mu     sync.Mutex
	local  net.Addr
	remote net.Addr
}

func (a *addrs) set(local, remote net.Addr) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if local != nil {
		a.local = local
	}
	if remote != nil {
		a.remote = remote
	}
}

func (a *addrs) LocalAddr() net.Addr {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.local
}

func (a *addrs) RemoteAddr() net.Addr {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.remote
}

// Server is a listening socket. Accepted connections are handed to the
// acceptor on the server channel's executor.
type Server struct {
	addrs
	eng    *Engine
	accept channel.Acceptor
	ch     *channel.Channel
	fd     int
}

func (s *Server) Attach(ch *channel.Channel) { s.ch = ch }

func (s *Server) DoBind(local net.Addr) (bool, error) {
	if s.fd >= 0 {
		return false, api.NewError(api.ErrCodeInvalidArgument, "tcp: already bound")
	}
	ta, err := resolve(local)
	if err != nil {
		return false, err
	}
	sa, domain := toSockaddr(ta)
	fd, err := socket(domain)
	if err != nil {
		return false, err
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return false, os.NewSyscallError("setsockopt", err)
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return false, os.NewSyscallError("bind", err)
	}
	if err := unix.Listen(fd, unix.SOMAXCONN); err != nil {
		unix.Close(fd)
		return false, os.NewSyscallError("listen", err)
	}
	s.fd = fd
	s.set(localOf(fd), nil)
	if err := s.eng.reactor.Add(fd, reactor.Readable, s.ready); err != nil {
		s.fd = -1
		unix.Close(fd)
		return false, err
	}
	return true, nil
}

func (s *Server) ready(reactor.Events) {
	if err := s.ch.Executor().Execute(s.acceptAll); err != nil {
		s.eng.logger.Warn("accept dropped", "channel", s.ch.String(), "error", err)
	}
}

func (s *Server) acceptAll() {
	if s.fd < 0 {
		return
	}
	for {
		nfd, sa, err := unix.Accept4(s.fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err != nil {
			if err == unix.EINTR || err == unix.ECONNABORTED {
				continue
			}
			if err != unix.EAGAIN {
				s.eng.logger.Warn("accept failed", "channel", s.ch.String(), "error", err)
			}
			break
		}
		c := &Conn{eng: s.eng, fd: nfd}
		c.set(localOf(nfd), fromSockaddr(sa))
		c.setOptions()
		s.accept(s.ch, c)
	}
	if err := s.eng.reactor.Arm(s.fd, reactor.Readable); err != nil {
		s.eng.logger.Error("listener re-arm failed", "channel", s.ch.String(), "error", err)
	}
}

func (s *Server) DoConnect(net.Addr, net.Addr) (bool, error) {
	return false, api.NewError(api.ErrCodeNotSupported, "tcp: server channels do not connect")
}

func (s *Server) DoDisconnect() (bool, error) { return s.DoClose() }

func (s *Server) DoClose() (bool, error) {
	if s.fd < 0 {
		return true, nil
	}
	if err := s.eng.reactor.Remove(s.fd); err != nil {
		s.eng.logger.Warn("listener remove failed", "error", err)
	}
	err := unix.Close(s.fd)
	s.fd = -1
	if err != nil {
		return true, os.NewSyscallError("close", err)
	}
	return true, nil
}

func (s *Server) DoWrite(bufs []buffer.Buffer) error {
	for _, b := range bufs {
		b.Release()
	}
	return api.NewError(api.ErrCodeNotSupported, "tcp: server channels do not write")
}

// Conn is a connected socket. Apart from its addresses, every field is
// owned by the channel's event loop.
type Conn struct {
	addrs
	eng *Engine
	ch  *channel.Channel
	fd  int

	registered bool
	connecting bool
	reading    bool
	writeArmed bool
	closed     bool
	pending    []buffer.Buffer
}

func (c *Conn) Attach(ch *channel.Channel) { c.ch = ch }

func (c *Conn) setOptions() {
	if !c.eng.cfg.noDelay {
		return
	}
	if err := unix.SetsockoptInt(c.fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1); err != nil {
		c.eng.logger.Debug("TCP_NODELAY failed", "error", err)
	}
}

func (c *Conn) DoBind(net.Addr) (bool, error) {
	return false, api.NewError(api.ErrCodeNotSupported, "tcp: client channels do not bind")
}

func (c *Conn) DoConnect(remote, local net.Addr) (bool, error) {
	if c.fd >= 0 || c.closed {
		return false, api.NewError(api.ErrCodeInvalidArgument, "tcp: already connected")
	}
	ra, err := resolve(remote)
	if err != nil {
		return false, err
	}
	rsa, domain := toSockaddr(ra)
	fd, err := socket(domain)
	if err != nil {
		return false, err
	}
	if local != nil {
		la, err := resolve(local)
		if err != nil {
			unix.Close(fd)
			return false, err
		}
		lsa, _ := toSockaddr(la)
		if err := unix.Bind(fd, lsa); err != nil {
			unix.Close(fd)
			return false, os.NewSyscallError("bind", err)
		}
	}
	c.fd = fd
	c.set(nil, ra)
	switch err := unix.Connect(fd, rsa); err {
	case nil:
		c.established()
		if err := c.register(c.interest()); err != nil {
			return false, err
		}
		return true, nil
	case unix.EINPROGRESS:
		c.connecting = true
		if err := c.register(reactor.Writable); err != nil {
			return false, err
		}
		return false, channel.ErrConnectPending
	default:
		return false, os.NewSyscallError("connect", err)
	}
}

func (c *Conn) established() {
	c.reading = true
	c.set(localOf(c.fd), nil)
	c.setOptions()
}

func (c *Conn) finishConnect() {
	c.connecting = false
	errno, err := unix.GetsockoptInt(c.fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err == nil && errno != 0 {
		err = unix.Errno(errno)
	}
	if err != nil {
		c.ch.FinishConnect(os.NewSyscallError("connect", err))
		return
	}
	c.established()
	c.ch.FinishConnect(nil)
	c.rearm()
}

// Start begins reading an accepted connection.
func (c *Conn) Start() error {
	if c.closed {
		return errClosed
	}
	c.reading = true
	return c.register(c.interest())
}

func (c *Conn) interest() reactor.Events {
	var ev reactor.Events
	if c.reading {
		ev |= reactor.Readable
	}
	if c.writeArmed {
		ev |= reactor.Writable
	}
	return ev
}

func (c *Conn) register(ev reactor.Events) error {
	if c.registered {
		return c.eng.reactor.Arm(c.fd, ev)
	}
	if err := c.eng.reactor.Add(c.fd, ev, c.ready); err != nil {
		return err
	}
	c.registered = true
	return nil
}

func (c *Conn) rearm() {
	if c.closed {
		return
	}
	ev := c.interest()
	if ev == 0 {
		return
	}
	if err := c.register(ev); err != nil {
		c.fail(err)
	}
}

// ready runs on the reactor goroutine.
func (c *Conn) ready(ev reactor.Events) {
	ch := c.ch
	if err := ch.Executor().Execute(func() { c.handle(ev) }); err != nil {
		c.eng.logger.Debug("readiness dropped", "channel", ch.String(), "error", err)
	}
}

func (c *Conn) handle(ev reactor.Events) {
	if c.closed {
		return
	}
	if c.connecting {
		c.finishConnect()
		return
	}
	if c.writeArmed && ev&(reactor.Writable|reactor.Hangup) != 0 {
		c.writeArmed = false
		if err := c.flushPending(); err != nil {
			c.fail(err)
			return
		}
		c.writeArmed = len(c.pending) > 0
	}
	if c.reading && ev&(reactor.Readable|reactor.Hangup) != 0 {
		if !c.readAll() {
			return
		}
	}
	c.rearm()
}

// readAll reads until the socket would block. It returns false once the
// channel is closing.
func (c *Conn) readAll() bool {
	for range maxReadsPerEvent {
		b, err := c.eng.cfg.allocator.Allocate(c.eng.cfg.readSize)
		if err != nil {
			c.fail(err)
			return false
		}
		room := b.WritableBytes()
		n, err := unix.Read(c.fd, room)
		switch {
		case err == unix.EINTR:
			b.Release()
			continue
		case err == unix.EAGAIN:
			b.Release()
			return true
		case err != nil:
			b.Release()
			c.fail(os.NewSyscallError("read", err))
			return false
		case n == 0:
			b.Release()
			c.ch.Close()
			return false
		}
		if err := b.SetWriterIndex(n); err != nil {
			b.Release()
			c.fail(err)
			return false
		}
		c.ch.Pipeline().FireBufferReceived(b)
		if c.closed {
			return false
		}
		if n < len(room) {
			return true
		}
	}
	return true
}

func (c *Conn) fail(err error) {
	c.ch.Pipeline().FireExceptionCaught(err)
	c.ch.Close()
}

func (c *Conn) DoWrite(bufs []buffer.Buffer) error {
	if c.closed || c.fd < 0 {
		for _, b := range bufs {
			b.Release()
		}
		return errClosed
	}
	c.pending = append(c.pending, bufs...)
	if c.writeArmed {
		return nil
	}
	if err := c.flushPending(); err != nil {
		return err
	}
	if len(c.pending) > 0 {
		c.writeArmed = true
		return c.register(c.interest())
	}
	return nil
}

// flushPending writes queued buffers until the socket would block. On a
// hard error the queue is dropped.
func (c *Conn) flushPending() error {
	for len(c.pending) > 0 {
		iovs := make([][]byte, 0, min(len(c.pending), maxIovecs))
		for _, b := range c.pending[:cap(iovs)] {
			iovs = append(iovs, b.ReadableBytes())
		}
		n, err := unix.Writev(c.fd, iovs)
		switch {
		case err == unix.EINTR:
			continue
		case err == unix.EAGAIN:
			return nil
		case err != nil:
			c.dropPending()
			return os.NewSyscallError("writev", err)
		}
		before := len(c.pending)
		c.consume(n)
		if n == 0 && len(c.pending) == before {
			c.dropPending()
			return io.ErrShortWrite
		}
	}
	return nil
}

func (c *Conn) consume(n int) {
	i := 0
	for ; i < len(c.pending); i++ {
		b := c.pending[i]
		l := b.ReadableLen()
		if l > n {
			_ = b.Skip(n)
			break
		}
		n -= l
		b.Release()
	}
	rest := copy(c.pending, c.pending[i:])
	clear(c.pending[rest:])
	c.pending = c.pending[:rest]
}

func (c *Conn) dropPending() {
	for _, b := range c.pending {
		b.Release()
	}
	c.pending = nil
}

// Pending reports the number of buffers waiting for the socket to drain.
func (c *Conn) Pending() int { return len(c.pending) }

func (c *Conn) DoDisconnect() (bool, error) { return c.DoClose() }

func (c *Conn) DoClose() (bool, error) {
	if c.closed {
		return true, nil
	}
	c.closed = true
	c.reading, c.writeArmed, c.connecting = false, false, false
	c.dropPending()
	if c.fd < 0 {
		return true, nil
	}
	var errs []error
	if c.registered {
		errs = append(errs, c.eng.reactor.Remove(c.fd))
	}
	if err := unix.Close(c.fd); err != nil {
		errs = append(errs, os.NewSyscallError("close", err))
	}
	c.fd = -1
	if err := errors.Join(errs...); err != nil {
		c.eng.logger.Warn("socket close", "error", err)
	}
	return true, nil
}
