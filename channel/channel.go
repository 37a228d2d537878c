// File: channel/channel.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Channel is a connection-like endpoint bound to one event loop. It owns a
// pipeline and runs the INIT -> OPENED -> ACTIVE -> INACTIVE lifecycle,
// delegating raw I/O to a Transport. Lifecycle hooks and event dispatch run
// on the channel's executor.

package channel

import (
	"cmp"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/eapache/queue"

	"github.com/momentics/hioload-pipeline/api"
	"github.com/momentics/hioload-pipeline/buffer"
	"github.com/momentics/hioload-pipeline/core/future"
)

// State is the lifecycle position of a channel.
type State int32

const (
	StateInit State = iota
	StateOpened
	StateActive
	StateInactive
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateOpened:
		return "OPENED"
	case StateActive:
		return "ACTIVE"
	case StateInactive:
		return "INACTIVE"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Initializer populates the pipeline of a freshly opened channel.
type Initializer func(ch *Channel) error

// Option configures a Channel.
type Option func(*Channel)

// WithParent marks the channel as accepted by parent.
func WithParent(parent *Channel) Option { return func(c *Channel) { c.parent = parent } }

// WithInitializer installs the pipeline initializer run on first open.
func WithInitializer(init Initializer) Option { return func(c *Channel) { c.init = init } }

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option { return func(c *Channel) { c.logger = l } }

// WithID presets the channel id instead of deriving it from the address.
func WithID(id uint32) Option { return func(c *Channel) { c.id = id } }

type addrBox struct{ addr net.Addr }

type pendingWrite struct {
	buf buffer.Buffer
	f   *future.Future
}

// Channel implements fmt.Stringer; it is the owner of every future it creates.
type Channel struct {
	id        uint32
	parent    *Channel
	executor  api.Executor
	transport Transport
	init      Initializer
	logger    *slog.Logger

	state     atomic.Int32
	pipeline  atomic.Pointer[Pipeline]
	succeeded atomic.Pointer[future.Future]
	closeFut  atomic.Pointer[future.Future]
	strVal    atomic.Pointer[string]
	local     atomic.Pointer[addrBox]
	remote    atomic.Pointer[addrBox]

	// loop confined
	outbound      *queue.Queue
	flushing      bool
	connectFuture *future.Future

	childMu  sync.Mutex
	children map[*Channel]struct{}

	attrs sync.Map
}

// New creates a channel in state INIT bound to exec.
func New(exec api.Executor, t Transport, opts ...Option) *Channel {
	ch := &Channel{
		executor:  exec,
		transport: t,
		outbound:  queue.New(),
		children:  make(map[*Channel]struct{}),
	}
	for _, opt := range opts {
		opt(ch)
	}
	if ch.id == 0 {
		ch.id = addressID(unsafe.Pointer(ch))
	}
	ch.closeFut.Store(future.New(ch))
	if ch.logger == nil {
		ch.logger = slog.Default()
	}
	ch.logger = ch.logger.With("channel", fmt.Sprintf("0x%08x", ch.id))
	if a, ok := t.(Attacher); ok {
		a.Attach(ch)
	}
	if ch.parent != nil {
		ch.parent.trackChild(ch)
	}
	return ch
}

func (ch *Channel) ID() uint32                  { return ch.id }
func (ch *Channel) Parent() *Channel            { return ch.parent }
func (ch *Channel) Executor() api.Executor      { return ch.executor }
func (ch *Channel) Transport() Transport        { return ch.transport }
func (ch *Channel) Logger() *slog.Logger        { return ch.logger }
func (ch *Channel) State() State                { return State(ch.state.Load()) }
func (ch *Channel) IsActive() bool              { return ch.State() == StateActive }
func (ch *Channel) Pipeline() *Pipeline         { return ch.pipeline.Load() }
func (ch *Channel) CloseFuture() *future.Future { return ch.closeFut.Load() }

// IsOpen reports whether the channel is OPENED or ACTIVE.
func (ch *Channel) IsOpen() bool {
	s := ch.State()
	return s == StateOpened || s == StateActive
}

// CompareTo orders channels by id.
func (ch *Channel) CompareTo(o *Channel) int {
	if o == nil {
		return 1
	}
	return cmp.Compare(ch.id, o.id)
}

// Open moves the channel to OPENED. The first call creates the pipeline,
// runs the initializer and allocates the shared futures; a later call on a
// recycled channel only replaces a completed close future. A failing
// initializer detaches the pipeline again so the channel stays in INIT and
// a retry runs the initializer afresh.
func (ch *Channel) Open() error {
	if ch.IsOpen() {
		ch.logger.Warn("channel already open")
		return nil
	}
	if p, ok := ch.transport.(PreOpener); ok {
		if err := p.DoPreOpen(); err != nil {
			return operationErr("transport refused to open", err)
		}
	}
	first := ch.pipeline.Load() == nil
	if first {
		ch.pipeline.Store(newPipeline(ch))
		ch.succeeded.Store(future.Succeeded(ch, nil))
	}
	if cf := ch.closeFut.Load(); cf == nil || cf.IsDone() {
		ch.closeFut.Store(future.New(ch))
	}
	if first && ch.init != nil {
		if err := ch.init(ch); err != nil {
			ch.pipeline.Store(nil)
			ch.succeeded.Store(nil)
			ch.logger.Error("channel initializer failed", "error", err)
			return err
		}
	}
	ch.invalidateNames()
	ch.state.Store(int32(StateOpened))
	ch.Pipeline().FireChannelOpen()
	return nil
}

// Activate marks an accepted channel ACTIVE. Transports call it on the
// channel's executor once the connection is usable.
func (ch *Channel) Activate() bool {
	if ch.State() != StateOpened {
		return false
	}
	ch.setActive()
	return true
}

func (ch *Channel) setActive() {
	ch.state.Store(int32(StateActive))
	ch.invalidateNames()
	ch.Pipeline().FireChannelActive()
}

func (ch *Channel) invalidateNames() {
	ch.strVal.Store(nil)
	ch.local.Store(nil)
	ch.remote.Store(nil)
}

func (ch *Channel) notOpen(op string, addr net.Addr) *future.Future {
	return future.Failed(ch, operationErr(fmt.Sprintf("cannot %s %v: channel is not open", op, addr), api.ErrChannelClosed))
}

// Bind routes a bind request through the pipeline.
func (ch *Channel) Bind(local net.Addr) *future.Future {
	p := ch.Pipeline()
	if p == nil {
		return ch.notOpen("bind to", local)
	}
	return p.Bind(local, ch.NewFuture())
}

// Connect routes a connect request through the pipeline. local may be nil.
func (ch *Channel) Connect(remote, local net.Addr) *future.Future {
	p := ch.Pipeline()
	if p == nil {
		return ch.notOpen("connect to", remote)
	}
	return p.Connect(remote, local, ch.NewFuture())
}

func (ch *Channel) Disconnect() *future.Future {
	p := ch.Pipeline()
	if p == nil {
		return future.Succeeded(ch, nil)
	}
	return p.Disconnect(ch.NewFuture())
}

// Close routes a close request through the pipeline. Closing a channel that
// was never opened completes and returns its close future and releases it
// from the parent; the state stays INIT.
func (ch *Channel) Close() *future.Future {
	p := ch.Pipeline()
	if p == nil {
		if ch.parent != nil {
			ch.parent.untrackChild(ch)
		}
		cf := ch.closeFut.Load()
		cf.SetSuccess(nil)
		return cf
	}
	return p.Close(ch.NewFuture())
}

func (ch *Channel) Write(msg any) *future.Future {
	p := ch.Pipeline()
	if p == nil {
		return ch.notOpen("write to", nil)
	}
	return p.Write(msg)
}

func (ch *Channel) WriteAndFlush(msg any) *future.Future {
	p := ch.Pipeline()
	if p == nil {
		return ch.notOpen("write to", nil)
	}
	return p.WriteAndFlush(msg)
}

func (ch *Channel) Flush() {
	if p := ch.Pipeline(); p != nil {
		p.Flush()
	}
}

func (ch *Channel) NewFuture() *future.Future { return future.New(ch) }

func (ch *Channel) NewSucceededFuture() *future.Future {
	if f := ch.succeeded.Load(); f != nil {
		return f
	}
	return future.Succeeded(ch, nil)
}

func (ch *Channel) NewFailedFuture(err error) *future.Future { return future.Failed(ch, err) }

// NewVoidFuture returns the shared future for fire-and-forget operations.
func (ch *Channel) NewVoidFuture() *future.Future { return future.Void() }

func (ch *Channel) callTransport(op func() (bool, error)) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			ok, err = false, fmt.Errorf("transport panicked: %v", r)
		}
	}()
	return op()
}

func (ch *Channel) doBind(local net.Addr, f *future.Future) {
	if !ch.IsOpen() {
		msg := fmt.Sprintf("should not bind to %v when the channel is not open", local)
		ch.logger.Error(msg)
		f.SetFailure(operationErr(msg, api.ErrChannelClosed))
		return
	}
	ok, err := ch.callTransport(func() (bool, error) { return ch.transport.DoBind(local) })
	switch {
	case err != nil:
		ch.processFailure(fmt.Sprintf("exception happened when binding to %v", local), err, f)
	case !ok:
		ch.processFailure(fmt.Sprintf("unable to bind to %v", local), nil, f)
	default:
		ch.setActive()
		f.SetSuccess(nil)
	}
}

func (ch *Channel) doConnect(remote, local net.Addr, f *future.Future) {
	if !ch.IsOpen() {
		msg := fmt.Sprintf("should not connect to %v when the channel is not open", remote)
		ch.logger.Error(msg)
		f.SetFailure(operationErr(msg, api.ErrChannelClosed))
		return
	}
	if ch.connectFuture != nil {
		f.SetFailure(operationErr("a connection attempt is already pending", nil))
		return
	}
	ok, err := ch.callTransport(func() (bool, error) { return ch.transport.DoConnect(remote, local) })
	switch {
	case errors.Is(err, ErrConnectPending):
		ch.connectFuture = f
	case err != nil:
		ch.processFailure(fmt.Sprintf("exception happened when connecting to %v", remote), err, f)
	case !ok:
		ch.processFailure(fmt.Sprintf("unable to connect to %v", remote), nil, f)
	default:
		ch.setActive()
		f.SetSuccess(nil)
	}
}

// FinishConnect completes a connect that the transport reported as pending.
// It must run on the channel's executor.
func (ch *Channel) FinishConnect(err error) {
	f := ch.connectFuture
	if f == nil {
		return
	}
	ch.connectFuture = nil
	if err != nil {
		ch.processFailure("unable to connect", err, f)
		return
	}
	ch.setActive()
	f.SetSuccess(nil)
}

func (ch *Channel) doDisconnect(f *future.Future) {
	if !ch.IsActive() {
		ch.finishInactive()
		f.SetSuccess(nil)
		return
	}
	ok, err := ch.callTransport(ch.transport.DoDisconnect)
	ch.finishInactive()
	switch {
	case err != nil:
		ch.processFailure("exception happened when disconnecting", err, f)
	case !ok:
		ch.processFailure("unable to disconnect", nil, f)
	default:
		f.SetSuccess(nil)
	}
}

func (ch *Channel) doClose(f *future.Future) {
	if !ch.IsOpen() {
		ch.finishInactive()
		f.SetSuccess(nil)
		return
	}
	if pc, ok := ch.transport.(PreCloser); ok {
		pc.DoPreClose()
	}
	ok, err := ch.callTransport(ch.transport.DoClose)
	ch.finishInactive()
	switch {
	case err != nil:
		ch.processFailure("exception happened when closing", err, f)
	case !ok:
		ch.processFailure("unable to close", nil, f)
	default:
		f.SetSuccess(nil)
	}
}

// finishInactive enters INACTIVE, drops queued writes, fires channelInactive
// if the channel was active and completes the close future.
func (ch *Channel) finishInactive() {
	prev := State(ch.state.Swap(int32(StateInactive)))
	if prev == StateInactive {
		return
	}
	ch.failPendingWrites(api.NewError(api.ErrCodeClosed, "channel closed before flush"))
	if cf := ch.connectFuture; cf != nil {
		ch.connectFuture = nil
		cf.SetFailure(api.NewError(api.ErrCodeClosed, "channel closed while connecting"))
	}
	if prev == StateActive {
		ch.Pipeline().FireChannelInactive()
	}
	if ch.parent != nil {
		ch.parent.untrackChild(ch)
	}
	if cf := ch.closeFut.Load(); cf != nil {
		cf.SetSuccess(nil)
	}
}

func (ch *Channel) processFailure(msg string, cause error, f *future.Future) {
	err := operationErr(msg, cause)
	ch.logger.Error(msg, "error", cause)
	f.SetFailure(err)
	ch.Pipeline().FireExceptionCaught(err)
	ch.closeIfClosed()
}

func (ch *Channel) closeIfClosed() {
	if ch.IsOpen() {
		return
	}
	ch.Pipeline().Close(future.Void())
}

func (ch *Channel) enqueueWrite(buf buffer.Buffer, f *future.Future) {
	if !ch.IsActive() {
		buf.Release()
		f.SetFailure(api.NewError(api.ErrCodeClosed, "channel is not active"))
		return
	}
	ch.outbound.Add(pendingWrite{buf: buf, f: f})
}

// flush hands queued writes to the transport. Writes queued by listeners
// while a batch is in flight are picked up by the next pass.
func (ch *Channel) flush() {
	if ch.flushing {
		return
	}
	ch.flushing = true
	defer func() { ch.flushing = false }()
	for ch.outbound.Length() > 0 {
		n := ch.outbound.Length()
		bufs := make([]buffer.Buffer, 0, n)
		futs := make([]*future.Future, 0, n)
		for range n {
			pw := ch.outbound.Remove().(pendingWrite)
			bufs = append(bufs, pw.buf)
			futs = append(futs, pw.f)
		}
		_, err := ch.callTransport(func() (bool, error) { return true, ch.transport.DoWrite(bufs) })
		for _, f := range futs {
			if err != nil {
				f.SetFailure(err)
			} else {
				f.SetSuccess(nil)
			}
		}
		if err != nil {
			ch.Pipeline().FireExceptionCaught(err)
		}
	}
}

func (ch *Channel) failPendingWrites(err error) {
	for ch.outbound.Length() > 0 {
		pw := ch.outbound.Remove().(pendingWrite)
		pw.buf.Release()
		pw.f.SetFailure(err)
	}
}

// LocalAddr is resolved lazily from the transport and cached.
func (ch *Channel) LocalAddr() net.Addr {
	return ch.cachedAddr(&ch.local, ch.transport.LocalAddr)
}

// RemoteAddr is resolved lazily from the transport and cached.
func (ch *Channel) RemoteAddr() net.Addr {
	return ch.cachedAddr(&ch.remote, ch.transport.RemoteAddr)
}

func (ch *Channel) cachedAddr(slot *atomic.Pointer[addrBox], resolve func() net.Addr) net.Addr {
	if b := slot.Load(); b != nil {
		return b.addr
	}
	a := resolve()
	if a != nil {
		slot.Store(&addrBox{addr: a})
	}
	return a
}

func (ch *Channel) String() string {
	if s := ch.strVal.Load(); s != nil {
		return *s
	}
	local, remote := ch.LocalAddr(), ch.RemoteAddr()
	var s string
	switch {
	case remote != nil:
		src, dst := local, remote
		if ch.parent != nil {
			src, dst = remote, local
		}
		s = fmt.Sprintf("[id: 0x%08x, %v => %v]", ch.id, src, dst)
	case local != nil:
		s = fmt.Sprintf("[id: 0x%08x, %v]", ch.id, local)
	default:
		s = fmt.Sprintf("[id: 0x%08x]", ch.id)
	}
	ch.strVal.Store(&s)
	return s
}

func (ch *Channel) trackChild(c *Channel) {
	ch.childMu.Lock()
	ch.children[c] = struct{}{}
	ch.childMu.Unlock()
}

func (ch *Channel) untrackChild(c *Channel) {
	ch.childMu.Lock()
	delete(ch.children, c)
	ch.childMu.Unlock()
}

// Children returns the accepted channels that are still open.
func (ch *Channel) Children() []*Channel {
	ch.childMu.Lock()
	defer ch.childMu.Unlock()
	out := make([]*Channel, 0, len(ch.children))
	for c := range ch.children {
		out = append(out, c)
	}
	return out
}

// Attr returns the attribute stored under key.
func (ch *Channel) Attr(key any) (any, bool) { return ch.attrs.Load(key) }

// SetAttr stores an attribute; a nil value deletes it.
func (ch *Channel) SetAttr(key, value any) {
	if value == nil {
		ch.attrs.Delete(key)
		return
	}
	ch.attrs.Store(key, value)
}

func typeName(v any) string { return fmt.Sprintf("%T", v) }
