// Package fake
// Author: momentics <momentics@gmail.com>
//
// Fake implementations for testing and development.
// Provides predictable, controllable behavior for the channel transport seam
// and the handler capabilities.

package fake

import (
	"net"
	"sync"

	"github.com/momentics/hioload-pipeline/buffer"
	"github.com/momentics/hioload-pipeline/channel"
)

// Addr is a net.Addr with a fixed string form.
type Addr string

func (a Addr) Network() string { return "fake" }
func (a Addr) String() string  { return string(a) }

// Result scripts the outcome of one transport hook.
type Result struct {
	OK    bool
	Err   error
	Panic any
}

// Succeed is the default outcome of every hook.
var Succeed = Result{OK: true}

// Transport is a scripted channel.Transport that records every call.
type Transport struct {
	mu sync.Mutex

	BindResult       Result
	ConnectResult    Result
	DisconnectResult Result
	CloseResult      Result
	WriteErr         error
	Local            net.Addr
	Remote           net.Addr

	calls   []string
	written [][]byte
	ch      *channel.Channel
}

// NewTransport creates a transport whose hooks all succeed.
func NewTransport() *Transport {
	return &Transport{
		BindResult:       Succeed,
		ConnectResult:    Succeed,
		DisconnectResult: Succeed,
		CloseResult:      Succeed,
	}
}

func (t *Transport) Attach(ch *channel.Channel) {
	t.mu.Lock()
	t.ch = ch
	t.mu.Unlock()
}

// Channel returns the attached channel.
func (t *Transport) Channel() *channel.Channel {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ch
}

func (t *Transport) record(call string, r Result) (bool, error) {
	t.mu.Lock()
	t.calls = append(t.calls, call)
	t.mu.Unlock()
	if r.Panic != nil {
		panic(r.Panic)
	}
	return r.OK, r.Err
}

func (t *Transport) DoBind(local net.Addr) (bool, error) {
	ok, err := t.record("bind", t.BindResult)
	if ok && err == nil {
		t.mu.Lock()
		t.Local = local
		t.mu.Unlock()
	}
	return ok, err
}

func (t *Transport) DoConnect(remote, _ net.Addr) (bool, error) {
	ok, err := t.record("connect", t.ConnectResult)
	if ok && err == nil {
		t.mu.Lock()
		t.Remote = remote
		t.mu.Unlock()
	}
	return ok, err
}

func (t *Transport) DoDisconnect() (bool, error) { return t.record("disconnect", t.DisconnectResult) }
func (t *Transport) DoClose() (bool, error)      { return t.record("close", t.CloseResult) }

// DoWrite copies and releases every buffer.
func (t *Transport) DoWrite(bufs []buffer.Buffer) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls = append(t.calls, "write")
	if t.WriteErr != nil {
		for _, b := range bufs {
			b.Release()
		}
		return t.WriteErr
	}
	for _, b := range bufs {
		t.written = append(t.written, buffer.Bytes(b))
		b.Release()
	}
	return nil
}

func (t *Transport) LocalAddr() net.Addr {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.Local
}

func (t *Transport) RemoteAddr() net.Addr {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.Remote
}

// Calls returns the recorded hook names in order.
func (t *Transport) Calls() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.calls...)
}

// Written returns copies of every written payload.
func (t *Transport) Written() [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([][]byte(nil), t.written...)
}

var _ channel.Transport = (*Transport)(nil)
