//go:build linux

// File: reactor/reactor_linux.go
// Author: momentics <momentics@gmail.com>
//
// epoll(7) poller with EPOLLONESHOT registrations and an eventfd used to
// wake the wait on shutdown.

package reactor

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-pipeline/affinity"
)

// ErrClosed is returned by operations on a closed reactor.
var ErrClosed = errors.New("reactor: closed")

// Reactor owns one epoll instance and the goroutine waiting on it.
type Reactor struct {
	epfd   int
	wakefd int
	cfg    config
	logger *slog.Logger

	mu        sync.RWMutex
	callbacks map[int]Callback

	started atomic.Bool
	closed  atomic.Bool
	done    chan struct{}
}

// New creates a reactor. Call Start to begin dispatching.
func New(opts ...Option) (*Reactor, error) {
	cfg := newConfig(opts)
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll create: %w", err)
	}
	wakefd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(epfd)
		return nil, fmt.Errorf("eventfd: %w", err)
	}
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wakefd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakefd, &ev); err != nil {
		unix.Close(wakefd)
		unix.Close(epfd)
		return nil, fmt.Errorf("epoll ctl add wakefd: %w", err)
	}
	return &Reactor{
		epfd:      epfd,
		wakefd:    wakefd,
		cfg:       cfg,
		logger:    cfg.logger,
		callbacks: make(map[int]Callback),
		done:      make(chan struct{}),
	}, nil
}

func toEpoll(interest Events) uint32 {
	ev := uint32(unix.EPOLLONESHOT | unix.EPOLLRDHUP)
	if interest&Readable != 0 {
		ev |= unix.EPOLLIN
	}
	if interest&Writable != 0 {
		ev |= unix.EPOLLOUT
	}
	return ev
}

func fromEpoll(ev uint32) Events {
	var e Events
	if ev&unix.EPOLLIN != 0 {
		e |= Readable
	}
	if ev&unix.EPOLLOUT != 0 {
		e |= Writable
	}
	if ev&(unix.EPOLLERR|unix.EPOLLHUP|unix.EPOLLRDHUP) != 0 {
		e |= Hangup
	}
	return e
}

// Add registers fd with a one-shot interest.
func (r *Reactor) Add(fd int, interest Events, cb Callback) error {
	if r.closed.Load() {
		return ErrClosed
	}
	r.mu.Lock()
	r.callbacks[fd] = cb
	r.mu.Unlock()
	ev := unix.EpollEvent{Events: toEpoll(interest), Fd: int32(fd)}
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		r.mu.Lock()
		delete(r.callbacks, fd)
		r.mu.Unlock()
		return fmt.Errorf("epoll ctl add: %w", err)
	}
	return nil
}

// Arm re-enables fd after an event was delivered.
func (r *Reactor) Arm(fd int, interest Events) error {
	if r.closed.Load() {
		return ErrClosed
	}
	ev := unix.EpollEvent{Events: toEpoll(interest), Fd: int32(fd)}
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_MOD, fd, &ev); err != nil {
		return fmt.Errorf("epoll ctl mod: %w", err)
	}
	return nil
}

// Remove unregisters fd. It must be called before fd is closed.
func (r *Reactor) Remove(fd int) error {
	r.mu.Lock()
	delete(r.callbacks, fd)
	r.mu.Unlock()
	if r.closed.Load() {
		return nil
	}
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		return fmt.Errorf("epoll ctl del: %w", err)
	}
	return nil
}

// Registered returns the number of descriptors with a callback.
func (r *Reactor) Registered() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.callbacks)
}

// Start launches the poller goroutine. Extra calls are no-ops.
func (r *Reactor) Start() {
	if r.started.CompareAndSwap(false, true) {
		go r.run()
	}
}

func (r *Reactor) run() {
	defer close(r.done)
	if r.cfg.cpu >= 0 {
		if err := affinity.Pin(r.cfg.cpu); err != nil {
			r.logger.Warn("cpu pinning failed", "cpu", r.cfg.cpu, "error", err)
		}
	}
	events := make([]unix.EpollEvent, r.cfg.batch)
	for {
		n, err := unix.EpollWait(r.epfd, events, -1)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			r.logger.Error("epoll wait failed", "error", err)
			return
		}
		for i := range n {
			fd := int(events[i].Fd)
			if fd == r.wakefd {
				if r.closed.Load() {
					return
				}
				continue
			}
			r.mu.RLock()
			cb := r.callbacks[fd]
			r.mu.RUnlock()
			if cb != nil {
				r.dispatch(fd, cb, fromEpoll(events[i].Events))
			}
		}
	}
}

func (r *Reactor) dispatch(fd int, cb Callback, ev Events) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("reactor callback panicked", "fd", fd, "panic", p)
		}
	}()
	cb(ev)
}

// Close stops the poller and releases the epoll instance. Registered
// descriptors are not closed.
func (r *Reactor) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	var one [8]byte
	binary.NativeEndian.PutUint64(one[:], 1)
	if _, err := unix.Write(r.wakefd, one[:]); err != nil {
		r.logger.Warn("reactor wake failed", "error", err)
	}
	if r.started.Load() {
		<-r.done
	}
	return errors.Join(unix.Close(r.wakefd), unix.Close(r.epfd))
}
