//go:build linux

// Package ioloop provides the per-worker event multiplexer: an epoll set
// that carries both I/O readiness (blocked sandboxes waiting on a
// descriptor) and the worker's own preemption timer, unified into one
// poll per §4.4 step (a). Grounded on
// joeycumines-go-utilpkg/eventloop's epoll+eventfd poller.
package ioloop

import (
	"encoding/binary"
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// EventKind classifies a readiness notification returned by Wait.
type EventKind int

const (
	// EventIO means a registered sandbox I/O descriptor became ready.
	EventIO EventKind = iota
	// EventTimer means the worker's preemption timer fired.
	EventTimer
	// EventWake means another goroutine nudged this worker via Wake —
	// the SIGUSR1 "wake from block" analogue.
	EventWake
)

// Event is one readiness notification from Wait.
type Event struct {
	Kind EventKind
	FD   int // valid when Kind == EventIO
}

// Poller is a single worker's exclusive epoll set: its own timer fd, its
// own wake fd, and whatever sandbox I/O fds it has registered. It is never
// shared across workers.
type Poller struct {
	epfd    int
	timerFD int
	wakeFD  int
	events  [64]unix.EpollEvent
}

// New creates the epoll instance and the wake eventfd, but does not arm
// the preemption timer yet — call ArmTimer once the worker is ready to
// accept preemptions.
func New() (*Poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("ioloop: epoll_create1: %w", err)
	}

	wakeFD, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		unix.Close(epfd)
		return nil, fmt.Errorf("ioloop: eventfd: %w", err)
	}

	p := &Poller{epfd: epfd, timerFD: -1, wakeFD: wakeFD}
	if err := p.add(wakeFD, unix.EPOLLIN); err != nil {
		p.Close()
		return nil, err
	}
	return p, nil
}

// ArmTimer creates a periodic CLOCK_MONOTONIC timerfd firing every
// interval and registers it on this worker's epoll set (§4.2 "one
// interval timer per worker thread").
func (p *Poller) ArmTimer(interval time.Duration) error {
	fd, err := unix.TimerfdCreate(unix.CLOCK_MONOTONIC, unix.TFD_CLOEXEC)
	if err != nil {
		return fmt.Errorf("ioloop: timerfd_create: %w", err)
	}

	spec := unix.ItimerSpec{
		Interval: unix.NsecToTimespec(interval.Nanoseconds()),
		Value:    unix.NsecToTimespec(interval.Nanoseconds()),
	}
	if err := unix.TimerfdSettime(fd, 0, &spec, nil); err != nil {
		unix.Close(fd)
		return fmt.Errorf("ioloop: timerfd_settime: %w", err)
	}

	if err := p.add(fd, unix.EPOLLIN); err != nil {
		unix.Close(fd)
		return err
	}
	p.timerFD = fd
	return nil
}

// DisarmTimer removes and closes the timer fd, if armed.
func (p *Poller) DisarmTimer() error {
	if p.timerFD < 0 {
		return nil
	}
	_ = p.remove(p.timerFD)
	err := unix.Close(p.timerFD)
	p.timerFD = -1
	return err
}

// RegisterFD adds a sandbox I/O descriptor to this worker's epoll set,
// level-triggered readiness for read events.
func (p *Poller) RegisterFD(fd int) error {
	return p.add(fd, unix.EPOLLIN)
}

// UnregisterFD removes fd, e.g. once its sandbox has been woken.
func (p *Poller) UnregisterFD(fd int) error {
	return p.remove(fd)
}

// Wake nudges a worker parked in Wait with no other pending readiness —
// the Go-idiomatic SIGUSR1 "wake from block".
func (p *Poller) Wake() error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], 1)
	_, err := unix.Write(p.wakeFD, buf[:])
	if err != nil && err != unix.EAGAIN {
		return fmt.Errorf("ioloop: wake write: %w", err)
	}
	return nil
}

// Wait polls for readiness, blocking up to timeout (0 means return
// immediately). It drains and classifies the wake/timer fds internally.
func (p *Poller) Wait(timeout time.Duration) ([]Event, error) {
	ms := int(timeout / time.Millisecond)
	n, err := unix.EpollWait(p.epfd, p.events[:], ms)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, fmt.Errorf("ioloop: epoll_wait: %w", err)
	}

	var out []Event
	for i := 0; i < n; i++ {
		fd := int(p.events[i].Fd)
		switch fd {
		case p.timerFD:
			drainCounter(fd)
			out = append(out, Event{Kind: EventTimer})
		case p.wakeFD:
			drainCounter(fd)
			out = append(out, Event{Kind: EventWake})
		default:
			out = append(out, Event{Kind: EventIO, FD: fd})
		}
	}
	return out, nil
}

// Close releases the epoll instance, timer, and wake fds.
func (p *Poller) Close() error {
	if p.timerFD >= 0 {
		unix.Close(p.timerFD)
	}
	unix.Close(p.wakeFD)
	return unix.Close(p.epfd)
}

func (p *Poller) add(fd int, events uint32) error {
	ev := unix.EpollEvent{Events: events, Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return fmt.Errorf("ioloop: epoll_ctl add fd=%d: %w", fd, err)
	}
	return nil
}

func (p *Poller) remove(fd int) error {
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		return fmt.Errorf("ioloop: epoll_ctl del fd=%d: %w", fd, err)
	}
	return nil
}

// drainCounter reads the 8-byte counter off a timerfd/eventfd so it does
// not immediately re-trigger level-triggered epoll readiness.
func drainCounter(fd int) {
	var buf [8]byte
	_, _ = unix.Read(fd, buf[:])
}
