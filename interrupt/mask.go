//go:build linux

package interrupt

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// toUnixSignal maps our Signal enum onto the real OS signals the spec
// names (SIGALRM / SIGUSR1). Only these two are ever accepted by
// Mask/Unmask, matching the assert() guard in the original controller.
func toUnixSignal(sig Signal) (unix.Signal, error) {
	switch sig {
	case SignalAlarm:
		return unix.SIGALRM, nil
	case SignalWake:
		return unix.SIGUSR1, nil
	default:
		return 0, fmt.Errorf("interrupt: signal %d is not maskable, must be SignalAlarm or SignalWake", sig)
	}
}

// Mask blocks sig on the calling OS thread. Workers must call this from
// the OS thread they are pinned to (via runtime.LockOSThread) during
// non-preemptible setup. A mask failure is a FATAL_INVARIANT per §4.7 and
// halts the process.
func Mask(sig Signal) {
	unixSig, err := toUnixSignal(sig)
	if err != nil {
		panic(err)
	}

	var set unix.Sigset_t
	sigaddset(&set, unixSig)
	if err := unix.PthreadSigmask(unix.SIG_BLOCK, &set, nil); err != nil {
		panic(fmt.Errorf("interrupt: pthread_sigmask block failed: %w", err))
	}
}

// Unmask unblocks sig on the calling OS thread, called once a worker has
// entered its main loop and is ready to take preemptions.
func Unmask(sig Signal) {
	unixSig, err := toUnixSignal(sig)
	if err != nil {
		panic(err)
	}

	var set unix.Sigset_t
	sigaddset(&set, unixSig)
	if err := unix.PthreadSigmask(unix.SIG_UNBLOCK, &set, nil); err != nil {
		panic(fmt.Errorf("interrupt: pthread_sigmask unblock failed: %w", err))
	}
}
