//go:build linux

package interrupt

import "golang.org/x/sys/unix"

// sigaddset adds sig to set, mirroring the sigaddset(3) macro. On Linux,
// unix.Sigset_t is a fixed array of 64-bit words.
func sigaddset(set *unix.Sigset_t, sig unix.Signal) {
	word := (sig - 1) / 64
	bit := (sig - 1) % 64
	set.Val[word] |= 1 << uint(bit)
}
