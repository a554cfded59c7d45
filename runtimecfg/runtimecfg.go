// Package runtimecfg detects host topology and raises resource limits at
// startup, and holds the runtime-wide configuration consumed by cmd/sandboxrt.
package runtimecfg

import (
	"bufio"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/go-foundations/sandboxrt/admission"
	"golang.org/x/sys/unix"
)

// SoftwareInterruptIntervalUsec is the worker preemption timer's period,
// matching the original's SOFTWARE_INTERRUPT_INTERVAL_DURATION_IN_USEC.
const SoftwareInterruptIntervalUsec = 5000

// SoftwareInterruptInterval is SoftwareInterruptIntervalUsec as a
// time.Duration, the value actually armed on each worker's timerfd.
const SoftwareInterruptInterval = SoftwareInterruptIntervalUsec * time.Microsecond

// Topology describes the host's usable parallelism.
type Topology struct {
	// OnlineCores is the number of logical CPUs available to this process.
	OnlineCores int
	// ListenerCore is the core the listener is pinned to.
	ListenerCore int
	// WorkerCores are the remaining cores, one per worker, in pin order.
	WorkerCores []int
}

// DetectTopology mirrors runtime_allocate_available_cores: it requires at
// least two online cores (one for the listener, at least one for a
// worker) and fails loudly otherwise, matching the original's abort.
func DetectTopology() (Topology, error) {
	n := runtime.NumCPU()
	if n < 2 {
		return Topology{}, fmt.Errorf("runtimecfg: need at least 2 online cores, found %d", n)
	}

	workers := make([]int, 0, n-1)
	for c := 1; c < n; c++ {
		workers = append(workers, c)
	}
	return Topology{OnlineCores: n, ListenerCore: 0, WorkerCores: workers}, nil
}

// WorkerCount returns the number of workers this topology supports, capped
// at configuredMax if configuredMax is positive.
func (t Topology) WorkerCount(configuredMax int) int {
	n := len(t.WorkerCores)
	if configuredMax > 0 && configuredMax < n {
		return configuredMax
	}
	return n
}

// DetectProcessorMHz parses /proc/cpuinfo for the first core's nominal
// clock speed, matching runtime_get_processor_speed_MHz. The result is
// used only for the observability-oriented CyclesPerInterval conversion —
// never for timing correctness, which always uses the OS timer.
func DetectProcessorMHz() (float64, error) {
	f, err := os.Open("/proc/cpuinfo")
	if err != nil {
		return 0, fmt.Errorf("runtimecfg: open /proc/cpuinfo: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "cpu MHz") {
			continue
		}
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			continue
		}
		mhz, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
		if err != nil {
			return 0, fmt.Errorf("runtimecfg: parse cpu MHz: %w", err)
		}
		return mhz, nil
	}
	if err := sc.Err(); err != nil {
		return 0, fmt.Errorf("runtimecfg: scan /proc/cpuinfo: %w", err)
	}
	return 0, fmt.Errorf("runtimecfg: no \"cpu MHz\" line found in /proc/cpuinfo")
}

// CyclesPerInterval converts SoftwareInterruptInterval to a cycle count at
// mhz, purely for observability (§4.2): the actual timer firing is
// wall-clock, not cycle-counted.
func CyclesPerInterval(mhz float64) uint64 {
	return uint64(mhz * 1000 * 1000 * SoftwareInterruptInterval.Seconds())
}

// RaiseResourceLimits raises RLIMIT_DATA and RLIMIT_NOFILE soft limits to
// their hard limits, matching runtime_set_resource_limits_to_max.
func RaiseResourceLimits() error {
	for _, res := range []int{unix.RLIMIT_DATA, unix.RLIMIT_NOFILE} {
		var rlim unix.Rlimit
		if err := unix.Getrlimit(res, &rlim); err != nil {
			return fmt.Errorf("runtimecfg: getrlimit(%d): %w", res, err)
		}
		rlim.Cur = rlim.Max
		if err := unix.Setrlimit(res, &rlim); err != nil {
			return fmt.Errorf("runtimecfg: setrlimit(%d): %w", res, err)
		}
	}
	return nil
}

// RuntimeConfig holds the knobs cmd/sandboxrt assembles from flags and
// environment variables before starting the listener and workers.
type RuntimeConfig struct {
	ModuleSpecPath    string
	MaxWorkers        int // CLI --workers; 0 means "use every available core"
	AdmissionCapacity int // 0 means unbounded
	SchedulerPolicy   admission.Policy
	LogLevel          string
}

// DefaultRuntimeConfig returns sensible defaults, mirroring the teacher's
// DefaultConfig pattern.
func DefaultRuntimeConfig() RuntimeConfig {
	return RuntimeConfig{
		MaxWorkers:        0,
		AdmissionCapacity: 0,
		SchedulerPolicy:   admission.FIFO,
		LogLevel:          "info",
	}
}

// workerCount resolves how many workers to start given the detected
// topology, applying the configured cap.
func (c RuntimeConfig) workerCount(topo Topology) int {
	return topo.WorkerCount(c.MaxWorkers)
}

// WorkerCount is the exported form of workerCount, for cmd/sandboxrt.
func (c RuntimeConfig) WorkerCount(topo Topology) int {
	return c.workerCount(topo)
}

// admissionCapacity resolves the admission queue's bound.
func (c RuntimeConfig) admissionCapacity() int {
	if c.AdmissionCapacity < 0 {
		return 0
	}
	return c.AdmissionCapacity
}

// AdmissionCapacityOrUnbounded is the exported form of admissionCapacity.
func (c RuntimeConfig) AdmissionCapacityOrUnbounded() int {
	return c.admissionCapacity()
}

// WithSchedulerEnv resolves the SLEDGE_SCHEDULER environment variable
// into c.SchedulerPolicy, per §6's FATAL_STARTUP contract: an invalid
// value is returned as an error rather than silently defaulted.
func (c RuntimeConfig) WithSchedulerEnv(value string) (RuntimeConfig, error) {
	policy, err := admission.ParsePolicy(value)
	if err != nil {
		return c, err
	}
	c.SchedulerPolicy = policy
	return c, nil
}

// PinCurrentThread restricts the calling OS thread's affinity to exactly
// core. It does not lock the goroutine to that thread; the caller must
// have already called runtime.LockOSThread.
func PinCurrentThread(core int) error {
	var set unix.CPUSet
	set.Zero()
	set.Set(core)
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		return fmt.Errorf("runtimecfg: sched_setaffinity core=%d: %w", core, err)
	}
	return nil
}
