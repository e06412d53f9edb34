package process

import (
	"time"
)

// startTimeSlack absorbs the gap between the recorded spawn instant and the
// kernel's start time, which has one second resolution.
const startTimeSlack = 2

// SameProcess reports whether pid is alive and was started at startedAt, so a
// recycled pid is never mistaken for a bot from a previous run.
func SameProcess(pid int, startedAt time.Time) bool {
	if pid <= 0 || startedAt.IsZero() || !pidAlive(pid) {
		return false
	}
	st := StartTimeUnix(pid)
	if st == 0 {
		return false
	}
	d := st - startedAt.Unix()
	return d >= -startTimeSlack && d <= startTimeSlack
}

// ReapOrphan stops a child left behind by a previous supervisor run. It
// signals only when SameProcess confirms the identity, sends SIGTERM to the
// group, then SIGKILL after timeout. It reports whether a process was
// signalled.
func ReapOrphan(pid int, startedAt time.Time, timeout time.Duration) bool {
	if !SameProcess(pid, startedAt) {
		return false
	}
	_ = terminateGroup(pid)
	if waitGone(pid, timeout) {
		return true
	}
	_ = killGroup(pid)
	waitGone(pid, defaultKillWait)
	return true
}

func waitGone(pid int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if !pidAlive(pid) {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(50 * time.Millisecond)
	}
}
