//go:build !windows

package process

import (
	"bufio"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"

	gopsproc "github.com/shirou/gopsutil/v4/process"
	sysconf "github.com/tklauser/go-sysconf"
)

var (
	bootOnce sync.Once
	bootTime int64
	clkTck   int64
)

// StartTimeUnix returns the start time of pid as Unix seconds, or 0 when the
// process does not exist or the platform cannot tell.
func StartTimeUnix(pid int) int64 {
	if pid <= 0 {
		return 0
	}
	if runtime.GOOS != "linux" {
		p, err := gopsproc.NewProcess(int32(pid))
		if err != nil {
			return 0
		}
		ms, err := p.CreateTime()
		if err != nil || ms <= 0 {
			return 0
		}
		return ms / 1000
	}
	st, ok := readProcStat(pid)
	if !ok || st.startTicks <= 0 {
		return 0
	}
	bootOnce.Do(loadBootClock)
	if bootTime == 0 {
		return 0
	}
	return bootTime + st.startTicks/clkTck
}

// isZombie reports whether pid has exited but was not reaped yet.
func isZombie(pid int) bool {
	if runtime.GOOS != "linux" {
		return false
	}
	st, ok := readProcStat(pid)
	return ok && st.state == "Z"
}

type procStat struct {
	state      string
	startTicks int64
}

// readProcStat parses /proc/<pid>/stat. The comm field may contain spaces,
// so fields are counted from the last ") ".
func readProcStat(pid int) (procStat, bool) {
	b, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/stat")
	if err != nil {
		return procStat{}, false
	}
	line := string(b)
	end := strings.LastIndex(line, ") ")
	if end == -1 {
		return procStat{}, false
	}
	fields := strings.Fields(line[end+2:])
	// fields[0] is field 3 (state), starttime is field 22
	if len(fields) < 20 {
		return procStat{}, false
	}
	ticks, err := strconv.ParseInt(fields[19], 10, 64)
	if err != nil {
		return procStat{}, false
	}
	return procStat{state: fields[0], startTicks: ticks}, true
}

func loadBootClock() {
	clk, err := sysconf.Sysconf(sysconf.SC_CLK_TCK)
	if err != nil || clk <= 0 {
		clk = 100
	}
	clkTck = clk

	f, err := os.Open("/proc/stat")
	if err != nil {
		return
	}
	defer func() { _ = f.Close() }()
	s := bufio.NewScanner(f)
	for s.Scan() {
		if v, ok := strings.CutPrefix(s.Text(), "btime "); ok {
			if bt, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
				bootTime = bt
			}
			return
		}
	}
}
