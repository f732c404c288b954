// Package sysinfo samples host metrics for the dashboard's page handlers:
// CPU, memory, disk, network activity, the process table, and host facts.
//
// Rate-style metrics (network byte deltas) need a baseline between calls,
// so all sampling goes through a Collector constructed once at process
// start and passed into the handlers that need it.
package sysinfo

import (
	"fmt"
	"math"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"
	gopsnet "github.com/shirou/gopsutil/v4/net"
	"github.com/shirou/gopsutil/v4/process"
	"go.uber.org/zap"

	"github.com/boardwatch/boardwatch/internal/common/logger"
)

// sampleInterval is how long CPU percentage sampling blocks.
const sampleInterval = 500 * time.Millisecond

// Usage describes consumption of a bounded resource.
type Usage struct {
	Used    uint64  `json:"used"`
	Total   uint64  `json:"total"`
	Percent float64 `json:"percent"`
}

// NetActivity is the byte delta on all interfaces since the previous call.
type NetActivity struct {
	Received uint64 `json:"received"`
	Sent     uint64 `json:"sent"`
}

// ProcessInfo is one row of the process table.
type ProcessInfo struct {
	PID    int32   `json:"pid"`
	Name   string  `json:"name"`
	CPU    float64 `json:"cpu"`
	RAM    uint64  `json:"ram"` // virtual memory, MiB
	Status string  `json:"status"`
}

// HostInfo is the management page's host summary.
type HostInfo struct {
	Hostname string `json:"hostname"`
	Uptime   uint64 `json:"uptime"`
	Arch     string `json:"arch"`
	Kernel   string `json:"kernel"`
	Version  string `json:"version"`
	Packages int    `json:"packages"`
	Upgrades int    `json:"upgrades"`
}

// Global is the unsolicited snapshot pushed once per connection.
type Global struct {
	Update string `json:"update"`
}

// Collector owns the mutable sampling state. Safe for concurrent use.
type Collector struct {
	updateFile   string
	upgradesFile string

	mu       sync.Mutex
	prevSent uint64
	prevRecv uint64

	log *logger.Logger
}

// NewCollector builds a Collector and primes the network baseline so the
// first NetActivity call reports a delta instead of absolute counters.
func NewCollector(updateFile, upgradesFile string, log *logger.Logger) *Collector {
	c := &Collector{
		updateFile:   updateFile,
		upgradesFile: upgradesFile,
		log:          log.WithComponent("sysinfo"),
	}
	if counters, err := gopsnet.IOCounters(false); err == nil && len(counters) > 0 {
		c.prevSent = counters[0].BytesSent
		c.prevRecv = counters[0].BytesRecv
	}
	return c
}

// CPU returns the total CPU utilization percentage, sampled over half a
// second, rounded to two decimals.
func (c *Collector) CPU() (float64, error) {
	percents, err := cpu.Percent(sampleInterval, false)
	if err != nil {
		return 0, fmt.Errorf("sampling cpu: %w", err)
	}
	if len(percents) == 0 {
		return 0, nil
	}
	return round2(percents[0]), nil
}

// RAM returns physical memory usage.
func (c *Collector) RAM() (Usage, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return Usage{}, fmt.Errorf("reading memory: %w", err)
	}
	return Usage{Used: vm.Used, Total: vm.Total, Percent: round2(vm.UsedPercent)}, nil
}

// Swap returns swap usage.
func (c *Collector) Swap() (Usage, error) {
	sw, err := mem.SwapMemory()
	if err != nil {
		return Usage{}, fmt.Errorf("reading swap: %w", err)
	}
	return Usage{Used: sw.Used, Total: sw.Total, Percent: round2(sw.UsedPercent)}, nil
}

// Disk returns root filesystem usage.
func (c *Collector) Disk() (Usage, error) {
	du, err := disk.Usage("/")
	if err != nil {
		return Usage{}, fmt.Errorf("reading disk usage: %w", err)
	}
	return Usage{Used: du.Used, Total: du.Total, Percent: round2(du.UsedPercent)}, nil
}

// Network returns bytes moved on all interfaces since the previous call
// and advances the baseline.
func (c *Collector) Network() (NetActivity, error) {
	counters, err := gopsnet.IOCounters(false)
	if err != nil {
		return NetActivity{}, fmt.Errorf("reading net counters: %w", err)
	}
	if len(counters) == 0 {
		return NetActivity{}, nil
	}
	sent := counters[0].BytesSent
	recv := counters[0].BytesRecv

	c.mu.Lock()
	defer c.mu.Unlock()
	activity := NetActivity{
		Received: saturatingSub(recv, c.prevRecv),
		Sent:     saturatingSub(sent, c.prevSent),
	}
	c.prevSent = sent
	c.prevRecv = recv
	return activity, nil
}

// Processes returns the process table with CPU percentages sampled over
// half a second. Processes that exit mid-sample are skipped.
func (c *Collector) Processes() ([]ProcessInfo, error) {
	procs, err := process.Processes()
	if err != nil {
		return nil, fmt.Errorf("listing processes: %w", err)
	}

	// Prime per-process CPU sampling, then measure after the interval.
	for _, p := range procs {
		_, _ = p.Percent(0)
	}
	time.Sleep(sampleInterval)

	list := make([]ProcessInfo, 0, len(procs))
	for _, p := range procs {
		name, err := p.Name()
		if err != nil {
			continue
		}
		cpuPct, err := p.Percent(0)
		if err != nil {
			continue
		}
		memInfo, err := p.MemoryInfo()
		if err != nil || memInfo == nil {
			continue
		}
		list = append(list, ProcessInfo{
			PID:    p.Pid,
			Name:   name,
			CPU:    round2(cpuPct),
			RAM:    memInfo.VMS / 1_048_576,
			Status: processStatus(p),
		})
	}
	return list, nil
}

// processStatus normalizes gopsutil status strings for the dashboard.
// Sleeping processes are reported as running, matching how interactive
// daemons appear to users.
func processStatus(p *process.Process) string {
	statuses, err := p.Status()
	if err != nil || len(statuses) == 0 {
		return ""
	}
	switch statuses[0] {
	case process.Sleep, process.Running:
		return "running"
	case process.Idle:
		return "idle"
	case process.Stop:
		return "stopped"
	case process.Zombie:
		return "zombie"
	default:
		return statuses[0]
	}
}

// Signal actions understood by SignalProcess.
const (
	SignalKill      = "kill"
	SignalTerminate = "terminate"
	SignalSuspend   = "suspend"
	SignalResume    = "resume"
)

// SignalProcess delivers a lifecycle signal to the given pid.
func (c *Collector) SignalProcess(pid int32, action string) error {
	p, err := process.NewProcess(pid)
	if err != nil {
		return fmt.Errorf("process %d: %w", pid, err)
	}
	switch action {
	case SignalKill:
		err = p.Kill()
	case SignalTerminate:
		err = p.Terminate()
	case SignalSuspend:
		err = p.Suspend()
	case SignalResume:
		err = p.Resume()
	default:
		return fmt.Errorf("unsupported process action %q", action)
	}
	if err != nil {
		return fmt.Errorf("%s pid %d: %w", action, pid, err)
	}
	return nil
}

// Host returns the management page summary. Package counts fall back to
// zero when dpkg is unavailable.
func (c *Collector) Host() (HostInfo, error) {
	info, err := host.Info()
	if err != nil {
		return HostInfo{}, fmt.Errorf("reading host info: %w", err)
	}

	packages := 0
	if out, err := exec.Command("dpkg", "--get-selections").Output(); err == nil {
		packages = strings.Count(string(out), "\n")
	}

	upgrades := 0
	if raw, err := os.ReadFile(c.upgradesFile); err == nil {
		if n, err := strconv.Atoi(strings.TrimRight(string(raw), "\n")); err == nil {
			upgrades = n
		}
	}

	return HostInfo{
		Hostname: info.Hostname,
		Uptime:   info.Uptime,
		Arch:     info.KernelArch,
		Kernel:   info.KernelVersion,
		Version:  strings.TrimSpace(info.Platform + " " + info.PlatformVersion),
		Packages: packages,
		Upgrades: upgrades,
	}, nil
}

// Global reads the update-available notice. A missing file means no
// pending update.
func (c *Collector) Global() Global {
	raw, err := os.ReadFile(c.updateFile)
	if err != nil {
		if !os.IsNotExist(err) {
			c.log.Debug("update file unreadable", zap.String("path", c.updateFile), zap.Error(err))
		}
		return Global{}
	}
	return Global{Update: strings.TrimSpace(string(raw))}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func saturatingSub(a, b uint64) uint64 {
	if a < b {
		return 0
	}
	return a - b
}
