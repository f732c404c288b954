package session

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/boardwatch/boardwatch/internal/common/logger"
	"github.com/boardwatch/boardwatch/internal/services"
	"github.com/boardwatch/boardwatch/internal/software"
	"github.com/boardwatch/boardwatch/internal/sysinfo"
	"github.com/boardwatch/boardwatch/pkg/protocol"
)

// PowerFunc executes a host power action ("shutdown" or "reboot").
type PowerFunc func(ctx context.Context, action string) error

// Pages builds the page handlers the router dispatches to. All state the
// handlers touch lives in the injected providers, so handlers themselves
// are restartable: every page switch gets a fresh Run.
type Pages struct {
	collector *sysinfo.Collector
	services  *services.Provider
	software  *software.Provider
	power     PowerFunc
	interval  time.Duration
	log       *logger.Logger
}

// NewPages wires the providers into a handler set. interval is the
// refresh period of the snapshot-pushing pages.
func NewPages(collector *sysinfo.Collector, svc *services.Provider, sw *software.Provider, power PowerFunc, interval time.Duration, log *logger.Logger) *Pages {
	return &Pages{
		collector: collector,
		services:  svc,
		software:  sw,
		power:     power,
		interval:  interval,
		log:       log.WithComponent("pages"),
	}
}

// Handlers returns the router's dispatch table.
func (p *Pages) Handlers() map[Kind]Handler {
	return map[Kind]Handler{
		KindMain:       HandlerFunc(p.runMain),
		KindProcess:    HandlerFunc(p.runProcess),
		KindSoftware:   HandlerFunc(p.runSoftware),
		KindManagement: HandlerFunc(p.runManagement),
		KindService:    HandlerFunc(p.runService),
		KindBrowser:    HandlerFunc(p.runBrowser),
	}
}

type monitorSnapshot struct {
	CPU     float64             `json:"cpu"`
	RAM     sysinfo.Usage       `json:"ram"`
	Swap    sysinfo.Usage       `json:"swap"`
	Disk    sysinfo.Usage       `json:"disk"`
	Network sysinfo.NetActivity `json:"network"`
}

// runMain pushes a system metrics snapshot every interval until cancelled.
func (p *Pages) runMain(ctx context.Context, out *Sink, cmds <-chan protocol.Request) {
	for {
		snap := monitorSnapshot{}
		var err error
		if snap.CPU, err = p.collector.CPU(); err != nil {
			p.log.Warn("cpu sample failed", zap.Error(err))
		}
		if snap.RAM, err = p.collector.RAM(); err != nil {
			p.log.Warn("memory sample failed", zap.Error(err))
		}
		if snap.Swap, err = p.collector.Swap(); err != nil {
			p.log.Warn("swap sample failed", zap.Error(err))
		}
		if snap.Disk, err = p.collector.Disk(); err != nil {
			p.log.Warn("disk sample failed", zap.Error(err))
		}
		if snap.Network, err = p.collector.Network(); err != nil {
			p.log.Warn("network sample failed", zap.Error(err))
		}
		if out.WriteJSON(snap) != nil {
			return
		}
		if !p.waitOrDrain(ctx, cmds, nil) {
			return
		}
	}
}

type processList struct {
	Processes []sysinfo.ProcessInfo `json:"processes"`
}

// runProcess pushes the process table every interval and applies signal
// commands (kill, terminate, suspend, resume) between pushes.
func (p *Pages) runProcess(ctx context.Context, out *Sink, cmds <-chan protocol.Request) {
	for {
		procs, err := p.collector.Processes()
		if err != nil {
			p.log.Warn("process listing failed", zap.Error(err))
		}
		if out.WriteJSON(processList{Processes: procs}) != nil {
			return
		}
		if !p.waitOrDrain(ctx, cmds, p.applyProcessCmd) {
			return
		}
	}
}

func (p *Pages) applyProcessCmd(ctx context.Context, req protocol.Request) {
	if len(req.Args) == 0 {
		p.log.Warn("process command without pid", zap.String("cmd", req.Cmd))
		return
	}
	pid, err := strconv.ParseInt(req.Args[0], 10, 32)
	if err != nil {
		p.log.Warn("process command with bad pid",
			zap.String("cmd", req.Cmd), zap.String("pid", req.Args[0]))
		return
	}
	if err := p.collector.SignalProcess(int32(pid), req.Cmd); err != nil {
		p.log.Warn("process signal failed", zap.Error(err))
	}
}

type softwareList struct {
	Software []software.Entry `json:"software"`
	Response string           `json:"response"`
}

// runSoftware pushes the install catalog, then re-pushes it after each
// install or uninstall command. The page is idle when no catalog tool is
// present on the host.
func (p *Pages) runSoftware(ctx context.Context, out *Sink, cmds <-chan protocol.Request) {
	push := func(response string) bool {
		list := softwareList{Software: []software.Entry{}, Response: response}
		if p.software.Available() {
			entries, err := p.software.List(ctx)
			if err != nil {
				p.log.Warn("software catalog listing failed", zap.Error(err))
			}
			if entries != nil {
				list.Software = entries
			}
		}
		return out.WriteJSON(list) == nil
	}
	if !push("") {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-cmds:
			var err error
			switch req.Cmd {
			case "install":
				err = p.software.Install(ctx, req.Args)
			case "uninstall":
				err = p.software.Uninstall(ctx, req.Args)
			default:
				p.log.Warn("unknown software command", zap.String("cmd", req.Cmd))
				continue
			}
			response := "done"
			if err != nil {
				p.log.Warn("software command failed", zap.String("cmd", req.Cmd), zap.Error(err))
				response = err.Error()
			}
			if !push(response) {
				return
			}
		}
	}
}

// runManagement pushes host facts once and then waits for power commands.
func (p *Pages) runManagement(ctx context.Context, out *Sink, cmds <-chan protocol.Request) {
	info, err := p.collector.Host()
	if err != nil {
		p.log.Warn("host info collection failed", zap.Error(err))
	}
	if out.WriteJSON(info) != nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-cmds:
			switch req.Cmd {
			case "shutdown", "reboot":
				if err := p.power(ctx, req.Cmd); err != nil {
					p.log.Error("power action failed", zap.String("action", req.Cmd), zap.Error(err))
				}
			default:
				p.log.Warn("unknown management command", zap.String("cmd", req.Cmd))
			}
		}
	}
}

type serviceList struct {
	Services []services.Service `json:"services"`
}

// runService pushes the unit table, re-pushing after each control command.
func (p *Pages) runService(ctx context.Context, out *Sink, cmds <-chan protocol.Request) {
	push := func() bool {
		units, err := p.services.List(ctx)
		if err != nil {
			p.log.Warn("service listing failed", zap.Error(err))
		}
		if units == nil {
			units = []services.Service{}
		}
		return out.WriteJSON(serviceList{Services: units}) == nil
	}
	if !push() {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-cmds:
			if len(req.Args) == 0 {
				p.log.Warn("service command without unit", zap.String("cmd", req.Cmd))
				continue
			}
			if err := p.services.Control(ctx, req.Cmd, req.Args[0]); err != nil {
				p.log.Warn("service control failed",
					zap.String("cmd", req.Cmd), zap.String("unit", req.Args[0]), zap.Error(err))
			}
			if !push() {
				return
			}
		}
	}
}

type fileEntry struct {
	Name string `json:"name"`
	Path string `json:"path"`
	Type string `json:"type"` // "dir" or "file"
	Size int64  `json:"size"`
}

type dirListing struct {
	Contents []fileEntry `json:"contents"`
	Path     string      `json:"path"`
}

// runBrowser serves the file manager page. It holds the current directory
// as handler state; every command that changes the tree re-lists it.
func (p *Pages) runBrowser(ctx context.Context, out *Sink, cmds <-chan protocol.Request) {
	dir := "/"
	push := func() bool {
		entries, err := listDir(dir)
		if err != nil {
			p.log.Warn("directory listing failed", zap.String("path", dir), zap.Error(err))
			entries = []fileEntry{}
		}
		return out.WriteJSON(dirListing{Contents: entries, Path: dir}) == nil
	}
	if !push() {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-cmds:
			if err := p.applyBrowserCmd(req, &dir); err != nil {
				p.log.Warn("file manager command failed",
					zap.String("cmd", req.Cmd), zap.Error(err))
			}
			if !push() {
				return
			}
		}
	}
}

func (p *Pages) applyBrowserCmd(req protocol.Request, dir *string) error {
	if len(req.Args) == 0 {
		return os.ErrInvalid
	}
	target := req.Args[0]
	switch req.Cmd {
	case "cd":
		info, err := os.Stat(target)
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return os.ErrInvalid
		}
		*dir = filepath.Clean(target)
		return nil
	case "copy":
		return copyFile(target, target+" (copy)")
	case "rm":
		return os.RemoveAll(target)
	case "rename":
		if len(req.Args) < 2 {
			return os.ErrInvalid
		}
		return os.Rename(target, req.Args[1])
	case "mkdir":
		return os.Mkdir(target, 0o755)
	case "mkfile":
		f, err := os.OpenFile(target, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err != nil {
			return err
		}
		return f.Close()
	default:
		p.log.Warn("unknown file manager command", zap.String("cmd", req.Cmd))
		return nil
	}
}

// listDir returns the directory's entries sorted directories-first.
func listDir(dir string) ([]fileEntry, error) {
	dirents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	entries := make([]fileEntry, 0, len(dirents))
	for _, d := range dirents {
		e := fileEntry{
			Name: d.Name(),
			Path: filepath.Join(dir, d.Name()),
			Type: "file",
		}
		if d.IsDir() {
			e.Type = "dir"
		} else if info, err := d.Info(); err == nil {
			e.Size = info.Size()
		}
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Type != entries[j].Type {
			return entries[i].Type == "dir"
		}
		return entries[i].Name < entries[j].Name
	})
	return entries, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	info, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// waitOrDrain sleeps one refresh interval, applying any commands that
// arrive in the meantime. It returns false once ctx is cancelled.
func (p *Pages) waitOrDrain(ctx context.Context, cmds <-chan protocol.Request, apply func(context.Context, protocol.Request)) bool {
	t := time.NewTimer(p.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-t.C:
			return true
		case req := <-cmds:
			if apply == nil {
				p.log.Debug("dropping command", zap.String("cmd", req.Cmd))
				continue
			}
			apply(ctx, req)
		}
	}
}
