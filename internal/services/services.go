// Package services lists and controls systemd units for the service page.
package services

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"go.uber.org/zap"

	"github.com/boardwatch/boardwatch/internal/common/logger"
)

// Service is one unit as shown on the service page.
type Service struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Log    string `json:"log"`
	Start  string `json:"start"`
}

// Actions accepted by Control.
const (
	ActionStart   = "start"
	ActionStop    = "stop"
	ActionRestart = "restart"
)

// runCommand abstracts exec for tests.
type runCommand func(ctx context.Context, name string, args ...string) ([]byte, error)

func execCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// Provider shells out to systemctl.
type Provider struct {
	systemctl string
	run       runCommand
	log       *logger.Logger
}

// NewProvider creates a Provider using the given systemctl binary.
func NewProvider(systemctl string, log *logger.Logger) *Provider {
	return &Provider{
		systemctl: systemctl,
		run:       execCommand,
		log:       log.WithComponent("services"),
	}
}

// List returns all service units. Failed units additionally carry their
// recent journal output; units that disappear mid-listing are skipped.
func (p *Provider) List(ctx context.Context) ([]Service, error) {
	out, err := p.run(ctx, p.systemctl,
		"list-units", "--type=service", "--all", "--no-legend", "--no-pager", "--plain")
	if err != nil {
		return nil, fmt.Errorf("listing units: %w", err)
	}

	services := parseListUnits(out)
	for i := range services {
		if services[i].Status == "failed" {
			services[i].Log = p.unitLog(ctx, services[i].Name)
		} else if services[i].Status == "running" {
			services[i].Start = p.activeSince(ctx, services[i].Name)
		}
	}
	return services, nil
}

// Control starts, stops, or restarts the named unit.
func (p *Provider) Control(ctx context.Context, action, name string) error {
	switch action {
	case ActionStart, ActionStop, ActionRestart:
	default:
		return fmt.Errorf("unsupported service action %q", action)
	}
	if name == "" {
		return fmt.Errorf("service name required")
	}
	if _, err := p.run(ctx, p.systemctl, action, name); err != nil {
		return fmt.Errorf("%s %s: %w", action, name, err)
	}
	p.log.Info("service action applied",
		zap.String("action", action),
		zap.String("service", name))
	return nil
}

func (p *Provider) unitLog(ctx context.Context, name string) string {
	out, err := p.run(ctx, "journalctl", "-u", name, "-n", "10", "--no-pager")
	if err != nil {
		p.log.Debug("journal unavailable", zap.String("service", name), zap.Error(err))
		return ""
	}
	var lines []string
	for _, line := range strings.Split(strings.TrimRight(string(out), "\n"), "\n") {
		lines = append(lines, line+"<br>")
	}
	return strings.Join(lines, "")
}

func (p *Provider) activeSince(ctx context.Context, name string) string {
	out, err := p.run(ctx, p.systemctl, "show", name, "-p", "ActiveEnterTimestamp", "--value")
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}

// parseListUnits parses `systemctl list-units --plain` output.
// Columns: UNIT LOAD ACTIVE SUB DESCRIPTION.
func parseListUnits(out []byte) []Service {
	var services []Service
	for _, line := range strings.Split(string(out), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 4 || !strings.HasSuffix(fields[0], ".service") {
			continue
		}
		services = append(services, Service{
			Name:   strings.TrimSuffix(fields[0], ".service"),
			Status: unitStatus(fields[2], fields[3]),
		})
	}
	return services
}

// unitStatus maps systemd's ACTIVE/SUB pair to the dashboard vocabulary.
func unitStatus(active, sub string) string {
	switch {
	case active == "failed" || sub == "failed":
		return "failed"
	case active == "active" && sub == "running":
		return "running"
	case active == "active" && sub == "exited":
		return "exited"
	case active == "inactive":
		return "dead"
	default:
		return "unknown"
	}
}
