// Package software lists and manages the host's software catalog.
//
// The catalog is an external command (configurable) whose `list` output is
// one record per line: `ID <n> | =<0|1> | <name>: <description> | <deps> |
// <docs>`. Output may carry ANSI color escapes, which are stripped before
// parsing.
package software

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/boardwatch/boardwatch/internal/common/logger"
)

// Entry is one catalog record. Disabled records keep their position in the
// list as placeholders with ID -1 so catalog indexes stay stable.
type Entry struct {
	ID           int    `json:"id"`
	Installed    bool   `json:"installed"`
	Name         string `json:"name"`
	Description  string `json:"description"`
	Dependencies string `json:"dependencies"`
	Docs         string `json:"docs"`
}

type runCommand func(ctx context.Context, name string, args ...string) ([]byte, error)

func execCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// Provider shells out to the configured catalog command.
type Provider struct {
	command string
	run     runCommand
	log     *logger.Logger
}

// NewProvider creates a Provider. An empty command means no catalog is
// available on this host; List and the mutating calls then return errors.
func NewProvider(command string, log *logger.Logger) *Provider {
	return &Provider{
		command: command,
		run:     execCommand,
		log:     log.WithComponent("software"),
	}
}

// Available reports whether a catalog command is configured.
func (p *Provider) Available() bool {
	return p.command != ""
}

// List returns the parsed catalog.
func (p *Provider) List(ctx context.Context) ([]Entry, error) {
	if !p.Available() {
		return nil, fmt.Errorf("no catalog command configured")
	}
	out, err := p.run(ctx, p.command, "list")
	if err != nil {
		return nil, fmt.Errorf("listing catalog: %w", err)
	}
	return parseCatalog(out), nil
}

// Install installs the catalog entries with the given IDs.
func (p *Provider) Install(ctx context.Context, ids []string) error {
	return p.apply(ctx, "install", ids)
}

// Uninstall removes the catalog entries with the given IDs.
func (p *Provider) Uninstall(ctx context.Context, ids []string) error {
	return p.apply(ctx, "uninstall", ids)
}

func (p *Provider) apply(ctx context.Context, verb string, ids []string) error {
	if !p.Available() {
		return fmt.Errorf("no catalog command configured")
	}
	if len(ids) == 0 {
		return fmt.Errorf("%s: no ids given", verb)
	}
	for _, id := range ids {
		if _, err := strconv.Atoi(id); err != nil {
			return fmt.Errorf("%s: bad id %q", verb, id)
		}
	}
	args := append([]string{verb}, ids...)
	if _, err := p.run(ctx, p.command, args...); err != nil {
		return fmt.Errorf("%s %v: %w", verb, ids, err)
	}
	p.log.Info("catalog updated", zap.String("verb", verb), zap.Strings("ids", ids))
	return nil
}

var ansiEscapes = regexp.MustCompile(`\x1b\[[0-9;]*m`)

// parseCatalog parses `list` output. Lines that do not look like records
// are skipped; a DISABLED marker yields a placeholder entry.
func parseCatalog(out []byte) []Entry {
	clean := ansiEscapes.ReplaceAllString(string(out), "")
	var entries []Entry
	for _, line := range strings.Split(clean, "\n") {
		fields := strings.Split(line, "|")
		if len(fields) < 3 {
			continue
		}

		idStr := strings.TrimPrefix(strings.TrimSpace(fields[0]), "ID ")
		id, err := strconv.Atoi(idStr)
		if err != nil {
			continue
		}

		installedStr := strings.TrimPrefix(strings.TrimSpace(fields[1]), "=")
		installedNum, err := strconv.Atoi(installedStr)
		if err != nil {
			continue
		}

		name, desc, _ := strings.Cut(strings.TrimSpace(fields[2]), ":")

		entry := Entry{
			ID:          id,
			Installed:   installedNum > 0,
			Name:        strings.TrimSpace(name),
			Description: strings.TrimSpace(desc),
		}
		if len(fields) > 3 {
			if strings.Contains(fields[3], "DISABLED") {
				entries = append(entries, Entry{ID: -1})
				continue
			}
			entry.Dependencies = strings.TrimSpace(fields[3])
		}
		if len(fields) > 4 {
			entry.Docs = strings.TrimSpace(fields[4])
		}
		entries = append(entries, entry)
	}
	return entries
}
