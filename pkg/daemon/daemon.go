package daemon

import (
	"context"
	"log/slog"

	"github.com/spectra-assist/spectra/pkg/config"
	"github.com/spectra-assist/spectra/pkg/llm"
)

// Daemon is the assembled desktop process.
type Daemon struct {
	manager *Manager
	link    *Link
}

// New wires a Daemon from config.
func New(cfg *config.DaemonConfig) *Daemon {
	observer := llm.NewObserver(cfg.GeminiAPIKey)
	manager := NewManager(cfg.CLIBinary, cfg.Capacity, observer)
	link := NewLink(cfg.ServerURL, cfg.Token, cfg.HeartbeatPeriod, manager)
	manager.SetSink(link)
	return &Daemon{manager: manager, link: link}
}

// Run serves until ctx is cancelled.
func (d *Daemon) Run(ctx context.Context) error {
	slog.Info("Daemon starting",
		"capacity", d.manager.Capacity())
	err := d.link.Run(ctx)
	if err == context.Canceled {
		return nil
	}
	return err
}
