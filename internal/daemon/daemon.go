// Package daemon implements the `fwip start` lifecycle: it attaches every
// configured node to a simulated bus, runs a link on each, drives their
// watchdog from a ticker and serves metrics until shut down.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"firestige.xyz/fwip/internal/bus"
	"firestige.xyz/fwip/internal/config"
	"firestige.xyz/fwip/internal/core"
	"firestige.xyz/fwip/internal/link"
	"firestige.xyz/fwip/internal/log"
	"firestige.xyz/fwip/internal/metrics"
	"firestige.xyz/fwip/internal/tap"
)

// node is one simulated bus node and the link running on it.
type node struct {
	cfg   config.NodeConfig
	sim   *bus.SimNode
	link  *link.Link
	stack *stack
}

// Daemon manages the fwip process lifecycle.
type Daemon struct {
	// Configuration
	config     *config.GlobalConfig
	configPath string
	pidFile    string

	// Core components
	bus           *bus.SimBus
	nodes         []*node
	tap           *tap.Writer     // nil if capture disabled
	metricsServer *metrics.Server // nil if metrics disabled

	// Lifecycle management
	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	shutdownChan chan struct{}
	sigChan      chan os.Signal
	stopOnce     sync.Once
}

// New creates a daemon for an already loaded configuration. configPath is
// re-read on reload and may be empty.
func New(cfg *config.GlobalConfig, configPath, pidFile string) *Daemon {
	d := &Daemon{
		config:       cfg,
		configPath:   configPath,
		pidFile:      pidFile,
		bus:          bus.NewSimBus(),
		shutdownChan: make(chan struct{}, 1),
	}
	d.ctx, d.cancel = context.WithCancel(context.Background())
	return d
}

// Start initializes and starts all daemon components.
func (d *Daemon) Start() error {
	// 1. Initialize logging system
	if err := log.Init(d.config.Log); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	log.GetLogger().WithFields(map[string]interface{}{
		"config": d.configPath,
		"nodes":  len(d.config.Simulation.Nodes),
		"tick":   d.config.Watchdog.Tick.String(),
	}).Info("starting fwip")

	// 2. Write PID file
	if err := d.writePIDFile(); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}

	// 3. Start metrics server
	if err := d.startMetrics(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	// 4. Open the capture file
	if d.config.Tap.Enabled {
		w, err := tap.Open(d.config.Tap)
		if err != nil {
			return fmt.Errorf("failed to open tap: %w", err)
		}
		d.tap = w
	}

	// 5. Attach nodes and create their links
	for _, nc := range d.config.Simulation.Nodes {
		if err := d.attach(nc); err != nil {
			return err
		}
	}

	// 6. First bus reset assigns node IDs, then the bus starts delivering
	d.bus.Reset()
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.bus.Run(d.ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.GetLogger().WithError(err).Error("bus stopped")
		}
	}()

	// 7. Bring the links up and join their groups
	for _, n := range d.nodes {
		if err := n.link.Start(); err != nil {
			return fmt.Errorf("failed to start link %s: %w", n.cfg.Name, err)
		}
		for _, g := range n.cfg.Groups {
			if err := n.link.JoinMulticast(g); err != nil {
				return fmt.Errorf("link %s failed to join %s: %w", n.cfg.Name, g, err)
			}
		}
	}

	// 8. Watchdog and traffic loops
	d.wg.Add(1)
	go d.every(d.config.Watchdog.Tick, d.Tick)
	if iv := d.config.Simulation.TrafficInterval; iv > 0 {
		var seq uint32
		d.wg.Add(1)
		go d.every(iv, func() {
			seq++
			d.sendTraffic(seq)
		})
	}

	log.GetLogger().Info("fwip started")
	return nil
}

func (d *Daemon) attach(nc config.NodeConfig) error {
	sim := d.bus.Attach(bus.NodeInfo{
		Name:   nc.Name,
		EUI64:  nc.EUI64,
		MaxRec: nc.MaxRec,
		Speed:  nc.Speed,
	})
	st := newStack(nc.Name)
	opts := link.Options{
		Name:      nc.Name,
		EUI64:     nc.EUI64,
		MaxRec:    nc.MaxRec,
		Speed:     nc.Speed,
		Address:   nc.IPv4,
		Config:    d.config.Link,
		Transport: sim,
		Upper:     st,
	}
	if d.tap != nil {
		opts.Tap = d.tap
	}
	l, err := link.New(opts)
	if err != nil {
		return fmt.Errorf("failed to create link %s: %w", nc.Name, err)
	}
	sim.Bind(l)
	d.nodes = append(d.nodes, &node{cfg: nc, sim: sim, link: l, stack: st})
	return nil
}

// every runs fn on a ticker until the daemon stops.
func (d *Daemon) every(interval time.Duration, fn func()) {
	defer d.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			fn()
		case <-d.ctx.Done():
			return
		}
	}
}

// Tick runs one watchdog step on every link.
func (d *Daemon) Tick() {
	for _, n := range d.nodes {
		if err := n.link.Tick(); err != nil && !errors.Is(err, core.ErrLinkClosed) {
			log.GetLogger().WithError(err).WithField("link", n.cfg.Name).Warn("watchdog tick failed")
		}
	}
}

// Stop performs graceful shutdown of all daemon components. It is safe to
// call more than once.
func (d *Daemon) Stop() {
	d.stopOnce.Do(d.stop)
}

func (d *Daemon) stop() {
	logger := log.GetLogger()
	logger.Info("initiating graceful shutdown")

	// 1. Stop the bus and the loops
	d.cancel()
	d.wg.Wait()

	// 2. Close links, releasing their channels
	for _, n := range d.nodes {
		if err := n.link.Close(); err != nil {
			logger.WithError(err).WithField("link", n.cfg.Name).Error("error closing link")
		}
	}

	// 3. Close the capture file
	if d.tap != nil {
		if err := d.tap.Close(); err != nil {
			logger.WithError(err).Error("error closing tap")
		}
		if n := d.tap.Dropped(); n > 0 {
			logger.WithField("dropped", n).Warn("tap could not write every datagram")
		}
	}

	// 4. Stop metrics server
	if d.metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := d.metricsServer.Stop(shutdownCtx); err != nil {
			logger.WithError(err).Error("error stopping metrics server")
		}
	}

	// 5. Unregister signal handler to prevent goroutine leak
	if d.sigChan != nil {
		signal.Stop(d.sigChan)
	}

	// 6. Remove PID file
	if err := d.removePIDFile(); err != nil {
		logger.WithError(err).Error("error removing PID file")
	}

	logger.Info("fwip stopped")
}

// Run blocks until shutdown is triggered by SIGTERM/SIGINT or Shutdown.
// SIGHUP reloads the configuration.
func (d *Daemon) Run() error {
	d.sigChan = make(chan os.Signal, 1)
	signal.Notify(d.sigChan, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)

	logger := log.GetLogger()
	for {
		select {
		case sig := <-d.sigChan:
			switch sig {
			case syscall.SIGTERM, syscall.SIGINT:
				logger.WithField("signal", sig.String()).Info("received shutdown signal")
				d.Stop()
				return nil
			case syscall.SIGHUP:
				if err := d.Reload(); err != nil {
					logger.WithError(err).Error("failed to reload config")
				}
			}

		case <-d.shutdownChan:
			d.Stop()
			return nil

		case <-d.ctx.Done():
			d.Stop()
			return d.ctx.Err()
		}
	}
}

// Shutdown asks Run to stop.
func (d *Daemon) Shutdown() {
	select {
	case d.shutdownChan <- struct{}{}:
	default:
	}
}

// Reload re-reads the configuration file. Logging is reconfigured in place;
// every other change needs a restart and is only reported.
func (d *Daemon) Reload() error {
	if d.configPath == "" {
		return errors.New("no configuration file to reload")
	}
	newConfig, err := config.Load(d.configPath)
	if err != nil {
		return fmt.Errorf("failed to load new config: %w", err)
	}

	if err := log.Init(newConfig.Log); err != nil {
		return fmt.Errorf("failed to reinitialize logging: %w", err)
	}

	var requiresRestart []string
	if newConfig.Watchdog.Tick != d.config.Watchdog.Tick {
		requiresRestart = append(requiresRestart, "watchdog.tick")
	}
	if newConfig.Link != d.config.Link {
		requiresRestart = append(requiresRestart, "link")
	}
	if newConfig.Metrics != d.config.Metrics {
		requiresRestart = append(requiresRestart, "metrics")
	}
	if len(newConfig.Simulation.Nodes) != len(d.config.Simulation.Nodes) {
		requiresRestart = append(requiresRestart, "simulation.nodes")
	}
	d.config.Log = newConfig.Log

	log.GetLogger().WithFields(map[string]interface{}{
		"hot_reloaded":     []string{"log"},
		"requires_restart": requiresRestart,
	}).Info("configuration reloaded")
	return nil
}

// Stats returns the counters of every link by name.
func (d *Daemon) Stats() map[string]link.Stats {
	out := make(map[string]link.Stats, len(d.nodes))
	for _, n := range d.nodes {
		out[n.cfg.Name] = n.link.Stats()
	}
	return out
}

// startMetrics starts the metrics HTTP server if enabled.
func (d *Daemon) startMetrics() error {
	if !d.config.Metrics.Enabled {
		log.GetLogger().Info("metrics server disabled")
		return nil
	}
	d.metricsServer = metrics.NewServer(d.config.Metrics.Listen, d.config.Metrics.Path)
	d.metricsServer.HandleStatus("/links", func() any { return d.Stats() })
	return d.metricsServer.Start(d.ctx)
}

// writePIDFile writes the current process ID to the PID file.
func (d *Daemon) writePIDFile() error {
	if d.pidFile == "" {
		return nil
	}
	data := []byte(strconv.Itoa(os.Getpid()) + "\n")
	if err := os.WriteFile(d.pidFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write PID file %s: %w", d.pidFile, err)
	}
	return nil
}

// removePIDFile removes the PID file.
func (d *Daemon) removePIDFile() error {
	if d.pidFile == "" {
		return nil
	}
	if err := os.Remove(d.pidFile); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove PID file %s: %w", d.pidFile, err)
	}
	return nil
}
