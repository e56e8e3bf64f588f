// Package orchestrator implements the Orchestrator (spec §4.K): it builds
// one Device Controller per configured radio, brings each one up
// concurrently, wires the survivors to the Output Coordinator and its pipe
// sinks, and owns the process's signal-driven shutdown sequence.
package orchestrator

import (
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/charmbracelet/log"

	"github.com/AcenoTecnologia/tuxniffer/internal/device"
	"github.com/AcenoTecnologia/tuxniffer/internal/output"
	"github.com/AcenoTecnologia/tuxniffer/internal/pipesink"
	"github.com/AcenoTecnologia/tuxniffer/internal/signalstate"
	"github.com/AcenoTecnologia/tuxniffer/internal/statusserver"
)

// DeviceSpec is one configured radio: the serial port it lives on and the
// mode/channel it should be driven at.
type DeviceSpec struct {
	PortLabel string
	RadioMode byte
	Channel   int
}

// Config bundles everything the Orchestrator needs to bring a fleet up:
// the device list, the Output Coordinator's configuration, and how long to
// capture for.
type Config struct {
	Devices    []DeviceSpec
	Output     output.Config
	Duration   time.Duration // <= 0 means run until interrupted
	StatusAddr string        // empty disables the status/metrics HTTP surface
}

// keyCounter is the subset of pkg/zigbee.KeyStore that Snapshot needs.
// crypto is held as the narrower output.KeyExtractor, so this interface is
// satisfied via a type assertion rather than an import of pkg/zigbee.
type keyCounter interface {
	LinkKeyCount() int
	NetworkKeyCount() int
}

// Orchestrator owns the device fleet, the coordinator, and the pipe sinks
// for one capture run.
type Orchestrator struct {
	cfg     Config
	crypto  output.KeyExtractor
	devices []*device.Device
	ready   []bool
	readyMu sync.RWMutex
	coord   *output.Coordinator
	sinks   []*pipesink.Worker
	status  *statusserver.Server
	log     *log.Logger
}

// New builds an Orchestrator. crypto may be nil if key extraction was not
// requested (§6's `crypto.key_extraction` flag).
func New(cfg Config, crypto output.KeyExtractor) *Orchestrator {
	return &Orchestrator{
		cfg:    cfg,
		crypto: crypto,
		log:    log.With("component", "orchestrator"),
	}
}

// Run executes one full capture session: bring devices up, stream until
// interrupted or the configured duration elapses, then drain and shut
// everything down in order. It installs its own SIGINT/SIGTERM handling
// and returns once shutdown is complete.
func (o *Orchestrator) Run() error {
	o.installSignalHandling()

	if o.cfg.StatusAddr != "" {
		o.status = statusserver.New(o.cfg.StatusAddr, o)
		o.status.Start()
	}

	o.connectDevices()
	o.initReadyDevices()

	o.coord = output.New(o.cfg.Output, o.crypto)

	pipeSinks, pipeSinkIfaces := o.buildPipeSinks()
	o.sinks = pipeSinks

	if err := o.coord.Configure(len(o.devices), o.readySnapshot(), pipeSinkIfaces); err != nil {
		return err
	}

	var wg sync.WaitGroup

	for _, w := range o.sinks {
		wg.Add(1)
		go func(w *pipesink.Worker) {
			defer wg.Done()
			w.Run()
		}(w)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		o.coord.Run()
	}()

	o.streamReadyDevices()

	o.log.Info("all stream threads finished, shutting down coordinator")
	o.coord.Shutdown()
	for _, w := range o.sinks {
		w.Stop()
	}
	wg.Wait()

	if o.status != nil {
		if err := o.status.Shutdown(); err != nil {
			o.log.Warn("status server shutdown error", "err", err)
		}
	}

	return nil
}

// installSignalHandling mirrors spec §5's global interrupt_flag: SIGINT and
// SIGTERM set the flag so every polling loop in device/output/pipesink
// unwinds cooperatively; a second signal forces immediate termination,
// matching the original's escalation behavior.
func (o *Orchestrator) installSignalHandling() {
	sigChan := make(chan os.Signal, 2)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		for sig := range sigChan {
			o.log.Warn("received signal, shutting down", "signal", sig)
			if escalate := signalstate.RaiseInterrupt(); escalate {
				o.log.Error("second interrupt received, forcing exit")
				os.Exit(1)
			}
		}
	}()
}

// connectDevices constructs and connects one Device Controller per
// configured spec; a device whose Connect fails is marked not-ready and
// excluded from every step that follows.
func (o *Orchestrator) connectDevices() {
	o.devices = make([]*device.Device, len(o.cfg.Devices))
	o.ready = make([]bool, len(o.cfg.Devices))

	for i, spec := range o.cfg.Devices {
		d := device.New(i, spec.PortLabel, spec.RadioMode, spec.Channel, o)
		o.devices[i] = d
		if err := d.Connect(); err != nil {
			o.log.Error("device connect failed, marking not ready", "device_id", i, "port", spec.PortLabel, "err", err)
			continue
		}
		o.setReady(i, true)
	}
}

// setReady and isReady guard the ready slice: connectDevices and
// initReadyDevices write it from multiple goroutines, and Snapshot may read
// it concurrently from the status server's handler goroutines.
func (o *Orchestrator) setReady(i int, v bool) {
	o.readyMu.Lock()
	defer o.readyMu.Unlock()
	o.ready[i] = v
}

func (o *Orchestrator) isReady(i int) bool {
	o.readyMu.RLock()
	defer o.readyMu.RUnlock()
	return o.ready[i]
}

// readySnapshot returns a copy of the ready slice for handing to code that
// doesn't need live updates, such as output.Coordinator.Configure.
func (o *Orchestrator) readySnapshot() []bool {
	o.readyMu.RLock()
	defer o.readyMu.RUnlock()
	out := make([]bool, len(o.ready))
	copy(out, o.ready)
	return out
}

// Submit implements device.Sink by forwarding to the coordinator. Devices
// are constructed before the coordinator exists, so the orchestrator
// stands in as the sink and relays every frame once Run has built it —
// the channel form spec §9 recommends over a raw back-reference.
func (o *Orchestrator) Submit(frame device.CapturedFrame) {
	if o.coord != nil {
		o.coord.Submit(frame)
	}
}

// initReadyDevices runs Init concurrently across every ready device, the
// same way the original spawns one init thread per device and joins them
// all before continuing.
func (o *Orchestrator) initReadyDevices() {
	var wg sync.WaitGroup
	for i, d := range o.devices {
		if !o.isReady(i) {
			continue
		}
		wg.Add(1)
		go func(i int, d *device.Device) {
			defer wg.Done()
			if err := d.Init(); err != nil {
				o.log.Error("device init failed, marking not ready", "device_id", i, "err", err)
				o.setReady(i, false)
			}
		}(i, d)
	}
	wg.Wait()
}

// buildPipeSinks constructs one pipe sink per device (when split) or one
// shared pipe sink, matching internal/output's own file-split convention.
func (o *Orchestrator) buildPipeSinks() ([]*pipesink.Worker, []output.PipeSink) {
	if !o.cfg.Output.PipeEnabled {
		return nil, nil
	}

	anchor := o.coord.Anchor()
	count := 1
	if o.cfg.Output.PipeSplitDevicesLog {
		count = len(o.devices)
	}

	workers := make([]*pipesink.Worker, count)
	ifaces := make([]output.PipeSink, count)
	for i := 0; i < count; i++ {
		endpoint := o.cfg.Output.PipePath + o.cfg.Output.BaseName
		if o.cfg.Output.PipeSplitDevicesLog {
			endpoint = endpoint + "_" + strconv.Itoa(i)
		}
		w := pipesink.New(endpoint, anchor)
		workers[i] = w
		ifaces[i] = w
	}
	return workers, ifaces
}

// streamReadyDevices runs start→stream[_for]→stop on every ready device
// concurrently and waits for them all to finish, matching the original's
// one-stream-thread-per-device model.
func (o *Orchestrator) streamReadyDevices() {
	var wg sync.WaitGroup
	for i, d := range o.devices {
		if !o.isReady(i) {
			continue
		}
		wg.Add(1)
		go func(i int, d *device.Device) {
			defer wg.Done()
			if err := d.Start(); err != nil {
				o.log.Error("device start failed", "device_id", i, "err", err)
				return
			}

			var err error
			if o.cfg.Duration > 0 {
				err = d.StreamFor(o.cfg.Duration)
			} else {
				err = d.Stream()
			}
			if err != nil {
				o.log.Warn("stream loop exited", "device_id", i, "err", err)
			}
			_ = d.Stop()
			_ = d.Disconnect()
		}(i, d)
	}
	wg.Wait()
}

// Snapshot implements statusserver.Provider: a point-in-time read of queue
// depth/loss, learned key counts, and per-device state. Safe to call
// concurrently with Run.
func (o *Orchestrator) Snapshot() statusserver.Snapshot {
	snap := statusserver.Snapshot{}

	if o.coord != nil {
		snap.QueueDepth = o.coord.QueueLen()
		snap.QueueDropped = o.coord.QueueDropped()
	}

	if kc, ok := o.crypto.(keyCounter); ok {
		snap.LinkKeys = kc.LinkKeyCount()
		snap.NetworkKeys = kc.NetworkKeyCount()
	}

	snap.Devices = make([]statusserver.DeviceStatus, len(o.devices))
	for i, d := range o.devices {
		ds := statusserver.DeviceStatus{ID: i, Ready: o.isReady(i)}
		if d != nil {
			ds.Port = d.PortLabel
			ds.State = d.State().String()
		}
		snap.Devices[i] = ds
	}

	return snap
}
