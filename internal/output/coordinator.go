// Package output implements the Output Coordinator (spec §4.F): the
// bounded capture queue, file/pipe dispatch, rotation, the system-time
// anchor, and the key-packet simulation/log path.
package output

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/lestrrat-go/strftime"

	"github.com/AcenoTecnologia/tuxniffer/internal/device"
	"github.com/AcenoTecnologia/tuxniffer/pkg/pcap"
)

// RotationPeriod controls how often file sinks are closed and reopened.
type RotationPeriod string

const (
	RotationNone    RotationPeriod = "none"
	RotationHourly  RotationPeriod = "hourly"
	RotationDaily   RotationPeriod = "daily"
	RotationWeekly  RotationPeriod = "weekly"
	RotationMonthly RotationPeriod = "monthly"
)

func (r RotationPeriod) interval() (time.Duration, bool) {
	switch r {
	case RotationHourly:
		return time.Hour, true
	case RotationDaily:
		return 24 * time.Hour, true
	case RotationWeekly:
		return 7 * 24 * time.Hour, true
	case RotationMonthly:
		return 30 * 24 * time.Hour, true
	default:
		return 0, false
	}
}

const queueCapacity = 500_000

// Config mirrors the log_s settings block (spec §6): which sinks are
// enabled, where they write, and the crypto-related file paths.
type Config struct {
	FileEnabled     bool
	FilePath        string
	BaseName        string
	SplitDevicesLog bool
	ResetPeriod     RotationPeriod

	PipeEnabled         bool
	PipePath            string
	PipeSplitDevicesLog bool

	SaveKeys         bool
	KeysPath         string
	SavePackets      bool
	PacketsPath      string
	AppendMode       bool
	SimulationPath   string
	SimulationActive bool
}

// KeyExtractor is the Crypto Engine's contribution to the coordinator: it
// inspects a frame's radio payload and reports whether a new key was
// learned from it (spec §4.I's Transport-Key extraction).
type KeyExtractor interface {
	ExtractKey(payload []byte) (learned bool)
	SaveKeys(path string) error
}

// QueuedFrame is one frame handed to a pipe sink, already classified as a
// key packet or not by the coordinator's single-threaded crypto pass.
type QueuedFrame struct {
	Frame device.CapturedFrame
	IsKey bool
}

// PipeSink is the per-device (or shared) named-pipe worker (internal/pipesink).
type PipeSink interface {
	Enqueue(QueuedFrame)
	Stop()
}

// Coordinator owns the bounded capture queue, the file descriptors, and
// dispatch to pipe sinks. It implements device.Sink.
type Coordinator struct {
	cfg Config

	queue   *boundedQueue[device.CapturedFrame]
	running atomic.Bool

	anchor        Anchor
	firstPacket   bool
	lastRotation  time.Time
	numDevices    int
	readyDevices  []bool
	logFiles      []*os.File
	pipeSinks     []PipeSink
	crypto        KeyExtractor
	keyPackets    []device.CapturedFrame
	log           *log.Logger
}

// New creates an unconfigured Coordinator; call Configure before Run.
func New(cfg Config, crypto KeyExtractor) *Coordinator {
	c := &Coordinator{
		cfg:         cfg,
		queue:       newBoundedQueue[device.CapturedFrame](queueCapacity),
		firstPacket: true,
		crypto:      crypto,
		log:         log.With("component", "output"),
	}
	c.running.Store(true)
	return c
}

// Submit implements device.Sink: push onto the bounded, drop-oldest queue.
func (c *Coordinator) Submit(frame device.CapturedFrame) {
	c.queue.Push(frame)
}

// Configure opens file sinks (per spec §4.E/§4.F naming) and registers the
// pipe sinks the orchestrator has already constructed (one per configured
// device when split, else one shared sink).
func (c *Coordinator) Configure(numDevices int, readyDevices []bool, pipeSinks []PipeSink) error {
	c.numDevices = numDevices
	c.readyDevices = readyDevices
	c.pipeSinks = pipeSinks

	if c.cfg.FileEnabled {
		if err := c.openLogFiles(); err != nil {
			return err
		}
		c.lastRotation = time.Now()
	}
	return nil
}

func (c *Coordinator) baseFilename() (string, error) {
	base := c.cfg.FilePath
	if c.cfg.ResetPeriod != RotationNone {
		stamp, err := strftime.Format("%Y-%m-%d_%H-%M_", time.Now())
		if err != nil {
			return "", fmt.Errorf("output: format rotation timestamp: %w", err)
		}
		base += stamp
	}
	return base + c.cfg.BaseName, nil
}

func (c *Coordinator) openLogFiles() error {
	base, err := c.baseFilename()
	if err != nil {
		return err
	}

	open := func(name string) (*os.File, error) {
		f, err := os.Create(name)
		if err != nil {
			return nil, fmt.Errorf("output: open log file %s: %w", name, err)
		}
		if _, err := f.Write(pcap.GlobalHeader()); err != nil {
			f.Close()
			return nil, fmt.Errorf("output: write global header %s: %w", name, err)
		}
		return f, nil
	}

	c.logFiles = nil
	if c.cfg.SplitDevicesLog {
		for i := 0; i < c.numDevices; i++ {
			if i >= len(c.readyDevices) || !c.readyDevices[i] {
				c.logFiles = append(c.logFiles, nil)
				continue
			}
			f, err := open(fmt.Sprintf("%s_%d.pcap", base, i))
			if err != nil {
				return err
			}
			c.logFiles = append(c.logFiles, f)
			c.log.Info("log file created", "path", f.Name())
		}
		return nil
	}

	f, err := open(base + ".pcap")
	if err != nil {
		return err
	}
	c.logFiles = []*os.File{f}
	c.log.Info("log file created", "path", f.Name())
	return nil
}

// Run drains the capture queue until Shutdown is called and the queue is
// empty, handling each frame in arrival order. If simulation mode is
// configured, recorded key packets are replayed to every pipe sink first.
func (c *Coordinator) Run() {
	if c.cfg.SimulationActive {
		if err := c.runSimulation(); err != nil {
			c.log.Error("simulation replay failed", "err", err)
		}
	}

	for c.running.Load() || c.queue.Len() > 0 {
		frame, ok := c.queue.Pop()
		if !ok {
			time.Sleep(10 * time.Millisecond)
			continue
		}
		c.handle(frame)
	}
	c.drainShutdown()
}

// Shutdown stops the drain-until-empty loop and, once Run returns, every
// pipe sink has already been told to stop.
func (c *Coordinator) Shutdown() {
	c.running.Store(false)
}

func (c *Coordinator) handle(frame device.CapturedFrame) {
	if c.firstPacket {
		c.setAnchor(frame)
		c.firstPacket = false
	}

	c.maybeRotate()

	payload, err := pcap.Payload(frame.RawFrame)
	isKey := false
	if err != nil {
		c.log.Warn("could not extract payload for key scan", "err", err)
	} else if c.crypto != nil && c.crypto.ExtractKey(payload) {
		isKey = true
		c.keyPackets = append(c.keyPackets, frame)
	}

	if c.cfg.FileEnabled {
		c.writeFile(frame)
	}
	if c.cfg.PipeEnabled {
		c.dispatchPipe(frame, isKey)
	}
}

func (c *Coordinator) setAnchor(frame device.CapturedFrame) {
	devTS, err := pcap.DeviceTimestamp(frame.RawFrame)
	if err != nil {
		c.log.Warn("could not derive system anchor from first frame", "err", err)
		c.anchor.Set(time.Now())
		return
	}
	c.anchor.Set(frame.WallTime.Add(-devTS).Add(pcap.TimezoneOffset))
}

func (c *Coordinator) maybeRotate() {
	if !c.cfg.FileEnabled || c.cfg.ResetPeriod == RotationNone {
		return
	}
	interval, ok := c.cfg.ResetPeriod.interval()
	if !ok || time.Since(c.lastRotation) <= interval {
		return
	}
	c.log.Info("rotating log files", "period", c.cfg.ResetPeriod)
	for _, f := range c.logFiles {
		if f != nil {
			f.Close()
		}
	}
	c.lastRotation = time.Now()
	if err := c.openLogFiles(); err != nil {
		c.log.Error("rotation failed", "err", err)
	}
}

func (c *Coordinator) writeFile(frame device.CapturedFrame) {
	idx := 0
	if c.cfg.SplitDevicesLog {
		idx = frame.DeviceID
	}
	if idx < 0 || idx >= len(c.logFiles) || c.logFiles[idx] == nil {
		return
	}

	anchor, ok := c.anchor.Get()
	if !ok {
		return
	}
	header, body, err := pcap.BuildRecord(frame.RawFrame, frame.RadioMode, frame.Channel, frame.PortLabel, frame.FirmwareRow, anchor)
	if err != nil {
		c.log.Warn("dropping frame: could not build record", "err", err)
		return
	}
	f := c.logFiles[idx]
	if _, err := f.Write(header); err != nil {
		c.log.Error("write record header failed", "err", err)
		return
	}
	if _, err := f.Write(body); err != nil {
		c.log.Error("write record body failed", "err", err)
	}
}

func (c *Coordinator) dispatchPipe(frame device.CapturedFrame, isKey bool) {
	idx := 0
	if c.cfg.PipeSplitDevicesLog {
		idx = frame.DeviceID
	}
	if idx < 0 || idx >= len(c.pipeSinks) || c.pipeSinks[idx] == nil {
		return
	}
	c.pipeSinks[idx].Enqueue(QueuedFrame{Frame: frame, IsKey: isKey})
}

// Anchor exposes the coordinator's system anchor for pipe workers.
func (c *Coordinator) Anchor() *Anchor { return &c.anchor }

// QueueLen reports the number of frames currently buffered in the capture
// queue, for read-only status reporting (internal/statusserver).
func (c *Coordinator) QueueLen() int { return c.queue.Len() }

// QueueDropped reports how many frames the capture queue has discarded to
// stay within its bound, for read-only status reporting.
func (c *Coordinator) QueueDropped() int64 { return c.queue.Dropped() }

func (c *Coordinator) drainShutdown() {
	for _, f := range c.logFiles {
		if f != nil {
			f.Close()
		}
	}

	if c.cfg.SavePackets {
		if err := c.saveKeyPackets(); err != nil {
			c.log.Error("save key packets failed", "err", err)
		}
	}

	for _, sink := range c.pipeSinks {
		if sink != nil {
			sink.Stop()
		}
	}

	if c.cfg.SaveKeys && c.crypto != nil {
		if err := c.crypto.SaveKeys(c.cfg.KeysPath + ".txt"); err != nil {
			c.log.Error("save keys failed", "err", err)
		}
	}

	c.log.Info("output coordinator stopped")
}

// simulatedRecord is one entry of the key-packet binary log: an interface
// label, the channel/mode it was captured on, and the complete raw device
// frame (the same bytes device.CapturedFrame.RawFrame carries), so replay
// goes through the exact same pcap record builder live capture does. The
// layout mirrors the original tool's serialized packet_queue_s record: a
// length-prefixed interface string, channel, mode, and a length-prefixed
// frame, all integers little-endian.
type simulatedRecord struct {
	Interface string
	Channel   int32
	Mode      byte
	RawFrame  []byte
}

func writeSimulatedRecord(w io.Writer, rec simulatedRecord) error {
	if err := binary.Write(w, binary.LittleEndian, int32(len(rec.Interface))); err != nil {
		return err
	}
	if _, err := w.Write([]byte(rec.Interface)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, rec.Channel); err != nil {
		return err
	}
	if _, err := w.Write([]byte{rec.Mode}); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, int32(len(rec.RawFrame))); err != nil {
		return err
	}
	_, err := w.Write(rec.RawFrame)
	return err
}

func readSimulatedRecord(r io.Reader) (simulatedRecord, error) {
	var ifaceLen int32
	if err := binary.Read(r, binary.LittleEndian, &ifaceLen); err != nil {
		return simulatedRecord{}, err
	}
	iface := make([]byte, ifaceLen)
	if _, err := io.ReadFull(r, iface); err != nil {
		return simulatedRecord{}, err
	}

	var channel int32
	if err := binary.Read(r, binary.LittleEndian, &channel); err != nil {
		return simulatedRecord{}, err
	}

	mode := make([]byte, 1)
	if _, err := io.ReadFull(r, mode); err != nil {
		return simulatedRecord{}, err
	}

	var frameLen int32
	if err := binary.Read(r, binary.LittleEndian, &frameLen); err != nil {
		return simulatedRecord{}, err
	}
	raw := make([]byte, frameLen)
	if _, err := io.ReadFull(r, raw); err != nil {
		return simulatedRecord{}, err
	}

	return simulatedRecord{
		Interface: string(iface),
		Channel:   channel,
		Mode:      mode[0],
		RawFrame:  raw,
	}, nil
}

// saveKeyPackets writes every frame the Crypto Engine flagged as carrying
// key material to the configured packets-path binary log, truncating the
// file first unless AppendMode is set.
func (c *Coordinator) saveKeyPackets() error {
	if len(c.keyPackets) == 0 {
		return nil
	}

	flags := os.O_WRONLY | os.O_CREATE
	if c.cfg.AppendMode {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(c.cfg.PacketsPath, flags, 0o644)
	if err != nil {
		return fmt.Errorf("output: open key packet log: %w", err)
	}
	defer f.Close()

	for _, frame := range c.keyPackets {
		rec := simulatedRecord{
			Interface: frame.PortLabel,
			Channel:   int32(frame.Channel),
			Mode:      frame.RadioMode,
			RawFrame:  frame.RawFrame,
		}
		if err := writeSimulatedRecord(f, rec); err != nil {
			return fmt.Errorf("output: write key packet record: %w", err)
		}
	}
	return nil
}

// runSimulation replays the key-packet binary log at cfg.SimulationPath,
// injecting each record into every active pipe sink as an is-key frame
// before the live capture loop begins (spec §4.F's simulation mode).
func (c *Coordinator) runSimulation() error {
	f, err := os.Open(c.cfg.SimulationPath)
	if err != nil {
		return fmt.Errorf("output: open simulation log: %w", err)
	}
	defer f.Close()

	count := 0
	for {
		rec, err := readSimulatedRecord(f)
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("output: read simulation record: %w", err)
		}

		// Simulated records predate any live device connection, so there is
		// no firmware row to resolve a base frequency from; row 0 matches
		// the original's own simulation path, which never re-derives a
		// per-firmware frequency for replayed packets either.
		frame := device.CapturedFrame{
			PortLabel:   rec.Interface,
			Channel:     int(rec.Channel),
			RadioMode:   rec.Mode,
			FirmwareRow: 0,
			RawFrame:    rec.RawFrame,
			WallTime:    time.Now(),
		}
		for _, sink := range c.pipeSinks {
			if sink != nil {
				sink.Enqueue(QueuedFrame{Frame: frame, IsKey: true})
			}
		}
		count++
	}
	c.log.Info("simulation replay complete", "records", count)
	return nil
}
