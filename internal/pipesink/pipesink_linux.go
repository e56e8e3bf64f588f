//go:build linux

// Package pipesink implements the Pipe Sink Worker (spec §4.G): one
// goroutine per named pipe endpoint that waits for a consumer, streams
// pcap records to it, and recovers from a broken pipe by recreating the
// endpoint rather than dying.
package pipesink

import (
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sys/unix"

	"github.com/AcenoTecnologia/tuxniffer/internal/output"
	"github.com/AcenoTecnologia/tuxniffer/internal/signalstate"
	"github.com/AcenoTecnologia/tuxniffer/pkg/pcap"
)

const pollInterval = time.Second

// Worker owns one named pipe endpoint and its private bounded queue,
// mirroring the original PipePacketHandler: a FIFO is created once, then
// repeatedly opened and drained until the process shuts it down.
type Worker struct {
	path   string
	anchor *output.Anchor
	queue  *boundedQueue
	done   chan struct{}
	log    *log.Logger
}

// New builds a Worker for the endpoint at pipePath+base (spec §4.G's
// "{pipe_path}{base_name}[_{id}]" naming, already composed by the caller).
func New(endpoint string, anchor *output.Anchor) *Worker {
	return &Worker{
		path:   endpoint,
		anchor: anchor,
		queue:  newBoundedQueue(500_000),
		done:   make(chan struct{}),
		log:    log.With("component", "pipesink", "path", endpoint),
	}
}

// Enqueue implements output.PipeSink.
func (w *Worker) Enqueue(qf output.QueuedFrame) {
	w.queue.Push(qf)
}

// Stop implements output.PipeSink: signal Run's loop to exit after the
// current connection cycle.
func (w *Worker) Stop() {
	select {
	case <-w.done:
	default:
		close(w.done)
	}
}

func (w *Worker) stopped() bool {
	select {
	case <-w.done:
		return true
	default:
		return false
	}
}

// Run is the worker's main loop: create the FIFO, wait for a reader,
// stream records, and on a broken pipe go back to waiting rather than
// exiting. It returns once Stop has been called and no consumer is
// connected (or the current consumer has gone away).
func (w *Worker) Run() {
	for !w.stopped() {
		if err := unix.Mkfifo(w.path, 0o666); err != nil && !os.IsExist(err) {
			w.log.Error("mkfifo failed", "err", err)
			return
		}
		w.log.Info("pipe created, waiting for consumer")

		f, ok := w.awaitConsumer()
		if !ok {
			w.log.Info("no consumer connected before shutdown, discarding queued data")
			return
		}

		w.log.Info("consumer connected")
		if _, err := f.Write(pcap.GlobalHeader()); err != nil {
			w.log.Warn("writing global header failed, consumer likely gone", "err", err)
			f.Close()
			continue
		}

		w.drain(f)
		f.Close()
	}
}

func (w *Worker) awaitConsumer() (*os.File, bool) {
	for !w.stopped() {
		f, err := os.OpenFile(w.path, os.O_WRONLY|os.O_NONBLOCK, 0)
		if err == nil {
			return f, true
		}
		time.Sleep(pollInterval)
	}
	return nil, false
}

// drain streams queued records until the worker stops or the consumer
// disappears (signalstate.PipeInterrupted, which drain raises itself when a
// write fails).
func (w *Worker) drain(f *os.File) {
	for !w.stopped() && !signalstate.PipeInterrupted() {
		qf, ok := w.queue.Pop()
		if !ok {
			time.Sleep(10 * time.Millisecond)
			continue
		}
		if err := w.write(f, qf); err != nil {
			w.log.Warn("write failed, waiting for a new consumer", "err", err)
			signalstate.RaisePipeInterrupt()
			break
		}
	}

	if signalstate.PipeInterrupted() {
		w.log.Info("pipe interrupted, will recreate endpoint")
		signalstate.ClearPipeInterrupt()
	}
}

func (w *Worker) write(f *os.File, qf output.QueuedFrame) error {
	anchor, ok := w.anchor.Get()
	if !ok {
		anchor = time.Now()
	}
	header, body, err := pcap.BuildRecord(qf.Frame.RawFrame, qf.Frame.RadioMode, qf.Frame.Channel, qf.Frame.PortLabel, qf.Frame.FirmwareRow, anchor)
	if err != nil {
		return fmt.Errorf("pipesink: build record: %w", err)
	}
	if _, err := f.Write(header); err != nil {
		return err
	}
	_, err = f.Write(body)
	return err
}
