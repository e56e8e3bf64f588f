package orchestrator

import (
	"testing"
	"time"

	"github.com/AcenoTecnologia/tuxniffer/internal/device"
	"github.com/AcenoTecnologia/tuxniffer/internal/output"
	"github.com/AcenoTecnologia/tuxniffer/internal/signalstate"
)

func TestRunSkipsDevicesThatFailToConnect(t *testing.T) {
	signalstate.ResetForTest()
	t.Cleanup(signalstate.ResetForTest)

	cfg := Config{
		Devices: []DeviceSpec{
			{PortLabel: "/dev/does-not-exist-tuxniffer-test", RadioMode: 20, Channel: 20},
		},
		Output: output.Config{
			FileEnabled: false,
			PipeEnabled: false,
		},
		Duration: time.Millisecond,
	}

	o := New(cfg, nil)
	if err := o.Run(); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if len(o.ready) != 1 || o.ready[0] {
		t.Fatalf("expected the unreachable device to be marked not ready, got %v", o.ready)
	}
}

func TestSubmitBeforeCoordinatorIsSetDoesNotPanic(t *testing.T) {
	o := New(Config{}, nil)
	o.Submit(device.CapturedFrame{DeviceID: 0})
}

func TestSnapshotBeforeRunReportsEmptyFleet(t *testing.T) {
	o := New(Config{}, nil)
	snap := o.Snapshot()
	if len(snap.Devices) != 0 {
		t.Fatalf("expected no devices before Run, got %v", snap.Devices)
	}
	if snap.LinkKeys != 0 || snap.NetworkKeys != 0 {
		t.Fatalf("expected zero key counts with no crypto engine, got %+v", snap)
	}
}

type fakeKeyCounter struct{ links, nwk int }

func (f fakeKeyCounter) ExtractKey([]byte) bool { return false }
func (f fakeKeyCounter) SaveKeys(string) error  { return nil }
func (f fakeKeyCounter) LinkKeyCount() int      { return f.links }
func (f fakeKeyCounter) NetworkKeyCount() int   { return f.nwk }

func TestSnapshotReportsKeyCountsWhenCryptoSupportsThem(t *testing.T) {
	o := New(Config{}, fakeKeyCounter{links: 2, nwk: 1})
	snap := o.Snapshot()
	if snap.LinkKeys != 2 || snap.NetworkKeys != 1 {
		t.Fatalf("expected key counts from the crypto engine, got %+v", snap)
	}
}

func TestSnapshotAfterConnectReportsPerDeviceState(t *testing.T) {
	o := New(Config{
		Devices: []DeviceSpec{
			{PortLabel: "/dev/does-not-exist-tuxniffer-test", RadioMode: 20, Channel: 20},
		},
	}, nil)
	o.connectDevices()

	snap := o.Snapshot()
	if len(snap.Devices) != 1 {
		t.Fatalf("expected one device in the snapshot, got %v", snap.Devices)
	}
	if snap.Devices[0].Ready {
		t.Fatalf("expected the unreachable device to be reported not ready")
	}
	if snap.Devices[0].Port != "/dev/does-not-exist-tuxniffer-test" {
		t.Fatalf("unexpected port in snapshot: %q", snap.Devices[0].Port)
	}
}
