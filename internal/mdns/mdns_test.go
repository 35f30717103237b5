package mdns

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/grandcat/zeroconf"
)

func TestNewAdvertiser(t *testing.T) {
	cfg := Config{
		Port: 7373,
		Name: "test-host",
	}

	advertiser := NewAdvertiser(cfg)
	if advertiser == nil {
		t.Fatal("NewAdvertiser returned nil")
	}
	if advertiser.config.Port != 7373 {
		t.Errorf("expected port 7373, got %d", advertiser.config.Port)
	}
	if advertiser.config.Name != "test-host" {
		t.Errorf("expected name test-host, got %s", advertiser.config.Name)
	}
}

func TestAdvertiserIsRunning(t *testing.T) {
	advertiser := NewAdvertiser(Config{Port: 7373})
	if advertiser.IsRunning() {
		t.Error("advertiser should not be running before Start()")
	}
}

func TestAdvertiserStopBeforeStart(t *testing.T) {
	advertiser := NewAdvertiser(Config{Port: 7373})
	advertiser.Stop()
	advertiser.Stop()
	if advertiser.IsRunning() {
		t.Error("advertiser should not be running")
	}
}

func TestSetDevicesBeforeStart(t *testing.T) {
	advertiser := NewAdvertiser(Config{Port: 7373, Name: "idle"})
	advertiser.SetDevices(3)
	if advertiser.devices != 3 {
		t.Errorf("expected 3 devices, got %d", advertiser.devices)
	}
	if advertiser.IsRunning() {
		t.Error("SetDevices must not start the advertiser")
	}
}

func TestInstanceNameFallsBackToHostname(t *testing.T) {
	advertiser := NewAdvertiser(Config{Port: 7373})
	if advertiser.instanceName() == "" {
		t.Error("instance name should never be empty")
	}
	named := NewAdvertiser(Config{Port: 7373, Name: "cam-box"})
	if got := named.instanceName(); got != "cam-box" {
		t.Errorf("expected cam-box, got %s", got)
	}
}

func TestTXTRecords(t *testing.T) {
	got := txtRecords("cam-box", 2)
	want := []string{"version=1", "name=cam-box", "devices=2"}
	if len(got) != len(want) {
		t.Fatalf("expected %d records, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("record %d: expected %q, got %q", i, want[i], got[i])
		}
	}
}

func TestParseEntry(t *testing.T) {
	entry := zeroconf.NewServiceEntry("instance", ServiceType, "local.")
	entry.Port = 7373
	entry.AddrIPv4 = []net.IP{net.ParseIP("192.168.1.20")}
	entry.Text = []string{"version=1", "name=cam-box", "devices=4", "garbage", "devices=x"}

	host := parseEntry(entry)
	if host.Name != "cam-box" {
		t.Errorf("expected name cam-box, got %s", host.Name)
	}
	if host.Host != "192.168.1.20" {
		t.Errorf("expected host 192.168.1.20, got %s", host.Host)
	}
	if host.Port != 7373 {
		t.Errorf("expected port 7373, got %d", host.Port)
	}
	if host.Version != "1" {
		t.Errorf("expected version 1, got %s", host.Version)
	}
	if host.Devices != 4 {
		t.Errorf("expected 4 devices, got %d", host.Devices)
	}
}

func TestParseEntryIPv6Only(t *testing.T) {
	entry := zeroconf.NewServiceEntry("v6-host", ServiceType, "local.")
	entry.AddrIPv6 = []net.IP{net.ParseIP("fe80::1")}

	host := parseEntry(entry)
	if host.Name != "v6-host" {
		t.Errorf("expected instance name as fallback, got %s", host.Name)
	}
	if host.Host != "fe80::1" {
		t.Errorf("expected fe80::1, got %s", host.Host)
	}
}

// TestAdvertiserStartStop requires multicast networking.
func TestAdvertiserStartStop(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping network test in short mode")
	}

	advertiser := NewAdvertiser(Config{Port: 7374, Name: "start-stop-test"})
	if err := advertiser.Start(); err != nil {
		t.Skipf("mDNS unavailable: %v", err)
	}
	if !advertiser.IsRunning() {
		t.Error("advertiser should be running after Start()")
	}
	if err := advertiser.Start(); err != nil {
		t.Fatalf("second Start() should be no-op, got error: %v", err)
	}
	advertiser.SetDevices(1)

	advertiser.Stop()
	if advertiser.IsRunning() {
		t.Error("advertiser should not be running after Stop()")
	}
}

func TestDiscoverIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping network test in short mode")
	}

	advertiser := NewAdvertiser(Config{Port: 7375, Name: "discover-test-host"})
	if err := advertiser.Start(); err != nil {
		t.Skipf("mDNS unavailable: %v", err)
	}
	defer advertiser.Stop()
	advertiser.SetDevices(2)

	time.Sleep(500 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	hosts, err := Discover(ctx)
	if err != nil {
		t.Skipf("mDNS browse unavailable: %v", err)
	}

	for _, host := range hosts {
		if host.Name == "discover-test-host" {
			if host.Port != 7375 {
				t.Errorf("expected port 7375, got %d", host.Port)
			}
			return
		}
	}
	// Multicast is unreliable in CI.
	t.Log("test host not discovered")
}

func TestServiceType(t *testing.T) {
	if ServiceType != "_termcam._tcp" {
		t.Errorf("expected service type _termcam._tcp, got %s", ServiceType)
	}
}
