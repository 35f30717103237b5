// Package mdns provides optional mDNS/Bonjour advertisement of the control
// API.
//
// When enabled, the host announces itself as _termcam._tcp so a streaming
// collaborator on the same machine or network can find the API port
// without configuration. The TXT records carry:
//   - version: API protocol version
//   - name: host instance name
//   - devices: number of running devices
//
// The API itself stays loopback-only; discovery only reveals presence.
package mdns

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/grandcat/zeroconf"
)

// ServiceType is the DNS-SD service type of termcam hosts.
const ServiceType = "_termcam._tcp"

// ProtocolVersion is advertised so clients can check compatibility.
const ProtocolVersion = "1"

// Config holds configuration for mDNS advertisement.
type Config struct {
	// Port is the control API port.
	Port int

	// Name is the instance name. Defaults to the system hostname.
	Name string
}

// Advertiser manages the DNS-SD registration.
type Advertiser struct {
	config Config

	mu      sync.Mutex
	server  *zeroconf.Server
	name    string
	devices int
}

// NewAdvertiser creates an advertiser. Nothing is announced until Start.
func NewAdvertiser(cfg Config) *Advertiser {
	return &Advertiser{config: cfg}
}

func (a *Advertiser) instanceName() string {
	if a.config.Name != "" {
		return a.config.Name
	}
	hostname, err := os.Hostname()
	if err != nil {
		return "termcam"
	}
	return hostname
}

func txtRecords(name string, devices int) []string {
	return []string{
		"version=" + ProtocolVersion,
		"name=" + name,
		"devices=" + strconv.Itoa(devices),
	}
}

// Start registers the service. Calling Start on a running advertiser is a
// no-op.
func (a *Advertiser) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		return nil
	}

	a.name = a.instanceName()
	server, err := zeroconf.Register(
		a.name,
		ServiceType,
		"local.",
		a.config.Port,
		txtRecords(a.name, a.devices),
		nil, // all interfaces
	)
	if err != nil {
		return fmt.Errorf("mdns register: %w", err)
	}

	a.server = server
	return nil
}

// SetDevices updates the advertised number of running devices.
func (a *Advertiser) SetDevices(n int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.devices = n
	if a.server != nil {
		a.server.SetText(txtRecords(a.name, n))
	}
}

// Stop unregisters the service. It is safe to call on a stopped
// advertiser.
func (a *Advertiser) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}
}

// IsRunning reports whether the service is registered.
func (a *Advertiser) IsRunning() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.server != nil
}

// DiscoveredHost is a host found by Discover.
type DiscoveredHost struct {
	Name    string
	Host    string
	Port    int
	Version string
	Devices int
}

// parseEntry turns a resolved service entry into a DiscoveredHost.
func parseEntry(entry *zeroconf.ServiceEntry) DiscoveredHost {
	host := DiscoveredHost{
		Name: entry.Instance,
		Port: entry.Port,
	}
	if len(entry.AddrIPv4) > 0 {
		host.Host = entry.AddrIPv4[0].String()
	} else if len(entry.AddrIPv6) > 0 {
		host.Host = entry.AddrIPv6[0].String()
	}

	for _, txt := range entry.Text {
		key, value, ok := strings.Cut(txt, "=")
		if !ok {
			continue
		}
		switch key {
		case "version":
			host.Version = value
		case "name":
			host.Name = value
		case "devices":
			if n, err := strconv.Atoi(value); err == nil {
				host.Devices = n
			}
		}
	}
	return host
}

// Discover browses for termcam hosts until ctx is done.
func Discover(ctx context.Context) ([]DiscoveredHost, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("mdns resolver: %w", err)
	}

	var (
		hosts []DiscoveredHost
		mu    sync.Mutex
		wg    sync.WaitGroup
	)

	entries := make(chan *zeroconf.ServiceEntry)

	wg.Add(1)
	go func() {
		defer wg.Done()
		for entry := range entries {
			mu.Lock()
			hosts = append(hosts, parseEntry(entry))
			mu.Unlock()
		}
	}()

	if err := resolver.Browse(ctx, ServiceType, "local.", entries); err != nil {
		return nil, fmt.Errorf("mdns browse: %w", err)
	}

	<-ctx.Done()
	// zeroconf closes entries once ctx is done.
	wg.Wait()

	return hosts, nil
}
