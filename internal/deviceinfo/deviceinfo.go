// Package deviceinfo collects the machine details the timer client reports with its heartbeat.
package deviceinfo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"runtime"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultEndpoints are queried concurrently for the public IP.
var DefaultEndpoints = []string{
	"https://api.ipify.org?format=json",
	"https://api.myip.com",
	"https://ipapi.co/json",
	"https://httpbin.org/ip",
}

// DefaultAttemptTimeout bounds each public IP lookup.
const DefaultAttemptTimeout = 5 * time.Second

// ErrNoPublicIP is returned when every endpoint failed.
var ErrNoPublicIP = errors.New("public ip lookup failed")

// Interface is one network interface address.
type Interface struct {
	Name     string `json:"name"`
	Address  string `json:"address"`
	MAC      string `json:"mac"`
	Family   string `json:"family"`
	Internal bool   `json:"internal"`
}

// Info is a snapshot of the device.
type Info struct {
	Hostname    string      `json:"hostname"`
	OS          string      `json:"os"`
	Arch        string      `json:"arch"`
	GoVersion   string      `json:"go_version"`
	LocalIP     string      `json:"local_ip"`
	PublicIP    string      `json:"public_ip,omitempty"`
	MACAddress  string      `json:"mac_address"`
	Timezone    string      `json:"timezone"`
	Interfaces  []Interface `json:"interfaces"`
	CollectedAt time.Time   `json:"collected_at"`
}

// Map renders the info as the free-form document stored with a device.
func (i Info) Map() map[string]any {
	raw, err := json.Marshal(i)
	if err != nil {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}

// Collector gathers device info.
type Collector struct {
	client         *http.Client
	endpoints      []string
	attemptTimeout time.Duration
	interfaces     func() ([]Interface, error)
	now            func() time.Time
}

// Option customises a Collector.
type Option func(*Collector)

// WithEndpoints overrides the public IP endpoints.
func WithEndpoints(endpoints ...string) Option {
	return func(c *Collector) { c.endpoints = endpoints }
}

// WithAttemptTimeout overrides the per-endpoint timeout.
func WithAttemptTimeout(d time.Duration) Option {
	return func(c *Collector) {
		if d > 0 {
			c.attemptTimeout = d
		}
	}
}

// WithHTTPClient overrides the HTTP client used for public IP lookups.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Collector) {
		if client != nil {
			c.client = client
		}
	}
}

// NewCollector constructs a Collector.
func NewCollector(opts ...Option) *Collector {
	c := &Collector{
		client:         &http.Client{},
		endpoints:      DefaultEndpoints,
		attemptTimeout: DefaultAttemptTimeout,
		interfaces:     systemInterfaces,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Collect builds a device snapshot. A failed public IP lookup leaves PublicIP empty.
func (c *Collector) Collect(ctx context.Context) Info {
	hostname, _ := os.Hostname()
	zone, _ := c.now().Zone()
	info := Info{
		Hostname:    hostname,
		OS:          runtime.GOOS,
		Arch:        runtime.GOARCH,
		GoVersion:   runtime.Version(),
		LocalIP:     "127.0.0.1",
		MACAddress:  "00:00:00:00:00:00",
		Timezone:    zone,
		CollectedAt: c.now().UTC(),
	}

	if ifaces, err := c.interfaces(); err == nil {
		info.Interfaces = ifaces
		info.LocalIP, info.MACAddress = primaryAddress(ifaces, info.LocalIP, info.MACAddress)
	}
	if ip, err := c.PublicIP(ctx); err == nil {
		info.PublicIP = ip
	}
	return info
}

// primaryAddress picks the first external IPv4 address and the first non-zero MAC.
func primaryAddress(ifaces []Interface, ip, mac string) (string, string) {
	foundIP, foundMAC := false, false
	for _, iface := range ifaces {
		if !foundIP && iface.Family == "IPv4" && !iface.Internal {
			ip, foundIP = iface.Address, true
		}
		if !foundMAC && iface.MAC != "" && iface.MAC != "00:00:00:00:00:00" {
			mac, foundMAC = iface.MAC, true
		}
	}
	return ip, mac
}

// PublicIP queries every endpoint concurrently and returns the first answer. The remaining
// lookups are cancelled once one succeeds.
func (c *Collector) PublicIP(ctx context.Context) (string, error) {
	if len(c.endpoints) == 0 {
		return "", ErrNoPublicIP
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	found := make(chan string, len(c.endpoints))
	failures := make([]error, len(c.endpoints))
	var g errgroup.Group
	for i, endpoint := range c.endpoints {
		i, endpoint := i, endpoint
		g.Go(func() error {
			ip, err := c.lookup(ctx, endpoint)
			if err != nil {
				failures[i] = fmt.Errorf("%s: %w", endpoint, err)
				return nil
			}
			found <- ip
			cancel()
			return nil
		})
	}
	_ = g.Wait()
	close(found)

	if ip, ok := <-found; ok {
		return ip, nil
	}
	return "", fmt.Errorf("%w: %w", ErrNoPublicIP, errors.Join(failures...))
}

func (c *Collector) lookup(ctx context.Context, endpoint string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.attemptTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return "", err
	}
	return parseIP(body)
}

// parseIP accepts {"ip": ...}, {"origin": ...} or a bare address.
func parseIP(body []byte) (string, error) {
	var doc struct {
		IP     string `json:"ip"`
		Origin string `json:"origin"`
	}
	candidate := strings.TrimSpace(string(body))
	if err := json.Unmarshal(body, &doc); err == nil {
		candidate = doc.IP
		if candidate == "" {
			// httpbin reports "client, proxy" when behind a proxy.
			candidate = strings.TrimSpace(strings.Split(doc.Origin, ",")[0])
		}
	}
	if net.ParseIP(candidate) == nil {
		return "", fmt.Errorf("unrecognised response %q", truncate(candidate, 64))
	}
	return candidate, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func systemInterfaces() ([]Interface, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	var out []Interface
	for _, iface := range ifaces {
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			family := "IPv6"
			if ipNet.IP.To4() != nil {
				family = "IPv4"
			}
			out = append(out, Interface{
				Name:     iface.Name,
				Address:  ipNet.IP.String(),
				MAC:      iface.HardwareAddr.String(),
				Family:   family,
				Internal: iface.Flags&net.FlagLoopback != 0,
			})
		}
	}
	return out, nil
}
