package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/enbility/zeroconf/v3"

	"github.com/nerrad567/mqttlink/internal/infrastructure/config"
)

// Defaults applied when the config leaves a field empty.
const (
	DefaultService = "_mqtt._tcp"
	DefaultDomain  = "local."
	DefaultTimeout = 3 * time.Second

	tlsPort = 8883
)

// ErrDisabled is returned when discovery is switched off in the config.
var ErrDisabled = errors.New("discovery: disabled")

// Broker is one advertised MQTT broker.
type Broker struct {
	Instance string            `json:"instance"`
	Host     string            `json:"host"`
	Port     int               `json:"port"`
	Addrs    []string          `json:"addrs"`
	TLS      bool              `json:"tls"`
	TXT      map[string]string `json:"txt,omitempty"`
}

// URL returns a broker URL usable by the connection manager.
// The first advertised address wins; the hostname is the fallback.
func (b Broker) URL() string {
	scheme := "tcp"
	if b.TLS {
		scheme = "ssl"
	}
	host := strings.TrimSuffix(b.Host, ".")
	if len(b.Addrs) > 0 {
		host = b.Addrs[0]
	}
	return scheme + "://" + net.JoinHostPort(host, strconv.Itoa(b.Port))
}

// BrowseFunc matches zeroconf.Browse. Swapped out in tests.
type BrowseFunc func(ctx context.Context, service, domain string, entries, removed chan *zeroconf.ServiceEntry, opts ...zeroconf.ClientOption) error

func zeroconfBrowse(ctx context.Context, service, domain string, entries, removed chan *zeroconf.ServiceEntry, opts ...zeroconf.ClientOption) error {
	return zeroconf.Browse(ctx, service, domain, entries, removed, opts...)
}

// Browser collects broker advertisements.
type Browser struct {
	cfg    config.DiscoveryConfig
	browse BrowseFunc
}

// NewBrowser creates a browser using the real mDNS stack.
func NewBrowser(cfg config.DiscoveryConfig) *Browser {
	return &Browser{cfg: cfg, browse: zeroconfBrowse}
}

// Browse is a convenience wrapper around NewBrowser(cfg).Browse(ctx).
func Browse(ctx context.Context, cfg config.DiscoveryConfig) ([]Broker, error) {
	return NewBrowser(cfg).Browse(ctx)
}

// Browse listens for the configured timeout (or until ctx ends) and returns
// every broker seen, sorted by instance name. Addresses announced on several
// interfaces are merged into one entry.
func (b *Browser) Browse(ctx context.Context) ([]Broker, error) {
	if !b.cfg.Enabled {
		return nil, ErrDisabled
	}

	service := b.cfg.Service
	if service == "" {
		service = DefaultService
	}
	domain := b.cfg.Domain
	if domain == "" {
		domain = DefaultDomain
	}
	timeout := b.cfg.GetTimeout()
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	opts, err := b.clientOptions()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	removed := make(chan *zeroconf.ServiceEntry)
	browseErr := make(chan error, 1)

	go func() {
		browseErr <- b.browse(ctx, service, domain, entries, removed, opts...)
	}()

	found := make(map[string]*Broker)
	for {
		select {
		case entry, ok := <-entries:
			if !ok {
				entries = nil
				continue
			}
			add(found, entry)
		case entry, ok := <-removed:
			if !ok {
				removed = nil
				continue
			}
			drop(found, entry)
		case err := <-browseErr:
			if err != nil && ctx.Err() == nil {
				return nil, fmt.Errorf("browsing %s: %w", service, err)
			}
			return sorted(found), nil
		case <-ctx.Done():
			return sorted(found), nil
		}
	}
}

func (b *Browser) clientOptions() ([]zeroconf.ClientOption, error) {
	var opts []zeroconf.ClientOption
	if b.cfg.Interface != "" {
		iface, err := net.InterfaceByName(b.cfg.Interface)
		if err != nil {
			return nil, fmt.Errorf("discovery interface %q: %w", b.cfg.Interface, err)
		}
		opts = append(opts, zeroconf.SelectIfaces([]net.Interface{*iface}))
	}
	return opts, nil
}

func add(found map[string]*Broker, entry *zeroconf.ServiceEntry) {
	if entry == nil {
		return
	}
	broker := entryToBroker(entry)
	if existing, ok := found[broker.Instance]; ok {
		existing.Addrs = mergeAddrs(existing.Addrs, broker.Addrs)
		return
	}
	found[broker.Instance] = &broker
}

func drop(found map[string]*Broker, entry *zeroconf.ServiceEntry) {
	if entry == nil {
		return
	}
	existing, ok := found[entry.Instance]
	if !ok {
		return
	}
	gone := make(map[string]bool)
	for _, addr := range entryAddrs(entry) {
		gone[addr] = true
	}
	kept := existing.Addrs[:0]
	for _, addr := range existing.Addrs {
		if !gone[addr] {
			kept = append(kept, addr)
		}
	}
	existing.Addrs = kept
	if len(kept) == 0 {
		delete(found, entry.Instance)
	}
}

func entryToBroker(entry *zeroconf.ServiceEntry) Broker {
	txt := parseTXT(entry.Text)
	return Broker{
		Instance: entry.Instance,
		Host:     entry.HostName,
		Port:     entry.Port,
		Addrs:    entryAddrs(entry),
		TLS:      isTLS(entry.Port, txt),
		TXT:      txt,
	}
}

func entryAddrs(entry *zeroconf.ServiceEntry) []string {
	addrs := make([]string, 0, len(entry.AddrIPv4)+len(entry.AddrIPv6))
	for _, ip := range entry.AddrIPv4 {
		addrs = append(addrs, ip.String())
	}
	for _, ip := range entry.AddrIPv6 {
		addrs = append(addrs, ip.String())
	}
	return addrs
}

// parseTXT turns "key=value" strings into a map. Keys are lower-cased.
func parseTXT(records []string) map[string]string {
	if len(records) == 0 {
		return nil
	}
	txt := make(map[string]string, len(records))
	for _, rec := range records {
		key, value, _ := strings.Cut(rec, "=")
		if key == "" {
			continue
		}
		txt[strings.ToLower(key)] = value
	}
	return txt
}

func isTLS(port int, txt map[string]string) bool {
	if v, ok := txt["tls"]; ok {
		on, err := strconv.ParseBool(v)
		return err == nil && on
	}
	return port == tlsPort
}

func mergeAddrs(existing, more []string) []string {
	seen := make(map[string]bool, len(existing))
	for _, addr := range existing {
		seen[addr] = true
	}
	for _, addr := range more {
		if !seen[addr] {
			existing = append(existing, addr)
			seen[addr] = true
		}
	}
	return existing
}

func sorted(found map[string]*Broker) []Broker {
	out := make([]Broker, 0, len(found))
	for _, b := range found {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Instance < out[j].Instance })
	return out
}
