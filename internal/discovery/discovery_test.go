package discovery

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/enbility/zeroconf/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/mqttlink/internal/infrastructure/config"
)

func testConfig() config.DiscoveryConfig {
	return config.DiscoveryConfig{
		Enabled:        true,
		Service:        DefaultService,
		Domain:         DefaultDomain,
		TimeoutSeconds: 1,
	}
}

func entry(instance, host string, port int, ipv4 string, txt ...string) *zeroconf.ServiceEntry {
	e := &zeroconf.ServiceEntry{
		ServiceRecord: zeroconf.ServiceRecord{Instance: instance, Service: DefaultService, Domain: DefaultDomain},
	}
	e.HostName = host
	e.Port = port
	if ipv4 != "" {
		e.AddrIPv4 = []net.IP{net.ParseIP(ipv4)}
	}
	e.Text = txt
	return e
}

// scripted returns a BrowseFunc that announces adds, then removes, then returns.
func scripted(adds, removes []*zeroconf.ServiceEntry) BrowseFunc {
	return func(ctx context.Context, _, _ string, entries, removed chan *zeroconf.ServiceEntry, _ ...zeroconf.ClientOption) error {
		for _, e := range adds {
			select {
			case entries <- e:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		for _, e := range removes {
			select {
			case removed <- e:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	}
}

func TestBrowse_Disabled(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false

	_, err := Browse(context.Background(), cfg)
	assert.ErrorIs(t, err, ErrDisabled)
}

func TestBrowse_CollectsAndSorts(t *testing.T) {
	b := NewBrowser(testConfig())
	b.browse = scripted([]*zeroconf.ServiceEntry{
		entry("zeta", "zeta.local.", 1883, "192.168.1.20"),
		entry("alpha", "alpha.local.", 8883, "192.168.1.10", "tls=1", "Version=5"),
	}, nil)

	brokers, err := b.Browse(context.Background())
	require.NoError(t, err)
	require.Len(t, brokers, 2)

	assert.Equal(t, "alpha", brokers[0].Instance)
	assert.True(t, brokers[0].TLS)
	assert.Equal(t, "5", brokers[0].TXT["version"])
	assert.Equal(t, "ssl://192.168.1.10:8883", brokers[0].URL())

	assert.Equal(t, "zeta", brokers[1].Instance)
	assert.False(t, brokers[1].TLS)
	assert.Equal(t, "tcp://192.168.1.20:1883", brokers[1].URL())
}

func TestBrowse_MergesAddressesAcrossInterfaces(t *testing.T) {
	b := NewBrowser(testConfig())
	b.browse = scripted([]*zeroconf.ServiceEntry{
		entry("mosquitto", "pi.local.", 1883, "10.0.0.2"),
		entry("mosquitto", "pi.local.", 1883, "192.168.1.2"),
		entry("mosquitto", "pi.local.", 1883, "10.0.0.2"),
	}, nil)

	brokers, err := b.Browse(context.Background())
	require.NoError(t, err)
	require.Len(t, brokers, 1)
	assert.Equal(t, []string{"10.0.0.2", "192.168.1.2"}, brokers[0].Addrs)
}

func TestBrowse_RemovedEntries(t *testing.T) {
	b := NewBrowser(testConfig())
	b.browse = scripted(
		[]*zeroconf.ServiceEntry{
			entry("keep", "keep.local.", 1883, "10.0.0.1"),
			entry("gone", "gone.local.", 1883, "10.0.0.9"),
		},
		[]*zeroconf.ServiceEntry{
			entry("gone", "gone.local.", 1883, "10.0.0.9"),
			entry("unknown", "x.local.", 1883, "10.0.0.7"),
		},
	)

	brokers, err := b.Browse(context.Background())
	require.NoError(t, err)
	require.Len(t, brokers, 1)
	assert.Equal(t, "keep", brokers[0].Instance)
}

func TestBrowse_BrowseError(t *testing.T) {
	b := NewBrowser(testConfig())
	boom := errors.New("no multicast interface")
	b.browse = func(context.Context, string, string, chan *zeroconf.ServiceEntry, chan *zeroconf.ServiceEntry, ...zeroconf.ClientOption) error {
		return boom
	}

	_, err := b.Browse(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestBrowse_StopsAtTimeout(t *testing.T) {
	b := NewBrowser(testConfig())
	b.browse = func(ctx context.Context, _, _ string, entries, _ chan *zeroconf.ServiceEntry, _ ...zeroconf.ClientOption) error {
		select {
		case entries <- entry("slow", "slow.local.", 1883, "10.0.0.3"):
		case <-ctx.Done():
		}
		<-ctx.Done()
		return ctx.Err()
	}

	start := time.Now()
	brokers, err := b.Browse(context.Background())
	require.NoError(t, err)
	assert.Len(t, brokers, 1)
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestBrowse_UnknownInterface(t *testing.T) {
	cfg := testConfig()
	cfg.Interface = "does-not-exist0"

	_, err := Browse(context.Background(), cfg)
	assert.Error(t, err)
}

func TestBroker_URLFallsBackToHostname(t *testing.T) {
	b := Broker{Host: "broker.local.", Port: 1883}
	assert.Equal(t, "tcp://broker.local:1883", b.URL())

	v6 := Broker{Host: "x.local.", Port: 1883, Addrs: []string{"fe80::1"}}
	assert.Equal(t, "tcp://[fe80::1]:1883", v6.URL())
}

func TestIsTLS(t *testing.T) {
	tests := []struct {
		name string
		port int
		txt  map[string]string
		want bool
	}{
		{"plain port", 1883, nil, false},
		{"tls port", 8883, nil, true},
		{"txt overrides port", 8883, map[string]string{"tls": "0"}, false},
		{"txt enables", 1883, map[string]string{"tls": "true"}, true},
		{"garbage txt", 1883, map[string]string{"tls": "maybe"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isTLS(tt.port, tt.txt))
		})
	}
}
