package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/nerrad567/mqttlink/internal/discovery"
	"github.com/nerrad567/mqttlink/internal/infrastructure/config"
)

func cmdDiscover(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fset, configPath := newFlagSet("discover", stderr)
	timeout := fset.Duration("timeout", 0, "how long to listen (default from config)")
	iface := fset.String("iface", "", "network interface to browse on")
	asJSON := fset.Bool("json", false, "print brokers as JSON")
	if err := fset.Parse(args); err != nil {
		return err
	}

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		return err
	}

	dcfg := cfg.Discovery
	// Asking for discovery explicitly overrides the config switch.
	dcfg.Enabled = true
	if *timeout > 0 {
		dcfg.TimeoutSeconds = int((*timeout + time.Second - 1) / time.Second)
	}
	if *iface != "" {
		dcfg.Interface = *iface
	}

	dimColor.Fprintf(stderr, "browsing %s for %s...\n", serviceName(dcfg), dcfg.GetTimeout())
	brokers, err := discovery.Browse(ctx, dcfg)
	if err != nil {
		return err
	}
	return printBrokers(stdout, brokers, *asJSON)
}

func serviceName(cfg config.DiscoveryConfig) string {
	service, domain := cfg.Service, cfg.Domain
	if service == "" {
		service = discovery.DefaultService
	}
	if domain == "" {
		domain = discovery.DefaultDomain
	}
	return service + "." + domain
}

func printBrokers(w io.Writer, brokers []discovery.Broker, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(brokers)
	}

	if len(brokers) == 0 {
		warnColor.Fprintln(w, "no brokers found")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "INSTANCE\tURL\tHOST\tADDRESSES")
	for _, b := range brokers {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", b.Instance, b.URL(), strings.TrimSuffix(b.Host, "."), strings.Join(b.Addrs, ", "))
	}
	return tw.Flush()
}
