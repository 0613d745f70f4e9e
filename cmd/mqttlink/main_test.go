package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"

	"github.com/nerrad567/mqttlink/internal/connection"
	"github.com/nerrad567/mqttlink/internal/discovery"
	"github.com/nerrad567/mqttlink/internal/infrastructure/database"
	"github.com/nerrad567/mqttlink/internal/journal"
	"github.com/nerrad567/mqttlink/internal/trace"
)

func TestMain(m *testing.M) {
	color.NoColor = true
	os.Exit(m.Run())
}

// writeConfig writes a config pointing at a closed local port.
func writeConfig(t *testing.T, dir string) string {
	t.Helper()
	content := `
mqtt:
  broker:
    host: "127.0.0.1"
    port: 1
    client_id: "mqttlink-test"
  connect_timeout_ms: 2000
  subscriptions:
    - "sensors/#"
logging:
  level: debug
  output: discard
journal:
  enabled: true
  path: "` + filepath.Join(dir, "journal.db") + `"
statusfeed:
  enabled: false
trace:
  enabled: true
  path: "` + filepath.Join(dir, "run.trace") + `"
`
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

// TestRun_UnknownCommand verifies unknown subcommands are rejected.
func TestRun_UnknownCommand(t *testing.T) {
	var stdout, stderr bytes.Buffer
	err := run(context.Background(), []string{"frobnicate"}, &stdout, &stderr)
	if err == nil {
		t.Fatal("run() should fail for an unknown command")
	}
	if !strings.Contains(stderr.String(), "Usage: mqttlink") {
		t.Errorf("usage not printed, stderr = %q", stderr.String())
	}
}

func TestRun_Version(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if err := run(context.Background(), []string{"version"}, &stdout, &stderr); err != nil {
		t.Fatalf("run(version) error = %v", err)
	}
	if !strings.Contains(stdout.String(), "mqttlink "+version) {
		t.Errorf("stdout = %q", stdout.String())
	}
}

// TestRun_InvalidConfig verifies run fails with an invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	var stdout, stderr bytes.Buffer
	err := run(context.Background(), []string{"run", "-config", "/nonexistent/path/config.yaml"}, &stdout, &stderr)
	if err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
	if !strings.Contains(err.Error(), "loading config") {
		t.Errorf("error = %v, want loading config error", err)
	}
}

// TestRun_ConfigFromEnv verifies MQTTLINK_CONFIG is the -config default.
func TestRun_ConfigFromEnv(t *testing.T) {
	t.Setenv(configEnvVar, "/nonexistent/from-env.yaml")

	var stdout, stderr bytes.Buffer
	err := run(context.Background(), []string{"run"}, &stdout, &stderr)
	if err == nil || !strings.Contains(err.Error(), "from-env.yaml") {
		t.Fatalf("error = %v, want it to name the env config file", err)
	}
}

// TestRun_ShutdownRecordsJournalAndTrace runs the client against a closed
// port and checks the journal and trace saw the failed connection.
func TestRun_ShutdownRecordsJournalAndTrace(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir)
	// Reconnection off so the run only ends on cancel.
	t.Setenv("MQTTLINK_MQTT_RECONNECT_AUTO", "false")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		var stdout, stderr bytes.Buffer
		done <- run(ctx, []string{"run", "-config", path}, &stdout, &stderr)
	}()

	time.Sleep(500 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run() error = %v, want nil on cancel", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("run() did not return after cancel")
	}

	db, err := database.Open(context.Background(), database.Config{Path: filepath.Join(dir, "journal.db")})
	if err != nil {
		t.Fatalf("reopening journal: %v", err)
	}
	defer db.Close()

	store := journal.NewStore(db, "test", nil)
	defer store.Close()
	entries, err := store.Recent(context.Background(), 100)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if !hasKind(entries, connection.EventSubscriptionsChanged) {
		t.Error("journal missing subscriptions_changed entry")
	}
	if !hasKind(entries, connection.EventError) {
		t.Error("journal missing error entry for the refused connection")
	}

	r, err := trace.Open(filepath.Join(dir, "run.trace"))
	if err != nil {
		t.Fatalf("opening trace: %v", err)
	}
	defer r.Close()
	records, err := r.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if len(records) == 0 {
		t.Fatal("trace file is empty")
	}
	if records[0].Kind != trace.KindEvent {
		t.Errorf("first record kind = %v, want event", records[0].Kind)
	}
}

// TestRun_ExitsWhenReconnectExhausted verifies the client gives up with an
// error once the reconnect cap is reached.
func TestRun_ExitsWhenReconnectExhausted(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir)
	t.Setenv("MQTTLINK_MQTT_RECONNECT_MAX_ATTEMPTS", "2")
	t.Setenv("MQTTLINK_MQTT_RECONNECT_PERIOD_MS", "10")
	t.Setenv("MQTTLINK_MQTT_RECONNECT_MAX_DELAY_MS", "20")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	var stdout, stderr bytes.Buffer
	err := run(ctx, []string{"run", "-config", path}, &stdout, &stderr)
	if !errors.Is(err, connection.ErrReconnectExhausted) {
		t.Fatalf("run() error = %v, want ErrReconnectExhausted", err)
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()

	if err := loadDotEnv(filepath.Join(dir, "missing.env")); err != nil {
		t.Fatalf("missing .env should be ignored, got %v", err)
	}

	const key = "MQTTLINK_DOTENV_TEST_VALUE"
	t.Cleanup(func() { os.Unsetenv(key) })

	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte(key+"=from-file\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := loadDotEnv(path); err != nil {
		t.Fatalf("loadDotEnv() error = %v", err)
	}
	if got := os.Getenv(key); got != "from-file" {
		t.Errorf("%s = %q, want from-file", key, got)
	}
}

func TestDumpTrace(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dump.trace")
	rec, err := trace.NewRecorder(path, true)
	if err != nil {
		t.Fatalf("NewRecorder() error = %v", err)
	}
	rec.OnEvent(connection.Event{
		Kind:     connection.EventStateChanged,
		Time:     time.Now(),
		State:    connection.StateConnected,
		Previous: connection.StateConnecting,
	})
	rec.OnEvent(connection.Event{
		Kind:    connection.EventReconnectScheduled,
		Time:    time.Now(),
		State:   connection.StateReconnecting,
		Attempt: 2,
		Delay:   1500 * time.Millisecond,
	})
	rec.RecordMessage("sensors/kitchen/temp", []byte("21.5"), nil)
	rec.RecordMessage("sensors/blob", []byte{0xff, 0xfe, 0x00}, nil)
	if err := rec.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	var out bytes.Buffer
	if err := dumpTrace(path, trace.Filter{}, &out); err != nil {
		t.Fatalf("dumpTrace() error = %v", err)
	}
	got := out.String()
	for _, want := range []string{
		"connecting -> connected",
		"attempt 2 in 1.5s",
		"sensors/kitchen/temp [q0] 21.5",
		"<3 bytes binary>",
		"4 records",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("dump missing %q:\n%s", want, got)
		}
	}

	out.Reset()
	if err := dumpTrace(path, trace.Filter{Topic: "sensors/kitchen/#"}, &out); err != nil {
		t.Fatalf("dumpTrace(filtered) error = %v", err)
	}
	if !strings.Contains(out.String(), "1 records") {
		t.Errorf("filtered dump = %q, want 1 record", out.String())
	}
}

func TestCmdTrace_Usage(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if err := cmdTrace(nil, &stdout, &stderr); err == nil {
		t.Error("cmdTrace() without a file should fail")
	}
	if err := cmdTrace([]string{"-kind", "bogus", "x.trace"}, &stdout, &stderr); err == nil {
		t.Error("cmdTrace() with a bad kind should fail")
	}
}

func TestPrintBrokers(t *testing.T) {
	brokers := []discovery.Broker{
		{Instance: "mosquitto", Host: "pi.local.", Port: 1883, Addrs: []string{"192.168.1.2"}},
	}

	var out bytes.Buffer
	if err := printBrokers(&out, brokers, false); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "tcp://192.168.1.2:1883") {
		t.Errorf("table = %q", out.String())
	}

	out.Reset()
	if err := printBrokers(&out, brokers, true); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), `"instance": "mosquitto"`) {
		t.Errorf("json = %q", out.String())
	}

	out.Reset()
	if err := printBrokers(&out, nil, false); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "no brokers found") {
		t.Errorf("empty output = %q", out.String())
	}
}

func hasKind(entries []journal.Entry, kind connection.EventKind) bool {
	for _, e := range entries {
		if e.Kind == kind {
			return true
		}
	}
	return false
}
