package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/chzyer/readline"
	"github.com/fatih/color"

	"github.com/nerrad567/mqttlink/internal/connection"
	"github.com/nerrad567/mqttlink/internal/infrastructure/logging"
)

// shellTarget is the part of connection.Manager the shell drives.
type shellTarget interface {
	Connect()
	Disconnect()
	SubscribeFilters(filters map[string]connection.SubscribeOptions)
	Unsubscribe(topics ...string)
	Publish(topic string, payload []byte, qos byte)
	PublishRetained(topic string, payload []byte, qos byte)
	Snapshot() connection.Snapshot
	BrokerURL() string
}

var (
	promptColor  = color.New(color.FgCyan, color.Bold)
	okColor      = color.New(color.FgGreen)
	warnColor    = color.New(color.FgYellow)
	errColor     = color.New(color.FgRed)
	topicColor   = color.New(color.FgMagenta)
	dimColor     = color.New(color.Faint)
	headingColor = color.New(color.Bold)
)

func cmdShell(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fset, configPath := newFlagSet("shell", stderr)
	verbose := fset.Bool("v", false, "show client logs")
	if err := fset.Parse(args); err != nil {
		return err
	}

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		return err
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          promptColor.Sprint("mqttlink> "),
		InterruptPrompt: "^C",
		EOFPrompt:       "quit",
		AutoComplete:    shellCompleter(),
		Stdout:          stdout,
		Stderr:          stderr,
	})
	if err != nil {
		return fmt.Errorf("failed to create readline: %w", err)
	}
	defer rl.Close()

	// Logs go through readline so they do not garble the prompt.
	logCfg := cfg.Logging
	logCfg.Format = "text"
	if !*verbose {
		logCfg.Level = "warn"
	}
	log := logging.NewWithWriter(logCfg, version, rl.Stderr())

	out := rl.Stdout()
	mgr, err := newManager(cfg, log, printMessage(out))
	if err != nil {
		return err
	}
	defer mgr.Close()
	mgr.AddObserver(printEvents(out))

	sh := &shell{target: mgr, out: out, defaultQoS: byte(cfg.MQTT.QoS)}
	sh.printHelp()
	fmt.Fprintf(out, "Broker: %s\n", mgr.BrokerURL())

	if len(cfg.MQTT.Subscriptions) > 0 {
		sh.subscribe(cfg.MQTT.Subscriptions, sh.defaultQoS)
	}
	mgr.Connect()

	return sh.loop(ctx, rl)
}

func shellCompleter() *readline.PrefixCompleter {
	return readline.NewPrefixCompleter(
		readline.PcItem("connect"),
		readline.PcItem("disconnect"),
		readline.PcItem("sub"),
		readline.PcItem("unsub"),
		readline.PcItem("pub", readline.PcItem("-r")),
		readline.PcItem("status"),
		readline.PcItem("topics"),
		readline.PcItem("help"),
		readline.PcItem("quit"),
	)
}

// shell interprets console commands against a shellTarget.
type shell struct {
	target     shellTarget
	out        io.Writer
	defaultQoS byte
}

func (s *shell) loop(ctx context.Context, rl *readline.Instance) error {
	// Closing readline unblocks Readline when the process is signalled.
	stop := context.AfterFunc(ctx, func() { rl.Close() })
	defer stop()

	for {
		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				continue
			}
			fmt.Fprintln(s.out, "Exiting...")
			return nil
		}
		if s.execute(line) {
			return nil
		}
	}
}

// execute runs one command line and reports whether the shell should exit.
func (s *shell) execute(line string) (quit bool) {
	parts := strings.Fields(strings.TrimSpace(line))
	if len(parts) == 0 {
		return false
	}
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	switch cmd {
	case "help", "?":
		s.printHelp()

	case "connect", "c":
		s.target.Connect()

	case "disconnect", "d":
		s.target.Disconnect()

	case "sub", "subscribe":
		s.cmdSub(args)

	case "unsub", "unsubscribe":
		if len(args) == 0 {
			errColor.Fprintln(s.out, "usage: unsub <topic> [topic...]")
			return false
		}
		s.target.Unsubscribe(args...)

	case "pub", "publish":
		s.cmdPub(args)

	case "status", "s":
		s.cmdStatus()

	case "topics", "t":
		s.cmdTopics()

	case "quit", "exit", "q":
		fmt.Fprintln(s.out, "Exiting...")
		return true

	default:
		errColor.Fprintf(s.out, "Unknown command: %s (type 'help' for commands)\n", cmd)
	}
	return false
}

func (s *shell) printHelp() {
	fmt.Fprint(s.out, `
mqttlink shell commands:
  connect                          - Connect (resets the reconnect counter)
  disconnect                       - Disconnect and stop reconnecting
  sub <topic> [qos]                - Subscribe; kept across reconnects
  unsub <topic> [topic...]         - Unsubscribe
  pub [-r] <topic> <payload> [qos] - Publish (-r sets the retain flag)
  status                           - Show connection state
  topics                           - List registered subscriptions
  help                             - Show this help
  quit                             - Exit
`)
}

func (s *shell) cmdSub(args []string) {
	if len(args) == 0 || len(args) > 2 {
		errColor.Fprintln(s.out, "usage: sub <topic> [qos]")
		return
	}
	qos := s.defaultQoS
	if len(args) == 2 {
		q, ok := parseQoS(args[1])
		if !ok {
			errColor.Fprintf(s.out, "invalid qos %q (must be 0, 1, or 2)\n", args[1])
			return
		}
		qos = q
	}
	s.subscribe(args[:1], qos)
}

func (s *shell) subscribe(topics []string, qos byte) {
	filters := make(map[string]connection.SubscribeOptions, len(topics))
	for _, t := range topics {
		filters[t] = connection.SubscribeOptions{QoS: qos}
	}
	s.target.SubscribeFilters(filters)
}

func (s *shell) cmdPub(args []string) {
	retained := false
	if len(args) > 0 && args[0] == "-r" {
		retained = true
		args = args[1:]
	}
	if len(args) < 2 || len(args) > 3 {
		errColor.Fprintln(s.out, "usage: pub [-r] <topic> <payload> [qos]")
		return
	}
	qos := s.defaultQoS
	if len(args) == 3 {
		q, ok := parseQoS(args[2])
		if !ok {
			errColor.Fprintf(s.out, "invalid qos %q (must be 0, 1, or 2)\n", args[2])
			return
		}
		qos = q
	}

	topic, payload := args[0], []byte(args[1])
	if retained {
		s.target.PublishRetained(topic, payload, qos)
	} else {
		s.target.Publish(topic, payload, qos)
	}
}

func (s *shell) cmdStatus() {
	snap := s.target.Snapshot()
	headingColor.Fprintln(s.out, "Connection")
	fmt.Fprintf(s.out, "  Broker:        %s\n", s.target.BrokerURL())
	fmt.Fprintf(s.out, "  State:         %s\n", stateColor(snap.State).Sprint(snap.State))
	fmt.Fprintf(s.out, "  Attempts:      %d\n", snap.Attempts)
	fmt.Fprintf(s.out, "  Subscriptions: %d\n", len(snap.Subscriptions))
	if snap.LastError != nil {
		fmt.Fprintf(s.out, "  Last error:    %s\n", errColor.Sprint(snap.LastError))
	}
}

func (s *shell) cmdTopics() {
	topics := s.target.Snapshot().Subscriptions
	if len(topics) == 0 {
		dimColor.Fprintln(s.out, "no subscriptions")
		return
	}
	for _, t := range topics {
		topicColor.Fprintf(s.out, "  %s\n", t)
	}
}

func parseQoS(s string) (byte, bool) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 || n > 2 {
		return 0, false
	}
	return byte(n), true
}

func stateColor(state connection.State) *color.Color {
	switch state {
	case connection.StateConnected:
		return okColor
	case connection.StateDisconnected:
		return errColor
	default:
		return warnColor
	}
}

// printMessage returns a handler that writes received messages to w.
func printMessage(w io.Writer) connection.MessageHandler {
	var mu sync.Mutex
	return func(topic string, payload []byte, msg connection.Message) {
		mu.Lock()
		defer mu.Unlock()
		flags := "q" + strconv.Itoa(int(msg.Qos()))
		if msg.Retained() {
			flags += " retained"
		}
		fmt.Fprintf(w, "%s %s [%s] %s\n",
			dimColor.Sprint(time.Now().Format("15:04:05")),
			topicColor.Sprint(topic),
			flags,
			payload,
		)
	}
}

// printEvents returns an observer that writes lifecycle events to w.
func printEvents(w io.Writer) connection.Observer {
	return connection.ObserverFunc(func(ev connection.Event) {
		fmt.Fprintln(w, formatEvent(ev))
	})
}

func formatEvent(ev connection.Event) string {
	switch ev.Kind {
	case connection.EventStateChanged:
		return fmt.Sprintf("* %s -> %s", ev.Previous, stateColor(ev.State).Sprint(ev.State))
	case connection.EventError:
		return errColor.Sprintf("! %v", ev.Err)
	case connection.EventReconnectScheduled:
		return warnColor.Sprintf("* reconnect attempt %d in %s", ev.Attempt, ev.Delay)
	case connection.EventReconnectExhausted:
		return errColor.Sprintf("! giving up after %d attempts: %v", ev.Attempt, ev.Err)
	case connection.EventSubscriptionsChanged:
		return dimColor.Sprintf("* subscriptions: %s", strings.Join(ev.Topics, ", "))
	default:
		return fmt.Sprintf("* %s", ev.Kind)
	}
}
