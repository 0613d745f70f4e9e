package main

import (
	"errors"
	"fmt"
	"io"
	"time"
	"unicode/utf8"

	"github.com/nerrad567/mqttlink/internal/connection"
	"github.com/nerrad567/mqttlink/internal/trace"
)

// maxPayloadPreview bounds how much of a payload the dump prints.
const maxPayloadPreview = 120

func cmdTrace(args []string, stdout, stderr io.Writer) error {
	fset, _ := newFlagSet("trace", stderr)
	kind := fset.String("kind", "", "only show records of this kind (event or message)")
	topic := fset.String("topic", "", "only show messages matching this topic filter")
	since := fset.Duration("since", 0, "only show records from the last duration (e.g. 15m)")
	if err := fset.Parse(args); err != nil {
		return err
	}
	if fset.NArg() != 1 {
		return errors.New("usage: mqttlink trace [flags] <file>")
	}

	filter := trace.Filter{Topic: *topic}
	switch *kind {
	case "":
	case "event":
		filter.Kind = trace.KindEvent
	case "message":
		filter.Kind = trace.KindMessage
	default:
		return fmt.Errorf("invalid -kind %q (must be event or message)", *kind)
	}
	if *since > 0 {
		filter.Since = time.Now().Add(-*since)
	}

	return dumpTrace(fset.Arg(0), filter, stdout)
}

// dumpTrace prints every record in path matching filter, one per line.
func dumpTrace(path string, filter trace.Filter, w io.Writer) error {
	r, err := trace.OpenFiltered(path, filter)
	if err != nil {
		return err
	}
	defer r.Close()

	count := 0
	for {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			// A torn final record is expected after a crash.
			if errors.Is(err, io.ErrUnexpectedEOF) {
				warnColor.Fprintln(w, "(trace ends with a truncated record)")
				break
			}
			return err
		}
		fmt.Fprintln(w, formatRecord(rec))
		count++
	}

	dimColor.Fprintf(w, "%d records\n", count)
	return nil
}

func formatRecord(rec trace.Record) string {
	ts := dimColor.Sprint(rec.Time.Local().Format("2006-01-02 15:04:05.000"))

	if rec.Kind == trace.KindMessage {
		flags := fmt.Sprintf("q%d", rec.QoS)
		if rec.Retained {
			flags += " retained"
		}
		if rec.Duplicate {
			flags += " dup"
		}
		return fmt.Sprintf("%s %s %s [%s] %s", ts, topicColor.Sprint("MSG"),
			topicColor.Sprint(rec.Topic), flags, previewPayload(rec.Payload))
	}

	line := fmt.Sprintf("%s %s %-21s", ts, headingColor.Sprint("EVT"), rec.Event)
	switch connection.EventKind(rec.Event) {
	case connection.EventStateChanged:
		state, _ := connection.ParseState(rec.State)
		line += fmt.Sprintf(" %s -> %s", rec.Previous, stateColor(state).Sprint(rec.State))
	case connection.EventReconnectScheduled:
		line += warnColor.Sprintf(" attempt %d in %s", rec.Attempt, time.Duration(rec.DelayMs)*time.Millisecond)
	case connection.EventSubscriptionsChanged:
		line += fmt.Sprintf(" %v", rec.Topics)
	}
	if rec.Error != "" {
		line += " " + errColor.Sprint(rec.Error)
	}
	return line
}

// previewPayload shows text payloads inline and binary ones as a size.
func previewPayload(payload []byte) string {
	if !utf8.Valid(payload) {
		return fmt.Sprintf("<%d bytes binary>", len(payload))
	}
	if len(payload) > maxPayloadPreview {
		return string(payload[:maxPayloadPreview]) + "..."
	}
	return string(payload)
}
