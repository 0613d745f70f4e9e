// Package logging builds the structured logger shared by every mqttlink
// component.
//
// Logger embeds *slog.Logger, so it satisfies the small Debug/Info/Warn/Error
// interfaces the connection, journal and mqtt packages declare. Each record
// carries service and version attributes; Component adds a component name.
//
//	logging:
//	  level: info        # debug, info, warn, error
//	  format: json       # json or text
//	  output: stdout     # stdout, stderr or discard
//
// Never log broker passwords or InfluxDB tokens.
package logging
