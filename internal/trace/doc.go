// Package trace writes connection lifecycle events and received messages to
// a file as a stream of CBOR records, and reads them back.
//
// A Recorder is a connection.Observer; RecordMessage has the shape of a
// connection.MessageHandler so it can sit in front of the real handler.
package trace
