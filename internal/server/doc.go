// Package server implements the network surfaces of autotalk: UDP audio
// ingest, the HTTP monitoring API and the websocket transcript stream.
package server
