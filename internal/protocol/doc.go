// Package protocol implements the UDP audio datagram format used for network
// capture.
//
// A datagram is a 12-byte big-endian header followed by little-endian PCM:
//
//	[Magic:4 "ATLK"][Version:1][Encoding:1][SampleCount:2][Sequence:4][PCM:N]
//
// Encoding 0 is float32, encoding 1 is signed 16-bit. The payload length must
// equal SampleCount times the sample width.
package protocol
