package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/Ireoo/autotalk/internal/audio"
)

const (
	// Magic opens every datagram.
	Magic = "ATLK"
	// Version is the only supported datagram version.
	Version = 0x01

	// Sample encodings
	EncodingFloat32 = 0x00 // little-endian IEEE 754
	EncodingInt16   = 0x01 // little-endian two's complement

	HeaderSize = 12 // 4 + 1 + 1 + 2 + 4 bytes

	// Sample limits that keep a datagram within one UDP payload.
	MaxSamples      = (65507 - HeaderSize) / 4
	MaxInt16Samples = (65507 - HeaderSize) / 2
)

var (
	ErrShortDatagram       = errors.New("protocol: datagram too short")
	ErrInvalidMagic        = errors.New("protocol: invalid magic")
	ErrUnsupportedVersion  = errors.New("protocol: unsupported version")
	ErrUnsupportedEncoding = errors.New("protocol: unsupported encoding")
	ErrLengthMismatch      = errors.New("protocol: payload length mismatch")
)

// Header represents the 12-byte datagram header
type Header struct {
	Version     uint8
	Encoding    uint8
	SampleCount uint16
	Sequence    uint32
}

// Datagram is a parsed audio datagram. Payload aliases the input buffer.
type Datagram struct {
	Header  Header
	Payload []byte
}

// ParseHeader parses the datagram header
func ParseHeader(data []byte) (Header, error) {
	if len(data) < HeaderSize {
		return Header{}, fmt.Errorf("%w: expected at least %d bytes, got %d", ErrShortDatagram, HeaderSize, len(data))
	}
	if string(data[0:4]) != Magic {
		return Header{}, fmt.Errorf("%w: % x", ErrInvalidMagic, data[0:4])
	}

	return Header{
		Version:     data[4],
		Encoding:    data[5],
		SampleCount: binary.BigEndian.Uint16(data[6:8]),
		Sequence:    binary.BigEndian.Uint32(data[8:12]),
	}, nil
}

// ParseDatagram parses and validates a complete datagram
func ParseDatagram(data []byte) (*Datagram, error) {
	header, err := ParseHeader(data)
	if err != nil {
		return nil, err
	}
	if err := ValidateHeader(header); err != nil {
		return nil, err
	}

	payload := data[HeaderSize:]
	if want := int(header.SampleCount) * SampleWidth(header.Encoding); len(payload) != want {
		return nil, fmt.Errorf("%w: header says %d samples (%d bytes), got %d bytes",
			ErrLengthMismatch, header.SampleCount, want, len(payload))
	}

	return &Datagram{Header: header, Payload: payload}, nil
}

// ValidateHeader validates the header fields
func ValidateHeader(h Header) error {
	if h.Version != Version {
		return fmt.Errorf("%w: 0x%02x", ErrUnsupportedVersion, h.Version)
	}
	if !IsValidEncoding(h.Encoding) {
		return fmt.Errorf("%w: 0x%02x", ErrUnsupportedEncoding, h.Encoding)
	}
	return nil
}

// IsValidEncoding checks if the encoding is supported
func IsValidEncoding(enc uint8) bool {
	return enc == EncodingFloat32 || enc == EncodingInt16
}

// SampleWidth returns the byte width of one sample, or 0 for unknown encodings.
func SampleWidth(enc uint8) int {
	switch enc {
	case EncodingFloat32:
		return 4
	case EncodingInt16:
		return 2
	default:
		return 0
	}
}

// Samples decodes the payload into normalized float32 samples.
func (d *Datagram) Samples() ([]float32, error) {
	switch d.Header.Encoding {
	case EncodingFloat32:
		return audio.DecodeFloat32LE(d.Payload)
	case EncodingInt16:
		return audio.DecodeInt16LE(d.Payload)
	default:
		return nil, fmt.Errorf("%w: 0x%02x", ErrUnsupportedEncoding, d.Header.Encoding)
	}
}

// EncodeFloat32 builds a float32 datagram.
func EncodeFloat32(seq uint32, samples []float32) ([]byte, error) {
	if len(samples) > MaxSamples {
		return nil, fmt.Errorf("too many samples for one datagram: %d (max %d)", len(samples), MaxSamples)
	}
	buf := make([]byte, HeaderSize+4*len(samples))
	putHeader(buf, EncodingFloat32, len(samples), seq)
	for i, s := range samples {
		binary.LittleEndian.PutUint32(buf[HeaderSize+4*i:], math.Float32bits(s))
	}
	return buf, nil
}

// EncodeInt16 builds a 16-bit datagram. Samples are clipped to [-1, 1].
func EncodeInt16(seq uint32, samples []float32) ([]byte, error) {
	if len(samples) > MaxInt16Samples {
		return nil, fmt.Errorf("too many samples for one datagram: %d (max %d)", len(samples), MaxInt16Samples)
	}
	buf := make([]byte, HeaderSize+2*len(samples))
	putHeader(buf, EncodingInt16, len(samples), seq)
	for i, s := range samples {
		v := max(-1, min(1, s))
		binary.LittleEndian.PutUint16(buf[HeaderSize+2*i:], uint16(int16(v*math.MaxInt16)))
	}
	return buf, nil
}

func putHeader(buf []byte, enc uint8, n int, seq uint32) {
	copy(buf[0:4], Magic)
	buf[4] = Version
	buf[5] = enc
	binary.BigEndian.PutUint16(buf[6:8], uint16(n))
	binary.BigEndian.PutUint32(buf[8:12], seq)
}

// String returns a human-readable representation of the header
func (h Header) String() string {
	var encoding string
	switch h.Encoding {
	case EncodingFloat32:
		encoding = "f32le"
	case EncodingInt16:
		encoding = "s16le"
	default:
		encoding = fmt.Sprintf("Unknown(0x%02x)", h.Encoding)
	}
	return fmt.Sprintf("Header{Version:%d, Encoding:%s, Samples:%d, Sequence:%d}",
		h.Version, encoding, h.SampleCount, h.Sequence)
}
