package protocol

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"
)

func header(version, enc uint8, n uint16, seq uint32) []byte {
	buf := make([]byte, HeaderSize)
	copy(buf, Magic)
	buf[4] = version
	buf[5] = enc
	binary.BigEndian.PutUint16(buf[6:8], n)
	binary.BigEndian.PutUint32(buf[8:12], seq)
	return buf
}

func TestParseHeader(t *testing.T) {
	tests := []struct {
		name      string
		data      []byte
		expected  Header
		expectErr error
	}{
		{
			name:     "valid float32 header",
			data:     header(Version, EncodingFloat32, 512, 12345),
			expected: Header{Version: Version, Encoding: EncodingFloat32, SampleCount: 512, Sequence: 12345},
		},
		{
			name: "big-endian fields",
			data: []byte{'A', 'T', 'L', 'K', 0x01, 0x01, 0x01, 0x00, 0x12, 0x34, 0x56, 0x78},
			expected: Header{
				Version:     1,
				Encoding:    EncodingInt16,
				SampleCount: 256,
				Sequence:    305419896,
			},
		},
		{
			name:      "too short",
			data:      []byte{'A', 'T'},
			expectErr: ErrShortDatagram,
		},
		{
			name:      "empty",
			data:      []byte{},
			expectErr: ErrShortDatagram,
		},
		{
			name:      "wrong magic",
			data:      append([]byte("TLV!"), make([]byte, 8)...),
			expectErr: ErrInvalidMagic,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ParseHeader(tt.data)
			if tt.expectErr != nil {
				if !errors.Is(err, tt.expectErr) {
					t.Errorf("Expected error %v, got %v", tt.expectErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Expected no error but got: %v", err)
			}
			if result != tt.expected {
				t.Errorf("Expected header %+v, got %+v", tt.expected, result)
			}
		})
	}
}

func TestParseDatagram(t *testing.T) {
	tests := []struct {
		name      string
		data      []byte
		expectErr error
	}{
		{
			name: "float32 payload",
			data: append(header(Version, EncodingFloat32, 2, 1), make([]byte, 8)...),
		},
		{
			name: "int16 payload",
			data: append(header(Version, EncodingInt16, 3, 1), make([]byte, 6)...),
		},
		{
			name: "empty payload",
			data: header(Version, EncodingInt16, 0, 1),
		},
		{
			name:      "unsupported version",
			data:      append(header(2, EncodingFloat32, 1, 1), make([]byte, 4)...),
			expectErr: ErrUnsupportedVersion,
		},
		{
			name:      "unsupported encoding",
			data:      append(header(Version, 0x07, 1, 1), make([]byte, 4)...),
			expectErr: ErrUnsupportedEncoding,
		},
		{
			name:      "payload shorter than sample count",
			data:      append(header(Version, EncodingFloat32, 4, 1), make([]byte, 8)...),
			expectErr: ErrLengthMismatch,
		},
		{
			name:      "odd int16 payload",
			data:      append(header(Version, EncodingInt16, 1, 1), make([]byte, 3)...),
			expectErr: ErrLengthMismatch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := ParseDatagram(tt.data)
			if tt.expectErr != nil {
				if !errors.Is(err, tt.expectErr) {
					t.Errorf("Expected error %v, got %v", tt.expectErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Expected no error but got: %v", err)
			}
			if len(d.Payload) != int(d.Header.SampleCount)*SampleWidth(d.Header.Encoding) {
				t.Errorf("Unexpected payload length %d", len(d.Payload))
			}
		})
	}
}

func TestEncodeFloat32RoundTrip(t *testing.T) {
	in := []float32{0, 0.5, -0.25, 1}
	data, err := EncodeFloat32(42, in)
	if err != nil {
		t.Fatalf("EncodeFloat32 failed: %v", err)
	}

	d, err := ParseDatagram(data)
	if err != nil {
		t.Fatalf("ParseDatagram failed: %v", err)
	}
	if d.Header.Sequence != 42 || d.Header.SampleCount != 4 {
		t.Errorf("Unexpected header: %s", d.Header)
	}

	out, err := d.Samples()
	if err != nil {
		t.Fatalf("Samples failed: %v", err)
	}
	for i := range in {
		if out[i] != in[i] {
			t.Errorf("sample %d: expected %g, got %g", i, in[i], out[i])
		}
	}
}

func TestEncodeInt16Clips(t *testing.T) {
	data, err := EncodeInt16(7, []float32{2, -2, 0.5})
	if err != nil {
		t.Fatalf("EncodeInt16 failed: %v", err)
	}

	d, err := ParseDatagram(data)
	if err != nil {
		t.Fatalf("ParseDatagram failed: %v", err)
	}
	out, err := d.Samples()
	if err != nil {
		t.Fatalf("Samples failed: %v", err)
	}

	if math.Abs(float64(out[0])-32767.0/32768.0) > 1e-6 {
		t.Errorf("Expected positive clip, got %g", out[0])
	}
	if math.Abs(float64(out[1])+32767.0/32768.0) > 1e-6 {
		t.Errorf("Expected negative clip, got %g", out[1])
	}
	if math.Abs(float64(out[2])-0.5) > 1e-3 {
		t.Errorf("Expected ~0.5, got %g", out[2])
	}
}

func TestEncodeRejectsOversizedDatagram(t *testing.T) {
	if _, err := EncodeFloat32(1, make([]float32, MaxSamples+1)); err == nil {
		t.Error("Expected error for oversized float32 datagram")
	}
}

func TestHeaderString(t *testing.T) {
	h := Header{Version: 1, Encoding: EncodingInt16, SampleCount: 160, Sequence: 9}
	expected := "Header{Version:1, Encoding:s16le, Samples:160, Sequence:9}"
	if h.String() != expected {
		t.Errorf("Expected %s, got %s", expected, h.String())
	}

	h.Encoding = 0x09
	if got := h.String(); got != "Header{Version:1, Encoding:Unknown(0x09), Samples:160, Sequence:9}" {
		t.Errorf("Unexpected string for unknown encoding: %s", got)
	}
}
