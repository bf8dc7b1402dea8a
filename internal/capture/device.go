package capture

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"
)

// ErrNoDevice is returned when the requested capture device index does not exist.
var ErrNoDevice = errors.New("capture: no such device")

// DeviceInfo describes an input device.
type DeviceInfo struct {
	Index     int    `json:"index"`
	Name      string `json:"name"`
	IsDefault bool   `json:"is_default"`
}

// Writer receives little-endian float32 PCM from the device callback.
// audio.FrameAssembler satisfies it.
type Writer interface {
	WriteFloat32LE(data []byte) (int, error)
}

// Config selects the device and stream format.
type Config struct {
	Device     int // -1 for the system default
	SampleRate int
}

// Stats reports capture counters.
type Stats struct {
	Running      bool   `json:"running"`
	Device       string `json:"device"`
	Callbacks    uint64 `json:"callbacks"`
	Samples      uint64 `json:"samples"`
	FramesQueued uint64 `json:"frames_queued"`
	DecodeErrors uint64 `json:"decode_errors"`
}

// Microphone captures mono float32 audio from one device.
type Microphone struct {
	cfg    Config
	out    Writer
	logger *slog.Logger

	ctx    *malgo.AllocatedContext
	device *malgo.Device
	name   string

	callbacks    atomic.Uint64
	samples      atomic.Uint64
	framesQueued atomic.Uint64
	decodeErrors atomic.Uint64

	mu      sync.Mutex
	running bool
}

// NewMicrophone creates a capture source writing into out.
func NewMicrophone(cfg Config, out Writer, logger *slog.Logger) (*Microphone, error) {
	if out == nil {
		return nil, fmt.Errorf("writer cannot be nil")
	}
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", cfg.SampleRate)
	}
	return &Microphone{cfg: cfg, out: out, logger: logger}, nil
}

// ListDevices enumerates capture devices in backend order.
func ListDevices() ([]DeviceInfo, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to init audio context: %w", err)
	}
	defer func() {
		_ = ctx.Uninit()
		ctx.Free()
	}()

	infos, err := ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate capture devices: %w", err)
	}
	return describe(infos), nil
}

func describe(infos []malgo.DeviceInfo) []DeviceInfo {
	out := make([]DeviceInfo, 0, len(infos))
	for i, info := range infos {
		out = append(out, DeviceInfo{Index: i, Name: info.Name(), IsDefault: info.IsDefault != 0})
	}
	return out
}

// Start opens the device and begins streaming.
func (m *Microphone) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return fmt.Errorf("microphone already started")
	}

	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return fmt.Errorf("failed to init audio context: %w", err)
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatF32
	deviceConfig.Capture.Channels = 1
	deviceConfig.SampleRate = uint32(m.cfg.SampleRate)
	deviceConfig.Alsa.NoMMap = 1

	name := "default"
	if m.cfg.Device >= 0 {
		infos, err := ctx.Devices(malgo.Capture)
		if err != nil {
			m.freeContext(ctx)
			return fmt.Errorf("failed to enumerate capture devices: %w", err)
		}
		if m.cfg.Device >= len(infos) {
			m.freeContext(ctx)
			return fmt.Errorf("%w: index %d of %d", ErrNoDevice, m.cfg.Device, len(infos))
		}
		info := infos[m.cfg.Device]
		deviceConfig.Capture.DeviceID = info.ID.Pointer()
		name = info.Name()
	}

	device, err := malgo.InitDevice(ctx.Context, deviceConfig, malgo.DeviceCallbacks{Data: m.onData})
	if err != nil {
		m.freeContext(ctx)
		return fmt.Errorf("failed to init capture device: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		m.freeContext(ctx)
		return fmt.Errorf("failed to start capture device: %w", err)
	}

	m.ctx = ctx
	m.device = device
	m.name = name
	m.running = true

	m.logger.Info("Microphone capture started",
		slog.String("device", name),
		slog.Int("sample_rate", m.cfg.SampleRate),
	)
	return nil
}

// Stop closes the device. It is safe to call more than once.
func (m *Microphone) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}
	m.running = false

	if err := m.device.Stop(); err != nil {
		m.logger.Warn("Failed to stop capture device", slog.String("error", err.Error()))
	}
	m.device.Uninit()
	m.freeContext(m.ctx)
	m.device = nil
	m.ctx = nil

	m.logger.Info("Microphone capture stopped",
		slog.Uint64("callbacks", m.callbacks.Load()),
		slog.Uint64("samples", m.samples.Load()),
	)
}

func (m *Microphone) freeContext(ctx *malgo.AllocatedContext) {
	_ = ctx.Uninit()
	ctx.Free()
}

// onData runs on the audio thread. It never blocks: full queues drop frames.
func (m *Microphone) onData(_, input []byte, frameCount uint32) {
	if frameCount == 0 {
		return
	}
	n := int(frameCount) * 4
	if n > len(input) {
		n = len(input) - len(input)%4
	}
	m.callbacks.Add(1)
	m.samples.Add(uint64(n / 4))

	queued, err := m.out.WriteFloat32LE(input[:n])
	if err != nil {
		m.decodeErrors.Add(1)
		return
	}
	m.framesQueued.Add(uint64(queued))
}

// GetStats returns capture counters.
func (m *Microphone) GetStats() Stats {
	m.mu.Lock()
	running, name := m.running, m.name
	m.mu.Unlock()

	return Stats{
		Running:      running,
		Device:       name,
		Callbacks:    m.callbacks.Load(),
		Samples:      m.samples.Load(),
		FramesQueued: m.framesQueued.Load(),
		DecodeErrors: m.decodeErrors.Load(),
	}
}
