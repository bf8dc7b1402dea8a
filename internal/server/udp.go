package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/Ireoo/autotalk/internal/config"
	"github.com/Ireoo/autotalk/internal/protocol"
)

// reorderWindow is how far behind the last sequence a datagram may arrive and
// still be treated as late. A larger backward jump means the sender restarted.
const reorderWindow = 256

// FrameWriter accepts decoded samples and slices them into frames.
// *audio.FrameAssembler implements it.
type FrameWriter interface {
	Write(samples []float32) int
}

// UDPIngest receives audio datagrams and feeds them into the frame queue.
type UDPIngest struct {
	conn   *net.UDPConn
	config *config.UDPConfig
	logger *slog.Logger
	frames FrameWriter
	warn   *rate.Limiter

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// One processor keeps datagrams in arrival order for the assembler.
	packetChan chan *incomingPacket

	datagramsReceived  uint64
	datagramsProcessed uint64
	datagramsDropped   uint64
	parseErrors        uint64
	sequenceGaps       uint64
	lateDatagrams      uint64
	senderRestarts     uint64
	samplesAccepted    uint64
	framesQueued       uint64
	lastSequence       uint32
	haveSequence       bool
	mu                 sync.RWMutex
}

// incomingPacket represents a received datagram with metadata
type incomingPacket struct {
	data       []byte
	remoteAddr *net.UDPAddr
	timestamp  time.Time
}

// NewUDPIngest creates a new UDP ingest server
func NewUDPIngest(cfg *config.UDPConfig, logger *slog.Logger, frames FrameWriter) *UDPIngest {
	ctx, cancel := context.WithCancel(context.Background())

	return &UDPIngest{
		config:     cfg,
		logger:     logger,
		frames:     frames,
		warn:       rate.NewLimiter(rate.Every(5*time.Second), 1),
		ctx:        ctx,
		cancel:     cancel,
		packetChan: make(chan *incomingPacket, 1000),
	}
}

// Start begins listening for datagrams
func (s *UDPIngest) Start() error {
	addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(s.config.Address, fmt.Sprint(s.config.Port)))
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address: %w", err)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP: %w", err)
	}
	s.conn = conn

	if s.config.BufferSize > 0 {
		if err := s.conn.SetReadBuffer(s.config.BufferSize); err != nil {
			s.logger.Warn("Failed to set UDP read buffer size",
				slog.Int("buffer_size", s.config.BufferSize),
				slog.String("error", err.Error()),
			)
		}
	}

	s.logger.Info("UDP ingest started",
		slog.String("address", conn.LocalAddr().String()),
		slog.Int("buffer_size", s.config.BufferSize),
	)

	s.wg.Add(2)
	go s.packetProcessor()
	go s.receiveLoop()

	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *UDPIngest) Addr() net.Addr {
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

// Stop gracefully stops the ingest server
func (s *UDPIngest) Stop() error {
	s.logger.Info("Stopping UDP ingest...")

	s.cancel()

	if s.conn != nil {
		if err := s.conn.Close(); err != nil {
			s.logger.Warn("Error closing UDP connection", slog.String("error", err.Error()))
		}
	}

	s.wg.Wait()

	stats := s.GetStatistics()
	s.logger.Info("UDP ingest stopped",
		slog.Uint64("datagrams_received", stats.DatagramsReceived),
		slog.Uint64("datagrams_processed", stats.DatagramsProcessed),
		slog.Uint64("parse_errors", stats.ParseErrors),
		slog.Uint64("sequence_gaps", stats.SequenceGaps),
	)

	return nil
}

// receiveLoop is the main datagram receiving loop
func (s *UDPIngest) receiveLoop() {
	defer s.wg.Done()
	// The processor exits once the channel is closed and drained.
	defer close(s.packetChan)

	size := s.config.BufferSize
	if size < 65536 {
		size = 65536
	}
	buffer := make([]byte, size)

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		// Periodic deadline so cancellation is observed.
		if err := s.conn.SetReadDeadline(time.Now().Add(1 * time.Second)); err != nil {
			if s.ctx.Err() != nil {
				return
			}
			s.logger.Error("Failed to set read deadline", slog.String("error", err.Error()))
			continue
		}

		n, remoteAddr, err := s.conn.ReadFromUDP(buffer)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if s.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Error("Failed to read UDP datagram", slog.String("error", err.Error()))
			continue
		}

		s.mu.Lock()
		s.datagramsReceived++
		s.mu.Unlock()

		// Copy out of the reused buffer.
		data := make([]byte, n)
		copy(data, buffer[:n])

		packet := &incomingPacket{
			data:       data,
			remoteAddr: remoteAddr,
			timestamp:  time.Now(),
		}

		select {
		case s.packetChan <- packet:
		default:
			s.mu.Lock()
			s.datagramsDropped++
			s.mu.Unlock()
			if s.warn.Allow() {
				s.logger.Warn("Datagram processing queue full, dropping datagram",
					slog.String("remote_addr", remoteAddr.String()),
					slog.Int("datagram_size", n),
				)
			}
		}
	}
}

// packetProcessor processes datagrams from the packet channel
func (s *UDPIngest) packetProcessor() {
	defer s.wg.Done()

	for packet := range s.packetChan {
		if err := s.HandleDatagram(packet.data); err != nil {
			s.logger.Error("Failed to handle datagram",
				slog.String("remote_addr", packet.remoteAddr.String()),
				slog.Int("datagram_size", len(packet.data)),
				slog.String("error", err.Error()),
			)
		}
	}
}

// HandleDatagram parses one datagram and writes its samples to the frame writer.
// Datagrams older than the last accepted sequence number are dropped.
func (s *UDPIngest) HandleDatagram(data []byte) error {
	d, err := protocol.ParseDatagram(data)
	if err != nil {
		s.mu.Lock()
		s.parseErrors++
		s.mu.Unlock()
		return fmt.Errorf("failed to parse datagram: %w", err)
	}

	samples, err := d.Samples()
	if err != nil {
		s.mu.Lock()
		s.parseErrors++
		s.mu.Unlock()
		return fmt.Errorf("failed to decode samples: %w", err)
	}

	seq := d.Header.Sequence

	s.mu.Lock()
	if s.haveSequence {
		// Serial-number arithmetic: uint32 wraparound counts as moving forward.
		delta := seq - s.lastSequence
		switch {
		case delta == 0 || (delta >= 1<<31 && s.lastSequence-seq <= reorderWindow):
			s.lateDatagrams++
			last := s.lastSequence
			s.mu.Unlock()
			s.logger.Debug("Dropping late datagram",
				slog.Uint64("sequence", uint64(seq)),
				slog.Uint64("last_sequence", uint64(last)),
			)
			return nil
		case delta >= 1<<31:
			s.senderRestarts++
			last := s.lastSequence
			if s.warn.Allow() {
				s.logger.Warn("Sequence jumped backwards, assuming sender restart",
					slog.Uint64("sequence", uint64(seq)),
					slog.Uint64("last_sequence", uint64(last)),
				)
			}
		case delta > 1:
			s.sequenceGaps += uint64(delta - 1)
		}
	}
	s.lastSequence = seq
	s.haveSequence = true
	s.datagramsProcessed++
	s.samplesAccepted += uint64(len(samples))
	s.mu.Unlock()

	frames := s.frames.Write(samples)

	s.mu.Lock()
	s.framesQueued += uint64(frames)
	s.mu.Unlock()

	s.logger.Debug("Datagram processed",
		slog.String("header", d.Header.String()),
		slog.Int("frames_queued", frames),
	)
	return nil
}

// GetStatistics returns current ingest statistics
func (s *UDPIngest) GetStatistics() IngestStatistics {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return IngestStatistics{
		DatagramsReceived:  s.datagramsReceived,
		DatagramsProcessed: s.datagramsProcessed,
		DatagramsDropped:   s.datagramsDropped,
		ParseErrors:        s.parseErrors,
		SequenceGaps:       s.sequenceGaps,
		LateDatagrams:      s.lateDatagrams,
		SenderRestarts:     s.senderRestarts,
		SamplesAccepted:    s.samplesAccepted,
		FramesQueued:       s.framesQueued,
		QueueSize:          uint64(len(s.packetChan)),
		QueueCapacity:      uint64(cap(s.packetChan)),
	}
}

// IngestStatistics represents UDP ingest performance metrics
type IngestStatistics struct {
	DatagramsReceived  uint64 `json:"datagrams_received"`
	DatagramsProcessed uint64 `json:"datagrams_processed"`
	DatagramsDropped   uint64 `json:"datagrams_dropped"`
	ParseErrors        uint64 `json:"parse_errors"`
	SequenceGaps       uint64 `json:"sequence_gaps"`
	LateDatagrams      uint64 `json:"late_datagrams"`
	SenderRestarts     uint64 `json:"sender_restarts"`
	SamplesAccepted    uint64 `json:"samples_accepted"`
	FramesQueued       uint64 `json:"frames_queued"`
	QueueSize          uint64 `json:"queue_size"`
	QueueCapacity      uint64 `json:"queue_capacity"`
}
