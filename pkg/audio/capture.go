package audio

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/gordonklaus/portaudio"
)

// Capture reads microphone input through PortAudio and emits fixed-size
// blocks. Blocks are copied out of the driver buffer before delivery; a full
// output channel drops the block rather than stalling the stream callback.
type Capture struct {
	mu         sync.Mutex
	stream     *portaudio.Stream
	sampleRate int
	blockSize  int
	deviceName string
	running    bool
	out        chan []float32
	log        *slog.Logger
}

type CaptureConfig struct {
	SampleRate int
	BlockSize  int
	DeviceName string
	Logger     *slog.Logger
}

func NewCapture(cfg CaptureConfig) (*Capture, error) {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = SampleRate
	}
	if cfg.BlockSize <= 0 {
		cfg.BlockSize = BlockSize
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio init: %w", err)
	}
	return &Capture{
		sampleRate: cfg.SampleRate,
		blockSize:  cfg.BlockSize,
		deviceName: cfg.DeviceName,
		out:        make(chan []float32, 64),
		log:        cfg.Logger,
	}, nil
}

func (c *Capture) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return fmt.Errorf("capture already running")
	}

	cb := func(in []float32) {
		block := make([]float32, len(in))
		copy(block, in)
		select {
		case c.out <- block:
		default:
		}
	}

	var stream *portaudio.Stream
	var err error
	if dev := c.findDevice(); dev != nil {
		params := portaudio.LowLatencyParameters(dev, nil)
		params.Input.Channels = Channels
		params.SampleRate = float64(c.sampleRate)
		params.FramesPerBuffer = c.blockSize
		stream, err = portaudio.OpenStream(params, cb)
	} else {
		stream, err = portaudio.OpenDefaultStream(Channels, 0, float64(c.sampleRate), c.blockSize, cb)
	}
	if err != nil {
		return fmt.Errorf("open stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return fmt.Errorf("start stream: %w", err)
	}
	c.stream = stream
	c.running = true
	c.log.Info("capture_started",
		slog.Int("sample_rate", c.sampleRate),
		slog.Int("block_size", c.blockSize))

	go func() {
		<-ctx.Done()
		_ = c.Stop()
	}()
	return nil
}

func (c *Capture) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return nil
	}
	c.running = false
	var err error
	if c.stream != nil {
		err = c.stream.Stop()
		if cerr := c.stream.Close(); err == nil {
			err = cerr
		}
		c.stream = nil
	}
	c.log.Info("capture_stopped")
	return err
}

func (c *Capture) Blocks() <-chan []float32 { return c.out }

// Terminate releases the PortAudio runtime. Call once at process shutdown.
func (c *Capture) Terminate() error {
	_ = c.Stop()
	return portaudio.Terminate()
}

func (c *Capture) findDevice() *portaudio.DeviceInfo {
	name := strings.TrimSpace(c.deviceName)
	if name == "" || strings.EqualFold(name, "default") {
		return nil
	}
	devices, err := portaudio.Devices()
	if err != nil {
		c.log.Warn("device_enumeration_failed", slog.String("error", err.Error()))
		return nil
	}
	for _, d := range devices {
		if d.MaxInputChannels > 0 && strings.Contains(strings.ToLower(d.Name), strings.ToLower(name)) {
			return d
		}
	}
	c.log.Warn("input_device_not_found", slog.String("device", name))
	return nil
}

var _ Source = (*Capture)(nil)
