// Package voicechat implements the voice-chat feeder companion:
// a client that joins a Teamspeak-like voice channel and republishes the
// decoded audio as raw PCM on a named pipe for a transcoder unit to mix in
// as a sidechain input. The receive path reads pion/rtp packets off the
// voice session's UDP socket, decodes the Opus payload, and hands one PCM
// frame at a time to a single-frame mailbox — this feeder has no downstream
// consumer to apply backpressure to, so the latest frame always wins.
package voicechat

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/pion/rtp"
	"gopkg.in/hraban/opus.v2"
)

const (
	SampleRate   = 48000
	Channels     = 2
	frameSamples = SampleRate / 50 // 20ms
)

// Config tunes a Feeder's target and reconnect policy.
type Config struct {
	URL        string // ts://host:port?channel=...&name=...
	PipePath   string
	MinBackoff time.Duration
	MaxBackoff time.Duration
	Multiplier float64
}

// DefaultConfig returns sane reconnect defaults for a feeder targeting url,
// writing decoded PCM to pipePath.
func DefaultConfig(url, pipePath string) Config {
	return Config{
		URL:        url,
		PipePath:   pipePath,
		MinBackoff: 200 * time.Millisecond,
		MaxBackoff: 30 * time.Second,
		Multiplier: 2,
	}
}

type dialFunc func(ctx context.Context, addr Address) (net.Conn, error)

// Feeder joins a voice channel and writes decoded PCM to a named pipe. It
// implements internal/transcoder.Companion.
type Feeder struct {
	cfg  Config
	addr Address
	dial dialFunc

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New parses cfg.URL and builds a Feeder ready to Start.
func New(cfg Config) (*Feeder, error) {
	addr, err := ParseAddress(cfg.URL)
	if err != nil {
		return nil, err
	}
	return &Feeder{cfg: cfg, addr: addr, dial: dialUDP}, nil
}

// Start begins the connect/feed/reconnect loop in the background.
func (f *Feeder) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	f.mu.Lock()
	f.cancel = cancel
	f.done = make(chan struct{})
	f.mu.Unlock()
	go f.run(ctx)
	return nil
}

// Stop cancels the feeder and waits for its session loop to exit.
func (f *Feeder) Stop() {
	f.mu.Lock()
	cancel := f.cancel
	done := f.done
	f.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	if done != nil {
		<-done
	}
}

func (f *Feeder) run(ctx context.Context) {
	defer close(f.done)
	b := newBackoff(f.cfg.MinBackoff, f.cfg.MaxBackoff, f.cfg.Multiplier)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		start := time.Now()
		err := f.session(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil && time.Since(start) > f.cfg.MaxBackoff {
			b.reset()
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(b.next()):
		}
	}
}

// session runs one connect-decode-write cycle until the connection drops or
// ctx is cancelled.
func (f *Feeder) session(ctx context.Context) error {
	conn, err := f.dial(ctx, f.addr)
	if err != nil {
		return fmt.Errorf("dial voicechat: %w", err)
	}
	defer conn.Close()

	pipe, err := os.OpenFile(f.cfg.PipePath, os.O_WRONLY, 0)
	if err != nil {
		return fmt.Errorf("open voicechat pipe: %w", err)
	}
	defer pipe.Close()

	decoder, err := opus.NewDecoder(SampleRate, Channels)
	if err != nil {
		return fmt.Errorf("create opus decoder: %w", err)
	}

	box := &mailbox{}
	readErrCh := make(chan error, 1)
	go readLoop(conn, decoder, box, readErrCh)

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErrCh:
			return err
		case <-time.After(5 * time.Millisecond):
			if frame, ok := box.pop(); ok {
				if err := writePCM(pipe, frame); err != nil {
					return fmt.Errorf("write voicechat pipe: %w", err)
				}
			}
		}
	}
}

func readLoop(conn net.Conn, decoder *opus.Decoder, box *mailbox, errCh chan<- error) {
	buf := make([]byte, 1500)
	pcm := make([]int16, frameSamples*Channels)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			errCh <- err
			return
		}
		var pkt rtp.Packet
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			continue
		}
		samples, err := decoder.Decode(pkt.Payload, pcm)
		if err != nil {
			continue
		}
		frame := make([]int16, samples*Channels)
		copy(frame, pcm[:samples*Channels])
		box.push(frame)
	}
}

func writePCM(w io.Writer, frame []int16) error {
	out := make([]byte, len(frame)*2)
	for i, s := range frame {
		out[2*i] = byte(s)
		out[2*i+1] = byte(s >> 8)
	}
	_, err := w.Write(out)
	return err
}

func dialUDP(ctx context.Context, addr Address) (net.Conn, error) {
	d := net.Dialer{}
	return d.DialContext(ctx, "udp", net.JoinHostPort(addr.Host, strconv.Itoa(addr.Port)))
}
