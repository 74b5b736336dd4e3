package voicechat

import (
	"context"
	"net"
	"os"
	"testing"
	"time"

	"github.com/pion/rtp"
	"gopkg.in/hraban/opus.v2"
)

func TestFeederDecodesOpusFrameToPipe(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()

	tmp, err := os.CreateTemp(t.TempDir(), "pcm")
	if err != nil {
		t.Fatalf("create temp pipe file: %v", err)
	}
	tmp.Close()

	cfg := DefaultConfig("ts://voice.example:10011", tmp.Name())
	f, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	dialed := make(chan struct{})
	f.dial = func(ctx context.Context, addr Address) (net.Conn, error) {
		close(dialed)
		return client, nil
	}

	encoder, err := opus.NewEncoder(SampleRate, Channels, opus.AppVoIP)
	if err != nil {
		t.Fatalf("new opus encoder: %v", err)
	}
	pcmIn := make([]int16, frameSamples*Channels) // one silent frame
	opusData := make([]byte, 4000)
	n, err := encoder.Encode(pcmIn, opusData)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    111,
			SequenceNumber: 1,
			Timestamp:      0,
			SSRC:           1,
		},
		Payload: opusData[:n],
	}
	raw, err := pkt.Marshal()
	if err != nil {
		t.Fatalf("marshal rtp packet: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sessionErr := make(chan error, 1)
	go func() { sessionErr <- f.session(ctx) }()

	select {
	case <-dialed:
	case <-time.After(2 * time.Second):
		t.Fatal("expected feeder to dial")
	}

	if _, err := server.Write(raw); err != nil {
		t.Fatalf("write rtp packet: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		data, err := os.ReadFile(tmp.Name())
		if err == nil && len(data) > 0 {
			if len(data)%2 != 0 {
				t.Fatalf("expected 16-bit aligned PCM output, got %d bytes", len(data))
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("expected decoded PCM to be written to the pipe")
}

func TestFeederSessionFailsOnDialError(t *testing.T) {
	cfg := DefaultConfig("ts://voice.example", "/nonexistent/pipe")
	f, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	wantErr := context.DeadlineExceeded
	f.dial = func(ctx context.Context, addr Address) (net.Conn, error) {
		return nil, wantErr
	}
	if err := f.session(context.Background()); err == nil {
		t.Fatal("expected session to surface the dial error")
	}
}
