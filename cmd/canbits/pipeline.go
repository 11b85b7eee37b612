package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"canbits/internal/can"
	"canbits/internal/capture"
	"canbits/internal/config"
	"canbits/internal/source"
	"canbits/internal/term"
	"canbits/internal/udp"
	"canbits/internal/web"
)

// pipeline decodes one input line at a time and fans the frame out to the
// configured sinks. HandleLine is safe for concurrent use.
type pipeline struct {
	opts   can.Options
	format string
	status *web.Status

	mu     sync.Mutex
	out    io.Writer
	pub    *udp.Publisher
	rec    *capture.Writer
	frames uint64
}

func newPipeline(cfg config.Config, out io.Writer, status *web.Status) (*pipeline, error) {
	p := &pipeline{
		opts:   can.Options{SkipDestuff: !cfg.Decoder.DestuffEnabled()},
		format: cfg.Output.Format,
		status: status,
		out:    out,
	}
	if cfg.Output.UDP.Enable {
		pub, err := udp.NewPublisher(cfg.Output.UDP.Dest)
		if err != nil {
			return nil, fmt.Errorf("udp publisher: %w", err)
		}
		p.pub = pub
		log.Printf("udp publishing dest=%s", pub.Dest())
	}
	if cfg.Record.Enable {
		w, err := capture.CreateWriter(cfg.Record.Path)
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("capture writer: %w", err)
		}
		p.rec = w
		log.Printf("recording path=%s session=%s", cfg.Record.Path, w.Session())
	}
	return p, nil
}

// HandleLine decodes one bit string. Sink failures are logged, not returned,
// so a flaky UDP peer never stops the input.
func (p *pipeline) HandleLine(line []byte) error {
	now := time.Now()
	f := can.Decode(string(line), p.opts)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.frames++

	if p.status != nil {
		p.status.Record(now.UTC(), f)
	}
	if p.rec != nil {
		if err := p.rec.WriteBits(now, f.RawInput); err != nil {
			log.Printf("capture write failed: %v", err)
		}
	}
	if p.pub != nil {
		if err := p.pub.Publish(f); err != nil {
			log.Printf("udp publish failed: %v", err)
		}
	}
	return writeFrame(p.out, p.format, f)
}

func (p *pipeline) Frames() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.frames
}

func (p *pipeline) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.rec != nil {
		if err := p.rec.Close(); err != nil {
			log.Printf("capture close failed: %v", err)
		}
		p.rec = nil
	}
	if p.pub != nil {
		_ = p.pub.Close()
		p.pub = nil
	}
}

// sourceIO carries the process streams so runSource can be driven by tests.
type sourceIO struct {
	stdin    io.Reader
	stdinTTY bool
	prompt   io.Writer
	sleeper  capture.Sleeper

	// status, when set, reports the health of connection-oriented sources.
	status *web.Status
}

func isStdinTerminal() bool {
	return term.IsTerminal(os.Stdin.Fd())
}

func describeSource(src config.SourceConfig) string {
	switch src.Kind {
	case config.SourceFile, config.SourceCapture:
		return src.Kind + " " + src.Path
	case config.SourceTCP:
		return src.Kind + " " + src.Addr
	case config.SourceSerial:
		return fmt.Sprintf("%s %s@%d", src.Kind, src.Serial.Device, src.Serial.Baud)
	default:
		return src.Kind
	}
}

// runSource feeds every line of the configured source to onLine until the
// source ends or ctx is cancelled. The tcp source only ends with ctx.
func runSource(ctx context.Context, src config.SourceConfig, sio sourceIO, onLine func(line []byte) error) error {
	switch src.Kind {
	case config.SourceStdin:
		if !sio.stdinTTY || sio.prompt == nil {
			return source.ReadLines(ctx, sio.stdin, src.MaxLineBytes, onLine)
		}
		_, _ = fmt.Fprint(sio.prompt, "enter bit strings, one frame per line (Ctrl-D to quit)\nbits> ")
		return source.ReadLines(ctx, sio.stdin, src.MaxLineBytes, func(line []byte) error {
			err := onLine(line)
			_, _ = fmt.Fprint(sio.prompt, "bits> ")
			return err
		})

	case config.SourceFile:
		f, err := os.Open(src.Path)
		if err != nil {
			return err
		}
		defer f.Close()
		return source.ReadLines(ctx, f, src.MaxLineBytes, onLine)

	case config.SourceTCP:
		c, err := source.NewLineClient(source.LineClientConfig{
			Name:           "bits",
			Addr:           src.Addr,
			ReconnectDelay: src.ReconnectDelay,
			MaxLineBytes:   src.MaxLineBytes,
		})
		if err != nil {
			return err
		}
		if err := c.Start(ctx, onLine); err != nil {
			return err
		}
		defer c.Close()
		if sio.status != nil {
			sio.status.SetSourceHealth(lineHealth(c))
			defer sio.status.SetSourceHealth(nil)
		}
		go func() {
			if !sleepOrDone(ctx, 2*time.Second) {
				return
			}
			snap := c.Snapshot(time.Now().UTC())
			if snap.State != "connected" {
				log.Printf("tcp source state=%s addr=%s last_error=%s", snap.State, snap.Addr, snap.LastError)
			}
		}()
		<-c.Done()
		return ctx.Err()

	case config.SourceSerial:
		port, err := source.OpenSerial(src.Serial.Device, src.Serial.Baud)
		if err != nil {
			return err
		}
		stop := context.AfterFunc(ctx, func() { _ = port.Close() })
		defer func() {
			if stop() {
				_ = port.Close()
			}
		}()
		err = source.ReadLines(ctx, port, src.MaxLineBytes, onLine)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err

	case config.SourceCapture:
		recs, err := capture.ReadFile(src.Path)
		if err != nil {
			return err
		}
		sleeper := sio.sleeper
		if sleeper == nil {
			sleeper = ctxSleeper{ctx: ctx}
		}
		err = capture.Play(recs, src.Capture.Speed, src.Capture.Loop, sleeper, func(bits string) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return onLine([]byte(bits))
		})
		return err

	default:
		return fmt.Errorf("source.kind %q is not supported", src.Kind)
	}
}

func lineHealth(c *source.LineClient) func(nowUTC time.Time) web.SourceHealth {
	return func(nowUTC time.Time) web.SourceHealth {
		snap := c.Snapshot(nowUTC)
		return web.SourceHealth{
			State:       snap.State,
			LastError:   snap.LastError,
			Lines:       snap.Lines,
			LastSeenUTC: snap.LastSeenUTC,
		}
	}
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// ctxSleeper cuts playback waits short once ctx is done.
type ctxSleeper struct {
	ctx context.Context
}

func (s ctxSleeper) Sleep(d time.Duration) {
	sleepOrDone(s.ctx, d)
}

func writeFrame(w io.Writer, format string, f *can.Frame) error {
	if format == config.FormatText {
		_, err := fmt.Fprintln(w, formatText(f))
		return err
	}
	b, err := json.Marshal(f)
	if err != nil {
		return err
	}
	b = append(b, '\n')
	_, err = w.Write(b)
	return err
}

// formatText renders a frame as one key=value line. Unknown fields print "-".
func formatText(f *can.Frame) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "id=%s rtr=%s ide=%s dlc=%s",
		optHex(f.ID, "0x%03X"), optBit(f.RTR), optBit(f.IDE), optDLC(f))
	if f.Data != nil {
		fmt.Fprintf(&sb, " data=%X", []byte(f.Data))
	} else {
		sb.WriteString(" data=-")
	}
	fmt.Fprintf(&sb, " crc=%s/0x%04X", optHex(f.CRCReceived, "0x%04X"), f.CRCComputed)
	fmt.Fprintf(&sb, " ack=%s", optBit(f.ACK))
	if len(f.StuffBits) > 0 {
		fmt.Fprintf(&sb, " stuff=%d", len(f.StuffBits))
	}
	if f.MissingBits > 0 {
		fmt.Fprintf(&sb, " missing=%d", f.MissingBits)
	}
	if f.ExtraBits > 0 {
		fmt.Fprintf(&sb, " extra=%d", f.ExtraBits)
	}
	if len(f.Errors) == 0 {
		if f.Valid() {
			sb.WriteString(" ok")
		}
		return sb.String()
	}
	kinds := make([]string, 0, len(f.Errors))
	for _, d := range f.Errors {
		if d.Index != nil {
			kinds = append(kinds, fmt.Sprintf("%s@%d", d.Kind, *d.Index))
		} else {
			kinds = append(kinds, string(d.Kind))
		}
	}
	sb.WriteString(" errors=" + strings.Join(kinds, ","))
	return sb.String()
}

func optHex(v *uint16, format string) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf(format, *v)
}

func optBit(b *can.Bit) string {
	if b == nil {
		return "-"
	}
	return fmt.Sprint(*b)
}

func optDLC(f *can.Frame) string {
	if f.DLC == nil {
		return "-"
	}
	if f.RawDLC != nil && *f.RawDLC != *f.DLC {
		return fmt.Sprintf("%d(raw %d)", *f.DLC, *f.RawDLC)
	}
	return fmt.Sprint(*f.DLC)
}
