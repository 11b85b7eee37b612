package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"canbits/internal/can"
	"canbits/internal/config"
	"canbits/internal/web"
)

// overrides holds CLI flags that take precedence over the config file.
// Zero values leave the config untouched.
type overrides struct {
	noDestuff bool
	format    string
	kind      string
	addr      string
	path      string
	serial    string
	baud      int
	web       string
	record    string
	udp       string
}

func (o overrides) apply(cfg *config.Config) error {
	if o.noDestuff {
		off := false
		cfg.Decoder.Destuff = &off
	}
	if o.format != "" {
		cfg.Output.Format = o.format
	}
	if o.kind != "" {
		cfg.Source.Kind = o.kind
	}
	if o.addr != "" {
		cfg.Source.Addr = o.addr
	}
	if o.path != "" {
		cfg.Source.Path = o.path
	}
	if o.serial != "" {
		cfg.Source.Serial.Device = o.serial
		if o.kind == "" {
			cfg.Source.Kind = config.SourceSerial
		}
	}
	if o.baud > 0 {
		cfg.Source.Serial.Baud = o.baud
	}
	if o.web != "" {
		cfg.Web.Enable = true
		cfg.Web.Listen = o.web
	}
	if o.record != "" {
		cfg.Record.Enable = true
		cfg.Record.Path = o.record
	}
	if o.udp != "" {
		cfg.Output.UDP.Enable = true
		cfg.Output.UDP.Dest = o.udp
	}
	return cfg.Normalize()
}

func main() {
	var (
		configPath string
		bits       string
		summary    string
		encodeID   string
		encodeData string
		rtr        bool
		o          overrides
	)
	flag.StringVar(&configPath, "config", "", "Path to YAML or TOML config (optional)")
	flag.StringVar(&bits, "bits", "", "Decode a single bit string and exit")
	flag.StringVar(&summary, "summary", "", "Print a summary of a capture file and exit")
	flag.StringVar(&encodeID, "encode-id", "", "Print the bit strings of a frame with this identifier and exit")
	flag.StringVar(&encodeData, "encode-data", "", "Hex data bytes for -encode-id")
	flag.BoolVar(&rtr, "rtr", false, "Build a remote frame with -encode-id")
	flag.BoolVar(&o.noDestuff, "no-destuff", false, "Treat input as already destuffed")
	flag.StringVar(&o.format, "format", "", "Output format: json or text")
	flag.StringVar(&o.kind, "source", "", "Input source: stdin, file, tcp, serial or capture")
	flag.StringVar(&o.addr, "addr", "", "host:port for the tcp source")
	flag.StringVar(&o.path, "path", "", "File for the file and capture sources")
	flag.StringVar(&o.serial, "serial", "", "Serial device for the serial source")
	flag.IntVar(&o.baud, "baud", 0, "Serial baud rate")
	flag.StringVar(&o.web, "web", "", "Enable the web API on this listen address")
	flag.StringVar(&o.record, "record", "", "Record decoded input lines to this capture file")
	flag.StringVar(&o.udp, "udp", "", "Publish decoded frames as JSON datagrams to host:port")
	flag.Parse()

	if strings.TrimSpace(summary) != "" {
		if err := printCaptureSummary(os.Stdout, summary); err != nil {
			log.Fatalf("summary failed: %v", err)
		}
		return
	}

	if strings.TrimSpace(encodeID) != "" {
		if err := printEncoded(os.Stdout, encodeID, encodeData, rtr); err != nil {
			log.Fatalf("encode failed: %v", err)
		}
		return
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	if err := o.apply(&cfg); err != nil {
		log.Fatalf("config invalid: %v", err)
	}

	if bits != "" {
		f := can.Decode(bits, can.Options{SkipDestuff: !cfg.Decoder.DestuffEnabled()})
		if err := writeFrame(os.Stdout, cfg.Output.Format, f); err != nil {
			log.Fatalf("write failed: %v", err)
		}
		return
	}

	logs := web.NewLogBuffer(2000)
	log.SetOutput(io.MultiWriter(os.Stderr, logs))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	status := web.NewStatus()
	status.SetStatic(describeSource(cfg.Source), cfg.Decoder.DestuffEnabled())

	p, err := newPipeline(cfg, os.Stdout, status)
	if err != nil {
		log.Fatalf("pipeline init failed: %v", err)
	}
	defer p.Close()

	if cfg.Web.Enable {
		go func() {
			if err := web.Serve(ctx, cfg.Web.Listen, status, logs); err != nil && ctx.Err() == nil {
				log.Printf("web server stopped: %v", err)
				cancel()
			}
		}()
	}

	log.Printf("canbits starting source=%s destuff=%t format=%s", describeSource(cfg.Source), cfg.Decoder.DestuffEnabled(), cfg.Output.Format)
	// A stdin read cannot be interrupted, so the source runs on its own
	// goroutine and shutdown does not wait for it.
	srcDone := make(chan error, 1)
	go func() {
		srcDone <- runSource(ctx, cfg.Source, sourceIO{stdin: os.Stdin, stdinTTY: isStdinTerminal(), prompt: os.Stderr, status: status}, p.HandleLine)
	}()

	select {
	case <-ctx.Done():
	case err := <-srcDone:
		if err != nil && ctx.Err() == nil {
			log.Printf("source stopped: %v", err)
		}
		// The web API outlives a finite source.
		if cfg.Web.Enable && ctx.Err() == nil {
			log.Printf("input finished; web still serving addr=%s", cfg.Web.Listen)
			<-ctx.Done()
		}
	}
	log.Printf("canbits stopping frames=%d", p.Frames())
}

// printEncoded writes the wire and destuffed bit strings of one frame.
func printEncoded(w io.Writer, idText, dataText string, rtr bool) error {
	id, err := strconv.ParseUint(strings.TrimSpace(idText), 0, 16)
	if err != nil {
		return fmt.Errorf("parse identifier: %w", err)
	}
	data, err := hex.DecodeString(strings.TrimSpace(dataText))
	if err != nil {
		return fmt.Errorf("parse data: %w", err)
	}
	m := can.Message{ID: uint16(id), RTR: rtr, Data: data}
	wire, err := can.Encode(m)
	if err != nil {
		return err
	}
	destuffed, err := m.Bits()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "wire: %s\ndestuffed: %s\n", wire, destuffed)
	return err
}
