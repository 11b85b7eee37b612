package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"canbits/internal/can"
	"canbits/internal/capture"
	"canbits/internal/config"
	"canbits/internal/web"
)

// Wire bits of ID 0x123 with data CA FE.
const cafeWire = "00010010001100000110110010101111101100110110010110101011111111111"

func defaultConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	return cfg
}

func TestOverridesApply(t *testing.T) {
	cfg := defaultConfig(t)
	o := overrides{
		noDestuff: true,
		format:    "text",
		serial:    "/dev/ttyACM0",
		baud:      9600,
		web:       "127.0.0.1:0",
		udp:       "127.0.0.1:4000",
	}
	if err := o.apply(&cfg); err != nil {
		t.Fatalf("apply() error: %v", err)
	}
	if cfg.Decoder.DestuffEnabled() {
		t.Fatalf("destuff still enabled")
	}
	if cfg.Output.Format != config.FormatText {
		t.Fatalf("format=%q", cfg.Output.Format)
	}
	if cfg.Source.Kind != config.SourceSerial || cfg.Source.Serial.Device != "/dev/ttyACM0" || cfg.Source.Serial.Baud != 9600 {
		t.Fatalf("source=%+v", cfg.Source)
	}
	if !cfg.Web.Enable || cfg.Web.Listen != "127.0.0.1:0" {
		t.Fatalf("web=%+v", cfg.Web)
	}
	if !cfg.Output.UDP.Enable || cfg.Output.UDP.Dest != "127.0.0.1:4000" {
		t.Fatalf("udp=%+v", cfg.Output.UDP)
	}
}

func TestOverridesApply_Validates(t *testing.T) {
	cfg := defaultConfig(t)
	err := overrides{kind: "tcp"}.apply(&cfg)
	if err == nil || err.Error() != "source.addr is required when source.kind is 'tcp'" {
		t.Fatalf("err=%v", err)
	}
}

func TestPrintEncoded(t *testing.T) {
	var buf bytes.Buffer
	if err := printEncoded(&buf, "0x123", "cafe", false); err != nil {
		t.Fatalf("printEncoded() error: %v", err)
	}
	want := "wire: " + cafeWire + "\n"
	if !strings.HasPrefix(buf.String(), want) {
		t.Fatalf("output=%q want prefix %q", buf.String(), want)
	}

	if err := printEncoded(&buf, "0x800", "", false); err == nil {
		t.Fatalf("expected error for 12-bit identifier")
	}
	if err := printEncoded(&buf, "1", "zz", false); err == nil {
		t.Fatalf("expected error for bad hex")
	}
	if err := printEncoded(&buf, "1", "01", true); err == nil {
		t.Fatalf("expected error for remote frame with data")
	}
}

func TestFormatText(t *testing.T) {
	f := can.Decode(cafeWire, can.Options{})
	got := formatText(f)
	want := "id=0x123 rtr=0 ide=0 dlc=2 data=CAFE crc=0x365A/0x365A ack=0 stuff=2 ok"
	if got != want {
		t.Fatalf("formatText=%q want %q", got, want)
	}

	f = can.Decode(cafeWire[:30], can.Options{})
	got = formatText(f)
	for _, part := range []string{"id=0x123", "dlc=2", "data=CA ", "crc=-/", "ack=-", "stuff=1", "missing=34"} {
		if !strings.Contains(got, part) {
			t.Fatalf("formatText=%q missing %q", got, part)
		}
	}
	if strings.HasSuffix(got, " ok") {
		t.Fatalf("incomplete frame reported ok: %q", got)
	}

	got = formatText(can.Decode("0000000", can.Options{}))
	if !strings.HasSuffix(got, "errors=stuff@5,stuff@6") {
		t.Fatalf("formatText=%q", got)
	}
}

func TestWriteFrame_JSON(t *testing.T) {
	var buf bytes.Buffer
	if err := writeFrame(&buf, config.FormatJSON, can.Decode(cafeWire, can.Options{})); err != nil {
		t.Fatalf("writeFrame() error: %v", err)
	}
	if !strings.HasSuffix(buf.String(), "}\n") || strings.Count(buf.String(), "\n") != 1 {
		t.Fatalf("output not one JSON line: %q", buf.String())
	}
	var m map[string]any
	if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
		t.Fatalf("json: %v", err)
	}
	if m["identifier"] != float64(0x123) || m["data_bytes"] != "CAFE" {
		t.Fatalf("identifier=%v data=%v", m["identifier"], m["data_bytes"])
	}
}

func TestPipeline_FileSourceRecordsAndCounts(t *testing.T) {
	tmp := t.TempDir()
	in := filepath.Join(tmp, "bits.txt")
	contents := "# two frames and one bad line\n" + cafeWire + "\n\n0101x\n" + cafeWire[:30] + "\n"
	if err := os.WriteFile(in, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}

	cfg := defaultConfig(t)
	if err := (overrides{kind: "file", path: in, record: filepath.Join(tmp, "rec.log")}).apply(&cfg); err != nil {
		t.Fatalf("apply() error: %v", err)
	}

	var out bytes.Buffer
	st := web.NewStatus()
	p, err := newPipeline(cfg, &out, st)
	if err != nil {
		t.Fatalf("newPipeline() error: %v", err)
	}
	if err := runSource(context.Background(), cfg.Source, sourceIO{}, p.HandleLine); err != nil {
		t.Fatalf("runSource() error: %v", err)
	}
	p.Close()

	if p.Frames() != 3 {
		t.Fatalf("frames=%d want 3", p.Frames())
	}
	if n := strings.Count(out.String(), "\n"); n != 3 {
		t.Fatalf("output lines=%d want 3", n)
	}
	snap := st.Snapshot(time.Now().UTC())
	if snap.FramesTotal != 3 || snap.FramesValid != 1 || snap.Diagnostics["invalid_input"] != 1 {
		t.Fatalf("snapshot=%+v", snap)
	}

	recs, err := capture.ReadFile(cfg.Record.Path)
	if err != nil {
		t.Fatalf("ReadFile() error: %v", err)
	}
	if len(recs) != 4 || !recs[0].IsStart() || recs[1].Bits != cafeWire || recs[2].Bits != "0101x" {
		t.Fatalf("records=%+v", recs)
	}
}

type countingSleeper struct {
	slept []time.Duration
}

func (s *countingSleeper) Sleep(d time.Duration) { s.slept = append(s.slept, d) }

func TestRunSource_Capture(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cap.log")
	contents := "START\n0," + cafeWire + "\n2000000," + cafeWire + "\n"
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}
	src := config.SourceConfig{Kind: config.SourceCapture, Path: path, Capture: config.CaptureConfig{Speed: 2}}

	sl := &countingSleeper{}
	var got []string
	err := runSource(context.Background(), src, sourceIO{sleeper: sl}, func(line []byte) error {
		got = append(got, string(line))
		return nil
	})
	if err != nil {
		t.Fatalf("runSource() error: %v", err)
	}
	if len(got) != 2 || got[0] != cafeWire {
		t.Fatalf("lines=%q", got)
	}
	if len(sl.slept) != 1 || sl.slept[0] != time.Millisecond {
		t.Fatalf("slept=%v want [1ms]", sl.slept)
	}
}

func TestRunSource_CaptureStopsOnCancel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cap.log")
	if err := os.WriteFile(path, []byte("START\n0,0\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}
	src := config.SourceConfig{Kind: config.SourceCapture, Path: path, Capture: config.CaptureConfig{Speed: 1, Loop: true}}

	ctx, cancel := context.WithCancel(context.Background())
	n := 0
	err := runSource(ctx, src, sourceIO{sleeper: &countingSleeper{}}, func([]byte) error {
		n++
		if n == 3 {
			cancel()
		}
		return nil
	})
	if err != context.Canceled {
		t.Fatalf("err=%v want context.Canceled", err)
	}
	if n != 3 {
		t.Fatalf("lines=%d want 3", n)
	}
}

func TestRunSource_StdinPrompt(t *testing.T) {
	var prompt bytes.Buffer
	sio := sourceIO{stdin: strings.NewReader("0101\n0\n"), stdinTTY: true, prompt: &prompt}
	src := config.SourceConfig{Kind: config.SourceStdin}

	var lines int
	if err := runSource(context.Background(), src, sio, func([]byte) error { lines++; return nil }); err != nil {
		t.Fatalf("runSource() error: %v", err)
	}
	if lines != 2 {
		t.Fatalf("lines=%d want 2", lines)
	}
	if n := strings.Count(prompt.String(), "bits> "); n != 3 {
		t.Fatalf("prompts=%d want 3: %q", n, prompt.String())
	}

	prompt.Reset()
	sio = sourceIO{stdin: strings.NewReader("0101\n"), prompt: &prompt}
	if err := runSource(context.Background(), src, sio, func([]byte) error { return nil }); err != nil {
		t.Fatalf("runSource() error: %v", err)
	}
	if prompt.Len() != 0 {
		t.Fatalf("prompt written for non-terminal stdin: %q", prompt.String())
	}
}

func TestRunSource_UnknownKind(t *testing.T) {
	err := runSource(context.Background(), config.SourceConfig{Kind: "can0"}, sourceIO{}, func([]byte) error { return nil })
	if err == nil {
		t.Fatalf("expected error")
	}
}

func TestDescribeSource(t *testing.T) {
	got := describeSource(config.SourceConfig{Kind: config.SourceSerial, Serial: config.SerialConfig{Device: "/dev/ttyUSB0", Baud: 115200}})
	if got != "serial /dev/ttyUSB0@115200" {
		t.Fatalf("describeSource=%q", got)
	}
}

func TestRunSource_TCPReportsHealthInStatus(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() error: %v", err)
	}
	defer ln.Close()

	release := make(chan struct{})
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		_, _ = conn.Write([]byte(cafeWire + "\n# comment\n0000000\n"))
		<-release
	}()
	defer close(release)

	st := web.NewStatus()
	src := config.SourceConfig{Kind: config.SourceTCP, Addr: ln.Addr().String(), ReconnectDelay: 50 * time.Millisecond}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	lines := make(chan string, 4)
	done := make(chan error, 1)
	go func() {
		done <- runSource(ctx, src, sourceIO{status: st}, func(line []byte) error {
			lines <- string(line)
			return nil
		})
	}()

	for i := 0; i < 2; i++ {
		select {
		case <-lines:
		case <-time.After(3 * time.Second):
			t.Fatalf("timed out waiting for line %d", i)
		}
	}

	ts := httptest.NewServer(web.Handler(st, nil))
	defer ts.Close()

	// The line count is updated after the handler returns.
	var snap web.StatusSnapshot
	deadline := time.Now().Add(3 * time.Second)
	for {
		resp, err := http.Get(ts.URL + "/api/status")
		if err != nil {
			t.Fatalf("get status: %v", err)
		}
		snap = web.StatusSnapshot{}
		err = json.NewDecoder(resp.Body).Decode(&snap)
		resp.Body.Close()
		if err != nil {
			t.Fatalf("decode status: %v", err)
		}
		if snap.SourceHealth != nil && snap.SourceHealth.Lines == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("source_health=%+v", snap.SourceHealth)
		}
		time.Sleep(10 * time.Millisecond)
	}
	if snap.SourceHealth.State != "connected" || snap.SourceHealth.LastError != "" || snap.SourceHealth.LastSeenUTC == "" {
		t.Fatalf("source_health=%+v", snap.SourceHealth)
	}

	cancel()
	select {
	case err := <-done:
		if err != context.Canceled {
			t.Fatalf("err=%v want context.Canceled", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("runSource did not stop")
	}
	if st.Snapshot(time.Now().UTC()).SourceHealth != nil {
		t.Fatalf("source health still registered after stop")
	}
}
