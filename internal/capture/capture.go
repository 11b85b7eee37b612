package capture

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Log format: line-oriented text.
//
// - Blank lines ignored.
// - Lines starting with '#' ignored; writers add "# session <uuid>" after START.
// - Line "START" resets the origin (next record time is relative to 0 again).
// - Data lines are: <t_ns>,<bits>
//   where t_ns is nanoseconds since START and bits is the raw bit string as
//   received, whitespace removed. Bits are not validated here so malformed
//   input can be captured and replayed exactly.

type Record struct {
	At   time.Duration
	Bits string
}

// IsStart reports whether the record is a START marker.
func (r Record) IsStart() bool { return r.Bits == "" }

type Reader struct {
	r io.Reader
}

func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

func (rr *Reader) ReadAll() ([]Record, error) {
	s := bufio.NewScanner(rr.r)
	s.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	recs := make([]Record, 0, 1024)
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "#") {
			continue
		}
		if line == "START" {
			recs = append(recs, Record{})
			continue
		}

		comma := strings.IndexByte(line, ',')
		if comma < 0 {
			return nil, fmt.Errorf("invalid capture line (missing comma): %q", line)
		}
		tsStr := strings.TrimSpace(line[:comma])
		bits := strings.Join(strings.Fields(line[comma+1:]), "")
		if tsStr == "" || bits == "" {
			return nil, fmt.Errorf("invalid capture line (empty field): %q", line)
		}

		tsNs, err := strconv.ParseInt(tsStr, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid capture timestamp %q: %w", tsStr, err)
		}
		if tsNs < 0 {
			return nil, fmt.Errorf("invalid capture timestamp (negative): %d", tsNs)
		}

		recs = append(recs, Record{At: time.Duration(tsNs) * time.Nanosecond, Bits: bits})
	}
	if err := s.Err(); err != nil {
		return nil, err
	}

	return recs, nil
}

// ReadFile reads every record of the capture at path.
func ReadFile(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return NewReader(f).ReadAll()
}

type Writer struct {
	f       *os.File
	w       *bufio.Writer
	start   time.Time
	session uuid.UUID
	closed  bool
}

// CreateWriter starts a new capture file with a START marker and a session id.
func CreateWriter(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	session := uuid.New()
	bw := bufio.NewWriterSize(f, 64*1024)
	if _, err := fmt.Fprintf(bw, "START\n# session %s\n", session); err != nil {
		_ = f.Close()
		return nil, err
	}
	return &Writer{f: f, w: bw, start: time.Now(), session: session}, nil
}

// Session identifies this capture in logs and summaries.
func (ww *Writer) Session() uuid.UUID { return ww.session }

func (ww *Writer) WriteBits(now time.Time, bits string) error {
	if ww.closed {
		return errors.New("capture writer is closed")
	}
	bits = strings.Join(strings.Fields(bits), "")
	if bits == "" {
		return errors.New("bits are empty")
	}

	// Use monotonic component of time when available.
	d := now.Sub(ww.start)
	if d < 0 {
		d = 0
	}
	if _, err := fmt.Fprintf(ww.w, "%d,%s\n", d.Nanoseconds(), bits); err != nil {
		return err
	}
	return nil
}

func (ww *Writer) Flush() error {
	if ww.closed {
		return nil
	}
	return ww.w.Flush()
}

func (ww *Writer) Close() error {
	if ww.closed {
		return nil
	}
	ww.closed = true
	if err := ww.w.Flush(); err != nil {
		_ = ww.f.Close()
		return err
	}
	return ww.f.Close()
}

type Sleeper interface {
	Sleep(d time.Duration)
}

type realSleeper struct{}

func (realSleeper) Sleep(d time.Duration) { time.Sleep(d) }

// Play replays records with their relative timing.
//
// cb is invoked for each data record; START markers reset the origin.
//
// speedMultiplier: 1.0 = real time, 2.0 = 2x speed (half waits), 0.5 = half speed.
func Play(records []Record, speedMultiplier float64, loop bool, sleeper Sleeper, cb func(bits string) error) error {
	if speedMultiplier <= 0 {
		return fmt.Errorf("speedMultiplier must be > 0")
	}
	if sleeper == nil {
		sleeper = realSleeper{}
	}
	if cb == nil {
		return errors.New("callback is nil")
	}
	data := 0
	for _, r := range records {
		if !r.IsStart() {
			data++
		}
	}
	if data == 0 {
		return errors.New("no records")
	}

	for {
		var origin time.Duration
		var lastAt time.Duration
		var haveLast bool

		for _, r := range records {
			if r.IsStart() {
				origin = r.At
				lastAt = 0
				haveLast = false
				continue
			}

			at := r.At - origin
			if at < 0 {
				at = 0
			}
			if haveLast {
				wait := at - lastAt
				if wait < 0 {
					wait = 0
				}
				wait = time.Duration(float64(wait) / speedMultiplier)
				if wait > 0 {
					sleeper.Sleep(wait)
				}
			}

			if err := cb(r.Bits); err != nil {
				return err
			}

			lastAt = at
			haveLast = true
		}

		if !loop {
			return nil
		}
	}
}
