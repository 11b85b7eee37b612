package web

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"canbits/internal/can"
)

const serviceName = "canbits"

// Status aggregates decoder activity for /api/status. It is safe for
// concurrent use.
type Status struct {
	startUnixNano int64
	framesTotal   uint64
	framesValid   uint64
	lastFrameNano int64
	source        atomic.Value // string
	destuff       atomic.Bool

	mu     sync.Mutex
	byKind map[can.ErrorKind]uint64
	health func(nowUTC time.Time) SourceHealth
}

// SourceHealth describes a connection-oriented input such as the TCP line
// client.
type SourceHealth struct {
	State       string `json:"state"`
	LastError   string `json:"last_error,omitempty"`
	Lines       uint64 `json:"lines"`
	LastSeenUTC string `json:"last_seen_utc,omitempty"`
}

func NewStatus() *Status {
	s := &Status{byKind: map[can.ErrorKind]uint64{}}
	atomic.StoreInt64(&s.startUnixNano, time.Now().UTC().UnixNano())
	s.source.Store("")
	s.destuff.Store(true)
	return s
}

// SetStatic records the configured input and decoding mode.
func (s *Status) SetStatic(source string, destuff bool) {
	if source != "" {
		s.source.Store(source)
	}
	s.destuff.Store(destuff)
}

// SetSourceHealth registers a provider polled on every snapshot. A nil fn
// removes it.
func (s *Status) SetSourceHealth(fn func(nowUTC time.Time) SourceHealth) {
	s.mu.Lock()
	s.health = fn
	s.mu.Unlock()
}

// Record counts one decoded frame and its diagnostics.
func (s *Status) Record(nowUTC time.Time, f *can.Frame) {
	if f == nil {
		return
	}
	if nowUTC.IsZero() {
		nowUTC = time.Now().UTC()
	}
	atomic.AddUint64(&s.framesTotal, 1)
	if f.Valid() {
		atomic.AddUint64(&s.framesValid, 1)
	}
	atomic.StoreInt64(&s.lastFrameNano, nowUTC.UnixNano())

	if len(f.Errors) == 0 {
		return
	}
	s.mu.Lock()
	for _, d := range f.Errors {
		s.byKind[d.Kind]++
	}
	s.mu.Unlock()
}

type StatusSnapshot struct {
	Service      string            `json:"service"`
	NowUTC       string            `json:"now_utc"`
	UptimeSec    int64             `json:"uptime_sec"`
	GoVersion    string            `json:"go_version"`
	Source       string            `json:"source"`
	Destuff      bool              `json:"destuff"`
	FramesTotal  uint64            `json:"frames_total"`
	FramesValid  uint64            `json:"frames_valid"`
	Diagnostics  map[string]uint64 `json:"diagnostics"`
	LastFrameUTC string            `json:"last_frame_utc,omitempty"`
	SourceHealth *SourceHealth     `json:"source_health,omitempty"`
}

func (s *Status) Snapshot(nowUTC time.Time) StatusSnapshot {
	if nowUTC.IsZero() {
		nowUTC = time.Now().UTC()
	}
	start := time.Unix(0, atomic.LoadInt64(&s.startUnixNano)).UTC()
	lastFrame := atomic.LoadInt64(&s.lastFrameNano)

	snap := StatusSnapshot{
		Service:     serviceName,
		NowUTC:      nowUTC.UTC().Format(time.RFC3339Nano),
		UptimeSec:   int64(nowUTC.Sub(start).Seconds()),
		GoVersion:   runtime.Version(),
		Source:      s.source.Load().(string),
		Destuff:     s.destuff.Load(),
		FramesTotal: atomic.LoadUint64(&s.framesTotal),
		FramesValid: atomic.LoadUint64(&s.framesValid),
		Diagnostics: map[string]uint64{},
	}
	s.mu.Lock()
	for k, v := range s.byKind {
		snap.Diagnostics[string(k)] = v
	}
	health := s.health
	s.mu.Unlock()
	if health != nil {
		h := health(nowUTC)
		snap.SourceHealth = &h
	}
	if lastFrame != 0 {
		snap.LastFrameUTC = time.Unix(0, lastFrame).UTC().Format(time.RFC3339Nano)
	}
	return snap
}
