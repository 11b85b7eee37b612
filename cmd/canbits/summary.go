package main

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"canbits/internal/can"
	"canbits/internal/capture"
)

type captureSummary struct {
	Segments    int
	Frames      int
	WithErrors  int
	Incomplete  int
	MaxDuration time.Duration
	KindCounts  map[can.ErrorKind]int
	IDCounts    map[uint16]int
}

// summarizeCapture decodes every record with destuffing enabled, the mode
// the capture was most likely taken in.
func summarizeCapture(records []capture.Record) captureSummary {
	s := captureSummary{KindCounts: map[can.ErrorKind]int{}, IDCounts: map[uint16]int{}}
	if len(records) == 0 {
		return s
	}

	origin := time.Duration(0)
	hasFrames := false
	segments := 0

	for _, r := range records {
		if r.IsStart() {
			segments++
			origin = r.At
			continue
		}
		hasFrames = true

		s.Frames++
		at := r.At - origin
		if at < 0 {
			at = 0
		}
		if at > s.MaxDuration {
			s.MaxDuration = at
		}

		f := can.Decode(r.Bits, can.Options{})
		if len(f.Errors) > 0 {
			s.WithErrors++
			for _, d := range f.Errors {
				s.KindCounts[d.Kind]++
			}
		}
		if f.MissingBits > 0 {
			s.Incomplete++
		}
		if f.ID != nil {
			s.IDCounts[*f.ID]++
		}
	}
	if segments == 0 && hasFrames {
		segments = 1
	}
	s.Segments = segments

	return s
}

func printCaptureSummary(w io.Writer, path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return fmt.Errorf("path is empty")
	}

	recs, err := capture.ReadFile(path)
	if err != nil {
		return err
	}
	s := summarizeCapture(recs)

	fmt.Fprintf(w, "path: %s\n", path)
	fmt.Fprintf(w, "segments: %d\n", s.Segments)
	fmt.Fprintf(w, "frames: %d\n", s.Frames)
	fmt.Fprintf(w, "frames_with_errors: %d\n", s.WithErrors)
	fmt.Fprintf(w, "incomplete_frames: %d\n", s.Incomplete)
	fmt.Fprintf(w, "max_duration: %s\n", s.MaxDuration)

	fmt.Fprintf(w, "error_counts:\n")
	for _, k := range can.Kinds {
		if n := s.KindCounts[k]; n > 0 {
			fmt.Fprintf(w, "  %s: %d\n", k, n)
		}
	}

	ids := make([]int, 0, len(s.IDCounts))
	for id := range s.IDCounts {
		ids = append(ids, int(id))
	}
	sort.Ints(ids)
	fmt.Fprintf(w, "id_counts:\n")
	for _, id := range ids {
		fmt.Fprintf(w, "  0x%03X: %d\n", id, s.IDCounts[uint16(id)])
	}
	return nil
}
