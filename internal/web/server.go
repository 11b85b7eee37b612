package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"canbits/internal/can"
)

// maxBodyBytes bounds a decode or encode request body.
const maxBodyBytes = 64 * 1024

// Recorder is told about every frame decoded through the API.
type Recorder interface {
	Record(nowUTC time.Time, f *can.Frame)
}

// DecodeResponse is the /api/decode payload.
type DecodeResponse struct {
	RequestID   string              `json:"request_id"`
	Frame       *can.Frame          `json:"frame"`
	Annotations []can.BitAnnotation `json:"annotations,omitempty"`
}

// EncodeResponse is the /api/encode payload.
type EncodeResponse struct {
	RequestID string `json:"request_id"`
	Wire      string `json:"wire"`
	Destuffed string `json:"destuffed"`
	CRC       uint16 `json:"crc"`
}

func Handler(status *Status, logs *LogBuffer) http.Handler {
	if status == nil {
		status = NewStatus()
	}
	mux := http.NewServeMux()

	mux.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
		if !allowMethods(w, r, http.MethodGet) {
			return
		}
		writeJSON(w, http.StatusOK, status.Snapshot(time.Now().UTC()))
	})

	mux.Handle("/api/decode", DecodeHandler(status))
	mux.Handle("/api/encode", EncodeHandler())

	if logs != nil {
		mux.Handle("/api/logs", logs.Handler())
	}

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if !allowMethods(w, r, http.MethodGet) {
			return
		}
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		snap := status.Snapshot(time.Now().UTC())
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = fmt.Fprintf(w, "<!doctype html><html><head><meta charset=\"utf-8\"><title>canbits</title></head><body>")
		_, _ = fmt.Fprintf(w, "<h1>canbits</h1>")
		_, _ = fmt.Fprintf(w, "<p>Decode with <a href=\"/api/decode\">/api/decode</a>; status at <a href=\"/api/status\">/api/status</a>.</p>")
		_, _ = fmt.Fprintf(w, "<pre>source=%s\ndestuff=%t\nframes_total=%d\nframes_valid=%d\nlast_frame_utc=%s</pre>",
			snap.Source, snap.Destuff, snap.FramesTotal, snap.FramesValid, snap.LastFrameUTC,
		)
		_, _ = fmt.Fprintf(w, "</body></html>")
	})

	return mux
}

// DecodeHandler decodes bits from the "bits" query parameter or, failing
// that, the request body. "destuff=false" treats the input as destuffed and
// "annotate=true" adds per-bit field assignments.
func DecodeHandler(rec Recorder) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !allowMethods(w, r, http.MethodGet, http.MethodPost) {
			return
		}
		q := r.URL.Query()

		bits := q.Get("bits")
		if bits == "" && r.Body != nil {
			b, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
			if err != nil {
				http.Error(w, "read body failed", http.StatusBadRequest)
				return
			}
			if len(b) > maxBodyBytes {
				http.Error(w, "body too large", http.StatusRequestEntityTooLarge)
				return
			}
			bits = string(b)
		}
		if strings.TrimSpace(bits) == "" {
			http.Error(w, "bits are required", http.StatusBadRequest)
			return
		}

		opts := can.Options{}
		if v := q.Get("destuff"); v != "" {
			destuff, err := strconv.ParseBool(v)
			if err != nil {
				http.Error(w, "destuff must be a boolean", http.StatusBadRequest)
				return
			}
			opts.SkipDestuff = !destuff
		}
		annotate, _ := strconv.ParseBool(q.Get("annotate"))

		f := can.Decode(bits, opts)
		if rec != nil {
			rec.Record(time.Now().UTC(), f)
		}
		resp := DecodeResponse{RequestID: uuid.NewString(), Frame: f}
		if annotate {
			resp.Annotations = f.Annotate()
		}
		writeJSON(w, http.StatusOK, resp)
	})
}

// EncodeHandler builds the bit strings of a frame from a JSON can.Message.
func EncodeHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !allowMethods(w, r, http.MethodPost) {
			return
		}
		var m can.Message
		dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&m); err != nil {
			http.Error(w, "invalid message: "+err.Error(), http.StatusBadRequest)
			return
		}

		wire, err := can.Encode(m)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		destuffed, err := m.Bits()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f := can.Decode(destuffed, can.Options{SkipDestuff: true})
		writeJSON(w, http.StatusOK, EncodeResponse{
			RequestID: uuid.NewString(),
			Wire:      wire,
			Destuffed: destuffed,
			CRC:       f.CRCComputed,
		})
	})
}

func Serve(ctx context.Context, listenAddr string, status *Status, logs *LogBuffer) error {
	if status == nil {
		status = NewStatus()
	}

	srv := &http.Server{
		Addr:              listenAddr,
		Handler:           Handler(status, logs),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       30 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MiB
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("web listening addr=%s", listenAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
