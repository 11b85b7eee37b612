package source

import (
	"fmt"
	"io"
	"time"

	"go.bug.st/serial"
)

// OpenSerial opens a serial port that streams bit strings, one frame per
// line, at 8N1 and the given baud rate.
func OpenSerial(device string, baud int) (io.ReadCloser, error) {
	if device == "" {
		return nil, fmt.Errorf("serial device is required")
	}
	if baud <= 0 {
		return nil, fmt.Errorf("unsupported baud %d", baud)
	}

	port, err := serial.Open(device, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("open serial %s: %w", device, err)
	}
	if err := port.SetReadTimeout(serialPollInterval); err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("set read timeout: %w", err)
	}
	return &serialReader{port: port}, nil
}

// serialReader polls the port with a read timeout so a blocked read never
// outlives Close by more than one interval.
type serialReader struct {
	port serial.Port
}

const serialPollInterval = 500 * time.Millisecond

func (r *serialReader) Read(p []byte) (int, error) {
	for {
		n, err := r.port.Read(p)
		if n > 0 || err != nil {
			return n, err
		}
		// n == 0 with no error is a timeout; keep waiting.
	}
}

func (r *serialReader) Close() error {
	return r.port.Close()
}
