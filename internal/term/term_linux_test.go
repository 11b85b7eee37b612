//go:build linux

package term

import (
	"os"
	"testing"
)

func TestIsTerminal_RegularFile(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "bits")
	if err != nil {
		t.Fatalf("CreateTemp() error: %v", err)
	}
	defer f.Close()
	if IsTerminal(f.Fd()) {
		t.Fatalf("regular file reported as terminal")
	}
}

func TestIsTerminal_Pipe(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("Pipe() error: %v", err)
	}
	defer r.Close()
	defer w.Close()
	if IsTerminal(r.Fd()) {
		t.Fatalf("pipe reported as terminal")
	}
}
