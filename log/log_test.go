package log

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
	"time"
)

var (
	sampleInt      = 3
	sampleBytes    = []byte("123")
	sampleList     = []int64{10, 0, -10}
	sampleDuration = time.Second
	sampleTime     = time.Unix(12345678, 0)

	errSample = errors.New("some error")
)

func doLogs() {
	// Some sample logs from existing code.
	Infof("appended %d commitments to tree %x", sampleInt, sampleBytes)
	Debugw("admitting submission", "root", "abc123", "denomination", 1)
	Errorf("cannot commit nullifier: %v", errSample)
	Warnw("various types",
		"list", sampleList,
		"duration", sampleDuration,
		"time", sampleTime,
	)
	Error(errSample)
}

func TestCheckInvalidChars(t *testing.T) {
	t.Cleanup(func() { panicOnInvalidChars = false })

	v := []byte{'h', 'e', 'l', 'l', 'o', 0xff, 'w', 'o', 'r', 'l', 'd'}
	panicOnInvalidChars = false
	Init("debug", "stderr", nil)
	Debugf("%s", v)
	// should not panic since env var is false. if it panics, test will fail

	// now enable panic and try again: should recover() and never reach t.Errorf()
	panicOnInvalidChars = true
	Init("debug", "stderr", nil)
	defer func() { recover() }()
	Debugf("%s", v)
	t.Errorf("Debugf(%s) should have panicked because of invalid char", v)
}

func BenchmarkLogger(b *testing.B) {
	logTestWriter = io.Discard // to not grow a buffer
	Init("debug", logTestWriterName, nil)

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		doLogs()
	}
}

func TestLevel(t *testing.T) {
	t.Cleanup(func() { Init(LogLevelError, "stderr", nil) })
	for _, level := range []string{LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError} {
		Init(level, "stderr", nil)
		if got := Level(); got != level {
			t.Errorf("Level() = %q, want %q", got, level)
		}
	}
}

func TestErrorOutput(t *testing.T) {
	t.Cleanup(func() { Init(LogLevelError, "stderr", nil) })
	var errOut bytes.Buffer
	logTestWriter = io.Discard
	Init(LogLevelDebug, logTestWriterName, &errOut)
	Infow("not an error", "k", 1)
	if errOut.Len() != 0 {
		t.Fatalf("info line leaked to error output: %q", errOut.String())
	}
	Warnw("relayer balance low", "balance", 10)
	if !strings.Contains(errOut.String(), "relayer balance low") {
		t.Fatalf("warning missing from error output: %q", errOut.String())
	}
}
