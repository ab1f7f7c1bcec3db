package logflags

import (
	"bytes"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func resetFlags() {
	debugger, executor, dap, linker, terminal = false, false, false, false, false
	logOut = nil
}

func TestSetupWithoutLog(t *testing.T) {
	defer resetFlags()
	if err := Setup(false, "", ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if Debugger() || Executor() || DAP() {
		t.Fatalf("no layer should be enabled without --log")
	}
	if err := Setup(false, "dap", ""); err != errLogstrWithoutLog {
		t.Fatalf("expected %v, got %v", errLogstrWithoutLog, err)
	}
}

func TestSetupLayers(t *testing.T) {
	defer resetFlags()
	if err := Setup(true, "executor,dap,bogus", ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !Executor() || !DAP() {
		t.Fatalf("expected executor and dap layers to be enabled")
	}
	if Debugger() || Linker() || Terminal() {
		t.Fatalf("unexpected layer enabled")
	}
}

func TestSetupDefaultLayer(t *testing.T) {
	defer resetFlags()
	if err := Setup(true, "", ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !Debugger() {
		t.Fatalf("debugger layer should be enabled by default")
	}
}

func TestMakeLoggerLevel(t *testing.T) {
	defer resetFlags()
	buf := new(bytes.Buffer)
	logOut = buf

	off := makeLogger(false, logrus.Fields{"layer": "test"})
	if off.Logger.Level != logrus.PanicLevel {
		t.Fatalf("expected panic level, got %v", off.Logger.Level)
	}
	off.Debugf("hidden")
	if buf.Len() != 0 {
		t.Fatalf("disabled logger wrote %q", buf.String())
	}

	on := makeLogger(true, logrus.Fields{"layer": "test"})
	on.Debugf("visible %d", 1)
	if !strings.Contains(buf.String(), "visible 1") || !strings.Contains(buf.String(), "layer=test") {
		t.Fatalf("unexpected log output %q", buf.String())
	}
}
