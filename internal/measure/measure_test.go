package measure_test

import (
	"bytes"
	"regexp"
	"testing"

	"github.com/openwrt-tools/factoryimg/internal/measure"
)

func TestInteractively(t *testing.T) {
	var buf bytes.Buffer
	done := measure.Interactively(&buf, "converting")
	if got, want := buf.String(), "[converting]"; got != want {
		t.Fatalf("status: got %q, want %q", got, want)
	}
	done(", 328 KiB")
	re := regexp.MustCompile(`^\[converting\]\r\[done\] in [0-9]+\.[0-9]{2}s, 328 KiB +\n$`)
	if !re.MatchString(buf.String()) {
		t.Errorf("output %q does not match %v", buf.String(), re)
	}
}
