package testutil

import (
	"os"
	"testing"
)

// RequireUinput skips the test if the TOUCHPADD_UINPUT_TEST environment
// variable is not set. Tests that open /dev/uinput only run in an
// environment known to have that device and the right permissions.
func RequireUinput(t *testing.T) {
	t.Helper()
	if os.Getenv("TOUCHPADD_UINPUT_TEST") == "" {
		t.Skip("Skipping test: requires TOUCHPADD_UINPUT_TEST environment")
	}
}
