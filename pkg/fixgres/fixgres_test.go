package fixgres

import (
	"errors"
	"strings"
	"testing"
)

func TestGuard_RecoversPanic(t *testing.T) {
	err := guard(func() error { panic("rootless Docker not found") })
	if !errors.Is(err, ErrDockerUnavailable) {
		t.Fatalf("guard() = %v, want ErrDockerUnavailable", err)
	}
	if !strings.Contains(err.Error(), "rootless Docker not found") {
		t.Errorf("guard() = %q, want the panic value in the message", err)
	}
}

func TestGuard_PassesErrorThrough(t *testing.T) {
	want := errors.New("pull failed")
	if err := guard(func() error { return want }); err != want {
		t.Errorf("guard() = %v, want %v", err, want)
	}
	if err := guard(func() error { return nil }); err != nil {
		t.Errorf("guard() = %v, want nil", err)
	}
}

func TestNewSandbox_SkipsAfterFailedBoot(t *testing.T) {
	prevErr, prevDSN := bootErr, connString
	bootErr, connString = guard(func() error { panic("no docker host") }), ""
	t.Cleanup(func() { bootErr, connString = prevErr, prevDSN })

	var skipped bool
	t.Run("sandbox", func(t *testing.T) {
		defer func() { skipped = t.Skipped() }()
		NewSandbox(t)
		t.Error("NewSandbox returned instead of skipping")
	})
	if !skipped {
		t.Error("sandbox test was not skipped")
	}
}
