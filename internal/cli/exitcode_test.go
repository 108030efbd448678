package cli

import (
	"errors"
	"fmt"
	"testing"
)

func TestExitCode_Nil(t *testing.T) {
	if got := ExitCode(nil); got != 0 {
		t.Errorf("ExitCode(nil) = %d, want 0", got)
	}
}

func TestExitCode_PlainErrorDefaultsToOne(t *testing.T) {
	if got := ExitCode(errors.New("boom")); got != 1 {
		t.Errorf("ExitCode(plain) = %d, want 1", got)
	}
}

func TestExitCode_RecoversWrappedCode(t *testing.T) {
	err := exitErr(3, errors.New("mismatch"))
	if got := ExitCode(err); got != 3 {
		t.Errorf("ExitCode() = %d, want 3", got)
	}
}

func TestExitCode_RecoversCodeThroughFurtherWrapping(t *testing.T) {
	err := fmt.Errorf("migrate: %w", exitErr(2, errors.New("rows failed")))
	if got := ExitCode(err); got != 2 {
		t.Errorf("ExitCode() = %d, want 2 even after an extra %%w layer", got)
	}
}

func TestExitErr_NilErrorReturnsNil(t *testing.T) {
	if err := exitErr(1, nil); err != nil {
		t.Errorf("exitErr(1, nil) = %v, want nil", err)
	}
}
