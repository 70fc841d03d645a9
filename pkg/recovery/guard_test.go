package recovery

import (
	"errors"
	"testing"

	engerrors "github.com/dmitrykomlev/nas-fault-simulator-sub000/pkg/errors"
)

func TestGuardPassesThroughNormalError(t *testing.T) {
	want := errors.New("boom")
	err := Guard("dispatcher", "write", func() error { return want })
	if err != want {
		t.Errorf("Guard() = %v, want %v", err, want)
	}
}

func TestGuardPassesThroughSuccess(t *testing.T) {
	err := Guard("dispatcher", "read", func() error { return nil })
	if err != nil {
		t.Errorf("Guard() = %v, want nil", err)
	}
}

func TestGuardRecoversPanic(t *testing.T) {
	err := Guard("dispatcher", "write", func() error {
		panic("fault evaluator exploded")
	})
	if err == nil {
		t.Fatal("Guard() should convert a panic into an error")
	}
	engErr, ok := err.(*engerrors.EngineError)
	if !ok {
		t.Fatalf("Guard() error type = %T, want *errors.EngineError", err)
	}
	if engErr.Code != engerrors.ErrCodeResourceExhausted {
		t.Errorf("Code = %s, want %s", engErr.Code, engerrors.ErrCodeResourceExhausted)
	}
	if engErr.Component != "dispatcher" || engErr.Operation != "write" {
		t.Errorf("Component/Operation = %s/%s", engErr.Component, engErr.Operation)
	}
}
