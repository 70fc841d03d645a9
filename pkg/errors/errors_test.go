package errors

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestNewError(t *testing.T) {
	t.Parallel()

	t.Run("creates error with all defaults", func(t *testing.T) {
		err := NewError(ErrCodeConfigValidation, "configuration is invalid")
		if err == nil {
			t.Fatal("NewError returned nil")
		}
		if err.Code != ErrCodeConfigValidation {
			t.Errorf("Code = %v, want %v", err.Code, ErrCodeConfigValidation)
		}
		if err.Message != "configuration is invalid" {
			t.Errorf("Message = %q, want %q", err.Message, "configuration is invalid")
		}
		if err.Category != CategoryConfig {
			t.Errorf("Category = %v, want %v", err.Category, CategoryConfig)
		}
		if err.Details == nil {
			t.Error("Details map is nil")
		}
		if err.Context == nil {
			t.Error("Context map is nil")
		}
		if err.Timestamp.IsZero() {
			t.Error("Timestamp not set")
		}
	})

	t.Run("every code is non-retryable by default", func(t *testing.T) {
		for _, code := range []ErrorCode{
			ErrCodeInjectedError, ErrCodeInjectedIOError, ErrCodePermissionDenied,
			ErrCodePassthroughFailed, ErrCodeResourceExhausted, ErrCodePanicRecovered,
			ErrCodeConfigLoad, ErrCodeConfigValidation, ErrCodeMountFailed,
			ErrCodeUnmountFailed, ErrCodeInvalidState, ErrCodeAlreadyStarted,
			ErrCodeInternalError,
		} {
			err := NewError(code, "test")
			if err.Retryable {
				t.Errorf("%v should not be retryable by default inside the dispatch path", code)
			}
		}
	})
}

func TestGetCategory(t *testing.T) {
	t.Parallel()

	tests := []struct {
		code     ErrorCode
		expected ErrorCategory
	}{
		{ErrCodeInjectedError, CategoryFault},
		{ErrCodeInjectedIOError, CategoryFault},
		{ErrCodePermissionDenied, CategoryPermission},
		{ErrCodePassthroughFailed, CategoryPassthrough},
		{ErrCodeResourceExhausted, CategoryResource},
		{ErrCodePanicRecovered, CategoryResource},
		{ErrCodeConfigLoad, CategoryConfig},
		{ErrCodeConfigValidation, CategoryConfig},
		{ErrCodeMountFailed, CategoryState},
		{ErrCodeUnmountFailed, CategoryState},
		{ErrCodeInvalidState, CategoryState},
		{ErrCodeAlreadyStarted, CategoryState},
		{ErrCodeInternalError, CategoryInternal},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			result := GetCategory(tt.code)
			if result != tt.expected {
				t.Errorf("GetCategory(%v) = %v, want %v", tt.code, result, tt.expected)
			}
		})
	}
}

func TestIsRetryableByDefault(t *testing.T) {
	t.Parallel()

	// Inside the dispatch path every error is final; the flag only
	// matters to the log-sink delivery path, which sets it explicitly.
	allCodes := []ErrorCode{
		ErrCodeInjectedError, ErrCodeInjectedIOError, ErrCodePermissionDenied,
		ErrCodePassthroughFailed, ErrCodeResourceExhausted, ErrCodePanicRecovered,
		ErrCodeConfigLoad, ErrCodeConfigValidation, ErrCodeMountFailed,
		ErrCodeUnmountFailed, ErrCodeInvalidState, ErrCodeAlreadyStarted,
		ErrCodeInternalError,
	}

	for _, code := range allCodes {
		t.Run(string(code), func(t *testing.T) {
			if IsRetryableByDefault(code) {
				t.Errorf("%v should not be retryable by default", code)
			}
		})
	}
}

func TestEngineError_Error(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  *EngineError
		want string
	}{
		{
			name: "with component and operation",
			err: &EngineError{
				Code:      ErrCodePassthroughFailed,
				Component: "passthrough",
				Operation: "read",
				Message:   "host read failed",
			},
			want: "[passthrough:read] PASSTHROUGH_FAILED: host read failed",
		},
		{
			name: "with component only",
			err: &EngineError{
				Code:      ErrCodeConfigValidation,
				Component: "config",
				Message:   "invalid value",
			},
			want: "[config] CONFIG_VALIDATION: invalid value",
		},
		{
			name: "minimal error",
			err: &EngineError{
				Code:    ErrCodeInternalError,
				Message: "something went wrong",
			},
			want: "INTERNAL_ERROR: something went wrong",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := tt.err.Error()
			if result != tt.want {
				t.Errorf("Error() = %q, want %q", result, tt.want)
			}
		})
	}
}

func TestEngineError_Unwrap(t *testing.T) {
	t.Parallel()

	cause := errors.New("underlying cause")
	err := &EngineError{
		Code:    ErrCodeInternalError,
		Message: "wrapper",
		Cause:   cause,
	}

	unwrapped := err.Unwrap()
	if unwrapped != cause {
		t.Errorf("Unwrap() = %v, want %v", unwrapped, cause)
	}
}

func TestEngineError_Is(t *testing.T) {
	t.Parallel()

	err1 := &EngineError{Code: ErrCodePermissionDenied, Message: "denied"}
	err2 := &EngineError{Code: ErrCodePermissionDenied, Message: "different message"}
	err3 := &EngineError{Code: ErrCodeConfigValidation, Message: "invalid"}
	stdErr := errors.New("standard error")

	if !err1.Is(err2) {
		t.Error("errors with same code should match with Is()")
	}

	if err1.Is(err3) {
		t.Error("errors with different codes should not match with Is()")
	}

	if err1.Is(stdErr) {
		t.Error("EngineError should not match standard error with Is()")
	}
}

func TestEngineError_String(t *testing.T) {
	t.Parallel()

	err := &EngineError{
		Code:      ErrCodePassthroughFailed,
		Category:  CategoryPassthrough,
		Message:   "operation took too long",
		Component: "passthrough",
		Operation: "write",
		Errno:     5,
		Retryable: false,
		Details:   map[string]interface{}{"fd": 7},
		Cause:     errors.New("device busy"),
	}

	result := err.String()

	expectedParts := []string{
		"Code=PASSTHROUGH_FAILED",
		"Category=passthrough",
		`Message="operation took too long"`,
		"Component=passthrough",
		"Operation=write",
		"Errno=5",
		"Details=",
		"Cause=",
	}

	for _, part := range expectedParts {
		if !strings.Contains(result, part) {
			t.Errorf("String() missing expected part: %q\nGot: %s", part, result)
		}
	}
}

func TestEngineError_JSON(t *testing.T) {
	t.Parallel()

	err := &EngineError{
		Code:      ErrCodeConfigValidation,
		Category:  CategoryConfig,
		Message:   "invalid setting",
		Component: "config",
		Retryable: false,
	}

	jsonStr := err.JSON()

	var parsed map[string]interface{}
	if parseErr := json.Unmarshal([]byte(jsonStr), &parsed); parseErr != nil {
		t.Fatalf("JSON() returned invalid JSON: %v\nJSON: %s", parseErr, jsonStr)
	}

	if parsed["code"] != "CONFIG_VALIDATION" {
		t.Errorf("JSON code = %v, want CONFIG_VALIDATION", parsed["code"])
	}
	if parsed["message"] != "invalid setting" {
		t.Errorf("JSON message = %v, want 'invalid setting'", parsed["message"])
	}
	if parsed["retryable"] != false {
		t.Errorf("JSON retryable = %v, want false", parsed["retryable"])
	}
}

func TestCaptureStack(t *testing.T) {
	t.Parallel()

	stack := CaptureStack(0)

	if stack == "" {
		t.Error("CaptureStack() returned empty string")
	}

	if !strings.Contains(stack, ":") {
		t.Error("Stack trace should contain file:line format")
	}

	if strings.Contains(stack, "errors.go") {
		t.Error("Stack trace should not include errors.go frames")
	}
}

func TestWithHelpers(t *testing.T) {
	t.Parallel()

	cause := errors.New("boom")
	err := NewError(ErrCodePassthroughFailed, "read failed").
		WithComponent("passthrough").
		WithOperation("read").
		WithErrno(5).
		WithCause(cause).
		WithContext("path", "/data/foo").
		WithDetail("fd", 3).
		WithStack()

	if err.Component != "passthrough" {
		t.Errorf("Component = %q, want passthrough", err.Component)
	}
	if err.Operation != "read" {
		t.Errorf("Operation = %q, want read", err.Operation)
	}
	if err.Errno != 5 {
		t.Errorf("Errno = %d, want 5", err.Errno)
	}
	if err.Cause != cause {
		t.Error("Cause not set")
	}
	if err.Context["path"] != "/data/foo" {
		t.Errorf("Context[path] = %q, want /data/foo", err.Context["path"])
	}
	if err.Details["fd"] != 3 {
		t.Errorf("Details[fd] = %v, want 3", err.Details["fd"])
	}
	if err.Stack == "" {
		t.Error("Stack not captured")
	}
}

func TestDetailedDiagnostic(t *testing.T) {
	t.Parallel()

	err := NewError(ErrCodeMountFailed, "mount failed").
		WithComponent("dispatcher").
		WithContext("mountpoint", "/mnt/fault").
		WithDetail("retries", 3).
		WithCause(errors.New("device or resource busy"))

	diag := err.DetailedDiagnostic()

	for _, part := range []string{
		"Error: mount failed",
		"Code: MOUNT_FAILED",
		"Category: state",
		"Component: dispatcher",
		"mountpoint: /mnt/fault",
		"retries: 3",
		"Underlying cause: device or resource busy",
	} {
		if !strings.Contains(diag, part) {
			t.Errorf("DetailedDiagnostic() missing %q\nGot: %s", part, diag)
		}
	}
}

func TestErrorCodeCategories(t *testing.T) {
	t.Parallel()

	allCodes := []ErrorCode{
		ErrCodeInjectedError, ErrCodeInjectedIOError,
		ErrCodePermissionDenied,
		ErrCodePassthroughFailed,
		ErrCodeResourceExhausted, ErrCodePanicRecovered,
		ErrCodeConfigLoad, ErrCodeConfigValidation,
		ErrCodeMountFailed, ErrCodeUnmountFailed, ErrCodeInvalidState, ErrCodeAlreadyStarted,
		ErrCodeInternalError, ErrCodeLogSinkDegraded,
	}

	for _, code := range allCodes {
		category := GetCategory(code)
		if category == "" {
			t.Errorf("GetCategory(%v) returned empty category", code)
		}
	}
}
