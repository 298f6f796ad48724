package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *AppError
		want string
	}{
		{
			name: "error without cause",
			err: &AppError{
				Code:    ErrCodeNotFound,
				Message: "job not found",
			},
			want: "job not found",
		},
		{
			name: "error with cause",
			err: &AppError{
				Code:    ErrCodeInternal,
				Message: "failed to persist job",
				Cause:   errors.New("underlying error"),
			},
			want: "failed to persist job: underlying error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("AppError.Error() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAppError_Unwrap(t *testing.T) {
	cause := errors.New("underlying error")
	err := &AppError{
		Code:    ErrCodeInternal,
		Message: "wrapped error",
		Cause:   cause,
	}

	if unwrapped := err.Unwrap(); !errors.Is(unwrapped, cause) {
		t.Errorf("AppError.Unwrap() = %v, want %v", unwrapped, cause)
	}
}

func TestConstructors(t *testing.T) {
	tests := []struct {
		name     string
		err      *AppError
		wantCode ErrorCode
		wantMsg  string
	}{
		{name: "NotFound", err: NotFound("job missing"), wantCode: ErrCodeNotFound, wantMsg: "job missing"},
		{name: "NotFoundf", err: NotFoundf("job %q missing", "daily"), wantCode: ErrCodeNotFound, wantMsg: `job "daily" missing`},
		{name: "Conflict", err: Conflict("id taken"), wantCode: ErrCodeConflict, wantMsg: "id taken"},
		{name: "Conflictf", err: Conflictf("id %q taken", "daily"), wantCode: ErrCodeConflict, wantMsg: `id "daily" taken`},
		{name: "Validation", err: Validation("bad id"), wantCode: ErrCodeValidation, wantMsg: "bad id"},
		{name: "Validationf", err: Validationf("bad id %q", "a b"), wantCode: ErrCodeValidation, wantMsg: `bad id "a b"`},
		{name: "StoreUnavailable", err: StoreUnavailable("store down"), wantCode: ErrCodeStoreUnavailable, wantMsg: "store down"},
		{name: "SpawnFailed", err: SpawnFailed("binary missing"), wantCode: ErrCodeSpawnFailed, wantMsg: "binary missing"},
		{name: "Timeoutf", err: Timeoutf("deadline after %ds", 3600), wantCode: ErrCodeTimeout, wantMsg: "deadline after 3600s"},
		{name: "Overflow", err: Overflow("pool saturated"), wantCode: ErrCodeOverflow, wantMsg: "pool saturated"},
		{name: "Internal", err: Internal("boom"), wantCode: ErrCodeInternal, wantMsg: "boom"},
		{name: "Internalf", err: Internalf("boom %d", 2), wantCode: ErrCodeInternal, wantMsg: "boom 2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Code != tt.wantCode {
				t.Errorf("Code = %v, want %v", tt.err.Code, tt.wantCode)
			}
			if tt.err.Message != tt.wantMsg {
				t.Errorf("Message = %q, want %q", tt.err.Message, tt.wantMsg)
			}
		})
	}
}

func TestValidationField(t *testing.T) {
	err := ValidationField("run_date", "must be in the future")
	if err.Code != ErrCodeValidation {
		t.Errorf("Code = %v, want %v", err.Code, ErrCodeValidation)
	}
	if err.Field != "run_date" {
		t.Errorf("Field = %q, want %q", err.Field, "run_date")
	}
	if got := GetField(err); got != "run_date" {
		t.Errorf("GetField() = %q, want %q", got, "run_date")
	}
}

func TestWrap(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrap(cause, ErrCodeStoreUnavailable, "persist failed")
	if err.Code != ErrCodeStoreUnavailable {
		t.Errorf("Code = %v, want %v", err.Code, ErrCodeStoreUnavailable)
	}
	if !errors.Is(err, cause) {
		t.Error("Wrap() lost the cause")
	}

	if got := Wrap(nil, ErrCodeInternal, "ignored"); got != nil {
		t.Errorf("Wrap(nil) = %v, want nil", got)
	}
}

func TestWrapf(t *testing.T) {
	cause := errors.New("exit 2")
	err := Wrapf(cause, ErrCodeSpawnFailed, "spawn %q", "pipeline_exec")
	if err.Code != ErrCodeSpawnFailed {
		t.Errorf("Code = %v, want %v", err.Code, ErrCodeSpawnFailed)
	}
	if want := `spawn "pipeline_exec"`; err.Message != want {
		t.Errorf("Message = %q, want %q", err.Message, want)
	}
	if got := Wrapf(nil, ErrCodeInternal, "ignored %d", 1); got != nil {
		t.Errorf("Wrapf(nil) = %v, want nil", got)
	}
}

func TestMessagef_LazyFormatting(t *testing.T) {
	mt := Messagef("job %s failed %d times", "daily", 3)
	if got, want := mt.String(), "job daily failed 3 times"; got != want {
		t.Errorf("MessageTemplate.String() = %q, want %q", got, want)
	}

	plain := Messagef("no args")
	if got := plain.String(); got != "no args" {
		t.Errorf("MessageTemplate.String() = %q, want %q", got, "no args")
	}
}

func TestPredicates(t *testing.T) {
	tests := []struct {
		name string
		err  error
		pred func(error) bool
		want bool
	}{
		{name: "IsNotFound true", err: NotFound("x"), pred: IsNotFound, want: true},
		{name: "IsNotFound wrapped", err: fmt.Errorf("outer: %w", NotFound("x")), pred: IsNotFound, want: true},
		{name: "IsNotFound false", err: Conflict("x"), pred: IsNotFound, want: false},
		{name: "IsConflict true", err: Conflict("x"), pred: IsConflict, want: true},
		{name: "IsValidation true", err: Validation("x"), pred: IsValidation, want: true},
		{name: "IsStoreUnavailable true", err: StoreUnavailable("x"), pred: IsStoreUnavailable, want: true},
		{name: "IsSpawnFailed true", err: SpawnFailed("x"), pred: IsSpawnFailed, want: true},
		{name: "IsTimeout true", err: Timeoutf("x"), pred: IsTimeout, want: true},
		{name: "IsOverflow true", err: Overflow("x"), pred: IsOverflow, want: true},
		{name: "IsInternal true", err: Internal("x"), pred: IsInternal, want: true},
		{name: "IsCanceled false on plain error", err: errors.New("x"), pred: IsCanceled, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.pred(tt.err); got != tt.want {
				t.Errorf("predicate = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetCode(t *testing.T) {
	if got := GetCode(Overflow("x")); got != ErrCodeOverflow {
		t.Errorf("GetCode() = %v, want %v", got, ErrCodeOverflow)
	}
	if got := GetCode(errors.New("plain")); got != "" {
		t.Errorf("GetCode(plain) = %v, want empty", got)
	}
	if got := GetCode(nil); got != "" {
		t.Errorf("GetCode(nil) = %v, want empty", got)
	}
}
