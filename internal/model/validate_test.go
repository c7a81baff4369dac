package model

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

// fieldErrors extracts a *ValidationError from err or fails the test.
func fieldErrors(t *testing.T, err error) []FieldError {
	t.Helper()
	if err == nil {
		t.Fatal("expected validation error, got nil")
	}
	ve, ok := err.(*ValidationError)
	if !ok {
		t.Fatalf("expected *ValidationError, got %T", err)
	}
	return ve.Errors
}

// hasFieldError reports whether the error list contains an error for the given field.
func hasFieldError(errs []FieldError, field string) bool {
	for _, fe := range errs {
		if fe.Field == field {
			return true
		}
	}
	return false
}

func ptr[T any](v T) *T { return &v }

func TestValidate_ValidCommands(t *testing.T) {
	for _, cmd := range []any{
		MovementCommand{DeviceID: 1, ClientID: 2, Operation: 3},
		MovementCommand{DeviceID: 0, ClientID: 0, Operation: 0, Obstacle: ptr(int64(0))},
		ObstacleCommand{DeviceID: 4, ClientID: 7, Obstacle: ptr(int64(1))},
		ObstacleCommand{DeviceID: 4, ClientID: 7},
		SpeedCommand{DeviceID: 7, ClientID: 2, Speed: 1},
		SequenceCommand{Name: "patrol", Steps: []int64{1, 3, 1, 2}, DeviceID: 5, ClientID: 9},
		SequenceCommand{Steps: []int64{0}},
	} {
		if err := Validate(cmd); err != nil {
			t.Errorf("Validate(%+v) = %v, want nil", cmd, err)
		}
	}
}

func TestValidate_NegativeIDs(t *testing.T) {
	errs := fieldErrors(t, Validate(MovementCommand{DeviceID: -1, ClientID: -2, Operation: -3, Obstacle: ptr(int64(-4))}))
	for _, field := range []string{"id_dispositivo", "id_cliente", "id_operacion", "id_obstaculo"} {
		if !hasFieldError(errs, field) {
			t.Errorf("expected error for %s, got %v", field, errs)
		}
	}
}

func TestValidate_SpeedMustBePositive(t *testing.T) {
	for _, speed := range []int64{0, -1} {
		errs := fieldErrors(t, Validate(SpeedCommand{DeviceID: 7, ClientID: 2, Speed: speed}))
		if len(errs) != 1 || errs[0].Field != "id_velocidad" {
			t.Fatalf("speed %d: got %v, want single id_velocidad error", speed, errs)
		}
		if !strings.Contains(errs[0].Message, "greater than 0") {
			t.Errorf("speed %d: message = %q", speed, errs[0].Message)
		}
	}
}

func TestValidate_SequenceSteps(t *testing.T) {
	errs := fieldErrors(t, Validate(SequenceCommand{Name: "empty", DeviceID: 1, ClientID: 1}))
	if !hasFieldError(errs, "movimientos") {
		t.Fatalf("expected movimientos error, got %v", errs)
	}
	if !strings.Contains(errs[0].Message, "at least 1") {
		t.Errorf("message = %q", errs[0].Message)
	}

	errs = fieldErrors(t, Validate(SequenceCommand{Steps: []int64{1, -2}}))
	if !hasFieldError(errs, "movimientos[1]") {
		t.Errorf("expected movimientos[1] error, got %v", errs)
	}
}

func TestValidate_SequenceNameLength(t *testing.T) {
	errs := fieldErrors(t, Validate(SequenceCommand{Name: strings.Repeat("x", 101), Steps: []int64{1}}))
	if !hasFieldError(errs, "nombre") {
		t.Errorf("expected nombre error, got %v", errs)
	}
}

func TestValidationError_Error(t *testing.T) {
	ve := &ValidationError{Errors: []FieldError{
		{Field: "id_velocidad", Message: "must be greater than 0, got 0"},
		{Field: "id_cliente", Message: "must be 0 or greater, got -1"},
	}}
	want := "validation failed: id_velocidad: must be greater than 0, got 0; id_cliente: must be 0 or greater, got -1"
	if got := ve.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !ve.HasErrors() {
		t.Error("HasErrors() = false, want true")
	}
}

func TestPersistenceError_Unwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := fmt.Errorf("recording: %w", &PersistenceError{Op: "insert event", Err: cause})

	var pe *PersistenceError
	if !errors.As(err, &pe) {
		t.Fatalf("errors.As did not find *PersistenceError in %v", err)
	}
	if pe.Op != "insert event" {
		t.Errorf("Op = %q", pe.Op)
	}
	if !errors.Is(err, cause) {
		t.Error("errors.Is did not reach the cause")
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		t.Error("persistence error must not match *ValidationError")
	}
}
