package errdefs

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestKindsSurviveWrapping(t *testing.T) {
	err := fmt.Errorf("loading package: %w", Newf(ErrSchema, "duplicate operator id %q", "a"))

	if !errors.Is(err, ErrSchema) {
		t.Fatalf("expected errors.Is(err, ErrSchema), got %v", err)
	}
	if errors.Is(err, ErrFormat) {
		t.Errorf("did not expect ErrFormat to match %v", err)
	}
	if got := Kind(err); got != ErrSchema {
		t.Errorf("expected kind %v, got %v", ErrSchema, got)
	}
	if got, want := err.Error(), `loading package: invalid package: duplicate operator id "a"`; got != want {
		t.Errorf("unexpected message %q, want %q", got, want)
	}
}

func TestWrapfKeepsCause(t *testing.T) {
	err := Wrapf(ErrSchema, io.ErrUnexpectedEOF, "decoding %s", "ops.json")
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("expected cause to be reachable, got %v", err)
	}
	if !errors.Is(err, ErrSchema) {
		t.Errorf("expected kind to be reachable, got %v", err)
	}
}

func TestStatusCodes(t *testing.T) {
	grid := []struct {
		kind     error
		code     codes.Code
		httpCode int
	}{
		{ErrFormat, codes.InvalidArgument, http.StatusBadRequest},
		{ErrBounds, codes.OutOfRange, http.StatusBadRequest},
		{ErrNotWarmedUp, codes.FailedPrecondition, http.StatusConflict},
		{ErrUnsupportedVariant, codes.Unimplemented, http.StatusNotImplemented},
		{ErrOperatorResult, codes.Internal, http.StatusInternalServerError},
	}
	for _, g := range grid {
		err := fmt.Errorf("outer: %w", Newf(g.kind, "detail"))
		if got := status.Code(err); got != g.code {
			t.Errorf("%v: expected code %v, got %v", g.kind, g.code, got)
		}
		if got := HTTPStatus(err); got != g.httpCode {
			t.Errorf("%v: expected http status %d, got %d", g.kind, g.httpCode, got)
		}
	}

	if got := HTTPStatus(nil); got != http.StatusOK {
		t.Errorf("expected 200 for nil error, got %d", got)
	}
	if got := HTTPStatus(errors.New("boom")); got != http.StatusInternalServerError {
		t.Errorf("expected 500 for unclassified error, got %d", got)
	}
}
