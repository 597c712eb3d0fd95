package dbus

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/riftbus/dbus/fragments"
)

func TestMarshalErrorUnwraps(t *testing.T) {
	enc := fragments.Encoder{
		Order:  fragments.NativeEndian,
		Mapper: encoderFor,
	}
	var nilFile *os.File
	err := enc.Value(context.Background(), nilFile)
	if err == nil {
		t.Fatal("encoding a nil *os.File succeeded, want an error")
	}
	var me MarshalError
	if !errors.As(err, &me) {
		t.Fatalf("encoding a nil *os.File returned %T (%v), want MarshalError in its chain", err, err)
	}
	if me.Field != "os.File" {
		t.Errorf("MarshalError.Field = %q, want %q", me.Field, "os.File")
	}
}

func TestMarshalErrorObjectPath(t *testing.T) {
	enc := fragments.Encoder{
		Order:  fragments.NativeEndian,
		Mapper: encoderFor,
	}
	err := enc.Value(context.Background(), ObjectPath("not-absolute"))
	if err == nil {
		t.Fatal("encoding a malformed ObjectPath succeeded, want an error")
	}
	var me MarshalError
	if !errors.As(err, &me) {
		t.Fatalf("encoding a malformed ObjectPath returned %T (%v), want MarshalError in its chain", err, err)
	}
}
