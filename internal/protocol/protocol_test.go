package protocol

import (
	"bytes"
	"errors"
	"testing"

	"github.com/sweeney/climate-sensor/internal/sensor"
)

func TestEncodeNotificationOK(t *testing.T) {
	tests := []struct {
		name string
		temp float64
		rh   float64
		want []byte
	}{
		// 2134 = 0x0856, 5512 = 0x1588
		{"typical", 21.34, 55.12, []byte{0x00, 0x08, 0x56, 0x15, 0x88}},
		// -500 = 0xFE0C
		{"negative temperature", -5.00, 0, []byte{0x00, 0xFE, 0x0C, 0x00, 0x00}},
		{"zero", 0, 0, []byte{0x00, 0x00, 0x00, 0x00, 0x00}},
		{"max", 327.67, 100, []byte{0x00, 0x7F, 0xFF, 0x27, 0x10}},
		{"min", -327.68, 0, []byte{0x00, 0x80, 0x00, 0x00, 0x00}},
		{"minus one hundredth", -0.01, 0.01, []byte{0x00, 0xFF, 0xFF, 0x00, 0x01}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EncodeNotification(StatusOK, &sensor.Reading{Temperature: tt.temp, Humidity: tt.rh})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !bytes.Equal(got, tt.want) {
				t.Errorf("payload: got % X, want % X", got, tt.want)
			}
		})
	}
}

func TestEncodeNotificationStatusOnly(t *testing.T) {
	r := &sensor.Reading{Temperature: 21.34, Humidity: 55.12}

	wait, err := EncodeNotification(StatusWait, r)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if !bytes.Equal(wait, []byte{0x01}) {
		t.Errorf("wait: got % X, want 01", wait)
	}

	errPayload, err := EncodeNotification(StatusError, nil)
	if err != nil {
		t.Fatalf("error: %v", err)
	}
	if !bytes.Equal(errPayload, []byte{0xFF}) {
		t.Errorf("error: got % X, want FF", errPayload)
	}
}

func TestEncodeNotificationInvalid(t *testing.T) {
	if _, err := EncodeNotification(StatusOK, nil); !errors.Is(err, ErrMissingReading) {
		t.Errorf("ok without reading: expected ErrMissingReading, got %v", err)
	}
	if _, err := EncodeNotification(Status(0x42), nil); !errors.Is(err, ErrUnknownStatus) {
		t.Errorf("unknown status: expected ErrUnknownStatus, got %v", err)
	}
}

func TestDecodeNotification(t *testing.T) {
	status, r, err := DecodeNotification([]byte{0x00, 0xFE, 0x0C, 0x15, 0x88})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status != StatusOK {
		t.Errorf("status: got %v, want OK", status)
	}
	if r == nil {
		t.Fatal("expected reading")
	}
	if r.Temperature != -5 || r.Humidity != 55.12 {
		t.Errorf("reading: got %+v", *r)
	}

	status, r, err = DecodeNotification([]byte{0x01})
	if err != nil || status != StatusWait || r != nil {
		t.Errorf("wait: got (%v, %v, %v)", status, r, err)
	}

	status, r, err = DecodeNotification([]byte{0xFF})
	if err != nil || status != StatusError || r != nil {
		t.Errorf("error: got (%v, %v, %v)", status, r, err)
	}
}

func TestDecodeNotificationInvalid(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"empty", nil, ErrShortPayload},
		{"truncated ok", []byte{0x00, 0x08, 0x56}, ErrShortPayload},
		{"unknown status", []byte{0x7E}, ErrUnknownStatus},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := DecodeNotification(tt.data); !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestDecodeAck(t *testing.T) {
	tests := []struct {
		data    []byte
		want    Ack
		wantErr error
	}{
		{[]byte{0x00}, AckReceived, nil},
		{[]byte{0x01}, AckRetry, nil},
		{[]byte{0x01, 0xAA}, AckRetry, nil},
		{[]byte{0x02}, Ack(0x02), ErrUnknownAck},
		{nil, 0, ErrEmptyAck},
	}
	for _, tt := range tests {
		got, err := DecodeAck(tt.data)
		if !errors.Is(err, tt.wantErr) {
			t.Errorf("DecodeAck(% X): err %v, want %v", tt.data, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("DecodeAck(% X): got %v, want %v", tt.data, got, tt.want)
		}
	}
}

func TestStrings(t *testing.T) {
	if StatusOK.String() != "OK" || StatusWait.String() != "WAIT" || StatusError.String() != "ERROR" {
		t.Error("unexpected status names")
	}
	if Status(0x42).String() != "STATUS(0x42)" {
		t.Errorf("unknown status: got %q", Status(0x42).String())
	}
	if AckReceived.String() != "ACK" || AckRetry.String() != "RETRY" {
		t.Error("unexpected ack names")
	}
}
