// Package protocol defines the GATT service layout and the payload codec
// shared by the peripheral and the collector.
//
// Outbound (device→peer, notify): 1 status byte, followed for Ok by two
// big-endian int16 values: temperature×100 °C and humidity×100 %RH.
// Inbound (peer→device, write): 1 acknowledgement byte.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/sweeney/climate-sensor/internal/sensor"
)

// GATT UUIDs.
const (
	ServiceUUID = "edd1a5f3-dbb0-4b29-b449-a4be5161f18e"
	RXCharUUID  = "edd1a5f3-dbb2-4b29-b449-a4be5161f18e" // write: ack/retry from peer
	TXCharUUID  = "edd1a5f3-dbb3-4b29-b449-a4be5161f18e" // notify: status + reading
)

// Status is the first byte of every notification.
type Status byte

const (
	StatusOK    Status = 0x00
	StatusWait  Status = 0x01
	StatusError Status = 0xFF
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusWait:
		return "WAIT"
	case StatusError:
		return "ERROR"
	}
	return fmt.Sprintf("STATUS(0x%02X)", byte(s))
}

// Ack is the single byte a peer writes to the RX characteristic.
type Ack byte

const (
	AckReceived Ack = 0x00
	AckRetry    Ack = 0x01
)

func (a Ack) String() string {
	switch a {
	case AckReceived:
		return "ACK"
	case AckRetry:
		return "RETRY"
	}
	return fmt.Sprintf("ACK(0x%02X)", byte(a))
}

// Payload sizes.
const (
	StatusLen  = 1
	ReadingLen = StatusLen + 4
)

var (
	ErrMissingReading = errors.New("protocol: ok status requires a reading")
	ErrUnknownStatus  = errors.New("protocol: unknown status")
	ErrShortPayload   = errors.New("protocol: payload too short")
	ErrEmptyAck       = errors.New("protocol: empty acknowledgement")
	ErrUnknownAck     = errors.New("protocol: unknown acknowledgement")
)

// EncodeNotification builds the outbound payload. The reading is only
// used, and required, for StatusOK.
func EncodeNotification(status Status, r *sensor.Reading) ([]byte, error) {
	switch status {
	case StatusOK:
		if r == nil {
			return nil, ErrMissingReading
		}
		temp, rh := r.Hundredths()
		buf := make([]byte, ReadingLen)
		buf[0] = byte(StatusOK)
		binary.BigEndian.PutUint16(buf[1:3], uint16(temp))
		binary.BigEndian.PutUint16(buf[3:5], uint16(rh))
		return buf, nil
	case StatusWait, StatusError:
		return []byte{byte(status)}, nil
	}
	return nil, fmt.Errorf("%w: 0x%02X", ErrUnknownStatus, byte(status))
}

// DecodeNotification parses an outbound payload. The reading is nil unless
// the status is StatusOK.
func DecodeNotification(data []byte) (Status, *sensor.Reading, error) {
	if len(data) < StatusLen {
		return 0, nil, ErrShortPayload
	}
	status := Status(data[0])
	switch status {
	case StatusOK:
		if len(data) < ReadingLen {
			return status, nil, fmt.Errorf("%w: %d bytes", ErrShortPayload, len(data))
		}
		temp := int16(binary.BigEndian.Uint16(data[1:3]))
		rh := int16(binary.BigEndian.Uint16(data[3:5]))
		r := sensor.FromHundredths(temp, rh)
		return status, &r, nil
	case StatusWait, StatusError:
		return status, nil, nil
	}
	return status, nil, fmt.Errorf("%w: 0x%02X", ErrUnknownStatus, data[0])
}

// DecodeAck parses an inbound write. Only the first byte is significant.
func DecodeAck(data []byte) (Ack, error) {
	if len(data) == 0 {
		return 0, ErrEmptyAck
	}
	a := Ack(data[0])
	switch a {
	case AckReceived, AckRetry:
		return a, nil
	}
	return a, fmt.Errorf("%w: 0x%02X", ErrUnknownAck, data[0])
}
