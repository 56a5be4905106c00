package core

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// Protocol identifies the radio a record was captured on.
type Protocol int

const (
	// WiFi records come from 802.11 probe requests.
	WiFi Protocol = iota
	// BLE records come from Bluetooth Low Energy advertisements.
	BLE
)

// DataType returns the value stored in the dataType column.
func (p Protocol) DataType() string {
	switch p {
	case WiFi:
		return "Wi-Fi"
	case BLE:
		return "BLE"
	default:
		return "unknown"
	}
}

// Source returns the value stored in the source column.
func (p Protocol) Source() string {
	switch p {
	case WiFi:
		return "wifi"
	case BLE:
		return "ble"
	default:
		return "unknown"
	}
}

func (p Protocol) String() string { return p.DataType() }

// MarshalText encodes the protocol by its source name.
func (p Protocol) MarshalText() ([]byte, error) {
	switch p {
	case WiFi, BLE:
		return []byte(p.Source()), nil
	}
	return nil, fmt.Errorf("unknown protocol %d", int(p))
}

// UnmarshalText accepts a source or data type name.
func (p *Protocol) UnmarshalText(b []byte) error {
	switch strings.ToLower(string(b)) {
	case "wifi", "wi-fi":
		*p = WiFi
	case "ble":
		*p = BLE
	default:
		return fmt.Errorf("unknown protocol %q", string(b))
	}
	return nil
}

// CSVHeader is the header line of every persisted capture file.
const CSVHeader = "dataType,timestamp,source,rssi,packetLength,macAddress,payload"

// CaptureRecord is one validated, filtered observation of a nearby device.
// Records are passed and stored by value and never modified after creation.
type CaptureRecord struct {
	// Protocol is the radio the record was captured on.
	Protocol Protocol `json:"protocol"`

	// Timestamp is the ISO-8601 capture time from the time source.
	Timestamp string `json:"timestamp"`

	// RSSI is the received signal strength in dBm.
	RSSI int `json:"rssi"`

	// PacketLength is the length of the original byte buffer.
	PacketLength int `json:"packetLength"`

	// MACAddress is the lowercase colon-separated device address.
	MACAddress string `json:"macAddress"`

	// Payload is the space-separated hex rendering of the buffer, followed
	// by optional " [Name: ...]" and " [Services: ...]" annotations.
	Payload string `json:"payload"`
}

// Filename returns the storage file name for the record: the timestamp
// with ':' replaced by '_' plus ".csv".
func (r CaptureRecord) Filename() string {
	return strings.ReplaceAll(r.Timestamp, ":", "_") + ".csv"
}

// CSVFields returns the record in persisted column order.
func (r CaptureRecord) CSVFields() []string {
	return []string{
		r.Protocol.DataType(),
		r.Timestamp,
		r.Protocol.Source(),
		strconv.Itoa(r.RSSI),
		strconv.Itoa(r.PacketLength),
		r.MACAddress,
		r.Payload,
	}
}

// RawBytes decodes the hex tokens of the payload back into the original
// buffer. Annotations following the hex body are ignored.
func (r CaptureRecord) RawBytes() ([]byte, error) {
	body := r.Payload
	if i := strings.Index(body, " ["); i >= 0 {
		body = body[:i]
	}
	if body == "" {
		return nil, nil
	}
	tokens := strings.Split(body, " ")
	out := make([]byte, len(tokens))
	for i, tok := range tokens {
		if len(tok) != 2 {
			return nil, fmt.Errorf("bad hex token %q at %d", tok, i)
		}
		if _, err := hex.Decode(out[i:i+1], []byte(tok)); err != nil {
			return nil, fmt.Errorf("bad hex token %q at %d: %w", tok, i, err)
		}
	}
	return out, nil
}
