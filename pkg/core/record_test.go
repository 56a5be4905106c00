package core

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProtocolNames(t *testing.T) {
	assert.Equal(t, "Wi-Fi", WiFi.DataType())
	assert.Equal(t, "wifi", WiFi.Source())
	assert.Equal(t, "BLE", BLE.DataType())
	assert.Equal(t, "ble", BLE.Source())
	assert.Equal(t, "unknown", Protocol(42).Source())
}

func TestRecordFilename(t *testing.T) {
	rec := CaptureRecord{Timestamp: "2026-10-19T08:15:42"}
	if got := rec.Filename(); got != "2026-10-19T08_15_42.csv" {
		t.Errorf("Expected filename '2026-10-19T08_15_42.csv', got '%s'", got)
	}
}

func TestRecordCSVFields(t *testing.T) {
	rec := CaptureRecord{
		Protocol:     BLE,
		Timestamp:    "2026-10-19T08:15:42",
		RSSI:         -67,
		PacketLength: 3,
		MACAddress:   "aa:bb:cc:dd:ee:02",
		Payload:      "02 01 06",
	}

	assert.Equal(t, []string{"BLE", "2026-10-19T08:15:42", "ble", "-67", "3", "aa:bb:cc:dd:ee:02", "02 01 06"}, rec.CSVFields())
	assert.Len(t, rec.CSVFields(), len(bytes.Split([]byte(CSVHeader), []byte(","))))
}

func TestRecordRawBytes(t *testing.T) {
	rec := CaptureRecord{Payload: "04 09 41 42 43 [Name: ABC]"}
	raw, err := rec.RawBytes()
	require.NoError(t, err)
	assert.Equal(t, []byte{0x04, 0x09, 'A', 'B', 'C'}, raw)

	rec = CaptureRecord{Payload: "40 00 ff"}
	raw, err = rec.RawBytes()
	require.NoError(t, err)
	assert.Equal(t, []byte{0x40, 0x00, 0xff}, raw)

	rec = CaptureRecord{Payload: "4 00"}
	_, err = rec.RawBytes()
	assert.Error(t, err)

	raw, err = CaptureRecord{}.RawBytes()
	assert.NoError(t, err)
	assert.Empty(t, raw)
}

func TestHandlerFunc(t *testing.T) {
	var seen CaptureRecord
	h := HandlerFunc(func(r CaptureRecord) error {
		seen = r
		return errors.New("boom")
	})

	err := h.HandleRecord(CaptureRecord{MACAddress: "aa:bb:cc:dd:ee:ff"})
	assert.EqualError(t, err, "boom")
	assert.Equal(t, "aa:bb:cc:dd:ee:ff", seen.MACAddress)
}

func TestHandlersCallsEveryHandler(t *testing.T) {
	var calls []string
	hs := Handlers{
		HandlerFunc(func(r CaptureRecord) error {
			calls = append(calls, "first")
			return errors.New("first failed")
		}),
		nil,
		HandlerFunc(func(r CaptureRecord) error {
			calls = append(calls, "second")
			return nil
		}),
		HandlerFunc(func(r CaptureRecord) error {
			calls = append(calls, "third")
			return errors.New("third failed")
		}),
	}

	err := hs.HandleRecord(CaptureRecord{})
	require.Error(t, err)
	assert.Equal(t, []string{"first", "second", "third"}, calls)
	assert.Contains(t, err.Error(), "first failed")
	assert.Contains(t, err.Error(), "third failed")

	assert.NoError(t, Handlers{}.HandleRecord(CaptureRecord{}))
}

func TestProtocolJSON(t *testing.T) {
	rec := CaptureRecord{Protocol: BLE, MACAddress: "aa:bb:cc:dd:ee:ff"}
	b, err := json.Marshal(rec)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"protocol":"ble"`)

	var back CaptureRecord
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, rec, back)

	var p Protocol
	assert.NoError(t, p.UnmarshalText([]byte("Wi-Fi")))
	assert.Equal(t, WiFi, p)
	assert.Error(t, p.UnmarshalText([]byte("zigbee")))
	_, err = Protocol(7).MarshalText()
	assert.Error(t, err)
}
