package emgrecv

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDecodePacket(t *testing.T) {
	raw := []byte(`{"ts":1.5,"aTA":0.12,"aGAS":0.34,"valid":true}`)
	rec, err := DecodePacket(raw)
	if err != nil {
		t.Fatalf("DecodePacket(%s) failed: %v", raw, err)
	}
	assert.Equal(t, TelemetryRecord{TS: 1.5, ATA: 0.12, AGAS: 0.34, Valid: true}, rec)

	// Unknown extra fields are ignored for forward compatibility.
	raw = []byte(`{"ts":2,"aTA":0.5,"aGAS":0.6,"valid":false,"seq":17,"device":"emg0"}`)
	rec, err = DecodePacket(raw)
	if err != nil {
		t.Fatalf("DecodePacket with extra fields failed: %v", err)
	}
	assert.Equal(t, TelemetryRecord{TS: 2, ATA: 0.5, AGAS: 0.6, Valid: false}, rec)
}

func TestDecodeCoercion(t *testing.T) {
	// Loosely-typed senders may encode numbers as strings and bools as
	// numbers or words; all of these decode to the same record.
	payloads := []string{
		`{"ts":1,"aTA":0.25,"aGAS":0.75,"valid":true}`,
		`{"ts":"1","aTA":" 0.25","aGAS":"0.75 ","valid":1}`,
		`{"ts":1.0,"aTA":0.25,"aGAS":0.75,"valid":"yes"}`,
		`{"ts":1,"aTA":0.25,"aGAS":0.75,"valid":"TRUE"}`,
	}
	want := TelemetryRecord{TS: 1, ATA: 0.25, AGAS: 0.75, Valid: true}
	for _, p := range payloads {
		rec, err := DecodePacket([]byte(p))
		if err != nil {
			t.Errorf("DecodePacket(%s) failed: %v", p, err)
			continue
		}
		if rec != want {
			t.Errorf("DecodePacket(%s) = %+v, want %+v", p, rec, want)
		}
	}

	// Non-truthy strings mean false, as the senders intend.
	rec, err := DecodePacket([]byte(`{"ts":1,"aTA":0,"aGAS":0,"valid":"no"}`))
	if err != nil {
		t.Fatalf("valid=\"no\" should decode: %v", err)
	}
	if rec.Valid {
		t.Error("valid=\"no\" decoded as true")
	}
}

func TestDecodeClamping(t *testing.T) {
	rec, err := DecodePacket([]byte(`{"ts":-5.5,"aTA":1.7,"aGAS":-0.3,"valid":true}`))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if rec.ATA != 1.0 || rec.AGAS != 0.0 {
		t.Errorf("channels not clamped to [0,1]: aTA=%v aGAS=%v", rec.ATA, rec.AGAS)
	}
	if rec.TS != -5.5 {
		t.Errorf("timestamp must pass through unclamped, got %v", rec.TS)
	}
}

func TestDecodeMalformed(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"not JSON", "garbage\x00bytes"},
		{"JSON array", `[1,2,3]`},
		{"empty object", `{}`},
		{"missing ts", `{"aTA":0.1,"aGAS":0.2,"valid":true}`},
		{"missing aTA", `{"ts":1,"aGAS":0.2,"valid":true}`},
		{"missing aGAS", `{"ts":1,"aTA":0.1,"valid":true}`},
		{"missing valid", `{"ts":1,"aTA":0.1,"aGAS":0.2}`},
		{"ts wrong type", `{"ts":[1],"aTA":0.1,"aGAS":0.2,"valid":true}`},
		{"valid wrong type", `{"ts":1,"aTA":0.1,"aGAS":0.2,"valid":[true]}`},
		{"truncated", `{"ts":1,"aTA":0.1,"aG`},
		{"bare NaN literal", `{"ts":NaN,"aTA":0.1,"aGAS":0.2,"valid":true}`},
	}
	for _, tc := range cases {
		_, err := DecodePacket([]byte(tc.raw))
		var derr *DecodeError
		if !errors.As(err, &derr) {
			t.Errorf("%s: got err %v, want a DecodeError", tc.name, err)
			continue
		}
		if derr.Kind != Malformed {
			t.Errorf("%s: kind = %v, want Malformed", tc.name, derr.Kind)
		}
	}
}

func TestDecodeNonFinite(t *testing.T) {
	// Non-finite values arrive as numeric strings (JSON itself has no NaN
	// literal). They must be rejected before clamping could hide them.
	cases := []struct {
		name string
		raw  string
	}{
		{"ts NaN", `{"ts":"NaN","aTA":0.1,"aGAS":0.2,"valid":true}`},
		{"aTA Inf", `{"ts":1,"aTA":"Inf","aGAS":0.2,"valid":true}`},
		{"aGAS -Infinity", `{"ts":1,"aTA":0.1,"aGAS":"-Infinity","valid":true}`},
	}
	for _, tc := range cases {
		_, err := DecodePacket([]byte(tc.raw))
		var derr *DecodeError
		if !errors.As(err, &derr) {
			t.Errorf("%s: got err %v, want a DecodeError", tc.name, err)
			continue
		}
		if derr.Kind != OutOfRange {
			t.Errorf("%s: kind = %v, want OutOfRange", tc.name, derr.Kind)
		}
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	// decode -> Snapshot -> decode must preserve all four fields.
	payloads := []string{
		`{"ts":1.0,"aTA":0.12,"aGAS":0.34,"valid":true}`,
		`{"ts":2.0,"aTA":0.5,"aGAS":0.6,"valid":false}`,
		`{"ts":0,"aTA":0,"aGAS":0,"valid":false}`,
		`{"ts":1e6,"aTA":1,"aGAS":1,"valid":true}`,
		`{"ts":-3.25,"aTA":0.333333333,"aGAS":0.666666667,"valid":true}`,
	}
	for _, p := range payloads {
		rec, err := DecodePacket([]byte(p))
		if err != nil {
			t.Fatalf("DecodePacket(%s) failed: %v", p, err)
		}
		again, err := DecodePacket(rec.Snapshot())
		if err != nil {
			t.Fatalf("snapshot of %s does not decode: %v", p, err)
		}
		if again != rec {
			t.Errorf("round trip changed the record: %+v -> %+v", rec, again)
		}
	}
}

func TestLogLine(t *testing.T) {
	rec := TelemetryRecord{TS: 1.5, ATA: 0.12, AGAS: 0.34, Valid: false}
	recvTime := time.Unix(1700000000, 250000000)
	line := rec.LogLine(recvTime)

	assert.Equal(t, "1700000000.250000,1.5,0.12,0.34,false", line)

	// Determinism: same inputs, same line.
	assert.Equal(t, line, rec.LogLine(recvTime))

	// Column count matches the header.
	assert.Equal(t, len(strings.Split(LogLineHeader, ",")), len(strings.Split(line, ",")))
}
