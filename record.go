package emgrecv

// The wire format and the two on-disk encodings for EMG telemetry records.
//
// A sender transmits one JSON object per UDP datagram:
//
//	{"ts": <float>, "aTA": <float>, "aGAS": <float>, "valid": <bool>}
//
// ts is the sender-side capture time in seconds; aTA and aGAS are the
// normalized activations of the tibialis anterior and gastrocnemius
// channels; valid is the sender's quality flag. Extra fields are ignored.

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// TelemetryRecord is one decoded EMG sample. It is immutable once built:
// the receive loop constructs exactly one per successfully decoded datagram
// and the writers only read it.
type TelemetryRecord struct {
	TS    float64 // sender-side capture time, seconds
	ATA   float64 // tibialis anterior activation, clamped to [0,1]
	AGAS  float64 // gastrocnemius activation, clamped to [0,1]
	Valid bool    // sender-asserted signal quality
}

// DecodeErrorKind classifies why a datagram was rejected.
type DecodeErrorKind int

// Enumeration of the decode failure kinds.
const (
	Malformed  DecodeErrorKind = iota // bad JSON, missing field, wrong type
	OutOfRange                        // a numeric field was NaN or infinite
)

// DecodeError reports a rejected datagram. Field names the offending wire
// field when one can be identified.
type DecodeError struct {
	Kind  DecodeErrorKind
	Field string
	Cause error
}

func (e *DecodeError) Error() string {
	kind := "malformed"
	if e.Kind == OutOfRange {
		kind = "out of range"
	}
	if e.Field == "" {
		return fmt.Sprintf("%s packet: %v", kind, e.Cause)
	}
	if e.Cause == nil {
		return fmt.Sprintf("%s packet: field %q", kind, e.Field)
	}
	return fmt.Sprintf("%s packet: field %q: %v", kind, e.Field, e.Cause)
}

func (e *DecodeError) Unwrap() error { return e.Cause }

// clamp01 restricts x to the [0, 1] range.
func clamp01(x float64) float64 {
	return math.Max(0.0, math.Min(1.0, x))
}

// toFloat converts a decoded JSON value to float64. JSON numbers always
// unmarshal into any as float64; numeric strings are accepted too for
// the sake of loosely-typed senders.
func toFloat(v any) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case string:
		return strconv.ParseFloat(strings.TrimSpace(x), 64)
	}
	return 0, fmt.Errorf("cannot convert %T to float", v)
}

// toBool converts a decoded JSON value to bool, accepting numbers and the
// usual truthy strings.
func toBool(v any) (bool, error) {
	switch x := v.(type) {
	case bool:
		return x, nil
	case float64:
		return x != 0, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(x)) {
		case "1", "true", "yes", "y":
			return true, nil
		default:
			return false, nil
		}
	}
	return false, fmt.Errorf("cannot convert %T to bool", v)
}

// DecodePacket parses one raw UDP payload into a TelemetryRecord. All four
// wire fields are required; unknown fields are ignored. Non-finite numeric
// values are rejected before the channel clamp, so a record that decodes
// successfully never carries NaN or Inf.
func DecodePacket(raw []byte) (TelemetryRecord, error) {
	var rec TelemetryRecord
	var msg map[string]any
	if err := json.Unmarshal(raw, &msg); err != nil {
		return rec, &DecodeError{Kind: Malformed, Cause: err}
	}

	floats := make(map[string]float64, 3)
	for _, name := range [...]string{"ts", "aTA", "aGAS"} {
		v, present := msg[name]
		if !present {
			return rec, &DecodeError{Kind: Malformed, Field: name}
		}
		f, err := toFloat(v)
		if err != nil {
			return rec, &DecodeError{Kind: Malformed, Field: name, Cause: err}
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return rec, &DecodeError{Kind: OutOfRange, Field: name}
		}
		floats[name] = f
	}

	v, present := msg["valid"]
	if !present {
		return rec, &DecodeError{Kind: Malformed, Field: "valid"}
	}
	valid, err := toBool(v)
	if err != nil {
		return rec, &DecodeError{Kind: Malformed, Field: "valid", Cause: err}
	}

	rec.TS = floats["ts"]
	rec.ATA = clamp01(floats["aTA"])
	rec.AGAS = clamp01(floats["aGAS"])
	rec.Valid = valid
	return rec, nil
}

// LogLineHeader is the CSV header for the append log, matching the column
// order of LogLine.
const LogLineHeader = "recv_ts,ts,aTA,aGAS,valid"

// LogLine renders the record as one CSV line (no trailing newline) for the
// append log. recvTime is the receiver-side arrival time, written as
// fractional seconds so capture time and arrival time can be compared
// downstream.
func (r TelemetryRecord) LogLine(recvTime time.Time) string {
	fields := []string{
		strconv.FormatFloat(float64(recvTime.UnixNano())/1e9, 'f', 6, 64),
		strconv.FormatFloat(r.TS, 'g', -1, 64),
		strconv.FormatFloat(r.ATA, 'g', -1, 64),
		strconv.FormatFloat(r.AGAS, 'g', -1, 64),
		strconv.FormatBool(r.Valid),
	}
	return strings.Join(fields, ",")
}

// wireRecord fixes the JSON field names and their order for Snapshot output.
type wireRecord struct {
	TS    float64 `json:"ts"`
	ATA   float64 `json:"aTA"`
	AGAS  float64 `json:"aGAS"`
	Valid bool    `json:"valid"`
}

// Snapshot renders the record as a standalone, newline-terminated JSON
// document carrying exactly the four wire fields. The result is what the
// latest-value file contains, and it decodes again with DecodePacket.
func (r TelemetryRecord) Snapshot() []byte {
	b, err := json.Marshal(wireRecord{r.TS, r.ATA, r.AGAS, r.Valid})
	if err != nil {
		// Finite floats and a bool cannot fail to marshal.
		panic(err)
	}
	return append(b, '\n')
}
