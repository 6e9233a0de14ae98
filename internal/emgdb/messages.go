package emgdb

import "time"

// The composite types used for messages to the ClickHouse database.

// SessionMessage is the information for the sessions table: one row per
// receiver process lifetime.
type SessionMessage struct {
	ID        string // ULID assigned at startup
	Hostname  string
	Githash   string
	Version   string
	GoVersion string
	Bind      string
	Port      int
	Start     time.Time
	End       time.Time
}

// TelemetryMessage is one received record destined for the telemetry table.
type TelemetryMessage struct {
	SessionID string
	RecvTS    float64 // receiver-side arrival time, fractional seconds
	TS        float64 // sender-side capture time
	ATA       float64
	AGAS      float64
	Valid     bool
}
