// Package emgdb archives receiver sessions and telemetry records in a
// ClickHouse database. The connection is optional: when no server is
// reachable (or archiving is disabled), every operation degrades to a
// no-op, and the receive loop is never blocked or failed by the archive.
package emgdb

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
)

const databaseName = "emg" // official SQL name of the database

// telemetryQueueDepth bounds how many records may wait for insertion.
// When the queue is full, new records are dropped rather than stalling
// the receive loop.
const telemetryQueueDepth = 1024

// Connection wraps a ClickHouse connection plus the channels feeding its
// single handler goroutine.
type Connection struct {
	conn         clickhouse.Conn
	errLock      sync.Mutex
	err          error // guarded by errLock: set by the handler goroutine, read by the receive loop
	session      *SessionMessage
	telemetrymsg chan *TelemetryMessage
	dropped      int
	sync.WaitGroup
}

func (db *Connection) setErr(err error) {
	db.errLock.Lock()
	db.err = err
	db.errLock.Unlock()
}

func (db *Connection) lastErr() error {
	db.errLock.Lock()
	defer db.errLock.Unlock()
	return db.err
}

// IsConnected reports whether the database is usable.
func (db *Connection) IsConnected() bool {
	return (db != nil) && (db.conn != nil) && (db.lastErr() == nil)
}

// PingServer connects and prints the server version, for diagnostics.
func PingServer() error {
	db := createConnection()
	if !db.IsConnected() {
		return fmt.Errorf("database is not connected: %v", db.lastErr())
	}
	v, err := db.conn.ServerVersion()
	if err != nil {
		return err
	}
	fmt.Printf("ClickHouse server is alive. Version:\n%s\n", v)
	return db.conn.Close()
}

// StartConnection connects to the database, records the session row, and
// launches the handler goroutine. It always returns a usable *Connection;
// a failed connect yields one whose operations are no-ops.
func StartConnection(session *SessionMessage, abort <-chan struct{}) *Connection {
	db := createConnection()
	db.session = session
	db.logSession()
	go db.handleConnection(abort)
	return db
}

// DummyConnection returns a disconnected Connection for use when archiving
// is disabled.
func DummyConnection() *Connection {
	db := &Connection{}
	db.Add(1)
	go func() { db.Done() }()
	return db
}

func createConnection() *Connection {
	db := &Connection{}
	db.Add(1) // balanced by the handler goroutine's Done
	addr := os.Getenv("EMGRECV_DB_ADDR")
	if addr == "" {
		addr = "localhost:9000"
	}
	auth := clickhouse.Auth{
		Database: databaseName,
		Username: os.Getenv("EMGRECV_DB_USER"),
		Password: os.Getenv("EMGRECV_DB_PASSWORD"),
	}
	client := clickhouse.ClientInfo{
		Products: []struct {
			Name    string
			Version string
		}{
			{Name: "emgrecv", Version: "unknown"},
		},
	}
	opt := clickhouse.Options{
		Addr:       []string{addr},
		Auth:       auth,
		ClientInfo: client,
		TLS:        nil,
	}
	conn, err := clickhouse.Open(&opt)
	if err != nil {
		db.setErr(err)
		return db
	}
	db.conn = conn

	ctx := context.Background()
	if err = conn.Ping(ctx); err != nil {
		if exception, ok := err.(*clickhouse.Exception); ok {
			fmt.Printf("Exception [%d] %s \n%s\n", exception.Code, exception.Message, exception.StackTrace)
		}
		db.setErr(err)
		return db
	}

	db.telemetrymsg = make(chan *TelemetryMessage, telemetryQueueDepth)
	return db
}

func (db *Connection) logSession() {
	if !db.IsConnected() {
		return
	}
	ctx := context.Background()
	const nowait = false
	s := db.session
	formattedStart := s.Start.Format("2006-01-02 15:04:05.000000")
	formattedEnd := s.End.Format("2006-01-02 15:04:05.000000")
	if err := db.conn.AsyncInsert(ctx, `INSERT INTO sessions VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`, nowait,
		s.ID, s.Hostname, s.Githash, s.Version,
		s.GoVersion, s.Bind, s.Port, formattedStart, formattedEnd,
	); err != nil {
		fmt.Println("Error raised on AsyncInsert into sessions ", err)
		db.setErr(err)
	}
}

func (db *Connection) handleConnection(abort <-chan struct{}) {
	defer db.Done()
	if !db.IsConnected() {
		return
	}
	for {
		select {
		case <-abort:
			db.Disconnect()
			return
		case tmsg := <-db.telemetrymsg:
			db.handleTelemetryMessage(tmsg)
		}
	}
}

// Disconnect finalizes the session row with its end time.
func (db *Connection) Disconnect() {
	if db.IsConnected() {
		db.session.End = time.Now()
		db.logSession()
	}
}

// RecordTelemetry queues one record for insertion. It never blocks: when
// the queue is full the record is dropped and counted, since the archive
// must not apply backpressure to reception.
func (db *Connection) RecordTelemetry(msg *TelemetryMessage) {
	if !db.IsConnected() || msg == nil {
		return
	}
	select {
	case db.telemetrymsg <- msg:
	default:
		db.dropped++
	}
}

// Dropped returns how many records the full queue discarded.
func (db *Connection) Dropped() int {
	if db == nil {
		return 0
	}
	return db.dropped
}

func (db *Connection) handleTelemetryMessage(m *TelemetryMessage) {
	if !db.IsConnected() {
		return
	}
	ctx := context.Background()
	const nowait = false
	if err := db.conn.AsyncInsert(ctx, `INSERT INTO telemetry VALUES (?, ?, ?, ?, ?, ?)`, nowait,
		m.SessionID, m.RecvTS, m.TS, m.ATA, m.AGAS, m.Valid,
	); err != nil {
		fmt.Println("Error raised on AsyncInsert into telemetry ", err)
		db.setErr(err)
	}
}
