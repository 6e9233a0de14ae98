package emgrecv

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/davecgh/go-spew/spew"
	sysctl "github.com/lorenzosaino/go-sysctl"

	"github.com/gaitlab/emgrecv/internal/emgdb"
	"github.com/gaitlab/emgrecv/internal/npyappend"
)

// maxPacketSize bounds one datagram read. EMG feature packets are well
// under 1 kB; anything larger than this is truncated by the read and will
// fail to decode.
const maxPacketSize = 4096

// readTimeout is how long one socket read may block before the loop polls
// its abort channel. Shutdown latency is bounded by this plus the file I/O
// for the datagram in flight.
const readTimeout = time.Second

// recvBufferSize is the OS socket receive buffer we request. The kernel
// buffer is the system's only backpressure: when disk I/O falls behind the
// sender, datagrams queue there and the oldest overflow is silently
// dropped, consistent with UDP delivery.
const recvBufferSize = 2 * 1024 * 1024

// Config collects the startup parameters for a Receiver. All fields are
// immutable for the process lifetime.
type Config struct {
	Bind        string        // IP to bind, e.g. "0.0.0.0"
	Port        int           // UDP port
	OutDir      string        // directory for the log, snapshot, and npy files
	PrintEvery  time.Duration // min interval between [LIVE] lines (default 200ms)
	StatusEvery time.Duration // interval between [STATUS] lines (default 2s)
	Verbose     bool          // dump the structure of rejected payloads
	ChannelLog  bool          // also append [recv_ts ts aTA aGAS] rows to a .npy file
	SessionID   string        // ULID tagging this receiver session
	DB          *emgdb.Connection
}

// Counts are the receiver's monotonically increasing counters. They are
// owned by the receive loop; read them after Run returns, or from the same
// goroutine.
type Counts struct {
	Received       uint64 // datagrams pulled off the socket
	DecodeFailures uint64 // datagrams rejected by the codec
	RecordsWritten uint64 // records routed to the writers
	AppendErrors   uint64 // non-fatal append-log write failures
	PublishErrors  uint64 // non-fatal snapshot publish failures
	SocketErrors   uint64 // non-timeout socket read errors survived
}

// Receiver owns the bound socket, the two writers, and the optional sinks.
// All of its mutable state is serialized through the single Run goroutine,
// so none of it needs locking.
type Receiver struct {
	conn      *net.UDPConn
	appendLog *AppendLog
	snapshot  *SnapshotPublisher
	db        *emgdb.Connection
	npy       *npyappend.NpyAppender[[4]float64]
	stats     *ChannelStats

	counts      Counts
	printEvery  time.Duration
	statusEvery time.Duration
	verbose     bool
	sessionID   string

	lastLive   time.Time
	lastStatus time.Time
	lastRecord *TelemetryRecord
}

// NewReceiver binds the socket and opens the output files. Any failure
// here is fatal: the process must not enter the receive loop half
// initialized.
func NewReceiver(cfg Config) (*Receiver, error) {
	if cfg.PrintEvery <= 0 {
		cfg.PrintEvery = 200 * time.Millisecond
	}
	if cfg.StatusEvery <= 0 {
		cfg.StatusEvery = 2 * time.Second
	}
	if err := os.MkdirAll(cfg.OutDir, 0775); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}

	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", cfg.Bind, cfg.Port))
	if err != nil {
		return nil, fmt.Errorf("resolve UDP address %s:%d: %w", cfg.Bind, cfg.Port, err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on UDP %s:%d: %w", cfg.Bind, cfg.Port, err)
	}
	if err := conn.SetReadBuffer(recvBufferSize); err != nil {
		// Some systems cap the buffer; reception still works.
		ProblemLogger.Printf("could not set %d byte UDP receive buffer: %v", recvBufferSize, err)
	}
	checkReceiveBufferCap(recvBufferSize)

	appendLog, err := NewAppendLog(filepath.Join(cfg.OutDir, "emg_log.csv"))
	if err != nil {
		conn.Close()
		return nil, err
	}

	r := &Receiver{
		conn:        conn,
		appendLog:   appendLog,
		snapshot:    NewSnapshotPublisher(filepath.Join(cfg.OutDir, "emg_latest.json")),
		db:          cfg.DB,
		stats:       NewChannelStats(512),
		printEvery:  cfg.PrintEvery,
		statusEvery: cfg.StatusEvery,
		verbose:     cfg.Verbose,
		sessionID:   cfg.SessionID,
		lastStatus:  time.Now(),
	}
	if r.db == nil {
		r.db = emgdb.DummyConnection()
	}
	if cfg.ChannelLog {
		npy, err := npyappend.NewNpyAppender[[4]float64](filepath.Join(cfg.OutDir, "emg_channels.npy"))
		if err != nil {
			appendLog.Close()
			conn.Close()
			return nil, fmt.Errorf("create channel log: %w", err)
		}
		r.npy = npy
	}
	return r, nil
}

// Addr returns the bound socket address. Useful when Port was 0 and the
// OS picked one.
func (r *Receiver) Addr() *net.UDPAddr {
	return r.conn.LocalAddr().(*net.UDPAddr)
}

// Counts returns the receiver's counters. Call after Run returns.
func (r *Receiver) Counts() Counts { return r.counts }

// SnapshotPath returns where the latest-value file is published.
func (r *Receiver) SnapshotPath() string { return r.snapshot.Path() }

// Run is the receive loop: block on the socket, decode, append, publish,
// repeat. It returns nil after abort is closed, and a non-nil error only
// if the socket fails in a way that is not survivable. No datagram's
// processing depends on any other's, and nothing but this goroutine
// mutates the receiver.
func (r *Receiver) Run(abort <-chan struct{}) error {
	buf := make([]byte, maxPacketSize)
	for {
		select {
		case <-abort:
			return r.shutdown()
		default:
		}

		r.conn.SetReadDeadline(time.Now().Add(readTimeout))
		n, sender, err := r.conn.ReadFromUDP(buf)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				r.maybeLogStatus(time.Now())
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				// Socket closed out from under us; treat as shutdown.
				return r.shutdown()
			}
			r.counts.SocketErrors++
			ProblemLogger.Printf("socket read error: %v", err)
			continue
		}
		recvTime := time.Now()
		r.counts.Received++

		rec, err := DecodePacket(buf[:n])
		if err != nil {
			r.counts.DecodeFailures++
			ProblemLogger.Printf("dropping datagram from %s: %v", sender.IP, err)
			if r.verbose {
				r.dumpRejected(buf[:n])
			}
			continue
		}

		// Both writers are always attempted; a failure of one must not
		// suppress the other, and neither stops reception.
		if err := r.appendLog.Append(rec.LogLine(recvTime)); err != nil {
			r.counts.AppendErrors++
			ProblemLogger.Printf("%v", err)
		}
		if err := r.snapshot.Publish(rec); err != nil {
			r.counts.PublishErrors++
			ProblemLogger.Printf("%v", err)
		}
		r.counts.RecordsWritten++

		recvSecs := float64(recvTime.UnixNano()) / 1e9
		if r.npy != nil {
			if err := r.npy.Append([4]float64{recvSecs, rec.TS, rec.ATA, rec.AGAS}); err != nil {
				ProblemLogger.Printf("channel log append: %v", err)
			}
		}
		r.db.RecordTelemetry(&emgdb.TelemetryMessage{
			SessionID: r.sessionID,
			RecvTS:    recvSecs,
			TS:        rec.TS,
			ATA:       rec.ATA,
			AGAS:      rec.AGAS,
			Valid:     rec.Valid,
		})

		r.stats.Push(rec.ATA, rec.AGAS)
		r.lastRecord = &rec
		r.maybeLogLive(recvTime, rec, sender)
		r.maybeLogStatus(recvTime)
	}
}

// shutdown releases the socket and file handles. Entered only from Run.
func (r *Receiver) shutdown() error {
	r.conn.Close()
	if err := r.appendLog.Close(); err != nil {
		ProblemLogger.Printf("closing append log: %v", err)
	}
	if r.npy != nil {
		if err := r.npy.Close(); err != nil {
			ProblemLogger.Printf("closing channel log: %v", err)
		}
	}
	return nil
}

func (r *Receiver) maybeLogLive(now time.Time, rec TelemetryRecord, sender *net.UDPAddr) {
	if now.Sub(r.lastLive) < r.printEvery {
		return
	}
	r.lastLive = now
	v := 0
	if rec.Valid {
		v = 1
	}
	UpdateLogger.Printf("[LIVE] aTA=%.3f aGAS=%.3f valid=%d from=%s",
		rec.ATA, rec.AGAS, v, sender.IP)
}

func (r *Receiver) maybeLogStatus(now time.Time) {
	if now.Sub(r.lastStatus) < r.statusEvery {
		return
	}
	r.lastStatus = now
	if r.lastRecord == nil {
		UpdateLogger.Printf("[STATUS] ok=%d bad=%d (waiting for data)",
			r.counts.RecordsWritten, r.counts.DecodeFailures)
		return
	}
	UpdateLogger.Printf("[STATUS] ok=%d bad=%d %s",
		r.counts.RecordsWritten, r.counts.DecodeFailures, r.stats)
	if r.npy != nil {
		// Keep the .npy header honest so the file is readable mid-run.
		if err := r.npy.RefreshHeader(); err != nil {
			ProblemLogger.Printf("channel log header refresh: %v", err)
		}
	}
}

// dumpRejected logs the structure of a rejected payload, when it is at
// least parseable JSON. Helps diagnose a sender with a renamed field.
func (r *Receiver) dumpRejected(raw []byte) {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		ProblemLogger.Printf("rejected payload is not a JSON object (%d bytes)", len(raw))
		return
	}
	ProblemLogger.Printf("rejected payload structure: %s", spew.Sdump(m))
}

// checkReceiveBufferCap warns when the kernel will clamp our receive
// buffer request, which shows up later as silent datagram loss under
// bursts. Linux only; other systems have no sysctl to consult.
func checkReceiveBufferCap(want int) {
	if runtime.GOOS != "linux" {
		return
	}
	val, err := sysctl.Get("net.core.rmem_max")
	if err != nil {
		return
	}
	if rmem, err := strconv.Atoi(strings.TrimSpace(val)); err == nil && rmem < want {
		ProblemLogger.Printf("net.core.rmem_max=%d is below the requested %d byte receive buffer; bursty senders may see drops", rmem, want)
	}
}
