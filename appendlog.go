package emgrecv

import (
	"fmt"
	"os"
)

// AppendLog is the durable, ordered history of every decoded record. The
// destination file is opened once in append mode and held for the process
// lifetime; each Append writes one CSV line and leaves it in the OS write
// buffer, so a crash loses at most the in-flight line. Records with
// Valid=false are logged like any other: validity is data here, not a
// filter.
type AppendLog struct {
	file *os.File
}

// NewAppendLog opens (or creates) path for appending. The CSV header is
// written only when the file is new or empty, so restarting the receiver
// keeps extending the same log.
func NewAppendLog(path string) (*AppendLog, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0664)
	if err != nil {
		return nil, fmt.Errorf("open append log: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat append log: %w", err)
	}
	if info.Size() == 0 {
		if _, err := f.WriteString(LogLineHeader + "\n"); err != nil {
			f.Close()
			return nil, fmt.Errorf("write append log header: %w", err)
		}
	}
	return &AppendLog{file: f}, nil
}

// Append writes one record as a single line. Failures are returned for the
// caller to count and report; they must not stop reception.
func (al *AppendLog) Append(line string) error {
	if _, err := al.file.WriteString(line + "\n"); err != nil {
		return fmt.Errorf("append log write: %w", err)
	}
	return nil
}

// Close releases the log file handle.
func (al *AppendLog) Close() error {
	return al.file.Close()
}
