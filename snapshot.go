package emgrecv

import (
	"fmt"
	"os"
)

// SnapshotPublisher overwrites a single well-known file with the most
// recently decoded record. The write goes to a temporary file in the same
// directory which is then renamed into place, so an external poller that
// opens the snapshot at any instant sees either the previous complete
// document or the new one, never a torn write. Readers are independent
// processes; the rename is the only coordination.
type SnapshotPublisher struct {
	path    string
	tmppath string
}

// NewSnapshotPublisher prepares a publisher for the given snapshot path.
// The temporary file lives beside the target so the rename stays within one
// filesystem.
func NewSnapshotPublisher(path string) *SnapshotPublisher {
	return &SnapshotPublisher{path: path, tmppath: path + ".tmp"}
}

// Path returns the well-known snapshot location.
func (sp *SnapshotPublisher) Path() string { return sp.path }

// Publish replaces the snapshot file with rec's standalone encoding. Every
// successfully decoded record is published, whatever its Valid flag says;
// validity is advisory metadata for the reader.
func (sp *SnapshotPublisher) Publish(rec TelemetryRecord) error {
	if err := os.WriteFile(sp.tmppath, rec.Snapshot(), 0664); err != nil {
		return fmt.Errorf("write snapshot temp file: %w", err)
	}
	if err := os.Rename(sp.tmppath, sp.path); err != nil {
		os.Remove(sp.tmppath)
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}
