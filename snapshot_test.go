package emgrecv

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSnapshotPublish(t *testing.T) {
	path := filepath.Join(t.TempDir(), "emg_latest.json")
	sp := NewSnapshotPublisher(path)

	first := TelemetryRecord{TS: 1.0, ATA: 0.12, AGAS: 0.34, Valid: true}
	if err := sp.Publish(first); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	rec, err := DecodePacket(data)
	if err != nil {
		t.Fatalf("snapshot does not decode: %v", err)
	}
	assert.Equal(t, first, rec)

	// The next publish replaces the file wholesale; valid=false records
	// are published like any other.
	second := TelemetryRecord{TS: 2.0, ATA: 0.50, AGAS: 0.60, Valid: false}
	if err := sp.Publish(second); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	data, err = os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	rec, err = DecodePacket(data)
	if err != nil {
		t.Fatalf("snapshot does not decode: %v", err)
	}
	assert.Equal(t, second, rec)

	// No temp file lingers after a successful publish.
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Errorf("temp file left behind (stat err %v)", err)
	}
}

func TestSnapshotPublishFailure(t *testing.T) {
	// A directory at the target path makes the rename fail. The error is
	// returned for the caller to count, and no temp file may linger, even
	// when the failure persists.
	path := filepath.Join(t.TempDir(), "emg_latest.json")
	if err := os.Mkdir(path, 0775); err != nil {
		t.Fatal(err)
	}
	sp := NewSnapshotPublisher(path)
	rec := TelemetryRecord{TS: 1.0, ATA: 0.5, AGAS: 0.5, Valid: true}
	for i := 0; i < 2; i++ {
		if err := sp.Publish(rec); err == nil {
			t.Fatal("Publish onto a directory did not fail")
		}
		if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
			t.Fatalf("temp file left behind after failed publish %d (stat err %v)", i, err)
		}
	}
}

// TestSnapshotNeverPartial hammers the publisher while an uncoordinated
// reader polls the file. Every successful read must decode to one of the
// two records being alternated; a parse failure would mean a torn write.
func TestSnapshotNeverPartial(t *testing.T) {
	path := filepath.Join(t.TempDir(), "emg_latest.json")
	sp := NewSnapshotPublisher(path)

	a := TelemetryRecord{TS: 1.0, ATA: 0.111111111111, AGAS: 0.222222222222, Valid: true}
	b := TelemetryRecord{TS: 2.0, ATA: 0.888888888888, AGAS: 0.999999999999, Valid: false}
	if err := sp.Publish(a); err != nil {
		t.Fatal(err)
	}

	const npublish = 400
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := range npublish {
			rec := a
			if i%2 == 1 {
				rec = b
			}
			if err := sp.Publish(rec); err != nil {
				t.Errorf("publish %d: %v", i, err)
				return
			}
		}
	}()

	reads := 0
	for finished := false; !finished; {
		select {
		case <-done:
			finished = true
		default:
		}
		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("read %d: %v", reads, err)
		}
		rec, err := DecodePacket(data)
		if err != nil {
			t.Fatalf("read %d: snapshot did not parse (torn write?): %v", reads, err)
		}
		if rec != a && rec != b {
			t.Fatalf("read %d: snapshot %+v is neither published record", reads, rec)
		}
		reads++
	}
	if reads == 0 {
		t.Error("reader never ran")
	}
}
