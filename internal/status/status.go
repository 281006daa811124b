// Package status implements the durable per-service status record: a
// fixed-width prefix plus a length-prefixed message, persisted atomically
// to a file in each service directory.
package status

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// Event is the lifecycle event recorded in a status file.
type Event uint8

const (
	EventNone Event = iota
	EventStarting
	EventStarted
	EventStopping
	EventStopped
	EventStartingFailed
	EventStartFailed
	EventStoppingFailed
	EventStopFailed
	EventError
)

func (e Event) String() string {
	switch e {
	case EventStarting:
		return "starting"
	case EventStarted:
		return "started"
	case EventStopping:
		return "stopping"
	case EventStopped:
		return "stopped"
	case EventStartingFailed:
		return "starting_failed"
	case EventStartFailed:
		return "start_failed"
	case EventStoppingFailed:
		return "stopping_failed"
	case EventStopFailed:
		return "stop_failed"
	case EventError:
		return "error"
	default:
		return "none"
	}
}

// recordFileName is the name of the status file within a service directory.
const recordFileName = "status"

// headerSize is the fixed-width prefix: event(1) + code(4) + stamp(12).
// The 12-byte timestamp mirrors the TAI64N layout used by the supervisor's
// own status records (8 bytes of TAI seconds, 4 bytes of nanoseconds) so
// the two can be compared directly without a conversion step.
const headerSize = 1 + 4 + 12

// tai64Base is TAI64N's label for the Unix epoch: 2^62 seconds. The
// 10-second TAI/UTC skew at 1970-01-01 is added and removed separately
// by putStamp and stampToTime. Same constant used to
// decode supervisor-emitted timestamps in internal/supervisor.
const tai64Base = uint64(1) << 62

// Record is the decoded form of a status file.
type Record struct {
	Event   Event
	Code    int32
	Stamp   time.Time
	Message string
}

// ErrDecode is returned when a status file's bytes don't form a valid
// record; readers that hit it treat the record as Unknown rather than
// failing the surrounding operation.
var ErrDecode = errors.New("status: malformed record")

// Encode serializes r to the wire format:
// event:u8 | code:i32 | stamp:tain(12B) | msg_len:u16 | msg:bytes
func Encode(r Record) []byte {
	buf := make([]byte, headerSize+2+len(r.Message))
	buf[0] = byte(r.Event)
	binary.BigEndian.PutUint32(buf[1:5], uint32(r.Code))
	putStamp(buf[5:17], r.Stamp)
	binary.BigEndian.PutUint16(buf[17:19], uint16(len(r.Message)))
	copy(buf[19:], r.Message)
	return buf
}

// Decode parses the wire format produced by Encode. A byte sequence that
// doesn't match the expected layout is reported via ErrDecode; callers are
// expected to treat that as an Unknown record, not a fatal error.
func Decode(data []byte) (Record, error) {
	if len(data) < headerSize+2 {
		return Record{}, fmt.Errorf("%w: short record (%d bytes)", ErrDecode, len(data))
	}
	var r Record
	r.Event = Event(data[0])
	r.Code = int32(binary.BigEndian.Uint32(data[1:5]))
	r.Stamp = stampToTime(data[5:17])

	msgLen := int(binary.BigEndian.Uint16(data[17:19]))
	if len(data) < headerSize+2+msgLen {
		return Record{}, fmt.Errorf("%w: message length %d exceeds record", ErrDecode, msgLen)
	}
	r.Message = string(data[19 : 19+msgLen])
	return r, nil
}

func putStamp(dst []byte, t time.Time) {
	if t.IsZero() {
		return
	}
	sec := tai64Base + uint64(t.Unix()) + 10
	binary.BigEndian.PutUint64(dst[0:8], sec)
	binary.BigEndian.PutUint32(dst[8:12], uint32(t.Nanosecond()))
}

func stampToTime(src []byte) time.Time {
	sec := binary.BigEndian.Uint64(src[0:8])
	nsec := binary.BigEndian.Uint32(src[8:12])
	if sec == 0 {
		return time.Time{}
	}
	unixSec := int64(sec-tai64Base) - 10
	return time.Unix(unixSec, int64(nsec)).UTC()
}

// DecodeTAI64N parses a 12-byte TAI64N timestamp, the same layout the
// supervisor uses for its own status records, so the two can be compared
// directly without a conversion step.
func DecodeTAI64N(src [12]byte) time.Time {
	return stampToTime(src[:])
}

// EncodeTAI64N packs t into the 12-byte TAI64N layout.
func EncodeTAI64N(t time.Time) [12]byte {
	var dst [12]byte
	putStamp(dst[:], t)
	return dst
}

// Read loads the status record for a service directory. A missing file is
// not an error — it returns the zero Record with ok=false, matching the
// loader's "best effort" read.
func Read(serviceDir string) (rec Record, ok bool, err error) {
	data, err := os.ReadFile(filepath.Join(serviceDir, recordFileName))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Record{}, false, nil
		}
		return Record{}, false, err
	}
	rec, err = Decode(data)
	if err != nil {
		// Unrecognized bytes are treated as an Unknown record, not a hard
		// failure, per spec: "readers that do not recognize a byte treat
		// the record as Unknown."
		return Record{Event: EventNone}, false, nil
	}
	return rec, true, nil
}

// Write atomically persists rec to serviceDir's status file: write-to-tmp
// then rename, with the parent directory fsync'd where the platform
// supports it (see fsyncDir, built per-OS).
func Write(serviceDir string, rec Record) error {
	if rec.Stamp.IsZero() {
		rec.Stamp = time.Now()
	}
	data := Encode(rec)

	tmp, err := os.CreateTemp(serviceDir, ".status-*.tmp")
	if err != nil {
		return fmt.Errorf("status: creating temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("status: writing temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("status: syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("status: closing temp file: %w", err)
	}

	target := filepath.Join(serviceDir, recordFileName)
	if err := os.Rename(tmpPath, target); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("status: renaming into place: %w", err)
	}

	return fsyncDir(serviceDir)
}
