package store

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"time"

	"github.com/bmpc/esp8266-sprinkler-controller/internal/logic"
)

// Marker is the leading byte of a valid snapshot. Change it whenever the
// record layout below changes so older snapshots fall back to defaults.
const Marker byte = 0x71

// Record sizes in bytes.
const (
	headerSize  = 2 // marker, flags
	pendingSize = 1 + 1 + 8 + 4
	zoneSize    = 1 + 1 + 1 + 8 + 4 + 4 + logic.MaxCronLength
	crcSize     = 4
)

const (
	flagEnabled     = 1 << 0
	flagInteractive = 1 << 1
)

// Size returns the encoded size of a snapshot holding n zones.
func Size(n int) int {
	return headerSize + pendingSize + zoneSize*n + crcSize
}

// Encode serialises the state. Layout, big-endian:
//
//	[marker][flags][pending][zone]*N[crc32]
func Encode(s *logic.State) ([]byte, error) {
	zones := s.Zones.Zones()
	buf := bytes.NewBuffer(make([]byte, 0, Size(len(zones))))

	var flags byte
	if s.Enabled {
		flags |= flagEnabled
	}
	if s.Mode == logic.ModeInteractive {
		flags |= flagInteractive
	}
	buf.WriteByte(Marker)
	buf.WriteByte(flags)

	p := s.Pending
	buf.WriteByte(byte(p.ZoneID))
	buf.WriteByte(byte(p.Type))
	writeInt64(buf, unix(p.FireAt))
	writeInt32(buf, seconds(p.Duration))

	for _, z := range zones {
		if len(z.Cron) > logic.MaxCronLength {
			return nil, fmt.Errorf("zone %d: cron expression exceeds %d bytes", z.ID, logic.MaxCronLength)
		}
		buf.WriteByte(byte(z.ID))
		buf.WriteByte(byte(z.Pin))
		if z.Active {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
		writeInt64(buf, unix(z.StartedAt))
		writeInt32(buf, seconds(z.ActiveDuration))
		writeInt32(buf, seconds(z.Duration))
		var cron [logic.MaxCronLength]byte
		copy(cron[:], z.Cron)
		buf.Write(cron[:])
	}

	sum := crc32.ChecksumIEEE(buf.Bytes())
	var tail [crcSize]byte
	binary.BigEndian.PutUint32(tail[:], sum)
	buf.Write(tail[:])

	return buf.Bytes(), nil
}

// Decode parses a snapshot. Anything that is not a complete, intact snapshot
// of the current layout yields ErrNotFound.
func Decode(data []byte) (*logic.State, error) {
	if len(data) == 0 || data[0] != Marker {
		return nil, fmt.Errorf("%w: missing or foreign marker", ErrNotFound)
	}
	body := len(data) - headerSize - pendingSize - crcSize
	if body <= 0 || body%zoneSize != 0 {
		return nil, fmt.Errorf("%w: unexpected snapshot size %d", ErrNotFound, len(data))
	}
	payload, tail := data[:len(data)-crcSize], data[len(data)-crcSize:]
	if crc32.ChecksumIEEE(payload) != binary.BigEndian.Uint32(tail) {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrNotFound)
	}

	flags := data[1]
	st := &logic.State{
		Enabled: flags&flagEnabled != 0,
		Mode:    logic.ModeBackground,
	}
	if flags&flagInteractive != 0 {
		st.Mode = logic.ModeInteractive
	}

	r := data[headerSize:]
	evType := logic.EventType(r[1])
	if evType > logic.EventStop {
		return nil, fmt.Errorf("%w: unknown event type %d", ErrNotFound, r[1])
	}
	st.Pending = logic.PendingEvent{
		ZoneID:   int(r[0]),
		Type:     evType,
		FireAt:   fromUnix(int64(binary.BigEndian.Uint64(r[2:10]))),
		Duration: fromSeconds(int32(binary.BigEndian.Uint32(r[10:14]))),
	}
	r = r[pendingSize:]

	n := body / zoneSize
	zones := make([]logic.Zone, n)
	for i := range zones {
		rec := r[i*zoneSize : (i+1)*zoneSize]
		zones[i] = logic.Zone{
			ID:             int(rec[0]),
			Pin:            int(rec[1]),
			Active:         rec[2] != 0,
			StartedAt:      fromUnix(int64(binary.BigEndian.Uint64(rec[3:11]))),
			ActiveDuration: fromSeconds(int32(binary.BigEndian.Uint32(rec[11:15]))),
			Duration:       fromSeconds(int32(binary.BigEndian.Uint32(rec[15:19]))),
			Cron:           string(bytes.TrimRight(rec[19:], "\x00")),
		}
	}

	reg, err := logic.NewRegistry(zones)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	st.Zones = reg
	return st, nil
}

func writeInt64(buf *bytes.Buffer, v int64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v))
	buf.Write(b[:])
}

func writeInt32(buf *bytes.Buffer, v int32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(v))
	buf.Write(b[:])
}

func unix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func fromUnix(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}

func seconds(d time.Duration) int32 {
	return int32(d / time.Second)
}

func fromSeconds(s int32) time.Duration {
	return time.Duration(s) * time.Second
}
