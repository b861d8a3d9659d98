// Package journal implements the reference Catalog: an append-only text
// journal paired with an in-memory index that is rebuilt by replay on open.
// This file implements the line codec.
package journal

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/snapgc-io/snapgc/internal/catalog"
	"github.com/snapgc-io/snapgc/internal/snapshot"
)

// Line kinds on disk. Replay ignores unknown leading tokens so the format
// can grow without breaking old readers.
const (
	tagUpsert = "UPSERT"
	tagState  = "STATE"
	tagEvent  = "EVENT"
)

// recordFieldCount is the number of pipe-delimited fields in an UPSERT payload:
// id|createdMs|sizeBytes|state|leaseCount|lastAccessMs|hardDeleteMs|failures|nextRetryMs|lastError
const recordFieldCount = 10

// Escape backslash-escapes newlines, carriage returns and backslashes so a
// free-text field cannot break the one-record-per-line framing.
func Escape(s string) string {
	if !strings.ContainsAny(s, "\n\r\\") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) + 8)
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\\':
			b.WriteString(`\\`)
		default:
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

// Unescape reverses Escape. Unknown escape sequences pass through literally.
func Unescape(s string) string {
	if !strings.ContainsRune(s, '\\') {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			switch s[i+1] {
			case 'n':
				b.WriteByte('\n')
				i++
				continue
			case 'r':
				b.WriteByte('\r')
				i++
				continue
			case '\\':
				b.WriteByte('\\')
				i++
				continue
			}
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// toMillis encodes an instant as milliseconds since the Unix epoch.
// The zero time encodes as 0.
func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

// fromMillis is the inverse of toMillis.
func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

// optMillis encodes an optional instant; absent is the -1 wire sentinel.
func optMillis(t time.Time) int64 {
	if t.IsZero() {
		return -1
	}
	return t.UnixMilli()
}

// Serialize encodes a record as the pipe-delimited UPSERT payload.
//
// The wire format carries the fields needed to resume GC after a restart;
// parentId and tags are not part of it. Deployments whose retention depends
// on chains or pin tags across restarts use the sqlite or oxia catalogs,
// which persist the full record.
func Serialize(m *snapshot.Meta) string {
	return strings.Join([]string{
		m.ID,
		strconv.FormatInt(toMillis(m.Created), 10),
		strconv.FormatUint(m.SizeBytes, 10),
		strconv.Itoa(int(m.State)),
		strconv.FormatUint(uint64(m.LeaseCount), 10),
		strconv.FormatInt(toMillis(m.LastAccess), 10),
		strconv.FormatInt(optMillis(m.HardDeleteAfter), 10),
		strconv.FormatUint(uint64(m.DeleteFailures), 10),
		strconv.FormatInt(optMillis(m.NextRetryAfter), 10),
		Escape(m.LastError),
	}, "|")
}

// Deserialize decodes an UPSERT payload produced by Serialize.
func Deserialize(line string) (snapshot.Meta, error) {
	// lastError is the final field, so a SplitN keeps any pipes it contains.
	parts := strings.SplitN(line, "|", recordFieldCount)
	if len(parts) != recordFieldCount {
		return snapshot.Meta{}, fmt.Errorf("%w: %d fields", catalog.ErrCorruptRecord, len(parts))
	}

	var m snapshot.Meta
	m.ID = parts[0]

	createdMs, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return snapshot.Meta{}, fmt.Errorf("%w: created: %v", catalog.ErrCorruptRecord, err)
	}
	m.Created = fromMillis(createdMs)

	size, err := strconv.ParseUint(parts[2], 10, 64)
	if err != nil {
		return snapshot.Meta{}, fmt.Errorf("%w: sizeBytes: %v", catalog.ErrCorruptRecord, err)
	}
	m.SizeBytes = size

	st, err := strconv.Atoi(parts[3])
	if err != nil || !snapshot.State(st).Valid() {
		return snapshot.Meta{}, fmt.Errorf("%w: state %q", catalog.ErrCorruptRecord, parts[3])
	}
	m.State = snapshot.State(st)

	lease, err := strconv.ParseUint(parts[4], 10, 32)
	if err != nil {
		return snapshot.Meta{}, fmt.Errorf("%w: leaseCount: %v", catalog.ErrCorruptRecord, err)
	}
	m.LeaseCount = uint32(lease)

	lastAccessMs, err := strconv.ParseInt(parts[5], 10, 64)
	if err != nil {
		return snapshot.Meta{}, fmt.Errorf("%w: lastAccess: %v", catalog.ErrCorruptRecord, err)
	}
	m.LastAccess = fromMillis(lastAccessMs)

	hd, err := strconv.ParseInt(parts[6], 10, 64)
	if err != nil {
		return snapshot.Meta{}, fmt.Errorf("%w: hardDeleteAfter: %v", catalog.ErrCorruptRecord, err)
	}
	if hd >= 0 {
		m.HardDeleteAfter = time.UnixMilli(hd).UTC()
	}

	failures, err := strconv.ParseUint(parts[7], 10, 32)
	if err != nil {
		return snapshot.Meta{}, fmt.Errorf("%w: deleteFailures: %v", catalog.ErrCorruptRecord, err)
	}
	m.DeleteFailures = uint32(failures)

	nr, err := strconv.ParseInt(parts[8], 10, 64)
	if err != nil {
		return snapshot.Meta{}, fmt.Errorf("%w: nextRetryAfter: %v", catalog.ErrCorruptRecord, err)
	}
	if nr >= 0 {
		m.NextRetryAfter = time.UnixMilli(nr).UTC()
	}

	m.LastError = Unescape(parts[9])
	return m, nil
}
