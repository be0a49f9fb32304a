// This file implements the golden-record persistence layer: an append-only
// journal plus a periodic snapshot.
//
// Layout under the memory directory:
//
//	snapshot.json — atomic full dump {model_id, records}
//	records.jrn   — CRC-framed JSON records appended since the snapshot
//
// Startup replay loads the snapshot and then the journal tail; a checkpoint
// rewrites the snapshot and truncates the journal. Every record is fsynced
// before Append returns, so a confirmed reinforcement survives a crash.
//
// Records carry embeddings produced by one specific model. The snapshot and
// journal headers both record the model id; Open refuses (or clears, per
// policy) persisted state whose model id differs from the current provider's.
package fastmemory

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/sphota-ai/sphota/internal/model"
)

// Journal file format constants.
const (
	journalMagic      = 0x53504752 // "SPGR" — golden record journal
	journalVersion    = 1
	journalHeaderSize = 8 // magic(4) + version(2) + modelIDLen(2)
	recordHeadSize    = 4 // payloadLen(4)
	crcSize           = 4
	maxRecordPayload  = 4 << 20 // 4 MB; a 384-dim record is a few KB
)

var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

// MismatchPolicy decides what Open does when persisted state was produced by
// a different embedding model.
type MismatchPolicy string

const (
	// MismatchReject fails startup. The operator must migrate or clear.
	MismatchReject MismatchPolicy = "reject"
	// MismatchClear discards persisted memory and starts empty.
	MismatchClear MismatchPolicy = "clear"
)

// Journal is the append-only golden-record stream. Appends are serialised;
// the store's write lock already covers the common path.
type Journal struct {
	mu      sync.Mutex
	dir     string
	modelID string
	file    *os.File
	logger  *slog.Logger
}

type snapshotFile struct {
	ModelID string               `json:"model_id"`
	Records []model.GoldenRecord `json:"records"`
}

// Open prepares the journal in dir for the given embedding model and returns
// it together with the replayed records. On a model-id mismatch the policy
// decides between model.ErrMemoryModelMismatch and clearing the directory.
func Open(dir, modelID string, policy MismatchPolicy, logger *slog.Logger) (*Journal, []model.GoldenRecord, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, nil, fmt.Errorf("fastmemory: create directory: %w", err)
	}

	j := &Journal{dir: dir, modelID: modelID, logger: logger}

	recs, err := j.replay()
	if err != nil {
		if errors.Is(err, model.ErrMemoryModelMismatch) && policy == MismatchClear {
			logger.Warn("fastmemory: clearing persisted memory (embedding model changed)",
				"model_id", modelID)
			if err := j.clear(); err != nil {
				return nil, nil, err
			}
			recs = nil
		} else {
			return nil, nil, err
		}
	}

	if err := j.openForAppend(); err != nil {
		return nil, nil, err
	}
	return j, recs, nil
}

// Append durably writes one record: [payloadLen(4) | payload | CRC32C(4)],
// fsynced before returning.
func (j *Journal) Append(rec model.GoldenRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("fastmemory: marshal record: %w", err)
	}
	if len(payload) > maxRecordPayload {
		return fmt.Errorf("fastmemory: record too large (%d bytes)", len(payload))
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	// A failed checkpoint can leave the journal without an open file; refuse
	// the append instead of crashing the feedback path.
	if j.file == nil {
		return fmt.Errorf("fastmemory: journal is closed")
	}

	var head [recordHeadSize]byte
	binary.BigEndian.PutUint32(head[:], uint32(len(payload))) //nolint:gosec // bounded above

	h := crc32.New(crc32cTable)
	_, _ = h.Write(head[:])
	_, _ = h.Write(payload)
	var crcBuf [crcSize]byte
	binary.BigEndian.PutUint32(crcBuf[:], h.Sum32())

	for _, chunk := range [][]byte{head[:], payload, crcBuf[:]} {
		if _, err := j.file.Write(chunk); err != nil {
			return fmt.Errorf("fastmemory: journal write: %w", err)
		}
	}
	if err := j.file.Sync(); err != nil {
		return fmt.Errorf("fastmemory: journal sync: %w", err)
	}
	return nil
}

// Checkpoint atomically rewrites the snapshot with the given records and
// truncates the journal to an empty header.
func (j *Journal) Checkpoint(recs []model.GoldenRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	data, err := json.Marshal(snapshotFile{ModelID: j.modelID, Records: recs})
	if err != nil {
		return fmt.Errorf("fastmemory: marshal snapshot: %w", err)
	}

	tmp := j.snapshotPath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("fastmemory: write snapshot tmp: %w", err)
	}
	f, err := os.Open(tmp) //nolint:gosec // path is constructed from j.dir
	if err != nil {
		return fmt.Errorf("fastmemory: open snapshot tmp for sync: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("fastmemory: sync snapshot tmp: %w", err)
	}
	_ = f.Close()
	if err := os.Rename(tmp, j.snapshotPath()); err != nil {
		return fmt.Errorf("fastmemory: rename snapshot: %w", err)
	}

	// Snapshot is durable; the journal can restart empty.
	if j.file != nil {
		_ = j.file.Close()
		j.file = nil
	}
	if err := os.Remove(j.journalPath()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("fastmemory: remove journal: %w", err)
	}
	return j.openForAppendLocked()
}

// Close syncs and closes the journal file.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file == nil {
		return nil
	}
	if err := j.file.Sync(); err != nil {
		j.logger.Warn("fastmemory: final journal sync failed", "error", err)
	}
	err := j.file.Close()
	j.file = nil
	return err
}

func (j *Journal) snapshotPath() string { return filepath.Join(j.dir, "snapshot.json") }
func (j *Journal) journalPath() string  { return filepath.Join(j.dir, "records.jrn") }

func (j *Journal) clear() error {
	for _, p := range []string{j.snapshotPath(), j.journalPath()} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("fastmemory: clear %s: %w", p, err)
		}
	}
	return nil
}

func (j *Journal) openForAppend() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.openForAppendLocked()
}

func (j *Journal) openForAppendLocked() error {
	f, err := os.OpenFile(j.journalPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600) //nolint:gosec // path is constructed from j.dir
	if err != nil {
		return fmt.Errorf("fastmemory: open journal: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("fastmemory: stat journal: %w", err)
	}
	if info.Size() == 0 {
		if err := writeJournalHeader(f, j.modelID); err != nil {
			_ = f.Close()
			return err
		}
	}
	j.file = f
	return nil
}

func writeJournalHeader(f *os.File, modelID string) error {
	id := []byte(modelID)
	if len(id) > 1<<16-1 {
		return fmt.Errorf("fastmemory: model id too long")
	}
	var hdr [journalHeaderSize]byte
	binary.BigEndian.PutUint32(hdr[0:4], journalMagic)
	binary.BigEndian.PutUint16(hdr[4:6], journalVersion)
	binary.BigEndian.PutUint16(hdr[6:8], uint16(len(id))) //nolint:gosec // bounded above
	if _, err := f.Write(hdr[:]); err != nil {
		return fmt.Errorf("fastmemory: write journal header: %w", err)
	}
	if _, err := f.Write(id); err != nil {
		return fmt.Errorf("fastmemory: write journal model id: %w", err)
	}
	return f.Sync()
}

// replay loads the snapshot and journal tail, newest record winning on
// duplicate ids. Truncated or corrupted journal tails stop the replay at the
// last good record — everything before it is kept.
func (j *Journal) replay() ([]model.GoldenRecord, error) {
	byID := make(map[string]model.GoldenRecord)
	var order []string

	snap, err := j.readSnapshot()
	if err != nil {
		return nil, err
	}
	for _, rec := range snap {
		if _, ok := byID[rec.RecordID]; !ok {
			order = append(order, rec.RecordID)
		}
		byID[rec.RecordID] = rec
	}

	tail, err := j.readJournal()
	if err != nil {
		return nil, err
	}
	for _, rec := range tail {
		if _, ok := byID[rec.RecordID]; !ok {
			order = append(order, rec.RecordID)
		}
		byID[rec.RecordID] = rec
	}

	recs := make([]model.GoldenRecord, 0, len(order))
	for _, id := range order {
		recs = append(recs, byID[id])
	}
	return recs, nil
}

func (j *Journal) readSnapshot() ([]model.GoldenRecord, error) {
	data, err := os.ReadFile(j.snapshotPath())
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fastmemory: read snapshot: %w", err)
	}
	var snap snapshotFile
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("fastmemory: parse snapshot: %w", err)
	}
	if snap.ModelID != j.modelID {
		return nil, fmt.Errorf("%w: snapshot has %q, current is %q",
			model.ErrMemoryModelMismatch, snap.ModelID, j.modelID)
	}
	return snap.Records, nil
}

func (j *Journal) readJournal() ([]model.GoldenRecord, error) {
	f, err := os.Open(j.journalPath())
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fastmemory: open journal for replay: %w", err)
	}
	defer f.Close() //nolint:errcheck // read-only file

	var hdr [journalHeaderSize]byte
	if _, err := io.ReadFull(f, hdr[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil // empty file: treat as no journal
		}
		return nil, fmt.Errorf("fastmemory: read journal header: %w", err)
	}
	if magic := binary.BigEndian.Uint32(hdr[0:4]); magic != journalMagic {
		return nil, fmt.Errorf("fastmemory: bad journal magic 0x%08X", magic)
	}
	if v := binary.BigEndian.Uint16(hdr[4:6]); v != journalVersion {
		return nil, fmt.Errorf("fastmemory: unsupported journal version %d", v)
	}
	idLen := binary.BigEndian.Uint16(hdr[6:8])
	id := make([]byte, idLen)
	if _, err := io.ReadFull(f, id); err != nil {
		return nil, fmt.Errorf("fastmemory: read journal model id: %w", err)
	}
	if string(id) != j.modelID {
		return nil, fmt.Errorf("%w: journal has %q, current is %q",
			model.ErrMemoryModelMismatch, string(id), j.modelID)
	}

	var recs []model.GoldenRecord
	for {
		var head [recordHeadSize]byte
		if _, err := io.ReadFull(f, head[:]); err != nil {
			break // end of journal or truncated head
		}
		payloadLen := binary.BigEndian.Uint32(head[:])
		if payloadLen > maxRecordPayload {
			j.logger.Warn("fastmemory: corrupted record length, stopping replay",
				"payload_len", payloadLen, "recovered", len(recs))
			break
		}
		payload := make([]byte, payloadLen)
		if _, err := io.ReadFull(f, payload); err != nil {
			break // truncated payload
		}
		var crcBuf [crcSize]byte
		if _, err := io.ReadFull(f, crcBuf[:]); err != nil {
			break // truncated CRC
		}

		h := crc32.New(crc32cTable)
		_, _ = h.Write(head[:])
		_, _ = h.Write(payload)
		if h.Sum32() != binary.BigEndian.Uint32(crcBuf[:]) {
			j.logger.Warn("fastmemory: CRC mismatch, stopping replay", "recovered", len(recs))
			break
		}

		var rec model.GoldenRecord
		if err := json.Unmarshal(payload, &rec); err != nil {
			j.logger.Warn("fastmemory: corrupted record JSON, stopping replay",
				"error", err, "recovered", len(recs))
			break
		}
		recs = append(recs, rec)
	}
	return recs, nil
}
