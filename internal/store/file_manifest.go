package store

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"

	"stashd/pkg/logx"
)

// manifestJournal is one destination's append-only ledger:
// a JSON Lines file of add/del operations, replayed on open and compacted
// in place (write-temp-then-rename) once enough deletes accumulate.
type manifestJournal struct {
	path string

	file    *os.File
	entries []ManifestEntry
	nextSeq int64
	delOps  int
}

// compactDelThreshold bounds journal growth from pruning churn.
const compactDelThreshold = 64

type manifestOp struct {
	Op         string         `json:"op"` // "add" | "del"
	Entry      *ManifestEntry `json:"entry,omitempty"`
	ScheduleID string         `json:"schedule_id,omitempty"`
	Filenames  []string       `json:"filenames,omitempty"`
}

func (s *fileStore) journalFor(destination string) (*manifestJournal, error) {
	if !ValidID(destination) {
		return nil, ErrInvalidID
	}
	if j, ok := s.manifests[destination]; ok {
		return j, nil
	}
	j := &manifestJournal{
		path:    filepath.Join(s.root, "manifest", destination+".jsonl"),
		nextSeq: 1,
	}
	if err := j.load(); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(j.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	j.file = f
	s.manifests[destination] = j
	return j, nil
}

func (j *manifestJournal) load() error {
	f, err := os.Open(j.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		var op manifestOp
		if err := json.Unmarshal(sc.Bytes(), &op); err != nil {
			// Torn trailing line after a crash; ignore.
			continue
		}
		switch op.Op {
		case "add":
			if op.Entry == nil {
				continue
			}
			j.entries = append(j.entries, *op.Entry)
			if op.Entry.Seq >= j.nextSeq {
				j.nextSeq = op.Entry.Seq + 1
			}
		case "del":
			j.applyDel(op.ScheduleID, op.Filenames)
			j.delOps++
		}
	}
	return sc.Err()
}

func (j *manifestJournal) applyDel(scheduleID string, filenames []string) {
	if len(filenames) == 0 {
		return
	}
	drop := make(map[string]struct{}, len(filenames))
	for _, fn := range filenames {
		drop[fn] = struct{}{}
	}
	kept := j.entries[:0]
	for _, e := range j.entries {
		if e.ScheduleID == scheduleID {
			if _, gone := drop[e.Filename]; gone {
				continue
			}
		}
		kept = append(kept, e)
	}
	j.entries = kept
}

func (j *manifestJournal) append(op manifestOp) error {
	if j.file == nil {
		return errors.New("manifest journal closed")
	}
	return json.NewEncoder(j.file).Encode(op)
}

// compact rewrites the journal with only the live add ops.
func (j *manifestJournal) compact() error {
	tmp := j.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	for i := range j.entries {
		if err := enc.Encode(manifestOp{Op: "add", Entry: &j.entries[i]}); err != nil {
			_ = f.Close()
			return err
		}
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, j.path); err != nil {
		return err
	}
	if j.file != nil {
		_ = j.file.Close()
	}
	nf, err := os.OpenFile(j.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		j.file = nil
		return err
	}
	j.file = nf
	j.delOps = 0
	return nil
}

func (j *manifestJournal) close() error {
	if j.file == nil {
		return nil
	}
	err := j.file.Close()
	j.file = nil
	return err
}

func (s *fileStore) AppendManifest(ctx context.Context, destination string, e ManifestEntry) (int64, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	j, err := s.journalFor(destination)
	if err != nil {
		return 0, err
	}
	e.Seq = j.nextSeq
	if err := j.append(manifestOp{Op: "add", Entry: &e}); err != nil {
		return 0, err
	}
	j.nextSeq++
	j.entries = append(j.entries, e)
	return e.Seq, nil
}

func (s *fileStore) ListManifest(ctx context.Context, destination string) ([]ManifestEntry, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	j, err := s.journalFor(destination)
	if err != nil {
		return nil, err
	}
	out := make([]ManifestEntry, len(j.entries))
	copy(out, j.entries)
	return out, nil
}

func (s *fileStore) RemoveManifest(ctx context.Context, destination, scheduleID string, filenames []string) error {
	_ = ctx
	if len(filenames) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	j, err := s.journalFor(destination)
	if err != nil {
		return err
	}
	if err := j.append(manifestOp{Op: "del", ScheduleID: scheduleID, Filenames: filenames}); err != nil {
		return err
	}
	j.applyDel(scheduleID, filenames)
	j.delOps++
	if j.delOps >= compactDelThreshold {
		if err := j.compact(); err != nil {
			s.log.Debug("manifest compact failed", logx.String("destination", destination), logx.Err(err))
		}
	}
	return nil
}
