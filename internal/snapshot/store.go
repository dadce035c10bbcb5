package snapshot

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/wudi/contractcheck/contract"
)

// storedSnapshot wraps a snapshot blob with metadata for persistence.
type storedSnapshot struct {
	Version   string    `json:"version"`
	Timestamp time.Time `json:"timestamp"`
	Data      []byte    `json:"data"`
}

// Store persists historical snapshot blobs per service on the filesystem,
// pruning to a bounded number of versions.
type Store struct {
	dir         string
	maxVersions int
}

// NewStore creates a filesystem-backed snapshot store.
func NewStore(dir string, maxVersions int) (*Store, error) {
	if maxVersions <= 0 {
		maxVersions = 10
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create snapshot store dir: %w", err)
	}
	return &Store{dir: dir, maxVersions: maxVersions}, nil
}

// Put saves a snapshot version for its service.
func (s *Store) Put(snap *contract.Snapshot) error {
	data, err := EncodeSnapshot(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	stored := storedSnapshot{
		Version:   snap.Version,
		Timestamp: time.Now(),
		Data:      data,
	}
	raw, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("marshal stored snapshot: %w", err)
	}

	filename := fmt.Sprintf("%s_%d.json", sanitizeID(string(snap.Service)), stored.Timestamp.UnixNano())
	if err := os.WriteFile(filepath.Join(s.dir, filename), raw, 0o644); err != nil {
		return fmt.Errorf("write snapshot file: %w", err)
	}

	return s.pruneOldVersions(string(snap.Service))
}

// Latest returns the most recent stored snapshot for a service, or nil if
// none is stored. When every stored version carries a parseable semantic
// version, "most recent" means highest version; otherwise newest by write
// time.
func (s *Store) Latest(service contract.ServiceID) (*contract.Snapshot, error) {
	entries, err := s.getEntries(string(service))
	if err != nil || len(entries) == 0 {
		return nil, err
	}

	type loaded struct {
		name   string
		stored storedSnapshot
		ver    *semver.Version
	}
	all := make([]loaded, 0, len(entries))
	allSemver := true
	for _, name := range entries {
		raw, err := os.ReadFile(filepath.Join(s.dir, name))
		if err != nil {
			return nil, fmt.Errorf("read snapshot file: %w", err)
		}
		var st storedSnapshot
		if err := json.Unmarshal(raw, &st); err != nil {
			return nil, fmt.Errorf("unmarshal stored snapshot %s: %w", name, err)
		}
		ver, verr := semver.NewVersion(st.Version)
		if verr != nil {
			allSemver = false
			ver = nil
		}
		all = append(all, loaded{name: name, stored: st, ver: ver})
	}

	// Entries sort by write time; when every version parses as semver the
	// highest version wins instead, so an out-of-order re-extraction of an
	// old version never masquerades as latest.
	chosen := all[len(all)-1]
	if allSemver {
		for _, l := range all {
			if l.ver.GreaterThan(chosen.ver) {
				chosen = l
			}
		}
	}

	snap, err := DecodeSnapshot(chosen.stored.Data)
	if err != nil {
		return nil, fmt.Errorf("decode stored snapshot %s: %w", chosen.name, err)
	}
	return snap, nil
}

// Services lists the service ids with at least one stored snapshot.
func (s *Store) Services() ([]contract.ServiceID, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read store dir: %w", err)
	}
	seen := make(map[string]bool)
	var out []contract.ServiceID
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		id := e.Name()
		if i := strings.LastIndex(id, "_"); i > 0 {
			id = id[:i]
		}
		if !seen[id] {
			seen[id] = true
			out = append(out, contract.ServiceID(id))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (s *Store) getEntries(service string) ([]string, error) {
	prefix := sanitizeID(service) + "_"
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read store dir: %w", err)
	}

	var matching []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), prefix) && strings.HasSuffix(e.Name(), ".json") {
			matching = append(matching, e.Name())
		}
	}
	sort.Strings(matching)
	return matching, nil
}

func (s *Store) pruneOldVersions(service string) error {
	entries, err := s.getEntries(service)
	if err != nil {
		return err
	}
	if len(entries) <= s.maxVersions {
		return nil
	}
	for _, name := range entries[:len(entries)-s.maxVersions] {
		os.Remove(filepath.Join(s.dir, name))
	}
	return nil
}

func sanitizeID(id string) string {
	var sb strings.Builder
	for _, c := range id {
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '-' {
			sb.WriteRune(c)
		} else {
			sb.WriteByte('_')
		}
	}
	return sb.String()
}
