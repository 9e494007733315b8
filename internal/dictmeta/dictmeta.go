// Package dictmeta implements dictionary metadata and its on-disk
// layout: binding raw dictionary bytes, a manifest, timestamps,
// prefixes, and compiled handles. Persistence uses a write-temp /
// fsync / rename / fsync-dir atomic protocol, the same framing
// discipline applied to whole-file atomic replace instead of a single
// binary-framed archive.
package dictmeta

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"mczcache/internal/dictpool"
)

// NoDict is the reserved "no dictionary" id.
const NoDict = 0

// MaxID is the largest valid dictionary id (16-bit space).
const MaxID = 65535

// Meta is one dictionary's metadata record.
type Meta struct {
	ID             uint16
	DictPath       string
	ManifestPath   string
	CreatedAt      time.Time
	RetiredAt      time.Time // zero value == active
	SuggestedLevel int
	Prefixes       []string
	DictSize       int64

	// PoolKey is the content hash the pool compiled this dict's handles
	// under; carried here so reclamation (internal/gc) can release the
	// pool entry without re-reading the dict file.
	PoolKey dictpool.Key
	// Handles are the compiled compressor/decompressor pair retained
	// from the pool for PoolKey.
	Handles *dictpool.Entry
}

// Active reports whether the dictionary is not retired.
func (m *Meta) Active() bool { return m.RetiredAt.IsZero() }

// manifest is the on-disk text representation.
type manifest struct {
	ID        uint16
	Created   time.Time
	Retired   time.Time
	Level     int
	Signature string
	Prefixes  []string
}

const rfc3339UTC = time.RFC3339

func (m manifest) render() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "id=%d\n", m.ID)
	fmt.Fprintf(&sb, "created=%s\n", m.Created.UTC().Format(rfc3339UTC))
	if !m.Retired.IsZero() {
		fmt.Fprintf(&sb, "retired=%s\n", m.Retired.UTC().Format(rfc3339UTC))
	} else {
		sb.WriteString("retired=\n")
	}
	fmt.Fprintf(&sb, "level=%d\n", m.Level)
	fmt.Fprintf(&sb, "signature=%s\n", m.Signature)
	fmt.Fprintf(&sb, "prefixes=%s\n", strings.Join(m.Prefixes, ","))
	return sb.String()
}

func parseManifest(data []byte) (manifest, error) {
	var m manifest
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		kv := strings.SplitN(line, "=", 2)
		if len(kv) != 2 {
			continue
		}
		key, val := kv[0], kv[1]
		switch key {
		case "id":
			n, err := strconv.ParseUint(val, 10, 16)
			if err != nil {
				return m, fmt.Errorf("manifest id: %w", err)
			}
			m.ID = uint16(n)
		case "created":
			if val != "" {
				t, err := time.Parse(rfc3339UTC, val)
				if err != nil {
					return m, fmt.Errorf("manifest created: %w", err)
				}
				m.Created = t
			}
		case "retired":
			if val != "" {
				t, err := time.Parse(rfc3339UTC, val)
				if err != nil {
					return m, fmt.Errorf("manifest retired: %w", err)
				}
				m.Retired = t
			}
		case "level":
			n, err := strconv.Atoi(val)
			if err != nil {
				return m, fmt.Errorf("manifest level: %w", err)
			}
			m.Level = n
		case "signature":
			m.Signature = val
		case "prefixes":
			if val == "" {
				m.Prefixes = nil
			} else {
				// Comma-separated list. Each manifest line is parsed on
				// its own, so a newline-separated list is not read past
				// its first line.
				parts := strings.FieldsFunc(val, func(r rune) bool { return r == ',' })
				for i := range parts {
					parts[i] = strings.TrimSpace(parts[i])
				}
				m.Prefixes = parts
			}
		}
	}
	if len(m.Prefixes) == 0 {
		m.Prefixes = []string{"default"}
	}
	return m, nil
}

// atomicWriteFile writes data to path via write-temp/fsync/rename/
// fsync-dir.
func atomicWriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op once renamed

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("fsync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}
	df, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("open dir for fsync: %w", err)
	}
	defer df.Close()
	if err := df.Sync(); err != nil {
		return fmt.Errorf("fsync dir: %w", err)
	}
	return nil
}

// basename returns the zero-padded decimal basename for id.
func basename(id uint16) string { return fmt.Sprintf("%05d", id) }

// Persist writes a fresh dictionary's bytes and manifest into dir,
// using the atomic write protocol. Returns the populated Meta (without
// compiled handles — the caller retains those via the pool).
func Persist(dir string, id uint16, dictBytes []byte, level int, prefixes []string, now time.Time) (*Meta, error) {
	if len(prefixes) == 0 {
		prefixes = []string{"default"}
	}
	base := basename(id)
	dictPath := filepath.Join(dir, base+".dict")
	manifestPath := filepath.Join(dir, base+".manifest")

	if err := atomicWriteFile(dictPath, dictBytes, 0o644); err != nil {
		return nil, fmt.Errorf("persist dict bytes: %w", err)
	}
	man := manifest{ID: id, Created: now, Level: level, Prefixes: prefixes}
	if err := atomicWriteFile(manifestPath, []byte(man.render()), 0o644); err != nil {
		return nil, fmt.Errorf("persist manifest: %w", err)
	}

	return &Meta{
		ID:             id,
		DictPath:       dictPath,
		ManifestPath:   manifestPath,
		CreatedAt:      now,
		SuggestedLevel: level,
		Prefixes:       prefixes,
		DictSize:       int64(len(dictBytes)),
	}, nil
}

// Retire rewrites only the manifest with retired_at=now, same atomic
// protocol. The dict file itself is left in place until quarantine
// elapses.
func Retire(m *Meta, now time.Time) error {
	man := manifest{
		ID:       m.ID,
		Created:  m.CreatedAt,
		Retired:  now,
		Level:    m.SuggestedLevel,
		Prefixes: m.Prefixes,
	}
	if err := atomicWriteFile(m.ManifestPath, []byte(man.render()), 0o644); err != nil {
		return fmt.Errorf("retire manifest: %w", err)
	}
	m.RetiredAt = now
	return nil
}

// Load reads a dict file + manifest pair from disk into a Meta
// (without compiled handles; the caller retains those via the pool).
func Load(dictPath string) (*Meta, []byte, error) {
	dictBytes, err := os.ReadFile(dictPath)
	if err != nil {
		return nil, nil, fmt.Errorf("read dict file: %w", err)
	}
	manifestPath := manifestPathFor(dictPath)
	manBytes, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, nil, fmt.Errorf("read manifest: %w", err)
	}
	man, err := parseManifest(manBytes)
	if err != nil {
		return nil, nil, fmt.Errorf("parse manifest %s: %w", manifestPath, err)
	}
	return &Meta{
		ID:             man.ID,
		DictPath:       dictPath,
		ManifestPath:   manifestPath,
		CreatedAt:      man.Created,
		RetiredAt:      man.Retired,
		SuggestedLevel: man.Level,
		Prefixes:       man.Prefixes,
		DictSize:       int64(len(dictBytes)),
	}, dictBytes, nil
}

func manifestPathFor(dictPath string) string {
	ext := filepath.Ext(dictPath)
	return strings.TrimSuffix(dictPath, ext) + ".manifest"
}

// ListDictFiles lists regular files in dir whose basename parses as a
// numeric id, ignoring subdirectories and manifest files.
func ListDictFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read dict dir: %w", err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if filepath.Ext(name) == ".manifest" {
			continue
		}
		base := strings.TrimSuffix(name, filepath.Ext(name))
		if _, err := strconv.ParseUint(base, 10, 16); err != nil {
			continue
		}
		out = append(out, filepath.Join(dir, name))
	}
	sort.Strings(out)
	return out, nil
}

// RetirementRecord tracks when an id was last retired, for the
// quarantine gate in AllocateID.
type RetirementRecord struct {
	ID         uint16
	RetiredAt  time.Time
}

// AllocateID picks the smallest id in 1..65535 not in usedIDs and whose
// most recent retirement (if any, from retired) is older than
// quarantine. Returns a plain error; callers that need Kind
// classification wrap it.
func AllocateID(usedIDs map[uint16]bool, retired map[uint16]time.Time, quarantine time.Duration, now time.Time) (uint16, error) {
	for id := uint16(1); ; id++ {
		if !usedIDs[id] {
			if rt, ok := retired[id]; !ok || now.Sub(rt) >= quarantine {
				return id, nil
			}
		}
		if id == MaxID {
			break
		}
	}
	return 0, fmt.Errorf("no id available")
}
