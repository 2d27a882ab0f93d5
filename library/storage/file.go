package storage

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"golang.org/x/crypto/blake2b"
	"gopkg.in/yaml.v3"

	"lbms/library/state"
)

const documentVersion = 1

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// document is the on-disk layout shared by the JSON and YAML backends.
type document struct {
	Version  int            `json:"version" yaml:"version"`
	Checksum string         `json:"checksum" yaml:"checksum"`
	States   state.Snapshot `json:"states" yaml:"states"`
}

type format struct {
	name      string
	marshal   func(any) ([]byte, error)
	unmarshal func([]byte, any) error
}

var (
	jsonFormat = format{
		name:      "json",
		marshal:   func(v any) ([]byte, error) { return json.MarshalIndent(v, "", "  ") },
		unmarshal: json.Unmarshal,
	}
	yamlFormat = format{
		name:      "yml",
		marshal:   yaml.Marshal,
		unmarshal: yaml.Unmarshal,
	}
)

// FileBackend keeps the whole snapshot in a single document file.
type FileBackend struct {
	path       string
	format     format
	maxBackups int
	logger     *slog.Logger
}

// NewJSONFile stores snapshots as JSON at path. Corrupt files are moved
// aside, keeping at most maxBackups of them; with maxBackups == 0 a corrupt
// file is a fatal load error.
func NewJSONFile(path string, maxBackups int, logger *slog.Logger) *FileBackend {
	return newFile(path, jsonFormat, maxBackups, logger)
}

// NewYAMLFile stores snapshots as YAML at path.
func NewYAMLFile(path string, maxBackups int, logger *slog.Logger) *FileBackend {
	return newFile(path, yamlFormat, maxBackups, logger)
}

func newFile(path string, f format, maxBackups int, logger *slog.Logger) *FileBackend {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &FileBackend{path: path, format: f, maxBackups: maxBackups, logger: logger}
}

func (b *FileBackend) Path() string { return b.path }

// Load reads the document. A missing file yields an empty snapshot.
func (b *FileBackend) Load(_ context.Context, _ []state.Schema) (state.Snapshot, error) {
	raw, err := os.ReadFile(b.path)
	if errors.Is(err, os.ErrNotExist) {
		b.logger.Info("storage file not found, starting empty", "path", b.path)
		return state.Snapshot{}, nil
	}
	if err != nil {
		return nil, &state.StorageError{Op: "load", Path: b.path, Err: errors.Join(state.ErrStorageUnavailable, err)}
	}

	snap, err := b.decode(raw)
	if err == nil {
		return snap, nil
	}
	if b.maxBackups == 0 {
		return nil, &state.StorageError{Op: "load", Path: b.path, Err: errors.Join(state.ErrCorruptData, err)}
	}
	moved, qerr := b.quarantine()
	if qerr != nil {
		return nil, &state.StorageError{Op: "quarantine", Path: b.path, Err: errors.Join(state.ErrCorruptData, err, qerr)}
	}
	b.logger.Warn("corrupt storage file quarantined", "path", b.path, "moved_to", moved, "error", err)
	return state.Snapshot{}, nil
}

func (b *FileBackend) decode(raw []byte) (state.Snapshot, error) {
	var doc document
	if err := b.format.unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode %s document: %w", b.format.name, err)
	}
	if doc.Version != documentVersion {
		return nil, fmt.Errorf("unsupported document version %d", doc.Version)
	}
	if doc.States == nil {
		doc.States = state.Snapshot{}
	}
	sum, err := checksum(doc.States)
	if err != nil {
		return nil, err
	}
	if sum != doc.Checksum {
		return nil, fmt.Errorf("checksum mismatch: stored %q, computed %q", doc.Checksum, sum)
	}
	return doc.States, nil
}

// Save writes the document to a temporary file next to the target and renames
// it into place, so the previous file survives a failed write.
func (b *FileBackend) Save(_ context.Context, _ []state.Schema, snap state.Snapshot) error {
	if snap == nil {
		snap = state.Snapshot{}
	}
	sum, err := checksum(snap)
	if err != nil {
		return &state.StorageError{Op: "save", Path: b.path, Err: err}
	}
	raw, err := b.format.marshal(document{Version: documentVersion, Checksum: sum, States: snap})
	if err != nil {
		return &state.StorageError{Op: "save", Path: b.path, Err: err}
	}
	if err := writeAtomic(b.path, raw); err != nil {
		return &state.StorageError{Op: "save", Path: b.path, Err: errors.Join(state.ErrStorageUnavailable, err)}
	}
	return nil
}

func (b *FileBackend) Close() error { return nil }

// quarantine renames the current file to <path>.corrupt.<n> and prunes the
// oldest backups beyond maxBackups.
func (b *FileBackend) quarantine() (string, error) {
	backups, err := b.backups()
	if err != nil {
		return "", err
	}
	next := 1
	if len(backups) > 0 {
		next = backups[len(backups)-1] + 1
	}
	target := b.backupPath(next)
	if err := os.Rename(b.path, target); err != nil {
		return "", fmt.Errorf("move corrupt file: %w", err)
	}
	backups = append(backups, next)
	for len(backups) > b.maxBackups {
		if err := os.Remove(b.backupPath(backups[0])); err != nil && !errors.Is(err, os.ErrNotExist) {
			return target, fmt.Errorf("prune backup: %w", err)
		}
		backups = backups[1:]
	}
	return target, nil
}

// backups returns the sequence numbers of existing backups, ascending.
func (b *FileBackend) backups() ([]int, error) {
	prefix := b.path + ".corrupt."
	matches, err := filepath.Glob(prefix + "*")
	if err != nil {
		return nil, err
	}
	var out []int
	for _, m := range matches {
		n, err := strconv.Atoi(strings.TrimPrefix(m, prefix))
		if err != nil || n <= 0 {
			continue
		}
		out = append(out, n)
	}
	sort.Ints(out)
	return out, nil
}

func (b *FileBackend) backupPath(n int) string {
	return b.path + ".corrupt." + strconv.Itoa(n)
}

// checksum hashes the canonical JSON form of the states; map keys are sorted
// by the encoder, so equal snapshots hash equally in either file format.
func checksum(snap state.Snapshot) (string, error) {
	canon := make(map[string][]state.Record, len(snap))
	for name, recs := range snap {
		if recs == nil {
			recs = []state.Record{}
		}
		canon[name] = recs
	}
	raw, err := json.Marshal(canon)
	if err != nil {
		return "", fmt.Errorf("canonical encoding: %w", err)
	}
	sum := blake2b.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create dir: %w", err)
		}
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	name := tmp.Name()
	defer os.Remove(name)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(name, path)
}
