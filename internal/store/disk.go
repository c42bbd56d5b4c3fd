package store

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/deixis/calibrate/internal/curve"
	"github.com/deixis/calibrate/internal/params"
	"github.com/google/uuid"
)

const stagingPrefix = ".staging-"

// DiskStore reads and commits run directories under Root.
type DiskStore struct {
	Root       string
	InputFile  string // defaults to DefaultInputFile
	OutputFile string // defaults to DefaultOutputFile
}

// NewDiskStore returns a DiskStore rooted at root with default file names.
func NewDiskStore(root string) *DiskStore {
	return &DiskStore{Root: root}
}

// InputName returns the input file name used inside run directories.
func (s *DiskStore) InputName() string {
	if s.InputFile != "" {
		return s.InputFile
	}
	return DefaultInputFile
}

// OutputName returns the output file name used inside run directories.
func (s *DiskStore) OutputName() string {
	if s.OutputFile != "" {
		return s.OutputFile
	}
	return DefaultOutputFile
}

// Dir returns the run directory for id.
func (s *DiskStore) Dir(id params.Identity) string {
	return filepath.Join(s.Root, string(id))
}

// Load reads the run committed under id.
func (s *DiskStore) Load(id params.Identity) (*Run, error) {
	dir := s.Dir(id)
	info, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("checking run %s: %w", id, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("run %s: %s is not a directory", id, dir)
	}

	points, err := curve.ReadFile(filepath.Join(dir, s.OutputName()))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", id, ErrNoOutput)
		}
		return nil, fmt.Errorf("reading run %s: %w", id, err)
	}

	return &Run{
		ID:      id,
		Params:  s.readParams(dir),
		Points:  points,
		Created: info.ModTime(),
	}, nil
}

func (s *DiskStore) readParams(dir string) params.Vector {
	data, err := os.ReadFile(filepath.Join(dir, s.InputName()))
	if err != nil {
		return nil
	}
	v, err := params.Decode(bytes.NewReader(data))
	if err != nil {
		return nil
	}
	return v
}

// Staging is a private directory holding one in-flight attempt.
type Staging struct {
	Dir string
}

// Path returns the path of name inside the staging directory.
func (st *Staging) Path(name string) string {
	return filepath.Join(st.Dir, name)
}

// WriteFile writes data to name inside the staging directory.
func (st *Staging) WriteFile(name string, data []byte) error {
	return os.WriteFile(st.Path(name), data, 0o644)
}

// Stage creates a fresh staging directory on the same filesystem as the run
// directories and writes input into it.
func (s *DiskStore) Stage(input []byte) (*Staging, error) {
	if err := os.MkdirAll(s.Root, 0o755); err != nil {
		return nil, fmt.Errorf("creating runs directory: %w", err)
	}
	dir := filepath.Join(s.Root, stagingPrefix+uuid.New().String())
	if err := os.Mkdir(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating staging directory: %w", err)
	}
	st := &Staging{Dir: dir}
	if err := st.WriteFile(s.InputName(), input); err != nil {
		_ = os.RemoveAll(dir)
		return nil, fmt.Errorf("writing input file: %w", err)
	}
	return st, nil
}

// Commit renames the staging directory to the run directory for id. The
// rename is the commit point: if a complete run directory already exists,
// the staging directory is removed and ErrExists is returned. A run
// directory without an output file is replaced.
func (s *DiskStore) Commit(st *Staging, id params.Identity) error {
	err := os.Rename(st.Dir, s.Dir(id))
	if err == nil {
		return nil
	}
	if errors.Is(err, fs.ErrExist) && !s.hasOutput(s.Dir(id)) {
		return s.replace(st, id)
	}
	return s.commitFailed(st, id, err)
}

// replace moves an incomplete run directory out of the way and commits st in
// its place.
func (s *DiskStore) replace(st *Staging, id params.Identity) error {
	dir := s.Dir(id)
	aside := filepath.Join(s.Root, stagingPrefix+uuid.New().String())
	if err := os.Rename(dir, aside); err != nil && !errors.Is(err, fs.ErrNotExist) {
		_ = s.Discard(st)
		return fmt.Errorf("replacing run %s: %w", id, err)
	}
	defer os.RemoveAll(aside)

	if s.hasOutput(aside) {
		// A complete run was committed in the meantime; it stays.
		_ = os.Rename(aside, dir)
		_ = s.Discard(st)
		return fmt.Errorf("%s: %w", id, ErrExists)
	}
	if err := os.Rename(st.Dir, dir); err != nil {
		return s.commitFailed(st, id, err)
	}
	return nil
}

func (s *DiskStore) commitFailed(st *Staging, id params.Identity, err error) error {
	_ = s.Discard(st)
	if errors.Is(err, fs.ErrExist) {
		return fmt.Errorf("%s: %w", id, ErrExists)
	}
	return fmt.Errorf("committing run %s: %w", id, err)
}

func (s *DiskStore) hasOutput(dir string) bool {
	info, err := os.Stat(filepath.Join(dir, s.OutputName()))
	return err == nil && info.Mode().IsRegular()
}

// Discard removes the staging directory.
func (s *DiskStore) Discard(st *Staging) error {
	return os.RemoveAll(st.Dir)
}

// Entry summarizes a run directory for listings.
type Entry struct {
	ID       params.Identity `json:"id"`
	Params   params.Vector   `json:"params,omitempty"`
	Points   int             `json:"points"`
	Complete bool            `json:"complete"` // false if the output file is missing
	Size     int64           `json:"size"`
	Modified time.Time       `json:"modified"`
}

// List returns all run directories under Root, most recent first.
// Staging directories and unrelated files are skipped.
func (s *DiskStore) List() ([]Entry, error) {
	des, err := os.ReadDir(s.Root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing runs: %w", err)
	}

	var out []Entry
	for _, de := range des {
		id := params.Identity(de.Name())
		if !de.IsDir() || strings.HasPrefix(de.Name(), stagingPrefix) || !id.Valid() {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		e := Entry{
			ID:       id,
			Params:   s.readParams(s.Dir(id)),
			Size:     dirSize(s.Dir(id)),
			Modified: info.ModTime(),
		}
		if c, err := curve.ReadFile(filepath.Join(s.Dir(id), s.OutputName())); err == nil {
			e.Complete = true
			e.Points = len(c)
		}
		out = append(out, e)
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].Modified.Equal(out[j].Modified) {
			return out[i].Modified.After(out[j].Modified)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func dirSize(dir string) int64 {
	des, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	var n int64
	for _, de := range des {
		if info, err := de.Info(); err == nil && info.Mode().IsRegular() {
			n += info.Size()
		}
	}
	return n
}
