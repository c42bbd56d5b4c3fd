package store

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/deixis/calibrate/internal/curve"
	"github.com/deixis/calibrate/internal/params"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stageAndCommit(t *testing.T, s *DiskStore, v params.Vector, output string) params.Identity {
	t.Helper()
	input := params.Encode(v, params.Exact)
	id := params.IdentityOf(input)
	st, err := s.Stage(input)
	require.NoError(t, err)
	require.NoError(t, st.WriteFile(s.OutputName(), []byte(output)))
	require.NoError(t, s.Commit(st, id))
	return id
}

func TestDiskStore_CommitThenLoad(t *testing.T) {
	s := NewDiskStore(filepath.Join(t.TempDir(), "runs"))
	id := stageAndCommit(t, s, params.Vector{5, 1, 0.1}, "-10 0\n0 0.1\n")

	run, err := s.Load(id)
	require.NoError(t, err)
	assert.Equal(t, id, run.ID)
	assert.Equal(t, params.Vector{5, 1, 0.1}, run.Params)
	assert.Equal(t, curve.Curve{{X: -10, Y: 0}, {X: 0, Y: 0.1}}, run.Points)
	assert.False(t, run.Created.IsZero())

	input, err := os.ReadFile(filepath.Join(s.Dir(id), DefaultInputFile))
	require.NoError(t, err)
	assert.Equal(t, params.Encode(params.Vector{5, 1, 0.1}, params.Exact), input)
}

func TestDiskStore_LoadMissing(t *testing.T) {
	s := NewDiskStore(t.TempDir())
	_, err := s.Load(params.IdentityOf([]byte("nothing")))
	assert.True(t, errors.Is(err, ErrNotFound), "err = %v", err)
}

func TestDiskStore_LoadWithoutOutput(t *testing.T) {
	s := NewDiskStore(t.TempDir())
	input := params.Encode(params.Vector{1, -1, 1}, params.Short)
	id := params.IdentityOf(input)
	// A directory left behind by a failed run of an older wrapper.
	require.NoError(t, os.MkdirAll(s.Dir(id), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(id), DefaultInputFile), input, 0o644))

	_, err := s.Load(id)
	assert.True(t, errors.Is(err, ErrNoOutput), "err = %v", err)
}

func TestDiskStore_LoadMalformedOutput(t *testing.T) {
	s := NewDiskStore(t.TempDir())
	id := stageAndCommit(t, s, params.Vector{1, 2, 3}, "1 2\n3\n")

	_, err := s.Load(id)
	require.Error(t, err)
	var pe *curve.ParseError
	assert.True(t, errors.As(err, &pe), "err = %v", err)
}

func TestDiskStore_CommitFirstWriterWins(t *testing.T) {
	s := NewDiskStore(t.TempDir())
	input := params.Encode(params.Vector{5, 1, 0.1}, params.Exact)
	id := params.IdentityOf(input)

	first, err := s.Stage(input)
	require.NoError(t, err)
	second, err := s.Stage(input)
	require.NoError(t, err)
	require.NotEqual(t, first.Dir, second.Dir)

	require.NoError(t, first.WriteFile(s.OutputName(), []byte("0 1\n")))
	require.NoError(t, second.WriteFile(s.OutputName(), []byte("0 2\n")))

	require.NoError(t, s.Commit(first, id))
	err = s.Commit(second, id)
	assert.True(t, errors.Is(err, ErrExists), "err = %v", err)

	_, statErr := os.Stat(second.Dir)
	assert.True(t, errors.Is(statErr, os.ErrNotExist), "losing staging directory should be removed")

	run, err := s.Load(id)
	require.NoError(t, err)
	assert.Equal(t, curve.Curve{{X: 0, Y: 1}}, run.Points)
}

func TestDiskStore_CommitReplacesDirectoryWithoutOutput(t *testing.T) {
	s := NewDiskStore(t.TempDir())
	input := params.Encode(params.Vector{1, -1, 1}, params.Short)
	id := params.IdentityOf(input)
	require.NoError(t, os.MkdirAll(s.Dir(id), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(id), DefaultInputFile), input, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(id), StderrFile), []byte("crashed\n"), 0o644))

	st, err := s.Stage(input)
	require.NoError(t, err)
	require.NoError(t, st.WriteFile(s.OutputName(), []byte("0 1\n")))
	require.NoError(t, s.Commit(st, id))

	run, err := s.Load(id)
	require.NoError(t, err)
	assert.Equal(t, curve.Curve{{X: 0, Y: 1}}, run.Points)
	assert.NoFileExists(t, filepath.Join(s.Dir(id), StderrFile))

	// Only the committed run remains; the old directory is gone.
	des, err := os.ReadDir(s.Root)
	require.NoError(t, err)
	require.Len(t, des, 1)
	assert.Equal(t, string(id), des[0].Name())
}

func TestDiskStore_Discard(t *testing.T) {
	s := NewDiskStore(t.TempDir())
	st, err := s.Stage([]byte("1\n"))
	require.NoError(t, err)
	require.NoError(t, s.Discard(st))
	_, err = os.Stat(st.Dir)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestDiskStore_List(t *testing.T) {
	s := NewDiskStore(t.TempDir())
	a := stageAndCommit(t, s, params.Vector{1, 1, 1}, "0 1\n1 2\n")
	b := stageAndCommit(t, s, params.Vector{2, 2, 2}, "0 1\n")

	// Noise that must not be listed.
	_, err := s.Stage([]byte("in flight\n"))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(s.Root, "notes.txt"), []byte("x"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(s.Root, "other"), 0o755))

	entries, err := s.List()
	require.NoError(t, err)
	require.Len(t, entries, 2)

	byID := map[params.Identity]Entry{}
	for _, e := range entries {
		byID[e.ID] = e
	}
	assert.Equal(t, 2, byID[a].Points)
	assert.Equal(t, 1, byID[b].Points)
	assert.True(t, byID[a].Complete)
	assert.Equal(t, params.Vector{2, 2, 2}, byID[b].Params)
	assert.Positive(t, byID[a].Size)
}

func TestDiskStore_ListMissingRoot(t *testing.T) {
	s := NewDiskStore(filepath.Join(t.TempDir(), "absent"))
	entries, err := s.List()
	require.NoError(t, err)
	assert.Empty(t, entries)
}

type countingLoader struct {
	mu    sync.Mutex
	calls int
	runs  map[params.Identity]*Run
}

func (l *countingLoader) Load(id params.Identity) (*Run, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	if r, ok := l.runs[id]; ok {
		return r, nil
	}
	return nil, ErrNotFound
}

func TestLRUStore_CachesLoads(t *testing.T) {
	back := &countingLoader{runs: map[params.Identity]*Run{
		"run_a": {ID: "run_a"},
	}}
	s := NewLRUStore(2, back)

	for i := 0; i < 3; i++ {
		r, err := s.Load("run_a")
		require.NoError(t, err)
		assert.Equal(t, params.Identity("run_a"), r.ID)
	}
	assert.Equal(t, 1, back.calls)
}

func TestLRUStore_DoesNotCacheMisses(t *testing.T) {
	back := &countingLoader{runs: map[params.Identity]*Run{}}
	s := NewLRUStore(2, back)

	_, err := s.Load("run_a")
	assert.True(t, errors.Is(err, ErrNotFound))
	back.runs["run_a"] = &Run{ID: "run_a"}

	r, err := s.Load("run_a")
	require.NoError(t, err)
	assert.Equal(t, params.Identity("run_a"), r.ID)
	assert.Equal(t, 2, back.calls)
}

func TestLRUStore_Evicts(t *testing.T) {
	back := &countingLoader{runs: map[params.Identity]*Run{}}
	s := NewLRUStore(2, back)

	s.Put(&Run{ID: "run_a"})
	s.Put(&Run{ID: "run_b"})
	_, err := s.Load("run_a") // a is now most recent
	require.NoError(t, err)
	s.Put(&Run{ID: "run_c"}) // evicts b

	assert.Equal(t, 2, s.Len())
	_, err = s.Load("run_b")
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.Equal(t, 1, back.calls)
}
