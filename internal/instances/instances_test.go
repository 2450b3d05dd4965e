package instances_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/programme-lv/tuner/internal/instances"
	"github.com/programme-lv/tuner/internal/run"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimit(t *testing.T) {
	inst := run.Instance{Name: "a.cnf"}
	g := instances.NewGenerator([]run.Instance{inst}, 1, instances.Options{Limit: 2})

	for i := 0; i < 2; i++ {
		require.True(t, g.HasNext(inst))
		_, err := g.Next(inst)
		require.NoError(t, err)
	}
	assert.False(t, g.HasNext(inst))
	_, err := g.Next(inst)
	assert.Error(t, err)

	assert.False(t, g.HasNext(run.Instance{Name: "other"}))
}

func TestReinitReplaysSeeds(t *testing.T) {
	inst := run.Instance{Name: "a.cnf"}
	g := instances.NewGenerator([]run.Instance{inst}, 7, instances.Options{Reinit: true})

	first := make([]int64, 3)
	for i := range first {
		first[i], _ = g.Next(inst)
	}
	g.Reinit()
	for i := range first {
		s, err := g.Next(inst)
		require.NoError(t, err)
		assert.Equal(t, first[i], s)
	}
}

func TestReadList(t *testing.T) {
	path := filepath.Join(t.TempDir(), "instances.txt")
	require.NoError(t, os.WriteFile(path, []byte("# sat\nuf20-01.cnf  opt=0\n\nuf20-02.cnf\n"), 0o644))

	list, err := instances.ReadList(path)
	require.NoError(t, err)
	assert.Equal(t, []run.Instance{
		{Name: "uf20-01.cnf", Specifics: "opt=0"},
		{Name: "uf20-02.cnf"},
	}, list)
}
