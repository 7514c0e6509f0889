package patch

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bbernstein/bicyclette/backend-go/internal/models"
)

const patchesYAML = `
"42":
  status: closed
"901":
  name: Allée du Belvédère
  lat: 48.8921
  lng: "2.3912"
  capacity: 24
"bad-field":
  colour: blue
"bad-type":
  capacity: lots
"empty": {}
`

func TestLoad(t *testing.T) {
	table, err := Load([]byte(patchesYAML))
	require.NoError(t, err)

	assert.Equal(t, 2, table.Len(), "malformed entries are dropped")
	assert.Equal(t, []string{"42", "901"}, table.Numbers())

	p, ok := table.Lookup("901")
	require.True(t, ok)
	require.NotNil(t, p.Name)
	assert.Equal(t, "Allée du Belvédère", *p.Name)
	require.NotNil(t, p.Longitude)
	assert.Equal(t, 2.3912, *p.Longitude)
	require.NotNil(t, p.Capacity)
	assert.Equal(t, 24, *p.Capacity)

	_, ok = table.Lookup("bad-type")
	assert.False(t, ok)
}

func TestLoad_JSONDocument(t *testing.T) {
	table, err := Load([]byte(`{"42": {"status": "closed", "free": 0}}`))
	require.NoError(t, err)

	p, ok := table.Lookup("42")
	require.True(t, ok)
	assert.Equal(t, map[string]interface{}{"status": "closed", "free": 0}, p.Overrides())
}

func TestLoad_InvalidDocument(t *testing.T) {
	_, err := Load([]byte("- just\n- a list: [\n"))
	assert.Error(t, err)
}

func TestApply(t *testing.T) {
	table, err := Load([]byte(patchesYAML))
	require.NoError(t, err)

	open := models.RawStation{Number: "42", Name: "Italie", Latitude: 48.83, Longitude: 2.35, Status: models.StatusOpen}

	t.Run("patch overrides fetched value", func(t *testing.T) {
		got := table.Apply(open)
		assert.Equal(t, models.StatusClosed, got.Status)
		assert.Equal(t, "Italie", got.Name, "unpatched fields are kept")
	})

	t.Run("idempotent", func(t *testing.T) {
		once := table.Apply(open)
		assert.Equal(t, once, table.Apply(once))
	})

	t.Run("absent station is identity", func(t *testing.T) {
		other := models.RawStation{Number: "7", Status: models.StatusOpen}
		assert.Equal(t, other, table.Apply(other))
	})

	t.Run("nil table is identity", func(t *testing.T) {
		var empty *Table
		assert.Equal(t, open, empty.Apply(open))
		assert.Equal(t, 0, empty.Len())
	})
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "patches.yaml")
	require.NoError(t, os.WriteFile(path, []byte(patchesYAML), 0o600))

	table, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2, table.Len())

	table, err = LoadFile("")
	require.NoError(t, err)
	assert.Equal(t, 0, table.Len())

	_, err = LoadFile(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}
