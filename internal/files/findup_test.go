package files

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindUp(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "a", "b", "c")
	require.NoError(t, os.MkdirAll(nested, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "a", "rpcagent.toml"), nil, 0o644))
	// a directory with the same name does not count
	require.NoError(t, os.MkdirAll(filepath.Join(root, "a", "b", "rpcagent.toml"), 0o755))

	cases := []struct {
		name string
		dir  string
		file string
		exp  string
	}{
		{name: "found in ancestor", dir: nested, file: "rpcagent.toml", exp: filepath.Join(root, "a", "rpcagent.toml")},
		{name: "found in dir", dir: filepath.Join(root, "a"), file: "rpcagent.toml", exp: filepath.Join(root, "a", "rpcagent.toml")},
		{name: "missing", dir: nested, file: "does-not-exist.toml", exp: ""},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, err := FindUp(c.file, c.dir)
			require.NoError(t, err)
			assert.Equal(t, c.exp, got)
		})
	}
}
