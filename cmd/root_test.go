// file: cmd/root_test.go
// version: 2.0.0
// guid: 6d7e8f9a-0b1c-2d3e-4f5a-6b7c8d9e0f1a

package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommandRegistersSubcommands(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["run"])
	assert.True(t, names["scan"])
	assert.True(t, names["status"])
}

func TestScanCommandRunsOnce(t *testing.T) {
	lib := t.TempDir()
	book := filepath.Join(lib, "Author", "Book")
	require.NoError(t, os.MkdirAll(book, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(book, "01.mp3"), make([]byte, 1024), 0o644))

	viper.Reset()
	t.Cleanup(viper.Reset)
	viper.Set("database_path", filepath.Join(t.TempDir(), "scan.db"))
	viper.Set("library_paths", []string{lib})

	rootCmd.SetArgs([]string{"scan"})
	require.NoError(t, rootCmd.Execute())
}

func TestRootHelpMentionsVerificationLayers(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs([]string{"--help"})
	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), "verification layers")
	assert.Contains(t, out.String(), "scan")
}
