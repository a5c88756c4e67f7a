package secrets

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestProviderKeyLifecycle(t *testing.T) {
	t.Parallel()
	s := Store{Dir: filepath.Join(t.TempDir(), "cfg")}

	_, err := s.FetchProviderKey("openai")
	require.ErrorIs(t, err, ErrKeyNotFound)

	require.NoError(t, s.StoreProviderKey(" OpenAI ", "sk-test-123"))
	got, err := s.FetchProviderKey("openai")
	require.NoError(t, err)
	require.Equal(t, "sk-test-123", got)

	raw, err := os.ReadFile(filepath.Join(s.Dir, fileName))
	require.NoError(t, err)
	require.NotContains(t, string(raw), "sk-test-123")

	info, err := os.Stat(filepath.Join(s.Dir, fileName))
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	require.NoError(t, s.DeleteProviderKey("openai"))
	_, err = s.FetchProviderKey("openai")
	require.ErrorIs(t, err, ErrKeyNotFound)
	require.ErrorIs(t, s.DeleteProviderKey("openai"), ErrKeyNotFound)
}

func TestProviderKeyValidation(t *testing.T) {
	t.Parallel()
	s := Store{Dir: t.TempDir()}
	require.Error(t, s.StoreProviderKey("", "k"))
	require.Error(t, s.StoreProviderKey("gemini", "  "))
	_, err := Store{}.FetchProviderKey("gemini")
	require.Error(t, err)
}
