package bbolt

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T) (*Store, string) {
	path := filepath.Join(t.TempDir(), "doc.db")
	s, err := Open(path)
	require.NoError(t, err)
	return s, path
}

// Test_Store_AppendLoad verifies that updates come back in append order,
// also after reopening.
func Test_Store_AppendLoad(t *testing.T) {
	s, path := openTemp(t)

	for i := byte(1); i <= 12; i++ {
		require.NoError(t, s.Append([]byte{i}))
	}
	n, err := s.Len()
	require.NoError(t, err)
	require.Equal(t, 12, n)
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	updates, err := s.Load()
	require.NoError(t, err)
	require.Len(t, updates, 12)
	for i, u := range updates {
		require.Equal(t, []byte{byte(i + 1)}, u)
	}
}

// Test_Store_Compact verifies that a snapshot replaces the log and that
// appends continue after it.
func Test_Store_Compact(t *testing.T) {
	s, _ := openTemp(t)
	defer s.Close()

	require.NoError(t, s.Append([]byte{1}))
	require.NoError(t, s.Append([]byte{2}))
	require.NoError(t, s.Compact([]byte{9, 9}))

	n, err := s.Len()
	require.NoError(t, err)
	require.Equal(t, 0, n)

	require.NoError(t, s.Append([]byte{3}))
	updates, err := s.Load()
	require.NoError(t, err)
	require.Equal(t, [][]byte{{9, 9}, {3}}, updates)
}

// Test_Store_Empty verifies that a fresh store loads nothing.
func Test_Store_Empty(t *testing.T) {
	s, _ := openTemp(t)
	defer s.Close()

	updates, err := s.Load()
	require.NoError(t, err)
	require.Empty(t, updates)
}
