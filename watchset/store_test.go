package watchset

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hedeqiang/dropwatch/event"
)

const (
	alice = "0x60c3ec77930bc87b1f9c3357dcf1428d51c1d1ef"
	bob   = "0x4C26F7Fdc32e91f469bFc54e1711E71CE3ea0f1C"
)

func TestOpenCreatesMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "address.txt")
	s, err := Open(path)
	require.NoError(t, err)
	require.Zero(t, s.Size())

	_, err = os.Stat(path)
	require.NoError(t, err)
}

func TestLoadNormalizesAndDedupes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "address.txt")
	content := "  " + bob + "\r\n\n" + alice + "\nnot-an-address\n" + "0x4c26f7fdc32e91f469bfc54e1711e71ce3ea0f1c\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	s, err := Open(path)
	require.NoError(t, err)
	require.Equal(t, []string{"0x4c26f7fdc32e91f469bfc54e1711e71ce3ea0f1c", alice}, s.List())
	require.True(t, s.Contains(event.MustParseAddress(bob)))
}

func TestAddRemove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "address.txt")
	s, err := Open(path)
	require.NoError(t, err)

	require.Equal(t, Result{OK: true}, s.Add(alice))
	require.Equal(t, Result{Reason: ReasonDuplicate}, s.Add("  "+alice+" "))
	require.Equal(t, Result{Reason: ReasonInvalid}, s.Add("0x1234"))
	require.Equal(t, Result{Reason: ReasonInvalid}, s.Add("60c3ec77930bc87b1f9c3357dcf1428d51c1d1ef"))
	require.Equal(t, Result{OK: true}, s.Add(bob))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, alice+"\n0x4c26f7fdc32e91f469bfc54e1711e71ce3ea0f1c\n", string(b))

	require.Equal(t, Result{OK: true}, s.Remove(alice))
	require.Equal(t, Result{Reason: ReasonNotWatched}, s.Remove(alice))
	require.False(t, s.Contains(event.MustParseAddress(alice)))

	reloaded, err := Open(path)
	require.NoError(t, err)
	require.Equal(t, s.List(), reloaded.List())
}

func TestAddRollsBackOnSaveError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "address.txt")
	s, err := Open(path)
	require.NoError(t, err)

	require.NoError(t, os.Chmod(dir, 0o500))
	t.Cleanup(func() { os.Chmod(dir, 0o755) })
	if f, err := os.CreateTemp(dir, "probe"); err == nil {
		f.Close()
		os.Remove(f.Name())
		t.Skip("directory still writable, running as root")
	}

	res := s.Add(alice)
	require.False(t, res.OK)
	require.Zero(t, s.Size())
}
