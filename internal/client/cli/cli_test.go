package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dmitrijs2005/synk/internal/client/models"
	"github.com/dmitrijs2005/synk/internal/logging"
	"github.com/dmitrijs2005/synk/internal/server/auth"
	"github.com/dmitrijs2005/synk/internal/server/engine"
	"github.com/dmitrijs2005/synk/internal/server/httpapi"
	"github.com/dmitrijs2005/synk/internal/server/repositories/shards"
	"github.com/dmitrijs2005/synk/internal/server/repositories/users"
	"github.com/dmitrijs2005/synk/internal/server/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	id1 = "c4ca4238a0b923820dcc509a6f75849b"
	id2 = "c81e728d9d4c2f636f067f89cc14862c"
)

type okPinger struct{}

func (okPinger) Ping(context.Context) error { return nil }

func newSyncServer(t *testing.T) *httptest.Server {
	t.Helper()

	coord, err := engine.NewCoordinator(shards.NewMemoryRepository(),
		engine.Settings{PrefixLen: 1, MaxItems: 100, MaxBytes: 10000}, logging.Discard())
	require.NoError(t, err)

	us := services.NewUserService(users.NewMemoryRepository(), "Synk")
	d := auth.NewDigest("Synk", auth.NewNonceIssuer([]byte("k"), time.Minute), auth.NewNonceCache(100, time.Minute), us)
	srv := httptest.NewServer(httpapi.NewServer("", logging.Discard(), coord, us, d, okPinger{}).Router())
	t.Cleanup(srv.Close)
	return srv
}

// execute runs synkctl with args and returns what it wrote to stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	cmd := NewRootCommand()
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetArgs(args)

	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

// device returns the global flags of one client device.
func device(t *testing.T, url, user string) []string {
	t.Helper()
	return []string{"--server", url, "--user", user, "--db", filepath.Join(t.TempDir(), "synk.db")}
}

func TestRegisterSetSyncList(t *testing.T) {
	srv := newSyncServer(t)
	t.Setenv(PasswordEnv, "pw")
	dev := device(t, srv.URL, "alice")

	out, err := execute(t, append(dev, "register")...)
	require.NoError(t, err)
	assert.Equal(t, "registered alice\n", out)

	_, err = execute(t, append(dev, "register")...)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	out, err = execute(t, append(dev, "set", id1, "3", "--at", "100")...)
	require.NoError(t, err)
	assert.Equal(t, id1+" = 3\n", out)

	_, err = execute(t, append(dev, "set", id2, "4", "--at", "200")...)
	require.NoError(t, err)

	out, err = execute(t, append(dev, "sync")...)
	require.NoError(t, err)
	assert.Contains(t, out, "pushed: 2 added, 0 updated, 0 deleted")
	assert.Contains(t, out, "pulled: 2 fetched")

	out, err = execute(t, append(dev, "list", "--json")...)
	require.NoError(t, err)
	var got []models.Item
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, []models.Item{
		{ID: id1, Status: 3, LastChanged: 100},
		{ID: id2, Status: 4, LastChanged: 200},
	}, got)
}

func TestTwoDevicesConverge(t *testing.T) {
	srv := newSyncServer(t)
	t.Setenv(PasswordEnv, "pw")
	phone := device(t, srv.URL, "alice")
	laptop := device(t, srv.URL, "alice")

	_, err := execute(t, append(phone, "register")...)
	require.NoError(t, err)

	_, err = execute(t, append(phone, "set", id1, "1", "--at", "100")...)
	require.NoError(t, err)
	_, err = execute(t, append(laptop, "set", id1, "2", "--at", "50")...)
	require.NoError(t, err)

	for _, dev := range [][]string{phone, laptop, phone} {
		_, err = execute(t, append(dev, "sync")...)
		require.NoError(t, err)
	}

	for _, dev := range [][]string{phone, laptop} {
		out, err := execute(t, append(dev, "list")...)
		require.NoError(t, err)
		assert.Contains(t, out, id1+"  1       100")
	}

	_, err = execute(t, append(laptop, "rm", id1)...)
	require.NoError(t, err)
	_, err = execute(t, append(laptop, "sync")...)
	require.NoError(t, err)

	out, err := execute(t, append(phone, "pull", "--full")...)
	require.NoError(t, err)
	assert.Contains(t, out, "1 pruned")

	out, err = execute(t, append(phone, "list")...)
	require.NoError(t, err)
	assert.Equal(t, "no items\n", out)
}

func TestSetRejectsBadInput(t *testing.T) {
	dev := device(t, "http://127.0.0.1:1", "alice")

	_, err := execute(t, append(dev, "set", "nothex", "1")...)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "32 characters")

	_, err = execute(t, append(dev, "set", id1, "one")...)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not an integer")

	_, err = execute(t, append(dev, "set", id1)...)
	require.Error(t, err)
}

func TestSetDefaultsToNow(t *testing.T) {
	old := now
	now = func() time.Time { return time.Unix(1700000000, 0) }
	defer func() { now = old }()

	dev := device(t, "http://127.0.0.1:1", "alice")
	_, err := execute(t, append(dev, "set", id1, "7")...)
	require.NoError(t, err)

	out, err := execute(t, append(dev, "list")...)
	require.NoError(t, err)
	assert.Contains(t, out, "1700000000")
}

func TestRemoveUnknownItem(t *testing.T) {
	dev := device(t, "http://127.0.0.1:1", "alice")

	_, err := execute(t, append(dev, "rm", id1)...)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestStoreBoundToOneUser(t *testing.T) {
	db := filepath.Join(t.TempDir(), "synk.db")

	_, err := execute(t, "--user", "alice", "--db", db, "list")
	require.NoError(t, err)

	_, err = execute(t, "--user", "bob", "--db", db, "list")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "belongs to")
}

func TestMissingUser(t *testing.T) {
	_, err := execute(t, "--db", filepath.Join(t.TempDir(), "synk.db"), "list")
	require.ErrorIs(t, err, errNoUser)
}

func TestInvalidFlagsRejected(t *testing.T) {
	_, err := execute(t, "--server", "ftp://x", "--user", "alice", "list")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")

	_, err = execute(t, "--config", filepath.Join(t.TempDir(), "missing.yaml"), "list")
	require.Error(t, err)
}

func TestConfigFileThenFlags(t *testing.T) {
	srv := newSyncServer(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "synk.yaml")
	yaml := "server_url: " + srv.URL + "\nusername: carol\ndb_path: " + filepath.Join(dir, "synk.db") + "\n"
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	out, err := execute(t, "--config", path, "ping")
	require.NoError(t, err)
	assert.Equal(t, srv.URL+" is healthy\n", out)

	_, err = execute(t, "--config", path, "--server", "http://127.0.0.1:1", "--timeout", "200ms", "ping")
	require.Error(t, err)
}

func TestSyncWrongPassword(t *testing.T) {
	srv := newSyncServer(t)
	dev := device(t, srv.URL, "alice")

	t.Setenv(PasswordEnv, "pw")
	_, err := execute(t, append(dev, "register")...)
	require.NoError(t, err)

	t.Setenv(PasswordEnv, "nope")
	_, err = execute(t, append(dev, "sync")...)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unauthorized")
}

func TestVerify(t *testing.T) {
	srv := newSyncServer(t)
	dev := device(t, srv.URL, "alice")

	t.Setenv(PasswordEnv, "pw")
	_, err := execute(t, append(dev, "register")...)
	require.NoError(t, err)

	out, err := execute(t, append(dev, "verify")...)
	require.NoError(t, err)
	assert.Equal(t, "alice authenticated at "+srv.URL+"\n", out)

	t.Setenv(PasswordEnv, "nope")
	_, err = execute(t, append(dev, "verify")...)
	require.Error(t, err)
	assert.Equal(t, "credentials for alice rejected", err.Error())

	_, err = execute(t, "--server", srv.URL, "verify")
	assert.ErrorIs(t, err, errNoUser)
}

func TestGetPasswordPrompts(t *testing.T) {
	old, had := os.LookupEnv(PasswordEnv)
	require.NoError(t, os.Unsetenv(PasswordEnv))
	t.Cleanup(func() {
		if had {
			_ = os.Setenv(PasswordEnv, old)
		}
	})

	oldRead, oldFd := readPassword, stdinFd
	defer func() { readPassword, stdinFd = oldRead, oldFd }()
	stdinFd = func() int { return 0 }

	readPassword = func(int) ([]byte, error) { return []byte("secret\n"), nil }
	var out bytes.Buffer
	pw, err := getPassword(&out, "Password: ")
	require.NoError(t, err)
	assert.Equal(t, "secret", pw)
	assert.Equal(t, "Password: \n", out.String())

	readPassword = func(int) ([]byte, error) { return nil, nil }
	_, err = getPassword(&out, "Password: ")
	require.Error(t, err)

	readPassword = func(int) ([]byte, error) { return nil, errors.New("not a terminal") }
	_, err = getPassword(&out, "Password: ")
	require.ErrorContains(t, err, "not a terminal")
}

func TestPrintItemsTable(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, printItems(&out, []models.Item{{ID: id1, Status: 12, LastChanged: 5}}))
	assert.Equal(t, "ID                                STATUS  LAST CHANGED\n"+id1+"  12      5\n", out.String())
}
