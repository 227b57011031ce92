package bulk

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadSettings_MergesDefaults(t *testing.T) {
	path := writeFile(t, "config.yml", `
account:
  username: alice
  password: secret
  show_online_status: true
overall:
  enable_classic_redirect: true
feed:
  enable: true
  amount: 25
  add_mode: 2
  older_than_days: 30
  user_has_vip: true
  user_gender_mode: 1
  delay_between_adds: 2s
unfollow:
  enable: true
  unfollow_mode: 0
  whitelist_file: keep.txt
`)
	s, err := LoadSettings(path)
	require.NoError(t, err)

	assert.Equal(t, "alice", s.Account.Username)
	assert.True(t, s.Account.ShowOnlineStatus)
	assert.True(t, s.Overall.EnableClassicRedirect)
	assert.Equal(t, 25, s.Feed.Amount)
	assert.Equal(t, AddBoth, s.Feed.AddMode)
	assert.Equal(t, 30*24*time.Hour, s.Feed.OlderThan())
	assert.Equal(t, GenderFemale, s.Feed.UserGenderMode)
	assert.Equal(t, 2*time.Second, s.Feed.DelayBetweenAdds)
	assert.Equal(t, 10*time.Second, s.Feed.DelayAfterProcess)
	assert.Equal(t, Unfriend, s.Unfollow.UnfollowMode)
	assert.Equal(t, "keep.txt", s.Unfollow.WhitelistFile)
	assert.Equal(t, 30*time.Minute, s.CycleInterval)
}

func TestLoadSettings_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing account", "feed:\n  enable: true\n"},
		{"bad add mode", "account: {username: a, password: b}\nfeed: {add_mode: 7}\n"},
		{"bad unfollow mode", "account: {username: a, password: b}\nunfollow: {unfollow_mode: -1}\n"},
		{"zero amount", "account: {username: a, password: b}\nfeed: {enable: true, amount: 0}\n"},
		{"zero interval", "account: {username: a, password: b}\ncycle_interval: 0s\n"},
		{"not yaml", "account: [\n"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadSettings(writeFile(t, "config.yml", tc.body))
			assert.Error(t, err)
		})
	}
}

func TestLoadSettings_MissingFile(t *testing.T) {
	_, err := LoadSettings(filepath.Join(t.TempDir(), "nope.yml"))
	assert.Error(t, err)
}

func TestLoadWhitelist(t *testing.T) {
	path := writeFile(t, "whitelist.txt", "bob\n\n  carol  \n\ndave\n")
	wl, err := LoadWhitelist(path)
	require.NoError(t, err)
	assert.Len(t, wl, 3)
	assert.True(t, wl.Contains("carol"))
	assert.True(t, wl.Contains(" bob "))
	assert.False(t, wl.Contains("eve"))
}

func TestLoadWhitelist_MissingFileIsEmpty(t *testing.T) {
	wl, err := LoadWhitelist(filepath.Join(t.TempDir(), "absent.txt"))
	require.NoError(t, err)
	assert.Empty(t, wl)

	wl, err = LoadWhitelist("")
	require.NoError(t, err)
	assert.Empty(t, wl)
}
