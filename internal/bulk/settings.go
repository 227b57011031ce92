// Package bulk implements the bulk-action runner: it scans the content feed
// for a popular post, filters the accounts that liked it and adds or follows
// them, and prunes the following list against a whitelist.
package bulk

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// AddMode selects what the feed operation does with each candidate.
type AddMode int

const (
	AddFriend AddMode = iota
	AddFollow
	AddBoth
)

// UnfollowMode selects what the unfollow operation does with each entry.
type UnfollowMode int

const (
	Unfriend UnfollowMode = iota
	UnfollowOnly
	UnfriendAndUnfollow
)

// Gender filter values.
const (
	GenderMale = iota
	GenderFemale
	GenderAnySet
)

// Settings is the bulk runner's YAML configuration.
type Settings struct {
	Account  AccountSettings  `yaml:"account"`
	Overall  OverallSettings  `yaml:"overall"`
	Feed     FeedSettings     `yaml:"feed"`
	Unfollow UnfollowSettings `yaml:"unfollow"`

	// CycleInterval is the pause between full passes.
	CycleInterval time.Duration `yaml:"cycle_interval"`
}

type AccountSettings struct {
	Username         string `yaml:"username"`
	Password         string `yaml:"password"`
	ShowOnlineStatus bool   `yaml:"show_online_status"`
}

type OverallSettings struct {
	EnableClassicRedirect bool `yaml:"enable_classic_redirect"`
}

type FeedSettings struct {
	Enable  bool    `yaml:"enable"`
	Amount  int     `yaml:"amount"`
	AddMode AddMode `yaml:"add_mode"`

	OlderThanDays          int  `yaml:"older_than_days"`
	UserHasVIP             bool `yaml:"user_has_vip"`
	UserHasAP              bool `yaml:"user_has_ap"`
	UserHasAgeVerification bool `yaml:"user_has_age_verification"`
	UserHasMarriage        bool `yaml:"user_has_marriage"`
	// UserGenderMode: 0 male, 1 female, 2 any gender set, other values disable the filter.
	UserGenderMode int `yaml:"user_gender_mode"`

	DelayBetweenAdds  time.Duration `yaml:"delay_between_adds"`
	DelayAfterProcess time.Duration `yaml:"delay_after_process"`

	// RevisitAfter skips profiles visited more recently than this. Zero
	// disables the check.
	RevisitAfter time.Duration `yaml:"revisit_after"`
}

// OlderThan returns the minimum account age.
func (f FeedSettings) OlderThan() time.Duration {
	return time.Duration(f.OlderThanDays) * 24 * time.Hour
}

type UnfollowSettings struct {
	Enable            bool          `yaml:"enable"`
	UnfollowMode      UnfollowMode  `yaml:"unfollow_mode"`
	DelayAfterProcess time.Duration `yaml:"delay_after_process"`
	WhitelistFile     string        `yaml:"whitelist_file"`
}

// DefaultSettings returns the settings used for keys absent from the file.
func DefaultSettings() Settings {
	return Settings{
		Feed: FeedSettings{
			Amount:            50,
			AddMode:           AddFollow,
			UserGenderMode:    -1,
			DelayBetweenAdds:  5 * time.Second,
			DelayAfterProcess: 10 * time.Second,
			RevisitAfter:      24 * time.Hour,
		},
		Unfollow: UnfollowSettings{
			UnfollowMode:      UnfollowOnly,
			DelayAfterProcess: 10 * time.Second,
			WhitelistFile:     "whitelist.txt",
		},
		CycleInterval: 30 * time.Minute,
	}
}

// Validate checks the settings the runner cannot work without.
func (s Settings) Validate() error {
	if strings.TrimSpace(s.Account.Username) == "" || s.Account.Password == "" {
		return fmt.Errorf("account.username and account.password are required")
	}
	if s.Feed.Enable && s.Feed.Amount <= 0 {
		return fmt.Errorf("feed.amount must be positive, got %d", s.Feed.Amount)
	}
	if s.Feed.AddMode < AddFriend || s.Feed.AddMode > AddBoth {
		return fmt.Errorf("feed.add_mode must be 0, 1 or 2, got %d", s.Feed.AddMode)
	}
	if s.Unfollow.UnfollowMode < Unfriend || s.Unfollow.UnfollowMode > UnfriendAndUnfollow {
		return fmt.Errorf("unfollow.unfollow_mode must be 0, 1 or 2, got %d", s.Unfollow.UnfollowMode)
	}
	if s.CycleInterval <= 0 {
		return fmt.Errorf("cycle_interval must be positive, got %s", s.CycleInterval)
	}
	return nil
}

// LoadSettings reads path on top of DefaultSettings and validates the result.
func LoadSettings(path string) (Settings, error) {
	s := DefaultSettings()
	data, err := os.ReadFile(path)
	if err != nil {
		return s, fmt.Errorf("read settings %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &s); err != nil {
		return s, fmt.Errorf("parse settings %s: %w", path, err)
	}
	if err := s.Validate(); err != nil {
		return s, err
	}
	return s, nil
}

// Whitelist holds usernames that are never unfollowed.
type Whitelist map[string]struct{}

// LoadWhitelist reads one username per line; blank lines are ignored. A
// missing file yields an empty whitelist.
func LoadWhitelist(path string) (Whitelist, error) {
	wl := Whitelist{}
	if path == "" {
		return wl, nil
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return wl, nil
		}
		return nil, fmt.Errorf("open whitelist %s: %w", path, err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if name := strings.TrimSpace(sc.Text()); name != "" {
			wl[name] = struct{}{}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read whitelist %s: %w", path, err)
	}
	return wl, nil
}

// Contains reports whether name is whitelisted.
func (w Whitelist) Contains(name string) bool {
	_, ok := w[strings.TrimSpace(name)]
	return ok
}
