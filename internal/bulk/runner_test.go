package bulk

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-blackswan/roombot/internal/browser"
	"github.com/p-blackswan/roombot/internal/browser/browsertest"
	"github.com/p-blackswan/roombot/internal/metrics"
)

type sleeper struct {
	mu    sync.Mutex
	calls []time.Duration
	// onSleep, when set, decides the result of each sleep.
	onSleep func(d time.Duration) error
}

func (s *sleeper) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.calls = append(s.calls, d)
	hook := s.onSleep
	s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if hook != nil {
		return hook(d)
	}
	return nil
}

func (s *sleeper) saw(d time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.calls {
		if c == d {
			return true
		}
	}
	return false
}

type stubLogin struct {
	calls int
	err   error
}

func (l *stubLogin) Login(_ context.Context, _, _ string) error {
	l.calls++
	return l.err
}

type stubUsers struct {
	likers      []string
	users       []User
	likersLimit int
	err         error
}

func (u *stubUsers) Likers(_ context.Context, _ string, limit int) ([]string, error) {
	u.likersLimit = limit
	return u.likers, u.err
}

func (u *stubUsers) Users(_ context.Context, _ []string) ([]User, error) {
	return u.users, u.err
}

func testTimings() Timings {
	t := DefaultTimings()
	t.FeedAttempts = 3
	t.MaxScrolls = 2
	return t
}

func testSettings() Settings {
	s := DefaultSettings()
	s.Account = AccountSettings{Username: "alice", Password: "secret"}
	s.Feed.Enable = true
	s.Feed.Amount = 10
	s.Feed.UserGenderMode = -1
	return s
}

func newRunner(f *browsertest.Fake, users Users, s Settings, wl Whitelist, opts ...Option) (*Runner, *sleeper, *metrics.Metrics) {
	sl := &sleeper{}
	m := metrics.New()
	opts = append([]Option{WithSleep(sl.sleep), WithTimings(testTimings()), WithMetrics(m)}, opts...)
	return New(f, &stubLogin{}, users, s, wl, zerolog.Nop(), opts...), sl, m
}

func usersWithCIDs(cids ...int64) []User {
	out := make([]User, 0, len(cids))
	for _, c := range cids {
		out = append(out, User{LegacyCID: ptr(c)})
	}
	return out
}

// feedReady serves feedPage on every visit to the feed.
func feedReady(f *browsertest.Fake) {
	loc := DefaultLocators()
	f.Put(loc.FeedItem, browsertest.NewElement(""))
	f.Put(loc.Root, browsertest.NewElement(""))
	f.SetHTML(feedPage)
}

func TestSetOnlineStatus(t *testing.T) {
	tests := []struct {
		name     string
		checkbox string
		show     bool
		toggled  bool
	}{
		{"turn off", `<input id="profile-checkbox-show-online-status" checked>`, false, true},
		{"turn on", `<input id="profile-checkbox-show-online-status">`, true, true},
		{"already on", `<input id="profile-checkbox-show-online-status" checked>`, true, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := browsertest.New()
			loc := DefaultLocators()
			portrait := browsertest.NewElement("")
			portrait.OnClick = func(f *browsertest.Fake) { f.SetHTML(tc.checkbox) }
			label := browsertest.NewElement("")
			f.Put(loc.Portrait, portrait)
			f.Put(loc.OnlineStatusLabel, label)

			r, _, _ := newRunner(f, &stubUsers{}, testSettings(), nil)
			require.NoError(t, r.SetOnlineStatus(context.Background(), tc.show))
			assert.Equal(t, 1, portrait.ClickCount())
			assert.Equal(t, tc.toggled, label.ClickCount() == 1)
		})
	}
}

func TestSetOnlineStatus_ReopensMenuOnce(t *testing.T) {
	f := browsertest.New()
	loc := DefaultLocators()
	portrait := browsertest.NewElement("")
	f.Put(loc.Portrait, portrait)

	r, _, _ := newRunner(f, &stubUsers{}, testSettings(), nil)
	err := r.SetOnlineStatus(context.Background(), true)
	require.Error(t, err)
	assert.Equal(t, 2, portrait.ClickCount())
}

func TestFeedPass_FollowMode(t *testing.T) {
	f := browsertest.New()
	feedReady(f)
	loc := DefaultLocators()
	btn := browsertest.NewElement("FOLLOW")
	container := browsertest.NewElement("")
	f.Put(loc.FollowButton, btn)
	f.Put(loc.FollowContainer, container)

	s := testSettings()
	s.Feed.Amount = 2
	s.Feed.AddMode = AddFollow
	s.Overall.EnableClassicRedirect = true
	users := &stubUsers{likers: []string{"1", "2", "3"}, users: usersWithCIDs(1, 2, 3)}

	r, sl, m := newRunner(f, users, s, nil)
	added, err := r.FeedPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, added)
	assert.Equal(t, 12, users.likersLimit)

	assert.Contains(t, f.Navigations, ProfileURL+"1")
	assert.Contains(t, f.Navigations, ProfileURL+"2")
	assert.NotContains(t, f.Navigations, ProfileURL+"3")
	assert.Equal(t, ClassicURL, f.Navigations[len(f.Navigations)-1])
	assert.Equal(t, 2, container.ClickCount())
	assert.True(t, sl.saw(s.Feed.DelayBetweenAdds))
	assert.True(t, sl.saw(s.Feed.DelayAfterProcess))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.BulkActionsTotal.WithLabelValues("follow", "ok")))
}

func TestFeedPass_FriendModeCountsOnlySentRequests(t *testing.T) {
	f := browsertest.New()
	feedReady(f)
	loc := DefaultLocators()
	more := browsertest.NewElement("")
	item := browsertest.NewElement("Pending")
	f.Put(loc.MoreActions, more)
	f.Put(loc.AddFriendItem, item)
	f.OnNavigate = func(f *browsertest.Fake, url string) {
		if url == ProfileURL+"3" {
			item.Inner = "Add Friend"
		}
	}

	s := testSettings()
	s.Feed.AddMode = AddFriend
	users := &stubUsers{likers: []string{"1", "2", "3"}, users: usersWithCIDs(1, 2, 3)}

	r, _, m := newRunner(f, users, s, nil)
	added, err := r.FeedPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, added)
	assert.Equal(t, 3, more.ClickCount())
	assert.Equal(t, 1, item.ClickCount())
	assert.Equal(t, 2.0, testutil.ToFloat64(m.BulkActionsTotal.WithLabelValues("friend", "skipped")))
}

func TestFeedPass_BothModes(t *testing.T) {
	f := browsertest.New()
	feedReady(f)
	loc := DefaultLocators()
	f.Put(loc.MoreActions, browsertest.NewElement(""))
	f.Put(loc.AddFriendItem, browsertest.NewElement("Add Friend"))
	f.Put(loc.FollowButton, browsertest.NewElement("FOLLOWING"))
	container := browsertest.NewElement("")
	f.Put(loc.FollowContainer, container)

	s := testSettings()
	s.Feed.AddMode = AddBoth
	users := &stubUsers{likers: []string{"1", "2"}, users: usersWithCIDs(1, 2)}

	r, _, _ := newRunner(f, users, s, nil)
	added, err := r.FeedPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, added)
	assert.Equal(t, 0, container.ClickCount())
}

func TestFeedPass_ReloadsEmptyFeed(t *testing.T) {
	f := browsertest.New()
	loc := DefaultLocators()
	f.Put(loc.Root, browsertest.NewElement(""))
	f.SetHTML(feedPage)
	visits := 0
	f.OnNavigate = func(f *browsertest.Fake, url string) {
		if url != FeedURL {
			return
		}
		visits++
		if visits == 3 {
			f.Put(loc.FeedItem, browsertest.NewElement(""))
		}
	}

	s := testSettings()
	users := &stubUsers{}
	r, sl, _ := newRunner(f, users, s, nil)
	_, err := r.FeedPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, visits)
	assert.True(t, sl.saw(testTimings().FeedWait))
	assert.True(t, sl.saw(2*testTimings().FeedWait))
}

func TestFeedPass_FeedNeverLoads(t *testing.T) {
	f := browsertest.New()
	r, _, _ := newRunner(f, &stubUsers{}, testSettings(), nil)
	_, err := r.FeedPass(context.Background())
	require.ErrorIs(t, err, ErrNoPosts)
}

func TestFeedPass_NoPopularPost(t *testing.T) {
	f := browsertest.New()
	feedReady(f)
	root := browsertest.NewElement("")
	f.Put(DefaultLocators().Root, root)

	s := testSettings()
	s.Feed.Amount = 5000
	r, _, _ := newRunner(f, &stubUsers{}, s, nil)
	_, err := r.FeedPass(context.Background())
	require.ErrorIs(t, err, ErrNoPopularPost)
	assert.Equal(t, testTimings().MaxScrolls, len(root.Value)/len(browser.KeyEnd))
}

func TestFeedPass_UserAPIError(t *testing.T) {
	f := browsertest.New()
	feedReady(f)
	r, _, _ := newRunner(f, &stubUsers{err: errors.New("boom")}, testSettings(), nil)
	_, err := r.FeedPass(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "liked-by listing")
}

func followingReady(f *browsertest.Fake) {
	f.SetHTML(`<span class="following-count">2</span>
<div class="profile-list-item"><span class="at-avatar-name-text is-truncated">bob</span></div>
<div class="profile-list-item"><span class="at-avatar-name-text is-truncated">carol</span></div>`)
	f.Put(DefaultLocators().Root, browsertest.NewElement(""))
}

func TestUnfollowPass_SkipsWhitelist(t *testing.T) {
	f := browsertest.New()
	followingReady(f)
	loc := DefaultLocators()
	bob := browsertest.NewElement("Following")
	carol := browsertest.NewElement("Following")
	confirm := browsertest.NewElement("Unfollow")
	f.Put(UnfollowButton("bob"), bob)
	f.Put(UnfollowButton("carol"), carol)
	f.Put(loc.DialogConfirm, confirm)

	s := testSettings()
	s.Unfollow.Enable = true
	s.Unfollow.UnfollowMode = UnfollowOnly
	r, _, m := newRunner(f, &stubUsers{}, s, Whitelist{"bob": {}})

	removed, err := r.UnfollowPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 0, bob.ClickCount())
	assert.Equal(t, 1, carol.ClickCount())
	assert.Equal(t, 1, confirm.ClickCount())
	assert.Equal(t, FollowingURL, f.Navigations[0])
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BulkActionsTotal.WithLabelValues("unfollow", "skipped")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BulkActionsTotal.WithLabelValues("unfollow", "ok")))
}

func TestUnfollowPass_Unfriend(t *testing.T) {
	f := browsertest.New()
	followingReady(f)
	loc := DefaultLocators()
	avatar := browsertest.NewElement("")
	more := browsertest.NewElement("")
	item := browsertest.NewElement("Unfriend")
	confirm := browsertest.NewElement("Yes")
	dismiss := browsertest.NewElement("OK")
	back := browsertest.NewElement("Following")
	f.Put(EntryAvatar("carol"), avatar)
	f.Put(loc.ProfileMore, more)
	f.Put(loc.UnfriendItem, item)
	f.Put(loc.DialogConfirm, confirm)
	f.Put(loc.DialogDismiss, dismiss)
	f.Put(loc.BackToFollowing, back)

	s := testSettings()
	s.Unfollow.UnfollowMode = Unfriend
	r, _, _ := newRunner(f, &stubUsers{}, s, nil)

	removed, err := r.UnfollowPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, item.ClickCount())
	assert.Equal(t, 1, confirm.ClickCount())
	assert.Equal(t, 1, dismiss.ClickCount())
	assert.Equal(t, 1, back.ClickCount())
}

func TestUnfollowPass_StopsScrollingAtLimit(t *testing.T) {
	f := browsertest.New()
	f.SetHTML(`<span class="following-count">50</span>
<div class="profile-list-item"><span class="at-avatar-name-text is-truncated">bob</span></div>`)
	root := browsertest.NewElement("")
	f.Put(DefaultLocators().Root, root)

	r, _, _ := newRunner(f, &stubUsers{}, testSettings(), Whitelist{"bob": {}})
	removed, err := r.UnfollowPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, removed)
	assert.Equal(t, testTimings().MaxScrolls, len(root.Value)/len(browser.KeyEnd))
}

func TestRun_LogsOutOnCancel(t *testing.T) {
	f := browsertest.New()
	followingReady(f)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := testSettings()
	s.Feed.Enable = false
	s.Unfollow.Enable = true
	login := &stubLogin{}
	sl := &sleeper{onSleep: func(d time.Duration) error {
		if d == s.CycleInterval {
			cancel()
			return context.Canceled
		}
		return nil
	}}
	f.Put(DefaultLocators().Portrait, browsertest.NewElement(""))
	r := New(f, login, &stubUsers{}, s, nil, zerolog.Nop(), WithSleep(sl.sleep), WithTimings(testTimings()))

	require.NoError(t, r.Run(ctx))
	assert.Equal(t, 1, login.calls)
	assert.Equal(t, LogoutURL, f.Navigations[len(f.Navigations)-1])
}

func TestRun_LoginFailure(t *testing.T) {
	f := browsertest.New()
	login := &stubLogin{err: errors.New("bad credentials")}
	r := New(f, login, &stubUsers{}, testSettings(), nil, zerolog.Nop())

	err := r.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "login")
	assert.Empty(t, f.Navigations)
}

func TestFeedPass_SkipsRecentlyVisited(t *testing.T) {
	f := browsertest.New()
	feedReady(f)
	loc := DefaultLocators()
	f.Put(loc.FollowButton, browsertest.NewElement("FOLLOW"))
	container := browsertest.NewElement("")
	f.Put(loc.FollowContainer, container)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := testSettings()
	s.Feed.AddMode = AddFollow
	users := &stubUsers{likers: []string{"1", "2"}, users: usersWithCIDs(1, 2)}
	r, _, _ := newRunner(f, users, s, nil, WithClock(func() time.Time { return now }))

	added, err := r.FeedPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, added)

	added, err = r.FeedPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, added)
	assert.Equal(t, 2, container.ClickCount())

	now = now.Add(s.Feed.RevisitAfter + time.Minute)
	added, err = r.FeedPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, added)
	assert.Equal(t, 4, container.ClickCount())
}
