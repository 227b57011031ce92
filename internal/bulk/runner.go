package bulk

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"github.com/p-blackswan/roombot/internal/browser"
	"github.com/p-blackswan/roombot/internal/metrics"
	"github.com/p-blackswan/roombot/internal/retry"
	"github.com/p-blackswan/roombot/internal/session"
)

// visitedCacheSize bounds how many visited profiles are remembered.
const visitedCacheSize = 10000

var (
	// ErrNoPosts is returned when the feed stays empty after every reload.
	ErrNoPosts = errors.New("no posts on feed")
	// ErrNoPopularPost is returned when no loaded post reaches the like threshold.
	ErrNoPopularPost = errors.New("no post with enough likes")
)

// Loginer signs the browser in.
type Loginer interface {
	Login(ctx context.Context, username, password string) error
}

// Users reads liked-by listings and user records.
type Users interface {
	Likers(ctx context.Context, postLink string, limit int) ([]string, error)
	Users(ctx context.Context, cids []string) ([]User, error)
}

// Timings holds the runner's waits.
type Timings struct {
	Lookup       time.Duration
	PageSettle   time.Duration
	MenuSettle   time.Duration
	DialogSettle time.Duration
	ScrollPause  time.Duration
	// FeedAttempts bounds feed reloads; the wait before reload n is n*FeedWait.
	FeedAttempts int
	FeedWait     time.Duration
	MaxScrolls   int
}

// DefaultTimings returns the waits tuned for the live site.
func DefaultTimings() Timings {
	return Timings{
		Lookup:       10 * time.Second,
		PageSettle:   3 * time.Second,
		MenuSettle:   time.Second,
		DialogSettle: 3 * time.Second,
		ScrollPause:  5 * time.Second,
		FeedAttempts: 6,
		FeedWait:     10 * time.Second,
		MaxScrolls:   20,
	}
}

// Runner performs the bulk passes on one signed-in browser.
type Runner struct {
	driver    browser.Driver
	login     Loginer
	users     Users
	settings  Settings
	whitelist Whitelist
	visited   *lru.Cache[string, time.Time]

	loc       Locators
	timings   Timings
	logoutURL string
	metrics   *metrics.Metrics
	sleep     func(ctx context.Context, d time.Duration) error
	now       func() time.Time
	logger    zerolog.Logger
}

// Option configures a Runner.
type Option func(*Runner)

func WithLocators(l Locators) Option { return func(r *Runner) { r.loc = l } }

func WithTimings(t Timings) Option { return func(r *Runner) { r.timings = t } }

func WithMetrics(m *metrics.Metrics) Option { return func(r *Runner) { r.metrics = m } }

// WithSleep replaces the context-aware sleep used between steps.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(r *Runner) { r.sleep = fn }
}

// WithLogoutURL overrides the page visited on shutdown.
func WithLogoutURL(u string) Option {
	return func(r *Runner) {
		if u != "" {
			r.logoutURL = u
		}
	}
}

// WithClock overrides the time source used for account age checks.
func WithClock(now func() time.Time) Option { return func(r *Runner) { r.now = now } }

// New creates a runner.
func New(driver browser.Driver, login Loginer, users Users, settings Settings, whitelist Whitelist, logger zerolog.Logger, opts ...Option) *Runner {
	r := &Runner{
		driver:    driver,
		login:     login,
		users:     users,
		settings:  settings,
		whitelist: whitelist,
		loc:       DefaultLocators(),
		logoutURL: LogoutURL,
		timings:   DefaultTimings(),
		sleep:     session.Sleep,
		now:       time.Now,
		logger:    logger.With().Str("component", "bulk").Logger(),
	}
	for _, o := range opts {
		o(r)
	}
	if r.whitelist == nil {
		r.whitelist = Whitelist{}
	}
	// lru.New only fails on a non-positive size.
	r.visited, _ = lru.New[string, time.Time](visitedCacheSize)
	return r
}

// Run signs in, applies the online status, and repeats the enabled passes
// every CycleInterval until ctx is cancelled. On cancellation it logs out
// and returns nil.
func (r *Runner) Run(ctx context.Context) error {
	acct := r.settings.Account
	if err := r.login.Login(ctx, acct.Username, acct.Password); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("login: %w", err)
	}
	if err := r.SetOnlineStatus(ctx, acct.ShowOnlineStatus); err != nil && ctx.Err() == nil {
		r.logger.Warn().Err(err).Msg("could not set online status")
	}

	for cycle := 1; ; cycle++ {
		if err := r.Cycle(ctx); err != nil {
			if ctx.Err() != nil {
				break
			}
			r.logger.Error().Err(err).Int("cycle", cycle).Msg("cycle failed")
		} else {
			r.logger.Info().Int("cycle", cycle).Msg("cycle complete")
		}
		if err := r.sleep(ctx, r.settings.CycleInterval); err != nil {
			break
		}
	}

	r.Logout(ctx)
	return nil
}

// Cycle runs one feed pass and one unfollow pass, each when enabled.
func (r *Runner) Cycle(ctx context.Context) error {
	var errs []error
	if r.settings.Feed.Enable {
		added, err := r.FeedPass(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("feed pass: %w", err))
		} else {
			r.logger.Info().Int("added", added).Msg("feed pass complete")
		}
		if ctx.Err() != nil {
			return errors.Join(errs...)
		}
	}
	if r.settings.Unfollow.Enable {
		removed, err := r.UnfollowPass(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("unfollow pass: %w", err))
		} else {
			r.logger.Info().Int("removed", removed).Msg("unfollow pass complete")
		}
	}
	return errors.Join(errs...)
}

// Logout navigates to the logout page even when ctx is already cancelled.
func (r *Runner) Logout(ctx context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if err := r.driver.Navigate(ctx, r.logoutURL); err != nil {
		r.logger.Warn().Err(err).Msg("logout failed")
		return
	}
	r.logger.Info().Msg("logged out")
}

// SetOnlineStatus opens the profile menu and toggles the show-online-status
// checkbox when it differs from show.
func (r *Runner) SetOnlineStatus(ctx context.Context, show bool) error {
	t := r.timings
	portrait, ok, err := r.driver.Find(ctx, r.loc.Portrait, t.Lookup)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("profile portrait not found")
	}

	checked, found := false, false
	for i := 0; i < 2 && !found; i++ {
		if err := portrait.Click(ctx); err != nil {
			return fmt.Errorf("open profile menu: %w", err)
		}
		if err := r.sleep(ctx, t.PageSettle); err != nil {
			return err
		}
		html, err := r.driver.HTML(ctx)
		if err != nil {
			return err
		}
		if checked, found, err = OnlineStatusChecked(html); err != nil {
			return err
		}
	}
	if !found {
		return fmt.Errorf("online status checkbox not found")
	}
	if checked == show {
		r.logger.Info().Bool("online", show).Msg("online status already set")
		return nil
	}

	label, ok, err := r.driver.Find(ctx, r.loc.OnlineStatusLabel, t.Lookup)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("online status toggle not found")
	}
	if err := label.Click(ctx); err != nil {
		return fmt.Errorf("toggle online status: %w", err)
	}
	r.logger.Info().Bool("was", checked).Bool("online", show).Msg("online status changed")
	return nil
}

// FeedPass picks a popular feed post, filters the accounts that liked it,
// and adds or follows up to Feed.Amount of them. It returns how many
// profiles were acted on.
func (r *Runner) FeedPass(ctx context.Context) (int, error) {
	f := r.settings.Feed
	post, err := r.findPost(ctx, f.Amount)
	if err != nil {
		return 0, err
	}
	r.logger.Info().Str("post", post.Link).Int("likes", post.Likes).Msg("post selected")

	cids, err := r.users.Likers(ctx, post.Link, post.Likes)
	if err != nil {
		return 0, fmt.Errorf("liked-by listing: %w", err)
	}
	users, err := r.users.Users(ctx, cids)
	if err != nil {
		return 0, fmt.Errorf("user records: %w", err)
	}
	valid := Filter(users, f, r.now())
	r.logger.Info().Int("likers", len(cids)).Int("records", len(users)).Int("valid", len(valid)).Msg("candidates filtered")

	added, skipped := 0, 0
	for _, cid := range valid {
		if added >= f.Amount {
			break
		}
		if r.recentlyVisited(cid) {
			skipped++
			continue
		}
		acted, err := r.addOne(ctx, cid)
		if err != nil {
			return added, err
		}
		r.visited.Add(cid, r.now())
		if acted {
			added++
		}
	}
	if skipped > 0 {
		r.logger.Info().Int("skipped", skipped).Msg("recently visited profiles skipped")
	}

	if r.settings.Overall.EnableClassicRedirect {
		if err := r.driver.Navigate(ctx, ClassicURL); err != nil {
			return added, err
		}
	}
	if err := r.sleep(ctx, f.DelayAfterProcess); err != nil {
		return added, err
	}
	return added, nil
}

func (r *Runner) recentlyVisited(cid string) bool {
	window := r.settings.Feed.RevisitAfter
	if window <= 0 {
		return false
	}
	at, ok := r.visited.Get(cid)
	if !ok {
		return false
	}
	if r.now().Sub(at) <= window {
		return true
	}
	r.visited.Remove(cid)
	return false
}

// findPost loads the feed, reloading with growing waits while it is empty,
// then scrolls until a post reaches minLikes.
func (r *Runner) findPost(ctx context.Context, minLikes int) (FeedPost, error) {
	t := r.timings
	if err := r.driver.Navigate(ctx, FeedURL); err != nil {
		return FeedPost{}, err
	}
	if err := r.sleep(ctx, t.PageSettle); err != nil {
		return FeedPost{}, err
	}

	cfg := retry.Fixed(max(t.FeedAttempts, 1), 0)
	cfg.Retryable = func(err error) bool { return errors.Is(err, ErrNoPosts) }
	cfg.OnRetry = func(ctx context.Context, n int, _ error) {
		r.logger.Warn().Int("attempt", n).Msg("feed empty, reloading")
		if err := r.sleep(ctx, time.Duration(n)*t.FeedWait); err != nil {
			return
		}
		if err := r.driver.Navigate(ctx, FeedURL); err != nil {
			r.logger.Warn().Err(err).Msg("feed reload failed")
		}
	}
	err := retry.Do(ctx, cfg, func(ctx context.Context) error {
		items, err := r.driver.FindAll(ctx, r.loc.FeedItem, t.Lookup)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			return ErrNoPosts
		}
		return nil
	})
	if err != nil {
		return FeedPost{}, err
	}

	for scroll := 0; ; scroll++ {
		html, err := r.driver.HTML(ctx)
		if err != nil {
			return FeedPost{}, err
		}
		posts, err := ParseFeed(html)
		if err != nil {
			return FeedPost{}, err
		}
		if p, ok := PickPost(posts, minLikes); ok {
			return p, nil
		}
		if scroll >= t.MaxScrolls {
			return FeedPost{}, fmt.Errorf("%w after %d scrolls (%d posts, need %d likes)", ErrNoPopularPost, scroll, len(posts), minLikes)
		}
		if err := r.scroll(ctx); err != nil {
			return FeedPost{}, err
		}
	}
}

func (r *Runner) scroll(ctx context.Context) error {
	root, ok, err := r.driver.Find(ctx, r.loc.Root, r.timings.Lookup)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("page root not found")
	}
	if err := root.Type(ctx, browser.KeyEnd); err != nil {
		return fmt.Errorf("scroll: %w", err)
	}
	return r.sleep(ctx, r.timings.ScrollPause)
}

// addOne opens a profile and applies the add mode. It reports whether the
// profile counts toward the amount: friend mode counts only sent requests,
// the other modes count every visited profile.
func (r *Runner) addOne(ctx context.Context, cid string) (bool, error) {
	f := r.settings.Feed
	if err := r.driver.Navigate(ctx, ProfileURL+cid); err != nil {
		return false, err
	}
	if err := r.sleep(ctx, f.DelayBetweenAdds); err != nil {
		return false, err
	}
	log := r.logger.With().Str("cid", cid).Logger()

	switch f.AddMode {
	case AddFriend:
		sent, err := r.addFriend(ctx)
		if err != nil {
			return false, err
		}
		return sent, nil
	case AddFollow:
		if _, err := r.follow(ctx); err != nil {
			return false, err
		}
		return true, nil
	default:
		if _, err := r.addFriend(ctx); err != nil {
			return false, err
		}
		if _, err := r.follow(ctx); err != nil {
			log.Debug().Err(err).Msg("follow after friend request failed")
		}
		return true, nil
	}
}

func (r *Runner) addFriend(ctx context.Context) (bool, error) {
	t := r.timings
	more, ok, err := r.driver.Find(ctx, r.loc.MoreActions, t.Lookup)
	if err != nil {
		return false, err
	}
	if !ok {
		r.metrics.RecordBulkAction("friend", "skipped")
		return false, nil
	}
	if err := more.Click(ctx); err != nil {
		r.metrics.RecordBulkAction("friend", "failed")
		return false, nil
	}
	if err := r.sleep(ctx, t.MenuSettle); err != nil {
		return false, err
	}
	item, ok, err := r.driver.Find(ctx, r.loc.AddFriendItem, t.Lookup)
	if err != nil {
		return false, err
	}
	if !ok {
		r.metrics.RecordBulkAction("friend", "skipped")
		return false, nil
	}
	text, err := item.Text(ctx)
	if err != nil {
		return false, err
	}
	if strings.TrimSpace(text) != "Add Friend" {
		r.metrics.RecordBulkAction("friend", "skipped")
		return false, nil
	}
	if err := item.Click(ctx); err != nil {
		r.logger.Debug().Err(err).Msg("add friend click failed")
		r.metrics.RecordBulkAction("friend", "failed")
		return false, nil
	}
	r.metrics.RecordBulkAction("friend", "ok")
	r.logger.Info().Msg("friend request sent")
	return true, nil
}

func (r *Runner) follow(ctx context.Context) (bool, error) {
	t := r.timings
	btn, ok, err := r.driver.Find(ctx, r.loc.FollowButton, t.Lookup)
	if err != nil {
		return false, err
	}
	if !ok {
		r.metrics.RecordBulkAction("follow", "skipped")
		return false, nil
	}
	text, err := btn.Text(ctx)
	if err != nil {
		return false, err
	}
	if strings.TrimSpace(text) != "FOLLOW" {
		r.metrics.RecordBulkAction("follow", "skipped")
		return false, nil
	}
	container, ok, err := r.driver.Find(ctx, r.loc.FollowContainer, t.Lookup)
	if err != nil {
		return false, err
	}
	if !ok {
		r.metrics.RecordBulkAction("follow", "skipped")
		return false, nil
	}
	if err := container.Click(ctx); err != nil {
		r.metrics.RecordBulkAction("follow", "failed")
		return false, fmt.Errorf("follow: %w", err)
	}
	r.metrics.RecordBulkAction("follow", "ok")
	r.logger.Info().Msg("following")
	return true, nil
}

// UnfollowPass loads the whole following list and applies the unfollow mode
// to every entry not on the whitelist. It returns how many entries were
// removed.
func (r *Runner) UnfollowPass(ctx context.Context) (int, error) {
	names, err := r.loadFollowing(ctx)
	if err != nil {
		return 0, err
	}
	r.logger.Info().Int("following", len(names)).Int("whitelisted", len(r.whitelist)).Msg("following list loaded")

	removed := 0
	for _, name := range names {
		if r.whitelist.Contains(name) {
			r.logger.Debug().Str("user", name).Msg("whitelisted, keeping")
			r.metrics.RecordBulkAction("unfollow", "skipped")
			continue
		}
		ok, err := r.removeOne(ctx, name)
		if err != nil {
			if ctx.Err() != nil {
				return removed, err
			}
			r.logger.Warn().Err(err).Str("user", name).Msg("remove failed")
			continue
		}
		if ok {
			removed++
		}
	}

	if r.settings.Overall.EnableClassicRedirect {
		if err := r.driver.Navigate(ctx, ClassicURL); err != nil {
			return removed, err
		}
	}
	if err := r.sleep(ctx, r.settings.Unfollow.DelayAfterProcess); err != nil {
		return removed, err
	}
	return removed, nil
}

// loadFollowing opens the following page and scrolls until every followed
// account is listed or MaxScrolls is reached.
func (r *Runner) loadFollowing(ctx context.Context) ([]string, error) {
	t := r.timings
	if err := r.driver.Navigate(ctx, FollowingURL); err != nil {
		return nil, err
	}
	if err := r.sleep(ctx, t.PageSettle); err != nil {
		return nil, err
	}

	for scroll := 0; ; scroll++ {
		html, err := r.driver.HTML(ctx)
		if err != nil {
			return nil, err
		}
		total, err := FollowingCount(html)
		if err != nil {
			return nil, err
		}
		names, err := FollowingNames(html)
		if err != nil {
			return nil, err
		}
		if len(names) >= total || scroll >= t.MaxScrolls {
			if len(names) < total {
				r.logger.Warn().Int("listed", len(names)).Int("total", total).Msg("following list incomplete")
			}
			return names, nil
		}
		if err := r.scroll(ctx); err != nil {
			return nil, err
		}
	}
}

func (r *Runner) removeOne(ctx context.Context, name string) (bool, error) {
	switch r.settings.Unfollow.UnfollowMode {
	case Unfriend:
		return r.unfriend(ctx, name)
	case UnfollowOnly:
		return r.unfollow(ctx, name)
	default:
		unfriended, err := r.unfriend(ctx, name)
		if err != nil {
			return false, err
		}
		unfollowed, err := r.unfollow(ctx, name)
		if err != nil {
			return unfriended, err
		}
		return unfriended || unfollowed, nil
	}
}

func (r *Runner) unfollow(ctx context.Context, name string) (bool, error) {
	t := r.timings
	btn, ok, err := r.driver.Find(ctx, UnfollowButton(name), t.Lookup)
	if err != nil {
		return false, err
	}
	if !ok {
		r.metrics.RecordBulkAction("unfollow", "skipped")
		return false, nil
	}
	if err := btn.Click(ctx); err != nil {
		r.metrics.RecordBulkAction("unfollow", "failed")
		return false, fmt.Errorf("unfollow %s: %w", name, err)
	}
	if err := r.sleep(ctx, t.DialogSettle); err != nil {
		return false, err
	}
	if err := r.clickFirst(ctx, r.loc.DialogConfirm); err != nil {
		r.metrics.RecordBulkAction("unfollow", "failed")
		return false, fmt.Errorf("confirm unfollow %s: %w", name, err)
	}
	r.metrics.RecordBulkAction("unfollow", "ok")
	r.logger.Info().Str("user", name).Msg("unfollowed")
	return true, r.sleep(ctx, t.DialogSettle)
}

func (r *Runner) unfriend(ctx context.Context, name string) (bool, error) {
	t := r.timings
	avatar, ok, err := r.driver.Find(ctx, EntryAvatar(name), t.Lookup)
	if err != nil {
		return false, err
	}
	if !ok {
		r.metrics.RecordBulkAction("unfriend", "skipped")
		return false, nil
	}
	if err := avatar.Click(ctx); err != nil {
		return false, fmt.Errorf("open profile %s: %w", name, err)
	}
	if err := r.sleep(ctx, t.DialogSettle); err != nil {
		return false, err
	}
	// Return to the following list whatever happens on the profile.
	defer func() {
		if err := r.clickFirst(ctx, r.loc.BackToFollowing); err != nil {
			r.logger.Debug().Err(err).Msg("back to following failed")
		}
	}()

	if err := r.clickFirst(ctx, r.loc.ProfileMore); err != nil {
		return false, err
	}
	if err := r.sleep(ctx, t.MenuSettle); err != nil {
		return false, err
	}
	item, ok, err := r.driver.Find(ctx, r.loc.UnfriendItem, t.Lookup)
	if err != nil {
		return false, err
	}
	if !ok {
		r.metrics.RecordBulkAction("unfriend", "skipped")
		return false, nil
	}
	text, err := item.Text(ctx)
	if err != nil {
		return false, err
	}
	if strings.TrimSpace(text) != "Unfriend" {
		r.metrics.RecordBulkAction("unfriend", "skipped")
		return false, nil
	}
	if err := item.Click(ctx); err != nil {
		r.metrics.RecordBulkAction("unfriend", "failed")
		return false, fmt.Errorf("unfriend %s: %w", name, err)
	}
	if err := r.sleep(ctx, t.MenuSettle); err != nil {
		return false, err
	}
	if err := r.clickFirst(ctx, r.loc.DialogConfirm); err != nil {
		r.metrics.RecordBulkAction("unfriend", "failed")
		return false, err
	}
	if err := r.sleep(ctx, t.DialogSettle); err != nil {
		return false, err
	}
	if err := r.clickFirst(ctx, r.loc.DialogDismiss); err != nil {
		r.logger.Debug().Err(err).Msg("dismiss dialog failed")
	}
	r.metrics.RecordBulkAction("unfriend", "ok")
	r.logger.Info().Str("user", name).Msg("unfriended")
	return true, nil
}

// clickFirst clicks the first match of loc. A missing element is an error.
func (r *Runner) clickFirst(ctx context.Context, loc browser.Locator) error {
	el, ok, err := r.driver.Find(ctx, loc, r.timings.Lookup)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s not found", loc)
	}
	return el.Click(ctx)
}
