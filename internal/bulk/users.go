package bulk

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	perrors "github.com/p-blackswan/roombot/internal/errors"
)

const (
	// DefaultUserAPI is the public user API base.
	DefaultUserAPI = "https://api.imvu.com"

	// MaxUsersPerRequest bounds the ids packed into one user lookup.
	MaxUsersPerRequest = 100
)

var cidPattern = regexp.MustCompile(`user-(\d+)`)

// LikedByURL returns the liked-by listing for a post.
func LikedByURL(postLink string, limit int) string {
	return fmt.Sprintf("%s/liked_by_profile?limit=%d", strings.TrimSuffix(postLink, "/"), limit)
}

// ExtractCIDs pulls the numeric account ids out of user resource links,
// preserving order and dropping duplicates.
func ExtractCIDs(items []string) []string {
	seen := make(map[string]bool, len(items))
	var cids []string
	for _, it := range items {
		m := cidPattern.FindStringSubmatch(it)
		if m == nil || seen[m[1]] {
			continue
		}
		seen[m[1]] = true
		cids = append(cids, m[1])
	}
	return cids
}

// BuildUserURLs packs cids into user lookup URLs of at most perURL ids each.
func BuildUserURLs(base string, cids []string, perURL int) []string {
	if perURL <= 0 {
		perURL = MaxUsersPerRequest
	}
	base = strings.TrimSuffix(base, "/")
	var urls []string
	for start := 0; start < len(cids); start += perURL {
		end := min(start+perURL, len(cids))
		refs := make([]string, 0, end-start)
		for _, cid := range cids[start:end] {
			refs = append(refs, base+"/user/user-"+cid)
		}
		urls = append(urls, base+"/user?id="+strings.Join(refs, ","))
	}
	return urls
}

// User is the subset of a user record the candidate filter reads. Pointer
// fields are nil when the record omits them.
type User struct {
	Key        string
	LegacyCID  *int64
	Registered *int64
	VIP        *bool
	AP         *bool
	AgeVerif   *bool
	Gender     *string
	Spouse     *string
}

// CID returns the account id as a string.
func (u User) CID() string {
	if u.LegacyCID == nil {
		return ""
	}
	return strconv.FormatInt(*u.LegacyCID, 10)
}

type denormalized struct {
	Denormalized map[string]record `json:"denormalized"`
}

type record struct {
	Data struct {
		Items      []string `json:"items"`
		LegacyCID  *int64   `json:"legacy_cid"`
		Registered *int64   `json:"registered"`
		IsVIP      *bool    `json:"is_vip"`
		IsAP       *bool    `json:"is_ap"`
		AgeVerif   *bool    `json:"is_ageverified"`
		Gender     *string  `json:"gender"`
	} `json:"data"`
	Relations struct {
		Spouse *string `json:"spouse"`
	} `json:"relations"`
}

// UserAPI reads liked-by listings and user records.
type UserAPI struct {
	rest   *resty.Client
	base   string
	logger zerolog.Logger
}

// NewUserAPI creates a client for the user API rooted at base.
func NewUserAPI(base string, logger zerolog.Logger) *UserAPI {
	if base == "" {
		base = DefaultUserAPI
	}
	rest := resty.New().
		SetTimeout(20*time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(time.Second).
		SetRetryMaxWaitTime(5*time.Second).
		SetHeader("Accept", "application/json")
	rest.AddRetryCondition(func(r *resty.Response, err error) bool {
		if err != nil {
			return true
		}
		return r.StatusCode() == http.StatusTooManyRequests || r.StatusCode() >= 500
	})
	return &UserAPI{
		rest:   rest,
		base:   strings.TrimSuffix(base, "/"),
		logger: logger.With().Str("component", "user_api").Logger(),
	}
}

// Base returns the API root.
func (a *UserAPI) Base() string { return a.base }

func (a *UserAPI) get(ctx context.Context, url string) (map[string]record, error) {
	var out denormalized
	resp, err := a.rest.R().SetContext(ctx).SetResult(&out).Get(url)
	if err != nil {
		return nil, fmt.Errorf("user api: %w", err)
	}
	if resp.IsError() {
		return nil, perrors.NewAPIError("user_api", resp.StatusCode(), resp.String())
	}
	return out.Denormalized, nil
}

// Likers returns the account ids that liked the post at postLink.
func (a *UserAPI) Likers(ctx context.Context, postLink string, limit int) ([]string, error) {
	url := LikedByURL(postLink, limit)
	den, err := a.get(ctx, url)
	if err != nil {
		return nil, err
	}
	entry, ok := den[url]
	if !ok {
		return nil, fmt.Errorf("liked-by listing for %s missing from response", postLink)
	}
	return ExtractCIDs(entry.Data.Items), nil
}

// Users fetches the user records for cids, batching requests.
func (a *UserAPI) Users(ctx context.Context, cids []string) ([]User, error) {
	var users []User
	for _, url := range BuildUserURLs(a.base, cids, MaxUsersPerRequest) {
		den, err := a.get(ctx, url)
		if err != nil {
			return users, err
		}
		keys := make([]string, 0, len(den))
		for key := range den {
			if strings.Contains(key, "/user/user-") {
				keys = append(keys, key)
			}
		}
		sort.Strings(keys)
		for _, key := range keys {
			e := den[key]
			users = append(users, User{
				Key:        key,
				LegacyCID:  e.Data.LegacyCID,
				Registered: e.Data.Registered,
				VIP:        e.Data.IsVIP,
				AP:         e.Data.IsAP,
				AgeVerif:   e.Data.AgeVerif,
				Gender:     e.Data.Gender,
				Spouse:     e.Relations.Spouse,
			})
		}
		a.logger.Debug().Int("records", len(den)).Msg("user batch fetched")
	}
	return users, nil
}

// Filter returns the ids of users that pass the feed filters, in input order.
func Filter(users []User, f FeedSettings, now time.Time) []string {
	var out []string
	for _, u := range users {
		if u.LegacyCID == nil {
			continue
		}
		if f.OlderThanDays > 0 {
			if u.Registered == nil || now.Sub(time.Unix(*u.Registered, 0)) < f.OlderThan() {
				continue
			}
		}
		if f.UserHasVIP && !isTrue(u.VIP) {
			continue
		}
		if f.UserHasAP && !isTrue(u.AP) {
			continue
		}
		if f.UserHasAgeVerification && !isTrue(u.AgeVerif) {
			continue
		}
		// Marriage filter keeps only accounts with an empty spouse relation.
		if f.UserHasMarriage && (u.Spouse == nil || *u.Spouse != "") {
			continue
		}
		if !genderMatches(f.UserGenderMode, u.Gender) {
			continue
		}
		out = append(out, u.CID())
	}
	return out
}

func isTrue(b *bool) bool { return b != nil && *b }

func genderMatches(mode int, g *string) bool {
	switch mode {
	case GenderMale:
		return g != nil && *g == "m"
	case GenderFemale:
		return g != nil && *g == "f"
	case GenderAnySet:
		return g != nil && *g != ""
	default:
		return true
	}
}
