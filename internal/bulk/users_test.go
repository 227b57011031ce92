package bulk

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractCIDs(t *testing.T) {
	items := []string{
		"https://api.example.test/user/user-101",
		"https://api.example.test/user/user-202",
		"https://api.example.test/profile/profile-user-101",
		"https://api.example.test/room/room-9",
	}
	assert.Equal(t, []string{"101", "202"}, ExtractCIDs(items))
}

func TestBuildUserURLs(t *testing.T) {
	cids := make([]string, 0, 205)
	for i := 0; i < 205; i++ {
		cids = append(cids, "7")
	}
	urls := BuildUserURLs("https://api.example.test/", cids, 100)
	require.Len(t, urls, 3)
	assert.True(t, strings.HasPrefix(urls[0], "https://api.example.test/user?id=https://api.example.test/user/user-7,"))
	assert.Equal(t, 100, strings.Count(urls[0], "user-7"))
	assert.Equal(t, 5, strings.Count(urls[2], "user-7"))

	assert.Empty(t, BuildUserURLs("https://api.example.test", nil, 100))
	assert.Equal(t,
		[]string{"https://api.example.test/user?id=https://api.example.test/user/user-1,https://api.example.test/user/user-2"},
		BuildUserURLs("https://api.example.test", []string{"1", "2"}, 0))
}

func TestLikedByURL(t *testing.T) {
	assert.Equal(t, "https://api.example.test/feed_element/5/liked_by_profile?limit=40",
		LikedByURL("https://api.example.test/feed_element/5/", 40))
}

func ptr[T any](v T) *T { return &v }

func TestFilter(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	old := now.Add(-90 * 24 * time.Hour).Unix()
	young := now.Add(-2 * 24 * time.Hour).Unix()

	users := []User{
		{LegacyCID: ptr(int64(1)), Registered: ptr(old), VIP: ptr(true), AP: ptr(true), AgeVerif: ptr(true), Gender: ptr("f"), Spouse: ptr("")},
		{LegacyCID: ptr(int64(2)), Registered: ptr(young), VIP: ptr(true), Gender: ptr("f"), Spouse: ptr("")},
		{LegacyCID: ptr(int64(3)), Registered: ptr(old), VIP: ptr(false), Gender: ptr("f"), Spouse: ptr("")},
		{LegacyCID: ptr(int64(4)), Registered: ptr(old), VIP: ptr(true), Gender: ptr("m"), Spouse: ptr("")},
		{LegacyCID: ptr(int64(5)), Registered: ptr(old), VIP: ptr(true), Gender: ptr("f"), Spouse: ptr("https://api.example.test/user/user-9")},
		{Registered: ptr(old), VIP: ptr(true), Gender: ptr("f"), Spouse: ptr("")},
		{LegacyCID: ptr(int64(7)), VIP: ptr(true), Gender: ptr("f"), Spouse: ptr("")},
	}

	f := FeedSettings{OlderThanDays: 30, UserHasVIP: true, UserHasMarriage: true, UserGenderMode: GenderFemale}
	assert.Equal(t, []string{"1"}, Filter(users, f, now))

	f = FeedSettings{UserGenderMode: -1}
	assert.Equal(t, []string{"1", "2", "3", "4", "5", "7"}, Filter(users, f, now))

	f = FeedSettings{UserGenderMode: GenderMale}
	assert.Equal(t, []string{"4"}, Filter(users, f, now))

	f = FeedSettings{UserGenderMode: GenderAnySet, UserHasAP: true, UserHasAgeVerification: true}
	assert.Equal(t, []string{"1"}, Filter(users, f, now))
}

func TestUserAPI_LikersAndUsers(t *testing.T) {
	var srvURL string
	var userCalls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/liked_by_profile"):
			key := srvURL + r.URL.RequestURI()
			_ = json.NewEncoder(w).Encode(map[string]any{
				"denormalized": map[string]any{
					key: map[string]any{"data": map[string]any{"items": []string{
						srvURL + "/user/user-11", srvURL + "/user/user-22",
					}}},
				},
			})
		case r.URL.Path == "/user":
			userCalls.Add(1)
			assert.Contains(t, r.URL.Query().Get("id"), srvURL+"/user/user-11")
			_ = json.NewEncoder(w).Encode(map[string]any{
				"denormalized": map[string]any{
					srvURL + "/user/user-22": map[string]any{
						"data":      map[string]any{"legacy_cid": 22, "registered": 1000, "gender": "m"},
						"relations": map[string]any{"spouse": ""},
					},
					srvURL + "/user/user-11": map[string]any{
						"data": map[string]any{"legacy_cid": 11, "is_vip": true},
					},
					srvURL + "/profile/profile-user-11": map[string]any{"data": map[string]any{}},
				},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()
	srvURL = srv.URL

	api := NewUserAPI(srv.URL, zerolog.Nop())
	cids, err := api.Likers(context.Background(), srv.URL+"/feed_element/5", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"11", "22"}, cids)

	users, err := api.Users(context.Background(), cids)
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.EqualValues(t, 1, userCalls.Load())
	assert.Equal(t, "11", users[0].CID())
	assert.True(t, isTrue(users[0].VIP))
	assert.Nil(t, users[0].Spouse)
	assert.Equal(t, "22", users[1].CID())
	require.NotNil(t, users[1].Spouse)
	assert.Equal(t, "", *users[1].Spouse)
	assert.EqualValues(t, 1000, *users[1].Registered)
}

func TestUserAPI_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	api := NewUserAPI(srv.URL, zerolog.Nop())
	_, err := api.Likers(context.Background(), srv.URL+"/feed_element/5", 3)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
}
