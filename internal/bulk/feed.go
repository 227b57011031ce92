package bulk

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// FeedPost is one post scraped from the feed page.
type FeedPost struct {
	Link  string
	Likes int
}

var (
	likeNumber = regexp.MustCompile(`(\d+\.\d+|\d+)`)
	likeSuffix = regexp.MustCompile(`(?i)^\s*[\d.]+\s*([KM])`)
)

// ParseLikes converts a like counter such as "1.2K Likes" into a count.
func ParseLikes(text string) (int, error) {
	num := likeNumber.FindString(text)
	if num == "" {
		return 0, fmt.Errorf("no number in like counter %q", text)
	}
	f, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0, fmt.Errorf("parse like counter %q: %w", text, err)
	}
	mult := 1.0
	if m := likeSuffix.FindStringSubmatch(text); m != nil {
		switch strings.ToUpper(m[1]) {
		case "K":
			mult = 1e3
		case "M":
			mult = 1e6
		}
	}
	return int(math.Round(f * mult)), nil
}

// ParseFeed extracts every post with a link from the feed page's HTML.
// Posts whose like counter cannot be read count as zero likes.
func ParseFeed(html string) ([]FeedPost, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse feed html: %w", err)
	}
	var posts []FeedPost
	doc.Find("article.feed-item").Each(func(_ int, s *goquery.Selection) {
		link, ok := s.Attr("data-item")
		if !ok || strings.TrimSpace(link) == "" {
			return
		}
		likes, _ := ParseLikes(s.Find("footer a").First().Text())
		posts = append(posts, FeedPost{Link: strings.TrimSpace(link), Likes: likes})
	})
	return posts, nil
}

// PickPost returns the first post with at least minLikes likes.
func PickPost(posts []FeedPost, minLikes int) (FeedPost, bool) {
	for _, p := range posts {
		if p.Likes >= minLikes {
			return p, true
		}
	}
	return FeedPost{}, false
}

// FollowingCount reads the following counter from the following page.
func FollowingCount(html string) (int, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return 0, fmt.Errorf("parse following html: %w", err)
	}
	text := strings.TrimSpace(doc.Find(".following-count").First().Text())
	n, err := strconv.Atoi(strings.ReplaceAll(text, ",", ""))
	if err != nil {
		return 0, fmt.Errorf("following count %q: %w", text, err)
	}
	return n, nil
}

// FollowingNames returns the names listed on the following page in order.
func FollowingNames(html string) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse following html: %w", err)
	}
	var names []string
	doc.Find(".profile-list-item").Each(func(_ int, s *goquery.Selection) {
		name := strings.TrimSpace(s.Find(".at-avatar-name-text.is-truncated").First().Text())
		if name != "" {
			names = append(names, name)
		}
	})
	return names, nil
}

// OnlineStatusChecked reports whether the show-online-status checkbox is
// checked, and whether it was present at all.
func OnlineStatusChecked(html string) (checked, found bool, err error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return false, false, fmt.Errorf("parse profile html: %w", err)
	}
	box := doc.Find("#profile-checkbox-show-online-status").First()
	if box.Length() == 0 {
		return false, false, nil
	}
	_, checked = box.Attr("checked")
	return checked, true, nil
}
