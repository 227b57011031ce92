package bulk

import (
	"fmt"

	"github.com/p-blackswan/roombot/internal/browser"
)

// Site pages the runner visits.
const (
	FeedURL      = "https://secure.imvu.com/next/feed/explore/"
	FollowingURL = "https://secure.imvu.com/next/friends/following/"
	ProfileURL   = "https://secure.imvu.com/next/av/user-"
	ClassicURL   = "https://secure.imvu.com/switch_to/classic/"
	LogoutURL    = "https://www.imvu.com/catalog/logoff.php"
)

// Locators are the bulk runner's page elements.
type Locators struct {
	Root              browser.Locator `yaml:"root"`
	Portrait          browser.Locator `yaml:"portrait"`
	OnlineStatusBox   browser.Locator `yaml:"online_status_box"`
	OnlineStatusLabel browser.Locator `yaml:"online_status_label"`

	FeedItem browser.Locator `yaml:"feed_item"`

	MoreActions     browser.Locator `yaml:"more_actions"`
	AddFriendItem   browser.Locator `yaml:"add_friend_item"`
	FollowContainer browser.Locator `yaml:"follow_container"`
	FollowButton    browser.Locator `yaml:"follow_button"`

	FollowingItem   browser.Locator `yaml:"following_item"`
	DialogConfirm   browser.Locator `yaml:"dialog_confirm"`
	DialogDismiss   browser.Locator `yaml:"dialog_dismiss"`
	ProfileMore     browser.Locator `yaml:"profile_more"`
	UnfriendItem    browser.Locator `yaml:"unfriend_item"`
	BackToFollowing browser.Locator `yaml:"back_to_following"`
}

// DefaultLocators returns the locators for the current site layout.
func DefaultLocators() Locators {
	return Locators{
		Root:              browser.CSS("html"),
		Portrait:          browser.Class("is-portrait"),
		OnlineStatusBox:   browser.ID("profile-checkbox-show-online-status"),
		OnlineStatusLabel: browser.XPath(`//*[@id="imvu"]/nav/div[2]/div/div/div[1]/ul[1]/li[3]/label`),

		FeedItem: browser.Class("feed-item"),

		MoreActions:     browser.Class("icon-action_more_new"),
		AddFriendItem:   browser.XPath(`/html/body/section/ul/li[2]`),
		FollowContainer: browser.Class("follow-container"),
		FollowButton:    browser.CSS(".follow-container .follow-button.btn-simple"),

		FollowingItem:   browser.Class("profile-list-item"),
		DialogConfirm:   browser.XPath(`(//*[contains(concat(' ', normalize-space(@class), ' '), ' dialog-footer ')]//button)[2]`),
		DialogDismiss:   browser.XPath(`(//*[contains(concat(' ', normalize-space(@class), ' '), ' dialog-footer ')]//button)[1]`),
		ProfileMore:     browser.CSS(".action-more-container button"),
		UnfriendItem:    browser.CSS(".context-menu li:nth-of-type(2)"),
		BackToFollowing: browser.XPath(`//*[@id="imvu"]/section[2]/div/div[2]/div/a[1]`),
	}
}

// entryXPath selects the following-list entry showing name.
func entryXPath(name string) string {
	return fmt.Sprintf(`//*[contains(concat(' ', normalize-space(@class), ' '), ' profile-list-item ')]`+
		`[.//*[contains(concat(' ', normalize-space(@class), ' '), ' at-avatar-name-text ') and normalize-space(.)=%s]]`,
		browser.XPathLiteral(name))
}

// UnfollowButton locates the following toggle inside name's entry.
func UnfollowButton(name string) browser.Locator {
	return browser.XPath(entryXPath(name) + `//*[contains(concat(' ', normalize-space(@class), ' '), ' following-txt ')]`)
}

// EntryAvatar locates the profile link inside name's entry.
func EntryAvatar(name string) browser.Locator {
	return browser.XPath(entryXPath(name) + `//dual-name-icon`)
}
