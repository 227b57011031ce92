package session

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/p-blackswan/roombot/internal/browser"
)

// Locators holds every element lookup the controller performs. Each field
// can be overridden from a YAML file keyed by the field's yaml tag.
type Locators struct {
	CookieAccept     browser.Locator `yaml:"cookie_accept"`
	LandingLogin     browser.Locator `yaml:"landing_login"`
	Username         browser.Locator `yaml:"username"`
	UsernameFallback browser.Locator `yaml:"username_fallback"`
	Password         browser.Locator `yaml:"password"`
	Submit           browser.Locator `yaml:"submit"`

	JoinButton   browser.Locator `yaml:"join_button"`
	JoinText     browser.Locator `yaml:"join_text"`
	CloseOverlay browser.Locator `yaml:"close_overlay"`

	ChatMessages         browser.Locator `yaml:"chat_messages"`
	ChatMessagesFallback browser.Locator `yaml:"chat_messages_fallback"`
	ChatInput            browser.Locator `yaml:"chat_input"`
	ChatInputFallback    browser.Locator `yaml:"chat_input_fallback"`
}

// DefaultLocators returns the lookups that match the live site.
func DefaultLocators() Locators {
	return Locators{
		CookieAccept:     browser.ID("onetrust-accept-btn-handler"),
		LandingLogin:     browser.XPath("//*[contains(text(), 'ENTRAR') or contains(text(), 'Entrar') or contains(text(), 'Log In')]"),
		Username:         browser.Name("avatarname"),
		UsernameFallback: browser.Name("username"),
		Password:         browser.Name("password"),
		Submit:           browser.XPath(`//*[@id="imvu"]/section[2]/div/div/div/section/form/div[4]/button`),

		JoinButton:   browser.Text("button", "join", "entrar", "participar"),
		JoinText:     browser.XPath("//*[contains(text(), 'PARTICIPAR') or contains(text(), 'Participar')]"),
		CloseOverlay: browser.CSS("button[class*='close']"),

		ChatMessages:         browser.XPath("//div[contains(@class, 'chat-log')]//div[contains(@class, 'message-text')]"),
		ChatMessagesFallback: browser.CSS("li p, div[role='listitem'] span"),
		ChatInput:            browser.CSS("input[type='text'], textarea"),
		ChatInputFallback:    browser.XPath("//input | //textarea"),
	}
}

func (l Locators) all() map[string]browser.Locator {
	return map[string]browser.Locator{
		"cookie_accept":          l.CookieAccept,
		"landing_login":          l.LandingLogin,
		"username":               l.Username,
		"username_fallback":      l.UsernameFallback,
		"password":               l.Password,
		"submit":                 l.Submit,
		"join_button":            l.JoinButton,
		"join_text":              l.JoinText,
		"close_overlay":          l.CloseOverlay,
		"chat_messages":          l.ChatMessages,
		"chat_messages_fallback": l.ChatMessagesFallback,
		"chat_input":             l.ChatInput,
		"chat_input_fallback":    l.ChatInputFallback,
	}
}

// Validate checks every locator.
func (l Locators) Validate() error {
	for name, loc := range l.all() {
		if err := loc.Validate(); err != nil {
			return fmt.Errorf("locator %s: %w", name, err)
		}
	}
	return nil
}

// LoadLocators reads overrides from path on top of DefaultLocators. An
// empty path returns the defaults.
func LoadLocators(path string) (Locators, error) {
	loc := DefaultLocators()
	if path == "" {
		return loc, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return loc, fmt.Errorf("read locators %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &loc); err != nil {
		return loc, fmt.Errorf("parse locators %s: %w", path, err)
	}
	if err := loc.Validate(); err != nil {
		return loc, err
	}
	return loc, nil
}

// Timings holds every wait the controller performs.
type Timings struct {
	// Probe bounds best-effort lookups of optional controls.
	Probe time.Duration

	CookieSettle         time.Duration
	LandingSettle        time.Duration
	UsernameWait         time.Duration
	UsernameFallbackWait time.Duration
	PasswordWait         time.Duration
	LoginSettle          time.Duration
	LoginRetryWait       time.Duration
	LoginAttempts        int

	JoinSettle    time.Duration
	JoinClickWait time.Duration

	ChatWait  time.Duration
	InputWait time.Duration
	TypePause time.Duration
	Cooldown  time.Duration
}

// DefaultTimings returns the waits tuned for the live site.
func DefaultTimings() Timings {
	return Timings{
		Probe: 2 * time.Second,

		CookieSettle:         2 * time.Second,
		LandingSettle:        3 * time.Second,
		UsernameWait:         30 * time.Second,
		UsernameFallbackWait: 10 * time.Second,
		PasswordWait:         30 * time.Second,
		LoginSettle:          10 * time.Second,
		LoginRetryWait:       5 * time.Second,
		LoginAttempts:        3,

		JoinSettle:    15 * time.Second,
		JoinClickWait: 10 * time.Second,

		ChatWait:  2 * time.Second,
		InputWait: 5 * time.Second,
		TypePause: 500 * time.Millisecond,
		Cooldown:  5 * time.Second,
	}
}
