package browser

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQuery(t *testing.T) {
	tests := []struct {
		name  string
		loc   Locator
		sel   string
		xpath bool
	}{
		{"name", Name("avatarname"), `[name="avatarname"]`, false},
		{"id", ID("onetrust-accept-btn-handler"), `[id="onetrust-accept-btn-handler"]`, false},
		{"class", Class("chat-log  message"), ".chat-log.message", false},
		{"css", CSS("li p, div[role='listitem'] span"), "li p, div[role='listitem'] span", false},
		{"xpath", XPath("//input | //textarea"), "//input | //textarea", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sel, isX := query(tt.loc)
			assert.Equal(t, tt.sel, sel)
			assert.Equal(t, tt.xpath, isX)
		})
	}
}

func TestTextXPath(t *testing.T) {
	got := textXPath(Text("button", "Join", "ENTRAR"))
	assert.Equal(t,
		"//button[contains(translate(normalize-space(.), 'ABCDEFGHIJKLMNOPQRSTUVWXYZ', 'abcdefghijklmnopqrstuvwxyz'), 'join')"+
			" or contains(translate(normalize-space(.), 'ABCDEFGHIJKLMNOPQRSTUVWXYZ', 'abcdefghijklmnopqrstuvwxyz'), 'entrar')]",
		got)

	assert.Equal(t, "//*", textXPath(Locator{Strategy: ByText, Value: " | "}))
}

func TestXPathLiteral(t *testing.T) {
	assert.Equal(t, "'abc'", XPathLiteral("abc"))
	assert.Equal(t, `"it's"`, XPathLiteral("it's"))
	assert.Equal(t, `concat('a', "'", 'b"c')`, XPathLiteral(`a'b"c`))
}

func TestLocatorValidate(t *testing.T) {
	assert.NoError(t, Name("password").Validate())
	assert.Error(t, Locator{Strategy: "link", Value: "x"}.Validate())
	assert.Error(t, CSS("  ").Validate())
	assert.True(t, Locator{}.IsZero())
	assert.Equal(t, "text=join|entrar<button>", Text("button", "join", "entrar").String())
}
