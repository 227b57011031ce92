package browser

import (
	"fmt"
	"strings"
)

const (
	upperAlpha = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	lowerAlpha = "abcdefghijklmnopqrstuvwxyz"
)

// textXPath renders a ByText locator as an XPath expression that lowercases
// the element text before a contains() test per alternative.
func textXPath(l Locator) string {
	tag := l.Tag
	if tag == "" {
		tag = "*"
	}
	var conds []string
	for _, alt := range strings.Split(l.Value, "|") {
		alt = strings.ToLower(strings.TrimSpace(alt))
		if alt == "" {
			continue
		}
		conds = append(conds, fmt.Sprintf("contains(translate(normalize-space(.), '%s', '%s'), %s)",
			upperAlpha, lowerAlpha, XPathLiteral(alt)))
	}
	if len(conds) == 0 {
		return "//" + tag
	}
	return fmt.Sprintf("//%s[%s]", tag, strings.Join(conds, " or "))
}

// XPathLiteral quotes s for use inside an XPath expression.
func XPathLiteral(s string) string {
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	parts := strings.Split(s, "'")
	quoted := make([]string, len(parts))
	for i, p := range parts {
		quoted[i] = "'" + p + "'"
	}
	return "concat(" + strings.Join(quoted, `, "'", `) + ")"
}

// cssAttr quotes an attribute selector value.
func cssAttr(name, value string) string {
	v := strings.ReplaceAll(value, `\`, `\\`)
	v = strings.ReplaceAll(v, `"`, `\"`)
	return fmt.Sprintf(`[%s="%s"]`, name, v)
}

// query converts a locator to a selector string and reports whether it is XPath.
func query(l Locator) (sel string, xpath bool) {
	switch l.Strategy {
	case ByName:
		return cssAttr("name", l.Value), false
	case ByID:
		return cssAttr("id", l.Value), false
	case ByClass:
		return "." + strings.Join(strings.Fields(l.Value), "."), false
	case ByXPath:
		return l.Value, true
	case ByText:
		return textXPath(l), true
	default:
		return l.Value, false
	}
}
