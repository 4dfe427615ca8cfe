package extract

import (
	"io"
	"slices"
	"strings"

	"golang.org/x/net/html"
)

var challengeMarkers = []string{
	"verify you are not a robot",
	"prove you are human",
	"sign up to continue",
	"captcha",
	"recaptcha",
}

// DetectChallenge reports whether the page shows a human verification or
// signup wall. Markers are matched case insensitively in text, comments and
// attribute values. An element with id "recaptcha" or class "g-recaptcha"
// is a challenge as well.
func DetectChallenge(page string) bool {
	z := html.NewTokenizer(strings.NewReader(page))
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			// io.EOF or a broken document. Either way we're done.
			if z.Err() != io.EOF {
				return containsMarker(page)
			}
			return false
		case html.TextToken, html.CommentToken:
			if containsMarker(string(z.Text())) {
				return true
			}
		case html.StartTagToken, html.SelfClosingTagToken:
			_, hasAttr := z.TagName()
			for hasAttr {
				var key, val []byte
				key, val, hasAttr = z.TagAttr()
				k, v := string(key), string(val)
				if k == "id" && strings.EqualFold(v, "recaptcha") {
					return true
				}
				if k == "class" && slices.Contains(strings.Fields(v), "g-recaptcha") {
					return true
				}
				if containsMarker(v) {
					return true
				}
			}
		}
	}
}

func containsMarker(s string) bool {
	lower := strings.ToLower(s)
	for _, m := range challengeMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}
