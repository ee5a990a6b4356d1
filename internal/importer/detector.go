package importer

import (
	"bytes"
	"mime"
	"net/url"
	"strings"

	"golang.org/x/net/html"
)

// FeedKind はフィードの種類（RSS/Atom）を表す。
type FeedKind string

const (
	// FeedKindRSS はRSSフィード。
	FeedKindRSS FeedKind = "rss"
	// FeedKindAtom はAtomフィード。
	FeedKindAtom FeedKind = "atom"
)

// FeedLink はクラブページから検出されたイベントフィード候補。
type FeedLink struct {
	URL   string
	Kind  FeedKind
	Title string
}

var feedMediaTypes = []string{
	"application/rss+xml",
	"application/atom+xml",
}

// genericXMLMediaTypes はボディを見ないとフィードか判断できないメディアタイプ。
var genericXMLMediaTypes = []string{
	"text/xml",
	"application/xml",
}

// mediaTypeOf はContent-Typeからパラメータを除いた小文字のメディアタイプを返す。
func mediaTypeOf(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.TrimSpace(strings.Split(contentType, ";")[0])
	}
	return strings.ToLower(mediaType)
}

// IsFeedResponse はContent-Typeとボディからフィードかどうかを判定する。
func IsFeedResponse(contentType string, body []byte) bool {
	mediaType := mediaTypeOf(contentType)

	for _, t := range feedMediaTypes {
		if mediaType == t {
			return true
		}
	}

	generic := false
	for _, t := range genericXMLMediaTypes {
		if mediaType == t {
			generic = true
			break
		}
	}
	if !generic || len(body) == 0 {
		return false
	}
	return looksLikeFeed(body)
}

// looksLikeFeed は先頭4KBのルート要素からRSS/Atomかを判定する。
func looksLikeFeed(body []byte) bool {
	n := 4096
	if len(body) < n {
		n = len(body)
	}
	prefix := strings.ToLower(string(body[:n]))

	if strings.Contains(prefix, "<rss") || strings.Contains(prefix, "<rdf:rdf") {
		return true
	}
	return strings.Contains(prefix, "<feed") && strings.Contains(prefix, "http://www.w3.org/2005/atom")
}

// FindFeedLinks はHTMLのheadから rel="alternate" のRSS/Atomリンクを抽出する。
// 相対URLはbaseURLで解決する。
func FindFeedLinks(body []byte, baseURL string) []FeedLink {
	var links []FeedLink

	base, err := url.Parse(baseURL)
	if err != nil {
		return links
	}

	z := html.NewTokenizer(bytes.NewReader(body))
	inHead := false

	for {
		switch z.Next() {
		case html.ErrorToken:
			return links

		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			switch string(name) {
			case "head":
				inHead = true
				continue
			case "body":
				return links
			case "link":
			default:
				continue
			}
			if !inHead || !hasAttr {
				continue
			}

			var rel, typ, href, title string
			for {
				key, val, more := z.TagAttr()
				switch strings.ToLower(string(key)) {
				case "rel":
					rel = strings.ToLower(string(val))
				case "type":
					typ = strings.ToLower(string(val))
				case "href":
					href = string(val)
				case "title":
					title = string(val)
				}
				if !more {
					break
				}
			}
			if rel != "alternate" || href == "" {
				continue
			}

			var kind FeedKind
			switch typ {
			case "application/rss+xml":
				kind = FeedKindRSS
			case "application/atom+xml":
				kind = FeedKindAtom
			default:
				continue
			}

			ref, err := url.Parse(href)
			if err != nil {
				continue
			}
			links = append(links, FeedLink{
				URL:   base.ResolveReference(ref).String(),
				Kind:  kind,
				Title: title,
			})

		case html.EndTagToken:
			if name, _ := z.TagName(); string(name) == "head" {
				return links
			}
		}
	}
}

// PickFeed は候補から1つを選ぶ。
// 優先順位: 同一ホスト > Atom > 先頭
func PickFeed(links []FeedLink, pageURL string) *FeedLink {
	if len(links) == 0 {
		return nil
	}

	pageHost := hostOf(pageURL)
	best, bestScore := 0, -1
	for i, l := range links {
		score := 0
		if hostOf(l.URL) == pageHost {
			score += 100
		}
		if l.Kind == FeedKindAtom {
			score += 10
		}
		if score > bestScore {
			best, bestScore = i, score
		}
	}
	return &links[best]
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
