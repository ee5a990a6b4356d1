package importer

import "testing"

func TestIsFeedResponse(t *testing.T) {
	rss := []byte(`<?xml version="1.0"?><rss version="2.0"><channel><title>Clubs</title></channel></rss>`)
	atom := []byte(`<?xml version="1.0"?><feed xmlns="http://www.w3.org/2005/Atom"><title>Clubs</title></feed>`)
	page := []byte(`<?xml version="1.0"?><html><head><title>Clubs</title></head></html>`)

	tests := []struct {
		name        string
		contentType string
		body        []byte
		want        bool
	}{
		{"RSSのContent-Type", "application/rss+xml", nil, true},
		{"AtomのContent-Type", "application/atom+xml", nil, true},
		{"charset付き", "application/rss+xml; charset=utf-8", nil, true},
		{"text/xml + RSSボディ", "text/xml", rss, true},
		{"application/xml + Atomボディ", "application/xml", atom, true},
		{"text/xml + HTMLボディ", "text/xml", page, false},
		{"text/xml + 空ボディ", "text/xml", nil, false},
		{"text/html", "text/html", rss, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsFeedResponse(tt.contentType, tt.body); got != tt.want {
				t.Errorf("IsFeedResponse(%q) = %v, want %v", tt.contentType, got, tt.want)
			}
		})
	}
}

func TestFindFeedLinks(t *testing.T) {
	page := []byte(`<html><head>
<link rel="stylesheet" href="/style.css">
<link rel="alternate" type="application/rss+xml" title="Events" href="/events.rss">
<link rel="alternate" type="application/atom+xml" href="https://other.example.org/atom.xml">
<link rel="alternate" type="text/html" href="/en">
</head><body>
<link rel="alternate" type="application/rss+xml" href="/ignored.rss">
</body></html>`)

	links := FindFeedLinks(page, "https://chess.example.edu/club/")
	if len(links) != 2 {
		t.Fatalf("expected 2 links, got %d: %+v", len(links), links)
	}
	if links[0].URL != "https://chess.example.edu/events.rss" || links[0].Kind != FeedKindRSS || links[0].Title != "Events" {
		t.Errorf("unexpected first link: %+v", links[0])
	}
	if links[1].Kind != FeedKindAtom {
		t.Errorf("unexpected second link: %+v", links[1])
	}
}

func TestFindFeedLinks_None(t *testing.T) {
	links := FindFeedLinks([]byte(`<html><head><title>x</title></head></html>`), "https://example.edu/")
	if len(links) != 0 {
		t.Errorf("expected no links, got %+v", links)
	}
}

func TestPickFeed(t *testing.T) {
	tests := []struct {
		name  string
		links []FeedLink
		page  string
		want  string
	}{
		{
			name: "同一ホストを優先",
			links: []FeedLink{
				{URL: "https://cdn.example.org/atom.xml", Kind: FeedKindAtom},
				{URL: "https://chess.example.edu/events.rss", Kind: FeedKindRSS},
			},
			page: "https://chess.example.edu/",
			want: "https://chess.example.edu/events.rss",
		},
		{
			name: "同条件ならAtomを優先",
			links: []FeedLink{
				{URL: "https://chess.example.edu/events.rss", Kind: FeedKindRSS},
				{URL: "https://chess.example.edu/events.atom", Kind: FeedKindAtom},
			},
			page: "https://chess.example.edu/",
			want: "https://chess.example.edu/events.atom",
		},
		{
			name: "完全に同条件なら先頭",
			links: []FeedLink{
				{URL: "https://chess.example.edu/a.rss", Kind: FeedKindRSS},
				{URL: "https://chess.example.edu/b.rss", Kind: FeedKindRSS},
			},
			page: "https://chess.example.edu/",
			want: "https://chess.example.edu/a.rss",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := PickFeed(tt.links, tt.page)
			if got == nil || got.URL != tt.want {
				t.Errorf("PickFeed() = %+v, want %s", got, tt.want)
			}
		})
	}

	if PickFeed(nil, "https://example.edu/") != nil {
		t.Error("expected nil for empty candidates")
	}
}
