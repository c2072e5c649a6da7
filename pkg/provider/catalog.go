package provider

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/creatorscout/searchjobs/pkg/types"
)

// Adapter names known to the router.
const (
	TikTokKeyword         = "tiktok_keyword"
	YouTubeKeyword        = "youtube_keyword"
	YouTubeSimilar        = "youtube_similar"
	InstagramSimilar      = "instagram_similar"
	InstagramKeyword      = "instagram_keyword"
	InstagramKeywordApify = "instagram_keyword_apify"
	InstagramReelsV2      = "instagram_reels_v2"
	GoogleSERP            = "google_serp"
)

// Provider families, one Client each.
const (
	FamilyScrapeCreators = "scrapecreators"
	FamilyApify          = "apify"
	FamilySerpAPI        = "serpapi"
)

func query(req Request) string {
	parts := make([]string, 0, len(req.Keywords))
	for _, k := range req.Keywords {
		if k = strings.TrimSpace(k); k != "" {
			parts = append(parts, k)
		}
	}
	return strings.Join(parts, " ")
}

func withCursor(v url.Values, name, cursor string) url.Values {
	if cursor != "" {
		v.Set(name, cursor)
	}
	return v
}

// Definitions returns the built-in adapter catalog keyed by provider family.
func Definitions() map[string][]Definition {
	return map[string][]Definition{
		FamilyScrapeCreators: {
			{
				Name:     TikTokKeyword,
				Platform: types.PlatformTikTok,
				Path:     "/v1/tiktok/search/keyword",
				PageSize: 30,
				Params: func(req Request) url.Values {
					return withCursor(url.Values{"query": {query(req)}}, "cursor", req.Cursor)
				},
				Items:      "search_item_list",
				NextCursor: "cursor",
				HasMore:    "has_more",
				Fields: FieldMap{
					Handle:           "aweme_info.author.unique_id",
					DisplayName:      "aweme_info.author.nickname",
					Followers:        "aweme_info.author.follower_count",
					ProfileURLFormat: "https://www.tiktok.com/@%s",
					AvatarURL:        "aweme_info.author.avatar_medium.url_list.0",
					MediaURL:         "aweme_info.share_url",
					MediaThumbnail:   "aweme_info.video.cover.url_list.0",
					MediaCaption:     "aweme_info.desc",
					Stats: map[string]string{
						"plays":    "aweme_info.statistics.play_count",
						"likes":    "aweme_info.statistics.digg_count",
						"comments": "aweme_info.statistics.comment_count",
						"shares":   "aweme_info.statistics.share_count",
					},
				},
			},
			{
				Name:     YouTubeKeyword,
				Platform: types.PlatformYouTube,
				Path:     "/v1/youtube/search",
				PageSize: 20,
				Params: func(req Request) url.Values {
					return withCursor(url.Values{"query": {query(req)}}, "continuationToken", req.Cursor)
				},
				Items:      "videos",
				NextCursor: "continuationToken",
				Fields: FieldMap{
					Handle:           "channel.handle",
					DisplayName:      "channel.title",
					Followers:        "channel.subscriberCount",
					ProfileURLFormat: "https://www.youtube.com/@%s",
					AvatarURL:        "channel.thumbnail",
					MediaURL:         "url",
					MediaThumbnail:   "thumbnail",
					MediaCaption:     "title",
					Stats: map[string]string{
						"views": "viewCountInt",
					},
				},
			},
			{
				Name:     YouTubeSimilar,
				Platform: types.PlatformYouTube,
				Path:     "/v1/youtube/channel/related",
				PageSize: 25,
				Params: func(req Request) url.Values {
					return url.Values{
						"handle": {strings.TrimPrefix(req.TargetUsername, "@")},
						"offset": {cursorOrZero(req.Cursor)},
						"limit":  {strconv.Itoa(req.Amount)},
					}
				},
				Items:        "channels",
				OffsetPaging: true,
				Fields: FieldMap{
					Handle:           "handle",
					DisplayName:      "title",
					Followers:        "subscriberCount",
					ProfileURLFormat: "https://www.youtube.com/@%s",
					AvatarURL:        "avatar",
					Stats: map[string]string{
						"videos": "videoCount",
						"views":  "viewCount",
					},
				},
				BackoffStatuses: []int{http.StatusNotFound},
			},
			{
				Name:     InstagramSimilar,
				Platform: types.PlatformInstagram,
				Path:     "/v1/instagram/profile/related",
				PageSize: 80,
				Params: func(req Request) url.Values {
					return url.Values{"handle": {strings.TrimPrefix(req.TargetUsername, "@")}}
				},
				Items: "data.user.edge_related_profiles.edges",
				Fields: FieldMap{
					Handle:           "node.username",
					DisplayName:      "node.full_name",
					Followers:        "node.edge_followed_by.count",
					ProfileURLFormat: "https://www.instagram.com/%s/",
					AvatarURL:        "node.profile_pic_url",
				},
			},
			{
				Name:     InstagramKeyword,
				Platform: types.PlatformInstagram,
				Path:     "/v1/instagram/reels/search",
				PageSize: 40,
				Params: func(req Request) url.Values {
					return url.Values{
						"query": {query(req)},
						"page":  {cursorOrZero(req.Cursor)},
					}
				},
				Items:      "reels",
				NextCursor: "next_page",
				HasMore:    "more_available",
				Fields: FieldMap{
					Handle:           "owner.username",
					DisplayName:      "owner.full_name",
					Followers:        "owner.follower_count",
					ProfileURLFormat: "https://www.instagram.com/%s/",
					AvatarURL:        "owner.profile_pic_url",
					MediaURL:         "url",
					MediaThumbnail:   "thumbnail_src",
					MediaCaption:     "caption",
					Stats: map[string]string{
						"plays":    "video_play_count",
						"likes":    "like_count",
						"comments": "comment_count",
					},
				},
				BackoffStatuses: []int{http.StatusNotFound},
			},
			{
				Name:     InstagramReelsV2,
				Platform: types.PlatformInstagram,
				Path:     "/v2/instagram/reels/search",
				PageSize: 50,
				Params: func(req Request) url.Values {
					return withCursor(url.Values{"query": {query(req)}}, "cursor", req.Cursor)
				},
				Items:      "items",
				NextCursor: "paging.next_cursor",
				HasMore:    "paging.has_next",
				Fields: FieldMap{
					Handle:           "user.username",
					DisplayName:      "user.full_name",
					Followers:        "user.followers",
					ProfileURLFormat: "https://www.instagram.com/%s/",
					AvatarURL:        "user.avatar",
					MediaURL:         "permalink",
					MediaThumbnail:   "thumbnail",
					MediaCaption:     "caption.text",
					Stats: map[string]string{
						"plays":    "metrics.plays",
						"likes":    "metrics.likes",
						"comments": "metrics.comments",
					},
				},
			},
		},
		FamilyApify: {
			{
				Name:     InstagramKeywordApify,
				Platform: types.PlatformInstagram,
				Method:   http.MethodPost,
				Path:     "/v2/acts/apify~instagram-hashtag-scraper/run-sync-get-dataset-items",
				PageSize: 100,
				Body: func(req Request) any {
					tags := make([]string, 0, len(req.Keywords))
					for _, k := range req.Keywords {
						if k = strings.TrimSpace(strings.TrimPrefix(k, "#")); k != "" {
							tags = append(tags, strings.ReplaceAll(k, " ", ""))
						}
					}
					return map[string]any{
						"hashtags":     tags,
						"resultsType":  "reels",
						"resultsLimit": req.Amount,
					}
				},
				Items: "@this",
				Fields: FieldMap{
					Handle:           "ownerUsername",
					DisplayName:      "ownerFullName",
					ProfileURLFormat: "https://www.instagram.com/%s/",
					MediaURL:         "url",
					MediaThumbnail:   "displayUrl",
					MediaCaption:     "caption",
					Stats: map[string]string{
						"plays":    "videoPlayCount",
						"likes":    "likesCount",
						"comments": "commentsCount",
					},
				},
			},
		},
		FamilySerpAPI: {
			{
				Name:     GoogleSERP,
				Platform: types.PlatformGoogleSERP,
				Path:     "/search.json",
				PageSize: 10,
				Params: func(req Request) url.Values {
					return url.Values{
						"engine": {"google"},
						"q":      {query(req)},
						"start":  {cursorOrZero(req.Cursor)},
						"num":    {strconv.Itoa(req.Amount)},
					}
				},
				Items:        "organic_results",
				OffsetPaging: true,
				Fields: FieldMap{
					Handle:        "link",
					HandleFromURL: true,
					DisplayName:   "title",
					ProfileURL:    "link",
					MediaURL:      "link",
					MediaCaption:  "snippet",
				},
			},
		},
	}
}

func cursorOrZero(cursor string) string {
	if cursor == "" {
		return "0"
	}
	return cursor
}

// FamilyOf returns the provider family that serves the named adapter.
func FamilyOf(name string) string {
	for family, defs := range Definitions() {
		for _, d := range defs {
			if d.Name == name {
				return family
			}
		}
	}
	return ""
}

// NewBuiltinRegistry registers every catalog adapter whose family has a client.
func NewBuiltinRegistry(clients map[string]*Client) *Registry {
	reg := NewRegistry()
	for family, defs := range Definitions() {
		client, ok := clients[family]
		if !ok || client == nil {
			continue
		}
		for _, def := range defs {
			reg.Register(NewHTTPAdapter(def, client))
		}
	}
	return reg
}
