package types

import "time"

// MediaRef points at a piece of content that surfaced the creator.
type MediaRef struct {
	URL          string `json:"url" firestore:"url"`
	ThumbnailURL string `json:"thumbnailUrl,omitempty" firestore:"thumbnailUrl"`
	Caption      string `json:"caption,omitempty" firestore:"caption"`
}

// Creator is the platform-agnostic record produced by normalizing one provider item.
type Creator struct {
	Platform    Platform         `json:"platform" firestore:"platform"`
	Handle      string           `json:"handle" firestore:"handle"`
	DisplayName string           `json:"displayName,omitempty" firestore:"displayName"`
	Followers   int64            `json:"followers" firestore:"followers"`
	ProfileURL  string           `json:"profileUrl,omitempty" firestore:"profileUrl"`
	AvatarURL   string           `json:"avatarUrl,omitempty" firestore:"avatarUrl"`
	Media       []MediaRef       `json:"media,omitempty" firestore:"media"`
	Stats       map[string]int64 `json:"stats,omitempty" firestore:"stats"`
	Source      string           `json:"source" firestore:"source"`
}

// ResultBatch is the immutable set of creators produced by one adapter invocation.
type ResultBatch struct {
	ID        string    `json:"id" firestore:"id"`
	JobID     string    `json:"jobId" firestore:"jobId"`
	RunNumber int       `json:"runNumber" firestore:"runNumber"`
	Provider  string    `json:"provider" firestore:"provider"`
	Creators  []Creator `json:"creators" firestore:"creators"`
	CreatedAt time.Time `json:"createdAt" firestore:"createdAt"`
}

// Len returns the number of creators in the batch
func (b *ResultBatch) Len() int {
	if b == nil {
		return 0
	}
	return len(b.Creators)
}
