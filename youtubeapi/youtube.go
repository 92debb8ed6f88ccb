// Package youtubeapi publishes Shorts through the YouTube Data API v3.
package youtubeapi

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"google.golang.org/api/option"
	yt "google.golang.org/api/youtube/v3"

	"github.com/onnwee/shorts-tender/publish"
)

// Publisher uploads videos to the authorized channel. It satisfies publish.Target.
type Publisher struct {
	svc *yt.Service
}

// New builds a publisher from an authorized HTTP client.
func New(ctx context.Context, client *http.Client, opts ...option.ClientOption) (*Publisher, error) {
	svc, err := yt.NewService(ctx, append([]option.ClientOption{option.WithHTTPClient(client)}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("youtube service: %w", err)
	}
	return &Publisher{svc: svc}, nil
}

// Publish uploads media with v's snippet and status and returns the new video id.
// An accepted upload without an id is reported as publish.ErrEmptyID.
func (p *Publisher) Publish(ctx context.Context, media io.Reader, v publish.Video) (string, error) {
	privacy := v.Privacy
	if privacy == "" {
		privacy = "private"
	}
	status := &yt.VideoStatus{
		PrivacyStatus:           privacy,
		SelfDeclaredMadeForKids: false,
		ForceSendFields:         []string{"SelfDeclaredMadeForKids"},
	}
	if !v.PublishAt.IsZero() && privacy == "private" {
		status.PublishAt = v.PublishAt.UTC().Format(time.RFC3339)
	}
	video := &yt.Video{
		Snippet: &yt.VideoSnippet{
			Title:       v.Title,
			Description: v.Description,
			Tags:        v.Tags,
			CategoryId:  v.CategoryID,
		},
		Status: status,
	}
	res, err := p.svc.Videos.Insert([]string{"snippet", "status"}, video).Media(media).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("youtube upload: %w", err)
	}
	if res.Id == "" {
		return "", publish.ErrEmptyID
	}
	return res.Id, nil
}
