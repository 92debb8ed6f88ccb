// Package publish implements the daily publish pipeline: it picks one staged
// video at random, uploads it to the publish target, deletes the staged copy
// only after the target confirms an id, and records scheduled publishes so that
// at most one happens per calendar day.
//
// External systems are reached through the small interfaces below; driveapi,
// youtubeapi, media and telegram provide the production implementations.
package publish

import (
	"context"
	"io"
	"time"
)

// StagedItem is one video waiting in the content vault.
type StagedItem struct {
	ID          string
	Name        string
	RawMetadata string // free-text attribute on the blob; JSON when written by ingest
	MimeType    string
	Size        int64
	Trimmed     bool
	CreatedAt   time.Time
}

// Video is what gets submitted to the publish target.
type Video struct {
	Title       string
	Description string
	Tags        []string
	CategoryID  string
	Privacy     string    // public | private | unlisted
	PublishAt   time.Time // zero unless Privacy is private with a future release
}

// Staging lists, reads and removes staged items.
type Staging interface {
	ListVideos(ctx context.Context) ([]StagedItem, error)
	Open(ctx context.Context, id string) (io.ReadCloser, error)
	Delete(ctx context.Context, id string) error
}

// Target uploads a video and returns the id assigned by the platform.
type Target interface {
	Publish(ctx context.Context, media io.Reader, v Video) (string, error)
}

// RecordLog is the durable per-day publish marker. Days are formatted YYYY-MM-DD.
type RecordLog interface {
	Has(ctx context.Context, day string) (bool, error)
	Record(ctx context.Context, day, videoID string) error
}

// Notifier delivers a text message to a chat.
type Notifier interface {
	Notify(ctx context.Context, chatID int64, text string) error
}

// Transformer trims the media at in to the configured duration and writes it to out.
type Transformer interface {
	Trim(ctx context.Context, in, out string) error
}

// ClaimStore hands out short advisory leases on staged items so two
// concurrent runs never upload the same item.
type ClaimStore interface {
	Claim(ctx context.Context, itemID, owner string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, itemID, owner string) error
}

// VideoURL is the public link for a published video id.
func VideoURL(id string) string {
	return "https://youtube.com/shorts/" + id
}
