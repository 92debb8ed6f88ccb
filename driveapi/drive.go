// Package driveapi implements the content vault and the publish log on top of
// the Google Drive v3 API. Staged videos live in one folder (the vault); each
// scheduled publish writes a small text file named after the day into a
// second folder (the log). Both folders are created on first use.
package driveapi

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/onnwee/shorts-tender/publish"
)

const (
	videoMimePrefix = "video/"
	folderMime      = "application/vnd.google-apps.folder"
	trimmedKey      = "trimmed"
	listFields      = "nextPageToken, files(id, name, description, mimeType, size, createdTime, appProperties)"
	listPageSize    = 100
)

// Store is the Drive-backed vault. It satisfies publish.Staging.
type Store struct {
	svc       *drive.Service
	vaultName string
	logName   string

	group   singleflight.Group
	mu      sync.Mutex
	folders map[string]string
}

// New builds a store using an authorized HTTP client. Extra options are
// appended after it (tests point the endpoint at a fake server).
func New(ctx context.Context, client *http.Client, vaultFolder, logFolder string, opts ...option.ClientOption) (*Store, error) {
	svc, err := drive.NewService(ctx, append([]option.ClientOption{option.WithHTTPClient(client)}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("drive service: %w", err)
	}
	return &Store{svc: svc, vaultName: vaultFolder, logName: logFolder, folders: map[string]string{}}, nil
}

// quote escapes a value for a Drive query string literal.
func quote(s string) string {
	return "'" + strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(s) + "'"
}

// folderID resolves (or creates) a top-level folder by name. Concurrent callers
// share one lookup so the folder is never created twice by this process.
func (s *Store) folderID(ctx context.Context, name string) (string, error) {
	s.mu.Lock()
	id, ok := s.folders[name]
	s.mu.Unlock()
	if ok {
		return id, nil
	}
	v, err, _ := s.group.Do(name, func() (any, error) {
		q := fmt.Sprintf("mimeType=%s and name=%s and trashed=false", quote(folderMime), quote(name))
		res, err := s.svc.Files.List().Q(q).Fields("files(id, createdTime)").OrderBy("createdTime").PageSize(10).Context(ctx).Do()
		if err != nil {
			return "", fmt.Errorf("find folder %s: %w", name, err)
		}
		if len(res.Files) > 0 {
			if len(res.Files) > 1 {
				slog.Warn("duplicate drive folders; using the oldest", slog.String("folder", name), slog.Int("count", len(res.Files)))
			}
			return res.Files[0].Id, nil
		}
		f, err := s.svc.Files.Create(&drive.File{Name: name, MimeType: folderMime}).Fields("id").Context(ctx).Do()
		if err != nil {
			return "", fmt.Errorf("create folder %s: %w", name, err)
		}
		slog.Info("created drive folder", slog.String("folder", name), slog.String("id", f.Id))
		return f.Id, nil
	})
	if err != nil {
		return "", err
	}
	id = v.(string)
	s.mu.Lock()
	s.folders[name] = id
	s.mu.Unlock()
	return id, nil
}

// Prepare resolves the vault and log folders, creating them if needed.
func (s *Store) Prepare(ctx context.Context) error {
	for _, name := range []string{s.vaultName, s.logName} {
		if _, err := s.folderID(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

// ListVideos returns every video file in the vault, oldest first.
func (s *Store) ListVideos(ctx context.Context) ([]publish.StagedItem, error) {
	parent, err := s.folderID(ctx, s.vaultName)
	if err != nil {
		return nil, err
	}
	q := fmt.Sprintf("%s in parents and trashed=false and mimeType contains %s", quote(parent), quote(videoMimePrefix))
	var out []publish.StagedItem
	err = s.svc.Files.List().Q(q).Fields(listFields).OrderBy("createdTime").PageSize(listPageSize).Pages(ctx, func(fl *drive.FileList) error {
		for _, f := range fl.Files {
			it := publish.StagedItem{
				ID:          f.Id,
				Name:        f.Name,
				RawMetadata: f.Description,
				MimeType:    f.MimeType,
				Size:        f.Size,
				Trimmed:     f.AppProperties[trimmedKey] == "1",
			}
			if t, err := time.Parse(time.RFC3339, f.CreatedTime); err == nil {
				it.CreatedAt = t
			}
			out = append(out, it)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list vault: %w", err)
	}
	return out, nil
}

// Open streams the content of a staged file.
func (s *Store) Open(ctx context.Context, id string) (io.ReadCloser, error) {
	resp, err := s.svc.Files.Get(id).Context(ctx).Download()
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", id, err)
	}
	return resp.Body, nil
}

// Delete removes a staged file. A file that is already gone counts as deleted.
func (s *Store) Delete(ctx context.Context, id string) error {
	err := s.svc.Files.Delete(id).Context(ctx).Do()
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == http.StatusNotFound {
		return nil
	}
	if err != nil {
		return fmt.Errorf("delete %s: %w", id, err)
	}
	return nil
}

// Upload stages a new video with its metadata JSON in the description.
// trimmed marks files that are already within the Shorts duration limit.
func (s *Store) Upload(ctx context.Context, name, mimeType string, media io.Reader, meta publish.Metadata, trimmed bool) (string, error) {
	parent, err := s.folderID(ctx, s.vaultName)
	if err != nil {
		return "", err
	}
	f := &drive.File{
		Name:        name,
		Parents:     []string{parent},
		MimeType:    mimeType,
		Description: meta.Encode(),
	}
	if trimmed {
		f.AppProperties = map[string]string{trimmedKey: "1"}
	}
	res, err := s.svc.Files.Create(f).Media(media).Fields("id").Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", name, err)
	}
	return res.Id, nil
}

// Log returns the publish log stored next to the vault.
func (s *Store) Log() *PublishLog { return &PublishLog{s: s} }

// PublishLog is the per-day publish marker. It satisfies publish.RecordLog.
type PublishLog struct {
	s *Store
}

// Has reports whether a record file for day exists.
func (l *PublishLog) Has(ctx context.Context, day string) (bool, error) {
	parent, err := l.s.folderID(ctx, l.s.logName)
	if err != nil {
		return false, err
	}
	q := fmt.Sprintf("%s in parents and name=%s and trashed=false", quote(parent), quote(day))
	res, err := l.s.svc.Files.List().Q(q).Fields("files(id)").PageSize(1).Context(ctx).Do()
	if err != nil {
		return false, fmt.Errorf("lookup record %s: %w", day, err)
	}
	return len(res.Files) > 0, nil
}

// Record writes the marker for day.
func (l *PublishLog) Record(ctx context.Context, day, videoID string) error {
	parent, err := l.s.folderID(ctx, l.s.logName)
	if err != nil {
		return err
	}
	body := fmt.Sprintf("published %s at %s", videoID, time.Now().UTC().Format(time.RFC3339))
	f := &drive.File{Name: day, Parents: []string{parent}, MimeType: "text/plain"}
	if _, err := l.s.svc.Files.Create(f).Media(bytes.NewReader([]byte(body))).Fields("id").Context(ctx).Do(); err != nil {
		return fmt.Errorf("write record %s: %w", day, err)
	}
	return nil
}
