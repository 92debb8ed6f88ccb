package publish

import (
	"encoding/json"
	"path"
	"strings"
)

// Metadata is the per-video session record stored alongside the staged blob.
type Metadata struct {
	Title        string `json:"title"`
	Description  string `json:"description"`
	Hashtags     string `json:"hashtags"`
	OriginatorID int64  `json:"originatorId,omitempty"`
}

// wireMetadata accepts older records: `userId` instead of `originatorId`, and
// hashtags stored as a list.
type wireMetadata struct {
	Title        string          `json:"title"`
	Description  string          `json:"description"`
	Hashtags     json.RawMessage `json:"hashtags"`
	OriginatorID *int64          `json:"originatorId"`
	UserID       *int64          `json:"userId"`
}

// Encode returns the JSON form written to the staging store.
func (m Metadata) Encode() string {
	b, _ := json.Marshal(m)
	return string(b)
}

// ParseMetadata decodes the raw attribute of a staged blob. It never fails:
// absent or malformed input yields a title derived from name, an empty
// description and defaultHashtags.
func ParseMetadata(name, raw, defaultHashtags string) Metadata {
	def := Metadata{Title: TitleFromName(name), Hashtags: defaultHashtags}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def
	}
	var w wireMetadata
	if err := json.Unmarshal([]byte(raw), &w); err != nil {
		return def
	}
	m := Metadata{
		Title:       strings.TrimSpace(w.Title),
		Description: strings.TrimSpace(w.Description),
		Hashtags:    decodeHashtags(w.Hashtags),
	}
	switch {
	case w.OriginatorID != nil:
		m.OriginatorID = *w.OriginatorID
	case w.UserID != nil:
		m.OriginatorID = *w.UserID
	}
	if m.Title == "" {
		m.Title = def.Title
	}
	if m.Hashtags == "" {
		m.Hashtags = defaultHashtags
	}
	return m
}

func decodeHashtags(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return NormalizeHashtags(strings.Join(list, " "))
	}
	return ""
}

// TitleFromName turns a blob name like "my_cat-video.mp4" into "my cat video".
func TitleFromName(name string) string {
	base := strings.TrimSuffix(name, path.Ext(name))
	base = strings.NewReplacer("_", " ", "-", " ").Replace(base)
	if t := strings.Join(strings.Fields(base), " "); t != "" {
		return t
	}
	return "Short"
}

// NormalizeHashtags splits on whitespace and commas and makes sure every tag starts with '#'.
func NormalizeHashtags(s string) string {
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' || r == '\t' || r == '\n' })
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if f == "" || f == "#" {
			continue
		}
		if !strings.HasPrefix(f, "#") {
			f = "#" + f
		}
		out = append(out, f)
	}
	return strings.Join(out, " ")
}

// ParseText reads the free-text metadata grammar used in chat messages and captions:
//
//	title: My video
//	description: first line
//	second line of the description
//	hashtags: #cat #funny
//
// Keys are case-insensitive; "desc" and "tags" are accepted aliases. Lines
// without a known key continue the description if one is open and are
// otherwise ignored. ok is false when no key was found.
func ParseText(text string) (m Metadata, ok bool) {
	var desc []string
	inDesc := false
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		key, val, found := splitKey(line)
		if !found {
			if inDesc && line != "" {
				desc = append(desc, line)
			}
			continue
		}
		ok = true
		inDesc = false
		switch key {
		case "title":
			m.Title = val
		case "description":
			desc = desc[:0]
			if val != "" {
				desc = append(desc, val)
			}
			inDesc = true
		case "hashtags":
			m.Hashtags = NormalizeHashtags(val)
		}
	}
	m.Description = strings.Join(desc, "\n")
	return m, ok
}

func splitKey(line string) (key, val string, ok bool) {
	i := strings.IndexByte(line, ':')
	if i <= 0 {
		return "", "", false
	}
	switch strings.ToLower(strings.TrimSpace(line[:i])) {
	case "title":
		key = "title"
	case "description", "desc":
		key = "description"
	case "hashtags", "tags":
		key = "hashtags"
	default:
		return "", "", false
	}
	return key, strings.TrimSpace(line[i+1:]), true
}

// Merge fills empty fields of m from fallback.
func (m Metadata) Merge(fallback Metadata) Metadata {
	if m.Title == "" {
		m.Title = fallback.Title
	}
	if m.Description == "" {
		m.Description = fallback.Description
	}
	if m.Hashtags == "" {
		m.Hashtags = fallback.Hashtags
	}
	if m.OriginatorID == 0 {
		m.OriginatorID = fallback.OriginatorID
	}
	return m
}
