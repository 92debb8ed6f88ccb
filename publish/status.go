package publish

import (
	"context"
	"fmt"
	"time"
)

// Status is a point-in-time view of the daily schedule and the staged queue.
type Status struct {
	Now            time.Time `json:"now"`
	Day            string    `json:"day"`
	Timezone       string    `json:"timezone"`
	Window         Window    `json:"window"`
	InWindow       bool      `json:"in_window"`
	PublishedToday bool      `json:"published_today"`
	Staged         int       `json:"staged"`
}

// Status reports today's record and the size of the staged queue. A nil
// staging skips the queue count.
func (s *Scheduler) Status(ctx context.Context, staging Staging) (Status, error) {
	s.init()
	local := s.now().In(s.Location)
	st := Status{
		Now:      local,
		Day:      local.Format(DayLayout),
		Timezone: s.Location.String(),
		Window:   s.Window,
		InWindow: s.Window.Contains(local),
	}
	done, err := s.Log.Has(ctx, st.Day)
	if err != nil {
		return st, fmt.Errorf("publish record: %w", err)
	}
	st.PublishedToday = done
	if staging != nil {
		items, err := staging.ListVideos(ctx)
		if err != nil {
			return st, fmt.Errorf("list staged: %w", err)
		}
		st.Staged = len(items)
	}
	return st, nil
}

// String renders the status as a chat reply.
func (st Status) String() string {
	published := "not yet"
	if st.PublishedToday {
		published = "yes"
	}
	return fmt.Sprintf("📅 %s (%s)\n🕕 Window: %02d:00-%02d:59, now %s\n📤 Published today: %s\n📦 Staged videos: %d",
		st.Day, st.Timezone, st.Window.StartHour, st.Window.EndHour, st.Now.Format("15:04"), published, st.Staged)
}
