package repo

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"
)

// businessDaySearchCap bounds the next-business-day walk. A real calendar
// never has two straight weeks of closed days; hitting the cap means the
// holiday table is corrupt and the caller must treat it as a failure.
const businessDaySearchCap = 14

const holidayCacheTTL = 24 * time.Hour

const dayFormat = "2006-01-02"

// Holidays answers exact-date holiday lookups against the holidays table,
// caching each answer for up to 24 hours. Holiday tables rarely change
// same-day, so staleness inside that window is acceptable.
type Holidays struct {
	DB  *sql.DB
	Now func() time.Time

	mu    sync.Mutex
	cache map[string]holidayEntry
}

type holidayEntry struct {
	isHoliday bool
	fetchedAt time.Time
}

func NewHolidays(db *sql.DB) *Holidays {
	return &Holidays{DB: db, Now: time.Now, cache: make(map[string]holidayEntry)}
}

func (h *Holidays) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

// IsHoliday reports whether the date (in its own location) is a holiday.
func (h *Holidays) IsHoliday(ctx context.Context, date time.Time) (bool, error) {
	day := date.Format(dayFormat)

	h.mu.Lock()
	if e, ok := h.cache[day]; ok && h.now().Sub(e.fetchedAt) < holidayCacheTTL {
		h.mu.Unlock()
		return e.isHoliday, nil
	}
	h.mu.Unlock()

	var one int
	err := h.DB.QueryRowContext(ctx, `SELECT 1 FROM holidays WHERE day=?`, day).Scan(&one)
	found := err == nil
	if err != nil && err != sql.ErrNoRows {
		return false, err
	}

	h.mu.Lock()
	h.cache[day] = holidayEntry{isHoliday: found, fetchedAt: h.now()}
	h.mu.Unlock()
	return found, nil
}

// NextBusinessDay walks forward one calendar day at a time until it lands
// on a day that is neither a holiday nor a weekend. The walk is capped;
// exceeding the cap is an error, never an infinite loop.
func (h *Holidays) NextBusinessDay(ctx context.Context, date time.Time) (time.Time, error) {
	d := date
	for i := 0; i < businessDaySearchCap; i++ {
		d = d.AddDate(0, 0, 1)
		if d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
			continue
		}
		holiday, err := h.IsHoliday(ctx, d)
		if err != nil {
			return time.Time{}, err
		}
		if !holiday {
			return d, nil
		}
	}
	return time.Time{}, fmt.Errorf("no business day within %d days after %s; holiday table looks corrupt", businessDaySearchCap, date.Format(dayFormat))
}

// Upsert stores or renames a single holiday.
func (h *Holidays) Upsert(ctx context.Context, day, name string) error {
	if _, err := time.Parse(dayFormat, day); err != nil {
		return fmt.Errorf("invalid holiday date %q: %w", day, err)
	}
	_, err := h.DB.ExecContext(ctx, `INSERT INTO holidays(day,name) VALUES (?,?)
ON CONFLICT(day) DO UPDATE SET name=excluded.name`, day, nullable(name))
	if err != nil {
		return err
	}
	h.invalidate(day)
	return nil
}

func (h *Holidays) Delete(ctx context.Context, day string) error {
	res, err := h.DB.ExecContext(ctx, `DELETE FROM holidays WHERE day=?`, day)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	h.invalidate(day)
	return nil
}

// List returns holidays within [from, to] inclusive, ordered by date.
func (h *Holidays) List(ctx context.Context, from, to string) (map[string]string, error) {
	rows, err := h.DB.QueryContext(ctx, `SELECT day, COALESCE(name,'') FROM holidays WHERE day >= ? AND day <= ? ORDER BY day ASC`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]string{}
	for rows.Next() {
		var day, name string
		if err := rows.Scan(&day, &name); err != nil {
			return nil, err
		}
		res[day] = name
	}
	return res, rows.Err()
}

func (h *Holidays) invalidate(day string) {
	h.mu.Lock()
	delete(h.cache, day)
	h.mu.Unlock()
}
