// Package clock provides the simulated library clock. Time only moves when
// Advance is called; tasks registered at a second of the day run
// synchronously as the clock passes over them.
package clock

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

const (
	SecondsPerDay  = 86400
	SecondsPerHour = 3600

	DateLayout = "2006/01/02"
	TimeLayout = "15:04:05"
)

var (
	ErrInvalidSecond   = errors.New("second of day must be within 0..86399")
	ErrNegativeAdvance = errors.New("cannot advance the clock backwards")
)

type task struct {
	second int
	fn     func()
}

// Clock tracks a simulated moment as a day index plus a second of that day,
// counted from an epoch date.
type Clock struct {
	epoch time.Time

	mu     sync.Mutex
	day    int64
	second int
	tasks  []task

	// advancing serializes Advance calls; tasks run without mu held.
	advancing sync.Mutex
}

// New creates a clock positioned at (day, second) after epoch. The epoch is
// truncated to midnight UTC.
func New(epoch time.Time, day int64, second int) (*Clock, error) {
	if second < 0 || second >= SecondsPerDay {
		return nil, ErrInvalidSecond
	}
	if day < 0 {
		return nil, fmt.Errorf("day %d: %w", day, ErrNegativeAdvance)
	}
	y, m, d := epoch.UTC().Date()
	return &Clock{
		epoch:  time.Date(y, m, d, 0, 0, 0, 0, time.UTC),
		day:    day,
		second: second,
	}, nil
}

// Now returns the current simulated moment.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.at(c.day*SecondsPerDay + int64(c.second))
}

// Day returns the number of whole days since the epoch.
func (c *Clock) Day() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.day
}

// Second returns the current second of the day.
func (c *Clock) Second() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.second
}

// Epoch returns midnight of day zero.
func (c *Clock) Epoch() time.Time { return c.epoch }

// RegisterTask schedules fn to run every time the clock passes second of
// day. Tasks sharing a second run in registration order.
func (c *Clock) RegisterTask(second int, fn func()) error {
	if second < 0 || second >= SecondsPerDay {
		return fmt.Errorf("register task at %d: %w", second, ErrInvalidSecond)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tasks = append(c.tasks, task{second: second, fn: fn})
	sort.SliceStable(c.tasks, func(i, j int) bool { return c.tasks[i].second < c.tasks[j].second })
	return nil
}

// Advance moves the clock forward and runs every task whose moment falls in
// (start, end], oldest moment first. While a task runs Now reports the
// task's own moment.
func (c *Clock) Advance(days, hours int) error {
	if days < 0 || hours < 0 {
		return ErrNegativeAdvance
	}

	c.advancing.Lock()
	defer c.advancing.Unlock()

	c.mu.Lock()
	start := c.day*SecondsPerDay + int64(c.second)
	end := start + int64(days)*SecondsPerDay + int64(hours)*SecondsPerHour
	tasks := make([]task, len(c.tasks))
	copy(tasks, c.tasks)
	c.mu.Unlock()

	for day := start / SecondsPerDay; day <= end/SecondsPerDay; day++ {
		for _, t := range tasks {
			moment := day*SecondsPerDay + int64(t.second)
			if moment <= start || moment > end {
				continue
			}
			c.set(moment)
			t.fn()
		}
	}
	c.set(end)
	return nil
}

func (c *Clock) set(moment int64) {
	c.mu.Lock()
	c.day = moment / SecondsPerDay
	c.second = int(moment % SecondsPerDay)
	c.mu.Unlock()
}

func (c *Clock) at(moment int64) time.Time {
	return c.epoch.Add(time.Duration(moment) * time.Second)
}

// FormatDate renders t the way the protocol prints dates.
func FormatDate(t time.Time) string { return t.Format(DateLayout) }

// FormatTime renders the time-of-day part of t.
func FormatTime(t time.Time) string { return t.Format(TimeLayout) }

// FormatDuration renders d as hh:mm:ss. Hours are not wrapped at 24.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, (total%3600)/60, total%60)
}
