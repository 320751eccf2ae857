package cache

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const dateLayout = "2006-01-02"

// StreakStore tracks when a user last earned points. lastPoints:<clerkId>
// holds the unix millisecond timestamp and lastPointsDate:<clerkId> the
// UTC calendar day.
type StreakStore struct {
	client Client
}

// NewStreakStore returns a StreakStore over client.
func NewStreakStore(client Client) *StreakStore {
	return &StreakStore{client: client}
}

func lastPointsKey(clerkID string) string     { return "lastPoints:" + clerkID }
func lastPointsDateKey(clerkID string) string { return "lastPointsDate:" + clerkID }

// NextStreak returns the day streak after earning points at now, given the
// streak so far and the UTC day points were last earned ("" for never).
// Same day keeps the streak, the following day extends it, anything else
// starts over at 1.
func NextStreak(current int, lastDate string, now time.Time) int {
	now = now.UTC()
	switch lastDate {
	case "":
		return 1
	case now.Format(dateLayout):
		return max(current, 1)
	case now.AddDate(0, 0, -1).Format(dateLayout):
		return current + 1
	default:
		return 1
	}
}

// Touch records points earned at now and returns the new streak.
func (s *StreakStore) Touch(ctx context.Context, clerkID string, current int, now time.Time) (int, error) {
	lastDate, err := s.client.Get(ctx, lastPointsDateKey(clerkID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return current, err
	}

	streak := NextStreak(current, lastDate, now)

	if err := s.client.Set(ctx, lastPointsKey(clerkID), strconv.FormatInt(now.UnixMilli(), 10), 0).Err(); err != nil {
		return current, err
	}
	if err := s.client.Set(ctx, lastPointsDateKey(clerkID), now.UTC().Format(dateLayout), 0).Err(); err != nil {
		return current, err
	}
	return streak, nil
}

// Expired reports whether more than 24 hours passed since points were last
// earned. A user who never earned points has an expired streak.
func (s *StreakStore) Expired(ctx context.Context, clerkID string, now time.Time) (bool, error) {
	raw, err := s.client.Get(ctx, lastPointsKey(clerkID)).Result()
	if errors.Is(err, redis.Nil) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return true, nil
	}
	return now.Sub(time.UnixMilli(ms)) > 24*time.Hour, nil
}

// Reset forgets the user's streak keys.
func (s *StreakStore) Reset(ctx context.Context, clerkID string) error {
	return s.client.Del(ctx, lastPointsKey(clerkID), lastPointsDateKey(clerkID)).Err()
}
