package request

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

var requestIDPattern = regexp.MustCompile(`^TCRS-(\d{4})-(\d{6,})$`)

// FormatRequestID renders the public id, zero-padding the serial to six digits.
func FormatRequestID(year, serial int) string {
	return fmt.Sprintf("TCRS-%04d-%06d", year, serial)
}

// ParseRequestID extracts year and serial from a public id.
func ParseRequestID(id string) (year, serial int, ok bool) {
	m := requestIDPattern.FindStringSubmatch(id)
	if m == nil {
		return 0, 0, false
	}
	year, _ = strconv.Atoi(m[1])
	serial, _ = strconv.Atoi(m[2])
	return year, serial, true
}

// SerialAllocator hands out per-year request serials. With redis present
// the counter is an INCR, safe across replicas; without it the allocator
// scans the table max and keeps an in-process high-water mark, good enough
// for a single instance. If both paths fail it falls back to a
// timestamp-derived serial so submission never blocks on numbering.
type SerialAllocator struct {
	db  *gorm.DB
	rdb *redis.Client

	mu   sync.Mutex
	last map[int]int // year -> highest serial handed out by this process
}

func NewSerialAllocator(db *gorm.DB, rdb *redis.Client) *SerialAllocator {
	return &SerialAllocator{db: db, rdb: rdb, last: map[int]int{}}
}

// Next returns the next request id for now's year.
func (a *SerialAllocator) Next(ctx context.Context, now time.Time) string {
	year := now.UTC().Year()
	if a.rdb != nil {
		n, err := a.rdb.Incr(ctx, fmt.Sprintf("tcrs:serial:%d", year)).Result()
		if err == nil {
			return FormatRequestID(year, int(n))
		}
		slog.Warn("serial: redis incr failed, falling back to db scan", "err", err)
	}
	serial, err := a.nextFromDB(ctx, year)
	if err != nil {
		slog.Error("serial: db scan failed, using timestamp serial", "err", err)
		return fmt.Sprintf("TCRS-%04d-%s", year, now.UTC().Format("0102150405"))
	}
	return FormatRequestID(year, serial)
}

func (a *SerialAllocator) nextFromDB(ctx context.Context, year int) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var maxID *string
	err := a.db.WithContext(ctx).Model(&ApprovalRequest{}).
		Where("request_id LIKE ?", fmt.Sprintf("TCRS-%04d-%%", year)).
		Select("MAX(request_id)").
		Scan(&maxID).Error
	if err != nil {
		return 0, err
	}
	high := 0
	if maxID != nil {
		if _, s, ok := ParseRequestID(*maxID); ok {
			high = s
		}
	}
	if a.last[year] > high {
		high = a.last[year]
	}
	next := high + 1
	a.last[year] = next
	return next, nil
}
