package paging

import (
	"encoding/base64"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

var ErrBadCursor = errors.New("invalid cursor")

// EncodeCursor packs the sort key of the last row of a page.
func EncodeCursor(order int, createdAt time.Time, id uuid.UUID) string {
	raw := strconv.Itoa(order) + "|" + strconv.FormatInt(createdAt.UnixNano(), 10) + "|" + id.String()
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func DecodeCursor(cursor string) (int, time.Time, uuid.UUID, error) {
	b, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return 0, time.Time{}, uuid.Nil, ErrBadCursor
	}
	parts := strings.Split(string(b), "|")
	if len(parts) != 3 {
		return 0, time.Time{}, uuid.Nil, ErrBadCursor
	}
	order, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, time.Time{}, uuid.Nil, ErrBadCursor
	}
	nanos, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0, time.Time{}, uuid.Nil, ErrBadCursor
	}
	id, err := uuid.Parse(parts[2])
	if err != nil {
		return 0, time.Time{}, uuid.Nil, ErrBadCursor
	}
	return order, time.Unix(0, nanos).UTC(), id, nil
}
