package firestore

import (
	"encoding/base64"
	"errors"
	"strings"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// encodeCursorToken packs an order-by timestamp and document ID into an opaque
// page token.
func encodeCursorToken(ts time.Time, docID string) string {
	payload := ts.UTC().Format(time.RFC3339Nano) + "|" + docID
	return base64.RawURLEncoding.EncodeToString([]byte(payload))
}

func decodeCursorToken(token string) (time.Time, string, error) {
	data, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return time.Time{}, "", err
	}
	parts := strings.SplitN(string(data), "|", 2)
	if len(parts) != 2 {
		return time.Time{}, "", errors.New("invalid token format")
	}
	ts, err := time.Parse(time.RFC3339Nano, parts[0])
	if err != nil {
		return time.Time{}, "", err
	}
	return ts, parts[1], nil
}

func isStatusNotFound(err error) bool {
	return status.Code(err) == codes.NotFound
}
