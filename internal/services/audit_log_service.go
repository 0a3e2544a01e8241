package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	domain "github.com/star-cafe/api/internal/domain"
	"github.com/star-cafe/api/internal/repositories"
)

const (
	defaultAuditSeverity = "info"
	defaultActorType     = "unknown"
	defaultHasherPrefix  = "sha256:"
)

// AuditLogger defines the logging contract used by the audit writer service.
type AuditLogger interface {
	Warnf(format string, args ...any)
}

// auditLogService writes the trail behind staff actions: catalog edits,
// refunds, promotion changes and loyalty adjustments. Values the caller marks
// sensitive are salted-hashed before they reach storage, so the trail proves
// a change happened without retaining the raw data.
type auditLogService struct {
	repo     repositories.AuditLogRepository
	clock    func() time.Time
	logger   AuditLogger
	hashSalt string
}

// AuditLogServiceDeps bundles constructor inputs for the audit writer service.
type AuditLogServiceDeps struct {
	Repository repositories.AuditLogRepository
	Clock      func() time.Time
	Logger     AuditLogger
	HashSalt   string
}

// NewAuditLogService creates an audit log writer backed by the supplied repository.
func NewAuditLogService(deps AuditLogServiceDeps) (AuditLogService, error) {
	if deps.Repository == nil {
		return nil, fmt.Errorf("audit log service: repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = silentAuditLogger{}
	}

	return &auditLogService{
		repo:     deps.Repository,
		clock:    func() time.Time { return clock().UTC() },
		logger:   logger,
		hashSalt: deps.HashSalt,
	}, nil
}

// Record persists one audit entry. Append failures are logged and swallowed;
// an audit write must never fail the mutation it describes.
func (s *auditLogService) Record(ctx context.Context, record AuditLogRecord) {
	if s.repo == nil {
		return
	}
	entry := s.buildEntry(record)
	if err := s.repo.Append(ctx, entry); err != nil {
		s.logger.Warnf("audit log append failed: %v", err)
	}
}

// List retrieves paginated audit entries matching the filter.
func (s *auditLogService) List(ctx context.Context, filter AuditLogFilter) (domain.CursorPage[AuditLogEntry], error) {
	if s.repo == nil {
		return domain.CursorPage[AuditLogEntry]{}, fmt.Errorf("audit log service: repository is required")
	}
	page, err := s.repo.List(ctx, repositories.AuditLogFilter{
		TargetRef:  strings.TrimSpace(filter.TargetRef),
		Actor:      strings.TrimSpace(filter.Actor),
		ActorType:  strings.TrimSpace(filter.ActorType),
		Action:     strings.TrimSpace(filter.Action),
		DateRange:  filter.DateRange,
		Pagination: domain.Pagination{PageSize: filter.Pagination.PageSize, PageToken: filter.Pagination.PageToken},
	})
	if err != nil {
		return domain.CursorPage[AuditLogEntry]{}, err
	}
	return domain.CursorPage[AuditLogEntry]{
		Items:         page.Items,
		NextPageToken: page.NextPageToken,
	}, nil
}

func (s *auditLogService) buildEntry(record AuditLogRecord) domain.AuditLogEntry {
	occurred := record.OccurredAt.UTC()
	if record.OccurredAt.IsZero() {
		occurred = s.clock()
	}

	entry := domain.AuditLogEntry{
		Actor:     cleanText(record.Actor, 160),
		ActorType: actorTypeFor(record.ActorType, record.Actor),
		Action:    cleanText(record.Action, 120),
		TargetRef: cleanText(record.TargetRef, 200),
		Severity:  severityFor(record.Severity),
		RequestID: cleanText(record.RequestID, 128),
		UserAgent: cleanText(record.UserAgent, 256),
		CreatedAt: occurred,
	}

	if meta := s.maskMetadata(record.Metadata, record.SensitiveMetadataKeys); len(meta) > 0 {
		entry.Metadata = meta
	}
	if diff := s.maskDiff(record.Diff, record.SensitiveDiffKeys); len(diff) > 0 {
		entry.Diff = diff
	}
	if ip := strings.TrimSpace(record.IPAddress); ip != "" {
		entry.IPHash = defaultHasherPrefix + s.hashString(ip)
	}

	return entry
}

func (s *auditLogService) maskMetadata(metadata map[string]any, sensitiveKeys []string) map[string]any {
	if len(metadata) == 0 {
		return nil
	}
	sensitive := lowerKeySet(sensitiveKeys)
	result := make(map[string]any, len(metadata))
	for key, value := range metadata {
		cleaned := cleanKey(key)
		if cleaned == "" {
			continue
		}
		if _, hide := sensitive[strings.ToLower(cleaned)]; hide {
			result[cleaned] = defaultHasherPrefix + s.hashAny(value)
			continue
		}
		result[cleaned] = cleanValue(value)
	}
	return result
}

func (s *auditLogService) maskDiff(diff map[string]AuditLogDiff, sensitiveKeys []string) map[string]any {
	if len(diff) == 0 {
		return nil
	}
	sensitive := lowerKeySet(sensitiveKeys)
	result := make(map[string]any, len(diff))
	for key, change := range diff {
		cleaned := cleanKey(key)
		if cleaned == "" {
			continue
		}
		if _, hide := sensitive[strings.ToLower(cleaned)]; hide {
			result[cleaned] = map[string]any{
				"before": defaultHasherPrefix + s.hashAny(change.Before),
				"after":  defaultHasherPrefix + s.hashAny(change.After),
			}
			continue
		}
		result[cleaned] = map[string]any{
			"before": cleanValue(change.Before),
			"after":  cleanValue(change.After),
		}
	}
	return result
}

func (s *auditLogService) hashString(value string) string {
	sum := sha256.Sum256([]byte(s.hashSalt + strings.TrimSpace(value)))
	return hex.EncodeToString(sum[:])
}

// hashAny hashes arbitrary values deterministically. Non-JSON-friendly values
// (map[time.Time]..., etc.) go through a reflection pass that sorts keys so
// the same logical value always produces the same hash.
func (s *auditLogService) hashAny(value any) string {
	switch v := value.(type) {
	case string:
		return s.hashString(v)
	case fmt.Stringer:
		return s.hashString(v.String())
	case []byte:
		return s.hashString(string(v))
	default:
		if b, err := json.Marshal(v); err == nil {
			return s.hashString(string(b))
		}
		if stable := stableForHash(value); stable != nil {
			if b, err := json.Marshal(stable); err == nil {
				return s.hashString(string(b))
			}
		}
		return s.hashString(fmt.Sprintf("%T", value))
	}
}

type silentAuditLogger struct{}

func (silentAuditLogger) Warnf(string, ...any) {}

func actorTypeFor(actorType string, actor string) string {
	normalized := strings.ToLower(strings.TrimSpace(actorType))
	switch normalized {
	case "user", "staff", "system", "service":
		return normalized
	}
	actor = strings.ToLower(strings.TrimSpace(actor))
	switch {
	case strings.HasPrefix(actor, "/users/"), strings.HasPrefix(actor, "user:"):
		return "user"
	case strings.HasPrefix(actor, "/staff/"), strings.HasPrefix(actor, "staff:"):
		return "staff"
	case actor == "system" || strings.HasPrefix(actor, "system:"):
		return "system"
	default:
		return defaultActorType
	}
}

func severityFor(severity string) string {
	switch strings.ToLower(strings.TrimSpace(severity)) {
	case "warn", "warning":
		return "warn"
	case "error":
		return "error"
	default:
		return defaultAuditSeverity
	}
}

func cleanKey(key string) string {
	return cleanText(key, 80)
}

func cleanValue(value any) any {
	switch v := value.(type) {
	case string:
		return cleanText(v, 512)
	case fmt.Stringer:
		return cleanText(v.String(), 512)
	default:
		return v
	}
}

type hashPair struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

func stableForHash(value any) any {
	return stableValue(reflect.ValueOf(value))
}

func stableValue(v reflect.Value) any {
	if !v.IsValid() {
		return nil
	}

	switch v.Kind() {
	case reflect.Pointer, reflect.Interface:
		if v.IsNil() {
			return nil
		}
		return stableValue(v.Elem())
	case reflect.Map:
		if v.IsNil() {
			return nil
		}
		keys := v.MapKeys()
		pairs := make([]hashPair, 0, len(keys))
		for _, key := range keys {
			pairs = append(pairs, hashPair{
				Key:   mapKeyString(key),
				Value: stableValue(v.MapIndex(key)),
			})
		}
		sort.Slice(pairs, func(i, j int) bool { return pairs[i].Key < pairs[j].Key })
		return pairs
	case reflect.Slice:
		if v.IsNil() {
			return nil
		}
		if v.Type().Elem().Kind() == reflect.Uint8 {
			raw := make([]byte, v.Len())
			for i := 0; i < v.Len(); i++ {
				raw[i] = byte(v.Index(i).Uint())
			}
			return raw
		}
		fallthrough
	case reflect.Array:
		result := make([]any, v.Len())
		for i := 0; i < v.Len(); i++ {
			result[i] = stableValue(v.Index(i))
		}
		return result
	case reflect.Struct:
		t := v.Type()
		pairs := make([]hashPair, 0, v.NumField())
		for i := 0; i < v.NumField(); i++ {
			field := t.Field(i)
			if field.PkgPath != "" {
				continue // unexported
			}
			name := field.Name
			if tag := field.Tag.Get("json"); tag != "" {
				tagName, _, _ := strings.Cut(tag, ",")
				if tagName == "-" {
					continue
				}
				if tagName != "" {
					name = tagName
				}
			}
			pairs = append(pairs, hashPair{
				Key:   name,
				Value: stableValue(v.Field(i)),
			})
		}
		sort.Slice(pairs, func(i, j int) bool { return pairs[i].Key < pairs[j].Key })
		return pairs
	case reflect.Bool:
		return v.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return v.Uint()
	case reflect.Float32, reflect.Float64:
		return v.Float()
	case reflect.String:
		return v.String()
	default:
		if v.CanInterface() {
			return v.Interface()
		}
		return fmt.Sprintf("<unexported:%s>", v.Type().String())
	}
}

func mapKeyString(v reflect.Value) string {
	if !v.IsValid() {
		return ""
	}
	switch v.Kind() {
	case reflect.Pointer, reflect.Interface:
		if v.IsNil() {
			return "<nil>"
		}
		return mapKeyString(v.Elem())
	case reflect.String:
		return v.String()
	case reflect.Bool:
		return fmt.Sprintf("%t", v.Bool())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return fmt.Sprintf("%d", v.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return fmt.Sprintf("%d", v.Uint())
	case reflect.Float32, reflect.Float64:
		return fmt.Sprintf("%g", v.Float())
	default:
		if v.CanInterface() {
			return fmt.Sprintf("%#v", v.Interface())
		}
		return v.Type().String()
	}
}

func lowerKeySet(keys []string) map[string]struct{} {
	if len(keys) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		cleaned := strings.ToLower(cleanKey(key))
		if cleaned == "" {
			continue
		}
		set[cleaned] = struct{}{}
	}
	return set
}

// cleanText trims, strips control characters and bounds the length.
func cleanText(input string, limit int) string {
	if limit <= 0 {
		limit = 256
	}
	input = strings.TrimSpace(input)
	if input == "" {
		return ""
	}
	var builder strings.Builder
	for _, r := range input {
		if r < 32 && r != '\n' && r != '\r' && r != '\t' {
			continue
		}
		builder.WriteRune(r)
		if builder.Len() >= limit {
			break
		}
	}
	return builder.String()
}
