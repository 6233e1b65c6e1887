package saga

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/minio/minio-go/v7"
	"go.uber.org/zap"
)

// SagaLogger is the flow journal: an append-only audit trail per conversation.
// It is never read back to restore sessions.
type SagaLogger interface {
	LogEvent(ctx context.Context, flow, conversationID string, event EventUnion) error
	GetEvents(ctx context.Context, flow, conversationID string, eventTypes []string) ([]EventUnion, error)
	GetLastEvent(ctx context.Context, flow, conversationID string, eventType string) (EventUnion, error)
	GetAcceptedValues(ctx context.Context, flow, conversationID, generation string) (map[string]interface{}, error)
}

// MinIOSagaLogger stores the journal as NDJSON objects in MinIO.
type MinIOSagaLogger struct {
	minioClient *minio.Client
	bucketName  string
	logger      *zap.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewMinIOSagaLogger creates a MinIO-backed journal.
func NewMinIOSagaLogger(minioClient *minio.Client, bucketName string, logger *zap.Logger) *MinIOSagaLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MinIOSagaLogger{
		minioClient: minioClient,
		bucketName:  bucketName,
		logger:      logger.Named("saga"),
		locks:       make(map[string]*sync.Mutex),
	}
}

// getObjectName returns the journal object path for a conversation's flow.
func (l *MinIOSagaLogger) getObjectName(flow, conversationID string) string {
	return fmt.Sprintf("%s/%s/saga.log", flow, conversationID)
}

// objectLock serializes read-modify-write cycles on one object. Detached tasks
// may journal concurrently with the conversation's lane.
func (l *MinIOSagaLogger) objectLock(objectName string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.locks[objectName]
	if !ok {
		m = &sync.Mutex{}
		l.locks[objectName] = m
	}
	return m
}

// LogEvent appends event to the journal.
func (l *MinIOSagaLogger) LogEvent(ctx context.Context, flow, conversationID string, event EventUnion) error {
	eventJSON, err := sonic.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	objectName := l.getObjectName(flow, conversationID)
	lock := l.objectLock(objectName)
	lock.Lock()
	defer lock.Unlock()

	// A failed read must not be followed by a write: the put would replace
	// the whole journal with this one event.
	existingContent, err := l.getExistingContent(ctx, objectName)
	if err != nil {
		return fmt.Errorf("read journal %s: %w", objectName, err)
	}

	newContent := append(existingContent, eventJSON...)
	newContent = append(newContent, '\n')

	return l.uploadContent(ctx, objectName, newContent)
}

func (l *MinIOSagaLogger) getExistingContent(ctx context.Context, objectName string) ([]byte, error) {
	obj, err := l.minioClient.GetObject(ctx, l.bucketName, objectName, minio.GetObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return []byte{}, nil
		}
		return nil, fmt.Errorf("failed to get object %s: %w", objectName, err)
	}
	defer obj.Close()

	content, err := io.ReadAll(obj)
	if err != nil {
		// GetObject is lazy; a missing key surfaces on first read.
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return []byte{}, nil
		}
		return nil, fmt.Errorf("failed to read object content: %w", err)
	}

	return content, nil
}

func (l *MinIOSagaLogger) uploadContent(ctx context.Context, objectName string, content []byte) error {
	reader := bytes.NewReader(content)

	_, err := l.minioClient.PutObject(ctx, l.bucketName, objectName, reader, int64(len(content)),
		minio.PutObjectOptions{
			ContentType: "application/x-ndjson",
		})
	if err != nil {
		return fmt.Errorf("failed to upload saga content to %s: %w", objectName, err)
	}

	l.logger.Debug("journal updated", zap.String("object", objectName), zap.Int("bytes", len(content)))
	return nil
}

// GetEvents returns the journal events of the given types, or all of them when
// eventTypes is empty.
func (l *MinIOSagaLogger) GetEvents(ctx context.Context, flow, conversationID string, eventTypes []string) ([]EventUnion, error) {
	content, err := l.getExistingContent(ctx, l.getObjectName(flow, conversationID))
	if err != nil {
		return nil, err
	}
	if len(content) == 0 {
		return []EventUnion{}, nil
	}
	return parseEvents(content, eventTypes, l.logger)
}

func (l *MinIOSagaLogger) GetLastEvent(ctx context.Context, flow, conversationID string, eventType string) (EventUnion, error) {
	events, err := l.GetEvents(ctx, flow, conversationID, []string{eventType})
	if err != nil {
		return nil, err
	}
	return lastEvent(events, eventType)
}

// GetAcceptedValues folds the FIELD_ACCEPTED events of one flow instance into a
// field -> value map.
func (l *MinIOSagaLogger) GetAcceptedValues(ctx context.Context, flow, conversationID, generation string) (map[string]interface{}, error) {
	events, err := l.GetEvents(ctx, flow, conversationID, []string{FieldAccepted})
	if err != nil {
		return nil, err
	}
	return acceptedValues(events, generation), nil
}

// parseEvents decodes NDJSON content and filters by event type.
func parseEvents(content []byte, eventTypes []string, logger *zap.Logger) ([]EventUnion, error) {
	var events []EventUnion

	scanner := bufio.NewScanner(bytes.NewReader(content))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		event, err := parseEvent(line)
		if err != nil {
			logger.Warn("skipping malformed journal line", zap.Error(err))
			continue
		}

		if len(eventTypes) == 0 || contains(eventTypes, event.GetEventType()) {
			events = append(events, event)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan saga content: %w", err)
	}

	return events, nil
}

func parseEvent(jsonLine string) (EventUnion, error) {
	var baseEvent struct {
		EventType string `json:"eventType"`
	}
	if err := sonic.UnmarshalString(jsonLine, &baseEvent); err != nil {
		return nil, fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	event, ok := newEvent(baseEvent.EventType)
	if !ok {
		return nil, fmt.Errorf("unknown event type: %s", baseEvent.EventType)
	}
	if err := sonic.UnmarshalString(jsonLine, event); err != nil {
		return nil, fmt.Errorf("failed to unmarshal event of type %s: %w", baseEvent.EventType, err)
	}
	return event, nil
}

func lastEvent(events []EventUnion, eventType string) (EventUnion, error) {
	if len(events) == 0 {
		return nil, fmt.Errorf("no events of type %s found", eventType)
	}
	return events[len(events)-1], nil
}

func acceptedValues(events []EventUnion, generation string) map[string]interface{} {
	values := make(map[string]interface{})
	for _, event := range events {
		accepted, ok := event.(*FieldAcceptedEvent)
		if !ok || (generation != "" && accepted.Generation != generation) {
			continue
		}
		values[accepted.Field] = accepted.Value
	}
	return values
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
