package saga

import (
	"context"
	"fmt"
	"sync"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"
)

// MemoryLogger keeps the journal in process memory. It is used when no object
// store is configured, and by tests.
type MemoryLogger struct {
	mu      sync.Mutex
	objects map[string][]byte
	logger  *zap.Logger
}

func NewMemoryLogger(logger *zap.Logger) *MemoryLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryLogger{
		objects: make(map[string][]byte),
		logger:  logger.Named("saga"),
	}
}

func (l *MemoryLogger) LogEvent(_ context.Context, flow, conversationID string, event EventUnion) error {
	eventJSON, err := sonic.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	key := flow + "/" + conversationID

	l.mu.Lock()
	defer l.mu.Unlock()
	content := append(l.objects[key], eventJSON...)
	l.objects[key] = append(content, '\n')
	return nil
}

func (l *MemoryLogger) GetEvents(_ context.Context, flow, conversationID string, eventTypes []string) ([]EventUnion, error) {
	l.mu.Lock()
	content := append([]byte(nil), l.objects[flow+"/"+conversationID]...)
	l.mu.Unlock()

	if len(content) == 0 {
		return []EventUnion{}, nil
	}
	return parseEvents(content, eventTypes, l.logger)
}

func (l *MemoryLogger) GetLastEvent(ctx context.Context, flow, conversationID string, eventType string) (EventUnion, error) {
	events, err := l.GetEvents(ctx, flow, conversationID, []string{eventType})
	if err != nil {
		return nil, err
	}
	return lastEvent(events, eventType)
}

func (l *MemoryLogger) GetAcceptedValues(ctx context.Context, flow, conversationID, generation string) (map[string]interface{}, error) {
	events, err := l.GetEvents(ctx, flow, conversationID, []string{FieldAccepted})
	if err != nil {
		return nil, err
	}
	return acceptedValues(events, generation), nil
}

var (
	_ SagaLogger = (*MemoryLogger)(nil)
	_ SagaLogger = (*MinIOSagaLogger)(nil)
)
