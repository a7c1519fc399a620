package services

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/BradenHooton/dealerdesk/internal/models"
	"github.com/google/uuid"
)

// MockOTPCodeRepository implements OTPCodeRepository for testing
type MockOTPCodeRepository struct {
	IssueFunc        func(ctx context.Context, code *models.OTPCode) (*models.OTPCode, error)
	GetLatestFunc    func(ctx context.Context, userID string, purpose models.OTPPurpose, action string) (*models.OTPCode, error)
	MarkConsumedFunc func(ctx context.Context, id string, at time.Time) error
}

func (m *MockOTPCodeRepository) Issue(ctx context.Context, code *models.OTPCode) (*models.OTPCode, error) {
	if m.IssueFunc != nil {
		return m.IssueFunc(ctx, code)
	}
	return nil, models.ErrInternalServer
}

func (m *MockOTPCodeRepository) GetLatest(ctx context.Context, userID string, purpose models.OTPPurpose, action string) (*models.OTPCode, error) {
	if m.GetLatestFunc != nil {
		return m.GetLatestFunc(ctx, userID, purpose, action)
	}
	return nil, models.ErrNotFound
}

func (m *MockOTPCodeRepository) MarkConsumed(ctx context.Context, id string, at time.Time) error {
	if m.MarkConsumedFunc != nil {
		return m.MarkConsumedFunc(ctx, id, at)
	}
	return nil
}

// MemoryOTPCodeRepository is an in-memory OTPCodeRepository with the same
// supersede and conditional-consume semantics as the Postgres repository.
type MemoryOTPCodeRepository struct {
	mu    sync.Mutex
	codes []*models.OTPCode
}

func NewMemoryOTPCodeRepository() *MemoryOTPCodeRepository {
	return &MemoryOTPCodeRepository{}
}

func (r *MemoryOTPCodeRepository) Issue(_ context.Context, code *models.OTPCode) (*models.OTPCode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.codes {
		if existing.OwnerUserID == code.OwnerUserID && existing.Purpose == code.Purpose && existing.Action == code.Action &&
			existing.ConsumedAt == nil && existing.SupersededAt == nil {
			at := code.CreatedAt
			existing.SupersededAt = &at
		}
	}

	stored := *code
	if stored.ID == "" {
		stored.ID = uuid.New().String()
	}
	r.codes = append(r.codes, &stored)

	out := stored
	return &out, nil
}

func (r *MemoryOTPCodeRepository) GetLatest(_ context.Context, userID string, purpose models.OTPPurpose, action string) (*models.OTPCode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var latest *models.OTPCode
	for _, c := range r.codes {
		if c.OwnerUserID != userID || c.Purpose != purpose || c.Action != action || c.SupersededAt != nil {
			continue
		}
		if latest == nil || !c.CreatedAt.Before(latest.CreatedAt) {
			latest = c
		}
	}
	if latest == nil {
		return nil, models.ErrNotFound
	}

	out := *latest
	return &out, nil
}

func (r *MemoryOTPCodeRepository) MarkConsumed(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, c := range r.codes {
		if c.ID != id {
			continue
		}
		if c.ConsumedAt != nil {
			return models.ErrOTPAlreadyConsumed
		}
		c.ConsumedAt = &at
		return nil
	}
	return models.ErrOTPAlreadyConsumed
}

// All returns copies of every stored code, oldest first
func (r *MemoryOTPCodeRepository) All() []models.OTPCode {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]models.OTPCode, 0, len(r.codes))
	for _, c := range r.codes {
		out = append(out, *c)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// SentMail is one message captured by MockMailer
type SentMail struct {
	Template  string
	Recipient string
	Payload   map[string]any
}

// MockMailer implements Mailer and captures every message
type MockMailer struct {
	DeliverFunc func(ctx context.Context, template, recipient string, payload map[string]any) error

	mu   sync.Mutex
	Sent []SentMail
}

func (m *MockMailer) Deliver(ctx context.Context, template, recipient string, payload map[string]any) error {
	m.mu.Lock()
	m.Sent = append(m.Sent, SentMail{Template: template, Recipient: recipient, Payload: payload})
	m.mu.Unlock()

	if m.DeliverFunc != nil {
		return m.DeliverFunc(ctx, template, recipient, payload)
	}
	return nil
}

// LastCode returns the code carried by the most recent message
func (m *MockMailer) LastCode() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.Sent) == 0 {
		return ""
	}
	code, _ := m.Sent[len(m.Sent)-1].Payload["Code"].(string)
	return code
}

// MockActivityRecorder implements ActivityRecorder and keeps every entry
type MockActivityRecorder struct {
	mu      sync.Mutex
	Entries []ActivityEntry
}

func (m *MockActivityRecorder) Record(_ context.Context, entry ActivityEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Entries = append(m.Entries, entry)
}

// Actions lists the recorded activity actions in order
func (m *MockActivityRecorder) Actions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	actions := make([]string, 0, len(m.Entries))
	for _, e := range m.Entries {
		actions = append(actions, e.Action)
	}
	return actions
}

// MockActivityLogRepository implements ActivityLogRepository for testing
type MockActivityLogRepository struct {
	CreateFunc func(ctx context.Context, entry *models.ActivityLog) (*models.ActivityLog, error)
}

func (m *MockActivityLogRepository) Create(ctx context.Context, entry *models.ActivityLog) (*models.ActivityLog, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, entry)
	}
	return entry, nil
}

// SequenceCodeGenerator returns its codes in order, repeating the last one
type SequenceCodeGenerator struct {
	mu    sync.Mutex
	Codes []string
	next  int
}

func (g *SequenceCodeGenerator) Generate() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if len(g.Codes) == 0 {
		return "000000", nil
	}
	code := g.Codes[min(g.next, len(g.Codes)-1)]
	g.next++
	return code, nil
}
