package billing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockProvider is a mock billing provider for testing.
// Simulates hosted sessions without calling Stripe API.
type MockProvider struct {
	// CreateCheckoutSessionFunc allows customizing session creation behavior
	CreateCheckoutSessionFunc func(ctx context.Context, params CreateSessionParams) (*Session, error)

	// GetCheckoutSessionFunc allows customizing session retrieval behavior
	GetCheckoutSessionFunc func(ctx context.Context, sessionID string) (*Session, error)

	// ExpireCheckoutSessionFunc allows customizing session expiry behavior
	ExpireCheckoutSessionFunc func(ctx context.Context, sessionID string) error

	// VerifyWebhookSignatureFunc allows customizing webhook verification behavior
	VerifyWebhookSignatureFunc func(payload []byte, signature string, secret string) error

	mu sync.Mutex

	// Sessions stores created sessions for retrieval
	Sessions map[string]*Session

	// CallLog tracks method calls for test assertions
	CallLog []string
}

// NewMockProvider creates a new mock billing provider.
func NewMockProvider() *MockProvider {
	return &MockProvider{
		Sessions: make(map[string]*Session),
		CallLog:  []string{},
	}
}

func (m *MockProvider) log(format string, args ...any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CallLog = append(m.CallLog, fmt.Sprintf(format, args...))
}

// Calls returns a copy of the call log.
func (m *MockProvider) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.CallLog...)
}

// CreateCheckoutSession creates a mock open session. Repeated calls with the
// same idempotency key return the same session, like Stripe does.
func (m *MockProvider) CreateCheckoutSession(ctx context.Context, params CreateSessionParams) (*Session, error) {
	m.log("CreateCheckoutSession(%d, %s)", params.AmountCents, params.IdempotencyKey)

	if m.CreateCheckoutSessionFunc != nil {
		return m.CreateCheckoutSessionFunc(ctx, params)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if params.IdempotencyKey != "" {
		for _, s := range m.Sessions {
			if s.Metadata["idempotency_key"] == params.IdempotencyKey {
				cp := *s
				return &cp, nil
			}
		}
	}

	meta := make(map[string]string, len(params.Metadata)+1)
	for k, v := range params.Metadata {
		meta[k] = v
	}
	if params.IdempotencyKey != "" {
		meta["idempotency_key"] = params.IdempotencyKey
	}

	id := "cs_test_" + uuid.NewString()
	s := &Session{
		ID:                id,
		URL:               "https://checkout.stripe.test/pay/" + id,
		Status:            SessionStatusOpen,
		PaymentStatus:     PaymentStatusUnpaid,
		AmountTotalCents:  params.AmountCents,
		Currency:          params.Currency,
		CustomerEmail:     params.CustomerEmail,
		ClientReferenceID: params.ClientReferenceID,
		Metadata:          meta,
		ExpiresAt:         params.ExpiresAt,
		CreatedAt:         time.Now().UTC(),
	}
	m.Sessions[id] = s
	cp := *s
	return &cp, nil
}

// GetCheckoutSession returns a stored mock session.
func (m *MockProvider) GetCheckoutSession(ctx context.Context, sessionID string) (*Session, error) {
	m.log("GetCheckoutSession(%s)", sessionID)

	if m.GetCheckoutSessionFunc != nil {
		return m.GetCheckoutSessionFunc(ctx, sessionID)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.Sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	cp := *s
	return &cp, nil
}

// ExpireCheckoutSession marks an open mock session expired.
func (m *MockProvider) ExpireCheckoutSession(ctx context.Context, sessionID string) error {
	m.log("ExpireCheckoutSession(%s)", sessionID)

	if m.ExpireCheckoutSessionFunc != nil {
		return m.ExpireCheckoutSessionFunc(ctx, sessionID)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.Sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	if s.Status == SessionStatusOpen {
		s.Status = SessionStatusExpired
	}
	return nil
}

// VerifyWebhookSignature checks the signature with the real Stripe scheme
// unless a custom func is set.
func (m *MockProvider) VerifyWebhookSignature(payload []byte, signature string, secret string) error {
	m.log("VerifyWebhookSignature")

	if m.VerifyWebhookSignatureFunc != nil {
		return m.VerifyWebhookSignatureFunc(payload, signature, secret)
	}
	return verifySignature(payload, signature, secret)
}

// CompleteSession simulates the customer paying a session.
func (m *MockProvider) CompleteSession(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.Sessions[sessionID]; ok {
		s.Status = SessionStatusComplete
		s.PaymentStatus = PaymentStatusPaid
	}
}
