package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/zoku-engine/pkg/adapters/provider"
	"github.com/ekaya-inc/zoku-engine/pkg/apperrors"
	"github.com/ekaya-inc/zoku-engine/pkg/crypto"
	"github.com/ekaya-inc/zoku-engine/pkg/models"
)

// Test encryption key (32 bytes, base64 encoded).
const testEncryptionKey = "dGVzdC1rZXktZm9yLXVuaXQtdGVzdHMtMzItYnl0ZXM="

// mockSourceRepository is an in-memory SourceRepository.
type mockSourceRepository struct {
	mu      sync.Mutex
	sources map[uuid.UUID]*models.Source
	creds   map[uuid.UUID]string

	getErr     error
	createErr  error
	successErr error

	successCalls int
	failureCalls int
}

func newMockSourceRepository() *mockSourceRepository {
	return &mockSourceRepository{
		sources: make(map[uuid.UUID]*models.Source),
		creds:   make(map[uuid.UUID]string),
	}
}

// add stores a copy of src with the given inline ciphertext and returns its id.
func (m *mockSourceRepository) add(src *models.Source, ciphertext string) uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	if src.ID == uuid.Nil {
		src.ID = uuid.New()
	}
	cp := *src
	cp.HasCredentials = ciphertext != ""
	m.sources[src.ID] = &cp
	m.creds[src.ID] = ciphertext
	return src.ID
}

func (m *mockSourceRepository) snapshot(id uuid.UUID) models.Source {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.sources[id]
}

func (m *mockSourceRepository) Create(ctx context.Context, src *models.Source, encryptedCredentials string) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.add(src, encryptedCredentials)
	src.HasCredentials = encryptedCredentials != ""
	return nil
}

func (m *mockSourceRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Source, string, error) {
	if m.getErr != nil {
		return nil, "", m.getErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	src, ok := m.sources[id]
	if !ok {
		return nil, "", fmt.Errorf("source %s: %w", id, apperrors.ErrNotFound)
	}
	cp := *src
	return &cp, m.creds[id], nil
}

func (m *mockSourceRepository) filter(keep func(*models.Source) bool) []*models.Source {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Source
	for _, src := range m.sources {
		if keep(src) {
			cp := *src
			out = append(out, &cp)
		}
	}
	return out
}

func (m *mockSourceRepository) ListByEntanglement(ctx context.Context, entanglementID uuid.UUID) ([]*models.Source, error) {
	return m.filter(func(s *models.Source) bool { return s.EntanglementID == entanglementID }), nil
}

func (m *mockSourceRepository) ListEnabled(ctx context.Context) ([]*models.Source, error) {
	return m.filter(func(s *models.Source) bool { return s.Enabled }), nil
}

func (m *mockSourceRepository) ListByJewel(ctx context.Context, jewelID uuid.UUID) ([]*models.Source, error) {
	return m.filter(func(s *models.Source) bool { return s.JewelID != nil && *s.JewelID == jewelID }), nil
}

func (m *mockSourceRepository) Update(ctx context.Context, src *models.Source, encryptedCredentials *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sources[src.ID]; !ok {
		return apperrors.ErrNotFound
	}
	if encryptedCredentials != nil {
		m.creds[src.ID] = *encryptedCredentials
	}
	src.HasCredentials = m.creds[src.ID] != ""
	cp := *src
	m.sources[src.ID] = &cp
	return nil
}

func (m *mockSourceRepository) Delete(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sources[id]; !ok {
		return apperrors.ErrNotFound
	}
	delete(m.sources, id)
	delete(m.creds, id)
	return nil
}

func (m *mockSourceRepository) MarkSyncSuccess(ctx context.Context, id uuid.UUID, cursor string, syncedAt time.Time) error {
	if m.successErr != nil {
		return m.successErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.successCalls++
	src := m.sources[id]
	src.LastSync = &syncedAt
	if cursor == "" {
		src.SyncCursor = nil
	} else {
		src.SyncCursor = &cursor
	}
	src.LastError = nil
	src.ErrorCount = 0
	src.LastErrorAt = nil
	return nil
}

func (m *mockSourceRepository) MarkSyncFailure(ctx context.Context, id uuid.UUID, message string, failedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failureCalls++
	src := m.sources[id]
	src.LastError = &message
	src.LastErrorAt = &failedAt
	src.ErrorCount++
	return nil
}

func (m *mockSourceRepository) AcquireSyncLease(ctx context.Context, id uuid.UUID, token string, ttl time.Duration) (bool, error) {
	return true, nil
}

func (m *mockSourceRepository) ReleaseSyncLease(ctx context.Context, id uuid.UUID, token string) error {
	return nil
}

// mockJewelRepository is an in-memory JewelRepository.
type mockJewelRepository struct {
	jewels    map[uuid.UUID]*models.Jewel
	data      map[uuid.UUID]string
	deleteErr error
}

func newMockJewelRepository() *mockJewelRepository {
	return &mockJewelRepository{
		jewels: make(map[uuid.UUID]*models.Jewel),
		data:   make(map[uuid.UUID]string),
	}
}

func (m *mockJewelRepository) Create(ctx context.Context, jewel *models.Jewel, encryptedData string) error {
	jewel.ID = uuid.New()
	cp := *jewel
	m.jewels[jewel.ID] = &cp
	m.data[jewel.ID] = encryptedData
	return nil
}

func (m *mockJewelRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Jewel, string, error) {
	j, ok := m.jewels[id]
	if !ok {
		return nil, "", fmt.Errorf("jewel %s: %w", id, apperrors.ErrNotFound)
	}
	cp := *j
	return &cp, m.data[id], nil
}

func (m *mockJewelRepository) List(ctx context.Context, jewelType models.SourceType) ([]*models.Jewel, error) {
	var out []*models.Jewel
	for _, j := range m.jewels {
		if jewelType == "" || j.Type == jewelType {
			out = append(out, j)
		}
	}
	return out, nil
}

func (m *mockJewelRepository) Update(ctx context.Context, jewel *models.Jewel, encryptedData *string) error {
	if _, ok := m.jewels[jewel.ID]; !ok {
		return apperrors.ErrNotFound
	}
	if encryptedData != nil {
		m.data[jewel.ID] = *encryptedData
	}
	cp := *jewel
	m.jewels[jewel.ID] = &cp
	return nil
}

func (m *mockJewelRepository) Delete(ctx context.Context, id uuid.UUID) error {
	if m.deleteErr != nil {
		return m.deleteErr
	}
	delete(m.jewels, id)
	delete(m.data, id)
	return nil
}

// mockQuptRepository stores qupts in memory and enforces (source, external_id) uniqueness.
type mockQuptRepository struct {
	mu       sync.Mutex
	qupts    []*models.Qupt
	seen     map[string]bool
	batchErr error
}

func newMockQuptRepository() *mockQuptRepository {
	return &mockQuptRepository{seen: make(map[string]bool)}
}

func (m *mockQuptRepository) BatchInsert(ctx context.Context, qupts []*models.Qupt) (int, error) {
	if m.batchErr != nil {
		return 0, m.batchErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	inserted := 0
	for _, q := range qupts {
		if q.ExternalID != nil {
			key := q.Source + "|" + *q.ExternalID
			if m.seen[key] {
				continue
			}
			m.seen[key] = true
		}
		q.ID = uuid.New()
		m.qupts = append(m.qupts, q)
		inserted++
	}
	return inserted, nil
}

func (m *mockQuptRepository) Create(ctx context.Context, q *models.Qupt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	q.ID = uuid.New()
	q.CreatedAt = time.Now()
	m.qupts = append(m.qupts, q)
	return nil
}

func (m *mockQuptRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Qupt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, q := range m.qupts {
		if q.ID == id {
			return q, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (m *mockQuptRepository) List(ctx context.Context, filter models.QuptFilter) ([]*models.Qupt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Qupt
	for _, q := range m.qupts {
		if q.EntanglementID == filter.EntanglementID {
			out = append(out, q)
		}
	}
	return out, nil
}

func (m *mockQuptRepository) Delete(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, q := range m.qupts {
		if q.ID == id {
			m.qupts = append(m.qupts[:i], m.qupts[i+1:]...)
			return nil
		}
	}
	return apperrors.ErrNotFound
}

func (m *mockQuptRepository) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.qupts)
}

// mockLocker is an in-memory SyncLocker.
type mockLocker struct {
	mu       sync.Mutex
	held     map[uuid.UUID]string
	released int
}

func newMockLocker() *mockLocker {
	return &mockLocker{held: make(map[uuid.UUID]string)}
}

func (l *mockLocker) Acquire(ctx context.Context, sourceID uuid.UUID, ttl time.Duration) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[sourceID]; ok {
		return "", false, nil
	}
	token := uuid.NewString()
	l.held[sourceID] = token
	return token, true, nil
}

func (l *mockLocker) Release(ctx context.Context, sourceID uuid.UUID, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[sourceID] == token {
		delete(l.held, sourceID)
		l.released++
	}
	return nil
}

func (l *mockLocker) isHeld(sourceID uuid.UUID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.held[sourceID]
	return ok
}

// collectorFunc adapts a function to provider.Collector.
type collectorFunc func(ctx context.Context, req provider.CollectRequest) (*provider.CollectResult, error)

func (f collectorFunc) Collect(ctx context.Context, req provider.CollectRequest) (*provider.CollectResult, error) {
	return f(ctx, req)
}

// validatorFunc adapts a function to provider.Validator.
type validatorFunc func(ctx context.Context, creds, config map[string]any) (*models.ValidationResult, error)

func (f validatorFunc) Validate(ctx context.Context, creds, config map[string]any) (*models.ValidationResult, error) {
	return f(ctx, creds, config)
}

func emptyCollector() provider.Collector {
	return collectorFunc(func(ctx context.Context, req provider.CollectRequest) (*provider.CollectResult, error) {
		return &provider.CollectResult{Cursor: req.Cursor}, nil
	})
}

func validResult() provider.Validator {
	return validatorFunc(func(ctx context.Context, creds, config map[string]any) (*models.ValidationResult, error) {
		return &models.ValidationResult{Valid: true, Metadata: map[string]any{"login": "octocat"}}, nil
	})
}

func newTestRegistry(t *testing.T, regs ...provider.Registration) *provider.Registry {
	t.Helper()
	catalog, err := provider.LoadCatalog()
	if err != nil {
		t.Fatalf("LoadCatalog() error = %v", err)
	}
	reg, err := provider.NewRegistry(catalog, regs...)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	return reg
}

func newTestEncryptor(t *testing.T) *crypto.CredentialEncryptor {
	t.Helper()
	enc, err := crypto.NewCredentialEncryptor(testEncryptionKey)
	if err != nil {
		t.Fatalf("NewCredentialEncryptor() error = %v", err)
	}
	return enc
}

func newTestVault(t *testing.T, reg *provider.Registry, jewels *mockJewelRepository, sources *mockSourceRepository) CredentialVault {
	t.Helper()
	return NewCredentialVault(newTestEncryptor(t), reg, jewels, sources, zap.NewNop())
}

func mustEncrypt(t *testing.T, v CredentialVault, creds map[string]any) string {
	t.Helper()
	ct, err := v.EncryptCredentials(creds)
	if err != nil {
		t.Fatalf("EncryptCredentials() error = %v", err)
	}
	return ct
}
