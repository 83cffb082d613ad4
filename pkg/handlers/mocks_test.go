package handlers

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/zoku-engine/pkg/apperrors"
	"github.com/ekaya-inc/zoku-engine/pkg/auth"
	"github.com/ekaya-inc/zoku-engine/pkg/models"
	"github.com/ekaya-inc/zoku-engine/pkg/services"
)

var testZokuID = uuid.MustParse("7b1d2c1e-8c7f-4a55-9d38-3f9d8f1a2b3c")

// tokenValidator accepts any bearer token and returns claims with the given tier.
type tokenValidator struct {
	tier models.AccessTier
}

func (v tokenValidator) ValidateToken(string) (*auth.Claims, error) {
	claims := &auth.Claims{Tier: v.tier}
	claims.Subject = testZokuID.String()
	return claims, nil
}

func (v tokenValidator) Close() {}

func newAuthMiddleware(tier models.AccessTier) *auth.Middleware {
	return auth.NewMiddleware(auth.NewAuthService(tokenValidator{tier: tier}, zap.NewNop()), zap.NewNop())
}

func passthroughScope(next http.HandlerFunc) http.HandlerFunc { return next }

func doRequest(mux *http.ServeMux, method, path string, body []byte) *httptest.ResponseRecorder {
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, path, bytes.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	req.Header.Set("Authorization", "Bearer test-token")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

type mockSourceService struct {
	sources    map[uuid.UUID]*models.Source
	createErr  error
	lastCreate services.CreateSourceRequest
	lastUpdate services.UpdateSourceRequest
}

func newMockSourceService() *mockSourceService {
	return &mockSourceService{sources: make(map[uuid.UUID]*models.Source)}
}

func (m *mockSourceService) Create(_ context.Context, entanglementID uuid.UUID, req services.CreateSourceRequest) (*models.Source, error) {
	m.lastCreate = req
	if m.createErr != nil {
		return nil, m.createErr
	}
	src := &models.Source{ID: uuid.New(), EntanglementID: entanglementID, Type: req.Type, Config: req.Config, Enabled: true, HasCredentials: len(req.Credentials) > 0}
	m.sources[src.ID] = src
	return src, nil
}

func (m *mockSourceService) Get(_ context.Context, id uuid.UUID) (*models.Source, error) {
	src, ok := m.sources[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return src, nil
}

func (m *mockSourceService) ListByEntanglement(_ context.Context, entanglementID uuid.UUID) ([]*models.Source, error) {
	var out []*models.Source
	for _, src := range m.sources {
		if src.EntanglementID == entanglementID {
			out = append(out, src)
		}
	}
	return out, nil
}

func (m *mockSourceService) Update(_ context.Context, id uuid.UUID, req services.UpdateSourceRequest) (*models.Source, error) {
	m.lastUpdate = req
	src, ok := m.sources[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	if req.Enabled != nil {
		src.Enabled = *req.Enabled
	}
	return src, nil
}

func (m *mockSourceService) Delete(_ context.Context, id uuid.UUID) error {
	if _, ok := m.sources[id]; !ok {
		return apperrors.ErrNotFound
	}
	delete(m.sources, id)
	return nil
}

type mockSyncService struct {
	result *models.SourceSyncResult
	err    error
	opts   services.TriggerOptions
}

func (m *mockSyncService) TriggerSync(_ context.Context, sourceID uuid.UUID, opts services.TriggerOptions) (*models.SourceSyncResult, error) {
	m.opts = opts
	if m.err != nil {
		return nil, m.err
	}
	res := *m.result
	res.SourceID = sourceID
	return &res, nil
}

type mockJewelService struct {
	jewels     map[uuid.UUID]*models.Jewel
	usage      []apperrors.JewelUsage
	err        error
	lastCreate services.CreateJewelRequest
}

func newMockJewelService() *mockJewelService {
	return &mockJewelService{jewels: make(map[uuid.UUID]*models.Jewel)}
}

func (m *mockJewelService) Create(_ context.Context, req services.CreateJewelRequest) (*models.Jewel, error) {
	m.lastCreate = req
	if m.err != nil {
		return nil, m.err
	}
	j := &models.Jewel{ID: uuid.New(), Name: req.Name, Type: req.Type, OwnerID: req.OwnerID}
	m.jewels[j.ID] = j
	return j, nil
}

func (m *mockJewelService) Get(_ context.Context, id uuid.UUID) (*models.Jewel, error) {
	j, ok := m.jewels[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return j, nil
}

func (m *mockJewelService) List(_ context.Context, jewelType models.SourceType) ([]*models.Jewel, error) {
	var out []*models.Jewel
	for _, j := range m.jewels {
		if jewelType == "" || j.Type == jewelType {
			out = append(out, j)
		}
	}
	return out, nil
}

func (m *mockJewelService) Update(_ context.Context, id uuid.UUID, req services.UpdateJewelRequest) (*models.Jewel, error) {
	j, ok := m.jewels[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	if req.Name != nil {
		j.Name = *req.Name
	}
	return j, nil
}

func (m *mockJewelService) Delete(_ context.Context, id uuid.UUID) error {
	if len(m.usage) > 0 {
		return &apperrors.JewelInUseError{Usage: m.usage}
	}
	if _, ok := m.jewels[id]; !ok {
		return apperrors.ErrNotFound
	}
	delete(m.jewels, id)
	return nil
}

func (m *mockJewelService) Usage(_ context.Context, id uuid.UUID) ([]apperrors.JewelUsage, error) {
	if _, ok := m.jewels[id]; !ok {
		return nil, apperrors.ErrNotFound
	}
	return m.usage, nil
}

type mockQuptService struct {
	qupts      []*models.Qupt
	lastFilter models.QuptFilter
	lastCreate services.CreateQuptRequest
	ingestErr  error
	ingestBody []byte
	ingestSig  string
}

func (m *mockQuptService) Create(_ context.Context, entanglementID uuid.UUID, req services.CreateQuptRequest) (*models.Qupt, error) {
	m.lastCreate = req
	if req.Content == "" {
		return nil, apperrors.ErrInvalidInput
	}
	q := &models.Qupt{ID: uuid.New(), EntanglementID: entanglementID, ZokuID: req.ZokuID, Content: req.Content, Source: models.QuptSourceManual}
	m.qupts = append(m.qupts, q)
	return q, nil
}

func (m *mockQuptService) Get(_ context.Context, id uuid.UUID) (*models.Qupt, error) {
	for _, q := range m.qupts {
		if q.ID == id {
			return q, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (m *mockQuptService) List(_ context.Context, filter models.QuptFilter) ([]*models.Qupt, error) {
	m.lastFilter = filter
	return m.qupts, nil
}

func (m *mockQuptService) Delete(_ context.Context, id uuid.UUID) error {
	for i, q := range m.qupts {
		if q.ID == id {
			m.qupts = append(m.qupts[:i], m.qupts[i+1:]...)
			return nil
		}
	}
	return apperrors.ErrNotFound
}

func (m *mockQuptService) IngestWebhook(_ context.Context, _ uuid.UUID, body []byte, signature string) (*services.WebhookResult, error) {
	m.ingestBody = body
	m.ingestSig = signature
	if m.ingestErr != nil {
		return nil, m.ingestErr
	}
	return &services.WebhookResult{Received: 1, Inserted: 1}, nil
}
