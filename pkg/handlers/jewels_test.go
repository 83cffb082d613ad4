package handlers

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/zoku-engine/pkg/apperrors"
	"github.com/ekaya-inc/zoku-engine/pkg/models"
)

func newJewelsMux(tier models.AccessTier, jewels *mockJewelService) *http.ServeMux {
	mux := http.NewServeMux()
	NewJewelsHandler(jewels, zap.NewNop()).RegisterRoutes(mux, newAuthMiddleware(tier), passthroughScope)
	return mux
}

func TestJewelsHandler_CreateDefaultsOwner(t *testing.T) {
	jewels := newMockJewelService()
	mux := newJewelsMux(models.TierEntangled, jewels)

	rec := doRequest(mux, http.MethodPost, "/api/jewels", []byte(`{"name":"gh","type":"github","credentials":{"token":"ghp_x"}}`))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.NotNil(t, jewels.lastCreate.OwnerID)
	assert.Equal(t, testZokuID, *jewels.lastCreate.OwnerID)
	assert.NotContains(t, rec.Body.String(), "ghp_x")
}

func TestJewelsHandler_List(t *testing.T) {
	jewels := newMockJewelService()
	id := uuid.New()
	jewels.jewels[id] = &models.Jewel{ID: id, Name: "gh", Type: models.SourceTypeGitHub}
	mux := newJewelsMux(models.TierObserved, jewels)

	rec := doRequest(mux, http.MethodGet, "/api/jewels?type=github", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp ListJewelsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Jewels, 1)

	rec = doRequest(mux, http.MethodGet, "/api/jewels?type=zammad", nil)
	assert.JSONEq(t, `{"jewels":[]}`, rec.Body.String())

	rec = doRequest(mux, http.MethodGet, "/api/jewels?type=jira", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestJewelsHandler_DeleteInUse(t *testing.T) {
	jewels := newMockJewelService()
	id := uuid.New()
	jewels.jewels[id] = &models.Jewel{ID: id, Name: "gh", Type: models.SourceTypeGitHub}
	jewels.usage = []apperrors.JewelUsage{{SourceID: uuid.NewString(), SourceType: "github", EntanglementID: uuid.NewString()}}
	mux := newJewelsMux(models.TierEntangled, jewels)

	rec := doRequest(mux, http.MethodDelete, "/api/jewels/"+id.String(), nil)
	require.Equal(t, http.StatusConflict, rec.Code)

	var body ServiceErrorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "jewel_in_use", body.Error)
	assert.Len(t, body.Usage, 1)
	assert.Contains(t, jewels.jewels, id, "jewel is kept")
}

func TestJewelsHandler_DeleteRequiresEntangled(t *testing.T) {
	jewels := newMockJewelService()
	id := uuid.New()
	jewels.jewels[id] = &models.Jewel{ID: id}
	mux := newJewelsMux(models.TierCoherent, jewels)

	rec := doRequest(mux, http.MethodDelete, "/api/jewels/"+id.String(), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, jewels.jewels, id)
}

func TestJewelsHandler_DeleteAndUsage(t *testing.T) {
	jewels := newMockJewelService()
	id := uuid.New()
	jewels.jewels[id] = &models.Jewel{ID: id, Name: "gh", Type: models.SourceTypeGitHub}
	mux := newJewelsMux(models.TierPrime, jewels)

	rec := doRequest(mux, http.MethodGet, "/api/jewels/"+id.String()+"/usage", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"usage":[],"deletable":true}`, rec.Body.String())

	rec = doRequest(mux, http.MethodPatch, "/api/jewels/"+id.String(), []byte(`{"name":"renamed"}`))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "renamed", jewels.jewels[id].Name)

	rec = doRequest(mux, http.MethodDelete, "/api/jewels/"+id.String(), nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doRequest(mux, http.MethodGet, "/api/jewels/"+id.String(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
