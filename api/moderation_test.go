package api

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/Domenick1991/venuebooking/internal/domain"
	"github.com/Domenick1991/venuebooking/internal/service/moderation"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type MockWorkflow struct {
	mock.Mock
}

func (m *MockWorkflow) Submit(ctx context.Context, actor domain.Actor, input moderation.SubmitInput) (*moderation.SubmitResult, error) {
	args := m.Called(ctx, actor, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*moderation.SubmitResult), args.Error(1)
}

func (m *MockWorkflow) Approve(ctx context.Context, actor domain.Actor, requestID string) (*moderation.MergeResult, error) {
	args := m.Called(ctx, actor, requestID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*moderation.MergeResult), args.Error(1)
}

func (m *MockWorkflow) Withdraw(ctx context.Context, actor domain.Actor, requestID string) error {
	return m.Called(ctx, actor, requestID).Error(0)
}

func (m *MockWorkflow) Get(ctx context.Context, actor domain.Actor, requestID string) (*domain.ChangeRequest, error) {
	args := m.Called(ctx, actor, requestID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ChangeRequest), args.Error(1)
}

func (m *MockWorkflow) ListPending(ctx context.Context, actor domain.Actor) ([]*domain.ChangeRequest, error) {
	args := m.Called(ctx, actor)
	return args.Get(0).([]*domain.ChangeRequest), args.Error(1)
}

func moderationRoutes(svc *MockWorkflow) func(*gin.RouterGroup) {
	return func(g *gin.RouterGroup) {
		NewModerationHandler(svc).Register(g.Group("/change-requests"))
	}
}

var operatorActor = domain.Actor{ID: "op-1", Role: domain.RoleOperator}

func TestModerationHandler_SubmitStagedAndMerged(t *testing.T) {
	svc := &MockWorkflow{}
	body := map[string]any{
		"kind":         "venue",
		"modification": "Update",
		"resource_id":  "v1",
		"proposed":     map[string]any{"name": "Royal Opera House"},
	}
	isUpdate := mock.MatchedBy(func(in moderation.SubmitInput) bool {
		var proposed domain.Venue
		return in.Kind == domain.ResourceVenue &&
			in.Modification == domain.ModificationUpdate &&
			json.Unmarshal(in.Proposed, &proposed) == nil && proposed.Name == "Royal Opera House"
	})
	cr := &domain.ChangeRequest{ID: "venue:v1:Update"}
	svc.On("Submit", mock.Anything, operatorActor, isUpdate).Return(&moderation.SubmitResult{Request: cr}, nil).Once()
	svc.On("Submit", mock.Anything, admin, isUpdate).
		Return(&moderation.SubmitResult{Request: cr, Merge: &moderation.MergeResult{RequestID: cr.ID}}, nil).Once()

	w := serve(t, operatorActor, moderationRoutes(svc), http.MethodPost, "/change-requests", body)
	assert.Equal(t, http.StatusAccepted, w.Code)

	w = serve(t, admin, moderationRoutes(svc), http.MethodPost, "/change-requests", body)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"merge"`)
	svc.AssertExpectations(t)
}

func TestModerationHandler_ApproveAndWithdraw(t *testing.T) {
	svc := &MockWorkflow{}
	svc.On("Approve", mock.Anything, operatorActor, "venue:v1:Update").Return(nil, domain.ErrNotPrivileged).Once()
	svc.On("Approve", mock.Anything, admin, "venue:v1:Update").Return(nil, domain.ErrChangeRequestOutdated).Once()
	svc.On("Withdraw", mock.Anything, operatorActor, "venue:v1:Update").Return(nil).Once()

	w := serve(t, operatorActor, moderationRoutes(svc), http.MethodPost, "/change-requests/venue:v1:Update/approve", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = serve(t, admin, moderationRoutes(svc), http.MethodPost, "/change-requests/venue:v1:Update/approve", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = serve(t, operatorActor, moderationRoutes(svc), http.MethodDelete, "/change-requests/venue:v1:Update", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	svc.AssertExpectations(t)
}

func TestModerationHandler_ListPending(t *testing.T) {
	svc := &MockWorkflow{}
	svc.On("ListPending", mock.Anything, admin).Return([]*domain.ChangeRequest{{ID: "a"}, {ID: "b"}}, nil).Once()

	w := serve(t, admin, moderationRoutes(svc), http.MethodGet, "/change-requests", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	var got []domain.ChangeRequest
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Len(t, got, 2)
}
