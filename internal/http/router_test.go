package http_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	internalhttp "github.com/Simmak7/project-Mnemosyne-sub001/internal/http"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/http/handlers"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/http/middleware"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/pkg/apperr"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/pkg/logger"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/requestdata"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/services"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/types"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const testToken = "valid-token"

var testUserID = uuid.MustParse("11111111-2222-3333-4444-555555555555")

// stubAuth accepts exactly one token and rejects everything else.
type stubAuth struct{}

func (stubAuth) RegisterUser(context.Context, *types.User) error { return nil }

func (stubAuth) LoginUser(context.Context, string, string) (string, *types.User, error) {
	return "", nil, nil
}

func (stubAuth) SetContextFromToken(ctx context.Context, token string) (context.Context, error) {
	if token != testToken {
		return ctx, fmt.Errorf("%w: invalid token", apperr.ErrUnauthorized)
	}
	return requestdata.WithRequestData(ctx, &requestdata.RequestData{
		TokenString: token,
		UserID:      testUserID,
	}), nil
}

func (stubAuth) GetAccessTTL() time.Duration { return time.Hour }

var _ services.AuthService = stubAuth{}

// stubNotes records the owner each call saw.
type stubNotes struct {
	listOwner uuid.UUID
}

func (s *stubNotes) Create(context.Context, uuid.UUID, services.NoteInput) (*types.Note, error) {
	return nil, nil
}

func (s *stubNotes) Get(context.Context, uuid.UUID, uuid.UUID) (*services.NoteView, error) {
	return nil, nil
}

func (s *stubNotes) List(_ context.Context, ownerID uuid.UUID, _ bool) ([]*types.Note, error) {
	s.listOwner = ownerID
	return []*types.Note{{ID: uuid.New(), OwnerID: ownerID, Title: "First"}}, nil
}

func (s *stubNotes) Update(context.Context, uuid.UUID, uuid.UUID, services.NoteInput) (*types.Note, error) {
	return nil, nil
}

func (s *stubNotes) SetTrashed(context.Context, uuid.UUID, uuid.UUID, bool) (*types.Note, error) {
	return nil, nil
}

func (s *stubNotes) SetFavorite(context.Context, uuid.UUID, uuid.UUID, bool) (*types.Note, error) {
	return nil, nil
}

var _ services.NoteService = (*stubNotes)(nil)

func testRouter(notes *stubNotes) *gin.Engine {
	return internalhttp.NewRouter(internalhttp.RouterConfig{
		AuthMiddleware: middleware.NewAuthMiddleware(logger.NewNop(), stubAuth{}),
		NoteHandler:    handlers.NewNoteHandler(notes),
		HealthHandler:  handlers.NewHealthHandler(),
	})
}

func TestHealthcheckRoutes(t *testing.T) {
	r := testRouter(&stubNotes{})

	for _, path := range []string{"/healthcheck", "/api/healthcheck"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		if w.Code != http.StatusOK {
			t.Fatalf("GET %s = %d, want 200", path, w.Code)
		}
		if w.Body.String() != "ok" {
			t.Fatalf("GET %s body = %q, want %q", path, w.Body.String(), "ok")
		}
	}
}

func TestRouterToleratesMissingHandlers(t *testing.T) {
	r := internalhttp.NewRouter(internalhttp.RouterConfig{})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthcheck", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("GET /healthcheck with no handler = %d, want 404", w.Code)
	}
}

func TestProtectedRouteRequiresToken(t *testing.T) {
	r := testRouter(&stubNotes{})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/notes", nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("no token = %d, want 401", w.Code)
	}

	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/notes", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("bad token = %d, want 401", w.Code)
	}
}

func TestProtectedRoutePassesAuthenticatedUser(t *testing.T) {
	notes := &stubNotes{}
	r := testRouter(notes)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/notes", nil)
	req.Header.Set("Authorization", "Bearer "+testToken)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body=%s", w.Code, w.Body.String())
	}
	if notes.listOwner != testUserID {
		t.Fatalf("handler saw owner %s, want %s", notes.listOwner, testUserID)
	}
	var body struct {
		Notes []json.RawMessage `json:"notes"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body.Notes) != 1 {
		t.Fatalf("notes = %d, want 1", len(body.Notes))
	}
}

func TestQueryTokenAccepted(t *testing.T) {
	notes := &stubNotes{}
	r := testRouter(notes)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/notes?token="+testToken, nil))
	if w.Code != http.StatusOK {
		t.Fatalf("query token = %d, want 200", w.Code)
	}
}
