package gitlab

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"scorecard-monitor/internal/common"
	"scorecard-monitor/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupMockGitLabServer(t *testing.T, handler http.HandlerFunc) *Client {
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(server.URL)
}

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		t.Errorf("failed to encode response: %v", err)
	}
}

func TestClient_LookupAccount_Group(t *testing.T) {
	client := setupMockGitLabServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("PRIVATE-TOKEN"))
		switch r.URL.Path {
		case "/groups/gitlab-org":
			writeJSON(t, w, group{Name: "GitLab.org", Description: "Open source projects", WebURL: "https://gitlab.com/gitlab-org"})
		case "/groups/gitlab-org/projects":
			assert.Equal(t, "1", r.URL.Query().Get("per_page"))
			w.Header().Set("X-Total", "321")
			writeJSON(t, w, []project{})
		default:
			http.NotFound(w, r)
		}
	})

	account, err := client.LookupAccount(context.Background(), "gitlab-org", "secret")

	require.NoError(t, err)
	assert.Equal(t, domain.ServiceGitLab, account.Service)
	assert.Equal(t, domain.NamespaceGroup, account.Namespace)
	assert.Equal(t, "GitLab.org", account.Name)
	assert.Equal(t, 321, account.TotalRepositories)
	assert.Equal(t, "secret", account.APIToken)
}

func TestClient_LookupAccount_FallsBackToUser(t *testing.T) {
	client := setupMockGitLabServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/groups/alice":
			w.WriteHeader(http.StatusNotFound)
		case "/users":
			assert.Equal(t, "alice", r.URL.Query().Get("username"))
			writeJSON(t, w, []user{{Username: "alice", Name: "Alice", Followers: 12, WebURL: "https://gitlab.com/alice"}})
		case "/users/alice/projects":
			w.Header().Set("X-Total", "4")
			writeJSON(t, w, []project{})
		default:
			http.NotFound(w, r)
		}
	})

	account, err := client.LookupAccount(context.Background(), "alice", "")

	require.NoError(t, err)
	assert.Equal(t, domain.ServiceGitLab, account.Service)
	assert.Equal(t, domain.NamespaceUser, account.Namespace)
	assert.Equal(t, "Alice", account.Name)
	assert.Equal(t, 12, account.FollowerCount)
	assert.Equal(t, 4, account.TotalRepositories)
}

func TestClient_LookupAccount_Errors(t *testing.T) {
	tests := []struct {
		name       string
		handler    http.HandlerFunc
		wantErr    error
		wantUsersN int32
	}{
		{
			name: "group 和 user 都不存在",
			handler: func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path == "/users" {
					writeJSON(t, w, []user{})
					return
				}
				w.WriteHeader(http.StatusNotFound)
			},
			wantErr:    common.ErrAccountNotFound,
			wantUsersN: 1,
		},
		{
			name: "限流时不再尝试 user",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusTooManyRequests)
			},
			wantErr: common.ErrRateLimited,
		},
		{
			name: "Token 无效时不再尝试 user",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusUnauthorized)
			},
			wantErr: common.ErrInvalidAPIToken,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var usersCalls atomic.Int32
			client := setupMockGitLabServer(t, func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path == "/users" {
					usersCalls.Add(1)
				}
				tt.handler(w, r)
			})

			account, err := client.LookupAccount(context.Background(), "ghost", "")

			assert.Nil(t, account)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, tt.wantUsersN, usersCalls.Load())
		})
	}
}

func TestClient_ListRepositories(t *testing.T) {
	client := setupMockGitLabServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/users/alice/projects", r.URL.Path, "记住的命名空间直接使用")
		assert.Equal(t, "3", r.URL.Query().Get("page"))
		assert.Equal(t, "100", r.URL.Query().Get("per_page"))
		writeJSON(t, w, []project{
			{Name: "My Tool", Path: "my-tool", WebURL: "https://gitlab.com/alice/my-tool", StarCount: 7},
			{Name: "legacy", Path: "legacy", WebURL: "https://gitlab.com/alice/legacy", Archived: true},
		})
	})

	account := &domain.Account{Service: domain.ServiceGitLab, Tag: "alice", Namespace: domain.NamespaceUser}
	repos, err := client.ListRepositories(context.Background(), account, 3, 100)

	require.NoError(t, err)
	require.Len(t, repos, 2)
	assert.Equal(t, "my-tool", repos[0].Name)
	assert.Equal(t, 7, repos[0].StarCount)
	assert.True(t, repos[1].Archived)
}

func TestClient_ListRepositories_UnknownNamespace(t *testing.T) {
	client := setupMockGitLabServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/groups/alice/projects" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		writeJSON(t, w, []project{{Path: "only", WebURL: "https://gitlab.com/alice/only"}})
	})

	repos, err := client.ListRepositories(context.Background(), &domain.Account{Tag: "alice"}, 1, 100)

	require.NoError(t, err)
	require.Len(t, repos, 1)
	assert.Equal(t, "only", repos[0].Name)
}

func TestClient_CountRepositories_MissingHeader(t *testing.T) {
	client := setupMockGitLabServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, []project{})
	})

	count, err := client.CountRepositories(context.Background(), &domain.Account{Tag: "huge", Namespace: domain.NamespaceGroup})

	require.NoError(t, err)
	assert.Equal(t, 0, count)
}
