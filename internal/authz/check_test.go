package authz

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/AnthonyGillesRudolfo/storefront-payments/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	allow bool
	err   error
	user  string
}

func (f *fakeClient) Check(ctx context.Context, user, object, relation string) (bool, error) {
	f.user = user
	return f.allow, f.err
}

func TestCanAllowed(t *testing.T) {
	c := &fakeClient{allow: true}
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-Principal", "user:alice")
	allowed, err := Can(context.Background(), c, r, "order:ord123", "can_fulfill")
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.Equal(t, "user:alice", c.user)
}

func TestCanDenied(t *testing.T) {
	c := &fakeClient{allow: false}
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-User", "charlie")
	allowed, err := Can(context.Background(), c, r, "order:ord123", "can_fulfill")
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Equal(t, "user:charlie", c.user)
}

func TestPrincipalPrecedence(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Equal(t, "user:anonymous", PrincipalFromRequest(r))

	r.Header.Set("X-User", "bob")
	assert.Equal(t, "user:bob", PrincipalFromRequest(r))

	r.Header.Set("X-Principal", "user:alice")
	assert.Equal(t, "user:alice", PrincipalFromRequest(r))
}

func TestActAsCookieIgnoredWithoutMiddleware(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(&http.Cookie{Name: "act_as", Value: "user:seller-1"})
	assert.Equal(t, "user:anonymous", PrincipalFromRequest(r))
}

func TestActAs(t *testing.T) {
	var got string
	h := ActAs(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = PrincipalFromRequest(r)
	}))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-Principal", "user:alice")
	r.AddCookie(&http.Cookie{Name: "act_as", Value: "user:seller-1"})
	h.ServeHTTP(httptest.NewRecorder(), r)
	assert.Equal(t, "user:seller-1", got)
	assert.Equal(t, "user:alice", r.Header.Get("X-Principal"), "caller's request is not mutated")

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "user:anonymous", got)
}

func TestRequire(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })
	objectRel := func(r *http.Request) (string, string) { return "order:" + r.URL.Query().Get("id"), "can_fulfill" }

	cases := []struct {
		name   string
		client Client
		want   int
	}{
		{"allowed", &fakeClient{allow: true}, http.StatusNoContent},
		{"denied", &fakeClient{allow: false}, http.StatusForbidden},
		{"error", &fakeClient{err: errors.New("openfga down")}, http.StatusForbidden},
		{"noop", nil, http.StatusNoContent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			Require(tc.client, objectRel)(next).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/?id=o1", nil))
			assert.Equal(t, tc.want, rec.Code)
		})
	}
}

func TestOpenFGAClient(t *testing.T) {
	var wrote []TupleKey
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/stores/store-1/check":
			var body struct {
				TupleKey TupleKey `json:"tuple_key"`
			}
			_ = json.NewDecoder(r.Body).Decode(&body)
			allowed := body.TupleKey.User == "user:seller-1" && body.TupleKey.Relation == "can_fulfill"
			_ = json.NewEncoder(w).Encode(map[string]bool{"allowed": allowed})
		case "/stores/store-1/write":
			var body struct {
				Writes struct {
					TupleKeys []TupleKey `json:"tuple_keys"`
				} `json:"writes"`
			}
			_ = json.NewDecoder(r.Body).Decode(&body)
			wrote = body.Writes.TupleKeys
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := NewOpenFGAClient(config.AuthzConfig{APIURL: srv.URL, StoreID: "store-1"}, srv.Client())
	ctx := context.Background()

	require.NoError(t, c.Write(ctx, []TupleKey{{User: "user:seller-1", Relation: "seller", Object: "store:main"}}))
	require.Len(t, wrote, 1)
	assert.Equal(t, "store:main", wrote[0].Object)

	ok, err := c.Check(ctx, "user:seller-1", "order:o1", "can_fulfill")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.Check(ctx, "user:buyer", "order:o1", "can_fulfill")
	require.NoError(t, err)
	assert.False(t, ok)

	bad := NewOpenFGAClient(config.AuthzConfig{APIURL: srv.URL, StoreID: "missing"}, srv.Client())
	_, err = bad.Check(ctx, "user:seller-1", "order:o1", "can_fulfill")
	assert.ErrorContains(t, err, "status 404")
}

func TestNewWithoutConfigAllows(t *testing.T) {
	c := New(config.AuthzConfig{})
	ok, err := c.Check(context.Background(), "user:anyone", "order:o1", "can_fulfill")
	require.NoError(t, err)
	assert.True(t, ok)
}
