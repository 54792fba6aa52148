package bluesky

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skyengage/skyengage/pkg/robusthttp"
)

var testNow = time.Date(2025, 3, 14, 15, 0, 0, 0, time.UTC)

const botDID = "did:plc:bot"

type recordCall struct {
	Collection string         `json:"collection"`
	Repo       string         `json:"repo"`
	Record     map[string]any `json:"record"`
}

// fakePDS serves the handful of XRPC methods the adapter uses.
type fakePDS struct {
	t *testing.T

	mu         sync.Mutex
	access     string
	accessExp  time.Time
	issued     int
	refreshes  int
	expireNext bool
	posts      []postView
	followers  map[string]int64
	records    []recordCall
}

func (p *fakePDS) token(exp time.Time) string {
	p.issued++
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ID:        strconv.Itoa(p.issued),
		ExpiresAt: jwt.NewNumericDate(exp),
	}).SignedString([]byte("test"))
	require.NoError(p.t, err)
	return tok
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (p *fakePDS) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()

	method := strings.TrimPrefix(r.URL.Path, "/xrpc/")
	bearer := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")

	switch method {
	case "com.atproto.server.createSession":
		var in map[string]string
		json.NewDecoder(r.Body).Decode(&in)
		if in["password"] != "hunter2" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "AuthenticationRequired", "message": "Invalid identifier or password"})
			return
		}
		p.access = p.token(p.accessExp)
		writeJSON(w, http.StatusOK, session{AccessJwt: p.access, RefreshJwt: "refresh-token", Handle: in["identifier"], DID: botDID})
		return
	case "com.atproto.server.refreshSession":
		if bearer != "refresh-token" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "InvalidToken"})
			return
		}
		p.refreshes++
		p.access = p.token(testNow.Add(2 * time.Hour))
		writeJSON(w, http.StatusOK, session{AccessJwt: p.access, RefreshJwt: "refresh-token", Handle: "bot.test", DID: botDID})
		return
	}

	if p.expireNext || bearer != p.access {
		p.expireNext = false
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "ExpiredToken", "message": "Token has expired"})
		return
	}

	switch method {
	case "app.bsky.feed.searchPosts":
		writeJSON(w, http.StatusOK, searchPostsOutput{Posts: p.posts})
	case "app.bsky.actor.getProfile":
		actor := r.URL.Query().Get("actor")
		n, ok := p.followers[actor]
		if !ok {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "InvalidRequest", "message": "Profile not found"})
			return
		}
		writeJSON(w, http.StatusOK, profileViewDetailed{Handle: actor, FollowersCount: n})
	case "com.atproto.repo.createRecord":
		var in recordCall
		json.NewDecoder(r.Body).Decode(&in)
		p.records = append(p.records, in)
		writeJSON(w, http.StatusOK, createRecordOutput{URI: "at://" + botDID + "/" + in.Collection + "/3new", CID: "bafynew"})
	default:
		writeJSON(w, http.StatusNotImplemented, map[string]string{"error": "MethodNotImplemented"})
	}
}

type fakeSeen map[string]bool

func (s fakeSeen) HasSeen(ctx context.Context, postID, platform string) (bool, error) {
	return s[postID], nil
}

func testAdapter(t *testing.T, pds *fakePDS, mod func(*Config)) *Adapter {
	t.Helper()
	pds.t = t
	if pds.accessExp.IsZero() {
		pds.accessExp = testNow.Add(2 * time.Hour)
	}
	srv := httptest.NewServer(pds)
	t.Cleanup(srv.Close)

	config := DefaultConfig()
	config.Host = srv.URL
	config.Handle = "bot.test"
	config.AppPassword = "hunter2"
	config.Keywords = []string{"river cleanup"}
	config.KeywordDelay = 0
	config.RequestsPerSecond = 0
	config.WebsiteURL = "https://example.org"
	config.HTTPClient = robusthttp.NewClient(robusthttp.WithMaxRetries(0))
	config.Clock = func() time.Time { return testNow }
	if mod != nil {
		mod(&config)
	}

	a, err := New(context.Background(), config)
	require.NoError(t, err)
	return a
}

func view(uri, handle, createdAt string) postView {
	return postView{
		URI:    uri,
		CID:    "bafy" + rkey(uri),
		Author: profileViewBasic{DID: "did:plc:" + strings.Split(handle, ".")[0], Handle: handle},
		Record: postRecord{Type: collectionPost, Text: "river cleanup this weekend", CreatedAt: createdAt},
	}
}

func TestSearchRecentPostsFilters(t *testing.T) {
	assert := assert.New(t)

	fresh := testNow.Add(-30 * time.Minute).Format(time.RFC3339)
	stale := testNow.Add(-5 * time.Hour).Format(time.RFC3339)

	reply := view("at://did:plc:bob/app.bsky.feed.post/2", "bob.test", fresh)
	reply.Record.Reply = &replyRef{}

	pds := &fakePDS{
		posts: []postView{
			view("at://did:plc:alice/app.bsky.feed.post/1", "alice.test", fresh),
			reply,
			view("at://did:plc:carol/app.bsky.feed.post/3", "carol.test", stale),
			view("at://did:plc:bot/app.bsky.feed.post/4", "bot.test", fresh),
			view("at://did:plc:dave/app.bsky.feed.post/5", "dave.test", fresh),
			// no profile available: follower filter does not apply
			view("at://did:plc:erin/app.bsky.feed.post/6", "erin.test", fresh),
			view("at://did:plc:frank/app.bsky.feed.post/7", "frank.test", fresh),
		},
		followers: map[string]int64{
			"alice.test": 120,
			"bob.test":   500,
			"carol.test": 500,
			"dave.test":  3,
			"frank.test": 40,
		},
	}
	a := testAdapter(t, pds, func(c *Config) {
		c.Seen = fakeSeen{"at://did:plc:frank/app.bsky.feed.post/7": true}
	})

	posts, err := a.SearchRecentPosts(context.Background())
	assert.NoError(err)

	var ids []string
	for _, p := range posts {
		ids = append(ids, p.ID)
	}
	assert.Equal([]string{
		"at://did:plc:alice/app.bsky.feed.post/1",
		"at://did:plc:erin/app.bsky.feed.post/6",
	}, ids)

	alice := posts[0]
	assert.Equal("bluesky", alice.Platform)
	assert.Equal(int64(120), alice.AuthorFollowers)
	assert.Equal("https://bsky.app/profile/alice.test/post/1", alice.URL)
	assert.True(testNow.Add(-30*time.Minute).Equal(alice.CreatedAt))
	assert.Zero(posts[1].AuthorFollowers)
}

func TestSearchDedupesAcrossKeywords(t *testing.T) {
	assert := assert.New(t)

	fresh := testNow.Add(-time.Minute).Format(time.RFC3339)
	pds := &fakePDS{
		posts:     []postView{view("at://did:plc:alice/app.bsky.feed.post/1", "alice.test", fresh)},
		followers: map[string]int64{"alice.test": 50},
	}
	a := testAdapter(t, pds, func(c *Config) {
		c.Keywords = []string{"river", "cleanup"}
	})

	posts, err := a.SearchRecentPosts(context.Background())
	assert.NoError(err)
	assert.Len(posts, 1)
}

func TestPostReplyFacets(t *testing.T) {
	assert := assert.New(t)

	pds := &fakePDS{}
	a := testAdapter(t, pds, nil)

	target := view("at://did:plc:alice/app.bsky.feed.post/1", "alice.test", testNow.Format(time.RFC3339))
	post := a.toPost(target)
	text := "Join us ✊ at https://example.org today"
	assert.NoError(a.PostReply(context.Background(), post.ID, text, post))

	require.Len(t, pds.records, 1)
	rec := pds.records[0]
	assert.Equal(collectionPost, rec.Collection)
	assert.Equal(botDID, rec.Repo)
	assert.Equal(text, rec.Record["text"])

	replyTo := rec.Record["reply"].(map[string]any)
	assert.Equal(post.URI, replyTo["root"].(map[string]any)["uri"])
	assert.Equal(post.CID, replyTo["parent"].(map[string]any)["cid"])

	facets := rec.Record["facets"].([]any)
	require.Len(t, facets, 1)
	idx := facets[0].(map[string]any)["index"].(map[string]any)
	start := len("Join us ✊ at ")
	assert.Equal(float64(start), idx["byteStart"])
	assert.Equal(float64(start+len("https://example.org")), idx["byteEnd"])
}

func TestPostReplyTruncates(t *testing.T) {
	assert := assert.New(t)

	pds := &fakePDS{}
	a := testAdapter(t, pds, nil)
	post := a.toPost(view("at://did:plc:alice/app.bsky.feed.post/1", "alice.test", testNow.Format(time.RFC3339)))

	assert.NoError(a.PostReply(context.Background(), post.ID, strings.Repeat("a", 400), post))
	text := pds.records[0].Record["text"].(string)
	assert.Equal(MaxPostGraphemes, graphemeLen(text))
	assert.True(strings.HasSuffix(text, "..."))
}

func TestReshareLikesAndReposts(t *testing.T) {
	assert := assert.New(t)

	pds := &fakePDS{}
	a := testAdapter(t, pds, nil)
	post := a.toPost(view("at://did:plc:alice/app.bsky.feed.post/1", "alice.test", testNow.Format(time.RFC3339)))

	assert.NoError(a.Reshare(context.Background(), post.ID, post))
	require.Len(t, pds.records, 2)
	assert.Equal(collectionLike, pds.records[0].Collection)
	assert.Equal(collectionRepost, pds.records[1].Collection)
	assert.Equal(post.URI, pds.records[1].Record["subject"].(map[string]any)["uri"])
}

func TestReshareRequiresRef(t *testing.T) {
	a := testAdapter(t, &fakePDS{}, nil)
	err := a.Reshare(context.Background(), "x", a.toPost(postView{URI: "at://x"}))
	assert.Error(t, err)
}

func TestExpiredTokenRefreshesOnce(t *testing.T) {
	assert := assert.New(t)

	pds := &fakePDS{}
	a := testAdapter(t, pds, nil)
	post := a.toPost(view("at://did:plc:alice/app.bsky.feed.post/1", "alice.test", testNow.Format(time.RFC3339)))

	pds.mu.Lock()
	pds.expireNext = true
	pds.mu.Unlock()

	assert.NoError(a.PostReply(context.Background(), post.ID, "hello", post))
	assert.Equal(1, pds.refreshes)
	assert.Len(pds.records, 1)
}

func TestRefreshBeforeExpiry(t *testing.T) {
	assert := assert.New(t)

	pds := &fakePDS{accessExp: testNow.Add(time.Minute)}
	a := testAdapter(t, pds, nil)

	_, err := a.SearchRecentPosts(context.Background())
	assert.NoError(err)
	assert.Equal(1, pds.refreshes)
}

func TestLoginFailure(t *testing.T) {
	assert := assert.New(t)

	pds := &fakePDS{t: t, accessExp: testNow.Add(time.Hour)}
	srv := httptest.NewServer(pds)
	defer srv.Close()

	config := DefaultConfig()
	config.Host = srv.URL
	config.Handle = "bot.test"
	config.AppPassword = "wrong"
	config.HTTPClient = robusthttp.NewClient(robusthttp.WithMaxRetries(0))
	_, err := New(context.Background(), config)
	assert.ErrorContains(err, "AuthenticationRequired")

	config.AppPassword = ""
	_, err = New(context.Background(), config)
	assert.Error(err)
}

func TestTruncateGraphemes(t *testing.T) {
	assert := assert.New(t)

	table := []struct {
		in  string
		max int
		out string
	}{
		{"short", 10, "short"},
		{"abcdefghijkl", 10, "abcdefg..."},
		// a base letter plus combining accent is one grapheme
		{strings.Repeat("e\u0301", 6), 5, "e\u0301e\u0301..."},
	}
	for _, row := range table {
		assert.Equal(row.out, truncateGraphemes(row.in, row.max), row.in)
	}
}

func TestNormalizeText(t *testing.T) {
	assert := assert.New(t)

	composed := normalizeText("cafe\u0301 https://example.org")
	assert.Equal("caf\u00e9 https://example.org", composed)
	f := linkFacets(composed, "https://example.org")
	if assert.Len(f, 1) {
		assert.Equal(6, f[0].Index.ByteStart)
	}
}

func TestLinkFacets(t *testing.T) {
	assert := assert.New(t)

	assert.Nil(linkFacets("no link here", "https://example.org"))
	assert.Nil(linkFacets("anything", ""))

	f := linkFacets("https://example.org and https://example.org", "https://example.org")
	assert.Len(f, 2)
	assert.Equal(facetIndex{ByteStart: 0, ByteEnd: 19}, f[0].Index)
	assert.Equal(facetIndex{ByteStart: 24, ByteEnd: 43}, f[1].Index)
	assert.Equal(facetLinkType, f[1].Features[0].Type)
}

func TestTokenExpiry(t *testing.T) {
	assert := assert.New(t)

	tok, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(testNow)}).SignedString([]byte("k"))
	exp, ok := tokenExpiry(tok)
	assert.True(ok)
	assert.True(exp.Equal(testNow))

	_, ok = tokenExpiry("not-a-jwt")
	assert.False(ok)
}
