package blog

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestServer wires the real handlers against the test database, the
// in-memory cache and the real templates.
func newTestServer(t *testing.T) (*httptest.Server, *Database) {
	t.Helper()
	db := testDB(t)
	cfg := &Config{
		PageSize:    10,
		CacheTTL:    time.Minute,
		SessionTTL:  time.Hour,
		MediaRoot:   t.TempDir(),
		TemplateDir: "../templates",
	}
	handlers, err := NewHandlers(db, NewMemoryCache(cfg.CacheTTL), cfg)
	require.NoError(t, err)

	mux := http.NewServeMux()
	handlers.RegisterRoutes(mux)
	ts := httptest.NewServer(handlers.Session.LoadAndSave(mux))
	t.Cleanup(ts.Close)
	return ts, db
}

// newTestClient keeps cookies and never follows redirects, so tests can
// inspect Location headers.
func newTestClient(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &http.Client{
		Jar: jar,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func login(t *testing.T, ts *httptest.Server, client *http.Client, username string) {
	t.Helper()
	resp, err := client.PostForm(ts.URL+"/auth/login/", url.Values{
		"username": {username},
		"password": {"correct-horse-battery"},
	})
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusSeeOther, resp.StatusCode, "login should succeed")
}

func get(t *testing.T, client *http.Client, rawURL string) (*http.Response, string) {
	t.Helper()
	resp, err := client.Get(rawURL)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	resp.Body.Close()
	return resp, string(body)
}

func TestCreatePostRequiresLogin(t *testing.T) {
	ts, db := newTestServer(t)
	client := newTestClient(t)

	resp, err := client.PostForm(ts.URL+"/create/", url.Values{"text": {"drive-by post"}})
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.True(t, strings.HasPrefix(resp.Header.Get("Location"), "/auth/login/"),
		"anonymous users are sent to the login page")

	count, err := db.CountPosts(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count, "anonymous attempt must not persist anything")
}

func TestCreatePost(t *testing.T) {
	ts, db := newTestServer(t)
	ctx := context.Background()
	author := createTestUser(t, db, "writer")
	group := &Group{Title: "Travel", Slug: "travel"}
	require.NoError(t, db.CreateGroup(ctx, group))

	client := newTestClient(t)
	login(t, ts, client, "writer")

	resp, err := client.PostForm(ts.URL+"/create/", url.Values{
		"text":  {"hello from the road"},
		"group": {strconv.FormatInt(group.ID, 10)},
	})
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/profile/writer/", resp.Header.Get("Location"))

	posts, err := db.ListPosts(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, posts, 1)
	assert.Equal(t, "hello from the road", posts[0].Text)
	assert.Equal(t, author.ID, posts[0].AuthorID)
	require.NotNil(t, posts[0].GroupID)
	assert.Equal(t, group.ID, *posts[0].GroupID)
}

// TestRenderReturnsWrittenPage pins down that render hands back the same
// bytes it wrote to the client; the index handler caches that return value.
func TestRenderReturnsWrittenPage(t *testing.T) {
	cfg := &Config{
		PageSize:    10,
		CacheTTL:    time.Minute,
		SessionTTL:  time.Hour,
		MediaRoot:   t.TempDir(),
		TemplateDir: "../templates",
	}
	handlers, err := NewHandlers(nil, NewMemoryCache(cfg.CacheTTL), cfg)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	page := handlers.render(rec, http.StatusOK, "500.html", ErrorViewData{})
	require.NotEmpty(t, page, "render must return the page it wrote")
	assert.Equal(t, rec.Body.Bytes(), page)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCreatePostWithImage(t *testing.T) {
	ts, db := newTestServer(t)
	createTestUser(t, db, "writer")
	client := newTestClient(t)
	login(t, ts, client, "writer")

	const imageBytes = "\x89PNG fake image bytes"
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("text", "picture post"))
	fw, err := mw.CreateFormFile("image", "sunset.png")
	require.NoError(t, err)
	_, err = fw.Write([]byte(imageBytes))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req, err := http.NewRequest("POST", ts.URL+"/create/", &body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)

	posts, err := db.ListPosts(context.Background(), 10, 0)
	require.NoError(t, err)
	require.Len(t, posts, 1)
	assert.Equal(t, "picture post", posts[0].Text)
	assert.True(t, strings.HasPrefix(posts[0].Image, "posts/"), "image path %q", posts[0].Image)
	assert.True(t, strings.HasSuffix(posts[0].Image, ".png"), "image path %q", posts[0].Image)

	resp, served := get(t, client, ts.URL+"/media/"+posts[0].Image)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, imageBytes, served)
}

func TestCreatePostInvalidFormRerenders(t *testing.T) {
	ts, db := newTestServer(t)
	createTestUser(t, db, "writer")
	client := newTestClient(t)
	login(t, ts, client, "writer")

	resp, err := client.PostForm(ts.URL+"/create/", url.Values{"text": {"   "}})
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode, "validation failure re-renders the form")
	assert.Contains(t, string(body), "This field is required.")

	count, err := db.CountPosts(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestEditPostByNonAuthor(t *testing.T) {
	ts, db := newTestServer(t)
	author := createTestUser(t, db, "writer")
	createTestUser(t, db, "intruder")
	post := createTestPost(t, db, author, "untouchable", nil)

	client := newTestClient(t)
	login(t, ts, client, "intruder")

	resp, err := client.PostForm(ts.URL+postURL(post.ID)+"edit/", url.Values{"text": {"defaced"}})
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusFound, resp.StatusCode, "denial is a silent redirect")
	assert.Equal(t, postURL(post.ID), resp.Header.Get("Location"))

	got, err := db.GetPost(context.Background(), post.ID)
	require.NoError(t, err)
	assert.Equal(t, "untouchable", got.Text)
	assert.Equal(t, author.ID, got.AuthorID)
	assert.Nil(t, got.GroupID)
}

func TestEditPostByAuthor(t *testing.T) {
	ts, db := newTestServer(t)
	author := createTestUser(t, db, "writer")
	post := createTestPost(t, db, author, "first draft", nil)
	orig, err := db.GetPost(context.Background(), post.ID)
	require.NoError(t, err)

	client := newTestClient(t)
	login(t, ts, client, "writer")

	resp, err := client.PostForm(ts.URL+postURL(post.ID)+"edit/", url.Values{"text": {"second draft"}})
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, postURL(post.ID), resp.Header.Get("Location"))

	got, err := db.GetPost(context.Background(), post.ID)
	require.NoError(t, err)
	assert.Equal(t, "second draft", got.Text)
	assert.Equal(t, orig.ID, got.ID)
	assert.Equal(t, orig.AuthorID, got.AuthorID)
	assert.WithinDuration(t, orig.PubDate, got.PubDate, time.Microsecond)
}

func TestAddComment(t *testing.T) {
	ts, db := newTestServer(t)
	ctx := context.Background()
	author := createTestUser(t, db, "writer")
	createTestUser(t, db, "reader")
	post := createTestPost(t, db, author, "discuss", nil)

	// Anonymous submission: redirect to login, nothing persisted.
	anon := newTestClient(t)
	resp, err := anon.PostForm(ts.URL+postURL(post.ID)+"comment/", url.Values{"text": {"first!"}})
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	count, err := db.CountComments(ctx, post.ID)
	require.NoError(t, err)
	assert.Zero(t, count)

	client := newTestClient(t)
	login(t, ts, client, "reader")

	resp, err = client.PostForm(ts.URL+postURL(post.ID)+"comment/", url.Values{"text": {"well said"}})
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, postURL(post.ID), resp.Header.Get("Location"))

	count, err = db.CountComments(ctx, post.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// An empty comment is dropped silently: same redirect, no new row.
	resp, err = client.PostForm(ts.URL+postURL(post.ID)+"comment/", url.Values{"text": {""}})
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	count, err = db.CountComments(ctx, post.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestFollowUnfollowFlow(t *testing.T) {
	ts, db := newTestServer(t)
	ctx := context.Background()
	reader := createTestUser(t, db, "reader")
	author := createTestUser(t, db, "writer")

	client := newTestClient(t)
	login(t, ts, client, "reader")

	for i := 0; i < 2; i++ {
		resp, _ := get(t, client, ts.URL+"/profile/writer/follow/")
		assert.Equal(t, http.StatusFound, resp.StatusCode)
		assert.Equal(t, "/profile/writer/", resp.Header.Get("Location"))
	}
	var edges int
	require.NoError(t, db.pool.QueryRow(ctx, `SELECT COUNT(*) FROM follows`).Scan(&edges))
	assert.Equal(t, 1, edges, "repeat follow must not duplicate the edge")

	// Self-follow is a silent no-op.
	self := newTestClient(t)
	login(t, ts, self, "writer")
	resp, _ := get(t, self, ts.URL+"/profile/writer/follow/")
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	following, err := db.IsFollowing(ctx, author.ID, author.ID)
	require.NoError(t, err)
	assert.False(t, following)

	resp, _ = get(t, client, ts.URL+"/profile/writer/unfollow/")
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	following, err = db.IsFollowing(ctx, reader.ID, author.ID)
	require.NoError(t, err)
	assert.False(t, following)

	// No edge left to delete.
	resp, _ = get(t, client, ts.URL+"/profile/writer/unfollow/")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestFollowFeed(t *testing.T) {
	ts, db := newTestServer(t)
	ctx := context.Background()
	reader := createTestUser(t, db, "reader")
	followed := createTestUser(t, db, "followed")
	stranger := createTestUser(t, db, "stranger")
	createTestPost(t, db, followed, "feed me", nil)
	createTestPost(t, db, stranger, "invisible", nil)
	require.NoError(t, db.FollowAuthor(ctx, reader.ID, followed.ID))

	client := newTestClient(t)
	login(t, ts, client, "reader")

	resp, body := get(t, client, ts.URL+"/follow/")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "feed me")
	assert.NotContains(t, body, "invisible")
}

func TestUnknownGroupAndProfileReturn404(t *testing.T) {
	ts, _ := newTestServer(t)
	client := newTestClient(t)

	resp, body := get(t, client, ts.URL+"/group/no-such-group/")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, body, "/group/no-such-group/")

	resp, _ = get(t, client, ts.URL+"/profile/nobody/")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = get(t, client, ts.URL+"/posts/123456/")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestIndexCacheServesStalePage(t *testing.T) {
	ts, db := newTestServer(t)
	ctx := context.Background()
	author := createTestUser(t, db, "writer")
	createTestPost(t, db, author, "the only post", nil)

	client := newTestClient(t)
	_, before := get(t, client, ts.URL+"/")
	assert.Contains(t, before, "the only post")

	// A post created and deleted inside the caching interval must not show.
	extra := createTestPost(t, db, author, "blink and you miss it", nil)
	require.NoError(t, db.DeletePost(ctx, extra.ID))

	_, after := get(t, client, ts.URL+"/")
	assert.Equal(t, before, after, "cached index must be byte-identical within the TTL")
}

// TestIndexCacheIsPerSession guards against one viewer's cached page, navbar
// and all, being served to a different session.
func TestIndexCacheIsPerSession(t *testing.T) {
	ts, db := newTestServer(t)
	author := createTestUser(t, db, "writer")
	createTestPost(t, db, author, "shared post", nil)

	client := newTestClient(t)
	login(t, ts, client, "writer")
	_, loggedIn := get(t, client, ts.URL+"/")
	assert.Contains(t, loggedIn, "shared post")
	assert.Contains(t, loggedIn, "Log out", "the author sees their own navbar")

	// An anonymous visitor right behind them must get an anonymous page.
	anon := newTestClient(t)
	_, anonBody := get(t, anon, ts.URL+"/")
	assert.Contains(t, anonBody, "shared post")
	assert.NotContains(t, anonBody, "Log out")
	assert.Contains(t, anonBody, "Log in")
}
