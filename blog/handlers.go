// blog/handlers.go
package blog

import (
	"bytes"
	"errors"
	"html/template"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/alexedwards/scs/v2"
	"github.com/google/uuid"
	"github.com/justinas/nosurf"
)

const sessionUserKey = "userID"

// baseData is embedded in every view data struct.
type baseData struct {
	User      *User
	CSRFToken string
}

// IndexViewData is the data structure for the main post listing.
type IndexViewData struct {
	baseData
	Posts      []Post
	Pagination Pagination
}

// GroupViewData is the data structure for a single group's post listing.
type GroupViewData struct {
	baseData
	Group      *Group
	Posts      []Post
	Pagination Pagination
}

// ProfileViewData is the data structure for an author's page.
type ProfileViewData struct {
	baseData
	Author     *User
	Posts      []Post
	Pagination Pagination
	PostCount  int
	Following  bool
}

// PostViewData is the data structure for the post detail page.
type PostViewData struct {
	baseData
	Post     *Post
	Comments []Comment
	Form     CommentForm
}

// PostFormViewData backs both the create and the edit form.
type PostFormViewData struct {
	baseData
	Form   PostForm
	IsEdit bool
	PostID int64
}

// FeedViewData is the data structure for the followed-authors feed.
type FeedViewData struct {
	baseData
	Posts      []Post
	Pagination Pagination
}

// ErrorViewData backs the static error pages.
type ErrorViewData struct {
	baseData
	Path string
}

type Handlers struct {
	db        *Database
	templates *template.Template
	cache     PageCache
	cfg       *Config
	media     http.Handler
	Session   *scs.SessionManager
}

func NewHandlers(db *Database, cache PageCache, cfg *Config) (*Handlers, error) {
	tpl, err := template.New("").
		Funcs(template.FuncMap{"truncate": Truncate}).
		ParseGlob(filepath.Join(cfg.TemplateDir, "*.html"))
	if err != nil {
		return nil, err
	}
	session := scs.New()
	session.Lifetime = cfg.SessionTTL
	return &Handlers{
		db:        db,
		templates: tpl,
		cache:     cache,
		cfg:       cfg,
		media:     http.StripPrefix("/media/", http.FileServer(http.Dir(cfg.MediaRoot))),
		Session:   session,
	}, nil
}

func (h *Handlers) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", h.index)
	mux.HandleFunc("GET /group/{slug}/{$}", h.groupPosts)
	mux.HandleFunc("GET /profile/{username}/{$}", h.profile)
	mux.HandleFunc("GET /posts/{id}/{$}", h.postDetail)
	mux.HandleFunc("GET /create/{$}", h.postCreateForm)
	mux.HandleFunc("POST /create/{$}", h.postCreate)
	mux.HandleFunc("GET /posts/{id}/edit/{$}", h.postEditForm)
	mux.HandleFunc("POST /posts/{id}/edit/{$}", h.postEdit)
	mux.HandleFunc("POST /posts/{id}/comment/{$}", h.addComment)
	mux.HandleFunc("GET /follow/{$}", h.followIndex)
	mux.HandleFunc("GET /profile/{username}/follow/{$}", h.profileFollow)
	mux.HandleFunc("GET /profile/{username}/unfollow/{$}", h.profileUnfollow)
	mux.HandleFunc("GET /auth/signup/{$}", h.signupForm)
	mux.HandleFunc("POST /auth/signup/{$}", h.signup)
	mux.HandleFunc("GET /auth/login/{$}", h.loginForm)
	mux.HandleFunc("POST /auth/login/{$}", h.login)
	mux.HandleFunc("GET /auth/logout/{$}", h.logout)
	mux.HandleFunc("GET /media/", h.serveMedia)
	mux.HandleFunc("/", h.pageNotFound)
}

// currentUser resolves the session to a user, or nil for anonymous visitors.
func (h *Handlers) currentUser(r *http.Request) *User {
	id := h.Session.GetString(r.Context(), sessionUserKey)
	if id == "" {
		return nil
	}
	user, err := h.db.GetUserByID(r.Context(), id)
	if err != nil {
		log.Printf("Error loading session user: %v", err)
		return nil
	}
	return user
}

func (h *Handlers) base(r *http.Request) baseData {
	return baseData{User: h.currentUser(r), CSRFToken: nosurf.Token(r)}
}

func (h *Handlers) redirectToLogin(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/auth/login/?next="+url.QueryEscape(r.URL.RequestURI()), http.StatusFound)
}

// render buffers the template so a failure can still become a clean 500 and
// so callers can hand the rendered page to the cache.
func (h *Handlers) render(w http.ResponseWriter, status int, name string, data interface{}) []byte {
	var buf bytes.Buffer
	if err := h.templates.ExecuteTemplate(&buf, name, data); err != nil {
		log.Printf("Error executing template %s: %v", name, err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return nil
	}
	// Grab the bytes before writing: WriteTo would drain the buffer.
	page := buf.Bytes()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if _, err := w.Write(page); err != nil {
		log.Printf("Error writing response: %v", err)
	}
	return page
}

func parsePostID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	return id, err == nil
}

// index lists all posts, newest first. Whole rendered pages are cached for a
// short interval. The page embeds the viewer's navbar, so the key carries the
// viewer identity as well as the page number; sessions never share entries.
func (h *Handlers) index(w http.ResponseWriter, r *http.Request) {
	viewer := h.Session.GetString(r.Context(), sessionUserKey)
	key := "page:index:" + viewer + ":" + r.URL.Query().Get("page")
	if page, ok := h.cache.Get(r.Context(), key); ok {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write(page)
		return
	}

	total, err := h.db.CountPosts(r.Context())
	if err != nil {
		h.serverError(w, r, err)
		return
	}
	pg := Paginate(r.URL.Query().Get("page"), total, h.cfg.PageSize)
	posts, err := h.db.ListPosts(r.Context(), h.cfg.PageSize, pg.Offset(h.cfg.PageSize))
	if err != nil {
		h.serverError(w, r, err)
		return
	}

	data := IndexViewData{baseData: h.base(r), Posts: posts, Pagination: pg}
	if page := h.render(w, http.StatusOK, "index.html", data); page != nil {
		if err := h.cache.Set(r.Context(), key, page); err != nil {
			log.Printf("Error caching index page: %v", err)
		}
	}
}

// groupPosts lists the posts of one group.
func (h *Handlers) groupPosts(w http.ResponseWriter, r *http.Request) {
	group, err := h.db.GetGroupBySlug(r.Context(), r.PathValue("slug"))
	if err != nil {
		h.serverError(w, r, err)
		return
	}
	if group == nil {
		h.pageNotFound(w, r)
		return
	}

	total, err := h.db.CountPostsByGroup(r.Context(), group.ID)
	if err != nil {
		h.serverError(w, r, err)
		return
	}
	pg := Paginate(r.URL.Query().Get("page"), total, h.cfg.PageSize)
	posts, err := h.db.ListPostsByGroup(r.Context(), group.ID, h.cfg.PageSize, pg.Offset(h.cfg.PageSize))
	if err != nil {
		h.serverError(w, r, err)
		return
	}

	h.render(w, http.StatusOK, "group_list.html", GroupViewData{
		baseData:   h.base(r),
		Group:      group,
		Posts:      posts,
		Pagination: pg,
	})
}

// profile lists one author's posts plus whether the viewer follows them.
func (h *Handlers) profile(w http.ResponseWriter, r *http.Request) {
	author, err := h.db.GetUserByUsername(r.Context(), r.PathValue("username"))
	if err != nil {
		h.serverError(w, r, err)
		return
	}
	if author == nil {
		h.pageNotFound(w, r)
		return
	}

	total, err := h.db.CountPostsByAuthor(r.Context(), author.ID)
	if err != nil {
		h.serverError(w, r, err)
		return
	}
	pg := Paginate(r.URL.Query().Get("page"), total, h.cfg.PageSize)
	posts, err := h.db.ListPostsByAuthor(r.Context(), author.ID, h.cfg.PageSize, pg.Offset(h.cfg.PageSize))
	if err != nil {
		h.serverError(w, r, err)
		return
	}

	user := h.currentUser(r)
	following := false
	if user != nil {
		following, err = h.db.IsFollowing(r.Context(), user.ID, author.ID)
		if err != nil {
			h.serverError(w, r, err)
			return
		}
	}

	h.render(w, http.StatusOK, "profile.html", ProfileViewData{
		baseData:   baseData{User: user, CSRFToken: nosurf.Token(r)},
		Author:     author,
		Posts:      posts,
		Pagination: pg,
		PostCount:  total,
		Following:  following,
	})
}

// postDetail shows one post, its comments newest first, and an empty comment
// form.
func (h *Handlers) postDetail(w http.ResponseWriter, r *http.Request) {
	id, ok := parsePostID(r)
	if !ok {
		h.pageNotFound(w, r)
		return
	}
	post, err := h.db.GetPost(r.Context(), id)
	if err != nil {
		h.serverError(w, r, err)
		return
	}
	if post == nil {
		h.pageNotFound(w, r)
		return
	}
	comments, err := h.db.ListComments(r.Context(), post.ID)
	if err != nil {
		h.serverError(w, r, err)
		return
	}

	h.render(w, http.StatusOK, "post_detail.html", PostViewData{
		baseData: h.base(r),
		Post:     post,
		Comments: comments,
		Form:     CommentForm{Errors: map[string]string{}},
	})
}

func (h *Handlers) postCreateForm(w http.ResponseWriter, r *http.Request) {
	user := h.currentUser(r)
	if user == nil {
		h.redirectToLogin(w, r)
		return
	}
	groups, err := h.db.ListGroups(r.Context())
	if err != nil {
		h.serverError(w, r, err)
		return
	}
	h.render(w, http.StatusOK, "create_post.html", PostFormViewData{
		baseData: h.base(r),
		Form:     PostForm{Groups: groups, Errors: map[string]string{}},
	})
}

func (h *Handlers) postCreate(w http.ResponseWriter, r *http.Request) {
	user := h.currentUser(r)
	if user == nil {
		h.redirectToLogin(w, r)
		return
	}

	var form PostForm
	if err := form.Bind(r); err != nil {
		http.Error(w, "Failed to parse form", http.StatusBadRequest)
		return
	}
	if !h.checkGroup(w, r, &form) {
		return
	}
	image, err := h.saveImage(r)
	if err != nil {
		log.Printf("Error saving uploaded image: %v", err)
		form.Errors["image"] = "Could not save the uploaded file."
	}
	form.Image = image

	if !form.Valid() {
		groups, err := h.db.ListGroups(r.Context())
		if err != nil {
			h.serverError(w, r, err)
			return
		}
		form.Groups = groups
		h.render(w, http.StatusOK, "create_post.html", PostFormViewData{baseData: h.base(r), Form: form})
		return
	}

	post := &Post{
		Text:     form.Text,
		PubDate:  time.Now().UTC(),
		AuthorID: user.ID,
		GroupID:  form.GroupID,
		Image:    form.Image,
	}
	if err := h.db.CreatePost(r.Context(), post); err != nil {
		h.serverError(w, r, err)
		return
	}
	log.Printf("%s published post %q", user.Username, post)
	http.Redirect(w, r, "/profile/"+url.PathEscape(user.Username)+"/", http.StatusSeeOther)
}

func (h *Handlers) postEditForm(w http.ResponseWriter, r *http.Request) {
	user := h.currentUser(r)
	if user == nil {
		h.redirectToLogin(w, r)
		return
	}
	id, ok := parsePostID(r)
	if !ok {
		h.pageNotFound(w, r)
		return
	}
	post, err := h.db.GetPost(r.Context(), id)
	if err != nil {
		h.serverError(w, r, err)
		return
	}
	if post == nil {
		h.pageNotFound(w, r)
		return
	}
	// Not the author: back to the post, no error surfaced.
	if post.AuthorID != user.ID {
		http.Redirect(w, r, postURL(post.ID), http.StatusFound)
		return
	}
	groups, err := h.db.ListGroups(r.Context())
	if err != nil {
		h.serverError(w, r, err)
		return
	}
	h.render(w, http.StatusOK, "create_post.html", PostFormViewData{
		baseData: h.base(r),
		Form: PostForm{
			Text:    post.Text,
			GroupID: post.GroupID,
			Image:   post.Image,
			Groups:  groups,
			Errors:  map[string]string{},
		},
		IsEdit: true,
		PostID: post.ID,
	})
}

func (h *Handlers) postEdit(w http.ResponseWriter, r *http.Request) {
	user := h.currentUser(r)
	if user == nil {
		h.redirectToLogin(w, r)
		return
	}
	id, ok := parsePostID(r)
	if !ok {
		h.pageNotFound(w, r)
		return
	}
	post, err := h.db.GetPost(r.Context(), id)
	if err != nil {
		h.serverError(w, r, err)
		return
	}
	if post == nil {
		h.pageNotFound(w, r)
		return
	}
	if post.AuthorID != user.ID {
		http.Redirect(w, r, postURL(post.ID), http.StatusFound)
		return
	}

	var form PostForm
	if err := form.Bind(r); err != nil {
		http.Error(w, "Failed to parse form", http.StatusBadRequest)
		return
	}
	if !h.checkGroup(w, r, &form) {
		return
	}
	image, err := h.saveImage(r)
	if err != nil {
		log.Printf("Error saving uploaded image: %v", err)
		form.Errors["image"] = "Could not save the uploaded file."
	}
	if image == "" {
		image = post.Image // no new upload keeps the old one
	}
	form.Image = image

	if !form.Valid() {
		groups, err := h.db.ListGroups(r.Context())
		if err != nil {
			h.serverError(w, r, err)
			return
		}
		form.Groups = groups
		h.render(w, http.StatusOK, "create_post.html", PostFormViewData{
			baseData: h.base(r),
			Form:     form,
			IsEdit:   true,
			PostID:   post.ID,
		})
		return
	}

	post.Text = form.Text
	post.GroupID = form.GroupID
	post.Image = form.Image
	if err := h.db.UpdatePost(r.Context(), post); err != nil {
		h.serverError(w, r, err)
		return
	}
	http.Redirect(w, r, postURL(post.ID), http.StatusSeeOther)
}

// addComment attaches a comment to a post. An invalid form is dropped on the
// floor: the redirect happens either way.
func (h *Handlers) addComment(w http.ResponseWriter, r *http.Request) {
	user := h.currentUser(r)
	if user == nil {
		h.redirectToLogin(w, r)
		return
	}
	id, ok := parsePostID(r)
	if !ok {
		h.pageNotFound(w, r)
		return
	}
	post, err := h.db.GetPost(r.Context(), id)
	if err != nil {
		h.serverError(w, r, err)
		return
	}
	if post == nil {
		h.pageNotFound(w, r)
		return
	}

	var form CommentForm
	if err := form.Bind(r); err != nil {
		http.Error(w, "Failed to parse form", http.StatusBadRequest)
		return
	}
	if form.Valid() {
		comment := &Comment{
			PostID:   post.ID,
			AuthorID: user.ID,
			Text:     form.Text,
			Created:  time.Now().UTC(),
		}
		if err := h.db.CreateComment(r.Context(), comment); err != nil {
			h.serverError(w, r, err)
			return
		}
	}
	http.Redirect(w, r, postURL(post.ID), http.StatusSeeOther)
}

// followIndex lists posts from every author the viewer follows.
func (h *Handlers) followIndex(w http.ResponseWriter, r *http.Request) {
	user := h.currentUser(r)
	if user == nil {
		h.redirectToLogin(w, r)
		return
	}
	total, err := h.db.CountFeedPosts(r.Context(), user.ID)
	if err != nil {
		h.serverError(w, r, err)
		return
	}
	pg := Paginate(r.URL.Query().Get("page"), total, h.cfg.PageSize)
	posts, err := h.db.ListFeedPosts(r.Context(), user.ID, h.cfg.PageSize, pg.Offset(h.cfg.PageSize))
	if err != nil {
		h.serverError(w, r, err)
		return
	}
	h.render(w, http.StatusOK, "follow.html", FeedViewData{
		baseData:   baseData{User: user, CSRFToken: nosurf.Token(r)},
		Posts:      posts,
		Pagination: pg,
	})
}

// profileFollow subscribes the viewer to an author. Repeats and self-follows
// are no-ops.
func (h *Handlers) profileFollow(w http.ResponseWriter, r *http.Request) {
	user := h.currentUser(r)
	if user == nil {
		h.redirectToLogin(w, r)
		return
	}
	author, err := h.db.GetUserByUsername(r.Context(), r.PathValue("username"))
	if err != nil {
		h.serverError(w, r, err)
		return
	}
	if author == nil {
		h.pageNotFound(w, r)
		return
	}
	if author.ID != user.ID {
		if err := h.db.FollowAuthor(r.Context(), user.ID, author.ID); err != nil {
			h.serverError(w, r, err)
			return
		}
	}
	http.Redirect(w, r, "/profile/"+url.PathEscape(author.Username)+"/", http.StatusFound)
}

func (h *Handlers) profileUnfollow(w http.ResponseWriter, r *http.Request) {
	user := h.currentUser(r)
	if user == nil {
		h.redirectToLogin(w, r)
		return
	}
	author, err := h.db.GetUserByUsername(r.Context(), r.PathValue("username"))
	if err != nil {
		h.serverError(w, r, err)
		return
	}
	if author == nil {
		h.pageNotFound(w, r)
		return
	}
	deleted, err := h.db.UnfollowAuthor(r.Context(), user.ID, author.ID)
	if err != nil {
		h.serverError(w, r, err)
		return
	}
	if !deleted {
		h.pageNotFound(w, r)
		return
	}
	http.Redirect(w, r, "/profile/"+url.PathEscape(author.Username)+"/", http.StatusFound)
}

// serveMedia serves uploaded files. Directory requests are refused outright.
func (h *Handlers) serveMedia(w http.ResponseWriter, r *http.Request) {
	if strings.HasSuffix(r.URL.Path, "/") {
		h.forbidden(w, r)
		return
	}
	h.media.ServeHTTP(w, r)
}

// checkGroup verifies a submitted group id against the store, recording a
// field error when it points nowhere. Returns false only on a store failure.
func (h *Handlers) checkGroup(w http.ResponseWriter, r *http.Request, form *PostForm) bool {
	if form.GroupID == nil {
		return true
	}
	group, err := h.db.GetGroupByID(r.Context(), *form.GroupID)
	if err != nil {
		h.serverError(w, r, err)
		return false
	}
	if group == nil {
		form.GroupID = nil
		form.Errors["group"] = "Select a valid group."
	}
	return true
}

// saveImage stores an uploaded post image under the media root and returns
// its relative path, or "" when nothing was uploaded.
func (h *Handlers) saveImage(r *http.Request) (string, error) {
	if r.MultipartForm == nil {
		return "", nil
	}
	file, header, err := r.FormFile("image")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return "", nil
		}
		return "", err
	}
	defer file.Close()

	dir := filepath.Join(h.cfg.MediaRoot, "posts")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	name := uuid.New().String() + filepath.Ext(header.Filename)
	dst, err := os.Create(filepath.Join(dir, name))
	if err != nil {
		return "", err
	}
	defer dst.Close()
	if _, err := io.Copy(dst, file); err != nil {
		return "", err
	}
	return path.Join("posts", name), nil
}

func postURL(id int64) string {
	return "/posts/" + strconv.FormatInt(id, 10) + "/"
}

// --- Error pages ---

func (h *Handlers) pageNotFound(w http.ResponseWriter, r *http.Request) {
	h.render(w, http.StatusNotFound, "404.html", ErrorViewData{baseData: h.base(r), Path: r.URL.Path})
}

func (h *Handlers) forbidden(w http.ResponseWriter, r *http.Request) {
	h.render(w, http.StatusForbidden, "403.html", ErrorViewData{baseData: h.base(r), Path: r.URL.Path})
}

// CSRFFailure is installed as the nosurf failure handler.
func (h *Handlers) CSRFFailure(w http.ResponseWriter, r *http.Request) {
	h.render(w, http.StatusForbidden, "403csrf.html", ErrorViewData{baseData: h.base(r), Path: r.URL.Path})
}

func (h *Handlers) serverError(w http.ResponseWriter, r *http.Request, err error) {
	log.Printf("Error handling %s %s: %v", r.Method, r.URL.Path, err)
	h.render(w, http.StatusInternalServerError, "500.html", ErrorViewData{baseData: h.base(r), Path: r.URL.Path})
}
