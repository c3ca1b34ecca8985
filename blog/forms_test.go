package blog

import (
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bindPostForm(t *testing.T, values url.Values) *PostForm {
	t.Helper()
	r := httptest.NewRequest("POST", "/create/", strings.NewReader(values.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	var form PostForm
	require.NoError(t, form.Bind(r))
	return &form
}

func TestPostFormRequiresText(t *testing.T) {
	form := bindPostForm(t, url.Values{"text": {"   "}})
	assert.False(t, form.Valid())
	assert.Contains(t, form.Errors, "text")
}

func TestPostFormGroupOptional(t *testing.T) {
	form := bindPostForm(t, url.Values{"text": {"a post"}})
	assert.True(t, form.Valid())
	assert.Nil(t, form.GroupID)
}

func TestPostFormBindsGroup(t *testing.T) {
	form := bindPostForm(t, url.Values{"text": {"a post"}, "group": {"7"}})
	assert.True(t, form.Valid())
	require.NotNil(t, form.GroupID)
	assert.Equal(t, int64(7), *form.GroupID)
}

func TestPostFormRejectsBadGroup(t *testing.T) {
	form := bindPostForm(t, url.Values{"text": {"a post"}, "group": {"not-a-number"}})
	assert.False(t, form.Valid())
	assert.Contains(t, form.Errors, "group")
}

func TestCommentFormRequiresText(t *testing.T) {
	r := httptest.NewRequest("POST", "/posts/1/comment/", strings.NewReader(url.Values{"text": {""}}.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	var form CommentForm
	require.NoError(t, form.Bind(r))
	assert.False(t, form.Valid())
	assert.Contains(t, form.Errors, "text")

	r = httptest.NewRequest("POST", "/posts/1/comment/", strings.NewReader(url.Values{"text": {"nice post"}}.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	require.NoError(t, form.Bind(r))
	assert.True(t, form.Valid())
	assert.Equal(t, "nice post", form.Text)
}
