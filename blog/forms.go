// blog/forms.go
package blog

import (
	"net/http"
	"strconv"
	"strings"
)

const maxUploadSize = 10 << 20

// PostForm binds and validates the post submission fields. Text is required;
// group and image are optional. Author and publication date are the caller's
// business, never the form's.
type PostForm struct {
	Text    string
	GroupID *int64
	Image   string
	Groups  []Group
	Errors  map[string]string
}

func (f *PostForm) Bind(r *http.Request) error {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(maxUploadSize); err != nil {
			return err
		}
	} else if err := r.ParseForm(); err != nil {
		return err
	}
	f.Errors = map[string]string{}
	f.Text = strings.TrimSpace(r.PostFormValue("text"))
	if raw := r.PostFormValue("group"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			f.Errors["group"] = "Select a valid group."
		} else {
			f.GroupID = &id
		}
	}
	return nil
}

// GroupSelected reports whether the form currently points at the given
// group. Used by the group select box.
func (f PostForm) GroupSelected(id int64) bool {
	return f.GroupID != nil && *f.GroupID == id
}

func (f *PostForm) Valid() bool {
	if f.Errors == nil {
		f.Errors = map[string]string{}
	}
	if f.Text == "" {
		f.Errors["text"] = "This field is required."
	}
	return len(f.Errors) == 0
}

// CommentForm carries the single comment field.
type CommentForm struct {
	Text   string
	Errors map[string]string
}

func (f *CommentForm) Bind(r *http.Request) error {
	if err := r.ParseForm(); err != nil {
		return err
	}
	f.Errors = map[string]string{}
	f.Text = strings.TrimSpace(r.PostFormValue("text"))
	return nil
}

func (f *CommentForm) Valid() bool {
	if f.Errors == nil {
		f.Errors = map[string]string{}
	}
	if f.Text == "" {
		f.Errors["text"] = "This field is required."
	}
	return len(f.Errors) == 0
}
