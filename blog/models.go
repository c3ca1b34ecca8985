// blog/models.go
package blog

import (
	"time"
)

// Label lengths used when models are rendered as log/admin labels.
const (
	maxLenTitle = 20
	maxLenText  = 15
)

// Group is a named category posts may belong to. Groups are created by an
// operator (see the server's -seed flag), never through the public surface.
type Group struct {
	ID          int64  `json:"id" db:"id"`
	Title       string `json:"title" db:"title"`
	Slug        string `json:"slug" db:"slug"`
	Description string `json:"description" db:"description"`
}

func (g Group) String() string {
	return Truncate(g.Title, maxLenTitle)
}

// Post is an authored, timestamped text entry. PubDate is set once at
// creation and never touched by edits. GroupID is nil for ungrouped posts;
// GroupTitle and GroupSlug are joined in by the store so templates need no
// extra lookups.
type Post struct {
	ID         int64     `json:"id" db:"id"`
	Text       string    `json:"text" db:"text"`
	PubDate    time.Time `json:"pub_date" db:"pub_date"`
	AuthorID   string    `json:"author_id" db:"author_id"`
	Author     string    `json:"author" db:"author"`
	GroupID    *int64    `json:"group_id" db:"group_id"`
	GroupTitle string    `json:"group_title" db:"group_title"`
	GroupSlug  string    `json:"group_slug" db:"group_slug"`
	Image      string    `json:"image" db:"image"`
}

func (p Post) String() string {
	return Truncate(p.Text, maxLenText)
}

// Comment is a timestamped reply on a post. Comments live and die with their
// post and their author.
type Comment struct {
	ID       int64     `json:"id" db:"id"`
	PostID   int64     `json:"post_id" db:"post_id"`
	AuthorID string    `json:"author_id" db:"author_id"`
	Author   string    `json:"author" db:"author"`
	Text     string    `json:"text" db:"text"`
	Created  time.Time `json:"created" db:"created"`
}

// Follow is a directed subscription edge: UserID follows AuthorID.
type Follow struct {
	UserID   string `json:"user_id" db:"user_id"`
	AuthorID string `json:"author_id" db:"author_id"`
}
