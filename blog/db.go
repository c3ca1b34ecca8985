// blog/db.go
package blog

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// The ON DELETE actions mirror the domain rules: posts and comments die with
// their author, comments die with their post, a deleted group only detaches
// its posts. The UNIQUE constraint on follows makes the follow operation safe
// to repeat.
const schema = `
CREATE TABLE IF NOT EXISTS users (
    id UUID PRIMARY KEY,
    username TEXT NOT NULL UNIQUE,
    email TEXT NOT NULL UNIQUE,
    hash BYTEA NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE TABLE IF NOT EXISTS groups (
    id SERIAL PRIMARY KEY,
    title TEXT NOT NULL,
    slug TEXT NOT NULL UNIQUE,
    description TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS posts (
    id SERIAL PRIMARY KEY,
    text TEXT NOT NULL,
    pub_date TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    author_id UUID NOT NULL,
    group_id INTEGER,
    image TEXT NOT NULL DEFAULT '',
    CONSTRAINT fk_post_author
        FOREIGN KEY(author_id)
        REFERENCES users(id)
        ON DELETE CASCADE,
    CONSTRAINT fk_post_group
        FOREIGN KEY(group_id)
        REFERENCES groups(id)
        ON DELETE SET NULL
);
CREATE TABLE IF NOT EXISTS comments (
    id SERIAL PRIMARY KEY,
    post_id INTEGER NOT NULL,
    author_id UUID NOT NULL,
    text TEXT NOT NULL,
    created TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    CONSTRAINT fk_comment_post
        FOREIGN KEY(post_id)
        REFERENCES posts(id)
        ON DELETE CASCADE,
    CONSTRAINT fk_comment_author
        FOREIGN KEY(author_id)
        REFERENCES users(id)
        ON DELETE CASCADE
);
CREATE TABLE IF NOT EXISTS follows (
    user_id UUID NOT NULL,
    author_id UUID NOT NULL,
    CONSTRAINT fk_follow_user
        FOREIGN KEY(user_id)
        REFERENCES users(id)
        ON DELETE CASCADE,
    CONSTRAINT fk_follow_author
        FOREIGN KEY(author_id)
        REFERENCES users(id)
        ON DELETE CASCADE,
    CONSTRAINT uq_follow UNIQUE (user_id, author_id)
);
CREATE INDEX IF NOT EXISTS idx_posts_on_pub_date ON posts(pub_date DESC);
CREATE INDEX IF NOT EXISTS idx_posts_on_author_id ON posts(author_id);
CREATE INDEX IF NOT EXISTS idx_posts_on_group_id ON posts(group_id);
CREATE INDEX IF NOT EXISTS idx_comments_on_post_id ON comments(post_id);
`

// Every post listing joins the author's username and the group label so one
// query feeds a whole template page.
const postColumns = `p.id, p.text, p.pub_date, p.author_id, u.username,
       p.group_id, COALESCE(g.title, ''), COALESCE(g.slug, ''), p.image
FROM posts p
JOIN users u ON u.id = p.author_id
LEFT JOIN groups g ON g.id = p.group_id`

type Database struct {
	pool *pgxpool.Pool
}

func NewDatabase(connectionString string) (*Database, error) {
	pool, err := pgxpool.New(context.Background(), connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Database{pool: pool}, nil
}

func (d *Database) CreateTables() error {
	_, err := d.pool.Exec(context.Background(), schema)
	return err
}

func (d *Database) Close() {
	d.pool.Close()
}

// --- User Functions ---

func (d *Database) CreateUser(ctx context.Context, user *User) error {
	query := `INSERT INTO users (id, username, email, hash, created_at) VALUES ($1, $2, $3, $4, $5)`
	_, err := d.pool.Exec(ctx, query, user.ID, user.Username, user.Email, user.Hash, user.Created)
	return err
}

func (d *Database) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	var user User
	query := `SELECT id, username, email, hash, created_at FROM users WHERE username = $1`
	row := d.pool.QueryRow(ctx, query, username)
	err := row.Scan(&user.ID, &user.Username, &user.Email, &user.Hash, &user.Created)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil // Return nil, nil for not found
	}
	return &user, err
}

func (d *Database) GetUserByID(ctx context.Context, id string) (*User, error) {
	var user User
	query := `SELECT id, username, email, hash, created_at FROM users WHERE id = $1`
	row := d.pool.QueryRow(ctx, query, id)
	err := row.Scan(&user.ID, &user.Username, &user.Email, &user.Hash, &user.Created)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return &user, err
}

func (d *Database) DeleteUser(ctx context.Context, id string) error {
	_, err := d.pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	return err
}

// --- Group Functions ---

// CreateGroup is idempotent on slug so the seed path can run repeatedly.
func (d *Database) CreateGroup(ctx context.Context, group *Group) error {
	query := `INSERT INTO groups (title, slug, description) VALUES ($1, $2, $3)
              ON CONFLICT (slug) DO UPDATE SET title = EXCLUDED.title, description = EXCLUDED.description
              RETURNING id`
	return d.pool.QueryRow(ctx, query, group.Title, group.Slug, group.Description).Scan(&group.ID)
}

func (d *Database) GetGroupBySlug(ctx context.Context, slug string) (*Group, error) {
	var group Group
	query := `SELECT id, title, slug, description FROM groups WHERE slug = $1`
	row := d.pool.QueryRow(ctx, query, slug)
	err := row.Scan(&group.ID, &group.Title, &group.Slug, &group.Description)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return &group, err
}

func (d *Database) GetGroupByID(ctx context.Context, id int64) (*Group, error) {
	var group Group
	query := `SELECT id, title, slug, description FROM groups WHERE id = $1`
	row := d.pool.QueryRow(ctx, query, id)
	err := row.Scan(&group.ID, &group.Title, &group.Slug, &group.Description)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return &group, err
}

func (d *Database) ListGroups(ctx context.Context) ([]Group, error) {
	rows, err := d.pool.Query(ctx, `SELECT id, title, slug, description FROM groups ORDER BY title`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var groups []Group
	for rows.Next() {
		var g Group
		if err := rows.Scan(&g.ID, &g.Title, &g.Slug, &g.Description); err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

func (d *Database) DeleteGroup(ctx context.Context, id int64) error {
	_, err := d.pool.Exec(ctx, `DELETE FROM groups WHERE id = $1`, id)
	return err
}

// --- Post Functions ---

func (d *Database) CreatePost(ctx context.Context, post *Post) error {
	query := `INSERT INTO posts (text, pub_date, author_id, group_id, image) VALUES ($1, $2, $3, $4, $5) RETURNING id`
	return d.pool.QueryRow(ctx, query, post.Text, post.PubDate, post.AuthorID, post.GroupID, post.Image).Scan(&post.ID)
}

// UpdatePost only touches the editable fields. Author and publication date
// are fixed at creation time.
func (d *Database) UpdatePost(ctx context.Context, post *Post) error {
	query := `UPDATE posts SET text = $1, group_id = $2, image = $3 WHERE id = $4`
	_, err := d.pool.Exec(ctx, query, post.Text, post.GroupID, post.Image, post.ID)
	return err
}

func (d *Database) GetPost(ctx context.Context, id int64) (*Post, error) {
	var p Post
	query := `SELECT ` + postColumns + ` WHERE p.id = $1`
	row := d.pool.QueryRow(ctx, query, id)
	err := row.Scan(&p.ID, &p.Text, &p.PubDate, &p.AuthorID, &p.Author,
		&p.GroupID, &p.GroupTitle, &p.GroupSlug, &p.Image)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return &p, err
}

func (d *Database) DeletePost(ctx context.Context, id int64) error {
	_, err := d.pool.Exec(ctx, `DELETE FROM posts WHERE id = $1`, id)
	return err
}

func (d *Database) listPosts(ctx context.Context, query string, args ...interface{}) ([]Post, error) {
	rows, err := d.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var posts []Post
	for rows.Next() {
		var p Post
		if err := rows.Scan(&p.ID, &p.Text, &p.PubDate, &p.AuthorID, &p.Author,
			&p.GroupID, &p.GroupTitle, &p.GroupSlug, &p.Image); err != nil {
			return nil, err
		}
		posts = append(posts, p)
	}
	return posts, rows.Err()
}

func (d *Database) ListPosts(ctx context.Context, limit, offset int) ([]Post, error) {
	query := `SELECT ` + postColumns + ` ORDER BY p.pub_date DESC, p.id DESC LIMIT $1 OFFSET $2`
	return d.listPosts(ctx, query, limit, offset)
}

func (d *Database) ListPostsByGroup(ctx context.Context, groupID int64, limit, offset int) ([]Post, error) {
	query := `SELECT ` + postColumns + ` WHERE p.group_id = $1 ORDER BY p.pub_date DESC, p.id DESC LIMIT $2 OFFSET $3`
	return d.listPosts(ctx, query, groupID, limit, offset)
}

func (d *Database) ListPostsByAuthor(ctx context.Context, authorID string, limit, offset int) ([]Post, error) {
	query := `SELECT ` + postColumns + ` WHERE p.author_id = $1 ORDER BY p.pub_date DESC, p.id DESC LIMIT $2 OFFSET $3`
	return d.listPosts(ctx, query, authorID, limit, offset)
}

// ListFeedPosts returns posts authored by anyone userID follows.
func (d *Database) ListFeedPosts(ctx context.Context, userID string, limit, offset int) ([]Post, error) {
	query := `SELECT ` + postColumns + `
              JOIN follows f ON f.author_id = p.author_id
              WHERE f.user_id = $1
              ORDER BY p.pub_date DESC, p.id DESC LIMIT $2 OFFSET $3`
	return d.listPosts(ctx, query, userID, limit, offset)
}

func (d *Database) CountPosts(ctx context.Context) (int, error) {
	var count int
	err := d.pool.QueryRow(ctx, `SELECT COUNT(*) FROM posts`).Scan(&count)
	return count, err
}

func (d *Database) CountPostsByGroup(ctx context.Context, groupID int64) (int, error) {
	var count int
	err := d.pool.QueryRow(ctx, `SELECT COUNT(*) FROM posts WHERE group_id = $1`, groupID).Scan(&count)
	return count, err
}

func (d *Database) CountPostsByAuthor(ctx context.Context, authorID string) (int, error) {
	var count int
	err := d.pool.QueryRow(ctx, `SELECT COUNT(*) FROM posts WHERE author_id = $1`, authorID).Scan(&count)
	return count, err
}

func (d *Database) CountFeedPosts(ctx context.Context, userID string) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM posts p JOIN follows f ON f.author_id = p.author_id WHERE f.user_id = $1`
	err := d.pool.QueryRow(ctx, query, userID).Scan(&count)
	return count, err
}

// --- Comment Functions ---

func (d *Database) CreateComment(ctx context.Context, comment *Comment) error {
	query := `INSERT INTO comments (post_id, author_id, text, created) VALUES ($1, $2, $3, $4) RETURNING id`
	return d.pool.QueryRow(ctx, query, comment.PostID, comment.AuthorID, comment.Text, comment.Created).Scan(&comment.ID)
}

func (d *Database) ListComments(ctx context.Context, postID int64) ([]Comment, error) {
	query := `SELECT c.id, c.post_id, c.author_id, u.username, c.text, c.created
              FROM comments c
              JOIN users u ON u.id = c.author_id
              WHERE c.post_id = $1
              ORDER BY c.created DESC, c.id DESC`
	rows, err := d.pool.Query(ctx, query, postID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var comments []Comment
	for rows.Next() {
		var c Comment
		if err := rows.Scan(&c.ID, &c.PostID, &c.AuthorID, &c.Author, &c.Text, &c.Created); err != nil {
			return nil, err
		}
		comments = append(comments, c)
	}
	return comments, rows.Err()
}

func (d *Database) CountComments(ctx context.Context, postID int64) (int, error) {
	var count int
	err := d.pool.QueryRow(ctx, `SELECT COUNT(*) FROM comments WHERE post_id = $1`, postID).Scan(&count)
	return count, err
}

// --- Follow Functions ---

// FollowAuthor creates the edge if it does not exist. The unique constraint
// plus ON CONFLICT makes concurrent repeats collapse to a single row.
func (d *Database) FollowAuthor(ctx context.Context, userID, authorID string) error {
	query := `INSERT INTO follows (user_id, author_id) VALUES ($1, $2) ON CONFLICT (user_id, author_id) DO NOTHING`
	_, err := d.pool.Exec(ctx, query, userID, authorID)
	return err
}

// UnfollowAuthor reports whether an edge was actually deleted.
func (d *Database) UnfollowAuthor(ctx context.Context, userID, authorID string) (bool, error) {
	tag, err := d.pool.Exec(ctx, `DELETE FROM follows WHERE user_id = $1 AND author_id = $2`, userID, authorID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (d *Database) IsFollowing(ctx context.Context, userID, authorID string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS(SELECT 1 FROM follows WHERE user_id = $1 AND author_id = $2)`
	err := d.pool.QueryRow(ctx, query, userID, authorID).Scan(&exists)
	return exists, err
}

func (d *Database) CountFollowers(ctx context.Context, authorID string) (int, error) {
	var count int
	err := d.pool.QueryRow(ctx, `SELECT COUNT(*) FROM follows WHERE author_id = $1`, authorID).Scan(&count)
	return count, err
}
