// blog/paginate.go
package blog

import "strconv"

// Truncate shortens text to limit runes, marking the cut with an ellipsis.
// Used for human-readable labels only.
func Truncate(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit]) + "…"
}

// Pagination holds all the necessary info for rendering pagination controls.
type Pagination struct {
	CurrentPage int
	TotalPages  int
	NextPage    int
	PrevPage    int
	HasNext     bool
	HasPrev     bool
}

// Paginate resolves a raw ?page= value against a total item count. Anything
// unparseable or below 1 means page 1; past-the-end pages clamp to the last
// page, so out-of-range requests never fail.
func Paginate(pageParam string, total, pageSize int) Pagination {
	page, err := strconv.Atoi(pageParam)
	if err != nil || page < 1 {
		page = 1
	}
	totalPages := (total + pageSize - 1) / pageSize
	if totalPages < 1 {
		totalPages = 1
	}
	if page > totalPages {
		page = totalPages
	}
	return Pagination{
		CurrentPage: page,
		TotalPages:  totalPages,
		NextPage:    page + 1,
		PrevPage:    page - 1,
		HasNext:     page < totalPages,
		HasPrev:     page > 1,
	}
}

// Offset is the LIMIT/OFFSET companion of the resolved page.
func (p Pagination) Offset(pageSize int) int {
	return (p.CurrentPage - 1) * pageSize
}
