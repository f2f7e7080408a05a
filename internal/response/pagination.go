package response

import (
	"strconv"

	"github.com/labstack/echo/v4"
)

// Pagination is echoed back by every list endpoint
type Pagination struct {
	Page    int   `json:"page"`
	PerPage int   `json:"per_page"`
	Total   int64 `json:"total"`
	Pages   int   `json:"pages"`
}

// NewPagination computes the page count for total rows
func NewPagination(page, perPage int, total int64) Pagination {
	pages := 0
	if perPage > 0 {
		pages = int((total + int64(perPage) - 1) / int64(perPage))
	}
	return Pagination{
		Page:    page,
		PerPage: perPage,
		Total:   total,
		Pages:   pages,
	}
}

// maxPage keeps the row offset far from overflow
const maxPage = 1_000_000

// Page is a parsed page/per_page pair
type Page struct {
	Page    int
	PerPage int
}

// Offset returns the number of rows to skip
func (p Page) Offset() int {
	return (p.Page - 1) * p.PerPage
}

// Meta builds the Pagination block for total rows
func (p Page) Meta(total int64) Pagination {
	return NewPagination(p.Page, p.PerPage, total)
}

// ParsePage reads page and per_page from the query string. page is at least 1
// and per_page is clamped to [1, max]; missing or malformed values use the
// defaults.
func ParsePage(c echo.Context, defaultPerPage, max int) Page {
	return Page{
		Page:    clampInt(c.QueryParam("page"), 1, 1, maxPage),
		PerPage: clampInt(c.QueryParam("per_page"), defaultPerPage, 1, max),
	}
}

// ParseLimit reads an integer query parameter clamped to [1, max]
func ParseLimit(c echo.Context, name string, def, max int) int {
	return clampInt(c.QueryParam(name), def, 1, max)
}

func clampInt(raw string, def, min, max int) int {
	v, err := strconv.Atoi(raw)
	if err != nil {
		v = def
	}
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
