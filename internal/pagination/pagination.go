// Package pagination holds the keyset page shape shared by the list endpoints
// and the clients that walk them.
package pagination

// DefaultPageSize is the number of items every list endpoint delivers per page.
const DefaultPageSize = 10

// Page is one bounded slice of a list plus the continuation token for the
// next slice. NextCursor is nil iff this is the final page.
type Page[T any] struct {
	Items      []T     `json:"items"`
	NextCursor *string `json:"nextCursor"`
}

// HasMore reports whether another page can be requested after this one.
func (p Page[T]) HasMore() bool {
	return p.NextCursor != nil
}

// Limit returns how many rows a store should fetch to build a page of
// pageSize items: one extra row tells us whether a next page exists without a
// second round trip.
func Limit(pageSize int) int {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return pageSize + 1
}

// FromOverfetch turns up to pageSize+1 rows into a page. When the extra row is
// present its id becomes NextCursor and it is not delivered.
func FromOverfetch[T any](rows []T, pageSize int, idOf func(T) string) Page[T] {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if len(rows) > pageSize {
		next := idOf(rows[pageSize])
		return Page[T]{Items: rows[:pageSize:pageSize], NextCursor: &next}
	}
	if rows == nil {
		rows = []T{}
	}
	return Page[T]{Items: rows}
}

// Map converts the items of a page while keeping its cursor.
func Map[T, U any](p Page[T], fn func(T) U) Page[U] {
	out := make([]U, 0, len(p.Items))
	for _, item := range p.Items {
		out = append(out, fn(item))
	}
	return Page[U]{Items: out, NextCursor: p.NextCursor}
}
