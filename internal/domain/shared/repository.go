package shared

// Pagination holds page-based query options shared by list operations
type Pagination struct {
	Page     int
	PageSize int
}

// Normalize clamps page and page size into their accepted ranges
func (p Pagination) Normalize() Pagination {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PageSize < 1 {
		p.PageSize = 20
	}
	if p.PageSize > 100 {
		p.PageSize = 100
	}
	return p
}

// Offset returns the row offset for the page
func (p Pagination) Offset() int {
	return (p.Page - 1) * p.PageSize
}
