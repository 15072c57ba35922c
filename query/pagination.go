package query

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/adapt-security/adapt-authoring-api/db"
)

// Pagination response headers.
const (
	HeaderPage      = "X-Adapt-Page"
	HeaderPageSize  = "X-Adapt-PageSize"
	HeaderPageTotal = "X-Adapt-PageTotal"
)

// Page is the resolved pagination plan for one request.
type Page struct {
	Number int // 1-based, clamped to [1, Total]
	Size   int
	Total  int
	Skip   int
}

// Paginate resolves a page plan for docCount matching documents. The
// requested limit is capped at maxSize, the page number is clamped to the
// available range, and an explicit skip always wins over the computed one.
func Paginate(docCount int, opts *Options, defaultSize, maxSize int) Page {
	size := defaultSize
	if opts != nil && opts.Limit != nil && *opts.Limit > 0 {
		size = *opts.Limit
	}
	if maxSize > 0 && size > maxSize {
		size = maxSize
	}
	if size <= 0 {
		size = 1
	}

	total := (docCount + size - 1) / size
	if total < 1 {
		total = 1
	}

	number := 1
	if opts != nil && opts.Page != nil && *opts.Page > 1 {
		number = *opts.Page
	}
	if number > total {
		number = total
	}

	skip := (number - 1) * size
	if opts != nil && opts.Skip != nil && *opts.Skip >= 0 {
		skip = *opts.Skip
	}

	return Page{Number: number, Size: size, Total: total, Skip: skip}
}

// StoreOptions builds the effective store options for the page, carrying the
// raw options' sort and collation through.
func (p Page) StoreOptions(opts *Options) *db.StoreOptions {
	out := &db.StoreOptions{Limit: p.Size, Skip: p.Skip}
	if opts != nil {
		out.Sort = opts.Sort
		out.Collation = opts.Collation
	}
	return out
}

// SetHeaders writes the pagination headers and, when there is more than one
// page, an RFC 5988 Link header built from the request URL.
func (p Page) SetHeaders(w http.ResponseWriter, reqURL *url.URL) {
	h := w.Header()
	h.Set(HeaderPage, strconv.Itoa(p.Number))
	h.Set(HeaderPageSize, strconv.Itoa(p.Size))
	h.Set(HeaderPageTotal, strconv.Itoa(p.Total))
	if p.Total > 1 {
		h.Set("Link", p.linkHeader(reqURL))
	}
}

// linkHeader builds first/prev/next/last relations from the request URL with
// its pagination parameters stripped and re-appended. first and prev are
// omitted on the first page, next and last on the last.
func (p Page) linkHeader(reqURL *url.URL) string {
	links := []string{}
	add := func(rel string, page int) {
		links = append(links, fmt.Sprintf("<%s>; rel=%q", pageURL(reqURL, page, p.Size), rel))
	}
	if p.Number > 1 {
		add("first", 1)
		add("prev", p.Number-1)
	}
	if p.Number < p.Total {
		add("next", p.Number+1)
		add("last", p.Total)
	}
	return strings.Join(links, ", ")
}

func pageURL(reqURL *url.URL, page, size int) string {
	u := *reqURL
	q := u.Query()
	q.Del("page")
	q.Del("limit")
	q.Del("skip")
	q.Set("page", strconv.Itoa(page))
	q.Set("limit", strconv.Itoa(size))
	u.RawQuery = q.Encode()
	return u.String()
}
