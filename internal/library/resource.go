package library

import (
	"fmt"
	"strings"
)

type Category string

const (
	CategoryBook     Category = "BOOK"
	CategoryMagazine Category = "MAGAZINE"
	CategoryAudio    Category = "AUDIO"
	CategoryOther    Category = "OTHER"
)

// ParseCategory accepts the category name in any case. Empty maps to OTHER.
func ParseCategory(s string) (Category, error) {
	switch c := Category(strings.ToUpper(strings.TrimSpace(s))); c {
	case CategoryBook, CategoryMagazine, CategoryAudio, CategoryOther:
		return c, nil
	case "":
		return CategoryOther, nil
	default:
		return "", fmt.Errorf("unknown category %q", s)
	}
}

type State string

const (
	StateAvailable State = "AVAILABLE"
	StateLoaned    State = "LOANED"
	StateReserved  State = "RESERVED"
)

// Capability is the set of lending actions a resource supports.
// It is fixed when the resource is constructed.
type Capability uint8

const (
	CapLoanable Capability = 1 << iota
	CapRenewable
)

func (c Capability) Has(x Capability) bool { return c&x == x }

func (c Capability) String() string {
	switch {
	case c.Has(CapLoanable | CapRenewable):
		return "loanable,renewable"
	case c.Has(CapLoanable):
		return "loanable"
	default:
		return "none"
	}
}

// Resource is a catalog item. Values returned by the registry are snapshots.
type Resource struct {
	ID       string
	Title    string
	Category Category
	State    State

	caps Capability
}

// New builds a resource with an explicit capability set. Renewable implies loanable.
func New(id, title string, cat Category, caps Capability) Resource {
	if caps.Has(CapRenewable) {
		caps |= CapLoanable
	}
	if cat == "" {
		cat = CategoryOther
	}
	return Resource{ID: id, Title: title, Category: cat, State: StateAvailable, caps: caps}
}

// NewBook returns a loanable, renewable book.
func NewBook(id, title string) Resource {
	return New(id, title, CategoryBook, CapLoanable|CapRenewable)
}

// NewAudiobook returns a loanable audiobook. Audiobook loans cannot be renewed.
func NewAudiobook(id, title string) Resource {
	return New(id, title, CategoryAudio, CapLoanable)
}

// NewMagazine returns a reference-only magazine.
func NewMagazine(id, title string) Resource {
	return New(id, title, CategoryMagazine, 0)
}

func (r Resource) Capabilities() Capability { return r.caps }
func (r Resource) Loanable() bool           { return r.caps.Has(CapLoanable) }
func (r Resource) Renewable() bool          { return r.caps.Has(CapRenewable) }
