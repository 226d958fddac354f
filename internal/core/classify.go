package core

import (
	"regexp"
)

// RefKind is the syntactic class of a song reference.
type RefKind int

const (
	// RefCatalogID is a 24-character hexadecimal catalog identifier.
	RefCatalogID RefKind = iota
	// RefExternalKey is a 10-15 character YouTube video identifier.
	RefExternalKey
	// RefFreeText is anything else, treated as a title query.
	RefFreeText
)

func (k RefKind) String() string {
	switch k {
	case RefCatalogID:
		return "catalog_id"
	case RefExternalKey:
		return "external_key"
	case RefFreeText:
		return "free_text"
	}
	return "unknown"
}

var (
	catalogIDRegex   = regexp.MustCompile(`^[0-9a-fA-F]{24}$`)
	externalKeyRegex = regexp.MustCompile(`^[A-Za-z0-9_-]{10,15}$`)
)

// Classify decides how a reference should be looked up. The decision is
// purely syntactic; a reference that could be either a video id or a short
// title classifies as an external key.
func Classify(ref string) RefKind {
	switch {
	case catalogIDRegex.MatchString(ref):
		return RefCatalogID
	case externalKeyRegex.MatchString(ref):
		return RefExternalKey
	default:
		return RefFreeText
	}
}
