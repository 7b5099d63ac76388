// Copyright 2021 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

// Package restful implements a generic client runtime for REST-style
// JSON-over-HTTP services.  It has three layers.
//
// The bottom layer is Client, a thin HTTP engine.  It assembles URLs
// from a stored base URL, encodes request bodies (JSON, raw bytes, or
// multipart uploads), refuses unsafe redirects, retries transient
// failures with exponential backoff, obeys rate-limit responses, and
// translates failures into the typed errors in this package.
//
// The middle layer is Object and Manager.  A Manager binds a remote
// collection (or singleton) to a Client; an Object is one remote
// entity, holding the attributes the server reported plus any local
// modifications.  Both are driven entirely by descriptor data,
// ObjectClass and ManagerSpec, so a service binding is a set of
// descriptor literals rather than a set of new types.
//
// The top layer is the per-operation methods on Manager: Create, Get,
// List, Update, Delete and their variants.  Each is enabled by a
// capability bit in the manager's spec and reports failures as an
// operation-specific error kind.
//
// Identifier Encoding
//
// Identifiers placed in URL paths pass through EncodeID, which
// percent-encodes every byte outside the RFC 3986 section 2.3
// unreserved set.  The result is an EncodedID; encoding an EncodedID
// again returns it unchanged, so values can flow through several
// layers without double-escaping.
package restful

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Version is the library version, reported in the default User-Agent.
const Version = "0.1.0"

// DefaultUserAgent identifies this library in requests when Config
// does not override it.
const DefaultUserAgent = "go-uanti/" + Version

// EncodedID is an identifier that is already safe to embed in a URL
// path segment.  EncodeID never re-encodes one of these.
type EncodedID string

// EncodeID makes an identifier safe for use as a URL path segment.
// Strings are percent-encoded, integers are printed in decimal, and
// an EncodedID is returned unchanged.  Other types produce an error.
func EncodeID(id interface{}) (EncodedID, error) {
	switch v := id.(type) {
	case EncodedID:
		return v, nil
	case string:
		return EncodedID(escapeAll(v)), nil
	case int:
		return EncodedID(strconv.Itoa(v)), nil
	case int64:
		return EncodedID(strconv.FormatInt(v, 10)), nil
	case uint64:
		return EncodedID(strconv.FormatUint(v, 10)), nil
	default:
		return "", fmt.Errorf("cannot encode %T as a URL identifier", id)
	}
}

const upperhex = "0123456789ABCDEF"

// escapeAll percent-encodes every byte of s outside the RFC 3986
// section 2.3 unreserved set.  Unlike net/url escaping, "/" and other
// sub-delimiters are never allowed through, so an arbitrary name
// always becomes exactly one path segment.
func escapeAll(s string) string {
	safe := true
	for i := 0; i < len(s); i++ {
		if !unreservedByte(s[i]) {
			safe = false
			break
		}
	}
	if safe {
		return s
	}

	var out []byte
	for i := 0; i < len(s); i++ {
		c := s[i]
		if unreservedByte(c) {
			out = append(out, c)
		} else {
			out = append(out, '%', upperhex[c>>4], upperhex[c&0xf])
		}
	}
	return string(out)
}

func unreservedByte(c byte) bool {
	switch {
	// These characters are "unreserved" in RFC 3986 section 2.3:
	case c == '-', c == '.', c == '_', c == '~',
		(c >= 'a' && c <= 'z'),
		(c >= 'A' && c <= 'Z'),
		(c >= '0' && c <= '9'):
		return true
	}
	return false
}

var (
	dasherizeAcronym = regexp.MustCompile(`([A-Z]+)([A-Z][a-z])`)
	dasherizeWord    = regexp.MustCompile(`([a-z\d])([A-Z])`)
)

// ToDasherizedLowercase converts a camel-case name like
// "ProjectAccess" into its URL- and flag-friendly form
// "project-access".  Runs of capitals are kept together, so
// "HTTPServer" becomes "http-server".
func ToDasherizedLowercase(name string) string {
	s := dasherizeAcronym.ReplaceAllString(name, "${1}-${2}")
	s = dasherizeWord.ReplaceAllString(s, "${1}-${2}")
	return strings.ToLower(s)
}

// copyDict merges src into dest, flattening one level of nested maps
// into "key[subkey]" entries.
func copyDict(dest, src map[string]interface{}) {
	for key, value := range src {
		if sub, isMap := value.(map[string]interface{}); isMap {
			for subkey, subvalue := range sub {
				dest[key+"["+subkey+"]"] = subvalue
			}
		} else {
			dest[key] = value
		}
	}
}
