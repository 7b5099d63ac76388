// Copyright 2021 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package restful

import (
	"strings"
)

// RequiredOptional declares the attribute shape of a create or update
// payload: the attributes the server insists on, the ones it merely
// accepts, and a set of which exactly one must be supplied.
type RequiredOptional struct {
	Required  []string
	Optional  []string
	Exclusive []string
}

// Validate checks data against the declared shape.  Attributes listed
// in excludes are not required for this call, typically because the
// caller already supplies them another way (for instance as part of
// the URL).  Violations produce an *AttributeError naming the
// offending attributes; nil means the payload is acceptable.
func (ro RequiredOptional) Validate(data map[string]interface{}, excludes ...string) error {
	if len(ro.Required) > 0 {
		var missing []string
		for _, attr := range ro.Required {
			if contains(excludes, attr) {
				continue
			}
			if _, present := data[attr]; !present {
				missing = append(missing, attr)
			}
		}
		if len(missing) > 0 {
			return attributeError("Missing attributes: %s", strings.Join(missing, ", "))
		}
	}

	if len(ro.Exclusive) > 0 {
		var supplied []string
		for _, attr := range ro.Exclusive {
			if _, present := data[attr]; present {
				supplied = append(supplied, attr)
			}
		}
		if len(supplied) > 1 {
			return attributeError("Provide only one of these attributes: %s",
				strings.Join(supplied, ", "))
		}
		if len(supplied) == 0 {
			return attributeError("Must provide one of these attributes: %s",
				strings.Join(ro.Exclusive, ", "))
		}
	}

	return nil
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
