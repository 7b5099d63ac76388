// Copyright 2021 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package gerrit

// This file provides the documentation search endpoint.

import (
	"github.com/uanti/go-uanti/restful"
)

// Documentation search results have no identity of their own, so the
// class declares no identifier attribute.
var docResultClass = &restful.ObjectClass{
	Name: "DocResult",
}

var documentationSpec = &restful.ManagerSpec{
	Path:         "/Documentation/",
	Object:       docResultClass,
	Capabilities: restful.CanList,
	ListFilters:  []string{"q"},
}
