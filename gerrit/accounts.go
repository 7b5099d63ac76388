// Copyright 2021 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package gerrit

// This file provides the account endpoints.

import (
	"github.com/uanti/go-uanti/restful"
)

var accountClass = &restful.ObjectClass{
	Name:      "Account",
	IDAttr:    "_account_id",
	Normalize: normalizeAccount,
}

var accountsSpec = &restful.ManagerSpec{
	Path:   "/accounts/",
	Object: accountClass,
	Capabilities: restful.CanCreate | restful.CanDelete | restful.CanGet |
		restful.CanList,
	CreateAttrs: restful.RequiredOptional{
		Optional: []string{
			"username",
			"name",
			"display_name",
			"email",
			"ssh_key",
			"http_password",
			"groups",
		},
	},
}

func normalizeAccount(m *restful.Manager, attrs map[string]interface{}) error {
	delete(attrs, "_more_accounts")
	return nil
}
