package model

import (
	"strings"

	"ergon.app/erp/common/apperr"
)

type Address struct {
	Street     string  `json:"street"`
	City       string  `json:"city"`
	State      *string `json:"state,omitempty"`
	PostalCode string  `json:"postal_code"`
	Country    string  `json:"country"`
}

func (a *Address) Validate() error {
	if a == nil {
		return nil
	}
	if strings.TrimSpace(a.PostalCode) == "" {
		return apperr.Validation("postal code is required")
	}
	return nil
}

type ContactInfo struct {
	Email   *string `json:"email,omitempty"`
	Phone   *string `json:"phone,omitempty"`
	Fax     *string `json:"fax,omitempty"`
	Website *string `json:"website,omitempty"`
}
