package source

import (
	"bytes"
	"encoding/json"
)

type appointmentsResponse struct {
	Data []apiAppointment `json:"data"`
}

type apiAppointment struct {
	ID        flexID      `json:"id" validate:"required"`
	Customer  apiCustomer `json:"customer"`
	Service   apiService  `json:"service"`
	StartDate string      `json:"start_date" validate:"required"`
}

type apiCustomer struct {
	ID    flexID `json:"id" validate:"required"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

type apiService struct {
	Name string `json:"name"`
}

// flexID accepts ids encoded as either JSON strings or numbers.
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexID(n.String())
	return nil
}
