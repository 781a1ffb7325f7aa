// file: internal/profile/serialize.go
// version: 1.0.0
// guid: 9e0f1a2b-3c4d-5e6f-7a8b-9c0d1e2f3a4b

package profile

import (
	"encoding/json"
)

// Marshal serializes the profile for storage in the book row.
func (p *Profile) Marshal() (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Parse deserializes a stored profile blob. An empty blob yields a fresh
// profile rather than an error; older rows predate the profile column.
func Parse(blob string) (*Profile, error) {
	if blob == "" {
		return New(), nil
	}
	var p Profile
	if err := json.Unmarshal([]byte(blob), &p); err != nil {
		return nil, err
	}
	if p.Fields == nil {
		p.Fields = make(map[string]*FieldValue)
	}
	for _, fv := range p.Fields {
		if fv.Raw == nil {
			fv.Raw = make(map[string]string)
		}
	}
	return &p, nil
}
