package entity

// GeoZone is a known geographic zone datasets can be attached to.
// Keys holds alternative identifiers such as INSEE or postal codes.
type GeoZone struct {
	ID    string   `json:"id"`
	Name  string   `json:"name"`
	Code  string   `json:"code"`
	Level string   `json:"level"`
	Keys  []string `json:"keys,omitempty"`
	URIs  []string `json:"uris,omitempty"`
}
