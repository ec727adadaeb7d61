package ckan

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// envelope is the wrapper of every CKAN action API response.
type envelope struct {
	Success bool            `json:"success"`
	Result  json.RawMessage `json:"result"`
	Error   *apiError       `json:"error"`
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"__type"`
}

func (e *apiError) notFound() bool {
	return e != nil && (e.Type == "Not Found Error" || strings.EqualFold(e.Message, "not found"))
}

type searchResult struct {
	Count   int        `json:"count"`
	Results []*Package `json:"results"`
}

// Package is a CKAN package as returned by package_show and package_search.
type Package struct {
	ID               string        `json:"id"`
	Name             string        `json:"name"`
	Title            string        `json:"title"`
	Notes            string        `json:"notes"`
	URL              string        `json:"url"`
	Type             string        `json:"type"`
	State            string        `json:"state"`
	Private          bool          `json:"private"`
	LicenseID        string        `json:"license_id"`
	LicenseTitle     string        `json:"license_title"`
	MetadataCreated  string        `json:"metadata_created"`
	MetadataModified string        `json:"metadata_modified"`
	Tags             Names         `json:"tags"`
	Groups           Names         `json:"groups"`
	Organization     *Organization `json:"organization"`
	Extras           []Extra       `json:"extras"`
	Resources        []Resource    `json:"resources"`
}

// Organization is the owner of a package.
type Organization struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Title string `json:"title"`
}

// Extra is one free key/value pair.
type Extra struct {
	Key   string `json:"key"`
	Value Text   `json:"value"`
}

// Resource is one CKAN resource.
type Resource struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Description  string          `json:"description"`
	URL          string          `json:"url"`
	Format       string          `json:"format"`
	Mimetype     string          `json:"mimetype"`
	Size         Text            `json:"size"`
	Hash         string          `json:"hash"`
	Created      string          `json:"created"`
	LastModified string          `json:"last_modified"`
	Schema       json.RawMessage `json:"schema"`
}

// Names decodes a list of tags or groups given either as plain strings or
// as objects carrying a name (or display_name).
type Names []string

func (n *Names) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*n = nil
		return nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(Names, 0, len(raw))
	for _, item := range raw {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
			continue
		}
		var obj struct {
			Name        string `json:"name"`
			DisplayName string `json:"display_name"`
		}
		if err := json.Unmarshal(item, &obj); err != nil {
			return err
		}
		name := obj.Name
		if name == "" {
			name = obj.DisplayName
		}
		if name = strings.TrimSpace(name); name != "" {
			out = append(out, name)
		}
	}
	*n = out
	return nil
}

// Text decodes a JSON scalar or structure into its string form. CKAN
// extras and sizes come as strings, numbers or objects depending on the
// portal.
type Text string

func (t *Text) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*t = ""
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*t = Text(s)
	default:
		*t = Text(data)
	}
	return nil
}

// Int64 returns the numeric value of t, if any.
func (t Text) Int64() (int64, bool) {
	s := strings.TrimSpace(string(t))
	if s == "" {
		return 0, false
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, true
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f >= 0 {
		return int64(f), true
	}
	return 0, false
}
