package session

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/tidwall/gjson"

	"github.com/kuitang/uimatrix/internal/urlutil"
)

// StorageState is the browser's persisted cookie jar and local storage, in
// the layout Playwright writes with storageState().
type StorageState struct {
	Cookies []Cookie      `json:"cookies"`
	Origins []OriginState `json:"origins"`
}

// Cookie is one persisted cookie.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires"`
	HTTPOnly bool    `json:"httpOnly"`
	Secure   bool    `json:"secure"`
	SameSite string  `json:"sameSite"`
}

// OriginState holds one origin's local storage entries.
type OriginState struct {
	Origin       string      `json:"origin"`
	LocalStorage []NameValue `json:"localStorage"`
}

// NameValue is a local storage entry.
type NameValue struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// ReadStorageState loads a state file.
func ReadStorageState(path string) (*StorageState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read storage state: %w", err)
	}
	return ParseStorageState(data)
}

// ParseStorageState decodes state file contents.
func ParseStorageState(data []byte) (*StorageState, error) {
	var st StorageState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("decode storage state: %w", err)
	}
	return &st, nil
}

// LocalStorage returns key from the local storage of origin.
func (s *StorageState) LocalStorage(origin, key string) (string, bool) {
	if s == nil {
		return "", false
	}
	want := urlutil.Origin(origin)
	for _, o := range s.Origins {
		if urlutil.Origin(o.Origin) != want {
			continue
		}
		for _, kv := range o.LocalStorage {
			if kv.Name == key {
				return kv.Value, true
			}
		}
	}
	return "", false
}

// Lookup returns key from the first origin that has it.
func (s *StorageState) Lookup(key string) (string, bool) {
	if s == nil {
		return "", false
	}
	for _, o := range s.Origins {
		for _, kv := range o.LocalStorage {
			if kv.Name == key {
				return kv.Value, true
			}
		}
	}
	return "", false
}

// LookupField reads a gjson path inside a local storage value that holds
// JSON, e.g. LookupField("usuario", "sucursal.nombre").
func (s *StorageState) LookupField(key, path string) (string, bool) {
	raw, ok := s.Lookup(key)
	if !ok || !gjson.Valid(raw) {
		return "", false
	}
	res := gjson.Get(raw, path)
	if !res.Exists() {
		return "", false
	}
	return res.String(), true
}

// Cookie returns the named cookie.
func (s *StorageState) Cookie(name string) (Cookie, bool) {
	if s == nil {
		return Cookie{}, false
	}
	for _, c := range s.Cookies {
		if c.Name == name {
			return c, true
		}
	}
	return Cookie{}, false
}
