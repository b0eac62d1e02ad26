// Package schema validates inbound service request bodies against embedded JSON schemas.
package schema

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const (
	AssetUpload   = "asset_upload.schema.json"
	Authorization = "authorization.schema.json"
	MapTile       = "map_tile.schema.json"
)

const baseURL = "https://regionsim.ai/schemas/"

//go:embed schemas/*.schema.json
var files embed.FS

var (
	once     sync.Once
	compiled map[string]*jsonschema.Schema
	loadErr  error
)

func load() {
	entries, err := files.ReadDir("schemas")
	if err != nil {
		loadErr = err
		return
	}
	c := jsonschema.NewCompiler()
	for _, e := range entries {
		b, err := files.ReadFile("schemas/" + e.Name())
		if err != nil {
			loadErr = err
			return
		}
		if err := c.AddResource(baseURL+e.Name(), bytes.NewReader(b)); err != nil {
			loadErr = fmt.Errorf("add %s: %w", e.Name(), err)
			return
		}
	}
	compiled = map[string]*jsonschema.Schema{}
	for _, e := range entries {
		s, err := c.Compile(baseURL + e.Name())
		if err != nil {
			loadErr = fmt.Errorf("compile %s: %w", e.Name(), err)
			return
		}
		compiled[e.Name()] = s
	}
}

// Validate checks raw JSON against the named schema.
func Validate(name string, raw []byte) error {
	once.Do(load)
	if loadErr != nil {
		return loadErr
	}
	s := compiled[name]
	if s == nil {
		return fmt.Errorf("unknown schema %q", name)
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return err
	}
	return s.Validate(v)
}
