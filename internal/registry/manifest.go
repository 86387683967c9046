package registry

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ManifestName is the file every package directory must contain.
const ManifestName = "manifest.json"

const manifestSchemaURL = "webime://manifest.schema.json"

const manifestSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["id", "name", "type", "categories"],
  "properties": {
    "id":         {"type": "string", "minLength": 1},
    "name":       {"type": "string"},
    "type":       {"type": "string"},
    "icon":       {"type": "string"},
    "categories": {"type": "array", "items": {"type": "string"}},
    "languages":  {"type": ["array", "null"], "items": {"type": "string"}},
    "options":    {"type": ["array", "null"], "items": {"type": "string"}}
  }
}`

// Manifest is the on-disk description of a package.
type Manifest struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Type       string   `json:"type"`
	Icon       string   `json:"icon,omitempty"`
	Categories []string `json:"categories"`
	Languages  []string `json:"languages,omitempty"`
	Options    []string `json:"options,omitempty"`
}

// ManifestError reports a package directory whose manifest could not be used.
type ManifestError struct {
	Path string
	Err  error
}

func (e *ManifestError) Error() string {
	return fmt.Sprintf("registry: manifest %s: %v", e.Path, e.Err)
}

func (e *ManifestError) Unwrap() error { return e.Err }

// Scanner reads and validates package manifests.
type Scanner struct {
	schema      *jsonschema.Schema
	category    string
	packageType string
}

// NewScanner compiles the manifest schema. Only manifests of packageType
// listing category are accepted.
func NewScanner(category, packageType string) (*Scanner, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(manifestSchemaURL, bytes.NewReader([]byte(manifestSchema))); err != nil {
		return nil, fmt.Errorf("add manifest schema: %w", err)
	}
	schema, err := compiler.Compile(manifestSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile manifest schema: %w", err)
	}
	return &Scanner{schema: schema, category: category, packageType: packageType}, nil
}

// Scan reads the manifest in dir. It returns (nil, nil) for a valid package
// that is not a keyboard of the configured type.
func (s *Scanner) Scan(dir string) (*Descriptor, error) {
	path := filepath.Join(dir, ManifestName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ManifestError{Path: path, Err: err}
	}

	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, &ManifestError{Path: path, Err: err}
	}
	if err := s.schema.Validate(doc); err != nil {
		return nil, &ManifestError{Path: path, Err: err}
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, &ManifestError{Path: path, Err: err}
	}
	if m.Type != s.packageType || !slices.Contains(m.Categories, s.category) {
		return nil, nil
	}

	root, err := filepath.Abs(dir)
	if err != nil {
		return nil, &ManifestError{Path: path, Err: err}
	}

	d := &Descriptor{
		ID:       m.ID,
		Name:     m.Name,
		EntryURL: EntryURL(root),
		Language: "en_US",
		Options:  ParseOptions(m.Options),
		RootPath: root,
		Revision: revision(data, path, filepath.Join(root, EntryPath)),
	}
	if len(m.Languages) > 0 {
		d.Language = m.Languages[0]
	}
	if m.Icon != "" {
		d.IconPath = filepath.Join(root, m.Icon)
	}
	return d, nil
}

// revision hashes the manifest together with the modification times of the
// manifest and entry document, so a reinstall of identical content still
// yields a new revision.
func revision(manifest []byte, paths ...string) string {
	h := sha256.New()
	h.Write(manifest)
	for _, p := range paths {
		if info, err := os.Stat(p); err == nil {
			h.Write([]byte(strconv.FormatInt(info.ModTime().UnixNano(), 10)))
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}
