// Package config locates and decodes the ad service configuration file and
// loads the bridge's own application config.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

const (
	ExtConfigFile = "etc/advertising/ads_framework/ad_service_config_ext.json"
	ConfigFile    = "etc/advertising/ads_framework/ad_service_config.json"

	// ReadBufferSize caps how much of the config file is read. Longer files
	// are truncated.
	ReadBufferSize = 4096
)

// Keys read from the ad service config.
const (
	KeyProviderBundleName     = "providerBundleName"
	KeyProviderJSAbilityName  = "providerJSAbilityName"
	KeyProviderApiAbilityName = "providerApiAbilityName"
	KeyProviderAbilityName    = "providerAbilityName"
)

// Source yields the ad service config map, or nil when it is unavailable.
type Source interface {
	Resolve() map[string]string
}

// Locator finds the highest priority copy of a config file.
type Locator interface {
	// Locate returns the path of relPath, or "" when no root has it.
	Locate(relPath string) (string, error)
	// Candidates lists every path relPath could be found at, highest
	// priority first.
	Candidates(relPath string) []string
}

// DirLocator searches an ordered list of root directories.
type DirLocator []string

func (d DirLocator) Locate(relPath string) (string, error) {
	for _, candidate := range d.Candidates(relPath) {
		info, err := os.Stat(candidate)
		if err == nil && !info.IsDir() {
			return candidate, nil
		}
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return "", err
		}
	}
	return "", nil
}

func (d DirLocator) Candidates(relPath string) []string {
	out := make([]string, 0, len(d))
	for _, root := range d {
		out = append(out, filepath.Join(root, filepath.FromSlash(relPath)))
	}
	return out
}

// Resolver reads the ad service config, preferring the extended file.
type Resolver struct {
	locator Locator
	paths   []string
	log     *zap.Logger
}

// NewResolver creates a resolver over the standard config file pair.
func NewResolver(locator Locator, log *zap.Logger) *Resolver {
	if log == nil {
		log = zap.NewNop()
	}
	return &Resolver{
		locator: locator,
		paths:   []string{ExtConfigFile, ConfigFile},
		log:     log.Named("advertising"),
	}
}

// Resolve returns the config map, or nil if no config file exists or it
// cannot be read. Errors are logged, never returned.
func (r *Resolver) Resolve() map[string]string {
	path, err := r.locate()
	if err != nil {
		r.log.Error("get config error", zap.Error(err))
		return nil
	}
	if path == "" {
		return nil
	}

	content, err := readPrefix(path, ReadBufferSize)
	if err != nil {
		r.log.Error("get config error", zap.String("path", path), zap.Error(err))
		return nil
	}
	r.log.Info("read file succeed", zap.String("path", path))
	return Decode(content)
}

func (r *Resolver) locate() (string, error) {
	for i, rel := range r.paths {
		path, err := r.locator.Locate(rel)
		if err != nil {
			return "", err
		}
		if path != "" {
			return path, nil
		}
		if i == 0 {
			r.log.Warn("get ext config file failed")
		} else {
			r.log.Warn("get config file failed")
		}
	}
	return "", nil
}

// watchPaths lists every file whose change can alter Resolve's result.
func (r *Resolver) watchPaths() []string {
	var out []string
	for _, rel := range r.paths {
		out = append(out, r.locator.Candidates(rel)...)
	}
	return out
}

func readPrefix(path string, n int) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	buf := make([]byte, n)
	read, err := io.ReadFull(f, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return buf[:read], nil
}

// Decode parses config content as a structured document first: a mapping
// whose values are scalars or arrays (first element wins), each kept as its
// literal text. Anything else goes through ParseLegacy, including a
// truncated file and the flattened key:value form, which parses as a mapping
// of null values.
func Decode(content []byte) map[string]string {
	if m, err := decodeStructured(content); err == nil {
		return m
	}
	return ParseLegacy(string(content))
}

var errNotFlatMapping = errors.New("config: not a flat mapping of scalars")

func decodeStructured(content []byte) (map[string]string, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(content, &doc); err != nil {
		return nil, err
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return nil, errors.New("config: empty document")
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode || len(root.Content) == 0 {
		return nil, errNotFlatMapping
	}
	out := make(map[string]string, len(root.Content)/2)
	for i := 0; i+1 < len(root.Content); i += 2 {
		key, value := root.Content[i], root.Content[i+1]
		if key.Kind != yaml.ScalarNode {
			return nil, errNotFlatMapping
		}
		if value.Kind == yaml.SequenceNode {
			if len(value.Content) == 0 {
				out[key.Value] = ""
				continue
			}
			value = value.Content[0]
		}
		s, ok := scalarText(value)
		if !ok {
			return nil, fmt.Errorf("config: key %q: %w", key.Value, errNotFlatMapping)
		}
		out[key.Value] = s
	}
	return out, nil
}

// scalarText returns a scalar's source text, so 0x1F stays 0x1F.
func scalarText(n *yaml.Node) (string, bool) {
	if n.Kind == yaml.AliasNode && n.Alias != nil {
		n = n.Alias
	}
	if n.Kind != yaml.ScalarNode || n.ShortTag() == "!!null" {
		return "", false
	}
	return n.Value, true
}

// ParseLegacy decodes the flattened form the ad service has always used:
// quotes, whitespace, brackets and braces are stripped, and the remainder is
// a comma separated list of key:value pairs split on the first colon.
// Entries without a colon are dropped and the last duplicate wins.
func ParseLegacy(content string) map[string]string {
	flat := strings.Map(func(r rune) rune {
		switch {
		case r == '"' || r == '[' || r == ']' || r == '{' || r == '}':
			return -1
		case unicode.IsSpace(r):
			return -1
		}
		return r
	}, content)

	out := make(map[string]string)
	for _, item := range strings.Split(flat, ",") {
		key, value, ok := strings.Cut(item, ":")
		if !ok {
			continue
		}
		out[key] = value
	}
	return out
}
