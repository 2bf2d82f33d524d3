package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, root, rel, content string) string {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestParseLegacy(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    map[string]string
	}{
		{
			name:    "flat object",
			content: "{\n\t\"providerBundleName\": \"com.example.ads\",\r\n  \"providerJSAbilityName\": \"JsAbility\"\n}",
			want:    map[string]string{"providerBundleName": "com.example.ads", "providerJSAbilityName": "JsAbility"},
		},
		{
			name:    "arrays flatten",
			content: `{"providerBundleName":["com.example.ads"],"providerApiAbilityName":["Api"]}`,
			want:    map[string]string{"providerBundleName": "com.example.ads", "providerApiAbilityName": "Api"},
		},
		{
			name:    "entries without colon are dropped",
			content: "a:1,broken,b:2",
			want:    map[string]string{"a": "1", "b": "2"},
		},
		{
			name:    "last duplicate wins",
			content: "a:1,a:2",
			want:    map[string]string{"a": "2"},
		},
		{
			name:    "split on first colon",
			content: "url:ws://host:9000",
			want:    map[string]string{"url": "ws://host:9000"},
		},
		{
			name:    "empty",
			content: "",
			want:    map[string]string{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, ParseLegacy(tt.content)); diff != "" {
				t.Errorf("ParseLegacy mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDecodeStructured(t *testing.T) {
	got := Decode([]byte(`{"providerBundleName": ["com.example.ads", "ignored"], "providerAbilityName": "Load Ability", "retries": 3}`))
	want := map[string]string{
		"providerBundleName":  "com.example.ads",
		"providerAbilityName": "Load Ability",
		"retries":             "3",
	}
	assert.Empty(t, cmp.Diff(want, got))
}

func TestDecodeKeepsLiteralScalars(t *testing.T) {
	got := Decode([]byte(`{"providerBundleName": 0x1F, "enabled": yes, "ratio": 1.50, "list": []}`))
	want := map[string]string{
		"providerBundleName": "0x1F",
		"enabled":            "yes",
		"ratio":              "1.50",
		"list":               "",
	}
	assert.Empty(t, cmp.Diff(want, got))
	assert.Empty(t, cmp.Diff(ParseLegacy(`{"providerBundleName": 0x1F}`), Decode([]byte(`{"providerBundleName": 0x1F}`))))
}

func TestDecodeUnquotedFlatForm(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    map[string]string
	}{
		{
			name:    "flow braces",
			content: "{providerBundleName:com.example.ads,providerJSAbilityName:JsAbility}",
			want:    map[string]string{"providerBundleName": "com.example.ads", "providerJSAbilityName": "JsAbility"},
		},
		{
			name:    "bare pairs",
			content: "providerBundleName:com.example.ads,providerApiAbilityName:Api",
			want:    map[string]string{"providerBundleName": "com.example.ads", "providerApiAbilityName": "Api"},
		},
		{
			name:    "empty value",
			content: `{"providerBundleName": , "providerAbilityName": "Load"}`,
			want:    map[string]string{"providerBundleName": "", "providerAbilityName": "Load"},
		},
		{
			name:    "nested object",
			content: `{"providerBundleName": {"x": "y"}}`,
			want:    map[string]string{"providerBundleName": "x:y"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, Decode([]byte(tt.content))); diff != "" {
				t.Errorf("Decode mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDecodeFallsBackOnTruncation(t *testing.T) {
	got := Decode([]byte(`{"a":"1","b":"2","c":"tru`))
	assert.Equal(t, map[string]string{"a": "1", "b": "2", "c": "tru"}, got)
}

func TestResolverPrefersExtFile(t *testing.T) {
	low := t.TempDir()
	high := t.TempDir()
	writeConfig(t, low, ExtConfigFile, `{"providerBundleName":"from-ext"}`)
	writeConfig(t, high, ConfigFile, `{"providerBundleName":"from-default"}`)

	r := NewResolver(DirLocator{high, low}, nil)
	assert.Equal(t, map[string]string{"providerBundleName": "from-ext"}, r.Resolve())
}

func TestResolverFallsBackToDefaultFile(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, ConfigFile, `{"providerBundleName":"b","providerJSAbilityName":"a"}`)

	r := NewResolver(DirLocator{root}, nil)
	assert.Equal(t, map[string]string{"providerBundleName": "b", "providerJSAbilityName": "a"}, r.Resolve())
}

func TestResolverMissingFileYieldsNil(t *testing.T) {
	r := NewResolver(DirLocator{t.TempDir()}, nil)
	assert.Nil(t, r.Resolve())
}

func TestResolverTruncatesAtReadBuffer(t *testing.T) {
	root := t.TempDir()
	padding := strings.Repeat("x", ReadBufferSize)
	writeConfig(t, root, ConfigFile, `{"providerBundleName":"b","pad":"`+padding+`","late":"lost"}`)

	got := NewResolver(DirLocator{root}, nil).Resolve()
	require.NotNil(t, got)
	assert.Equal(t, "b", got["providerBundleName"])
	assert.NotContains(t, got, "late")
}

func TestCachedResolvesOnce(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, ConfigFile, `{"a":"1"}`)
	c := NewCached(NewResolver(DirLocator{root}, nil))

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.Equal(t, "1", c.Resolve()["a"])
		}()
	}
	wg.Wait()
	assert.Equal(t, "1", c.Resolve()["a"])
	assert.LessOrEqual(t, c.Loads(), 16)

	before := c.Loads()
	c.Resolve()
	assert.Equal(t, before, c.Loads())
}

func TestCachedDoesNotCacheMissingConfig(t *testing.T) {
	root := t.TempDir()
	c := NewCached(NewResolver(DirLocator{root}, nil))
	assert.Nil(t, c.Resolve())

	writeConfig(t, root, ConfigFile, `{"a":"1"}`)
	assert.Equal(t, map[string]string{"a": "1"}, c.Resolve())
}

func TestCachedGenerationAdvancesOnInvalidate(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, ConfigFile, `{"providerBundleName":"b"}`)
	c := NewCached(NewResolver(DirLocator{root}, nil))
	require.NotNil(t, c.Resolve())
	assert.Equal(t, uint64(0), c.Generation())
	c.Invalidate()
	assert.Equal(t, uint64(1), c.Generation())
	c.Resolve()
	assert.Equal(t, uint64(1), c.Generation())
}

func TestCachedWatchInvalidates(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, ConfigFile, `{"a":"1"}`)
	c := NewCached(NewResolver(DirLocator{root}, nil))
	require.Equal(t, "1", c.Resolve()["a"])

	ctx, cancel := context.WithCancel(context.Background())
	ready := make(chan struct{})
	done := make(chan error, 1)
	go func() { done <- c.Watch(ctx, ready) }()
	<-ready

	writeConfig(t, root, ConfigFile, `{"a":"2"}`)
	assert.Eventually(t, func() bool { return c.Resolve()["a"] == "2" }, 5*time.Second, 20*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}

func TestLoadAppDefaultsAndEnv(t *testing.T) {
	t.Setenv("ADSBRIDGE_LOG_LEVEL", "debug")
	t.Setenv("ADSBRIDGE_CONFIG_ROOTS", strings.Join([]string{"/a", "/b"}, string(os.PathListSeparator)))

	cfg, err := LoadApp(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, []string{"/a", "/b"}, cfg.ConfigRoots)
	assert.Zero(t, cfg.GetConnectTimeout())
}

func TestLoadAppFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "adsbridge.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
logging:
  level: warn
  format: console
endpoints:
  com.example.ads/JsAbility: tcp://127.0.0.1:9000
connectTimeout: 3s
`), 0644))

	cfg, err := LoadApp(path)
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, "console", cfg.Logging.Format)
	assert.Equal(t, "tcp://127.0.0.1:9000", cfg.Endpoints["com.example.ads/JsAbility"])
	assert.Equal(t, 3*time.Second, cfg.GetConnectTimeout())

	saved := filepath.Join(t.TempDir(), "nested", "copy.yaml")
	require.NoError(t, cfg.Save(saved))
	reloaded, err := LoadApp(saved)
	require.NoError(t, err)
	assert.Equal(t, cfg.Endpoints, reloaded.Endpoints)
}

func TestLoadAppRejectsBadValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "adsbridge.yaml")
	require.NoError(t, os.WriteFile(path, []byte("connectTimeout: soon\n"), 0644))
	_, err := LoadApp(path)
	assert.ErrorContains(t, err, "connectTimeout")

	require.NoError(t, os.WriteFile(path, []byte("endpoints:\n  noslash: tcp://x:1\n"), 0644))
	_, err = LoadApp(path)
	assert.ErrorContains(t, err, "endpoint key")
}
