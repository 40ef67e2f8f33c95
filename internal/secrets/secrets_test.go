package secrets

import (
	"context"
	"path/filepath"
	"testing"
)

func TestEnvProvider(t *testing.T) {
	t.Setenv("ASKDOC_LLM_API_KEY", "sk-test")

	p := NewEnvProvider("ASKDOC_")
	val, err := p.Get(context.Background(), "llm_api_key")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if val != "sk-test" {
		t.Fatalf("expected sk-test, got %s", val)
	}
}

func TestEnvProvider_BareFallback(t *testing.T) {
	t.Setenv("API_TOKENS", "a,b")

	p := NewEnvProvider("ASKDOC_")
	val, err := p.Get(context.Background(), "api_tokens")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if val != "a,b" {
		t.Fatalf("expected unprefixed fallback, got %s", val)
	}
}

func TestEnvProvider_Missing(t *testing.T) {
	p := NewEnvProvider("ASKDOC_")
	if _, err := p.Get(context.Background(), "definitely_not_set_xyz"); err == nil {
		t.Fatal("expected error for missing secret")
	}
}

func TestEnvProvider_ReadOnly(t *testing.T) {
	p := NewEnvProvider("")
	if err := p.Set(context.Background(), "k", "v"); err == nil {
		t.Fatal("expected env provider to be read-only")
	}
}

func TestManager_GetOrDefault(t *testing.T) {
	m, err := NewManager(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := m.GetOrDefault(context.Background(), "missing_key_xyz", "fallback"); got != "fallback" {
		t.Fatalf("expected fallback, got %s", got)
	}

	t.Setenv("ASKDOC_EMBED_API_KEY", "ek-1")
	if got := m.GetOrDefault(context.Background(), string(SecretEmbedAPIKey), "fallback"); got != "ek-1" {
		t.Fatalf("expected ek-1, got %s", got)
	}
}

func TestManager_Caches(t *testing.T) {
	t.Setenv("ASKDOC_LLM_API_KEY", "first")

	m, err := NewManager(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctx := context.Background()

	if got, _ := m.Get(ctx, string(SecretLLMAPIKey)); got != "first" {
		t.Fatalf("expected first, got %s", got)
	}

	// Cached value survives an environment change.
	t.Setenv("ASKDOC_LLM_API_KEY", "second")
	if got, _ := m.Get(ctx, string(SecretLLMAPIKey)); got != "first" {
		t.Fatalf("expected cached value, got %s", got)
	}
}

func TestManager_FileProvider(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secrets.json")
	m, err := NewManager(&Config{
		Provider: "file",
		FileConfig: &FileConfig{
			Path:            path,
			CreateIfMissing: true,
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctx := context.Background()

	if err := m.primary.Set(ctx, "llm_api_key", "from-file"); err != nil {
		t.Fatalf("setting secret: %v", err)
	}
	if got, _ := m.Get(ctx, "llm_api_key"); got != "from-file" {
		t.Fatalf("expected from-file, got %s", got)
	}
}

func TestNewManager_UnknownProvider(t *testing.T) {
	if _, err := NewManager(&Config{Provider: "vault"}); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}
