package intervyu

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/harunnryd/intervyu/pkg/configutil"
	"github.com/harunnryd/intervyu/pkg/providers/mock"
)

func TestBuildAIUsesConfiguredName(t *testing.T) {
	r := DefaultProviderRegistry()
	p, err := r.BuildAI(context.Background(), NamedVendorConfig{
		Name:     "backup",
		Provider: " Mock ",
		Settings: map[string]any{"score": "72", "summary": "ok"},
	}, nil)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if p.Name() != "backup" {
		t.Fatalf("expected name backup, got %q", p.Name())
	}
	if _, ok := p.(*mock.AIProvider); !ok {
		t.Fatalf("expected mock provider, got %T", p)
	}
}

func TestBuildAIRejectsMissingKey(t *testing.T) {
	r := DefaultProviderRegistry()
	for _, provider := range []string{"openai", "gemini"} {
		_, err := r.BuildAI(context.Background(), NamedVendorConfig{Provider: provider}, nil)
		var serr *configutil.SettingsError
		if !errors.As(err, &serr) || len(serr.Missing) != 1 || serr.Missing[0] != "api_key" {
			t.Fatalf("%s: expected missing api_key, got %v", provider, err)
		}
	}
}

func TestBuildAIRejectsUnknownSetting(t *testing.T) {
	r := DefaultProviderRegistry()
	_, err := r.BuildAI(context.Background(), NamedVendorConfig{
		Provider: "openai",
		Settings: map[string]any{"api_key": "sk", "temprature": 0.2},
	}, nil)
	if err == nil || !strings.Contains(err.Error(), "temprature") {
		t.Fatalf("expected unknown key error, got %v", err)
	}
}

func TestBuildOpenAI(t *testing.T) {
	r := DefaultProviderRegistry()
	p, err := r.BuildAI(context.Background(), NamedVendorConfig{
		Provider: "openai",
		Settings: map[string]any{"api_key": "sk", "timeout": "5s"},
	}, nil)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if p.Name() != "openai" {
		t.Fatalf("expected openai, got %q", p.Name())
	}
}

func TestBuildUnregistered(t *testing.T) {
	r := NewProviderRegistry()
	if _, err := r.BuildAI(context.Background(), NamedVendorConfig{Provider: "claude"}, nil); err == nil {
		t.Fatalf("expected unregistered ai error")
	}
	if _, err := r.BuildSTT(context.Background(), VendorConfig{Provider: "whisper"}, nil); err == nil {
		t.Fatalf("expected unregistered stt error")
	}
}

func TestBuildSTT(t *testing.T) {
	r := DefaultProviderRegistry()
	opener, err := r.BuildSTT(context.Background(), VendorConfig{
		Provider: "mock",
		Settings: map[string]any{"transcript": "hello", "emit-interim": true},
	}, nil)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if opener.Name() != "mock_stt" {
		t.Fatalf("unexpected opener %q", opener.Name())
	}
	dg, err := r.BuildSTT(context.Background(), VendorConfig{
		Provider: "deepgram",
		Settings: map[string]any{"api_key": "dg", "finalize_wait": "2s"},
	}, nil)
	if err != nil {
		t.Fatalf("build deepgram: %v", err)
	}
	if dg.Name() != "deepgram" {
		t.Fatalf("unexpected opener %q", dg.Name())
	}
}
