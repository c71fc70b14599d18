package cli

import (
	"strings"
	"testing"
)

func TestAuthSetWithFlag(t *testing.T) {
	_, store := isolate(t)
	out, err := runRootCommand(t, "auth", "set", "OpenAI", "--key", " sk-1 ")
	if err != nil {
		t.Fatalf("auth set: %v", err)
	}
	if store.keys["openai"] != "sk-1" {
		t.Fatalf("stored keys = %v", store.keys)
	}
	if !strings.Contains(out, "Stored openai key") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestAuthSetFromPipedInput(t *testing.T) {
	_, store := isolate(t)
	if _, err := runRootCommandWithInput(t, strings.NewReader("sk-piped\n"), "auth", "set", "anthropic"); err != nil {
		t.Fatalf("auth set: %v", err)
	}
	if store.keys["anthropic"] != "sk-piped" {
		t.Fatalf("stored keys = %v", store.keys)
	}
}

func TestAuthSetErrors(t *testing.T) {
	isolate(t)
	if _, err := runRootCommand(t, "auth", "set", "nope", "--key", "x"); err == nil {
		t.Fatal("expected unknown provider error")
	}
	resetFlags()
	if _, err := runRootCommandWithInput(t, strings.NewReader("\n"), "auth", "set", "openai"); err == nil {
		t.Fatal("expected empty key error")
	}
}

func TestAuthRemove(t *testing.T) {
	_, store := isolate(t)
	store.keys["groq"] = "gsk"
	if _, err := runRootCommand(t, "auth", "remove", "groq"); err != nil {
		t.Fatalf("auth remove: %v", err)
	}
	if _, ok := store.keys["groq"]; ok {
		t.Fatal("key still stored")
	}
	_, err := runRootCommand(t, "auth", "remove", "groq")
	if err == nil || !strings.Contains(err.Error(), "no stored key") {
		t.Fatalf("expected not-found error, got %v", err)
	}
}
