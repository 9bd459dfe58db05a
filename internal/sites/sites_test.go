package sites

import (
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sites.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestParsePayload(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    []string
		wantErr bool
	}{
		{
			name:    "bare array",
			payload: `["https://a.example", "https://b.example"]`,
			want:    []string{"https://a.example", "https://b.example"},
		},
		{
			name:    "sites object",
			payload: `{"sites": ["https://a.example"]}`,
			want:    []string{"https://a.example"},
		},
		{
			name:    "commented entries dropped",
			payload: `["https://a.example", "# https://b.example", "ftp://c.example"]`,
			want:    []string{"https://a.example"},
		},
		{
			name:    "non-string entries dropped",
			payload: `["https://a.example", 42, null]`,
			want:    []string{"https://a.example"},
		},
		{
			name:    "wrong shape",
			payload: `"https://a.example"`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parsePayload([]byte(tt.payload))
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected an error")
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("got[%d] = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestResolveExplicitPathWins(t *testing.T) {
	path := writeFile(t, `["https://a.example"]`)
	got := Resolve(path, "https://ignored.example", zap.NewNop())
	if len(got) != 1 || got[0] != "https://a.example" {
		t.Errorf("Resolve = %v", got)
	}
}

func TestResolveSitesValueAsFile(t *testing.T) {
	path := writeFile(t, `{"sites": ["https://a.example"]}`)
	got := Resolve("", path, zap.NewNop())
	if len(got) != 1 || got[0] != "https://a.example" {
		t.Errorf("Resolve = %v", got)
	}
}

func TestResolveSitesValueAsCommaList(t *testing.T) {
	got := Resolve("", "https://a.example, https://b.example, not-a-url", zap.NewNop())
	if len(got) != 2 {
		t.Fatalf("Resolve = %v, want 2 sites", got)
	}
	if got[0] != "https://a.example" || got[1] != "https://b.example" {
		t.Errorf("Resolve = %v", got)
	}
}

func TestResolveMissingExplicitFileFails(t *testing.T) {
	got := Resolve(filepath.Join(t.TempDir(), "missing.json"), "", zap.NewNop())
	if got != nil {
		t.Errorf("Resolve = %v, want nil for a missing explicit file", got)
	}
}
