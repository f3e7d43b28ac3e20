package fbconnect_test

import (
	"os"
	"strings"
	"testing"
)

func readFile(t *testing.T, name string) string {
	t.Helper()
	data, err := os.ReadFile(name)
	if err != nil {
		t.Fatalf("failed to read %s: %v", name, err)
	}
	return string(data)
}

func TestDockerfileMultiStageBuild(t *testing.T) {
	content := readFile(t, "Dockerfile")

	if !strings.Contains(content, "FROM golang:") {
		t.Error("Dockerfile should contain a Go builder stage (FROM golang:)")
	}

	// 最終ステージは軽量イメージであること
	var lastFrom string
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "FROM ") {
			lastFrom = trimmed
		}
	}
	if !strings.Contains(lastFrom, "gcr.io/distroless") {
		t.Errorf("final stage should use distroless, got: %s", lastFrom)
	}
}

func TestDockerfileBuildsEntrypoint(t *testing.T) {
	content := readFile(t, "Dockerfile")

	for _, want := range []string{"./cmd/fbconnect", "ENTRYPOINT", "fbconnect\", \"healthcheck\""} {
		if !strings.Contains(content, want) {
			t.Errorf("Dockerfile should contain %q", want)
		}
	}
}

func TestDockerComposeServices(t *testing.T) {
	content := readFile(t, "docker-compose.yml")

	tests := []struct {
		name string
		want string
	}{
		{"api service", "api:"},
		{"worker service", "worker:"},
		{"migrate service", "migrate:"},
		{"db service", "db:"},
		{"redis service", "redis:"},
		{"postgres image", "image: postgres:"},
		{"redis image", "image: redis:"},
		{"worker subcommand", `command: ["worker"]`},
		{"profile cache url", "REDIS_URL:"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !strings.Contains(content, tt.want) {
				t.Errorf("docker-compose.yml should contain %q", tt.want)
			}
		})
	}
}

// Graph APIへの外部通信はapiのみが行い、その他は内部ネットワークに閉じる。
func TestDockerComposeNetworks(t *testing.T) {
	content := readFile(t, "docker-compose.yml")

	if !strings.Contains(content, "internal: true") {
		t.Error("docker-compose.yml should define an internal network (internal: true)")
	}
	if !strings.Contains(content, "  external:") {
		t.Error("docker-compose.yml should define an external network for Graph API egress")
	}

	// external ネットワークに参加するのは api のみ
	if n := strings.Count(content, "- external"); n != 1 {
		t.Errorf("services attached to external network = %d, want 1", n)
	}
}
