package config_test

import (
	"strconv"
	"strings"
	"testing"

	"github.com/parley-ai/parley/internal/config"
)

func TestValidate_InvalidLogLevel(t *testing.T) {
	t.Parallel()
	yaml := `
log:
  level: loud
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for invalid log level, got nil")
	}
	if !strings.Contains(err.Error(), "log.level") {
		t.Errorf("error should mention log.level, got: %v", err)
	}
}

func TestValidate_InvalidBackends(t *testing.T) {
	t.Parallel()
	yaml := `
chat:
  backend: anthropic
voice:
  backend: realtime
embeddings:
  backend: local
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for invalid backends, got nil")
	}
	for _, want := range []string{"chat.backend", "voice.backend", "embeddings.backend"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error should mention %s, got: %v", want, err)
		}
	}
}

func TestValidate_FrameSizeOutOfRange(t *testing.T) {
	t.Parallel()
	for _, size := range []int{512, 32768} {
		yaml := `
voice:
  frame_size: ` + strconv.Itoa(size)
		_, err := config.LoadFromReader(strings.NewReader(yaml))
		if err == nil {
			t.Fatalf("frame_size %d: expected error, got nil", size)
		}
		if !strings.Contains(err.Error(), "voice.frame_size") {
			t.Errorf("frame_size %d: error should mention voice.frame_size, got: %v", size, err)
		}
	}
}

func TestValidate_TemperatureOutOfRange(t *testing.T) {
	t.Parallel()
	yaml := `
chat:
  temperature: 3.5
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for out-of-range temperature, got nil")
	}
	if !strings.Contains(err.Error(), "chat.temperature") {
		t.Errorf("error should mention chat.temperature, got: %v", err)
	}
}

func TestValidate_JoinsAllFailures(t *testing.T) {
	t.Parallel()
	yaml := `
log:
  level: loud
voice:
  frame_size: 100
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected joined error, got nil")
	}
	if !strings.Contains(err.Error(), "log.level") || !strings.Contains(err.Error(), "voice.frame_size") {
		t.Errorf("expected both failures in joined error, got: %v", err)
	}
}

func TestDefault_IsValid(t *testing.T) {
	t.Parallel()
	if err := config.Validate(config.Default()); err != nil {
		t.Fatalf("Validate(Default()) = %v, want nil", err)
	}
}
