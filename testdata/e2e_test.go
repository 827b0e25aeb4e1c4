package testdata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	cfgpkg "humanizer/internal/config"
	"humanizer/internal/pipeline"
)

func baseConfig(input, outDir string) cfgpkg.Config {
	cfg := cfgpkg.DefaultTemplateConfig()
	cfg.Inputs = []string{input}
	cfg.Logging.Level = "error"
	cfg.Seed = 11
	cfg.Provider = map[string]cfgpkg.Provider{}
	cfg.Options.Writer = json.RawMessage(fmt.Sprintf(`{"output_dir":%q,"atomic":false,"flat":true,"perm_file":0,"perm_dir":0,"buf_size":65536}`, outDir))
	return cfg
}

func runPipeline(t *testing.T, cfg cfgpkg.Config) (pipeline.Summary, error) {
	t.Helper()
	a, err := cfgpkg.Assemble(context.Background(), cfg, nil)
	if err != nil {
		return pipeline.Summary{}, err
	}
	defer a.Close()
	return a.Engine.RunFiles(context.Background(), a.Batch, a.Stages)
}

func TestE2ESuccess(t *testing.T) {
	outDir := t.TempDir()
	cfg := baseConfig("files", outDir)
	cfg.LLM = "mock"
	cfg.Provider["mock"] = cfgpkg.Provider{Client: "mock", Options: json.RawMessage(`{"response_mode":"echo"}`)}
	sum, err := runPipeline(t, cfg)
	if err != nil {
		t.Fatalf("pipeline: %v", err)
	}
	if len(sum.Files) != 2 || sum.Failed != 0 {
		t.Fatalf("摘要不符: %+v", sum)
	}
	got, err := os.ReadFile(filepath.Join(outDir, "abstract.humanized.txt"))
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	s := string(got)
	// 词汇替换在生成前完成，回显结果中可见
	if strings.Contains(s, "utilize") || strings.Contains(s, "in order to") || strings.Contains(s, "In order to") {
		t.Fatalf("正式用词未替换: %q", s)
	}
	if !strings.Contains(s, "benchmarks") || !strings.HasSuffix(s, "\n") {
		t.Fatalf("输出内容不符: %q", s)
	}
	if strings.Count(strings.TrimSpace(s), "\n\n") != 1 {
		t.Fatalf("段落结构应保留: %q", s)
	}
}

func TestE2EDeterministic(t *testing.T) {
	var outs []string
	for i := 0; i < 2; i++ {
		outDir := t.TempDir()
		cfg := baseConfig("files", outDir)
		cfg.LLM = "mock"
		cfg.Provider["mock"] = cfgpkg.Provider{Client: "mock"}
		if _, err := runPipeline(t, cfg); err != nil {
			t.Fatalf("pipeline: %v", err)
		}
		b, err := os.ReadFile(filepath.Join(outDir, "abstract.humanized.txt"))
		if err != nil {
			t.Fatalf("read output: %v", err)
		}
		outs = append(outs, string(b))
	}
	if outs[0] != outs[1] {
		t.Fatalf("同种子两次运行结果不同:\n%s\n---\n%s", outs[0], outs[1])
	}
}

func TestE2EStageFailure(t *testing.T) {
	outDir := t.TempDir()
	cfg := baseConfig("files", outDir)
	cfg.LLM = "mock"
	cfg.MaxRetries = 0
	cfg.Report = true
	cfg.Provider["mock"] = cfgpkg.Provider{Client: "mock", Options: json.RawMessage(`{"response_mode":"empty"}`)}
	sum, err := runPipeline(t, cfg)
	if err == nil || !strings.Contains(err.Error(), "2 of 2 documents failed") {
		t.Fatalf("expect document failures, got %v", err)
	}
	var pe *pipeline.Error
	if !errors.As(err, &pe) || pe.Kind != pipeline.KindStageFailed || pe.Stage != 1 {
		t.Fatalf("expect stage_failed at stage 1, got %v", err)
	}
	if sum.Failed != 2 {
		t.Fatalf("摘要不符: %+v", sum)
	}
	if _, err := os.Stat(filepath.Join(outDir, "abstract.humanized.txt")); err == nil {
		t.Fatalf("output file should not exist")
	}
	if _, err := os.Stat(filepath.Join(outDir, "abstract.humanized.run.json")); err != nil {
		t.Fatalf("失败文档应有运行报告: %v", err)
	}
}

func TestE2ERetry(t *testing.T) {
	outDir := t.TempDir()
	logPath := filepath.Join(outDir, "flaky.log")
	cfg := baseConfig(filepath.Join("files", "methods.txt"), outDir)
	cfg.LLM = "flaky"
	cfg.MaxRetries = 2
	cfg.Provider["flaky"] = cfgpkg.Provider{
		Client:  "flaky",
		Options: json.RawMessage(fmt.Sprintf(`{"failures":2,"log_path":%q}`, logPath)),
	}
	if _, err := runPipeline(t, cfg); err != nil {
		t.Fatalf("pipeline: %v", err)
	}
	if _, err := os.Stat(filepath.Join(outDir, "methods.humanized.txt")); err != nil {
		t.Fatalf("read output: %v", err)
	}
	logData, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(logData)), "\n")
	want := []string{"rate_limited", "rate_limited", "ok"}
	if strings.Join(lines, ",") != strings.Join(want, ",") {
		t.Fatalf("unexpected log: %v", lines)
	}
}

func TestE2ERetryExhausted(t *testing.T) {
	outDir := t.TempDir()
	cfg := baseConfig(filepath.Join("files", "methods.txt"), outDir)
	cfg.LLM = "flaky"
	cfg.MaxRetries = 1
	cfg.Provider["flaky"] = cfgpkg.Provider{Client: "flaky", Options: json.RawMessage(`{"failures":5}`)}
	_, err := runPipeline(t, cfg)
	if err == nil || !strings.Contains(err.Error(), "methods.txt") {
		t.Fatalf("expect failure, got %v", err)
	}
}
