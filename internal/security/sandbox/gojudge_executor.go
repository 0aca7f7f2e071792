package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/bytedance/gg/gconv"
	"github.com/bytedance/sonic"

	"github.com/tgifai/taskd/internal/config"
	"github.com/tgifai/taskd/internal/pkg/utils"
)

type GoJudgeExecutor struct {
	workspace string

	endpoint      string
	workdirMount  string
	memoryLimitKB int
	procLimit     int
	maxOutput     int

	client *http.Client
}

func NewGoJudgeExecutor(cfg config.SandboxConfig) *GoJudgeExecutor {
	maxOutput := cfg.MaxOutput
	if maxOutput <= 0 {
		maxOutput = defaultMaxOutput
	}
	memoryMB := cfg.MemoryLimitMB
	if memoryMB <= 0 {
		memoryMB = 256
	}
	procLimit := cfg.ProcLimit
	if procLimit <= 0 {
		procLimit = 64
	}
	workspace := strings.TrimSpace(cfg.Workdir)
	if workspace != "" {
		workspace = filepath.Clean(workspace)
	}

	return &GoJudgeExecutor{
		workspace:     workspace,
		endpoint:      strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/"),
		workdirMount:  "/w",
		memoryLimitKB: memoryMB * 1024,
		procLimit:     procLimit,
		maxOutput:     maxOutput,
		client:        &http.Client{},
	}
}

func (e *GoJudgeExecutor) Execute(ctx context.Context, req *ExecRequest) (*ExecResult, error) {
	if req == nil {
		return nil, fmt.Errorf("exec request is required")
	}
	if e.endpoint == "" {
		return nil, fmt.Errorf("go-judge endpoint is required")
	}

	args, err := e.buildArgs(req.Command)
	if err != nil {
		return nil, err
	}
	sandboxWD, err := e.resolveSandboxWorkingDir(req.WorkingDir)
	if err != nil {
		return nil, err
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	limit := req.MaxOutput
	if limit <= 0 {
		limit = e.maxOutput
	}
	clockNS := timeout.Nanoseconds()

	payload := goJudgeRunRequest{
		Cmd: []goJudgeCommand{
			{
				Args: args,
				Env:  []string{"PATH=/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin"},
				Cwd:  sandboxWD,
				Files: []goJudgeFile{
					{Content: req.Stdin},
					{Name: "stdout", Max: limit},
					{Name: "stderr", Max: limit},
				},
				CPULimit:    clockNS,
				ClockLimit:  clockNS,
				MemoryLimit: int64(e.memoryLimitKB) * 1024,
				ProcLimit:   e.procLimit,
			},
		},
	}

	rawPayload, err := sonic.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal go-judge request: %w", err)
	}

	// the judge enforces the clock limit; the request gets a little slack on top
	reqCtx, cancel := context.WithTimeout(ctx, timeout+10*time.Second)
	defer cancel()
	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, e.endpoint+"/run", bytes.NewReader(rawPayload))
	if err != nil {
		return nil, fmt.Errorf("build go-judge request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("go-judge request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read go-judge response: %w", err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("go-judge returned status %d: %s", resp.StatusCode, utils.Truncate(string(body), 512))
	}

	resultMap, err := parseFirstResult(body)
	if err != nil {
		return nil, err
	}
	stdout, stderr := extractStdStreams(resultMap)
	exitCode := extractExitCode(resultMap)
	timedOut := extractTimedOut(resultMap)
	if timedOut && exitCode == 0 {
		exitCode = -1
	}

	return &ExecResult{
		Stdout:    []byte(truncate(stdout, limit)),
		Stderr:    []byte(truncate(stderr, limit)),
		ExitCode:  exitCode,
		TimedOut:  timedOut,
		Truncated: len(stdout) > limit || len(stderr) > limit || isOutputLimit(resultMap),
	}, nil
}

func (e *GoJudgeExecutor) buildArgs(cmd Command) ([]string, error) {
	if cmd.UseShell {
		display := strings.TrimSpace(cmd.Display)
		if display == "" {
			return nil, fmt.Errorf("command is required")
		}
		return []string{"/bin/sh", "-c", display}, nil
	}
	program := strings.TrimSpace(cmd.Program)
	if program == "" {
		return nil, fmt.Errorf("command program is required")
	}
	args := make([]string, 0, len(cmd.Args)+1)
	args = append(args, program)
	args = append(args, cmd.Args...)
	return args, nil
}

func (e *GoJudgeExecutor) resolveSandboxWorkingDir(hostWorkingDir string) (string, error) {
	if strings.TrimSpace(hostWorkingDir) == "" {
		return filepath.ToSlash(e.workdirMount), nil
	}

	wd := strings.TrimSpace(hostWorkingDir)
	if !filepath.IsAbs(wd) {
		base := e.workspace
		if base == "" {
			base = "."
		}
		wd = filepath.Join(base, wd)
	}
	wd = filepath.Clean(wd)

	if strings.TrimSpace(e.workspace) == "" {
		return filepath.ToSlash(e.workdirMount), nil
	}
	workspace := filepath.Clean(e.workspace)
	within, err := isPathWithin(wd, workspace)
	if err != nil {
		return "", fmt.Errorf("resolve sandbox working dir: %w", err)
	}
	if !within {
		return "", fmt.Errorf("working_dir must be within workspace when sandbox is enabled")
	}

	rel, err := filepath.Rel(workspace, wd)
	if err != nil {
		return "", fmt.Errorf("resolve relative workspace path: %w", err)
	}
	if rel == "." {
		return filepath.ToSlash(e.workdirMount), nil
	}
	return filepath.ToSlash(filepath.Join(e.workdirMount, rel)), nil
}

func parseFirstResult(raw []byte) (map[string]interface{}, error) {
	var decoded interface{}
	if err := sonic.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("parse go-judge response: %w", err)
	}

	if result, ok := extractResultMap(decoded); ok {
		return result, nil
	}
	return nil, fmt.Errorf("go-judge response does not contain command result")
}

func extractResultMap(v interface{}) (map[string]interface{}, bool) {
	switch data := v.(type) {
	case map[string]interface{}:
		if len(data) == 0 {
			return nil, false
		}
		if one, ok := data["result"]; ok {
			return extractResultMap(one)
		}
		if many, ok := data["results"]; ok {
			return extractResultMap(many)
		}
		if one, ok := data["data"]; ok {
			if result, ok := extractResultMap(one); ok {
				return result, true
			}
		}
		return data, true
	case []interface{}:
		if len(data) == 0 {
			return nil, false
		}
		first, ok := data[0].(map[string]interface{})
		return first, ok
	default:
		return nil, false
	}
}

func extractStdStreams(result map[string]interface{}) (string, string) {
	stdout := gconv.To[string](result["stdout"])
	stderr := gconv.To[string](result["stderr"])

	if files, ok := result["files"].(map[string]interface{}); ok {
		if stdout == "" {
			stdout = gconv.To[string](files["stdout"])
		}
		if stderr == "" {
			stderr = gconv.To[string](files["stderr"])
		}
	}

	return stdout, stderr
}

func extractExitCode(result map[string]interface{}) int {
	if _, exists := result["exitStatus"]; exists {
		return gconv.To[int](result["exitStatus"])
	}
	if _, exists := result["exitCode"]; exists {
		return gconv.To[int](result["exitCode"])
	}
	if _, exists := result["code"]; exists {
		return gconv.To[int](result["code"])
	}
	return 0
}

func extractTimedOut(result map[string]interface{}) bool {
	status := strings.ToLower(strings.TrimSpace(gconv.To[string](result["status"])))
	return strings.Contains(status, "time limit") || strings.Contains(status, "timeout")
}

func isOutputLimit(result map[string]interface{}) bool {
	status := strings.ToLower(strings.TrimSpace(gconv.To[string](result["status"])))
	return strings.Contains(status, "output limit")
}

func isPathWithin(path string, root string) (bool, error) {
	pathAbs, err := filepath.Abs(path)
	if err != nil {
		return false, err
	}
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return false, err
	}

	rel, err := filepath.Rel(filepath.Clean(rootAbs), filepath.Clean(pathAbs))
	if err != nil {
		return false, err
	}
	if rel == "." {
		return true, nil
	}
	if strings.HasPrefix(rel, ".."+string(filepath.Separator)) || rel == ".." {
		return false, nil
	}
	return true, nil
}

func truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	if len(s) <= max {
		return s
	}
	return s[:max]
}

type goJudgeRunRequest struct {
	Cmd []goJudgeCommand `json:"cmd"`
}

// goJudgeFile is either stdin content or a collector for a named stream.
type goJudgeFile struct {
	Content string `json:"content,omitempty"`
	Name    string `json:"name,omitempty"`
	Max     int    `json:"max,omitempty"`
}

type goJudgeCommand struct {
	Args        []string      `json:"args"`
	Env         []string      `json:"env,omitempty"`
	Cwd         string        `json:"cwd,omitempty"`
	Files       []goJudgeFile `json:"files"`
	CPULimit    int64         `json:"cpuLimit,omitempty"`
	ClockLimit  int64         `json:"clockLimit,omitempty"`
	MemoryLimit int64         `json:"memoryLimit,omitempty"`
	ProcLimit   int           `json:"procLimit,omitempty"`
}
