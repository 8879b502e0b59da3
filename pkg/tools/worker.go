package tools

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/pico-agents/coreagent/pkg/model"
	"github.com/pico-agents/coreagent/pkg/store"
)

// ShellTool executes a shell command in the worker's workspace. Grounded on
// the same blocklist-plus-timeout shape used across the pack's shell tools.
type ShellTool struct {
	workspace      string
	defaultTimeout time.Duration
}

var shellBlocklist = []string{"rm -rf /", "sudo ", "mkfs", "> /dev/", "dd if=", ":(){ :|:& };:"}

func NewShellTool(workspace string, defaultTimeoutSecs int) *ShellTool {
	if defaultTimeoutSecs <= 0 {
		defaultTimeoutSecs = 30
	}
	return &ShellTool{workspace: workspace, defaultTimeout: time.Duration(defaultTimeoutSecs) * time.Second}
}

func (t *ShellTool) Name() string { return "shell" }
func (t *ShellTool) Description() string {
	return "Run a shell command in the task workspace. Returns combined stdout/stderr."
}

func (t *ShellTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"command": map[string]interface{}{"type": "string", "description": "Shell command to run"},
			"timeout": map[string]interface{}{"type": "integer", "description": "Timeout in seconds (default 30, max 300)"},
		},
		"required": []string{"command"},
	}
}

func (t *ShellTool) Execute(ctx context.Context, args map[string]interface{}) *ToolResult {
	command, _ := args["command"].(string)
	if strings.TrimSpace(command) == "" {
		return ErrorResult("command is required")
	}
	lower := strings.ToLower(command)
	for _, b := range shellBlocklist {
		if strings.Contains(lower, b) {
			return ErrorResult("command blocked for safety: " + b)
		}
	}

	timeout := t.defaultTimeout
	if v, ok := args["timeout"].(float64); ok && v > 0 {
		timeout = time.Duration(v) * time.Second
	}
	if timeout > 300*time.Second {
		timeout = 300 * time.Second
	}

	cmdCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(cmdCtx, "sh", "-c", command)
	cmd.Dir = t.workspace

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	output := stdout.String()
	if stderr.Len() > 0 {
		output += "\n[stderr]\n" + stderr.String()
	}
	if err != nil {
		return &ToolResult{ForLLM: fmt.Sprintf("command failed: %v\n%s", err, output), IsError: true, Err: err}
	}
	if output == "" {
		output = "(no output)"
	}
	return OKResult(output)
}

// resolveWorkspacePath keeps file tools sandboxed to the workspace root.
func resolveWorkspacePath(workspace, rel string) (string, error) {
	clean := filepath.Clean(rel)
	full := filepath.Join(workspace, clean)
	absWorkspace, err := filepath.Abs(workspace)
	if err != nil {
		return "", err
	}
	absFull, err := filepath.Abs(full)
	if err != nil {
		return "", err
	}
	if !strings.HasPrefix(absFull, absWorkspace) {
		return "", fmt.Errorf("path escapes workspace: %s", rel)
	}
	return absFull, nil
}

// FileReadTool reads a file's contents from the task workspace.
type FileReadTool struct {
	workspace string
}

func NewFileReadTool(workspace string) *FileReadTool { return &FileReadTool{workspace: workspace} }

func (t *FileReadTool) Name() string        { return "file_read" }
func (t *FileReadTool) Description() string { return "Read a file from the task workspace." }

func (t *FileReadTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{"type": "string", "description": "Path relative to the workspace"},
		},
		"required": []string{"path"},
	}
}

func (t *FileReadTool) Execute(ctx context.Context, args map[string]interface{}) *ToolResult {
	rel, _ := args["path"].(string)
	if rel == "" {
		return ErrorResult("path is required")
	}
	full, err := resolveWorkspacePath(t.workspace, rel)
	if err != nil {
		return ErrorResult(err.Error())
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return &ToolResult{ForLLM: fmt.Sprintf("reading %s: %v", rel, err), IsError: true, Err: err}
	}
	return OKResult(string(data))
}

// FileWriteTool writes (overwriting) a file in the task workspace.
type FileWriteTool struct {
	workspace string
}

func NewFileWriteTool(workspace string) *FileWriteTool { return &FileWriteTool{workspace: workspace} }

func (t *FileWriteTool) Name() string        { return "file_write" }
func (t *FileWriteTool) Description() string { return "Write (overwrite) a file in the task workspace, creating parent directories as needed." }

func (t *FileWriteTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path":    map[string]interface{}{"type": "string", "description": "Path relative to the workspace"},
			"content": map[string]interface{}{"type": "string", "description": "File content"},
		},
		"required": []string{"path", "content"},
	}
}

func (t *FileWriteTool) Execute(ctx context.Context, args map[string]interface{}) *ToolResult {
	rel, _ := args["path"].(string)
	content, _ := args["content"].(string)
	if rel == "" {
		return ErrorResult("path is required")
	}
	full, err := resolveWorkspacePath(t.workspace, rel)
	if err != nil {
		return ErrorResult(err.Error())
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return &ToolResult{ForLLM: fmt.Sprintf("creating directories for %s: %v", rel, err), IsError: true, Err: err}
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		return &ToolResult{ForLLM: fmt.Sprintf("writing %s: %v", rel, err), IsError: true, Err: err}
	}
	return OKResult(fmt.Sprintf("wrote %d bytes to %s", len(content), rel))
}

// WebSearchTool fetches a URL and extracts its readable text. There's no
// search-engine API key in this deployment's config surface, so this tool
// covers the common case of "fetch and read this page" rather than a
// keyword-query search index.
// isLocalHost reports whether hostname resolves to a loopback or otherwise
// internal address, so web_search/browser can refuse to fetch it: a worker's
// fetch target can come from model output steered by page content it already
// read, and nothing should let that reach the host's own services.
func isLocalHost(hostname string) bool {
	if hostname == "localhost" || hostname == "0.0.0.0" {
		return true
	}
	if ip := net.ParseIP(hostname); ip != nil {
		return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast()
	}
	return false
}

// validateFetchURL parses raw and rejects anything but an absolute http(s)
// URL pointed at a non-local host.
func validateFetchURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("url must be an absolute http(s) URL")
	}
	if isLocalHost(u.Hostname()) {
		return nil, fmt.Errorf("refusing to fetch a local or internal address")
	}
	return u, nil
}

type WebSearchTool struct {
	client *http.Client
}

func NewWebSearchTool() *WebSearchTool {
	return &WebSearchTool{client: &http.Client{Timeout: 20 * time.Second}}
}

func (t *WebSearchTool) Name() string        { return "web_search" }
func (t *WebSearchTool) Description() string { return "Fetch a web page by URL and return its readable text content." }

func (t *WebSearchTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"url": map[string]interface{}{"type": "string", "description": "The page to fetch"},
		},
		"required": []string{"url"},
	}
}

func (t *WebSearchTool) Execute(ctx context.Context, args map[string]interface{}) *ToolResult {
	raw, _ := args["url"].(string)
	if raw == "" {
		return ErrorResult("url is required")
	}
	if _, err := validateFetchURL(raw); err != nil {
		return ErrorResult(err.Error())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, raw, nil)
	if err != nil {
		return ErrorResult(fmt.Sprintf("building request: %v", err))
	}
	req.Header.Set("User-Agent", "coreagent-worker/1.0")

	resp, err := t.client.Do(req)
	if err != nil {
		return &ToolResult{ForLLM: fmt.Sprintf("fetching %s: %v", raw, err), IsError: true, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return &ToolResult{ForLLM: fmt.Sprintf("reading response: %v", err), IsError: true, Err: err}
	}
	if resp.StatusCode >= 400 {
		return ErrorResult(fmt.Sprintf("fetch failed: status %d", resp.StatusCode))
	}

	text, err := extractReadableText(body)
	if err != nil {
		return OKResult(string(body))
	}
	if len(text) > 16000 {
		text = text[:16000] + "\n...(truncated)"
	}
	return OKResult(text)
}

func extractReadableText(html []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return "", err
	}
	doc.Find("script, style, noscript").Remove()
	var sb strings.Builder
	doc.Find("body").Each(func(_ int, s *goquery.Selection) {
		text := strings.TrimSpace(s.Text())
		sb.WriteString(text)
	})
	lines := strings.Split(sb.String(), "\n")
	var out []string
	for _, l := range lines {
		l = strings.TrimSpace(l)
		if l != "" {
			out = append(out, l)
		}
	}
	return strings.Join(out, "\n"), nil
}

// CronTool registers a recurring or heartbeat-style scheduled prompt for the
// owning agent. The scheduler itself runs independently of any Worker.
type CronTool struct {
	store     *store.Store
	agentName string
}

func NewCronTool(s *store.Store, agentName string) *CronTool {
	return &CronTool{store: s, agentName: agentName}
}

func (t *CronTool) Name() string        { return "cron" }
func (t *CronTool) Description() string { return "Schedule a recurring prompt to run on an interval, optionally restricted to an active hour window." }

func (t *CronTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"prompt":           map[string]interface{}{"type": "string", "description": "The prompt to run on schedule"},
			"interval_secs":    map[string]interface{}{"type": "integer", "description": "How often to run, in seconds"},
			"delivery_target":  map[string]interface{}{"type": "string", "description": "Where to deliver the result, e.g. a conversation id"},
			"active_start_hour": map[string]interface{}{"type": "integer", "description": "Optional local hour (0-23) the window opens"},
			"active_end_hour":   map[string]interface{}{"type": "integer", "description": "Optional local hour (0-23) the window closes"},
		},
		"required": []string{"prompt", "interval_secs"},
	}
}

func (t *CronTool) Execute(ctx context.Context, args map[string]interface{}) *ToolResult {
	prompt, _ := args["prompt"].(string)
	if strings.TrimSpace(prompt) == "" {
		return ErrorResult("prompt is required")
	}
	interval, _ := args["interval_secs"].(float64)
	if interval <= 0 {
		return ErrorResult("interval_secs must be positive")
	}
	startHour, endHour := -1, -1
	if v, ok := args["active_start_hour"].(float64); ok {
		startHour = int(v)
	}
	if v, ok := args["active_end_hour"].(float64); ok {
		endHour = int(v)
	}
	deliveryTarget, _ := args["delivery_target"].(string)

	job := &model.CronJob{
		AgentName:       t.agentName,
		Prompt:          prompt,
		IntervalSecs:    int64(interval),
		DeliveryTarget:  deliveryTarget,
		ActiveStartHour: startHour,
		ActiveEndHour:   endHour,
		Enabled:         true,
	}
	if err := t.store.SaveCronJob(ctx, job); err != nil {
		return &ToolResult{ForLLM: fmt.Sprintf("saving cron job: %v", err), IsError: true, Err: err}
	}
	return OKResult(fmt.Sprintf("scheduled cron job %s every %ds", job.ID, job.IntervalSecs))
}

// BrowserTool fetches a page and extracts structured elements (links,
// headings) rather than raw text, the way a human would skim a page before
// deciding what to read in full. It does not execute JavaScript — pages
// that render content client-side are out of scope for this tool.
type BrowserTool struct {
	client *http.Client
}

func NewBrowserTool() *BrowserTool {
	return &BrowserTool{client: &http.Client{Timeout: 20 * time.Second}}
}

func (t *BrowserTool) Name() string        { return "browser" }
func (t *BrowserTool) Description() string { return "Load a page and list its headings and links, for orienting before a deeper fetch." }

func (t *BrowserTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"url": map[string]interface{}{"type": "string", "description": "The page to load"},
		},
		"required": []string{"url"},
	}
}

func (t *BrowserTool) Execute(ctx context.Context, args map[string]interface{}) *ToolResult {
	raw, _ := args["url"].(string)
	if raw == "" {
		return ErrorResult("url is required")
	}
	base, err := validateFetchURL(raw)
	if err != nil {
		return ErrorResult(err.Error())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, raw, nil)
	if err != nil {
		return ErrorResult(fmt.Sprintf("building request: %v", err))
	}
	req.Header.Set("User-Agent", "coreagent-worker/1.0")

	resp, err := t.client.Do(req)
	if err != nil {
		return &ToolResult{ForLLM: fmt.Sprintf("loading %s: %v", raw, err), IsError: true, Err: err}
	}
	defer resp.Body.Close()

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return &ToolResult{ForLLM: fmt.Sprintf("parsing %s: %v", raw, err), IsError: true, Err: err}
	}

	var sb strings.Builder
	sb.WriteString("Title: " + strings.TrimSpace(doc.Find("title").First().Text()) + "\n\nHeadings:\n")
	doc.Find("h1, h2, h3").Each(func(_ int, s *goquery.Selection) {
		text := strings.TrimSpace(s.Text())
		if text != "" {
			sb.WriteString("- " + text + "\n")
		}
	})
	sb.WriteString("\nLinks:\n")
	count := 0
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		if count >= 40 {
			return
		}
		href, _ := s.Attr("href")
		text := strings.TrimSpace(s.Text())
		if href == "" {
			return
		}
		resolved, err := base.Parse(href)
		if err != nil {
			return
		}
		sb.WriteString(fmt.Sprintf("- %s (%s)\n", text, resolved.String()))
		count++
	})
	return OKResult(sb.String())
}
