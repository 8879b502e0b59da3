package specialists

import (
	"os"
	"path/filepath"
	"testing"
)

func writeSpecialist(t *testing.T, workspace, name, frontmatter, body string) {
	t.Helper()
	dir := filepath.Join(workspace, "specialists", name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	content := body
	if frontmatter != "" {
		content = "---\n" + frontmatter + "\n---\n" + body
	}
	if err := os.WriteFile(filepath.Join(dir, "SPECIALIST.md"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadSpecialistStripsFrontmatter(t *testing.T) {
	workspace := t.TempDir()
	writeSpecialist(t, workspace, "billing", `{"name": "billing", "description": "handles invoices"}`, "You are the billing specialist.")

	loader := NewSpecialistLoader(workspace)
	persona, ok := loader.LoadSpecialist("billing")
	if !ok {
		t.Fatal("expected billing specialist to load")
	}
	if persona != "You are the billing specialist." {
		t.Errorf("persona = %q, want frontmatter stripped", persona)
	}
}

func TestGetMetadataParsesJSONTaskType(t *testing.T) {
	workspace := t.TempDir()
	writeSpecialist(t, workspace, "research", `{"name": "research", "description": "deep dives", "task_type": "heavy"}`, "persona body")

	loader := NewSpecialistLoader(workspace)
	meta := loader.GetMetadata("research")
	if meta == nil {
		t.Fatal("expected metadata")
	}
	if meta.TaskType != "heavy" {
		t.Errorf("TaskType = %q, want \"heavy\"", meta.TaskType)
	}
}

func TestGetMetadataParsesYAMLTaskType(t *testing.T) {
	workspace := t.TempDir()
	writeSpecialist(t, workspace, "ops", "name: ops\ndescription: infra triage\ntask_type: heavy", "persona body")

	loader := NewSpecialistLoader(workspace)
	meta := loader.GetMetadata("ops")
	if meta == nil {
		t.Fatal("expected metadata")
	}
	if meta.TaskType != "heavy" {
		t.Errorf("TaskType = %q, want \"heavy\"", meta.TaskType)
	}
}

func TestGetMetadataDefaultsTaskTypeEmpty(t *testing.T) {
	workspace := t.TempDir()
	writeSpecialist(t, workspace, "plain", `{"name": "plain", "description": "no override"}`, "persona body")

	loader := NewSpecialistLoader(workspace)
	meta := loader.GetMetadata("plain")
	if meta == nil {
		t.Fatal("expected metadata")
	}
	if meta.TaskType != "" {
		t.Errorf("TaskType = %q, want empty when frontmatter omits it", meta.TaskType)
	}
}

func TestExistsAndListSpecialists(t *testing.T) {
	workspace := t.TempDir()
	writeSpecialist(t, workspace, "billing", `{"name": "billing", "description": "handles invoices"}`, "persona")

	loader := NewSpecialistLoader(workspace)
	if !loader.Exists("billing") {
		t.Error("expected billing to exist")
	}
	if loader.Exists("nonexistent") {
		t.Error("expected nonexistent specialist to not exist")
	}

	all := loader.ListSpecialists()
	if len(all) != 1 || all[0].Name != "billing" {
		t.Errorf("ListSpecialists() = %+v, want one entry named billing", all)
	}
}
