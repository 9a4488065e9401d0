package cli

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadFetchPlanYAML(t *testing.T) {
	dir := t.TempDir()
	content := `
version: 1
server: 127.0.0.1:5005
output_dir: downloads
drop: "1,3"
targets: "@10.0.0.9:6000/extra.bin"
files:
  - name: report.pdf
  - name: /nested/data.bin
    server: "@10.0.0.2:5005"
    drop: ""
    output_dir: other
`
	planPath := filepath.Join(dir, "plan.yaml")
	if err := os.WriteFile(planPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write plan file: %v", err)
	}

	doc, err := loadFetchPlan(planPath)
	if err != nil {
		t.Fatalf("load plan: %v", err)
	}
	jobs, err := doc.jobs()
	if err != nil {
		t.Fatalf("jobs: %v", err)
	}
	if len(jobs) != 3 {
		t.Fatalf("expected 3 jobs, got %d", len(jobs))
	}

	if jobs[0].Target.Server() != "10.0.0.9:6000" || jobs[0].Target.Filename != "extra.bin" {
		t.Fatalf("unexpected target job: %+v", jobs[0].Target)
	}
	if jobs[1].Target.Server() != "127.0.0.1:5005" || jobs[1].Target.Filename != "report.pdf" {
		t.Fatalf("unexpected default server job: %+v", jobs[1].Target)
	}
	if jobs[1].Drop.String() != "1,3" || jobs[1].OutputDir != "downloads" {
		t.Fatalf("defaults not inherited: drop=%q dir=%q", jobs[1].Drop.String(), jobs[1].OutputDir)
	}
	if jobs[2].Target.Server() != "10.0.0.2:5005" || jobs[2].Target.Filename != "nested/data.bin" {
		t.Fatalf("unexpected override job: %+v", jobs[2].Target)
	}
	if jobs[2].Drop.Len() != 0 || jobs[2].OutputDir != "other" {
		t.Fatalf("overrides ignored: drop=%q dir=%q", jobs[2].Drop.String(), jobs[2].OutputDir)
	}

	// Jobs must not share a drop set, each fetch consumes its own.
	jobs[0].Drop.Take(1)
	if jobs[1].Drop.Len() != 2 {
		t.Fatalf("drop sets are shared between jobs")
	}
}

func TestLoadFetchPlanJSON(t *testing.T) {
	dir := t.TempDir()
	content := `{
  "version": 1,
  "targets": ["@127.0.0.1:5005/a.txt", "127.0.0.1:5005/b.txt"]
}`
	planPath := filepath.Join(dir, "plan.json")
	if err := os.WriteFile(planPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write plan file: %v", err)
	}
	doc, err := loadFetchPlan(planPath)
	if err != nil {
		t.Fatalf("load plan: %v", err)
	}
	jobs, err := doc.jobs()
	if err != nil {
		t.Fatalf("jobs: %v", err)
	}
	if len(jobs) != 2 || jobs[1].Target.Filename != "b.txt" {
		t.Fatalf("unexpected jobs: %+v", jobs)
	}
}

func TestLoadFetchPlanRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"empty.yaml":     "version: 1\n",
		"version.yaml":   "version: 2\ntargets: \"@1.2.3.4:5/a\"\n",
		"noserver.yaml":  "files:\n  - name: a.txt\n",
		"noname.yaml":    "server: 1.2.3.4:5\nfiles:\n  - server: 1.2.3.4:5\n",
		"badtarget.json": `{"targets": "nowhere"}`,
	}
	dir := t.TempDir()
	for name, content := range cases {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
		doc, err := loadFetchPlan(path)
		if err == nil {
			_, err = doc.jobs()
		}
		if err == nil {
			t.Fatalf("%s: expected an error", name)
		}
	}
}
