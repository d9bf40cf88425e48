package publish

import (
	"archive/zip"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/nevindra/clonechat"
)

func zipPipeline(t *testing.T, root string) *Pipeline {
	t.Helper()
	return New(nil, newFakeStore(), &fakeTranscoder{}, testConfig(root))
}

func runZipStage(t *testing.T, source string, files map[string][]byte) (workspace, *Pipeline) {
	t.Helper()
	writeSource(t, source, files)
	root := t.TempDir()
	p := zipPipeline(t, root)
	ws := newWorkspace(root, "course")
	if err := ws.ensure(); err != nil {
		t.Fatal(err)
	}
	task := clonechat.PublishTask{SourceFolder: source, ProjectName: "course"}
	if err := p.runZip(context.Background(), ws, task); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return ws, p
}

func partNames(t *testing.T, ws workspace) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(ws.zipped(), "*.zip"))
	if err != nil {
		t.Fatal(err)
	}
	sort.Strings(matches)
	names := make([]string, len(matches))
	for i, m := range matches {
		names[i] = filepath.Base(m)
	}
	return names
}

func TestZipSplitsAtSizeLimit(t *testing.T) {
	// 1 MiB limit; two 400 KiB files fit one part, the third starts
	// part two.
	chunk := bytes.Repeat([]byte("d"), 400<<10)
	ws, _ := runZipStage(t, t.TempDir(), map[string][]byte{
		"a.pdf": chunk,
		"b.pdf": chunk,
		"c.pdf": chunk,
	})

	names := partNames(t, ws)
	if len(names) != 2 {
		t.Fatalf("got parts %v, want 2", names)
	}
	if names[0] != "course_001.zip" || names[1] != "course_002.zip" {
		t.Errorf("got part names %v", names)
	}

	r, err := zip.OpenReader(filepath.Join(ws.zipped(), names[0]))
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	if len(r.File) != 2 {
		t.Errorf("first part holds %d files, want 2", len(r.File))
	}
}

func TestZipOversizedFileGetsOwnPart(t *testing.T) {
	ws, _ := runZipStage(t, t.TempDir(), map[string][]byte{
		"small.txt": []byte("tiny"),
		"huge.iso":  bytes.Repeat([]byte("x"), 1<<20+1),
	})

	names := partNames(t, ws)
	if len(names) != 2 {
		t.Fatalf("got parts %v, want 2 (oversized file alone)", names)
	}
}

func TestZipSkipsVideosAndKeepsTree(t *testing.T) {
	ws, _ := runZipStage(t, t.TempDir(), map[string][]byte{
		"lesson.mp4":        []byte("video"),
		"docs/handout.pdf":  []byte("pdf"),
		"docs/exercise.txt": []byte("txt"),
	})

	names := partNames(t, ws)
	if len(names) != 1 {
		t.Fatalf("got parts %v, want 1", names)
	}
	r, err := zip.OpenReader(filepath.Join(ws.zipped(), names[0]))
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	var stored []string
	for _, f := range r.File {
		stored = append(stored, f.Name)
	}
	sort.Strings(stored)
	want := []string{"docs/exercise.txt", "docs/handout.pdf"}
	if len(stored) != len(want) || stored[0] != want[0] || stored[1] != want[1] {
		t.Errorf("got archive entries %v, want %v", stored, want)
	}
}

func TestZipNoDocumentsWritesNothing(t *testing.T) {
	ws, _ := runZipStage(t, t.TempDir(), map[string][]byte{
		"only.mp4": []byte("video"),
	})
	if names := partNames(t, ws); len(names) != 0 {
		t.Errorf("got parts %v, want none", names)
	}
}

func TestZipWipesStaleTemporaries(t *testing.T) {
	source := t.TempDir()
	writeSource(t, source, map[string][]byte{"a.pdf": []byte("pdf")})
	root := t.TempDir()
	p := zipPipeline(t, root)
	ws := newWorkspace(root, "course")
	if err := ws.ensure(); err != nil {
		t.Fatal(err)
	}
	stale := filepath.Join(ws.zipped(), "course_007.zip.tmp")
	if err := os.WriteFile(stale, []byte("junk"), 0o644); err != nil {
		t.Fatal(err)
	}

	task := clonechat.PublishTask{SourceFolder: source, ProjectName: "course"}
	if err := p.runZip(context.Background(), ws, task); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Error("stale temporary survived the stage re-entry")
	}
}
