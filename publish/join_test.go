package publish

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nevindra/clonechat"
)

// seedReencoded writes one reencoded artifact per row the way the
// reencode stage lays them out.
func seedReencoded(t *testing.T, ws workspace, rows []reportRow, sizes []int) {
	t.Helper()
	if err := ws.ensure(); err != nil {
		t.Fatal(err)
	}
	for i, row := range rows {
		data := bytes.Repeat([]byte("v"), sizes[i])
		path := filepath.Join(ws.reencoded(), reencodedName(i, row.File))
		if err := os.WriteFile(path, data, 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestPlanGroupsClosesBeforeDurationLimit(t *testing.T) {
	root := t.TempDir()
	cfg := testConfig(root)
	cfg.DurationLimit = 250 * time.Second
	p := New(nil, newFakeStore(), &fakeTranscoder{}, cfg)

	rows := []reportRow{
		{File: "a.mp4", Duration: 100},
		{File: "b.mp4", Duration: 100},
		{File: "c.mp4", Duration: 100},
	}
	ws := newWorkspace(root, "course")
	seedReencoded(t, ws, rows, []int{10, 10, 10})

	groups, err := p.planGroups(ws, rows)
	if err != nil {
		t.Fatal(err)
	}
	if len(groups) != 2 {
		t.Fatalf("got %d groups, want 2", len(groups))
	}
	// 200+100 would reach the 250 s limit, so c starts a new part.
	if len(groups[0].rows) != 2 || len(groups[1].rows) != 1 {
		t.Errorf("got sizes %d and %d, want 2 and 1", len(groups[0].rows), len(groups[1].rows))
	}
}

func TestPlanGroupsClosesBeforeSizeLimit(t *testing.T) {
	root := t.TempDir()
	p := New(nil, newFakeStore(), &fakeTranscoder{}, testConfig(root))

	rows := []reportRow{
		{File: "a.mp4", Duration: 1},
		{File: "b.mp4", Duration: 1},
	}
	ws := newWorkspace(root, "course")
	seedReencoded(t, ws, rows, []int{600 << 10, 600 << 10})

	groups, err := p.planGroups(ws, rows)
	if err != nil {
		t.Fatal(err)
	}
	if len(groups) != 2 {
		t.Fatalf("got %d groups, want 2 parts under the 1 MiB limit", len(groups))
	}
}

func TestPlanGroupsSinglePlan(t *testing.T) {
	root := t.TempDir()
	cfg := testConfig(root)
	cfg.ReencodePlan = PlanSingle
	p := New(nil, newFakeStore(), &fakeTranscoder{}, cfg)

	rows := []reportRow{
		{File: "a.mp4", Duration: 1},
		{File: "b.mp4", Duration: 1},
	}
	ws := newWorkspace(root, "course")
	seedReencoded(t, ws, rows, []int{10, 10})

	groups, err := p.planGroups(ws, rows)
	if err != nil {
		t.Fatal(err)
	}
	if len(groups) != 2 {
		t.Fatalf("got %d groups, want one per video", len(groups))
	}
}

func TestPlanGroupsRequiresArtifacts(t *testing.T) {
	root := t.TempDir()
	p := New(nil, newFakeStore(), &fakeTranscoder{}, testConfig(root))
	ws := newWorkspace(root, "course")
	if err := ws.ensure(); err != nil {
		t.Fatal(err)
	}

	rows := []reportRow{{File: "missing.mp4", Duration: 1}}
	if _, err := p.planGroups(ws, rows); err == nil {
		t.Fatal("want error when a reencoded artifact is absent")
	}
}

func TestRunJoinWeavesTransition(t *testing.T) {
	root := t.TempDir()
	cfg := testConfig(root)
	cfg.Transition = true
	trans := &fakeTranscoder{}
	p := New(nil, newFakeStore(), trans, cfg)

	rows := []reportRow{
		{File: "a.mp4", Duration: 50, Action: actionJoin},
		{File: "b.mp4", Duration: 50, Action: actionJoin},
	}
	ws := newWorkspace(root, "course")
	seedReencoded(t, ws, rows, []int{10, 10})
	if err := writeReport(reportPath(ws), rows); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(ws.transition(), []byte("sting"), 0o644); err != nil {
		t.Fatal(err)
	}

	task := clonechat.PublishTask{ProjectName: "course"}
	if err := p.runJoin(context.Background(), ws, task); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(trans.concats) != 1 {
		t.Fatalf("got %d concat calls, want 1", len(trans.concats))
	}
	list := trans.concats[0]
	if got := strings.Count(list, "file '"); got != 3 {
		t.Errorf("got %d list entries, want clip, transition, clip:\n%s", got, list)
	}
	if !strings.Contains(list, "transition.mp4") {
		t.Errorf("transition missing from list:\n%s", list)
	}
	if _, err := os.Stat(filepath.Join(ws.joined(), "course_p001.mp4")); err != nil {
		t.Errorf("joined part not written: %v", err)
	}
}

func TestRunJoinWithoutTransitionFile(t *testing.T) {
	root := t.TempDir()
	cfg := testConfig(root)
	cfg.Transition = true // enabled but no clip on disk
	trans := &fakeTranscoder{}
	p := New(nil, newFakeStore(), trans, cfg)

	rows := []reportRow{
		{File: "a.mp4", Duration: 50, Action: actionJoin},
		{File: "b.mp4", Duration: 50, Action: actionJoin},
	}
	ws := newWorkspace(root, "course")
	seedReencoded(t, ws, rows, []int{10, 10})
	if err := writeReport(reportPath(ws), rows); err != nil {
		t.Fatal(err)
	}

	task := clonechat.PublishTask{ProjectName: "course"}
	if err := p.runJoin(context.Background(), ws, task); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := strings.Count(trans.concats[0], "file '"); got != 2 {
		t.Errorf("got %d list entries, want just the clips:\n%s", got, trans.concats[0])
	}
}

func TestRunJoinSingletonLinksThrough(t *testing.T) {
	root := t.TempDir()
	trans := &fakeTranscoder{}
	p := New(nil, newFakeStore(), trans, testConfig(root))

	rows := []reportRow{{File: "a.mp4", Duration: 50, Action: actionJoin}}
	ws := newWorkspace(root, "course")
	seedReencoded(t, ws, rows, []int{10})
	if err := writeReport(reportPath(ws), rows); err != nil {
		t.Fatal(err)
	}

	task := clonechat.PublishTask{ProjectName: "course"}
	if err := p.runJoin(context.Background(), ws, task); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(trans.concats) != 0 {
		t.Errorf("singleton part went through the transcoder")
	}
	data, err := os.ReadFile(filepath.Join(ws.joined(), "course_p001.mp4"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != strings.Repeat("v", 10) {
		t.Errorf("part content differs from the artifact")
	}
}

func TestRunJoinSkipsExistingParts(t *testing.T) {
	root := t.TempDir()
	trans := &fakeTranscoder{}
	p := New(nil, newFakeStore(), trans, testConfig(root))

	rows := []reportRow{
		{File: "a.mp4", Duration: 50, Action: actionJoin},
		{File: "b.mp4", Duration: 50, Action: actionJoin},
	}
	ws := newWorkspace(root, "course")
	seedReencoded(t, ws, rows, []int{10, 10})
	if err := writeReport(reportPath(ws), rows); err != nil {
		t.Fatal(err)
	}
	prior := filepath.Join(ws.joined(), "course_p001.mp4")
	if err := os.WriteFile(prior, []byte("from the interrupted run"), 0o644); err != nil {
		t.Fatal(err)
	}

	task := clonechat.PublishTask{ProjectName: "course"}
	if err := p.runJoin(context.Background(), ws, task); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(trans.concats) != 0 {
		t.Errorf("existing part was rebuilt")
	}
	data, _ := os.ReadFile(prior)
	if string(data) != "from the interrupted run" {
		t.Errorf("existing part was overwritten")
	}
}

func TestConcatLineQuoting(t *testing.T) {
	got := concatLine("/tmp/it's here.mp4")
	want := `file '/tmp/it'\''s here.mp4'` + "\n"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}
