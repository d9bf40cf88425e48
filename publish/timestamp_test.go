package publish

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/nevindra/clonechat"
	"github.com/nevindra/clonechat/ffmpeg"
)

func TestFormatOffset(t *testing.T) {
	tests := []struct {
		seconds float64
		want    string
	}{
		{0, "00:00:00"},
		{90, "00:01:30"},
		{59.6, "00:01:00"},
		{3661, "01:01:01"},
		{360000, "100:00:00"},
	}
	for _, tt := range tests {
		if got := formatOffset(tt.seconds); got != tt.want {
			t.Errorf("formatOffset(%v) = %q, want %q", tt.seconds, got, tt.want)
		}
	}
}

func TestCaptions(t *testing.T) {
	cfg := testConfig(t.TempDir())
	cfg.StartIndex = 5
	p := New(nil, newFakeStore(), &fakeTranscoder{}, cfg)

	if got := p.videoCaption(0, "course_p001.mp4"); got != "#F5 course_p001" {
		t.Errorf("got %q", got)
	}
	if got := p.videoCaption(2, "course_p003.mp4"); got != "#F7 course_p003" {
		t.Errorf("got %q", got)
	}
	if got := p.documentCaption(0); got != "#M Material 001" {
		t.Errorf("got %q", got)
	}
}

// timestampFixture seeds a report with three videos that group into two
// parts plus one archive, then returns the prepared workspace.
func timestampFixture(t *testing.T, root string) (workspace, clonechat.PublishTask) {
	t.Helper()
	rows := []reportRow{
		{File: "lessons/a.mp4", Duration: 30, Action: actionJoin},
		{File: "lessons/b.mp4", Duration: 40, Action: actionJoin},
		{File: "lessons/c.mp4", Duration: 100, Action: actionJoin},
	}
	ws := newWorkspace(root, "course")
	seedReencoded(t, ws, rows, []int{10, 10, 10})
	if err := writeReport(reportPath(ws), rows); err != nil {
		t.Fatal(err)
	}
	zip := filepath.Join(ws.zipped(), "course_001.zip")
	if err := os.WriteFile(zip, []byte("zip"), 0o644); err != nil {
		t.Fatal(err)
	}
	return ws, clonechat.PublishTask{ProjectName: "course"}
}

func TestRunTimestampSummaryAndPlan(t *testing.T) {
	root := t.TempDir()
	top := filepath.Join(root, "top.txt")
	bottom := filepath.Join(root, "bottom.txt")
	if err := os.WriteFile(top, []byte("Course materials\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(bottom, []byte("Enjoy!\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := testConfig(root)
	cfg.SummaryTop = top
	cfg.SummaryBottom = bottom
	p := New(nil, newFakeStore(), &fakeTranscoder{}, cfg)
	ws, task := timestampFixture(t, root)

	if err := p.runTimestamp(context.Background(), ws, task); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := os.ReadFile(summaryPath(ws))
	if err != nil {
		t.Fatal(err)
	}
	want := "Course materials\n\n" +
		"#F1 course_p001\n" +
		"00:00:00 a\n" +
		"00:00:30 b\n" +
		"\n" +
		"#F2 course_p002\n" +
		"00:00:00 c\n" +
		"\n" +
		"Enjoy!\n"
	if string(got) != want {
		t.Errorf("summary mismatch:\ngot:\n%s\nwant:\n%s", got, want)
	}

	items, err := readPlan(planPath(ws))
	if err != nil {
		t.Fatal(err)
	}
	wantItems := []planItem{
		{Order: 1, Path: "joined/course_p001.mp4", Caption: "#F1 course_p001", Kind: planKindVideo},
		{Order: 2, Path: "joined/course_p002.mp4", Caption: "#F2 course_p002", Kind: planKindVideo},
		{Order: 3, Path: "zipped/course_001.zip", Caption: "#M Material 001", Kind: planKindDocument},
	}
	if len(items) != len(wantItems) {
		t.Fatalf("got %d plan items, want %d", len(items), len(wantItems))
	}
	for i, it := range items {
		if it != wantItems[i] {
			t.Errorf("item %d = %+v, want %+v", i, it, wantItems[i])
		}
	}
}

func TestRunTimestampShiftsOffsetsByTransition(t *testing.T) {
	root := t.TempDir()
	cfg := testConfig(root)
	cfg.Transition = true
	trans := &fakeTranscoder{infos: map[string]ffmpeg.VideoInfo{
		"transition.mp4": {Duration: 5, VideoCodec: "h264", AudioCodec: "aac", Container: "mov,mp4,m4a,3gp,3g2,mj2"},
	}}
	p := New(nil, newFakeStore(), trans, cfg)
	ws, task := timestampFixture(t, root)
	if err := os.WriteFile(ws.transition(), []byte("sting"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := p.runTimestamp(context.Background(), ws, task); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := os.ReadFile(summaryPath(ws))
	if err != nil {
		t.Fatal(err)
	}
	// b starts after a (30 s) plus the 5 s transition.
	want := "#F1 course_p001\n" +
		"00:00:00 a\n" +
		"00:00:35 b\n" +
		"\n" +
		"#F2 course_p002\n" +
		"00:00:00 c\n"
	if string(got) != want {
		t.Errorf("summary mismatch:\ngot:\n%s\nwant:\n%s", got, want)
	}
}

func TestRunTimestampSkipsMissingSummaryBlocks(t *testing.T) {
	root := t.TempDir()
	cfg := testConfig(root)
	cfg.SummaryTop = filepath.Join(root, "nope.txt")
	p := New(nil, newFakeStore(), &fakeTranscoder{}, cfg)
	ws, task := timestampFixture(t, root)

	if err := p.runTimestamp(context.Background(), ws, task); err != nil {
		t.Fatalf("missing block must not fail the stage: %v", err)
	}
	got, err := os.ReadFile(summaryPath(ws))
	if err != nil {
		t.Fatal(err)
	}
	if string(got)[:3] != "#F1" {
		t.Errorf("summary should start at the first part, got:\n%s", got)
	}
}
