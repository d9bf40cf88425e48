package publish

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nevindra/clonechat"
)

// uploadFixture prepares a workspace that already passed timestamp:
// report, plan and summary on disk plus the joined parts and the
// archive the plan names.
func uploadFixture(t *testing.T, p *Pipeline, root string) (workspace, clonechat.PublishTask) {
	t.Helper()
	ws, task := timestampFixture(t, root)
	task.SourceFolder = filepath.Join(root, "src")
	if err := p.runTimestamp(context.Background(), ws, task); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"course_p001.mp4", "course_p002.mp4"} {
		path := filepath.Join(ws.joined(), name)
		if err := os.WriteFile(path, []byte("joined-bytes"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return ws, task
}

func TestRunUploadResumesFromMarker(t *testing.T) {
	root := t.TempDir()
	client := &fakeClient{}
	store := newFakeStore()
	p := New(client, store, &fakeTranscoder{}, testConfig(root))
	ws, task := uploadFixture(t, p, root)
	task.DestID = clonechat.ChannelID(900)
	task.LastUploadedFile = "joined/course_p001.mp4"

	if err := p.runUpload(context.Background(), ws, task); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(client.titles) != 0 {
		t.Errorf("bound task created a channel")
	}
	if len(client.uploads) != 2 {
		t.Fatalf("got %d uploads, want the 2 items past the marker", len(client.uploads))
	}
	first := client.uploads[0]
	if first.FileName != "course_p002.mp4" || first.Kind != clonechat.KindVideo {
		t.Errorf("first upload = %s (%s)", first.FileName, first.Kind)
	}
	if first.MIME != "video/mp4" || first.Duration != 60*time.Second || first.Width != 1280 {
		t.Errorf("video metadata lost: %+v", first)
	}
	second := client.uploads[1]
	if second.FileName != "course_001.zip" || second.Kind != clonechat.KindDocument {
		t.Errorf("second upload = %s (%s)", second.FileName, second.Kind)
	}
	if second.MIME != "application/zip" {
		t.Errorf("archive MIME = %s", second.MIME)
	}

	if got := store.tasks[task.SourceFolder].LastUploadedFile; got != "zipped/course_001.zip" {
		t.Errorf("marker = %q, want the last sent path", got)
	}

	// The summary goes out as one pinned HTML message.
	if len(client.texts) != 1 || !client.htmlFlags[0] {
		t.Fatalf("got %d texts (html %v), want 1 HTML summary", len(client.texts), client.htmlFlags)
	}
	if len(client.pins) != 1 {
		t.Errorf("got %d pins, want 1", len(client.pins))
	}
	if len(client.descriptions) != 1 || client.descriptions[0] != "0.00 GiB | 00:02:50" {
		t.Errorf("descriptions = %q", client.descriptions)
	}
}

func TestRunUploadRenumbersCaptions(t *testing.T) {
	root := t.TempDir()
	client := &fakeClient{}
	cfg := testConfig(root)
	cfg.AutoAdapt = true
	cfg.StartIndex = 5
	p := New(client, newFakeStore(), &fakeTranscoder{}, cfg)
	ws, task := uploadFixture(t, p, root)
	task.DestID = 77

	// A hand-reordered plan with stale indexes.
	items := []planItem{
		{Order: 1, Path: "joined/course_p001.mp4", Caption: "#F9 course_p001", Kind: planKindVideo},
		{Order: 2, Path: "joined/course_p002.mp4", Caption: "#F12 course_p002", Kind: planKindVideo},
		{Order: 3, Path: "zipped/course_001.zip", Caption: "#M Material 001", Kind: planKindDocument},
	}
	if err := writePlan(planPath(ws), items); err != nil {
		t.Fatal(err)
	}

	if err := p.runUpload(context.Background(), ws, task); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{"#F5 course_p001", "#F6 course_p002", "#M Material 001"}
	for i, up := range client.uploads {
		if up.Caption != want[i] {
			t.Errorf("caption %d = %q, want %q", i, up.Caption, want[i])
		}
	}
}

func TestRunUploadCreatesChannelAndRegistersLink(t *testing.T) {
	root := t.TempDir()
	client := &fakeClient{
		created: clonechat.Chat{ID: clonechat.ChannelID(321), Kind: clonechat.ChatChannel},
		invite:  "https://t.me/+abc",
	}
	store := newFakeStore()
	cfg := testConfig(root)
	cfg.RegisterInvite = true
	registry := filepath.Join(root, "links.txt")
	p := New(client, store, &fakeTranscoder{}, cfg,
		PipelineLinkFile(clonechat.NewLinkFile(registry)))
	ws, task := uploadFixture(t, p, root)

	if err := p.runUpload(context.Background(), ws, task); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(client.titles) != 1 || client.titles[0] != "course" {
		t.Errorf("channel titles = %q", client.titles)
	}
	if client.inviteCalls != 1 {
		t.Errorf("invite exports = %d, want 1", client.inviteCalls)
	}
	if got := store.tasks[task.SourceFolder].DestID; got != clonechat.ChannelID(321) {
		t.Errorf("stored destination = %d", got)
	}
	for _, chat := range client.uploadChats {
		if chat != clonechat.ChannelID(321) {
			t.Errorf("upload went to %d", chat)
		}
	}

	rec, err := os.ReadFile(registry)
	if err != nil {
		t.Fatal(err)
	}
	want := "course\nhttps://t.me/c/321/1 | https://t.me/+abc\n"
	if string(rec) != want {
		t.Errorf("registry record:\ngot  %q\nwant %q", rec, want)
	}
}

func TestRunUploadRequiresDestination(t *testing.T) {
	root := t.TempDir()
	cfg := testConfig(root)
	cfg.CreateChannel = false // and no ChatID either
	client := &fakeClient{}
	p := New(client, newFakeStore(), &fakeTranscoder{}, cfg)
	ws, task := uploadFixture(t, p, root)

	err := p.runUpload(context.Background(), ws, task)
	if err == nil || !strings.Contains(err.Error(), "no destination") {
		t.Fatalf("got %v, want a destination error", err)
	}
	if len(client.uploads) != 0 {
		t.Errorf("uploaded without a destination")
	}
}

func TestRunUploadNotifiesPublicationChat(t *testing.T) {
	root := t.TempDir()
	cfg := testConfig(root)
	cfg.CreateChannel = false
	cfg.ChatID = clonechat.ChannelID(55)
	cfg.MocChatID = 42
	client := &fakeClient{}
	p := New(client, newFakeStore(), &fakeTranscoder{}, cfg)
	ws, task := uploadFixture(t, p, root)

	if err := p.runUpload(context.Background(), ws, task); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Summary first, then the notice.
	if len(client.texts) != 2 {
		t.Fatalf("got %d texts, want summary and notice", len(client.texts))
	}
	if client.textChats[1] != 42 {
		t.Errorf("notice went to %d, want 42", client.textChats[1])
	}
	want := "course\nhttps://t.me/c/55/1"
	if client.texts[1] != want {
		t.Errorf("notice = %q, want %q", client.texts[1], want)
	}
	if client.htmlFlags[1] {
		t.Errorf("notice sent as HTML")
	}
}

func TestRunUploadAutodelRemovesSentVideos(t *testing.T) {
	root := t.TempDir()
	cfg := testConfig(root)
	cfg.AutodelTemp = true
	client := &fakeClient{created: clonechat.Chat{ID: clonechat.ChannelID(900), Kind: clonechat.ChatChannel}}
	p := New(client, newFakeStore(), &fakeTranscoder{}, cfg)
	ws, task := uploadFixture(t, p, root)

	if err := p.runUpload(context.Background(), ws, task); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, name := range []string{"course_p001.mp4", "course_p002.mp4"} {
		if _, err := os.Stat(filepath.Join(ws.joined(), name)); !os.IsNotExist(err) {
			t.Errorf("%s survived cleanup", name)
		}
	}
	if _, err := os.Stat(filepath.Join(ws.zipped(), "course_001.zip")); err != nil {
		t.Errorf("archive removed: %v", err)
	}
}

func TestRunUploadEmptyPlanFails(t *testing.T) {
	root := t.TempDir()
	p := New(&fakeClient{}, newFakeStore(), &fakeTranscoder{}, testConfig(root))
	ws := newWorkspace(root, "course")
	if err := ws.ensure(); err != nil {
		t.Fatal(err)
	}
	if err := writePlan(planPath(ws), nil); err != nil {
		t.Fatal(err)
	}

	task := clonechat.PublishTask{ProjectName: "course", SourceFolder: filepath.Join(root, "src")}
	if err := p.runUpload(context.Background(), ws, task); err == nil {
		t.Fatal("want error for an empty plan")
	}
}
