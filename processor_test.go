package clonechat

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// stubExtractor records ExtractAudio calls and writes the mp3 so
// cleanup paths can be checked.
type stubExtractor struct {
	calls []string
	err   error
}

func (s *stubExtractor) ExtractAudio(_ context.Context, src, dst string) error {
	s.calls = append(s.calls, src)
	if s.err != nil {
		return s.err
	}
	return os.WriteFile(dst, []byte("mp3"), 0o644)
}

var _ AudioExtractor = (*stubExtractor)(nil)

func videoMessage(id int) Message {
	return Message{
		ID:   id,
		Kind: KindVideo,
		Text: "lesson",
		Media: &MediaInfo{
			FileName: "lesson.mp4",
			MIME:     "video/mp4",
			Size:     4,
			Duration: 60,
			Width:    1280,
			Height:   720,
		},
	}
}

func TestProcessorSkipsEmptyAndService(t *testing.T) {
	stub := &stubClient{}
	p := NewProcessor(stub)

	for _, kind := range []Kind{KindEmpty, KindService} {
		id, err := p.Process(context.Background(), StrategyForward, 1, Message{ID: 3, Kind: kind}, 2, ProcessOptions{})
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", kind, err)
		}
		if id != 0 {
			t.Errorf("%s: got id %d, want 0", kind, id)
		}
	}
	if stub.calls != 0 {
		t.Errorf("got %d client calls, want 0", stub.calls)
	}
}

func TestProcessorForward(t *testing.T) {
	stub := &stubClient{results: []stubResult{{id: 88}}}
	p := NewProcessor(stub)

	id, err := p.Process(context.Background(), StrategyForward, 1, videoMessage(7), 2, ProcessOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != 88 {
		t.Errorf("got id %d, want 88", id)
	}
	if len(stub.forwards) != 1 || stub.forwards[0] != 7 {
		t.Errorf("got forwards %v, want [7]", stub.forwards)
	}
}

func TestProcessorDownloadUploadText(t *testing.T) {
	stub := &stubClient{}
	p := NewProcessor(stub)

	long := strings.Repeat("a", textLimit+10)
	_, err := p.Process(context.Background(), StrategyDownloadUpload, 1, Message{ID: 1, Kind: KindText, Text: long}, 2, ProcessOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(stub.texts) != 1 {
		t.Fatalf("got %d texts, want 1", len(stub.texts))
	}
	if got := len([]rune(stub.texts[0])); got != textLimit {
		t.Errorf("got %d runes, want %d", got, textLimit)
	}
}

func TestProcessorDownloadUploadMedia(t *testing.T) {
	scratch := t.TempDir()
	stub := &stubClient{}
	ext := &stubExtractor{}
	p := NewProcessor(stub, ProcessorAudio(ext))

	msg := videoMessage(7)
	msg.Text = strings.Repeat("b", captionLimit+10)
	id, err := p.Process(context.Background(), StrategyDownloadUpload, 1, msg, 2,
		ProcessOptions{ScratchDir: scratch, ExtractAudio: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id == 0 {
		t.Error("got id 0, want a destination message id")
	}
	if len(stub.uploads) != 1 {
		t.Fatalf("got %d uploads, want 1", len(stub.uploads))
	}
	up := stub.uploads[0]
	if up.Kind != KindVideo || up.FileName != "lesson.mp4" || up.Duration != 60 {
		t.Errorf("upload lost media attributes: %+v", up)
	}
	if got := len([]rune(up.Caption)); got != captionLimit {
		t.Errorf("got caption %d runes, want %d", got, captionLimit)
	}

	// The payload is removed after the ack; the mp3 stays.
	if _, err := os.Stat(up.Path); !os.IsNotExist(err) {
		t.Errorf("payload %s still on disk", up.Path)
	}
	mp3 := strings.TrimSuffix(up.Path, filepath.Ext(up.Path)) + ".mp3"
	if _, err := os.Stat(mp3); err != nil {
		t.Errorf("mp3 missing: %v", err)
	}
	if len(ext.calls) != 1 {
		t.Errorf("got %d extract calls, want 1", len(ext.calls))
	}
}

func TestProcessorExtractionFailureIsNonFatal(t *testing.T) {
	stub := &stubClient{}
	ext := &stubExtractor{err: errors.New("no audio stream")}
	p := NewProcessor(stub, ProcessorAudio(ext))

	_, err := p.Process(context.Background(), StrategyDownloadUpload, 1, videoMessage(7), 2,
		ProcessOptions{ScratchDir: t.TempDir(), ExtractAudio: true})
	if err != nil {
		t.Fatalf("extraction failure should not fail the message: %v", err)
	}
	if len(stub.uploads) != 1 {
		t.Errorf("got %d uploads, want 1", len(stub.uploads))
	}
}

func TestProcessorZeroByteSkip(t *testing.T) {
	stub := &stubClient{downloadSizes: []int64{0, 0}}
	p := NewProcessor(stub)

	id, err := p.Process(context.Background(), StrategyDownloadUpload, 1, videoMessage(7), 2,
		ProcessOptions{ScratchDir: t.TempDir()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != 0 {
		t.Errorf("got id %d, want 0 for skipped payload", id)
	}
	if len(stub.downloads) != 2 {
		t.Errorf("got %d download attempts, want 2 (one retry)", len(stub.downloads))
	}
	if len(stub.uploads) != 0 {
		t.Errorf("got %d uploads, want 0", len(stub.uploads))
	}
}

func TestProcessorZeroByteRetrySucceeds(t *testing.T) {
	stub := &stubClient{downloadSizes: []int64{0, 8}}
	p := NewProcessor(stub)

	id, err := p.Process(context.Background(), StrategyDownloadUpload, 1, videoMessage(7), 2,
		ProcessOptions{ScratchDir: t.TempDir()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id == 0 {
		t.Error("got id 0, want a destination message id")
	}
	if len(stub.uploads) != 1 {
		t.Errorf("got %d uploads, want 1", len(stub.uploads))
	}
}

func TestProcessorPoll(t *testing.T) {
	stub := &stubClient{}
	p := NewProcessor(stub)

	msg := Message{ID: 4, Kind: KindPoll, Poll: &Poll{
		Question: "best ide?",
		Options:  []string{"vim", "emacs"},
	}}
	_, err := p.Process(context.Background(), StrategyDownloadUpload, 1, msg, 2, ProcessOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(stub.uploads) != 1 || stub.uploads[0].Kind != KindPoll {
		t.Fatalf("got uploads %+v, want one poll", stub.uploads)
	}
	if stub.uploads[0].Poll.Question != "best ide?" {
		t.Errorf("poll question lost: %+v", stub.uploads[0].Poll)
	}
}

func TestProcessorQuizPollUnsupported(t *testing.T) {
	stub := &stubClient{}
	p := NewProcessor(stub)

	msg := Message{ID: 4, Kind: KindPoll, Poll: &Poll{Question: "q", Quiz: true}}
	_, err := p.Process(context.Background(), StrategyDownloadUpload, 1, msg, 2, ProcessOptions{})
	if !IsUnsupported(err) {
		t.Errorf("IsUnsupported(%v) = false, want true", err)
	}
}

func TestProcessorLocation(t *testing.T) {
	stub := &stubClient{}
	p := NewProcessor(stub)

	msg := Message{ID: 5, Kind: KindLocation, Geo: &GeoPoint{Lat: -23.55, Long: -46.63}}
	_, err := p.Process(context.Background(), StrategyDownloadUpload, 1, msg, 2, ProcessOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(stub.uploads) != 1 || stub.uploads[0].Geo == nil {
		t.Fatalf("got uploads %+v, want one geo point", stub.uploads)
	}
}

func TestProcessorUnsupportedKind(t *testing.T) {
	stub := &stubClient{}
	p := NewProcessor(stub)

	_, err := p.Process(context.Background(), StrategyForward, 1, Message{ID: 9, Kind: KindUnsupported}, 2, ProcessOptions{})
	if !IsUnsupported(err) {
		t.Errorf("IsUnsupported(%v) = false, want true", err)
	}
}

func TestScratchName(t *testing.T) {
	msg := videoMessage(42)
	if got := scratchName(msg); got != "42-lesson.mp4" {
		t.Errorf("got %q, want %q", got, "42-lesson.mp4")
	}

	msg.Media.FileName = ""
	if got := scratchName(msg); got != "42-video.mp4" {
		t.Errorf("got %q, want %q", got, "42-video.mp4")
	}

	msg.Kind = KindVoice
	msg.Media.MIME = "audio/ogg"
	if got := scratchName(msg); got != "42-voice.ogg" {
		t.Errorf("got %q, want %q", got, "42-voice.ogg")
	}
}
