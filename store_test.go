package clonechat

import "testing"

func TestStepNext(t *testing.T) {
	tests := []struct {
		step Step
		want Step
	}{
		{StepInit, StepZip},
		{StepZip, StepReport},
		{StepReport, StepReencodeAuth},
		{StepReencodeAuth, StepReencode},
		{StepReencode, StepJoin},
		{StepJoin, StepTimestamp},
		{StepTimestamp, StepUploadAuth},
		{StepUploadAuth, StepUpload},
		{StepUpload, StepDone},
		{StepDone, StepDone},
		{Step("bogus"), StepDone},
	}
	for _, tt := range tests {
		if got := tt.step.Next(); got != tt.want {
			t.Errorf("%s.Next() = %s, want %s", tt.step, got, tt.want)
		}
	}
}

func TestPublishTaskStageDone(t *testing.T) {
	task := PublishTask{Started: true, Zipped: true, Reported: true}

	done := []Step{StepInit, StepZip, StepReport}
	for _, step := range done {
		if !task.StageDone(step) {
			t.Errorf("StageDone(%s) = false, want true", step)
		}
	}
	pending := []Step{StepReencodeAuth, StepReencode, StepJoin, StepTimestamp, StepUploadAuth, StepUpload, StepDone}
	for _, step := range pending {
		if task.StageDone(step) {
			t.Errorf("StageDone(%s) = true, want false", step)
		}
	}
}
