package publish

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/nevindra/clonechat"
)

// runUpload pushes the plan to the destination chat. Items at or below
// the stored marker are skipped, so a resumed run never re-sends. The
// summary is posted and pinned after the last item, then the channel
// description is set and the optional publication notice goes out.
func (p *Pipeline) runUpload(ctx context.Context, ws workspace, task clonechat.PublishTask) error {
	items, err := readPlan(planPath(ws))
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return errors.New("upload plan is empty")
	}
	rows, err := readReport(reportPath(ws))
	if err != nil {
		return err
	}

	dest, invite, err := p.destination(ctx, &task)
	if err != nil {
		return err
	}
	logger := p.logger.With("destination", dest)

	if p.cfg.AutoAdapt {
		p.renumber(items)
	}
	// Totals stat the artifacts now, before any cleanup removes them.
	description := p.describe(ws, items, rows)

	marker := task.LastUploadedFile
	sent := 0
	for _, it := range items {
		if marker != "" && it.Path <= marker {
			logger.Debug("already uploaded, skipping", "path", it.Path)
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		abs := filepath.Join(ws.dir(), filepath.FromSlash(it.Path))
		up, err := p.buildUpload(ctx, abs, it)
		if err != nil {
			return err
		}
		id, err := p.client.SendMedia(ctx, dest, up)
		if err != nil {
			return fmt.Errorf("upload %s: %w", it.Path, err)
		}
		if err := p.store.SetPublishUploadMarker(ctx, task.SourceFolder, it.Path); err != nil {
			return fmt.Errorf("advance upload marker: %w", err)
		}
		marker = it.Path
		sent++
		p.stats.Count("publish.uploads", 1, clonechat.StringAttr("kind", it.Kind))
		logger.Info("uploaded", "path", it.Path, "message_id", id)

		if p.cfg.AutodelTemp && it.Kind == planKindVideo {
			if err := os.Remove(abs); err != nil {
				logger.Warn("intermediate cleanup failed", "path", it.Path, "error", err)
			}
		}
	}
	logger.Info("plan uploaded", "sent", sent, "skipped", len(items)-sent)

	if err := p.postSummary(ctx, ws, dest); err != nil {
		return err
	}
	if err := p.client.SetDescription(ctx, dest, description); err != nil {
		logger.Warn("description update failed", "error", err)
	}
	p.notify(ctx, task, dest, invite)
	return nil
}

// destination returns the chat receiving the uploads, binding the task
// to it on first resolution. A created channel is recorded in the link
// registry, with an invite link when configured.
func (p *Pipeline) destination(ctx context.Context, task *clonechat.PublishTask) (int64, string, error) {
	if task.DestID != 0 {
		return task.DestID, "", nil
	}

	var dest int64
	var invite string
	if p.cfg.CreateChannel {
		created, err := p.client.CreateChannel(ctx, task.ProjectName, "")
		if err != nil {
			return 0, "", fmt.Errorf("create destination channel: %w", err)
		}
		dest = created.ID
		p.logger.Info("created destination channel", "destination", dest, "title", task.ProjectName)

		if p.cfg.RegisterInvite {
			invite, err = p.client.ExportInviteLink(ctx, dest)
			if err != nil {
				p.logger.Warn("invite link export failed", "error", err)
				invite = ""
			}
		}
		if p.links != nil {
			if err := p.links.Append(task.ProjectName, clonechat.DeepLink(dest), invite); err != nil {
				p.logger.Warn("link registry write failed", "error", err)
			}
		}
	} else {
		if p.cfg.ChatID == 0 {
			return 0, "", errors.New("no destination: set CHAT_ID or CREATE_NEW_CHANNEL")
		}
		dest = p.cfg.ChatID
	}

	if err := p.store.SetPublishDestination(ctx, task.SourceFolder, dest); err != nil {
		return 0, "", fmt.Errorf("store destination: %w", err)
	}
	task.DestID = dest
	return dest, invite, nil
}

// renumber rewrites the caption index of video items to follow the
// actual plan order, so a hand-reordered plan still numbers cleanly.
func (p *Pipeline) renumber(items []planItem) {
	re := regexp.MustCompile(`^#` + regexp.QuoteMeta(p.cfg.HashtagIndex) + `\d+`)
	n := 0
	for i := range items {
		if items[i].Kind != planKindVideo {
			continue
		}
		tag := fmt.Sprintf("#%s%d", p.cfg.HashtagIndex, p.cfg.StartIndex+n)
		items[i].Caption = re.ReplaceAllString(items[i].Caption, tag)
		n++
	}
}

// buildUpload maps one plan item to a platform upload. Videos are
// probed so the player gets duration and dimensions.
func (p *Pipeline) buildUpload(ctx context.Context, abs string, it planItem) (clonechat.Upload, error) {
	base := filepath.Base(abs)
	if it.Kind == planKindDocument {
		return clonechat.Upload{
			Kind:     clonechat.KindDocument,
			Path:     abs,
			Caption:  it.Caption,
			FileName: base,
			MIME:     "application/zip",
		}, nil
	}
	info, err := p.trans.Probe(ctx, abs)
	if err != nil {
		return clonechat.Upload{}, fmt.Errorf("probe %s: %w", it.Path, err)
	}
	return clonechat.Upload{
		Kind:     clonechat.KindVideo,
		Path:     abs,
		Caption:  it.Caption,
		FileName: base,
		MIME:     "video/mp4",
		Duration: time.Duration(info.Duration * float64(time.Second)),
		Width:    info.Width,
		Height:   info.Height,
	}, nil
}

// postSummary sends summary.txt as HTML, chunked to the message limit,
// and pins the first chunk.
func (p *Pipeline) postSummary(ctx context.Context, ws workspace, dest int64) error {
	text, err := os.ReadFile(summaryPath(ws))
	if err != nil {
		return err
	}
	firstID := 0
	for _, chunk := range clonechat.SplitMessage(string(text)) {
		id, err := p.client.SendText(ctx, dest, clonechat.MarkdownToHTML(chunk),
			clonechat.SendOptions{HTML: true, NoPreview: true})
		if err != nil {
			return fmt.Errorf("post summary: %w", err)
		}
		if firstID == 0 {
			firstID = id
		}
	}
	if firstID != 0 {
		if err := p.client.Pin(ctx, dest, firstID); err != nil {
			p.logger.Warn("summary pin failed", "error", err)
		}
	}
	return nil
}

// describe renders the destination description: total content size and
// running time.
func (p *Pipeline) describe(ws workspace, items []planItem, rows []reportRow) string {
	var seconds float64
	for _, r := range rows {
		seconds += r.Duration
	}
	var size int64
	for _, it := range items {
		abs := filepath.Join(ws.dir(), filepath.FromSlash(it.Path))
		if info, err := os.Stat(abs); err == nil {
			size += info.Size()
		}
	}
	gib := float64(size) / (1 << 30)
	return fmt.Sprintf("%.2f GiB | %s", gib, formatOffset(seconds))
}

// notify posts the publication notice to the configured chat. The link
// is the invite when one was exported, else the deep link.
func (p *Pipeline) notify(ctx context.Context, task clonechat.PublishTask, dest int64, invite string) {
	if p.cfg.MocChatID == 0 {
		return
	}
	link := invite
	if link == "" {
		link = clonechat.DeepLink(dest)
	}
	text := task.ProjectName + "\n" + link
	if _, err := p.client.SendText(ctx, p.cfg.MocChatID, text, clonechat.SendOptions{}); err != nil {
		p.logger.Warn("publication notice failed", "chat", p.cfg.MocChatID, "error", err)
	}
}
