package publish

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/nevindra/clonechat"
)

const (
	// audioKbit matches the AAC track the transcoder writes.
	audioKbit = 128
	// minVideoKbit is the floor below which output becomes unwatchable.
	minVideoKbit = 100
)

// runReencode materialises the report rows under reencoded/. Rows
// marked reencode transcode to H.264/AAC MP4; compliant rows hard-link
// through. Outputs carry a report-order index so the directory sorts
// the way the report reads.
func (p *Pipeline) runReencode(ctx context.Context, ws workspace, task clonechat.PublishTask) error {
	if err := wipeTmp(ws.reencoded()); err != nil {
		return err
	}
	rows, err := readReport(reportPath(ws))
	if err != nil {
		return err
	}

	for i, row := range rows {
		if err := ctx.Err(); err != nil {
			return err
		}
		src := filepath.Join(task.SourceFolder, filepath.FromSlash(row.File))
		dst := filepath.Join(ws.reencoded(), reencodedName(i, row.File))
		if _, err := os.Stat(dst); err == nil {
			// Finished by an interrupted earlier attempt.
			p.logger.Debug("output exists, skipping", "file", filepath.Base(dst))
			continue
		}

		if row.Action != actionReencode {
			if err := linkOrCopy(src, dst); err != nil {
				return fmt.Errorf("stage %s: %w", row.File, err)
			}
			continue
		}

		kbit := p.videoKbit(row)
		start := time.Now()
		tmp := dst + ".tmp"
		if err := p.trans.Reencode(ctx, src, tmp, kbit); err != nil {
			return fmt.Errorf("reencode %s: %w", row.File, err)
		}
		if err := os.Rename(tmp, dst); err != nil {
			return err
		}
		p.stats.Observe("transcoder.duration", time.Since(start).Seconds(),
			clonechat.StringAttr("op", "reencode"))
		p.logger.Info("video re-encoded",
			"file", row.File,
			"video_kbit", kbit,
			"elapsed", time.Since(start))
	}
	p.logger.Info("reencode complete", "videos", len(rows))
	return nil
}

// reencodedName flattens a source-relative path into a stable file
// name. The index keeps the directory sorted in report order.
func reencodedName(i int, file string) string {
	base := strings.TrimSuffix(path.Base(file), path.Ext(file))
	return fmt.Sprintf("%03d_%s.mp4", i+1, clonechat.SanitizeFilename(base))
}

// videoKbit returns the -b:v cap keeping the output under the size
// limit, leaving room for the audio track. Zero means no cap: when the
// source already fits with headroom, default rate control gives better
// quality per byte than an inflated target.
func (p *Pipeline) videoKbit(row reportRow) int {
	if row.Duration <= 0 {
		return 0
	}
	if row.Size > 0 && row.Size+row.Size/10 < p.cfg.sizeLimitBytes() {
		return 0
	}
	budget := int(float64(p.cfg.sizeLimitBytes())*8/row.Duration/1000) - audioKbit
	if budget < minVideoKbit {
		return minVideoKbit
	}
	return budget
}
