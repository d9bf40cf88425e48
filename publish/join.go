package publish

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/nevindra/clonechat"
)

// group is one joined output: consecutive report rows sharing a part.
// files holds the reencoded artifacts aligned with rows.
type group struct {
	rows  []reportRow
	files []string
}

// planGroups batches the reencoded artifacts into outputs. A group
// closes before adding a video would reach the duration or size limit,
// so a video exceeding a limit on its own still gets a part. The
// single plan puts every video in its own group.
//
// Both join and timestamp derive their view of the parts from this, so
// the two stages can never disagree about part boundaries.
func (p *Pipeline) planGroups(ws workspace, rows []reportRow) ([]group, error) {
	durLimit := p.cfg.DurationLimit.Seconds()
	sizeLimit := p.cfg.sizeLimitBytes()

	var groups []group
	var cur group
	var dur float64
	var size int64
	flush := func() {
		if len(cur.rows) > 0 {
			groups = append(groups, cur)
			cur = group{}
			dur, size = 0, 0
		}
	}

	for i, row := range rows {
		file := filepath.Join(ws.reencoded(), reencodedName(i, row.File))
		info, err := os.Stat(file)
		if err != nil {
			return nil, fmt.Errorf("reencoded artifact for %s: %w", row.File, err)
		}
		if p.cfg.ReencodePlan == PlanSingle {
			groups = append(groups, group{rows: []reportRow{row}, files: []string{file}})
			continue
		}
		if len(cur.rows) > 0 && (dur+row.Duration >= durLimit || size+info.Size() >= sizeLimit) {
			flush()
		}
		cur.rows = append(cur.rows, row)
		cur.files = append(cur.files, file)
		dur += row.Duration
		size += info.Size()
	}
	flush()
	return groups, nil
}

// runJoin concatenates each group into joined/<project>_pNNN.mp4 with
// the concat demuxer. Singletons hard-link through. With transitions
// enabled, transition.mp4 from the workspace root goes between clips.
func (p *Pipeline) runJoin(ctx context.Context, ws workspace, task clonechat.PublishTask) error {
	if err := wipeTmp(ws.joined()); err != nil {
		return err
	}
	rows, err := readReport(reportPath(ws))
	if err != nil {
		return err
	}
	groups, err := p.planGroups(ws, rows)
	if err != nil {
		return err
	}

	transition := ""
	if p.cfg.Transition {
		t := ws.transition()
		if _, err := os.Stat(t); err == nil {
			transition = t
		} else {
			p.logger.Warn("transition clip not found, joining without it", "path", t)
		}
	}

	for n, g := range groups {
		if err := ctx.Err(); err != nil {
			return err
		}
		out := filepath.Join(ws.joined(), partVideoName(task.ProjectName, n+1))
		if _, err := os.Stat(out); err == nil {
			p.logger.Debug("part exists, skipping", "part", filepath.Base(out))
			continue
		}

		if len(g.files) == 1 {
			if err := linkOrCopy(g.files[0], out); err != nil {
				return fmt.Errorf("stage part %d: %w", n+1, err)
			}
			continue
		}

		list := out + ".list.tmp"
		if err := writeConcatList(list, g.files, transition); err != nil {
			return err
		}
		tmp := out + ".tmp"
		start := time.Now()
		if err := p.trans.Concat(ctx, list, tmp); err != nil {
			return fmt.Errorf("join part %d: %w", n+1, err)
		}
		if err := os.Rename(tmp, out); err != nil {
			return err
		}
		os.Remove(list)
		p.stats.Observe("transcoder.duration", time.Since(start).Seconds(),
			clonechat.StringAttr("op", "concat"))
		p.logger.Info("videos joined",
			"part", filepath.Base(out),
			"clips", len(g.files),
			"elapsed", time.Since(start))
	}
	p.logger.Info("join complete", "parts", len(groups))
	return nil
}

func partVideoName(project string, n int) string {
	return fmt.Sprintf("%s_p%03d.mp4", project, n)
}

// writeConcatList emits a concat demuxer list, optionally weaving the
// transition clip between entries.
func writeConcatList(path string, files []string, transition string) error {
	var b strings.Builder
	for i, f := range files {
		if i > 0 && transition != "" {
			b.WriteString(concatLine(transition))
		}
		b.WriteString(concatLine(f))
	}
	return os.WriteFile(path, []byte(b.String()), 0o644)
}

// concatLine quotes one list entry. The demuxer reads single-quoted
// strings with embedded quotes escaped as '\''.
func concatLine(path string) string {
	return "file '" + strings.ReplaceAll(path, "'", `'\''`) + "'\n"
}
