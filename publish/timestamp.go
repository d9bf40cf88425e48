package publish

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/nevindra/clonechat"
)

const (
	summaryName = "summary.txt"
	planName    = "upload_plan.csv"
)

// Plan item kinds.
const (
	planKindVideo    = "video"
	planKindDocument = "document"
)

var planHeader = []string{"order", "path", "caption", "kind"}

// planItem is one upload. Path is slash form relative to the project
// workspace, which makes the lexicographic resumption marker stable
// across machines.
type planItem struct {
	Order   int
	Path    string
	Caption string
	Kind    string
}

func planPath(ws workspace) string {
	return filepath.Join(ws.summary(), planName)
}

func summaryPath(ws workspace) string {
	return filepath.Join(ws.summary(), summaryName)
}

// runTimestamp writes the human summary and the machine upload plan.
// The summary lists every part with per-segment offsets into it; the
// plan fixes the upload order, captions and kinds. Both derive from
// the report, so they always agree with what join produced.
func (p *Pipeline) runTimestamp(ctx context.Context, ws workspace, task clonechat.PublishTask) error {
	if err := wipeTmp(ws.summary()); err != nil {
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

	// Offsets shift by the transition length when one is spliced in.
	transitionDur := 0.0
	if p.cfg.Transition {
		if _, err := os.Stat(ws.transition()); err == nil {
			info, err := p.trans.Probe(ctx, ws.transition())
			if err != nil {
				return fmt.Errorf("probe transition clip: %w", err)
			}
			transitionDur = info.Duration
		}
	}

	var summary strings.Builder
	if top := p.summaryBlock(p.cfg.SummaryTop); top != "" {
		summary.WriteString(top + "\n\n")
	}

	var items []planItem
	for n, g := range groups {
		name := partVideoName(task.ProjectName, n+1)
		caption := p.videoCaption(n, name)
		summary.WriteString(caption + "\n")
		offset := 0.0
		for i, row := range g.rows {
			if i > 0 {
				offset += transitionDur
			}
			summary.WriteString(formatOffset(offset) + " " + titleOf(row.File) + "\n")
			offset += row.Duration
		}
		summary.WriteString("\n")
		items = append(items, planItem{
			Order:   len(items) + 1,
			Path:    path.Join("joined", name),
			Caption: caption,
			Kind:    planKindVideo,
		})
	}

	// Archive parts follow the videos in the plan.
	zips, err := filepath.Glob(filepath.Join(ws.zipped(), "*.zip"))
	if err != nil {
		return err
	}
	sort.Strings(zips)
	for i, z := range zips {
		items = append(items, planItem{
			Order:   len(items) + 1,
			Path:    path.Join("zipped", filepath.Base(z)),
			Caption: p.documentCaption(i),
			Kind:    planKindDocument,
		})
	}

	if bottom := p.summaryBlock(p.cfg.SummaryBottom); bottom != "" {
		summary.WriteString(bottom + "\n")
	}
	text := strings.TrimRight(summary.String(), "\n") + "\n"

	if err := writeFileAtomic(summaryPath(ws), []byte(text)); err != nil {
		return err
	}
	if err := writePlan(planPath(ws), items); err != nil {
		return err
	}
	p.logger.Info("summary and upload plan written",
		"parts", len(groups), "uploads", len(items))
	return nil
}

// videoCaption is the indexed tag line for part n (zero-based), e.g.
// "#F3 golang_course_p003".
func (p *Pipeline) videoCaption(n int, name string) string {
	return fmt.Sprintf("#%s%d %s",
		p.cfg.HashtagIndex, p.cfg.StartIndex+n, strings.TrimSuffix(name, ".mp4"))
}

// documentCaption labels archive part n (zero-based), e.g.
// "#M Material 001".
func (p *Pipeline) documentCaption(n int) string {
	return fmt.Sprintf("#%s %s %03d", p.cfg.DocumentHashtag, p.cfg.DocumentTitle, n+1)
}

// summaryBlock reads a literal header or footer file. A configured but
// missing file logs and is skipped rather than failing the stage.
func (p *Pipeline) summaryBlock(path string) string {
	if path == "" {
		return ""
	}
	b, err := os.ReadFile(path)
	if err != nil {
		p.logger.Warn("summary block not readable, skipping", "path", path, "error", err)
		return ""
	}
	return strings.TrimRight(string(b), "\n")
}

// titleOf returns the display title of a report row: the base name
// without extension.
func titleOf(file string) string {
	return strings.TrimSuffix(path.Base(file), path.Ext(file))
}

// formatOffset renders seconds as HH:MM:SS with unbounded hours.
func formatOffset(seconds float64) string {
	s := int(seconds + 0.5)
	return fmt.Sprintf("%02d:%02d:%02d", s/3600, s%3600/60, s%60)
}

func writePlan(path string, items []planItem) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	w := csv.NewWriter(f)
	if err := w.Write(planHeader); err != nil {
		f.Close()
		return err
	}
	for _, it := range items {
		record := []string{strconv.Itoa(it.Order), it.Path, it.Caption, it.Kind}
		if err := w.Write(record); err != nil {
			f.Close()
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func readPlan(path string) ([]planItem, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	if len(records) == 0 || strings.Join(records[0], ",") != strings.Join(planHeader, ",") {
		return nil, fmt.Errorf("%s: unexpected header", filepath.Base(path))
	}

	items := make([]planItem, 0, len(records)-1)
	for _, rec := range records[1:] {
		if len(rec) != len(planHeader) {
			return nil, fmt.Errorf("%s: malformed row %q", filepath.Base(path), rec)
		}
		order, err := strconv.Atoi(rec[0])
		if err != nil {
			return nil, fmt.Errorf("%s: order %q: %w", filepath.Base(path), rec[0], err)
		}
		items = append(items, planItem{Order: order, Path: rec[1], Caption: rec[2], Kind: rec[3]})
	}
	return items, nil
}
