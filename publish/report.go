package publish

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/nevindra/clonechat"
	"github.com/nevindra/clonechat/ffmpeg"
)

const reportName = "video_report.csv"

// Actions in the report's last column. Reencode marks files that need
// normalising before they can be concatenated; single and join record
// the configured plan for compliant files.
const (
	actionSingle   = "single"
	actionJoin     = "join"
	actionReencode = "reencode"
)

var reportHeader = []string{
	"file", "duration_s", "width", "height",
	"vcodec", "acodec", "bitrate", "size_bytes", "action",
}

// reportRow is one probed video. File is the slash-form path relative
// to the source folder; the row order fixes the order of every later
// stage.
type reportRow struct {
	File       string
	Duration   float64 // seconds
	Width      int
	Height     int
	VideoCodec string
	AudioCodec string
	Bitrate    int64 // container-level, bits per second
	Size       int64 // bytes
	Action     string
}

func reportPath(ws workspace) string {
	return filepath.Join(ws.report(), reportName)
}

// runReport probes every video under the source folder and writes the
// CSV inventory the later stages consume.
func (p *Pipeline) runReport(ctx context.Context, ws workspace, task clonechat.PublishTask) error {
	if err := wipeTmp(ws.report()); err != nil {
		return err
	}
	videos, err := listSourceFiles(task.SourceFolder, p.cfg.VideoExts, true)
	if err != nil {
		return err
	}
	if len(videos) == 0 {
		return fmt.Errorf("no videos under %s", task.SourceFolder)
	}

	rows := make([]reportRow, 0, len(videos))
	for _, v := range videos {
		if err := ctx.Err(); err != nil {
			return err
		}
		info, err := p.trans.Probe(ctx, v.abs)
		if err != nil {
			return fmt.Errorf("probe %s: %w", v.rel, err)
		}
		row := reportRow{
			File:       v.rel,
			Duration:   info.Duration,
			Width:      info.Width,
			Height:     info.Height,
			VideoCodec: info.VideoCodec,
			AudioCodec: info.AudioCodec,
			Bitrate:    info.Bitrate,
			Size:       info.Size,
			Action:     p.classify(info),
		}
		rows = append(rows, row)
		p.logger.Debug("video probed",
			"file", v.rel,
			"duration_s", info.Duration,
			"action", row.Action)
	}

	if err := writeReport(reportPath(ws), rows); err != nil {
		return err
	}
	p.logger.Info("report written", "videos", len(rows))
	return nil
}

func (p *Pipeline) classify(info ffmpeg.VideoInfo) string {
	if needsReencode(info) {
		return actionReencode
	}
	if p.cfg.ReencodePlan == PlanSingle {
		return actionSingle
	}
	return actionJoin
}

// needsReencode reports whether the file must be normalised before it
// can be concatenated. The target is H.264 video and AAC audio in an
// MP4 container; a missing audio stream is acceptable.
func needsReencode(info ffmpeg.VideoInfo) bool {
	if info.VideoCodec != "h264" {
		return true
	}
	if info.AudioCodec != "" && info.AudioCodec != "aac" {
		return true
	}
	return !strings.Contains(info.Container, "mp4")
}

func writeReport(path string, rows []reportRow) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	w := csv.NewWriter(f)
	if err := w.Write(reportHeader); err != nil {
		f.Close()
		return err
	}
	for _, r := range rows {
		record := []string{
			r.File,
			strconv.FormatFloat(r.Duration, 'f', 3, 64),
			strconv.Itoa(r.Width),
			strconv.Itoa(r.Height),
			r.VideoCodec,
			r.AudioCodec,
			strconv.FormatInt(r.Bitrate, 10),
			strconv.FormatInt(r.Size, 10),
			r.Action,
		}
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

func readReport(path string) ([]reportRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	if len(records) == 0 || strings.Join(records[0], ",") != strings.Join(reportHeader, ",") {
		return nil, fmt.Errorf("%s: unexpected header", filepath.Base(path))
	}

	rows := make([]reportRow, 0, len(records)-1)
	for _, rec := range records[1:] {
		if len(rec) != len(reportHeader) {
			return nil, fmt.Errorf("%s: malformed row %q", filepath.Base(path), rec)
		}
		duration, err := strconv.ParseFloat(rec[1], 64)
		if err != nil {
			return nil, fmt.Errorf("%s: duration %q: %w", filepath.Base(path), rec[1], err)
		}
		width, _ := strconv.Atoi(rec[2])
		height, _ := strconv.Atoi(rec[3])
		bitrate, _ := strconv.ParseInt(rec[6], 10, 64)
		size, _ := strconv.ParseInt(rec[7], 10, 64)
		rows = append(rows, reportRow{
			File:       rec[0],
			Duration:   duration,
			Width:      width,
			Height:     height,
			VideoCodec: rec[4],
			AudioCodec: rec[5],
			Bitrate:    bitrate,
			Size:       size,
			Action:     rec[8],
		})
	}
	return rows, nil
}
