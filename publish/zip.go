package publish

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/nevindra/clonechat"
)

// runZip packs every non-video file under the source folder into
// size-bounded archive parts named <project>_NNN.zip. The bound is on
// uncompressed bytes, so compression only adds headroom.
func (p *Pipeline) runZip(ctx context.Context, ws workspace, task clonechat.PublishTask) error {
	if err := wipeTmp(ws.zipped()); err != nil {
		return err
	}
	files, err := listSourceFiles(task.SourceFolder, p.cfg.VideoExts, false)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		p.logger.Info("no documents to archive")
		return nil
	}

	w := &partWriter{
		dir:     ws.zipped(),
		project: task.ProjectName,
		limit:   p.cfg.sizeLimitBytes(),
		logger:  p.logger,
	}
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			w.abort()
			return err
		}
		if err := w.add(f); err != nil {
			w.abort()
			return fmt.Errorf("archive %s: %w", f.rel, err)
		}
	}
	if err := w.finish(); err != nil {
		return err
	}
	p.logger.Info("documents archived", "files", len(files), "parts", w.part)
	return nil
}

// partWriter streams files into consecutive zip parts, opening a new
// part before a file would push the open one past the limit.
type partWriter struct {
	dir     string
	project string
	limit   int64
	logger  *slog.Logger

	part int   // number of the open part, 0 = none yet
	used int64 // uncompressed bytes in the open part
	f    *os.File
	zw   *zip.Writer
}

func (w *partWriter) add(file sourceFile) error {
	if file.size > w.limit {
		w.logger.Warn("file exceeds the part limit, archiving alone",
			"file", file.rel, "size", file.size)
	}
	if w.zw != nil && w.used > 0 && w.used+file.size > w.limit {
		if err := w.closePart(); err != nil {
			return err
		}
	}
	if w.zw == nil {
		if err := w.openPart(); err != nil {
			return err
		}
	}

	in, err := os.Open(file.abs)
	if err != nil {
		return err
	}
	defer in.Close()

	dst, err := w.zw.CreateHeader(&zip.FileHeader{Name: file.rel, Method: zip.Deflate})
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, in); err != nil {
		return err
	}
	w.used += file.size
	return nil
}

func (w *partWriter) openPart() error {
	w.part++
	f, err := os.Create(w.tmpName())
	if err != nil {
		return err
	}
	w.f = f
	w.zw = zip.NewWriter(f)
	w.used = 0
	return nil
}

func (w *partWriter) closePart() error {
	if w.zw == nil {
		return nil
	}
	if err := w.zw.Close(); err != nil {
		w.f.Close()
		return err
	}
	if err := w.f.Close(); err != nil {
		return err
	}
	final := partZipName(w.dir, w.project, w.part)
	if err := os.Rename(w.tmpName(), final); err != nil {
		return err
	}
	w.logger.Info("archive part written",
		"part", filepath.Base(final), "bytes", w.used)
	w.zw, w.f = nil, nil
	return nil
}

func (w *partWriter) finish() error { return w.closePart() }

// abort drops the open part so the retry starts from a wiped state.
func (w *partWriter) abort() {
	if w.zw == nil {
		return
	}
	w.zw.Close()
	w.f.Close()
	os.Remove(w.tmpName())
	w.zw, w.f = nil, nil
}

func (w *partWriter) tmpName() string {
	return partZipName(w.dir, w.project, w.part) + ".tmp"
}

func partZipName(dir, project string, n int) string {
	return filepath.Join(dir, fmt.Sprintf("%s_%03d.zip", project, n))
}
