package publish

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// workspace is one project's subtree under the workspace root. Every
// stage reads from and writes to a dedicated subdirectory.
type workspace struct {
	project string
}

func newWorkspace(root, project string) workspace {
	return workspace{project: filepath.Join(root, project)}
}

func (w workspace) dir() string       { return w.project }
func (w workspace) zipped() string    { return filepath.Join(w.project, "zipped") }
func (w workspace) report() string    { return filepath.Join(w.project, "report") }
func (w workspace) reencoded() string { return filepath.Join(w.project, "reencoded") }
func (w workspace) joined() string    { return filepath.Join(w.project, "joined") }
func (w workspace) summary() string   { return filepath.Join(w.project, "summary") }

// transition is the optional clip inserted between joined videos. It
// lives in the workspace root, shared across projects.
func (w workspace) transition() string {
	return filepath.Join(filepath.Dir(w.project), "transition.mp4")
}

func (w workspace) ensure() error {
	for _, d := range []string{w.zipped(), w.report(), w.reencoded(), w.joined(), w.summary()} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return err
		}
	}
	return nil
}

// wipeTmp removes leftovers of an interrupted stage run.
func wipeTmp(dir string) error {
	matches, err := filepath.Glob(filepath.Join(dir, "*.tmp"))
	if err != nil {
		return err
	}
	for _, m := range matches {
		if err := os.Remove(m); err != nil {
			return err
		}
	}
	return nil
}

// sourceFile is one file under the source folder.
type sourceFile struct {
	abs  string
	rel  string // slash form, relative to the source folder
	size int64
}

// listSourceFiles walks folder and returns its files in stable rel
// order. With videos true only video extensions match, otherwise only
// non-video ones.
func listSourceFiles(folder string, videoExts map[string]bool, videos bool) ([]sourceFile, error) {
	var out []sourceFile
	err := filepath.WalkDir(folder, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if videoExts[strings.ToLower(filepath.Ext(path))] != videos {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(folder, path)
		if err != nil {
			return err
		}
		out = append(out, sourceFile{abs: path, rel: filepath.ToSlash(rel), size: info.Size()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", folder, err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].rel < out[j].rel })
	return out, nil
}

// linkOrCopy hard-links src to dst, copying when the link fails
// (cross-device workspace, filesystems without hard links).
func linkOrCopy(src, dst string) error {
	if err := os.Link(src, dst); err == nil {
		return nil
	}
	return copyFile(src, dst)
}

// copyFile writes dst atomically through a .tmp sibling.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp := dst + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dst)
}

// writeFileAtomic writes data to path through a .tmp sibling.
func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
