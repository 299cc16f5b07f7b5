package rendezvous

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
)

// ErrFileTooLarge is returned for files OFT cannot describe
var ErrFileTooLarge = errors.New("file exceeds 4 GiB")

// FileSource sends files from the local disk. Checksums are computed up
// front because the prompt header announces them before any data.
type FileSource struct {
	paths []string
	files []FileInfo
}

// NewFileSource stats and checksums the given files
func NewFileSource(paths ...string) (*FileSource, error) {
	src := &FileSource{}
	for _, p := range paths {
		info, err := fileInfo(p)
		if err != nil {
			return nil, err
		}
		src.paths = append(src.paths, p)
		src.files = append(src.files, info)
	}
	return src, nil
}

func fileInfo(path string) (FileInfo, error) {
	st, err := os.Stat(path)
	if err != nil {
		return FileInfo{}, err
	}
	if st.IsDir() {
		return FileInfo{}, fmt.Errorf("%s is a directory", path)
	}
	if st.Size() > math.MaxUint32 {
		return FileInfo{}, fmt.Errorf("%s: %w", path, ErrFileTooLarge)
	}
	f, err := os.Open(path)
	if err != nil {
		return FileInfo{}, err
	}
	defer f.Close()
	sum, n, err := ChecksumReader(f)
	if err != nil {
		return FileInfo{}, fmt.Errorf("checksum %s: %w", path, err)
	}
	return FileInfo{
		Name:     filepath.Base(path),
		Size:     uint32(n),
		ModTime:  st.ModTime().Truncate(1e9),
		Checksum: sum,
	}, nil
}

// Files returns the file descriptions in send order
func (s *FileSource) Files() []FileInfo {
	return append([]FileInfo(nil), s.files...)
}

// Open opens file i for reading
func (s *FileSource) Open(i int) (io.ReadCloser, error) {
	if i < 0 || i >= len(s.paths) {
		return nil, fmt.Errorf("file index %d out of range", i)
	}
	return os.Open(s.paths[i])
}

// DirSink writes received files into a download directory
type DirSink struct {
	Dir string
}

// Create opens a new file for info, never overwriting an existing one
func (s DirSink) Create(info FileInfo) (io.WriteCloser, error) {
	if err := os.MkdirAll(s.Dir, 0755); err != nil {
		return nil, err
	}
	name := SanitizeName(info.Name)
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for i := 0; i < 1000; i++ {
		candidate := name
		if i > 0 {
			candidate = fmt.Sprintf("%s (%d)%s", stem, i, ext)
		}
		f, err := os.OpenFile(filepath.Join(s.Dir, candidate), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if err == nil {
			return f, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("no free name for %s in %s", name, s.Dir)
}

// SanitizeName reduces a peer-supplied name to a plain file name
func SanitizeName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7F || r == ':' {
			return '_'
		}
		return r
	}, filepath.Base(name))
	name = strings.TrimLeft(name, ".")
	if name == "" || name == "/" {
		return "file"
	}
	return name
}
