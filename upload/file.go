package upload

import (
	"fmt"
	"io"
	"mime"
	"path/filepath"

	"github.com/bitrise-io/go-utils/v2/fileutil"
	"github.com/bitrise-io/go-utils/v2/pathutil"
	"github.com/uploadkit-io/go-uploadkit/internal"
)

// File is one file submitted to the queue.
type File struct {
	Name        string
	Size        int64
	ContentType string
	Source      Source
}

// FileFromBytes builds a File served from an in-memory buffer.
func FileFromBytes(name, contentType string, content []byte) File {
	return File{
		Name:        name,
		Size:        int64(len(content)),
		ContentType: contentType,
		Source:      BytesSource(content),
	}
}

// FileFromPath builds a File backed by a file on disk. The content type is
// derived from the file extension; unknown extensions fall back to
// application/octet-stream.
func FileFromPath(path string) (File, error) {
	return fileFromPath(path, internal.RealOS{}, pathutil.NewPathModifier(), fileutil.NewFileManager())
}

func fileFromPath(path string, osProxy internal.OsProxy, pathModifier pathutil.PathModifier, fileManager fileutil.FileManager) (File, error) {
	absPath, err := pathModifier.AbsPath(path)
	if err != nil {
		return File{}, fmt.Errorf("expand path %s: %w", path, err)
	}

	info, err := osProxy.Stat(absPath)
	if err != nil {
		return File{}, fmt.Errorf("stat %s: %w", absPath, err)
	}
	if info.IsDir() {
		return File{}, fmt.Errorf("%s is a directory, not a file", absPath)
	}

	contentType := mime.TypeByExtension(filepath.Ext(absPath))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	return File{
		Name:        filepath.Base(absPath),
		Size:        info.Size(),
		ContentType: contentType,
		Source:      &fileSource{path: absPath, fileManager: fileManager},
	}, nil
}

// fileSource opens the underlying file fresh for every transfer attempt.
type fileSource struct {
	path        string
	fileManager fileutil.FileManager
}

func (f *fileSource) Open() (io.ReadCloser, error) {
	file, err := f.fileManager.Open(f.path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", f.path, err)
	}
	return file, nil
}
