package codec

import (
	"archive/zip"
	"bytes"

	"github.com/warraft/raftbot/internal/boterror"
)

// NamedFile is one entry destined for a ZIP archive: its path within the
// archive and its raw bytes.
type NamedFile struct {
	Path  string
	Bytes []byte
}

// BuildArchive folds files into a single stored-compression ZIP for the
// packaging step. Stored (not deflated) compression mirrors
// the original Warcraft III icon archive convention, where files are
// already compressed (BLP/PNG) and re-compressing wastes CPU.
func BuildArchive(files []NamedFile) ([]byte, error) {
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)

	for _, f := range files {
		header := &zip.FileHeader{Name: f.Path, Method: zip.Store}
		writer, err := w.CreateHeader(header)
		if err != nil {
			return nil, boterror.New(boterror.KindCodec, "zip-create-entry-failed").Withf("path=%s", f.Path).With(err)
		}
		if _, err := writer.Write(f.Bytes); err != nil {
			return nil, boterror.New(boterror.KindCodec, "zip-write-entry-failed").Withf("path=%s", f.Path).With(err)
		}
	}

	if err := w.Close(); err != nil {
		return nil, boterror.New(boterror.KindCodec, "zip-close-failed").With(err)
	}
	return buf.Bytes(), nil
}
