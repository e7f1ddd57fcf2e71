package discordapi

import (
	"io"
	"mime/multipart"
)

// multipartWriter is a thin wrapper over mime/multipart.Writer so client.go
// can write fields and file parts without repeating boilerplate at each
// call site.
type multipartWriter struct {
	w *multipart.Writer
}

func newMultipartWriter(dst io.Writer) *multipartWriter {
	return &multipartWriter{w: multipart.NewWriter(dst)}
}

func (m *multipartWriter) writeField(name string, value []byte) error {
	part, err := m.w.CreateFormField(name)
	if err != nil {
		return err
	}
	_, err = part.Write(value)
	return err
}

func (m *multipartWriter) writeFile(field, filename string, data []byte) error {
	part, err := m.w.CreateFormFile(field, filename)
	if err != nil {
		return err
	}
	_, err = part.Write(data)
	return err
}

func (m *multipartWriter) contentType() string {
	return m.w.FormDataContentType()
}

func (m *multipartWriter) close() error {
	return m.w.Close()
}
