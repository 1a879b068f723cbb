package thread

import (
	"context"
	"encoding/base64"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/killallgit/threadline/pkg/chat"
)

// Blob is a file-like value handed to Send or Edit. Data wins over Path.
type Blob struct {
	Name        string
	ContentType string
	Data        []byte
	Path        string
}

// AttachmentEncoder turns a blob into message content.
type AttachmentEncoder interface {
	Encode(ctx context.Context, id string, blob Blob) (*chat.Attachment, error)
}

// DataURLEncoder inlines blobs as base64 data URLs. Images become image parts,
// everything else a file part.
type DataURLEncoder struct {
	// MaxSize limits the raw blob size in bytes. Zero means unlimited.
	MaxSize int64
}

func (e DataURLEncoder) Encode(ctx context.Context, id string, blob Blob) (*chat.Attachment, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", chat.ErrAttachmentEncoding, err)
	}

	data, err := e.read(blob)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", chat.ErrAttachmentEncoding, blob.Name, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: %s is empty", chat.ErrAttachmentEncoding, blob.Name)
	}

	name := blob.Name
	if name == "" && blob.Path != "" {
		name = filepath.Base(blob.Path)
	}
	contentType := detectContentType(blob.ContentType, name, data)
	url := "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(data)

	att := &chat.Attachment{ID: id, Name: name, ContentType: contentType}
	if strings.HasPrefix(contentType, "image/") {
		att.Type = "image"
		att.Content = []chat.Part{&chat.ImagePart{Image: url, Filename: name, Status: chat.PartComplete}}
	} else {
		att.Type = "file"
		att.Content = []chat.Part{&chat.FilePart{Data: url, MimeType: contentType, Filename: name, Status: chat.PartComplete}}
	}
	return att, nil
}

func (e DataURLEncoder) read(blob Blob) ([]byte, error) {
	if blob.Data != nil {
		if e.MaxSize > 0 && int64(len(blob.Data)) > e.MaxSize {
			return nil, fmt.Errorf("size %d exceeds limit %d", len(blob.Data), e.MaxSize)
		}
		return blob.Data, nil
	}
	if blob.Path == "" {
		return nil, fmt.Errorf("no data")
	}
	info, err := os.Stat(blob.Path)
	if err != nil {
		return nil, err
	}
	if e.MaxSize > 0 && info.Size() > e.MaxSize {
		return nil, fmt.Errorf("size %d exceeds limit %d", info.Size(), e.MaxSize)
	}
	return os.ReadFile(blob.Path)
}

func detectContentType(declared, name string, data []byte) string {
	if declared != "" {
		return declared
	}
	if byExt := mime.TypeByExtension(filepath.Ext(name)); byExt != "" {
		return byExt
	}
	return http.DetectContentType(data)
}
