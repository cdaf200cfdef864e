package chat

import (
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	provider "github.com/parley-ai/parley/pkg/provider/chat"
)

// MaxAttachmentBytes caps the size of a single attachment. Backends reject
// oversized inline blobs anyway; failing locally is faster and clearer.
const MaxAttachmentBytes = 10 << 20

// LoadAttachment reads a file into a provider attachment, detecting its MIME
// type from the extension first and the content as a fallback.
func LoadAttachment(path string) (provider.Attachment, error) {
	info, err := os.Stat(path)
	if err != nil {
		return provider.Attachment{}, fmt.Errorf("chat: attachment: %w", err)
	}
	if info.IsDir() {
		return provider.Attachment{}, fmt.Errorf("chat: attachment %s is a directory", path)
	}
	if info.Size() == 0 {
		return provider.Attachment{}, fmt.Errorf("chat: attachment %s is empty", path)
	}
	if info.Size() > MaxAttachmentBytes {
		return provider.Attachment{}, fmt.Errorf("chat: attachment %s is %d bytes, limit is %d", path, info.Size(), MaxAttachmentBytes)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return provider.Attachment{}, fmt.Errorf("chat: attachment: %w", err)
	}

	return provider.Attachment{
		Name:     filepath.Base(path),
		MIMEType: detectMIME(path, data),
		Data:     data,
	}, nil
}

// detectMIME resolves a content type: extension lookup first (exact, handles
// text formats sniffing cannot), content sniffing as the fallback. Parameters
// like charset are stripped; providers want the bare type.
func detectMIME(path string, data []byte) string {
	mt := mime.TypeByExtension(filepath.Ext(path))
	if mt == "" {
		n := len(data)
		if n > 512 {
			n = 512
		}
		mt = http.DetectContentType(data[:n])
	}
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = strings.TrimSpace(mt[:i])
	}
	return mt
}
