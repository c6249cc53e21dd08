package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/MarcoPoloResearchLab/buzznotes/internal/audio"
)

const maxImportBytes = 25 << 20

// importAudioFile reads a recording from disk and encodes it as an inline data URL.
// The next sync uploads it when the API has audio storage.
func importAudioFile(path string) (string, error) {
	contentType, ok := audio.ContentTypeForExtension(filepath.Ext(path))
	if !ok {
		return "", fmt.Errorf("unsupported audio file type %q", filepath.Ext(path))
	}
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	if info.Size() > maxImportBytes {
		return "", fmt.Errorf("audio file %s exceeds %d bytes", path, maxImportBytes)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return audio.EncodeDataURL(audio.Payload{ContentType: contentType, Data: data})
}
