package lib

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/yeqown/go-qrcode"
)

// SaveQRCode renders text as a PNG QR code under dir and returns the file path.
func SaveQRCode(text, dir, name string) (string, error) {
	if text == "" {
		return "", errors.New("empty qrcode content")
	}
	qrc, err := qrcode.New(text, qrcode.WithBuiltinImageEncoder(qrcode.PNG_FORMAT))
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, fmt.Sprintf("%s.png", name))
	if err := qrc.Save(path); err != nil {
		log.Printf("Could not save qrcode to file [%s]: %s\n", path, err.Error())
		return "", err
	}
	return path, nil
}
