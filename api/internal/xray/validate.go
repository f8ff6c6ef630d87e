package xray

import (
	"errors"
	"mime"
	"strings"
)

// MaxFileSize is the upload ceiling, 10 MB.
const MaxFileSize int64 = 10 * 1024 * 1024

var allowedMediaTypes = map[string]bool{
	"image/jpeg": true,
	"image/jpg":  true,
	"image/png":  true,
}

// Validate checks the declared media type and size of f before anything goes
// to the network. A file that is both too large and of a wrong type yields an
// error matching both ErrInvalidMediaType and ErrFileTooLarge.
func Validate(f SelectedFile) error {
	var errs []error
	if !AllowedMediaType(f.MediaType) {
		errs = append(errs, ErrInvalidMediaType)
	}
	if f.Size > MaxFileSize {
		errs = append(errs, ErrFileTooLarge)
	}
	switch len(errs) {
	case 0:
		return nil
	case 1:
		return errs[0]
	default:
		return errors.Join(errs...)
	}
}

// AllowedMediaType сравнивает без учёта регистра и параметров ("image/png; q=1").
func AllowedMediaType(mt string) bool {
	mt = strings.TrimSpace(mt)
	if mt == "" {
		return false
	}
	if parsed, _, err := mime.ParseMediaType(mt); err == nil {
		mt = parsed
	}
	return allowedMediaTypes[strings.ToLower(mt)]
}
