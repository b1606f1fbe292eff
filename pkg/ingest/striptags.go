package ingest

import (
	"fmt"
	"os"
	"strings"

	"github.com/disintegration/imaging"
)

// stripExtensions are the formats stripTags can re-encode. Other
// extensions pass through untouched.
var stripExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".bmp":  true,
	".tif":  true,
	".tiff": true,
}

// stripTags removes embedded metadata by decoding the image and writing
// the pixels back out. Re-encoding discards EXIF, XMP and other ancillary
// blocks wholesale. Animated GIFs keep only their first frame, which is
// the accepted cost of stripping them.
func stripTags(path, extension string) error {
	if !stripExtensions[strings.ToLower(extension)] {
		return nil
	}

	img, err := imaging.Open(path)
	if err != nil {
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}

	// The temp name keeps the extension last so the encoder picks the
	// right format.
	tmp := strings.TrimSuffix(path, extension) + ".strip" + extension
	if err := imaging.Save(img, tmp); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to re-encode %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}
