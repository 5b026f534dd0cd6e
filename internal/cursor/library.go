package cursor

import (
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	"image/png"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"screenrec/internal/fileutil"
	"screenrec/internal/logging"
)

// DefaultName is the sprite used when no other cursor is selected.
const DefaultName = "default"

const spriteExt = ".png"

// ErrInvalidName rejects cursor names that are empty or contain path separators.
var ErrInvalidName = errors.New("invalid cursor name")

// Library manages the sprites stored in one cursor directory.
type Library struct {
	dir    string
	logger *slog.Logger
}

// NewLibrary returns a library over dir. The directory is created lazily.
func NewLibrary(dir string, logger *slog.Logger) *Library {
	return &Library{dir: dir, logger: logging.NewComponentLogger(logger, "cursors")}
}

// Dir returns the cursor directory.
func (l *Library) Dir() string {
	return l.dir
}

// Path returns the file that stores the named sprite.
func (l *Library) Path(name string) string {
	return filepath.Join(l.dir, name+spriteExt)
}

// List returns the sorted names of the stored sprites. A missing directory
// yields an empty list.
func (l *Library) List() ([]string, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read cursor directory: %w", err)
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), spriteExt) {
			continue
		}
		names = append(names, strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name())))
	}
	sort.Strings(names)
	return names, nil
}

// Load decodes the named sprite. An unknown name falls back to the built-in
// arrow, which is also written as default.png when that file is absent.
func (l *Library) Load(name string) (*Sprite, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = DefaultName
	}
	if err := validateName(name); err != nil {
		return nil, err
	}

	sprite, err := l.decodeFile(l.Path(name))
	switch {
	case err == nil:
		return sprite, nil
	case !errors.Is(err, fs.ErrNotExist):
		return nil, err
	}

	if name != DefaultName {
		logging.WarnWithContext(l.logger, "cursor not found; using default arrow", "cursor_missing",
			logging.String("cursor", name),
			logging.String(logging.FieldErrorHint, "run `screenrec cursors list` to see available cursors"),
			logging.String(logging.FieldImpact, "recording shows the default arrow"),
		)
		if sprite, err := l.decodeFile(l.Path(DefaultName)); err == nil {
			return sprite, nil
		}
	}

	sprite = DefaultSprite()
	if err := l.writeSprite(DefaultName, sprite); err != nil {
		l.logger.Debug("default cursor not persisted", logging.Error(err))
	}
	return sprite, nil
}

// Import decodes an image file (PNG, JPEG, BMP or WebP), scales it to
// Size x Size and stores it under name. An empty name uses the source file's
// base name. The stored name is returned.
func (l *Library) Import(src, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		base := filepath.Base(src)
		name = strings.TrimSuffix(base, filepath.Ext(base))
	}
	if err := validateName(name); err != nil {
		return "", err
	}

	file, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("open cursor image: %w", err)
	}
	defer file.Close()

	img, format, err := image.Decode(file)
	if err != nil {
		return "", fmt.Errorf("decode cursor image %s: %w", src, err)
	}
	if err := l.writeSprite(name, NewSprite(img)); err != nil {
		return "", err
	}

	l.logger.Info("cursor imported",
		logging.String(logging.FieldEventType, "cursor_imported"),
		logging.String("cursor", name),
		logging.String("format", format),
		logging.String(logging.FieldPath, l.Path(name)),
	)
	return name, nil
}

// DisplayName turns a file name such as "big_red-arrow" into "Big Red Arrow".
func DisplayName(name string) string {
	label := strings.NewReplacer("_", " ", "-", " ").Replace(name)
	return cases.Title(language.Und).String(strings.Join(strings.Fields(label), " "))
}

func (l *Library) decodeFile(path string) (*Sprite, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	img, _, err := image.Decode(file)
	if err != nil {
		return nil, fmt.Errorf("decode cursor %s: %w", path, err)
	}
	return NewSprite(img), nil
}

func (l *Library) writeSprite(name string, sprite *Sprite) error {
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return fmt.Errorf("create cursor directory: %w", err)
	}
	if err := fileutil.WriteAtomic(l.Path(name), 0o644, func(w io.Writer) error {
		return png.Encode(w, sprite.Image())
	}); err != nil {
		return fmt.Errorf("write cursor %s: %w", name, err)
	}
	return nil
}

func validateName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}
