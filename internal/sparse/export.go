package sparse

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/marco-interact/colmap-mvp-sub000/internal/services"
)

// Export writes the model to destPath in the requested format. Directory
// formats (bin, txt) treat destPath as a directory; single-file formats (ply,
// nvm) treat it as a file path. The resulting path is returned.
func Export(model *Model, format Format, destPath string) (string, error) {
	if model == nil {
		return "", services.Wrap(services.ErrValidation, "sparse", "export", "no model to export", nil)
	}
	switch format {
	case FormatBinary:
		return destPath, WriteBinaryModel(destPath, model)
	case FormatText:
		return destPath, WriteTextModel(destPath, model)
	case FormatPLY:
		if err := ensureParent(destPath); err != nil {
			return "", err
		}
		return destPath, WritePLY(destPath, model)
	case FormatNVM:
		if err := ensureParent(destPath); err != nil {
			return "", err
		}
		return destPath, WriteNVM(destPath, model)
	default:
		return "", services.Wrap(services.ErrUnsupportedFormat, "sparse", "export",
			fmt.Sprintf("cannot export format %q", format), nil)
	}
}

// Import reads a model from srcPath. The format decides whether srcPath is a
// model directory or a single file. Every import validates referential
// integrity before returning.
func Import(format Format, srcPath string) (*Model, error) {
	switch format {
	case FormatBinary:
		return ReadBinaryModel(srcPath)
	case FormatText:
		return ReadTextModel(srcPath)
	case FormatPLY:
		return ReadPLY(srcPath)
	case FormatNVM:
		return ReadNVM(srcPath)
	default:
		return nil, services.Wrap(services.ErrUnsupportedFormat, "sparse", "import",
			fmt.Sprintf("cannot import format %q", format), nil)
	}
}

// DetectFormat guesses the format of a path from its shape and extension.
func DetectFormat(path string) (Format, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", services.Wrap(services.ErrNotFound, "sparse", "detect-format", "path not found", err)
	}
	if info.IsDir() {
		if _, err := os.Stat(filepath.Join(path, "cameras.bin")); err == nil {
			return FormatBinary, nil
		}
		if _, err := os.Stat(filepath.Join(path, "cameras.txt")); err == nil {
			return FormatText, nil
		}
		return "", services.Wrap(services.ErrUnsupportedFormat, "sparse", "detect-format",
			"directory holds neither a binary nor a text model", nil)
	}
	switch filepath.Ext(path) {
	case ".ply":
		return FormatPLY, nil
	case ".nvm":
		return FormatNVM, nil
	default:
		return "", services.Wrap(services.ErrUnsupportedFormat, "sparse", "detect-format",
			"unrecognized model file "+filepath.Base(path), nil)
	}
}

func ensureParent(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create export dir: %w", err)
	}
	return nil
}
