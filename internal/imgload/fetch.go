package imgload

import (
	"fmt"
	"io"
	"strings"

	"github.com/google/go-containerregistry/pkg/crane"
	"github.com/klauspost/compress/zstd"
)

// Fetch resolves a firmware image reference to raw bytes. A reference may
// be a local filesystem path, or an "oci://repo:tag" reference pulled as a
// single-layer image via go-containerregistry, mirroring the teacher's
// OCI-pull-then-extract flow in its image cache. A ".zst" suffix (on
// either form) is decompressed with klauspost/compress before returning.
func Fetch(ref string, readFile func(string) ([]byte, error)) ([]byte, error) {
	var raw []byte
	var err error

	trimmed := strings.TrimSuffix(ref, ".zst")
	switch {
	case strings.HasPrefix(trimmed, "oci://"):
		raw, err = fetchOCI(strings.TrimPrefix(trimmed, "oci://"))
	default:
		raw, err = readFile(trimmed)
	}
	if err != nil {
		return nil, fmt.Errorf("imgload: fetch %q: %w", ref, err)
	}

	if strings.HasSuffix(ref, ".zst") {
		raw, err = decompressZstd(raw)
		if err != nil {
			return nil, fmt.Errorf("imgload: decompress %q: %w", ref, err)
		}
	}
	return raw, nil
}

func fetchOCI(ref string) ([]byte, error) {
	img, err := crane.Pull(ref)
	if err != nil {
		return nil, fmt.Errorf("crane.Pull(%q): %w", ref, err)
	}
	layers, err := img.Layers()
	if err != nil {
		return nil, fmt.Errorf("layers(%q): %w", ref, err)
	}
	if len(layers) == 0 {
		return nil, fmt.Errorf("image %q has no layers", ref)
	}
	rc, err := layers[len(layers)-1].Uncompressed()
	if err != nil {
		return nil, fmt.Errorf("uncompress top layer of %q: %w", ref, err)
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func decompressZstd(compressed []byte) ([]byte, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	return dec.DecodeAll(compressed, nil)
}
