package archive

import (
	"archive/zip"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// Zip packages dir into a zip archive at dst and returns dst. Entry names
// are relative to dir so the remote side can extract with plain unzip.
func Zip(dir, dst string) (string, error) {
	out, err := os.Create(dst)

	if err != nil {
		return "", errors.Wrap(err, "create archive")
	}

	defer out.Close()

	w := zip.NewWriter(out)

	err = filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(dir, path)

		if err != nil {
			return err
		}

		if rel == "." {
			return nil
		}

		rel = filepath.ToSlash(rel)

		if info.IsDir() {
			_, err = w.Create(rel + "/")
			return err
		}

		if !info.Mode().IsRegular() {
			return nil
		}

		header, err := zip.FileInfoHeader(info)

		if err != nil {
			return err
		}

		header.Name = rel
		header.Method = zip.Deflate

		entry, err := w.CreateHeader(header)

		if err != nil {
			return err
		}

		in, err := os.Open(path)

		if err != nil {
			return err
		}

		defer in.Close()

		_, err = io.Copy(entry, in)
		return err
	})

	if err != nil {
		_ = w.Close()
		return "", errors.Wrap(err, "pack workspace")
	}

	if err := w.Close(); err != nil {
		return "", errors.Wrap(err, "finalize archive")
	}

	return dst, nil
}

// Name derives the archive name pushed to the remote side from dst.
func Name(dst string) string {
	name := filepath.Base(dst)

	if !strings.HasSuffix(name, ".zip") {
		name += ".zip"
	}

	return name
}
