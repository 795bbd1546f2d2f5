package engine

import (
	"archive/tar"
	"compress/gzip"
	"errors"
	"io"
	"os"
)

// maxVerifyHeaders bounds the structural check; reading a handful of
// tar headers is enough to reject corrupt or truncated archives without
// paying for a full extraction.
const maxVerifyHeaders = 8

// VerifyArchive performs a structural integrity check on a gzipped tar
// archive. It validates the gzip stream and walks the first few tar
// headers. Invalid archives abort a restore before the restore tool is
// ever invoked.
func VerifyArchive(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return wrapError(CodeVerificationFailed, err, "cannot open archive %s", path)
	}
	defer file.Close()

	gz, err := gzip.NewReader(file)
	if err != nil {
		return wrapError(CodeVerificationFailed, err, "archive %s is not a valid gzip stream", path)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	seen := 0
	for seen < maxVerifyHeaders {
		_, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return wrapError(CodeVerificationFailed, err, "archive %s has a corrupt tar structure", path)
		}
		seen++
	}

	if seen == 0 {
		return newError(CodeVerificationFailed, "archive %s contains no entries", path)
	}

	return nil
}
