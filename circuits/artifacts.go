package circuits

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/vocdoni/shieldpay/log"
	"github.com/vocdoni/shieldpay/types"
	"github.com/vocdoni/shieldpay/util"
)

// CheckHashes determines if the hashes of the artifacts are checked when they
// are loaded or downloaded. It can be disabled by setting the
// SHIELDPAY_CHECK_HASHES environment variable to false or 0.
var CheckHashes = true

// BaseDir is the path of the artifact cache. Artifacts not found there are
// downloaded and stored. Defaults to the env var SHIELDPAY_ARTIFACTS_DIR or
// a folder in the user cache directory.
var BaseDir string

func init() {
	if checkHashes := os.Getenv("SHIELDPAY_CHECK_HASHES"); checkHashes != "" {
		if strings.ToLower(checkHashes) == "false" || checkHashes == "0" {
			CheckHashes = false
		}
	}
	if dir := os.Getenv("SHIELDPAY_ARTIFACTS_DIR"); dir != "" {
		BaseDir = dir
	} else {
		home, err := os.UserHomeDir()
		if err != nil || home == "" {
			log.Warnf("unable to access user home directory, using temporary directory: %v", err)
			BaseDir = filepath.Join(os.TempDir(), "shieldpay-artifacts")
		} else {
			BaseDir = filepath.Join(home, ".cache", "shieldpay-artifacts")
		}
	}
}

// Artifact holds the remote URL, the sha256 hash of the content and the
// content itself. The content is loaded from the local cache or downloaded
// from the remote URL, and always checked against the hash.
type Artifact struct {
	RemoteURL string
	Hash      types.HexBytes
	Content   types.HexBytes
}

// NewArtifact builds an artifact from its URL and its hex encoded hash.
func NewArtifact(remoteURL, hexHash string) (*Artifact, error) {
	hash, err := hex.DecodeString(util.TrimHex(hexHash))
	if err != nil {
		return nil, fmt.Errorf("invalid artifact hash: %w", err)
	}
	return &Artifact{RemoteURL: remoteURL, Hash: hash}, nil
}

// Load makes the artifact content available. It is a no-op if the content is
// already set, otherwise it reads the cached file named by the hash and, if
// missing, downloads it first.
func (k *Artifact) Load(ctx context.Context) error {
	if len(k.Content) != 0 {
		return nil
	}
	if len(k.Hash) == 0 {
		return fmt.Errorf("artifact hash not provided")
	}
	content, err := load(k.Hash)
	if err != nil {
		return err
	}
	if content == nil {
		if err := k.Download(ctx); err != nil {
			return err
		}
		if content, err = load(k.Hash); err != nil {
			return err
		}
		if content == nil {
			return fmt.Errorf("no content found after download")
		}
	}
	k.Content = content
	return nil
}

// Download fetches the artifact from its remote URL into the cache.
func (k *Artifact) Download(ctx context.Context) error {
	if k.RemoteURL == "" {
		return fmt.Errorf("artifact not cached and remote url not provided")
	}
	return downloadAndStore(ctx, k.Hash, k.RemoteURL)
}

// LoadFile reads an artifact from a local path and checks it against the
// hash, if one is set.
func (k *Artifact) LoadFile(path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read artifact %s: %w", path, err)
	}
	if len(k.Hash) > 0 && CheckHashes {
		if sum := sha256.Sum256(content); !bytes.Equal(sum[:], k.Hash) {
			return fmt.Errorf("hash mismatch for file %s: expected %x, got %x", path, []byte(k.Hash), sum[:])
		}
	}
	k.Content = content
	return nil
}

// cachePath is the file of the artifact with the given hash.
func cachePath(hash []byte) string {
	return filepath.Join(BaseDir, hex.EncodeToString(hash))
}

// load reads the cached artifact. A missing file returns nil content and no
// error.
func load(hash []byte) ([]byte, error) {
	path := cachePath(hash)
	content, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read cached artifact: %w", err)
	}
	if CheckHashes {
		if sum := sha256.Sum256(content); !bytes.Equal(sum[:], hash) {
			return nil, fmt.Errorf("hash mismatch for file %s: expected %x, got %x", path, hash, sum[:])
		}
	}
	return content, nil
}

// progressWriter logs the download progress every progressStep bytes.
type progressWriter struct {
	url     string
	written int64
	total   int64
	next    int64
}

const progressStep = 16 << 20

func (p *progressWriter) Write(b []byte) (int, error) {
	p.written += int64(len(b))
	if p.written >= p.next {
		p.next = p.written + progressStep
		fields := []any{"url", p.url, "downloadedMiB", p.written >> 20}
		if p.total > 0 {
			fields = append(fields, "percent", p.written*100/p.total)
		}
		log.Debugw("downloading artifact", fields...)
	}
	return len(b), nil
}

// downloadAndStore downloads fileURL into the cache. The content goes to a
// .partial file first, which a later call resumes with a range request, and
// is only renamed to its final name once the hash matches.
func downloadAndStore(ctx context.Context, expectedHash []byte, fileURL string) error {
	if _, err := url.Parse(fileURL); err != nil {
		return fmt.Errorf("invalid artifact url: %w", err)
	}
	if err := os.MkdirAll(BaseDir, 0o755); err != nil {
		return fmt.Errorf("create artifacts dir: %w", err)
	}
	path := cachePath(expectedHash)
	partial := path + ".partial"

	var offset int64
	if info, err := os.Stat(partial); err == nil {
		offset = info.Size()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return err
	}
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("download %s: %w", fileURL, err)
	}
	defer res.Body.Close()

	hasher := sha256.New()
	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	switch res.StatusCode {
	case http.StatusPartialContent:
		existing, err := os.ReadFile(partial)
		if err != nil {
			return fmt.Errorf("read partial artifact: %w", err)
		}
		hasher.Write(existing)
		flags = os.O_APPEND | os.O_WRONLY
	case http.StatusOK:
		offset = 0
	default:
		return fmt.Errorf("download %s: http status %d", fileURL, res.StatusCode)
	}

	fd, err := os.OpenFile(partial, flags, 0o644)
	if err != nil {
		return fmt.Errorf("open partial artifact: %w", err)
	}
	progress := &progressWriter{url: fileURL, written: offset}
	if res.ContentLength > 0 {
		progress.total = offset + res.ContentLength
	}
	_, err = io.Copy(io.MultiWriter(fd, hasher, progress), res.Body)
	if cerr := fd.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("store artifact: %w", err)
	}
	if sum := hasher.Sum(nil); CheckHashes && !bytes.Equal(sum, expectedHash) {
		_ = os.Remove(partial)
		return fmt.Errorf("hash mismatch: expected %x, got %x", expectedHash, sum)
	}
	return os.Rename(partial, path)
}
