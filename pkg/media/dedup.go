package media

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	errs "adwatch/pkg/errors"
	"adwatch/pkg/logger"
	"adwatch/pkg/models"
)

// Ref describes one remote media artifact to mirror locally.
type Ref struct {
	PageID string
	AdID   string
	URL    string
	Type   models.MediaType
}

// Stats counts store activity since construction.
type Stats struct {
	Downloads int
	DedupHits int
	Failures  int
}

type inflight struct {
	done chan struct{}
	path string
	err  error
}

// Store downloads remote media once per fingerprint and serves every later
// request for the same fingerprint from the local copy. Concurrent calls for
// one fingerprint coalesce onto a single download; unrelated fingerprints
// never block each other.
type Store struct {
	basePath string
	client   *http.Client
	logger   logger.Logger

	mu       sync.Mutex
	cache    map[string]string // fingerprint -> local path
	inflight map[string]*inflight
	stats    Stats
}

// NewStore creates a media store rooted at basePath.
func NewStore(basePath string, timeout time.Duration, log logger.Logger) (*Store, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create media directory: %w", err)
	}
	if log == nil {
		log = logger.GetLogger()
	}
	return &Store{
		basePath: basePath,
		client:   &http.Client{Timeout: timeout},
		logger:   log,
		cache:    make(map[string]string),
		inflight: make(map[string]*inflight),
	}, nil
}

// Fingerprint derives a stable identifier for a media URL. Query parameters
// rotate between observations of the same creative, so only the scheme, host
// and path participate.
func Fingerprint(mediaURL string) string {
	trimmed := mediaURL
	if i := strings.IndexByte(trimmed, '?'); i >= 0 {
		trimmed = trimmed[:i]
	}
	sum := md5.Sum([]byte(trimmed))
	return hex.EncodeToString(sum[:])[:16]
}

// EnsureLocal returns the local path for the ref's media, downloading it only
// on first sight of its fingerprint.
func (s *Store) EnsureLocal(ctx context.Context, ref Ref) (string, error) {
	if ref.URL == "" || !strings.HasPrefix(ref.URL, "http") {
		return "", errs.New(errs.CategoryDownload, "no usable media url")
	}
	fp := Fingerprint(ref.URL)

	s.mu.Lock()
	if path, ok := s.cache[fp]; ok {
		s.stats.DedupHits++
		s.mu.Unlock()
		return path, nil
	}
	if fl, ok := s.inflight[fp]; ok {
		s.mu.Unlock()
		select {
		case <-fl.done:
			if fl.err == nil {
				s.mu.Lock()
				s.stats.DedupHits++
				s.mu.Unlock()
			}
			return fl.path, fl.err
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	fl := &inflight{done: make(chan struct{})}
	s.inflight[fp] = fl
	s.mu.Unlock()

	path, err := s.download(ctx, ref)

	s.mu.Lock()
	delete(s.inflight, fp)
	if err == nil {
		s.cache[fp] = path
		s.stats.Downloads++
	} else {
		s.stats.Failures++
	}
	s.mu.Unlock()

	fl.path, fl.err = path, err
	close(fl.done)
	return path, err
}

// Stats returns a snapshot of the store counters.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

func (s *Store) download(ctx context.Context, ref Ref) (string, error) {
	dir := filepath.Join(s.basePath, ref.PageID, ref.AdID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", errs.Wrap(errs.CategoryDownload, "failed to create media directory", err)
	}
	target := filepath.Join(dir, "media"+extensionFor(ref.URL, ref.Type))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref.URL, nil)
	if err != nil {
		return "", errs.Wrap(errs.CategoryDownload, "invalid media url", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", errs.Wrap(errs.CategoryDownload, "media request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", errs.New(errs.CategoryDownload, fmt.Sprintf("media request returned status %d", resp.StatusCode))
	}

	// Write through a temp file so a torn download never looks complete.
	tempFile := target + ".tmp"
	out, err := os.Create(tempFile)
	if err != nil {
		return "", errs.Wrap(errs.CategoryDownload, "failed to create temporary file", err)
	}

	size, err := io.Copy(out, resp.Body)
	closeErr := out.Close()
	if err != nil {
		os.Remove(tempFile)
		return "", errs.Wrap(errs.CategoryDownload, "failed to write media data", err)
	}
	if closeErr != nil {
		os.Remove(tempFile)
		return "", errs.Wrap(errs.CategoryDownload, "failed to close media file", closeErr)
	}
	if err := os.Rename(tempFile, target); err != nil {
		os.Remove(tempFile)
		return "", errs.Wrap(errs.CategoryDownload, "failed to finalize media file", err)
	}

	s.logger.DebugWithFields("media downloaded", map[string]interface{}{
		"page_id": ref.PageID,
		"ad_id":   ref.AdID,
		"path":    target,
		"size":    size,
	})
	return target, nil
}

func extensionFor(mediaURL string, mediaType models.MediaType) string {
	path := ""
	if u, err := url.Parse(mediaURL); err == nil {
		path = strings.ToLower(u.Path)
	}
	for _, ext := range []string{".mp4", ".webm", ".jpg", ".jpeg", ".png", ".gif", ".webp"} {
		if strings.HasSuffix(path, ext) {
			if ext == ".jpeg" {
				return ".jpg"
			}
			return ext
		}
	}
	if mediaType == models.MediaVideo {
		return ".mp4"
	}
	return ".jpg"
}
