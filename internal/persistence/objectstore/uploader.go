package objectstore

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type Stats struct {
	QueueDepth    int
	Enqueued      uint64
	Dropped       uint64
	Uploaded      uint64
	Failed        uint64
	LastSuccessAt int64
	LastErrorAt   int64
}

type putter interface {
	PutFile(ctx context.Context, key, localPath string) error
}

// Uploader copies files under baseDir to the bucket using a fixed worker
// pool. Object keys are prefix + the path relative to baseDir.
type Uploader struct {
	client  putter
	baseDir string
	prefix  string
	log     *log.Logger

	// Attempts and RetryDelay control retries of a failed upload; the delay
	// grows quadratically with the attempt number.
	Attempts   int
	RetryDelay time.Duration

	jobs chan string
	wg   sync.WaitGroup
	once sync.Once

	enqueued    atomic.Uint64
	dropped     atomic.Uint64
	uploaded    atomic.Uint64
	failed      atomic.Uint64
	lastSuccess atomic.Int64
	lastError   atomic.Int64
}

func NewUploader(client *Client, baseDir, prefix string, workers int, logger *log.Logger) *Uploader {
	return newUploader(client, baseDir, prefix, workers, logger)
}

func newUploader(client putter, baseDir, prefix string, workers int, logger *log.Logger) *Uploader {
	if workers <= 0 {
		workers = 1
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	u := &Uploader{
		client:     client,
		baseDir:    baseDir,
		prefix:     strings.Trim(strings.ReplaceAll(prefix, "\\", "/"), "/"),
		log:        logger,
		Attempts:   4,
		RetryDelay: 200 * time.Millisecond,
		jobs:       make(chan string, 256),
	}
	for i := 0; i < workers; i++ {
		u.wg.Add(1)
		go func() {
			defer u.wg.Done()
			for p := range u.jobs {
				u.upload(p)
			}
		}()
	}
	return u
}

// Enqueue schedules localPath for upload. It never blocks; a full queue
// drops the file and returns false.
func (u *Uploader) Enqueue(localPath string) bool {
	if u == nil {
		return false
	}
	u.enqueued.Add(1)
	select {
	case u.jobs <- localPath:
		return true
	default:
		u.dropped.Add(1)
		u.log.Printf("upload queue full, dropping %s", localPath)
		return false
	}
}

// Close stops accepting work and waits for queued uploads to finish.
func (u *Uploader) Close() {
	if u == nil {
		return
	}
	u.once.Do(func() { close(u.jobs) })
	u.wg.Wait()
}

func (u *Uploader) Stats() Stats {
	if u == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:    len(u.jobs),
		Enqueued:      u.enqueued.Load(),
		Dropped:       u.dropped.Load(),
		Uploaded:      u.uploaded.Load(),
		Failed:        u.failed.Load(),
		LastSuccessAt: u.lastSuccess.Load(),
		LastErrorAt:   u.lastError.Load(),
	}
}

func (u *Uploader) upload(localPath string) {
	key, err := u.ObjectKey(localPath)
	if err != nil {
		u.failed.Add(1)
		u.log.Printf("skip upload of %s: %v", localPath, err)
		return
	}
	var lastErr error
	for attempt := 1; attempt <= max(u.Attempts, 1); attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		lastErr = u.client.PutFile(ctx, key, localPath)
		cancel()
		if lastErr == nil {
			break
		}
		if attempt < u.Attempts {
			time.Sleep(time.Duration(attempt*attempt) * u.RetryDelay)
		}
	}
	if lastErr != nil {
		u.failed.Add(1)
		u.lastError.Store(time.Now().Unix())
		u.log.Printf("upload %s failed: %v", key, lastErr)
		return
	}
	u.uploaded.Add(1)
	u.lastSuccess.Store(time.Now().Unix())
	u.log.Printf("uploaded %s", key)
}

// ObjectKey maps a file under baseDir to its bucket key.
func (u *Uploader) ObjectKey(localPath string) (string, error) {
	if localPath == "" {
		return "", fmt.Errorf("empty local path")
	}
	if _, err := os.Stat(localPath); err != nil {
		return "", err
	}
	base, err := filepath.Abs(u.baseDir)
	if err != nil {
		return "", err
	}
	abs, err := filepath.Abs(localPath)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(base, abs)
	if err != nil {
		return "", err
	}
	rel = filepath.ToSlash(rel)
	if rel == "." || rel == ".." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("%s is outside %s", abs, base)
	}
	if u.prefix != "" {
		rel = path.Join(u.prefix, rel)
	}
	return rel, nil
}
