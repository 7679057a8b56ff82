// Package backup takes encrypted snapshots of the overlap database, calendar
// events and conflict list included, and keeps them in S3-compatible storage.
package backup

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/robfig/cron/v3"
	_ "modernc.org/sqlite"
)

const (
	keyTimeLayout = "2006-01-02T150405Z"
	keySuffix     = ".db.enc"
)

var ErrDisabled = errors.New("backup not configured")

// objectStore is the subset of the S3 client the manager uses.
type objectStore interface {
	PutObject(ctx context.Context, input *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, input *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, input *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, input *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

type Config struct {
	Endpoint   string
	Bucket     string
	Region     string
	Prefix     string
	AccessKey  string
	SecretKey  string
	Passphrase string
	Retention  int
}

func (c Config) enabled() bool {
	return c.Bucket != "" && c.AccessKey != "" && c.SecretKey != "" && c.Passphrase != ""
}

type State string

const (
	StateIdle     State = "idle"
	StateRunning  State = "running"
	StateDisabled State = "disabled"
	StateError    State = "error"
)

type Status struct {
	State      State      `json:"state"`
	LastBackup *time.Time `json:"last_backup,omitempty"`
	LastKey    string     `json:"last_key,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// Snapshot is one stored backup object.
type Snapshot struct {
	Key       string    `json:"key"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

// Manager snapshots db on demand or on a cron schedule. Only one snapshot
// runs at a time.
type Manager struct {
	mu     sync.RWMutex
	status Status

	running sync.Mutex
	cfg     Config
	db      *sql.DB
	client  objectStore
	cron    *cron.Cron
	logger  *slog.Logger
	now     func() time.Time
}

// NewManager returns a disabled manager unless cfg names a bucket,
// credentials and a passphrase.
func NewManager(cfg Config, db *sql.DB, logger *slog.Logger) *Manager {
	m := &Manager{
		cfg:    cfg,
		db:     db,
		logger: logger,
		now:    time.Now,
		status: Status{State: StateDisabled},
	}
	if cfg.Retention <= 0 {
		m.cfg.Retention = 1
	}
	if cfg.enabled() {
		m.client = newS3Client(cfg)
		m.status.State = StateIdle
	}
	return m
}

func newS3Client(cfg Config) *s3.Client {
	opts := s3.Options{
		Region:       cfg.Region,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		UsePathStyle: true,
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	return s3.New(opts)
}

func (m *Manager) Enabled() bool {
	return m.client != nil
}

func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

func (m *Manager) setStatus(s Status) {
	m.mu.Lock()
	m.status = s
	m.mu.Unlock()
}

// Start schedules snapshots with a five-field cron spec in loc. An empty
// spec or a disabled manager schedules nothing.
func (m *Manager) Start(spec string, loc *time.Location) error {
	if spec == "" || !m.Enabled() {
		return nil
	}
	if loc == nil {
		loc = time.UTC
	}
	c := cron.New(cron.WithLocation(loc))
	if _, err := c.AddFunc(spec, func() {
		if _, err := m.Run(context.Background()); err != nil {
			m.logger.Error("scheduled backup failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("parse backup schedule %q: %w", spec, err)
	}
	m.cron = c
	c.Start()
	m.logger.Info("backups scheduled", "spec", spec, "bucket", m.cfg.Bucket)
	return nil
}

// Stop halts the schedule and waits for a running snapshot.
func (m *Manager) Stop() {
	if m.cron != nil {
		<-m.cron.Stop().Done()
	}
}

// Run takes a snapshot, uploads it and prunes snapshots past the retention.
func (m *Manager) Run(ctx context.Context) (Snapshot, error) {
	if !m.Enabled() {
		return Snapshot{}, ErrDisabled
	}
	m.running.Lock()
	defer m.running.Unlock()

	prev := m.Status()
	m.setStatus(Status{State: StateRunning, LastBackup: prev.LastBackup, LastKey: prev.LastKey})

	snap, err := m.upload(ctx)
	if err != nil {
		m.setStatus(Status{State: StateError, LastBackup: prev.LastBackup, LastKey: prev.LastKey, Error: err.Error()})
		return Snapshot{}, err
	}
	m.setStatus(Status{State: StateIdle, LastBackup: &snap.CreatedAt, LastKey: snap.Key})
	m.logger.Info("backup uploaded", "key", snap.Key, "bytes", snap.Size)

	if err := m.prune(ctx); err != nil {
		m.logger.Warn("prune backups", "error", err)
	}
	return snap, nil
}

func (m *Manager) upload(ctx context.Context) (Snapshot, error) {
	plaintext, err := m.dump(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	sealed, err := Seal(plaintext, m.cfg.Passphrase)
	if err != nil {
		return Snapshot{}, err
	}

	created := m.now().UTC().Truncate(time.Second)
	key := m.cfg.Prefix + "backup-" + created.Format(keyTimeLayout) + keySuffix
	_, err = m.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(m.cfg.Bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(sealed),
		ContentLength: aws.Int64(int64(len(sealed))),
	})
	if err != nil {
		return Snapshot{}, fmt.Errorf("upload backup: %w", err)
	}
	return Snapshot{Key: key, Size: int64(len(sealed)), CreatedAt: created}, nil
}

// dump copies the live database into a consistent standalone file.
func (m *Manager) dump(ctx context.Context) ([]byte, error) {
	dir, err := os.MkdirTemp("", "overlap-backup-*")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "snapshot.db")
	if _, err := m.db.ExecContext(ctx, "VACUUM INTO ?", path); err != nil {
		return nil, fmt.Errorf("snapshot database: %w", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	return data, nil
}

// List returns stored snapshots, newest first.
func (m *Manager) List(ctx context.Context) ([]Snapshot, error) {
	if !m.Enabled() {
		return nil, ErrDisabled
	}

	var out []Snapshot
	p := s3.NewListObjectsV2Paginator(m.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(m.cfg.Bucket),
		Prefix: aws.String(m.cfg.Prefix),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list backups: %w", err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if !strings.HasSuffix(key, keySuffix) {
				continue
			}
			out = append(out, Snapshot{Key: key, Size: aws.ToInt64(obj.Size), CreatedAt: createdAt(key, aws.ToTime(obj.LastModified))})
		}
	}

	slices.SortFunc(out, func(a, b Snapshot) int { return b.CreatedAt.Compare(a.CreatedAt) })
	return out, nil
}

// createdAt reads the timestamp embedded in a snapshot key.
func createdAt(key string, fallback time.Time) time.Time {
	name := strings.TrimSuffix(filepath.Base(key), keySuffix)
	t, err := time.Parse(keyTimeLayout, strings.TrimPrefix(name, "backup-"))
	if err != nil {
		return fallback
	}
	return t
}

func (m *Manager) prune(ctx context.Context) error {
	snaps, err := m.List(ctx)
	if err != nil {
		return err
	}
	if len(snaps) <= m.cfg.Retention {
		return nil
	}
	for _, s := range snaps[m.cfg.Retention:] {
		if _, err := m.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(m.cfg.Bucket),
			Key:    aws.String(s.Key),
		}); err != nil {
			return fmt.Errorf("delete backup %s: %w", s.Key, err)
		}
		m.logger.Debug("backup pruned", "key", s.Key)
	}
	return nil
}

// Restore downloads key, decrypts and integrity-checks it, then replaces the
// database at dest. Nothing may hold dest open while this runs.
func (m *Manager) Restore(ctx context.Context, key, dest string) error {
	if !m.Enabled() {
		return ErrDisabled
	}

	obj, err := m.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(m.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("download backup %s: %w", key, err)
	}
	sealed, err := io.ReadAll(obj.Body)
	obj.Body.Close()
	if err != nil {
		return fmt.Errorf("read backup %s: %w", key, err)
	}

	plaintext, err := Open(sealed, m.cfg.Passphrase)
	if err != nil {
		return fmt.Errorf("decrypt backup %s: %w", key, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".overlap-restore-*.db")
	if err != nil {
		return fmt.Errorf("create temp db: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)
	if _, err := tmp.Write(plaintext); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp db: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp db: %w", err)
	}

	if err := checkIntegrity(ctx, tmpName); err != nil {
		return err
	}
	if err := os.Rename(tmpName, dest); err != nil {
		return fmt.Errorf("replace database: %w", err)
	}
	os.Remove(dest + "-wal")
	os.Remove(dest + "-shm")

	m.logger.Info("backup restored", "key", key, "path", dest)
	return nil
}

func checkIntegrity(ctx context.Context, path string) error {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("open restored db: %w", err)
	}
	defer db.Close()

	var result string
	if err := db.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("integrity check failed: %s", result)
	}
	return nil
}
