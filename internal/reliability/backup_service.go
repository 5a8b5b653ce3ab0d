package reliability

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

const backupPrefix = "backups/"

// maxStoredBackups bounds bucket growth; the oldest archives beyond this
// count are pruned after each successful upload.
const maxStoredBackups = 30

// BackupService creates compressed snapshots of the data directory's
// databases and uploads them to S3-compatible storage. The ledger is the
// audit trail for real money; losing it means losing tax history.
type BackupService struct {
	s3      *S3Client
	dataDir string
	log     zerolog.Logger
}

// BackupMetadata describes the contents of one backup archive
type BackupMetadata struct {
	Timestamp time.Time          `json:"timestamp"`
	Databases []DatabaseMetadata `json:"databases"`
}

// DatabaseMetadata describes a single database file in the backup
type DatabaseMetadata struct {
	Name      string `json:"name"`
	SizeBytes int64  `json:"size_bytes"`
	Checksum  string `json:"checksum"`
}

// NewBackupService creates a new backup service
func NewBackupService(s3 *S3Client, dataDir string, log zerolog.Logger) *BackupService {
	return &BackupService{
		s3:      s3,
		dataDir: dataDir,
		log:     log.With().Str("service", "backup").Logger(),
	}
}

// CreateAndUpload builds a tar.gz snapshot of all .db files in the data
// directory and uploads it, then prunes old backups.
func (s *BackupService) CreateAndUpload(ctx context.Context) error {
	s.log.Info().Msg("Starting backup")
	startTime := time.Now()

	dbFiles, err := filepath.Glob(filepath.Join(s.dataDir, "*.db"))
	if err != nil {
		return fmt.Errorf("failed to list database files: %w", err)
	}
	if len(dbFiles) == 0 {
		return fmt.Errorf("no database files found in %s", s.dataDir)
	}

	timestamp := startTime.UTC().Format("2006-01-02T15-04-05Z")
	archivePath := filepath.Join(s.dataDir, fmt.Sprintf("backup-%s.tar.gz", timestamp))
	defer os.Remove(archivePath)

	metadata, err := s.writeArchive(archivePath, dbFiles)
	if err != nil {
		return err
	}

	archive, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open archive for upload: %w", err)
	}
	defer archive.Close()

	key := backupPrefix + filepath.Base(archivePath)
	if err := s.s3.Upload(ctx, key, archive); err != nil {
		return err
	}

	s.log.Info().
		Str("key", key).
		Int("databases", len(metadata.Databases)).
		Dur("elapsed", time.Since(startTime)).
		Msg("Backup uploaded")

	if err := s.pruneOldBackups(ctx); err != nil {
		// Pruning failure is not a backup failure
		s.log.Warn().Err(err).Msg("Failed to prune old backups")
	}

	return nil
}

// writeArchive builds the tar.gz archive with a metadata.json entry followed
// by each database file.
func (s *BackupService) writeArchive(archivePath string, dbFiles []string) (*BackupMetadata, error) {
	out, err := os.Create(archivePath)
	if err != nil {
		return nil, fmt.Errorf("failed to create archive: %w", err)
	}
	defer out.Close()

	gzw := gzip.NewWriter(out)
	defer gzw.Close()
	tw := tar.NewWriter(gzw)
	defer tw.Close()

	metadata := BackupMetadata{Timestamp: time.Now().UTC()}
	for _, path := range dbFiles {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("failed to stat %s: %w", path, err)
		}
		checksum, err := fileChecksum(path)
		if err != nil {
			return nil, err
		}
		metadata.Databases = append(metadata.Databases, DatabaseMetadata{
			Name:      filepath.Base(path),
			SizeBytes: info.Size(),
			Checksum:  checksum,
		})
	}

	metaJSON, err := json.MarshalIndent(metadata, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode backup metadata: %w", err)
	}
	if err := tw.WriteHeader(&tar.Header{
		Name:    "metadata.json",
		Mode:    0644,
		Size:    int64(len(metaJSON)),
		ModTime: metadata.Timestamp,
	}); err != nil {
		return nil, fmt.Errorf("failed to write metadata header: %w", err)
	}
	if _, err := tw.Write(metaJSON); err != nil {
		return nil, fmt.Errorf("failed to write metadata: %w", err)
	}

	for _, path := range dbFiles {
		if err := addFileToArchive(tw, path); err != nil {
			return nil, err
		}
	}

	return &metadata, nil
}

func addFileToArchive(tw *tar.Writer, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}

	if err := tw.WriteHeader(&tar.Header{
		Name:    filepath.Base(path),
		Mode:    0644,
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}); err != nil {
		return fmt.Errorf("failed to write header for %s: %w", path, err)
	}
	if _, err := io.Copy(tw, file); err != nil {
		return fmt.Errorf("failed to archive %s: %w", path, err)
	}
	return nil
}

func fileChecksum(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %s for checksum: %w", path, err)
	}
	defer file.Close()

	hash := sha256.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", fmt.Errorf("failed to checksum %s: %w", path, err)
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}

// pruneOldBackups deletes the oldest archives beyond maxStoredBackups
func (s *BackupService) pruneOldBackups(ctx context.Context) error {
	backups, err := s.s3.ListBackups(ctx, backupPrefix)
	if err != nil {
		return err
	}
	if len(backups) <= maxStoredBackups {
		return nil
	}

	// ListBackups returns lexicographic key order; timestamped names make
	// that chronological
	excess := len(backups) - maxStoredBackups
	for _, backup := range backups[:excess] {
		if err := s.s3.Delete(ctx, backup.Key); err != nil {
			return err
		}
		s.log.Info().Str("key", backup.Key).Msg("Pruned old backup")
	}
	return nil
}

// BackupJob wraps the backup service for the scheduler
type BackupJob struct {
	service *BackupService
}

// NewBackupJob creates a new scheduled backup job
func NewBackupJob(service *BackupService) *BackupJob {
	return &BackupJob{service: service}
}

// Run executes one backup
func (j *BackupJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()
	return j.service.CreateAndUpload(ctx)
}

// Name returns the job name for scheduling and logging
func (j *BackupJob) Name() string {
	return "ledger_backup"
}
