package service

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/xfrr/goffmpeg/transcoder"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"audiovault/internal/domain"
	"audiovault/internal/service/s3"
)

const maxParallelDownloads = 4

// AudioMerger turns a container's chapter audio into a single audiobook
// file via ffmpeg. Chapters are downloaded in parallel, stitched in
// registry order, then transcoded to the configured codec.
type AudioMerger struct {
	workDir string
	codec   string
	format  string
	logger  *zap.Logger
}

func NewAudioMerger(workDir, codec, format string, logger *zap.Logger) (*AudioMerger, error) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return nil, fmt.Errorf("ffmpeg not found: %w", err)
	}

	if err := os.MkdirAll(workDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create work directory: %w", err)
	}

	return &AudioMerger{
		workDir: workDir,
		codec:   codec,
		format:  format,
		logger:  logger,
	}, nil
}

func (m *AudioMerger) Format() string { return m.format }

func (m *AudioMerger) ContentType() string {
	switch m.format {
	case "mp3":
		return "audio/mpeg"
	default:
		return "audio/mp4"
	}
}

// Merge returns a reader over the assembled file and its size. Closing the
// reader removes the job's scratch directory.
func (m *AudioMerger) Merge(ctx context.Context, objects s3.Storage, rows []domain.RegistryRow) (io.ReadCloser, int64, error) {
	jobDir, err := os.MkdirTemp(m.workDir, "merge-*")
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create job directory: %w", err)
	}

	cleanup := func() { os.RemoveAll(jobDir) }

	parts, err := m.download(ctx, objects, rows, jobDir)
	if err != nil {
		cleanup()
		return nil, 0, err
	}

	concatPath := filepath.Join(jobDir, "chapters.part")
	if err := concatFiles(concatPath, parts); err != nil {
		cleanup()
		return nil, 0, err
	}

	outPath := filepath.Join(jobDir, "audiobook."+m.format)
	if err := m.transcode(ctx, concatPath, outPath); err != nil {
		cleanup()
		return nil, 0, err
	}

	out, err := os.Open(outPath)
	if err != nil {
		cleanup()
		return nil, 0, fmt.Errorf("failed to open merged file: %w", err)
	}

	info, err := out.Stat()
	if err != nil {
		out.Close()
		cleanup()
		return nil, 0, fmt.Errorf("failed to stat merged file: %w", err)
	}

	return &mergedFile{File: out, cleanup: cleanup}, info.Size(), nil
}

// download fetches every chapter blob into jobDir, bounded in parallelism,
// returning local paths in registry order.
func (m *AudioMerger) download(ctx context.Context, objects s3.Storage, rows []domain.RegistryRow, jobDir string) ([]string, error) {
	parts := make([]string, len(rows))

	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(maxParallelDownloads)

	for i, row := range rows {
		i, row := i, row
		group.Go(func() error {
			obj, err := objects.Get(ctx, row.ObjectPath)
			if err != nil {
				return fmt.Errorf("failed to fetch chapter %s: %w", row.ObjectPath, err)
			}
			defer obj.Close()

			path := filepath.Join(jobDir, fmt.Sprintf("chapter_%04d%s", i, filepath.Ext(row.ObjectPath)))
			f, err := os.Create(path)
			if err != nil {
				return err
			}
			defer f.Close()

			if _, err := io.Copy(f, obj); err != nil {
				return fmt.Errorf("failed to write chapter %s: %w", path, err)
			}

			parts[i] = path
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, err
	}

	return parts, nil
}

// transcode normalizes the stitched input into the final container/codec.
func (m *AudioMerger) transcode(ctx context.Context, inputPath, outputPath string) error {
	trans := new(transcoder.Transcoder)

	if err := trans.Initialize(inputPath, outputPath); err != nil {
		return fmt.Errorf("failed to initialize transcoder: %w", err)
	}

	trans.MediaFile().SetAudioCodec(m.codec)

	done := trans.Run(true)
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("transcoding failed: %w", err)
		}
	case <-ctx.Done():
		m.logger.Warn("context canceled while transcoding", zap.String("output", outputPath))
		return ctx.Err()
	}

	return nil
}

// concatFiles stitches the chapter files back to back. MP3/ADTS frame
// streams concatenate cleanly; the transcode pass afterwards rebuilds
// timestamps and the container.
func concatFiles(dst string, parts []string) error {
	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create concat file: %w", err)
	}
	defer out.Close()

	for _, part := range parts {
		in, err := os.Open(part)
		if err != nil {
			return fmt.Errorf("failed to open chapter %s: %w", part, err)
		}
		if _, err := io.Copy(out, in); err != nil {
			in.Close()
			return fmt.Errorf("failed to append chapter %s: %w", part, err)
		}
		in.Close()
	}

	return nil
}

type mergedFile struct {
	*os.File
	cleanup func()
}

func (f *mergedFile) Close() error {
	err := f.File.Close()
	f.cleanup()
	return err
}
