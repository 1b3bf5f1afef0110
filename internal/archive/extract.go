package archive

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"fsbk/internal/progress"
	"fsbk/internal/toolrun"
)

// Extract unpacks an archive produced by the archive strategy into dest,
// peeling the layers in reverse order: decrypt, decompress, untar. The
// compressed/encrypted flags must come from the descriptor, not the
// filename; filename sniffing lives in the restore resolver as a last
// resort only.
func (e *Engine) Extract(ctx context.Context, archivePath, dest string, compressed, encrypted bool, password string, mon *progress.Monitor) error {
	if encrypted && password == "" {
		return fmt.Errorf("archive is encrypted: %w", ErrMissingPassword)
	}
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return fmt.Errorf("failed to create restore destination: %w", err)
	}

	in, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer in.Close()

	checkpointR, checkpointW := io.Pipe()
	go mon.ConsumeCheckpoints(checkpointR)
	defer checkpointW.Close()

	var stages []toolrun.Stage

	cleanupSecret := func() {}
	if encrypted {
		secretPath, cleanup, err := writePasswordFile(password)
		if err != nil {
			return err
		}
		cleanupSecret = cleanup
		stages = append(stages, toolrun.Stage{
			Name: e.tools.GpgBin(),
			Args: []string{
				"--batch", "--yes",
				"--decrypt",
				"--passphrase-file", secretPath,
			},
		})
	}
	defer cleanupSecret()

	if compressed {
		stages = append(stages, toolrun.Stage{Name: e.tools.GzipBin(), Args: []string{"-d", "-c"}})
	}

	stages = append(stages, toolrun.Stage{
		Name: e.tools.TarBin(),
		Args: []string{
			"-xf", "-",
			"--checkpoint=" + fmt.Sprint(progress.TarCheckpointRecords),
			"--checkpoint-action=echo",
			"-C", dest,
		},
		StderrTo: checkpointW,
	})

	pipeline := &toolrun.Pipeline{Stages: stages, Stdin: in}

	slog.Info("Extracting archive", "archive", archivePath, "dest", dest,
		"compressed", compressed, "encrypted", encrypted)
	if err := pipeline.Run(ctx); err != nil {
		return classifyCipherError(err)
	}
	return nil
}
