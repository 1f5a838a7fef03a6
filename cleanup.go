package main

import (
	"log/slog"
	"os"
)

// Cleanup removes every artifact any mode may have created and restores
// the SDDM Xsetup backup if one exists. Each step is independent: missing
// files are skipped silently and other failures are logged, never returned.
func Cleanup(paths Paths, log *slog.Logger) {
	for _, path := range paths.Generated() {
		removeArtifact(log, path)
	}

	backup := paths.SDDMBackup()
	data, err := os.ReadFile(backup)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Error("Failed to read Xsetup backup", "path", backup, "error", err)
		}
		return
	}
	log.Info("Restoring Xsetup backup")
	out := createArtifact(log, Artifact{Path: paths.SDDMXsetup, Content: string(data), Executable: true})
	if out.Err != nil {
		// Keep the backup so the next cleanup can retry.
		return
	}
	removeArtifact(log, backup)
}

func removeArtifact(log *slog.Logger, path string) {
	if err := os.Remove(path); err != nil {
		if !os.IsNotExist(err) {
			log.Error("Failed to remove file", "path", path, "error", err)
		}
		return
	}
	log.Info("Removed file", "path", path)
}
