// Package parallel implements C8's parallel coordinator (§4.8.4): given a
// chunk manifest and a query, partition chunks into batches and emit a
// configuration describing the work for the host assistant to execute —
// this package never spawns a subprocess itself. Grounded on the
// teacher's internal/tool/task.go, which already builds a prompt for a
// sub-agent invocation without executing it directly (the actual
// dispatch lives one layer up, in the agent loop) — the same separation
// of "describe the work" from "run the work" applies here.
package parallel

import (
	"fmt"
	"path/filepath"

	"github.com/Dhanuzh/dcode-hooks/internal/rlm/chunk"
)

// Batch is one group of chunks to be processed together by a single
// external invocation.
type Batch struct {
	BatchNum         int      `json:"batch_num"`
	ChunkFiles       []string `json:"chunk_files"`
	ChunkPaths       []string `json:"chunk_paths"`
	Prompt           string   `json:"prompt"`
	ExpectedOutput   string   `json:"expected_output"`
}

// Config is the parallel_config.json document (§4.8.4).
type Config struct {
	Query      string  `json:"query"`
	BatchSize  int     `json:"batch_size"`
	Batches    []Batch `json:"batches"`
}

const promptTemplate = "You are processing a batch of %d chunk(s) from a larger document.\n" +
	"Query: %s\n\nChunks in this batch:\n%s\n" +
	"Read each chunk file, answer the query against its content, and write\n" +
	"your findings to the expected output file as plain text or JSON."

// Build partitions manifest's chunks into batches of batchSize and
// constructs a Config describing each batch's files, prompt, and
// expected output path, without executing anything (§4.8.4).
func Build(manifest chunk.Manifest, chunksDir, outputDir, query string, batchSize int) Config {
	if batchSize <= 0 {
		batchSize = 4
	}

	cfg := Config{Query: query, BatchSize: batchSize}
	batchNum := 0
	for i := 0; i < len(manifest.Chunks); i += batchSize {
		end := i + batchSize
		if end > len(manifest.Chunks) {
			end = len(manifest.Chunks)
		}
		group := manifest.Chunks[i:end]

		var names, paths, listing []string
		for _, c := range group {
			names = append(names, c.File)
			paths = append(paths, filepath.Join(chunksDir, c.File))
			listing = append(listing, fmt.Sprintf("- %s (chunk %d)", c.File, c.ChunkNum))
		}
		listingText := ""
		for _, l := range listing {
			listingText += l + "\n"
		}

		batch := Batch{
			BatchNum:       batchNum,
			ChunkFiles:     names,
			ChunkPaths:     paths,
			Prompt:         fmt.Sprintf(promptTemplate, len(group), query, listingText),
			ExpectedOutput: filepath.Join(outputDir, fmt.Sprintf("batch_%d.json", batchNum)),
		}
		cfg.Batches = append(cfg.Batches, batch)
		batchNum++
	}
	return cfg
}
