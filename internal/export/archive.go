package export

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"go.uber.org/zap"

	"github.com/felo/reportmaster/internal/model"
	"github.com/felo/reportmaster/internal/parser"
)

// ArchiveRoot is the top-level folder inside the attachments archive.
const ArchiveRoot = "Attachments"

const maxFolderRunes = 50

// PayloadSource returns the attachment payloads of a message, in the order
// of Message.Attachments.
type PayloadSource interface {
	Payloads(ctx context.Context, m model.Message) ([][]byte, error)
}

// SourceFiles reads payloads by re-parsing each message's source .eml file.
type SourceFiles struct{}

// Payloads implements PayloadSource.
func (SourceFiles) Payloads(_ context.Context, m model.Message) ([][]byte, error) {
	parsed, err := parser.ParseEMLFile(m.SourcePath)
	if err != nil {
		return nil, fmt.Errorf("failed to reparse %s: %w", m.SourcePath, err)
	}
	return parsed.Payloads, nil
}

// ArchiveStats summarizes a written archive.
type ArchiveStats struct {
	Folders int
	Files   int
	Bytes   int64
	Skipped int
}

// ArchiveAssembler writes group attachments into a ZIP archive, one folder
// per group named "<section>_<title>". Entries are deduplicated by
// fingerprint within a group; clashing names get "_1", "_2" suffixes.
type ArchiveAssembler struct {
	Source PayloadSource
	Logger *zap.Logger
}

// Assemble implements Assembler.
func (a *ArchiveAssembler) Assemble(ctx context.Context, w io.Writer, groups []*model.ThreadGroup) error {
	_, err := a.Archive(ctx, w, groups)
	return err
}

// Archive writes the archive and reports what went into it. Groups without
// attachments get no folder but keep their section number.
func (a *ArchiveAssembler) Archive(ctx context.Context, w io.Writer, groups []*model.ThreadGroup) (ArchiveStats, error) {
	logger := a.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	source := a.Source
	if source == nil {
		source = SourceFiles{}
	}

	var stats ArchiveStats
	zw := zip.NewWriter(w)

	for i, g := range groups {
		folder := SectionNumber(i) + "_" + parser.SanitizeName(Title(g), maxFolderRunes)
		used := make(map[string]struct{})
		seen := make(map[string]struct{})
		wroteFolder := false

		for _, m := range g.Messages {
			if len(m.Attachments) == 0 {
				continue
			}
			if err := ctx.Err(); err != nil {
				return stats, err
			}

			payloads, err := source.Payloads(ctx, m)
			if err != nil {
				logger.Warn("attachments unavailable",
					zap.String("message_id", m.ID),
					zap.Error(err))
				stats.Skipped += len(m.Attachments)
				continue
			}

			for j, att := range m.Attachments {
				if att.Fingerprint != "" {
					if _, dup := seen[att.Fingerprint]; dup {
						continue
					}
					seen[att.Fingerprint] = struct{}{}
				}

				data := payloadFor(payloads, j, att.Fingerprint)
				if data == nil {
					logger.Warn("no data for attachment",
						zap.String("message_id", m.ID),
						zap.String("filename", att.Filename))
					stats.Skipped++
					continue
				}

				name := uniqueName(parser.SafeFilename(att.Filename), used)
				entry, err := zw.Create(path.Join(ArchiveRoot, folder, name))
				if err != nil {
					return stats, fmt.Errorf("failed to add %s: %w", name, err)
				}
				if _, err := entry.Write(data); err != nil {
					return stats, fmt.Errorf("failed to write %s: %w", name, err)
				}
				if !wroteFolder {
					wroteFolder = true
					stats.Folders++
				}
				stats.Files++
				stats.Bytes += int64(len(data))
			}
		}
	}

	if err := zw.Close(); err != nil {
		return stats, fmt.Errorf("failed to finish archive: %w", err)
	}
	return stats, nil
}

// payloadFor picks the payload at index i, or the one matching fingerprint
// when the positions disagree.
func payloadFor(payloads [][]byte, i int, fingerprint string) []byte {
	if i < len(payloads) && (fingerprint == "" || parser.Fingerprint(payloads[i]) == fingerprint) {
		return payloads[i]
	}
	if fingerprint == "" {
		return nil
	}
	for _, p := range payloads {
		if parser.Fingerprint(p) == fingerprint {
			return p
		}
	}
	return nil
}

// uniqueName returns name, or name with a "_N" suffix before the extension
// when already used, and records the result.
func uniqueName(name string, used map[string]struct{}) string {
	candidate := name
	base, ext := name, ""
	if dot := strings.LastIndexByte(name, '.'); dot > 0 {
		base, ext = name[:dot], name[dot:]
	}
	for n := 1; ; n++ {
		if _, taken := used[candidate]; !taken {
			used[candidate] = struct{}{}
			return candidate
		}
		candidate = fmt.Sprintf("%s_%d%s", base, n, ext)
	}
}
