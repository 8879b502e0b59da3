package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pico-agents/coreagent/pkg/logger"
	"github.com/pico-agents/coreagent/pkg/model"
	"github.com/pico-agents/coreagent/pkg/providers"
	"github.com/pico-agents/coreagent/pkg/store"
)

// legacySession is the on-disk shape of a pre-migration session file: one
// JSON document per channel holding its full message history. Backfill
// migrates these into conversation_turns (and, optionally, extracted
// memories) so older deployments can adopt the structured store without
// losing history.
type legacySession struct {
	Key      string              `json:"key"`
	Messages []providers.Message `json:"messages"`
}

// BackfillStats tracks progress of a backfill run.
type BackfillStats struct {
	SessionsTotal     int
	SessionsProcessed int
	TurnsIndexed      int
	Errors            int
}

// BackfillOptions configures a backfill run.
type BackfillOptions struct {
	ExtractKnowledge bool
	DryRun           bool
}

// Backfill migrates every legacy session file in sessionsDir into the
// structured store, re-running the dense-embedding index and, optionally,
// knowledge extraction over each recovered turn. Re-running Backfill on
// turns already migrated is a no-op: NextSequence always appends past the
// last migrated turn rather than overwriting it, so the operation is
// idempotent at the session-file level.
func Backfill(ctx context.Context, sessionsDir string, s *store.Store, vs *VectorStore, extractor *Extractor, opts BackfillOptions) (*BackfillStats, error) {
	stats := &BackfillStats{}

	files, err := os.ReadDir(sessionsDir)
	if err != nil {
		return nil, fmt.Errorf("read sessions directory: %w", err)
	}

	for _, f := range files {
		if f.IsDir() || filepath.Ext(f.Name()) != ".json" {
			continue
		}
		if strings.HasPrefix(f.Name(), "heartbeat") || strings.HasPrefix(f.Name(), "cron-") {
			continue
		}
		stats.SessionsTotal++
	}

	for _, f := range files {
		if f.IsDir() || filepath.Ext(f.Name()) != ".json" {
			continue
		}
		if strings.HasPrefix(f.Name(), "heartbeat") || strings.HasPrefix(f.Name(), "cron-") {
			logger.InfoCF("backfill", "skipping system session", map[string]interface{}{"file": f.Name()})
			continue
		}
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}

		if err := backfillSession(ctx, filepath.Join(sessionsDir, f.Name()), s, vs, extractor, stats, opts); err != nil {
			logger.WarnCF("backfill", "failed to backfill session", map[string]interface{}{
				"file": f.Name(), "error": err.Error(),
			})
			stats.Errors++
		}
		stats.SessionsProcessed++
	}

	return stats, nil
}

func backfillSession(ctx context.Context, path string, s *store.Store, vs *VectorStore, extractor *Extractor, stats *BackfillStats, opts BackfillOptions) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read session file: %w", err)
	}

	var sess legacySession
	if err := json.Unmarshal(data, &sess); err != nil {
		return fmt.Errorf("parse session JSON: %w", err)
	}
	if len(sess.Messages) == 0 {
		return nil
	}

	channelID := sess.Key
	if channelID == "" {
		channelID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}

	for i := 0; i < len(sess.Messages); i++ {
		msg := sess.Messages[i]
		if msg.Role != "user" || msg.Content == "" {
			continue
		}

		assistantMsg := ""
		for j := i + 1; j < len(sess.Messages); j++ {
			if sess.Messages[j].Role == "assistant" && sess.Messages[j].Content != "" {
				assistantMsg = sess.Messages[j].Content
				break
			}
			if sess.Messages[j].Role == "user" {
				break
			}
		}
		if assistantMsg == "" {
			continue
		}

		if opts.DryRun {
			stats.TurnsIndexed++
			continue
		}

		seq, err := s.NextSequence(ctx, channelID)
		if err != nil {
			return err
		}
		turn := &model.ConversationTurn{
			ChannelID: channelID,
			Sequence:  seq,
			Inbound:   msg.Content,
			Outbound:  assistantMsg,
		}
		if err := s.AppendTurn(ctx, turn); err != nil {
			return err
		}
		stats.TurnsIndexed++

		if opts.ExtractKnowledge && extractor != nil {
			extractor.ExtractAndConsolidate(ctx, msg.Content, assistantMsg, channelID, "")
		}

		time.Sleep(50 * time.Millisecond)
	}

	return nil
}
