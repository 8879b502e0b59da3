package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/pico-agents/coreagent/pkg/errs"
	"github.com/pico-agents/coreagent/pkg/model"
)

// Store wraps the shared database connection with typed accessors for every
// table the hybrid memory system and process tree depend on.
type Store struct {
	db *sqlx.DB
}

func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

func (s *Store) DB() *sqlx.DB { return s.db }

func (s *Store) Close() error { return s.db.Close() }

// --- memories ---

type memoryRow struct {
	ID             string    `db:"id"`
	CreatedAt      time.Time `db:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"`
	LastAccessedAt time.Time `db:"last_accessed_at"`
	AccessCount    int64     `db:"access_count"`
	Content        string    `db:"content"`
	MemoryType     string    `db:"memory_type"`
	Importance     float64   `db:"importance"`
	Source         string    `db:"source"`
	ChannelID      string    `db:"channel_id"`
	Specialist     string    `db:"specialist"`
	Indexed        bool      `db:"indexed"`
}

func fromRow(r memoryRow) model.Memory {
	return model.Memory{
		ID:             r.ID,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
		LastAccessedAt: r.LastAccessedAt,
		AccessCount:    r.AccessCount,
		Content:        r.Content,
		MemoryType:     model.MemoryType(r.MemoryType),
		Importance:     r.Importance,
		Source:         r.Source,
		ChannelID:      r.ChannelID,
		Specialist:     r.Specialist,
		Indexed:        r.Indexed,
	}
}

// SaveMemory inserts a new memory record, clamping importance and stamping
// timestamps if unset.
func (s *Store) SaveMemory(ctx context.Context, m *model.Memory) error {
	m.ClampImportance()
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	now := time.Now()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	if m.UpdatedAt.Before(m.CreatedAt) {
		m.UpdatedAt = m.CreatedAt
	}
	if m.LastAccessedAt.Before(m.CreatedAt) {
		m.LastAccessedAt = m.CreatedAt
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO memories (id, created_at, updated_at, last_accessed_at, access_count,
			content, memory_type, importance, source, channel_id, specialist, indexed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.CreatedAt, m.UpdatedAt, m.LastAccessedAt, m.AccessCount,
		m.Content, string(m.MemoryType), m.Importance, m.Source, m.ChannelID, m.Specialist, m.Indexed,
	)
	if err != nil {
		return &errs.DbError{Msg: "inserting memory", Err: err}
	}
	return nil
}

// TouchMemory records an access: bumps access_count and last_accessed_at.
// access_count is monotonically non-decreasing by construction.
func (s *Store) TouchMemory(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE memories SET access_count = access_count + 1, last_accessed_at = ?
		WHERE id = ?`, time.Now(), id)
	if err != nil {
		return &errs.DbError{Msg: "touching memory", Err: err}
	}
	return nil
}

// UpdateImportance sets a new importance value, clamped to [0,1], and bumps
// updated_at.
func (s *Store) UpdateImportance(ctx context.Context, id string, importance float64) error {
	if importance < 0 {
		importance = 0
	}
	if importance > 1 {
		importance = 1
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE memories SET importance = ?, updated_at = ? WHERE id = ?`,
		importance, time.Now(), id)
	if err != nil {
		return &errs.DbError{Msg: "updating memory importance", Err: err}
	}
	return nil
}

// SetIndexed flags whether a memory's content has a usable vector embedding.
// A save that fails to embed still keeps its structured row but is marked
// non-indexed so dense recall doesn't silently miss it.
func (s *Store) SetIndexed(ctx context.Context, id string, indexed bool) error {
	_, err := s.db.ExecContext(ctx, `UPDATE memories SET indexed = ? WHERE id = ?`, indexed, id)
	if err != nil {
		return &errs.DbError{Msg: "updating memory indexed flag", Err: err}
	}
	return nil
}

func (s *Store) GetMemory(ctx context.Context, id string) (*model.Memory, error) {
	var r memoryRow
	if err := s.db.GetContext(ctx, &r, `SELECT * FROM memories WHERE id = ?`, id); err != nil {
		return nil, &errs.DbError{Msg: "getting memory", Err: err}
	}
	m := fromRow(r)
	return &m, nil
}

func (s *Store) DeleteMemory(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM memories WHERE id = ?`, id); err != nil {
		return &errs.DbError{Msg: "deleting memory", Err: err}
	}
	return nil
}

// TopMemories returns up to limit memories scoped by optional channel,
// filtered to memType when non-empty and to importance >= minImportance,
// ordered by importance descending. Used by Channel context construction to
// pull high-importance and identity memories into the system prompt ahead of
// rolling history.
func (s *Store) TopMemories(ctx context.Context, channelID, memType string, minImportance float64, limit int) ([]model.Memory, error) {
	sql := `SELECT * FROM memories WHERE importance >= ?`
	args := []interface{}{minImportance}
	if channelID != "" {
		sql += ` AND (channel_id = ? OR channel_id = '')`
		args = append(args, channelID)
	}
	if memType != "" {
		sql += ` AND memory_type = ?`
		args = append(args, memType)
	}
	sql += ` ORDER BY importance DESC LIMIT ?`
	args = append(args, limit)

	var rows []memoryRow
	if err := s.db.SelectContext(ctx, &rows, sql, args...); err != nil {
		return nil, &errs.DbError{Msg: "listing top memories", Err: err}
	}
	out := make([]model.Memory, len(rows))
	for i, r := range rows {
		out[i] = fromRow(r)
	}
	return out, nil
}

// LexicalSearch runs an FTS5 BM25 query scoped by optional channel/specialist
// and returns candidates ranked by ascending bm25 score (lower is better).
func (s *Store) LexicalSearch(ctx context.Context, query string, channelID, specialist string, limit int) ([]model.Memory, error) {
	args := []interface{}{query}
	sql := `
		SELECT m.* FROM memories m
		JOIN memories_fts f ON f.rowid = m.rowid
		WHERE memories_fts MATCH ?`
	if channelID != "" {
		sql += ` AND (m.channel_id = ? OR m.channel_id = '')`
		args = append(args, channelID)
	}
	if specialist != "" {
		sql += ` AND (m.specialist = ? OR m.specialist = '')`
		args = append(args, specialist)
	}
	sql += ` ORDER BY bm25(memories_fts) LIMIT ?`
	args = append(args, limit)

	var rows []memoryRow
	if err := s.db.SelectContext(ctx, &rows, sql, args...); err != nil {
		return nil, &errs.DbError{Msg: "lexical search", Err: err}
	}
	out := make([]model.Memory, len(rows))
	for i, r := range rows {
		out[i] = fromRow(r)
	}
	return out, nil
}

// ListMemoriesForMaintenance returns every memory, used by the decay/prune/
// merge sweep. Maintenance runs off-peak so a full scan is acceptable.
func (s *Store) ListMemoriesForMaintenance(ctx context.Context) ([]model.Memory, error) {
	var rows []memoryRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT * FROM memories`); err != nil {
		return nil, &errs.DbError{Msg: "listing memories", Err: err}
	}
	out := make([]model.Memory, len(rows))
	for i, r := range rows {
		out[i] = fromRow(r)
	}
	return out, nil
}

// --- associations ---

// SaveAssociation upserts an edge; (source,target,relation) is unique so a
// repeated extraction only refreshes the weight and timestamp.
func (s *Store) SaveAssociation(ctx context.Context, a *model.Association) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO associations (id, source_id, target_id, relation, weight, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(source_id, target_id, relation) DO UPDATE SET weight = excluded.weight`,
		a.ID, a.SourceID, a.TargetID, string(a.Relation), a.Weight, a.CreatedAt,
	)
	if err != nil {
		return &errs.DbError{Msg: "saving association", Err: err}
	}
	return nil
}

// Neighbors returns the outgoing edges from memoryID, used as one BFS step
// of the graph-recall leg.
func (s *Store) Neighbors(ctx context.Context, memoryID string) ([]model.Association, error) {
	var rows []struct {
		ID        string    `db:"id"`
		SourceID  string    `db:"source_id"`
		TargetID  string    `db:"target_id"`
		Relation  string    `db:"relation"`
		Weight    float64   `db:"weight"`
		CreatedAt time.Time `db:"created_at"`
	}
	if err := s.db.SelectContext(ctx, &rows,
		`SELECT * FROM associations WHERE source_id = ?`, memoryID); err != nil {
		return nil, &errs.DbError{Msg: "listing neighbors", Err: err}
	}
	out := make([]model.Association, len(rows))
	for i, r := range rows {
		out[i] = model.Association{
			ID: r.ID, SourceID: r.SourceID, TargetID: r.TargetID,
			Relation: model.RelationType(r.Relation), Weight: r.Weight, CreatedAt: r.CreatedAt,
		}
	}
	return out, nil
}

func (s *Store) RewireAssociations(ctx context.Context, oldTargetID, newTargetID string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return &errs.DbError{Msg: "rewiring associations", Err: err}
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE OR IGNORE associations SET source_id = ? WHERE source_id = ?`, newTargetID, oldTargetID); err != nil {
		return &errs.DbError{Msg: "rewiring association sources", Err: err}
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE OR IGNORE associations SET target_id = ? WHERE target_id = ?`, newTargetID, oldTargetID); err != nil {
		return &errs.DbError{Msg: "rewiring association targets", Err: err}
	}
	return tx.Commit()
}

// --- conversation turns ---

// NextSequence returns the next dense sequence number for channelID.
func (s *Store) NextSequence(ctx context.Context, channelID string) (int64, error) {
	var max int64
	if err := s.db.GetContext(ctx, &max,
		`SELECT COALESCE(MAX(sequence), 0) FROM conversation_turns WHERE channel_id = ?`, channelID); err != nil {
		return 0, &errs.DbError{Msg: "reading max sequence", Err: err}
	}
	return max + 1, nil
}

func (s *Store) AppendTurn(ctx context.Context, t *model.ConversationTurn) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversation_turns (channel_id, sequence, inbound, outbound, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		t.ChannelID, t.Sequence, t.Inbound, t.Outbound, t.CreatedAt)
	if err != nil {
		return &errs.DbError{Msg: "appending turn", Err: err}
	}
	return nil
}

func (s *Store) SetOutbound(ctx context.Context, channelID string, sequence int64, outbound string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE conversation_turns SET outbound = ? WHERE channel_id = ? AND sequence = ?`,
		outbound, channelID, sequence)
	if err != nil {
		return &errs.DbError{Msg: "setting outbound", Err: err}
	}
	return nil
}

// TurnsInRange returns turns [start,end] inclusive, ordered by sequence.
func (s *Store) TurnsInRange(ctx context.Context, channelID string, start, end int64) ([]model.ConversationTurn, error) {
	var turns []model.ConversationTurn
	if err := s.db.SelectContext(ctx, &turns, `
		SELECT channel_id, sequence, inbound, outbound, created_at FROM conversation_turns
		WHERE channel_id = ? AND sequence BETWEEN ? AND ?
		ORDER BY sequence ASC`, channelID, start, end); err != nil {
		return nil, &errs.DbError{Msg: "reading turn range", Err: err}
	}
	return turns, nil
}

func (s *Store) AllTurns(ctx context.Context, channelID string) ([]model.ConversationTurn, error) {
	var turns []model.ConversationTurn
	if err := s.db.SelectContext(ctx, &turns, `
		SELECT channel_id, sequence, inbound, outbound, created_at FROM conversation_turns
		WHERE channel_id = ? ORDER BY sequence ASC`, channelID); err != nil {
		return nil, &errs.DbError{Msg: "reading turns", Err: err}
	}
	return turns, nil
}

// --- compaction ---

// ArchiveAndReplace deletes the turn range [start,end] and writes the
// replacing summary in one transaction, so a crash never leaves the channel
// in a state with both the raw turns and the summary, or neither.
func (s *Store) ArchiveAndReplace(ctx context.Context, channelID string, start, end int64, summaryText string) (*model.CompactionSummary, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, &errs.DbError{Msg: "archiving turns", Err: err}
	}
	defer tx.Rollback()

	summary := &model.CompactionSummary{
		ID:            uuid.NewString(),
		ChannelID:     channelID,
		StartSequence: start,
		EndSequence:   end,
		SummaryText:   summaryText,
		CreatedAt:     time.Now(),
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO compaction_summaries (id, channel_id, start_sequence, end_sequence, summary_text, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		summary.ID, summary.ChannelID, summary.StartSequence, summary.EndSequence, summary.SummaryText, summary.CreatedAt,
	); err != nil {
		return nil, &errs.DbError{Msg: "inserting compaction summary", Err: err}
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM conversation_turns WHERE channel_id = ? AND sequence BETWEEN ? AND ?`,
		channelID, start, end,
	); err != nil {
		return nil, &errs.DbError{Msg: "deleting archived turns", Err: err}
	}
	if err := tx.Commit(); err != nil {
		return nil, &errs.DbError{Msg: "committing compaction", Err: err}
	}
	return summary, nil
}

func (s *Store) CompactionSummaries(ctx context.Context, channelID string) ([]model.CompactionSummary, error) {
	var out []model.CompactionSummary
	if err := s.db.SelectContext(ctx, &out, `
		SELECT id, channel_id, start_sequence, end_sequence, summary_text, created_at
		FROM compaction_summaries WHERE channel_id = ? ORDER BY start_sequence ASC`, channelID); err != nil {
		return nil, &errs.DbError{Msg: "reading compaction summaries", Err: err}
	}
	return out, nil
}

// --- cron ---

func (s *Store) SaveCronJob(ctx context.Context, j *model.CronJob) error {
	if j.ID == "" {
		j.ID = uuid.NewString()
	}
	if j.CreatedAt.IsZero() {
		j.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cron_jobs (id, agent_name, prompt, interval_secs, delivery_target,
			active_start_hour, active_end_hour, enabled, consecutive_fail, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.ID, j.AgentName, j.Prompt, j.IntervalSecs, j.DeliveryTarget,
		j.ActiveStartHour, j.ActiveEndHour, j.Enabled, j.ConsecutiveFail, j.CreatedAt,
	)
	if err != nil {
		return &errs.DbError{Msg: "saving cron job", Err: err}
	}
	return nil
}

func (s *Store) ListCronJobs(ctx context.Context, agentName string) ([]model.CronJob, error) {
	var out []model.CronJob
	if err := s.db.SelectContext(ctx, &out, `
		SELECT id, agent_name, prompt, interval_secs, delivery_target,
			active_start_hour, active_end_hour, enabled, consecutive_fail, created_at
		FROM cron_jobs WHERE agent_name = ?`, agentName); err != nil {
		return nil, &errs.DbError{Msg: "listing cron jobs", Err: err}
	}
	return out, nil
}

func (s *Store) DeleteCronJob(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM cron_jobs WHERE id = ?`, id); err != nil {
		return &errs.DbError{Msg: "deleting cron job", Err: err}
	}
	return nil
}

// RecordCronExecution logs a run and updates the job's consecutive-failure
// streak, disabling it once the streak reaches 3 (the circuit breaker).
func (s *Store) RecordCronExecution(ctx context.Context, e *model.CronExecution) (disabled bool, err error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.RanAt.IsZero() {
		e.RanAt = time.Now()
	}
	tx, txErr := s.db.BeginTxx(ctx, nil)
	if txErr != nil {
		return false, &errs.DbError{Msg: "recording cron execution", Err: txErr}
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO cron_executions (id, job_id, ran_at, success, summary) VALUES (?, ?, ?, ?, ?)`,
		e.ID, e.JobID, e.RanAt, e.Success, e.Summary); err != nil {
		return false, &errs.DbError{Msg: "inserting cron execution", Err: err}
	}

	if e.Success {
		if _, err := tx.ExecContext(ctx,
			`UPDATE cron_jobs SET consecutive_fail = 0 WHERE id = ?`, e.JobID); err != nil {
			return false, &errs.DbError{Msg: "resetting fail streak", Err: err}
		}
	} else {
		var fails int
		if err := tx.QueryRowContext(ctx,
			`UPDATE cron_jobs SET consecutive_fail = consecutive_fail + 1 WHERE id = ? RETURNING consecutive_fail`,
			e.JobID).Scan(&fails); err != nil {
			return false, &errs.DbError{Msg: "bumping fail streak", Err: err}
		}
		if fails >= 3 {
			if _, err := tx.ExecContext(ctx,
				`UPDATE cron_jobs SET enabled = 0 WHERE id = ?`, e.JobID); err != nil {
				return false, &errs.DbError{Msg: "disabling cron job", Err: err}
			}
			disabled = true
		}
	}
	if err := tx.Commit(); err != nil {
		return false, &errs.DbError{Msg: "committing cron execution", Err: err}
	}
	return disabled, nil
}

// --- bindings ---

func (s *Store) SaveBinding(ctx context.Context, b *model.Binding) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bindings (platform, channel_or_chat_id, sender_id, agent_name, specialist, thread_id)
		VALUES (?, ?, ?, ?, ?, ?)`,
		b.Platform, b.ChannelOrChatID, b.SenderID, b.AgentName, b.Specialist, b.ThreadID)
	if err != nil {
		return &errs.DbError{Msg: "saving binding", Err: err}
	}
	return nil
}

func (s *Store) ListBindings(ctx context.Context) ([]model.Binding, error) {
	var out []model.Binding
	if err := s.db.SelectContext(ctx, &out, `
		SELECT platform, channel_or_chat_id, sender_id, agent_name, specialist, thread_id FROM bindings`); err != nil {
		return nil, &errs.DbError{Msg: "listing bindings", Err: err}
	}
	return out, nil
}

// ResolveBinding returns the first binding matching the inbound routing key,
// preferring the most specific match (most non-wildcard fields).
func (s *Store) ResolveBinding(ctx context.Context, platform, channelOrChatID, senderID string) (*model.Binding, error) {
	all, err := s.ListBindings(ctx)
	if err != nil {
		return nil, err
	}
	var best *model.Binding
	bestScore := -1
	for i := range all {
		b := all[i]
		if !b.Matches(platform, channelOrChatID, senderID) {
			continue
		}
		score := 0
		if b.Platform != "" {
			score++
		}
		if b.ChannelOrChatID != "" {
			score++
		}
		if b.SenderID != "" {
			score++
		}
		if score > bestScore {
			bestScore = score
			best = &b
		}
	}
	if best == nil {
		return nil, errors.New("no binding matches")
	}
	return best, nil
}
