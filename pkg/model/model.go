// Package model defines the persisted data model shared by the structured
// store, the vector/FTS index, and the process tree: memory records,
// associations, conversation turns, compaction summaries, cron jobs, process
// identities, and routing bindings.
package model

import "time"

// MemoryType enumerates the kinds of memory record §3 defines.
type MemoryType string

const (
	MemoryFact        MemoryType = "fact"
	MemoryPreference  MemoryType = "preference"
	MemoryDecision    MemoryType = "decision"
	MemoryIdentity    MemoryType = "identity"
	MemoryEvent       MemoryType = "event"
	MemoryObservation MemoryType = "observation"
	MemoryGoal        MemoryType = "goal"
	MemoryTodo        MemoryType = "todo"
)

// Memory is one memory record. Importance is always clamped to [0,1] on
// write; UpdatedAt/LastAccessedAt never precede CreatedAt; AccessCount never
// decreases.
type Memory struct {
	ID             string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	LastAccessedAt time.Time
	AccessCount    int64
	Content        string
	MemoryType     MemoryType
	Importance     float64
	Source         string
	ChannelID      string // empty means unscoped / global
	Specialist     string // empty means unscoped / global
	Indexed        bool   // false if embedding failed at write time
}

// ClampImportance enforces the [0,1] invariant in place.
func (m *Memory) ClampImportance() {
	if m.Importance < 0 {
		m.Importance = 0
	}
	if m.Importance > 1 {
		m.Importance = 1
	}
}

// RelationType enumerates the directed edge kinds of the association graph.
type RelationType string

const (
	RelUpdates     RelationType = "updates"
	RelContradicts RelationType = "contradicts"
	RelCausedBy    RelationType = "caused_by"
	RelRelatedTo   RelationType = "related_to"
	RelSupports    RelationType = "supports"
	RelRefutes     RelationType = "refutes"
	RelElaborates  RelationType = "elaborates"
)

// Association is a directed, possibly-cyclic edge between two memories.
// (SourceID, TargetID, Relation) is unique.
type Association struct {
	ID        string
	SourceID  string
	TargetID  string
	Relation  RelationType
	Weight    float64
	CreatedAt time.Time
}

// ConversationTurn is one inbound/outbound exchange in a channel's history.
// (ChannelID, Sequence) is unique; Sequence is the dense per-channel
// monotonic ordinal of arrival.
type ConversationTurn struct {
	ChannelID string
	Sequence  int64
	Inbound   string
	Outbound  string // empty until the reply is finalised
	CreatedAt time.Time
}

// CompactionSummary replaces a contiguous turn range with one summary.
type CompactionSummary struct {
	ID            string
	ChannelID     string
	StartSequence int64
	EndSequence   int64
	SummaryText   string
	CreatedAt     time.Time
}

// CronJob is a recurring or heartbeat-style scheduled prompt.
type CronJob struct {
	ID              string
	AgentName       string
	Prompt          string
	IntervalSecs    int64
	DeliveryTarget  string
	ActiveStartHour int // -1 if no active window
	ActiveEndHour   int
	Enabled         bool
	ConsecutiveFail int
	CreatedAt       time.Time
}

// HasActiveWindow reports whether this job restricts execution to local hours.
func (j *CronJob) HasActiveWindow() bool {
	return j.ActiveStartHour >= 0 && j.ActiveEndHour >= 0
}

// InActiveWindow reports whether localHour falls in [start,end), wrapping
// past midnight when end < start.
func (j *CronJob) InActiveWindow(localHour int) bool {
	if !j.HasActiveWindow() {
		return true
	}
	if j.ActiveStartHour <= j.ActiveEndHour {
		return localHour >= j.ActiveStartHour && localHour < j.ActiveEndHour
	}
	return localHour >= j.ActiveStartHour || localHour < j.ActiveEndHour
}

// CronExecution records one run of a CronJob.
type CronExecution struct {
	ID        string
	JobID     string
	RanAt     time.Time
	Success   bool
	Summary   string
}

// ProcessKind enumerates the five process kinds an agent runs.
type ProcessKind string

const (
	KindChannel   ProcessKind = "channel"
	KindBranch    ProcessKind = "branch"
	KindWorker    ProcessKind = "worker"
	KindCompactor ProcessKind = "compactor"
	KindCortex    ProcessKind = "cortex"
)

// ProcessID identifies a single running process.
type ProcessID struct {
	ID        string
	Kind      ProcessKind
	AgentName string

	// Channel-only.
	ConversationID string

	// Worker-only.
	TaskType string
}

// Binding maps an inbound message's (platform, channel/chat, sender) to an
// agent id, used by the host router before any process exists. Zero-value
// ChannelOrChatID / SenderID fields are treated as wildcards.
type Binding struct {
	Platform        string
	ChannelOrChatID string
	SenderID        string
	AgentName       string
	// Specialist, if set, additionally pins the matched conversation (or a
	// specific thread within it, via ThreadID) to a named specialist persona.
	Specialist string
	ThreadID   string
}

// Matches reports whether this binding applies to an inbound message's
// routing key. Empty binding fields act as wildcards.
func (b *Binding) Matches(platform, channelOrChatID, senderID string) bool {
	if b.Platform != "" && b.Platform != platform {
		return false
	}
	if b.ChannelOrChatID != "" && b.ChannelOrChatID != channelOrChatID {
		return false
	}
	if b.SenderID != "" && b.SenderID != senderID {
		return false
	}
	return true
}
