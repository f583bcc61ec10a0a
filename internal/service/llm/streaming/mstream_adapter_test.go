package streaming

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tidwall/gjson"

	llmModels "strand/internal/domain/models/llm"
	llmRepo "strand/internal/domain/repositories/llm"
	domainllm "strand/internal/domain/services/llm"
	"strand/internal/mstream"
	"strand/internal/service/llm/tools"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func strPtr(s string) *string { return &s }

// scriptedProvider plays back one pre-built event slice per StreamResponse
// call. With hold set, the last script's channel stays open so tests can
// cancel a stream mid-flight.
type scriptedProvider struct {
	mu       sync.Mutex
	scripts  [][]domainllm.StreamEvent
	requests []*domainllm.GenerateRequest
	hold     bool
	startErr error
}

func (p *scriptedProvider) StreamResponse(ctx context.Context, req *domainllm.GenerateRequest) (<-chan domainllm.StreamEvent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.startErr != nil {
		return nil, p.startErr
	}

	call := len(p.requests)
	p.requests = append(p.requests, req)

	var script []domainllm.StreamEvent
	if call < len(p.scripts) {
		script = p.scripts[call]
	}

	ch := make(chan domainllm.StreamEvent, len(script)+1)
	for _, ev := range script {
		ch <- ev
	}
	if !p.hold || call < len(p.scripts)-1 {
		close(ch)
	}
	return ch, nil
}

func (p *scriptedProvider) Name() string              { return "scripted" }
func (p *scriptedProvider) SupportsModel(string) bool { return true }

func (p *scriptedProvider) requestCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

func (p *scriptedProvider) request(i int) *domainllm.GenerateRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.requests[i]
}

type statusUpdate struct {
	status      string
	completedAt *time.Time
}

// fakeTurnStore records every write and serves reads from what was written,
// standing in for the postgres repositories.
type fakeTurnStore struct {
	llmRepo.TurnReader
	llmRepo.TurnNavigator

	mu       sync.Mutex
	turn     llmModels.Turn
	blocks   []llmModels.TurnBlock
	partials []llmModels.TurnBlock
	statuses []statusUpdate
	errs     []string
	metadata []map[string]interface{}
}

func newFakeTurnStore() *fakeTurnStore {
	model := "claude-haiku-4-5-20251001"
	return &fakeTurnStore{
		turn: llmModels.Turn{
			ID:     "turn-1",
			ChatID: "chat-1",
			Role:   "assistant",
			Status: "streaming",
			Model:  &model,
		},
	}
}

func (s *fakeTurnStore) CreateTurn(ctx context.Context, turn *llmModels.Turn) error { return nil }

func (s *fakeTurnStore) CreateTurnBlock(ctx context.Context, block *llmModels.TurnBlock) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocks = append(s.blocks, *block)
	return nil
}

func (s *fakeTurnStore) CreateTurnBlocks(ctx context.Context, blocks []llmModels.TurnBlock) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocks = append(s.blocks, blocks...)
	return nil
}

func (s *fakeTurnStore) UpdateTurnStatus(ctx context.Context, turnID, status string, completedAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses = append(s.statuses, statusUpdate{status: status, completedAt: completedAt})
	return nil
}

func (s *fakeTurnStore) UpdateTurnError(ctx context.Context, turnID, errorMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs = append(s.errs, errorMsg)
	return nil
}

func (s *fakeTurnStore) UpdateTurnMetadata(ctx context.Context, turnID string, metadata map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metadata = append(s.metadata, metadata)
	return nil
}

func (s *fakeTurnStore) UpsertPartialTextBlock(ctx context.Context, block *llmModels.TurnBlock) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.partials = append(s.partials, *block)
	return nil
}

func (s *fakeTurnStore) GetTurn(ctx context.Context, turnID string) (*llmModels.Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	turn := s.turn
	turn.ID = turnID
	return &turn, nil
}

// GetTurnBlocks returns content map copies, like a JSONB round trip would.
func (s *fakeTurnStore) GetTurnBlocks(ctx context.Context, turnID string) ([]llmModels.TurnBlock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	blocks := make([]llmModels.TurnBlock, len(s.blocks))
	copy(blocks, s.blocks)
	for i := range blocks {
		if blocks[i].Content == nil {
			continue
		}
		content := make(map[string]interface{}, len(blocks[i].Content))
		for k, v := range blocks[i].Content {
			content[k] = v
		}
		blocks[i].Content = content
	}
	sort.Slice(blocks, func(i, j int) bool { return blocks[i].Sequence < blocks[j].Sequence })
	return blocks, nil
}

func (s *fakeTurnStore) GetTurnPath(ctx context.Context, turnID string) ([]llmModels.Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	turn := s.turn
	turn.ID = turnID
	return []llmModels.Turn{turn}, nil
}

func (s *fakeTurnStore) persistedBlocks() []llmModels.TurnBlock {
	s.mu.Lock()
	defer s.mu.Unlock()
	blocks := make([]llmModels.TurnBlock, len(s.blocks))
	copy(blocks, s.blocks)
	return blocks
}

func (s *fakeTurnStore) statusLog() []statusUpdate {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]statusUpdate(nil), s.statuses...)
}

func (s *fakeTurnStore) errorLog() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.errs...)
}

func (s *fakeTurnStore) partialBlocks() []llmModels.TurnBlock {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]llmModels.TurnBlock(nil), s.partials...)
}

func (s *fakeTurnStore) metadataLog() []map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]map[string]interface{}(nil), s.metadata...)
}

// fakeMessageBuilder mirrors the real builder's shape: one message per
// non-empty turn, blocks carried as-is.
type fakeMessageBuilder struct {
	mu    sync.Mutex
	calls int
}

func (b *fakeMessageBuilder) BuildMessages(ctx context.Context, path []llmModels.Turn) ([]llmModels.Message, error) {
	b.mu.Lock()
	b.calls++
	b.mu.Unlock()

	var messages []llmModels.Message
	for i := range path {
		if len(path[i].Blocks) == 0 {
			continue
		}
		content := make([]*llmModels.TurnBlock, len(path[i].Blocks))
		for j := range path[i].Blocks {
			content[j] = &path[i].Blocks[j]
		}
		messages = append(messages, llmModels.Message{Role: path[i].Role, Content: content})
	}
	return messages, nil
}

func (b *fakeMessageBuilder) callCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

// countingTool records invocations without doing anything.
type countingTool struct {
	calls atomic.Int32
}

func (c *countingTool) Execute(ctx context.Context, input map[string]interface{}) (interface{}, error) {
	c.calls.Add(1)
	return map[string]interface{}{"ok": true}, nil
}

func newTestExecutor(store *fakeTurnStore, provider *scriptedProvider, registry *tools.ToolRegistry, builder domainllm.MessageBuilder, maxToolRounds int) *StreamExecutor {
	return NewStreamExecutor(
		"turn-1",
		"claude-haiku-4-5-20251001",
		store, store, store,
		provider,
		registry,
		builder,
		testLogger(),
		maxToolRounds,
		false,
	)
}

func testGenerateRequest() *domainllm.GenerateRequest {
	text := "hello"
	return &domainllm.GenerateRequest{
		Messages: []llmModels.Message{{
			Role: "user",
			Content: []*llmModels.TurnBlock{{
				BlockType:   llmModels.BlockTypeText,
				TextContent: &text,
			}},
		}},
		Model:  "claude-haiku-4-5-20251001",
		Params: &llmModels.RequestParams{},
	}
}

// Script event constructors

func startDelta(index int, blockType string) domainllm.StreamEvent {
	bt := blockType
	return domainllm.StreamEvent{Delta: &llmModels.TurnBlockDelta{
		BlockIndex: index,
		BlockType:  &bt,
	}}
}

func textDelta(index int, text string) domainllm.StreamEvent {
	return domainllm.StreamEvent{Delta: &llmModels.TurnBlockDelta{
		BlockIndex: index,
		DeltaType:  llmModels.DeltaTypeText,
		TextDelta:  &text,
	}}
}

func thinkingDelta(index int, text string) domainllm.StreamEvent {
	return domainllm.StreamEvent{Delta: &llmModels.TurnBlockDelta{
		BlockIndex: index,
		DeltaType:  llmModels.DeltaTypeThinking,
		TextDelta:  &text,
	}}
}

func signatureDelta(index int, sig string) domainllm.StreamEvent {
	return domainllm.StreamEvent{Delta: &llmModels.TurnBlockDelta{
		BlockIndex:     index,
		DeltaType:      llmModels.DeltaTypeSignature,
		SignatureDelta: &sig,
	}}
}

func jsonDelta(index int, fragment string) domainllm.StreamEvent {
	return domainllm.StreamEvent{Delta: &llmModels.TurnBlockDelta{
		BlockIndex: index,
		DeltaType:  llmModels.DeltaTypeInputJSON,
		JSONDelta:  &fragment,
	}}
}

func completeTextBlock(index int, text string) domainllm.StreamEvent {
	return domainllm.StreamEvent{Block: &llmModels.TurnBlock{
		BlockType:   llmModels.BlockTypeText,
		Sequence:    index,
		TextContent: &text,
		Status:      llmModels.BlockStatusComplete,
	}}
}

func completeToolUseBlock(index int, toolUseID, toolName string, input map[string]interface{}) domainllm.StreamEvent {
	return domainllm.StreamEvent{Block: &llmModels.TurnBlock{
		BlockType: llmModels.BlockTypeToolUse,
		Sequence:  index,
		Status:    llmModels.BlockStatusComplete,
		Content: map[string]interface{}{
			"tool_use_id":    toolUseID,
			"tool_name":      toolName,
			"input":          input,
			"execution_side": llmModels.ExecutionSideBackend,
		},
	}}
}

func metadataEvent(stopReason string, inputTokens, outputTokens int) domainllm.StreamEvent {
	return domainllm.StreamEvent{Metadata: &domainllm.StreamMetadata{
		StopReason:   stopReason,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
	}}
}

// runExecutor subscribes a collector, starts the executor, and returns all
// live events once the stream has finished.
func runExecutor(t *testing.T, se *StreamExecutor, req *domainllm.GenerateRequest) []mstream.Event {
	t.Helper()

	_, live, err := se.GetStream().Subscribe(context.Background(), "collector", "")
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	var events []mstream.Event
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for ev := range live {
			events = append(events, ev)
		}
	}()

	se.Start(req)

	select {
	case <-se.GetStream().Done():
	case <-time.After(5 * time.Second):
		t.Fatal("stream did not finish in time")
	}
	<-drained

	return events
}

func eventsOfType(events []mstream.Event, eventType string) []mstream.Event {
	var out []mstream.Event
	for _, ev := range events {
		if ev.Type == eventType {
			out = append(out, ev)
		}
	}
	return out
}

func TestStreamExecutor_TextTurn(t *testing.T) {
	store := newFakeTurnStore()
	provider := &scriptedProvider{scripts: [][]domainllm.StreamEvent{{
		startDelta(0, llmModels.BlockTypeText),
		textDelta(0, "Hel"),
		textDelta(0, "lo"),
		completeTextBlock(0, "Hello"),
		metadataEvent("end_turn", 12, 34),
	}}}

	se := newTestExecutor(store, provider, tools.NewBuiltinRegistry(), &fakeMessageBuilder{}, 5)
	events := runExecutor(t, se, testGenerateRequest())

	wantTypes := []string{
		llmModels.SSEEventBlockStart,
		llmModels.SSEEventBlockDelta,
		llmModels.SSEEventBlockDelta,
		llmModels.SSEEventBlockStop,
		llmModels.SSEEventTurnComplete,
	}
	if len(events) != len(wantTypes) {
		t.Fatalf("got %d events, want %d", len(events), len(wantTypes))
	}
	for i, want := range wantTypes {
		if events[i].Type != want {
			t.Errorf("events[%d].Type = %q, want %q", i, events[i].Type, want)
		}
	}

	if got := gjson.GetBytes(events[0].Data, "block_type").String(); got != "text" {
		t.Errorf("block_start block_type = %q, want %q", got, "text")
	}
	if got := gjson.GetBytes(events[1].Data, "text_delta").String(); got != "Hel" {
		t.Errorf("first delta text = %q, want %q", got, "Hel")
	}
	if got := gjson.GetBytes(events[1].Data, "delta_type").String(); got != llmModels.SSEDeltaTypeText {
		t.Errorf("delta_type = %q, want %q", got, llmModels.SSEDeltaTypeText)
	}

	complete := events[len(events)-1]
	if got := gjson.GetBytes(complete.Data, "stop_reason").String(); got != "end_turn" {
		t.Errorf("stop_reason = %q, want %q", got, "end_turn")
	}
	if got := gjson.GetBytes(complete.Data, "input_tokens").Int(); got != 12 {
		t.Errorf("input_tokens = %d, want 12", got)
	}

	blocks := store.persistedBlocks()
	if len(blocks) != 1 {
		t.Fatalf("persisted %d blocks, want 1", len(blocks))
	}
	if blocks[0].Sequence != 0 || blocks[0].TurnID != "turn-1" {
		t.Errorf("block = {seq:%d turn:%q}, want {seq:0 turn:%q}", blocks[0].Sequence, blocks[0].TurnID, "turn-1")
	}

	statuses := store.statusLog()
	if len(statuses) != 2 {
		t.Fatalf("got %d status updates, want 2: %v", len(statuses), statuses)
	}
	if statuses[0].status != "streaming" || statuses[0].completedAt != nil {
		t.Errorf("first status = %+v, want streaming with nil completedAt", statuses[0])
	}
	if statuses[1].status != "complete" || statuses[1].completedAt == nil {
		t.Errorf("final status = %+v, want complete with completedAt set", statuses[1])
	}

	// Provider omitted the model; the request model is the fallback
	meta := store.metadataLog()
	if len(meta) != 1 {
		t.Fatalf("got %d metadata updates, want 1", len(meta))
	}
	if meta[0]["model"] != "claude-haiku-4-5-20251001" {
		t.Errorf("metadata model = %v, want request model fallback", meta[0]["model"])
	}
}

func TestStreamExecutor_ThinkingDeltasMapToWireTypes(t *testing.T) {
	store := newFakeTurnStore()
	provider := &scriptedProvider{scripts: [][]domainllm.StreamEvent{{
		startDelta(0, llmModels.BlockTypeThinking),
		thinkingDelta(0, "Considering..."),
		signatureDelta(0, "sig=="),
		domainllm.StreamEvent{Block: &llmModels.TurnBlock{
			BlockType:   llmModels.BlockTypeThinking,
			Sequence:    0,
			TextContent: strPtr("Considering..."),
			Content:     map[string]interface{}{"signature": "sig=="},
			Status:      llmModels.BlockStatusComplete,
		}},
		startDelta(1, llmModels.BlockTypeText),
		textDelta(1, "Answer"),
		completeTextBlock(1, "Answer"),
		metadataEvent("end_turn", 5, 9),
	}}}

	se := newTestExecutor(store, provider, tools.NewBuiltinRegistry(), &fakeMessageBuilder{}, 5)
	events := runExecutor(t, se, testGenerateRequest())

	deltas := eventsOfType(events, llmModels.SSEEventBlockDelta)
	// thinking text, signature, complete-content json, then the answer text
	if len(deltas) != 4 {
		t.Fatalf("got %d block_delta events, want 4", len(deltas))
	}

	if got := gjson.GetBytes(deltas[0].Data, "delta_type").String(); got != llmModels.SSEDeltaTypeText {
		t.Errorf("thinking delta_type = %q, want %q", got, llmModels.SSEDeltaTypeText)
	}
	if got := gjson.GetBytes(deltas[1].Data, "delta_type").String(); got != llmModels.SSEDeltaTypeSignature {
		t.Errorf("signature delta_type = %q, want %q", got, llmModels.SSEDeltaTypeSignature)
	}
	if got := gjson.GetBytes(deltas[2].Data, "delta_type").String(); got != llmModels.SSEDeltaTypeJSON {
		t.Errorf("content delta_type = %q, want %q", got, llmModels.SSEDeltaTypeJSON)
	}
	if got := gjson.GetBytes(deltas[2].Data, "json_delta").String(); !gjson.Get(got, "signature").Exists() {
		t.Errorf("thinking content delta = %q, want embedded signature JSON", got)
	}
}

func TestStreamExecutor_ToolRound(t *testing.T) {
	store := newFakeTurnStore()
	provider := &scriptedProvider{scripts: [][]domainllm.StreamEvent{
		{
			startDelta(0, llmModels.BlockTypeToolUse),
			jsonDelta(0, `{"te`),
			jsonDelta(0, `xt":"hi"}`),
			completeToolUseBlock(0, "toolu_01", "echo", map[string]interface{}{"text": "hi"}),
			metadataEvent("tool_use", 10, 20),
		},
		{
			startDelta(0, llmModels.BlockTypeText),
			textDelta(0, "Echoed."),
			completeTextBlock(0, "Echoed."),
			metadataEvent("end_turn", 30, 40),
		},
	}}

	builder := &fakeMessageBuilder{}
	se := newTestExecutor(store, provider, tools.NewBuiltinRegistry(), builder, 5)
	events := runExecutor(t, se, testGenerateRequest())

	if got := provider.requestCount(); got != 2 {
		t.Fatalf("provider calls = %d, want 2", got)
	}
	if got := builder.callCount(); got != 1 {
		t.Errorf("builder calls = %d, want 1", got)
	}

	// Persisted sequences are contiguous across the two streams
	blocks := store.persistedBlocks()
	if len(blocks) != 3 {
		t.Fatalf("persisted %d blocks, want 3", len(blocks))
	}
	wantBlocks := []struct {
		seq       int
		blockType string
	}{
		{0, llmModels.BlockTypeToolUse},
		{1, llmModels.BlockTypeToolResult},
		{2, llmModels.BlockTypeText},
	}
	for i, want := range wantBlocks {
		if blocks[i].Sequence != want.seq || blocks[i].BlockType != want.blockType {
			t.Errorf("blocks[%d] = {%d %s}, want {%d %s}",
				i, blocks[i].Sequence, blocks[i].BlockType, want.seq, want.blockType)
		}
	}

	result := blocks[1].Content
	if result["tool_use_id"] != "toolu_01" || result["tool_name"] != "echo" {
		t.Errorf("tool_result identity = %v/%v, want toolu_01/echo", result["tool_use_id"], result["tool_name"])
	}
	if result["is_error"] != false {
		t.Errorf("tool_result is_error = %v, want false", result["is_error"])
	}
	echoed, ok := result["result"].(map[string]interface{})
	if !ok || echoed["text"] != "hi" {
		t.Errorf("tool_result result = %v, want echoed text %q", result["result"], "hi")
	}

	// Partial JSON fragments never reach clients; the single json delta for
	// block 0 carries the complete persisted content
	var jsonDeltas []gjson.Result
	for _, ev := range eventsOfType(events, llmModels.SSEEventBlockDelta) {
		if gjson.GetBytes(ev.Data, "delta_type").String() == llmModels.SSEDeltaTypeJSON &&
			gjson.GetBytes(ev.Data, "block_index").Int() == 0 {
			jsonDeltas = append(jsonDeltas, gjson.GetBytes(ev.Data, "json_delta"))
		}
	}
	if len(jsonDeltas) != 1 {
		t.Fatalf("got %d json deltas for block 0, want 1", len(jsonDeltas))
	}
	wantContent, err := json.Marshal(blocks[0].Content)
	if err != nil {
		t.Fatal(err)
	}
	var got, want interface{}
	if err := json.Unmarshal([]byte(jsonDeltas[0].String()), &got); err != nil {
		t.Fatalf("json delta is not valid JSON: %v", err)
	}
	if err := json.Unmarshal(wantContent, &want); err != nil {
		t.Fatal(err)
	}
	gotJSON, _ := json.Marshal(got)
	wantJSON, _ := json.Marshal(want)
	if string(gotJSON) != string(wantJSON) {
		t.Errorf("json delta = %s, want persisted content %s", gotJSON, wantJSON)
	}

	// The tool_result streams as its own block triplet at index 1, and the
	// continuation's text block lands at index 2
	starts := eventsOfType(events, llmModels.SSEEventBlockStart)
	var startIndices []int64
	for _, ev := range starts {
		startIndices = append(startIndices, gjson.GetBytes(ev.Data, "block_index").Int())
	}
	if len(startIndices) != 3 || startIndices[0] != 0 || startIndices[1] != 1 || startIndices[2] != 2 {
		t.Errorf("block_start indices = %v, want [0 1 2]", startIndices)
	}

	// One turn_complete, and the turn only reaches "complete" once at the end
	completes := eventsOfType(events, llmModels.SSEEventTurnComplete)
	if len(completes) != 1 {
		t.Fatalf("got %d turn_complete events, want 1", len(completes))
	}
	statuses := store.statusLog()
	if len(statuses) != 2 || statuses[1].status != "complete" {
		t.Errorf("status log = %+v, want [streaming complete]", statuses)
	}

	// Continuation request carries the tool_use and tool_result history
	contReq := provider.request(1)
	if len(contReq.Messages) == 0 {
		t.Fatal("continuation request has no messages")
	}
	var blockTypes []string
	for _, block := range contReq.Messages[len(contReq.Messages)-1].Content {
		blockTypes = append(blockTypes, block.BlockType)
	}
	if len(blockTypes) != 2 || blockTypes[0] != llmModels.BlockTypeToolUse || blockTypes[1] != llmModels.BlockTypeToolResult {
		t.Errorf("continuation block types = %v, want [tool_use tool_result]", blockTypes)
	}
}

func TestStreamExecutor_ProviderError_PersistsPartialText(t *testing.T) {
	store := newFakeTurnStore()
	provider := &scriptedProvider{scripts: [][]domainllm.StreamEvent{{
		startDelta(0, llmModels.BlockTypeText),
		textDelta(0, "Hello "),
		textDelta(0, "wor"),
		{Error: errors.New("provider exploded")},
	}}}

	se := newTestExecutor(store, provider, tools.NewBuiltinRegistry(), &fakeMessageBuilder{}, 5)
	events := runExecutor(t, se, testGenerateRequest())

	partials := store.partialBlocks()
	if len(partials) != 1 {
		t.Fatalf("got %d partial blocks, want 1", len(partials))
	}
	if partials[0].Sequence != 0 {
		t.Errorf("partial sequence = %d, want 0", partials[0].Sequence)
	}
	if partials[0].Status != llmModels.BlockStatusPartial {
		t.Errorf("partial status = %q, want %q", partials[0].Status, llmModels.BlockStatusPartial)
	}
	if partials[0].TextContent == nil || *partials[0].TextContent != "Hello wor" {
		t.Errorf("partial text = %v, want accumulated %q", partials[0].TextContent, "Hello wor")
	}

	errs := store.errorLog()
	if len(errs) != 1 || !strings.Contains(errs[0], "provider exploded") {
		t.Errorf("error log = %v, want provider error recorded", errs)
	}

	last := events[len(events)-1]
	if last.Type != llmModels.SSEEventTurnError {
		t.Fatalf("last event type = %q, want turn_error", last.Type)
	}
	if gjson.GetBytes(last.Data, "is_cancelled").Bool() {
		t.Error("is_cancelled = true for a provider failure, want false")
	}
	if got := gjson.GetBytes(last.Data, "error").String(); !strings.Contains(got, "provider exploded") {
		t.Errorf("turn_error error = %q, want provider message", got)
	}

	// No completion on the error path
	for _, status := range store.statusLog() {
		if status.status == "complete" {
			t.Error("turn was marked complete after a provider error")
		}
	}
}

func TestStreamExecutor_Cancel_MarksCancelled(t *testing.T) {
	store := newFakeTurnStore()
	provider := &scriptedProvider{
		scripts: [][]domainllm.StreamEvent{{}},
		hold:    true,
	}

	se := newTestExecutor(store, provider, tools.NewBuiltinRegistry(), &fakeMessageBuilder{}, 5)

	_, live, err := se.GetStream().Subscribe(context.Background(), "collector", "")
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	var events []mstream.Event
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for ev := range live {
			events = append(events, ev)
		}
	}()

	se.Start(testGenerateRequest())

	// Wait for the work func to reach the streaming state before cancelling
	deadline := time.Now().Add(2 * time.Second)
	for len(store.statusLog()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("executor never updated the turn status")
		}
		time.Sleep(5 * time.Millisecond)
	}

	se.GetStream().Cancel()

	select {
	case <-se.GetStream().Done():
	case <-time.After(5 * time.Second):
		t.Fatal("stream did not finish after cancel")
	}
	<-drained

	if len(events) == 0 {
		t.Fatal("no events received")
	}
	last := events[len(events)-1]
	if last.Type != llmModels.SSEEventTurnError {
		t.Fatalf("last event type = %q, want turn_error", last.Type)
	}
	if !gjson.GetBytes(last.Data, "is_cancelled").Bool() {
		t.Error("is_cancelled = false for a cancelled stream, want true")
	}

	errs := store.errorLog()
	if len(errs) != 1 || !strings.Contains(errs[0], "streaming interrupted") {
		t.Errorf("error log = %v, want interruption recorded", errs)
	}
}

func TestStreamExecutor_HardLimit_FinalStreamCannotLoop(t *testing.T) {
	store := newFakeTurnStore()
	toolUseStream := func(id string) []domainllm.StreamEvent {
		return []domainllm.StreamEvent{
			startDelta(0, llmModels.BlockTypeToolUse),
			completeToolUseBlock(0, id, "echo", map[string]interface{}{"text": "go"}),
			metadataEvent("tool_use", 1, 2),
		}
	}
	// The model keeps asking for tools on every stream, including the final
	// limited one
	provider := &scriptedProvider{scripts: [][]domainllm.StreamEvent{
		toolUseStream("toolu_01"),
		toolUseStream("toolu_02"),
		toolUseStream("toolu_03"),
	}}

	se := newTestExecutor(store, provider, tools.NewBuiltinRegistry(), &fakeMessageBuilder{}, 1)
	req := testGenerateRequest()
	req.Params.Tools = []llmModels.ToolDefinition{{Name: "echo"}}
	events := runExecutor(t, se, req)

	// soft limit 1, hard limit 2: initial round, nudged round, limited round
	if got := provider.requestCount(); got != 3 {
		t.Fatalf("provider calls = %d, want 3", got)
	}

	// Round two carries the soft-limit nudge as the first message
	nudged := provider.request(1)
	first := nudged.Messages[0]
	if first.Role != "user" || len(first.Content) == 0 || first.Content[0].TextContent == nil {
		t.Fatalf("nudged request first message = %+v, want user text", first)
	}
	if !strings.Contains(*first.Content[0].TextContent, "recommended tool usage limit of 1 rounds") {
		t.Errorf("nudge text = %q, want soft limit notice", *first.Content[0].TextContent)
	}

	// The limited round rewrites the system prompt but keeps the tools array
	limited := provider.request(2)
	if limited.Params.System == nil || !strings.Contains(*limited.Params.System, "reached your tool usage limit") {
		t.Errorf("limited request system = %v, want limit instruction", limited.Params.System)
	}
	if len(limited.Params.Tools) != 1 {
		t.Errorf("limited request tools = %v, want original tools preserved", limited.Params.Tools)
	}

	// The newest tool_result in the limited request carries the in-memory
	// limit note
	var lastResult string
	for _, msg := range limited.Messages {
		for _, block := range msg.Content {
			if block.BlockType == llmModels.BlockTypeToolResult {
				lastResult, _ = block.Content["result"].(string)
			}
		}
	}
	if !strings.Contains(lastResult, "maximum tool rounds (2/1)") {
		t.Errorf("last tool_result = %q, want injected limit note", lastResult)
	}

	// The third stream's tool_use is persisted but never executed: no fourth
	// stream, no tool_result for toolu_03, and the turn completes
	blocks := store.persistedBlocks()
	var gotSeqs []int
	resultIDs := map[string]bool{}
	for _, block := range blocks {
		gotSeqs = append(gotSeqs, block.Sequence)
		if block.BlockType == llmModels.BlockTypeToolResult {
			id, _ := block.Content["tool_use_id"].(string)
			resultIDs[id] = true
		}
	}
	sort.Ints(gotSeqs)
	if len(gotSeqs) != 5 {
		t.Fatalf("persisted %d blocks, want 5 (use/result/use/result/use): %v", len(gotSeqs), gotSeqs)
	}
	for i, seq := range gotSeqs {
		if seq != i {
			t.Errorf("sequences = %v, want contiguous 0..4", gotSeqs)
			break
		}
	}
	if !resultIDs["toolu_01"] || !resultIDs["toolu_02"] {
		t.Errorf("tool results = %v, want results for toolu_01 and toolu_02", resultIDs)
	}
	if resultIDs["toolu_03"] {
		t.Error("tool_use from the limited stream was executed, want it ignored")
	}

	completes := eventsOfType(events, llmModels.SSEEventTurnComplete)
	if len(completes) != 1 {
		t.Fatalf("got %d turn_complete events, want 1", len(completes))
	}
	if got := gjson.GetBytes(completes[0].Data, "stop_reason").String(); got != "tool_use" {
		t.Errorf("stop_reason = %q, want %q", got, "tool_use")
	}

	statuses := store.statusLog()
	if statuses[len(statuses)-1].status != "complete" {
		t.Errorf("final status = %q, want complete", statuses[len(statuses)-1].status)
	}
}

func TestStreamExecutor_ZeroToolRounds_GracefulCompletion(t *testing.T) {
	store := newFakeTurnStore()
	provider := &scriptedProvider{scripts: [][]domainllm.StreamEvent{
		{
			startDelta(0, llmModels.BlockTypeToolUse),
			completeToolUseBlock(0, "toolu_01", "probe", map[string]interface{}{"q": "x"}),
			metadataEvent("tool_use", 1, 2),
		},
		{
			startDelta(0, llmModels.BlockTypeText),
			textDelta(0, "Cannot use tools."),
			completeTextBlock(0, "Cannot use tools."),
			metadataEvent("end_turn", 3, 4),
		},
	}}

	probe := &countingTool{}
	registry := tools.NewToolRegistry()
	registry.Register("probe", probe)

	se := newTestExecutor(store, provider, registry, &fakeMessageBuilder{}, 0)
	events := runExecutor(t, se, testGenerateRequest())

	// maxToolRounds 0 means the hard limit trips immediately: the tool is
	// never executed, its result is a synthetic error, and one final stream
	// wraps up
	if got := probe.calls.Load(); got != 0 {
		t.Errorf("tool executed %d times, want 0", got)
	}
	if got := provider.requestCount(); got != 2 {
		t.Fatalf("provider calls = %d, want 2", got)
	}

	blocks := store.persistedBlocks()
	if len(blocks) != 3 {
		t.Fatalf("persisted %d blocks, want 3", len(blocks))
	}
	errResult := blocks[1]
	if errResult.BlockType != llmModels.BlockTypeToolResult || errResult.Sequence != 1 {
		t.Fatalf("blocks[1] = {%s %d}, want tool_result at 1", errResult.BlockType, errResult.Sequence)
	}
	if errResult.Content["is_error"] != true {
		t.Errorf("synthetic result is_error = %v, want true", errResult.Content["is_error"])
	}
	errText, _ := errResult.Content["error"].(string)
	if !strings.Contains(errText, "Tool execution limit reached (0 rounds)") {
		t.Errorf("synthetic result error = %q, want limit message", errText)
	}

	final := provider.request(1)
	if final.Params.System == nil || !strings.Contains(*final.Params.System, "Do NOT format any tool calls") {
		t.Errorf("final request system = %v, want limit instruction", final.Params.System)
	}

	completes := eventsOfType(events, llmModels.SSEEventTurnComplete)
	if len(completes) != 1 {
		t.Fatalf("got %d turn_complete events, want 1", len(completes))
	}
	if got := gjson.GetBytes(completes[0].Data, "stop_reason").String(); got != "end_turn" {
		t.Errorf("stop_reason = %q, want %q", got, "end_turn")
	}
}

func TestStreamExecutor_ToolUseStopWithoutToolBlocks(t *testing.T) {
	store := newFakeTurnStore()
	provider := &scriptedProvider{scripts: [][]domainllm.StreamEvent{{
		startDelta(0, llmModels.BlockTypeText),
		textDelta(0, "Done."),
		completeTextBlock(0, "Done."),
		metadataEvent("tool_use", 7, 8),
	}}}

	se := newTestExecutor(store, provider, tools.NewBuiltinRegistry(), &fakeMessageBuilder{}, 5)
	events := runExecutor(t, se, testGenerateRequest())

	// stop_reason tool_use with no backend tool_use blocks still finalizes
	if got := provider.requestCount(); got != 1 {
		t.Fatalf("provider calls = %d, want 1", got)
	}
	completes := eventsOfType(events, llmModels.SSEEventTurnComplete)
	if len(completes) != 1 {
		t.Fatalf("got %d turn_complete events, want 1", len(completes))
	}
	if got := gjson.GetBytes(completes[0].Data, "stop_reason").String(); got != "tool_use" {
		t.Errorf("stop_reason = %q, want %q", got, "tool_use")
	}

	statuses := store.statusLog()
	if statuses[len(statuses)-1].status != "complete" {
		t.Errorf("final status = %q, want complete", statuses[len(statuses)-1].status)
	}
}

func TestStreamExecutor_StreamClosedWithoutMetadata(t *testing.T) {
	store := newFakeTurnStore()
	provider := &scriptedProvider{scripts: [][]domainllm.StreamEvent{{
		startDelta(0, llmModels.BlockTypeText),
		textDelta(0, "part"),
	}}}

	se := newTestExecutor(store, provider, tools.NewBuiltinRegistry(), &fakeMessageBuilder{}, 5)
	events := runExecutor(t, se, testGenerateRequest())

	last := events[len(events)-1]
	if last.Type != llmModels.SSEEventTurnError {
		t.Fatalf("last event type = %q, want turn_error", last.Type)
	}
	if got := gjson.GetBytes(last.Data, "error").String(); !strings.Contains(got, "stream closed without metadata") {
		t.Errorf("turn_error error = %q, want closed-without-metadata message", got)
	}

	// The interrupted text still survives as a partial block
	partials := store.partialBlocks()
	if len(partials) != 1 || partials[0].TextContent == nil || *partials[0].TextContent != "part" {
		t.Errorf("partials = %+v, want one with accumulated text", partials)
	}
}
