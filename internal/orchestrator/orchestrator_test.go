package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"support-chatbot/internal/config"
	"support-chatbot/internal/db"
	"support-chatbot/internal/models"
	"support-chatbot/internal/session"
)

type fakeRetriever struct {
	result    models.RetrievalResult
	err       error
	lastQuery string
	lastTopK  int
	calls     int
}

func (f *fakeRetriever) Retrieve(ctx context.Context, query string, topK int) (models.RetrievalResult, error) {
	f.calls++
	f.lastQuery = query
	f.lastTopK = topK
	return f.result, f.err
}

func (f *fakeRetriever) FormatContext(results models.RetrievalResult) string {
	if results.Empty() {
		return ""
	}
	return strings.Join(results.Documents, models.ContextSeparator)
}

type fakeGenerator struct {
	label       string
	classifyErr error
	fragments   []string
	streamErr   error
	lastContext string
	lastQuery   string
	lastHistory []models.Message
}

func (f *fakeGenerator) Classify(ctx context.Context, text string) (string, error) {
	if f.classifyErr != nil {
		return "", f.classifyErr
	}
	return f.label, nil
}

func (f *fakeGenerator) GenerateStream(ctx context.Context, contextText, query string, history []models.Message) <-chan models.StreamToken {
	f.lastContext = contextText
	f.lastQuery = query
	f.lastHistory = history
	out := make(chan models.StreamToken)
	go func() {
		defer close(out)
		if f.streamErr != nil {
			out <- models.StreamToken{Err: f.streamErr}
			return
		}
		for _, frag := range f.fragments {
			out <- models.StreamToken{Content: frag}
		}
	}()
	return out
}

type fakeExtractor struct {
	imageText       string
	pageSummary     string
	err             error
	lastInstruction string
	lastPageText    string
}

func (f *fakeExtractor) ExtractImage(ctx context.Context, data []byte, mimeType, instruction string) (string, error) {
	f.lastInstruction = instruction
	if f.err != nil {
		return "", f.err
	}
	return f.imageText, nil
}

func (f *fakeExtractor) ExtractText(ctx context.Context, text, instruction string) (string, error) {
	f.lastInstruction = instruction
	f.lastPageText = text
	if f.err != nil {
		return "", f.err
	}
	return f.pageSummary, nil
}

type fakeRecorder struct {
	access    bool
	accessErr error
	saveErr   error
	saved     []*db.Conversation
}

func (f *fakeRecorder) SaveConversation(ctx context.Context, conv *db.Conversation) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saved = append(f.saved, conv)
	return nil
}

func (f *fakeRecorder) VerifyUserAccess(ctx context.Context, userID int64) (bool, error) {
	return f.access, f.accessErr
}

type fakeUploads struct {
	saved []models.Attachment
}

func (f *fakeUploads) SaveAll(atts []models.Attachment) []models.AttachmentMeta {
	f.saved = append(f.saved, atts...)
	metas := make([]models.AttachmentMeta, len(atts))
	for i, att := range atts {
		metas[i] = models.AttachmentMeta{Kind: "image", Path: "uploads/" + att.Name(), OriginalName: att.Name()}
	}
	return metas
}

type fixture struct {
	retriever *fakeRetriever
	generator *fakeGenerator
	extractor *fakeExtractor
	recorder  *fakeRecorder
	uploads   *fakeUploads
	orch      *Orchestrator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		retriever: &fakeRetriever{},
		generator: &fakeGenerator{label: models.TurnTechnical},
		extractor: &fakeExtractor{},
		recorder:  &fakeRecorder{access: true},
		uploads:   &fakeUploads{},
	}
	firstPage := func(att models.Attachment) (string, error) { return "first page text", nil }
	cfg := &config.RAGConfig{TopK: 3, AttachmentTopK: 5, HistoryWindow: 5}
	f.orch = New(f.retriever, f.generator, f.extractor, f.recorder, f.uploads, firstPage, cfg)
	return f
}

func collect(ch <-chan string) []string {
	var out []string
	for s := range ch {
		out = append(out, s)
	}
	return out
}

func final(outputs []string) string {
	if len(outputs) == 0 {
		return ""
	}
	return outputs[len(outputs)-1]
}

func passages(docs ...string) models.RetrievalResult {
	r := models.RetrievalResult{Documents: docs}
	for i := range docs {
		r.Metadatas = append(r.Metadatas, models.ChunkMetadata{Document: "guide", Section: "General"})
		r.Distances = append(r.Distances, float32(i)*0.1)
	}
	return r
}

func TestCasualTurnSkipsRetrieval(t *testing.T) {
	f := newFixture(t)
	f.generator.label = models.TurnCasual
	f.generator.fragments = []string{"Hi", " there!"}
	sess := session.New("")

	outputs := collect(f.orch.ProcessStream(context.Background(), "hello", nil, sess, 1))

	if got := final(outputs); got != "Hi there!" {
		t.Errorf("final = %q", got)
	}
	if f.retriever.calls != 0 {
		t.Error("casual turn must not hit the retriever")
	}
	if f.generator.lastContext != "" {
		t.Errorf("casual context = %q, want empty", f.generator.lastContext)
	}
	if len(f.recorder.saved) != 1 {
		t.Fatalf("saved %d conversations", len(f.recorder.saved))
	}
	conv := f.recorder.saved[0]
	if conv.Type != models.TurnCasual || conv.Message != "hello" || conv.Response != "Hi there!" {
		t.Errorf("record = %+v", conv)
	}
	if conv.ResponseTimeMs < 0 {
		t.Errorf("response time = %d", conv.ResponseTimeMs)
	}
}

func TestTechnicalTurnUsesRetrievedContext(t *testing.T) {
	f := newFixture(t)
	f.retriever.result = passages("exports live under Settings > Data")
	f.generator.fragments = []string{"Open ", "Settings > Data."}
	sess := session.New("")

	outputs := collect(f.orch.ProcessStream(context.Background(), "how do I export data?", nil, sess, 1))

	if got := final(outputs); got != "Open Settings > Data." {
		t.Errorf("final = %q", got)
	}
	if f.retriever.lastTopK != 3 {
		t.Errorf("topK = %d, want 3", f.retriever.lastTopK)
	}
	if !strings.Contains(f.generator.lastContext, "exports live under") {
		t.Errorf("context = %q", f.generator.lastContext)
	}
	if len(f.recorder.saved) != 1 || f.recorder.saved[0].Type != models.TurnTechnical {
		t.Fatalf("record = %+v", f.recorder.saved)
	}

	h := sess.History()
	if len(h) != 2 || h[0].Content != "how do I export data?" || h[1].Content != "Open Settings > Data." {
		t.Errorf("history = %+v", h)
	}
}

func TestStreamIsCumulative(t *testing.T) {
	f := newFixture(t)
	f.retriever.result = passages("doc")
	f.generator.fragments = []string{"a", "b", "c", "d"}
	sess := session.New("")

	outputs := collect(f.orch.ProcessStream(context.Background(), "question", nil, sess, 1))

	if len(outputs) != 4 {
		t.Fatalf("got %d frames", len(outputs))
	}
	for i := 1; i < len(outputs); i++ {
		if !strings.HasPrefix(outputs[i], outputs[i-1]) {
			t.Errorf("frame %d %q does not extend %q", i, outputs[i], outputs[i-1])
		}
	}
	if final(outputs) != f.recorder.saved[0].Response {
		t.Errorf("final frame %q != persisted response %q", final(outputs), f.recorder.saved[0].Response)
	}
}

func TestRetrievalMissAnswersWithFallback(t *testing.T) {
	f := newFixture(t)
	sess := session.New("")

	outputs := collect(f.orch.ProcessStream(context.Background(), "question about nothing indexed", nil, sess, 1))

	if got := final(outputs); got != models.ReplyNoContext {
		t.Errorf("final = %q", got)
	}
	if f.generator.lastQuery != "" {
		t.Error("generation must be skipped on a retrieval miss")
	}
	if len(f.recorder.saved) != 1 || f.recorder.saved[0].Response != models.ReplyNoContext {
		t.Errorf("record = %+v", f.recorder.saved)
	}
}

func TestClassificationErrorDefaultsToTechnical(t *testing.T) {
	f := newFixture(t)
	f.generator.classifyErr = errors.New("model unavailable")
	f.retriever.result = passages("doc")
	f.generator.fragments = []string{"answer"}
	sess := session.New("")

	collect(f.orch.ProcessStream(context.Background(), "question", nil, sess, 1))

	if f.retriever.calls != 1 {
		t.Error("technical path must run when classification fails")
	}
	if f.recorder.saved[0].Type != models.TurnTechnical {
		t.Errorf("type = %q", f.recorder.saved[0].Type)
	}
}

func TestFilesOnlyTurn(t *testing.T) {
	f := newFixture(t)
	f.extractor.imageText = "screenshot shows error 500"
	f.retriever.result = passages("error 500 means the export job crashed")
	f.generator.fragments = []string{"The export job crashed."}
	sess := session.New("")
	att := models.AttachmentFromBytes([]byte("png-bytes"), "shot.png")

	outputs := collect(f.orch.ProcessStream(context.Background(), "", []models.Attachment{att}, sess, 1))

	wantQuery := "Analyze this information and help me understand it: [File 1: shot.png]\nscreenshot shows error 500"
	if f.retriever.lastQuery != wantQuery {
		t.Errorf("retrieval query = %q\nwant %q", f.retriever.lastQuery, wantQuery)
	}
	if f.retriever.lastTopK != 5 {
		t.Errorf("topK = %d, want attachment fan-out 5", f.retriever.lastTopK)
	}
	if f.extractor.lastInstruction != "Extract all visible information from this image." {
		t.Errorf("instruction = %q", f.extractor.lastInstruction)
	}

	if got := final(outputs); got != "The export job crashed." {
		t.Errorf("final = %q", got)
	}

	h := sess.History()
	if len(h) != 2 || h[0].Content != "[1 FILE(S)] (No text provided)" {
		t.Errorf("history = %+v", h)
	}

	conv := f.recorder.saved[0]
	if conv.Type != models.TurnImageAnalysis {
		t.Errorf("type = %q", conv.Type)
	}
	if conv.Message != "[1 FILE(S)] (No text provided)" {
		t.Errorf("message = %q", conv.Message)
	}
	if conv.Attachments == nil || !strings.Contains(*conv.Attachments, "shot.png") {
		t.Errorf("attachments = %v", conv.Attachments)
	}
	if len(f.uploads.saved) != 1 {
		t.Errorf("uploads saved = %d", len(f.uploads.saved))
	}
}

func TestFilesWithTextTurn(t *testing.T) {
	f := newFixture(t)
	f.extractor.imageText = "a 403 on the login form"
	f.retriever.result = passages("403 means the token expired")
	f.generator.fragments = []string{"Your token expired."}
	sess := session.New("")
	att := models.AttachmentFromBytes([]byte("png-bytes"), "login.png")

	collect(f.orch.ProcessStream(context.Background(), "why can't I log in?", []models.Attachment{att}, sess, 1))

	wantQuery := "why can't I log in?\n\nFile content(s):\n[File 1: login.png]\na 403 on the login form"
	if f.retriever.lastQuery != wantQuery {
		t.Errorf("retrieval query = %q\nwant %q", f.retriever.lastQuery, wantQuery)
	}
	if f.extractor.lastInstruction != "Extract all visible information from this image related to: why can't I log in?." {
		t.Errorf("instruction = %q", f.extractor.lastInstruction)
	}

	conv := f.recorder.saved[0]
	if conv.Type != models.TurnTechnical {
		t.Errorf("file turn with text must record TECHNICAL, got %q", conv.Type)
	}
	if conv.Message != "[1 FILE(S) + TEXT] why can't I log in?" {
		t.Errorf("message = %q", conv.Message)
	}
}

func TestPDFAttachmentUsesFirstPage(t *testing.T) {
	f := newFixture(t)
	f.extractor.pageSummary = "invoice for March"
	f.retriever.result = passages("billing doc")
	f.generator.fragments = []string{"answer"}
	sess := session.New("")
	att := models.AttachmentFromBytes([]byte("%PDF-1.4"), "invoice.pdf")

	collect(f.orch.ProcessStream(context.Background(), "", []models.Attachment{att}, sess, 1))

	if f.extractor.lastPageText != "first page text" {
		t.Errorf("extractor received %q", f.extractor.lastPageText)
	}
	if !strings.Contains(f.retriever.lastQuery, "[File 1: invoice.pdf]\ninvoice for March") {
		t.Errorf("retrieval query = %q", f.retriever.lastQuery)
	}
}

func TestTextAttachmentAbsorbedIntoMessage(t *testing.T) {
	f := newFixture(t)
	f.retriever.result = passages("doc")
	f.generator.fragments = []string{"answer"}
	sess := session.New("")
	att := models.AttachmentFromBytes([]byte("stack trace: nil pointer in exporter"), "crash.txt")

	collect(f.orch.ProcessStream(context.Background(), "fix this", []models.Attachment{att}, sess, 1))

	want := "fix this\n\nstack trace: nil pointer in exporter"
	if f.retriever.lastQuery != want {
		t.Errorf("retrieval query = %q\nwant %q", f.retriever.lastQuery, want)
	}
	if f.retriever.lastTopK != 3 {
		t.Errorf("text-only path must use the default fan-out, got %d", f.retriever.lastTopK)
	}
	if len(f.uploads.saved) != 0 {
		t.Error("absorbed text attachments must not reach uploads")
	}
	if f.recorder.saved[0].Message != want {
		t.Errorf("record message = %q", f.recorder.saved[0].Message)
	}
}

func TestUnsupportedAttachmentRejected(t *testing.T) {
	f := newFixture(t)
	sess := session.New("")
	att := models.AttachmentFromBytes([]byte("MZ"), "tool.exe")

	outputs := collect(f.orch.ProcessStream(context.Background(), "", []models.Attachment{att}, sess, 1))

	want := "Unsupported file type: .exe. Supported: images (jpg, png, gif, webp) and PDF."
	if got := final(outputs); got != want {
		t.Errorf("final = %q", got)
	}
	if len(f.recorder.saved) != 0 {
		t.Error("rejected turn must not be persisted")
	}
	if len(sess.History()) != 0 {
		t.Error("rejected turn must not touch the session")
	}
}

func TestExtractionFailureAborts(t *testing.T) {
	f := newFixture(t)
	f.extractor.err = errors.New("vision endpoint down")
	sess := session.New("")
	att := models.AttachmentFromBytes([]byte("png-bytes"), "shot.png")

	outputs := collect(f.orch.ProcessStream(context.Background(), "", []models.Attachment{att}, sess, 1))

	if got := final(outputs); !strings.HasPrefix(got, "Error analyzing shot.png:") {
		t.Errorf("final = %q", got)
	}
	if len(f.recorder.saved) != 0 {
		t.Error("failed turn must not be persisted")
	}
}

func TestVisionNotConfigured(t *testing.T) {
	f := newFixture(t)
	cfg := &config.RAGConfig{TopK: 3, AttachmentTopK: 5}
	orch := New(f.retriever, f.generator, nil, f.recorder, f.uploads, nil, cfg)
	sess := session.New("")
	att := models.AttachmentFromBytes([]byte("png-bytes"), "shot.png")

	outputs := collect(orch.ProcessStream(context.Background(), "", []models.Attachment{att}, sess, 1))

	if got := final(outputs); got != models.ReplyVisionNotConfigured {
		t.Errorf("final = %q", got)
	}
}

func TestAccessDenied(t *testing.T) {
	f := newFixture(t)
	f.recorder.access = false
	sess := session.New("")

	outputs := collect(f.orch.ProcessStream(context.Background(), "hello", nil, sess, 1))

	if got := final(outputs); got != models.ReplyAccessDenied {
		t.Errorf("final = %q", got)
	}
	if len(f.recorder.saved) != 0 {
		t.Error("denied turn must not be persisted")
	}
}

func TestAccessCheckError(t *testing.T) {
	f := newFixture(t)
	f.recorder.accessErr = errors.New("db down")
	sess := session.New("")

	outputs := collect(f.orch.ProcessStream(context.Background(), "hello", nil, sess, 1))

	if got := final(outputs); !strings.HasPrefix(got, "Error: could not verify account access") {
		t.Errorf("final = %q", got)
	}
}

func TestEmptyInput(t *testing.T) {
	f := newFixture(t)
	sess := session.New("")

	outputs := collect(f.orch.ProcessStream(context.Background(), "   ", nil, sess, 1))

	if got := final(outputs); got != models.ReplyEmptyInput {
		t.Errorf("final = %q", got)
	}
	if len(f.recorder.saved) != 0 {
		t.Error("empty turn must not be persisted")
	}
}

func TestGenerationErrorSurfacesAsMessage(t *testing.T) {
	f := newFixture(t)
	f.retriever.result = passages("doc")
	f.generator.streamErr = errors.New("model timeout")
	sess := session.New("")

	outputs := collect(f.orch.ProcessStream(context.Background(), "question", nil, sess, 1))

	if got := final(outputs); got != "Error: could not generate a response. Please try again." {
		t.Errorf("final = %q", got)
	}
	if len(f.recorder.saved) != 0 {
		t.Error("failed generation must not be persisted")
	}
	if len(sess.History()) != 0 {
		t.Error("failed generation must not touch the session")
	}
}

func TestRetrievalErrorSurfacesAsMessage(t *testing.T) {
	f := newFixture(t)
	f.retriever.err = errors.New("index corrupt")
	sess := session.New("")

	outputs := collect(f.orch.ProcessStream(context.Background(), "question", nil, sess, 1))

	if got := final(outputs); got != "Error: could not search the documentation. Please try again." {
		t.Errorf("final = %q", got)
	}
}

func TestSaveFailureStillAnswers(t *testing.T) {
	f := newFixture(t)
	f.retriever.result = passages("doc")
	f.generator.fragments = []string{"the answer"}
	f.recorder.saveErr = errors.New("insert failed")
	sess := session.New("")

	outputs := collect(f.orch.ProcessStream(context.Background(), "question", nil, sess, 1))

	if len(outputs) < 2 {
		t.Fatalf("got %d frames", len(outputs))
	}
	if outputs[len(outputs)-2] != "the answer" {
		t.Errorf("answer frame = %q", outputs[len(outputs)-2])
	}
	if got := final(outputs); got != "Error: your message was answered but could not be saved." {
		t.Errorf("final = %q", got)
	}
	if len(sess.History()) != 2 {
		t.Error("the answered turn must stay in the session")
	}
}

func TestMultipleFilesNumberedInOrder(t *testing.T) {
	f := newFixture(t)
	f.extractor.imageText = "details"
	f.retriever.result = passages("doc")
	f.generator.fragments = []string{"answer"}
	sess := session.New("")
	atts := []models.Attachment{
		models.AttachmentFromBytes([]byte("a"), "one.png"),
		models.AttachmentFromBytes([]byte("b"), "two.jpg"),
	}

	collect(f.orch.ProcessStream(context.Background(), "", atts, sess, 1))

	for i, name := range []string{"one.png", "two.jpg"} {
		header := fmt.Sprintf("[File %d: %s]", i+1, name)
		if !strings.Contains(f.retriever.lastQuery, header) {
			t.Errorf("query missing %q: %q", header, f.retriever.lastQuery)
		}
	}
	if sess.History()[0].Content != "[2 FILE(S)] (No text provided)" {
		t.Errorf("display message = %q", sess.History()[0].Content)
	}
}
