package agent

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/wabotdev/wabot/pkg/wabot/llm"
	"github.com/wabotdev/wabot/pkg/wabot/media"
	"github.com/wabotdev/wabot/pkg/wabot/message"
	"github.com/wabotdev/wabot/pkg/wabot/state"
)

type fakeCompleter struct {
	gotHistory []state.Turn
	gotOpts    llm.GenerateOptions
	result     *llm.Result
	err        error
}

func (f *fakeCompleter) Generate(_ context.Context, history []state.Turn, opts llm.GenerateOptions) (*llm.Result, error) {
	f.gotHistory = history
	f.gotOpts = opts
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type fakeTransport struct {
	sentTexts   []string
	sentQuotes  []*message.Envelope
	mediaData   []byte
	mediaMime   string
	downloadErr error
}

func (f *fakeTransport) Name() string                  { return "fake" }
func (f *fakeTransport) Connect(context.Context) error { return nil }
func (f *fakeTransport) Disconnect() error             { return nil }
func (f *fakeTransport) IsConnected() bool             { return true }

func (f *fakeTransport) SendText(_ context.Context, _, text string, quote *message.Envelope) error {
	f.sentTexts = append(f.sentTexts, text)
	f.sentQuotes = append(f.sentQuotes, quote)
	return nil
}

func (f *fakeTransport) SendSticker(context.Context, string, []byte, *message.Envelope) error {
	return nil
}

func (f *fakeTransport) React(context.Context, *message.Envelope, string) error { return nil }
func (f *fakeTransport) MarkRead(context.Context, *message.Envelope) error      { return nil }

func (f *fakeTransport) DownloadMedia(context.Context, *message.Envelope) ([]byte, string, error) {
	if f.downloadErr != nil {
		return nil, "", f.downloadErr
	}
	return f.mediaData, f.mediaMime, nil
}

type fakeMediaStore struct {
	saved []media.SaveRequest
}

func (f *fakeMediaStore) Save(_ context.Context, req media.SaveRequest) (*media.StoredMedia, error) {
	f.saved = append(f.saved, req)
	return &media.StoredMedia{ID: "media-1"}, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, nil))
}

func textResult(text string) *llm.Result {
	return &llm.Result{
		Text:     text,
		Messages: []state.Turn{state.TextTurn(state.RoleAssistant, text)},
	}
}

func testEnvelope(body string) *message.Envelope {
	return &message.Envelope{
		ID:         "MSG1",
		SenderID:   "628111111111",
		SenderJID:  "628111111111@s.whatsapp.net",
		SenderName: "Alice",
		ChatJID:    "628111111111@s.whatsapp.net",
		Origin:     message.OriginPrivate,
		Body:       body,
		Timestamp:  time.Now(),
	}
}

func newAgent(store state.Store, c Completer, tr *fakeTransport, ms MediaStore) *Agent {
	return New(Config{Enabled: true}, store, c, tr, ms, nil, testLogger())
}

func TestHandleTurn(t *testing.T) {
	ctx := context.Background()

	t.Run("fresh user gets state and reply", func(t *testing.T) {
		store := state.NewMemoryStore(time.Hour, testLogger())
		completer := &fakeCompleter{result: textResult("hi Alice")}
		tr := &fakeTransport{}

		if err := newAgent(store, completer, tr, nil).HandleTurn(ctx, testEnvelope("hello")); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if len(tr.sentTexts) != 1 || tr.sentTexts[0] != "hi Alice" {
			t.Errorf("unexpected reply: %v", tr.sentTexts)
		}
		if tr.sentQuotes[0] != nil {
			t.Error("expected no quote in private chat")
		}

		st, err := store.Get(ctx, "628111111111")
		if err != nil {
			t.Fatal(err)
		}
		if st == nil {
			t.Fatal("expected state to be created")
		}
		if st.DisplayName != "Alice" {
			t.Errorf("expected display name, got %q", st.DisplayName)
		}
		if len(st.History) != 2 {
			t.Fatalf("expected user + assistant turns, got %d", len(st.History))
		}
		if st.History[0].Role != state.RoleUser || st.History[0].TextContent() != "hello" {
			t.Errorf("unexpected first turn: %+v", st.History[0])
		}
		if st.History[1].Role != state.RoleAssistant {
			t.Errorf("unexpected second turn: %+v", st.History[1])
		}
	})

	t.Run("existing history reaches the model and grows", func(t *testing.T) {
		store := state.NewMemoryStore(time.Hour, testLogger())
		prior := &state.ChatState{
			UserID:    "628111111111",
			CreatedAt: time.Now(),
			History: []state.Turn{
				state.TextTurn(state.RoleUser, "first"),
				state.TextTurn(state.RoleAssistant, "reply one"),
			},
		}
		if err := store.CreateOrReplace(ctx, prior); err != nil {
			t.Fatal(err)
		}

		completer := &fakeCompleter{result: textResult("reply two")}
		tr := &fakeTransport{}
		if err := newAgent(store, completer, tr, nil).HandleTurn(ctx, testEnvelope("second")); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if len(completer.gotHistory) != 3 {
			t.Fatalf("expected 3 turns sent to model, got %d", len(completer.gotHistory))
		}
		if completer.gotHistory[2].TextContent() != "second" {
			t.Errorf("expected new turn last, got %+v", completer.gotHistory[2])
		}

		st, _ := store.Get(ctx, "628111111111")
		if len(st.History) != 4 {
			t.Errorf("expected history to grow to 4, got %d", len(st.History))
		}
	})

	t.Run("provider failure persists nothing and notifies", func(t *testing.T) {
		store := state.NewMemoryStore(time.Hour, testLogger())
		completer := &fakeCompleter{err: fmt.Errorf("model unavailable")}
		tr := &fakeTransport{}

		err := newAgent(store, completer, tr, nil).HandleTurn(ctx, testEnvelope("hello"))
		if err == nil {
			t.Fatal("expected error")
		}

		st, _ := store.Get(ctx, "628111111111")
		if st != nil {
			t.Errorf("expected no state persisted, got %+v", st)
		}
		if len(tr.sentTexts) != 1 || !strings.Contains(tr.sentTexts[0], "trouble") {
			t.Errorf("expected failure notice, got %v", tr.sentTexts)
		}
	})

	t.Run("image message carries an image part and is archived", func(t *testing.T) {
		store := state.NewMemoryStore(time.Hour, testLogger())
		completer := &fakeCompleter{result: textResult("nice picture")}
		tr := &fakeTransport{mediaData: []byte("jpegbytes"), mediaMime: "image/jpeg"}
		ms := &fakeMediaStore{}

		env := testEnvelope("what is this?")
		env.Media = &message.MediaRef{Kind: message.MediaImage, MimeType: "image/jpeg"}

		if err := newAgent(store, completer, tr, ms).HandleTurn(ctx, env); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		userTurn := completer.gotHistory[len(completer.gotHistory)-1]
		var imagePart *state.Part
		for i := range userTurn.Parts {
			if userTurn.Parts[i].Type == state.PartImage {
				imagePart = &userTurn.Parts[i]
			}
		}
		if imagePart == nil {
			t.Fatalf("expected image part, got %+v", userTurn.Parts)
		}
		if imagePart.Data != base64.StdEncoding.EncodeToString([]byte("jpegbytes")) {
			t.Errorf("unexpected image data: %q", imagePart.Data)
		}
		if userTurn.TextContent() != "what is this?" {
			t.Errorf("expected caption kept as text, got %q", userTurn.TextContent())
		}

		if len(ms.saved) != 1 || ms.saved[0].MimeType != "image/jpeg" {
			t.Errorf("expected media archived, got %+v", ms.saved)
		}
	})

	t.Run("media download failure degrades to text", func(t *testing.T) {
		store := state.NewMemoryStore(time.Hour, testLogger())
		completer := &fakeCompleter{result: textResult("ok")}
		tr := &fakeTransport{downloadErr: fmt.Errorf("gone")}

		env := testEnvelope("caption")
		env.Media = &message.MediaRef{Kind: message.MediaImage, MimeType: "image/jpeg"}

		if err := newAgent(store, completer, tr, nil).HandleTurn(ctx, env); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		userTurn := completer.gotHistory[len(completer.gotHistory)-1]
		for _, p := range userTurn.Parts {
			if p.Type == state.PartImage {
				t.Errorf("expected no image part after failed download")
			}
		}
		if userTurn.TextContent() != "caption" {
			t.Errorf("expected caption kept, got %q", userTurn.TextContent())
		}
	})

	t.Run("group reply quotes the trigger", func(t *testing.T) {
		store := state.NewMemoryStore(time.Hour, testLogger())
		completer := &fakeCompleter{result: textResult("answered")}
		tr := &fakeTransport{}

		env := testEnvelope("question")
		env.Origin = message.OriginGroup
		env.ChatJID = "120363041234567890@g.us"

		if err := newAgent(store, completer, tr, nil).HandleTurn(ctx, env); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if tr.sentQuotes[0] != env {
			t.Error("expected group reply to quote the trigger")
		}
	})

	t.Run("quoted text is folded into the user turn", func(t *testing.T) {
		store := state.NewMemoryStore(time.Hour, testLogger())
		completer := &fakeCompleter{result: textResult("ok")}
		tr := &fakeTransport{}

		env := testEnvelope("what does it mean?")
		env.Quoted = &message.Quoted{Text: "original statement", SenderID: "628222222222"}

		if err := newAgent(store, completer, tr, nil).HandleTurn(ctx, env); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		userTurn := completer.gotHistory[len(completer.gotHistory)-1]
		text := userTurn.TextContent()
		if !strings.Contains(text, "original statement") || !strings.Contains(text, "what does it mean?") {
			t.Errorf("expected quote folded into turn, got %q", text)
		}
	})

	t.Run("default system prompt reaches the model", func(t *testing.T) {
		store := state.NewMemoryStore(time.Hour, testLogger())
		completer := &fakeCompleter{result: textResult("ok")}
		tr := &fakeTransport{}

		if err := newAgent(store, completer, tr, nil).HandleTurn(ctx, testEnvelope("hi")); err != nil {
			t.Fatal(err)
		}
		if completer.gotOpts.System == "" {
			t.Error("expected a system prompt")
		}
	})
}
